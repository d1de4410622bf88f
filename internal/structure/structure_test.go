package structure

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/installer-core/internal/installerrors"
)

type timeSource struct {
	Type     string `structure:",required"`
	Hostname string `structure:",required"`
	Options  []string
}

type credentials struct {
	Username        string
	AccountPassword SecretData
	ActivationKeys  SecretDataList
	Sources         []timeSource
	Labels          map[string]string
	Blob            []byte
	Cost            int32
	IsUTC           bool
}

type withDefaults struct {
	NTPEnabled bool
	Name       string
}

func (w *withDefaults) SetDefaults() {
	w.NTPEnabled = true
}

type empty struct{}

type hidden struct {
	Visible string
	secret  string
}

func TestSnakeCase(t *testing.T) {
	cases := map[string]string{
		"Hostname":        "hostname",
		"AccountPassword": "account_password",
		"IsUTC":           "is_utc",
		"NTPEnabled":      "ntp_enabled",
		"SSLVerify":       "ssl_verify",
		"ID":              "id",
		"Ipv6Enabled":     "ipv6_enabled",
	}
	for in, expected := range cases {
		assert.Equal(t, expected, snakeCase(in), in)
	}
	assert.Equal(t, "account-password", WireName("account_password"))
	assert.Equal(t, "account_password", CodeName("account-password"))
}

func TestSchemaRejectsInvalidRecords(t *testing.T) {
	_, err := SchemaOf(empty{})
	assert.True(t, installerrors.Is(err, installerrors.ErrorSchema))

	_, err = SchemaOf(hidden{})
	assert.True(t, installerrors.Is(err, installerrors.ErrorSchema))

	_, err = SchemaOf("not a record")
	assert.True(t, installerrors.Is(err, installerrors.ErrorSchema))

	type withChan struct {
		C chan int
	}
	_, err = SchemaOf(withChan{})
	assert.True(t, installerrors.Is(err, installerrors.ErrorSchema))
}

type treeNode struct {
	Name     string
	Children []treeNode
}

type mountPoint struct {
	Path    string
	Devices map[string]blockDevice
}

type blockDevice struct {
	Name   string
	Mounts []mountPoint
}

func TestSchemaRejectsRecursiveRecords(t *testing.T) {
	_, err := SchemaOf(treeNode{})
	assert.True(t, installerrors.Is(err, installerrors.ErrorSchema))
	assert.ErrorContains(t, err, "treeNode refers to itself")

	_, err = SchemaFor[mountPoint]()
	assert.True(t, installerrors.Is(err, installerrors.ErrorSchema))

	_, err = VariantOf([]blockDevice{{Name: "sda"}})
	assert.True(t, installerrors.Is(err, installerrors.ErrorSchema))

	// Failures are not cached.
	_, err = SchemaOf(treeNode{})
	assert.True(t, installerrors.Is(err, installerrors.ErrorSchema))
}

func TestSchemaFields(t *testing.T) {
	s, err := SchemaOf(&credentials{})
	require.NoError(t, err)
	assert.Equal(t, "credentials", s.Name)

	sigs := map[string]string{}
	for _, f := range s.Fields {
		sigs[f.WireName] = f.Signature
	}
	assert.Equal(t, map[string]string{
		"username":         "s",
		"account-password": "a{sv}",
		"activation-keys":  "a{sv}",
		"sources":          "aa{sv}",
		"labels":           "a{ss}",
		"blob":             "ay",
		"cost":             "x",
		"is-utc":           "b",
	}, sigs)

	f, ok := s.Field("account-password")
	require.True(t, ok)
	assert.True(t, f.Secret)

	again, err := SchemaFor[credentials]()
	require.NoError(t, err)
	assert.Same(t, s, again)
}

func sampleCredentials() credentials {
	return credentials{
		Username:        "admin",
		AccountPassword: NewSecret("p@ss"),
		ActivationKeys:  NewSecretList([]string{"key-1", "key-2"}),
		Sources: []timeSource{
			{Type: "SERVER", Hostname: "ntp.example.com", Options: []string{"iburst"}},
			{Type: "POOL", Hostname: "pool.example.com"},
		},
		Labels: map[string]string{"role": "server"},
		Blob:   []byte{0x01, 0x02},
		Cost:   1000,
		IsUTC:  true,
	}
}

func TestRoundTrip(t *testing.T) {
	in := sampleCredentials()
	st, err := ToStructure(in)
	require.NoError(t, err)

	out, err := FromStructure[credentials](st)
	require.NoError(t, err)
	assert.True(t, Equal(in, out))
	assert.Equal(t, "p@ss", out.AccountPassword.Text())
	assert.Equal(t, []string{"key-1", "key-2"}, out.ActivationKeys.Texts())
}

func TestJSONRoundTrip(t *testing.T) {
	in := sampleCredentials()
	st, err := ToStructure(in)
	require.NoError(t, err)

	data, err := json.Marshal(st)
	require.NoError(t, err)

	var decoded Structure
	require.NoError(t, json.Unmarshal(data, &decoded))
	if diff := cmp.Diff(st, decoded); diff != "" {
		t.Fatalf("structure changed over JSON (-want +got):\n%s", diff)
	}

	out, err := FromStructure[credentials](decoded)
	require.NoError(t, err)
	assert.True(t, Equal(in, out))
}

func TestFromStructureErrors(t *testing.T) {
	valid := Structure{
		"type":     NewVariant(SigString, "SERVER"),
		"hostname": NewVariant(SigString, "ntp.example.com"),
	}
	_, err := FromStructure[timeSource](valid)
	require.NoError(t, err)

	cases := map[string]Structure{
		"unknown field": {
			"type":     NewVariant(SigString, "SERVER"),
			"hostname": NewVariant(SigString, "ntp.example.com"),
			"weight":   NewVariant(SigInt, int64(1)),
		},
		"type mismatch": {
			"type":     NewVariant(SigString, "SERVER"),
			"hostname": NewVariant(SigInt, int64(1)),
		},
		"value mismatch": {
			"type":     NewVariant(SigString, "SERVER"),
			"hostname": NewVariant(SigString, true),
		},
		"missing required": {
			"type": NewVariant(SigString, "SERVER"),
		},
	}
	for name, st := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := FromStructure[timeSource](st)
			assert.True(t, installerrors.Is(err, installerrors.ErrorSchema), "%v", err)
			assert.Equal(t, timeSource{}, out)
		})
	}
}

func TestToStructureWrongType(t *testing.T) {
	s, err := SchemaFor[timeSource]()
	require.NoError(t, err)
	_, err = s.ToStructure(withDefaults{})
	assert.True(t, installerrors.Is(err, installerrors.ErrorSchema))
}

func TestDefaults(t *testing.T) {
	out, err := FromStructure[withDefaults](Structure{"name": NewVariant(SigString, "x")})
	require.NoError(t, err)
	assert.True(t, out.NTPEnabled)

	out, err = FromStructure[withDefaults](Structure{"ntp-enabled": NewVariant(SigBool, false)})
	require.NoError(t, err)
	assert.False(t, out.NTPEnabled)
}

func TestStructureList(t *testing.T) {
	in := []timeSource{
		{Type: "SERVER", Hostname: "a"},
		{Type: "POOL", Hostname: "b"},
	}
	sts, err := ToStructureList(in)
	require.NoError(t, err)
	require.Len(t, sts, 2)

	out, err := FromStructureList[timeSource](sts)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestSecretStates(t *testing.T) {
	var s SecretData
	assert.False(t, s.IsSet())

	s.SetSecret("p@ss")
	assert.Equal(t, SecretText, s.Type)
	value := s.Value

	s.HideSecret()
	assert.Equal(t, SecretHidden, s.Type)
	assert.Empty(t, s.Value)
	assert.Equal(t, []byte{0, 0, 0, 0}, value)
	assert.True(t, s.IsSet())

	s.HideSecret()
	assert.Equal(t, SecretHidden, s.Type)

	s.ClearSecret()
	assert.Equal(t, SecretNone, s.Type)
	s.HideSecret()
	assert.Equal(t, SecretNone, s.Type)
}

func TestSecretFormatting(t *testing.T) {
	s := NewSecret("p@ss")
	assert.NotContains(t, fmt.Sprintf("%v %+v %#v %s", s, s, s, s), "p@ss")

	c := sampleCredentials()
	assert.NotContains(t, fmt.Sprintf("%+v", c), "p@ss")
}

func TestReprAndPublicCopy(t *testing.T) {
	c := credentials{
		Username:        "admin",
		AccountPassword: NewSecret("p@ss"),
	}
	assert.Equal(t,
		"credentials(account_password=SecretData(type='TEXT', value_set=True), "+
			"activation_keys=SecretDataList(type='NONE', value_set=False), blob=b'', cost=0, "+
			"is_utc=False, labels={}, sources=[], username='admin')",
		Repr(c))

	public := PublicCopy(c)
	assert.Contains(t, Repr(public), "account_password=SecretData(type='HIDDEN', value_set=False)")
	assert.Equal(t, "p@ss", c.AccountPassword.Text())

	st, err := ToStructure(public)
	require.NoError(t, err)
	data, err := json.Marshal(st)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "p@ss")
}

func TestPublicCopyPointer(t *testing.T) {
	c := &credentials{AccountPassword: NewSecret("p@ss")}
	public := PublicCopy(c)
	assert.NotSame(t, c, public)
	assert.Equal(t, SecretHidden, public.AccountPassword.Type)
	assert.Equal(t, SecretText, c.AccountPassword.Type)
}

func TestCloneIsDeep(t *testing.T) {
	in := sampleCredentials()
	out := Clone(in)
	out.Sources[0].Options[0] = "prefer"
	out.Labels["role"] = "client"
	out.AccountPassword.HideSecret()

	assert.Equal(t, "iburst", in.Sources[0].Options[0])
	assert.Equal(t, "server", in.Labels["role"])
	assert.Equal(t, "p@ss", in.AccountPassword.Text())
}
