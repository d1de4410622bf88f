package structure

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/installer-core/internal/installerrors"
)

func TestVariantOf(t *testing.T) {
	cases := []struct {
		value interface{}
		sig   string
	}{
		{true, "b"},
		{42, "x"},
		{"Europe/Prague", "s"},
		{[]byte("raw"), "ay"},
		{[]string{"cs_CZ.UTF-8"}, "as"},
		{map[string]string{"a": "b"}, "a{ss}"},
		{timeSource{Type: "SERVER", Hostname: "h"}, "a{sv}"},
		{[]timeSource{{Type: "POOL", Hostname: "p"}}, "aa{sv}"},
	}
	for _, c := range cases {
		v, err := VariantOf(c.value)
		require.NoError(t, err)
		assert.Equal(t, c.sig, v.Signature)

		data, err := json.Marshal(v)
		require.NoError(t, err)
		var back Variant
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, v, back)
	}

	_, err := VariantOf(nil)
	assert.Error(t, err)
}

func TestFromVariant(t *testing.T) {
	v, err := VariantOf([]timeSource{{Type: "POOL", Hostname: "p"}})
	require.NoError(t, err)

	out, err := FromVariant[[]timeSource](v)
	require.NoError(t, err)
	assert.Equal(t, []timeSource{{Type: "POOL", Hostname: "p"}}, out)

	_, err = FromVariant[string](v)
	assert.True(t, installerrors.Is(err, installerrors.ErrorSchema))

	n, err := FromVariant[int](NewVariant(SigInt, int64(7)))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestVariantJSON(t *testing.T) {
	var v Variant
	require.NoError(t, json.Unmarshal([]byte(`{"t":"as","v":["a","b"]}`), &v))
	assert.Equal(t, Variant{Signature: "as", Value: []interface{}{"a", "b"}}, v)

	err := json.Unmarshal([]byte(`{"t":"x","v":"not a number"}`), &v)
	assert.True(t, installerrors.Is(err, installerrors.ErrorSchema))

	err = json.Unmarshal([]byte(`{"t":"q","v":1}`), &v)
	assert.True(t, installerrors.Is(err, installerrors.ErrorSchema))

	err = json.Unmarshal([]byte(`{"v":1}`), &v)
	assert.Error(t, err)
}
