package bus

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/loop"
	"github.com/osbuild/installer-core/internal/priority"
	"github.com/osbuild/installer-core/internal/structure"
	"github.com/osbuild/installer-core/internal/task"
)

type timeSource struct {
	Type     string
	Hostname string
}

type fakeTimezone struct {
	timezone *priority.Cell[string]
	isUTC    bool
	sources  []timeSource
	handle   *Handle
}

func newRegistry(t *testing.T) *Registry {
	l := loop.New()
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return NewRegistry(l)
}

func publishFake(reg *Registry) *fakeTimezone {
	m := &fakeTimezone{timezone: priority.NewCell("timezone", "America/New_York")}
	iface := &Interface{
		Name: ModuleInterface("Timezone"),
		Properties: []Property{
			ReadOnly("KickstartCommands", func() []string { return []string{"timezone", "timesource"} }),
			ReadWrite("Timezone", m.timezone.Get, func(_ context.Context, v string) error {
				m.timezone.SetUnprioritized(v)
				return nil
			}),
			ReadWrite("IsUTC", func() bool { return m.isUTC }, func(_ context.Context, v bool) error {
				m.isUTC = v
				return nil
			}),
			ReadWrite("TimeSources", func() []timeSource { return m.sources }, func(_ context.Context, v []timeSource) error {
				m.sources = v
				return nil
			}),
		},
		Methods: []Method{
			Function("Echo", "text", func(_ context.Context, s string) (string, error) { return s, nil }),
			Action("Broken", func(context.Context) error { return installerrors.State("not now") }),
			Query("Plain", func(context.Context) (int, error) { return 0, errors.New("plain failure") }),
		},
		Signals: []SignalSpec{Signal("Ping")},
	}
	m.handle = reg.Publish(ModulePath("Timezone"), iface)
	m.timezone.Changed.Connect(func(string) {
		m.handle.PropertyChanged(iface.Name, "Timezone")
	})
	return m
}

func TestPublishIdempotent(t *testing.T) {
	reg := newRegistry(t)
	m := publishFake(reg)
	again := reg.Publish(ModulePath("Timezone"), &Interface{Name: ModuleInterface("Timezone")})
	assert.Same(t, m.handle, again)
	assert.Equal(t, []string{ModulePath("Timezone")}, reg.Objects())

	info, err := reg.Introspect(ModulePath("Timezone"))
	require.NoError(t, err)
	require.Len(t, info.Interfaces, 1)
	props := map[string]PropertyInfo{}
	for _, p := range info.Interfaces[0].Properties {
		props[p.Name] = p
	}
	assert.Equal(t, PropertyInfo{Name: "KickstartCommands", Signature: "as", Access: "read"}, props["KickstartCommands"])
	assert.Equal(t, PropertyInfo{Name: "TimeSources", Signature: "aa{sv}", Access: "readwrite"}, props["TimeSources"])

	reg.Unpublish(ModulePath("Timezone"))
	assert.Empty(t, reg.Objects())
	_, err = reg.Introspect(ModulePath("Timezone"))
	assert.True(t, installerrors.Is(err, installerrors.ErrorInvalidRequest))
}

func nextEvent(t *testing.T, sub *Subscription) Event {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ev, err := sub.Next(ctx)
	require.NoError(t, err)
	return ev
}

func TestSetEmitsPropertiesChanged(t *testing.T) {
	reg := newRegistry(t)
	publishFake(reg)
	sub := reg.Subscribe()
	defer sub.Close()

	ctx := context.Background()
	path, iface := ModulePath("Timezone"), ModuleInterface("Timezone")
	require.NoError(t, reg.Set(ctx, path, iface, "Timezone", structure.NewVariant("s", "Europe/Prague")))

	ev := nextEvent(t, sub)
	assert.Equal(t, PropertiesChanged, ev.Signal)
	assert.Equal(t, map[string]structure.Variant{"Timezone": structure.NewVariant("s", "Europe/Prague")}, ev.Changed)

	v, err := reg.Get(ctx, path, iface, "Timezone")
	require.NoError(t, err)
	assert.Equal(t, "Europe/Prague", v.Value)

	// same value, nothing to announce
	require.NoError(t, reg.Set(ctx, path, iface, "Timezone", structure.NewVariant("s", "Europe/Prague")))
	require.NoError(t, reg.Set(ctx, path, iface, "IsUTC", structure.NewVariant("b", true)))
	ev = nextEvent(t, sub)
	assert.Equal(t, map[string]structure.Variant{"IsUTC": structure.NewVariant("b", true)}, ev.Changed)
}

func TestChangesCoalesceWithinMessage(t *testing.T) {
	reg := newRegistry(t)
	m := publishFake(reg)
	sub := reg.Subscribe()
	defer sub.Close()

	iface := ModuleInterface("Timezone")
	require.NoError(t, reg.Loop().Call(context.Background(), func(context.Context) error {
		m.timezone.Set("Europe/Prague", priority.Geolocation)
		m.timezone.Set("Asia/Tokyo", priority.User)
		m.isUTC = true
		m.handle.PropertyChanged(iface, "IsUTC")
		return nil
	}))

	ev := nextEvent(t, sub)
	assert.Equal(t, map[string]structure.Variant{
		"Timezone": structure.NewVariant("s", "Asia/Tokyo"),
		"IsUTC":    structure.NewVariant("b", true),
	}, ev.Changed)
}

func TestCallErrors(t *testing.T) {
	reg := newRegistry(t)
	publishFake(reg)
	ctx := context.Background()
	path, iface := ModulePath("Timezone"), ModuleInterface("Timezone")

	out, err := reg.Call(ctx, path, iface, "Echo", []structure.Variant{structure.NewVariant("s", "hi")})
	require.NoError(t, err)
	assert.Equal(t, []structure.Variant{structure.NewVariant("s", "hi")}, out)

	_, err = reg.Call(ctx, path, iface, "Echo", nil)
	assert.True(t, installerrors.Is(err, installerrors.ErrorInvalidRequest))

	_, err = reg.Call(ctx, path, iface, "Echo", []structure.Variant{structure.NewVariant("b", true)})
	assert.True(t, installerrors.Is(err, installerrors.ErrorInvalidRequest))

	_, err = reg.Call(ctx, path, iface, "Missing", nil)
	assert.True(t, installerrors.Is(err, installerrors.ErrorInvalidRequest))

	_, err = reg.Call(ctx, "/nowhere", iface, "Echo", nil)
	assert.True(t, installerrors.Is(err, installerrors.ErrorInvalidRequest))

	_, err = reg.Call(ctx, path, iface, "Broken", nil)
	assert.True(t, installerrors.Is(err, installerrors.ErrorState))

	err = reg.Set(ctx, path, iface, "KickstartCommands", structure.NewVariant("as", []interface{}{}))
	assert.True(t, installerrors.Is(err, installerrors.ErrorInvalidRequest))

	err = reg.Set(ctx, path, iface, "Timezone", structure.NewVariant("b", true))
	assert.True(t, installerrors.Is(err, installerrors.ErrorInvalidRequest))
}

func TestGetAll(t *testing.T) {
	reg := newRegistry(t)
	m := publishFake(reg)
	m.sources = []timeSource{{Type: "SERVER", Hostname: "ntp.example.com"}}

	props, err := reg.GetAll(context.Background(), ModulePath("Timezone"), ModuleInterface("Timezone"))
	require.NoError(t, err)
	assert.Len(t, props, 4)
	sources, err := structure.FromVariant[[]timeSource](props["TimeSources"])
	require.NoError(t, err)
	assert.Equal(t, m.sources, sources)
}

func TestSignalOrder(t *testing.T) {
	reg := newRegistry(t)
	m := publishFake(reg)
	sub := reg.Subscribe()
	defer sub.Close()

	iface := ModuleInterface("Timezone")
	require.NoError(t, reg.Loop().Call(context.Background(), func(context.Context) error {
		m.timezone.SetUnprioritized("Asia/Tokyo")
		m.handle.EmitSignal(iface, "Ping")
		return nil
	}))

	assert.Equal(t, PropertiesChanged, nextEvent(t, sub).Signal)
	assert.Equal(t, "Ping", nextEvent(t, sub).Signal)
}

func TestSubscriptionClose(t *testing.T) {
	reg := newRegistry(t)
	sub := reg.Subscribe()
	sub.Close()
	_, err := sub.Next(context.Background())
	assert.True(t, installerrors.Is(err, installerrors.ErrorState))
}

func TestPublishTask(t *testing.T) {
	reg := newRegistry(t)
	sub := reg.Subscribe()
	defer sub.Close()

	h := task.NewHandle(task.New("Configure NTP", func(_ context.Context, r task.Reporter) error {
		r.ReportStep(1, "writing chrony.conf")
		return installerrors.Installation("cannot write chrony.conf")
	}), reg.Loop())
	path := reg.NextTaskPath(ModulePath("Timezone"))
	assert.Equal(t, ModulePath("Timezone")+"/Tasks/1", path)
	PublishTask(reg, path, h, nil)

	ctx := context.Background()
	_, err := reg.Call(ctx, path, TaskInterface, "Finish", nil)
	assert.True(t, installerrors.Is(err, installerrors.ErrorNotReady))

	_, err = reg.Call(ctx, path, TaskInterface, "Start", nil)
	require.NoError(t, err)
	<-h.Done()

	var signals []string
	for len(signals) == 0 || signals[len(signals)-1] != "Stopped" {
		ev := nextEvent(t, sub)
		if ev.Signal != PropertiesChanged {
			signals = append(signals, ev.Signal)
		}
	}
	assert.Equal(t, []string{"Started", "ProgressChanged", "Failed", "Stopped"}, signals)

	_, err = reg.Call(ctx, path, TaskInterface, "Finish", nil)
	assert.True(t, installerrors.Is(err, installerrors.ErrorTaskFailure))
	assert.Contains(t, err.Error(), "cannot write chrony.conf")

	progress, err := reg.Get(ctx, path, TaskInterface, "Progress")
	require.NoError(t, err)
	p, err := structure.FromVariant[TaskProgress](progress)
	require.NoError(t, err)
	assert.Equal(t, TaskProgress{Step: 1, Message: "writing chrony.conf"}, p)
}
