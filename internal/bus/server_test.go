package bus

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/structure"
	"github.com/osbuild/installer-core/internal/test"
)

func TestServerRoutes(t *testing.T) {
	reg := newRegistry(t)
	publishFake(reg)
	srv := NewServer(reg).Handler()

	test.TestRoute(t, srv, "GET", "/api/bus/v1/objects", ``, http.StatusOK,
		`{"paths": ["/org/fedoraproject/Anaconda/Modules/Timezone"]}`)

	test.TestRoute(t, srv, "POST", "/api/bus/v1/get", `{
		"path": "/org/fedoraproject/Anaconda/Modules/Timezone",
		"interface": "org.fedoraproject.Anaconda.Modules.Timezone",
		"property": "Timezone"
	}`, http.StatusOK, `{"value": {"t": "s", "v": "America/New_York"}}`)

	test.TestRoute(t, srv, "POST", "/api/bus/v1/set", `{
		"path": "/org/fedoraproject/Anaconda/Modules/Timezone",
		"interface": "org.fedoraproject.Anaconda.Modules.Timezone",
		"property": "TimeSources",
		"value": {"t": "aa{sv}", "v": [{"type": {"t": "s", "v": "POOL"}, "hostname": {"t": "s", "v": "pool.example.com"}}]}
	}`, http.StatusNoContent, ``)

	test.TestRoute(t, srv, "POST", "/api/bus/v1/call", `{
		"path": "/org/fedoraproject/Anaconda/Modules/Timezone",
		"interface": "org.fedoraproject.Anaconda.Modules.Timezone",
		"method": "Echo",
		"args": [{"t": "s", "v": "hello"}]
	}`, http.StatusOK, `{"results": [{"t": "s", "v": "hello"}]}`)

	test.TestRoute(t, srv, "GET", "/api/bus/v1/status", ``, http.StatusOK,
		`{"status": "OK", "objects": 1}`, "build_commit")

	test.TestRoute(t, srv, "GET", "/api/bus/v1/introspect?path=/org/fedoraproject/Anaconda/Modules/Timezone", ``, http.StatusOK, `*`)
}

func TestServerErrors(t *testing.T) {
	reg := newRegistry(t)
	publishFake(reg)
	srv := NewServer(reg).Handler()

	test.TestRoute(t, srv, "POST", "/api/bus/v1/call", `{
		"path": "/org/fedoraproject/Anaconda/Modules/Timezone",
		"interface": "org.fedoraproject.Anaconda.Modules.Timezone",
		"method": "Broken",
		"args": []
	}`, http.StatusConflict, `{
		"kind": "Error",
		"name": "org.fedoraproject.Anaconda.Error.StateError",
		"message": "not now"
	}`, "operation_id")

	test.TestRoute(t, srv, "POST", "/api/bus/v1/set", `{
		"path": "/org/fedoraproject/Anaconda/Modules/Timezone",
		"interface": "org.fedoraproject.Anaconda.Modules.Timezone",
		"property": "KickstartCommands",
		"value": {"t": "as", "v": []}
	}`, http.StatusBadRequest, `{
		"kind": "Error",
		"name": "org.fedoraproject.Anaconda.Error.InvalidRequest",
		"message": "property org.fedoraproject.Anaconda.Modules.Timezone.KickstartCommands is read-only"
	}`, "operation_id")

	test.TestRoute(t, srv, "POST", "/api/bus/v1/get", `{"path": "/nowhere"`, http.StatusBadRequest, `{
		"kind": "Error",
		"name": "org.fedoraproject.Anaconda.Error.InvalidRequest",
		"message": "Malformed json, unable to decode body"
	}`, "operation_id")

	test.TestRoute(t, srv, "GET", "/api/bus/v1/nothing-here", ``, http.StatusNotFound, `{
		"kind": "Error",
		"name": "org.fedoraproject.Anaconda.Error.InvalidRequest",
		"message": "Not Found"
	}`, "operation_id")

	reply := test.TestRouteWithReply(t, srv, "POST", "/api/bus/v1/call", `{
		"path": "/org/fedoraproject/Anaconda/Modules/Timezone",
		"interface": "org.fedoraproject.Anaconda.Modules.Timezone",
		"method": "Plain",
		"args": []
	}`, http.StatusInternalServerError, `*`)
	assert.Contains(t, string(reply), `"operation_id":"`)
}

func TestClient(t *testing.T) {
	reg := newRegistry(t)
	m := publishFake(reg)
	ts := httptest.NewServer(NewServer(reg).Handler())
	defer ts.Close()

	client, err := NewClient(ClientConfig{BaseURL: ts.URL, RetryMax: 1, Timeout: 5 * time.Second})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	path, iface := ModulePath("Timezone"), ModuleInterface("Timezone")

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, "OK", status.Status)

	events := make(chan Event, 10)
	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()
	streaming := make(chan error, 1)
	go func() {
		streaming <- client.Signals(streamCtx, path, func(ev Event) error {
			events <- ev
			return nil
		})
	}()
	// wait for the stream to subscribe before changing anything
	require.Eventually(t, func() bool {
		reg.mu.Lock()
		defer reg.mu.Unlock()
		return len(reg.subscribers) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, client.Set(ctx, path, iface, "Timezone", structure.NewVariant("s", "Asia/Tokyo")))
	v, err := client.Get(ctx, path, iface, "Timezone")
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", v.Value)
	assert.Equal(t, "Asia/Tokyo", m.timezone.Get())

	select {
	case ev := <-events:
		assert.Equal(t, PropertiesChanged, ev.Signal)
		assert.Equal(t, structure.NewVariant("s", "Asia/Tokyo"), ev.Changed["Timezone"])
	case <-ctx.Done():
		t.Fatal("no PropertiesChanged event received")
	}

	_, err = client.Call(ctx, path, iface, "Broken")
	assert.True(t, installerrors.Is(err, installerrors.ErrorState))
	assert.Equal(t, "not now", err.Error())

	paths, err := client.Objects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{path}, paths)

	info, err := client.Introspect(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, iface, info.Interfaces[0].Name)

	props, err := client.GetAll(ctx, path, iface)
	require.NoError(t, err)
	assert.Equal(t, structure.NewVariant("b", false), props["IsUTC"])

	stopStream()
	<-streaming
}
