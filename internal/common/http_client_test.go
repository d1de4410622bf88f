package common

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTLSConfig(t *testing.T) {
	conf, err := CreateTLSConfig(true, "", "", "")
	require.NoError(t, err)
	assert.False(t, conf.InsecureSkipVerify)
	assert.Nil(t, conf.RootCAs)

	conf, err = CreateTLSConfig(false, "", "", "")
	require.NoError(t, err)
	assert.True(t, conf.InsecureSkipVerify)

	bogus := filepath.Join(t.TempDir(), "ca.pem")
	require.NoError(t, os.WriteFile(bogus, []byte("not a certificate"), 0600))
	_, err = CreateTLSConfig(true, bogus, "", "")
	assert.ErrorContains(t, err, "failed to append root certificate")

	_, err = CreateTLSConfig(true, filepath.Join(t.TempDir(), "missing.pem"), "", "")
	assert.Error(t, err)
}

func TestNewRetryableClientOptions(t *testing.T) {
	conf, err := CreateTLSConfig(false, "", "", "")
	require.NoError(t, err)
	proxy, err := url.Parse("http://proxy.example.com:3128")
	require.NoError(t, err)

	rc := NewRetryableClient("test", 2, 0, WithTLSConfig(conf), WithProxy(proxy))
	assert.Equal(t, 2, rc.RetryMax)
	transport, ok := rc.HTTPClient.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Same(t, conf, transport.TLSClientConfig)

	req, err := http.NewRequest(http.MethodGet, "https://example.com/", nil)
	require.NoError(t, err)
	got, err := transport.Proxy(req)
	require.NoError(t, err)
	assert.Equal(t, proxy, got)
}
