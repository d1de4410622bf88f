package common

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
)

// ClientOption adjusts a client returned by NewRetryableClient.
type ClientOption func(*http.Transport)

// WithTLSConfig makes the client use conf for https connections.
func WithTLSConfig(conf *tls.Config) ClientOption {
	return func(t *http.Transport) {
		t.TLSClientConfig = conf
	}
}

// WithProxy sends all requests through proxy.
func WithProxy(proxy *url.URL) ClientOption {
	return func(t *http.Transport) {
		t.Proxy = http.ProxyURL(proxy)
	}
}

// NewRetryableClient returns an HTTP client that retries failed requests
// retries times, bounding each attempt by timeout.
func NewRetryableClient(component string, retries int, timeout time.Duration, opts ...ClientOption) *retryablehttp.Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retries
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = timeout
	rc.Logger = NewLeveledLogrus(logrus.WithField("component", component))
	if len(opts) > 0 {
		transport, ok := rc.HTTPClient.Transport.(*http.Transport)
		if !ok {
			transport = http.DefaultTransport.(*http.Transport).Clone()
			rc.HTTPClient.Transport = transport
		}
		for _, opt := range opts {
			opt(transport)
		}
	}
	return rc
}

// CreateTLSConfig returns the TLS settings of a repository. Verification
// is skipped when verify is false, caCertPath replaces the system roots
// and the client certificate is used when both of its files are set.
func CreateTLSConfig(verify bool, caCertPath, clientCertPath, clientKeyPath string) (*tls.Config, error) {
	conf := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if !verify {
		conf.InsecureSkipVerify = true // #nosec G402
	}

	if caCertPath != "" {
		caCertPEM, err := os.ReadFile(caCertPath)
		if err != nil {
			return nil, err
		}
		roots := x509.NewCertPool()
		if ok := roots.AppendCertsFromPEM(caCertPEM); !ok {
			return nil, fmt.Errorf("failed to append root certificate %s", caCertPath)
		}
		conf.RootCAs = roots
	}

	if clientCertPath != "" && clientKeyPath != "" {
		cert, err := tls.LoadX509KeyPair(clientCertPath, clientKeyPath)
		if err != nil {
			return nil, err
		}
		conf.Certificates = []tls.Certificate{cert}
	}
	return conf, nil
}
