package payload

import (
	"fmt"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/osbuild/installer-core/internal/common"
)

// HTTPClient returns a client that reaches the repository through its
// proxy, or the proxy of config when it has none, and with its SSL
// settings.
func (r RepoConfigurationData) HTTPClient(component string, config BaseConfig) (*retryablehttp.Client, error) {
	tlsConf, err := common.CreateTLSConfig(r.SSLVerificationEnabled,
		r.SSLConfiguration.CACertPath,
		r.SSLConfiguration.ClientCertPath,
		r.SSLConfiguration.ClientKeyPath)
	if err != nil {
		return nil, fmt.Errorf("invalid SSL configuration of repository %s: %v", r.Name, err)
	}
	opts := []common.ClientOption{common.WithTLSConfig(tlsConf)}

	proxy := r.Proxy
	if proxy == "" {
		proxy = config.Proxy
	}
	if proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy of repository %s: %s", r.Name, common.RedactURL(proxy))
		}
		opts = append(opts, common.WithProxy(u))
	}

	timeout := time.Duration(config.EffectiveTimeout()) * time.Second
	return common.NewRetryableClient(component, config.EffectiveRetries(), timeout, opts...), nil
}
