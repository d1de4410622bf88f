// Package subscription holds the records describing how the installed
// system is registered and what it is meant for.
package subscription

import (
	"github.com/osbuild/installer-core/internal/structure"
)

// RequestType is the way the system authenticates when registering.
type RequestType string

const (
	RequestPassword      RequestType = "username_password"
	RequestActivationKey RequestType = "org_activation_key"
)

// SubscriptionRequest carries everything needed to register the system.
// The secrets never leave the module as cleartext.
type SubscriptionRequest struct {
	Type                RequestType              `description:"Authentication type: username_password or org_activation_key."`
	Organization        string                   `description:"Organization the system is registered to."`
	AccountUsername     string                   `description:"Account user name."`
	AccountPassword     structure.SecretData     `description:"Account password."`
	ActivationKeys      structure.SecretDataList `description:"Activation keys of the organization."`
	ServerHostname      string                   `description:"Subscription server host name."`
	RHSMBaseURL         string                   `description:"Base URL of the content delivery network."`
	ServerProxyHostname string                   `description:"Proxy host name."`
	ServerProxyPort     int                      `description:"Proxy port, -1 when not set."`
	ServerProxyUser     string                   `description:"Proxy user name."`
	ServerProxyPassword structure.SecretData     `description:"Proxy password."`
}

func (r *SubscriptionRequest) SetDefaults() {
	r.Type = RequestPassword
	r.ServerProxyPort = -1
}

// NewRequest returns a request with the defaults applied.
func NewRequest() SubscriptionRequest {
	r := SubscriptionRequest{}
	r.SetDefaults()
	return r
}

// IsConfigured reports whether the request has the credentials its type
// needs.
func (r SubscriptionRequest) IsConfigured() bool {
	switch r.Type {
	case RequestActivationKey:
		return r.Organization != "" && r.ActivationKeys.IsSet()
	default:
		return r.AccountUsername != "" && r.AccountPassword.IsSet()
	}
}

// SystemPurposeData is stored in /etc/rhsm/syspurpose/syspurpose.json.
type SystemPurposeData struct {
	Role   string   `description:"Intended role of the system."`
	SLA    string   `description:"Service level agreement."`
	Usage  string   `description:"Intended usage of the system."`
	Addons []string `description:"Layered products."`
}

func (d SystemPurposeData) IsSet() bool {
	return d.Role != "" || d.SLA != "" || d.Usage != "" || len(d.Addons) > 0
}

// Status summarizes the subscription configuration.
type Status string

const (
	StatusWithSubscription Status = "with-subscription"
	StatusNoSubscription   Status = "no-subscription"
)
