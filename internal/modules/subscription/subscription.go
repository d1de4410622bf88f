// Package subscription is the module owning the registration request and
// the system purpose.
package subscription

import (
	"context"
	"net"
	"net/url"
	"strconv"

	"github.com/osbuild/installer-core/internal/bus"
	"github.com/osbuild/installer-core/internal/kickstart"
	"github.com/osbuild/installer-core/internal/module"
	"github.com/osbuild/installer-core/internal/requirement"
	"github.com/osbuild/installer-core/internal/structure"
	"github.com/osbuild/installer-core/internal/subscription"
	"github.com/osbuild/installer-core/internal/task"
)

const Name = "Subscription"

type Module struct {
	module.Base

	env               *module.Env
	request           subscription.SubscriptionRequest
	purpose           subscription.SystemPurposeData
	connectToInsights bool
}

func New(env *module.Env) *Module {
	return &Module{
		Base:    module.NewBase(Name, "rhsm", "syspurpose"),
		env:     env,
		request: subscription.NewRequest(),
	}
}

// SubscriptionRequest returns the request with every secret hidden.
func (m *Module) SubscriptionRequest() subscription.SubscriptionRequest {
	return structure.PublicCopy(m.request)
}

// SetSubscriptionRequest stores req. A hidden secret in req keeps the value
// the module already has.
func (m *Module) SetSubscriptionRequest(req subscription.SubscriptionRequest) {
	req = structure.Clone(req)
	if req.AccountPassword.Type == structure.SecretHidden {
		req.AccountPassword = structure.Clone(m.request.AccountPassword)
	}
	if req.ActivationKeys.Type == structure.SecretHidden {
		req.ActivationKeys = structure.Clone(m.request.ActivationKeys)
	}
	if req.ServerProxyPassword.Type == structure.SecretHidden {
		req.ServerProxyPassword = structure.Clone(m.request.ServerProxyPassword)
	}
	m.request.AccountPassword.ClearSecret()
	m.request.ActivationKeys.ClearSecret()
	m.request.ServerProxyPassword.ClearSecret()
	m.request = req
	m.Logger().Debugf("subscription request is set to %s", structure.Repr(req))
	m.PropertyChanged("SubscriptionRequest")
}

func (m *Module) SystemPurpose() subscription.SystemPurposeData {
	return structure.Clone(m.purpose)
}

func (m *Module) SetSystemPurpose(data subscription.SystemPurposeData) {
	m.purpose = structure.Clone(data)
	m.PropertyChanged("SystemPurposeData")
}

func (m *Module) InsightsEnabled() bool {
	return m.connectToInsights
}

func (m *Module) SetInsightsEnabled(enabled bool) {
	m.connectToInsights = enabled
	m.PropertyChanged("InsightsEnabled")
}

func (m *Module) Status() subscription.Status {
	if m.request.IsConfigured() {
		return subscription.StatusWithSubscription
	}
	return subscription.StatusNoSubscription
}

func (m *Module) ProcessKickstart(data *kickstart.Data) error {
	if r := data.RHSM; r != nil {
		req := subscription.NewRequest()
		req.Type = subscription.RequestActivationKey
		req.Organization = r.Organization
		if len(r.ActivationKeys) > 0 {
			req.ActivationKeys.SetSecret(r.ActivationKeys)
		}
		req.ServerHostname = r.ServerHostname
		req.RHSMBaseURL = r.RHSMBaseURL
		if r.Proxy != "" {
			setProxy(&req, r.Proxy)
		}
		m.SetSubscriptionRequest(req)
		m.SetInsightsEnabled(r.ConnectToInsights)
	}
	if s := data.Syspurpose; s != nil {
		m.SetSystemPurpose(subscription.SystemPurposeData{
			Role:   s.Role,
			SLA:    s.SLA,
			Usage:  s.Usage,
			Addons: s.Addons,
		})
	}
	return nil
}

// setProxy splits a proxy URL into the fields of the request.
func setProxy(req *subscription.SubscriptionRequest, proxy string) {
	u, err := url.Parse(proxy)
	if err != nil || u.Host == "" {
		u, err = url.Parse("http://" + proxy)
		if err != nil {
			req.ServerProxyHostname = proxy
			return
		}
	}
	req.ServerProxyHostname = u.Hostname()
	if port, err := strconv.Atoi(u.Port()); err == nil {
		req.ServerProxyPort = port
	}
	if u.User != nil {
		req.ServerProxyUser = u.User.Username()
		if password, ok := u.User.Password(); ok {
			req.ServerProxyPassword.SetSecret(password)
		}
	}
}

// proxyURL renders the proxy of req without its password.
func proxyURL(req subscription.SubscriptionRequest) string {
	if req.ServerProxyHostname == "" {
		return ""
	}
	u := url.URL{Scheme: "http", Host: req.ServerProxyHostname}
	if req.ServerProxyPort >= 0 {
		u.Host = net.JoinHostPort(req.ServerProxyHostname, strconv.Itoa(req.ServerProxyPort))
	}
	if req.ServerProxyUser != "" {
		u.User = url.User(req.ServerProxyUser)
	}
	return u.String()
}

func (m *Module) SetupKickstart(data *kickstart.Data) {
	data.RHSM = nil
	data.Syspurpose = nil
	r := m.request
	if r.Organization != "" || r.ServerHostname != "" || r.RHSMBaseURL != "" || r.ServerProxyHostname != "" || m.connectToInsights {
		data.RHSM = &kickstart.RHSM{
			Organization:      r.Organization,
			ConnectToInsights: m.connectToInsights,
			ServerHostname:    r.ServerHostname,
			RHSMBaseURL:       r.RHSMBaseURL,
			Proxy:             proxyURL(r),
		}
	}
	if m.purpose.IsSet() {
		p := m.SystemPurpose()
		data.Syspurpose = &kickstart.Syspurpose{
			Role:   p.Role,
			SLA:    p.SLA,
			Usage:  p.Usage,
			Addons: p.Addons,
		}
	}
}

func (m *Module) CollectRequirements() []requirement.Requirement {
	if !m.request.IsConfigured() {
		return nil
	}
	reqs := []requirement.Requirement{
		requirement.Package("subscription-manager", "Necessary to register the system."),
	}
	if m.connectToInsights {
		reqs = append(reqs, requirement.Package("insights-client", "Necessary to connect the system to Red Hat Insights."))
	}
	return reqs
}

func (m *Module) InstallWithTasks() []task.Task {
	return []task.Task{
		NewSystemPurposeTask(m.env.Sysroot(), m.SystemPurpose()),
		NewConfigureRHSMTask(m.env.Sysroot(), structure.Clone(m.request)),
	}
}

func (m *Module) Publish(env *module.Env) {
	iface := &bus.Interface{
		Name: m.Interface(),
		Properties: []bus.Property{
			bus.ReadWrite("SubscriptionRequest", m.SubscriptionRequest,
				func(_ context.Context, v subscription.SubscriptionRequest) error {
					m.SetSubscriptionRequest(v)
					return nil
				}),
			bus.ReadWrite("SystemPurposeData", m.SystemPurpose,
				func(_ context.Context, v subscription.SystemPurposeData) error {
					m.SetSystemPurpose(v)
					return nil
				}),
			bus.ReadWrite("InsightsEnabled", m.InsightsEnabled, func(_ context.Context, v bool) error {
				m.SetInsightsEnabled(v)
				return nil
			}),
			bus.ReadOnly("Status", func() string { return string(m.Status()) }),
		},
	}
	module.Publish(env, m, &m.Base, iface)
}
