package subscription

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"

	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/subscription"
	"github.com/osbuild/installer-core/internal/task"
)

const (
	syspurposePath = "etc/rhsm/syspurpose/syspurpose.json"
	rhsmConfPath   = "etc/rhsm/rhsm.conf"
)

// SystemPurposeTask writes the system purpose for subscription-manager.
type SystemPurposeTask struct {
	sysroot string
	purpose subscription.SystemPurposeData
}

func NewSystemPurposeTask(sysroot string, purpose subscription.SystemPurposeData) *SystemPurposeTask {
	return &SystemPurposeTask{sysroot: sysroot, purpose: purpose}
}

func (t *SystemPurposeTask) Name() string {
	return "Set system purpose"
}

type syspurposeFile struct {
	Role   string   `json:"role,omitempty"`
	SLA    string   `json:"service_level_agreement,omitempty"`
	Usage  string   `json:"usage,omitempty"`
	Addons []string `json:"addons,omitempty"`
}

func (t *SystemPurposeTask) Run(ctx context.Context, r task.Reporter) (interface{}, error) {
	if !t.purpose.IsSet() {
		logrus.Debug("system purpose is not set")
		return nil, nil
	}
	content, err := json.MarshalIndent(syspurposeFile{
		Role:   t.purpose.Role,
		SLA:    t.purpose.SLA,
		Usage:  t.purpose.Usage,
		Addons: t.purpose.Addons,
	}, "", "  ")
	if err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorNonCritical, err, "")
	}

	path := filepath.Join(t.sysroot, syspurposePath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorNonCritical, err, "")
	}
	if err := os.WriteFile(path, append(content, '\n'), 0644); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorNonCritical, err, "cannot write %s", path)
	}
	r.ReportProgress("System purpose is set")
	return nil, nil
}

// ConfigureRHSMTask points subscription-manager at the configured server,
// content delivery network and proxy.
type ConfigureRHSMTask struct {
	sysroot string
	request subscription.SubscriptionRequest
}

func NewConfigureRHSMTask(sysroot string, request subscription.SubscriptionRequest) *ConfigureRHSMTask {
	return &ConfigureRHSMTask{sysroot: sysroot, request: request}
}

func (t *ConfigureRHSMTask) Name() string {
	return "Configure RHSM"
}

func (t *ConfigureRHSMTask) options() map[string]map[string]string {
	req := t.request
	options := map[string]map[string]string{"server": {}, "rhsm": {}}
	if req.ServerHostname != "" {
		options["server"]["hostname"] = req.ServerHostname
	}
	if req.ServerProxyHostname != "" {
		options["server"]["proxy_hostname"] = req.ServerProxyHostname
		if req.ServerProxyPort >= 0 {
			options["server"]["proxy_port"] = strconv.Itoa(req.ServerProxyPort)
		}
		if req.ServerProxyUser != "" {
			options["server"]["proxy_user"] = req.ServerProxyUser
		}
		if req.ServerProxyPassword.Text() != "" {
			options["server"]["proxy_password"] = req.ServerProxyPassword.Text()
		}
	}
	if req.RHSMBaseURL != "" {
		options["rhsm"]["baseurl"] = req.RHSMBaseURL
	}
	return options
}

func (t *ConfigureRHSMTask) Run(ctx context.Context, r task.Reporter) (interface{}, error) {
	options := t.options()
	if len(options["server"]) == 0 && len(options["rhsm"]) == 0 {
		logrus.Debug("no RHSM configuration to write")
		return nil, nil
	}

	path := filepath.Join(t.sysroot, rhsmConfPath)
	cfg := ini.Empty()
	if _, err := os.Stat(path); err == nil {
		cfg, err = ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true, SkipUnrecognizableLines: true}, path)
		if err != nil {
			return nil, installerrors.Wrap(installerrors.ErrorNonCritical, err, "cannot parse %s", path)
		}
	}
	for _, name := range []string{"server", "rhsm"} {
		section := cfg.Section(name)
		keys := make([]string, 0, len(options[name]))
		for key := range options[name] {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			section.Key(key).SetValue(options[name][key])
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorNonCritical, err, "")
	}
	if err := cfg.SaveTo(path); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorNonCritical, err, "cannot write %s", path)
	}
	if err := os.Chmod(path, 0600); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorNonCritical, err, "")
	}
	r.ReportProgress("RHSM is configured")
	return nil, nil
}
