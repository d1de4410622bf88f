// Package security is the module owning the SELinux mode of the installed
// system.
package security

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/installer-core/internal/bus"
	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/kickstart"
	"github.com/osbuild/installer-core/internal/module"
	"github.com/osbuild/installer-core/internal/priority"
	"github.com/osbuild/installer-core/internal/requirement"
	"github.com/osbuild/installer-core/internal/task"
)

const Name = "Security"

type SELinuxMode string

const (
	// SELinuxDefault keeps the mode shipped by the installed packages.
	SELinuxDefault    SELinuxMode = ""
	SELinuxEnforcing  SELinuxMode = "enforcing"
	SELinuxPermissive SELinuxMode = "permissive"
	SELinuxDisabled   SELinuxMode = "disabled"
)

func (m SELinuxMode) Valid() bool {
	switch m {
	case SELinuxDefault, SELinuxEnforcing, SELinuxPermissive, SELinuxDisabled:
		return true
	}
	return false
}

type Module struct {
	module.Base

	env     *module.Env
	selinux *priority.Cell[SELinuxMode]
}

func New(env *module.Env) *Module {
	m := &Module{
		Base:    module.NewBase(Name, "selinux"),
		env:     env,
		selinux: priority.NewCell("selinux", SELinuxDefault),
	}
	m.selinux.Changed.Connect(func(mode SELinuxMode) {
		m.Logger().Infof("SELinux mode is set to %q", mode)
		m.PropertyChanged("SELinux")
	})
	if f := env.Flags; f != nil && f.SELinux != nil && !*f.SELinux {
		m.selinux.Set(SELinuxDisabled, priority.Kickstart)
	}
	return m
}

func (m *Module) SELinux() SELinuxMode {
	return m.selinux.Get()
}

func (m *Module) SetSELinux(mode SELinuxMode, p priority.Priority) error {
	if !mode.Valid() {
		return installerrors.InvalidRequest("invalid SELinux mode %q", mode)
	}
	m.selinux.Set(mode, p)
	return nil
}

func (m *Module) ProcessKickstart(data *kickstart.Data) error {
	if data.SELinux != nil {
		return m.SetSELinux(SELinuxMode(data.SELinux.Mode), priority.Kickstart)
	}
	return nil
}

func (m *Module) SetupKickstart(data *kickstart.Data) {
	data.SELinux = nil
	if mode := m.selinux.Get(); mode != SELinuxDefault {
		data.SELinux = &kickstart.SELinux{Mode: string(mode)}
	}
}

func (m *Module) CollectRequirements() []requirement.Requirement {
	return nil
}

func (m *Module) InstallWithTasks() []task.Task {
	return []task.Task{NewConfigureSELinuxTask(m.env.Sysroot(), m.selinux.Get())}
}

func (m *Module) Publish(env *module.Env) {
	iface := &bus.Interface{
		Name: m.Interface(),
		Properties: []bus.Property{
			bus.ReadWrite("SELinux", func() string { return string(m.SELinux()) },
				func(_ context.Context, v string) error {
					return m.SetSELinux(SELinuxMode(v), priority.User)
				}),
		},
	}
	module.Publish(env, m, &m.Base, iface)
}

// ConfigureSELinuxTask sets SELINUX= in /etc/selinux/config.
type ConfigureSELinuxTask struct {
	sysroot string
	mode    SELinuxMode
}

func NewConfigureSELinuxTask(sysroot string, mode SELinuxMode) *ConfigureSELinuxTask {
	return &ConfigureSELinuxTask{sysroot: sysroot, mode: mode}
}

func (t *ConfigureSELinuxTask) Name() string {
	return "Configure SELinux"
}

func (t *ConfigureSELinuxTask) Run(ctx context.Context, r task.Reporter) (interface{}, error) {
	if t.mode == SELinuxDefault {
		logrus.Debug("SELinux mode is not set, the configuration is left alone")
		return nil, nil
	}

	path := filepath.Join(t.sysroot, "etc/selinux/config")
	content, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		content = []byte("SELINUXTYPE=targeted\n")
	} else if err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorInstallation, err, "cannot read %s", path)
	}

	setting := fmt.Sprintf("SELINUX=%s", t.mode)
	var lines []string
	written := false
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "SELINUX=") {
			if !written {
				lines = append(lines, setting)
				written = true
			}
			continue
		}
		lines = append(lines, line)
	}
	if !written {
		lines = append([]string{setting}, lines...)
	}
	r.ReportProgress("Setting SELinux to " + string(t.mode))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorInstallation, err, "")
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorInstallation, err, "cannot write %s", path)
	}
	return nil, nil
}
