// Package runtime is the module owning how the installer itself runs: the
// display mode, remote access and the kernel modules kept out of the
// installed system.
package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/installer-core/internal/bootconf"
	"github.com/osbuild/installer-core/internal/bus"
	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/kickstart"
	"github.com/osbuild/installer-core/internal/module"
	"github.com/osbuild/installer-core/internal/requirement"
	"github.com/osbuild/installer-core/internal/structure"
	"github.com/osbuild/installer-core/internal/task"
)

const Name = "Runtime"

// VNCData configures remote access over VNC.
type VNCData struct {
	Enabled  bool                 `description:"Whether VNC is started."`
	Host     string               `description:"Host of a listening viewer to connect to."`
	Port     string               `description:"Port of the server or of the viewer."`
	Password structure.SecretData `description:"Password of the VNC session."`
}

// RDPData configures remote access over RDP.
type RDPData struct {
	Enabled  bool                 `description:"Whether RDP is started."`
	Username string               `description:"User name of the RDP session."`
	Password structure.SecretData `description:"Password of the RDP session."`
}

type Module struct {
	module.Base

	env            *module.Env
	displayMode    bootconf.DisplayMode
	nonInteractive bool
	vnc            VNCData
	rdp            RDPData
	blacklist      []string
}

func New(env *module.Env) *Module {
	m := &Module{
		Base: module.NewBase(Name, "graphical", "text", "cmdline", "vnc"),
		env:  env,
	}
	if f := env.Flags; f != nil {
		if f.DisplayMode != bootconf.DisplayGraphical {
			m.displayMode = f.DisplayMode
		}
		m.vnc.Enabled = f.VNC
		if f.VNCPassword != "" {
			m.vnc.Password.SetSecret(f.VNCPassword)
		}
		m.rdp.Enabled = f.RDP
		m.rdp.Username = f.RDPUsername
		if f.RDPPassword != "" {
			m.rdp.Password.SetSecret(f.RDPPassword)
		}
		m.blacklist = append([]string(nil), f.ModprobeBlacklist...)
	}
	return m
}

func (m *Module) DisplayMode() bootconf.DisplayMode {
	return m.displayMode
}

func (m *Module) SetDisplayMode(mode bootconf.DisplayMode) error {
	switch mode {
	case "", bootconf.DisplayGraphical, bootconf.DisplayText, bootconf.DisplayCmdline:
	default:
		return installerrors.InvalidRequest("invalid display mode %q", mode)
	}
	m.displayMode = mode
	m.PropertyChanged("DisplayMode")
	return nil
}

func (m *Module) NonInteractive() bool {
	return m.nonInteractive
}

func (m *Module) SetNonInteractive(v bool) {
	m.nonInteractive = v
	m.PropertyChanged("NonInteractive")
}

// VNC returns the VNC configuration with the password hidden.
func (m *Module) VNC() VNCData {
	return structure.PublicCopy(m.vnc)
}

// SetVNC stores data. A hidden password keeps the current one.
func (m *Module) SetVNC(data VNCData) {
	data = structure.Clone(data)
	if data.Password.Type == structure.SecretHidden {
		data.Password = structure.Clone(m.vnc.Password)
	}
	m.vnc.Password.ClearSecret()
	m.vnc = data
	m.PropertyChanged("VNC")
}

// RDP returns the RDP configuration with the password hidden.
func (m *Module) RDP() RDPData {
	return structure.PublicCopy(m.rdp)
}

// SetRDP stores data. A hidden password keeps the current one.
func (m *Module) SetRDP(data RDPData) {
	data = structure.Clone(data)
	if data.Password.Type == structure.SecretHidden {
		data.Password = structure.Clone(m.rdp.Password)
	}
	m.rdp.Password.ClearSecret()
	m.rdp = data
	m.PropertyChanged("RDP")
}

// VNCPassword returns the cleartext password for starting the server.
func (m *Module) VNCPassword() string {
	return m.vnc.Password.Text()
}

func (m *Module) ModprobeBlacklist() []string {
	return append([]string(nil), m.blacklist...)
}

func (m *Module) ProcessKickstart(data *kickstart.Data) error {
	if data.DisplayMode != "" {
		if err := m.SetDisplayMode(bootconf.DisplayMode(data.DisplayMode)); err != nil {
			return err
		}
		m.SetNonInteractive(data.NonInteractive)
	}
	if v := data.VNC; v != nil {
		vnc := VNCData{Enabled: v.Enabled, Host: v.Host, Port: v.Port}
		if v.Password != "" {
			vnc.Password.SetSecret(v.Password)
		}
		m.SetVNC(vnc)
	}
	return nil
}

func (m *Module) SetupKickstart(data *kickstart.Data) {
	data.DisplayMode = string(m.displayMode)
	data.NonInteractive = m.displayMode != "" && m.nonInteractive
	data.VNC = nil
	if m.vnc.Enabled {
		data.VNC = &kickstart.VNC{Enabled: true, Host: m.vnc.Host, Port: m.vnc.Port}
	}
}

func (m *Module) CollectRequirements() []requirement.Requirement {
	return nil
}

func (m *Module) InstallWithTasks() []task.Task {
	return []task.Task{NewWriteBlacklistTask(m.env.Sysroot(), m.ModprobeBlacklist())}
}

func (m *Module) Publish(env *module.Env) {
	iface := &bus.Interface{
		Name: m.Interface(),
		Properties: []bus.Property{
			bus.ReadWrite("DisplayMode", func() string { return string(m.DisplayMode()) },
				func(_ context.Context, v string) error {
					return m.SetDisplayMode(bootconf.DisplayMode(v))
				}),
			bus.ReadWrite("NonInteractive", m.NonInteractive, func(_ context.Context, v bool) error {
				m.SetNonInteractive(v)
				return nil
			}),
			bus.ReadWrite("VNC", m.VNC, func(_ context.Context, v VNCData) error {
				m.SetVNC(v)
				return nil
			}),
			bus.ReadWrite("RDP", m.RDP, func(_ context.Context, v RDPData) error {
				m.SetRDP(v)
				return nil
			}),
			bus.ReadOnly("ModprobeBlacklist", m.ModprobeBlacklist),
		},
	}
	module.Publish(env, m, &m.Base, iface)
}

const blacklistPath = "etc/modprobe.d/anaconda-blacklist.conf"

// WriteBlacklistTask keeps the kernel modules blacklisted at boot out of
// the installed system too.
type WriteBlacklistTask struct {
	sysroot string
	modules []string
}

func NewWriteBlacklistTask(sysroot string, modules []string) *WriteBlacklistTask {
	return &WriteBlacklistTask{sysroot: sysroot, modules: modules}
}

func (t *WriteBlacklistTask) Name() string {
	return "Write module blacklist"
}

func (t *WriteBlacklistTask) Run(ctx context.Context, r task.Reporter) (interface{}, error) {
	if len(t.modules) == 0 {
		logrus.Debug("no kernel modules are blacklisted")
		return nil, nil
	}
	var b strings.Builder
	b.WriteString("# Module blacklists written by the installer\n")
	for _, name := range t.modules {
		fmt.Fprintf(&b, "blacklist %s\n", name)
	}

	path := filepath.Join(t.sysroot, blacklistPath)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorInstallation, err, "")
	}
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorInstallation, err, "cannot write %s", path)
	}
	r.ReportProgress(fmt.Sprintf("Blacklisted %d kernel modules", len(t.modules)))
	return nil, nil
}
