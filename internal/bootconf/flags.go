package bootconf

import (
	"github.com/osbuild/installer-core/internal/common"
)

// DisplayMode is how the installation is driven.
type DisplayMode string

const (
	DisplayGraphical DisplayMode = "graphical"
	DisplayText      DisplayMode = "text"
	DisplayCmdline   DisplayMode = "cmdline"
)

// Flags is the startup configuration. It is built once and never modified
// afterwards; share it by pointer.
type Flags struct {
	Config *Config

	Debug       bool
	Rescue      bool
	Kickstart   string
	Stage2      string
	DisplayMode DisplayMode
	Geolocation bool
	NoVerifySSL bool
	// SELinux is nil when the boot command line does not mention it.
	SELinux *bool
	Keymap  string
	Lang    string
	Repo    string
	Proxy   string

	VNC         bool
	VNCPassword string
	RDP         bool
	RDPUsername string
	RDPPassword string

	ModprobeBlacklist []string
	S390              bool
}

// NewFlags combines the boot command line with the configuration file.
// The command line wins where both speak about the same thing.
func NewFlags(cmdline Cmdline, config *Config) *Flags {
	if config == nil {
		config = GetDefaultConfig()
	}
	c := *config
	config = &c
	f := &Flags{
		Config:      config,
		Debug:       cmdline.Bool("inst.debug", false),
		Rescue:      cmdline.Bool("inst.rescue", false),
		Kickstart:   cmdline.GetString("inst.ks", ""),
		Stage2:      cmdline.GetString("inst.stage2", ""),
		DisplayMode: DisplayGraphical,
		Geolocation: !cmdline.Bool("nogeoloc", false) && cmdline.Bool("inst.geoloc", true),
		NoVerifySSL: cmdline.Bool("inst.noverifyssl", false),
		Keymap:      cmdline.GetString("inst.keymap", ""),
		Lang:        cmdline.GetString("inst.lang", ""),
		Repo:        cmdline.GetString("inst.repo", ""),
		Proxy:       cmdline.GetString("inst.proxy", ""),
		VNC:         cmdline.Bool("inst.vnc", false),
		VNCPassword: cmdline.GetString("inst.vncpassword", ""),
		RDP:         cmdline.Bool("inst.rdp", false),
		RDPUsername: cmdline.GetString("inst.rdp.username", ""),
		RDPPassword: cmdline.GetString("inst.rdp.password", ""),

		ModprobeBlacklist: cmdline.List("modprobe.blacklist"),
		S390:              common.IsS390(),
	}
	if f.Kickstart == "" {
		f.Kickstart = cmdline.GetString("ks", "")
	}
	if _, ok := cmdline.Get("inst.selinux"); ok {
		f.SELinux = common.ToPtr(cmdline.Bool("inst.selinux", true))
	}
	switch {
	case cmdline.Bool("inst.cmdline", false):
		f.DisplayMode = DisplayCmdline
	case cmdline.Bool("inst.text", false):
		f.DisplayMode = DisplayText
	}
	if f.Debug && config.Logging.Level == "info" {
		config.Logging.Level = "debug"
	}
	return f
}
