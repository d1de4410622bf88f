// Package kickstart reads and writes the kickstart commands owned by the
// installer modules.
package kickstart

// Data holds the parsed commands of a kickstart file. A nil pointer means
// the command was not given.
type Data struct {
	Timezone    *Timezone
	TimeSources []TimeSource
	// NTPDisabled is set by "timesource --ntp-disable".
	NTPDisabled bool

	Packages   *Packages
	Keyboard   *Keyboard
	Lang       *Lang
	URL        *URL
	Repos      []Repo
	SELinux    *SELinux
	RHSM       *RHSM
	Syspurpose *Syspurpose
	VNC        *VNC
	// DisplayMode is graphical, text, cmdline or empty.
	DisplayMode    string
	NonInteractive bool

	// Sections keeps %pre, %post, %addon and other script sections as
	// they were written.
	Sections []Section

	// Commands lists the parsed commands and %packages in order of first
	// use.
	Commands []string
}

func (d *Data) seen(command string) {
	if !d.Has(command) {
		d.Commands = append(d.Commands, command)
	}
}

// Has reports whether command was present in the parsed input.
func (d *Data) Has(command string) bool {
	for _, c := range d.Commands {
		if c == command {
			return true
		}
	}
	return false
}

type Timezone struct {
	Timezone string
	IsUTC    bool
	NoNTP    bool
	// NTPServers comes from the deprecated --ntpservers option.
	NTPServers []string
}

type TimeSource struct {
	Server string
	Pool   string
	NTS    bool
}

// Packages is the %packages section.
type Packages struct {
	Default         bool
	NoCore          bool
	ExcludeDocs     bool
	Multilib        bool
	IgnoreMissing   bool
	IgnoreBroken    bool
	ExcludeWeakdeps bool
	// InstLangs is nil when --instLangs was not given, an empty string
	// installs no languages.
	InstLangs *string
	Retries   *int
	Timeout   *int

	Environment      string
	Groups           []string
	Packages         []string
	ExcludedGroups   []string
	ExcludedPackages []string
}

type Keyboard struct {
	VCKeymap      string
	XLayouts      []string
	SwitchOptions []string
}

type Lang struct {
	Lang       string
	AddSupport []string
}

type URL struct {
	URL         string
	Mirrorlist  string
	Metalink    string
	Proxy       string
	NoVerifySSL bool
	SSLCACert   string
}

type Repo struct {
	Name        string
	BaseURL     string
	Mirrorlist  string
	Metalink    string
	Cost        *int
	IncludePkgs []string
	ExcludePkgs []string
	Proxy       string
	NoVerifySSL bool
	Install     bool
}

type SELinux struct {
	// Mode is enforcing, permissive or disabled.
	Mode string
}

type RHSM struct {
	Organization      string
	ActivationKeys    []string
	ConnectToInsights bool
	ServerHostname    string
	RHSMBaseURL       string
	Proxy             string
}

type Syspurpose struct {
	Role   string
	SLA    string
	Usage  string
	Addons []string
}

type VNC struct {
	Enabled  bool
	Host     string
	Port     string
	Password string
}

// Section is a script or add-on section kept verbatim.
type Section struct {
	// Header is the full opening line, for example "%post --nochroot".
	Header string
	Body   string
}
