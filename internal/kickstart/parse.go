package kickstart

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/pflag"
)

// ParseError points at the offending line of a kickstart file.
type ParseError struct {
	Line    int
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

type commandFunc func(d *Data, args []string) error

var commands = map[string]commandFunc{
	"timezone":   parseTimezone,
	"timesource": parseTimesource,
	"keyboard":   parseKeyboard,
	"lang":       parseLang,
	"url":        parseURL,
	"repo":       parseRepo,
	"selinux":    parseSELinux,
	"rhsm":       parseRHSM,
	"syspurpose": parseSyspurpose,
	"vnc":        parseVNC,
	"graphical":  parseDisplayMode("graphical"),
	"text":       parseDisplayMode("text"),
	"cmdline":    parseDisplayMode("cmdline"),
}

// Parse reads a kickstart file. Unknown commands and malformed options are
// reported with their line number.
func Parse(r io.Reader) (*Data, error) {
	d := &Data{}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineno := 0
	var section *Section
	var packages bool

	for scanner.Scan() {
		lineno++
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if section != nil || packages {
			if trimmed == "%end" {
				if section != nil {
					d.Sections = append(d.Sections, *section)
				}
				section = nil
				packages = false
				continue
			}
			if section != nil {
				section.Body += line + "\n"
				continue
			}
			if err := parsePackageLine(d.Packages, trimmed); err != nil {
				return nil, &ParseError{Line: lineno, Message: err.Error()}
			}
			continue
		}

		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		if strings.HasPrefix(trimmed, "%") {
			words, err := split(trimmed)
			if err != nil {
				return nil, &ParseError{Line: lineno, Message: err.Error()}
			}
			switch words[0] {
			case "%packages":
				if d.Packages != nil {
					return nil, &ParseError{Line: lineno, Message: "duplicate %packages section"}
				}
				d.Packages = &Packages{}
				if err := parsePackagesHeader(d.Packages, words[1:]); err != nil {
					return nil, &ParseError{Line: lineno, Message: err.Error()}
				}
				packages = true
				d.seen("%packages")
			case "%pre", "%pre-install", "%post", "%addon", "%onerror", "%traceback":
				section = &Section{Header: trimmed}
			case "%end":
				return nil, &ParseError{Line: lineno, Message: "unexpected %end"}
			default:
				return nil, &ParseError{Line: lineno, Message: fmt.Sprintf("unknown section %s", words[0])}
			}
			continue
		}

		words, err := split(trimmed)
		if err != nil {
			return nil, &ParseError{Line: lineno, Message: err.Error()}
		}
		if len(words) == 0 {
			continue
		}
		fn, ok := commands[words[0]]
		if !ok {
			return nil, &ParseError{Line: lineno, Message: fmt.Sprintf("unknown command %s", words[0])}
		}
		if err := fn(d, words[1:]); err != nil {
			return nil, &ParseError{Line: lineno, Message: fmt.Sprintf("%s: %s", words[0], err)}
		}
		d.seen(words[0])
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if section != nil || packages {
		return nil, &ParseError{Line: lineno, Message: "section is missing %end"}
	}
	return d, nil
}

// ParseString is Parse for an in-memory kickstart.
func ParseString(s string) (*Data, error) {
	return Parse(strings.NewReader(s))
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {}
	return fs
}

func positional(fs *pflag.FlagSet, min, max int) ([]string, error) {
	args := fs.Args()
	if len(args) < min {
		return nil, fmt.Errorf("expected at least %d argument(s)", min)
	}
	if max >= 0 && len(args) > max {
		return nil, fmt.Errorf("unexpected argument %q", args[max])
	}
	return args, nil
}

func parseTimezone(d *Data, args []string) error {
	fs := newFlagSet("timezone")
	utc := fs.Bool("utc", false, "")
	isUtc := fs.Bool("isUtc", false, "")
	nontp := fs.Bool("nontp", false, "")
	servers := fs.StringSlice("ntpservers", nil, "")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pos, err := positional(fs, 0, 1)
	if err != nil {
		return err
	}
	tz := &Timezone{
		IsUTC:      *utc || *isUtc,
		NoNTP:      *nontp,
		NTPServers: *servers,
	}
	if len(pos) == 1 {
		tz.Timezone = pos[0]
	}
	if tz.NoNTP && len(tz.NTPServers) > 0 {
		return fmt.Errorf("options --nontp and --ntpservers are mutually exclusive")
	}
	d.Timezone = tz
	return nil
}

func parseTimesource(d *Data, args []string) error {
	fs := newFlagSet("timesource")
	server := fs.String("ntp-server", "", "")
	pool := fs.String("ntp-pool", "", "")
	disable := fs.Bool("ntp-disable", false, "")
	nts := fs.Bool("nts", false, "")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := positional(fs, 0, 0); err != nil {
		return err
	}

	given := 0
	for _, name := range []string{"ntp-server", "ntp-pool", "ntp-disable"} {
		if fs.Changed(name) {
			given++
		}
	}
	if given != 1 {
		return fmt.Errorf("exactly one of --ntp-server, --ntp-pool and --ntp-disable is required")
	}
	if *disable {
		if *nts {
			return fmt.Errorf("option --nts can't be used with --ntp-disable")
		}
		d.NTPDisabled = true
		return nil
	}
	d.TimeSources = append(d.TimeSources, TimeSource{Server: *server, Pool: *pool, NTS: *nts})
	return nil
}

func parseKeyboard(d *Data, args []string) error {
	fs := newFlagSet("keyboard")
	vckeymap := fs.String("vckeymap", "", "")
	xlayouts := fs.StringSlice("xlayouts", nil, "")
	switches := fs.StringSlice("switch", nil, "")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pos, err := positional(fs, 0, 1)
	if err != nil {
		return err
	}
	kb := &Keyboard{
		VCKeymap:      *vckeymap,
		XLayouts:      trimAll(*xlayouts),
		SwitchOptions: trimAll(*switches),
	}
	// The legacy positional form sets the console keymap.
	if len(pos) == 1 && kb.VCKeymap == "" {
		kb.VCKeymap = pos[0]
	}
	if kb.VCKeymap == "" && len(kb.XLayouts) == 0 {
		return fmt.Errorf("one of --vckeymap and --xlayouts is required")
	}
	d.Keyboard = kb
	return nil
}

func parseLang(d *Data, args []string) error {
	fs := newFlagSet("lang")
	addsupport := fs.StringSlice("addsupport", nil, "")
	if err := fs.Parse(args); err != nil {
		return err
	}
	pos, err := positional(fs, 1, 1)
	if err != nil {
		return err
	}
	d.Lang = &Lang{Lang: pos[0], AddSupport: trimAll(*addsupport)}
	return nil
}

func parseURL(d *Data, args []string) error {
	fs := newFlagSet("url")
	u := &URL{}
	fs.StringVar(&u.URL, "url", "", "")
	fs.StringVar(&u.Mirrorlist, "mirrorlist", "", "")
	fs.StringVar(&u.Metalink, "metalink", "", "")
	fs.StringVar(&u.Proxy, "proxy", "", "")
	fs.StringVar(&u.SSLCACert, "sslcacert", "", "")
	fs.BoolVar(&u.NoVerifySSL, "noverifyssl", false, "")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := positional(fs, 0, 0); err != nil {
		return err
	}
	if countSet(u.URL, u.Mirrorlist, u.Metalink) != 1 {
		return fmt.Errorf("exactly one of --url, --mirrorlist and --metalink is required")
	}
	d.URL = u
	return nil
}

func parseRepo(d *Data, args []string) error {
	fs := newFlagSet("repo")
	r := Repo{}
	fs.StringVar(&r.Name, "name", "", "")
	fs.StringVar(&r.BaseURL, "baseurl", "", "")
	fs.StringVar(&r.Mirrorlist, "mirrorlist", "", "")
	fs.StringVar(&r.Metalink, "metalink", "", "")
	fs.StringVar(&r.Proxy, "proxy", "", "")
	fs.BoolVar(&r.NoVerifySSL, "noverifyssl", false, "")
	fs.BoolVar(&r.Install, "install", false, "")
	cost := fs.Int("cost", 0, "")
	includes := fs.StringSlice("includepkgs", nil, "")
	excludes := fs.StringSlice("excludepkgs", nil, "")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := positional(fs, 0, 0); err != nil {
		return err
	}
	if r.Name == "" {
		return fmt.Errorf("option --name is required")
	}
	if countSet(r.BaseURL, r.Mirrorlist, r.Metalink) != 1 {
		return fmt.Errorf("exactly one of --baseurl, --mirrorlist and --metalink is required")
	}
	if fs.Changed("cost") {
		r.Cost = cost
	}
	r.IncludePkgs = trimAll(*includes)
	r.ExcludePkgs = trimAll(*excludes)
	for _, existing := range d.Repos {
		if existing.Name == r.Name {
			return fmt.Errorf("repository %q is defined twice", r.Name)
		}
	}
	d.Repos = append(d.Repos, r)
	return nil
}

func parseSELinux(d *Data, args []string) error {
	fs := newFlagSet("selinux")
	enforcing := fs.Bool("enforcing", false, "")
	permissive := fs.Bool("permissive", false, "")
	disabled := fs.Bool("disabled", false, "")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := positional(fs, 0, 0); err != nil {
		return err
	}
	modes := map[string]bool{"enforcing": *enforcing, "permissive": *permissive, "disabled": *disabled}
	mode := ""
	for name, set := range modes {
		if !set {
			continue
		}
		if mode != "" {
			return fmt.Errorf("only one of --enforcing, --permissive and --disabled may be given")
		}
		mode = name
	}
	if mode == "" {
		mode = "enforcing"
	}
	d.SELinux = &SELinux{Mode: mode}
	return nil
}

func parseRHSM(d *Data, args []string) error {
	fs := newFlagSet("rhsm")
	r := &RHSM{}
	fs.StringVar(&r.Organization, "organization", "", "")
	fs.StringArrayVar(&r.ActivationKeys, "activation-key", nil, "")
	fs.BoolVar(&r.ConnectToInsights, "connect-to-insights", false, "")
	fs.StringVar(&r.ServerHostname, "server-hostname", "", "")
	fs.StringVar(&r.RHSMBaseURL, "rhsm-baseurl", "", "")
	fs.StringVar(&r.Proxy, "proxy", "", "")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := positional(fs, 0, 0); err != nil {
		return err
	}
	d.RHSM = r
	return nil
}

func parseSyspurpose(d *Data, args []string) error {
	fs := newFlagSet("syspurpose")
	s := &Syspurpose{}
	fs.StringVar(&s.Role, "role", "", "")
	fs.StringVar(&s.SLA, "sla", "", "")
	fs.StringVar(&s.Usage, "usage", "", "")
	fs.StringArrayVar(&s.Addons, "addon", nil, "")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := positional(fs, 0, 0); err != nil {
		return err
	}
	d.Syspurpose = s
	return nil
}

func parseVNC(d *Data, args []string) error {
	fs := newFlagSet("vnc")
	v := &VNC{Enabled: true}
	fs.StringVar(&v.Host, "host", "", "")
	fs.StringVar(&v.Port, "port", "", "")
	fs.StringVar(&v.Password, "password", "", "")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := positional(fs, 0, 0); err != nil {
		return err
	}
	d.VNC = v
	return nil
}

func parseDisplayMode(mode string) commandFunc {
	return func(d *Data, args []string) error {
		fs := newFlagSet(mode)
		nonInteractive := fs.Bool("non-interactive", false, "")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if _, err := positional(fs, 0, 0); err != nil {
			return err
		}
		if d.DisplayMode != "" && d.DisplayMode != mode {
			return fmt.Errorf("display mode is already set to %s", d.DisplayMode)
		}
		d.DisplayMode = mode
		d.NonInteractive = *nonInteractive
		return nil
	}
}

func parsePackagesHeader(p *Packages, args []string) error {
	fs := newFlagSet("%packages")
	fs.BoolVar(&p.Default, "default", false, "")
	fs.BoolVar(&p.NoCore, "nocore", false, "")
	fs.BoolVar(&p.ExcludeDocs, "excludedocs", false, "")
	fs.BoolVar(&p.Multilib, "multilib", false, "")
	fs.BoolVar(&p.IgnoreMissing, "ignoremissing", false, "")
	fs.BoolVar(&p.IgnoreBroken, "ignorebroken", false, "")
	fs.BoolVar(&p.ExcludeWeakdeps, "exclude-weakdeps", false, "")
	instLangs := fs.String("instLangs", "", "")
	retries := fs.Int("retries", 0, "")
	timeout := fs.Int("timeout", 0, "")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := positional(fs, 0, 0); err != nil {
		return err
	}
	if fs.Changed("instLangs") {
		p.InstLangs = instLangs
	}
	if fs.Changed("retries") {
		if *retries < 0 {
			return fmt.Errorf("--retries must not be negative")
		}
		p.Retries = retries
	}
	if fs.Changed("timeout") {
		if *timeout < 0 {
			return fmt.Errorf("--timeout must not be negative")
		}
		p.Timeout = timeout
	}
	return nil
}

func parsePackageLine(p *Packages, line string) error {
	if line == "" || strings.HasPrefix(line, "#") {
		return nil
	}
	words, err := split(line)
	if err != nil {
		return err
	}
	if len(words) == 0 {
		return nil
	}
	// Group options such as --nodefaults are accepted and ignored.
	name := words[0]
	switch {
	case strings.HasPrefix(name, "@^"):
		if p.Environment != "" {
			return fmt.Errorf("only one environment may be selected")
		}
		p.Environment = strings.TrimPrefix(name, "@^")
	case strings.HasPrefix(name, "-@"):
		p.ExcludedGroups = append(p.ExcludedGroups, strings.TrimPrefix(name, "-@"))
	case strings.HasPrefix(name, "@"):
		p.Groups = append(p.Groups, strings.TrimPrefix(name, "@"))
	case strings.HasPrefix(name, "-"):
		p.ExcludedPackages = append(p.ExcludedPackages, strings.TrimPrefix(name, "-"))
	default:
		p.Packages = append(p.Packages, name)
	}
	return nil
}

func trimAll(items []string) []string {
	var out []string
	for _, i := range items {
		i = strings.Trim(strings.TrimSpace(i), "'")
		if i != "" {
			out = append(out, i)
		}
	}
	return out
}

func countSet(values ...string) int {
	n := 0
	for _, v := range values {
		if v != "" {
			n++
		}
	}
	return n
}
