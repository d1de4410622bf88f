package kickstart

import (
	"fmt"
	"sort"
	"strings"
)

type block struct {
	name string
	text string
}

// String renders the data as a canonical kickstart. Commands are written
// in name order followed by %packages and the preserved sections.
// Activation keys and passwords are never written.
func (d *Data) String() string {
	var blocks []block
	add := func(name, comment, line string) {
		text := line + "\n"
		if comment != "" {
			text = "# " + comment + "\n" + text
		}
		blocks = append(blocks, block{name: name, text: text})
	}

	if d.DisplayMode != "" {
		line := d.DisplayMode
		if d.NonInteractive {
			line += " --non-interactive"
		}
		comments := map[string]string{
			"graphical": "Use graphical install",
			"text":      "Use text mode install",
			"cmdline":   "Use command line install",
		}
		add(d.DisplayMode, comments[d.DisplayMode], line)
	}

	if kb := d.Keyboard; kb != nil {
		line := "keyboard"
		if kb.VCKeymap != "" {
			line += " --vckeymap=" + kb.VCKeymap
		}
		if len(kb.XLayouts) > 0 {
			line += " --xlayouts=" + quoteList(kb.XLayouts)
		}
		if len(kb.SwitchOptions) > 0 {
			line += " --switch=" + quoteList(kb.SwitchOptions)
		}
		add("keyboard", "Keyboard layouts", line)
	}

	if l := d.Lang; l != nil {
		line := "lang " + l.Lang
		if len(l.AddSupport) > 0 {
			line += " --addsupport=" + strings.Join(l.AddSupport, ",")
		}
		add("lang", "System language", line)
	}

	if len(d.Repos) > 0 {
		var lines []string
		for _, r := range d.Repos {
			lines = append(lines, repoLine(r))
		}
		blocks = append(blocks, block{name: "repo", text: strings.Join(lines, "\n") + "\n"})
	}

	if r := d.RHSM; r != nil {
		line := "rhsm"
		if r.Organization != "" {
			line += " --organization=" + quote(r.Organization)
		}
		if r.ConnectToInsights {
			line += " --connect-to-insights"
		}
		if r.ServerHostname != "" {
			line += " --server-hostname=" + quote(r.ServerHostname)
		}
		if r.RHSMBaseURL != "" {
			line += " --rhsm-baseurl=" + quote(r.RHSMBaseURL)
		}
		if r.Proxy != "" {
			line += " --proxy=" + quote(r.Proxy)
		}
		add("rhsm", "", line)
	}

	if s := d.SELinux; s != nil {
		add("selinux", "SELinux configuration", "selinux --"+s.Mode)
	}

	if s := d.Syspurpose; s != nil {
		line := "syspurpose"
		if s.Role != "" {
			line += " --role=" + quote(s.Role)
		}
		if s.SLA != "" {
			line += " --sla=" + quote(s.SLA)
		}
		if s.Usage != "" {
			line += " --usage=" + quote(s.Usage)
		}
		for _, a := range s.Addons {
			line += " --addon=" + quote(a)
		}
		add("syspurpose", "Intended system purpose", line)
	}

	var sources []string
	if d.NTPDisabled {
		sources = append(sources, "timesource --ntp-disable")
	}
	for _, ts := range d.TimeSources {
		line := "timesource"
		if ts.Pool != "" {
			line += " --ntp-pool=" + ts.Pool
		} else {
			line += " --ntp-server=" + ts.Server
		}
		if ts.NTS {
			line += " --nts"
		}
		sources = append(sources, line)
	}
	if len(sources) > 0 {
		blocks = append(blocks, block{name: "timesource", text: strings.Join(sources, "\n") + "\n"})
	}

	if tz := d.Timezone; tz != nil && tz.Timezone != "" {
		line := "timezone " + tz.Timezone
		if tz.IsUTC {
			line += " --utc"
		}
		add("timezone", "System timezone", line)
	}

	if u := d.URL; u != nil {
		line := "url"
		switch {
		case u.URL != "":
			line += " --url=" + quote(u.URL)
		case u.Mirrorlist != "":
			line += " --mirrorlist=" + quote(u.Mirrorlist)
		case u.Metalink != "":
			line += " --metalink=" + quote(u.Metalink)
		}
		if u.Proxy != "" {
			line += " --proxy=" + quote(u.Proxy)
		}
		if u.SSLCACert != "" {
			line += " --sslcacert=" + quote(u.SSLCACert)
		}
		if u.NoVerifySSL {
			line += " --noverifyssl"
		}
		add("url", "Use network installation", line)
	}

	if v := d.VNC; v != nil && v.Enabled {
		line := "vnc"
		if v.Host != "" {
			line += " --host=" + v.Host
		}
		if v.Port != "" {
			line += " --port=" + v.Port
		}
		add("vnc", "", line)
	}

	sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].name < blocks[j].name })

	var sb strings.Builder
	for _, b := range blocks {
		sb.WriteString(b.text)
	}
	if d.Packages != nil {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(d.Packages.String())
	}
	for _, s := range d.Sections {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(s.Header + "\n" + s.Body + "%end\n")
	}
	return sb.String()
}

func repoLine(r Repo) string {
	line := "repo --name=" + quote(r.Name)
	switch {
	case r.BaseURL != "":
		line += " --baseurl=" + r.BaseURL
	case r.Mirrorlist != "":
		line += " --mirrorlist=" + r.Mirrorlist
	case r.Metalink != "":
		line += " --metalink=" + r.Metalink
	}
	if r.Cost != nil {
		line += fmt.Sprintf(" --cost=%d", *r.Cost)
	}
	if len(r.IncludePkgs) > 0 {
		line += " --includepkgs=" + strings.Join(r.IncludePkgs, ",")
	}
	if len(r.ExcludePkgs) > 0 {
		line += " --excludepkgs=" + strings.Join(r.ExcludePkgs, ",")
	}
	if r.Proxy != "" {
		line += " --proxy=" + quote(r.Proxy)
	}
	if r.NoVerifySSL {
		line += " --noverifyssl"
	}
	if r.Install {
		line += " --install"
	}
	return line
}

// String renders the %packages section.
func (p *Packages) String() string {
	header := "%packages"
	if p.Default {
		header += " --default"
	}
	if p.ExcludeDocs {
		header += " --excludedocs"
	}
	if p.ExcludeWeakdeps {
		header += " --exclude-weakdeps"
	}
	if p.InstLangs != nil {
		header += " --instLangs=" + *p.InstLangs
	}
	if p.Multilib {
		header += " --multilib"
	}
	if p.NoCore {
		header += " --nocore"
	}
	if p.IgnoreMissing {
		header += " --ignoremissing"
	}
	if p.IgnoreBroken {
		header += " --ignorebroken"
	}
	if p.Retries != nil {
		header += fmt.Sprintf(" --retries=%d", *p.Retries)
	}
	if p.Timeout != nil {
		header += fmt.Sprintf(" --timeout=%d", *p.Timeout)
	}

	lines := []string{header}
	if p.Environment != "" {
		lines = append(lines, "@^"+p.Environment)
	}
	for _, g := range p.Groups {
		lines = append(lines, "@"+g)
	}
	lines = append(lines, p.Packages...)
	for _, g := range p.ExcludedGroups {
		lines = append(lines, "-@"+g)
	}
	for _, pkg := range p.ExcludedPackages {
		lines = append(lines, "-"+pkg)
	}
	lines = append(lines, "%end")
	return strings.Join(lines, "\n") + "\n"
}
