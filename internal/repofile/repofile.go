// Package repofile reads and writes yum repository files.
package repofile

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/osbuild/installer-core/internal/payload"
)

var loadOptions = ini.LoadOptions{
	AllowPythonMultilineValues: true,
	IgnoreInlineComment:        true,
	SkipUnrecognizableLines:    true,
}

// Parse reads the repositories defined in a .repo file. Sections without
// any URL are skipped.
func Parse(content []byte) ([]payload.RepoConfigurationData, error) {
	cfg, err := ini.LoadSources(loadOptions, content)
	if err != nil {
		return nil, err
	}

	var repos []payload.RepoConfigurationData
	for _, section := range cfg.Sections() {
		if section.Name() == ini.DefaultSection {
			continue
		}
		repo := payload.NewRepoConfiguration(section.Name(), "")
		repo.Origin = payload.OriginSystem

		for _, kind := range []struct {
			key string
			typ string
		}{
			{"baseurl", payload.URLTypeBaseURL},
			{"mirrorlist", payload.URLTypeMirrorlist},
			{"metalink", payload.URLTypeMetalink},
		} {
			if v := firstField(section.Key(kind.key).String()); v != "" {
				repo.URL = v
				repo.Type = kind.typ
				break
			}
		}
		if repo.URL == "" {
			continue
		}

		repo.Enabled = section.Key("enabled").MustBool(true)
		repo.SSLVerificationEnabled = section.Key("sslverify").MustBool(true)
		repo.SSLConfiguration.CACertPath = section.Key("sslcacert").String()
		repo.SSLConfiguration.ClientCertPath = section.Key("sslclientcert").String()
		repo.SSLConfiguration.ClientKeyPath = section.Key("sslclientkey").String()
		repo.Cost = section.Key("cost").MustInt(repo.Cost)
		repo.IncludedPackages = splitList(section.Key("includepkgs").String())
		repo.ExcludedPackages = splitList(section.Key("excludepkgs").String())
		repo.Proxy = proxyURL(section)
		repos = append(repos, repo)
	}
	return repos, nil
}

// ReadDir reads every *.repo file in dir in name order. A missing
// directory yields no repositories.
func ReadDir(dir string) ([]payload.RepoConfigurationData, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.repo"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var repos []payload.RepoConfigurationData
	for _, path := range paths {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		parsed, err := Parse(content)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		repos = append(repos, parsed...)
	}
	return repos, nil
}

// Render returns the content of a .repo file defining repos.
func Render(repos ...payload.RepoConfigurationData) ([]byte, error) {
	cfg := ini.Empty()
	for _, r := range repos {
		section, err := cfg.NewSection(r.Name)
		if err != nil {
			return nil, err
		}
		set := func(key, value string) {
			if err == nil && value != "" {
				_, err = section.NewKey(key, value)
			}
		}

		set("name", r.Name)
		set("enabled", boolValue(r.Enabled))
		switch r.Type {
		case payload.URLTypeMirrorlist:
			set("mirrorlist", r.URL)
		case payload.URLTypeMetalink:
			set("metalink", r.URL)
		default:
			set("baseurl", r.URL)
		}
		if r.Proxy != "" {
			proxy, user, password := splitProxy(r.Proxy)
			set("proxy", proxy)
			set("proxy_username", user)
			set("proxy_password", password)
		}
		set("sslverify", boolValue(r.SSLVerificationEnabled))
		set("sslcacert", r.SSLConfiguration.CACertPath)
		set("sslclientcert", r.SSLConfiguration.ClientCertPath)
		set("sslclientkey", r.SSLConfiguration.ClientKeyPath)
		set("includepkgs", strings.Join(r.IncludedPackages, ","))
		set("excludepkgs", strings.Join(r.ExcludedPackages, ","))
		if r.Cost != 0 {
			set("cost", strconv.Itoa(r.Cost))
		}
		if err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := cfg.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write stores the repository in dir as <name>.repo.
func Write(dir string, r payload.RepoConfigurationData) (string, error) {
	content, err := Render(r)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, r.Name+".repo")
	return path, os.WriteFile(path, content, 0644)
}

// SetOptions updates the [main] section of a dnf configuration file,
// creating the file when needed.
func SetOptions(path string, options map[string]string) error {
	cfg := ini.Empty()
	if _, err := os.Stat(path); err == nil {
		cfg, err = ini.LoadSources(loadOptions, path)
		if err != nil {
			return err
		}
	} else if !os.IsNotExist(err) {
		return err
	}
	main := cfg.Section("main")
	keys := make([]string, 0, len(options))
	for k := range options {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		main.Key(k).SetValue(options[k])
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return cfg.SaveTo(path)
}

func boolValue(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func firstField(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' }) {
		out = append(out, item)
	}
	return out
}

// proxyURL folds proxy_username and proxy_password back into the URL.
func proxyURL(section *ini.Section) string {
	proxy := section.Key("proxy").String()
	if proxy == "" || proxy == "_none_" {
		return ""
	}
	user := section.Key("proxy_username").String()
	if user == "" {
		return proxy
	}
	u, err := url.Parse(proxy)
	if err != nil {
		return proxy
	}
	if password := section.Key("proxy_password").String(); password != "" {
		u.User = url.UserPassword(user, password)
	} else {
		u.User = url.User(user)
	}
	return u.String()
}

// splitProxy separates the credentials from a proxy URL.
func splitProxy(proxy string) (string, string, string) {
	u, err := url.Parse(proxy)
	if err != nil || u.User == nil {
		return proxy, "", ""
	}
	user := u.User.Username()
	password, _ := u.User.Password()
	u.User = nil
	return u.String(), user, password
}
