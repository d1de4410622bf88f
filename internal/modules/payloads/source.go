package payloads

import (
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/installer-core/internal/common"
	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/kickstart"
	"github.com/osbuild/installer-core/internal/payload"
)

// Kinds of the base source.
const (
	SourceURL           = "URL"
	SourceClosestMirror = "CLOSEST_MIRROR"
)

// BaseRepoName is the id of the repository created for the base source.
const BaseRepoName = "anaconda"

// SourceData is where the base repository comes from.
type SourceData struct {
	Type                   string                       `description:"Kind of the source: URL or CLOSEST_MIRROR."`
	URL                    string                       `description:"URL of the installation tree, mirror list or metalink."`
	URLType                string                       `description:"Type of the URL: BASEURL, MIRRORLIST or METALINK."`
	Proxy                  string                       `description:"Proxy used to reach the source."`
	SSLVerificationEnabled bool                         `description:"Verify the SSL certificate of the source."`
	SSLConfiguration       payload.SSLConfigurationData `description:"Client certificate and CA settings."`
}

func (s *SourceData) SetDefaults() {
	s.Type = SourceClosestMirror
	s.URLType = payload.URLTypeBaseURL
	s.SSLVerificationEnabled = true
}

func NewSource() SourceData {
	var s SourceData
	s.SetDefaults()
	return s
}

// Validate checks that the source can be set up.
func (s SourceData) Validate() error {
	switch s.Type {
	case SourceClosestMirror:
		return nil
	case SourceURL:
		if s.URL == "" {
			return installerrors.InvalidRequest("the URL source has no URL")
		}
		switch s.URLType {
		case payload.URLTypeBaseURL, payload.URLTypeMirrorlist, payload.URLTypeMetalink:
		default:
			return installerrors.InvalidRequest("invalid URL type %q", s.URLType)
		}
		if _, err := url.Parse(s.URL); err != nil {
			return installerrors.InvalidRequest("invalid source URL %s", common.RedactURL(s.URL))
		}
		return nil
	}
	return installerrors.InvalidRequest("unsupported source type %q", s.Type)
}

// repository returns the base repository of a URL source.
func (s SourceData) repository() payload.RepoConfigurationData {
	r := payload.NewRepoConfiguration(BaseRepoName, s.URL)
	r.Type = s.URLType
	r.Proxy = s.Proxy
	r.SSLVerificationEnabled = s.SSLVerificationEnabled
	r.SSLConfiguration = s.SSLConfiguration
	return r
}

// sourceFromBootRepo interprets inst.repo. Only network and local trees
// are supported.
func sourceFromBootRepo(repo string) (SourceData, bool) {
	s := NewSource()
	u, err := url.Parse(repo)
	if err != nil {
		logrus.Warnf("ignoring invalid inst.repo %s", common.RedactURL(repo))
		return s, false
	}
	switch u.Scheme {
	case "http", "https", "ftp", "file":
		s.Type = SourceURL
		s.URL = repo
		return s, true
	}
	logrus.Warnf("ignoring inst.repo %s: the %q source is not supported", common.RedactURL(repo), u.Scheme)
	return s, false
}

func sourceFromKickstart(u *kickstart.URL) SourceData {
	s := NewSource()
	s.Type = SourceURL
	switch {
	case u.Mirrorlist != "":
		s.URL = u.Mirrorlist
		s.URLType = payload.URLTypeMirrorlist
	case u.Metalink != "":
		s.URL = u.Metalink
		s.URLType = payload.URLTypeMetalink
	default:
		s.URL = u.URL
	}
	s.Proxy = u.Proxy
	s.SSLVerificationEnabled = !u.NoVerifySSL
	s.SSLConfiguration.CACertPath = u.SSLCACert
	return s
}

func (s SourceData) kickstart() *kickstart.URL {
	if s.Type != SourceURL {
		return nil
	}
	u := &kickstart.URL{
		Proxy:       s.Proxy,
		NoVerifySSL: !s.SSLVerificationEnabled,
		SSLCACert:   s.SSLConfiguration.CACertPath,
	}
	switch s.URLType {
	case payload.URLTypeMirrorlist:
		u.Mirrorlist = s.URL
	case payload.URLTypeMetalink:
		u.Metalink = s.URL
	default:
		u.URL = s.URL
	}
	return u
}

func repoFromKickstart(r kickstart.Repo) payload.RepoConfigurationData {
	repo := payload.NewRepoConfiguration(r.Name, r.BaseURL)
	switch {
	case r.Mirrorlist != "":
		repo.URL = r.Mirrorlist
		repo.Type = payload.URLTypeMirrorlist
	case r.Metalink != "":
		repo.URL = r.Metalink
		repo.Type = payload.URLTypeMetalink
	}
	if r.Cost != nil {
		repo.Cost = *r.Cost
	}
	repo.IncludedPackages = r.IncludePkgs
	repo.ExcludedPackages = r.ExcludePkgs
	repo.Proxy = r.Proxy
	repo.SSLVerificationEnabled = !r.NoVerifySSL
	repo.InstallationEnabled = r.Install
	return repo
}

func repoToKickstart(r payload.RepoConfigurationData) kickstart.Repo {
	repo := kickstart.Repo{
		Name:        r.Name,
		IncludePkgs: r.IncludedPackages,
		ExcludePkgs: r.ExcludedPackages,
		Proxy:       r.Proxy,
		NoVerifySSL: !r.SSLVerificationEnabled,
		Install:     r.InstallationEnabled,
	}
	switch r.Type {
	case payload.URLTypeMirrorlist:
		repo.Mirrorlist = r.URL
	case payload.URLTypeMetalink:
		repo.Metalink = r.URL
	default:
		repo.BaseURL = r.URL
	}
	if r.Cost != payload.NewRepoConfiguration("", "").Cost {
		repo.Cost = common.ToPtr(r.Cost)
	}
	return repo
}

func packagesFromKickstart(p *kickstart.Packages) (payload.PackagesSelectionData, payload.PackagesConfigurationData) {
	sel := payload.PackagesSelectionData{}
	sel.SetDefaults()
	sel.CoreGroupEnabled = !p.NoCore
	sel.DefaultEnvironmentEnabled = p.Default
	sel.Environment = p.Environment
	sel.Groups = p.Groups
	sel.Packages = p.Packages
	sel.ExcludedGroups = p.ExcludedGroups
	sel.ExcludedPackages = p.ExcludedPackages

	conf := payload.NewPackagesConfiguration()
	conf.DocsExcluded = p.ExcludeDocs
	conf.WeakdepsExcluded = p.ExcludeWeakdeps
	conf.MissingIgnored = p.IgnoreMissing
	conf.BrokenIgnored = p.IgnoreBroken
	if p.Multilib {
		conf.MultilibPolicy = "all"
	}
	if p.InstLangs != nil {
		conf.Languages = *p.InstLangs
		if conf.Languages == "" {
			conf.Languages = payload.RpmLanguagesNone
		}
	}
	if p.Retries != nil {
		conf.Retries = *p.Retries
	}
	if p.Timeout != nil {
		conf.Timeout = *p.Timeout
	}
	return sel, conf
}

func packagesToKickstart(sel payload.PackagesSelectionData, conf payload.PackagesConfigurationData) *kickstart.Packages {
	p := &kickstart.Packages{
		Default:          sel.DefaultEnvironmentEnabled,
		NoCore:           !sel.CoreGroupEnabled,
		ExcludeDocs:      conf.DocsExcluded,
		Multilib:         conf.MultilibPolicy == "all",
		IgnoreMissing:    conf.MissingIgnored,
		IgnoreBroken:     conf.BrokenIgnored,
		ExcludeWeakdeps:  conf.WeakdepsExcluded,
		Environment:      sel.Environment,
		Groups:           sel.Groups,
		Packages:         sel.Packages,
		ExcludedGroups:   sel.ExcludedGroups,
		ExcludedPackages: sel.ExcludedPackages,
	}
	switch conf.Languages {
	case payload.RpmLanguagesAll, "":
	case payload.RpmLanguagesNone:
		p.InstLangs = common.ToPtr("")
	default:
		p.InstLangs = common.ToPtr(conf.Languages)
	}
	if conf.Retries >= 0 {
		p.Retries = common.ToPtr(conf.Retries)
	}
	if conf.Timeout >= 0 {
		p.Timeout = common.ToPtr(conf.Timeout)
	}
	return p
}
