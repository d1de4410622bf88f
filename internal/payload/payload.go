// Package payload defines what the installer needs from a package manager
// backend.
package payload

import (
	"context"
	"fmt"
	"strings"

	"github.com/osbuild/installer-core/internal/validation"
)

// Repository URL types.
const (
	URLTypeBaseURL    = "BASEURL"
	URLTypeMirrorlist = "MIRRORLIST"
	URLTypeMetalink   = "METALINK"
)

// Repository origins.
const (
	OriginUser     = "USER"
	OriginSystem   = "SYSTEM"
	OriginTreeinfo = "TREEINFO"
)

// RpmLanguagesNone installs no translations, RpmLanguagesAll all of them.
const (
	RpmLanguagesNone = "none"
	RpmLanguagesAll  = "all"
)

// RepoConfigurationData describes one repository.
type RepoConfigurationData struct {
	Name                   string               `structure:",required" description:"Repository name."`
	Origin                 string               `description:"Where the repository came from: USER, SYSTEM or TREEINFO."`
	Enabled                bool                 `description:"Is the repository enabled?"`
	URL                    string               `description:"URL of the repository."`
	Type                   string               `description:"Type of the URL: BASEURL, MIRRORLIST or METALINK."`
	Proxy                  string               `description:"Proxy of the repository."`
	SSLVerificationEnabled bool                 `description:"Verify the SSL certificate of the repository."`
	SSLConfiguration       SSLConfigurationData `description:"Client certificate and CA settings."`
	Cost                   int                  `description:"Cost of the repository, lower is preferred."`
	ExcludedPackages       []string             `description:"Packages never taken from this repository."`
	IncludedPackages       []string             `description:"The only packages taken from this repository."`
	InstallationEnabled    bool                 `description:"Write the repository to the installed system?"`
}

type SSLConfigurationData struct {
	CACertPath     string `description:"Path to the CA certificate."`
	ClientCertPath string `description:"Path to the client certificate."`
	ClientKeyPath  string `description:"Path to the client key."`
}

// SetDefaults is used when a repository is decoded from a structure.
func (r *RepoConfigurationData) SetDefaults() {
	r.Origin = OriginUser
	r.Enabled = true
	r.Type = URLTypeBaseURL
	r.SSLVerificationEnabled = true
	r.Cost = 1000
}

// NewRepoConfiguration returns a repository with the default settings.
func NewRepoConfiguration(name, url string) RepoConfigurationData {
	r := RepoConfigurationData{Name: name, URL: url}
	r.SetDefaults()
	return r
}

// ID is the identifier of the repository in the backend.
func (r RepoConfigurationData) ID() string {
	return r.Name
}

// PackagesSelectionData is the software selection.
type PackagesSelectionData struct {
	CoreGroupEnabled          bool     `description:"Install the core group?"`
	DefaultEnvironmentEnabled bool     `description:"Use the default environment when none is selected?"`
	Environment               string   `description:"Selected environment."`
	Groups                    []string `description:"Selected groups."`
	Packages                  []string `description:"Selected packages."`
	ExcludedGroups            []string `description:"Excluded groups."`
	ExcludedPackages          []string `description:"Excluded packages."`
}

func (s *PackagesSelectionData) SetDefaults() {
	s.CoreGroupEnabled = true
}

// PackagesConfigurationData tunes how the selection is installed.
type PackagesConfigurationData struct {
	DocsExcluded     bool   `description:"Exclude documentation?"`
	WeakdepsExcluded bool   `description:"Exclude weak dependencies?"`
	MissingIgnored   bool   `description:"Ignore missing packages?"`
	BrokenIgnored    bool   `description:"Ignore broken packages?"`
	Languages        string `description:"Languages to install, all or none."`
	MultilibPolicy   string `description:"Multilib policy: best or all."`
	Timeout          int    `description:"Timeout of one download attempt in seconds, -1 for the default."`
	Retries          int    `description:"Number of download retries, -1 for the default."`
}

func (c *PackagesConfigurationData) SetDefaults() {
	c.Languages = RpmLanguagesAll
	c.MultilibPolicy = "best"
	c.Timeout = -1
	c.Retries = -1
}

func NewPackagesConfiguration() PackagesConfigurationData {
	var c PackagesConfigurationData
	c.SetDefaults()
	return c
}

// BaseConfig configures the backend before repositories are added.
type BaseConfig struct {
	Arch       string
	ReleaseVer string
	CacheDir   string
	Proxy      string
	Packages   PackagesConfigurationData
	// Retries and Timeout are used when the packages configuration does
	// not override them.
	Retries int
	Timeout int
}

// EffectiveRetries is the retry count to use for downloads.
func (c BaseConfig) EffectiveRetries() int {
	if c.Packages.Retries >= 0 {
		return c.Packages.Retries
	}
	return c.Retries
}

// EffectiveTimeout is the per attempt timeout in seconds.
func (c BaseConfig) EffectiveTimeout() int {
	if c.Packages.Timeout >= 0 {
		return c.Packages.Timeout
	}
	return c.Timeout
}

type GroupData struct {
	ID          string
	Name        string
	Description string
}

type EnvironmentData struct {
	ID             string
	Name           string
	Description    string
	DefaultGroups  []string
	OptionalGroups []string
}

// ProgressFunc receives human readable progress messages.
type ProgressFunc func(message string)

// Backend is a package manager. Only one DownloadPackages and one
// InstallPackages call may be in flight at a time; a second one fails with
// a state error.
type Backend interface {
	ConfigureBase(config BaseConfig) error
	ConfigureProxy(url string) error
	Substitute(s string) string

	AddRepository(r RepoConfigurationData) error
	RemoveRepository(id string) error
	EnableRepository(id string) error
	DisableRepository(id string) error
	Repositories() []string
	EnabledRepositories() []string
	Repository(id string) (RepoConfigurationData, bool)
	ReadSystemRepositories(dir string) error
	RestoreSystemRepositories() error

	ApplySpecs(include, exclude []string)
	ClearSelection()
	ResolveSelection(ctx context.Context) (*validation.Report, error)

	DownloadPackages(ctx context.Context, progress ProgressFunc) error
	InstallPackages(ctx context.Context, progress ProgressFunc) error
	SetRPMMacros(macros map[string]string) error
	ImportKeys(ctx context.Context, keys []string) error

	InstallationSize(ctx context.Context) (uint64, error)
	DownloadSize(ctx context.Context) (uint64, error)

	Groups(ctx context.Context) ([]string, error)
	Environments(ctx context.Context) ([]string, error)
	GroupData(ctx context.Context, id string) (GroupData, error)
	EnvironmentData(ctx context.Context, id string) (EnvironmentData, error)
	DefaultEnvironment(ctx context.Context) (string, error)

	SetDownloadLocation(path string) error
	DownloadLocation() string
	ClearCache() error
	ResetBase()

	LoadRepomdHashes(ctx context.Context) error
	VerifyRepomdHashes(ctx context.Context) bool

	MatchAvailablePackages(ctx context.Context, pattern string) ([]string, error)
}

// Substitute replaces the repository variables in s.
func Substitute(s string, vars map[string]string) string {
	for name, value := range vars {
		s = strings.ReplaceAll(s, "${"+name+"}", value)
		s = strings.ReplaceAll(s, "$"+name, value)
	}
	return s
}

// InstallLangsMacro is the value of the _install_langs RPM macro for the
// configured languages, or empty when the macro should not be set.
func InstallLangsMacro(languages string) string {
	switch languages {
	case RpmLanguagesAll, "":
		return ""
	case RpmLanguagesNone:
		return "%{nil}"
	}
	return languages
}

// ValidateRepository reports what is wrong with a repository definition.
func ValidateRepository(r RepoConfigurationData) error {
	if r.Name == "" {
		return fmt.Errorf("repository has no name")
	}
	if r.URL == "" {
		return fmt.Errorf("repository %s has no URL", r.Name)
	}
	switch r.Type {
	case URLTypeBaseURL, URLTypeMirrorlist, URLTypeMetalink:
	default:
		return fmt.Errorf("repository %s has an invalid URL type %q", r.Name, r.Type)
	}
	return nil
}
