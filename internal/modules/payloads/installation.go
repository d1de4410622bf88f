package payloads

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/installer-core/internal/common"
	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/payload"
	"github.com/osbuild/installer-core/internal/repofile"
	"github.com/osbuild/installer-core/internal/requirement"
	"github.com/osbuild/installer-core/internal/task"
	"github.com/osbuild/installer-core/internal/validation"
)

// SourceSetupResult is the result of SetUpSourcesTask.
type SourceSetupResult struct {
	ReleaseVer           string
	TreeInfoRepositories []payload.RepoConfigurationData
}

// SetUpSourcesTask configures the backend and adds the base repository,
// the repositories of the treeinfo and the user repositories.
type SetUpSourcesTask struct {
	backend        payload.Backend
	config         payload.BaseConfig
	source         SourceData
	repositories   []payload.RepoConfigurationData
	systemReposDir string

	// OnResult, when set, receives the result of a successful run.
	OnResult func(*SourceSetupResult)
}

func NewSetUpSourcesTask(backend payload.Backend, config payload.BaseConfig, source SourceData, repos []payload.RepoConfigurationData, systemReposDir string) *SetUpSourcesTask {
	return &SetUpSourcesTask{
		backend:        backend,
		config:         config,
		source:         source,
		repositories:   repos,
		systemReposDir: systemReposDir,
	}
}

func (t *SetUpSourcesTask) Name() string {
	return "Set up installation sources"
}

func (t *SetUpSourcesTask) Steps() int {
	return 3
}

func (t *SetUpSourcesTask) Run(ctx context.Context, r task.Reporter) (interface{}, error) {
	res, err := t.run(ctx, r)
	if err != nil {
		return nil, err
	}
	if t.OnResult != nil {
		t.OnResult(res)
	}
	return res, nil
}

func (t *SetUpSourcesTask) run(ctx context.Context, r task.Reporter) (*SourceSetupResult, error) {
	r.ReportStep(1, "Configuring the base repository")
	t.backend.ResetBase()
	config := t.config
	if err := t.backend.ConfigureBase(config); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorSourceSetup, err, "cannot configure the payload")
	}
	if t.source.Proxy != "" {
		if err := t.backend.ConfigureProxy(t.source.Proxy); err != nil {
			return nil, installerrors.Wrap(installerrors.ErrorSourceSetup, err, "invalid proxy")
		}
	}

	res := &SourceSetupResult{ReleaseVer: config.ReleaseVer}
	switch t.source.Type {
	case SourceURL:
		base := t.source.repository()
		base.URL = t.backend.Substitute(base.URL)
		var additional []payload.RepoConfigurationData
		if base.Type == payload.URLTypeBaseURL {
			loader, err := newTreeInfoLoader(config, base)
			if err != nil {
				return nil, err
			}
			ti, err := loader.Load(ctx, base.URL)
			if err != nil {
				return nil, err
			}
			if ti != nil {
				if v := ti.ReleaseVer(); v != "" && v != config.ReleaseVer {
					config.ReleaseVer = v
					res.ReleaseVer = v
					if err := t.backend.ConfigureBase(config); err != nil {
						return nil, installerrors.Wrap(installerrors.ErrorSourceSetup, err, "cannot configure the payload")
					}
				}
				base, additional = ti.TreeInfoRepositories(base.URL, base)
			}
		}
		if err := t.backend.AddRepository(base); err != nil {
			return nil, err
		}
		for _, repo := range additional {
			if t.userRepository(repo.Name) {
				logrus.Infof("the treeinfo repository %s is replaced by a user repository", repo.Name)
				continue
			}
			if err := t.backend.AddRepository(repo); err != nil {
				return nil, err
			}
			res.TreeInfoRepositories = append(res.TreeInfoRepositories, repo)
		}
	case SourceClosestMirror:
		if err := t.backend.ReadSystemRepositories(t.systemReposDir); err != nil {
			return nil, err
		}
	default:
		return nil, installerrors.SourceSetup("unsupported source type %q", t.source.Type)
	}

	r.ReportStep(2, "Adding the additional repositories")
	for _, repo := range t.repositories {
		repo.URL = t.backend.Substitute(repo.URL)
		if err := t.backend.AddRepository(repo); err != nil {
			return nil, err
		}
	}
	enabled := t.backend.EnabledRepositories()
	if len(enabled) == 0 {
		return nil, installerrors.SourceSetup("no enabled repositories")
	}
	logrus.Infof("enabled repositories: %s", strings.Join(enabled, ", "))

	r.ReportStep(3, "Loading the repository metadata")
	if err := t.backend.LoadRepomdHashes(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

func (t *SetUpSourcesTask) userRepository(name string) bool {
	for _, r := range t.repositories {
		if r.Name == name {
			return true
		}
	}
	return false
}

// TearDownSourcesTask drops the repositories and the selection.
type TearDownSourcesTask struct {
	backend payload.Backend
}

func NewTearDownSourcesTask(backend payload.Backend) *TearDownSourcesTask {
	return &TearDownSourcesTask{backend: backend}
}

func (t *TearDownSourcesTask) Name() string {
	return "Tear down installation sources"
}

func (t *TearDownSourcesTask) Run(ctx context.Context, r task.Reporter) (interface{}, error) {
	t.backend.ResetBase()
	return nil, nil
}

// SetRPMMacrosTask sets the macros derived from the packages
// configuration.
type SetRPMMacrosTask struct {
	backend payload.Backend
	config  payload.PackagesConfigurationData
}

func NewSetRPMMacrosTask(backend payload.Backend, config payload.PackagesConfigurationData) *SetRPMMacrosTask {
	return &SetRPMMacrosTask{backend: backend, config: config}
}

func (t *SetRPMMacrosTask) Name() string {
	return "Set RPM macros"
}

// Macros returns the macros to set. An empty value unsets the macro.
func (t *SetRPMMacrosTask) Macros() map[string]string {
	macros := map[string]string{
		"_install_langs": payload.InstallLangsMacro(t.config.Languages),
	}
	if t.config.DocsExcluded {
		macros["_excludedocs"] = "1"
	}
	return macros
}

func (t *SetRPMMacrosTask) Run(ctx context.Context, r task.Reporter) (interface{}, error) {
	macros := t.Macros()
	for k, v := range macros {
		logrus.Debugf("setting RPM macro %s to %q", k, v)
	}
	if err := t.backend.SetRPMMacros(macros); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorInstallation, err, "cannot set RPM macros")
	}
	return nil, nil
}

// ImportKeysTask imports the configured GPG keys. Failures do not stop
// the installation.
type ImportKeysTask struct {
	backend payload.Backend
	keys    []string
}

func NewImportKeysTask(backend payload.Backend, keys []string) *ImportKeysTask {
	return &ImportKeysTask{backend: backend, keys: keys}
}

func (t *ImportKeysTask) Name() string {
	return "Import GPG keys"
}

func (t *ImportKeysTask) Run(ctx context.Context, r task.Reporter) (interface{}, error) {
	if len(t.keys) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(t.keys))
	for _, k := range t.keys {
		keys = append(keys, t.backend.Substitute(k))
	}
	r.ReportProgress(fmt.Sprintf("Importing %d GPG keys", len(keys)))
	if err := t.backend.ImportKeys(ctx, keys); err != nil {
		if installerrors.Is(err, installerrors.ErrorNonCritical) {
			return nil, err
		}
		return nil, installerrors.Wrap(installerrors.ErrorNonCritical, err, "failed to import GPG keys")
	}
	return nil, nil
}

// ResolveSelectionTask applies the packages selection and the
// requirements of the modules to the backend and resolves them.
type ResolveSelectionTask struct {
	backend      payload.Backend
	selection    payload.PackagesSelectionData
	requirements []requirement.Requirement
	ignored      []string
}

func NewResolveSelectionTask(backend payload.Backend, selection payload.PackagesSelectionData, reqs []requirement.Requirement, ignored []string) *ResolveSelectionTask {
	return &ResolveSelectionTask{
		backend:      backend,
		selection:    selection,
		requirements: reqs,
		ignored:      ignored,
	}
}

func (t *ResolveSelectionTask) Name() string {
	return "Resolve packages"
}

// specs turns the selection into include and exclude specs.
func (t *ResolveSelectionTask) specs(ctx context.Context) ([]string, []string, error) {
	sel := t.selection
	var include, exclude []string

	env := sel.Environment
	if env == "" && sel.DefaultEnvironmentEnabled {
		def, err := t.backend.DefaultEnvironment(ctx)
		if err != nil {
			return nil, nil, err
		}
		env = def
	}
	if env != "" {
		include = append(include, "@^"+env)
	}
	if sel.CoreGroupEnabled {
		include = append(include, "@core")
	} else {
		exclude = append(exclude, "@core")
	}
	for _, g := range sel.Groups {
		include = append(include, "@"+g)
	}
	include = append(include, sel.Packages...)
	for _, g := range sel.ExcludedGroups {
		exclude = append(exclude, "@"+g)
	}
	exclude = append(exclude, sel.ExcludedPackages...)
	return include, exclude, nil
}

func (t *ResolveSelectionTask) resolve(ctx context.Context) (*validation.Report, error) {
	t.backend.ClearSelection()
	include, exclude, err := t.specs(ctx)
	if err != nil {
		return nil, err
	}
	excluded := append(append([]string(nil), t.selection.ExcludedPackages...), t.selection.ExcludedGroups...)
	include = requirement.Apply(t.requirements, include, excluded, t.ignored)
	logrus.Debugf("resolving include=%v exclude=%v", include, exclude)
	t.backend.ApplySpecs(include, exclude)
	return t.backend.ResolveSelection(ctx)
}

func (t *ResolveSelectionTask) Run(ctx context.Context, r task.Reporter) (interface{}, error) {
	r.ReportProgress("Resolving the software selection")
	report, err := t.resolve(ctx)
	if err != nil {
		return nil, err
	}
	for _, w := range report.WarningMessages {
		logrus.Warn(w)
	}
	if !report.IsValid() {
		return nil, installerrors.Installation("%s", strings.Join(report.ErrorMessages, "\n"))
	}
	return report, nil
}

// PrepareDownloadLocationTask picks where the packages are downloaded to.
type PrepareDownloadLocationTask struct {
	backend   payload.Backend
	locations []string
}

func NewPrepareDownloadLocationTask(backend payload.Backend, locations []string) *PrepareDownloadLocationTask {
	return &PrepareDownloadLocationTask{backend: backend, locations: locations}
}

func (t *PrepareDownloadLocationTask) Name() string {
	return "Prepare the package download"
}

func (t *PrepareDownloadLocationTask) Run(ctx context.Context, r task.Reporter) (interface{}, error) {
	size, err := t.backend.DownloadSize(ctx)
	if err != nil {
		return nil, err
	}
	location, err := pickDownloadLocation(t.locations, size)
	if err != nil {
		return nil, err
	}
	logrus.Infof("downloading %d bytes of packages to %s", size, location)
	if err := t.backend.SetDownloadLocation(location); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorInstallation, err, "cannot use %s", location)
	}
	return location, nil
}

type DownloadPackagesTask struct {
	backend payload.Backend
}

func NewDownloadPackagesTask(backend payload.Backend) *DownloadPackagesTask {
	return &DownloadPackagesTask{backend: backend}
}

func (t *DownloadPackagesTask) Name() string {
	return "Download packages"
}

func (t *DownloadPackagesTask) Run(ctx context.Context, r task.Reporter) (interface{}, error) {
	r.ReportProgress("Downloading packages")
	return nil, t.backend.DownloadPackages(ctx, r.ReportProgress)
}

type InstallPackagesTask struct {
	backend payload.Backend
}

func NewInstallPackagesTask(backend payload.Backend) *InstallPackagesTask {
	return &InstallPackagesTask{backend: backend}
}

func (t *InstallPackagesTask) Name() string {
	return "Install packages"
}

func (t *InstallPackagesTask) Run(ctx context.Context, r task.Reporter) (interface{}, error) {
	r.ReportProgress("Installing packages")
	return nil, t.backend.InstallPackages(ctx, r.ReportProgress)
}

// WriteRepositoriesTask writes the user repositories enabled for the
// installed system into its repository directory.
type WriteRepositoriesTask struct {
	sysroot  string
	reposDir string
	repos    []payload.RepoConfigurationData
}

func NewWriteRepositoriesTask(sysroot, reposDir string, repos []payload.RepoConfigurationData) *WriteRepositoriesTask {
	return &WriteRepositoriesTask{sysroot: sysroot, reposDir: reposDir, repos: repos}
}

func (t *WriteRepositoriesTask) Name() string {
	return "Write repository files"
}

func (t *WriteRepositoriesTask) Run(ctx context.Context, r task.Reporter) (interface{}, error) {
	dir := filepath.Join(t.sysroot, t.reposDir)
	var written []string
	for _, repo := range t.repos {
		if !repo.InstallationEnabled {
			continue
		}
		path, err := repofile.Write(dir, repo)
		if err != nil {
			return nil, installerrors.Wrap(installerrors.ErrorInstallation, err, "cannot write the repository %s", repo.Name)
		}
		logrus.Infof("wrote %s with %s", path, common.RedactURL(repo.URL))
		written = append(written, path)
	}
	return written, nil
}

// UpdateDNFConfigTask stores the packages configuration in the dnf
// configuration of the installed system.
type UpdateDNFConfigTask struct {
	sysroot string
	path    string
	config  payload.PackagesConfigurationData
}

func NewUpdateDNFConfigTask(sysroot, path string, config payload.PackagesConfigurationData) *UpdateDNFConfigTask {
	return &UpdateDNFConfigTask{sysroot: sysroot, path: path, config: config}
}

func (t *UpdateDNFConfigTask) Name() string {
	return "Update DNF configuration"
}

func (t *UpdateDNFConfigTask) options() map[string]string {
	options := map[string]string{}
	if t.config.MultilibPolicy != "" && t.config.MultilibPolicy != "best" {
		options["multilib_policy"] = t.config.MultilibPolicy
	}
	if t.config.WeakdepsExcluded {
		options["install_weak_deps"] = "False"
	}
	if t.config.DocsExcluded {
		options["tsflags"] = "nodocs"
	}
	return options
}

func (t *UpdateDNFConfigTask) Run(ctx context.Context, r task.Reporter) (interface{}, error) {
	options := t.options()
	if len(options) == 0 {
		return nil, nil
	}
	path := filepath.Join(t.sysroot, t.path)
	if err := repofile.SetOptions(path, options); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorNonCritical, err, "cannot update %s", path)
	}
	return nil, nil
}

// CleanUpDownloadLocationTask removes the downloaded packages.
type CleanUpDownloadLocationTask struct {
	backend payload.Backend
}

func NewCleanUpDownloadLocationTask(backend payload.Backend) *CleanUpDownloadLocationTask {
	return &CleanUpDownloadLocationTask{backend: backend}
}

func (t *CleanUpDownloadLocationTask) Name() string {
	return "Remove downloaded packages"
}

func (t *CleanUpDownloadLocationTask) Run(ctx context.Context, r task.Reporter) (interface{}, error) {
	if err := t.backend.ClearCache(); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorNonCritical, err, "cannot remove the downloaded packages")
	}
	return nil, nil
}
