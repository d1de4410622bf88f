// Package payloads is the module owning the software installed on the
// target system: the installation source, the repositories and the
// packages selection.
package payloads

import (
	"context"

	"github.com/osbuild/installer-core/internal/bus"
	"github.com/osbuild/installer-core/internal/common"
	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/kickstart"
	"github.com/osbuild/installer-core/internal/module"
	"github.com/osbuild/installer-core/internal/payload"
	"github.com/osbuild/installer-core/internal/requirement"
	"github.com/osbuild/installer-core/internal/structure"
	"github.com/osbuild/installer-core/internal/task"
	"github.com/osbuild/installer-core/internal/validation"
)

const Name = "Payloads"

type Module struct {
	module.Base

	env     *module.Env
	backend payload.Backend

	source        SourceData
	repositories  []payload.RepoConfigurationData
	selection     payload.PackagesSelectionData
	packages      payload.PackagesConfigurationData
	treeinfoRepos []payload.RepoConfigurationData

	// requirements are applied to the selection when it is resolved.
	requirements requirement.Source
}

func New(env *module.Env, backend payload.Backend) *Module {
	m := &Module{
		Base:     module.NewBase(Name, "url", "repo", "%packages"),
		env:      env,
		backend:  backend,
		source:   NewSource(),
		packages: payload.NewPackagesConfiguration(),
	}
	m.selection.SetDefaults()

	if f := env.Flags; f != nil {
		if f.Repo != "" {
			if s, ok := sourceFromBootRepo(f.Repo); ok {
				m.source = s
			}
		}
		if f.Proxy != "" {
			m.source.Proxy = f.Proxy
		}
		if f.NoVerifySSL {
			m.source.SSLVerificationEnabled = false
		}
	}
	return m
}

// SetRequirementsSource sets where the requirements of the other modules
// come from.
func (m *Module) SetRequirementsSource(s requirement.Source) {
	m.requirements = s
}

func (m *Module) Backend() payload.Backend {
	return m.backend
}

func (m *Module) Source() SourceData {
	return structure.Clone(m.source)
}

func (m *Module) SetSource(s SourceData) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.source = structure.Clone(s)
	m.Logger().Infof("source is set to %s %s", s.Type, common.RedactURL(s.URL))
	m.PropertyChanged("Source")
	return nil
}

// Repositories are the additional repositories configured by the user.
func (m *Module) Repositories() []payload.RepoConfigurationData {
	return structure.Clone(m.repositories)
}

func (m *Module) SetRepositories(repos []payload.RepoConfigurationData) error {
	seen := map[string]bool{}
	for _, r := range repos {
		if err := payload.ValidateRepository(r); err != nil {
			return installerrors.Wrap(installerrors.ErrorInvalidRequest, err, "")
		}
		if r.Name == BaseRepoName {
			return installerrors.InvalidRequest("the repository name %q is reserved", BaseRepoName)
		}
		if seen[r.Name] {
			return installerrors.InvalidRequest("the repository %q is configured twice", r.Name)
		}
		seen[r.Name] = true
	}
	m.repositories = structure.Clone(repos)
	m.PropertyChanged("Repositories")
	return nil
}

// TreeInfoRepositories are the repositories found in the treeinfo of the
// last set up source.
func (m *Module) TreeInfoRepositories() []payload.RepoConfigurationData {
	return structure.Clone(m.treeinfoRepos)
}

func (m *Module) setTreeInfoRepositories(repos []payload.RepoConfigurationData) {
	m.treeinfoRepos = repos
	m.PropertyChanged("TreeInfoRepositories")
}

func (m *Module) PackagesSelection() payload.PackagesSelectionData {
	return structure.Clone(m.selection)
}

func (m *Module) SetPackagesSelection(s payload.PackagesSelectionData) {
	m.selection = structure.Clone(s)
	m.PropertyChanged("PackagesSelection")
}

func (m *Module) PackagesConfiguration() payload.PackagesConfigurationData {
	return m.packages
}

func (m *Module) SetPackagesConfiguration(c payload.PackagesConfigurationData) error {
	switch c.MultilibPolicy {
	case "best", "all":
	default:
		return installerrors.InvalidRequest("invalid multilib policy %q", c.MultilibPolicy)
	}
	if c.Languages == "" {
		return installerrors.InvalidRequest("the languages to install are not set")
	}
	m.packages = c
	m.PropertyChanged("PackagesConfiguration")
	return nil
}

func (m *Module) ProcessKickstart(data *kickstart.Data) error {
	if data.URL != nil {
		if err := m.SetSource(sourceFromKickstart(data.URL)); err != nil {
			return err
		}
	}
	if len(data.Repos) > 0 {
		repos := make([]payload.RepoConfigurationData, 0, len(data.Repos))
		for _, r := range data.Repos {
			repos = append(repos, repoFromKickstart(r))
		}
		if err := m.SetRepositories(repos); err != nil {
			return err
		}
	}
	if data.Packages != nil {
		sel, conf := packagesFromKickstart(data.Packages)
		m.SetPackagesSelection(sel)
		if err := m.SetPackagesConfiguration(conf); err != nil {
			return err
		}
	}
	return nil
}

func (m *Module) SetupKickstart(data *kickstart.Data) {
	data.URL = m.source.kickstart()
	data.Repos = nil
	for _, r := range m.repositories {
		data.Repos = append(data.Repos, repoToKickstart(r))
	}
	data.Packages = packagesToKickstart(m.selection, m.packages)
}

// CollectRequirements returns nothing, the payload installs the
// requirements of the others.
func (m *Module) CollectRequirements() []requirement.Requirement {
	return nil
}

// baseConfig is the backend configuration for the current state.
func (m *Module) baseConfig() payload.BaseConfig {
	conf := m.env.Config().Payload
	return payload.BaseConfig{
		Arch:       common.CurrentArch(),
		ReleaseVer: conf.ReleaseVer,
		CacheDir:   conf.CacheDir,
		Proxy:      m.source.Proxy,
		Packages:   m.packages,
		Retries:    conf.Retries,
		Timeout:    int(conf.Timeout.Seconds()),
	}
}

func (m *Module) collectRequirements() []requirement.Requirement {
	if m.requirements == nil {
		return nil
	}
	return m.requirements.CollectRequirements()
}

// SetUpSourcesWithTask returns the task setting up the source and the
// repositories in the backend.
func (m *Module) SetUpSourcesWithTask() task.Task {
	t := NewSetUpSourcesTask(m.backend, m.baseConfig(), m.Source(), m.Repositories(), m.env.Config().Payload.SystemReposDir)
	t.OnResult = func(res *SourceSetupResult) {
		m.env.Loop.Post(func() {
			m.setTreeInfoRepositories(res.TreeInfoRepositories)
		})
	}
	return t
}

func (m *Module) TearDownSourcesWithTask() task.Task {
	return NewTearDownSourcesTask(m.backend)
}

// ValidatePackagesSelectionWithTask resolves the selection together with
// the requirements and reports the problems.
func (m *Module) ValidatePackagesSelectionWithTask() *task.ValidationTask {
	resolve := NewResolveSelectionTask(m.backend, m.PackagesSelection(), m.collectRequirements(), m.env.Config().Payload.IgnoredPackages)
	return task.NewValidationTask("Validate the packages selection", func(ctx context.Context) (*validation.Report, error) {
		return resolve.resolve(ctx)
	})
}

func (m *Module) InstallWithTasks() []task.Task {
	conf := m.env.Config().Payload
	sysroot := m.env.Sysroot()
	return []task.Task{
		m.SetUpSourcesWithTask(),
		NewSetRPMMacrosTask(m.backend, m.packages),
		NewImportKeysTask(m.backend, conf.GPGKeys),
		NewResolveSelectionTask(m.backend, m.PackagesSelection(), m.collectRequirements(), conf.IgnoredPackages),
		NewPrepareDownloadLocationTask(m.backend, conf.DownloadLocations),
		NewDownloadPackagesTask(m.backend),
		NewInstallPackagesTask(m.backend),
		NewWriteRepositoriesTask(sysroot, conf.ReposDir, m.Repositories()),
		NewUpdateDNFConfigTask(sysroot, conf.DNFConfig, m.packages),
		task.Teardown(NewCleanUpDownloadLocationTask(m.backend)),
		task.Teardown(NewTearDownSourcesTask(m.backend)),
	}
}

func (m *Module) publishTask(t task.Task) string {
	return module.PublishTasks(m.env, m.Handle().Path(), []task.Task{t})[0]
}

func (m *Module) Publish(env *module.Env) {
	iface := &bus.Interface{
		Name: m.Interface(),
		Properties: []bus.Property{
			bus.ReadWrite("Source", m.Source, func(_ context.Context, v SourceData) error {
				return m.SetSource(v)
			}),
			bus.ReadWrite("Repositories", m.Repositories, func(_ context.Context, v []payload.RepoConfigurationData) error {
				return m.SetRepositories(v)
			}),
			bus.ReadWrite("PackagesSelection", m.PackagesSelection, func(_ context.Context, v payload.PackagesSelectionData) error {
				m.SetPackagesSelection(v)
				return nil
			}),
			bus.ReadWrite("PackagesConfiguration", m.PackagesConfiguration, func(_ context.Context, v payload.PackagesConfigurationData) error {
				return m.SetPackagesConfiguration(v)
			}),
			bus.ReadOnly("TreeInfoRepositories", m.TreeInfoRepositories),
		},
		Methods: []bus.Method{
			bus.Query("SetUpSourcesWithTask", func(context.Context) (string, error) {
				return m.publishTask(m.SetUpSourcesWithTask()), nil
			}),
			bus.Query("TearDownSourcesWithTask", func(context.Context) (string, error) {
				return m.publishTask(m.TearDownSourcesWithTask()), nil
			}),
			bus.Query("ValidatePackagesSelectionWithTask", func(context.Context) (string, error) {
				return m.publishTask(m.ValidatePackagesSelectionWithTask()), nil
			}),
			bus.Function("MatchAvailablePackages", "pattern", func(ctx context.Context, pattern string) ([]string, error) {
				return m.backend.MatchAvailablePackages(ctx, pattern)
			}),
		},
	}
	module.Publish(env, m, &m.Base, iface)
}
