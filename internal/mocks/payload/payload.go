// payload_mock provides an in-memory payload backend.
package payload_mock

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/payload"
	"github.com/osbuild/installer-core/internal/repofile"
	"github.com/osbuild/installer-core/internal/validation"
)

// PackageSize is the download and installation size of every fake package.
const PackageSize = 1000

// Backend resolves a selection against a fixed list of available
// packages, groups and environments.
type Backend struct {
	mu       sync.Mutex
	inflight payload.InFlight

	Config payload.BaseConfig

	Available    []string
	AvailGroups  []payload.GroupData
	Envs         []payload.EnvironmentData
	DefaultEnv   string
	RepomdHashes map[string]string

	// Errors makes the named operation fail, for example "install".
	Errors map[string]error
	// Gate, when set, blocks downloads and installations until it is
	// closed or the context is cancelled.
	Gate chan struct{}

	repos       []payload.RepoConfigurationData
	systemRepos []payload.RepoConfigurationData
	include     []string
	exclude     []string
	resolved    []string
	location    string
	macros      map[string]string
	keys        []string
	loaded      map[string]string

	Downloaded []string
	Installed  []string
	Cleared    int
}

var _ payload.Backend = (*Backend)(nil)

// NewBackend returns a backend offering the given packages, the core group
// and one default environment.
func NewBackend(available ...string) *Backend {
	return &Backend{
		Config:    payload.BaseConfig{Packages: payload.NewPackagesConfiguration()},
		Available: available,
		AvailGroups: []payload.GroupData{
			{ID: "core", Name: "Core"},
			{ID: "standard", Name: "Standard"},
		},
		Envs: []payload.EnvironmentData{
			{ID: "minimal-environment", Name: "Minimal Install", DefaultGroups: []string{"core"}, OptionalGroups: []string{"standard"}},
		},
		DefaultEnv: "minimal-environment",
		Errors:     map[string]error{},
		macros:     map[string]string{},
	}
}

func (b *Backend) fail(op string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Errors[op]
}

func (b *Backend) ConfigureBase(config payload.BaseConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Config = config
	b.resolved = nil
	return nil
}

func (b *Backend) ConfigureProxy(url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Config.Proxy = url
	return nil
}

func (b *Backend) Substitute(s string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return payload.Substitute(s, map[string]string{
		"releasever": b.Config.ReleaseVer,
		"basearch":   b.Config.Arch,
		"arch":       b.Config.Arch,
	})
}

func (b *Backend) index(id string) int {
	for i, r := range b.repos {
		if r.ID() == id {
			return i
		}
	}
	return -1
}

func (b *Backend) AddRepository(r payload.RepoConfigurationData) error {
	if err := payload.ValidateRepository(r); err != nil {
		return installerrors.Wrap(installerrors.ErrorSourceSetup, err, "")
	}
	if err := b.fail("add-repository"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if i := b.index(r.ID()); i >= 0 {
		b.repos[i] = r
	} else {
		b.repos = append(b.repos, r)
	}
	b.resolved = nil
	return nil
}

func (b *Backend) RemoveRepository(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.index(id)
	if i < 0 {
		return installerrors.InvalidRequest("unknown repository %q", id)
	}
	b.repos = append(b.repos[:i], b.repos[i+1:]...)
	return nil
}

func (b *Backend) setEnabled(id string, enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.index(id)
	if i < 0 {
		return installerrors.InvalidRequest("unknown repository %q", id)
	}
	b.repos[i].Enabled = enabled
	return nil
}

func (b *Backend) EnableRepository(id string) error  { return b.setEnabled(id, true) }
func (b *Backend) DisableRepository(id string) error { return b.setEnabled(id, false) }

func (b *Backend) Repositories() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ids []string
	for _, r := range b.repos {
		ids = append(ids, r.ID())
	}
	return ids
}

func (b *Backend) EnabledRepositories() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var ids []string
	for _, r := range b.repos {
		if r.Enabled {
			ids = append(ids, r.ID())
		}
	}
	return ids
}

func (b *Backend) Repository(id string) (payload.RepoConfigurationData, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i := b.index(id); i >= 0 {
		return b.repos[i], true
	}
	return payload.RepoConfigurationData{}, false
}

func (b *Backend) ReadSystemRepositories(dir string) error {
	repos, err := repofile.ReadDir(dir)
	if err != nil {
		return installerrors.Wrap(installerrors.ErrorSourceSetup, err, "failed to read system repositories")
	}
	b.mu.Lock()
	b.systemRepos = repos
	b.mu.Unlock()
	for _, r := range repos {
		if err := b.AddRepository(r); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) RestoreSystemRepositories() error {
	b.mu.Lock()
	repos := append([]payload.RepoConfigurationData(nil), b.systemRepos...)
	b.mu.Unlock()
	for _, r := range repos {
		if err := b.AddRepository(r); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) ApplySpecs(include, exclude []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.include = append(b.include, include...)
	b.exclude = append(b.exclude, exclude...)
	b.resolved = nil
}

func (b *Backend) ClearSelection() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.include = nil
	b.exclude = nil
	b.resolved = nil
}

// Specs returns the applied include and exclude specs.
func (b *Backend) Specs() ([]string, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.include...), append([]string(nil), b.exclude...)
}

func (b *Backend) known(spec string) bool {
	switch {
	case strings.HasPrefix(spec, "@^"):
		for _, e := range b.Envs {
			if e.ID == spec[2:] {
				return true
			}
		}
	case strings.HasPrefix(spec, "@"):
		for _, g := range b.AvailGroups {
			if g.ID == spec[1:] {
				return true
			}
		}
	default:
		for _, p := range b.Available {
			if p == spec {
				return true
			}
		}
	}
	return false
}

func (b *Backend) ResolveSelection(ctx context.Context) (*validation.Report, error) {
	if err := b.fail("resolve"); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	excluded := map[string]bool{}
	for _, e := range b.exclude {
		excluded[e] = true
	}
	report := &validation.Report{}
	resolved := []string{}
	for _, spec := range b.include {
		if excluded[spec] {
			continue
		}
		if !b.known(spec) {
			if b.Config.Packages.MissingIgnored {
				report.AddWarning("No match for argument: %s", spec)
				continue
			}
			report.AddError("No match for argument: %s", spec)
			continue
		}
		if !strings.HasPrefix(spec, "@") {
			resolved = append(resolved, spec)
		}
	}
	if report.IsValid() {
		b.resolved = resolved
	}
	return report, nil
}

func (b *Backend) wait(ctx context.Context) error {
	b.mu.Lock()
	gate := b.Gate
	b.mu.Unlock()
	if gate == nil {
		return nil
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *Backend) DownloadPackages(ctx context.Context, progress payload.ProgressFunc) error {
	done, err := b.inflight.Begin("download")
	if err != nil {
		return err
	}
	defer done()

	b.mu.Lock()
	pkgs, location := b.resolved, b.location
	b.mu.Unlock()
	if pkgs == nil {
		return installerrors.State("cannot download packages: the selection is not resolved")
	}
	if location == "" {
		return installerrors.State("cannot download packages: no download location is set")
	}
	if err := b.wait(ctx); err != nil {
		return err
	}
	if err := b.fail("download"); err != nil {
		return err
	}
	for i, p := range pkgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if progress != nil {
			progress(fmt.Sprintf("Downloading %d of %d: %s", i+1, len(pkgs), p))
		}
		if err := os.WriteFile(location+"/"+p+".rpm", nil, 0600); err != nil {
			return err
		}
	}
	b.mu.Lock()
	b.Downloaded = append(b.Downloaded, pkgs...)
	b.mu.Unlock()
	return nil
}

func (b *Backend) InstallPackages(ctx context.Context, progress payload.ProgressFunc) error {
	done, err := b.inflight.Begin("install")
	if err != nil {
		return err
	}
	defer done()

	b.mu.Lock()
	pkgs := b.resolved
	b.mu.Unlock()
	if pkgs == nil {
		return installerrors.State("cannot install packages: the selection is not resolved")
	}
	if err := b.wait(ctx); err != nil {
		return err
	}
	if err := b.fail("install"); err != nil {
		return err
	}
	for _, p := range pkgs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if progress != nil {
			progress("Installing " + p)
		}
	}
	b.mu.Lock()
	b.Installed = append(b.Installed, pkgs...)
	b.mu.Unlock()
	return nil
}

func (b *Backend) SetRPMMacros(macros map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, v := range macros {
		if v == "" {
			delete(b.macros, k)
			continue
		}
		b.macros[k] = v
	}
	return nil
}

// RPMMacros returns a copy of the configured macros.
func (b *Backend) RPMMacros() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := make(map[string]string, len(b.macros))
	for k, v := range b.macros {
		m[k] = v
	}
	return m
}

func (b *Backend) ImportKeys(ctx context.Context, keys []string) error {
	if err := b.fail("import-keys"); err != nil {
		return installerrors.Wrap(installerrors.ErrorNonCritical, err, "failed to import GPG keys")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.keys = append(b.keys, keys...)
	return nil
}

// Keys returns the imported keys.
func (b *Backend) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.keys...)
}

func (b *Backend) size() (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.resolved == nil {
		return 0, installerrors.NotReady("the selection is not resolved")
	}
	return uint64(len(b.resolved) * PackageSize), nil
}

func (b *Backend) InstallationSize(ctx context.Context) (uint64, error) { return b.size() }
func (b *Backend) DownloadSize(ctx context.Context) (uint64, error)     { return b.size() }

func (b *Backend) Groups(ctx context.Context) ([]string, error) {
	var ids []string
	for _, g := range b.AvailGroups {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

func (b *Backend) Environments(ctx context.Context) ([]string, error) {
	var ids []string
	for _, e := range b.Envs {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func (b *Backend) GroupData(ctx context.Context, id string) (payload.GroupData, error) {
	for _, g := range b.AvailGroups {
		if g.ID == id {
			return g, nil
		}
	}
	return payload.GroupData{}, installerrors.InvalidRequest("unknown group %q", id)
}

func (b *Backend) EnvironmentData(ctx context.Context, id string) (payload.EnvironmentData, error) {
	for _, e := range b.Envs {
		if e.ID == id {
			return e, nil
		}
	}
	return payload.EnvironmentData{}, installerrors.InvalidRequest("unknown environment %q", id)
}

func (b *Backend) DefaultEnvironment(ctx context.Context) (string, error) {
	return b.DefaultEnv, nil
}

func (b *Backend) SetDownloadLocation(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.location = path
	return nil
}

func (b *Backend) DownloadLocation() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.location
}

func (b *Backend) ClearCache() error {
	b.mu.Lock()
	location := b.location
	b.Cleared++
	b.mu.Unlock()
	if location == "" {
		return nil
	}
	entries, err := os.ReadDir(location)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(location + "/" + e.Name()); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) ResetBase() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.repos = nil
	b.include = nil
	b.exclude = nil
	b.resolved = nil
	b.loaded = nil
}

func (b *Backend) LoadRepomdHashes(ctx context.Context) error {
	if err := b.fail("load-repomd"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loaded = map[string]string{}
	for k, v := range b.RepomdHashes {
		b.loaded[k] = v
	}
	return nil
}

func (b *Backend) VerifyRepomdHashes(ctx context.Context) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.loaded) == 0 || len(b.loaded) != len(b.RepomdHashes) {
		return false
	}
	for k, v := range b.loaded {
		if b.RepomdHashes[k] != v {
			return false
		}
	}
	return true
}

func (b *Backend) MatchAvailablePackages(ctx context.Context, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorInvalidRequest, err, "invalid pattern %q", pattern)
	}
	var matches []string
	for _, p := range b.Available {
		if g.Match(p) {
			matches = append(matches, p)
		}
	}
	sort.Strings(matches)
	return matches, nil
}
