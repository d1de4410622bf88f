package dnfjson

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sort"

	"github.com/gobwas/glob"

	"github.com/osbuild/installer-core/internal/common"
	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/payload"
	"github.com/osbuild/installer-core/internal/repofile"
	"github.com/osbuild/installer-core/internal/validation"
)

func (b *Backend) ConfigureBase(config payload.BaseConfig) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if config.CacheDir == "" {
		config.CacheDir = b.config.CacheDir
	}
	if config.Arch == "" {
		config.Arch = b.config.Arch
	}
	b.config = config
	b.cache = newRPMCache(config.CacheDir)
	b.invalidate()
	return nil
}

func (b *Backend) ConfigureProxy(url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.config.Proxy = url
	b.invalidate()
	return nil
}

// Substitute expands $releasever, $basearch and $arch.
func (b *Backend) Substitute(s string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.substitute(s)
}

func (b *Backend) substitute(s string) string {
	return payload.Substitute(s, map[string]string{
		"releasever": b.config.ReleaseVer,
		"basearch":   b.config.Arch,
		"arch":       b.config.Arch,
	})
}

// invalidate drops everything derived from the configuration. The caller
// holds b.mu.
func (b *Backend) invalidate() {
	b.resolved = nil
	b.comps = nil
}

func (b *Backend) indexOf(id string) int {
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
	b.mu.Lock()
	defer b.mu.Unlock()
	if i := b.indexOf(r.ID()); i >= 0 {
		b.repos[i] = r
	} else {
		b.repos = append(b.repos, r)
	}
	b.invalidate()
	b.logger().WithField("repo", r.Name).Debugf("added repository %s", common.RedactURL(r.URL))
	return nil
}

func (b *Backend) RemoveRepository(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOf(id)
	if i < 0 {
		return installerrors.InvalidRequest("unknown repository %q", id)
	}
	b.repos = append(b.repos[:i], b.repos[i+1:]...)
	b.invalidate()
	return nil
}

func (b *Backend) setEnabled(id string, enabled bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.indexOf(id)
	if i < 0 {
		return installerrors.InvalidRequest("unknown repository %q", id)
	}
	if b.repos[i].Enabled != enabled {
		b.repos[i].Enabled = enabled
		b.invalidate()
	}
	return nil
}

func (b *Backend) EnableRepository(id string) error {
	return b.setEnabled(id, true)
}

func (b *Backend) DisableRepository(id string) error {
	return b.setEnabled(id, false)
}

func (b *Backend) Repositories() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.repos))
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
	if i := b.indexOf(id); i >= 0 {
		return b.repos[i], true
	}
	return payload.RepoConfigurationData{}, false
}

// ReadSystemRepositories loads the .repo files of dir and remembers them
// so that they can be restored later.
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

// RestoreSystemRepositories puts the system repositories back in their
// original state.
func (b *Backend) RestoreSystemRepositories() error {
	b.mu.Lock()
	repos := append([]payload.RepoConfigurationData(nil), b.systemRepos...)
	b.mu.Unlock()
	if len(repos) == 0 {
		return installerrors.State("there are no system repositories to restore")
	}
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

// ResolveSelection depsolves the selection. Problems of the selection end
// up in the report; a failing helper is an error.
func (b *Backend) ResolveSelection(ctx context.Context) (*validation.Report, error) {
	b.mu.Lock()
	cmd, err := b.command()
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	req := b.newRequest("depsolve")
	req.Arguments.PackageSpecs = append([]string(nil), b.include...)
	req.Arguments.ExcludeSpecs = append([]string(nil), b.exclude...)
	b.mu.Unlock()

	report := &validation.Report{}
	output, err := run(ctx, cmd, req)
	if err != nil {
		var dnfErr Error
		if errors.As(err, &dnfErr) && selectionErrorKinds[dnfErr.Kind] {
			report.AddError("%s", dnfErr.Reason)
			return report, nil
		}
		return nil, installerrors.Wrap(installerrors.ErrorInstallation, err, "failed to resolve the software selection")
	}

	var result depsolveResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorInstallation, err, "invalid depsolve result")
	}
	for _, w := range result.Warnings {
		report.AddWarning("%s", w)
	}

	b.mu.Lock()
	b.resolved = &result
	b.mu.Unlock()
	b.logger().Infof("resolved %d packages", len(result.Packages))
	return report, nil
}

func (b *Backend) resolvedPackages(op string) ([]PackageSpec, error) {
	if b.resolved == nil {
		return nil, installerrors.State("cannot %s: the selection is not resolved", op)
	}
	return b.resolved.Packages, nil
}

func (b *Backend) DownloadPackages(ctx context.Context, progress payload.ProgressFunc) error {
	done, err := b.inflight.Begin("download")
	if err != nil {
		return err
	}
	defer done()

	b.mu.Lock()
	cmd, err := b.command()
	if err != nil {
		b.mu.Unlock()
		return err
	}
	pkgs, err := b.resolvedPackages("download packages")
	if err != nil {
		b.mu.Unlock()
		return err
	}
	if b.downloadLocation == "" {
		b.mu.Unlock()
		return installerrors.State("cannot download packages: no download location is set")
	}
	req := b.newRequest("download")
	req.Arguments.Packages = pkgs
	req.Arguments.DownloadLocation = b.downloadLocation
	b.mu.Unlock()

	if err := stream(ctx, cmd, req, progress); err != nil {
		return b.wrapRunError(ctx, err, "failed to download packages")
	}
	return nil
}

func (b *Backend) InstallPackages(ctx context.Context, progress payload.ProgressFunc) error {
	done, err := b.inflight.Begin("install")
	if err != nil {
		return err
	}
	defer done()

	b.mu.Lock()
	cmd, err := b.command()
	if err != nil {
		b.mu.Unlock()
		return err
	}
	pkgs, err := b.resolvedPackages("install packages")
	if err != nil {
		b.mu.Unlock()
		return err
	}
	req := b.newRequest("install")
	req.Arguments.Packages = pkgs
	req.Arguments.DownloadLocation = b.downloadLocation
	req.Arguments.Macros = copyMap(b.macros)
	b.mu.Unlock()

	if err := stream(ctx, cmd, req, progress); err != nil {
		return b.wrapRunError(ctx, err, "failed to install packages")
	}
	return nil
}

func (b *Backend) wrapRunError(ctx context.Context, err error, msg string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return installerrors.Wrap(installerrors.ErrorInstallation, err, "%s", msg)
}

// SetRPMMacros sets macros used by the package installation. An empty value
// removes the macro.
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
	return copyMap(b.macros)
}

func (b *Backend) ImportKeys(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	b.mu.Lock()
	cmd, err := b.command()
	if err != nil {
		b.mu.Unlock()
		return err
	}
	req := b.newRequest("import-keys")
	req.Arguments.Keys = keys
	b.mu.Unlock()

	if _, err := run(ctx, cmd, req); err != nil {
		return installerrors.Wrap(installerrors.ErrorNonCritical, err, "failed to import GPG keys")
	}
	return nil
}

func (b *Backend) sizes(ctx context.Context) (download, install uint64, err error) {
	b.mu.Lock()
	resolved := b.resolved
	b.mu.Unlock()
	if resolved == nil {
		return 0, 0, installerrors.NotReady("the selection is not resolved")
	}
	for _, p := range resolved.Packages {
		download += p.DownloadSize
		install += p.InstallSize
	}
	return download, install, nil
}

func (b *Backend) InstallationSize(ctx context.Context) (uint64, error) {
	_, install, err := b.sizes(ctx)
	return install, err
}

func (b *Backend) DownloadSize(ctx context.Context) (uint64, error) {
	download, _, err := b.sizes(ctx)
	return download, err
}

func (b *Backend) loadComps(ctx context.Context) (*compsResult, error) {
	b.mu.Lock()
	if b.comps != nil {
		comps := b.comps
		b.mu.Unlock()
		return comps, nil
	}
	cmd, err := b.command()
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	req := b.newRequest("comps")
	b.mu.Unlock()

	output, err := run(ctx, cmd, req)
	if err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorSourceSetup, err, "failed to load groups")
	}
	var comps compsResult
	if err := json.Unmarshal(output, &comps); err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorSourceSetup, err, "invalid comps result")
	}

	b.mu.Lock()
	b.comps = &comps
	b.mu.Unlock()
	return &comps, nil
}

func (b *Backend) Groups(ctx context.Context) ([]string, error) {
	comps, err := b.loadComps(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(comps.Groups))
	for _, g := range comps.Groups {
		ids = append(ids, g.ID)
	}
	return ids, nil
}

func (b *Backend) Environments(ctx context.Context) ([]string, error) {
	comps, err := b.loadComps(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(comps.Environments))
	for _, e := range comps.Environments {
		ids = append(ids, e.ID)
	}
	return ids, nil
}

func (b *Backend) GroupData(ctx context.Context, id string) (payload.GroupData, error) {
	comps, err := b.loadComps(ctx)
	if err != nil {
		return payload.GroupData{}, err
	}
	for _, g := range comps.Groups {
		if g.ID == id {
			return payload.GroupData{ID: g.ID, Name: g.Name, Description: g.Description}, nil
		}
	}
	return payload.GroupData{}, installerrors.InvalidRequest("unknown group %q", id)
}

func (b *Backend) EnvironmentData(ctx context.Context, id string) (payload.EnvironmentData, error) {
	comps, err := b.loadComps(ctx)
	if err != nil {
		return payload.EnvironmentData{}, err
	}
	for _, e := range comps.Environments {
		if e.ID == id {
			return payload.EnvironmentData{
				ID:             e.ID,
				Name:           e.Name,
				Description:    e.Description,
				DefaultGroups:  e.DefaultGroups,
				OptionalGroups: e.OptionalGroups,
			}, nil
		}
	}
	return payload.EnvironmentData{}, installerrors.InvalidRequest("unknown environment %q", id)
}

// DefaultEnvironment returns the environment marked as default, or the
// first one.
func (b *Backend) DefaultEnvironment(ctx context.Context) (string, error) {
	comps, err := b.loadComps(ctx)
	if err != nil {
		return "", err
	}
	if comps.DefaultEnvironment != "" {
		return comps.DefaultEnvironment, nil
	}
	if len(comps.Environments) > 0 {
		return comps.Environments[0].ID, nil
	}
	return "", nil
}

func (b *Backend) SetDownloadLocation(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return installerrors.Wrap(installerrors.ErrorInstallation, err, "cannot use %s for downloads", path)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.downloadLocation = path
	return nil
}

func (b *Backend) DownloadLocation() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.downloadLocation
}

// ClearCache removes the metadata cache and the downloaded packages.
func (b *Backend) ClearCache() error {
	b.mu.Lock()
	cache := b.cache
	location := b.downloadLocation
	b.mu.Unlock()
	if err := cache.clear(); err != nil {
		return err
	}
	if location != "" {
		return removeContents(location)
	}
	return nil
}

// ResetBase forgets the repositories and the selection. The base
// configuration and the macros are kept.
func (b *Backend) ResetBase() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.repos = nil
	b.include = nil
	b.exclude = nil
	b.repomdHashes = nil
	b.invalidate()
}

// MatchAvailablePackages returns the sorted names of available packages
// matching a shell glob.
func (b *Backend) MatchAvailablePackages(ctx context.Context, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorInvalidRequest, err, "invalid pattern %q", pattern)
	}

	b.mu.Lock()
	cmd, err := b.command()
	if err != nil {
		b.mu.Unlock()
		return nil, err
	}
	req := b.newRequest("dump")
	b.mu.Unlock()

	output, err := run(ctx, cmd, req)
	if err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorSourceSetup, err, "failed to list packages")
	}
	var dump dumpResult
	if err := json.Unmarshal(output, &dump); err != nil {
		return nil, err
	}

	var matches []string
	seen := map[string]bool{}
	for _, name := range dump.Packages {
		if g.Match(name) && !seen[name] {
			seen[name] = true
			matches = append(matches, name)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
