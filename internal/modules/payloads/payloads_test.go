package payloads_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/ini.v1"

	"github.com/osbuild/installer-core/internal/bootconf"
	"github.com/osbuild/installer-core/internal/bus"
	"github.com/osbuild/installer-core/internal/installerrors"
	payload_mock "github.com/osbuild/installer-core/internal/mocks/payload"
	"github.com/osbuild/installer-core/internal/module"
	"github.com/osbuild/installer-core/internal/module/moduletest"
	"github.com/osbuild/installer-core/internal/modules/payloads"
	"github.com/osbuild/installer-core/internal/payload"
	"github.com/osbuild/installer-core/internal/repofile"
	"github.com/osbuild/installer-core/internal/requirement"
	"github.com/osbuild/installer-core/internal/structure"
	"github.com/osbuild/installer-core/internal/task"
	"github.com/osbuild/installer-core/internal/test"
	"github.com/osbuild/installer-core/internal/validation"
)

const treeinfo = `[header]
type = productmd.treeinfo
version = 1.2

[release]
name = Fedora
short = Fedora
version = 9.4

[tree]
arch = x86_64
platforms = x86_64
variants = AppStream,BaseOS

[variant-AppStream]
id = AppStream
name = AppStream
packages = AppStream/Packages
repository = AppStream
type = variant
uid = AppStream

[variant-BaseOS]
id = BaseOS
name = BaseOS
packages = BaseOS/Packages
repository = BaseOS
type = variant
uid = BaseOS
`

const systemRepo = `[fedora]
name=Fedora $releasever - $basearch
metalink=https://mirrors.fedoraproject.org/metalink?repo=fedora-$releasever&arch=$basearch
enabled=1
`

func newModule(t *testing.T, conf *bootconf.Config, cmdline bootconf.Cmdline) (*payloads.Module, *payload_mock.Backend, *module.Env) {
	if conf == nil {
		conf = moduletest.NewConfig(t)
	}
	env := moduletest.NewEnv(t, conf, cmdline)
	backend := payload_mock.NewBackend("bash", "vim-enhanced", "langpacks-cs", "kernel")
	return payloads.New(env, backend), backend, env
}

func TestRPMMacros(t *testing.T) {
	tests := []struct {
		languages string
		macro     string
		set       bool
	}{
		{"en,es", "en,es", true},
		{payload.RpmLanguagesNone, "%{nil}", true},
		{payload.RpmLanguagesAll, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.languages, func(t *testing.T) {
			backend := payload_mock.NewBackend()
			conf := payload.NewPackagesConfiguration()
			conf.Languages = tt.languages

			_, err := moduletest.RunTask(payloads.NewSetRPMMacrosTask(backend, conf))
			require.NoError(t, err)

			macro, ok := backend.RPMMacros()["_install_langs"]
			assert.Equal(t, tt.set, ok)
			assert.Equal(t, tt.macro, macro)
		})
	}
}

func TestExcludeDocsMacro(t *testing.T) {
	conf := payload.NewPackagesConfiguration()
	conf.DocsExcluded = true
	macros := payloads.NewSetRPMMacrosTask(payload_mock.NewBackend(), conf).Macros()
	assert.Equal(t, "1", macros["_excludedocs"])
}

func TestSourceSetupWithTreeInfo(t *testing.T) {
	tree := t.TempDir()
	test.WriteFile(t, tree, ".treeinfo", treeinfo)

	m, backend, env := newModule(t, nil, nil)
	source := payloads.NewSource()
	source.Type = payloads.SourceURL
	source.URL = "file://" + tree
	require.NoError(t, m.SetSource(source))

	_, err := moduletest.RunTask(m.SetUpSourcesWithTask())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{payloads.BaseRepoName, "AppStream"}, backend.EnabledRepositories())
	assert.Equal(t, "9", backend.Config.ReleaseVer)

	base, ok := backend.Repository(payloads.BaseRepoName)
	require.True(t, ok)
	assert.Equal(t, "file://"+filepath.Join(tree, "BaseOS"), base.URL)

	var treeinfoRepos []payload.RepoConfigurationData
	moduletest.OnLoop(t, env, func() {
		treeinfoRepos = m.TreeInfoRepositories()
	})
	require.Len(t, treeinfoRepos, 1)
	assert.Equal(t, "AppStream", treeinfoRepos[0].Name)
	assert.Equal(t, payload.OriginTreeinfo, treeinfoRepos[0].Origin)
	assert.Equal(t, "file://"+filepath.Join(tree, "AppStream"), treeinfoRepos[0].URL)
}

func TestSourceSetupOverHTTP(t *testing.T) {
	var requested []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested = append(requested, r.URL.Path)
		if r.URL.Path != "/tree/treeinfo" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(treeinfo))
	}))
	defer srv.Close()

	backend := payload_mock.NewBackend()
	source := payloads.NewSource()
	source.Type = payloads.SourceURL
	source.URL = srv.URL + "/tree"
	config := payload.BaseConfig{Packages: payload.NewPackagesConfiguration(), Retries: 0, Timeout: 5}

	res, err := moduletest.RunTask(payloads.NewSetUpSourcesTask(backend, config, source, nil, t.TempDir()))
	require.NoError(t, err)

	assert.Equal(t, []string{"/tree/.treeinfo", "/tree/treeinfo"}, requested)
	assert.Equal(t, "9", res.(*payloads.SourceSetupResult).ReleaseVer)
	base, _ := backend.Repository(payloads.BaseRepoName)
	assert.Equal(t, srv.URL+"/tree/BaseOS", base.URL)
}

func TestSourceSetupOverHTTPS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tree/.treeinfo" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(treeinfo))
	}))
	defer srv.Close()
	caCert := test.WriteCertificate(t, t.TempDir(), "ca.pem", srv)

	tests := []struct {
		name    string
		verify  bool
		caCert  string
		wantErr bool
	}{
		{name: "verification disabled", verify: false},
		{name: "unknown authority", verify: true, wantErr: true},
		{name: "custom CA", verify: true, caCert: caCert},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := payload_mock.NewBackend()
			source := payloads.NewSource()
			source.Type = payloads.SourceURL
			source.URL = srv.URL + "/tree"
			source.SSLVerificationEnabled = tt.verify
			source.SSLConfiguration.CACertPath = tt.caCert
			config := payload.BaseConfig{Packages: payload.NewPackagesConfiguration(), Retries: 0, Timeout: 5}

			res, err := moduletest.RunTask(payloads.NewSetUpSourcesTask(backend, config, source, nil, t.TempDir()))
			if tt.wantErr {
				assert.True(t, installerrors.Is(err, installerrors.ErrorSourceSetup), "unexpected error: %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "9", res.(*payloads.SourceSetupResult).ReleaseVer)
			assert.ElementsMatch(t, []string{payloads.BaseRepoName, "AppStream"}, backend.EnabledRepositories())
		})
	}
}

func TestSourceSetupUnsupportedScheme(t *testing.T) {
	source := payloads.NewSource()
	source.Type = payloads.SourceURL
	source.URL = "ftp://example.com/tree"
	config := payload.BaseConfig{Packages: payload.NewPackagesConfiguration(), Retries: 0, Timeout: 5}

	_, err := moduletest.RunTask(payloads.NewSetUpSourcesTask(payload_mock.NewBackend(), config, source, nil, t.TempDir()))
	require.Error(t, err)
	assert.True(t, installerrors.Is(err, installerrors.ErrorSourceSetup))
	assert.Contains(t, err.Error(), `unsupported scheme "ftp"`)
}

func TestSourceSetupWithoutTreeInfo(t *testing.T) {
	m, backend, _ := newModule(t, nil, nil)
	source := payloads.NewSource()
	source.Type = payloads.SourceURL
	source.URL = "file://" + t.TempDir()
	require.NoError(t, m.SetSource(source))

	_, err := moduletest.RunTask(m.SetUpSourcesWithTask())
	require.NoError(t, err)

	base, ok := backend.Repository(payloads.BaseRepoName)
	require.True(t, ok)
	assert.Equal(t, source.URL, base.URL)
	assert.Equal(t, []string{payloads.BaseRepoName}, backend.EnabledRepositories())
}

func TestClosestMirror(t *testing.T) {
	conf := moduletest.NewConfig(t)
	test.WriteFile(t, conf.Payload.SystemReposDir, "fedora.repo", systemRepo)

	m, backend, _ := newModule(t, conf, nil)
	assert.Equal(t, payloads.SourceClosestMirror, m.Source().Type)

	extra := payload.NewRepoConfiguration("extra", "https://example.com/extra/$releasever")
	require.NoError(t, m.SetRepositories([]payload.RepoConfigurationData{extra}))

	_, err := moduletest.RunTask(m.SetUpSourcesWithTask())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"fedora", "extra"}, backend.EnabledRepositories())
}

func TestNoEnabledRepositories(t *testing.T) {
	m, _, _ := newModule(t, nil, nil)
	_, err := moduletest.RunTask(m.SetUpSourcesWithTask())
	require.Error(t, err)
	assert.Equal(t, installerrors.ErrorSourceSetup, installerrors.KindOf(err))
}

func TestBootOptions(t *testing.T) {
	m, _, _ := newModule(t, nil, bootconf.ParseCmdline("inst.repo=https://example.com/tree inst.proxy=http://proxy:3128 inst.noverifyssl"))
	source := m.Source()
	assert.Equal(t, payloads.SourceURL, source.Type)
	assert.Equal(t, "https://example.com/tree", source.URL)
	assert.Equal(t, "http://proxy:3128", source.Proxy)
	assert.False(t, source.SSLVerificationEnabled)

	m, _, _ = newModule(t, nil, bootconf.ParseCmdline("inst.repo=cdrom"))
	assert.Equal(t, payloads.SourceClosestMirror, m.Source().Type)
}

func TestSetRepositoriesValidation(t *testing.T) {
	m, _, _ := newModule(t, nil, nil)

	err := m.SetRepositories([]payload.RepoConfigurationData{payload.NewRepoConfiguration(payloads.BaseRepoName, "http://x")})
	assert.Equal(t, installerrors.ErrorInvalidRequest, installerrors.KindOf(err))

	r := payload.NewRepoConfiguration("a", "http://x")
	err = m.SetRepositories([]payload.RepoConfigurationData{r, r})
	assert.Equal(t, installerrors.ErrorInvalidRequest, installerrors.KindOf(err))

	err = m.SetRepositories([]payload.RepoConfigurationData{payload.NewRepoConfiguration("b", "")})
	assert.Error(t, err)
	assert.Empty(t, m.Repositories())
}

func TestResolveSelection(t *testing.T) {
	backend := payload_mock.NewBackend("bash", "vim-enhanced", "langpacks-cs", "open-vm-tools")
	sel := payload.PackagesSelectionData{}
	sel.SetDefaults()
	sel.DefaultEnvironmentEnabled = true
	sel.Groups = []string{"standard"}
	sel.Packages = []string{"bash", "vim-enhanced"}
	sel.ExcludedPackages = []string{"open-vm-tools"}

	reqs := []requirement.Requirement{
		requirement.Package("langpacks-cs", "L1"),
		requirement.Package("open-vm-tools", "P1"),
		requirement.Package("ignored-pkg", "I1"),
	}
	res, err := moduletest.RunTask(payloads.NewResolveSelectionTask(backend, sel, reqs, []string{"ignored-pkg"}))
	require.NoError(t, err)
	assert.True(t, res.(*validation.Report).IsValid())

	include, exclude := backend.Specs()
	assert.Equal(t, []string{"@^minimal-environment", "@core", "@standard", "bash", "vim-enhanced", "langpacks-cs"}, include)
	assert.Equal(t, []string{"open-vm-tools"}, exclude)
}

func TestResolveSelectionNoCore(t *testing.T) {
	backend := payload_mock.NewBackend("bash")
	sel := payload.PackagesSelectionData{CoreGroupEnabled: false, Packages: []string{"bash"}}

	_, err := moduletest.RunTask(payloads.NewResolveSelectionTask(backend, sel, nil, nil))
	require.NoError(t, err)
	include, exclude := backend.Specs()
	assert.Equal(t, []string{"bash"}, include)
	assert.Equal(t, []string{"@core"}, exclude)
}

func TestMissingPackages(t *testing.T) {
	sel := payload.PackagesSelectionData{}
	sel.SetDefaults()
	sel.Packages = []string{"no-such-package"}

	backend := payload_mock.NewBackend()
	_, err := moduletest.RunTask(payloads.NewResolveSelectionTask(backend, sel, nil, nil))
	require.Error(t, err)
	assert.Equal(t, installerrors.ErrorInstallation, installerrors.KindOf(err))
	assert.Contains(t, err.Error(), "no-such-package")

	backend = payload_mock.NewBackend()
	backend.Config.Packages.MissingIgnored = true
	res, err := moduletest.RunTask(payloads.NewResolveSelectionTask(backend, sel, nil, nil))
	require.NoError(t, err)
	assert.Equal(t, []string{"No match for argument: no-such-package"}, res.(*validation.Report).WarningMessages)
}

func TestValidatePackagesSelection(t *testing.T) {
	m, _, _ := newModule(t, nil, nil)
	sel := m.PackagesSelection()
	sel.Packages = []string{"missing"}
	m.SetPackagesSelection(sel)

	res, err := moduletest.RunTask(m.ValidatePackagesSelectionWithTask())
	require.NoError(t, err)
	report := res.(*validation.Report)
	assert.False(t, report.IsValid())
	assert.Equal(t, []string{"No match for argument: missing"}, report.ErrorMessages)
}

func TestRequirementsSource(t *testing.T) {
	m, backend, _ := newModule(t, nil, nil)
	m.SetRequirementsSource(requirement.SourceFunc(func() []requirement.Requirement {
		return []requirement.Requirement{requirement.Package("langpacks-cs", "L1")}
	}))

	_, err := moduletest.RunTask(m.ValidatePackagesSelectionWithTask())
	require.NoError(t, err)
	include, _ := backend.Specs()
	assert.Contains(t, include, "langpacks-cs")
}

func TestInstallWithTasks(t *testing.T) {
	m, _, _ := newModule(t, nil, nil)
	tasks := m.InstallWithTasks()

	var names []string
	var teardown []string
	for _, tk := range tasks {
		names = append(names, tk.Name())
		if task.IsTeardown(tk) {
			teardown = append(teardown, tk.Name())
		}
	}
	assert.Equal(t, []string{
		"Set up installation sources",
		"Set RPM macros",
		"Import GPG keys",
		"Resolve packages",
		"Prepare the package download",
		"Download packages",
		"Install packages",
		"Write repository files",
		"Update DNF configuration",
		"Remove downloaded packages",
		"Tear down installation sources",
	}, names)
	assert.Equal(t, []string{"Remove downloaded packages", "Tear down installation sources"}, teardown)
}

func TestInstallation(t *testing.T) {
	conf := moduletest.NewConfig(t)
	conf.Payload.ReleaseVer = "41"
	test.WriteFile(t, conf.Payload.SystemReposDir, "fedora.repo", systemRepo)

	m, backend, _ := newModule(t, conf, nil)
	report := module.ReadKickstart(m, `repo --name="updates" --baseurl="https://example.com/updates/$releasever" --install
%packages --excludedocs --exclude-weakdeps --multilib --instLangs=cs
bash
kernel
%end
`)
	require.True(t, report.IsValid(), report.ErrorMessages)

	require.NoError(t, moduletest.RunTasks(context.Background(), m.InstallWithTasks()))

	assert.ElementsMatch(t, []string{"bash", "kernel"}, backend.Installed)
	assert.Equal(t, "cs", backend.RPMMacros()["_install_langs"])
	assert.Equal(t, []string{"/etc/pki/rpm-gpg/RPM-GPG-KEY-fedora-41-" + backend.Config.Arch}, backend.Keys())
	assert.Equal(t, 1, backend.Cleared)
	assert.Empty(t, backend.Repositories())

	repos, err := repofile.Parse([]byte(test.ReadFile(t, conf.Installation.Sysroot, "etc/yum.repos.d/updates.repo")))
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "updates", repos[0].Name)
	assert.Equal(t, "https://example.com/updates/$releasever", repos[0].URL)

	dnfConf, err := ini.Load(filepath.Join(conf.Installation.Sysroot, "etc/dnf/dnf.conf"))
	require.NoError(t, err)
	main := dnfConf.Section("main")
	assert.Equal(t, "False", main.Key("install_weak_deps").String())
	assert.Equal(t, "all", main.Key("multilib_policy").String())
	assert.Equal(t, "nodocs", main.Key("tsflags").String())
}

func TestImportKeysIsNonCritical(t *testing.T) {
	backend := payload_mock.NewBackend()
	backend.Errors["import-keys"] = assert.AnError

	_, err := moduletest.RunTask(payloads.NewImportKeysTask(backend, []string{"/key"}))
	require.Error(t, err)
	assert.False(t, task.IsFatal(err))
}

func TestKickstart(t *testing.T) {
	m, _, _ := newModule(t, nil, nil)
	ks := `url --mirrorlist="https://mirrors.example.com/list" --proxy="http://proxy:3128"
repo --name="updates" --baseurl="https://example.com/updates" --cost=50 --excludepkgs="kernel*"
%packages --nocore --instLangs=
@^workstation-product-environment
@development-tools
httpd
-@games
-firefox
%end
`
	report := module.ReadKickstart(m, ks)
	require.True(t, report.IsValid(), report.ErrorMessages)
	assert.True(t, m.Kickstarted())

	source := m.Source()
	assert.Equal(t, payloads.SourceURL, source.Type)
	assert.Equal(t, payload.URLTypeMirrorlist, source.URLType)
	assert.Equal(t, "http://proxy:3128", source.Proxy)

	repos := m.Repositories()
	require.Len(t, repos, 1)
	assert.Equal(t, 50, repos[0].Cost)
	assert.Equal(t, []string{"kernel*"}, repos[0].ExcludedPackages)

	want := payload.PackagesSelectionData{
		Environment:      "workstation-product-environment",
		Groups:           []string{"development-tools"},
		Packages:         []string{"httpd"},
		ExcludedGroups:   []string{"games"},
		ExcludedPackages: []string{"firefox"},
	}
	if diff := cmp.Diff(want, m.PackagesSelection()); diff != "" {
		t.Errorf("selection mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, payload.RpmLanguagesNone, m.PackagesConfiguration().Languages)

	generated := module.GenerateKickstart(m)
	again, _, _ := newModule(t, nil, nil)
	require.True(t, module.ReadKickstart(again, generated).IsValid())
	assert.Equal(t, generated, module.GenerateKickstart(again))
	assert.Contains(t, generated, "--instLangs=")
}

func TestBusInterface(t *testing.T) {
	m, _, env := newModule(t, nil, nil)
	moduletest.OnLoop(t, env, func() { m.Publish(env) })

	path := bus.ModulePath(payloads.Name)
	iface := bus.ModuleInterface(payloads.Name)
	ctx := context.Background()

	source := payloads.NewSource()
	source.Type = payloads.SourceURL
	source.URL = "https://example.com/tree"
	v, err := structure.VariantOf(source)
	require.NoError(t, err)
	require.NoError(t, env.Registry.Set(ctx, path, iface, "Source", v))

	got, err := env.Registry.Get(ctx, path, iface, "Source")
	require.NoError(t, err)
	read, err := structure.FromVariant[payloads.SourceData](got)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/tree", read.URL)

	bad := payloads.NewSource()
	bad.Type = "NFS"
	v, err = structure.VariantOf(bad)
	require.NoError(t, err)
	err = env.Registry.Set(ctx, path, iface, "Source", v)
	assert.Equal(t, installerrors.ErrorInvalidRequest, installerrors.KindOf(err))

	out, err := env.Registry.Call(ctx, path, iface, "SetUpSourcesWithTask", nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	taskPath, err := structure.FromVariant[string](out[0])
	require.NoError(t, err)
	assert.Contains(t, taskPath, path)
}
