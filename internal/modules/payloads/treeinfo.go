package payloads

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"
	"gopkg.in/ini.v1"

	"github.com/osbuild/installer-core/internal/common"
	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/payload"
)

// treeinfoNames are tried in order when looking for the metadata of an
// installation tree.
var treeinfoNames = []string{".treeinfo", "treeinfo"}

// TreeInfoRepo is a repository declared by a treeinfo file.
type TreeInfoRepo struct {
	Name string
	// Path is relative to the root of the tree.
	Path string
	Type string
}

// TreeInfo is the metadata of an installation tree.
type TreeInfo struct {
	ReleaseName    string
	ReleaseVersion string
	Arch           string
	Repositories   []TreeInfoRepo
}

// ParseTreeInfo reads treeinfo content in both the productmd format with
// variant sections and the legacy format with a single repository.
func ParseTreeInfo(content []byte) (*TreeInfo, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, content)
	if err != nil {
		return nil, err
	}

	ti := &TreeInfo{}
	release := cfg.Section("release")
	general := cfg.Section("general")
	ti.ReleaseName = release.Key("name").MustString(general.Key("family").String())
	ti.ReleaseVersion = release.Key("version").MustString(general.Key("version").String())
	ti.Arch = cfg.Section("tree").Key("arch").MustString(general.Key("arch").String())

	variants := cfg.Section("tree").Key("variants").Strings(",")
	for _, id := range variants {
		section, err := cfg.GetSection("variant-" + id)
		if err != nil {
			return nil, fmt.Errorf("variant %s is listed but not defined", id)
		}
		repoPath := section.Key("repository").String()
		if repoPath == "" {
			continue
		}
		ti.Repositories = append(ti.Repositories, TreeInfoRepo{
			Name: section.Key("name").MustString(id),
			Path: repoPath,
			Type: section.Key("type").MustString("variant"),
		})
	}
	if len(variants) == 0 {
		if repoPath := general.Key("repository").String(); repoPath != "" {
			ti.Repositories = append(ti.Repositories, TreeInfoRepo{Name: ti.ReleaseName, Path: repoPath, Type: "variant"})
		}
	}
	if ti.ReleaseVersion == "" {
		return nil, fmt.Errorf("treeinfo has no release version")
	}
	return ti, nil
}

// MainRepo returns the repository the base source points at: the one at
// the root of the tree, then BaseOS, then the first one.
func (ti *TreeInfo) MainRepo() (TreeInfoRepo, bool) {
	if len(ti.Repositories) == 0 {
		return TreeInfoRepo{}, false
	}
	for _, r := range ti.Repositories {
		if path.Clean(r.Path) == "." {
			return r, true
		}
	}
	for _, r := range ti.Repositories {
		if r.Name == "BaseOS" {
			return r, true
		}
	}
	return ti.Repositories[0], true
}

// ReleaseVer is the $releasever of the tree: the major version for
// versions like 9.4.
func (ti *TreeInfo) ReleaseVer() string {
	major, _, _ := strings.Cut(ti.ReleaseVersion, ".")
	return major
}

// joinURL appends a relative repository path to the URL of a tree.
func joinURL(base, rel string) string {
	u, err := url.Parse(base)
	if err != nil {
		return strings.TrimSuffix(base, "/") + "/" + rel
	}
	u.Path = path.Join(u.Path, rel)
	return u.String()
}

// TreeInfoRepositories turns the repositories of the tree at baseURL into
// repository configurations. The main one is returned separately.
func (ti *TreeInfo) TreeInfoRepositories(baseURL string, base payload.RepoConfigurationData) (main payload.RepoConfigurationData, additional []payload.RepoConfigurationData) {
	mainRepo, ok := ti.MainRepo()
	main = base
	if !ok {
		return main, nil
	}
	main.URL = joinURL(baseURL, mainRepo.Path)
	for _, r := range ti.Repositories {
		if r == mainRepo {
			continue
		}
		repo := payload.NewRepoConfiguration(r.Name, joinURL(baseURL, r.Path))
		repo.Origin = payload.OriginTreeinfo
		repo.Proxy = base.Proxy
		repo.SSLVerificationEnabled = base.SSLVerificationEnabled
		repo.SSLConfiguration = base.SSLConfiguration
		repo.Enabled = r.Type == "variant"
		additional = append(additional, repo)
	}
	return main, additional
}

// treeInfoLoader fetches the treeinfo of a tree over http(s) or from a
// local directory.
type treeInfoLoader struct {
	client *retryablehttp.Client
}

// newTreeInfoLoader returns a loader reaching the tree with the proxy and
// SSL settings of its base repository.
func newTreeInfoLoader(config payload.BaseConfig, base payload.RepoConfigurationData) (*treeInfoLoader, error) {
	client, err := base.HTTPClient("treeinfo", config)
	if err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorSourceSetup, err, "cannot set up the source")
	}
	return &treeInfoLoader{client: client}, nil
}

// Load returns nil and no error when the tree has no treeinfo.
func (l *treeInfoLoader) Load(ctx context.Context, baseURL string) (*TreeInfo, error) {
	for _, name := range treeinfoNames {
		content, err := l.fetch(ctx, joinURL(baseURL, name))
		if err != nil {
			return nil, err
		}
		if content == nil {
			continue
		}
		ti, err := ParseTreeInfo(content)
		if err != nil {
			return nil, installerrors.Wrap(installerrors.ErrorSourceSetup, err, "invalid treeinfo in %s", common.RedactURL(baseURL))
		}
		logrus.Infof("loaded treeinfo of %s %s from %s", ti.ReleaseName, ti.ReleaseVersion, common.RedactURL(baseURL))
		return ti, nil
	}
	logrus.Debugf("no treeinfo found in %s", common.RedactURL(baseURL))
	return nil, nil
}

func (l *treeInfoLoader) fetch(ctx context.Context, location string) ([]byte, error) {
	u, err := url.Parse(location)
	if err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorSourceSetup, err, "invalid source URL")
	}
	switch u.Scheme {
	case "file", "":
		content, err := os.ReadFile(u.Path)
		if os.IsNotExist(err) {
			return nil, nil
		}
		if err != nil {
			return nil, installerrors.Wrap(installerrors.ErrorSourceSetup, err, "")
		}
		return content, nil
	case "http", "https":
	default:
		return nil, installerrors.SourceSetup("cannot fetch %s: unsupported scheme %q", common.RedactURL(location), u.Scheme)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorSourceSetup, err, "invalid source URL")
	}
	resp, err := l.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, installerrors.SourceSetup("cannot fetch %s: %s", common.RedactURL(location), common.RedactURLs(err.Error()))
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, installerrors.SourceSetup("cannot fetch %s: %s", common.RedactURL(location), resp.Status)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, installerrors.Wrap(installerrors.ErrorSourceSetup, err, "cannot read %s", common.RedactURL(location))
	}
	return content, nil
}
