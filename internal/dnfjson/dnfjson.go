// Package dnfjson is a payload backend that drives the dnf-json helper. The
// helper reads one JSON request on stdin and answers on stdout; long running
// commands stream one JSON progress object per line before the final
// answer.
//
// The Backend keeps the whole configuration (base settings, repositories,
// selection) on the Go side and sends it with every request, so the helper
// stays stateless.
package dnfjson

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/osbuild/installer-core/internal/common"
	"github.com/osbuild/installer-core/internal/payload"
)

// Backend implements payload.Backend on top of the dnf-json helper.
type Backend struct {
	mu sync.Mutex

	// Path to the dnf-json binary and optional args (default: "/usr/libexec/anaconda/dnf-json")
	dnfJsonCmd []string
	cache      *rpmCache
	inflight   payload.InFlight

	config      payload.BaseConfig
	repos       []payload.RepoConfigurationData
	systemRepos []payload.RepoConfigurationData

	include []string
	exclude []string
	// resolved is the outcome of the last successful depsolve, reset when
	// the selection or the repositories change.
	resolved *depsolveResult
	comps    *compsResult

	downloadLocation string
	macros           map[string]string
	repomdHashes     map[string]string
}

var _ payload.Backend = (*Backend)(nil)

// NewBackend returns a backend caching metadata in cacheDir.
func NewBackend(cacheDir string) *Backend {
	return &Backend{
		dnfJsonCmd: []string{"/usr/libexec/anaconda/dnf-json"},
		cache:      newRPMCache(cacheDir),
		config: payload.BaseConfig{
			CacheDir: cacheDir,
			Arch:     common.CurrentArch(),
			Retries:  10,
			Timeout:  30,
			Packages: payload.NewPackagesConfiguration(),
		},
		macros: map[string]string{},
	}
}

// SetDNFJSONPath sets the path to the dnf-json binary and optionally any command line arguments.
func (b *Backend) SetDNFJSONPath(cmd string, args ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dnfJsonCmd = append([]string{cmd}, args...)
}

// Request command and arguments for dnf-json
type Request struct {
	// Command is one of depsolve, dump, comps, download, install and
	// import-keys.
	Command string `json:"command"`

	// System architecture
	Arch string `json:"arch"`

	ReleaseVer string `json:"releasever,omitempty"`

	// Cache directory for the DNF metadata
	CacheDir string `json:"cachedir"`

	Proxy string `json:"proxy,omitempty"`

	// Arguments for the action defined by Command
	Arguments arguments `json:"arguments"`
}

type arguments struct {
	Repos            []repoConfig      `json:"repos,omitempty"`
	PackageSpecs     []string          `json:"package-specs,omitempty"`
	ExcludeSpecs     []string          `json:"exclude-specs,omitempty"`
	Packages         []PackageSpec     `json:"packages,omitempty"`
	DownloadLocation string            `json:"download-location,omitempty"`
	Macros           map[string]string `json:"macros,omitempty"`
	Keys             []string          `json:"keys,omitempty"`
	Options          options           `json:"options"`
}

type options struct {
	ExcludeDocs     bool   `json:"excludedocs"`
	ExcludeWeakdeps bool   `json:"exclude-weakdeps"`
	IgnoreMissing   bool   `json:"ignore-missing"`
	IgnoreBroken    bool   `json:"ignore-broken"`
	MultilibPolicy  string `json:"multilib-policy,omitempty"`
	Retries         int    `json:"retries"`
	Timeout         int    `json:"timeout"`
}

// Repository configuration as dnf-json expects it.
type repoConfig struct {
	ID            string   `json:"id"`
	Name          string   `json:"name,omitempty"`
	BaseURL       string   `json:"baseurl,omitempty"`
	Metalink      string   `json:"metalink,omitempty"`
	MirrorList    string   `json:"mirrorlist,omitempty"`
	Proxy         string   `json:"proxy,omitempty"`
	IgnoreSSL     bool     `json:"ignoressl"`
	SSLCACert     string   `json:"sslcacert,omitempty"`
	SSLClientKey  string   `json:"sslclientkey,omitempty"`
	SSLClientCert string   `json:"sslclientcert,omitempty"`
	Cost          int      `json:"cost,omitempty"`
	IncludePkgs   []string `json:"includepkgs,omitempty"`
	ExcludePkgs   []string `json:"excludepkgs,omitempty"`
}

// PackageSpec is a resolved package.
type PackageSpec struct {
	Name           string `json:"name"`
	Epoch          uint   `json:"epoch"`
	Version        string `json:"version,omitempty"`
	Release        string `json:"release,omitempty"`
	Arch           string `json:"arch,omitempty"`
	RepoID         string `json:"repo_id,omitempty"`
	RemoteLocation string `json:"remote_location,omitempty"`
	Checksum       string `json:"checksum,omitempty"`
	DownloadSize   uint64 `json:"download_size,omitempty"`
	InstallSize    uint64 `json:"install_size,omitempty"`
}

type depsolveResult struct {
	Packages []PackageSpec `json:"packages"`
	Warnings []string      `json:"warnings,omitempty"`
}

type dumpResult struct {
	Packages []string `json:"packages"`
}

type groupResult struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type environmentResult struct {
	groupResult
	DefaultGroups  []string `json:"default_groups"`
	OptionalGroups []string `json:"optional_groups"`
}

type compsResult struct {
	Groups             []groupResult       `json:"groups"`
	Environments       []environmentResult `json:"environments"`
	DefaultEnvironment string              `json:"default_environment"`
}

type streamLine struct {
	Progress string `json:"progress,omitempty"`
	Done     bool   `json:"done,omitempty"`
}

// dnf-json error structure
type Error struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
}

func (err Error) Error() string {
	return fmt.Sprintf("DNF error occurred: %s: %s", err.Kind, err.Reason)
}

// Kinds of errors that describe a broken selection rather than a broken
// helper.
var selectionErrorKinds = map[string]bool{
	"MarkingErrors":  true,
	"DepsolveError":  true,
	"MissingPackage": true,
}

// parseError parses the response from dnf-json into the Error type.
func parseError(data []byte) Error {
	var e Error
	if err := json.Unmarshal(data, &e); err != nil {
		// dumping the error into the Reason can get noisy, but it's good for troubleshooting
		return Error{
			Kind:   "InternalError",
			Reason: fmt.Sprintf("Failed to unmarshal dnf-json error output %q: %s", string(data), err.Error()),
		}
	}
	return e
}

func (b *Backend) command() ([]string, error) {
	if len(b.dnfJsonCmd) == 0 {
		return nil, fmt.Errorf("dnf-json command undefined")
	}
	return b.dnfJsonCmd, nil
}

// newRequest builds a request from the current configuration. The caller
// holds b.mu.
func (b *Backend) newRequest(command string) *Request {
	pc := b.config.Packages
	req := &Request{
		Command:    command,
		Arch:       b.config.Arch,
		ReleaseVer: b.config.ReleaseVer,
		CacheDir:   b.config.CacheDir,
		Proxy:      b.config.Proxy,
		Arguments: arguments{
			Options: options{
				ExcludeDocs:     pc.DocsExcluded,
				ExcludeWeakdeps: pc.WeakdepsExcluded,
				IgnoreMissing:   pc.MissingIgnored,
				IgnoreBroken:    pc.BrokenIgnored,
				MultilibPolicy:  pc.MultilibPolicy,
				Retries:         b.config.EffectiveRetries(),
				Timeout:         b.config.EffectiveTimeout(),
			},
		},
	}
	for _, r := range b.repos {
		if r.Enabled {
			req.Arguments.Repos = append(req.Arguments.Repos, b.toRepoConfig(r))
		}
	}
	return req
}

func (b *Backend) toRepoConfig(r payload.RepoConfigurationData) repoConfig {
	rc := repoConfig{
		ID:            r.ID(),
		Name:          r.Name,
		Proxy:         r.Proxy,
		IgnoreSSL:     !r.SSLVerificationEnabled,
		SSLCACert:     r.SSLConfiguration.CACertPath,
		SSLClientKey:  r.SSLConfiguration.ClientKeyPath,
		SSLClientCert: r.SSLConfiguration.ClientCertPath,
		Cost:          r.Cost,
		IncludePkgs:   r.IncludedPackages,
		ExcludePkgs:   r.ExcludedPackages,
	}
	url := b.substitute(r.URL)
	switch r.Type {
	case payload.URLTypeMirrorlist:
		rc.MirrorList = url
	case payload.URLTypeMetalink:
		rc.Metalink = url
	default:
		rc.BaseURL = url
	}
	return rc
}

// run sends req to the helper and returns its answer.
func run(ctx context.Context, dnfJsonCmd []string, req *Request) ([]byte, error) {
	cmd := exec.CommandContext(ctx, dnfJsonCmd[0], dnfJsonCmd[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}

	cmd.Stderr = os.Stderr
	stdout := new(bytes.Buffer)
	cmd.Stdout = stdout

	err = cmd.Start()
	if err != nil {
		return nil, err
	}

	err = json.NewEncoder(stdin).Encode(req)
	if err != nil {
		return nil, err
	}
	stdin.Close()

	err = cmd.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	output := stdout.Bytes()
	var runError *exec.ExitError
	if errors.As(err, &runError) && runError.ExitCode() != 0 {
		return nil, parseError(output)
	}
	if err != nil {
		return nil, err
	}
	return output, nil
}

// stream is run for commands that report progress. Every progress line is
// passed to progress with credentials stripped from URLs.
func stream(ctx context.Context, dnfJsonCmd []string, req *Request, progress payload.ProgressFunc) error {
	cmd := exec.CommandContext(ctx, dnfJsonCmd[0], dnfJsonCmd[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return err
	}
	err = json.NewEncoder(stdin).Encode(req)
	stdin.Close()
	if err != nil {
		_ = cmd.Wait()
		return err
	}

	var last []byte
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Bytes()
		var sl streamLine
		if err := json.Unmarshal(line, &sl); err == nil && sl.Progress != "" {
			if progress != nil {
				progress(common.RedactURLs(sl.Progress))
			}
			continue
		}
		last = append(last[:0], line...)
	}
	scanErr := scanner.Err()

	err = cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var runError *exec.ExitError
	if errors.As(err, &runError) && runError.ExitCode() != 0 {
		return parseError(last)
	}
	if err != nil {
		return err
	}
	if scanErr != nil {
		return scanErr
	}
	var sl streamLine
	if err := json.Unmarshal(last, &sl); err != nil || !sl.Done {
		return fmt.Errorf("dnf-json %s ended without a result", req.Command)
	}
	return nil
}

func (b *Backend) logger() *logrus.Entry {
	return logrus.WithField("component", "dnfjson")
}
