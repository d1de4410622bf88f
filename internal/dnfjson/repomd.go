package dnfjson

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"

	"github.com/osbuild/installer-core/internal/common"
	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/payload"
)

// maxParallelFetches bounds concurrent repomd.xml downloads.
const maxParallelFetches = 4

// repomdSource is where the repomd.xml of a repository is fetched from.
type repomdSource struct {
	url    string
	client *retryablehttp.Client
}

// repomdSources returns the enabled base URL repositories with a client
// using the proxy and SSL settings of each.
func (b *Backend) repomdSources() (map[string]repomdSource, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sources := map[string]repomdSource{}
	for _, r := range b.repos {
		if !r.Enabled || r.Type != payload.URLTypeBaseURL {
			continue
		}
		client, err := r.HTTPClient("dnfjson", b.config)
		if err != nil {
			return nil, err
		}
		base := strings.TrimSuffix(b.substitute(r.URL), "/")
		sources[r.ID()] = repomdSource{url: base + "/repodata/repomd.xml", client: client}
	}
	return sources, nil
}

func (b *Backend) fetchRepomdHashes(ctx context.Context) (map[string]string, error) {
	sources, err := b.repomdSources()
	if err != nil {
		return nil, err
	}

	hashes := make(map[string]string, len(sources))
	results := make(chan [2]string, len(sources))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelFetches)
	for id, src := range sources {
		id, src := id, src
		g.Go(func() error {
			sum, err := fetchHash(ctx, src.client, src.url)
			if err != nil {
				return fmt.Errorf("repository %s: %w", id, err)
			}
			results <- [2]string{id, sum}
			return nil
		})
	}
	err = g.Wait()
	close(results)
	if err != nil {
		return nil, err
	}
	for r := range results {
		hashes[r[0]] = r[1]
	}
	return hashes, nil
}

func fetchHash(ctx context.Context, client *retryablehttp.Client, url string) (string, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("cannot fetch %s: %s", common.RedactURL(url), common.RedactURLs(err.Error()))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("cannot fetch %s: %s", common.RedactURL(url), resp.Status)
	}
	h := sha256.New()
	if _, err := io.Copy(h, resp.Body); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

// LoadRepomdHashes remembers the checksums of the repomd.xml files of all
// enabled repositories.
func (b *Backend) LoadRepomdHashes(ctx context.Context) error {
	hashes, err := b.fetchRepomdHashes(ctx)
	if err != nil {
		return installerrors.Wrap(installerrors.ErrorSourceSetup, err, "failed to load repository metadata")
	}
	b.mu.Lock()
	b.repomdHashes = hashes
	b.mu.Unlock()
	return nil
}

// VerifyRepomdHashes reports whether the metadata of the repositories is
// still the one seen by LoadRepomdHashes.
func (b *Backend) VerifyRepomdHashes(ctx context.Context) bool {
	b.mu.Lock()
	loaded := b.repomdHashes
	b.mu.Unlock()
	if len(loaded) == 0 {
		return false
	}

	current, err := b.fetchRepomdHashes(ctx)
	if err != nil {
		b.logger().Warnf("cannot verify repository metadata: %v", err)
		return false
	}
	if len(current) != len(loaded) {
		return false
	}
	for id, sum := range loaded {
		if current[id] != sum {
			b.logger().Infof("metadata of repository %s changed", id)
			return false
		}
	}
	return true
}
