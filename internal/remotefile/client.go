// Package remotefile fetches files named by a location, for example the
// kickstart given on the boot command line.
package remotefile

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/osbuild/installer-core/internal/common"
)

// maxSize bounds the size of a fetched file.
const maxSize = 16 << 20

type Client struct {
	client *retryablehttp.Client
}

func NewClient(retries int, timeout time.Duration) *Client {
	return &Client{
		client: common.NewRetryableClient("remotefile", retries, timeout),
	}
}

func (c *Client) makeRequest(ctx context.Context, u *url.URL) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot fetch %s: %s", common.RedactURL(u.String()), common.RedactURLs(err.Error()))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("cannot fetch %s: %s", common.RedactURL(u.String()), resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxSize))
}

func validateURL(location string) (*url.URL, error) {
	if location == "" {
		return nil, fmt.Errorf("file resolver: url is required")
	}
	parsedURL, err := url.ParseRequestURI(location)
	if err != nil {
		return nil, fmt.Errorf("file resolver: invalid url %s", common.RedactURL(location))
	}
	return parsedURL, nil
}

// Resolve returns the content of location. Plain paths and file:// URLs
// are read from the local filesystem, http and https URLs are fetched.
func (c *Client) Resolve(ctx context.Context, location string) ([]byte, error) {
	if strings.HasPrefix(location, "/") {
		return os.ReadFile(location)
	}
	u, err := validateURL(location)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "file":
		return os.ReadFile(u.Path)
	case "http", "https":
		return c.makeRequest(ctx, u)
	}
	return nil, fmt.Errorf("file resolver: unsupported scheme %q", u.Scheme)
}
