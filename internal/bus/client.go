package bus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/osbuild/installer-core/internal/common"
	"github.com/osbuild/installer-core/internal/installerrors"
	"github.com/osbuild/installer-core/internal/structure"
)

type ClientConfig struct {
	// BaseURL of the server, ignored when Socket is set.
	BaseURL string
	// Socket is the path of the unix socket the server listens on.
	Socket string
	// RetryMax is the number of retries of requests that could not reach
	// the server.
	RetryMax int
	Timeout  time.Duration
}

// Client talks to a bus Server. It is used by front-ends and the CLI.
type Client struct {
	server    *url.URL
	requester *retryablehttp.Client
	streamer  *http.Client
}

func NewClient(conf ClientConfig) (*Client, error) {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	base := conf.BaseURL
	if conf.Socket != "" {
		socket := conf.Socket
		transport.DialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		}
		base = "http://anaconda"
	}
	server, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid bus address %q: %w", base, err)
	}
	server, err = server.Parse(BasePath + "/")
	if err != nil {
		return nil, err
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &http.Client{Transport: transport, Timeout: conf.Timeout}
	rc.Logger = common.NewLeveledLogrus(logrus.WithField("component", "bus-client"))
	rc.RetryMax = conf.RetryMax
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	// only retry requests that did not reach the server, method calls are
	// not idempotent
	rc.CheckRetry = func(ctx context.Context, resp *http.Response, err error) (bool, error) {
		if err == nil {
			return false, nil
		}
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	return &Client{
		server:    server,
		requester: rc,
		streamer:  &http.Client{Transport: transport},
	}, nil
}

func (c *Client) endpoint(name string) string {
	u, err := c.server.Parse(name)
	common.PanicOnError(err)
	return u.String()
}

func (c *Client) do(ctx context.Context, method, name string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.endpoint(name), reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.requester.Do(req)
	if err != nil {
		return installerrors.Wrap(installerrors.ErrorNotReady, err, "cannot reach the installer bus")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return errorFromResponse(resp.StatusCode, nil)
		}
		return errorFromResponse(resp.StatusCode, &apiErr)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("cannot decode %s response: %w", name, err)
	}
	return nil
}

func (c *Client) Call(ctx context.Context, path, iface, method string, args ...structure.Variant) ([]structure.Variant, error) {
	if args == nil {
		args = []structure.Variant{}
	}
	var resp CallResponse
	err := c.do(ctx, http.MethodPost, "call", CallRequest{Path: path, Interface: iface, Method: method, Args: args}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Results, nil
}

func (c *Client) Get(ctx context.Context, path, iface, property string) (structure.Variant, error) {
	var resp PropertyResponse
	err := c.do(ctx, http.MethodPost, "get", PropertyRequest{Path: path, Interface: iface, Property: property}, &resp)
	return resp.Value, err
}

func (c *Client) Set(ctx context.Context, path, iface, property string, value structure.Variant) error {
	return c.do(ctx, http.MethodPost, "set", PropertyRequest{Path: path, Interface: iface, Property: property, Value: &value}, nil)
}

func (c *Client) GetAll(ctx context.Context, path, iface string) (map[string]structure.Variant, error) {
	var resp GetAllResponse
	err := c.do(ctx, http.MethodPost, "get-all", GetAllRequest{Path: path, Interface: iface}, &resp)
	return resp.Properties, err
}

func (c *Client) Introspect(ctx context.Context, path string) (ObjectInfo, error) {
	var info ObjectInfo
	err := c.do(ctx, http.MethodGet, "introspect?path="+url.QueryEscape(path), nil, &info)
	return info, err
}

func (c *Client) Objects(ctx context.Context) ([]string, error) {
	var resp ObjectsResponse
	err := c.do(ctx, http.MethodGet, "objects", nil, &resp)
	return resp.Paths, err
}

func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var resp StatusResponse
	err := c.do(ctx, http.MethodGet, "status", nil, &resp)
	return resp, err
}

// Signals streams events of objects at or below path until ctx is done or
// fn returns an error.
func (c *Client) Signals(ctx context.Context, path string, fn func(Event) error) error {
	name := "signals"
	if path != "" {
		name += "?path=" + url.QueryEscape(path)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(name), nil)
	if err != nil {
		return err
	}
	resp, err := c.streamer.Do(req)
	if err != nil {
		return installerrors.Wrap(installerrors.ErrorNotReady, err, "cannot reach the installer bus")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errorFromResponse(resp.StatusCode, nil)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			return fmt.Errorf("malformed signal: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return scanner.Err()
}
