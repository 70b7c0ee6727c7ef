// Package client talks to an external identity directory to resolve
// human-facing handles into DIDs, and fetches peer well-known
// documents. Results are cached with a TTL so repeated writes by the
// same handle do not hammer the directory.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/patrickmn/go-cache"

	spacehost "github.com/windholt/spacehost"
)

const defaultTimeout = 3 * time.Second

type Client struct {
	client    *http.Client
	cache     *cache.Cache
	directory string
	userAgent string
}

func New(directory string) *Client {
	httpClient := http.Client{
		Timeout: defaultTimeout,
	}

	c := &Client{
		client:    &httpClient,
		cache:     cache.New(10*time.Minute, 15*time.Minute),
		directory: directory,
		userAgent: "spacehost-client",
	}
	httpClient.Transport = c
	return c
}

func (c *Client) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", c.userAgent)
	return http.DefaultTransport.RoundTrip(req)
}

type resolveHandleResponse struct {
	DID string `json:"did"`
}

// ResolveHandle asks the directory for the DID behind a handle.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (string, error) {
	cacheKey := "handle:" + handle
	if x, found := c.cache.Get(cacheKey); found {
		return x.(string), nil
	}

	path := "/xrpc/com.atproto.identity.resolveHandle?handle=" + url.QueryEscape(handle)
	var resp resolveHandleResponse
	if err := c.httpRequest(ctx, http.MethodGet, c.directory, path, &resp); err != nil {
		return "", fmt.Errorf("failed to resolve handle %s: %v", handle, err)
	}
	if resp.DID == "" {
		return "", fmt.Errorf("directory returned no did for handle %s", handle)
	}

	c.cache.Set(cacheKey, resp.DID, cache.DefaultExpiration)
	return resp.DID, nil
}

// GetServer fetches a peer host's well-known document.
func (c *Client) GetServer(ctx context.Context, domain string) (spacehost.WellKnownSpacehost, error) {
	cacheKey := "server:" + domain
	if x, found := c.cache.Get(cacheKey); found {
		return x.(spacehost.WellKnownSpacehost), nil
	}

	var wks spacehost.WellKnownSpacehost
	if err := c.httpRequest(ctx, http.MethodGet, domain, "/.well-known/spacehost", &wks); err != nil {
		return spacehost.WellKnownSpacehost{}, fmt.Errorf("failed to get well-known spacehost: %v", err)
	}

	c.cache.Set(cacheKey, wks, cache.DefaultExpiration)
	return wks, nil
}

func (c *Client) httpRequest(ctx context.Context, method, host, path string, response any) error {
	if host == "" {
		return fmt.Errorf("host cannot be empty")
	}

	url := "https://" + host + path
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to perform request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("failed to decode response: %v", err)
	}

	return nil
}
