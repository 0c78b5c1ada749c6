// Package assets looks up owned NFTs and metadata URIs for display
// enrichment. Duel logic never consults it.
package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

type Asset struct {
	ID   int64  `json:"id"`
	Type int    `json:"type"`
	URI  string `json:"uri"`
}

type Client struct {
	baseURL string
	http    *fasthttp.Client

	defaultTimeout time.Duration
	retryMax       int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 64},
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// OwnedAssets fetches the asset ids and metadata URIs held by an address.
func (c *Client) OwnedAssets(ctx context.Context, address string) ([]Asset, error) {
	var out []Asset
	if err := c.doJSON(ctx, "/owners/"+strings.TrimSpace(address)+"/assets", &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AssetURI resolves a single asset's metadata URI, "" when unknown.
func (c *Client) AssetURI(ctx context.Context, address string, assetID int64) (string, error) {
	list, err := c.OwnedAssets(ctx, address)
	if err != nil {
		return "", err
	}
	for _, a := range list {
		if a.ID == assetID {
			return a.URI, nil
		}
	}
	return "", nil
}

func (c *Client) doJSON(ctx context.Context, path string, out any) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodGet)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")

	attempts := c.retryMax
	if attempts <= 0 {
		attempts = 1
	}

	timeout := c.defaultTimeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < timeout {
			timeout = d
		}
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.http.DoTimeout(req, resp, timeout); err != nil {
			lastErr = err
			continue
		}
		if code := resp.StatusCode(); code != fasthttp.StatusOK {
			lastErr = fmt.Errorf("asset api status %d", code)
			if code >= 500 {
				continue
			}
			return lastErr
		}
		if out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("decode asset response: %w", err)
		}
		return nil
	}
	return lastErr
}
