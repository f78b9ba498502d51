// Package unlocker is the client of the third-party scrape/unlock service used
// when buyer platforms block direct connections or only render with
// JavaScript.
package unlocker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/olam-creations/lefilonao-sub001/internal/acquisition"
	"github.com/olam-creations/lefilonao-sub001/internal/cache"
	"github.com/olam-creations/lefilonao-sub001/internal/extract"
)

// Config controls the client.
type Config struct {
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
	MaxLinks int
	MaxBytes int
}

const unlockPath = "/v1/unlock"

type unlockRequest struct {
	URL    string `json:"url"`
	Render bool   `json:"render"`
	Format string `json:"format"`
}

// Client implements acquisition.Unlocker.
type Client struct {
	cfg    Config
	http   *http.Client
	raw    cache.Cache[[]byte]
	links  cache.Cache[[]acquisition.NamedLink]
	logger *zap.Logger
}

// New builds a Client. Nil caches disable caching.
func New(cfg Config, httpClient *http.Client, raw cache.Cache[[]byte], links cache.Cache[[]acquisition.NamedLink], logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("unlocker base url is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = 5
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = acquisition.DefaultMaxDocumentBytes
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if raw == nil {
		raw = cache.Nop[[]byte]{}
	}
	if links == nil {
		links = cache.Nop[[]acquisition.NamedLink]{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: httpClient, raw: raw, links: links, logger: logger.Named("unlocker")}, nil
}

// FetchRaw returns the bytes served at rawURL through the unlocker.
func (c *Client) FetchRaw(ctx context.Context, rawURL string) ([]byte, error) {
	if body, ok := c.raw.Get(rawURL); ok {
		c.logger.Debug("raw cache hit", zap.String("url", rawURL))
		return body, nil
	}
	body, _, err := c.unlock(ctx, unlockRequest{URL: rawURL, Format: "raw"})
	if err != nil {
		return nil, err
	}
	if len(body) == 0 {
		return nil, nil
	}
	c.raw.Add(rawURL, body)
	return body, nil
}

// DiscoverLinks renders rawURL and returns its best document links.
func (c *Client) DiscoverLinks(ctx context.Context, rawURL string) ([]acquisition.NamedLink, error) {
	if links, ok := c.links.Get(rawURL); ok {
		c.logger.Debug("links cache hit", zap.String("url", rawURL))
		return links, nil
	}
	body, finalURL, err := c.unlock(ctx, unlockRequest{URL: rawURL, Render: true, Format: "html"})
	if err != nil {
		return nil, err
	}
	if finalURL == "" {
		finalURL = rawURL
	}
	found, err := extract.Links(finalURL, body)
	if err != nil {
		return nil, fmt.Errorf("extract rendered links: %w", err)
	}
	ranked := extract.Rank(found, c.cfg.MaxLinks)
	out := make([]acquisition.NamedLink, len(ranked))
	for i, l := range ranked {
		out[i] = acquisition.NamedLink{Name: l.Text, URL: l.URL}
	}
	c.links.Add(rawURL, out)
	return out, nil
}

func (c *Client) unlock(ctx context.Context, payload unlockRequest) ([]byte, string, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("encode unlock request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+unlockPath, bytes.NewReader(buf))
	if err != nil {
		return nil, "", fmt.Errorf("build unlock request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("unlock %s: %w", payload.URL, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("close unlock response", zap.Error(cerr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unlock %s: status %d", payload.URL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(c.cfg.MaxBytes)+1))
	if err != nil {
		return nil, "", fmt.Errorf("read unlock response: %w", err)
	}
	c.logger.Debug("unlocked",
		zap.String("url", payload.URL),
		zap.String("format", payload.Format),
		zap.Int("bytes", len(body)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return body, resp.Header.Get("X-Final-Url"), nil
}
