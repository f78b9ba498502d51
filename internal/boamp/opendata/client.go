// Package opendata queries the BOAMP open-data API (Opendatasoft explore
// v2.1) for notice records.
package opendata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/olam-creations/lefilonao-sub001/internal/boamp"
)

// DefaultBaseURL is the public BOAMP explore API.
const DefaultBaseURL = "https://boamp-datadila.opendatasoft.com/api/explore/v2.1"

// Config controls the client.
type Config struct {
	BaseURL string
	Dataset string
	Timeout time.Duration
}

// Client implements boamp.Lookup.
type Client struct {
	baseURL string
	dataset string
	http    *http.Client
	logger  *zap.Logger
}

type recordsResponse struct {
	TotalCount int            `json:"total_count"`
	Results    []boamp.Record `json:"results"`
}

// New builds a Client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Dataset == "" {
		cfg.Dataset = "boamp"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		dataset: cfg.Dataset,
		http:    httpClient,
		logger:  logger.Named("opendata"),
	}
}

// RecordsURL returns the query URL for notice id.
func (c *Client) RecordsURL(id string) string {
	q := url.Values{}
	q.Set("where", fmt.Sprintf("idweb=%q", id))
	q.Set("limit", "1")
	return fmt.Sprintf("%s/catalog/datasets/%s/records?%s", c.baseURL, url.PathEscape(c.dataset), q.Encode())
}

// Lookup fetches the record of notice id.
func (c *Client) Lookup(ctx context.Context, id string) (boamp.Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.RecordsURL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("build open data request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query open data: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Warn("close open data response", zap.Error(cerr))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("open data status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var payload recordsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode open data response: %w", err)
	}
	if len(payload.Results) == 0 {
		return nil, fmt.Errorf("%w: %s", boamp.ErrNoticeNotFound, id)
	}
	c.logger.Debug("open data record", zap.String("id", id), zap.Int("total_count", payload.TotalCount))
	return payload.Results[0], nil
}
