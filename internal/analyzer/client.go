// Package analyzer is the client of the downstream content analyzer that
// turns raw DCE bytes into a structured document.
package analyzer

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
)

const analyzePath = "/v1/analyze"

// ErrRejected is returned when the analyzer answers that the bytes cannot be read.
var ErrRejected = errors.New("analyzer rejected document")

// Config controls the client.
type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client implements acquisition.Analyzer over HTTP.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *zap.Logger
}

// New builds a Client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	cfg.URL = strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if cfg.URL == "" {
		return nil, errors.New("analyzer url is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, http: httpClient, logger: logger.Named("analyzer")}, nil
}

// Analyze posts the document bytes and decodes the structured result.
func (c *Client) Analyze(ctx context.Context, document []byte) (acquisition.StructuredDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+analyzePath, bytes.NewReader(document))
	if err != nil {
		return acquisition.StructuredDocument{}, fmt.Errorf("build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeFor(document))
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return acquisition.StructuredDocument{}, fmt.Errorf("analyzer request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusUnsupportedMediaType {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return acquisition.StructuredDocument{}, fmt.Errorf("%w: %s", ErrRejected, strings.TrimSpace(string(snippet)))
	}
	if resp.StatusCode != http.StatusOK {
		return acquisition.StructuredDocument{}, fmt.Errorf("analyzer status %d", resp.StatusCode)
	}

	var doc acquisition.StructuredDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return acquisition.StructuredDocument{}, fmt.Errorf("decode analysis: %w", err)
	}
	c.logger.Debug("document analyzed",
		zap.Int("bytes", len(document)),
		zap.Int("pages", doc.PageCount),
		zap.Duration("elapsed", time.Since(start)),
	)
	return doc, nil
}

func contentTypeFor(document []byte) string {
	switch acquisition.DetectExtension(document) {
	case "pdf":
		return "application/pdf"
	case "zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}
