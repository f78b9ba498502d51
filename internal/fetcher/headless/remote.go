package headless

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

// RemoteConfig points at an out-of-process rendering worker.
type RemoteConfig struct {
	URL      string
	Token    string
	Timeout  time.Duration
	MaxBytes int
}

// Remote implements acquisition.HeadlessWorker by delegating to a rendering
// service that answers POST /scrape with the PDF it found, or 204 when none.
type Remote struct {
	cfg    RemoteConfig
	client *http.Client
	logger *zap.Logger
}

type scrapeRequest struct {
	URL    string `json:"url"`
	Expect string `json:"expect"`
}

// NewRemote builds a remote worker client. httpClient may be nil.
func NewRemote(cfg RemoteConfig, httpClient *http.Client, logger *zap.Logger) (*Remote, error) {
	cfg.URL = strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if cfg.URL == "" {
		return nil, errors.New("headless worker url is required")
	}
	if cfg.Token == "" {
		return nil, errors.New("headless worker token is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = acquisition.DefaultMaxDocumentBytes
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Remote{cfg: cfg, client: httpClient, logger: logger.Named("headless_remote")}, nil
}

// Scrape asks the worker to render rawURL. A nil slice means the worker found
// nothing usable.
func (r *Remote) Scrape(ctx context.Context, rawURL string) ([]byte, error) {
	payload, err := json.Marshal(scrapeRequest{URL: rawURL, Expect: "pdf"})
	if err != nil {
		return nil, fmt.Errorf("marshal scrape request: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.URL+"/scrape", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build scrape request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/pdf")
	req.Header.Set("Authorization", "Bearer "+r.cfg.Token)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("headless worker request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNoContent, resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("headless worker status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(r.cfg.MaxBytes)+1))
	if err != nil {
		return nil, fmt.Errorf("read headless worker body: %w", err)
	}
	if len(body) == 0 {
		return nil, nil
	}
	r.logger.Debug("headless worker returned payload",
		zap.String("url", rawURL),
		zap.Int("bytes", len(body)),
		zap.String("content_type", resp.Header.Get("Content-Type")),
	)
	return body, nil
}
