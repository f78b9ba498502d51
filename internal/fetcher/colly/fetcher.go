// Package collyfetcher implements the redirect-validating document fetcher
// using gocolly. Redirects are never followed by the HTTP client: every hop
// is checked against the URL guard before it is requested.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/olam-creations/lefilonao-sub001/internal/acquisition"
)

const (
	defaultTimeout      = 15 * time.Second
	defaultMaxRedirects = 5
	defaultMaxBodyBytes = 25 << 20
	defaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	browserAccept = "text/html,application/xhtml+xml,application/xml;q=0.9," +
		"application/pdf,application/zip,*/*;q=0.8"
)

// Validator decides whether a URL may be requested.
type Validator interface {
	Check(raw string) error
}

// Limiter paces outbound requests.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxRedirects int
	MaxBodyBytes int
	// Transport overrides the pooled default transport, e.g. with an
	// instrumented one.
	Transport http.RoundTripper
}

// Fetcher implements acquisition.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	guard         Validator
	limiter       Limiter
	logger        *zap.Logger
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. limiter may be nil.
func New(cfg Config, guard Validator, limiter Limiter, logger *zap.Logger) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRedirects <= 0 {
		cfg.MaxRedirects = defaultMaxRedirects
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.IgnoreRobotsTxt(),
		// One extra byte lets callers tell "exactly at the ceiling" from "over".
		colly.MaxBodySize(cfg.MaxBodyBytes+1),
		colly.UserAgent(cfg.UserAgent),
	)
	// The backend client is shared by every clone, so its settings are fixed here.
	c.SetRedirectHandler(func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	})
	c.SetRequestTimeout(cfg.Timeout)
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(newHandshakeRetryTransport(transport))

	return &Fetcher{
		cfg:           cfg,
		guard:         guard,
		limiter:       limiter,
		logger:        logger.Named("fetcher"),
		baseCollector: c,
	}
}

// Fetch retrieves rawURL, following at most MaxRedirects validated redirects,
// and returns the terminal response whatever its status code.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (acquisition.FetchResponse, error) {
	start := time.Now()
	current := rawURL
	hops := []string{rawURL}

	for hop := 0; ; hop++ {
		if err := f.guard.Check(current); err != nil {
			if hop == 0 {
				return acquisition.FetchResponse{}, fmt.Errorf("fetch %s: %w", current, err)
			}
			return acquisition.FetchResponse{}, fmt.Errorf("%w: %s: %w", acquisition.ErrDisallowedRedirect, current, err)
		}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx, current); err != nil {
				return acquisition.FetchResponse{}, fmt.Errorf("rate limit %s: %w", current, err)
			}
		}

		var (
			result   acquisition.FetchResponse
			fetchErr error
		)
		collector := f.buildCollector(ctx, &result, &fetchErr)
		if err := f.runCollector(ctx, collector, current, &fetchErr); err != nil {
			return acquisition.FetchResponse{}, err
		}

		if !isRedirect(result.StatusCode) {
			result.Duration = time.Since(start)
			result.Hops = hops
			return result, nil
		}

		location := strings.TrimSpace(result.Headers.Get("Location"))
		if location == "" {
			return acquisition.FetchResponse{}, fmt.Errorf("%w: %d from %s", acquisition.ErrMissingLocation, result.StatusCode, current)
		}
		if hop >= f.cfg.MaxRedirects {
			return acquisition.FetchResponse{}, fmt.Errorf("%w: more than %d hops from %s", acquisition.ErrTooManyRedirects, f.cfg.MaxRedirects, rawURL)
		}
		next, err := resolveLocation(current, location)
		if err != nil {
			return acquisition.FetchResponse{}, fmt.Errorf("%w: %s: %w", acquisition.ErrDisallowedRedirect, location, err)
		}
		f.logger.Debug("following redirect",
			zap.Int("status", result.StatusCode),
			zap.String("from", current),
			zap.String("to", next),
		)
		current = next
		hops = append(hops, next)
	}
}

func (f *Fetcher) buildCollector(ctx context.Context, result *acquisition.FetchResponse, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	configureCollectorHooks(collector, result, fetchErr)
	return collector
}

func configureCollectorHooks(hooks collectorHooks, result *acquisition.FetchResponse, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", browserAccept)
		r.Headers.Set("Accept-Language", "fr-FR,fr;q=0.9,en;q=0.8")
	})

	hooks.OnResponse(func(r *colly.Response) {
		headers := http.Header{}
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = acquisition.FetchResponse{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			Headers:     headers,
			ContentType: headers.Get("Content-Type"),
			Body:        append([]byte(nil), r.Body...),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("colly visit %s: %w", target, err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("colly response %s: %w", target, *fetchErr)
		}
		return nil
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func resolveLocation(current, location string) (string, error) {
	base, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("parse current url: %w", err)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("parse location: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
