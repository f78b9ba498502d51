// Package headless contains the browser-backed workers of the last cascade
// tier: a local chromedp worker and a client for a remote rendering service.
package headless

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/olam-creations/lefilonao-sub001/internal/acquisition"
	"github.com/olam-creations/lefilonao-sub001/internal/extract"
)

// Validator decides whether the browser may request a URL.
type Validator interface {
	Check(raw string) error
}

// Config controls the behavior of the chromedp worker.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	MaxLinks          int
}

// Chromedp implements acquisition.HeadlessWorker with a local headless Chrome.
type Chromedp struct {
	cfg         Config
	guard       Validator
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
	logger      *zap.Logger
}

// fetchAsBase64 downloads a URL from inside the page, reusing its cookies.
const fetchAsBase64 = `(async (u) => {
  const r = await fetch(u, {credentials: "include"});
  if (!r.ok) { return ""; }
  const b = new Uint8Array(await r.arrayBuffer());
  let s = "";
  for (let i = 0; i < b.length; i += 0x8000) {
    s += String.fromCharCode.apply(null, b.subarray(i, i + 0x8000));
  }
  return btoa(s);
})(%s)`

// NewChromedp creates a headless worker backed by chromedp.
func NewChromedp(cfg Config, guard Validator, logger *zap.Logger) (*Chromedp, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if guard == nil {
		return nil, fmt.Errorf("headless worker requires a url validator")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 90 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 1500 * time.Millisecond
	}
	if cfg.MaxLinks <= 0 {
		cfg.MaxLinks = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Chromedp{
		cfg:         cfg,
		guard:       guard,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
		logger:      logger.Named("chromedp"),
	}, nil
}

// Close cancels the allocator context.
func (f *Chromedp) Close() {
	f.allocCancel()
}

// Scrape renders rawURL and returns the PDF it serves, either directly or
// behind one of its rendered document links. It returns nil when the page
// yields no PDF.
func (f *Chromedp) Scrape(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.acquire(ctx); err != nil {
		return nil, err
	}
	defer f.release()

	taskCtx, taskCancel := chromedp.NewContext(f.allocator)
	defer taskCancel()
	taskCtx, cancel := context.WithTimeout(taskCtx, f.cfg.NavigationTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			meta.capture(e)
		case *fetch.EventRequestPaused:
			go f.gateRequest(taskCtx, e)
		}
	})

	navErr := chromedp.Run(taskCtx, f.networkSetupAction(), chromedp.Navigate(rawURL))
	doc := meta.snapshot()
	if navErr != nil && doc.requestID == "" {
		return nil, fmt.Errorf("chromedp navigate %s: %w", rawURL, navErr)
	}

	if isPDF(doc.mimeType) {
		body, err := responseBody(taskCtx, doc.requestID)
		if err == nil && acquisition.HasPDFMagic(body) {
			return body, nil
		}
		f.logger.Debug("pdf response body unavailable", zap.String("url", doc.url), zap.Error(err))
	}

	var html, finalURL string
	if err := chromedp.Run(taskCtx,
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(f.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("chromedp render %s: %w", rawURL, err)
	}

	links, err := extract.Links(finalURL, []byte(html))
	if err != nil {
		return nil, fmt.Errorf("extract rendered links: %w", err)
	}
	for _, link := range extract.Rank(links, f.cfg.MaxLinks) {
		if err := f.guard.Check(link.URL); err != nil {
			f.logger.Debug("rendered link disallowed", zap.String("url", link.URL), zap.Error(err))
			continue
		}
		body, err := fetchInPage(taskCtx, link.URL)
		if err != nil {
			f.logger.Debug("in-page fetch failed", zap.String("url", link.URL), zap.Error(err))
			continue
		}
		if acquisition.HasPDFMagic(body) {
			return body, nil
		}
	}
	return nil, nil
}

// gateRequest lets a paused browser request through only when the guard
// accepts its URL. Every redirect hop is paused as its own request.
func (f *Chromedp) gateRequest(ctx context.Context, ev *fetch.EventRequestPaused) {
	c := chromedp.FromContext(ctx)
	if c == nil || c.Target == nil {
		return
	}
	execCtx := cdp.WithExecutor(ctx, c.Target)
	if err := f.guard.Check(ev.Request.URL); err != nil {
		f.logger.Debug("browser request blocked", zap.String("url", ev.Request.URL), zap.Error(err))
		_ = fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
		return
	}
	_ = fetch.ContinueRequest(ev.RequestID).Do(execCtx)
}

func (f *Chromedp) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if err := fetch.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable fetch interception: %w", err)
		}
		if f.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func responseBody(ctx context.Context, id network.RequestID) ([]byte, error) {
	var body []byte
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		b, err := network.GetResponseBody(id).Do(ctx)
		body = b
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("get response body: %w", err)
	}
	return body, nil
}

func fetchInPage(ctx context.Context, target string) ([]byte, error) {
	quoted, err := json.Marshal(target)
	if err != nil {
		return nil, fmt.Errorf("quote url: %w", err)
	}
	var encoded string
	if err := chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf(fetchAsBase64, quoted), &encoded,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams { return p.WithAwaitPromise(true) },
	)); err != nil {
		return nil, fmt.Errorf("evaluate fetch: %w", err)
	}
	if encoded == "" {
		return nil, nil
	}
	body, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode fetched body: %w", err)
	}
	return body, nil
}

func (f *Chromedp) acquire(ctx context.Context) error {
	if f.limiter == nil {
		return nil
	}
	select {
	case f.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (f *Chromedp) release() {
	if f.limiter == nil {
		return
	}
	select {
	case <-f.limiter:
	default:
	}
}

type documentResponse struct {
	requestID network.RequestID
	status    int
	mimeType  string
	url       string
	headers   http.Header
}

// responseMeta keeps the last top-level document response of a navigation.
type responseMeta struct {
	mu  sync.RWMutex
	doc documentResponse
}

func newResponseMeta() *responseMeta {
	return &responseMeta{doc: documentResponse{headers: http.Header{}}}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	headers := http.Header{}
	for key, value := range event.Response.Headers {
		switch v := value.(type) {
		case string:
			headers.Add(key, v)
		case []any:
			for _, entry := range v {
				headers.Add(key, fmt.Sprint(entry))
			}
		default:
			headers.Add(key, fmt.Sprint(v))
		}
	}
	m.mu.Lock()
	m.doc = documentResponse{
		requestID: event.RequestID,
		status:    int(event.Response.Status),
		mimeType:  event.Response.MimeType,
		url:       event.Response.URL,
		headers:   headers,
	}
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() documentResponse {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc := m.doc
	doc.headers = doc.headers.Clone()
	return doc
}

func isPDF(mimeType string) bool {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return false
	}
	return mt == "application/pdf" || mt == "application/x-pdf"
}
