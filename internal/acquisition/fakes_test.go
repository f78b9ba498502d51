package acquisition_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/olam-creations/lefilonao-sub001/internal/acquisition"
)

var (
	pdfDoc = []byte("%PDF-1.4\n1 0 obj<<>>endobj\n%%EOF")
	zipDoc = []byte("PK\x03\x04\x14\x00\x00\x00archive")
)

type fakeFetcher struct {
	mu        sync.Mutex
	responses map[string]acquisition.FetchResponse
	errs      map[string]error
	calls     []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		responses: make(map[string]acquisition.FetchResponse),
		errs:      make(map[string]error),
	}
}

func (f *fakeFetcher) serve(url, contentType string, body []byte) {
	f.responses[url] = acquisition.FetchResponse{
		URL:         url,
		StatusCode:  http.StatusOK,
		ContentType: contentType,
		Body:        body,
		Hops:        []string{url},
	}
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (acquisition.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rawURL)
	if err, ok := f.errs[rawURL]; ok {
		return acquisition.FetchResponse{}, err
	}
	if resp, ok := f.responses[rawURL]; ok {
		return resp, nil
	}
	return acquisition.FetchResponse{URL: rawURL, StatusCode: http.StatusNotFound, Hops: []string{rawURL}}, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fakeAnalyzer rejects any buffer containing reject.
type fakeAnalyzer struct {
	mu     sync.Mutex
	reject []byte
	calls  int
}

func (a *fakeAnalyzer) Analyze(_ context.Context, document []byte) (acquisition.StructuredDocument, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if len(a.reject) > 0 && bytes.Contains(document, a.reject) {
		return acquisition.StructuredDocument{}, errors.New("no text layer")
	}
	return acquisition.StructuredDocument{Title: "DCE", PageCount: 1}, nil
}

func (a *fakeAnalyzer) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type fakeUnlocker struct {
	mu       sync.Mutex
	links    map[string][]acquisition.NamedLink
	raw      map[string][]byte
	rawErrs  map[string]error
	rawCalls int
	discover int
}

func newFakeUnlocker() *fakeUnlocker {
	return &fakeUnlocker{
		links:   make(map[string][]acquisition.NamedLink),
		raw:     make(map[string][]byte),
		rawErrs: make(map[string]error),
	}
}

func (u *fakeUnlocker) FetchRaw(_ context.Context, rawURL string) ([]byte, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.rawCalls++
	if err, ok := u.rawErrs[rawURL]; ok {
		return nil, err
	}
	return u.raw[rawURL], nil
}

func (u *fakeUnlocker) DiscoverLinks(_ context.Context, rawURL string) ([]acquisition.NamedLink, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.discover++
	return u.links[rawURL], nil
}

func (u *fakeUnlocker) Calls() (discover, raw int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.discover, u.rawCalls
}

type fakeHeadless struct {
	mu    sync.Mutex
	body  []byte
	calls int
}

func (h *fakeHeadless) Scrape(context.Context, string) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	return h.body, nil
}

func (h *fakeHeadless) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

type fakeResolver struct {
	res acquisition.Resolution
	err error
}

func (fakeResolver) Applies(sourceURL string) bool {
	return strings.Contains(sourceURL, "boamp.fr")
}

func (r fakeResolver) Resolve(context.Context, string, string) (acquisition.Resolution, error) {
	return r.res, r.err
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
