package acquisition

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/olam-creations/lefilonao-sub001/internal/extract"
)

// tier is one strategy of the cascade.
type tier interface {
	// name labels metrics and spans.
	name() string
	// step is the entry written when the tier is skipped.
	step() string
	skip(e *Engine, r *run) (string, bool)
	attempt(ctx context.Context, e *Engine, r *run) *Success
}

func defaultTiers() []tier {
	return []tier{directTier{}, htmlTier{}, discoveryTier{}, unlockerTier{}, headlessTier{}}
}

// directTier fetches the working target and accepts document responses. HTML
// bodies are retained for htmlTier.
type directTier struct{}

func (directTier) name() string { return "direct" }
func (directTier) step() string { return StepDirectFetch }

func (directTier) skip(*Engine, *run) (string, bool) { return "", false }

func (directTier) attempt(ctx context.Context, e *Engine, r *run) *Success {
	start := e.clock.Now()
	resp, err := e.fetcher.Fetch(ctx, r.target)
	elapsed := e.clock.Now().Sub(start)
	if err != nil {
		r.log.Fail(StepDirectFetch, r.target, describeFetchError(err), elapsed)
		return nil
	}
	if len(resp.Hops) > 1 {
		r.promote(resp.URL)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		r.log.Fail(StepDirectFetch, resp.URL, fmt.Sprintf("http status %d", resp.StatusCode), elapsed)
		return nil
	}
	if err := checkDocument(resp.ContentType, resp.Body, e.cfg.MaxDocumentBytes); err != nil {
		if IsHTMLContentType(resp.ContentType) {
			r.html = resp.Body
			r.htmlURL = resp.URL
			r.log.Fail(StepDirectFetch, resp.URL, "html page retained for link extraction", elapsed)
			return nil
		}
		r.log.Fail(StepDirectFetch, resp.URL, err.Error(), elapsed)
		return nil
	}
	r.log.Success(StepDirectFetch, resp.URL, describeDocument(resp.ContentType, resp.Body), elapsed)
	return e.analyze(ctx, r, StepDirectAnalyze, resp.URL, resp.Body, MethodDirect)
}

// htmlTier harvests document links from the HTML retained by directTier and
// fetches the first few through the validating fetcher.
type htmlTier struct{}

func (htmlTier) name() string { return "html" }
func (htmlTier) step() string { return StepHTMLExtract }

func (htmlTier) skip(_ *Engine, r *run) (string, bool) {
	if len(r.html) == 0 {
		return "no html page retained", true
	}
	return "", false
}

func (htmlTier) attempt(ctx context.Context, e *Engine, r *run) *Success {
	links, err := extract.Links(r.htmlURL, r.html)
	if err != nil {
		r.log.Fail(StepHTMLExtract, r.htmlURL, err.Error(), 0)
		return nil
	}
	if len(links) == 0 {
		detail := "no document links found"
		if e.shell.ScriptRendered(r.html) {
			detail += "; page appears script-rendered"
		}
		r.log.Fail(StepHTMLExtract, r.htmlURL, detail, 0)
		return nil
	}
	if len(links) > e.cfg.HTMLCandidateLimit {
		links = links[:e.cfg.HTMLCandidateLimit]
	}
	r.log.Success(StepHTMLExtract, r.htmlURL, fmt.Sprintf("%d candidate links", len(links)), 0)

	for _, link := range links {
		if !e.checkURL(r, StepHTMLFetch, link.URL) {
			continue
		}
		start := e.clock.Now()
		resp, err := e.fetcher.Fetch(ctx, link.URL)
		elapsed := e.clock.Now().Sub(start)
		if err != nil {
			r.log.Fail(StepHTMLFetch, link.URL, describeFetchError(err), elapsed)
			continue
		}
		if resp.StatusCode >= http.StatusBadRequest {
			r.log.Fail(StepHTMLFetch, resp.URL, fmt.Sprintf("http status %d", resp.StatusCode), elapsed)
			continue
		}
		if err := checkDocument(resp.ContentType, resp.Body, e.cfg.MaxDocumentBytes); err != nil {
			r.log.Fail(StepHTMLFetch, resp.URL, err.Error(), elapsed)
			continue
		}
		r.log.Success(StepHTMLFetch, resp.URL, describeDocument(resp.ContentType, resp.Body), elapsed)
		return e.analyze(ctx, r, StepHTMLAnalyze, resp.URL, resp.Body, MethodHTML)
	}
	return nil
}

// discoveryTier asks the unlocker to render the page and list document links,
// then fetches a bounded batch of them concurrently through the unlocker.
type discoveryTier struct{}

func (discoveryTier) name() string { return "discovery" }
func (discoveryTier) step() string { return StepDiscovery }

func (discoveryTier) skip(e *Engine, r *run) (string, bool) {
	if r.req.Options.SkipExpensiveDiscovery {
		return "expensive discovery disabled", true
	}
	if e.unlocker == nil {
		return ErrNotConfigured.Error() + ": unlocker", true
	}
	return "", false
}

type rawResult struct {
	link    NamedLink
	body    []byte
	err     error
	elapsed int64
}

func (discoveryTier) attempt(ctx context.Context, e *Engine, r *run) *Success {
	start := e.clock.Now()
	links, err := e.unlocker.DiscoverLinks(ctx, r.target)
	elapsed := e.clock.Now().Sub(start)
	if err != nil {
		r.log.Fail(StepDiscovery, r.target, err.Error(), elapsed)
		return nil
	}
	allowed := make([]NamedLink, 0, len(links))
	for _, link := range links {
		if e.checkURL(r, StepDiscoveryFetch, link.URL) {
			allowed = append(allowed, link)
		}
	}
	if len(allowed) == 0 {
		r.log.Fail(StepDiscovery, r.target, "no document links discovered", elapsed)
		return nil
	}
	if len(allowed) > e.cfg.DiscoveryBatchSize {
		allowed = allowed[:e.cfg.DiscoveryBatchSize]
	}
	r.log.Success(StepDiscovery, r.target, fmt.Sprintf("%d links discovered", len(allowed)), elapsed)

	// Every fetch runs to completion; a failed candidate never cancels its siblings.
	results := make([]rawResult, len(allowed))
	var g errgroup.Group
	g.SetLimit(len(allowed))
	for i, link := range allowed {
		g.Go(func() error {
			fetchStart := e.clock.Now()
			body, err := e.unlocker.FetchRaw(ctx, link.URL)
			results[i] = rawResult{
				link:    link,
				body:    body,
				err:     err,
				elapsed: e.clock.Now().Sub(fetchStart).Milliseconds(),
			}
			return ctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		r.log.Fail(StepDiscoveryFetch, r.target, "canceled: "+err.Error(), e.clock.Now().Sub(start))
		return nil
	}

	var accepted *rawResult
	for i := range results {
		res := &results[i]
		entry := StepLogEntry{Step: StepDiscoveryFetch, URL: res.link.URL, DurationMs: res.elapsed}
		switch {
		case res.err != nil:
			entry.Status, entry.Detail = StatusFail, res.err.Error()
		case res.body == nil:
			entry.Status, entry.Detail = StatusFail, "unlocker returned nothing"
		default:
			if err := checkRawDocument(res.body, e.cfg.MaxDocumentBytes, true); err != nil {
				entry.Status, entry.Detail = StatusFail, err.Error()
			} else {
				entry.Status, entry.Detail = StatusSuccess, describeLink(res.link, res.body)
				if accepted == nil {
					accepted = res
				}
			}
		}
		r.log.Append(entry)
	}
	if accepted == nil {
		return nil
	}
	return e.analyze(ctx, r, StepDiscoveryAnalyze, accepted.link.URL, accepted.body, MethodDiscovery)
}

// unlockerTier fetches the working target itself through the unlocker, for
// pages that are the document but sit behind bot protection.
type unlockerTier struct{}

func (unlockerTier) name() string { return "unlocker" }
func (unlockerTier) step() string { return StepUnlockerFetch }

func (unlockerTier) skip(e *Engine, r *run) (string, bool) {
	if r.req.Options.SkipExpensiveDiscovery {
		return "expensive discovery disabled", true
	}
	if e.unlocker == nil {
		return ErrNotConfigured.Error() + ": unlocker", true
	}
	return "", false
}

func (unlockerTier) attempt(ctx context.Context, e *Engine, r *run) *Success {
	start := e.clock.Now()
	body, err := e.unlocker.FetchRaw(ctx, r.target)
	elapsed := e.clock.Now().Sub(start)
	switch {
	case err != nil:
		r.log.Fail(StepUnlockerFetch, r.target, err.Error(), elapsed)
		return nil
	case body == nil:
		r.log.Fail(StepUnlockerFetch, r.target, "unlocker returned nothing", elapsed)
		return nil
	}
	if err := checkRawDocument(body, e.cfg.MaxDocumentBytes, true); err != nil {
		r.log.Fail(StepUnlockerFetch, r.target, err.Error(), elapsed)
		return nil
	}
	r.log.Success(StepUnlockerFetch, r.target, fmt.Sprintf("%d bytes", len(body)), elapsed)
	return e.analyze(ctx, r, StepUnlockerAnalyze, r.target, body, MethodUnlocker)
}

// headlessTier is the last resort: a full browser render that only counts
// when it yields a PDF.
type headlessTier struct{}

func (headlessTier) name() string { return "headless" }
func (headlessTier) step() string { return StepHeadlessFetch }

func (headlessTier) skip(e *Engine, r *run) (string, bool) {
	if r.req.Options.SkipHeadlessWorker {
		return "headless worker disabled", true
	}
	if e.headless == nil {
		return ErrNotConfigured.Error() + ": headless worker", true
	}
	return "", false
}

func (headlessTier) attempt(ctx context.Context, e *Engine, r *run) *Success {
	start := e.clock.Now()
	body, err := e.headless.Scrape(ctx, r.target)
	elapsed := e.clock.Now().Sub(start)
	switch {
	case err != nil:
		r.log.Fail(StepHeadlessFetch, r.target, err.Error(), elapsed)
		return nil
	case body == nil:
		r.log.Fail(StepHeadlessFetch, r.target, "headless worker returned nothing", elapsed)
		return nil
	}
	if err := checkRawDocument(body, e.cfg.MaxDocumentBytes, false); err != nil {
		r.log.Fail(StepHeadlessFetch, r.target, err.Error(), elapsed)
		return nil
	}
	r.log.Success(StepHeadlessFetch, r.target, fmt.Sprintf("%d bytes", len(body)), elapsed)
	return e.analyze(ctx, r, StepHeadlessAnalyze, r.target, body, MethodHeadless)
}

func describeDocument(contentType string, body []byte) string {
	if contentType == "" {
		contentType = "no content-type"
	}
	return fmt.Sprintf("%s, %d bytes", contentType, len(body))
}

func describeLink(link NamedLink, body []byte) string {
	if link.Name == "" {
		return fmt.Sprintf("%d bytes", len(body))
	}
	return fmt.Sprintf("%s, %d bytes", link.Name, len(body))
}
