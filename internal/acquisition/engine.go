package acquisition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/olam-creations/lefilonao-sub001/internal/headless/detector"
	"github.com/olam-creations/lefilonao-sub001/internal/metrics"
	"github.com/olam-creations/lefilonao-sub001/internal/urlguard"
)

const tracerName = "github.com/olam-creations/lefilonao-sub001/internal/acquisition"

// Config bounds a run.
type Config struct {
	MaxDocumentBytes   int
	HTMLCandidateLimit int
	DiscoveryBatchSize int
	// Budget is the default run length when a request carries no deadline.
	Budget time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxDocumentBytes <= 0 {
		c.MaxDocumentBytes = DefaultMaxDocumentBytes
	}
	if c.HTMLCandidateLimit <= 0 {
		c.HTMLCandidateLimit = 3
	}
	if c.DiscoveryBatchSize <= 0 {
		c.DiscoveryBatchSize = 3
	}
	if c.Budget <= 0 {
		c.Budget = 2 * time.Minute
	}
	return c
}

// Dependencies are the collaborators of the engine. Fetcher and Analyzer are
// required; the others disable their tier when nil.
type Dependencies struct {
	Fetcher   Fetcher
	Analyzer  Analyzer
	Resolver  Resolver
	Unlocker  Unlocker
	Headless  HeadlessWorker
	Validator URLValidator
	Clock     Clock
}

// Engine runs the acquisition cascade. It holds no per-request state and is
// safe for concurrent use.
type Engine struct {
	cfg       Config
	fetcher   Fetcher
	analyzer  Analyzer
	resolver  Resolver
	unlocker  Unlocker
	headless  HeadlessWorker
	validator URLValidator
	clock     Clock
	tiers     []tier
	shell     *detector.Heuristic
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewEngine wires an Engine.
func NewEngine(cfg Config, deps Dependencies, logger *zap.Logger) (*Engine, error) {
	if deps.Fetcher == nil {
		return nil, errors.New("acquisition engine requires a fetcher")
	}
	if deps.Analyzer == nil {
		return nil, errors.New("acquisition engine requires an analyzer")
	}
	if deps.Validator == nil {
		deps.Validator = urlguard.NewGuard()
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg.withDefaults(),
		fetcher:   deps.Fetcher,
		analyzer:  deps.Analyzer,
		resolver:  deps.Resolver,
		unlocker:  deps.Unlocker,
		headless:  deps.Headless,
		validator: deps.Validator,
		clock:     deps.Clock,
		tiers:     defaultTiers(),
		shell:     detector.NewHeuristic(0),
		logger:    logger.Named("engine"),
		tracer:    otel.Tracer(tracerName),
	}, nil
}

// run is the mutable state of one AcquireDocument call.
type run struct {
	req         Request
	log         *StepLog
	budget      Budget
	target      string
	resolvedURL string
	fallbackURL string

	html    []byte
	htmlURL string

	unreadable    []string
	deadlineSteps []string
}

// promote records a more specific URL reached by a successful step. The
// working target never replaces a URL already reached by resolution or a
// redirect.
func (r *run) promote(u string) {
	if u == "" || (u == r.target && r.resolvedURL != "") {
		return
	}
	r.resolvedURL = u
}

// AcquireDocument walks the cascade for req and always returns exactly one
// outcome with a non-empty step log.
func (e *Engine) AcquireDocument(ctx context.Context, req Request) Outcome {
	start := e.clock.Now()
	ctx, span := e.tracer.Start(ctx, "acquisition.AcquireDocument", trace.WithAttributes(
		attribute.String("dce.notice_id", req.NoticeID),
	))
	defer span.End()

	deadline := req.Deadline
	if deadline.IsZero() {
		deadline = start.Add(e.cfg.Budget)
	}
	r := &run{
		req:         req,
		log:         NewStepLog(req.NoticeID, e.logger),
		budget:      NewBudget(deadline, e.clock),
		fallbackURL: req.SourceURL,
	}

	outcome := e.acquire(ctx, r)

	elapsed := e.clock.Now().Sub(start)
	switch o := outcome.(type) {
	case Success:
		span.SetAttributes(attribute.String("dce.fetch_method", string(o.FetchMethod)))
		metrics.ObserveAcquisition("success", string(o.FetchMethod), o.SizeBytes, elapsed)
		e.logger.Info("document acquired",
			zap.String("notice_id", req.NoticeID),
			zap.String("fetch_method", string(o.FetchMethod)),
			zap.Int("size_bytes", o.SizeBytes),
			zap.String("resolved_url", o.ResolvedURL),
			zap.Duration("elapsed", elapsed),
		)
	case Failure:
		span.SetStatus(codes.Error, o.ErrorMessage)
		metrics.ObserveAcquisition("failure", "", 0, elapsed)
		e.logger.Info("document acquisition failed",
			zap.String("notice_id", req.NoticeID),
			zap.String("error", o.ErrorMessage),
			zap.String("fallback_url", o.FallbackURL),
			zap.Duration("elapsed", elapsed),
		)
	}
	return outcome
}

func (e *Engine) acquire(ctx context.Context, r *run) Outcome {
	source := urlguard.Normalize(r.req.SourceURL)
	if err := e.validator.Check(source); err != nil {
		r.log.Fail(StepValidateURL, source, "disallowed: "+err.Error(), 0)
		return Failure{
			ErrorMessage: fmt.Sprintf("%s: %s", ErrSourceDisallowed, err),
			FallbackURL:  r.fallbackURL,
			Logs:         r.log.Entries(),
			Err:          fmt.Errorf("%w: %w", ErrSourceDisallowed, err),
		}
	}
	r.log.Success(StepValidateURL, source, "", 0)
	r.target = source

	e.resolve(ctx, r)

	for i, t := range e.tiers {
		if i > 0 && r.budget.Exceeded() {
			r.deadlineSteps = append(r.deadlineSteps, t.step())
			r.log.Skip(t.step(), "deadline exceeded, tier not started")
			metrics.ObserveTierAttempt(t.name(), string(StatusSkip))
			continue
		}
		if ctx.Err() != nil {
			r.log.Skip(t.step(), "canceled: "+ctx.Err().Error())
			metrics.ObserveTierAttempt(t.name(), string(StatusSkip))
			continue
		}
		if reason, skip := t.skip(e, r); skip {
			r.log.Skip(t.step(), reason)
			metrics.ObserveTierAttempt(t.name(), string(StatusSkip))
			continue
		}

		tierCtx, span := e.tracer.Start(ctx, "acquisition.tier."+t.name())
		success := t.attempt(tierCtx, e, r)
		if success != nil {
			span.End()
			metrics.ObserveTierAttempt(t.name(), string(StatusSuccess))
			return *success
		}
		span.SetStatus(codes.Error, "no document")
		span.End()
		metrics.ObserveTierAttempt(t.name(), string(StatusFail))
	}

	return e.exhausted(r)
}

// resolve is tier 0: rewrite thin notice pages to the buyer-platform URL.
func (e *Engine) resolve(ctx context.Context, r *run) {
	if e.resolver == nil || !e.resolver.Applies(r.target) {
		r.log.Skip(StepBoampResolve, "not a notice listing page")
		return
	}
	start := e.clock.Now()
	res, err := e.resolver.Resolve(ctx, r.req.NoticeID, r.target)
	elapsed := e.clock.Now().Sub(start)
	switch {
	case err != nil:
		r.log.Fail(StepBoampResolve, r.target, "lookup failed: "+err.Error(), elapsed)
	case res.URL == "":
		r.log.Fail(StepBoampResolve, r.target, nonEmpty(res.Detail, "no buyer platform url in record"), elapsed)
	default:
		candidate := urlguard.Normalize(res.URL)
		if err := e.validator.Check(candidate); err != nil {
			r.log.Fail(StepBoampResolve, candidate, "disallowed: "+err.Error(), elapsed)
			return
		}
		r.target = candidate
		r.promote(candidate)
		r.log.Success(StepBoampResolve, candidate, nonEmpty(res.Detail, res.Source), elapsed)
	}
}

// analyze runs the deadline checkpoint and the analyzer on an accepted buffer.
func (e *Engine) analyze(ctx context.Context, r *run, step, docURL string, body []byte, method FetchMethod) *Success {
	if r.budget.Exceeded() {
		r.deadlineSteps = append(r.deadlineSteps, step)
		r.log.Fail(step, docURL, fmt.Sprintf("%s: %s", method, ErrDeadlineExceeded), 0)
		return nil
	}
	start := e.clock.Now()
	doc, err := e.analyzer.Analyze(ctx, body)
	elapsed := e.clock.Now().Sub(start)
	if err != nil {
		r.unreadable = append(r.unreadable, fmt.Sprintf("%s: %v", method, err))
		r.log.Fail(step, docURL, fmt.Sprintf("%s: %v", ErrUnreadable, err), elapsed)
		return nil
	}
	r.log.Success(step, docURL, fmt.Sprintf("%d bytes analyzed", len(body)), elapsed)
	r.promote(docURL)
	return &Success{
		DocumentBytes: body,
		FetchMethod:   method,
		SizeBytes:     len(body),
		ResolvedURL:   r.resolvedURL,
		Analysis:      doc,
		Logs:          r.log.Entries(),
	}
}

func (e *Engine) exhausted(r *run) Failure {
	var (
		parts []string
		errs  []error
	)
	if len(r.unreadable) > 0 {
		parts = append(parts, fmt.Sprintf("%s (%s)", ErrUnreadable, strings.Join(r.unreadable, "; ")))
		errs = append(errs, ErrUnreadable)
	}
	if len(r.deadlineSteps) > 0 {
		parts = append(parts, fmt.Sprintf("%s at %s", ErrDeadlineExceeded, r.deadlineSteps[0]))
		errs = append(errs, ErrDeadlineExceeded)
	}
	if len(parts) == 0 {
		parts = append(parts, ErrExhausted.Error()+" after all tiers")
	}
	errs = append(errs, ErrExhausted)
	return Failure{
		ErrorMessage: strings.Join(parts, "; "),
		FallbackURL:  r.fallbackURL,
		ResolvedURL:  r.resolvedURL,
		Logs:         r.log.Entries(),
		Err:          errors.Join(errs...),
	}
}

func (e *Engine) checkURL(r *run, step, u string) bool {
	if err := e.validator.Check(u); err != nil {
		r.log.Fail(step, u, "disallowed: "+err.Error(), 0)
		return false
	}
	return true
}

func describeFetchError(err error) string {
	if errors.Is(err, urlguard.ErrDisallowed) && !errors.Is(err, ErrDisallowedRedirect) {
		return "disallowed: " + err.Error()
	}
	return err.Error()
}

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}
