// Package acquisition implements the multi-tier document acquisition engine:
// given a notice and a source URL it walks an ordered cascade of fetch
// strategies and returns validated, analyzed document bytes or a diagnosable
// failure together with the full step log.
package acquisition

import (
	"net/http"
	"time"
)

// Options toggles the expensive tiers for a single run.
type Options struct {
	SkipExpensiveDiscovery bool `json:"skip_expensive_discovery"`
	SkipHeadlessWorker     bool `json:"skip_headless_worker"`
}

// Request is the immutable input of one acquisition run.
type Request struct {
	NoticeID  string    `json:"notice_id"`
	SourceURL string    `json:"source_url"`
	Deadline  time.Time `json:"deadline"`
	Options   Options   `json:"options"`
}

// FetchMethod tags the tier that produced the document.
type FetchMethod string

// Tier tags reported on successful outcomes.
const (
	MethodDirect    FetchMethod = "direct_pdf"
	MethodHTML      FetchMethod = "html_extract"
	MethodDiscovery FetchMethod = "unlocker_discovery"
	MethodUnlocker  FetchMethod = "unlocker_raw"
	MethodHeadless  FetchMethod = "headless_worker"
)

// CandidateLink is a document link discovered while walking a tier.
type CandidateLink struct {
	URL              string `json:"url"`
	Name             string `json:"name,omitempty"`
	DiscoveredByStep string `json:"discovered_by_step"`
}

// NamedLink is a document link returned by the discovery collaborator.
type NamedLink struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// FetchResponse is the terminal, non-redirect response of a fetch.
type FetchResponse struct {
	URL         string
	StatusCode  int
	Headers     http.Header
	ContentType string
	Body        []byte
	Duration    time.Duration
	Hops        []string
}

// StructuredDocument is what the analyzer extracts from document bytes.
type StructuredDocument struct {
	Title     string         `json:"title,omitempty"`
	Reference string         `json:"reference,omitempty"`
	PageCount int            `json:"page_count,omitempty"`
	Files     []string       `json:"files,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Outcome is either a Success or a Failure.
type Outcome interface {
	Succeeded() bool
	StepLogs() []StepLogEntry
}

// Success carries the accepted document and its analysis.
type Success struct {
	DocumentBytes []byte             `json:"-"`
	FetchMethod   FetchMethod        `json:"fetch_method"`
	SizeBytes     int                `json:"size_bytes"`
	ResolvedURL   string             `json:"resolved_url"`
	Analysis      StructuredDocument `json:"analysis"`
	Logs          []StepLogEntry     `json:"logs"`
}

// Succeeded implements Outcome.
func (Success) Succeeded() bool { return true }

// StepLogs implements Outcome.
func (s Success) StepLogs() []StepLogEntry { return s.Logs }

// Failure explains why no document could be produced.
type Failure struct {
	ErrorMessage string         `json:"error_message"`
	FallbackURL  string         `json:"fallback_url,omitempty"`
	ResolvedURL  string         `json:"resolved_url,omitempty"`
	Logs         []StepLogEntry `json:"logs"`
	Err          error          `json:"-"`
}

// Succeeded implements Outcome.
func (Failure) Succeeded() bool { return false }

// StepLogs implements Outcome.
func (f Failure) StepLogs() []StepLogEntry { return f.Logs }
