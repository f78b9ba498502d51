package acquisition

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// StepStatus is the result of one logged step.
type StepStatus string

// Step statuses.
const (
	StatusSuccess StepStatus = "success"
	StatusSkip    StepStatus = "skip"
	StatusFail    StepStatus = "fail"
)

// Step names written by the cascade, in attempt order.
const (
	StepBoampResolve     = "boamp_resolve"
	StepValidateURL      = "validate_url"
	StepDirectFetch      = "direct_fetch"
	StepDirectAnalyze    = "direct_analyze"
	StepHTMLExtract      = "html_extract"
	StepHTMLFetch        = "html_fetch"
	StepHTMLAnalyze      = "html_analyze"
	StepDiscovery        = "discovery"
	StepDiscoveryFetch   = "discovery_fetch"
	StepDiscoveryAnalyze = "discovery_analyze"
	StepUnlockerFetch    = "unlocker_fetch"
	StepUnlockerAnalyze  = "unlocker_analyze"
	StepHeadlessFetch    = "headless_fetch"
	StepHeadlessAnalyze  = "headless_analyze"
)

// StepLogEntry is one audit record of a run.
type StepLogEntry struct {
	Step       string     `json:"step"`
	Status     StepStatus `json:"status"`
	Detail     string     `json:"detail,omitempty"`
	DurationMs int64      `json:"duration_ms,omitempty"`
	URL        string     `json:"url,omitempty"`
}

// StepLog is the ordered, append-only audit trail of a single run. It is safe
// for concurrent appends.
//
// A tier that did not run still writes its entry with StatusSkip, so the tiers
// actually attempted are the entries whose status is not StatusSkip.
type StepLog struct {
	mu       sync.Mutex
	entries  []StepLogEntry
	noticeID string
	logger   *zap.Logger
}

// NewStepLog creates an empty log that mirrors entries to logger at debug level.
func NewStepLog(noticeID string, logger *zap.Logger) *StepLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StepLog{noticeID: noticeID, logger: logger}
}

// Append records entry.
func (l *StepLog) Append(entry StepLogEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	l.logger.Debug("acquisition step",
		zap.String("notice_id", l.noticeID),
		zap.String("step", entry.Step),
		zap.String("status", string(entry.Status)),
		zap.String("url", entry.URL),
		zap.Int64("duration_ms", entry.DurationMs),
		zap.String("detail", entry.Detail),
	)
}

// Success records a successful step.
func (l *StepLog) Success(step, url, detail string, elapsed time.Duration) {
	l.Append(StepLogEntry{Step: step, Status: StatusSuccess, URL: url, Detail: detail, DurationMs: elapsed.Milliseconds()})
}

// Fail records a failed step.
func (l *StepLog) Fail(step, url, detail string, elapsed time.Duration) {
	l.Append(StepLogEntry{Step: step, Status: StatusFail, URL: url, Detail: detail, DurationMs: elapsed.Milliseconds()})
}

// Skip records a step that was not attempted.
func (l *StepLog) Skip(step, detail string) {
	l.Append(StepLogEntry{Step: step, Status: StatusSkip, Detail: detail})
}

// Entries returns a copy of the recorded entries in append order.
func (l *StepLog) Entries() []StepLogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]StepLogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len reports how many entries have been recorded.
func (l *StepLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
