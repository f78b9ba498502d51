package store

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/olam-creations/lefilonao-sub001/internal/acquisition"
)

// ErrNotFound signals that the requested record or batch does not exist.
var ErrNotFound = errors.New("record not found")

// RecordStatus is the terminal state of one acquisition.
type RecordStatus string

// Record statuses.
const (
	RecordSucceeded RecordStatus = "succeeded"
	RecordFailed    RecordStatus = "failed"
)

// Record is the persisted form of one acquisition outcome.
type Record struct {
	ID           string                          `json:"id"`
	BatchID      string                          `json:"batch_id,omitempty"`
	NoticeID     string                          `json:"notice_id"`
	SourceURL    string                          `json:"source_url"`
	Status       RecordStatus                    `json:"status"`
	FetchMethod  acquisition.FetchMethod         `json:"fetch_method,omitempty"`
	ResolvedURL  string                          `json:"resolved_url,omitempty"`
	FallbackURL  string                          `json:"fallback_url,omitempty"`
	SizeBytes    int                             `json:"size_bytes,omitempty"`
	SHA256       string                          `json:"sha256,omitempty"`
	BlobURI      string                          `json:"blob_uri,omitempty"`
	ErrorMessage string                          `json:"error_message,omitempty"`
	Analysis     *acquisition.StructuredDocument `json:"analysis,omitempty"`
	Logs         []acquisition.StepLogEntry      `json:"logs"`
	CreatedAt    time.Time                       `json:"created_at"`
	CompletedAt  time.Time                       `json:"completed_at"`
}

// BatchStatus tracks the lifecycle of a batch.
type BatchStatus string

// Batch statuses.
const (
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
)

// Batch groups notices submitted together for background acquisition.
type Batch struct {
	ID         string      `json:"id"`
	Status     BatchStatus `json:"status"`
	Total      int         `json:"total"`
	Succeeded  int         `json:"succeeded"`
	Failed     int         `json:"failed"`
	CreatedAt  time.Time   `json:"created_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// Done reports whether every item of the batch has an outcome.
func (b Batch) Done() bool {
	return b.Succeeded+b.Failed >= b.Total
}

// Event is published when an acquisition completes.
type Event struct {
	RecordID    string                  `json:"record_id"`
	BatchID     string                  `json:"batch_id,omitempty"`
	NoticeID    string                  `json:"notice_id"`
	Status      RecordStatus            `json:"status"`
	FetchMethod acquisition.FetchMethod `json:"fetch_method,omitempty"`
	BlobURI     string                  `json:"blob_uri,omitempty"`
	SHA256      string                  `json:"sha256,omitempty"`
	SizeBytes   int                     `json:"size_bytes,omitempty"`
	CompletedAt time.Time               `json:"completed_at"`
}

// BlobStore persists document bytes and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// RecordStore persists acquisition records.
type RecordStore interface {
	SaveRecord(ctx context.Context, record Record) error
	GetRecord(ctx context.Context, id string) (Record, error)
	ListBatchRecords(ctx context.Context, batchID string) ([]Record, error)
}

// BatchStore tracks batch progress.
type BatchStore interface {
	CreateBatch(ctx context.Context, batch Batch) error
	// RecordBatchResult counts one item outcome and returns the updated batch.
	RecordBatchResult(ctx context.Context, batchID string, succeeded bool, at time.Time) (Batch, error)
	GetBatch(ctx context.Context, id string) (Batch, error)
}

// Publisher emits completion events.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
