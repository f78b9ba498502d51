// Package worker runs acquisitions and persists their outcomes: document
// bytes to the blob store, the record to the record store, and a completion
// event to the publisher. It also hosts the batch worker loop.
package worker

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/olam-creations/lefilonao-sub001/internal/acquisition"
	"github.com/olam-creations/lefilonao-sub001/internal/store"
)

// EventCompleted names the event published for every finished acquisition.
const EventCompleted = "acquisition.completed"

// Acquirer runs one acquisition.
type Acquirer interface {
	AcquireDocument(ctx context.Context, req acquisition.Request) acquisition.Outcome
}

// Config controls persistence.
type Config struct {
	BlobPrefix      string
	PersistAttempts int
	PersistBackoff  time.Duration
}

// Job is one acquisition to run and persist.
type Job struct {
	BatchID   string
	NoticeID  string
	SourceURL string
	Options   acquisition.Options
	// Deadline overrides the engine budget when set.
	Deadline time.Time
}

// Processor runs the engine for a job and persists the outcome.
type Processor struct {
	engine    Acquirer
	blobs     store.BlobStore
	records   store.RecordStore
	publisher store.Publisher
	clock     acquisition.Clock
	cfg       Config
	logger    *zap.Logger
}

// NewProcessor wires a Processor. publisher and clock may be nil.
func NewProcessor(
	engine Acquirer,
	blobs store.BlobStore,
	records store.RecordStore,
	publisher store.Publisher,
	clock acquisition.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Processor, error) {
	if engine == nil || blobs == nil || records == nil {
		return nil, errors.New("processor requires an engine, a blob store and a record store")
	}
	if clock == nil {
		clock = acquisition.SystemClock{}
	}
	if cfg.PersistAttempts <= 0 {
		cfg.PersistAttempts = 3
	}
	if cfg.PersistBackoff <= 0 {
		cfg.PersistBackoff = 200 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		engine:    engine,
		blobs:     blobs,
		records:   records,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("processor"),
	}, nil
}

// Process runs the acquisition and persists it. The returned record always
// reflects the engine outcome; a non-nil error reports persistence problems.
func (p *Processor) Process(ctx context.Context, job Job) (store.Record, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return store.Record{}, fmt.Errorf("generate record id: %w", err)
	}
	created := p.clock.Now()
	outcome := p.engine.AcquireDocument(ctx, acquisition.Request{
		NoticeID:  job.NoticeID,
		SourceURL: job.SourceURL,
		Deadline:  job.Deadline,
		Options:   job.Options,
	})

	record := store.Record{
		ID:          id.String(),
		BatchID:     job.BatchID,
		NoticeID:    job.NoticeID,
		SourceURL:   job.SourceURL,
		Logs:        outcome.StepLogs(),
		CreatedAt:   created,
		CompletedAt: p.clock.Now(),
	}

	var persistErr error
	switch o := outcome.(type) {
	case acquisition.Success:
		record.Status = store.RecordSucceeded
		record.FetchMethod = o.FetchMethod
		record.ResolvedURL = o.ResolvedURL
		record.SizeBytes = o.SizeBytes
		analysis := o.Analysis
		record.Analysis = &analysis
		record.SHA256 = digest(o.DocumentBytes)
		uri, err := p.storeDocument(ctx, job.NoticeID, record.SHA256, o.DocumentBytes)
		if err != nil {
			persistErr = err
		}
		record.BlobURI = uri
	case acquisition.Failure:
		record.Status = store.RecordFailed
		record.ErrorMessage = o.ErrorMessage
		record.FallbackURL = o.FallbackURL
		record.ResolvedURL = o.ResolvedURL
	}

	if err := p.retry(ctx, "save record", func() error { return p.records.SaveRecord(ctx, record) }); err != nil {
		persistErr = errors.Join(persistErr, err)
	}
	if err := p.publish(ctx, record); err != nil {
		persistErr = errors.Join(persistErr, err)
	}
	if persistErr != nil {
		p.logger.Error("persisting acquisition failed",
			zap.String("record_id", record.ID),
			zap.String("notice_id", record.NoticeID),
			zap.Error(persistErr),
		)
	}
	return record, persistErr
}

// BlobPath returns where a document is stored: <prefix>/<notice_id>/<sha256>.<ext>.
func (p *Processor) BlobPath(noticeID, hash string, document []byte) string {
	name := fmt.Sprintf("%s/%s.%s", sanitizeSegment(noticeID), hash, acquisition.DetectExtension(document))
	prefix := strings.Trim(p.cfg.BlobPrefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func (p *Processor) storeDocument(ctx context.Context, noticeID, hash string, document []byte) (string, error) {
	path := p.BlobPath(noticeID, hash, document)
	var uri string
	err := p.retry(ctx, "put object", func() error {
		var err error
		uri, err = p.blobs.PutObject(ctx, path, contentType(document), bytes.NewReader(document))
		return err
	})
	if err != nil {
		return "", err
	}
	return uri, nil
}

func (p *Processor) publish(ctx context.Context, record store.Record) error {
	if p.publisher == nil {
		return nil
	}
	event := store.Event{
		RecordID:    record.ID,
		BatchID:     record.BatchID,
		NoticeID:    record.NoticeID,
		Status:      record.Status,
		FetchMethod: record.FetchMethod,
		BlobURI:     record.BlobURI,
		SHA256:      record.SHA256,
		SizeBytes:   record.SizeBytes,
		CompletedAt: record.CompletedAt,
	}
	if _, err := p.publisher.Publish(ctx, EventCompleted, event); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

func (p *Processor) retry(ctx context.Context, what string, op func() error) error {
	var err error
	backoff := p.cfg.PersistBackoff
	for attempt := 1; attempt <= p.cfg.PersistAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt == p.cfg.PersistAttempts {
			break
		}
		p.logger.Warn("persistence attempt failed",
			zap.String("op", what),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", what, errors.Join(err, ctx.Err()))
		case <-timer.C:
		}
		backoff *= 2
	}
	return fmt.Errorf("%s after %d attempts: %w", what, p.cfg.PersistAttempts, err)
}

func digest(document []byte) string {
	sum := sha256.Sum256(document)
	return hex.EncodeToString(sum[:])
}

func contentType(document []byte) string {
	switch acquisition.DetectExtension(document) {
	case "pdf":
		return "application/pdf"
	case "zip":
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}

func sanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}
