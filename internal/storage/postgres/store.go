// Package postgres persists acquisition records and batch progress in
// Postgres via pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/olam-creations/lefilonao-sub001/internal/acquisition"
	"github.com/olam-creations/lefilonao-sub001/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements store.RecordStore and store.BatchStore. Records live in
// Table, batches in Table_batches.
type Store struct {
	pool    pool
	records string
	batches string
}

const recordColumns = `id, COALESCE(batch_id, ''), notice_id, source_url, status, fetch_method,
	resolved_url, fallback_url, size_bytes, sha256, blob_uri, error_message,
	analysis, logs, created_at, completed_at`

const batchColumns = `id, status, total, succeeded, failed, created_at, finished_at`

// New connects a pgx pool and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s, err := NewWithPool(p, cfg.Table)
	if err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool.
func NewWithPool(p pool, table string) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "acquisitions"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: p, records: table, batches: table + "_batches"}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// SaveRecord upserts an acquisition record.
func (s *Store) SaveRecord(ctx context.Context, record store.Record) error {
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	logs, err := json.Marshal(nonNilLogs(record.Logs))
	if err != nil {
		return fmt.Errorf("marshal step logs: %w", err)
	}
	var analysis []byte
	if record.Analysis != nil {
		if analysis, err = json.Marshal(record.Analysis); err != nil {
			return fmt.Errorf("marshal analysis: %w", err)
		}
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, batch_id, notice_id, source_url, status, fetch_method,
	resolved_url, fallback_url, size_bytes, sha256, blob_uri, error_message,
	analysis, logs, created_at, completed_at
) VALUES (
	$1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	fetch_method = EXCLUDED.fetch_method,
	resolved_url = EXCLUDED.resolved_url,
	fallback_url = EXCLUDED.fallback_url,
	size_bytes = EXCLUDED.size_bytes,
	sha256 = EXCLUDED.sha256,
	blob_uri = EXCLUDED.blob_uri,
	error_message = EXCLUDED.error_message,
	analysis = EXCLUDED.analysis,
	logs = EXCLUDED.logs,
	completed_at = EXCLUDED.completed_at`, s.records)

	args := []any{
		record.ID,
		record.BatchID,
		record.NoticeID,
		record.SourceURL,
		string(record.Status),
		string(record.FetchMethod),
		record.ResolvedURL,
		record.FallbackURL,
		record.SizeBytes,
		record.SHA256,
		record.BlobURI,
		record.ErrorMessage,
		analysis,
		logs,
		record.CreatedAt,
		record.CompletedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// GetRecord loads one record.
func (s *Store) GetRecord(ctx context.Context, id string) (store.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, recordColumns, s.records)
	record, err := scanRecord(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Record{}, fmt.Errorf("record %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("select record: %w", err)
	}
	return record, nil
}

// ListBatchRecords loads the records of a batch, oldest first.
func (s *Store) ListBatchRecords(ctx context.Context, batchID string) ([]store.Record, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE batch_id = $1 ORDER BY created_at, id`, recordColumns, s.records)
	rows, err := s.pool.Query(ctx, query, batchID)
	if err != nil {
		return nil, fmt.Errorf("select batch records: %w", err)
	}
	defer rows.Close()

	var out []store.Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan batch record: %w", err)
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch records: %w", err)
	}
	return out, nil
}

// CreateBatch inserts a batch row.
func (s *Store) CreateBatch(ctx context.Context, batch store.Batch) error {
	if batch.Status == "" {
		batch.Status = store.BatchRunning
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, status, total, succeeded, failed, created_at)
VALUES ($1, $2, $3, 0, 0, $4)`, s.batches)
	if _, err := s.pool.Exec(ctx, query, batch.ID, string(batch.Status), batch.Total, batch.CreatedAt); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	return nil
}

// RecordBatchResult increments the batch counters atomically and completes
// the batch when every item has an outcome.
func (s *Store) RecordBatchResult(ctx context.Context, batchID string, succeeded bool, at time.Time) (store.Batch, error) {
	ok, failed := 0, 1
	if succeeded {
		ok, failed = 1, 0
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	succeeded = succeeded + $2,
	failed = failed + $3,
	status = CASE WHEN succeeded + $2 + failed + $3 >= total THEN '%s' ELSE status END,
	finished_at = CASE WHEN succeeded + $2 + failed + $3 >= total THEN COALESCE(finished_at, $4) ELSE finished_at END
WHERE id = $1
RETURNING %s`, s.batches, store.BatchCompleted, batchColumns)
	batch, err := scanBatch(s.pool.QueryRow(ctx, query, batchID, ok, failed, at.UTC()))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Batch{}, fmt.Errorf("batch %s: %w", batchID, store.ErrNotFound)
	}
	if err != nil {
		return store.Batch{}, fmt.Errorf("update batch: %w", err)
	}
	return batch, nil
}

// GetBatch loads one batch.
func (s *Store) GetBatch(ctx context.Context, id string) (store.Batch, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, batchColumns, s.batches)
	batch, err := scanBatch(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return store.Batch{}, fmt.Errorf("batch %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return store.Batch{}, fmt.Errorf("select batch: %w", err)
	}
	return batch, nil
}

func scanRecord(row pgx.Row) (store.Record, error) {
	var (
		record         store.Record
		status, method string
		analysis, logs []byte
	)
	if err := row.Scan(
		&record.ID,
		&record.BatchID,
		&record.NoticeID,
		&record.SourceURL,
		&status,
		&method,
		&record.ResolvedURL,
		&record.FallbackURL,
		&record.SizeBytes,
		&record.SHA256,
		&record.BlobURI,
		&record.ErrorMessage,
		&analysis,
		&logs,
		&record.CreatedAt,
		&record.CompletedAt,
	); err != nil {
		return store.Record{}, err
	}
	record.Status = store.RecordStatus(status)
	record.FetchMethod = acquisition.FetchMethod(method)
	if len(logs) > 0 {
		if err := json.Unmarshal(logs, &record.Logs); err != nil {
			return store.Record{}, fmt.Errorf("decode step logs: %w", err)
		}
	}
	if len(analysis) > 0 {
		var doc acquisition.StructuredDocument
		if err := json.Unmarshal(analysis, &doc); err != nil {
			return store.Record{}, fmt.Errorf("decode analysis: %w", err)
		}
		record.Analysis = &doc
	}
	return record, nil
}

func scanBatch(row pgx.Row) (store.Batch, error) {
	var (
		batch  store.Batch
		status string
	)
	if err := row.Scan(&batch.ID, &status, &batch.Total, &batch.Succeeded, &batch.Failed, &batch.CreatedAt, &batch.FinishedAt); err != nil {
		return store.Batch{}, err
	}
	batch.Status = store.BatchStatus(status)
	return batch, nil
}

func nonNilLogs(logs []acquisition.StepLogEntry) []acquisition.StepLogEntry {
	if logs == nil {
		return []acquisition.StepLogEntry{}
	}
	return logs
}
