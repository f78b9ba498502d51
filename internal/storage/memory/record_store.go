package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/olam-creations/lefilonao-sub001/internal/store"
)

// RecordStore keeps acquisition records and batches in memory.
type RecordStore struct {
	mu      sync.RWMutex
	records map[string]store.Record
	batches map[string]store.Batch
}

// NewRecordStore constructs a RecordStore.
func NewRecordStore() *RecordStore {
	return &RecordStore{
		records: make(map[string]store.Record),
		batches: make(map[string]store.Batch),
	}
}

// SaveRecord inserts or replaces a record.
func (s *RecordStore) SaveRecord(_ context.Context, record store.Record) error {
	if record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = cloneRecord(record)
	return nil
}

// GetRecord fetches a record by ID.
func (s *RecordStore) GetRecord(_ context.Context, id string) (store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return store.Record{}, fmt.Errorf("record %s: %w", id, store.ErrNotFound)
	}
	return cloneRecord(record), nil
}

// ListBatchRecords returns the records of a batch, oldest first.
func (s *RecordStore) ListBatchRecords(_ context.Context, batchID string) ([]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Record
	for _, record := range s.records {
		if record.BatchID == batchID {
			out = append(out, cloneRecord(record))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// CreateBatch stores a new batch.
func (s *RecordStore) CreateBatch(_ context.Context, batch store.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.batches[batch.ID]; exists {
		return fmt.Errorf("batch %s already exists", batch.ID)
	}
	if batch.Status == "" {
		batch.Status = store.BatchRunning
	}
	s.batches[batch.ID] = batch
	return nil
}

// RecordBatchResult counts one outcome and completes the batch on its last item.
func (s *RecordStore) RecordBatchResult(_ context.Context, batchID string, succeeded bool, at time.Time) (store.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch, ok := s.batches[batchID]
	if !ok {
		return store.Batch{}, fmt.Errorf("batch %s: %w", batchID, store.ErrNotFound)
	}
	if succeeded {
		batch.Succeeded++
	} else {
		batch.Failed++
	}
	if batch.Done() && batch.Status != store.BatchCompleted {
		batch.Status = store.BatchCompleted
		finished := at.UTC()
		batch.FinishedAt = &finished
	}
	s.batches[batchID] = batch
	return batch, nil
}

// GetBatch fetches a batch by ID.
func (s *RecordStore) GetBatch(_ context.Context, id string) (store.Batch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	batch, ok := s.batches[id]
	if !ok {
		return store.Batch{}, fmt.Errorf("batch %s: %w", id, store.ErrNotFound)
	}
	return batch, nil
}

func cloneRecord(r store.Record) store.Record {
	r.Logs = append(r.Logs[:0:0], r.Logs...)
	if r.Analysis != nil {
		analysis := *r.Analysis
		r.Analysis = &analysis
	}
	return r
}
