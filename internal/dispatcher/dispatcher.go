// Package dispatcher submits batches to the queue and fans the queued work
// out to a pool of workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/olam-creations/lefilonao-sub001/internal/acquisition"
	"github.com/olam-creations/lefilonao-sub001/internal/queue"
	"github.com/olam-creations/lefilonao-sub001/internal/store"
	"github.com/olam-creations/lefilonao-sub001/internal/worker"
)

// ErrEmptyBatch is returned when a batch carries no notices.
var ErrEmptyBatch = errors.New("batch has no notices")

// BatchOptions bound the cost of background acquisitions.
var BatchOptions = acquisition.Options{
	SkipExpensiveDiscovery: true,
	SkipHeadlessWorker:     true,
}

// Notice is one entry of a submitted batch.
type Notice struct {
	NoticeID  string `json:"notice_id"`
	SourceURL string `json:"source_url"`
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   queue.Queue
	batches store.BatchStore
	workers []*worker.Worker
	now     func() time.Time
}

// New creates a Dispatcher.
func New(q queue.Queue, batches store.BatchStore, workers []*worker.Worker) *Dispatcher {
	return &Dispatcher{
		queue:   q,
		batches: batches,
		workers: workers,
		now:     time.Now,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item queue.Item) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Submit creates a batch and enqueues one item per notice with BatchOptions.
// Notices that could not be enqueued are counted as failed so the batch can
// still complete; the returned error reports them.
func (d *Dispatcher) Submit(ctx context.Context, notices []Notice) (store.Batch, error) {
	if len(notices) == 0 {
		return store.Batch{}, ErrEmptyBatch
	}
	id, err := uuid.NewV7()
	if err != nil {
		return store.Batch{}, fmt.Errorf("generate batch id: %w", err)
	}
	batch := store.Batch{
		ID:        id.String(),
		Status:    store.BatchRunning,
		Total:     len(notices),
		CreatedAt: d.now().UTC(),
	}
	if err := d.batches.CreateBatch(ctx, batch); err != nil {
		return store.Batch{}, fmt.Errorf("create batch: %w", err)
	}

	var enqueueErr error
	for _, n := range notices {
		err := d.Enqueue(ctx, queue.Item{
			BatchID:    batch.ID,
			NoticeID:   n.NoticeID,
			SourceURL:  n.SourceURL,
			Options:    BatchOptions,
			EnqueuedAt: d.now().UTC(),
		})
		if err == nil {
			continue
		}
		enqueueErr = errors.Join(enqueueErr, fmt.Errorf("notice %s: %w", n.NoticeID, err))
		updated, recErr := d.batches.RecordBatchResult(ctx, batch.ID, false, d.now())
		if recErr != nil {
			enqueueErr = errors.Join(enqueueErr, fmt.Errorf("record batch result: %w", recErr))
			continue
		}
		batch = updated
	}
	return batch, enqueueErr
}
