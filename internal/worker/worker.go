package worker

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/olam-creations/lefilonao-sub001/internal/metrics"
	"github.com/olam-creations/lefilonao-sub001/internal/queue"
	"github.com/olam-creations/lefilonao-sub001/internal/store"
)

// Worker drains the batch queue through a Processor.
type Worker struct {
	queue     queue.Queue
	processor *Processor
	batches   store.BatchStore
	logger    *zap.Logger
}

// New constructs a Worker.
func New(q queue.Queue, processor *Processor, batches store.BatchStore, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     q,
		processor: processor,
		batches:   batches,
		logger:    logger.Named("worker"),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued notice",
			zap.String("batch_id", item.BatchID),
			zap.String("notice_id", item.NoticeID),
		)
		w.handle(ctx, item)
	}
}

func (w *Worker) handle(ctx context.Context, item queue.Item) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	record, err := w.processor.Process(ctx, Job{
		BatchID:   item.BatchID,
		NoticeID:  item.NoticeID,
		SourceURL: item.SourceURL,
		Options:   item.Options,
	})
	succeeded := err == nil && record.Status == store.RecordSucceeded
	status := string(record.Status)
	if err != nil {
		status = "persist_error"
	}
	metrics.ObserveBatchItem(status)

	if w.batches == nil || item.BatchID == "" {
		return
	}
	batch, err := w.batches.RecordBatchResult(ctx, item.BatchID, succeeded, w.processor.clock.Now())
	if err != nil {
		w.logger.Error("batch progress update failed",
			zap.String("batch_id", item.BatchID),
			zap.String("notice_id", item.NoticeID),
			zap.Error(err),
		)
		return
	}
	if batch.Status == store.BatchCompleted {
		w.logger.Info("batch completed",
			zap.String("batch_id", batch.ID),
			zap.Int("succeeded", batch.Succeeded),
			zap.Int("failed", batch.Failed),
		)
	}
}
