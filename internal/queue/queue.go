// Package queue defines the batch work queue shared by the API, which
// enqueues one item per notice, and the workers that drain it.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/olam-creations/lefilonao-sub001/internal/acquisition"
)

// ErrClosed is returned by Dequeue once a queue is closed and drained.
var ErrClosed = errors.New("queue closed")

// Item is one notice awaiting background acquisition.
type Item struct {
	BatchID    string              `json:"batch_id"`
	NoticeID   string              `json:"notice_id"`
	SourceURL  string              `json:"source_url"`
	Options    acquisition.Options `json:"options"`
	EnqueuedAt time.Time           `json:"enqueued_at"`
}

// Queue is a context-aware FIFO of items.
type Queue interface {
	Enqueue(ctx context.Context, item Item) error
	Dequeue(ctx context.Context) (Item, error)
}
