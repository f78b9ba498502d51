package dispatcher

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/olam-creations/lefilonao-sub001/internal/queue"
	"github.com/olam-creations/lefilonao-sub001/internal/storage/memory"
	"github.com/olam-creations/lefilonao-sub001/internal/store"
	"github.com/olam-creations/lefilonao-sub001/internal/worker"
)

func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	started := make(chan struct{}, 1)
	q := &queue.MockQueue{}
	q.On("Dequeue", mock.Anything).Run(func(args mock.Arguments) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-args.Get(0).(context.Context).Done()
	}).Return(queue.Item{}, context.Canceled)

	w := worker.New(q, nil, nil, nil)
	d := New(q, memory.NewRecordStore(), []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("worker did not begin dequeuing")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

func TestDispatcherEnqueueWrapsErrors(t *testing.T) {
	t.Parallel()

	q := &queue.MockQueue{}
	q.On("Enqueue", mock.Anything, mock.Anything).Return(errors.New("boom"))

	err := New(q, nil, nil).Enqueue(context.Background(), queue.Item{NoticeID: "24-1"})
	require.EqualError(t, err, "queue enqueue: boom")
}

func TestSubmitEnqueuesWithBatchOptions(t *testing.T) {
	t.Parallel()

	q := &queue.MockQueue{}
	q.On("Enqueue", mock.Anything, mock.MatchedBy(func(item queue.Item) bool {
		return item.BatchID != "" && item.Options == BatchOptions && !item.EnqueuedAt.IsZero()
	})).Return(nil).Twice()
	batches := memory.NewRecordStore()

	batch, err := New(q, batches, nil).Submit(context.Background(), []Notice{
		{NoticeID: "24-1", SourceURL: "https://a.example/1"},
		{NoticeID: "24-2", SourceURL: "https://a.example/2"},
	})
	require.NoError(t, err)
	require.Equal(t, 2, batch.Total)
	require.Equal(t, store.BatchRunning, batch.Status)
	q.AssertExpectations(t)

	stored, err := batches.GetBatch(context.Background(), batch.ID)
	require.NoError(t, err)
	require.Equal(t, 2, stored.Total)
}

func TestSubmitCountsEnqueueFailures(t *testing.T) {
	t.Parallel()

	q := &queue.MockQueue{}
	q.On("Enqueue", mock.Anything, mock.MatchedBy(func(item queue.Item) bool {
		return item.NoticeID == "24-1"
	})).Return(nil)
	q.On("Enqueue", mock.Anything, mock.MatchedBy(func(item queue.Item) bool {
		return item.NoticeID == "24-2"
	})).Return(queue.ErrClosed)

	batch, err := New(q, memory.NewRecordStore(), nil).Submit(context.Background(), []Notice{
		{NoticeID: "24-1", SourceURL: "https://a.example/1"},
		{NoticeID: "24-2", SourceURL: "https://a.example/2"},
	})
	require.ErrorIs(t, err, queue.ErrClosed)
	require.ErrorContains(t, err, "notice 24-2")
	require.Equal(t, 1, batch.Failed)
	require.Equal(t, store.BatchRunning, batch.Status)
}

func TestSubmitRejectsEmptyBatch(t *testing.T) {
	t.Parallel()

	_, err := New(&queue.MockQueue{}, memory.NewRecordStore(), nil).Submit(context.Background(), nil)
	require.ErrorIs(t, err, ErrEmptyBatch)
}
