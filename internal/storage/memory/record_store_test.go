package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/olam-creations/lefilonao-sub001/internal/acquisition"
	"github.com/olam-creations/lefilonao-sub001/internal/store"
)

func TestRecordStoreRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewRecordStore()
	ctx := context.Background()
	rec := store.Record{
		ID:       "rec-1",
		NoticeID: "24-123456",
		Status:   store.RecordSucceeded,
		Logs:     []acquisition.StepLogEntry{{Step: acquisition.StepDirectFetch, Status: acquisition.StatusSuccess}},
	}
	require.NoError(t, s.SaveRecord(ctx, rec))

	got, err := s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	require.Equal(t, rec, got)

	got.Logs[0].Detail = "mutated"
	again, err := s.GetRecord(ctx, "rec-1")
	require.NoError(t, err)
	require.Empty(t, again.Logs[0].Detail)

	_, err = s.GetRecord(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
	require.Error(t, s.SaveRecord(ctx, store.Record{}))
}

func TestListBatchRecordsOrdersByCreation(t *testing.T) {
	t.Parallel()

	s := NewRecordStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveRecord(ctx, store.Record{ID: "b", BatchID: "batch", CreatedAt: base.Add(time.Second)}))
	require.NoError(t, s.SaveRecord(ctx, store.Record{ID: "a", BatchID: "batch", CreatedAt: base}))
	require.NoError(t, s.SaveRecord(ctx, store.Record{ID: "c", BatchID: "other", CreatedAt: base}))

	records, err := s.ListBatchRecords(ctx, "batch")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "a", records[0].ID)
	require.Equal(t, "b", records[1].ID)
}

func TestBatchCompletesOnLastResult(t *testing.T) {
	t.Parallel()

	s := NewRecordStore()
	ctx := context.Background()
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.CreateBatch(ctx, store.Batch{ID: "batch", Total: 2, CreatedAt: at}))
	require.Error(t, s.CreateBatch(ctx, store.Batch{ID: "batch"}))

	batch, err := s.RecordBatchResult(ctx, "batch", true, at)
	require.NoError(t, err)
	require.Equal(t, store.BatchRunning, batch.Status)
	require.Nil(t, batch.FinishedAt)

	batch, err = s.RecordBatchResult(ctx, "batch", false, at.Add(time.Minute))
	require.NoError(t, err)
	require.Equal(t, store.BatchCompleted, batch.Status)
	require.Equal(t, 1, batch.Succeeded)
	require.Equal(t, 1, batch.Failed)
	require.NotNil(t, batch.FinishedAt)
	require.Equal(t, at.Add(time.Minute), *batch.FinishedAt)

	_, err = s.RecordBatchResult(ctx, "missing", true, at)
	require.ErrorIs(t, err, store.ErrNotFound)
}
