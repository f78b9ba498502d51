package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/olam-creations/lefilonao-sub001/internal/dispatcher"
	"github.com/olam-creations/lefilonao-sub001/internal/store"
)

const (
	defaultRecordLimit = 100
	maxRecordLimit     = 1000
	maxBatchNotices    = 500
	batchReadTimeout   = 3 * time.Second
)

// BatchHandler exposes batch submission and progress endpoints.
type BatchHandler struct {
	batches   store.BatchStore
	records   store.RecordStore
	submitter BatchSubmitter
	timeout   time.Duration
	logger    *zap.Logger
}

// NewBatchHandler wires the stores, dispatcher and logger.
func NewBatchHandler(batches store.BatchStore, records store.RecordStore, submitter BatchSubmitter, logger *zap.Logger) *BatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchHandler{
		batches:   batches,
		records:   records,
		submitter: submitter,
		timeout:   batchReadTimeout,
		logger:    logger,
	}
}

type batchRequest struct {
	Notices []dispatcher.Notice `json:"notices"`
}

// SubmitBatch handles POST /v1/batches. It answers 202 with the batch, 400
// for an empty or oversized batch, and 503 without a dispatcher.
func (h *BatchHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	if h.submitter == nil {
		writeError(w, http.StatusServiceUnavailable, "batch dispatcher unavailable")
		return
	}
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if len(req.Notices) == 0 {
		writeError(w, http.StatusBadRequest, "notices required")
		return
	}
	if len(req.Notices) > maxBatchNotices {
		writeError(w, http.StatusBadRequest, "too many notices")
		return
	}
	for i, n := range req.Notices {
		if strings.TrimSpace(n.NoticeID) == "" || strings.TrimSpace(n.SourceURL) == "" {
			writeError(w, http.StatusBadRequest, "notice "+strconv.Itoa(i)+": notice_id and source_url required")
			return
		}
	}

	batch, err := h.submitter.Submit(r.Context(), req.Notices)
	if err != nil {
		if batch.ID == "" {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		h.logger.Warn("batch partially enqueued",
			zap.String("batch_id", batch.ID),
			zap.Error(err),
		)
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"batch": batch})
}

// GetBatch handles GET /v1/batches/{batch_id}.
func (h *BatchHandler) GetBatch(w http.ResponseWriter, r *http.Request) {
	if h.batches == nil {
		writeError(w, http.StatusServiceUnavailable, "batch store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	batch, err := h.batches.GetBatch(ctx, chi.URLParam(r, "batch_id"))
	if err != nil {
		h.writeStoreError(w, err, "batch")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch": batch})
}

// ListRecords handles GET /v1/batches/{batch_id}/records?status=&limit=&offset=.
func (h *BatchHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	if h.batches == nil || h.records == nil {
		writeError(w, http.StatusServiceUnavailable, "record store unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	limit, offset, err := parseLimitOffset(r, defaultRecordLimit, maxRecordLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	status, err := parseStatus(r.URL.Query().Get("status"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	batchID := chi.URLParam(r, "batch_id")
	if _, err := h.batches.GetBatch(ctx, batchID); err != nil {
		h.writeStoreError(w, err, "batch")
		return
	}
	records, err := h.records.ListBatchRecords(ctx, batchID)
	if err != nil {
		h.writeStoreError(w, err, "records")
		return
	}
	if status != "" {
		filtered := records[:0]
		for _, rec := range records {
			if rec.Status == status {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": page(records, limit, offset)})
}

func (h *BatchHandler) writeStoreError(w http.ResponseWriter, err error, what string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, what+" not found")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "store timeout")
	default:
		h.logger.Error("store read failed", zap.String("what", what), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch "+what)
	}
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseStatus(input string) (store.RecordStatus, error) {
	switch strings.ToLower(input) {
	case "":
		return "", nil
	case "succeeded", "success":
		return store.RecordSucceeded, nil
	case "failed", "failure", "error":
		return store.RecordFailed, nil
	default:
		return "", errors.New("invalid status")
	}
}

func page(records []store.Record, limit, offset int) []store.Record {
	if offset >= len(records) {
		return []store.Record{}
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	return records[offset:end]
}
