package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/olam-creations/lefilonao-sub001/internal/acquisition"
	"github.com/olam-creations/lefilonao-sub001/internal/store"
	"github.com/olam-creations/lefilonao-sub001/internal/worker"
)

type acquisitionRequest struct {
	NoticeID  string              `json:"notice_id"`
	SourceURL string              `json:"source_url"`
	Options   acquisition.Options `json:"options"`
}

type acquisitionResponse struct {
	Record       store.Record `json:"record"`
	PersistError string       `json:"persist_error,omitempty"`
}

// submitAcquisition runs the cascade synchronously. A failed acquisition is
// still a 200: the record carries the failure and its fallback URL.
func (s *Server) submitAcquisition(w http.ResponseWriter, r *http.Request) {
	if s.deps.Processor == nil {
		writeError(w, http.StatusServiceUnavailable, "processor unavailable")
		return
	}
	var req acquisitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.NoticeID = strings.TrimSpace(req.NoticeID)
	req.SourceURL = strings.TrimSpace(req.SourceURL)
	if req.NoticeID == "" || req.SourceURL == "" {
		writeError(w, http.StatusBadRequest, "notice_id and source_url required")
		return
	}

	record, err := s.deps.Processor.Process(r.Context(), worker.Job{
		NoticeID:  req.NoticeID,
		SourceURL: req.SourceURL,
		Options:   req.Options,
	})
	resp := acquisitionResponse{Record: record}
	if err != nil {
		if record.ID == "" {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.logger.Warn("acquisition persisted partially",
			zap.String("record_id", record.ID),
			zap.Error(err),
		)
		resp.PersistError = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getAcquisition(w http.ResponseWriter, r *http.Request) {
	if s.deps.Records == nil {
		writeError(w, http.StatusServiceUnavailable, "record store unavailable")
		return
	}
	id := chi.URLParam(r, "record_id")
	record, err := s.deps.Records.GetRecord(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "record not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to fetch record")
		return
	}
	writeJSON(w, http.StatusOK, record)
}
