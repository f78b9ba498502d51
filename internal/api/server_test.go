package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/olam-creations/lefilonao-sub001/internal/acquisition"
	"github.com/olam-creations/lefilonao-sub001/internal/config"
	"github.com/olam-creations/lefilonao-sub001/internal/dispatcher"
	"github.com/olam-creations/lefilonao-sub001/internal/queue/memory"
	storemem "github.com/olam-creations/lefilonao-sub001/internal/storage/memory"
	"github.com/olam-creations/lefilonao-sub001/internal/store"
	"github.com/olam-creations/lefilonao-sub001/internal/worker"
)

type fakeProcessor struct {
	mu      sync.Mutex
	jobs    []worker.Job
	records *storemem.RecordStore
	err     error
	status  store.RecordStatus
}

func (f *fakeProcessor) Process(ctx context.Context, job worker.Job) (store.Record, error) {
	f.mu.Lock()
	f.jobs = append(f.jobs, job)
	n := len(f.jobs)
	f.mu.Unlock()
	status := f.status
	if status == "" {
		status = store.RecordSucceeded
	}
	rec := store.Record{
		ID:        "rec-" + string(rune('0'+n)),
		NoticeID:  job.NoticeID,
		SourceURL: job.SourceURL,
		Status:    status,
		Logs:      []acquisition.StepLogEntry{{Step: acquisition.StepDirectFetch, Status: acquisition.StatusSuccess}},
	}
	if f.records != nil {
		if err := f.records.SaveRecord(ctx, rec); err != nil {
			return rec, err
		}
	}
	return rec, f.err
}

type testEnv struct {
	server    *Server
	processor *fakeProcessor
	records   *storemem.RecordStore
	queue     *memory.Queue
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	if cfg.Acquisition.BudgetSeconds == 0 {
		cfg.Acquisition.BudgetSeconds = 5
	}
	records := storemem.NewRecordStore()
	q := memory.NewQueue(16)
	t.Cleanup(q.Close)
	processor := &fakeProcessor{records: records}
	d := dispatcher.New(q, records, nil)
	server := NewServer(Deps{
		Processor: processor,
		Records:   records,
		Batches:   records,
		Submitter: d,
	}, cfg, zap.NewNop())
	return &testEnv{server: server, processor: processor, records: records, queue: q}
}

func (e *testEnv) do(method, path string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	bare := NewServer(Deps{}, config.Config{}, nil)
	rec = httptest.NewRecorder()
	bare.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	_ = env.do(http.MethodGet, "/healthz", "")
	rec := env.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestSubmitAcquisitionRunsProcessor(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(http.MethodPost, "/v1/acquisitions",
		`{"notice_id":"24-123456","source_url":"https://www.marches-publics.gouv.fr/x","options":{"skip_headless_worker":true}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp acquisitionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "24-123456", resp.Record.NoticeID)
	require.Empty(t, resp.PersistError)
	require.Len(t, resp.Record.Logs, 1)

	require.Len(t, env.processor.jobs, 1)
	require.True(t, env.processor.jobs[0].Options.SkipHeadlessWorker)
	require.False(t, env.processor.jobs[0].Options.SkipExpensiveDiscovery)

	rec = env.do(http.MethodGet, "/v1/acquisitions/"+resp.Record.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "24-123456")
}

func TestSubmitAcquisitionValidatesInput(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(http.MethodPost, "/v1/acquisitions", "{invalid")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/v1/acquisitions", `{"notice_id":"24-1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "source_url required")
	require.Empty(t, env.processor.jobs)
}

func TestSubmitAcquisitionReportsPersistError(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.processor.err = errors.New("put object after 3 attempts: bucket down")
	rec := env.do(http.MethodPost, "/v1/acquisitions", `{"notice_id":"24-1","source_url":"https://a.example"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "bucket down")
}

func TestGetAcquisitionNotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(http.MethodGet, "/v1/acquisitions/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPIKeyRequiredWhenEnabled(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})
	rec := env.do(http.MethodGet, "/v1/acquisitions/x", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/acquisitions/x", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := &Server{logger: zap.NewNop()}
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTimeoutMiddleware(t *testing.T) {
	t.Parallel()

	h := timeoutMiddleware(10 * time.Millisecond)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
