package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/timetable-api/internal/dto"
	"github.com/noah-isme/timetable-api/internal/models"
	appErrors "github.com/noah-isme/timetable-api/pkg/errors"
	"github.com/noah-isme/timetable-api/pkg/jobs"
)

type generatorMock struct {
	captured dto.GenerateTimetableRequest
	err      error
}

func (m *generatorMock) Generate(_ context.Context, req dto.GenerateTimetableRequest) (*dto.GenerateTimetableResponse, error) {
	m.captured = req
	if m.err != nil {
		return nil, m.err
	}
	return &dto.GenerateTimetableResponse{
		Key:        req.Key(),
		Timetables: []models.Timetable{{ID: "tt-1", Year: req.Year, Semester: req.Semester, Batch: 1}},
		Stats:      dto.GenerationStats{Batches: 1, Attempts: 1},
	}, nil
}

type jobsMock struct {
	enqueued []dto.GenerateTimetableRequest
}

func (m *jobsMock) Enqueue(_ context.Context, req dto.GenerateTimetableRequest) (*dto.GenerationJobResponse, error) {
	m.enqueued = append(m.enqueued, req)
	return &dto.GenerationJobResponse{JobID: "job-1", Status: string(jobs.StateQueued)}, nil
}

func (m *jobsMock) Status(_ context.Context, id string) (*jobs.Status, error) {
	if id != "job-1" {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "generation job not found")
	}
	return &jobs.Status{ID: id, Type: "timetable.generate", State: jobs.StateRunning, Attempt: 1}, nil
}

type queriesMock struct {
	lastQuery  dto.TimetableQuery
	lastBatch  int
	lastFormat string
}

func (m *queriesMock) List(_ context.Context, query dto.TimetableQuery) ([]models.Timetable, error) {
	m.lastQuery = query
	return []models.Timetable{{ID: "a", Batch: 1}, {ID: "b", Batch: 2}}, nil
}

func (m *queriesMock) Get(_ context.Context, query dto.TimetableQuery, batch int) (*models.Timetable, error) {
	m.lastQuery, m.lastBatch = query, batch
	if batch > 2 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "timetable not found")
	}
	return &models.Timetable{ID: "a", Year: query.Year, Semester: query.Semester, Batch: batch}, nil
}

func (m *queriesMock) Delete(_ context.Context, query dto.TimetableQuery) (*dto.DeleteTimetablesResponse, error) {
	m.lastQuery = query
	return &dto.DeleteTimetablesResponse{Deleted: 2, Released: 40, LedgerVersion: 7}, nil
}

func (m *queriesMock) Export(_ context.Context, query dto.TimetableQuery, batch int, format string) (*dto.ExportFile, error) {
	m.lastQuery, m.lastBatch, m.lastFormat = query, batch, format
	return &dto.ExportFile{Filename: "timetable.csv", ContentType: "text/csv", Body: []byte("Day,9:30 - 10:30\n")}, nil
}

type ledgerMock struct {
	resets int
}

func (m *ledgerMock) Ledger(context.Context) (*dto.LedgerResponse, error) {
	return &dto.LedgerResponse{Version: 3}, nil
}

func (m *ledgerMock) ResetLedger(context.Context) (*dto.LedgerResponse, error) {
	m.resets++
	return &dto.LedgerResponse{Version: 4}, nil
}

type routerFixture struct {
	router    *gin.Engine
	generator *generatorMock
	jobs      *jobsMock
	queries   *queriesMock
	ledger    *ledgerMock
}

func newRouterFixture() routerFixture {
	gin.SetMode(gin.TestMode)
	f := routerFixture{generator: &generatorMock{}, jobs: &jobsMock{}, queries: &queriesMock{}, ledger: &ledgerMock{}}
	f.router = NewRouter(RouterConfig{
		Timetables: NewTimetableHandler(f.generator, f.jobs, f.queries),
		Ledgers:    NewLedgerHandler(f.ledger),
		Probes:     NewMetricsHandler(nil, nil),
	})
	return f
}

func (f routerFixture) do(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var envelope map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	return envelope
}

func TestTimetableHandlerGenerate(t *testing.T) {
	f := newRouterFixture()

	w := f.do(http.MethodPost, "/api/v1/timetables/generate", []byte(`{"year":3,"semester":5,"specialization":"AI","seed":9}`))

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 3, f.generator.captured.Year)
	assert.Equal(t, "AI", f.generator.captured.Specialization)
	assert.Equal(t, int64(9), f.generator.captured.Seed)
	envelope := decodeEnvelope(t, w)
	assert.Contains(t, string(envelope["data"]), `"tt-1"`)
	assert.JSONEq(t, `{"warnings":0}`, string(envelope["meta"]))
}

func TestTimetableHandlerGenerateAsync(t *testing.T) {
	f := newRouterFixture()

	w := f.do(http.MethodPost, "/api/v1/timetables/generate", []byte(`{"year":3,"semester":5,"async":true}`))

	require.Equal(t, http.StatusAccepted, w.Code)
	require.Len(t, f.jobs.enqueued, 1)
	assert.Contains(t, w.Body.String(), `"jobId":"job-1"`)

	w = f.do(http.MethodGet, "/api/v1/timetables/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"running"`)

	w = f.do(http.MethodGet, "/api/v1/timetables/jobs/other", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTimetableHandlerGenerateErrors(t *testing.T) {
	f := newRouterFixture()

	w := f.do(http.MethodPost, "/api/v1/timetables/generate", []byte(`{"year":`))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.generator.err = appErrors.Clone(appErrors.ErrNoOfferings, "")
	w = f.do(http.MethodPost, "/api/v1/timetables/generate", []byte(`{"year":3,"semester":5}`))
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Contains(t, w.Body.String(), appErrors.ErrNoOfferings.Code)

	f.generator.err = appErrors.Clone(appErrors.ErrLedgerLocked, "")
	w = f.do(http.MethodPost, "/api/v1/timetables/generate", []byte(`{"year":3,"semester":5}`))
	assert.Equal(t, http.StatusLocked, w.Code)
}

func TestTimetableHandlerQueries(t *testing.T) {
	f := newRouterFixture()

	w := f.do(http.MethodGet, "/api/v1/timetables?year=3&semester=5&specialization=AI", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, dto.TimetableQuery{Year: 3, Semester: 5, Specialization: "AI"}, f.queries.lastQuery)
	assert.JSONEq(t, `{"total":2}`, string(decodeEnvelope(t, w)["meta"]))

	w = f.do(http.MethodGet, "/api/v1/timetables/3/5/batches/2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, f.queries.lastBatch)

	w = f.do(http.MethodGet, "/api/v1/timetables/3/5/batches/9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(http.MethodGet, "/api/v1/timetables/three/5/batches/1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(http.MethodDelete, "/api/v1/timetables/3/5?specialization=AI", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "AI", f.queries.lastQuery.Specialization)
	assert.Contains(t, w.Body.String(), `"released":40`)
}

func TestTimetableHandlerExport(t *testing.T) {
	f := newRouterFixture()

	w := f.do(http.MethodGet, "/api/v1/timetables/3/5/batches/1/export?format=pdf", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pdf", f.queries.lastFormat)
	assert.Equal(t, 1, f.queries.lastBatch)
	assert.Equal(t, `attachment; filename="timetable.csv"`, w.Header().Get("Content-Disposition"))
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))

	w = f.do(http.MethodGet, "/api/v1/timetables/3/5/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "csv", f.queries.lastFormat)
	assert.Equal(t, 0, f.queries.lastBatch)
}

func TestLedgerHandler(t *testing.T) {
	f := newRouterFixture()

	w := f.do(http.MethodGet, "/api/v1/ledgers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"version":3`)

	w = f.do(http.MethodDelete, "/api/v1/ledgers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, f.ledger.resets)
}

func TestProbes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	failing := func(context.Context) error { return assert.AnError }
	router := NewRouter(RouterConfig{Probes: NewMetricsHandler(nil, map[string]Pinger{"postgres": failing})})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"postgres"`)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
