package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/monitoring"
	"github.com/sells-group/entity-resolver/internal/pipeline"
	"github.com/sells-group/entity-resolver/internal/resilience"
	"github.com/sells-group/entity-resolver/internal/store"
)

// serveStore stubs the Store methods the HTTP handlers touch.
type serveStore struct {
	store.Store

	runs map[string]*model.ProcessingResult
}

func (s *serveStore) GetProcessingResult(_ context.Context, runID string) (*model.ProcessingResult, error) {
	return s.runs[runID], nil
}

func (s *serveStore) ListProcessingResults(_ context.Context, _ store.Filter) ([]model.ProcessingResult, error) {
	out := make([]model.ProcessingResult, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, *r)
	}
	return out, nil
}

func (s *serveStore) ListDLQEntries(_ context.Context, _ resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	return nil, nil
}

func newTestRouter(st *serveStore, resolve resolveFunc) http.Handler {
	if st.runs == nil {
		st.runs = make(map[string]*model.ProcessingResult)
	}
	if resolve == nil {
		resolve = func(_ context.Context, _ pipeline.Request) (*model.ProcessingResult, error) {
			return &model.ProcessingResult{Status: model.StatusCompleted}, nil
		}
	}
	return newRouter(serverDeps{
		baseCtx:    context.Background(),
		store:      st,
		resolve:    resolve,
		collector:  monitoring.NewCollector(st, 10*time.Minute),
		staleAfter: 10 * time.Minute,
	})
}

func TestServeHealth(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&serveStore{}, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServeProcessAccepted(t *testing.T) {
	t.Parallel()

	resolved := make(chan pipeline.Request, 1)
	router := newTestRouter(&serveStore{}, func(_ context.Context, req pipeline.Request) (*model.ProcessingResult, error) {
		resolved <- req
		return &model.ProcessingResult{RunID: req.RunID, Status: model.StatusCompleted}, nil
	})

	body, _ := json.Marshal(map[string]string{
		"domain": "apple.com",
		"html":   "<html></html>",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process", bytes.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "accepted", resp["status"])
	assert.NotEmpty(t, resp["run_id"])

	select {
	case req := <-resolved:
		assert.Equal(t, "apple.com", req.Domain)
		assert.Equal(t, resp["run_id"], req.RunID)
	case <-time.After(2 * time.Second):
		t.Fatal("async resolution never started")
	}
}

func TestServeProcessValidation(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&serveStore{}, nil)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", "{not json"},
		{"missing domain", `{"html":"<html></html>"}`},
		{"missing html", `{"domain":"apple.com"}`},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/process", bytes.NewReader([]byte(tt.body))))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestServeStatus(t *testing.T) {
	t.Parallel()

	st := &serveStore{runs: map[string]*model.ProcessingResult{
		"run-1": {
			RunID:     "run-1",
			Domain:    "apple.com",
			Status:    model.StatusCompleted,
			UpdatedAt: time.Now(),
			FinalResult: &model.ArbitrationResult{
				Status: model.ArbitrationCompleted,
				RankedEntities: []model.RankedEntity{
					{EntityName: "Apple Inc.", AcquisitionGrade: model.GradeAPlus},
				},
			},
		},
	}}
	router := newTestRouter(st, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/run-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "apple.com", resp.Domain)
	assert.Equal(t, "completed", resp.Status)
	assert.Equal(t, "Apple Inc.", resp.Entity)
	assert.Equal(t, "A+", resp.Grade)
	assert.False(t, resp.Stale)
}

func TestServeStatusNotFound(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&serveStore{}, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServeRunsAndMetrics(t *testing.T) {
	t.Parallel()

	st := &serveStore{runs: map[string]*model.ProcessingResult{
		"run-1": {RunID: "run-1", Domain: "a.com", Status: model.StatusCompleted, CreatedAt: time.Now()},
		"run-2": {RunID: "run-2", Domain: "b.com", Status: model.StatusFailed, CreatedAt: time.Now()},
	}}
	router := newTestRouter(st, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var runs []statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	assert.Len(t, runs, 2)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var snap monitoring.MetricsSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 2, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsFailed)
}

func TestServeRunsBadLimit(t *testing.T) {
	t.Parallel()

	router := newTestRouter(&serveStore{}, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs?limit=banana", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
