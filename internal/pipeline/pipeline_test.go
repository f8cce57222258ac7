package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/entity-resolver/internal/arbiter"
	"github.com/sells-group/entity-resolver/internal/config"
	"github.com/sells-group/entity-resolver/internal/extractor"
	"github.com/sells-group/entity-resolver/internal/matcher"
	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/resilience"
	"github.com/sells-group/entity-resolver/internal/scorer"
	"github.com/sells-group/entity-resolver/internal/store"
	"github.com/sells-group/entity-resolver/pkg/gleif"
)

// memStore is an in-memory store.Store that records the stage sequence.
type memStore struct {
	mu        sync.Mutex
	results   map[string]*model.ProcessingResult
	arbs      map[string]*model.ArbitrationResult
	dlq       []resilience.DLQEntry
	stages    []model.ProcessingStatus
	createErr error
}

func newMemStore() *memStore {
	return &memStore{
		results: make(map[string]*model.ProcessingResult),
		arbs:    make(map[string]*model.ArbitrationResult),
	}
}

func (s *memStore) CreateProcessingResult(_ context.Context, res *model.ProcessingResult) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *res
	s.results[res.RunID] = &cp
	return nil
}

func (s *memStore) UpdateStage(_ context.Context, runID string, status model.ProcessingStatus, _ any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages = append(s.stages, status)
	if r, ok := s.results[runID]; ok {
		r.Status = status
	}
	return nil
}

func (s *memStore) CompleteProcessingResult(_ context.Context, runID string, final *model.ArbitrationResult, ms int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.results[runID]
	r.Status = model.StatusCompleted
	r.FinalResult = final
	r.ProcessingTimeMs = ms
	return nil
}

func (s *memStore) FailProcessingResult(_ context.Context, runID, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.results[runID]
	r.Status = model.StatusFailed
	r.ErrorMessage = errMsg
	return nil
}

func (s *memStore) GetProcessingResult(_ context.Context, runID string) (*model.ProcessingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[runID], nil
}

func (s *memStore) ListProcessingResults(_ context.Context, _ store.Filter) ([]model.ProcessingResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ProcessingResult, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, *r)
	}
	return out, nil
}

func (s *memStore) SaveArbitrationResult(_ context.Context, runID string, res *model.ArbitrationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.arbs[runID] = res
	return nil
}

func (s *memStore) GetArbitrationResult(_ context.Context, runID string) (*model.ArbitrationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arbs[runID], nil
}

func (s *memStore) AddDLQEntry(_ context.Context, entry resilience.DLQEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dlq = append(s.dlq, entry)
	return nil
}

func (s *memStore) ListDLQEntries(_ context.Context, _ resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]resilience.DLQEntry(nil), s.dlq...), nil
}

func (s *memStore) DeleteDLQEntry(_ context.Context, _ string) error { return nil }
func (s *memStore) Migrate(_ context.Context) error                  { return nil }
func (s *memStore) Close() error                                     { return nil }

// fakeGLEIF scripts registry responses.
type fakeGLEIF struct {
	records   []gleif.LEIRecord
	lookupErr error
}

func (f *fakeGLEIF) LookupByName(_ context.Context, _, _ string) ([]gleif.LEIRecord, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	return f.records, nil
}

func (f *fakeGLEIF) LookupRelationships(_ context.Context, _ string) ([]gleif.LEIRecord, error) {
	return nil, nil
}

// panicOracle trips the arbitration recovery path.
type panicOracle struct{}

func (panicOracle) Advise(_ context.Context, _ []model.Claim) (*arbiter.Advisory, error) {
	panic("oracle exploded")
}

func (panicOracle) ModelName() string { return "panic-model" }

func testConfig() *config.Config {
	mc := matcher.DefaultConfig()
	mc.Relationships = false
	return &config.Config{
		Matcher: mc,
		Scorer:  scorer.DefaultConfig(),
		Arbiter: arbiter.DefaultConfig(),
		Pipeline: config.PipelineConfig{
			ParentPreference: true,
			StaleAfterSecs:   600,
			MaxDLQRetries:    3,
		},
	}
}

func newTestRunner(cfg *config.Config, st store.Store, gc gleif.Client, oracle arbiter.Oracle) *Runner {
	return New(
		cfg,
		st,
		extractor.New(nil),
		scorer.New(cfg.Scorer),
		gc,
		arbiter.NewEngine(cfg.Arbiter, oracle),
	)
}

const appleHTML = `<!DOCTYPE html>
<html>
<head>
<title>Apple</title>
<script type="application/ld+json">
{"@context":"https://schema.org","@type":"Organization","name":"Apple Inc.","url":"https://apple.com"}
</script>
</head>
<body>
<footer><p>© 2026 Apple Inc. All rights reserved.</p></footer>
</body>
</html>`

func appleRecord() gleif.LEIRecord {
	return gleif.LEIRecord{
		LEI:          "HWUPKR0MPOU8FGXBT394",
		LegalName:    "Apple Inc.",
		EntityStatus: "ACTIVE",
		Jurisdiction: "US-CA",
		LegalCountry: "US",
		HQCountry:    "US",
	}
}

func TestResolveEndToEnd(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	cfg := testConfig()
	r := newTestRunner(cfg, st, &fakeGLEIF{records: []gleif.LEIRecord{appleRecord()}}, nil)

	res, err := r.Resolve(context.Background(), Request{
		Domain: "apple.com",
		URL:    "https://apple.com/",
		HTML:   appleHTML,
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, model.StatusCompleted, res.Status)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, []model.ProcessingStatus{
		model.StatusStage1, model.StatusStage2, model.StatusStage3, model.StatusStage4,
	}, st.stages)

	require.NotNil(t, res.Stage3)
	require.NotEmpty(t, res.Stage3.Claims)
	assert.Equal(t, model.ClaimExtracted, res.Stage3.Claims[0].Type)
	assert.Equal(t, "Apple Inc.", res.Stage3.Claims[0].EntityName)

	final := res.FinalResult
	require.NotNil(t, final)
	assert.Equal(t, model.ArbitrationCompleted, final.Status)
	require.NotEmpty(t, final.RankedEntities)

	// The verified registry claim wins the confidence tie over claim 0.
	top := final.RankedEntities[0]
	assert.Equal(t, "HWUPKR0MPOU8FGXBT394", top.LEICode)
	assert.Equal(t, model.GradeAPlus, top.AcquisitionGrade)

	saved, err := st.GetArbitrationResult(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, final, saved)
}

func TestResolveNoClaims(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	r := newTestRunner(testConfig(), st, &fakeGLEIF{}, nil)

	// Single-label domain: nothing to parse, nothing on the page.
	res, err := r.Resolve(context.Background(), Request{Domain: "intranet", HTML: ""})
	require.ErrorIs(t, err, ErrNoClaims)
	require.NotNil(t, res)

	// The run stays at its last stage. No processing was attempted, so it is
	// neither completed nor failed and no arbitration result exists.
	assert.Equal(t, model.StatusStage3, res.Status)
	assert.Empty(t, st.arbs)
	assert.Empty(t, st.dlq)

	stored, getErr := st.GetProcessingResult(context.Background(), res.RunID)
	require.NoError(t, getErr)
	require.NotNil(t, stored)
	assert.False(t, stored.Status.Terminal())
}

func TestResolveRegistryUnavailable(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	r := newTestRunner(testConfig(), st, &fakeGLEIF{lookupErr: errors.New("connection refused")}, nil)

	res, err := r.Resolve(context.Background(), Request{
		Domain: "apple.com",
		HTML:   appleHTML,
	})
	require.NoError(t, err)

	// Registry failure degrades the run instead of failing it: website
	// evidence is still ranked and the outcome carries a caveat.
	assert.Equal(t, model.StatusCompleted, res.Status)
	require.NotNil(t, res.Stage3)
	assert.NotEmpty(t, res.Stage3.RegistryError)
	assert.Empty(t, res.Stage3.RegistryEntities)

	final := res.FinalResult
	require.NotNil(t, final)
	require.NotEmpty(t, final.RankedEntities)
	assert.Empty(t, final.RankedEntities[0].LEICode)
	assert.Contains(t, final.Reasoning, "registry unavailable")
}

func TestResolveArbitrationPanicFailsRun(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	r := newTestRunner(testConfig(), st, &fakeGLEIF{records: []gleif.LEIRecord{appleRecord()}}, panicOracle{})

	res, err := r.Resolve(context.Background(), Request{
		Domain: "apple.com",
		HTML:   appleHTML,
	})
	require.Error(t, err)

	var fe *arbiter.FailureError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, CodeArbitrationInternal, fe.Code)
	assert.Equal(t, CodeArbitrationInternal, ErrorCode(err))

	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Contains(t, res.ErrorMessage, CodeArbitrationInternal)

	require.Len(t, st.dlq, 1)
	entry := st.dlq[0]
	assert.Equal(t, "apple.com", entry.Domain)
	assert.Equal(t, res.RunID, entry.RunID)
	assert.Equal(t, "stage4", entry.FailedStage)
	assert.Equal(t, "permanent", entry.ErrorType)
	assert.Equal(t, 3, entry.MaxRetries)
	assert.True(t, entry.CanRetry())
}

func TestResolveDomainRequired(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	r := newTestRunner(testConfig(), st, &fakeGLEIF{}, nil)

	res, err := r.Resolve(context.Background(), Request{HTML: "<html></html>"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Empty(t, st.results)
}

func TestResolveCreateFailure(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	st.createErr = errors.New("db down")
	r := newTestRunner(testConfig(), st, &fakeGLEIF{}, nil)

	res, err := r.Resolve(context.Background(), Request{Domain: "apple.com", HTML: appleHTML})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.Empty(t, st.stages)
}

func TestErrorCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"no claims", ErrNoClaims, CodeNoClaims},
		{"registry", &matcher.RegistryUnavailableError{Err: errors.New("refused")}, CodeRegistryUnavailable},
		{"failure", &arbiter.FailureError{Code: CodeOracleFailed, Msg: "boom"}, CodeOracleFailed},
		{"unknown", errors.New("mystery"), CodeArbitrationInternal},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestIsStale(t *testing.T) {
	t.Parallel()

	stale := &model.ProcessingResult{Status: model.StatusStage2, UpdatedAt: time.Now().Add(-time.Hour)}
	fresh := &model.ProcessingResult{Status: model.StatusStage2, UpdatedAt: time.Now()}
	done := &model.ProcessingResult{Status: model.StatusCompleted, UpdatedAt: time.Now().Add(-time.Hour)}

	assert.True(t, IsStale(stale, 10*time.Minute))
	assert.False(t, IsStale(fresh, 10*time.Minute))
	assert.False(t, IsStale(done, 10*time.Minute))
	assert.False(t, IsStale(nil, 10*time.Minute))
	assert.False(t, IsStale(stale, 0))
}
