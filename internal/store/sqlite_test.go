package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/resilience"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func seedRun(t *testing.T, s *SQLiteStore, runID, domain string) {
	t.Helper()
	err := s.CreateProcessingResult(context.Background(), &model.ProcessingResult{
		RunID:  runID,
		Domain: domain,
		Status: model.StatusPending,
	})
	require.NoError(t, err)
}

func TestSQLiteCreateAndGet(t *testing.T) {
	s := newTestStore(t)
	seedRun(t, s, "run-1", "example.com")

	got, err := s.GetProcessingResult(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "example.com", got.Domain)
	assert.Equal(t, model.StatusPending, got.Status)
	assert.Nil(t, got.Stage1)
}

func TestSQLiteGetMissingReturnsNil(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetProcessingResult(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteCreateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	seedRun(t, s, "run-1", "example.com")
	seedRun(t, s, "run-1", "example.com")

	runs, err := s.ListProcessingResults(context.Background(), Filter{Domain: "example.com"})
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestSQLiteUpdateStageRoundTrip(t *testing.T) {
	s := newTestStore(t)
	seedRun(t, s, "run-1", "example.com")

	snap := model.Stage1Snapshot{
		Signals: []model.Signal{
			{Text: "Acme Inc", Method: model.MethodPageTitle},
		},
		ProcessingTimeMs: 12,
	}
	require.NoError(t, s.UpdateStage(context.Background(), "run-1", model.StatusStage1, snap))

	got, err := s.GetProcessingResult(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusStage1, got.Status)
	require.NotNil(t, got.Stage1)
	require.Len(t, got.Stage1.Signals, 1)
	assert.Equal(t, "Acme Inc", got.Stage1.Signals[0].Text)
}

func TestSQLiteUpdateStageRejectsNonStage(t *testing.T) {
	s := newTestStore(t)
	seedRun(t, s, "run-1", "example.com")

	err := s.UpdateStage(context.Background(), "run-1", model.StatusCompleted, nil)
	assert.Error(t, err)
}

func TestSQLiteUpdateStageUnknownRun(t *testing.T) {
	s := newTestStore(t)

	err := s.UpdateStage(context.Background(), "missing", model.StatusStage1, model.Stage1Snapshot{})
	assert.ErrorContains(t, err, "run not found")
}

func TestSQLiteCompleteRun(t *testing.T) {
	s := newTestStore(t)
	seedRun(t, s, "run-1", "example.com")

	final := &model.ArbitrationResult{
		Status: model.ArbitrationCompleted,
		RankedEntities: []model.RankedEntity{
			{ClaimNumber: 1, EntityName: "Apple Inc.", Confidence: 1.0, AcquisitionGrade: model.GradeAPlus},
		},
	}
	require.NoError(t, s.CompleteProcessingResult(context.Background(), "run-1", final, 840))

	got, err := s.GetProcessingResult(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusCompleted, got.Status)
	assert.EqualValues(t, 840, got.ProcessingTimeMs)
	require.NotNil(t, got.FinalResult)
	assert.Equal(t, model.GradeAPlus, got.FinalResult.RankedEntities[0].AcquisitionGrade)
}

func TestSQLiteFailRun(t *testing.T) {
	s := newTestStore(t)
	seedRun(t, s, "run-1", "example.com")

	require.NoError(t, s.FailProcessingResult(context.Background(), "run-1", "arbitration_internal: boom"))

	got, err := s.GetProcessingResult(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "arbitration_internal")
}

func TestSQLiteListFiltersByStatus(t *testing.T) {
	s := newTestStore(t)
	seedRun(t, s, "run-1", "a.com")
	seedRun(t, s, "run-2", "b.com")
	require.NoError(t, s.FailProcessingResult(context.Background(), "run-2", "x"))

	failed, err := s.ListProcessingResults(context.Background(), Filter{Status: model.StatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "run-2", failed[0].RunID)

	all, err := s.ListProcessingResults(context.Background(), Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestSQLiteArbitrationResultUpsert(t *testing.T) {
	s := newTestStore(t)
	seedRun(t, s, "run-1", "example.com")

	first := &model.ArbitrationResult{Status: model.ArbitrationProcessing}
	require.NoError(t, s.SaveArbitrationResult(context.Background(), "run-1", first))

	second := &model.ArbitrationResult{Status: model.ArbitrationCompleted, Reasoning: "done"}
	require.NoError(t, s.SaveArbitrationResult(context.Background(), "run-1", second))

	got, err := s.GetArbitrationResult(context.Background(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, model.ArbitrationCompleted, got.Status)
	assert.Equal(t, "done", got.Reasoning)
}

func TestSQLiteArbitrationResultMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetArbitrationResult(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteDLQRoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	entry := resilience.DLQEntry{
		ID:           "dlq-1",
		Domain:       "broken.com",
		RunID:        "run-9",
		Error:        "registry_unavailable: 503",
		ErrorType:    "transient",
		FailedStage:  "stage3",
		MaxRetries:   3,
		NextRetryAt:  now.Add(time.Minute),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	require.NoError(t, s.AddDLQEntry(context.Background(), entry))

	// retried entry updates in place
	entry.RetryCount = 1
	entry.LastFailedAt = now.Add(2 * time.Minute)
	require.NoError(t, s.AddDLQEntry(context.Background(), entry))

	entries, err := s.ListDLQEntries(context.Background(), resilience.DLQFilter{ErrorType: "transient"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "broken.com", entries[0].Domain)
	assert.Equal(t, 1, entries[0].RetryCount)
	assert.True(t, entries[0].CanRetry())

	require.NoError(t, s.DeleteDLQEntry(context.Background(), "dlq-1"))
	entries, err = s.ListDLQEntries(context.Background(), resilience.DLQFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}
