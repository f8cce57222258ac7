package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/resilience"
	"github.com/sells-group/entity-resolver/internal/store"
)

// statStore stubs just the two Store methods the collector reads.
type statStore struct {
	store.Store

	runs    []model.ProcessingResult
	dlq     []resilience.DLQEntry
	listErr error
}

func (s *statStore) ListProcessingResults(_ context.Context, _ store.Filter) ([]model.ProcessingResult, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.runs, nil
}

func (s *statStore) ListDLQEntries(_ context.Context, _ resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	return s.dlq, nil
}

func run(status model.ProcessingStatus, age time.Duration, confidence float64, ms int64) model.ProcessingResult {
	r := model.ProcessingResult{
		Status:           status,
		CreatedAt:        time.Now().UTC().Add(-age),
		UpdatedAt:        time.Now().UTC().Add(-age),
		ProcessingTimeMs: ms,
	}
	if confidence > 0 {
		r.FinalResult = &model.ArbitrationResult{
			Status:         model.ArbitrationCompleted,
			RankedEntities: []model.RankedEntity{{Confidence: confidence}},
		}
	}
	return r
}

func TestCollectorCounts(t *testing.T) {
	t.Parallel()

	st := &statStore{
		runs: []model.ProcessingResult{
			run(model.StatusCompleted, time.Hour, 0.9, 120),
			run(model.StatusCompleted, 2*time.Hour, 0.7, 80),
			run(model.StatusFailed, time.Hour, 0, 50),
			run(model.StatusStage2, time.Minute, 0, 0),   // in flight, fresh
			run(model.StatusStage3, 2*time.Hour, 0, 0),   // in flight, stale
			run(model.StatusCompleted, 48*time.Hour, 1.0, 10), // outside window
		},
		dlq: []resilience.DLQEntry{
			{RetryCount: 0, MaxRetries: 3},
			{RetryCount: 3, MaxRetries: 3},
		},
	}

	c := NewCollector(st, 10*time.Minute)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 5, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsCompleted)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 2, snap.RunsInFlight)
	assert.Equal(t, 1, snap.RunsStale)

	assert.InDelta(t, 1.0/3.0, snap.FailRate, 1e-9)
	assert.InDelta(t, 0.8, snap.AvgConfidence, 1e-9)
	assert.Equal(t, int64((120+80+50)/3), snap.AvgProcessingMs)

	assert.Equal(t, 2, snap.DLQDepth)
	assert.Equal(t, 1, snap.DLQRetryable)
	assert.Equal(t, 24, snap.LookbackHours)
}

func TestCollectorEmptyStore(t *testing.T) {
	t.Parallel()

	c := NewCollector(&statStore{}, 10*time.Minute)
	snap, err := c.Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.FailRate)
	assert.Zero(t, snap.AvgConfidence)
	assert.Zero(t, snap.DLQDepth)
}

func TestCollectorListError(t *testing.T) {
	t.Parallel()

	c := NewCollector(&statStore{listErr: errors.New("db down")}, 0)
	_, err := c.Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}
