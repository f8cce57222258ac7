// Package monitoring aggregates operational metrics from the store for the
// runs --stats command and the /metrics endpoint.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/pipeline"
	"github.com/sells-group/entity-resolver/internal/resilience"
	"github.com/sells-group/entity-resolver/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Run counts within the lookback window.
	RunsTotal     int `json:"runs_total"`
	RunsCompleted int `json:"runs_completed"`
	RunsFailed    int `json:"runs_failed"`
	RunsInFlight  int `json:"runs_in_flight"`
	RunsStale     int `json:"runs_stale"`

	// Outcome quality.
	FailRate        float64 `json:"fail_rate"`
	AvgConfidence   float64 `json:"avg_confidence"`
	AvgProcessingMs int64   `json:"avg_processing_ms"`

	// Dead letter queue depth, not windowed.
	DLQDepth     int `json:"dlq_depth"`
	DLQRetryable int `json:"dlq_retryable"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store      store.Store
	staleAfter time.Duration
}

// NewCollector creates a metrics collector. staleAfter controls when an
// in-flight run counts as abandoned.
func NewCollector(st store.Store, staleAfter time.Duration) *Collector {
	return &Collector{store: st, staleAfter: staleAfter}
}

// Collect gathers a snapshot of pipeline metrics over the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}
	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListProcessingResults(ctx, store.Filter{Limit: 10000})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	var totalConfidence float64
	var rankedRuns int
	var totalMs int64
	var timedRuns int

	for i := range runs {
		r := &runs[i]
		if lookbackHours > 0 && r.CreatedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++

		switch r.Status {
		case model.StatusCompleted:
			snap.RunsCompleted++
		case model.StatusFailed:
			snap.RunsFailed++
		default:
			snap.RunsInFlight++
			if pipeline.IsStale(r, c.staleAfter) {
				snap.RunsStale++
			}
		}

		if r.FinalResult != nil && len(r.FinalResult.RankedEntities) > 0 {
			totalConfidence += r.FinalResult.RankedEntities[0].Confidence
			rankedRuns++
		}
		if r.ProcessingTimeMs > 0 {
			totalMs += r.ProcessingTimeMs
			timedRuns++
		}
	}

	if finished := snap.RunsCompleted + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	if rankedRuns > 0 {
		snap.AvgConfidence = totalConfidence / float64(rankedRuns)
	}
	if timedRuns > 0 {
		snap.AvgProcessingMs = totalMs / int64(timedRuns)
	}

	entries, err := c.store.ListDLQEntries(ctx, resilience.DLQFilter{})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list dead letter entries")
	}
	snap.DLQDepth = len(entries)
	for i := range entries {
		if entries[i].CanRetry() {
			snap.DLQRetryable++
		}
	}

	return snap, nil
}
