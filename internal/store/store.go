// Package store persists resolution runs. Two backends exist: Postgres via
// pgxpool for service deployments and SQLite for local CLI use. All writes
// are idempotent upserts keyed by run ID so a retried stage never duplicates
// rows.
package store

import (
	"context"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/resilience"
)

// Filter specifies criteria for listing processing results.
type Filter struct {
	Status model.ProcessingStatus `json:"status,omitempty"`
	Domain string                 `json:"domain,omitempty"`
	Limit  int                    `json:"limit,omitempty"`
	Offset int                    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the resolution pipeline.
type Store interface {
	// Processing results
	CreateProcessingResult(ctx context.Context, res *model.ProcessingResult) error
	UpdateStage(ctx context.Context, runID string, status model.ProcessingStatus, snapshot any) error
	CompleteProcessingResult(ctx context.Context, runID string, final *model.ArbitrationResult, processingTimeMs int64) error
	FailProcessingResult(ctx context.Context, runID string, errMsg string) error
	GetProcessingResult(ctx context.Context, runID string) (*model.ProcessingResult, error)
	ListProcessingResults(ctx context.Context, filter Filter) ([]model.ProcessingResult, error)

	// Arbitration results
	SaveArbitrationResult(ctx context.Context, runID string, res *model.ArbitrationResult) error
	GetArbitrationResult(ctx context.Context, runID string) (*model.ArbitrationResult, error)

	// Dead letter queue
	AddDLQEntry(ctx context.Context, entry resilience.DLQEntry) error
	ListDLQEntries(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error)
	DeleteDLQEntry(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// stageColumns maps a stage status to its snapshot column.
var stageColumns = map[model.ProcessingStatus]string{
	model.StatusStage1: "stage1",
	model.StatusStage2: "stage2",
	model.StatusStage3: "stage3",
	model.StatusStage4: "stage4",
}
