package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS processing_results (
	run_id             TEXT PRIMARY KEY,
	domain             TEXT NOT NULL,
	source_id          TEXT,
	status             TEXT NOT NULL DEFAULT 'pending',
	stage1             TEXT,
	stage2             TEXT,
	stage3             TEXT,
	stage4             TEXT,
	final_result       TEXT,
	error_message      TEXT,
	processing_time_ms INTEGER NOT NULL DEFAULT 0,
	created_at         DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at         DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_processing_results_status ON processing_results(status);
CREATE INDEX IF NOT EXISTS idx_processing_results_domain ON processing_results(domain);

CREATE TABLE IF NOT EXISTS arbitration_results (
	run_id     TEXT PRIMARY KEY REFERENCES processing_results(run_id),
	result     TEXT NOT NULL,
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	domain         TEXT NOT NULL,
	run_id         TEXT,
	source_id      TEXT,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	failed_stage   TEXT,
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  DATETIME NOT NULL,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	last_failed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateProcessingResult(ctx context.Context, res *model.ProcessingResult) error {
	now := time.Now().UTC()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	res.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO processing_results (run_id, domain, source_id, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id) DO UPDATE SET
			domain = excluded.domain, source_id = excluded.source_id,
			status = excluded.status, updated_at = excluded.updated_at`,
		res.RunID, res.Domain, res.SourceID, string(res.Status), res.CreatedAt, res.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: create processing result %s", res.RunID)
}

func (s *SQLiteStore) UpdateStage(ctx context.Context, runID string, status model.ProcessingStatus, snapshot any) error {
	col, ok := stageColumns[status]
	if !ok {
		return eris.Errorf("sqlite: %s is not a stage status", status)
	}

	snapJSON, err := json.Marshal(snapshot)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stage snapshot")
	}

	query := fmt.Sprintf(
		`UPDATE processing_results SET %s = ?, status = ?, updated_at = ? WHERE run_id = ?`, col)
	result, err := s.db.ExecContext(ctx, query, string(snapJSON), string(status), time.Now().UTC(), runID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update %s for run %s", col, runID)
	}
	return requireRow(result, runID)
}

func (s *SQLiteStore) CompleteProcessingResult(ctx context.Context, runID string, final *model.ArbitrationResult, processingTimeMs int64) error {
	finalJSON, err := json.Marshal(final)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal final result")
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE processing_results SET status = ?, final_result = ?, processing_time_ms = ?, updated_at = ? WHERE run_id = ?`,
		string(model.StatusCompleted), string(finalJSON), processingTimeMs, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return requireRow(result, runID)
}

func (s *SQLiteStore) FailProcessingResult(ctx context.Context, runID string, errMsg string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE processing_results SET status = ?, error_message = ?, updated_at = ? WHERE run_id = ?`,
		string(model.StatusFailed), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail run %s", runID)
	}
	return requireRow(result, runID)
}

func (s *SQLiteStore) GetProcessingResult(ctx context.Context, runID string) (*model.ProcessingResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, domain, source_id, status, stage1, stage2, stage3, stage4,
			final_result, error_message, processing_time_ms, created_at, updated_at
		 FROM processing_results WHERE run_id = ?`, runID)

	res, err := scanSQLiteResult(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return res, nil
}

func (s *SQLiteStore) ListProcessingResults(ctx context.Context, filter Filter) ([]model.ProcessingResult, error) {
	query := `SELECT run_id, domain, source_id, status, stage1, stage2, stage3, stage4,
		final_result, error_message, processing_time_ms, created_at, updated_at
		FROM processing_results WHERE 1=1`
	args := []any{}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.Domain != "" {
		query += ` AND domain = ?`
		args = append(args, filter.Domain)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var out []model.ProcessingResult
	for rows.Next() {
		res, err := scanSQLiteResult(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		out = append(out, *res)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list runs iterate")
}

func (s *SQLiteStore) SaveArbitrationResult(ctx context.Context, runID string, res *model.ArbitrationResult) error {
	resJSON, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal arbitration result")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO arbitration_results (run_id, result, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT (run_id) DO UPDATE SET result = excluded.result, updated_at = excluded.updated_at`,
		runID, string(resJSON), time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: save arbitration result %s", runID)
}

func (s *SQLiteStore) GetArbitrationResult(ctx context.Context, runID string) (*model.ArbitrationResult, error) {
	var resJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM arbitration_results WHERE run_id = ?`, runID).Scan(&resJSON)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: get arbitration result %s", runID)
	}

	var res model.ArbitrationResult
	if err := json.Unmarshal([]byte(resJSON), &res); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal arbitration result")
	}
	return &res, nil
}

func (s *SQLiteStore) AddDLQEntry(ctx context.Context, entry resilience.DLQEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, domain, run_id, source_id, error, error_type, failed_stage,
		  retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			error = excluded.error, error_type = excluded.error_type,
			failed_stage = excluded.failed_stage, retry_count = excluded.retry_count,
			next_retry_at = excluded.next_retry_at, last_failed_at = excluded.last_failed_at`,
		entry.ID, entry.Domain, entry.RunID, entry.SourceID, entry.Error, entry.ErrorType,
		entry.FailedStage, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrapf(err, "sqlite: add dlq entry for %s", entry.Domain)
}

func (s *SQLiteStore) ListDLQEntries(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, domain, run_id, source_id, error, error_type, failed_stage,
		retry_count, max_retries, next_retry_at, created_at, last_failed_at
		FROM dead_letter_queue WHERE 1=1`
	args := []any{}

	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY next_retry_at ASC LIMIT ?`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list dlq")
	}
	defer rows.Close()

	var out []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var runID, sourceID, failedStage sql.NullString
		if err := rows.Scan(&e.ID, &e.Domain, &runID, &sourceID, &e.Error, &e.ErrorType,
			&failedStage, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		e.RunID = runID.String
		e.SourceID = sourceID.String
		e.FailedStage = failedStage.String
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list dlq iterate")
}

func (s *SQLiteStore) DeleteDLQEntry(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: delete dlq entry %s", id)
}

// scanSQLiteResult decodes one processing_results row from either a Row or
// Rows scan function.
func scanSQLiteResult(scan func(dest ...any) error) (*model.ProcessingResult, error) {
	var res model.ProcessingResult
	var sourceID, errMsg sql.NullString
	var stage1, stage2, stage3, stage4, finalJSON sql.NullString

	err := scan(&res.RunID, &res.Domain, &sourceID, &res.Status,
		&stage1, &stage2, &stage3, &stage4, &finalJSON, &errMsg,
		&res.ProcessingTimeMs, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}

	res.SourceID = sourceID.String
	res.ErrorMessage = errMsg.String
	if err := decodeSnapshots(&res,
		[]byte(stage1.String), []byte(stage2.String),
		[]byte(stage3.String), []byte(stage4.String),
		[]byte(finalJSON.String)); err != nil {
		return nil, err
	}
	return &res, nil
}

func requireRow(result sql.Result, runID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}
