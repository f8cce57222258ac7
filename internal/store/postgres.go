package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/resilience"
)

// Pool abstracts the pgx pool operations the store needs. pgxpool.Pool and
// pgxmock both satisfy it.
type Pool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"upsert_processing_result": upsertProcessingResultSQL,
	"get_processing_result":    getProcessingResultSQL,
	"fail_processing_result":   failProcessingResultSQL,
	"upsert_arbitration":       upsertArbitrationSQL,
	"get_arbitration":          getArbitrationSQL,
}

const upsertProcessingResultSQL = `INSERT INTO processing_results
	(run_id, domain, source_id, status, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (run_id) DO UPDATE SET
		domain = EXCLUDED.domain, source_id = EXCLUDED.source_id,
		status = EXCLUDED.status, updated_at = EXCLUDED.updated_at`

const getProcessingResultSQL = `SELECT run_id, domain, source_id, status,
	stage1, stage2, stage3, stage4, final_result, error_message,
	processing_time_ms, created_at, updated_at
	FROM processing_results WHERE run_id = $1`

const failProcessingResultSQL = `UPDATE processing_results
	SET status = $1, error_message = $2, updated_at = $3 WHERE run_id = $4`

const upsertArbitrationSQL = `INSERT INTO arbitration_results (run_id, result, updated_at)
	VALUES ($1, $2, $3)
	ON CONFLICT (run_id) DO UPDATE SET result = EXCLUDED.result, updated_at = EXCLUDED.updated_at`

const getArbitrationSQL = `SELECT result FROM arbitration_results WHERE run_id = $1`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS processing_results (
	run_id             TEXT PRIMARY KEY,
	domain             TEXT NOT NULL,
	source_id          TEXT,
	status             TEXT NOT NULL DEFAULT 'pending',
	stage1             JSONB,
	stage2             JSONB,
	stage3             JSONB,
	stage4             JSONB,
	final_result       JSONB,
	error_message      TEXT,
	processing_time_ms BIGINT NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_processing_results_status ON processing_results(status);
CREATE INDEX IF NOT EXISTS idx_processing_results_domain ON processing_results(domain);
CREATE INDEX IF NOT EXISTS idx_processing_results_updated ON processing_results(updated_at DESC);

CREATE TABLE IF NOT EXISTS arbitration_results (
	run_id     TEXT PRIMARY KEY REFERENCES processing_results(run_id),
	result     JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
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
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateProcessingResult(ctx context.Context, res *model.ProcessingResult) error {
	now := time.Now().UTC()
	if res.CreatedAt.IsZero() {
		res.CreatedAt = now
	}
	res.UpdatedAt = now

	_, err := s.pool.Exec(ctx, upsertProcessingResultSQL,
		res.RunID, res.Domain, res.SourceID, string(res.Status), res.CreatedAt, res.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: create processing result %s", res.RunID)
}

func (s *PostgresStore) UpdateStage(ctx context.Context, runID string, status model.ProcessingStatus, snapshot any) error {
	col, ok := stageColumns[status]
	if !ok {
		return eris.Errorf("postgres: %s is not a stage status", status)
	}

	snapJSON, err := json.Marshal(snapshot)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stage snapshot")
	}

	// Column name comes from the fixed stageColumns map, never from input.
	query := fmt.Sprintf(
		`UPDATE processing_results SET %s = $1, status = $2, updated_at = $3 WHERE run_id = $4`, col)
	tag, err := s.pool.Exec(ctx, query, snapJSON, string(status), time.Now().UTC(), runID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update %s for run %s", col, runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteProcessingResult(ctx context.Context, runID string, final *model.ArbitrationResult, processingTimeMs int64) error {
	finalJSON, err := json.Marshal(final)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal final result")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE processing_results SET status = $1, final_result = $2, processing_time_ms = $3, updated_at = $4 WHERE run_id = $5`,
		string(model.StatusCompleted), finalJSON, processingTimeMs, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) FailProcessingResult(ctx context.Context, runID string, errMsg string) error {
	tag, err := s.pool.Exec(ctx, failProcessingResultSQL,
		string(model.StatusFailed), errMsg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetProcessingResult(ctx context.Context, runID string) (*model.ProcessingResult, error) {
	row := s.pool.QueryRow(ctx, getProcessingResultSQL, runID)
	res, err := scanProcessingResult(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return res, nil
}

func (s *PostgresStore) ListProcessingResults(ctx context.Context, filter Filter) ([]model.ProcessingResult, error) {
	query := `SELECT run_id, domain, source_id, status,
		stage1, stage2, stage3, stage4, final_result, error_message,
		processing_time_ms, created_at, updated_at
		FROM processing_results WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.Domain != "" {
		query += fmt.Sprintf(` AND domain = $%d`, argIdx)
		args = append(args, filter.Domain)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var out []model.ProcessingResult
	for rows.Next() {
		res, err := scanProcessingResult(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		out = append(out, *res)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) SaveArbitrationResult(ctx context.Context, runID string, res *model.ArbitrationResult) error {
	resJSON, err := json.Marshal(res)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal arbitration result")
	}
	_, err = s.pool.Exec(ctx, upsertArbitrationSQL, runID, resJSON, time.Now().UTC())
	return eris.Wrapf(err, "postgres: save arbitration result %s", runID)
}

func (s *PostgresStore) GetArbitrationResult(ctx context.Context, runID string) (*model.ArbitrationResult, error) {
	var resJSON []byte
	err := s.pool.QueryRow(ctx, getArbitrationSQL, runID).Scan(&resJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: get arbitration result %s", runID)
	}

	var res model.ArbitrationResult
	if err := json.Unmarshal(resJSON, &res); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal arbitration result")
	}
	return &res, nil
}

func (s *PostgresStore) AddDLQEntry(ctx context.Context, entry resilience.DLQEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, domain, run_id, source_id, error, error_type, failed_stage,
		  retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
			error = EXCLUDED.error, error_type = EXCLUDED.error_type,
			failed_stage = EXCLUDED.failed_stage, retry_count = EXCLUDED.retry_count,
			next_retry_at = EXCLUDED.next_retry_at, last_failed_at = EXCLUDED.last_failed_at`,
		entry.ID, entry.Domain, entry.RunID, entry.SourceID, entry.Error, entry.ErrorType,
		entry.FailedStage, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrapf(err, "postgres: add dlq entry for %s", entry.Domain)
}

func (s *PostgresStore) ListDLQEntries(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, domain, run_id, source_id, error, error_type, failed_stage,
		retry_count, max_retries, next_retry_at, created_at, last_failed_at
		FROM dead_letter_queue WHERE true`
	args := []any{}
	argIdx := 1

	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	query += ` ORDER BY next_retry_at ASC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list dlq")
	}
	defer rows.Close()

	var out []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		if err := rows.Scan(&e.ID, &e.Domain, &e.RunID, &e.SourceID, &e.Error, &e.ErrorType,
			&e.FailedStage, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list dlq iterate")
}

func (s *PostgresStore) DeleteDLQEntry(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: delete dlq entry %s", id)
}

// scanProcessingResult decodes one processing_results row. The pgx.Row and
// pgx.Rows Scan signatures are identical, so both readers share it.
func scanProcessingResult(row pgx.Row) (*model.ProcessingResult, error) {
	var res model.ProcessingResult
	var sourceID, errMsg *string
	var stage1, stage2, stage3, stage4, finalJSON []byte

	err := row.Scan(&res.RunID, &res.Domain, &sourceID, &res.Status,
		&stage1, &stage2, &stage3, &stage4, &finalJSON, &errMsg,
		&res.ProcessingTimeMs, &res.CreatedAt, &res.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if sourceID != nil {
		res.SourceID = *sourceID
	}
	if errMsg != nil {
		res.ErrorMessage = *errMsg
	}
	if err := decodeSnapshots(&res, stage1, stage2, stage3, stage4, finalJSON); err != nil {
		return nil, err
	}
	return &res, nil
}

func decodeSnapshots(res *model.ProcessingResult, stage1, stage2, stage3, stage4, finalJSON []byte) error {
	if len(stage1) > 0 {
		res.Stage1 = &model.Stage1Snapshot{}
		if err := json.Unmarshal(stage1, res.Stage1); err != nil {
			return eris.Wrap(err, "decode stage1 snapshot")
		}
	}
	if len(stage2) > 0 {
		res.Stage2 = &model.Stage2Snapshot{}
		if err := json.Unmarshal(stage2, res.Stage2); err != nil {
			return eris.Wrap(err, "decode stage2 snapshot")
		}
	}
	if len(stage3) > 0 {
		res.Stage3 = &model.Stage3Snapshot{}
		if err := json.Unmarshal(stage3, res.Stage3); err != nil {
			return eris.Wrap(err, "decode stage3 snapshot")
		}
	}
	if len(stage4) > 0 {
		res.Stage4 = &model.Stage4Snapshot{}
		if err := json.Unmarshal(stage4, res.Stage4); err != nil {
			return eris.Wrap(err, "decode stage4 snapshot")
		}
	}
	if len(finalJSON) > 0 {
		res.FinalResult = &model.ArbitrationResult{}
		if err := json.Unmarshal(finalJSON, res.FinalResult); err != nil {
			return eris.Wrap(err, "decode final result")
		}
	}
	return nil
}
