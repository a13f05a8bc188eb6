package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/txlens/internal/db"
	"github.com/sells-group/txlens/internal/model"
	"github.com/sells-group/txlens/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

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

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS analyses (
	id         TEXT PRIMARY KEY,
	input      TEXT NOT NULL,
	chain_id   BIGINT NOT NULL,
	kind       TEXT NOT NULL,
	risk_level TEXT NOT NULL,
	abi_source TEXT NOT NULL DEFAULT '',
	partial    BOOLEAN NOT NULL DEFAULT false,
	cost_usd   DOUBLE PRECISION NOT NULL DEFAULT 0,
	result     JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_analyses_kind ON analyses(kind);

CREATE TABLE IF NOT EXISTS abi_cache (
	chain_id      BIGINT NOT NULL,
	address       TEXT NOT NULL,
	contract_name TEXT NOT NULL DEFAULT '',
	abi           TEXT NOT NULL,
	source        TEXT NOT NULL,
	fetched_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (chain_id, address)
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	input          TEXT NOT NULL,
	chain_id       BIGINT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	failed_step    TEXT,
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
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

var analysisColumns = []string{"id", "input", "chain_id", "kind", "risk_level", "abi_source", "partial", "cost_usd", "result", "created_at"}

func analysisRow(rec model.AnalysisRecord) ([]any, error) {
	if rec.Result == nil {
		return nil, eris.Errorf("postgres: analysis %s has no result", rec.ID)
	}
	resultJSON, err := json.Marshal(rec.Result)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal result")
	}
	return []any{
		rec.ID, rec.Input, rec.ChainID, string(rec.Kind),
		string(rec.Result.RiskLevel), rec.Result.Diagnostics.AbiSource,
		rec.Result.Partial(), explanationCost(rec.Result),
		resultJSON, rec.CreatedAt.UTC(),
	}, nil
}

func (s *PostgresStore) SaveAnalysis(ctx context.Context, rec model.AnalysisRecord) error {
	row, err := analysisRow(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO analyses (`+strings.Join(analysisColumns, ", ")+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   risk_level = $5, abi_source = $6, partial = $7, cost_usd = $8, result = $9`,
		row...,
	)
	return eris.Wrapf(err, "postgres: insert analysis %s", rec.ID)
}

// SaveAnalyses bulk-inserts recs with COPY. IDs must be new.
func (s *PostgresStore) SaveAnalyses(ctx context.Context, recs []model.AnalysisRecord) (int64, error) {
	rows := make([][]any, 0, len(recs))
	for _, rec := range recs {
		row, err := analysisRow(rec)
		if err != nil {
			return 0, err
		}
		rows = append(rows, row)
	}
	n, err := db.CopyFrom(ctx, s.pool, "analyses", analysisColumns, rows)
	return n, eris.Wrap(err, "postgres: save analyses")
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, id string) (*model.AnalysisRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, input, chain_id, kind, result, created_at FROM analyses WHERE id = $1`,
		id,
	)
	rec, err := scanPgAnalysis(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get analysis %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get analysis %s", id)
	}
	return rec, nil
}

func (s *PostgresStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]model.AnalysisRecord, error) {
	query := `SELECT id, input, chain_id, kind, result, created_at FROM analyses WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.Kind != "" {
		query += fmt.Sprintf(` AND kind = $%d`, argIdx)
		args = append(args, string(filter.Kind))
		argIdx++
	}
	if filter.ChainID > 0 {
		query += fmt.Sprintf(` AND chain_id = $%d`, argIdx)
		args = append(args, filter.ChainID)
		argIdx++
	}
	if filter.PartialOnly {
		query += ` AND partial`
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, argIdx)
		args = append(args, filter.Since.UTC())
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
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
		return nil, eris.Wrap(err, "postgres: list analyses")
	}
	defer rows.Close()

	var out []model.AnalysisRecord
	for rows.Next() {
		rec, err := scanPgAnalysis(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan analysis")
		}
		out = append(out, *rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list analyses iterate")
}

func scanPgAnalysis(row pgx.Row) (*model.AnalysisRecord, error) {
	var rec model.AnalysisRecord
	var kind string
	var resultJSON []byte
	if err := row.Scan(&rec.ID, &rec.Input, &rec.ChainID, &kind, &resultJSON, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Kind = model.InputKind(kind)
	rec.Result = &model.AnalysisResult{}
	if err := json.Unmarshal(resultJSON, rec.Result); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal result")
	}
	return &rec, nil
}

func (s *PostgresStore) GetCachedABI(ctx context.Context, chainID int64, address string) (*model.CachedABI, error) {
	var c model.CachedABI
	err := s.pool.QueryRow(ctx,
		`SELECT chain_id, address, contract_name, abi, source, fetched_at FROM abi_cache
		 WHERE chain_id = $1 AND address = $2`,
		chainID, strings.ToLower(address),
	).Scan(&c.ChainID, &c.Address, &c.ContractName, &c.ABI, &c.Source, &c.FetchedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get cached abi")
	}
	return &c, nil
}

func (s *PostgresStore) SetCachedABI(ctx context.Context, entry model.CachedABI) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO abi_cache (chain_id, address, contract_name, abi, source, fetched_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (chain_id, address) DO UPDATE SET
		   contract_name = $3, abi = $4, source = $5, fetched_at = $6`,
		entry.ChainID, strings.ToLower(entry.Address), entry.ContractName,
		entry.ABI, entry.Source, entry.FetchedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: set cached abi")
}

// Dead letter queue methods

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, entry resilience.DLQEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = now
	}
	if entry.LastFailedAt.IsZero() {
		entry.LastFailedAt = now
	}

	var failedStep *string
	if entry.FailedStep != "" {
		failedStep = &entry.FailedStep
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, input, chain_id, error, error_type, failed_step, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $4, error_type = $5, failed_step = $6, retry_count = $7,
		   next_retry_at = $9, last_failed_at = $11`,
		entry.ID, entry.Input, entry.ChainID, entry.Error, entry.ErrorType,
		failedStep, entry.RetryCount, entry.MaxRetries,
		entry.NextRetryAt, entry.CreatedAt, entry.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, input, chain_id, error, error_type, failed_step, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= now() AND retry_count < max_retries`
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
		limit = defaultListLimit
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var failedStep *string
		if err := rows.Scan(&e.ID, &e.Input, &e.ChainID, &e.Error, &e.ErrorType,
			&failedStep, &e.RetryCount, &e.MaxRetries,
			&e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		if failedStep != nil {
			e.FailedStep = *failedStep
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: dequeue dlq iterate")
}

func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dlq retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "dlq_entry %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}
