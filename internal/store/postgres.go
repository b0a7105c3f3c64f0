package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/demandcast/pkg/models"
)

const defaultLockTimeout = 5 * time.Second

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore creates a new PostgresStore. A non-positive lockTimeout uses the default.
func NewPostgresStore(pool *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &PostgresStore{pool: pool, lockTimeout: lockTimeout}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

const apiKeyColumns = `id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at`

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE deleted_at IS NULL ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND deleted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Forecast batches ---

// ReplaceForecast runs delete-then-insert for one (sector, region) in a single READ
// COMMITTED transaction. Writers of the same key serialize on a transaction-scoped
// advisory lock; readers see either the old or the new batch.
func (s *PostgresStore) ReplaceForecast(ctx context.Context, batch *Batch) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin replace forecast: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`,
		fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())); err != nil {
		return classifyWriteError("set lock timeout", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1), hashtext($2))`,
		string(batch.Sector), batch.Region); err != nil {
		return classifyWriteError("lock forecast key", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM alerts WHERE sector = $1 AND region = $2`,
		batch.Sector, batch.Region); err != nil {
		return classifyWriteError("delete alerts", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM demand_predictions WHERE sector = $1 AND region = $2`,
		batch.Sector, batch.Region); err != nil {
		return classifyWriteError("delete predictions", err)
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"demand_predictions"},
		[]string{"id", "forecast_id", "sector", "region", "timeframe", "item_name", "category",
			"subcategory", "current_demand", "predicted_demand", "demand_change_percentage",
			"demand_delta", "demand_trend", "confidence", "peak_period", "reasoning",
			"market_factors", "recommendations", "risk_level", "created_at"},
		pgx.CopyFromSlice(len(batch.Predictions), func(i int) ([]any, error) {
			p := batch.Predictions[i]
			return []any{p.ID, p.ForecastID, string(batch.Sector), batch.Region, string(p.Timeframe),
				p.ItemName, p.Category, p.Subcategory, p.CurrentDemand, p.PredictedDemand,
				p.DemandChangePercentage, p.DemandDelta, p.DemandTrend, p.Confidence, p.PeakPeriod,
				p.Reasoning, nonNil(p.MarketFactors), nonNil(p.Recommendations), p.RiskLevel, p.CreatedAt}, nil
		}),
	); err != nil {
		return classifyWriteError("insert predictions", err)
	}

	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"alerts"},
		[]string{"id", "forecast_id", "prediction_id", "title", "severity", "sector", "region",
			"item_name", "message", "is_resolved", "created_at"},
		pgx.CopyFromSlice(len(batch.Alerts), func(i int) ([]any, error) {
			a := batch.Alerts[i]
			return []any{a.ID, a.ForecastID, a.PredictionID, a.Title, a.Severity, string(batch.Sector),
				batch.Region, a.ItemName, a.Message, a.IsResolved, a.CreatedAt}, nil
		}),
	); err != nil {
		return classifyWriteError("insert alerts", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyWriteError("commit replace forecast", err)
	}
	return nil
}

func (s *PostgresStore) ListPredictions(ctx context.Context, filter PredictionFilter) ([]*models.DemandPrediction, error) {
	where, args := keyConditions(filter.Sector, filter.Region)
	rows, err := s.pool.Query(ctx,
		`SELECT id, forecast_id, sector, region, timeframe, item_name, category, subcategory,
		        current_demand, predicted_demand, demand_change_percentage, demand_delta, demand_trend,
		        confidence, peak_period, reasoning, market_factors, recommendations, risk_level, created_at
		 FROM demand_predictions`+where+` ORDER BY sector, region, lower(item_name)`, args...)
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	defer rows.Close()

	var out []*models.DemandPrediction
	for rows.Next() {
		var p models.DemandPrediction
		if err := rows.Scan(&p.ID, &p.ForecastID, &p.Sector, &p.Region, &p.Timeframe, &p.ItemName,
			&p.Category, &p.Subcategory, &p.CurrentDemand, &p.PredictedDemand,
			&p.DemandChangePercentage, &p.DemandDelta, &p.DemandTrend, &p.Confidence,
			&p.PeakPeriod, &p.Reasoning, &p.MarketFactors, &p.Recommendations, &p.RiskLevel,
			&p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan prediction: %w", err)
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListAlerts(ctx context.Context, filter AlertFilter) ([]*models.Alert, error) {
	where, args := keyConditions(filter.Sector, filter.Region)
	if filter.Resolved != nil {
		if where == "" {
			where = " WHERE "
		} else {
			where += " AND "
		}
		args = append(args, *filter.Resolved)
		where += fmt.Sprintf("is_resolved = $%d", len(args))
	}
	args = append(args, filter.EffectiveLimit())

	rows, err := s.pool.Query(ctx,
		`SELECT id, forecast_id, prediction_id, title, severity, sector, region, item_name, message,
		        is_resolved, created_at
		 FROM alerts`+where+fmt.Sprintf(` ORDER BY created_at DESC, title LIMIT $%d`, len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []*models.Alert
	for rows.Next() {
		var a models.Alert
		if err := rows.Scan(&a.ID, &a.ForecastID, &a.PredictionID, &a.Title, &a.Severity, &a.Sector,
			&a.Region, &a.ItemName, &a.Message, &a.IsResolved, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ResolveAlert(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `UPDATE alerts SET is_resolved = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func keyConditions(sector models.Sector, region string) (string, []any) {
	var conditions []string
	var args []any
	if sector != "" {
		args = append(args, string(sector))
		conditions = append(conditions, fmt.Sprintf("sector = $%d", len(args)))
	}
	if region != "" {
		args = append(args, region)
		conditions = append(conditions, fmt.Sprintf("region = $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

// --- Runs ---

func (s *PostgresStore) CreateRun(ctx context.Context, run *models.ForecastRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO forecast_runs (id, sector, region, timeframe, status, stage, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		run.ID, run.Sector, run.Region, run.Timeframe, run.Status, run.Stage, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id uuid.UUID) (*models.ForecastRun, error) {
	var r models.ForecastRun
	err := s.pool.QueryRow(ctx,
		`SELECT id, sector, region, timeframe, status, stage, error_kind, error_message, prediction_count,
		        started_at, completed_at, created_at, updated_at
		 FROM forecast_runs WHERE id = $1`, id,
	).Scan(&r.ID, &r.Sector, &r.Region, &r.Timeframe, &r.Status, &r.Stage, &r.ErrorKind, &r.ErrorMessage,
		&r.PredictionCount, &r.StartedAt, &r.CompletedAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) UpdateRunStage(ctx context.Context, id uuid.UUID, stage models.Stage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE forecast_runs SET stage = $2, updated_at = NOW() WHERE id = $1`, id, stage)
	if err != nil {
		return fmt.Errorf("update run stage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateRunStatus(ctx context.Context, id uuid.UUID, status string, opts ...RunUpdateOption) error {
	params := &runUpdateParams{}
	for _, opt := range opts {
		opt(params)
	}

	// Fetch current status
	var currentStatus string
	err := s.pool.QueryRow(ctx, `SELECT status FROM forecast_runs WHERE id = $1`, id).Scan(&currentStatus)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get run status: %w", err)
	}

	if !canTransition(currentStatus, status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, currentStatus, status)
	}

	now := time.Now().UTC()
	query := `UPDATE forecast_runs SET status = $3, updated_at = $4`
	args := []any{id, currentStatus, status, now}

	if status == models.RunStatusRunning {
		args = append(args, now)
		query += fmt.Sprintf(", started_at = $%d", len(args))
	}
	if status == models.RunStatusCompleted || status == models.RunStatusFailed {
		args = append(args, now)
		query += fmt.Sprintf(", completed_at = $%d", len(args))
	}
	if params.Stage != nil {
		args = append(args, *params.Stage)
		query += fmt.Sprintf(", stage = $%d", len(args))
	}
	if params.ErrorKind != nil {
		args = append(args, *params.ErrorKind, *params.ErrorMessage)
		query += fmt.Sprintf(", error_kind = $%d, error_message = $%d", len(args)-1, len(args))
	}
	if params.PredictionCount != nil {
		args = append(args, *params.PredictionCount)
		query += fmt.Sprintf(", prediction_count = $%d", len(args))
	}

	// The status guard makes a concurrent transition lose instead of overwrite.
	query += " WHERE id = $1 AND status = $2"

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s changed concurrently", ErrInvalidTransition, currentStatus)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// classifyWriteError maps lock and serialization failures to ErrPersistenceConflict.
func classifyWriteError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "55P03", // lock_not_available
			"40001", // serialization_failure
			"40P01": // deadlock_detected
			return fmt.Errorf("%w: %s: %s", ErrPersistenceConflict, op, pgErr.Message)
		case "23505":
			return fmt.Errorf("%w: %s: %s", ErrDuplicateKey, op, pgErr.Detail)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ Store = (*PostgresStore)(nil)
