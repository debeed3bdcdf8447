package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/nulzo/inference-gateway/internal/store"
	"github.com/nulzo/inference-gateway/internal/store/model"
)

// DB defines the interface for database operations (satisfied by *sqlx.DB and *sqlx.Tx)
type DB interface {
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
	NamedExecContext(ctx context.Context, query string, arg any) (sql.Result, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SqliteRepository implements store.Repository
type SqliteRepository struct {
	db       *sqlx.DB // Required for starting new transactions
	executor DB       // Used for actual queries (can be *sqlx.DB or *sqlx.Tx)
}

func NewSqliteRepository(db *sqlx.DB) *SqliteRepository {
	return &SqliteRepository{
		db:       db,
		executor: db,
	}
}

func (r *SqliteRepository) Close() error {
	return r.db.Close()
}

func (r *SqliteRepository) WithTx(ctx context.Context, fn func(repo store.Repository) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	txRepo := &SqliteRepository{
		db:       r.db,
		executor: tx,
	}

	if err := fn(txRepo); err != nil {
		// attempt rollback, but prioritize original error
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (r *SqliteRepository) Endpoints() store.EndpointRepository {
	return &endpointRepo{db: r.executor}
}

func (r *SqliteRepository) Connectors() store.ConnectorRepository {
	return &connectorRepo{db: r.executor}
}

func (r *SqliteRepository) Requests() store.RequestRepository {
	return &requestRepo{db: r.executor}
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

type endpointRepo struct {
	db DB
}

func (r *endpointRepo) Get(ctx context.Context, inferenceID string) (*model.Endpoint, error) {
	var e model.Endpoint
	if err := r.db.GetContext(ctx, &e, `SELECT * FROM endpoints WHERE inference_id = ?`, inferenceID); err != nil {
		return nil, notFound(err)
	}
	return &e, nil
}

func (r *endpointRepo) List(ctx context.Context, service string) ([]model.Endpoint, error) {
	endpoints := []model.Endpoint{}
	var err error
	if service == "" {
		err = r.db.SelectContext(ctx, &endpoints, `SELECT * FROM endpoints ORDER BY inference_id`)
	} else {
		err = r.db.SelectContext(ctx, &endpoints, `SELECT * FROM endpoints WHERE service = ? ORDER BY inference_id`, service)
	}
	return endpoints, err
}

func (r *endpointRepo) Upsert(ctx context.Context, e *model.Endpoint) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	query := `
	INSERT INTO endpoints (
		inference_id, service, task_type, service_settings_json, task_settings_json, created_at, updated_at
	) VALUES (
		:inference_id, :service, :task_type, :service_settings_json, :task_settings_json, :created_at, :updated_at
	)
	ON CONFLICT(inference_id) DO UPDATE SET
		service = excluded.service,
		task_type = excluded.task_type,
		service_settings_json = excluded.service_settings_json,
		task_settings_json = excluded.task_settings_json,
		updated_at = excluded.updated_at`
	_, err := r.db.NamedExecContext(ctx, query, e)
	return err
}

func (r *endpointRepo) Delete(ctx context.Context, inferenceID string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM endpoints WHERE inference_id = ?`, inferenceID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

type connectorRepo struct {
	db DB
}

func (r *connectorRepo) List(ctx context.Context, offset, limit int) ([]model.Connector, error) {
	connectors := []model.Connector{}
	if limit == 0 {
		return connectors, nil
	}
	err := r.db.SelectContext(ctx, &connectors, `SELECT * FROM connectors ORDER BY id LIMIT ? OFFSET ?`, limit, offset)
	return connectors, err
}

func (r *connectorRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM connectors`)
	return n, err
}

func (r *connectorRepo) Create(ctx context.Context, c *model.Connector) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	query := `
	INSERT INTO connectors (id, name, index_name, service_type, status, description, is_native, created_at)
	VALUES (:id, :name, :index_name, :service_type, :status, :description, :is_native, :created_at)`
	_, err := r.db.NamedExecContext(ctx, query, c)
	return err
}

type requestRepo struct {
	db DB
}

func (r *requestRepo) Log(ctx context.Context, log *model.RequestLog) error {
	query := `
	INSERT INTO request_logs (
		id, inference_id, service, task_type, outcome, error_kind, status_code,
		input_count, chunk_count, latency_ms, ttft_ms, is_streamed, task_id,
		ip_address, user_agent, created_at
	) VALUES (
		:id, :inference_id, :service, :task_type, :outcome, :error_kind, :status_code,
		:input_count, :chunk_count, :latency_ms, :ttft_ms, :is_streamed, :task_id,
		:ip_address, :user_agent, :created_at
	)`
	_, err := r.db.NamedExecContext(ctx, query, log)
	return err
}

func (r *requestRepo) GetByID(ctx context.Context, id string) (*model.RequestLog, error) {
	var log model.RequestLog
	if err := r.db.GetContext(ctx, &log, `SELECT * FROM request_logs WHERE id = ?`, id); err != nil {
		return nil, notFound(err)
	}
	return &log, nil
}

func (r *requestRepo) GetRecent(ctx context.Context, inferenceID string, limit int) ([]model.RequestLog, error) {
	logs := []model.RequestLog{}
	if inferenceID == "" {
		err := r.db.SelectContext(ctx, &logs, `SELECT * FROM request_logs ORDER BY created_at DESC LIMIT ?`, limit)
		return logs, err
	}
	query := `SELECT * FROM request_logs WHERE inference_id = ? ORDER BY created_at DESC LIMIT ?`
	err := r.db.SelectContext(ctx, &logs, query, inferenceID, limit)
	return logs, err
}

func (r *requestRepo) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM request_logs WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *requestRepo) GetDailyStats(ctx context.Context, days int) ([]model.DailyStats, error) {
	stats := []model.DailyStats{}
	query := `
		SELECT
			DATE(created_at) as date,
			COUNT(*) as total_requests,
			COALESCE(SUM(CASE WHEN outcome != 'success' THEN 1 ELSE 0 END), 0) as error_count,
			COALESCE(SUM(CASE WHEN is_streamed THEN 1 ELSE 0 END), 0) as streamed_requests,
			COALESCE(SUM(chunk_count), 0) as total_chunks,
			COALESCE(AVG(latency_ms), 0) as avg_latency
		FROM request_logs
		WHERE created_at >= DATE('now', ?)
		GROUP BY date
		ORDER BY date DESC
	`
	// SQLite date offset format is '-7 days'
	err := r.db.SelectContext(ctx, &stats, query, fmt.Sprintf("-%d days", days))
	return stats, err
}
