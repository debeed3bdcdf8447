package store

import (
	"context"
	"errors"
	"time"

	"github.com/nulzo/inference-gateway/internal/store/model"
)

// ErrNotFound is returned by lookups that match no row.
var ErrNotFound = errors.New("not found")

// Repository is the main contract for the data layer.
type Repository interface {
	Endpoints() EndpointRepository
	Connectors() ConnectorRepository
	Requests() RequestRepository

	// transaction support
	WithTx(ctx context.Context, fn func(repo Repository) error) error

	Close() error
}

type EndpointRepository interface {
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, inferenceID string) (*model.Endpoint, error)
	// List returns all endpoints ordered by id, optionally restricted to one service.
	List(ctx context.Context, service string) ([]model.Endpoint, error)
	// Upsert creates the endpoint or replaces its configuration, keeping created_at.
	Upsert(ctx context.Context, e *model.Endpoint) error
	// Delete reports whether a row was removed.
	Delete(ctx context.Context, inferenceID string) (bool, error)
}

type ConnectorRepository interface {
	// List returns one page ordered by id.
	List(ctx context.Context, offset, limit int) ([]model.Connector, error)
	Count(ctx context.Context) (int64, error)
	Create(ctx context.Context, c *model.Connector) error
}

type RequestRepository interface {
	// Log stores a completed request.
	Log(ctx context.Context, log *model.RequestLog) error
	GetByID(ctx context.Context, id string) (*model.RequestLog, error)
	// GetRecent returns the last N logs, for one endpoint or for all when inferenceID is empty.
	GetRecent(ctx context.Context, inferenceID string, limit int) ([]model.RequestLog, error)
	// GetDailyStats returns aggregated stats grouped by day.
	GetDailyStats(ctx context.Context, days int) ([]model.DailyStats, error)
	// DeleteBefore removes logs created before cutoff and reports how many were removed.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
