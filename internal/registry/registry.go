// Package registry resolves inference endpoint identifiers to their persisted configuration.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nulzo/inference-gateway/internal/inference"
	"github.com/nulzo/inference-gateway/internal/store"
	"github.com/nulzo/inference-gateway/internal/store/cache"
	"github.com/nulzo/inference-gateway/internal/store/model"
	"go.uber.org/zap"
)

const cacheKeyPrefix = "endpoint:"

// ModelRegistry is what the dispatch path needs from the registry.
type ModelRegistry interface {
	// Resolve returns an EndpointNotFound error for unknown identifiers.
	Resolve(ctx context.Context, inferenceID string) (inference.UnparsedModel, error)
}

// Store is the persisted model registry with a read-through cache in front of it.
type Store struct {
	repo     store.Repository
	cache    cache.CacheService
	ttl      time.Duration
	log      *zap.Logger
	validate *validator.Validate
}

func NewStore(repo store.Repository, c cache.CacheService, ttl time.Duration, log *zap.Logger) *Store {
	if c == nil {
		c = cache.NewMemoryCache()
	}
	return &Store{
		repo:     repo,
		cache:    c,
		ttl:      ttl,
		log:      log,
		validate: validator.New(),
	}
}

func (s *Store) Resolve(ctx context.Context, inferenceID string) (inference.UnparsedModel, error) {
	var cached inference.UnparsedModel
	err := s.cache.Get(ctx, cacheKeyPrefix+inferenceID, &cached)
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		// a broken cache must not break dispatch
		s.log.Warn("endpoint cache read failed", zap.String("inference_id", inferenceID), zap.Error(err))
	}

	row, err := s.repo.Endpoints().Get(ctx, inferenceID)
	if errors.Is(err, store.ErrNotFound) {
		return inference.UnparsedModel{}, inference.EndpointNotFound(inferenceID)
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return inference.UnparsedModel{}, context.Cause(ctx)
		}
		return inference.UnparsedModel{}, fmt.Errorf("failed to resolve endpoint [%s]: %w", inferenceID, err)
	}

	m, err := row.Unparsed()
	if err != nil {
		return inference.UnparsedModel{}, err
	}

	if s.ttl > 0 {
		if err := s.cache.Set(ctx, cacheKeyPrefix+inferenceID, m, s.ttl); err != nil {
			s.log.Warn("endpoint cache write failed", zap.String("inference_id", inferenceID), zap.Error(err))
		}
	}
	return m, nil
}

// Put creates or replaces an endpoint and returns the stored configuration.
func (s *Store) Put(ctx context.Context, m inference.UnparsedModel) (inference.UnparsedModel, error) {
	if err := s.check(m); err != nil {
		return inference.UnparsedModel{}, err
	}

	row, err := model.NewEndpoint(m)
	if err != nil {
		return inference.UnparsedModel{}, inference.ValidationError("invalid endpoint settings: %v", err)
	}

	err = s.repo.WithTx(ctx, func(tx store.Repository) error {
		existing, err := tx.Endpoints().Get(ctx, m.InferenceID)
		switch {
		case err == nil:
			row.CreatedAt = existing.CreatedAt
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		return tx.Endpoints().Upsert(ctx, row)
	})
	if err != nil {
		return inference.UnparsedModel{}, fmt.Errorf("failed to store endpoint [%s]: %w", m.InferenceID, err)
	}

	s.invalidate(ctx, m.InferenceID)
	return row.Unparsed()
}

// Delete removes an endpoint. Unknown identifiers yield EndpointNotFound.
func (s *Store) Delete(ctx context.Context, inferenceID string) error {
	deleted, err := s.repo.Endpoints().Delete(ctx, inferenceID)
	if err != nil {
		return fmt.Errorf("failed to delete endpoint [%s]: %w", inferenceID, err)
	}
	s.invalidate(ctx, inferenceID)
	if !deleted {
		return inference.EndpointNotFound(inferenceID)
	}
	return nil
}

// List returns every endpoint, or only those of service when it is non-empty.
func (s *Store) List(ctx context.Context, service string) ([]inference.UnparsedModel, error) {
	rows, err := s.repo.Endpoints().List(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}
	out := make([]inference.UnparsedModel, 0, len(rows))
	for i := range rows {
		m, err := rows[i].Unparsed()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// Sync upserts statically configured endpoints. Endpoints whose service is not known are still
// stored, so they resolve and fail with service_unavailable rather than endpoint_not_found.
func (s *Store) Sync(ctx context.Context, endpoints []inference.UnparsedModel, known func(service string) bool) (int, error) {
	n := 0
	for _, e := range endpoints {
		if known != nil && !known(e.Service) {
			s.log.Warn("endpoint references a service that is not registered",
				zap.String("inference_id", e.InferenceID),
				zap.String("service", e.Service))
		}
		if _, err := s.Put(ctx, e); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (s *Store) invalidate(ctx context.Context, inferenceID string) {
	if err := s.cache.Delete(ctx, cacheKeyPrefix+inferenceID); err != nil {
		s.log.Warn("endpoint cache invalidation failed", zap.String("inference_id", inferenceID), zap.Error(err))
	}
}

func (s *Store) check(m inference.UnparsedModel) error {
	if err := s.validate.Var(m.InferenceID, "required,max=255,printascii,excludesall=/?# "); err != nil {
		return inference.ValidationError("invalid inference_id [%s]", m.InferenceID)
	}
	if err := s.validate.Var(m.Service, "required,max=255"); err != nil {
		return inference.ValidationError("endpoint [%s] must name a service", m.InferenceID)
	}
	if !m.TaskType.IsConcrete() {
		return inference.ValidationError("endpoint [%s] has invalid task_type [%s]", m.InferenceID, m.TaskType)
	}
	return nil
}
