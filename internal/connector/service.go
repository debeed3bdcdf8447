// Package connector lists registered data connectors with offset pagination.
package connector

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/nulzo/inference-gateway/internal/inference"
	"github.com/nulzo/inference-gateway/internal/store"
	"github.com/nulzo/inference-gateway/internal/store/model"
)

type Service struct {
	repo     store.ConnectorRepository
	maxSize  int
	validate *validator.Validate
}

func NewService(repo store.ConnectorRepository, maxSize int) *Service {
	return &Service{
		repo:     repo,
		maxSize:  maxSize,
		validate: validator.New(),
	}
}

// List validates the page parameters before touching storage.
func (s *Service) List(ctx context.Context, p PageParams) (Page, error) {
	if err := s.validatePage(p); err != nil {
		return Page{}, err
	}

	count, err := s.repo.Count(ctx)
	if err != nil {
		return Page{}, fmt.Errorf("failed to count connectors: %w", err)
	}

	results, err := s.repo.List(ctx, p.From, p.Size)
	if err != nil {
		return Page{}, fmt.Errorf("failed to list connectors: %w", err)
	}
	if results == nil {
		results = []model.Connector{}
	}

	return Page{Results: results, Count: count}, nil
}

func (s *Service) Create(ctx context.Context, c *model.Connector) error {
	if err := s.validate.Var(c.ID, "required,max=255"); err != nil {
		return inference.ValidationError("connector id is required")
	}
	if err := s.validate.Var(c.Name, "required"); err != nil {
		return inference.ValidationError("connector [%s] must have a name", c.ID)
	}
	if c.Status == "" {
		c.Status = "created"
	}
	return s.repo.Create(ctx, c)
}

func (s *Service) validatePage(p PageParams) error {
	if err := s.validate.Var(p.From, "gte=0"); err != nil {
		return inference.ValidationError("[from] parameter cannot be negative, found [%d]", p.From)
	}
	if err := s.validate.Var(p.Size, "gte=0"); err != nil {
		return inference.ValidationError("[size] parameter cannot be negative, found [%d]", p.Size)
	}
	if err := s.validate.Var(p.Size, fmt.Sprintf("lte=%d", s.maxSize)); err != nil {
		return inference.ValidationError("Page size is too big, must be less than or equal to [%d] but was [%d]", s.maxSize, p.Size)
	}
	return nil
}
