package v1

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/inference-gateway/internal/backend"
	"github.com/nulzo/inference-gateway/internal/inference"
	"github.com/nulzo/inference-gateway/internal/server/validator"
	"github.com/nulzo/inference-gateway/pkg/api"
)

// EndpointStore is the admin view of the model registry.
type EndpointStore interface {
	Resolve(ctx context.Context, inferenceID string) (inference.UnparsedModel, error)
	Put(ctx context.Context, m inference.UnparsedModel) (inference.UnparsedModel, error)
	Delete(ctx context.Context, inferenceID string) error
	List(ctx context.Context, service string) ([]inference.UnparsedModel, error)
}

type EndpointHandler struct {
	store     EndpointStore
	services  *backend.Registry
	validator *validator.Validator
}

func NewEndpointHandler(store EndpointStore, services *backend.Registry, v *validator.Validator) *EndpointHandler {
	return &EndpointHandler{
		store:     store,
		services:  services,
		validator: v,
	}
}

// Put creates or replaces an endpoint. The owning service must be registered and must accept the
// settings.
func (h *EndpointHandler) Put(c *gin.Context) {
	var req api.EndpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(api.ValidationError(h.validator.ParseError(err)))
		return
	}

	m := req.ToDomain(c.Param("inference_id"))
	svc, err := h.services.Lookup(m.Service)
	if err != nil {
		_ = c.Error(inference.ValidationError("Unknown service [%s] for inference endpoint [%s]", m.Service, m.InferenceID))
		return
	}
	if _, err := svc.Parse(m); err != nil {
		_ = c.Error(inference.ValidationError("Invalid settings for inference endpoint [%s]: %v", m.InferenceID, err))
		return
	}

	stored, err := h.store.Put(c.Request.Context(), m)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, stored)
}

func (h *EndpointHandler) Get(c *gin.Context) {
	m, err := h.store.Resolve(c.Request.Context(), c.Param("inference_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// List accepts an optional ?service= filter.
func (h *EndpointHandler) List(c *gin.Context) {
	models, err := h.store.List(c.Request.Context(), c.Query("service"))
	if err != nil {
		_ = c.Error(api.InternalError("Failed to list inference endpoints", err))
		return
	}
	c.JSON(http.StatusOK, api.List(models))
}

func (h *EndpointHandler) Delete(c *gin.Context) {
	if err := h.store.Delete(c.Request.Context(), c.Param("inference_id")); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, api.DeleteResponse{Acknowledged: true})
}
