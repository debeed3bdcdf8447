package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/inference-gateway/internal/connector"
	"github.com/nulzo/inference-gateway/internal/server/validator"
	"github.com/nulzo/inference-gateway/pkg/api"
)

type ConnectorHandler struct {
	service   *connector.Service
	validator *validator.Validator
}

func NewConnectorHandler(service *connector.Service, v *validator.Validator) *ConnectorHandler {
	return &ConnectorHandler{
		service:   service,
		validator: v,
	}
}

// List serves GET /v1/connectors?from=&size=.
func (h *ConnectorHandler) List(c *gin.Context) {
	params := connector.PageParams{From: connector.DefaultFrom, Size: connector.DefaultSize}
	if err := c.ShouldBindQuery(&params); err != nil {
		_ = c.Error(api.ValidationError(h.validator.ParseError(err)))
		return
	}

	page, err := h.service.List(c.Request.Context(), params)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, page)
}
