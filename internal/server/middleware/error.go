package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/nulzo/inference-gateway/pkg/api"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ErrorHandler renders the last handler error as an RFC 9457 problem and marks the request span.
// Responses already started (SSE streams) report their errors in-band instead.
func ErrorHandler(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		problem := api.FromError(err)
		if problem.Instance == "" {
			problem.Instance = c.Request.URL.Path
		}

		span := trace.SpanFromContext(c.Request.Context())
		if kind, ok := problem.Extensions["error_kind"].(string); ok {
			span.SetAttributes(attribute.String("inference.error_kind", kind))
		}

		if problem.Log != nil {
			span.RecordError(problem.Log)
			span.SetStatus(codes.Error, problem.Title)
			logger.Error("request failed",
				zap.Int("status", problem.Status),
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", c.GetString(RequestIDKey)),
				zap.Error(problem.Log))
		}

		c.JSON(problem.Status, problem)
		c.Abort()
	}
}
