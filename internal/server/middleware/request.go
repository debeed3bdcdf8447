package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/nulzo/inference-gateway/internal/telemetry"
)

const (
	RequestIDHeader = "X-Request-ID"
	RequestIDKey    = "request_id"
)

// RequestContext tags the request with a fresh id and puts the caller details on the context for
// telemetry. Ids double as request log keys, so a client supplied id is never reused.
func RequestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(RequestIDKey, id)
		c.Header(RequestIDHeader, id)

		ctx := telemetry.WithClientInfo(c.Request.Context(), telemetry.ClientInfo{
			IP:        c.ClientIP(),
			UserAgent: c.Request.UserAgent(),
			RequestID: id,
		})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
