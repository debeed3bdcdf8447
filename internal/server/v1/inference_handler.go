package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/inference-gateway/internal/gateway"
	"github.com/nulzo/inference-gateway/internal/inference"
	"github.com/nulzo/inference-gateway/internal/server/middleware"
	"github.com/nulzo/inference-gateway/internal/server/validator"
	"github.com/nulzo/inference-gateway/pkg/api"
)

const (
	streamSuffix = "_stream"

	TaskIDHeader = middleware.TaskIDHeader
)

type InferenceHandler struct {
	gateway   *gateway.Service
	validator *validator.Validator
}

func NewInferenceHandler(gw *gateway.Service, v *validator.Validator) *InferenceHandler {
	return &InferenceHandler{
		gateway:   gw,
		validator: v,
	}
}

// Infer serves POST /v1/inference/{task_type}/{inference_id} and
// POST /v1/inference/{inference_id}, each optionally suffixed with /_stream.
func (h *InferenceHandler) Infer(c *gin.Context) {
	taskType, inferenceID, forceStream, err := parseInferencePath(c.Param("path"))
	if err != nil {
		_ = c.Error(err)
		return
	}

	var body api.InferenceRequest
	if err := c.ShouldBindJSON(&body); err != nil && !errors.Is(err, io.EOF) {
		_ = c.Error(api.ValidationError(h.validator.ParseError(err)))
		return
	}

	stream := forceStream || c.Query("stream") == "true"
	resp, err := h.gateway.Dispatch(c.Request.Context(), body.ToDomain(inferenceID, taskType, stream))
	if err != nil {
		_ = c.Error(err)
		return
	}

	if !resp.Streaming() {
		c.JSON(http.StatusOK, resp.Result)
		return
	}
	h.writeStream(c, resp)
}

func (h *InferenceHandler) writeStream(c *gin.Context, resp *gateway.Response) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.Header().Set(TaskIDHeader, resp.Task.ID)

	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		ev, ok := <-resp.Stream
		if !ok {
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
			return false
		}

		if ev.Err != nil {
			data, _ := json.Marshal(api.StreamError{Error: api.FromError(ev.Err)})
			_, err := fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
			return err == nil
		}

		data, err := json.Marshal(ev.Chunk)
		if err != nil {
			return false
		}
		_, err = fmt.Fprintf(w, "data: %s\n\n", data)
		return err == nil
	})
}

// parseInferencePath splits the wildcard tail of an inference route.
func parseInferencePath(path string) (taskType, inferenceID string, stream bool, err error) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if n := len(parts); n > 1 && parts[n-1] == streamSuffix {
		stream = true
		parts = parts[:n-1]
	}

	switch len(parts) {
	case 1:
		inferenceID = parts[0]
	case 2:
		taskType, inferenceID = parts[0], parts[1]
	default:
		return "", "", false, inference.ValidationError("Invalid inference path [%s]", path)
	}
	if inferenceID == "" {
		return "", "", false, inference.ValidationError("[inference_id] is required")
	}
	return taskType, inferenceID, stream, nil
}
