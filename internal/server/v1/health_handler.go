package v1

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/inference-gateway/internal/backend"
	"github.com/nulzo/inference-gateway/internal/task"
	"github.com/nulzo/inference-gateway/pkg/api"
)

const probeTimeout = 2 * time.Second

type HealthHandler struct {
	startTime time.Time
	services  *backend.Registry
	tasks     *task.Manager
}

func NewHealthHandler(services *backend.Registry, tasks *task.Manager) *HealthHandler {
	return &HealthHandler{
		startTime: time.Now(),
		services:  services,
		tasks:     tasks,
	}
}

// Health reports uptime, registered services and the live stream count. With ?deep=true every
// service that can be probed is checked concurrently; any failure answers 503 "degraded".
func (h *HealthHandler) Health(c *gin.Context) {
	resp := api.HealthResponse{
		Status:        "healthy",
		Uptime:        time.Since(h.startTime).String(),
		Time:          time.Now().UTC().Format(time.RFC3339),
		Services:      h.services.IDs(),
		ActiveStreams: h.tasks.Len(),
	}

	status := http.StatusOK
	if c.Query("deep") == "true" {
		resp.Checks = h.probe(c.Request.Context())
		for _, result := range resp.Checks {
			if result != "ok" {
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				break
			}
		}
	}

	c.JSON(status, resp)
}

func (h *HealthHandler) probe(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string)
	)
	for _, svc := range h.services.Services() {
		checker, ok := svc.(backend.HealthChecker)
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := "ok"
			if err := checker.Health(ctx); err != nil {
				result = err.Error()
			}
			mu.Lock()
			results[svc.Name()] = result
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}
