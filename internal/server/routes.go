package server

import (
	"github.com/gin-gonic/gin"
	"github.com/nulzo/inference-gateway/internal/server/middleware"
	v1 "github.com/nulzo/inference-gateway/internal/server/v1"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) SetupRoutes() {
	s.router.Use(middleware.ErrorHandler(s.logger))

	healthHandler := v1.NewHealthHandler(s.deps.Services, s.deps.Gateway.Tasks())
	s.router.GET("/health", healthHandler.Health)

	gatherer := s.deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := s.router.Group("/v1")
	{
		inferenceHandler := v1.NewInferenceHandler(s.deps.Gateway, s.validator)
		api.POST("/inference/*path", s.limiter.Middleware(), inferenceHandler.Infer)

		taskHandler := v1.NewTaskHandler(s.deps.Gateway.Tasks())
		api.GET("/tasks", taskHandler.List)
		api.GET("/tasks/:task_id", taskHandler.Get)
		api.POST("/tasks/:task_id/_cancel", taskHandler.Cancel)

		endpointHandler := v1.NewEndpointHandler(s.deps.Endpoints, s.deps.Services, s.validator)
		api.GET("/endpoints", endpointHandler.List)
		api.GET("/endpoints/:inference_id", endpointHandler.Get)
		api.PUT("/endpoints/:inference_id", endpointHandler.Put)
		api.DELETE("/endpoints/:inference_id", endpointHandler.Delete)

		connectorHandler := v1.NewConnectorHandler(s.deps.Connectors, s.validator)
		api.GET("/connectors", connectorHandler.List)

		if s.deps.LogLevel != nil {
			api.GET("/log/level", gin.WrapH(s.deps.LogLevel))
			api.PUT("/log/level", gin.WrapH(s.deps.LogLevel))
		}

		analyticsHandler := v1.NewAnalyticsHandler(s.deps.Analytics)
		api.GET("/analytics/usage", analyticsHandler.GetUsage)
		api.GET("/analytics/requests", analyticsHandler.GetRecent)
	}
}
