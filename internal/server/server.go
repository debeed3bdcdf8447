package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/nulzo/inference-gateway/internal/analytics"
	"github.com/nulzo/inference-gateway/internal/backend"
	"github.com/nulzo/inference-gateway/internal/config"
	"github.com/nulzo/inference-gateway/internal/connector"
	"github.com/nulzo/inference-gateway/internal/gateway"
	"github.com/nulzo/inference-gateway/internal/server/middleware"
	v1 "github.com/nulzo/inference-gateway/internal/server/v1"
	"github.com/nulzo/inference-gateway/internal/server/validator"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const shutdownGrace = 10 * time.Second

// Dependencies are the domain services the HTTP surface exposes.
type Dependencies struct {
	Gateway    *gateway.Service
	Endpoints  v1.EndpointStore
	Services   *backend.Registry
	Connectors *connector.Service
	Analytics  analytics.Service
	Gatherer   prometheus.Gatherer
	// LogLevel serves GET/PUT of the running log level; nil leaves the route unregistered.
	LogLevel   http.Handler
}

type Server struct {
	router    *gin.Engine
	config    *config.Config
	logger    *zap.Logger
	deps      Dependencies
	validator *validator.Validator
	limiter   *middleware.RateLimiter
}

func New(cfg *config.Config, logger *zap.Logger, deps Dependencies) *Server {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(ginzap.RecoveryWithZap(logger, true))
	engine.Use(middleware.RequestContext())
	engine.Use(middleware.Logger(logger))
	if cfg.Tracing.Enabled {
		engine.Use(middleware.Tracing(cfg.Tracing.ServiceName))
	}

	s := &Server{
		router:    engine,
		config:    cfg,
		logger:    logger,
		deps:      deps,
		validator: validator.New(),
		limiter:   middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger),
	}

	s.SetupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then cancels live streams and drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.config.Server.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	// open streams would otherwise hold Shutdown until the grace period ends
	srv.RegisterOnShutdown(s.deps.Gateway.Tasks().Shutdown)

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go s.limiter.Run(sweepCtx, time.Minute, 10*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	s.logger.Info("shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}
