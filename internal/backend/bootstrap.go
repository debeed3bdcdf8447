package backend

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nulzo/inference-gateway/internal/cli"
	"github.com/nulzo/inference-gateway/internal/config"
	"go.uber.org/zap"
)

const healthTimeout = 5 * time.Second

// Bootstrap builds every enabled service from configuration and returns the resulting registry.
// Services that fail validation, construction or their health check are skipped.
func Bootstrap(ctx context.Context, cfgs []config.ServiceConfig, log *zap.Logger) (*Registry, error) {
	validate := validator.New()
	var services []Service

	for _, sCfg := range cfgs {
		if !sCfg.Enabled {
			continue
		}

		if err := validate.Struct(&sCfg); err != nil {
			log.Warn(fmt.Sprintf("%s %s %s",
				cli.WarningSign(),
				cli.Stylize(fmt.Sprintf("%s\t", sCfg.ID), cli.Black),
				cli.Stylize("Skipping service with invalid configuration", cli.Yellow),
			), zap.Error(err))
			continue
		}

		factoryFunc, err := Get(sCfg.Type)
		if err != nil {
			log.Error("Unknown service type", zap.String("id", sCfg.ID), zap.String("type", sCfg.Type))
			continue
		}

		svc, err := factoryFunc(sCfg)
		if err != nil {
			log.Error("Failed to initialize service",
				zap.String("id", sCfg.ID),
				zap.Error(err),
			)
			continue
		}

		if hc, ok := svc.(HealthChecker); ok {
			healthCtx, cancel := context.WithTimeout(ctx, healthTimeout)
			err := hc.Health(healthCtx)
			cancel()
			if err != nil {
				log.Error(cli.ServiceLine(false, sCfg.ID, sCfg.Type, "unhealthy, skipping registration"),
					zap.Error(err))
				continue
			}
		}

		log.Info(cli.ServiceLine(true, svc.Name(), svc.Type(), fmt.Sprintf("%v", svc.SupportedTaskTypes())))
		services = append(services, svc)
	}

	if len(services) == 0 {
		log.Warn("No services were registered. Inference requests will fail.")
	}

	return NewRegistry(services...)
}
