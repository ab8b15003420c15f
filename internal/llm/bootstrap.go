package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/nulzo/model-playground/internal/cli"
	"github.com/nulzo/model-playground/internal/config"
	"go.uber.org/zap"
)

const healthTimeout = 5 * time.Second

// Bootstrap builds a registry from every enabled provider in the configuration.
// Providers that fail validation, construction or their health check are skipped.
func Bootstrap(ctx context.Context, providers []config.ProviderConfig, log *zap.Logger) *Registry {
	registry := NewRegistry()
	validate := validator.New()

	for _, pCfg := range providers {
		if !pCfg.Enabled {
			continue
		}

		if err := validate.Struct(&pCfg); err != nil {
			log.Warn(cli.ProviderLine(false, pCfg.ID, pCfg.Type, "invalid configuration"), zap.Error(err))
			continue
		}

		provider, err := New(pCfg)
		if err != nil {
			log.Error("Failed to initialize provider",
				zap.String("id", pCfg.ID),
				zap.String("type", pCfg.Type),
				zap.Error(err),
			)
			continue
		}

		healthCtx, cancel := context.WithTimeout(ctx, healthTimeout)
		err = provider.Health(healthCtx)
		cancel()
		if err != nil {
			log.Warn(cli.ProviderLine(false, pCfg.ID, pCfg.Type, "unhealthy, skipping"), zap.Error(err))
			continue
		}

		if err := registry.Add(provider); err != nil {
			log.Error("Failed to register provider", zap.String("id", pCfg.ID), zap.Error(err))
			continue
		}

		log.Info(cli.ProviderLine(true, pCfg.ID, pCfg.Type, fmt.Sprintf("ctx %d", provider.MaxTokens())))
	}

	if registry.Len() == 0 {
		log.Warn("No providers were registered. The playground will reject every prompt.")
	}

	return registry
}
