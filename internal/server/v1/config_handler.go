package v1

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nulzo/model-playground/internal/config"
	"github.com/nulzo/model-playground/pkg/api"
)

type ConfigHandler struct {
	config  *config.Config
	version string
}

func NewConfigHandler(cfg *config.Config, version string) *ConfigHandler {
	return &ConfigHandler{config: cfg, version: version}
}

// Get returns the runtime configuration without keys, DSNs or passwords.
//
// GET /playground/config
func (h *ConfigHandler) Get(c *gin.Context) {
	providers := make([]string, 0, len(h.config.Providers))
	for _, p := range h.config.Providers {
		if p.Enabled {
			providers = append(providers, p.ID)
		}
	}

	c.JSON(http.StatusOK, api.RuntimeConfig{
		Env:      h.config.Server.Env,
		Version:  h.version,
		Database: h.config.Database.Driver,
		Redis:    h.config.Redis.Enabled,
		Tracing:  h.config.Tracing.Enabled,
		Quota: api.QuotaConfig{
			Limit:         h.config.RateLimit.MaxRequests,
			WindowSeconds: int64(h.config.RateLimit.Window.Seconds()),
		},
		Providers: providers,
	})
}
