package server

import (
	"net/http"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/nulzo/model-playground/internal/analytics"
	"github.com/nulzo/model-playground/internal/cache"
	"github.com/nulzo/model-playground/internal/config"
	"github.com/nulzo/model-playground/internal/llm"
	"github.com/nulzo/model-playground/internal/playground"
	"github.com/nulzo/model-playground/internal/ratelimit"
	"github.com/nulzo/model-playground/internal/server/middleware"
	"github.com/nulzo/model-playground/internal/server/validator"
	"github.com/nulzo/model-playground/internal/store"
	"go.uber.org/zap"
)

// Deps are the services the HTTP layer is wired to.
type Deps struct {
	Repo         store.Repository
	Registry     *llm.Registry
	Orchestrator *playground.Orchestrator
	History      *playground.History
	Analytics    analytics.Service
	Limiter      ratelimit.Limiter
	Cache        cache.CacheService
	Version      string
}

type Server struct {
	router    *gin.Engine
	config    *config.Config
	logger    *zap.Logger
	deps      Deps
	validator *validator.Validator
}

func New(cfg *config.Config, logger *zap.Logger, deps Deps) *Server {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	engine.Use(ginzap.RecoveryWithZap(logger, true))
	engine.Use(middleware.Logger(logger))

	s := &Server{
		router:    engine,
		config:    cfg,
		logger:    logger,
		deps:      deps,
		validator: validator.New(),
	}

	s.SetupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// HTTPServer builds the listener for the configured port. WriteTimeout stays
// zero so long streams are not cut off.
func (s *Server) HTTPServer() *http.Server {
	return &http.Server{
		Addr:              ":" + s.config.Server.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
}
