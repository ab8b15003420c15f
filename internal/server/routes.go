package server

import (
	"github.com/nulzo/model-playground/internal/server/middleware"
	v1 "github.com/nulzo/model-playground/internal/server/v1"
)

func (s *Server) SetupRoutes() {
	if s.config.Tracing.Enabled {
		s.router.Use(middleware.Tracing(s.config.Tracing.ServiceName))
	}
	s.router.Use(middleware.CORS(s.config.Server.CORSOrigins))
	s.router.Use(middleware.ErrorHandler(s.logger))
	s.router.Use(middleware.NewRateLimiter(s.config.RateLimit.RequestsPerSecond, s.config.RateLimit.Burst, s.logger).Middleware())

	healthHandler := v1.NewHealthHandler(s.deps.Version, s.deps.Repo)
	s.router.GET("/health", healthHandler.Health)

	pg := s.router.Group("/playground")
	pg.Use(middleware.Auth(s.deps.Repo, s.config.Server.APIKeys, s.deps.Cache, s.config.Cache.TTL, s.logger))
	{
		// quota is charged inside the stream handlers, after validation
		quota := middleware.NewQuotaGuard(s.deps.Limiter, s.config.RateLimit.Window, s.logger)
		playgroundHandler := v1.NewPlaygroundHandler(s.deps.Orchestrator, s.deps.History, quota, s.validator, s.logger)
		pg.GET("/stream", playgroundHandler.StreamQuery)
		pg.POST("/stream", playgroundHandler.Stream)
		pg.GET("/sessions", playgroundHandler.ListSessions)
		pg.GET("/sessions/:id", playgroundHandler.GetSession)
		pg.GET("/turns/:id", playgroundHandler.GetTurn)

		modelHandler := v1.NewModelHandler(s.deps.Registry)
		pg.GET("/models", modelHandler.ListModels)

		usageHandler := v1.NewUsageHandler(s.deps.Analytics)
		pg.GET("/usage", usageHandler.GetUsage)

		configHandler := v1.NewConfigHandler(s.config, s.deps.Version)
		pg.GET("/config", configHandler.Get)
	}
}
