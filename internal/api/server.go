package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/foreman-dev/foreman/internal/config"
	"github.com/foreman-dev/foreman/pkg/database"
	"github.com/foreman-dev/foreman/pkg/observability"
	"github.com/foreman-dev/foreman/pkg/queue"
	"github.com/foreman-dev/foreman/pkg/repository"
)

// Server is the Foreman HTTP surface
type Server struct {
	router *gin.Engine
	srv    *http.Server
	logger observability.Logger
}

// Dependencies carries everything the server needs wired in
type Dependencies struct {
	Database *database.Database
	Queue    queue.TaskQueue
	Runs     repository.RunRepository
	Tasks    repository.TaskRepository
	RunData  repository.RunDataRepository
	Logger   observability.Logger
}

// NewServer builds the router with middleware and all route groups
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestLogger(deps.Logger))
	if cfg.API.EnableCORS {
		router.Use(CORSMiddleware())
	}

	var dbPing, queuePing func(c *gin.Context) error
	if deps.Database != nil {
		dbPing = func(c *gin.Context) error { return deps.Database.Ping(c.Request.Context()) }
	} else {
		dbPing = func(c *gin.Context) error { return nil }
	}
	if deps.Queue != nil {
		queuePing = func(c *gin.Context) error { return deps.Queue.Ping(c.Request.Context()) }
	}
	NewHealthAPI(cfg.Environment, dbPing, queuePing, deps.Logger).RegisterRoutes(router)

	v1 := router.Group("/api/v1")
	v1.Use(AuthMiddleware())
	v1.Use(TenantMiddleware())
	v1.Use(RateLimiter(cfg.API.RateLimitRPS, cfg.API.RateLimitBurst))

	NewRunAPI(deps.Runs, deps.Logger).RegisterRoutes(v1)
	NewTaskAPI(deps.Tasks, deps.Queue, deps.Logger).RegisterRoutes(v1)
	NewRunDataAPI(deps.RunData, deps.Logger).RegisterRoutes(v1)
	NewConfigAPI(cfg.Queue, cfg.Environment, cfg.API.ConfigCacheTTL).RegisterRoutes(v1)

	return &Server{
		router: router,
		srv: &http.Server{
			Addr:         cfg.API.ListenAddress,
			Handler:      router,
			ReadTimeout:  cfg.API.ReadTimeout,
			WriteTimeout: cfg.API.WriteTimeout,
			IdleTimeout:  cfg.API.IdleTimeout,
		},
		logger: deps.Logger,
	}
}

// Router exposes the underlying engine for tests
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Start serves until the listener fails or Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", map[string]interface{}{"address": s.srv.Addr})
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests until ctx expires
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("HTTP server shutting down", nil)
	return s.srv.Shutdown(ctx)
}
