// Package server implements ControlAPI (spec §4.I): the REST+WebSocket
// surface over SessionStore, Orchestrator, ProgressTracker, and
// PerformanceMonitor.
package server

import (
	"embed"
	"io/fs"
	"net/http"
	"time"

	"github.com/artemis/migrationctl/internal/auth"
	"github.com/artemis/migrationctl/internal/config"
	"github.com/artemis/migrationctl/internal/observability"
	"github.com/artemis/migrationctl/internal/orchestrator"
	"github.com/artemis/migrationctl/internal/perfmon"
	"github.com/artemis/migrationctl/internal/progress"
	"github.com/artemis/migrationctl/internal/report"
	"github.com/artemis/migrationctl/internal/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

//go:embed dist/*
var webUI embed.FS

// Server is the ControlAPI HTTP+WebSocket server.
type Server struct {
	config       *config.Config
	auth         *auth.Gate
	store        *session.Store
	orchestrator *orchestrator.Orchestrator
	tracker      *progress.Tracker
	perf         *perfmon.Monitor
	reports      *report.Generator
	presets      map[string]config.PresetConfig

	logger  *observability.Logger
	health  *observability.HealthChecker
	metrics *observability.Metrics

	hub    *Hub
	router *gin.Engine
}

// Deps bundles every collaborator Server needs, so New's signature stays
// stable as new components are wired in.
type Deps struct {
	Config       *config.Config
	Auth         *auth.Gate
	Store        *session.Store
	Orchestrator *orchestrator.Orchestrator
	Tracker      *progress.Tracker
	Perf         *perfmon.Monitor
	Reports      *report.Generator
	Health       *observability.HealthChecker
	Metrics      *observability.Metrics
	Logger       *observability.Logger
}

// New creates the ControlAPI server and wires its routes.
func New(deps Deps) *Server {
	if deps.Config.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config:       deps.Config,
		auth:         deps.Auth,
		store:        deps.Store,
		orchestrator: deps.Orchestrator,
		tracker:      deps.Tracker,
		perf:         deps.Perf,
		reports:      deps.Reports,
		presets:      deps.Config.Presets,
		logger:       deps.Logger,
		health:       deps.Health,
		metrics:      deps.Metrics,
		hub:          NewHub(deps.Logger),
	}

	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(s.loggingMiddleware())
	r.Use(s.corsMiddleware())

	r.GET("/health", s.health.HealthHandler())
	r.GET("/ready", s.health.ReadyHandler())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/auth/token", s.IssueToken)

	authed := r.Group("/")
	authed.Use(s.authMiddleware())
	{
		authed.GET("/auth/me", s.CurrentUser)

		authed.POST("/migrations", s.requireScope("migrations:write"), s.CreateMigration)
		authed.GET("/migrations", s.requireScope("migrations:read"), s.ListMigrations)
		authed.GET("/migrations/:id/status", s.requireScope("migrations:read"), s.MigrationStatus)
		authed.POST("/migrations/:id/start", s.requireScope("migrations:write"), s.StartMigration)
		authed.POST("/migrations/:id/cancel", s.requireScope("migrations:write"), s.CancelMigration)
		authed.POST("/migrations/:id/rollback", s.requireScope("migrations:write"), s.RollbackMigration)

		authed.GET("/presets", s.requireScope("presets:read"), s.ListPresets)
		authed.POST("/presets/:id/create-migration", s.requireScope("migrations:write"), s.CreateMigrationFromPreset)

		authed.POST("/validate", s.requireScope("migrations:read"), s.ValidateConfig)

		authed.GET("/ws/migrations/:id", s.HandleMigrationStream)
		authed.GET("/ws/events", s.requireScope("migrations:read"), s.HandleWebSocket)
	}

	s.setupStaticFiles(r)

	s.router = r
}

func (s *Server) setupStaticFiles(r *gin.Engine) {
	distFS, err := fs.Sub(webUI, "dist")
	if err != nil {
		s.logger.Warn("web UI not embedded, will not serve static files")
		r.GET("/", func(c *gin.Context) {
			c.String(http.StatusOK, "migration-control API server running. Web UI not available.")
		})
		return
	}

	r.NoRoute(func(c *gin.Context) {
		switch c.Request.URL.Path {
		case "/health", "/ready", "/metrics":
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.FileFromFS(c.Request.URL.Path, http.FS(distFS))
	})

	r.StaticFS("/assets", http.FS(distFS))
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/ready" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		s.logger.InfoRedacted("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-API-Key, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// Start runs the HTTP server. Blocks until the listener stops.
func (s *Server) Start() error {
	go s.hub.Run()

	s.logger.Info("starting HTTP server", zap.String("addr", s.config.HTTPAddr))

	if err := s.router.Run(s.config.HTTPAddr); err != nil {
		return err
	}
	return nil
}

// Stop gracefully stops the server's WebSocket hub.
func (s *Server) Stop() error {
	s.logger.Info("stopping HTTP server")
	s.hub.Stop()
	return nil
}

// GetRouter returns the gin router for direct route registration in tests.
func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
