package httpapi

import (
	"context"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/MimeLyc/translation-orchestrator/internal/config"
	"github.com/MimeLyc/translation-orchestrator/internal/events"
	"github.com/MimeLyc/translation-orchestrator/internal/service"
	"github.com/MimeLyc/translation-orchestrator/pkg/log"
)

const defaultServiceName = "translation-orchestrator"

type Server struct {
	orch     *service.Orchestrator
	approver *service.Approver
	settings *config.SettingsStore
	bus      *events.MemoryBus

	allowOrigins    []string
	serviceName     string
	storeDriver     string
	maintenanceCron string
	streamInterval  time.Duration

	engine *gin.Engine
	server *http.Server
}

type Option func(*Server)

// WithAllowOrigins sets the CORS origins. "*" allows every origin.
func WithAllowOrigins(origins []string) Option {
	return func(s *Server) {
		s.allowOrigins = origins
	}
}

func WithServiceName(name string) Option {
	return func(s *Server) {
		if name != "" {
			s.serviceName = name
		}
	}
}

func WithStoreDriver(driver string) Option {
	return func(s *Server) {
		s.storeDriver = driver
	}
}

// WithMaintenanceSchedule reports the recovery cron schedule on /health.
func WithMaintenanceSchedule(expr string) Option {
	return func(s *Server) {
		s.maintenanceCron = expr
	}
}

func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func NewServer(orch *service.Orchestrator, approver *service.Approver, settings *config.SettingsStore, bus *events.MemoryBus, opts ...Option) *Server {
	s := &Server{
		orch:           orch,
		approver:       approver,
		settings:       settings,
		bus:            bus,
		allowOrigins:   []string{"*"},
		serviceName:    defaultServiceName,
		streamInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine = s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.Info("HTTP server listening on %s", addr)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(s.serviceName))
	r.Use(s.corsMiddleware())
	r.Use(requestLogger())

	r.GET("/health", s.handleHealth)

	api := r.Group("/api")
	{
		api.POST("/jobs", s.handleCreateJob)
		api.GET("/jobs", s.handleListJobs)
		api.GET("/jobs/:id", s.handleGetJob)
		api.GET("/jobs/:id/stream", s.handleJobStream)
		api.PUT("/jobs/:id/segments/:segment_id", s.handleUpdateSegment)
		api.POST("/jobs/:id/approve", s.handleApproveJob)
		api.POST("/jobs/:id/cancel", s.handleCancelJob)

		api.GET("/metrics", s.handleMetrics)
		api.GET("/events", s.handleEvents)

		api.GET("/config", s.handleGetConfig)
		api.PUT("/config", s.handleUpdateConfig)
		api.GET("/config/registry", s.handleRegistry)
		api.POST("/config/providers", s.handleRegisterProvider)
		api.POST("/config/models", s.handleRegisterModel)
		api.POST("/config/prompts", s.handleRegisterPrompt)
		api.GET("/config/changelog", s.handleChangeLog)

		api.GET("/ground-truth", s.handleListGroundTruth)
		api.GET("/ground-truth/:id", s.handleGetGroundTruth)
		api.POST("/ground-truth/:id/corrections", s.handleAddCorrection)
	}
	return r
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "X-Actor"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(s.allowOrigins) == 0 || slices.Contains(s.allowOrigins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.allowOrigins
	}
	return cors.New(cfg)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
