// Package ops serves the operational endpoints of the assistant: liveness, readiness,
// Prometheus metrics, NLU status and a manual feedback reload.
package ops

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tourism-assistant/internal/nlu/domain"
)

// Check reports whether a dependency is usable.
type Check func(ctx context.Context) error

// Reloader triggers a feedback reload of the domain model.
type Reloader interface {
	Reload(ctx context.Context) (bool, domain.MergeReport, error)
}

// StatusFunc returns a snapshot for /status.
type StatusFunc func() map[string]interface{}

type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
}

type Config struct {
	Address      string
	Version      string
	CheckTimeout time.Duration
	// AllowedOrigins enables CORS for browser dashboards; empty disables it.
	AllowedOrigins []string
}

type Server struct {
	cfg      Config
	checks   map[string]Check
	status   StatusFunc
	reloader Reloader
	logger   Logger
	router   *gin.Engine
	http     *http.Server
}

type Option func(*Server)

func WithCheck(name string, check Check) Option {
	return func(s *Server) { s.checks[name] = check }
}

func WithStatus(fn StatusFunc) Option {
	return func(s *Server) { s.status = fn }
}

func WithReloader(r Reloader) Option {
	return func(s *Server) { s.reloader = r }
}

func New(cfg Config, log Logger, opts ...Option) *Server {
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 2 * time.Second
	}
	s := &Server{cfg: cfg, checks: make(map[string]Check), logger: log}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: cfg.AllowedOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}

	router.GET("/health", s.health)
	router.GET("/ready", s.ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/status", s.statusHandler)
	router.POST("/admin/feedback/reload", s.reload)

	s.router = router
	s.http = &http.Server{Addr: cfg.Address, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.logger.Info("Operations server listening", map[string]interface{}{"address": s.cfg.Address})
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Operations server failed", map[string]interface{}{"error": err.Error()})
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"version": s.cfg.Version,
		"time":    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.CheckTimeout)
	defer cancel()

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make(map[string]string, len(names))
	code := http.StatusOK
	for _, name := range names {
		if err := s.checks[name](ctx); err != nil {
			results[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	status := "ready"
	if code != http.StatusOK {
		status = "not_ready"
	}
	c.JSON(code, gin.H{"status": status, "checks": results})
}

func (s *Server) statusHandler(c *gin.Context) {
	if s.status == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.status())
}

func (s *Server) reload(c *gin.Context) {
	if s.reloader == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "feedback is disabled"})
		return
	}
	reloaded, report, err := s.reloader.Reload(c.Request.Context())
	if err != nil {
		s.logger.Error("Manual feedback reload failed", map[string]interface{}{"error": err.Error()})
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reloaded": reloaded, "report": report})
}
