// Package admin serves the node's HTTP health, metrics and peer endpoints.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/levin/internal/auth"
	"github.com/danmuck/levin/internal/observability"
	"github.com/danmuck/levin/internal/protocol/levin"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

type Config struct {
	Addr        string
	Token       string
	CORSOrigins []string
	Service     string
	Version     string
}

// PeerSource lists connected sessions; levin.Registry satisfies it.
type PeerSource interface {
	Snapshot() []levin.SessionSnapshot
}

// Server is the admin HTTP surface of one node.
type Server struct {
	cfg     Config
	router  *gin.Engine
	peers   PeerSource
	guard   auth.Validator
	started time.Time
	log     zerolog.Logger

	ready      func() bool
	disconnect func(levin.PeerHandle) bool
}

func NewServer(cfg Config, peers PeerSource, logger zerolog.Logger) *Server {
	observability.RegisterMetrics()
	if cfg.Service == "" {
		cfg.Service = "levind"
	}
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger))
	r.Use(observability.RequestMetricsMiddleware())
	if origins := normalizeOrigins(cfg.CORSOrigins); len(origins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins: origins,
			AllowMethods: []string{"GET", "DELETE"},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:     cfg,
		router:  r,
		peers:   peers,
		started: time.Now(),
		log:     logger.With().Str("component", "admin.server").Logger(),
		ready:   func() bool { return true },
	}
	if cfg.Token != "" {
		s.guard = auth.StaticToken{Token: cfg.Token}
	}
	s.registerRoutes()
	return s
}

// SetReady replaces the readiness probe behind /ready.
func (s *Server) SetReady(fn func() bool) {
	if fn != nil {
		s.ready = fn
	}
}

// SetDisconnector enables DELETE /peers/:handle.
func (s *Server) SetDisconnector(fn func(levin.PeerHandle) bool) {
	s.disconnect = fn
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": s.cfg.Service,
			"version": s.cfg.Version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.ready()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"service": s.cfg.Service,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	peers := s.router.Group("/peers", s.requireToken)
	peers.GET("", func(c *gin.Context) {
		list := s.peers.Snapshot()
		c.JSON(http.StatusOK, gin.H{
			"count": len(list),
			"peers": list,
		})
	})
	peers.GET("/:handle", func(c *gin.Context) {
		handle := c.Param("handle")
		for _, p := range s.peers.Snapshot() {
			if p.Handle == handle {
				c.JSON(http.StatusOK, p)
				return
			}
		}
		c.JSON(http.StatusNotFound, gin.H{"error": "peer not found"})
	})
	peers.DELETE("/:handle", func(c *gin.Context) {
		if s.disconnect == nil {
			c.JSON(http.StatusNotImplemented, gin.H{"error": "disconnect unavailable"})
			return
		}
		id, err := uuid.Parse(c.Param("handle"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid handle"})
			return
		}
		if !s.disconnect(id) {
			c.JSON(http.StatusNotFound, gin.H{"error": "peer not found"})
			return
		}
		s.log.Info().Str("peer", id.String()).Msg("admin.Server peer disconnected by request")
		c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
	})
}

func (s *Server) requireToken(c *gin.Context) {
	if s.guard == nil {
		c.Next()
		return
	}
	if err := auth.CheckHeader(s.guard, c.GetHeader("Authorization")); err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.Next()
}

// Serve runs the admin server on ln until ctx is canceled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("admin.Server.Serve listening")

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// ListenAndServe listens on cfg.Addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", strings.TrimSpace(s.cfg.Addr))
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
