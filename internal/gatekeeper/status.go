package gatekeeper

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/error2913/QQ-add-group-verification/internal/auth"
	"github.com/error2913/QQ-add-group-verification/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const Version = "0.3.0"

// GroupView is one monitored group with its effective policy.
type GroupView struct {
	GroupID        int64 `json:"group_id"`
	Threshold      int   `json:"threshold"`
	TimeoutSeconds int   `json:"timeout_seconds"`
}

// StatusSource is what the status server reports on.
type StatusSource interface {
	ConnectionState() string
	ConnectionLive() bool
	PendingCalls() int
	ActiveSessions() []SessionView
	MonitoredGroups(ctx context.Context) ([]GroupView, error)
}

// StatusServer exposes health, readiness, metrics and runtime snapshots over HTTP.
type StatusServer struct {
	src      StatusSource
	router   *gin.Engine
	token    string
	appeared time.Time
}

// NewStatusServer builds the router. A non-empty token guards the snapshot
// routes with bearer auth; health, readiness and metrics stay open.
func NewStatusServer(src StatusSource, corsOrigins []string, token string) *StatusServer {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.ObserveRequests(log.Logger))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &StatusServer{src: src, router: r, token: token, appeared: time.Now()}
	s.registerRoutes()
	return s
}

func (s *StatusServer) Handler() http.Handler {
	return s.router
}

func (s *StatusServer) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"version": Version,
		})
	})

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.src.ConnectionLive()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":      ready,
			"connection": s.src.ConnectionState(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	snapshots := s.router.Group("/")
	if s.token != "" {
		snapshots.Use(auth.RequireBearer(auth.StaticToken{Token: s.token}))
	}

	snapshots.GET("/sessions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"sessions":      s.src.ActiveSessions(),
			"pending_calls": s.src.PendingCalls(),
		})
	})

	snapshots.GET("/groups", func(c *gin.Context) {
		groups, err := s.src.MonitoredGroups(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"groups": groups})
	})
}

// Serve listens on addr until ctx ends.
func (s *StatusServer) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("gatekeeper.StatusServer.Serve listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
