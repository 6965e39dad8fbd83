// Package admin serves a worker's health, metrics and node listing over HTTP,
// and accepts remote initiators on a websocket endpoint.
package admin

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/universe/internal/auth"
	logs "github.com/danmuck/universe/internal/logging"
	"github.com/danmuck/universe/internal/observability"
	"github.com/danmuck/universe/internal/transport/wsconn"
	"github.com/danmuck/universe/internal/universe"
)

const version = "0.1.0"

// Worker is what the admin surface exposes.
type Worker interface {
	Ready() bool
	Nodes(ctx context.Context) ([]universe.NodeState, error)
	// Accept takes ownership of a freshly upgraded peer connection.
	Accept(conn *wsconn.Conn) error
}

type Server struct {
	ID       string
	Addr     string
	Appeared time.Time
	// Auth, when set, must accept the peer's token before /ws upgrades.
	Auth auth.Validator

	worker Worker
	router *gin.Engine
}

func New(id, addr string, corsOrigins []string, worker Worker) *Server {
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.ComponentLogger(id)))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:       id,
		Addr:     addr,
		Appeared: time.Now(),
		worker:   worker,
		router:   r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/ready", func(c *gin.Context) {
		ready := s.worker.Ready()
		status := http.StatusOK
		if !ready {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":   ready,
			"uptime":  time.Since(s.Appeared).String(),
			"service": s.ID,
			"version": version,
		})
	})

	s.router.GET("/nodes", func(c *gin.Context) {
		nodes, err := s.worker.Nodes(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"nodes": nodes})
	})

	s.router.GET("/ws", func(c *gin.Context) {
		if s.Auth != nil {
			if err := s.Auth.Validate(auth.RequestToken(c.Request)); err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
				return
			}
		}
		conn, err := wsconn.Upgrade(c.Writer, c.Request)
		if err != nil {
			// Upgrade already wrote the error response.
			logs.Warnf("admin.Server.ws upgrade failed err=%v", err)
			return
		}
		if err := s.worker.Accept(conn); err != nil {
			logs.Warnf("admin.Server.ws rejected peer err=%v", err)
			_ = conn.Close()
		}
	})
}

// Serve listens on Addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logs.Infof("admin.Server.Serve id=%s addr=%s", s.ID, s.Addr)
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
