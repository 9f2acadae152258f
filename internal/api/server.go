// Package api exposes the filter commands and event stream over HTTP.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/eliteGoblin/clickguard/internal/domain"
	"github.com/eliteGoblin/clickguard/internal/notify"
)

// Options configures a Server.
type Options struct {
	Version          string
	FilterSupported  bool // this build has a mouse hook
	SubscriberBuffer int
	PingInterval     time.Duration
	ShutdownTimeout  time.Duration
	Metrics          prometheus.Gatherer // nil disables /metrics
}

// DefaultOptions returns production settings.
func DefaultOptions() Options {
	return Options{
		SubscriberBuffer: notify.DefaultBuffer,
		PingInterval:     30 * time.Second,
		ShutdownTimeout:  5 * time.Second,
	}
}

// Server serves the command API.
type Server struct {
	svc       domain.FilterService
	autostart domain.AutostartManager
	hub       *notify.Hub
	opts      Options
	logger    *zap.Logger

	engine   *gin.Engine
	upgrader websocket.Upgrader

	closeOnce sync.Once
	done      chan struct{}
}

// NewServer wires routes for svc. autostart may be nil.
func NewServer(svc domain.FilterService, autostart domain.AutostartManager, hub *notify.Hub, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultOptions().PingInterval
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = DefaultOptions().ShutdownTimeout
	}
	s := &Server{
		svc:       svc,
		autostart: autostart,
		hub:       hub,
		opts:      opts,
		logger:    logger,
		done:      make(chan struct{}),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return isLocalOrigin(r.Header.Get("Origin")) },
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler (for tests).
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger), localOnly())

	r.GET("/health", s.handleHealth)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/filter/status", s.handleStatus)
		v1.POST("/filter/start", s.handleStart)
		v1.POST("/filter/stop", s.handleStop)
		v1.PUT("/filter/threshold", s.handleThreshold)
		v1.GET("/autostart", s.handleAutostartStatus)
		v1.PUT("/autostart", s.handleAutostartSet)
		v1.GET("/events", s.handleEvents)
	}

	if s.opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.opts.Metrics, promhttp.HandlerOpts{})))
	}
	return r
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
// Open event streams are closed first since Shutdown does not wait for
// hijacked connections.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	s.logger.Info("api listening", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		s.closeStreams()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.closeStreams()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.logger.Info("api stopped")
	return nil
}

func (s *Server) closeStreams() {
	s.closeOnce.Do(func() { close(s.done) })
}

// requestLogger logs each request through zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// localOnly rejects browser requests from non-loopback pages.
func localOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isLocalOrigin(c.GetHeader("Origin")) {
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody("forbidden", "cross-origin requests are not allowed"))
			return
		}
		c.Next()
	}
}

func isLocalOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
