// Package server exposes the relay over HTTP: one webhook route per
// platform plus health and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"linerelay/internal/domain"
	"linerelay/internal/metrics"
	"linerelay/internal/relay"
)

// RequestIDHeader is echoed back on every response.
const RequestIDHeader = "X-Request-ID"

const defaultMaxBodyBytes = 1 << 20

// Dispatcher handles one verified event. *relay.Relay implements it.
type Dispatcher interface {
	Handle(ctx context.Context, ev domain.InboundEvent) relay.Outcome
}

// Config configures the HTTP server.
type Config struct {
	Host            string
	Port            int
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration
	MetricsEnabled  bool
	MetricsPath     string
	Platforms       []domain.Platform
	Relay           Dispatcher
	Logger          *slog.Logger
}

// Server is the webhook receiver.
type Server struct {
	cfg    Config
	router *gin.Engine
	logger *slog.Logger
}

func New(cfg Config) *Server {
	if cfg.Port == 0 {
		cfg.Port = 8000
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: cfg.Logger.With("component", "server")}
	s.router = s.newRouter()
	return s
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// Addr is the listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

func (s *Server) newRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.accessLog())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.cfg.MetricsEnabled {
		r.GET(s.cfg.MetricsPath, gin.WrapH(metrics.Handler()))
	}
	for _, p := range s.cfg.Platforms {
		r.POST(p.Path(), s.webhook(p))
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	paths := make([]string, 0, len(s.cfg.Platforms))
	for _, p := range s.cfg.Platforms {
		paths = append(paths, p.Path())
	}
	s.logger.Info("server starting", "addr", srv.Addr, "webhooks", paths, "metrics", s.cfg.MetricsEnabled)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(RequestIDHeader, id)
		c.Request = c.Request.WithContext(relay.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// accessLog records method, path, status and latency. Bodies are never logged.
func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"request_id", c.GetString("request_id"),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) webhook(p domain.Platform) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := s.logger.With("platform", p.Name(), "request_id", c.GetString("request_id"))

		body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes))
		if err != nil {
			status := http.StatusBadRequest
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				status = http.StatusRequestEntityTooLarge
			}
			logger.Warn("reading webhook body failed", "error", err)
			s.reject(c, p, status, "unreadable body")
			return
		}

		events, err := p.Parse(c.Request.Header, body)
		if errors.Is(err, domain.ErrInvalidSignature) {
			logger.Warn("rejected webhook: invalid signature", "body_bytes", len(body))
			s.reject(c, p, http.StatusBadRequest, "invalid signature")
			return
		}
		if err != nil {
			logger.Warn("rejected webhook: unparseable body", "error", err, "body_bytes", len(body))
			s.reject(c, p, http.StatusBadRequest, "invalid payload")
			return
		}

		logger.Debug("webhook verified", "events", len(events), "body_bytes", len(body))
		for _, ev := range events {
			s.cfg.Relay.Handle(c.Request.Context(), ev)
		}

		metrics.IncWebhook(p.Name(), http.StatusOK)
		c.String(http.StatusOK, "OK")
	}
}

func (s *Server) reject(c *gin.Context, p domain.Platform, status int, msg string) {
	metrics.IncWebhook(p.Name(), status)
	c.String(status, msg)
}
