package api

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"cove-indexer/internal/entity"
	"cove-indexer/internal/metrics"
	"cove-indexer/internal/storage"
	"cove-indexer/internal/version"
)

const defaultListLimit = 500

// Options configure the HTTP listener.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server exposes read-only queries over the entity store.
type Server struct {
	opts    Options
	router  *gin.Engine
	backend storage.Backend
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New builds the router. metrics may be nil, in which case /metrics is not mounted.
func New(opts Options, backend storage.Backend, m *metrics.Metrics, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		opts:    opts,
		router:  gin.New(),
		backend: backend,
		metrics: m,
		logger:  logger.With().Str("component", "api").Logger(),
	}
	s.router.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/entities/:kind/:id", s.handleEntity)
	s.router.GET("/pool/:interval", s.handlePoolStatuses)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("request served")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Version,
	})
}

func (s *Server) handleEntity(c *gin.Context) {
	kind, err := entity.ParseKind(c.Param("kind"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	value, found, err := storage.Fetch(c.Request.Context(), s.backend, kind, c.Param("id"))
	if err != nil {
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("entity lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup failed"})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("%s %s not found", kind, c.Param("id"))})
		return
	}
	c.JSON(http.StatusOK, value)
}

func (s *Server) handlePoolStatuses(c *gin.Context) {
	kind, err := entity.StatusKind(c.Param("interval"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	opts, err := listOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	statuses, err := storage.ListPoolStatuses(c.Request.Context(), s.backend, kind, opts)
	if err != nil {
		s.logger.Error().Err(err).Str("kind", string(kind)).Msg("bucket listing failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"interval": c.Param("interval"),
		"count":    len(statuses),
		"items":    statuses,
	})
}

func listOptions(c *gin.Context) (storage.ListOptions, error) {
	opts := storage.ListOptions{From: math.MinInt64, To: math.MaxInt64, Limit: defaultListLimit}

	if raw := c.Query("from"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return opts, fmt.Errorf("invalid from: %w", err)
		}
		opts.From = v
	}
	if raw := c.Query("to"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return opts, fmt.Errorf("invalid to: %w", err)
		}
		opts.To = v
	}
	if opts.From > opts.To {
		return opts, errors.New("from must not exceed to")
	}
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return opts, fmt.Errorf("invalid limit %q", raw)
		}
		opts.Limit = v
	}
	opts.Desc = c.Query("order") == "desc"
	return opts, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.router,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown api server: %w", err)
	}
	return nil
}
