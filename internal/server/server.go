// Package server exposes the alerting engine over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"fx-risk-alerts/internal/risk"
	"fx-risk-alerts/internal/service"
)

// Options configure the HTTP server.
type Options struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Server wraps the gin router around the engine.
type Server struct {
	engine *service.Engine
	logger zerolog.Logger
	opts   Options
}

// New constructs the HTTP server.
func New(engine *service.Engine, opts Options, logger zerolog.Logger) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 10 * time.Second
	}
	return &Server{
		engine: engine,
		logger: logger.With().Str("component", "http_server").Logger(),
		opts:   opts,
	}
}

// Router builds the route tree.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		alerts := api.Group("/alerts")
		{
			alerts.GET("/active", s.listActive)
			alerts.GET("/history", s.listHistory)

			alerts.POST("/trigger/volatility", s.triggerVolatility)
			alerts.POST("/trigger/var", s.triggerVaR)
			alerts.POST("/trigger/regime", s.triggerRegime)

			alerts.POST("/:id/acknowledge", s.acknowledge)
			alerts.POST("/:id/resolve", s.resolve)
			alerts.POST("/:id/snooze", s.snooze)

			alerts.POST("/summary", s.summary)
			alerts.POST("/portfolio", s.registerPortfolio)
		}
	}

	return router
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.Router(),
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	}
}

// writeError maps engine errors onto structured HTTP error bodies. 4xx is
// reserved for caller mistakes; 5xx only for upstream failures unrelated
// to alert-state correctness.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, risk.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "NOT_FOUND", "message": err.Error()})
	case errors.Is(err, risk.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "INVALID_TRANSITION", "message": err.Error()})
	case errors.Is(err, risk.ErrUnknownCurrency), errors.Is(err, risk.ErrInvalidThreshold):
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": err.Error()})
	case errors.Is(err, risk.ErrUpstreamUnavailable):
		c.JSON(http.StatusBadGateway, gin.H{"error": "UPSTREAM_UNAVAILABLE", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "INTERNAL", "message": err.Error()})
	}
}
