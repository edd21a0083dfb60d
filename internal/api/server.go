// Package api serves the worker's operational HTTP endpoints.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jordanhubbard/healloop/internal/logging"
	"github.com/jordanhubbard/healloop/internal/report"
)

// Check probes one dependency for /healthz.
type Check func(ctx context.Context) error

// Server exposes /healthz, /metrics and the run results under runsDir.
type Server struct {
	engine  *gin.Engine
	runsDir string
	checks  map[string]Check
	logger  *slog.Logger
}

// NewServer builds the router. metrics may be nil.
func NewServer(runsDir string, metrics http.Handler, checks map[string]Check) *Server {
	s := &Server{
		engine:  gin.New(),
		runsDir: runsDir,
		checks:  checks,
		logger:  logging.New("api"),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())

	s.engine.GET("/healthz", s.handleHealth)
	if metrics != nil {
		s.engine.GET("/metrics", gin.WrapH(metrics))
	}
	s.engine.GET("/runs/:id", s.handleRun)
	s.engine.GET("/runs/:id/report", s.handleReport)
	return s
}

// ServeLogs exposes b at GET /logs?limit=&level=&component=.
func (s *Server) ServeLogs(b *logging.Buffer) {
	s.engine.GET("/logs", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		c.JSON(http.StatusOK, b.Recent(limit, c.Query("level"), c.Query("component")))
	})
}

// Handler returns the router.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("ops server listening", "addr", addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown ops server: %w", err)
		}
		return nil
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request", "method", c.Request.Method, "path", c.FullPath(),
			"status", c.Writer.Status(), "duration", time.Since(start))
	}
}

func (s *Server) handleRun(c *gin.Context) {
	run, err := report.Load(s.runsDir, c.Param("id"))
	if errors.Is(err, report.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		s.logger.Error("failed to load run", "run_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load run"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleReport(c *gin.Context) {
	// Load validates the id before any path is built from it.
	if _, err := report.Load(s.runsDir, c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	data, err := os.ReadFile(filepath.Join(s.runsDir, c.Param("id"), report.ReportFile))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "report not found"})
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", data)
}
