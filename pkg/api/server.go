// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

// Package api serves the daemon's status snapshot and manual run
// trigger over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mesh-intelligence/pimainteno/pkg/orchestrator"
)

// Backend is the subset of the orchestrator the API depends on.
type Backend interface {
	Status() (orchestrator.Status, error)
	Trigger() bool
}

// Server is the HTTP front end for a running daemon.
type Server struct {
	backend Backend
	cfg     orchestrator.WebConfig
	router  *gin.Engine
}

// NewServer builds the router. Requests are logged through the daemon
// log; panics in handlers become 500 responses.
func NewServer(b Backend, cfg orchestrator.WebConfig) *Server {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{backend: b, cfg: cfg, router: router}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", s.handleHealth)

	api := s.router.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.POST("/run", s.handleRun)
		api.GET("/projects/:name", s.handleProject)
	}

	if dir := s.cfg.StaticDir; dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			s.router.NoRoute(staticHandler(dir))
		} else {
			orchestrator.Logf("api: static dir %s not found, dashboard disabled", dir)
		}
	}
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Serve listens on the configured address until ctx is cancelled, then
// shuts down gracefully within the configured timeout.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		orchestrator.Logf("api: listening on %s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout()
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	orchestrator.Logf("api: shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	st, err := s.backend.Status()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) handleRun(c *gin.Context) {
	if s.backend.Trigger() {
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "already_queued"})
}

func (s *Server) handleProject(c *gin.Context) {
	st, err := s.backend.Status()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	p, ok := st.Project(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "project not found"})
		return
	}
	c.JSON(http.StatusOK, p)
}

// staticHandler serves dashboard files for GET and HEAD requests that
// no API route matched. Unknown paths fall back to index.html.
func staticHandler(dir string) gin.HandlerFunc {
	fs := http.FileServer(http.Dir(dir))
	return func(c *gin.Context) {
		if c.Request.Method != http.MethodGet && c.Request.Method != http.MethodHead {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		rel := filepath.FromSlash(path.Clean("/" + c.Request.URL.Path))
		if _, err := os.Stat(filepath.Join(dir, rel)); err != nil {
			c.File(filepath.Join(dir, "index.html"))
			return
		}
		fs.ServeHTTP(c.Writer, c.Request)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		orchestrator.Logf("api: %s %s %d %s", c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start).Round(time.Millisecond))
	}
}
