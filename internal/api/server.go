// Package api serves the extraction pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/a3tai/formaudit/internal/batch"
	"github.com/a3tai/formaudit/internal/schema"
	"github.com/a3tai/formaudit/internal/storage"
	"github.com/a3tai/formaudit/internal/workbook"
)

// Options wires a Server.
type Options struct {
	Store      *storage.Local
	Mirror     *storage.MinioMirror // nil disables publishing
	Recognizer batch.Recognizer
	Extractor  batch.Extractor
	Schema     *schema.Schema
	// WorkbookPath is the audit workbook every extraction appends to.
	WorkbookPath string
	Workers      int
	JWTSecret    string // empty disables auth
	Now          func() time.Time
}

// Server owns the router and the pipeline it drives.
type Server struct {
	store        *storage.Local
	mirror       *storage.MinioMirror
	orchestrator *batch.Orchestrator
	schema       *schema.Schema
	workbookPath string
	now          func() time.Time
	router       *gin.Engine

	// appends serialises workbook load-compose-save cycles.
	appends sync.Mutex
}

// New builds a Server and its routes.
func New(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	composer := workbook.NewComposer(opts.Schema, opts.Now)
	s := &Server{
		store:  opts.Store,
		mirror: opts.Mirror,
		orchestrator: batch.New(opts.Recognizer, opts.Extractor, composer, batch.Options{
			Workers:      opts.Workers,
			WorkbookPath: opts.WorkbookPath,
		}),
		schema:       opts.Schema,
		workbookPath: opts.WorkbookPath,
		now:          opts.Now,
	}
	s.router = s.routes(opts.JWTSecret)
	return s
}

func (s *Server) routes(secret string) *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), Recovery(), RequestLogger())

	r.GET("/health", s.health)

	api := r.Group("/api")
	if secret != "" {
		api.Use(BearerAuth(secret))
	}
	api.POST("/uploads", s.upload)
	api.POST("/extract", s.extract)
	api.POST("/dashboard", s.dashboard)
	api.GET("/artifacts/:id", s.download)
	return r
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
