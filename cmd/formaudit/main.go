package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/a3tai/formaudit/internal/api"
	"github.com/a3tai/formaudit/internal/batch"
	"github.com/a3tai/formaudit/internal/config"
	"github.com/a3tai/formaudit/internal/dashboard"
	"github.com/a3tai/formaudit/internal/extract"
	"github.com/a3tai/formaudit/internal/logger"
	"github.com/a3tai/formaudit/internal/mcp"
	"github.com/a3tai/formaudit/internal/recognition"
	"github.com/a3tai/formaudit/internal/recognition/tesseract"
	"github.com/a3tai/formaudit/internal/schema"
	"github.com/a3tai/formaudit/internal/storage"
	"github.com/a3tai/formaudit/internal/workbook"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

// pipeline is what every mode shares.
type pipeline struct {
	cfg        *config.Config
	schema     *schema.Schema
	recognizer batch.Recognizer
	extractor  batch.Extractor
}

func main() {
	cfg, err := config.LoadFromFlags()
	if errors.Is(err, config.ErrVersionRequested) {
		printVersion(os.Stdout)
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}
	if version != "dev" {
		cfg.Version = version
	}

	// Logs always go to stderr; stdout carries MCP frames in stdio mode.
	logger.Init(&logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: os.Stderr})
	if cfg.IsDebug() {
		slog.Debug("starting", "config", cfg.String())
	}

	s, err := cfg.LoadSchema()
	if err != nil {
		slog.Error("failed to load schema", "error", err)
		os.Exit(1)
	}

	opts := recognition.DefaultOptions()
	opts.DPI = cfg.OCR.DPI
	opts.Languages = cfg.OCR.Languages
	opts.MaxFileSize = cfg.MaxFileSize
	opts.Logger = slog.Default()

	p := pipeline{
		cfg:        cfg,
		schema:     s,
		recognizer: recognition.NewAdapter(tesseract.New(), opts),
		extractor:  extract.New(extract.Options{}),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case cfg.IsServerMode():
		err = runServerMode(ctx, p)
	case cfg.IsBatchMode():
		err = runBatchMode(ctx, p, os.Stdout)
	default:
		err = runStdioMode(ctx, p)
	}
	if err != nil {
		slog.Error("formaudit stopped with error", "mode", cfg.Mode, "error", err)
		stop()
		os.Exit(1)
	}
}

// runStdioMode serves the MCP tools until the parent closes stdin.
func runStdioMode(ctx context.Context, p pipeline) error {
	server, err := mcp.NewServer(p.cfg, mcp.Pipeline{
		Recognizer: p.recognizer,
		Extractor:  p.extractor,
		Schema:     p.schema,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}
	return server.Run(ctx)
}

// runServerMode serves the HTTP API until ctx is canceled.
func runServerMode(ctx context.Context, p pipeline) error {
	store, err := storage.NewLocal(p.cfg.WorkDir, p.cfg.MaxFileSize)
	if err != nil {
		return err
	}

	var mirror *storage.MinioMirror
	if p.cfg.Minio.Enabled() {
		if mirror, err = storage.NewMinioMirror(p.cfg.Minio); err != nil {
			return err
		}
		if err := mirror.EnsureBucket(ctx); err != nil {
			return err
		}
		slog.Info("mirroring artifacts", "endpoint", p.cfg.Minio.Endpoint, "bucket", p.cfg.Minio.Bucket)
	}

	server := api.New(api.Options{
		Store:        store,
		Mirror:       mirror,
		Recognizer:   p.recognizer,
		Extractor:    p.extractor,
		Schema:       p.schema,
		WorkbookPath: p.cfg.Workbook,
		Workers:      p.cfg.Workers,
		JWTSecret:    p.cfg.Auth.JWTSecret,
	})
	slog.Info("HTTP API listening", "address", p.cfg.Address(), "auth", p.cfg.Auth.JWTSecret != "")
	return server.ListenAndServe(ctx, p.cfg.Address())
}

// runBatchMode processes the input directory once, then optionally builds
// the dashboard for the configured month.
func runBatchMode(ctx context.Context, p pipeline, out io.Writer) error {
	docs, err := storage.ListDocuments(p.cfg.Input)
	if err != nil {
		return err
	}
	composer := workbook.NewComposer(p.schema, time.Now)
	o := batch.New(p.recognizer, p.extractor, composer, batch.Options{
		Workers:      p.cfg.Workers,
		WorkbookPath: p.cfg.Workbook,
	})

	res, err := o.Run(ctx, docs, p.schema)
	if res != nil {
		printSummary(out, res)
	}
	if err != nil {
		return err
	}

	if p.cfg.Dashboard == "" {
		return nil
	}
	month, year, err := p.cfg.DashboardPeriod()
	if err != nil {
		return err
	}
	dir := filepath.Join(p.cfg.WorkDir, "dashboards", fmt.Sprintf("%04d-%02d", year, month))
	art, err := dashboard.Build(p.cfg.Workbook, p.schema, month, year, time.Now(), dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\n%s\n", art.Report.Title())
	fmt.Fprintf(out, "  Excel: %s\n  PDF:   %s\n  HTML:  %s\n", art.Excel, art.PDF, art.HTML)
	return nil
}

func printSummary(w io.Writer, res *batch.Result) {
	fmt.Fprintf(w, "Batch %s\n", res.BatchID)
	fmt.Fprintf(w, "Documents: %d, succeeded: %d, failed: %d\n", res.Documents, res.Succeeded, len(res.Failures))
	fmt.Fprintf(w, "Records: %d, diagnostics: %d\n", len(res.Records), len(res.Diagnostics))
	for _, f := range res.Failures {
		fmt.Fprintf(w, "  FAILED %s [%s]: %s\n", f.Document, f.Kind, f.Reason)
	}
	for _, pf := range res.PageFailures {
		fmt.Fprintf(w, "  page %d of %s: %s\n", pf.Page+1, pf.Document, pf.Reason)
	}
	if res.WorkbookPath != "" {
		fmt.Fprintf(w, "Workbook: %s\n", res.WorkbookPath)
	}
	if res.Canceled {
		fmt.Fprintln(w, "Canceled before completion; workbook not written.")
	}
}

// printVersion prints version information
func printVersion(w io.Writer) {
	fmt.Fprintf(w, "formaudit\n")
	fmt.Fprintf(w, "Version: %s\n", version)
	fmt.Fprintf(w, "Build Time: %s\n", buildTime)
	fmt.Fprintf(w, "Git Commit: %s\n", gitCommit)
	fmt.Fprintf(w, "Built with: %s\n", runtime.Version())
}
