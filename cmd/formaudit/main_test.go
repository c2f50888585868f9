package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/a3tai/formaudit/internal/batch"
	"github.com/a3tai/formaudit/internal/config"
	"github.com/a3tai/formaudit/internal/extract"
	"github.com/a3tai/formaudit/internal/model"
	"github.com/a3tai/formaudit/internal/recognition"
	"github.com/a3tai/formaudit/internal/schema"
)

const testVersion = "1.2.3"

// lineRecognizer reads each file as a page of "label: value" lines.
type lineRecognizer struct{}

func (lineRecognizer) Recognize(_ context.Context, doc recognition.Document) ([]recognition.PageResult, error) {
	data, err := os.ReadFile(doc.Path)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(doc.Path) == ".bin" {
		return nil, &recognition.UnsupportedFormatError{Document: doc.Label(), Reason: "unrecognized file signature"}
	}
	var regions []model.RecognizedRegion
	for i, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		regions = append(regions, model.RecognizedRegion{
			Text:       line,
			Bounds:     model.Box{X: 0.05, Y: 0.05 + float64(i)*0.05, Width: 0.6, Height: 0.03},
			Confidence: 0.92,
		})
	}
	return []recognition.PageResult{{Regions: regions}}, nil
}

func TestPrintVersion(t *testing.T) {
	oldVersion, oldBuildTime, oldGitCommit := version, buildTime, gitCommit
	version, buildTime, gitCommit = testVersion, "2026-01-05_10:30:00", "abc123"
	defer func() {
		version, buildTime, gitCommit = oldVersion, oldBuildTime, oldGitCommit
	}()

	var buf bytes.Buffer
	printVersion(&buf)
	output := buf.String()

	for _, expected := range []string{
		"formaudit",
		"Version: " + testVersion,
		"Build Time: 2026-01-05_10:30:00",
		"Git Commit: abc123",
		"Built with:",
	} {
		if !strings.Contains(output, expected) {
			t.Errorf("printVersion() output missing expected string: %s\nActual output:\n%s", expected, output)
		}
	}
}

func testPipeline(t *testing.T, files map[string]string) pipeline {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Mode = config.ModeBatch
	cfg.WorkDir = dir
	cfg.Input = filepath.Join(dir, "inbox")
	cfg.Workbook = filepath.Join(dir, config.DefaultWorkbook)
	cfg.Workers = 2
	if err := os.MkdirAll(cfg.Input, 0o755); err != nil {
		t.Fatal(err)
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(cfg.Input, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return pipeline{
		cfg:        cfg,
		schema:     schema.Default(),
		recognizer: lineRecognizer{},
		extractor:  extract.New(extract.Options{}),
	}
}

func TestRunBatchMode(t *testing.T) {
	p := testPipeline(t, map[string]string{
		"a.txt": "Report Number: SMS-2025-401\nDate of Report: 03/12/2025\nLocation of Hazard: Cabin\nInitial Risk Level: Medium",
		"b.bin": "\x00\x01",
	})
	p.cfg.Dashboard = "2025-12"

	var out bytes.Buffer
	if err := runBatchMode(context.Background(), p, &out); err != nil {
		t.Fatalf("runBatchMode failed: %v\n%s", err, out.String())
	}
	text := out.String()
	for _, want := range []string{
		"Documents: 2, succeeded: 1, failed: 1",
		"FAILED b.bin [unsupported_format]",
		"Workbook: " + p.cfg.Workbook,
		"SMS Dashboard December 2025",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("missing %q in output:\n%s", want, text)
		}
	}
	if _, err := os.Stat(p.cfg.Workbook); err != nil {
		t.Errorf("workbook not written: %v", err)
	}
	if _, err := os.Stat(filepath.Join(p.cfg.WorkDir, "dashboards", "2025-12", "dashboard_12_2025.xlsx")); err != nil {
		t.Errorf("dashboard not written: %v", err)
	}
}

func TestRunBatchModeFailures(t *testing.T) {
	t.Run("every document fails", func(t *testing.T) {
		p := testPipeline(t, map[string]string{"x.bin": "junk"})
		var out bytes.Buffer
		err := runBatchMode(context.Background(), p, &out)
		if !errors.Is(err, batch.ErrBatchFailed) {
			t.Fatalf("expected ErrBatchFailed, got %v", err)
		}
		if !strings.Contains(out.String(), "FAILED x.bin") {
			t.Errorf("summary should list the failure:\n%s", out.String())
		}
		if _, err := os.Stat(p.cfg.Workbook); !os.IsNotExist(err) {
			t.Errorf("no workbook expected, stat err = %v", err)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		p := testPipeline(t, nil)
		err := runBatchMode(context.Background(), p, &bytes.Buffer{})
		if !errors.Is(err, batch.ErrNoDocuments) {
			t.Fatalf("expected ErrNoDocuments, got %v", err)
		}
	})
}
