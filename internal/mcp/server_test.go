package mcp

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/a3tai/formaudit/internal/config"
	"github.com/a3tai/formaudit/internal/extract"
	"github.com/a3tai/formaudit/internal/model"
	"github.com/a3tai/formaudit/internal/recognition"
	"github.com/a3tai/formaudit/internal/schema"
)

var evaluated = time.Date(2026, 1, 20, 9, 0, 0, 0, time.UTC)

// textRecognizer treats each file as one page of "label: value" lines.
type textRecognizer struct{}

func (textRecognizer) Recognize(_ context.Context, doc recognition.Document) ([]recognition.PageResult, error) {
	data, err := os.ReadFile(doc.Path)
	if err != nil {
		return nil, &recognition.RecognitionFailure{Document: doc.Label(), Page: recognition.DocumentPage, Err: err}
	}
	if strings.HasPrefix(string(data), "PK") {
		return nil, &recognition.UnsupportedFormatError{Document: doc.Label(), Reason: "zip archive"}
	}
	var regions []model.RecognizedRegion
	for i, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		regions = append(regions, model.RecognizedRegion{
			Text:       line,
			Bounds:     model.Box{X: 0.05, Y: 0.05 + float64(i)*0.05, Width: 0.6, Height: 0.03},
			Confidence: 0.9,
		})
	}
	return []recognition.PageResult{{Regions: regions}}, nil
}

func newTestServer(t *testing.T) (*Server, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.WorkDir = dir
	cfg.Input = filepath.Join(dir, "inbox")
	cfg.Workbook = filepath.Join(dir, config.DefaultWorkbook)
	cfg.Workers = 2
	cfg.ServerName = "test-server"
	if err := os.MkdirAll(cfg.Input, 0o755); err != nil {
		t.Fatal(err)
	}

	server, err := NewServer(cfg, Pipeline{
		Recognizer: textRecognizer{},
		Extractor:  extract.New(extract.Options{}),
		Schema:     schema.Default(),
		Now:        func() time.Time { return evaluated },
	})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return server, cfg
}

func writeForm(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to create %s: %v", name, err)
	}
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
}

const overdueForm = `Report Number: SMS-2025-310
Date of Report: 02/12/2025
Location of Hazard: Ramp
Initial Risk Level: High
CAP Required: Yes
Responsible Person: K. Mensah
Target Date: 20/12/2025`

const openForm = `Report Number: SMS-2025-311
Date of Report: 09/12/2025
Location of Hazard: Galley
CAP Required: Yes
Target Date: 15/02/2026`

func TestNewServer(t *testing.T) {
	cfg := config.DefaultConfig()
	tests := []struct {
		name        string
		cfg         *config.Config
		pipeline    Pipeline
		expectError bool
	}{
		{"complete pipeline", cfg, Pipeline{Recognizer: textRecognizer{}, Extractor: extract.New(extract.Options{}), Schema: schema.Default()}, false},
		{"nil config", nil, Pipeline{Recognizer: textRecognizer{}, Extractor: extract.New(extract.Options{}), Schema: schema.Default()}, true},
		{"missing recognizer", cfg, Pipeline{Extractor: extract.New(extract.Options{}), Schema: schema.Default()}, true},
		{"missing schema", cfg, Pipeline{Recognizer: textRecognizer{}, Extractor: extract.New(extract.Options{})}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, err := NewServer(tt.cfg, tt.pipeline)
			if tt.expectError {
				if err == nil {
					t.Error("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if server.mcpServer == nil {
				t.Error("mcpServer should be initialized")
			}
			if server.pipeline.Now == nil {
				t.Error("clock should default to time.Now")
			}
		})
	}
}

func TestServer_HandleExtractDirectory(t *testing.T) {
	server, cfg := newTestServer(t)
	writeForm(t, cfg.Input, "a.txt", overdueForm)
	writeForm(t, cfg.Input, "b.txt", openForm)
	writeForm(t, cfg.Input, "c.docx", "PK\x03\x04")

	result, err := server.handleExtractDirectory(context.Background(), call(map[string]interface{}{}))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	text := extractTextFromResult(result)
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", text)
	}
	for _, want := range []string{"Documents: 3, succeeded: 2, failed: 1", "c.docx [unsupported_format]", "Workbook: " + cfg.Workbook} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in result, got:\n%s", want, text)
		}
	}
	if _, err := os.Stat(cfg.Workbook); err != nil {
		t.Errorf("workbook was not written: %v", err)
	}
}

func TestServer_HandleExtractDirectoryErrors(t *testing.T) {
	server, cfg := newTestServer(t)

	tests := []struct {
		name string
		args map[string]interface{}
		want string
	}{
		{"missing directory", map[string]interface{}{"directory": filepath.Join(cfg.WorkDir, "nope")}, "cannot list"},
		{"empty directory", map[string]interface{}{}, "no documents"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := server.handleExtractDirectory(context.Background(), call(tt.args))
			if err != nil {
				t.Fatalf("handler failed: %v", err)
			}
			if !result.IsError {
				t.Error("expected a tool error")
			}
			if text := extractTextFromResult(result); !strings.Contains(text, tt.want) {
				t.Errorf("expected %q in %q", tt.want, text)
			}
		})
	}

	t.Run("every document fails", func(t *testing.T) {
		writeForm(t, cfg.Input, "x.docx", "PK\x03\x04")
		result, err := server.handleExtractDirectory(context.Background(), call(map[string]interface{}{}))
		if err != nil {
			t.Fatalf("handler failed: %v", err)
		}
		text := extractTextFromResult(result)
		if !result.IsError || !strings.Contains(text, "batch failed") || !strings.Contains(text, "x.docx") {
			t.Errorf("expected a batch failure listing x.docx, got: %s", text)
		}
	})
}

func TestServer_HandleSchemaInfo(t *testing.T) {
	server, _ := newTestServer(t)
	result, err := server.handleSchemaInfo(context.Background(), call(nil))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	text := extractTextFromResult(result)
	for _, want := range []string{schema.Default().Version(), "Report Number", "Hazard Type", "multi", "risk_level ->"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in schema info", want)
		}
	}
}

func TestServer_HandleCAPStatus(t *testing.T) {
	server, cfg := newTestServer(t)
	writeForm(t, cfg.Input, "a.txt", overdueForm)
	writeForm(t, cfg.Input, "b.txt", openForm)
	if _, err := server.handleExtractDirectory(context.Background(), call(map[string]interface{}{})); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		args    map[string]interface{}
		want    []string
		isError bool
	}{
		{
			name: "evaluated today",
			args: map[string]interface{}{},
			want: []string{"as of 2026-01-20", "Open: 1, Closed: 0, Overdue: 1", "SMS-2025-310 [Overdue] due 2025-12-20 (31 days overdue)"},
		},
		{
			name: "evaluated before the due date",
			args: map[string]interface{}{"as_of": "2025-12-15"},
			want: []string{"Open: 2, Closed: 0, Overdue: 0"},
		},
		{name: "bad date", args: map[string]interface{}{"as_of": "15/12/2025"}, isError: true},
		{name: "missing workbook", args: map[string]interface{}{"workbook": filepath.Join(cfg.WorkDir, "none.xlsx")}, isError: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := server.handleCAPStatus(context.Background(), call(tt.args))
			if err != nil {
				t.Fatalf("handler failed: %v", err)
			}
			text := extractTextFromResult(result)
			if result.IsError != tt.isError {
				t.Fatalf("IsError = %v, text: %s", result.IsError, text)
			}
			for _, want := range tt.want {
				if !strings.Contains(text, want) {
					t.Errorf("expected %q in:\n%s", want, text)
				}
			}
		})
	}
}

func TestServer_HandleDashboard(t *testing.T) {
	server, cfg := newTestServer(t)
	writeForm(t, cfg.Input, "a.txt", overdueForm)
	writeForm(t, cfg.Input, "b.txt", openForm)
	if _, err := server.handleExtractDirectory(context.Background(), call(map[string]interface{}{})); err != nil {
		t.Fatal(err)
	}

	result, err := server.handleDashboard(context.Background(), call(map[string]interface{}{"month": float64(12), "year": float64(2025)}))
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	text := extractTextFromResult(result)
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", text)
	}
	if !strings.Contains(text, "SMS Dashboard December 2025") || !strings.Contains(text, "Total hazards: 2, high risk: 1") {
		t.Errorf("unexpected dashboard summary:\n%s", text)
	}
	pdfPath := filepath.Join(cfg.WorkDir, "dashboards", "2025-12", "dashboard_12_2025.pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		t.Errorf("expected %s: %v", pdfPath, err)
	}

	for _, args := range []map[string]interface{}{
		{"year": float64(2025)},
		{"month": float64(13), "year": float64(2025)},
		{"month": "twelve", "year": float64(2025)},
	} {
		result, err := server.handleDashboard(context.Background(), call(args))
		if err != nil {
			t.Fatalf("handler failed: %v", err)
		}
		if !result.IsError {
			t.Errorf("expected a tool error for %v", args)
		}
	}
}

func TestServer_RunStopsOnCancel(t *testing.T) {
	server, _ := newTestServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- server.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Logf("server stopped with: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("server did not stop after the context was canceled")
	}
}

func extractTextFromResult(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}
	for _, content := range result.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			return textContent.Text
		}
		if textContentPtr, ok := content.(*mcp.TextContent); ok {
			return textContentPtr.Text
		}
	}
	return ""
}
