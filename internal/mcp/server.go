package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/a3tai/formaudit/internal/batch"
	"github.com/a3tai/formaudit/internal/config"
	"github.com/a3tai/formaudit/internal/dashboard"
	"github.com/a3tai/formaudit/internal/descriptions"
	"github.com/a3tai/formaudit/internal/model"
	"github.com/a3tai/formaudit/internal/schema"
	"github.com/a3tai/formaudit/internal/storage"
	"github.com/a3tai/formaudit/internal/workbook"
)

// Pipeline is what the tools drive.
type Pipeline struct {
	Recognizer batch.Recognizer
	Extractor  batch.Extractor
	Schema     *schema.Schema
	Now        func() time.Time
}

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	pipeline  Pipeline
	mcpServer *server.MCPServer

	// appends serialises extractions into a workbook.
	appends sync.Mutex
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, p Pipeline) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if p.Recognizer == nil || p.Extractor == nil || p.Schema == nil {
		return nil, errors.New("pipeline requires a recognizer, an extractor and a schema")
	}
	if p.Now == nil {
		p.Now = time.Now
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false),
	)

	s := &Server{
		config:    cfg,
		pipeline:  p,
		mcpServer: mcpServer,
	}
	s.registerTools()
	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcp.NewTool(
		"form_extract_directory",
		mcp.WithDescription(descriptions.GetToolDescription("form_extract_directory")),
		mcp.WithString("directory",
			mcp.Description("Directory of scanned forms (uses the configured input directory if empty)"),
		),
		mcp.WithString("workbook",
			mcp.Description("Audit workbook to append to (uses the configured workbook if empty)"),
		),
	), s.handleExtractDirectory)

	s.mcpServer.AddTool(mcp.NewTool(
		"form_schema_info",
		mcp.WithDescription(descriptions.GetToolDescription("form_schema_info")),
	), s.handleSchemaInfo)

	s.mcpServer.AddTool(mcp.NewTool(
		"workbook_cap_status",
		mcp.WithDescription(descriptions.GetToolDescription("workbook_cap_status")),
		mcp.WithString("workbook",
			mcp.Description("Audit workbook path (uses the configured workbook if empty)"),
		),
		mcp.WithString("as_of",
			mcp.Description("Evaluation date as YYYY-MM-DD (defaults to today)"),
		),
	), s.handleCAPStatus)

	s.mcpServer.AddTool(mcp.NewTool(
		"dashboard_generate",
		mcp.WithDescription(descriptions.GetToolDescription("dashboard_generate")),
		mcp.WithNumber("month", mcp.Required(), mcp.Description("Month, 1-12")),
		mcp.WithNumber("year", mcp.Required(), mcp.Description("Four-digit year")),
		mcp.WithString("workbook",
			mcp.Description("Audit workbook path (uses the configured workbook if empty)"),
		),
		mcp.WithString("output",
			mcp.Description("Output directory (defaults to <workdir>/dashboards/<year>-<month>)"),
		),
	), s.handleDashboard)
}

func stringArg(request mcp.CallToolRequest, name, fallback string) string {
	if v, ok := request.GetArguments()[name].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func intArg(request mcp.CallToolRequest, name string) (int, error) {
	switch v := request.GetArguments()[name].(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
			return 0, fmt.Errorf("%s must be a number", name)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s is required", name)
	}
}

// Handler functions
func (s *Server) handleExtractDirectory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	dir := stringArg(request, "directory", s.config.Input)
	if dir == "" {
		return mcp.NewToolResultError("directory is required when no input directory is configured"), nil
	}
	wbPath := stringArg(request, "workbook", s.config.Workbook)

	docs, err := storage.ListDocuments(dir)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("cannot list %s: %v", dir, err)), nil
	}
	composer := workbook.NewComposer(s.pipeline.Schema, s.pipeline.Now)
	o := batch.New(s.pipeline.Recognizer, s.pipeline.Extractor, composer, batch.Options{
		Workers:      s.config.Workers,
		WorkbookPath: wbPath,
	})
	s.appends.Lock()
	res, err := o.Run(ctx, docs, s.pipeline.Schema)
	s.appends.Unlock()
	if err != nil && res == nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	text := formatBatchResult(dir, res)
	if err != nil {
		return mcp.NewToolResultError(text + "\nError: " + err.Error()), nil
	}
	return mcp.NewToolResultText(text), nil
}

func (s *Server) handleSchemaInfo(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(formatSchema(s.pipeline.Schema)), nil
}

func (s *Server) handleCAPStatus(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	at := s.pipeline.Now()
	if v := stringArg(request, "as_of", ""); v != "" {
		t, err := time.Parse(workbook.DateLayout, v)
		if err != nil {
			return mcp.NewToolResultError("as_of must be YYYY-MM-DD"), nil
		}
		at = t
	}
	wbPath := stringArg(request, "workbook", s.config.Workbook)
	wb, err := workbook.Load(wbPath, s.pipeline.Schema)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	caps := workbook.CapTracker(wb.Rows, s.pipeline.Schema, at)
	return mcp.NewToolResultText(formatCAPs(wbPath, at, caps)), nil
}

func (s *Server) handleDashboard(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	month, err := intArg(request, "month")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	year, err := intArg(request, "year")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	wbPath := stringArg(request, "workbook", s.config.Workbook)
	out := stringArg(request, "output",
		filepath.Join(s.config.WorkDir, "dashboards", fmt.Sprintf("%04d-%02d", year, month)))

	art, err := dashboard.Build(wbPath, s.pipeline.Schema, time.Month(month), year, s.pipeline.Now(), out)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(formatDashboard(art)), nil
}

// Formatting methods
func formatBatchResult(dir string, res *batch.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Batch %s: %s\n", res.BatchID, dir)
	fmt.Fprintf(&b, "Documents: %d, succeeded: %d, failed: %d\n", res.Documents, res.Succeeded, len(res.Failures))
	fmt.Fprintf(&b, "Records: %d, diagnostics: %d\n", len(res.Records), len(res.Diagnostics))
	if res.WorkbookPath != "" {
		fmt.Fprintf(&b, "Workbook: %s\n", res.WorkbookPath)
	}
	if res.Canceled {
		b.WriteString("Batch was canceled; no workbook was written.\n")
	}
	if len(res.Failures) > 0 {
		b.WriteString("\nFailed documents:\n")
		for _, f := range res.Failures {
			fmt.Fprintf(&b, "  - %s [%s]: %s\n", f.Document, f.Kind, f.Reason)
		}
	}
	if len(res.PageFailures) > 0 {
		b.WriteString("\nFailed pages:\n")
		for _, p := range res.PageFailures {
			fmt.Fprintf(&b, "  - %s page %d: %s\n", p.Document, p.Page+1, p.Reason)
		}
	}
	if len(res.Diagnostics) > 0 {
		b.WriteString("\nDiagnostics:\n")
		for _, d := range res.Diagnostics {
			fmt.Fprintf(&b, "  - %s: %s\n", d.RecordID, d.String())
		}
	}
	return b.String()
}

func formatSchema(s *schema.Schema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Schema %s (version %s)\n", s.Name, s.Version())
	fmt.Fprintf(&b, "\nFields (%d):\n", len(s.Fields))
	for _, f := range s.Fields {
		flags := []string{string(f.Kind), string(f.Strategy())}
		if f.Required {
			flags = append(flags, "required")
		}
		if f.Multi {
			flags = append(flags, "multi")
		}
		th := s.ThresholdsFor(f)
		fmt.Fprintf(&b, "  - %s [%s] missing<%.2f low<%.2f\n", f.Name, strings.Join(flags, ", "), th.Missing, th.LowConfidence)
		if len(f.Labels) > 0 {
			fmt.Fprintf(&b, "    labels: %s\n", strings.Join(f.Labels, " | "))
		}
		if f.Kind == schema.KindEnum {
			fmt.Fprintf(&b, "    values (%s): %s\n", s.ListNameFor(f), strings.Join(s.EnumValues(f), ", "))
		}
	}

	roles := make([]string, 0, len(s.Roles))
	for role, field := range s.Roles {
		roles = append(roles, fmt.Sprintf("%s -> %s", role, field))
	}
	sort.Strings(roles)
	fmt.Fprintf(&b, "\nRoles:\n  %s\n", strings.Join(roles, "\n  "))
	return b.String()
}

func formatCAPs(path string, at time.Time, caps []model.CapEntry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CAP status for %s as of %s\n", path, at.Format(workbook.DateLayout))
	if len(caps) == 0 {
		b.WriteString("No corrective action plans recorded.\n")
		return b.String()
	}
	counts := map[model.CapStatus]int{}
	for _, c := range caps {
		counts[c.Status]++
	}
	fmt.Fprintf(&b, "Open: %d, Closed: %d, Overdue: %d\n\n", counts[model.CapOpen], counts[model.CapClosed], counts[model.CapOverdue])
	for _, c := range caps {
		due := "no due date"
		if c.Due != nil {
			due = "due " + c.Due.Format(workbook.DateLayout)
		}
		line := fmt.Sprintf("  - %s [%s] %s", c.Reference, c.Status, due)
		if c.Status == model.CapOverdue {
			line += fmt.Sprintf(" (%d days overdue)", c.DaysOverdue)
		}
		if c.Owner != "" {
			line += ", owner " + c.Owner
		}
		b.WriteString(line + "\n")
	}
	return b.String()
}

func formatDashboard(art *dashboard.Artifacts) string {
	rep := art.Report
	k := rep.KPIs
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", rep.Title())
	fmt.Fprintf(&b, "Total hazards: %d, high risk: %d\n", k.Total, k.HighRisk)
	fmt.Fprintf(&b, "CAPs pending: %d, overdue: %d\n", k.CapsPending, k.CapsOverdue)
	fmt.Fprintf(&b, "Wet lease involvement: %.1f%%\n", k.WetLeasePercent)
	b.WriteString("\nArtifacts:\n")
	for _, p := range append([]string{art.Excel, art.PDF, art.HTML}, art.Charts...) {
		fmt.Fprintf(&b, "  - %s\n", p)
	}
	return b.String()
}

// Run serves MCP over stdio until stdin closes or ctx is done.
func (s *Server) Run(ctx context.Context) error {
	slog.Debug("starting MCP server on stdio", "workdir", s.config.WorkDir, "schema", s.pipeline.Schema.Version())

	stdio := server.NewStdioServer(s.mcpServer)
	if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}
