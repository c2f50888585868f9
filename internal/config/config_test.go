package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/a3tai/formaudit/internal/schema"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Mode != "stdio" {
		t.Errorf("Expected default mode to be 'stdio', got '%s'", cfg.Mode)
	}
	if cfg.Host != "127.0.0.1" {
		t.Errorf("Expected default host to be '127.0.0.1', got '%s'", cfg.Host)
	}
	if cfg.Port != 8080 {
		t.Errorf("Expected default port to be 8080, got %d", cfg.Port)
	}
	if cfg.ServerName != "formaudit" {
		t.Errorf("Expected default server name to be 'formaudit', got '%s'", cfg.ServerName)
	}
	if cfg.MaxFileSize != 100*1024*1024 {
		t.Errorf("Expected default max file size to be 100MB, got %d", cfg.MaxFileSize)
	}
	if cfg.Workers != runtime.NumCPU() {
		t.Errorf("Expected default workers to be %d, got %d", runtime.NumCPU(), cfg.Workers)
	}
	if cfg.OCR.DPI != 300 || len(cfg.OCR.Languages) != 1 || cfg.OCR.Languages[0] != "eng" {
		t.Errorf("Unexpected OCR defaults: %+v", cfg.OCR)
	}
	if cfg.Minio.Enabled() {
		t.Error("Expected MinIO mirror to be disabled by default")
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.WorkDir = filepath.Join(t.TempDir(), "data")
	return cfg
}

func TestConfigValidate(t *testing.T) {
	input := t.TempDir()
	file := filepath.Join(input, "scan.png")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid stdio config", func(*Config) {}, false},
		{"valid server config", func(c *Config) { c.Mode = ModeServer }, false},
		{"valid batch config", func(c *Config) { c.Mode, c.Input = ModeBatch, input }, false},
		{"invalid mode", func(c *Config) { c.Mode = "invalid" }, true},
		{"port too low in server mode", func(c *Config) { c.Mode, c.Port = ModeServer, 0 }, true},
		{"port too high in server mode", func(c *Config) { c.Mode, c.Port = ModeServer, 70000 }, true},
		{"port ignored in stdio mode", func(c *Config) { c.Port = 0 }, false},
		{"batch without input", func(c *Config) { c.Mode = ModeBatch }, true},
		{"batch input is a file", func(c *Config) { c.Mode, c.Input = ModeBatch, file }, true},
		{"empty work directory", func(c *Config) { c.WorkDir = "" }, true},
		{"zero max file size", func(c *Config) { c.MaxFileSize = 0 }, true},
		{"zero workers", func(c *Config) { c.Workers = 0 }, true},
		{"zero dpi", func(c *Config) { c.OCR.DPI = 0 }, true},
		{"no OCR languages", func(c *Config) { c.OCR.Languages = nil }, true},
		{"invalid log level", func(c *Config) { c.LogLevel = "invalid" }, true},
		{"invalid log format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"bad dashboard period", func(c *Config) { c.Dashboard = "December" }, true},
		{"threshold out of range", func(c *Config) {
			c.Thresholds = map[schema.Kind]schema.Thresholds{schema.KindText: {Missing: 0.2, LowConfidence: 1.5}}
		}, true},
		{"missing above low confidence", func(c *Config) {
			c.Thresholds = map[schema.Kind]schema.Thresholds{schema.KindDate: {Missing: 0.8, LowConfidence: 0.5}}
		}, true},
		{"minio without bucket", func(c *Config) { c.Minio.Endpoint = "localhost:9000" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateCreatesWorkDir(t *testing.T) {
	cfg := validConfig(t)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
	if info, err := os.Stat(cfg.WorkDir); err != nil || !info.IsDir() {
		t.Errorf("Expected work directory %s to be created", cfg.WorkDir)
	}
}

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load([]string{"--workdir=" + dir})
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Mode != ModeStdio {
		t.Errorf("Mode = %s, want stdio", cfg.Mode)
	}
	if want := filepath.Join(dir, DefaultWorkbook); cfg.Workbook != want {
		t.Errorf("Workbook = %s, want %s", cfg.Workbook, want)
	}
	if len(cfg.Thresholds) != 0 {
		t.Errorf("Expected no threshold overrides, got %v", cfg.Thresholds)
	}
}

func TestLoadFlags(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load([]string{
		"--mode=server",
		"--host=0.0.0.0",
		"--port=9090",
		"--workdir=" + dir,
		"--loglevel=debug",
		"--logformat=json",
		"--workers=3",
		"--ocr-languages=eng,fra",
		"--ocr-dpi=200",
		"--threshold-missing=0.2",
		"--jwt-secret=s3cret",
	})
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Mode != ModeServer || cfg.Address() != "0.0.0.0:9090" {
		t.Errorf("Unexpected server settings: %s", cfg.String())
	}
	if !cfg.IsDebug() || cfg.LogFormat != "json" {
		t.Errorf("Unexpected log settings: %s/%s", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.Workers != 3 || cfg.OCR.DPI != 200 || len(cfg.OCR.Languages) != 2 {
		t.Errorf("Unexpected pipeline settings: workers=%d ocr=%+v", cfg.Workers, cfg.OCR)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("JWTSecret = %q", cfg.Auth.JWTSecret)
	}
	if len(cfg.Thresholds) != len(schema.DefaultThresholds) {
		t.Fatalf("Expected an override for every kind, got %v", cfg.Thresholds)
	}
	if got := cfg.Thresholds[schema.KindDate]; got.Missing != 0.2 || got.LowConfidence != 0.70 {
		t.Errorf("Date thresholds = %+v, want missing 0.2 over the kind default", got)
	}
}

func TestLoadEnvironmentAndFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "formaudit.yaml")
	content := `mode: server
port: 7000
workdir: ` + dir + `
minio:
  endpoint: minio.local:9000
  bucket: audit
thresholds:
  date:
    missing: 0.5
    lowconfidence: 0.8
`
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("FORMAUDIT_PORT", "7100")
	t.Setenv("FORMAUDIT_MINIO_EXPIREDAYS", "2")

	cfg, err := Load([]string{"--config=" + file})
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	if cfg.Mode != ModeServer {
		t.Errorf("Mode = %s, want server from file", cfg.Mode)
	}
	if cfg.Port != 7100 {
		t.Errorf("Port = %d, want environment to override the file", cfg.Port)
	}
	if !cfg.Minio.Enabled() || cfg.Minio.Bucket != "audit" || cfg.Minio.ExpireDays != 2 {
		t.Errorf("Unexpected MinIO config: %+v", cfg.Minio)
	}
	want := schema.Thresholds{Missing: 0.5, LowConfidence: 0.8}
	if got := cfg.Thresholds[schema.KindDate]; got != want || len(cfg.Thresholds) != 1 {
		t.Errorf("Thresholds = %v, want only date %+v", cfg.Thresholds, want)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown flag", []string{"--nope"}},
		{"invalid mode", []string{"--mode=daemon", "--workdir=" + t.TempDir()}},
		{"missing config file", []string{"--config=" + filepath.Join(t.TempDir(), "missing.yaml")}},
		{"batch without input", []string{"--mode=batch", "--workdir=" + t.TempDir()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(tt.args); err == nil {
				t.Errorf("Load(%v) expected error", tt.args)
			}
		})
	}

	if _, err := Load([]string{"--version"}); !errors.Is(err, ErrVersionRequested) {
		t.Errorf("Load(--version) error = %v, want ErrVersionRequested", err)
	}
}

func TestDashboardPeriod(t *testing.T) {
	cfg := &Config{Dashboard: "2025-12"}
	month, year, err := cfg.DashboardPeriod()
	if err != nil || month != time.December || year != 2025 {
		t.Errorf("DashboardPeriod() = %v %d %v", month, year, err)
	}
}

func TestLoadSchema(t *testing.T) {
	cfg := validConfig(t)
	cfg.Thresholds = map[schema.Kind]schema.Thresholds{schema.KindText: {Missing: 0.1, LowConfidence: 0.2}}
	s, err := cfg.LoadSchema()
	if err != nil {
		t.Fatalf("LoadSchema() unexpected error: %v", err)
	}
	f, ok := s.Field("Hazard Description")
	if !ok {
		t.Fatal("default schema has no Hazard Description field")
	}
	if got := s.ThresholdsFor(f); got.Missing != 0.1 || got.LowConfidence != 0.2 {
		t.Errorf("ThresholdsFor(%s) = %+v", f.Name, got)
	}
	if s.Version() == schema.Default().Version() {
		t.Error("Expected threshold overrides to change the schema version")
	}

	cfg.SchemaPath = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := cfg.LoadSchema(); err == nil {
		t.Error("Expected an error for a missing schema file")
	}
}
