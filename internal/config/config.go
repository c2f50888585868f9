package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/a3tai/formaudit/internal/schema"
	"github.com/a3tai/formaudit/internal/storage"
)

const (
	// Mode constants
	ModeStdio  = "stdio"
	ModeServer = "server"
	ModeBatch  = "batch"

	// Default values
	DefaultPort        = 8080
	DefaultHost        = "127.0.0.1"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"
	DefaultMaxFileSize = 100 * 1024 * 1024 // 100MB
	DefaultWorkDir     = "./formaudit-data"
	DefaultWorkbook    = "audit_workbook.xlsx"
	DefaultOCRDPI      = 300
	DefaultExpireDays  = 7

	// Directory permissions
	DefaultDirPerm = 0o750

	envPrefix = "FORMAUDIT"
)

// ErrVersionRequested is returned by Load when --version was passed.
var ErrVersionRequested = errors.New("version requested")

// OCRConfig tunes the recognition engine.
type OCRConfig struct {
	Languages []string
	DPI       int
}

// AuthConfig controls API authentication.
type AuthConfig struct {
	// JWTSecret enables bearer auth on /api when set.
	JWTSecret string
}

// Config holds all configuration for formaudit
type Config struct {
	// Server configuration
	Mode string // "stdio", "server" or "batch"
	Host string
	Port int

	// Storage configuration
	WorkDir    string
	Input      string // batch mode input directory
	Workbook   string
	SchemaPath string // empty uses the built-in schema
	Dashboard  string // batch mode: "YYYY-MM" builds a dashboard after the run

	// Pipeline configuration
	MaxFileSize int64
	Workers     int
	OCR         OCRConfig
	// Thresholds holds per-kind overrides from flags, environment or the
	// config file. Kinds the schema sets itself are left alone.
	Thresholds map[schema.Kind]schema.Thresholds

	Minio storage.MinioConfig
	Auth  AuthConfig

	// Application configuration
	Version    string
	ServerName string
	LogLevel   string
	LogFormat  string
	ConfigFile string
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Mode:        ModeStdio, // Default to stdio mode for MCP compatibility
		Host:        DefaultHost,
		Port:        DefaultPort,
		WorkDir:     DefaultWorkDir,
		MaxFileSize: DefaultMaxFileSize,
		Workers:     runtime.NumCPU(),
		OCR:         OCRConfig{Languages: []string{"eng"}, DPI: DefaultOCRDPI},
		Minio:       storage.MinioConfig{ExpireDays: DefaultExpireDays},
		Version:     "1.0.0",
		ServerName:  "formaudit",
		LogLevel:    DefaultLogLevel,
		LogFormat:   DefaultLogFormat,
	}
}

// LoadFromFlags loads the configuration from the process arguments.
func LoadFromFlags() (*Config, error) {
	return Load(os.Args[1:])
}

// Load parses args, the environment and an optional config file, in
// increasing order of precedence: file, environment, flags.
func Load(args []string) (*Config, error) {
	if versionRequested(args) {
		return nil, ErrVersionRequested
	}
	cfg := DefaultConfig()
	v := viper.New()
	fs := pflag.NewFlagSet("formaudit", pflag.ContinueOnError)

	setupViperEnvironment(v, cfg)
	defineCommandLineFlags(fs, cfg)
	bindFlagsToViper(v, fs)
	setupUsageMessage(fs)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	populateConfigFromViper(v, cfg)
	if cfg.Workbook == "" {
		cfg.Workbook = filepath.Join(cfg.WorkDir, DefaultWorkbook)
	}
	for _, p := range []*string{&cfg.WorkDir, &cfg.Input, &cfg.Workbook, &cfg.SchemaPath} {
		if *p == "" {
			continue
		}
		if abs, err := filepath.Abs(*p); err == nil {
			*p = abs
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(v *viper.Viper, cfg *Config) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("host", cfg.Host)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("workdir", cfg.WorkDir)
	v.SetDefault("loglevel", cfg.LogLevel)
	v.SetDefault("logformat", cfg.LogFormat)
	v.SetDefault("maxfilesize", cfg.MaxFileSize)
	v.SetDefault("workers", cfg.Workers)
	v.SetDefault("ocr.languages", cfg.OCR.Languages)
	v.SetDefault("ocr.dpi", cfg.OCR.DPI)
	v.SetDefault("minio.expiredays", cfg.Minio.ExpireDays)
	// Threshold keys have no defaults so IsSet reports explicit overrides only.
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.String("config", "", "YAML config file")
	fs.String("mode", cfg.Mode, "Run mode: 'stdio' for MCP standard I/O, 'server' for HTTP, 'batch' for a one-shot run")
	fs.String("host", cfg.Host, "Server host address (server mode only)")
	fs.Int("port", cfg.Port, "Server port (server mode only)")
	fs.String("workdir", cfg.WorkDir, "Directory for uploads, artifacts and the audit workbook")
	fs.String("input", "", "Directory of scanned forms (batch mode)")
	fs.String("workbook", "", "Audit workbook path (default <workdir>/"+DefaultWorkbook+")")
	fs.String("schema", "", "Field schema YAML (default: built-in hazard report schema)")
	fs.String("dashboard", "", "Build the dashboard for YYYY-MM after a batch run")
	fs.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	fs.String("logformat", cfg.LogFormat, "Log format (text, json)")
	fs.Int64("maxfilesize", cfg.MaxFileSize, "Maximum input file size in bytes")
	fs.Int("workers", cfg.Workers, "Documents processed concurrently")
	fs.StringSlice("ocr-languages", cfg.OCR.Languages, "OCR languages")
	fs.Int("ocr-dpi", cfg.OCR.DPI, "Resolution reported to the OCR engine")
	fs.Float64("threshold-missing", 0, "Confidence below which a field is missing, for every kind")
	fs.Float64("threshold-lowconfidence", 0, "Confidence below which a field is flagged, for every kind")
	fs.String("minio-endpoint", "", "MinIO endpoint for mirroring artifacts (disabled when empty)")
	fs.String("minio-accesskey", "", "MinIO access key")
	fs.String("minio-secretkey", "", "MinIO secret key")
	fs.String("minio-bucket", "", "MinIO bucket")
	fs.Bool("minio-usessl", false, "Use TLS for MinIO")
	fs.Int("minio-expiredays", cfg.Minio.ExpireDays, "Presigned URL lifetime in days")
	fs.String("jwt-secret", "", "HS256 secret for API bearer auth (disabled when empty)")
	fs.Bool("version", false, "Print version and exit")
}

var flagKeys = map[string]string{
	"config":                  "config",
	"mode":                    "mode",
	"host":                    "host",
	"port":                    "port",
	"workdir":                 "workdir",
	"input":                   "input",
	"workbook":                "workbook",
	"schema":                  "schema",
	"dashboard":               "dashboard",
	"loglevel":                "loglevel",
	"logformat":               "logformat",
	"maxfilesize":             "maxfilesize",
	"workers":                 "workers",
	"ocr-languages":           "ocr.languages",
	"ocr-dpi":                 "ocr.dpi",
	"threshold-missing":       "threshold.missing",
	"threshold-lowconfidence": "threshold.lowconfidence",
	"minio-endpoint":          "minio.endpoint",
	"minio-accesskey":         "minio.accesskey",
	"minio-secretkey":         "minio.secretkey",
	"minio-bucket":            "minio.bucket",
	"minio-usessl":            "minio.usessl",
	"minio-expiredays":        "minio.expiredays",
	"jwt-secret":              "auth.jwtsecret",
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper(v *viper.Viper, fs *pflag.FlagSet) {
	for flag, key := range flagKeys {
		_ = v.BindPFlag(key, fs.Lookup(flag))
	}
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage(fs *pflag.FlagSet) {
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of formaudit:\n")
		fmt.Fprintf(os.Stderr, "\nformaudit - turns scanned safety report forms into an audit workbook\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  formaudit                                        # MCP over stdio (default)\n")
		fmt.Fprintf(os.Stderr, "  formaudit --mode=batch --input=./scans           # one-shot batch run\n")
		fmt.Fprintf(os.Stderr, "  formaudit --mode=batch --input=./scans --dashboard=2025-12\n")
		fmt.Fprintf(os.Stderr, "  formaudit --mode=server --host=0.0.0.0 --port=8081\n")
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  %s_<KEY>, with dots as underscores (e.g. %s_OCR_DPI, %s_MINIO_ENDPOINT)\n",
			envPrefix, envPrefix, envPrefix)
	}
}

// versionRequested checks if version flag was requested
func versionRequested(args []string) bool {
	for _, arg := range args {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return true
		}
	}
	return false
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(v *viper.Viper, cfg *Config) {
	cfg.ConfigFile = v.GetString("config")
	cfg.Mode = v.GetString("mode")
	cfg.Host = v.GetString("host")
	cfg.Port = v.GetInt("port")
	cfg.WorkDir = v.GetString("workdir")
	cfg.Input = v.GetString("input")
	cfg.Workbook = v.GetString("workbook")
	cfg.SchemaPath = v.GetString("schema")
	cfg.Dashboard = v.GetString("dashboard")
	cfg.LogLevel = v.GetString("loglevel")
	cfg.LogFormat = v.GetString("logformat")
	cfg.MaxFileSize = v.GetInt64("maxfilesize")
	cfg.Workers = v.GetInt("workers")
	cfg.OCR.Languages = v.GetStringSlice("ocr.languages")
	cfg.OCR.DPI = v.GetInt("ocr.dpi")
	cfg.Minio = storage.MinioConfig{
		Endpoint:   v.GetString("minio.endpoint"),
		AccessKey:  v.GetString("minio.accesskey"),
		SecretKey:  v.GetString("minio.secretkey"),
		Bucket:     v.GetString("minio.bucket"),
		Region:     v.GetString("minio.region"),
		UseSSL:     v.GetBool("minio.usessl"),
		ExpireDays: v.GetInt("minio.expiredays"),
	}
	cfg.Auth.JWTSecret = v.GetString("auth.jwtsecret")
	cfg.Thresholds = thresholdOverrides(v)
}

// thresholdOverrides layers the global threshold keys under the per-kind
// ones. Kinds with no explicit key are omitted.
func thresholdOverrides(v *viper.Viper) map[schema.Kind]schema.Thresholds {
	out := map[schema.Kind]schema.Thresholds{}
	for kind, t := range schema.DefaultThresholds {
		set := false
		for _, prefix := range []string{"threshold", "thresholds." + string(kind)} {
			if key := prefix + ".missing"; v.IsSet(key) {
				t.Missing, set = v.GetFloat64(key), true
			}
			if key := prefix + ".lowconfidence"; v.IsSet(key) {
				t.LowConfidence, set = v.GetFloat64(key), true
			}
		}
		if set {
			out[kind] = t
		}
	}
	return out
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeStdio, ModeServer, ModeBatch:
	default:
		return errors.New("mode must be one of 'stdio', 'server' or 'batch'")
	}

	// Validate port range (only for server mode)
	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	if c.Mode == ModeBatch {
		if c.Input == "" {
			return errors.New("batch mode requires --input")
		}
		if info, err := os.Stat(c.Input); err != nil || !info.IsDir() {
			return fmt.Errorf("input %s is not a readable directory", c.Input)
		}
	}
	if c.Dashboard != "" {
		if _, _, err := c.DashboardPeriod(); err != nil {
			return err
		}
	}

	if c.WorkDir == "" {
		return errors.New("work directory cannot be empty")
	}
	if _, err := os.Stat(c.WorkDir); os.IsNotExist(err) {
		if err := os.MkdirAll(c.WorkDir, DefaultDirPerm); err != nil {
			return fmt.Errorf("cannot create work directory %s: %w", c.WorkDir, err)
		}
	} else if err != nil {
		return fmt.Errorf("cannot access work directory %s: %w", c.WorkDir, err)
	}

	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}
	if c.Workers <= 0 {
		return errors.New("workers must be positive")
	}
	if c.OCR.DPI <= 0 {
		return errors.New("OCR DPI must be positive")
	}
	if len(c.OCR.Languages) == 0 {
		return errors.New("at least one OCR language is required")
	}
	for kind, t := range c.Thresholds {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%s thresholds: %w", kind, err)
		}
	}
	if c.Minio.Enabled() && c.Minio.Bucket == "" {
		return errors.New("MinIO bucket is required when an endpoint is set")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.LogFormat)
	}

	return nil
}

// DashboardPeriod parses Dashboard as YYYY-MM.
func (c *Config) DashboardPeriod() (time.Month, int, error) {
	t, err := time.Parse("2006-01", c.Dashboard)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid dashboard period %q (want YYYY-MM)", c.Dashboard)
	}
	return t.Month(), t.Year(), nil
}

// LoadSchema returns the configured schema with threshold overrides applied
// to kinds the schema leaves at their defaults.
func (c *Config) LoadSchema() (*schema.Schema, error) {
	s := schema.Default()
	if c.SchemaPath != "" {
		var err error
		if s, err = schema.Load(c.SchemaPath); err != nil {
			return nil, err
		}
	}
	overrides := map[schema.Kind]schema.Thresholds{}
	for kind, t := range c.Thresholds {
		if _, declared := s.Thresholds[kind]; !declared {
			overrides[kind] = t
		}
	}
	return s.WithThresholds(overrides)
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Host: %s, Port: %d, WorkDir: %s, Workbook: %s, Workers: %d, LogLevel: %s, MaxFileSize: %d}",
		c.Mode, c.Host, c.Port, c.WorkDir, c.Workbook, c.Workers, c.LogLevel, c.MaxFileSize)
}

// IsServerMode returns true if the server is running in HTTP server mode
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if the server is running in stdio mode
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}

// IsBatchMode returns true for a one-shot batch run
func (c *Config) IsBatchMode() bool {
	return c.Mode == ModeBatch
}
