package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Logging LoggingConfig `toml:"logging"`
	Jobs    JobsConfig    `toml:"jobs"`
	Browser BrowserConfig `toml:"browser"`
	API     APIConfig     `toml:"api"`
}

type ServerConfig struct {
	Port      int    `toml:"port"`
	Host      string `toml:"host"`
	PublicURL string `toml:"public_url"` // Absolute base URL used when building trace viewer links
}

type StorageConfig struct {
	Type   string       `toml:"type"` // Only "badger" is supported
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// JobsConfig controls job execution and retention
type JobsConfig struct {
	Concurrency          int    `toml:"concurrency"`            // Number of jobs executed in parallel
	QueueSize            int    `toml:"queue_size"`             // Pending jobs buffered before submissions are refused
	Retention            string `toml:"retention"`              // Lifetime of job records and artifacts, e.g. "24h"
	DefaultActionTimeout string `toml:"default_action_timeout"` // Used when a job sets no options.timeout
	CleanupSchedule      string `toml:"cleanup_schedule"`       // Cron (with seconds) for the expired record janitor
	TraceViewerURL       string `toml:"trace_viewer_url"`       // Prefix the escaped trace URL is appended to
}

// BrowserConfig controls how browser sessions are obtained
type BrowserConfig struct {
	Headless   bool              `toml:"headless"`
	NoSandbox  bool              `toml:"no_sandbox"`
	DisableGPU bool              `toml:"disable_gpu"`
	ExecPath   string            `toml:"exec_path"` // Optional chrome binary, empty = auto-detect
	Endpoints  map[string]string `toml:"endpoints"` // browserType -> remote DevTools websocket URL
}

// APIConfig controls submission throttling
type APIConfig struct {
	SubmitRate  float64 `toml:"submit_rate"` // Submissions per second, <= 0 disables limiting
	SubmitBurst int     `toml:"submit_burst"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Type: "badger",
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Jobs: JobsConfig{
			Concurrency:          4,
			QueueSize:            100,
			Retention:            "24h",
			DefaultActionTimeout: "30s",
			CleanupSchedule:      "0 */15 * * * *", // Every 15 minutes
			TraceViewerURL:       "https://trace.playwright.dev/?trace=",
		},
		Browser: BrowserConfig{
			Headless:   true,
			NoSandbox:  true,
			DisableGPU: true,
			Endpoints:  map[string]string{},
		},
		API: APIConfig{
			SubmitRate:  10,
			SubmitBurst: 20,
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority: default -> file1 -> file2 -> ... -> env -> CLI
// Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	// Server configuration
	if port := os.Getenv("GHOSTRUN_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("GHOSTRUN_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if publicURL := os.Getenv("GHOSTRUN_PUBLIC_URL"); publicURL != "" {
		config.Server.PublicURL = publicURL
	}

	// Storage configuration
	if badgerPath := os.Getenv("GHOSTRUN_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	// Logging configuration
	if level := os.Getenv("GHOSTRUN_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("GHOSTRUN_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	// Jobs configuration
	if concurrency := os.Getenv("GHOSTRUN_JOBS_CONCURRENCY"); concurrency != "" {
		if c, err := strconv.Atoi(concurrency); err == nil {
			config.Jobs.Concurrency = c
		}
	}
	if retention := os.Getenv("GHOSTRUN_JOBS_RETENTION"); retention != "" {
		config.Jobs.Retention = retention
	}

	// Browser configuration
	if execPath := os.Getenv("GHOSTRUN_BROWSER_EXEC_PATH"); execPath != "" {
		config.Browser.ExecPath = execPath
	}
	for _, engine := range []string{"chromium", "firefox", "webkit"} {
		if endpoint := os.Getenv("GHOSTRUN_BROWSER_" + strings.ToUpper(engine) + "_ENDPOINT"); endpoint != "" {
			if config.Browser.Endpoints == nil {
				config.Browser.Endpoints = map[string]string{}
			}
			config.Browser.Endpoints[engine] = endpoint
		}
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks values that would otherwise fail late at runtime
func (c *Config) Validate() error {
	if c.Jobs.Concurrency < 1 {
		return fmt.Errorf("jobs.concurrency must be at least 1, got %d", c.Jobs.Concurrency)
	}
	if c.Jobs.QueueSize < 1 {
		return fmt.Errorf("jobs.queue_size must be at least 1, got %d", c.Jobs.QueueSize)
	}
	if _, err := time.ParseDuration(c.Jobs.Retention); err != nil {
		return fmt.Errorf("invalid jobs.retention %q: %w", c.Jobs.Retention, err)
	}
	if _, err := time.ParseDuration(c.Jobs.DefaultActionTimeout); err != nil {
		return fmt.Errorf("invalid jobs.default_action_timeout %q: %w", c.Jobs.DefaultActionTimeout, err)
	}
	if c.Jobs.CleanupSchedule != "" {
		if err := ValidateCleanupSchedule(c.Jobs.CleanupSchedule); err != nil {
			return err
		}
	}
	return nil
}

// RetentionDuration returns the parsed retention, falling back to 24h
func (c *Config) RetentionDuration() time.Duration {
	d, err := time.ParseDuration(c.Jobs.Retention)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// ActionTimeout returns the parsed default action timeout, falling back to 30s
func (c *Config) ActionTimeout() time.Duration {
	d, err := time.ParseDuration(c.Jobs.DefaultActionTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// ValidateCleanupSchedule validates a six-field cron expression (seconds first)
func ValidateCleanupSchedule(schedule string) error {
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid jobs.cleanup_schedule: %w", err)
	}
	return nil
}
