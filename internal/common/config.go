package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Remote      RemoteConfig    `toml:"remote"`
	Polling     PollingConfig   `toml:"polling"`
	Recovery    RecoveryConfig  `toml:"recovery"`
	Logging     LoggingConfig   `toml:"logging"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gt=0,lte=65535"`
	Host string `toml:"host" validate:"required"`
}

// RemoteConfig describes the remote crawling service this console
// submits jobs to
type RemoteConfig struct {
	BaseURL string `toml:"base_url" validate:"required,url"` // Remote service base URL
	APIKey  string `toml:"api_key"`                          // Optional X-Api-Key header value
	Timeout string `toml:"timeout"`                          // Request timeout, e.g. "30s"
	ScopeID string `toml:"scope_id"`                         // Scope (project) used for recovery listing
}

// PollingConfig controls the status poll cadence
type PollingConfig struct {
	Interval string `toml:"interval"` // e.g. "3s" - fixed cadence between status fetches
}

// RecoveryConfig controls startup reconciliation against the backend
type RecoveryConfig struct {
	Enabled        bool   `toml:"enabled"`         // Reconcile in-flight jobs on startup
	ResyncSchedule string `toml:"resync_schedule"` // Optional cron schedule for periodic re-sync (e.g. "@every 5m")
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Format     string   `toml:"format"`      // "json" or "text"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05")
}

// WebSocketConfig contains configuration for WebSocket event streaming
type WebSocketConfig struct {
	// Whitelist of event types to broadcast. Empty list allows all events.
	AllowedEvents []string `toml:"allowed_events"`
	// Minimum interval between job_progress broadcasts per connection,
	// e.g. "1s". Empty disables throttling.
	ProgressThrottle string `toml:"progress_throttle"`
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8090,
			Host: "localhost",
		},
		Remote: RemoteConfig{
			BaseURL: "http://localhost:8080",
			Timeout: "30s",
			ScopeID: "default",
		},
		Polling: PollingConfig{
			Interval: "3s",
		},
		Recovery: RecoveryConfig{
			Enabled:        true,
			ResyncSchedule: "", // Startup-only by default
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout", "file"},
		},
		WebSocket: WebSocketConfig{
			AllowedEvents:    []string{},
			ProgressThrottle: "1s",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// defaults -> file1 -> file2 -> ... -> env. Later files override earlier
// files; environment variables override all files.
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

// Validate checks the configuration for structural problems
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if _, err := c.PollInterval(); err != nil {
		return err
	}
	if _, err := c.RemoteTimeout(); err != nil {
		return err
	}
	return nil
}

// PollInterval parses the configured status poll cadence
func (c *Config) PollInterval() (time.Duration, error) {
	if c.Polling.Interval == "" {
		return 3 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Polling.Interval)
	if err != nil {
		return 0, fmt.Errorf("invalid polling interval %q: %w", c.Polling.Interval, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("polling interval must be positive, got %q", c.Polling.Interval)
	}
	return d, nil
}

// RemoteTimeout parses the configured remote request timeout
func (c *Config) RemoteTimeout() (time.Duration, error) {
	if c.Remote.Timeout == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(c.Remote.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid remote timeout %q: %w", c.Remote.Timeout, err)
	}
	return d, nil
}

// ProgressThrottle parses the WebSocket progress throttle interval.
// Zero disables throttling.
func (c *Config) ProgressThrottle() time.Duration {
	if c.WebSocket.ProgressThrottle == "" {
		return 0
	}
	d, err := time.ParseDuration(c.WebSocket.ProgressThrottle)
	if err != nil {
		return 0
	}
	return d
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port != 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("CUSTOS_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	// Server configuration
	if port := os.Getenv("CUSTOS_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("CUSTOS_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	// Remote service configuration
	if baseURL := os.Getenv("CUSTOS_REMOTE_BASE_URL"); baseURL != "" {
		config.Remote.BaseURL = baseURL
	}
	if apiKey := os.Getenv("CUSTOS_REMOTE_API_KEY"); apiKey != "" {
		config.Remote.APIKey = apiKey
	}
	if timeout := os.Getenv("CUSTOS_REMOTE_TIMEOUT"); timeout != "" {
		config.Remote.Timeout = timeout
	}
	if scopeID := os.Getenv("CUSTOS_REMOTE_SCOPE_ID"); scopeID != "" {
		config.Remote.ScopeID = scopeID
	}

	// Polling configuration
	if interval := os.Getenv("CUSTOS_POLL_INTERVAL"); interval != "" {
		config.Polling.Interval = interval
	}

	// Recovery configuration
	if enabled := os.Getenv("CUSTOS_RECOVERY_ENABLED"); enabled != "" {
		if e, err := strconv.ParseBool(enabled); err == nil {
			config.Recovery.Enabled = e
		}
	}
	if schedule := os.Getenv("CUSTOS_RECOVERY_RESYNC_SCHEDULE"); schedule != "" {
		config.Recovery.ResyncSchedule = schedule
	}

	// Logging configuration
	if level := os.Getenv("CUSTOS_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("CUSTOS_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("CUSTOS_LOG_OUTPUT"); output != "" {
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
}
