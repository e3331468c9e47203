// Package config provides configuration loading for excelmind.
//
// Values come from hardcoded defaults, then an optional YAML file, then
// EXCELMIND_* environment variables. See LoadWithFile.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete excelmind configuration.
type Config struct {
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Retry        RetryConfig        `koanf:"retry"`
	LLM          LLMConfig          `koanf:"llm"`
	Cache        CacheConfig        `koanf:"cache"`
	Privacy      PrivacyConfig      `koanf:"privacy"`
	Events       EventsConfig       `koanf:"events"`
	Server       ServerConfig       `koanf:"server"`
	Logging      LoggingConfig      `koanf:"logging"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
}

// OrchestratorConfig bounds a single task run.
type OrchestratorConfig struct {
	MaxRetries       int      `koanf:"max_retries"`
	MaxGlobalRetries int      `koanf:"max_global_retries"`
	TimeoutPerStep   Duration `koanf:"timeout_per_step"`
	TotalTimeout     Duration `koanf:"total_timeout"`
	QualityThreshold float64  `koanf:"quality_threshold"`
	EnableAutoRepair bool     `koanf:"enable_auto_repair"`
	EnableParallel   bool     `koanf:"enable_parallel"`
	MaxToolsPerTurn  int      `koanf:"max_tools_per_turn"`
	MaxToolDepth     int      `koanf:"max_tool_depth"`
	MemoMaxChars     int      `koanf:"memo_max_chars"`
	SampleRows       int      `koanf:"sample_rows"`
	ValidateToolArgs bool     `koanf:"validate_tool_args"`
	LogLevel         string   `koanf:"log_level"`
}

// RetryConfig selects the backoff policy used around LLM and tool calls.
type RetryConfig struct {
	Policy    string   `koanf:"policy"` // exponential, linear, fixed, immediate
	BaseDelay Duration `koanf:"base_delay"`
	MaxDelay  Duration `koanf:"max_delay"`
	Jitter    float64  `koanf:"jitter"`
}

// LLMConfig configures the model client.
type LLMConfig struct {
	Provider  string   `koanf:"provider"` // anthropic
	APIKey    Secret   `koanf:"api_key"`
	BaseURL   string   `koanf:"base_url"`
	Model     string   `koanf:"model"`
	MaxTokens int      `koanf:"max_tokens"`
	Timeout   Duration `koanf:"timeout"`
	RateLimit float64  `koanf:"rate_limit"` // requests per second
	Burst     int      `koanf:"burst"`
}

// CacheConfig configures the LLM response cache.
type CacheConfig struct {
	Enabled    bool     `koanf:"enabled"`
	Backend    string   `koanf:"backend"` // memory, sqlite
	Path       string   `koanf:"path"`
	TTL        Duration `koanf:"ttl"`
	MaxEntries int      `koanf:"max_entries"`
}

// PrivacyConfig controls masking of sample values sent to the model.
type PrivacyConfig struct {
	Enabled bool `koanf:"enabled"`
}

// EventsConfig configures NATS progress publishing.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// LoggingConfig is the subset of logging settings exposed in the file.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig is the subset of telemetry settings exposed in the file.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	SampleRate  float64 `koanf:"sample_rate"`
	ServiceName string  `koanf:"service_name"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Orchestrator: OrchestratorConfig{
			MaxRetries:       3,
			MaxGlobalRetries: 10,
			TimeoutPerStep:   Duration(30 * time.Second),
			TotalTimeout:     Duration(5 * time.Minute),
			QualityThreshold: 0.8,
			EnableAutoRepair: true,
			EnableParallel:   true,
			MaxToolsPerTurn:  3,
			MaxToolDepth:     2,
			MemoMaxChars:     1400,
			SampleRows:       5,
			ValidateToolArgs: true,
			LogLevel:         "info",
		},
		Retry: RetryConfig{
			Policy:    "exponential",
			BaseDelay: Duration(time.Second),
			MaxDelay:  Duration(30 * time.Second),
			Jitter:    0.1,
		},
		LLM: LLMConfig{
			Provider:  "anthropic",
			Model:     "claude-sonnet-4-5-20250929",
			MaxTokens: 4096,
			Timeout:   Duration(60 * time.Second),
			RateLimit: 5,
			Burst:     2,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Backend:    "memory",
			Path:       "~/.config/excelmind/cache.db",
			TTL:        Duration(time.Hour),
			MaxEntries: 1000,
		},
		Privacy: PrivacyConfig{Enabled: true},
		Events: EventsConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "excelmind.tasks",
		},
		Server: ServerConfig{
			Port:            9191,
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			SampleRate:  1.0,
			ServiceName: "excelmind",
		},
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	o := c.Orchestrator
	if o.MaxRetries < 0 {
		return fmt.Errorf("orchestrator.max_retries must be >= 0, got %d", o.MaxRetries)
	}
	if o.QualityThreshold < 0 || o.QualityThreshold > 1 {
		return fmt.Errorf("orchestrator.quality_threshold must be between 0 and 1, got %f", o.QualityThreshold)
	}
	if o.TimeoutPerStep.Duration() <= 0 {
		return errors.New("orchestrator.timeout_per_step must be positive")
	}
	if o.TotalTimeout.Duration() < o.TimeoutPerStep.Duration() {
		return errors.New("orchestrator.total_timeout must not be shorter than timeout_per_step")
	}
	if o.MaxToolsPerTurn < 1 {
		return fmt.Errorf("orchestrator.max_tools_per_turn must be >= 1, got %d", o.MaxToolsPerTurn)
	}

	switch c.Retry.Policy {
	case "exponential", "linear", "fixed", "immediate":
	default:
		return fmt.Errorf("retry.policy must be one of exponential, linear, fixed, immediate; got %q", c.Retry.Policy)
	}
	if c.Retry.Jitter < 0 || c.Retry.Jitter > 1 {
		return fmt.Errorf("retry.jitter must be between 0 and 1, got %f", c.Retry.Jitter)
	}

	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.RateLimit < 0 {
		return fmt.Errorf("llm.rate_limit must be >= 0, got %f", c.LLM.RateLimit)
	}

	if c.Cache.Enabled && c.Cache.Backend != "memory" && c.Cache.Backend != "sqlite" {
		return fmt.Errorf("cache.backend must be memory or sqlite, got %q", c.Cache.Backend)
	}

	if c.Events.Enabled && c.Events.URL == "" {
		return errors.New("events.url is required when events are enabled")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}

	if c.Telemetry.Enabled && c.Telemetry.ServiceName == "" {
		return errors.New("service name required when telemetry is enabled")
	}

	return nil
}
