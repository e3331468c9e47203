package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix is stripped from environment variables before mapping.
	EnvPrefix = "EXCELMIND_"
)

// LoadWithFile loads configuration from a YAML file, then overrides it with
// environment variables.
//
// Precedence (highest to lowest):
//  1. EXCELMIND_* environment variables
//  2. YAML config file (~/.config/excelmind/config.yaml by default)
//  3. Default()
//
// Environment variables drop the prefix and split on the first underscore:
//
//	EXCELMIND_ORCHESTRATOR_MAX_RETRIES -> orchestrator.max_retries
//	EXCELMIND_LLM_API_KEY              -> llm.api_key
//
// ANTHROPIC_API_KEY is honoured when llm.api_key is still empty.
//
// The file must live under ~/.config/excelmind/ or /etc/excelmind/, be at
// most 1MB, and have 0600 or 0400 permissions.
func LoadWithFile(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		dir, err := DefaultDir()
		if err != nil {
			return nil, err
		}
		configPath = filepath.Join(dir, "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultDir returns ~/.config/excelmind.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "excelmind"), nil
}

// EnsureConfigDir creates the config directory with 0700 permissions.
func EnsureConfigDir() error {
	dir, err := DefaultDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// envKey maps EXCELMIND_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// readConfigFile opens the file once and validates it through the open
// descriptor.
func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return nil, fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// validateConfigPath checks the path resolves into an allowed directory.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Not created yet.
		resolvedPath = absPath
	}

	dir, err := DefaultDir()
	if err != nil {
		return err
	}

	for _, allowed := range []string{dir, "/etc/excelmind"} {
		if strings.HasPrefix(resolvedPath, allowed+string(filepath.Separator)) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/excelmind/ or /etc/excelmind/")
}

func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}

// applyDefaults fills values that a file or env var zeroed out and that
// have no meaningful zero.
func applyDefaults(cfg *Config) {
	d := Default()

	if cfg.Orchestrator.TimeoutPerStep == 0 {
		cfg.Orchestrator.TimeoutPerStep = d.Orchestrator.TimeoutPerStep
	}
	if cfg.Orchestrator.TotalTimeout == 0 {
		cfg.Orchestrator.TotalTimeout = d.Orchestrator.TotalTimeout
	}
	if cfg.Orchestrator.MaxToolsPerTurn == 0 {
		cfg.Orchestrator.MaxToolsPerTurn = d.Orchestrator.MaxToolsPerTurn
	}
	if cfg.Orchestrator.MaxToolDepth == 0 {
		cfg.Orchestrator.MaxToolDepth = d.Orchestrator.MaxToolDepth
	}
	if cfg.Orchestrator.MemoMaxChars == 0 {
		cfg.Orchestrator.MemoMaxChars = d.Orchestrator.MemoMaxChars
	}
	if cfg.Orchestrator.MaxGlobalRetries == 0 {
		cfg.Orchestrator.MaxGlobalRetries = d.Orchestrator.MaxGlobalRetries
	}

	if cfg.Retry.Policy == "" {
		cfg.Retry.Policy = d.Retry.Policy
	}

	if cfg.LLM.Model == "" {
		cfg.LLM.Model = d.LLM.Model
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = d.LLM.MaxTokens
	}
	if !cfg.LLM.APIKey.IsSet() {
		cfg.LLM.APIKey = Secret(os.Getenv("ANTHROPIC_API_KEY"))
	}

	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = d.Cache.Backend
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = d.Server.Port
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = d.Telemetry.ServiceName
	}
}
