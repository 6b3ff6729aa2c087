// Package runconfig loads the turn engine's runtime configuration: which
// provider and model to talk to, the engine's iteration and context-window
// limits, retry tuning, and where sessions and tool schemas live on disk.
// It follows the teacher's internal/config loader shape (YAML with strict
// field checking, environment variable expansion and overrides, defaults
// applied after decode, validation before use) scoped down to what a single
// turn-engine process needs instead of a full gateway deployment.
package runconfig

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root runtime configuration for a turn engine process.
type Config struct {
	Provider ProviderConfig `yaml:"provider"`
	Engine   EngineConfig   `yaml:"engine"`
	Retry    RetryConfig    `yaml:"retry"`
	Session  SessionConfig  `yaml:"session"`
	Tools    ToolsConfig    `yaml:"tools"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ProviderConfig selects and authenticates the LLM backend.
type ProviderConfig struct {
	// Name is "anthropic" or "openai".
	Name      string `yaml:"name"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
	System    string `yaml:"system"`
}

// EngineConfig bounds a single turn's iteration and tool-call budget.
type EngineConfig struct {
	MaxIterations int           `yaml:"max_iterations"`
	MaxToolCalls  int           `yaml:"max_tool_calls"`
	MaxWallTime   time.Duration `yaml:"max_wall_time"`
}

// RetryConfig tunes the interactive backoff regime for provider errors.
// The coach/player autonomous regime's fixed ladder is not user-tunable
// here since it exists to survive a stall with no one watching, not to
// be sped up or slowed down per deployment.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// SessionConfig locates the session continuation layout and, optionally,
// a durable multi-session store for gateway-style deployments.
type SessionConfig struct {
	WorkspacePath string `yaml:"workspace_path"`
	SQLitePath    string `yaml:"sqlite_path"`
}

// ToolsConfig locates tool schema definitions and configures the pooled
// browser tool when enabled.
type ToolsConfig struct {
	SchemaPath string        `yaml:"schema_path"`
	Browser    BrowserConfig `yaml:"browser"`
}

// BrowserConfig configures the pooled Playwright browser tool.
type BrowserConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Headless     bool          `yaml:"headless"`
	PoolSize     int           `yaml:"pool_size"`
	AcquireWait  time.Duration `yaml:"acquire_wait"`
}

// LoggingConfig configures structured log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads, expands, decodes, defaults, and validates the config file
// at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("runconfig: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("runconfig: parse %s: %w", path, err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("runconfig: %s must contain a single document", path)
	}

	applyEnvOverrides(&cfg)
	Sanitize(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns a Config with every field set to its default value,
// as if an empty file had been loaded.
func Default() *Config {
	cfg := &Config{}
	Sanitize(cfg)
	return cfg
}

// Sanitize fills zero-valued fields with defaults in place. Exported so
// callers constructing a Config in code (tests, or a CLI building one
// from flags rather than a file) get the same defaulting Load applies.
func Sanitize(cfg *Config) {
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = "anthropic"
	}
	if cfg.Provider.MaxTokens <= 0 {
		cfg.Provider.MaxTokens = 4096
	}

	if cfg.Engine.MaxIterations <= 0 {
		cfg.Engine.MaxIterations = 10
	}
	if cfg.Engine.MaxToolCalls < 0 {
		cfg.Engine.MaxToolCalls = 0
	}
	if cfg.Engine.MaxWallTime < 0 {
		cfg.Engine.MaxWallTime = 0
	}

	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = 5
	}
	if cfg.Retry.BaseDelay <= 0 {
		cfg.Retry.BaseDelay = 500 * time.Millisecond
	}
	if cfg.Retry.MaxDelay <= 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}

	if cfg.Session.WorkspacePath == "" {
		cfg.Session.WorkspacePath = "."
	}

	if cfg.Tools.Browser.PoolSize <= 0 {
		cfg.Tools.Browser.PoolSize = 2
	}
	if cfg.Tools.Browser.AcquireWait <= 0 {
		cfg.Tools.Browser.AcquireWait = 30 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if value := strings.TrimSpace(os.Getenv("TURNENGINE_PROVIDER")); value != "" {
		cfg.Provider.Name = value
	}
	if value := strings.TrimSpace(os.Getenv("TURNENGINE_MODEL")); value != "" {
		cfg.Provider.Model = value
	}
	if value := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); value != "" && cfg.Provider.Name == "anthropic" {
		cfg.Provider.APIKey = value
	}
	if value := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); value != "" && cfg.Provider.Name == "openai" {
		cfg.Provider.APIKey = value
	}
	if value := strings.TrimSpace(os.Getenv("TURNENGINE_MAX_ITERATIONS")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			cfg.Engine.MaxIterations = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("TURNENGINE_LOG_LEVEL")); value != "" {
		cfg.Logging.Level = value
	}
}

// ValidationError collects every problem found while validating a
// Config, rather than stopping at the first one.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return "runconfig: validation failed:\n- " + strings.Join(e.Issues, "\n- ")
}

// Validate checks a sanitized Config for internally inconsistent or
// missing required values.
func Validate(cfg *Config) error {
	var issues []string

	switch strings.ToLower(strings.TrimSpace(cfg.Provider.Name)) {
	case "anthropic", "openai":
	default:
		issues = append(issues, `provider.name must be "anthropic" or "openai"`)
	}
	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		issues = append(issues, "provider.api_key is required")
	}
	if cfg.Provider.MaxTokens <= 0 {
		issues = append(issues, "provider.max_tokens must be > 0")
	}

	if cfg.Engine.MaxIterations <= 0 {
		issues = append(issues, "engine.max_iterations must be > 0")
	}
	if cfg.Engine.MaxToolCalls < 0 {
		issues = append(issues, "engine.max_tool_calls must be >= 0")
	}

	if cfg.Retry.MaxAttempts <= 0 {
		issues = append(issues, "retry.max_attempts must be > 0")
	}
	if cfg.Retry.BaseDelay <= 0 {
		issues = append(issues, "retry.base_delay must be > 0")
	}
	if cfg.Retry.MaxDelay < cfg.Retry.BaseDelay {
		issues = append(issues, "retry.max_delay must be >= retry.base_delay")
	}

	if cfg.Tools.Browser.Enabled && cfg.Tools.Browser.PoolSize <= 0 {
		issues = append(issues, "tools.browser.pool_size must be > 0 when tools.browser.enabled is true")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Level)) {
	case "debug", "info", "warn", "error":
	default:
		issues = append(issues, `logging.level must be "debug", "info", "warn", or "error"`)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "json", "text":
	default:
		issues = append(issues, `logging.format must be "json" or "text"`)
	}

	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}
