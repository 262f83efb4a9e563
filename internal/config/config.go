// Package config loads and validates the runtime configuration for the
// agent core: model endpoint, session/workspace behaviour, tool approval
// policy, and observability. It intentionally carries no notion of chat
// channels, tenants, or a multi-tenant HTTP gateway — this is a single-user,
// single-process local runtime.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure. CLI flags always take
// precedence over a loaded file; see ApplyFlags.
type Config struct {
	LLM           LLMConfig           `yaml:"llm"`
	Session       SessionConfig       `yaml:"session"`
	Workspace     WorkspaceConfig     `yaml:"workspace"`
	Identity      IdentityConfig      `yaml:"identity"`
	User          UserConfig          `yaml:"user"`
	Profile       ProfileConfig       `yaml:"profile"`
	Plugins       PluginsConfig       `yaml:"plugins"`
	Tools         ToolsConfig         `yaml:"tools"`
	Commands      CommandsConfig      `yaml:"commands"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ConfigValidationError reports a single invalid field.
type ConfigValidationError struct {
	Field  string
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Load reads and parses a YAML config file, applying defaults and
// validating the result. A missing file is not an error: Load returns
// defaults alone so the CLI can run with flags only.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				applyDefaults(cfg)
				return cfg, nil
			}
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyDefaults(cfg)
	applyEnvOverrides(cfg)
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	applyLLMDefaults(&cfg.LLM)
	applySessionDefaults(&cfg.Session)
	applyWorkspaceDefaults(&cfg.Workspace)
	applyToolsDefaults(&cfg.Tools)
	applyCommandsDefaults(&cfg.Commands)
	applyLoggingDefaults(&cfg.Logging)
	applyProfileDefaults(&cfg.Profile)
}

// applyEnvOverrides lets deployment environments override the model
// endpoint/credentials without editing the config file, matching the
// ALLY_-prefixed override convention.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ALLY_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("ALLY_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}
	if v := os.Getenv("ALLY_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLM.Temperature = f
		}
	}
	if v := os.Getenv("ALLY_AUTO_CONFIRM"); v != "" {
		cfg.Tools.Approval.AutoConfirm = strings.EqualFold(v, "true") || v == "1"
	}
}

func validateConfig(cfg *Config) error {
	if cfg.LLM.Endpoint == "" {
		return &ConfigValidationError{Field: "llm.endpoint", Reason: "must not be empty"}
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return &ConfigValidationError{Field: "llm.temperature", Reason: "must be between 0 and 2"}
	}
	if cfg.LLM.ContextSize <= 0 {
		return &ConfigValidationError{Field: "llm.context_size", Reason: "must be positive"}
	}
	if cfg.Session.Thoroughness != "" && !validThoroughness(cfg.Session.Thoroughness) {
		return &ConfigValidationError{Field: "session.thoroughness", Reason: "must be one of quick, medium, thorough, uncapped"}
	}
	if cfg.Tools.Approval.PermissionTimeout <= 0 {
		return &ConfigValidationError{Field: "tools.approval.permission_timeout", Reason: "must be positive"}
	}
	return nil
}

func validThoroughness(v string) bool {
	switch v {
	case "quick", "medium", "thorough", "uncapped":
		return true
	}
	return false
}

// Flags mirrors the CLI flag surface that takes precedence
// over both the config file and environment overrides. Zero values mean
// "flag not set" and leave the field untouched.
type Flags struct {
	Model           string
	Endpoint        string
	Temperature     float64
	ContextSize     int
	MaxTokens       int
	ReasoningEffort string
	AutoConfirm     bool
	Verbose         bool
	Debug           bool
}

// ApplyFlags overlays non-zero flag values onto cfg, taking precedence
// over the config file and ALLY_-prefixed environment overrides.
func ApplyFlags(cfg *Config, flags Flags) {
	if flags.Model != "" {
		cfg.LLM.Model = flags.Model
	}
	if flags.Endpoint != "" {
		cfg.LLM.Endpoint = flags.Endpoint
	}
	if flags.Temperature != 0 {
		cfg.LLM.Temperature = flags.Temperature
	}
	if flags.ContextSize != 0 {
		cfg.LLM.ContextSize = flags.ContextSize
	}
	if flags.MaxTokens != 0 {
		cfg.LLM.MaxTokens = flags.MaxTokens
	}
	if flags.ReasoningEffort != "" {
		cfg.LLM.ReasoningEffort = flags.ReasoningEffort
	}
	if flags.AutoConfirm {
		cfg.Tools.Approval.AutoConfirm = true
	}
	if flags.Verbose {
		cfg.Logging.Level = "debug"
	}
	if flags.Debug {
		cfg.Logging.Level = "debug"
		cfg.Observability.Tracing.Enabled = true
	}
}

// HomeDir returns the root of the profile tree (~/.ally by default),
// honouring ALLY_HOME for tests and containerized deployments.
func HomeDir() string {
	if v := os.Getenv("ALLY_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ally"
	}
	return filepath.Join(home, ".ally")
}
