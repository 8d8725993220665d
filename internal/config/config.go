// Package config loads the on-disk configuration for the zcode core: API
// keys and provider defaults for the demonstration CLI, plus the
// orchestrator tunables (duplicate-feedback limits, thinking-token minimum,
// turn limit, timeouts). Configuration lives in core.json, with an optional
// core.yaml override decoded with gopkg.in/yaml.v3 for callers who prefer
// YAML (the struct carries both tag styles so either loader works).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/simonyos/zcode-core/internal/orchestrator"
)

// Config holds all application configuration: provider credentials for the
// demonstration CLI, plus the orchestrator's tunables.
type Config struct {
	// API Keys
	OpenAIKey      string `json:"openai_api_key,omitempty" yaml:"openai_api_key,omitempty"`
	AnthropicKey   string `json:"anthropic_api_key,omitempty" yaml:"anthropic_api_key,omitempty"`
	OpenRouterKey  string `json:"openrouter_api_key,omitempty" yaml:"openrouter_api_key,omitempty"`
	LiteLLMKey     string `json:"litellm_api_key,omitempty" yaml:"litellm_api_key,omitempty"`
	LiteLLMBaseURL string `json:"litellm_base_url,omitempty" yaml:"litellm_base_url,omitempty"`

	// Defaults
	DefaultProvider string `json:"default_provider,omitempty" yaml:"default_provider,omitempty"`
	DefaultModel    string `json:"default_model,omitempty" yaml:"default_model,omitempty"`

	// Orchestrator tunables. Zero values fall back to the orchestrator
	// package's own defaults via CoreConfig.WithDefaults(); nothing here is
	// mandatory.
	MaxTurns            int     `json:"max_turns,omitempty" yaml:"max_turns,omitempty"`
	MaxAttemptsPerLevel int     `json:"max_attempts_per_level,omitempty" yaml:"max_attempts_per_level,omitempty"`
	MaxTotalAttempts    int     `json:"max_total_attempts,omitempty" yaml:"max_total_attempts,omitempty"`
	ThinkingMinLength   int     `json:"thinking_min_length,omitempty" yaml:"thinking_min_length,omitempty"`
	ToolTimeoutSeconds  float64 `json:"tool_timeout_seconds,omitempty" yaml:"tool_timeout_seconds,omitempty"`
	StaleBufferSeconds  float64 `json:"stale_buffer_seconds,omitempty" yaml:"stale_buffer_seconds,omitempty"`
	EmptyDialectSeconds float64 `json:"empty_dialect_seconds,omitempty" yaml:"empty_dialect_seconds,omitempty"`
}

var (
	configDir  string
	configFile string
	yamlFile   string
	current    *Config
)

func init() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	configDir = filepath.Join(home, ".config", "zcode")
	configFile = filepath.Join(configDir, "core.json")
	yamlFile = filepath.Join(configDir, "core.yaml")
}

// Load reads the config from disk: core.json first, then core.yaml values
// layered on top for any field the YAML file sets. Missing files are not an
// error; Load returns the default config.
func Load() (*Config, error) {
	if current != nil {
		return current, nil
	}

	current = &Config{DefaultProvider: "openrouter"}

	if data, err := os.ReadFile(configFile); err == nil {
		if err := json.Unmarshal(data, current); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if data, err := os.ReadFile(yamlFile); err == nil {
		if err := yaml.Unmarshal(data, current); err != nil {
			return nil, fmt.Errorf("failed to parse yaml override: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read yaml override: %w", err)
	}

	return current, nil
}

// Save writes the config to disk as core.json.
func Save(cfg *Config) error {
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	current = cfg
	return nil
}

// Get returns the current config, loading if necessary.
func Get() *Config {
	if current == nil {
		_, _ = Load()
	}
	return current
}

// Set updates a config value by key.
func Set(key, value string) error {
	cfg, err := Load()
	if err != nil {
		return err
	}

	switch key {
	case "openai_api_key", "openai":
		cfg.OpenAIKey = value
	case "anthropic_api_key", "anthropic":
		cfg.AnthropicKey = value
	case "openrouter_api_key", "openrouter":
		cfg.OpenRouterKey = value
	case "litellm_api_key", "litellm":
		cfg.LiteLLMKey = value
	case "litellm_base_url":
		cfg.LiteLLMBaseURL = value
	case "default_provider", "provider":
		cfg.DefaultProvider = value
	case "default_model", "model":
		cfg.DefaultModel = value
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}

	return Save(cfg)
}

// Delete removes a config value.
func Delete(key string) error {
	cfg, err := Load()
	if err != nil {
		return err
	}

	switch key {
	case "openai_api_key", "openai":
		cfg.OpenAIKey = ""
	case "anthropic_api_key", "anthropic":
		cfg.AnthropicKey = ""
	case "openrouter_api_key", "openrouter":
		cfg.OpenRouterKey = ""
	case "litellm_api_key", "litellm":
		cfg.LiteLLMKey = ""
	case "litellm_base_url":
		cfg.LiteLLMBaseURL = ""
	case "default_provider", "provider":
		cfg.DefaultProvider = ""
	case "default_model", "model":
		cfg.DefaultModel = ""
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}

	return Save(cfg)
}

// GetOpenAIKey returns the OpenAI API key (config or env).
func GetOpenAIKey() string {
	cfg := Get()
	if cfg.OpenAIKey != "" {
		return cfg.OpenAIKey
	}
	return os.Getenv("OPENAI_API_KEY")
}

// GetAnthropicKey returns the Anthropic API key (config or env).
func GetAnthropicKey() string {
	cfg := Get()
	if cfg.AnthropicKey != "" {
		return cfg.AnthropicKey
	}
	return os.Getenv("ANTHROPIC_API_KEY")
}

// GetOpenRouterKey returns the OpenRouter API key (config or env).
func GetOpenRouterKey() string {
	cfg := Get()
	if cfg.OpenRouterKey != "" {
		return cfg.OpenRouterKey
	}
	return os.Getenv("OPENROUTER_API_KEY")
}

// GetLiteLLMKey returns the LiteLLM proxy API key (config or env).
func GetLiteLLMKey() string {
	cfg := Get()
	if cfg.LiteLLMKey != "" {
		return cfg.LiteLLMKey
	}
	return os.Getenv("LITELLM_API_KEY")
}

// GetLiteLLMBaseURL returns the LiteLLM proxy base URL (config or env).
func GetLiteLLMBaseURL() string {
	cfg := Get()
	if cfg.LiteLLMBaseURL != "" {
		return cfg.LiteLLMBaseURL
	}
	return os.Getenv("LITELLM_BASE_URL")
}

// ConfigPath returns the path to the JSON config file.
func ConfigPath() string {
	return configFile
}

// ListKeys returns configured keys (masked for display).
func ListKeys() map[string]string {
	cfg := Get()
	result := make(map[string]string)

	if cfg.OpenAIKey != "" {
		result["openai_api_key"] = maskKey(cfg.OpenAIKey)
	} else if os.Getenv("OPENAI_API_KEY") != "" {
		result["openai_api_key"] = maskKey(os.Getenv("OPENAI_API_KEY")) + " (env)"
	}

	if cfg.AnthropicKey != "" {
		result["anthropic_api_key"] = maskKey(cfg.AnthropicKey)
	} else if os.Getenv("ANTHROPIC_API_KEY") != "" {
		result["anthropic_api_key"] = maskKey(os.Getenv("ANTHROPIC_API_KEY")) + " (env)"
	}

	if cfg.OpenRouterKey != "" {
		result["openrouter_api_key"] = maskKey(cfg.OpenRouterKey)
	} else if os.Getenv("OPENROUTER_API_KEY") != "" {
		result["openrouter_api_key"] = maskKey(os.Getenv("OPENROUTER_API_KEY")) + " (env)"
	}

	if cfg.DefaultProvider != "" {
		result["default_provider"] = cfg.DefaultProvider
	}
	if cfg.DefaultModel != "" {
		result["default_model"] = cfg.DefaultModel
	}

	return result
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// CoreConfig builds an orchestrator.CoreConfig from the loaded tunables plus
// the caller-supplied connection parameters. Zero-valued tunables are left
// for CoreConfig.WithDefaults (called by orchestrator.New) to fill in.
func (c *Config) CoreConfig(baseURL, apiKey, model string) orchestrator.CoreConfig {
	cfg := orchestrator.CoreConfig{
		BaseURL:             baseURL,
		APIKey:              apiKey,
		Model:               model,
		MaxTurns:            c.MaxTurns,
		MaxAttemptsPerLevel: c.MaxAttemptsPerLevel,
		MaxTotalAttempts:    c.MaxTotalAttempts,
		ThinkingMinLength:   c.ThinkingMinLength,
	}
	if c.ToolTimeoutSeconds > 0 {
		cfg.ToolTimeout = time.Duration(c.ToolTimeoutSeconds * float64(time.Second))
	}
	if c.StaleBufferSeconds > 0 {
		cfg.StaleBufferTimeout = time.Duration(c.StaleBufferSeconds * float64(time.Second))
	}
	if c.EmptyDialectSeconds > 0 {
		cfg.EmptyDialectTimeout = time.Duration(c.EmptyDialectSeconds * float64(time.Second))
	}
	return cfg
}
