package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMaskKey(t *testing.T) {
	tests := []struct {
		name     string
		key      string
		expected string
	}{
		{name: "short key", key: "abc", expected: "****"},
		{name: "exactly 8 chars", key: "12345678", expected: "****"},
		{name: "long key", key: "sk-1234567890abcdef", expected: "sk-1...cdef"},
		{name: "empty key", key: "", expected: "****"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := maskKey(tt.key)
			if result != tt.expected {
				t.Errorf("maskKey(%q) = %q, want %q", tt.key, result, tt.expected)
			}
		})
	}
}

// withTempConfig points the package-level config paths at a scratch
// directory for the duration of one test.
func withTempConfig(t *testing.T) {
	t.Helper()
	tmpDir, err := os.MkdirTemp("", "zcode-config-test")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	oldDir, oldFile, oldYAML := configDir, configFile, yamlFile
	configDir = tmpDir
	configFile = filepath.Join(tmpDir, "core.json")
	yamlFile = filepath.Join(tmpDir, "core.yaml")
	current = nil
	t.Cleanup(func() {
		os.RemoveAll(tmpDir)
		configDir, configFile, yamlFile = oldDir, oldFile, oldYAML
		current = nil
	})
}

func TestConfigLoadSave(t *testing.T) {
	withTempConfig(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DefaultProvider != "openrouter" {
		t.Errorf("default provider = %q, want %q", cfg.DefaultProvider, "openrouter")
	}

	cfg.OpenAIKey = "test-key-12345"
	cfg.DefaultModel = "gpt-4o"
	if err := Save(cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	current = nil
	cfg2, err := Load()
	if err != nil {
		t.Fatalf("Load() after save error = %v", err)
	}
	if cfg2.OpenAIKey != "test-key-12345" {
		t.Errorf("OpenAIKey = %q, want %q", cfg2.OpenAIKey, "test-key-12345")
	}
	if cfg2.DefaultModel != "gpt-4o" {
		t.Errorf("DefaultModel = %q, want %q", cfg2.DefaultModel, "gpt-4o")
	}
}

func TestConfigSet(t *testing.T) {
	withTempConfig(t)

	tests := []struct {
		key   string
		value string
		check func(*Config) bool
	}{
		{key: "openai", value: "sk-test123", check: func(c *Config) bool { return c.OpenAIKey == "sk-test123" }},
		{key: "provider", value: "openai", check: func(c *Config) bool { return c.DefaultProvider == "openai" }},
		{key: "model", value: "gpt-4-turbo", check: func(c *Config) bool { return c.DefaultModel == "gpt-4-turbo" }},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			if err := Set(tt.key, tt.value); err != nil {
				t.Fatalf("Set(%q, %q) error = %v", tt.key, tt.value, err)
			}
			if !tt.check(Get()) {
				t.Errorf("Set(%q, %q) did not update config correctly", tt.key, tt.value)
			}
		})
	}

	if err := Set("unknown_key", "value"); err == nil {
		t.Error("Set() with unknown key should return error")
	}
}

func TestConfigDelete(t *testing.T) {
	withTempConfig(t)

	if err := Set("openai", "sk-test123"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := Delete("openai"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if cfg := Get(); cfg.OpenAIKey != "" {
		t.Errorf("OpenAIKey = %q after delete, want empty", cfg.OpenAIKey)
	}
	if err := Delete("unknown_key"); err == nil {
		t.Error("Delete() with unknown key should return error")
	}
}

func TestGetOpenAIKeyFromEnv(t *testing.T) {
	withTempConfig(t)

	oldEnv := os.Getenv("OPENAI_API_KEY")
	os.Setenv("OPENAI_API_KEY", "env-test-key")
	defer os.Setenv("OPENAI_API_KEY", oldEnv)

	if key := GetOpenAIKey(); key != "env-test-key" {
		t.Errorf("GetOpenAIKey() = %q, want %q", key, "env-test-key")
	}

	if err := Set("openai", "config-test-key"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if key := GetOpenAIKey(); key != "config-test-key" {
		t.Errorf("GetOpenAIKey() with config = %q, want %q", key, "config-test-key")
	}
}

func TestConfigPath(t *testing.T) {
	if path := ConfigPath(); path == "" {
		t.Error("ConfigPath() returned empty string")
	}
}

func TestYAMLOverrideLayersOntoJSON(t *testing.T) {
	withTempConfig(t)

	if err := os.MkdirAll(configDir, 0700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(yamlFile, []byte("max_turns: 12\ntool_timeout_seconds: 45\n"), 0600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxTurns != 12 {
		t.Errorf("MaxTurns = %d, want 12", cfg.MaxTurns)
	}
	if cfg.ToolTimeoutSeconds != 45 {
		t.Errorf("ToolTimeoutSeconds = %v, want 45", cfg.ToolTimeoutSeconds)
	}
}

func TestCoreConfigConversion(t *testing.T) {
	cfg := &Config{MaxTurns: 10, MaxAttemptsPerLevel: 3, ToolTimeoutSeconds: 5}
	core := cfg.CoreConfig("https://api.openai.com/v1", "key", "gpt-4o")

	if core.BaseURL != "https://api.openai.com/v1" || core.Model != "gpt-4o" {
		t.Errorf("connection params not threaded through: %+v", core)
	}
	if core.MaxTurns != 10 {
		t.Errorf("MaxTurns = %d, want 10", core.MaxTurns)
	}
	if core.ToolTimeout != 5*time.Second {
		t.Errorf("ToolTimeout = %v, want 5s", core.ToolTimeout)
	}
}
