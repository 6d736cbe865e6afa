package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "from-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Empty(t, cfg.LLM.Model, "the provider picks its own default model")
	assert.Equal(t, "from-env", cfg.LLM.APIKey)
	assert.Equal(t, 120*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 1.2, cfg.LLM.VariationTemperature)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 8*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 20, cfg.Session.HistoryCapacity)
	assert.Equal(t, 10, cfg.Session.SavedCapacity)
	assert.NotEmpty(t, cfg.Session.StatePath)
	assert.Equal(t, "none", cfg.Projects.Backend)
	assert.Equal(t, ":8080", cfg.ServerAddr)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: openai
  model: gpt-4o-mini
  api_key: sk-file
  timeout: 30s
retry:
  max_attempts: 5
session:
  history_capacity: 25
projects:
  backend: redis
  redis:
    addr: redis:6379
server_addr: ":9090"
`), 0o600))

	t.Setenv("WEBFORGE_LLM_MODEL", "gpt-4.1")
	t.Setenv("WEBFORGE_RETRY_BASE_DELAY", "250ms")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "gpt-4.1", cfg.LLM.Model)
	assert.Equal(t, "sk-file", cfg.LLM.APIKey)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 25, cfg.Session.HistoryCapacity)
	assert.Equal(t, "redis", cfg.Projects.Backend)
	assert.Equal(t, "redis:6379", cfg.Projects.Redis.Addr)
	assert.Equal(t, ":9090", cfg.ServerAddr)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"llm": `), 0o600))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			LLM:      LLMConfig{Provider: "mock", VariationTemperature: 1.2},
			Retry:    RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 8 * time.Second},
			Projects: ProjectsConfig{Backend: "memory"},
		}
	}
	c := valid()
	require.NoError(t, c.Validate())

	tests := map[string]func(*Config){
		"provider":      func(c *Config) { c.LLM.Provider = "bard" },
		"attempts":      func(c *Config) { c.Retry.MaxAttempts = 0 },
		"delays":        func(c *Config) { c.Retry.MaxDelay = time.Millisecond },
		"temperature":   func(c *Config) { c.LLM.VariationTemperature = 3 },
		"backend":       func(c *Config) { c.Projects.Backend = "sqlite" },
		"postgres dsn":  func(c *Config) { c.Projects.Backend = "postgres"; c.Projects.Postgres.DSN = "" },
		"redis address": func(c *Config) { c.Projects.Backend = "redis"; c.Projects.Redis.Addr = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := valid()
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}
