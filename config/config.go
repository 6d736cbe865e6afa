// Package config loads webforge settings from a config file, a .env file and
// WEBFORGE_* environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "WEBFORGE"

type Config struct {
	LLM        LLMConfig      `mapstructure:"llm"`
	Retry      RetryConfig    `mapstructure:"retry"`
	Session    SessionConfig  `mapstructure:"session"`
	Projects   ProjectsConfig `mapstructure:"projects"`
	Log        LogConfig      `mapstructure:"log"`
	ServerAddr string         `mapstructure:"server_addr"`
}

type LLMConfig struct {
	Provider string `mapstructure:"provider"`
	Model    string `mapstructure:"model"`
	APIKey   string `mapstructure:"api_key"`
	// APIKeyEnv names an environment variable holding the key, e.g. GEMINI_API_KEY.
	APIKeyEnv            string        `mapstructure:"api_key_env"`
	BaseURL              string        `mapstructure:"base_url"`
	Timeout              time.Duration `mapstructure:"timeout"`
	VariationTemperature float64       `mapstructure:"variation_temperature"`
}

type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

type SessionConfig struct {
	StatePath       string `mapstructure:"state_path"`
	HistoryCapacity int    `mapstructure:"history_capacity"`
	SavedCapacity   int    `mapstructure:"saved_capacity"`
}

type ProjectsConfig struct {
	// Backend is one of none, memory, firestore, redis, postgres.
	Backend string `mapstructure:"backend"`
	AppID   string `mapstructure:"app_id"`
	UserID  string `mapstructure:"user_id"`
	// JWTSecret enables signed identity tokens for the non-firebase backends.
	JWTSecret string         `mapstructure:"jwt_secret"`
	Firebase  FirebaseConfig `mapstructure:"firebase"`
	Redis     RedisConfig    `mapstructure:"redis"`
	Postgres  PostgresConfig `mapstructure:"postgres"`
}

type FirebaseConfig struct {
	ProjectID       string `mapstructure:"project_id"`
	CredentialsFile string `mapstructure:"credentials_file"`
}

type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

type PostgresConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

type LogConfig struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
}

// Load reads path (yaml, json or toml by extension). A missing file is not an
// error; defaults and the environment still apply.
func Load(path string) (*Config, error) {
	// .env only fills variables that are not already set.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.LLM.APIKey == "" && cfg.LLM.APIKeyEnv != "" {
		cfg.LLM.APIKey = os.Getenv(cfg.LLM.APIKeyEnv)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "gemini")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.api_key_env", "GEMINI_API_KEY")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.timeout", "120s")
	v.SetDefault("llm.variation_temperature", 1.2)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", "1s")
	v.SetDefault("retry.max_delay", "8s")

	v.SetDefault("session.state_path", defaultStatePath())
	v.SetDefault("session.history_capacity", 20)
	v.SetDefault("session.saved_capacity", 10)

	v.SetDefault("projects.backend", "none")
	v.SetDefault("projects.app_id", "default-app-id")
	v.SetDefault("projects.user_id", "")
	v.SetDefault("projects.firebase.project_id", "")
	v.SetDefault("projects.firebase.credentials_file", "")
	v.SetDefault("projects.redis.addr", "localhost:6379")
	v.SetDefault("projects.redis.password", "")
	v.SetDefault("projects.redis.db", 0)
	v.SetDefault("projects.redis.key_prefix", "webforge")
	v.SetDefault("projects.postgres.dsn", "")
	v.SetDefault("projects.postgres.max_conns", 4)
	v.SetDefault("projects.jwt_secret", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")

	v.SetDefault("server_addr", ":8080")
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".webforge/state.json"
	}
	return filepath.Join(dir, "webforge", "state.json")
}

// Validate rejects settings no component could run with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LLM.Provider) {
	case "gemini", "openai", "deepseek", "ollama", "mock":
	default:
		return fmt.Errorf("llm.provider %q not supported", c.LLM.Provider)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry delays invalid: base %s, max %s", c.Retry.BaseDelay, c.Retry.MaxDelay)
	}
	if c.LLM.VariationTemperature < 0 || c.LLM.VariationTemperature > 2 {
		return fmt.Errorf("llm.variation_temperature must be within [0, 2], got %v", c.LLM.VariationTemperature)
	}
	switch c.Projects.Backend {
	case "none", "memory", "firestore":
	case "redis":
		if c.Projects.Redis.Addr == "" {
			return errors.New("projects.redis.addr is required for the redis backend")
		}
	case "postgres":
		if c.Projects.Postgres.DSN == "" {
			return errors.New("projects.postgres.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("projects.backend %q not supported", c.Projects.Backend)
	}
	return nil
}
