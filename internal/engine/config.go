package engine

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config holds the bot configuration.
type Config struct {
	// Identity
	Name string `json:"name"` // "parley"

	// Maintainers are transport user ids with admin privileges and
	// failure notifications.
	Maintainers []string `json:"maintainers,omitempty"`

	CommandPrefix         string `json:"command_prefix,omitempty"`          // default "/"
	DisableOutdatedFilter bool   `json:"disable_outdated_filter,omitempty"` // answer messages that predate startup
	SourceURL             string `json:"source_url,omitempty"`
	SessionTTL            string `json:"session_ttl,omitempty"` // e.g. "720h"
	Debug                 bool   `json:"debug,omitempty"`

	// Matrix channel
	Matrix MatrixConfig `json:"matrix"`

	// Cache backend for session and user config state
	Cache CacheConfig `json:"cache"`

	// History store for conversation transcripts
	History HistoryConfig `json:"history"`

	Fallback FallbackConfig `json:"fallback"`

	// Models in registration order; the first is the default.
	Models []ModelConfig `json:"models"`
}

// MatrixConfig holds Matrix connection settings.
type MatrixConfig struct {
	Homeserver   string   `json:"homeserver"`    // e.g., http://synapse:8008
	UserID       string   `json:"user_id"`       // e.g., @bot:matrix.example.com
	Password     string   `json:"password"`      // bot password
	ServerName   string   `json:"server_name"`   // e.g., matrix.example.com
	AllowedUsers []string `json:"allowed_users"` // empty means everyone
	DataDir      string   `json:"data_dir"`      // persistent client state
}

// CacheConfig selects the state cache backend. An empty RedisAddr means
// the in-process cache.
type CacheConfig struct {
	RedisAddr     string `json:"redis_addr,omitempty"` // e.g., redis:6379
	RedisPassword string `json:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty"`
}

// HistoryConfig selects the transcript store backend by DSN. Empty means
// in-memory; postgres:// uses Postgres; anything else is a SQLite path.
type HistoryConfig struct {
	DSN string `json:"dsn,omitempty"`
}

// FallbackConfig controls behavior when every model in the chain fails.
type FallbackConfig struct {
	// SwallowExhausted replies with a notice instead of surfacing the
	// last error when the whole chain is exhausted.
	SwallowExhausted bool `json:"swallow_exhausted,omitempty"`
}

// ModelConfig holds settings for a single chat-completion provider.
type ModelConfig struct {
	Provider          string  `json:"provider"`   // "anthropic", "openai"
	Name              string  `json:"name"`       // stable id, e.g. "claude-api"
	HumanName         string  `json:"human_name"` // shown in rosters, e.g. "Claude"
	Model             string  `json:"model"`      // e.g., "claude-opus-4-1"
	APIKey            string  `json:"api_key"`    // can use env var reference: "$ANTHROPIC_API_KEY"
	BaseURL           string  `json:"base_url,omitempty"`
	MaxModelTokens    int     `json:"max_model_tokens,omitempty"`
	MaxResponseTokens int     `json:"max_response_tokens,omitempty"`
	SystemMessage     string  `json:"system_message,omitempty"`
	Temperature       float64 `json:"temperature,omitempty"`
	Greeting          string  `json:"greeting,omitempty"` // sent after switching to this model
}

// LoadConfig reads config from a file path or environment.
// If path is empty, uses defaults suitable for container deployment.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		return defaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	// Resolve env var references in all $-prefixed values
	cfg.Matrix.Homeserver = resolveEnv(cfg.Matrix.Homeserver)
	cfg.Matrix.UserID = resolveEnv(cfg.Matrix.UserID)
	cfg.Matrix.Password = resolveEnv(cfg.Matrix.Password)
	cfg.Matrix.ServerName = resolveEnv(cfg.Matrix.ServerName)
	cfg.Cache.RedisAddr = resolveEnv(cfg.Cache.RedisAddr)
	cfg.Cache.RedisPassword = resolveEnv(cfg.Cache.RedisPassword)
	cfg.History.DSN = resolveEnv(cfg.History.DSN)
	for i := range cfg.Models {
		cfg.Models[i].APIKey = resolveEnv(cfg.Models[i].APIKey)
		cfg.Models[i].BaseURL = resolveEnv(cfg.Models[i].BaseURL)
	}

	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("config %s: at least one model is required", path)
	}

	return &cfg, nil
}

// resolveEnv replaces $ENV_VAR references with actual values.
func resolveEnv(s string) string {
	if len(s) > 1 && s[0] == '$' {
		if v := os.Getenv(s[1:]); v != "" {
			return v
		}
	}
	return s
}

// defaultConfig returns a config using environment variables,
// suitable for container deployment without a config file.
func defaultConfig() *Config {
	return &Config{
		Name: envOr("PARLEY_NAME", "parley"),
		Matrix: MatrixConfig{
			Homeserver: envOr("MATRIX_HOMESERVER", "http://synapse:8008"),
			UserID:     envOr("MATRIX_BOT_USER", "parley"),
			Password:   envOr("MATRIX_BOT_PASSWORD", ""),
			ServerName: envOr("MATRIX_SERVER_NAME", "matrix.example.com"),
			DataDir:    envOr("PARLEY_DATA_DIR", "/data"),
		},
		Cache: CacheConfig{
			RedisAddr:     envOr("PARLEY_REDIS_ADDR", ""),
			RedisPassword: envOr("PARLEY_REDIS_PASSWORD", ""),
		},
		History: HistoryConfig{
			DSN: envOr("PARLEY_HISTORY_DSN", ""),
		},
		SourceURL: envOr("PARLEY_SOURCE_URL", ""),
		Models: []ModelConfig{
			{
				Provider:          "anthropic",
				Name:              "claude-api",
				HumanName:         "Claude",
				Model:             "claude-3-5-sonnet-latest",
				APIKey:            os.Getenv("ANTHROPIC_API_KEY"),
				MaxModelTokens:    200_000,
				MaxResponseTokens: 4096,
				Temperature:       0.7,
			},
		},
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
