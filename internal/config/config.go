package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Storage backends selectable with STORE_BACKEND.
const (
	BackendMemory   = "memory"
	BackendFile     = "file"
	BackendPostgres = "postgres"
	BackendMongo    = "mongo"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	LogLevel    string   `mapstructure:"LOG_LEVEL"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`
	SentryDSN   string   `mapstructure:"SENTRY_DSN"`

	UpstreamBaseURL        string        `mapstructure:"UPSTREAM_BASE_URL"`
	UpstreamAPIKey         string        `mapstructure:"UPSTREAM_API_KEY"`
	UpstreamModel          string        `mapstructure:"UPSTREAM_MODEL"`
	UpstreamTemperature    float32       `mapstructure:"UPSTREAM_TEMPERATURE"`
	UpstreamConnectTimeout time.Duration `mapstructure:"UPSTREAM_CONNECT_TIMEOUT"`
	UpstreamReadTimeout    time.Duration `mapstructure:"UPSTREAM_READ_TIMEOUT"`

	StoreBackend  string `mapstructure:"STORE_BACKEND"`
	FileStoreDir  string `mapstructure:"FILE_STORE_DIR"`
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	NotifyChannel string `mapstructure:"NOTIFY_CHANNEL"`
	MongoURI      string `mapstructure:"MONGODB_URI"`
	MongoDatabase string `mapstructure:"MONGODB_DATABASE"`
}

var defaults = map[string]any{
	"PORT":                     "5000",
	"ENV":                      "production",
	"LOG_LEVEL":                "info",
	"CORS_ORIGINS":             "*",
	"UPSTREAM_BASE_URL":        "https://llm.chutes.ai/v1",
	"UPSTREAM_MODEL":           "deepseek-ai/DeepSeek-R1",
	"UPSTREAM_TEMPERATURE":     0.2,
	"UPSTREAM_CONNECT_TIMEOUT": "10s",
	"UPSTREAM_READ_TIMEOUT":    "60s",
	"STORE_BACKEND":            BackendMemory,
	"FILE_STORE_DIR":           "chat_logs",
	"NOTIFY_CHANNEL":           "transcript_saved",
	"MONGODB_DATABASE":         "medintake",
}

var envKeys = []string{
	"PORT", "ENV", "LOG_LEVEL", "CORS_ORIGINS", "SENTRY_DSN",
	"UPSTREAM_BASE_URL", "UPSTREAM_API_KEY", "UPSTREAM_MODEL", "UPSTREAM_TEMPERATURE",
	"UPSTREAM_CONNECT_TIMEOUT", "UPSTREAM_READ_TIMEOUT",
	"STORE_BACKEND", "FILE_STORE_DIR", "DATABASE_URL", "NOTIFY_CHANNEL",
	"MONGODB_URI", "MONGODB_DATABASE",
}

// Load reads configuration from the environment.  A .env file in the working
// directory is loaded first if present; variables already set win over it.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	cfg.StoreBackend = strings.ToLower(strings.TrimSpace(cfg.StoreBackend))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendFile:
		if c.FileStoreDir == "" {
			return fmt.Errorf("FILE_STORE_DIR is required for the file backend")
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the postgres backend")
		}
	case BackendMongo:
		if c.MongoURI == "" {
			return fmt.Errorf("MONGODB_URI is required for the mongo backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}
	if c.UpstreamBaseURL == "" {
		return fmt.Errorf("UPSTREAM_BASE_URL is required")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
