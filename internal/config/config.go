// Package config loads server configuration from defaults, an optional YAML
// file, and RSSA_-prefixed environment variables, in that order of
// precedence.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Database    DatabaseConfig    `koanf:"database"`
	Auth        AuthConfig        `koanf:"auth"`
	Log         LogConfig         `koanf:"log"`
	Recommender RecommenderConfig `koanf:"recommender"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	AllowedOrigins  []string      `koanf:"allowed_origins"`
	// SubmitRateLimit caps participant response submissions per minute per IP.
	SubmitRateLimit int `koanf:"submit_rate_limit"`
}

type DatabaseConfig struct {
	Path        string        `koanf:"path"`
	BusyTimeout time.Duration `koanf:"busy_timeout"`
}

type AuthConfig struct {
	JWTSecret string        `koanf:"jwt_secret"`
	TokenTTL  time.Duration `koanf:"token_ttl"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// RecommenderConfig points at the external scoring service and names the
// strategies exposed through the recommendation API. Strategy names map to
// paths on the scoring endpoint.
type RecommenderConfig struct {
	ScoringURL string            `koanf:"scoring_url"`
	Timeout    time.Duration     `koanf:"timeout"`
	Strategies map[string]string `koanf:"strategies"`
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			AllowedOrigins:  []string{"*"},
			SubmitRateLimit: 120,
		},
		Database: DatabaseConfig{
			Path:        "data/rssa.db",
			BusyTimeout: 5 * time.Second,
		},
		Auth: AuthConfig{
			JWTSecret: "",
			TokenTTL:  12 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Recommender: RecommenderConfig{
			ScoringURL: "",
			Timeout:    10 * time.Second,
			Strategies: map[string]string{
				"top_n":              "top_n",
				"controversial":      "controversial",
				"hate":               "hate",
				"hip":                "hip",
				"no_clue":            "no_clue",
				"diverse_n":          "diverse_n",
				"community_advisors": "community_advisors",
			},
		},
	}
}

// Load builds the configuration: struct defaults, then the YAML file at
// path (skipped when empty or missing), then RSSA_ environment overrides
// such as RSSA_SERVER_ADDR or RSSA_DATABASE_PATH.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("load config file %s: %w", path, err)
			}
		}
	}

	envProvider := env.Provider("RSSA_", ".", func(s string) string {
		// RSSA_SERVER_ADDR -> server.addr
		s = strings.ToLower(strings.TrimPrefix(s, "RSSA_"))
		return strings.Replace(s, "_", ".", 1)
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database.path is required")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log.format must be json or console, got %q", c.Log.Format)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	return nil
}

// DSN renders the sqlite connection string for the configured database.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("file:%s?cache=shared&_busy_timeout=%d", c.Path, c.BusyTimeout.Milliseconds())
}
