// Package config loads the application configuration from a YAML file,
// merged with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Storage   StorageConfig   `yaml:"storage"`
	Directory DirectoryConfig `yaml:"directory"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type DirectoryConfig struct {
	// Mode selects the identity collaborator: "static" (in-process roster,
	// for standalone and test runs) or "http" (the real identity service).
	Mode    string        `yaml:"mode" validate:"omitempty,oneof=static http"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type ServerConfig struct {
	Port           int      `yaml:"port" validate:"gte=0,lte=65535"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type AuthConfig struct {
	// Secret signs and verifies identity tokens. Required.
	Secret string `yaml:"secret" validate:"required"`
}

type StorageConfig struct {
	// Mode selects the backend: "memory" or "postgres".
	Mode        string `yaml:"mode" validate:"omitempty,oneof=memory postgres"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type TrackingConfig struct {
	// Ordering selects the sample ordering policy: "arrival" (newest
	// arriving sample wins) or "observed" (samples older than the stored
	// position are dropped).
	Ordering string `yaml:"ordering" validate:"omitempty,oneof=arrival observed"`
	// RecentThreshold bounds how old a position may be and still count as
	// recent in query responses and stats.
	RecentThreshold time.Duration `yaml:"recent_threshold"`
	// GoodAccuracyMeters bounds the reported accuracy for the
	// has_good_accuracy flag.
	GoodAccuracyMeters float64 `yaml:"good_accuracy_meters" validate:"gte=0"`
	// GovernorWindow / GovernorLimit shape the per-connection sliding
	// window on the live channel.
	GovernorWindow time.Duration `yaml:"governor_window"`
	GovernorLimit  int           `yaml:"governor_limit" validate:"gte=0"`
}

type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	// PerMinute is the request ceiling per identity on the HTTP API.
	// Privileged roles get PrivilegedMultiplier times this ceiling.
	PerMinute            int           `yaml:"per_minute" validate:"gte=0"`
	PrivilegedMultiplier int           `yaml:"privileged_multiplier" validate:"gte=1"`
	Window               time.Duration `yaml:"window"`
	// RedisAddr switches the HTTP limiter to the shared Redis backend so
	// multiple processes enforce one quota. Empty keeps it in-memory.
	RedisAddr string `yaml:"redis_addr"`
}

// Load reads the configuration from path (optional), applies environment
// overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if raw := os.Getenv("FIELDTRACK_PORT"); raw != "" {
		if port, err := strconv.Atoi(raw); err == nil {
			cfg.Server.Port = port
		}
	}
	if secret := os.Getenv("FIELDTRACK_AUTH_SECRET"); secret != "" {
		cfg.Auth.Secret = secret
	}
	if mode := os.Getenv("FIELDTRACK_STORAGE_MODE"); mode != "" {
		cfg.Storage.Mode = mode
	}
	if dsn := os.Getenv("FIELDTRACK_POSTGRES_DSN"); dsn != "" {
		cfg.Storage.PostgresDSN = dsn
	}
	if addr := os.Getenv("FIELDTRACK_REDIS_ADDR"); addr != "" {
		cfg.RateLimit.RedisAddr = addr
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8087
	}
	if cfg.Storage.Mode == "" {
		cfg.Storage.Mode = "memory"
	}
	if cfg.Directory.Mode == "" {
		cfg.Directory.Mode = "static"
	}
	if cfg.Directory.Timeout == 0 {
		cfg.Directory.Timeout = 5 * time.Second
	}
	if cfg.Tracking.Ordering == "" {
		cfg.Tracking.Ordering = "arrival"
	}
	if cfg.Tracking.RecentThreshold == 0 {
		cfg.Tracking.RecentThreshold = 10 * time.Minute
	}
	if cfg.Tracking.GoodAccuracyMeters == 0 {
		cfg.Tracking.GoodAccuracyMeters = 50
	}
	if cfg.Tracking.GovernorWindow == 0 {
		cfg.Tracking.GovernorWindow = 5 * time.Second
	}
	if cfg.Tracking.GovernorLimit == 0 {
		cfg.Tracking.GovernorLimit = 20
	}
	if cfg.RateLimit.PerMinute == 0 {
		cfg.RateLimit.PerMinute = 120
	}
	if cfg.RateLimit.PrivilegedMultiplier == 0 {
		cfg.RateLimit.PrivilegedMultiplier = 5
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = time.Minute
	}
}
