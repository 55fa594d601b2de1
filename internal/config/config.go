// Package config loads the service configuration from an optional YAML
// file, an optional .env file and the process environment, in that order
// of increasing priority.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const (
	DefaultFile    = "config.yaml"
	DefaultEnvFile = ".env"
	EnvPrefix      = "PRODUCTS_"

	DriverMemory   = "memory"
	DriverPostgres = "postgres"
)

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Log       LogConfig       `koanf:"log"`
	Store     StoreConfig     `koanf:"store"`
	Database  DatabaseConfig  `koanf:"database"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
}

type ServerConfig struct {
	Port              int           `koanf:"port"`
	ReadHeaderTimeout time.Duration `koanf:"readheadertimeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdowntimeout"`
}

type LogConfig struct {
	Level string `koanf:"level"`
}

type StoreConfig struct {
	Driver string `koanf:"driver"`
	Seed   bool   `koanf:"seed"`
}

type DatabaseConfig struct {
	URL            string        `koanf:"url"`
	ConnectTimeout time.Duration `koanf:"connecttimeout"`
}

type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Token   string `koanf:"token"`
}

type RateLimitConfig struct {
	WritesPerMinute int `koanf:"writesperminute"`
	// TrustForwarded keys clients on X-Forwarded-For instead of the peer address.
	TrustForwarded bool `koanf:"trustforwarded"`
}

func defaults() map[string]any {
	return map[string]any{
		"server.port":               8080,
		"server.readheadertimeout":  "5s",
		"server.shutdowntimeout":    "10s",
		"log.level":                 "info",
		"store.driver":              DriverMemory,
		"store.seed":                true,
		"database.connecttimeout":   "5s",
		"metrics.enabled":           false,
		"ratelimit.writesperminute": 60,
		"ratelimit.trustforwarded":  false,
	}
}

// Load builds the configuration. Missing files are not an error.
func Load(configFile, envFile string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if configFile != "" {
		if err := k.Load(file.Provider(configFile), yaml.Parser()); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", configFile, err)
		}
	}

	if envFile != "" {
		vars, err := godotenv.Read(envFile)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
		m := make(map[string]any, len(vars))
		for key, v := range vars {
			if strings.HasPrefix(key, EnvPrefix) {
				m[envKey(key)] = v
			}
		}
		if err := k.Load(confmap.Provider(m, "."), nil); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// envKey maps PRODUCTS_SERVER_PORT to server.port.
func envKey(key string) string {
	key = strings.TrimPrefix(strings.ToUpper(key), EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(key), "_", ".")
}

func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("invalid server read header timeout: %v", c.Server.ReadHeaderTimeout)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid server shutdown timeout: %v", c.Server.ShutdownTimeout)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.Log.Level)
	}

	switch c.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.URL == "" {
			return errors.New("database url is required for the postgres driver")
		}
		if !strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
			return fmt.Errorf("database url must start with postgres://: %s", maskURL(c.Database.URL))
		}
		if c.Database.ConnectTimeout <= 0 {
			return fmt.Errorf("invalid database connect timeout: %v", c.Database.ConnectTimeout)
		}
	default:
		return fmt.Errorf("unknown store driver: %q", c.Store.Driver)
	}

	if c.Metrics.Enabled && c.Metrics.Token == "" {
		return errors.New("metrics token is required when metrics are enabled")
	}
	if c.RateLimit.WritesPerMinute < 0 {
		return fmt.Errorf("invalid writes per minute: %d", c.RateLimit.WritesPerMinute)
	}
	return nil
}

func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "server.port=%d ", c.Server.Port)
	fmt.Fprintf(&b, "server.readheadertimeout=%s ", c.Server.ReadHeaderTimeout)
	fmt.Fprintf(&b, "server.shutdowntimeout=%s ", c.Server.ShutdownTimeout)
	fmt.Fprintf(&b, "log.level=%s ", c.Log.Level)
	fmt.Fprintf(&b, "store.driver=%s store.seed=%t ", c.Store.Driver, c.Store.Seed)
	fmt.Fprintf(&b, "database.url=%s ", maskURL(c.Database.URL))
	fmt.Fprintf(&b, "metrics.enabled=%t ", c.Metrics.Enabled)
	fmt.Fprintf(&b, "ratelimit.writesperminute=%d ", c.RateLimit.WritesPerMinute)
	fmt.Fprintf(&b, "ratelimit.trustforwarded=%t", c.RateLimit.TrustForwarded)
	return b.String()
}

func maskURL(url string) string {
	if url == "" {
		return "<not configured>"
	}
	if _, host, ok := strings.Cut(url, "@"); ok {
		return "****@" + host
	}
	return "****"
}
