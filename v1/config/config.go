package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables overriding config keys:
// watchdog.threshold is read from SENTINEL_WATCHDOG_THRESHOLD.
const EnvPrefix = "SENTINEL"

// Config represents the complete sentinel configuration
type Config struct {
	Watchdog WatchdogConfig `mapstructure:"watchdog"`
	Lock     LockConfig     `mapstructure:"lock"`
	Bus      BusConfig      `mapstructure:"bus"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Farm     FarmConfig     `mapstructure:"farm"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	// Demo enables the endpoint that holds project locks on request
	Demo bool `mapstructure:"demo"`
}

// WatchdogConfig controls the lock watchdog
type WatchdogConfig struct {
	// Threshold is how long a holder may keep a project lock
	Threshold time.Duration `mapstructure:"threshold"`
	// GracePeriod bounds how long shutdown waits for in-flight watches
	GracePeriod time.Duration `mapstructure:"grace_period"`
	// ReleasePolicy is "if-acquired" or "always"
	ReleasePolicy string `mapstructure:"release_policy"`
}

// LockConfig selects the project lock backend
type LockConfig struct {
	// Backend is one of "mutex", "memory", "redis"
	Backend string `mapstructure:"backend"`
	// TTL is the expiry of keyed locks; ignored by the mutex backend
	TTL time.Duration `mapstructure:"ttl"`
	// AcquireTimeout bounds how long work waits for a project lock
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

// BusConfig selects how keyed lockers propagate lock events
type BusConfig struct {
	// Backend is one of "memory", "redis", "nats"
	Backend string `mapstructure:"backend"`
}

// RedisConfig addresses the Redis server
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// NATSConfig addresses the NATS server
type NATSConfig struct {
	URL string `mapstructure:"url"`
}

// FarmConfig controls where project files are stored
type FarmConfig struct {
	// Root is the directory holding one subdirectory per project
	Root string `mapstructure:"root"`
	// Fs is "os" or "memory"
	Fs string `mapstructure:"fs"`
}

// HTTPConfig controls the status server
type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingConfig controls diagnostics output
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error"
	Level string `mapstructure:"level"`
	// Format is "text" or "json"
	Format string `mapstructure:"format"`
}

// TracingConfig controls OpenTelemetry tracing
type TracingConfig struct {
	// Enabled exports watch spans to stdout
	Enabled bool `mapstructure:"enabled"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Watchdog: WatchdogConfig{
			Threshold:     5 * time.Minute,
			GracePeriod:   time.Minute,
			ReleasePolicy: "if-acquired",
		},
		Lock: LockConfig{
			Backend:        "mutex",
			TTL:            10 * time.Minute,
			AcquireTimeout: 30 * time.Second,
		},
		Bus:   BusConfig{Backend: "memory"},
		Redis: RedisConfig{Addr: "localhost:6379"},
		NATS:  NATSConfig{URL: "nats://127.0.0.1:4222"},
		Farm: FarmConfig{
			Root: "/var/lib/sentinel",
			Fs:   "os",
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers every default on v, so each key can be
// overridden from the environment even when no file sets it.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("watchdog.threshold", d.Watchdog.Threshold)
	v.SetDefault("watchdog.grace_period", d.Watchdog.GracePeriod)
	v.SetDefault("watchdog.release_policy", d.Watchdog.ReleasePolicy)

	v.SetDefault("lock.backend", d.Lock.Backend)
	v.SetDefault("lock.ttl", d.Lock.TTL)
	v.SetDefault("lock.acquire_timeout", d.Lock.AcquireTimeout)

	v.SetDefault("bus.backend", d.Bus.Backend)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)

	v.SetDefault("nats.url", d.NATS.URL)

	v.SetDefault("farm.root", d.Farm.Root)
	v.SetDefault("farm.fs", d.Farm.Fs)

	v.SetDefault("http.addr", d.HTTP.Addr)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)

	v.SetDefault("demo", d.Demo)
}

// New returns a viper instance with defaults and environment overrides.
// Files are read from fs; pass nil for the OS filesystem.
func New(fs afero.Fs) *viper.Viper {
	v := viper.New()
	if fs != nil {
		v.SetFs(fs)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	SetDefaults(v)
	return v
}

// ReadFile merges the YAML file at path into v. An empty path reads
// sentinel.yaml from the working directory if it exists.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sentinel")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

// Load decodes and validates the configuration held by v.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// SlogLevel returns the configured log level. Invalid levels map to info.
func (c *LoggingConfig) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}
