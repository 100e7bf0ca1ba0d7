package config_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/mirkobrombin/go-sentinel/v1/config"
)

func TestDefault_isValid(t *testing.T) {
	cfg := config.Default()
	require.Empty(t, cfg.Validate())
	require.Equal(t, 5*time.Minute, cfg.Watchdog.Threshold)
	require.Equal(t, time.Minute, cfg.Watchdog.GracePeriod)
	require.Equal(t, "if-acquired", cfg.Watchdog.ReleasePolicy)
	require.Equal(t, "mutex", cfg.Lock.Backend)
	require.False(t, cfg.Demo)
}

func TestLoad_defaults(t *testing.T) {
	v := config.New(afero.NewMemMapFs())
	require.NoError(t, config.ReadFile(v, ""))

	cfg, err := config.Load(v)
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func TestLoad_file(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/etc/sentinel.yaml", []byte(`
watchdog:
  threshold: 90s
  release_policy: always
lock:
  backend: redis
  ttl: 5m
bus:
  backend: nats
redis:
  addr: redis:6379
  db: 2
logging:
  format: json
  level: debug
demo: true
`), 0o644))

	v := config.New(fs)
	require.NoError(t, config.ReadFile(v, "/etc/sentinel.yaml"))
	cfg, err := config.Load(v)
	require.NoError(t, err)

	require.Equal(t, 90*time.Second, cfg.Watchdog.Threshold)
	require.Equal(t, time.Minute, cfg.Watchdog.GracePeriod, "unset keys keep their default")
	require.Equal(t, "always", cfg.Watchdog.ReleasePolicy)
	require.Equal(t, "redis", cfg.Lock.Backend)
	require.Equal(t, 5*time.Minute, cfg.Lock.TTL)
	require.Equal(t, "nats", cfg.Bus.Backend)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)
	require.Equal(t, 2, cfg.Redis.DB)
	require.Equal(t, "json", cfg.Logging.Format)
	require.Equal(t, slog.LevelDebug, cfg.Logging.SlogLevel())
	require.True(t, cfg.Demo)
}

func TestReadFile_missing(t *testing.T) {
	v := config.New(afero.NewMemMapFs())
	require.Error(t, config.ReadFile(v, "/nope.yaml"))
}

func TestLoad_env(t *testing.T) {
	t.Setenv("SENTINEL_WATCHDOG_THRESHOLD", "250ms")
	t.Setenv("SENTINEL_HTTP_ADDR", "127.0.0.1:9999")

	v := config.New(afero.NewMemMapFs())
	cfg, err := config.Load(v)
	require.NoError(t, err)
	require.Equal(t, 250*time.Millisecond, cfg.Watchdog.Threshold)
	require.Equal(t, "127.0.0.1:9999", cfg.HTTP.Addr)
}

func TestLoad_invalid(t *testing.T) {
	v := config.New(afero.NewMemMapFs())
	v.Set("watchdog.threshold", "0s")
	v.Set("logging.format", "xml")

	_, err := config.Load(v)
	var verrs config.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	require.Len(t, verrs, 2)
	require.Equal(t, "watchdog.threshold", verrs[0].Field)
	require.Equal(t, "logging.format", verrs[1].Field)
	require.Contains(t, err.Error(), "2 validation errors")
}

func TestSlogLevel(t *testing.T) {
	for level, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"bogus": slog.LevelInfo,
	} {
		c := config.LoggingConfig{Level: level}
		require.Equal(t, want, c.SlogLevel(), level)
	}
}
