package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/mirkobrombin/go-sentinel/v1/config"
)

// bindings maps flag names to config keys.
var bindings = map[string]string{
	"threshold":      "watchdog.threshold",
	"grace-period":   "watchdog.grace_period",
	"release-policy": "watchdog.release_policy",
	"lock-backend":   "lock.backend",
	"bus-backend":    "bus.backend",
	"redis-addr":     "redis.addr",
	"nats-url":       "nats.url",
	"farm-root":      "farm.root",
	"farm-fs":        "farm.fs",
	"addr":           "http.addr",
	"log-level":      "logging.level",
	"log-format":     "logging.format",
	"trace":          "tracing.enabled",
	"demo":           "demo",
}

// addConfigFlags registers the flags overriding config keys. Defaults are
// left to the config package, so an unset flag never shadows a file value.
func addConfigFlags(fs *pflag.FlagSet) {
	fs.Duration("threshold", 0, "how long a holder may keep a project lock")
	fs.Duration("grace-period", 0, "how long shutdown waits for in-flight watches")
	fs.String("release-policy", "", "release policy after an interrupt (if-acquired|always)")
	fs.String("lock-backend", "", "project lock backend (mutex|memory|redis)")
	fs.String("bus-backend", "", "lock event bus for keyed backends (memory|redis|nats)")
	fs.String("redis-addr", "", "Redis address")
	fs.String("nats-url", "", "NATS server URL")
	fs.String("farm-root", "", "directory holding project files")
	fs.String("farm-fs", "", "project filesystem (os|memory)")
	fs.String("addr", "", "HTTP listen address")
	fs.String("log-level", "", "log level (debug|info|warn|error)")
	fs.String("log-format", "", "log format (text|json)")
	fs.Bool("trace", false, "export watch spans to stdout")
	fs.Bool("demo", false, "enable the demo hold endpoint")
}

// loadConfig reads the file named by --config, then applies the flags the
// user actually set.
func loadConfig(cmd *cobra.Command) (*config.Config, *viper.Viper, error) {
	v := config.New(nil)

	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}
	if err := config.ReadFile(v, path); err != nil {
		return nil, nil, err
	}

	var bindErr error
	cmd.Flags().Visit(func(f *pflag.Flag) {
		key, ok := bindings[f.Name]
		if !ok {
			return
		}
		if err := v.BindPFlag(key, f); err != nil && bindErr == nil {
			bindErr = fmt.Errorf("bind flag %s: %w", f.Name, err)
		}
	})
	if bindErr != nil {
		return nil, nil, bindErr
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}
