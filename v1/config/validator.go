package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mirkobrombin/go-sentinel/v1/watchdog"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "watchdog.threshold")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLockBackends returns the list of valid lock backends
func ValidLockBackends() []string {
	return []string{"mutex", "memory", "redis"}
}

// ValidBusBackends returns the list of valid sync bus backends
func ValidBusBackends() []string {
	return []string{"memory", "redis", "nats"}
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidLogFormats returns the list of valid log formats
func ValidLogFormats() []string {
	return []string{"text", "json"}
}

// ValidFs returns the list of valid farm filesystems
func ValidFs() []string {
	return []string{"os", "memory"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	errs = append(errs, c.validateWatchdog()...)
	errs = append(errs, c.validateLock()...)
	errs = append(errs, c.validateLogging()...)

	if !slices.Contains(ValidFs(), c.Farm.Fs) {
		errs = append(errs, oneOf("farm.fs", c.Farm.Fs, ValidFs()))
	}
	if c.Farm.Fs == "os" && c.Farm.Root == "" {
		errs = append(errs, ValidationError{Field: "farm.root", Value: c.Farm.Root, Message: "must be set for the os filesystem"})
	}
	if c.HTTP.Addr == "" {
		errs = append(errs, ValidationError{Field: "http.addr", Value: c.HTTP.Addr, Message: "must not be empty"})
	}

	return errs
}

func (c *Config) validateWatchdog() []ValidationError {
	var errs []ValidationError
	w := c.Watchdog
	if w.Threshold <= 0 {
		errs = append(errs, ValidationError{Field: "watchdog.threshold", Value: w.Threshold, Message: "must be positive"})
	}
	if w.GracePeriod <= 0 {
		errs = append(errs, ValidationError{Field: "watchdog.grace_period", Value: w.GracePeriod, Message: "must be positive"})
	}
	if _, err := watchdog.ParseReleasePolicy(w.ReleasePolicy); err != nil {
		errs = append(errs, oneOf("watchdog.release_policy", w.ReleasePolicy, []string{"if-acquired", "always"}))
	}
	return errs
}

func (c *Config) validateLock() []ValidationError {
	var errs []ValidationError
	if !slices.Contains(ValidLockBackends(), c.Lock.Backend) {
		errs = append(errs, oneOf("lock.backend", c.Lock.Backend, ValidLockBackends()))
	}
	if c.Lock.AcquireTimeout < 0 {
		errs = append(errs, ValidationError{Field: "lock.acquire_timeout", Value: c.Lock.AcquireTimeout, Message: "must not be negative"})
	}
	if c.Lock.Backend == "mutex" {
		return errs
	}

	// Keyed backends.
	if c.Lock.TTL <= 0 {
		errs = append(errs, ValidationError{Field: "lock.ttl", Value: c.Lock.TTL, Message: "must be positive for keyed lock backends"})
	}
	if c.Lock.TTL > 0 && c.Lock.TTL <= c.Watchdog.Threshold {
		errs = append(errs, ValidationError{
			Field:   "lock.ttl",
			Value:   c.Lock.TTL,
			Message: fmt.Sprintf("must exceed watchdog.threshold (%s), or locks expire before holders are interrupted", c.Watchdog.Threshold),
		})
	}
	if !slices.Contains(ValidBusBackends(), c.Bus.Backend) {
		errs = append(errs, oneOf("bus.backend", c.Bus.Backend, ValidBusBackends()))
	}
	if (c.Lock.Backend == "redis" || c.Bus.Backend == "redis") && c.Redis.Addr == "" {
		errs = append(errs, ValidationError{Field: "redis.addr", Value: c.Redis.Addr, Message: "must be set when Redis is used"})
	}
	if c.Bus.Backend == "nats" && c.NATS.URL == "" {
		errs = append(errs, ValidationError{Field: "nats.url", Value: c.NATS.URL, Message: "must be set when NATS is used"})
	}
	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError
	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, oneOf("logging.level", c.Logging.Level, ValidLogLevels()))
	}
	if !slices.Contains(ValidLogFormats(), c.Logging.Format) {
		errs = append(errs, oneOf("logging.format", c.Logging.Format, ValidLogFormats()))
	}
	return errs
}

func oneOf(field string, value any, valid []string) ValidationError {
	return ValidationError{
		Field:   field,
		Value:   value,
		Message: "must be one of: " + strings.Join(valid, ", "),
	}
}
