package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	nats "github.com/nats-io/nats.go"
	redis "github.com/redis/go-redis/v9"
	"github.com/spf13/afero"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/mirkobrombin/go-sentinel/v1/config"
	"github.com/mirkobrombin/go-sentinel/v1/lock"
	"github.com/mirkobrombin/go-sentinel/v1/project"
	"github.com/mirkobrombin/go-sentinel/v1/syncbus"
)

// Circuit breaker settings for remote buses.
const (
	breakerThreshold = 5
	breakerTimeout   = 10 * time.Second
)

// closers runs cleanup functions in reverse order of registration.
type closers []func() error

func (c *closers) add(fn func() error) { *c = append(*c, fn) }

func (c closers) Close() error {
	var err error
	for i := len(c) - 1; i >= 0; i-- {
		err = errors.Join(err, c[i]())
	}
	return err
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// setupTracing installs a global tracer provider exporting to w.
func setupTracing(w io.Writer, cl *closers) error {
	exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
	otel.SetTracerProvider(tp)
	cl.add(func() error { return tp.Shutdown(context.Background()) })
	return nil
}

func newFs(cfg config.FarmConfig) afero.Fs {
	if cfg.Fs == "memory" {
		return afero.NewMemMapFs()
	}
	return afero.NewOsFs()
}

// newLockFactory returns the constructor of project locks for the
// configured backend, and registers the cleanup of its connections.
func newLockFactory(ctx context.Context, cfg *config.Config, log *slog.Logger, cl *closers) (func(project.ID) lock.Lock, error) {
	if cfg.Lock.Backend == "mutex" {
		return func(id project.ID) lock.Lock { return lock.NewMutex(id.String()) }, nil
	}

	var rdb *redis.Client
	redisClient := func() (*redis.Client, error) {
		if rdb != nil {
			return rdb, nil
		}
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cl.add(rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		return rdb, nil
	}

	var bus syncbus.Bus
	switch cfg.Bus.Backend {
	case "memory":
		bus = syncbus.NewInMemoryBus()
	case "redis":
		c, err := redisClient()
		if err != nil {
			return nil, err
		}
		rb := syncbus.NewRedisBus(c)
		cl.add(rb.Close)
		bus = syncbus.NewCircuitBreaker(rb, breakerThreshold, breakerTimeout)
	case "nats":
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("sentinel"))
		if err != nil {
			return nil, fmt.Errorf("connect to nats at %s: %w", cfg.NATS.URL, err)
		}
		cl.add(func() error { nc.Close(); return nil })
		bus = syncbus.NewCircuitBreaker(syncbus.NewNATSBus(nc), breakerThreshold, breakerTimeout)
	default:
		return nil, fmt.Errorf("unknown bus backend %q", cfg.Bus.Backend)
	}

	var locker lock.Locker
	switch cfg.Lock.Backend {
	case "memory":
		locker = lock.NewInMemory(bus)
	case "redis":
		c, err := redisClient()
		if err != nil {
			return nil, err
		}
		locker = lock.NewRedis(c, bus)
	default:
		return nil, fmt.Errorf("unknown lock backend %q", cfg.Lock.Backend)
	}

	log.Info("Using keyed project locks", "lock", cfg.Lock.Backend, "bus", cfg.Bus.Backend, "ttl", cfg.Lock.TTL)
	ttl := cfg.Lock.TTL
	return func(id project.ID) lock.Lock {
		return lock.Keyed(locker, "project:"+id.String(), ttl)
	}, nil
}
