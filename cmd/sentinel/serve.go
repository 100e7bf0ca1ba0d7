package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/semaphore"

	"github.com/mirkobrombin/go-sentinel/v1/config"
	"github.com/mirkobrombin/go-sentinel/v1/farm"
	"github.com/mirkobrombin/go-sentinel/v1/metrics"
	"github.com/mirkobrombin/go-sentinel/v1/watchbus"
	"github.com/mirkobrombin/go-sentinel/v1/watchdog"
)

const httpShutdownTimeout = 5 * time.Second

func newServeCmd(log *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use: "serve",

		Short: "Run the watchdog and serve its status, events, and metrics",

		Long: `serve runs the project-lock watchdog and an HTTP server with:
- GET /status       active watches as XML, or JSON with ?format=json
- GET /events       watch events as Server-Sent Events (?pid= filters by project)
- GET /events/ws    the same events over WebSocket
- GET /metrics      Prometheus metrics
- POST /demo/hold   hold a project lock (?pid=&file=&hold=), with --demo only

A first interrupt starts a graceful shutdown. A second interrupt, or
watches outliving the grace period, makes the shutdown fail.
`,

		Args: cobra.NoArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, v, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if f := v.ConfigFileUsed(); f != "" {
				log.Info("Loaded configuration", "file", f)
			}

			d, err := newDaemon(cmd.Context(), cfg, newLogger(cfg.Logging, os.Stderr))
			if err != nil {
				return err
			}

			ln, err := net.Listen("tcp", cfg.HTTP.Addr)
			if err != nil {
				_ = d.close(context.Background())
				return fmt.Errorf("failed to listen on %s: %w", cfg.HTTP.Addr, err)
			}
			return d.run(cmd.Context(), ln)
		},
	}

	addConfigFlags(cmd.Flags())
	return cmd
}

// daemon wires the watchdog to its backends and HTTP surface.
type daemon struct {
	cfg     *config.Config
	log     *slog.Logger
	wd      *watchdog.Watchdog
	srv     *server
	closers closers
}

func newDaemon(ctx context.Context, cfg *config.Config, log *slog.Logger) (*daemon, error) {
	d := &daemon{cfg: cfg, log: log}

	reg := metrics.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	policy, err := watchdog.ParseReleasePolicy(cfg.Watchdog.ReleasePolicy)
	if err != nil {
		return nil, err
	}

	events := watchbus.NewInMemory()
	opts := []watchdog.Option{
		watchdog.WithLogger(log.With("sys", "watchdog")),
		watchdog.WithGracePeriod(cfg.Watchdog.GracePeriod),
		watchdog.WithReleasePolicy(policy),
		watchdog.WithMetrics(reg),
		watchdog.WithEvents(events),
	}
	if cfg.Tracing.Enabled {
		if err := setupTracing(os.Stdout, &d.closers); err != nil {
			return nil, err
		}
		opts = append(opts, watchdog.WithTracing())
	}
	d.wd = watchdog.New(cfg.Watchdog.Threshold, opts...)

	d.srv = &server{
		log:    log.With("sys", "http"),
		wd:     d.wd,
		events: events,
		gather: reg,
		holds:  semaphore.NewWeighted(maxDemoHolds),
	}

	if cfg.Demo {
		newLock, err := newLockFactory(ctx, cfg, log.With("sys", "lock"), &d.closers)
		if err != nil {
			_ = d.close(context.Background())
			return nil, err
		}
		d.srv.farm = farm.NewFarm(newFs(cfg.Farm), cfg.Farm.Root, newLock)
		d.srv.sync = farm.NewSync(
			d.wd,
			farm.WithAcquireTimeout(cfg.Lock.AcquireTimeout),
			farm.WithLogger(log.With("sys", "farm")),
		)
	}

	return d, nil
}

// run serves on ln until ctx is done, then shuts down.
func (d *daemon) run(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{
		Handler:           d.srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- hs.Serve(ln)
	}()
	d.log.Info(
		"Serving",
		"addr", ln.Addr().String(),
		"threshold", d.cfg.Watchdog.Threshold,
		"release_policy", d.cfg.Watchdog.ReleasePolicy,
		"demo", d.cfg.Demo,
	)

	var err error
	select {
	case <-ctx.Done():
		d.log.Info("Shutting down", "cause", context.Cause(ctx))
	case err = <-serveErr:
		err = fmt.Errorf("http server stopped: %w", err)
	}

	// A fresh signal context, so a second interrupt aborts the drain.
	sctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hctx, cancel := context.WithTimeout(sctx, httpShutdownTimeout)
	defer cancel()
	if herr := hs.Shutdown(hctx); herr != nil && !errors.Is(herr, http.ErrServerClosed) {
		d.log.Warn("HTTP shutdown incomplete", "err", herr)
	}

	return errors.Join(err, d.close(sctx))
}

// close drains demo work and the watchdog, then releases backends.
// A failed watchdog shutdown is returned and is fatal to the process.
func (d *daemon) close(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, d.cfg.Watchdog.GracePeriod)
	defer cancel()
	if err := d.srv.waitHolds(hctx); err != nil {
		d.log.Warn("Demo holds still running", "err", err)
	}
	err := d.wd.Shutdown(ctx)
	if err != nil {
		d.log.Error("Watchdog shutdown failed", "err", err)
	}
	return errors.Join(err, d.closers.Close())
}
