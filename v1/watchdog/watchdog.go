package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/mirkobrombin/go-sentinel/v1/lock"
	"github.com/mirkobrombin/go-sentinel/v1/metrics"
	"github.com/mirkobrombin/go-sentinel/v1/project"
	"github.com/mirkobrombin/go-sentinel/v1/watchbus"
)

const tracerName = "github.com/mirkobrombin/go-sentinel/v1/watchdog"

// DefaultGracePeriod bounds how long Shutdown waits for in-flight watchers.
const DefaultGracePeriod = time.Minute

// State is the lifecycle state of a Watchdog.
type State int

const (
	StateRunning State = iota
	StateDraining
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// ReleasePolicy decides whether a watcher releases the project lock after
// interrupting its holder.
type ReleasePolicy int

const (
	// ReleaseIfAcquired releases only a lock the watcher acquired itself.
	ReleaseIfAcquired ReleasePolicy = iota

	// ReleaseAlways also releases the lock after interrupting the holder,
	// even though the watcher never acquired it. Use it only with locks
	// that tolerate release by a non-owner.
	ReleaseAlways
)

func (p ReleasePolicy) String() string {
	switch p {
	case ReleaseIfAcquired:
		return "if-acquired"
	case ReleaseAlways:
		return "always"
	}
	return fmt.Sprintf("ReleasePolicy(%d)", int(p))
}

// ParseReleasePolicy parses the String form of a ReleasePolicy.
func ParseReleasePolicy(s string) (ReleasePolicy, error) {
	switch s {
	case "if-acquired", "":
		return ReleaseIfAcquired, nil
	case "always":
		return ReleaseAlways, nil
	}
	return 0, fmt.Errorf("unknown release policy %q", s)
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithLogger sets the logger receiving diagnostics. Without it the
// watchdog is silent.
func WithLogger(log *slog.Logger) Option {
	return func(w *Watchdog) {
		w.log = log
	}
}

// WithGracePeriod sets how long Shutdown waits for in-flight watchers.
// Non-positive values are ignored.
func WithGracePeriod(d time.Duration) Option {
	return func(w *Watchdog) {
		if d > 0 {
			w.grace = d
		}
	}
}

// WithReleasePolicy sets the release policy. The default is ReleaseIfAcquired.
func WithReleasePolicy(p ReleasePolicy) Option {
	return func(w *Watchdog) {
		w.release = p
	}
}

// WithMetrics enables Prometheus metrics collection using the provided registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(w *Watchdog) {
		w.metrics = metrics.NewWatchdog()
		w.metrics.Register(reg)
	}
}

// WithEvents publishes watch lifecycle events to bus.
func WithEvents(bus watchbus.WatchBus) Option {
	return func(w *Watchdog) {
		w.events = bus
	}
}

// WithTracing enables OpenTelemetry tracing of watches using the global
// tracer provider.
func WithTracing() Option {
	return func(w *Watchdog) {
		w.tracer = otel.GetTracerProvider().Tracer(tracerName)
	}
}

// WithTracerProvider enables tracing of watches using tp.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(w *Watchdog) {
		w.tracer = tp.Tracer(tracerName)
	}
}

// Watchdog interrupts holders of project locks who keep them longer than
// a threshold. The zero value is not usable; call [New].
type Watchdog struct {
	threshold time.Duration
	grace     time.Duration
	release   ReleasePolicy

	log     *slog.Logger
	metrics *metrics.Watchdog
	events  watchbus.WatchBus
	tracer  trace.Tracer

	reg *registry

	// mu orders Submit against the state change in Shutdown, so no watcher
	// is added to the group once the wait has begun.
	mu          sync.Mutex
	state       State
	shutdownErr error
	done        chan struct{}

	group errgroup.Group
}

// New returns a running Watchdog that gives every holder threshold to
// release its lock. It panics if threshold is not positive.
func New(threshold time.Duration, opts ...Option) *Watchdog {
	if threshold <= 0 {
		panic(fmt.Errorf("watchdog.New: threshold must be positive; got %s", threshold))
	}
	w := &Watchdog{
		threshold: threshold,
		grace:     DefaultGracePeriod,
		log:       slog.New(slog.DiscardHandler),
		tracer:    noop.NewTracerProvider().Tracer(tracerName),
		reg:       newRegistry(),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Submit starts watching the lock of id, presumed held by holder.
// If id is already watched, or the watchdog is shutting down, Submit does
// nothing. It reports whether a watch was started.
//
// The caller's stack is captured for the diagnostic logged on timeout.
func (w *Watchdog) Submit(holder Holder, id project.ID, resource string, l lock.Lock) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state != StateRunning {
		w.log.Debug("Ignoring watch submitted after shutdown", "project", id, "resource", resource, "state", w.state)
		return false
	}
	if !w.reg.tryRegister(id, resource) {
		if w.metrics != nil {
			w.metrics.Duplicates.Inc()
		}
		w.log.Debug("Project already watched", "project", id, "resource", resource)
		return false
	}

	wt := &watch{
		holder:   holder,
		project:  id,
		resource: resource,
		lock:     l,
		location: CaptureLocation(1),
	}
	if w.metrics != nil {
		w.metrics.Submitted.Inc()
		w.metrics.Active.Inc()
	}
	w.group.Go(func() error {
		w.run(wt)
		return nil
	})
	return true
}

// Snapshot reports the active watches.
func (w *Watchdog) Snapshot() Status {
	return Report(w.reg.snapshot())
}

// Active returns the number of active watches.
func (w *Watchdog) Active() int {
	return w.reg.len()
}

// Threshold returns the hold threshold.
func (w *Watchdog) Threshold() time.Duration {
	return w.threshold
}

// ReleasePolicy returns the release policy of overdue holders.
func (w *Watchdog) ReleasePolicy() ReleasePolicy {
	return w.release
}

// State returns the lifecycle state.
func (w *Watchdog) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Shutdown stops accepting watches and waits for in-flight watchers to
// finish, for up to the grace period. Watchers are not canceled.
//
// If the grace period elapses, or ctx ends first, Shutdown returns a
// *ShutdownError and the watchdog is left in StateFailed; later calls
// return the same error. A concurrent call waits for the first one.
func (w *Watchdog) Shutdown(ctx context.Context) error {
	w.mu.Lock()
	switch w.state {
	case StateClosed, StateFailed:
		err := w.shutdownErr
		w.mu.Unlock()
		return err
	case StateDraining:
		w.mu.Unlock()
		select {
		case <-w.done:
			w.mu.Lock()
			defer w.mu.Unlock()
			return w.shutdownErr
		case <-ctx.Done():
			return w.interrupted(ctx)
		}
	}
	w.state = StateDraining
	w.mu.Unlock()

	w.log.Debug("Draining watchers", "active", w.reg.len(), "grace", w.grace)

	drained := make(chan struct{})
	go func() {
		_ = w.group.Wait()
		close(drained)
	}()

	timer := time.NewTimer(w.grace)
	defer timer.Stop()

	select {
	case <-drained:
		return w.finish(StateClosed, nil)
	case <-timer.C:
		err := &ShutdownError{
			Reason:  ErrShutdownGracePeriod,
			Grace:   w.grace,
			Pending: w.reg.snapshot(),
		}
		w.log.Error("Watchers did not finish in time", "grace", w.grace, "pending", len(err.Pending))
		return w.finish(StateFailed, err)
	case <-ctx.Done():
		err := w.interrupted(ctx)
		w.log.Error("Shutdown interrupted", "cause", err.Cause)
		return w.finish(StateFailed, err)
	}
}

// Close is Shutdown without a deadline other than the grace period.
func (w *Watchdog) Close() error {
	return w.Shutdown(context.Background())
}

func (w *Watchdog) interrupted(ctx context.Context) *ShutdownError {
	return &ShutdownError{
		Reason:  ErrShutdownInterrupted,
		Cause:   context.Cause(ctx),
		Grace:   w.grace,
		Pending: w.reg.snapshot(),
	}
}

func (w *Watchdog) finish(s State, err *ShutdownError) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = s
	if err != nil {
		w.shutdownErr = err
	}
	close(w.done)
	return w.shutdownErr
}
