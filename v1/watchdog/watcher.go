package watchdog

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/mirkobrombin/go-sentinel/v1/lock"
	"github.com/mirkobrombin/go-sentinel/v1/project"
)

const (
	outcomeReleased    = "released"
	outcomeInterrupted = "interrupted"
	outcomeError       = "error"
	outcomePanic       = "panic"
)

// watch is the state of one watcher goroutine.
type watch struct {
	holder   Holder
	project  project.ID
	resource string
	lock     lock.Lock
	location Location
}

// run tries to take the project lock within the threshold. Taking it means
// the holder let go in time; failing to means the holder is interrupted.
// The registry entry is removed on every path, panics included.
func (w *Watchdog) run(wt *watch) {
	ctx, span := w.tracer.Start(context.Background(), "watchdog.watch")
	span.SetAttributes(
		attribute.String("project", wt.project.String()),
		attribute.String("resource", wt.resource),
	)

	start := time.Now()
	outcome := outcomeError
	// Outermost, so a panic while cleaning up is contained too.
	defer func() {
		if r := recover(); r != nil {
			if w.metrics != nil {
				w.metrics.Panics.Inc()
			}
			w.log.Error("Watcher cleanup panicked", "project", wt.project, "resource", wt.resource, "panic", r)
		}
	}()
	defer func() {
		w.reg.remove(wt.project)
		if w.metrics != nil {
			w.metrics.Active.Dec()
			w.metrics.Wait.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		}
		w.publish(ctx, EventFinished, wt)
		span.SetAttributes(attribute.String("outcome", outcome))
		span.End()
	}()
	defer func() {
		if r := recover(); r != nil {
			outcome = outcomePanic
			span.SetStatus(codes.Error, fmt.Sprint(r))
			if w.metrics != nil {
				w.metrics.Panics.Inc()
			}
			w.log.Error("Watcher panicked", "project", wt.project, "resource", wt.resource, "panic", r)
		}
	}()

	w.publish(ctx, EventStarted, wt)

	acquired, err := wt.lock.TryAcquire(ctx, w.threshold)
	switch {
	case err != nil:
		// The watcher cannot tell whether the holder is stuck, so it
		// leaves the holder alone.
		span.RecordError(err)
		w.log.Warn(
			"Failed to check project lock",
			"project", wt.project,
			"resource", wt.resource,
			"lock", wt.lock.String(),
			"err", err,
		)
	case acquired:
		outcome = outcomeReleased
		if err := wt.lock.Release(ctx); err != nil {
			w.log.Warn("Failed to release project lock", "project", wt.project, "lock", wt.lock.String(), "err", err)
		}
		w.publish(ctx, EventReleased, wt)
	default:
		outcome = outcomeInterrupted
		w.interrupt(ctx, wt)
	}
}

func (w *Watchdog) interrupt(ctx context.Context, wt *watch) {
	w.log.Warn(
		"Holder interrupted because of too long hold",
		"holder_id", wt.holder.ID(),
		"holder_name", wt.holder.Name(),
		"resource", wt.resource,
		"project", wt.project,
		"threshold", w.threshold,
		"lock", wt.lock.String(),
		"location", wt.location,
	)
	wt.holder.Interrupt(HoldTimeoutError{
		Project:   wt.project,
		Resource:  wt.resource,
		Threshold: w.threshold,
	})
	if w.metrics != nil {
		w.metrics.Interrupted.Inc()
	}
	w.publish(ctx, EventInterrupted, wt)

	if w.release != ReleaseAlways {
		return
	}
	if err := wt.lock.Release(ctx); err != nil {
		w.log.Warn("Failed to release lock of interrupted holder", "project", wt.project, "lock", wt.lock.String(), "err", err)
	}
}
