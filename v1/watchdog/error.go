package watchdog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mirkobrombin/go-sentinel/v1/project"
)

// IsInterrupted reports whether ctx was canceled by a watchdog because its
// holder kept a lock too long.
func IsInterrupted(ctx context.Context) bool {
	var hte HoldTimeoutError
	return errors.As(context.Cause(ctx), &hte)
}

// HoldTimeoutError is the cancellation cause delivered to a holder that
// kept a project lock past the threshold.
type HoldTimeoutError struct {
	Project   project.ID
	Resource  string
	Threshold time.Duration
}

func (e HoldTimeoutError) Error() string {
	return fmt.Sprintf("interrupted because of too long hold of %q in %s (over %s)", e.Resource, e.Project, e.Threshold)
}

var (
	// ErrShutdownGracePeriod matches a ShutdownError caused by watchers
	// still running when the grace period elapsed.
	ErrShutdownGracePeriod = errors.New("watchdog: watchers did not finish within the grace period")

	// ErrShutdownInterrupted matches a ShutdownError caused by the
	// shutdown context ending while waiting for watchers.
	ErrShutdownInterrupted = errors.New("watchdog: shutdown interrupted")
)

// ShutdownError reports a failed shutdown. It is fatal: the watchdog is
// left in [StateFailed] and cannot be shut down again.
type ShutdownError struct {
	// Reason is ErrShutdownGracePeriod or ErrShutdownInterrupted.
	Reason error

	// Cause is the shutdown context's cause when Reason is ErrShutdownInterrupted.
	Cause error

	Grace time.Duration

	// Pending lists the watches still active when shutdown gave up.
	Pending []Entry
}

func (e *ShutdownError) Error() string {
	msg := fmt.Sprintf("%v (grace %s, %d pending)", e.Reason, e.Grace, len(e.Pending))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the reason and the context cause, so errors.Is
// matches either ErrShutdownInterrupted or context.Canceled.
func (e *ShutdownError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Cause}
}
