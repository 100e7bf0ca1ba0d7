package watchdog

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Holder is the unit of work presumed to hold a lock when a watch is
// submitted. The watchdog only ever calls Interrupt on it, and at most
// once per watch.
type Holder interface {
	ID() uint64
	Name() string

	// Interrupt asks the holder to stop. It must not block.
	Interrupt(cause error)
}

var holderSeq atomic.Uint64

// Task is a Holder backed by a cancelable context.
type Task struct {
	id          uint64
	name        string
	cancel      context.CancelCauseFunc
	interrupted atomic.Bool
}

// NewHolder returns a Task and the context its work must run under.
// Interrupt cancels that context with the given cause; code holding a lock
// should watch ctx.Done and unwind, then release the lock.
//
// Callers must call [*Task.Finish] when the work ends.
func NewHolder(ctx context.Context, name string) (*Task, context.Context) {
	hctx, cancel := context.WithCancelCause(ctx)
	id := holderSeq.Add(1)
	if name == "" {
		name = fmt.Sprintf("holder-%d", id)
	}
	return &Task{id: id, name: name, cancel: cancel}, hctx
}

func (t *Task) ID() uint64 { return t.id }

func (t *Task) Name() string { return t.name }

// Interrupt cancels the task's context with cause.
func (t *Task) Interrupt(cause error) {
	t.interrupted.Store(true)
	t.cancel(cause)
}

// Interrupted reports whether Interrupt was called.
func (t *Task) Interrupted() bool {
	return t.interrupted.Load()
}

// Finish releases the task's context. Interrupting a finished task has
// no effect.
func (t *Task) Finish() {
	t.cancel(nil)
}
