package farm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	sentinelerrors "github.com/mirkobrombin/go-sentinel/v1/errors"
	"github.com/mirkobrombin/go-sentinel/v1/watchdog"
)

// DefaultAcquireTimeout bounds how long Acquire waits for a project lock.
const DefaultAcquireTimeout = 30 * time.Second

// ErrNoStorage is returned by Item file operations on a project that does
// not implement Storage.
var ErrNoStorage = errors.New("project has no storage")

// SyncOption configures a Sync.
type SyncOption func(*Sync)

// WithAcquireTimeout sets how long Acquire waits for a project lock.
func WithAcquireTimeout(d time.Duration) SyncOption {
	return func(s *Sync) {
		s.acquireTimeout = d
	}
}

// WithLogger sets the logger of a Sync.
func WithLogger(log *slog.Logger) SyncOption {
	return func(s *Sync) {
		s.log = log
	}
}

// Sync acquires project locks and submits a watch for every acquisition.
type Sync struct {
	wd             *watchdog.Watchdog
	acquireTimeout time.Duration
	log            *slog.Logger
	seq            atomic.Uint64
}

// NewSync returns a Sync reporting acquisitions to wd.
func NewSync(wd *watchdog.Watchdog, opts ...SyncOption) *Sync {
	s := &Sync{
		wd:             wd,
		acquireTimeout: DefaultAcquireTimeout,
		log:            slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Acquire takes the lock of p to work on file. The work must run under
// the returned item's context and end with [*Item.Close].
//
// If the lock is not free within the acquire timeout, Acquire returns an
// error matching ErrTimeout from v1/errors.
func (s *Sync) Acquire(ctx context.Context, p Project, file string) (*Item, error) {
	l := p.Lock()
	ok, err := l.TryAcquire(ctx, s.acquireTimeout)
	if err != nil {
		return nil, fmt.Errorf("acquire %s of %s: %w", file, p.ID(), err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire %s of %s within %s: %w", file, p.ID(), s.acquireTimeout, sentinelerrors.ErrTimeout)
	}

	name := fmt.Sprintf("sentinel-%d-%d", s.wd.Threshold().Milliseconds(), s.seq.Add(1))
	task, hctx := watchdog.NewHolder(ctx, name)
	it := &Item{
		ctx:     hctx,
		task:    task,
		project: p,
		file:    file,
		log:     s.log,
	}
	if s.wd.Submit(task, p.ID(), file, l) {
		it.releasedOnInterrupt = s.wd.ReleasePolicy() == watchdog.ReleaseAlways
	} else {
		s.log.Debug("Project lock acquired without a new watch", "project", p.ID(), "file", file)
	}
	return it, nil
}

// Item is a project held for one unit of work.
type Item struct {
	ctx     context.Context
	task    *watchdog.Task
	project Project
	file    string
	log     *slog.Logger
	// releasedOnInterrupt is set when the watchdog frees the lock of an
	// interrupted holder itself.
	releasedOnInterrupt bool

	closeOnce sync.Once
	closeErr  error
}

// Context is canceled when the watchdog interrupts the item's holder, or
// when the item is closed.
func (i *Item) Context() context.Context { return i.ctx }

// Interrupted reports whether the watchdog interrupted the item's holder.
func (i *Item) Interrupted() bool { return i.task.Interrupted() }

// Holder returns the name the watchdog reports this item's holder under.
func (i *Item) Holder() string { return i.task.Name() }

// Read reads the item's file.
func (i *Item) Read() ([]byte, error) {
	st, err := i.storage()
	if err != nil {
		return nil, err
	}
	return st.ReadFile(i.file)
}

// Write replaces the item's file.
func (i *Item) Write(data []byte) error {
	st, err := i.storage()
	if err != nil {
		return err
	}
	return st.WriteFile(i.file, data)
}

func (i *Item) storage() (Storage, error) {
	if err := i.ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s of %s: %w", i.file, i.project.ID(), context.Cause(i.ctx))
	}
	st, ok := i.project.(Storage)
	if !ok {
		return nil, ErrNoStorage
	}
	return st, nil
}

// Close releases the project lock. It is safe to call more than once.
// A lock already released on the holder's behalf is not an error, and an
// interrupted item leaves the release to the watchdog when its policy is
// ReleaseAlways, since the lock may belong to the next holder by now.
func (i *Item) Close() error {
	i.closeOnce.Do(func() {
		interrupted := i.task.Interrupted()
		i.task.Finish()
		if interrupted && i.releasedOnInterrupt {
			i.log.Debug("Project lock is released by the watchdog", "project", i.project.ID(), "file", i.file)
			return
		}
		err := i.project.Lock().Release(context.Background())
		if errors.Is(err, sentinelerrors.ErrNotHeld) && interrupted {
			i.log.Debug("Project lock was released by the watchdog", "project", i.project.ID(), "file", i.file)
			err = nil
		}
		if err != nil {
			i.closeErr = fmt.Errorf("release %s of %s: %w", i.file, i.project.ID(), err)
		}
	})
	return i.closeErr
}
