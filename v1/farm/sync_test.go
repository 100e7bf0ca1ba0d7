package farm_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/mirkobrombin/go-sentinel/internal/gtest"
	sentinelerrors "github.com/mirkobrombin/go-sentinel/v1/errors"
	"github.com/mirkobrombin/go-sentinel/v1/farm"
	"github.com/mirkobrombin/go-sentinel/v1/lock"
	"github.com/mirkobrombin/go-sentinel/v1/project"
	"github.com/mirkobrombin/go-sentinel/v1/watchdog"
)

func newProject(t *testing.T, id project.ID) *farm.FsProject {
	t.Helper()
	p, err := farm.NewFsProject(afero.NewMemMapFs(), "/farm", id, lock.NewMutex(id.String()))
	require.NoError(t, err)
	return p
}

func newWatchdog(t *testing.T, threshold time.Duration, opts ...watchdog.Option) *watchdog.Watchdog {
	t.Helper()
	w := watchdog.New(threshold, append([]watchdog.Option{watchdog.WithLogger(gtest.NewLogger(t))}, opts...)...)
	t.Cleanup(func() { require.NoError(t, w.Close()) })
	return w
}

func TestSync_Acquire_quickWork(t *testing.T) {
	t.Parallel()

	w := newWatchdog(t, gtest.ScaleMs(500).Duration())
	s := farm.NewSync(w, farm.WithLogger(gtest.NewLogger(t)))
	p := newProject(t, "P1")

	it, err := s.Acquire(context.Background(), p, "a.xml")
	require.NoError(t, err)
	prefix := fmt.Sprintf("sentinel-%d-", w.Threshold().Milliseconds())
	require.True(t, strings.HasPrefix(it.Holder(), prefix), it.Holder())
	require.Equal(t, []watchdog.Killer{{PID: "P1", Resource: "a.xml"}}, w.Snapshot().Killers)

	require.NoError(t, it.Write([]byte("done")))
	require.NoError(t, it.Close())
	require.NoError(t, it.Close())

	gtest.Eventually(t, gtest.ScaleMs(2000), func() bool { return w.Active() == 0 }, "watch still active")
	require.False(t, it.Interrupted())

	data, err := p.ReadFile("a.xml")
	require.NoError(t, err)
	require.Equal(t, "done", string(data))

	// Closing the item cancels its context.
	require.Error(t, it.Context().Err())
	require.False(t, watchdog.IsInterrupted(it.Context()))
}

func TestSync_Acquire_overdueWorkIsInterrupted(t *testing.T) {
	t.Parallel()

	w := newWatchdog(t, gtest.ScaleMs(20).Duration())
	s := farm.NewSync(w)
	p := newProject(t, "P1")

	it, err := s.Acquire(context.Background(), p, "a.xml")
	require.NoError(t, err)

	_ = gtest.ReceiveOrTimeout(t, it.Context().Done(), gtest.ScaleMs(2000))
	require.True(t, it.Interrupted())
	require.True(t, watchdog.IsInterrupted(it.Context()))

	// Interrupted work can no longer touch the project files.
	err = it.Write([]byte("late"))
	require.Error(t, err)
	var hte watchdog.HoldTimeoutError
	require.ErrorAs(t, err, &hte)
	require.Equal(t, "a.xml", hte.Resource)

	require.NoError(t, it.Close())
	gtest.Eventually(t, gtest.ScaleMs(2000), func() bool { return w.Active() == 0 }, "watch still active")

	// The lock is free for the next unit of work.
	next, err := s.Acquire(context.Background(), p, "b.xml")
	require.NoError(t, err)
	require.NoError(t, next.Close())
}

func TestSync_Acquire_releaseAlways(t *testing.T) {
	t.Parallel()

	w := newWatchdog(t, gtest.ScaleMs(20).Duration(), watchdog.WithReleasePolicy(watchdog.ReleaseAlways))
	s := farm.NewSync(w, farm.WithLogger(gtest.NewLogger(t)))
	p := newProject(t, "P1")

	it, err := s.Acquire(context.Background(), p, "a.xml")
	require.NoError(t, err)
	_ = gtest.ReceiveOrTimeout(t, it.Context().Done(), gtest.ScaleMs(2000))
	gtest.Eventually(t, gtest.ScaleMs(2000), func() bool { return w.Active() == 0 }, "watch still active")

	// The watchdog already released the lock; closing is still clean.
	require.NoError(t, it.Close())
}

func TestSync_Acquire_releaseAlwaysKeepsNextHolder(t *testing.T) {
	t.Parallel()

	w := newWatchdog(t, gtest.ScaleMs(20).Duration(), watchdog.WithReleasePolicy(watchdog.ReleaseAlways))
	s := farm.NewSync(w, farm.WithLogger(gtest.NewLogger(t)))
	p := newProject(t, "P1")
	m := p.Lock().(*lock.Mutex)

	first, err := s.Acquire(context.Background(), p, "a.xml")
	require.NoError(t, err)
	_ = gtest.ReceiveOrTimeout(t, first.Context().Done(), gtest.ScaleMs(2000))
	gtest.Eventually(t, gtest.ScaleMs(2000), func() bool { return w.Active() == 0 }, "watch still active")

	// The next holder takes the lock the watchdog freed. It is watched with
	// a long threshold so it keeps the lock for the rest of the test.
	patient := newWatchdog(t, gtest.ScaleMs(5000).Duration(), watchdog.WithReleasePolicy(watchdog.ReleaseAlways))
	second, err := farm.NewSync(patient).Acquire(context.Background(), p, "b.xml")
	require.NoError(t, err)

	// The interrupted holder unwinds late; the lock stays with second.
	require.NoError(t, first.Close())
	require.True(t, m.Held())

	require.NoError(t, second.Close())
	require.False(t, m.Held())
}

func TestSync_Acquire_busy(t *testing.T) {
	t.Parallel()

	w := newWatchdog(t, gtest.ScaleMs(500).Duration())
	s := farm.NewSync(w, farm.WithAcquireTimeout(gtest.ScaleMs(10).Duration()))
	p := newProject(t, "P1")

	first, err := s.Acquire(context.Background(), p, "a.xml")
	require.NoError(t, err)
	defer func() { require.NoError(t, first.Close()) }()

	_, err = s.Acquire(context.Background(), p, "b.xml")
	require.ErrorIs(t, err, sentinelerrors.ErrTimeout)
}

func TestSync_Acquire_canceled(t *testing.T) {
	t.Parallel()

	w := newWatchdog(t, time.Second)
	s := farm.NewSync(w)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Acquire(ctx, newProject(t, "P1"), "a.xml")
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, w.Active())
}

func TestSync_Acquire_serializesWork(t *testing.T) {
	t.Parallel()

	w := newWatchdog(t, gtest.ScaleMs(1000).Duration())
	s := farm.NewSync(w)
	p := newProject(t, "P1")

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			it, err := s.Acquire(context.Background(), p, "a.xml")
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
			if err := it.Close(); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)
}

// bareProject has a lock but no files.
type bareProject struct{ l lock.Lock }

func (p bareProject) ID() project.ID  { return "bare" }
func (p bareProject) Lock() lock.Lock { return p.l }

func TestItem_noStorage(t *testing.T) {
	t.Parallel()

	s := farm.NewSync(newWatchdog(t, time.Second))
	it, err := s.Acquire(context.Background(), bareProject{l: lock.NewMutex("bare")}, "a.xml")
	require.NoError(t, err)
	defer func() { require.NoError(t, it.Close()) }()

	_, err = it.Read()
	require.ErrorIs(t, err, farm.ErrNoStorage)
}
