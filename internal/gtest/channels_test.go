package gtest_test

import (
	"fmt"
	"testing"

	"github.com/mirkobrombin/go-sentinel/internal/gtest"
	"github.com/stretchr/testify/require"
)

type fatalRecorder struct {
	msg string
}

func (r *fatalRecorder) Helper() {}

func (r *fatalRecorder) Fatalf(format string, args ...any) {
	r.msg = fmt.Sprintf(format, args...)
	panic(r)
}

func failsWith(t *testing.T, fn func(tb gtest.TestingFatalHelper)) string {
	t.Helper()
	rec := &fatalRecorder{}
	func() {
		defer func() {
			r := recover()
			require.Equal(t, rec, r)
		}()
		fn(rec)
	}()
	return rec.msg
}

func TestReceiveSoon(t *testing.T) {
	t.Parallel()

	ch := make(chan int, 1)
	ch <- 3
	require.Equal(t, 3, gtest.ReceiveSoon(t, ch))

	msg := failsWith(t, func(tb gtest.TestingFatalHelper) {
		gtest.ReceiveOrTimeout(tb, ch, gtest.ScaleMs(5))
	})
	require.Contains(t, msg, "timed out")
}

func TestNotSending(t *testing.T) {
	t.Parallel()

	ch := make(chan int, 1)
	gtest.NotSending(t, ch)

	ch <- 1
	msg := failsWith(t, func(tb gtest.TestingFatalHelper) {
		gtest.NotSending(tb, ch)
	})
	require.Contains(t, msg, "no value should have been sent")
}

func TestEventually(t *testing.T) {
	t.Parallel()

	n := 0
	gtest.Eventually(t, gtest.ScaleMs(100), func() bool {
		n++
		return n > 3
	}, "counter")

	msg := failsWith(t, func(tb gtest.TestingFatalHelper) {
		gtest.Eventually(tb, gtest.ScaleMs(5), func() bool { return false }, "never")
	})
	require.Contains(t, msg, "never")
}
