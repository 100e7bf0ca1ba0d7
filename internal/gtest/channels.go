package gtest

import (
	"time"
)

// TestingFatalHelper is the subset of [testing.TB] used by the channel helpers.
type TestingFatalHelper interface {
	Helper()

	Fatalf(format string, args ...any)
}

// ReceiveSoon attempts to receive a value from ch.
// If the receive is blocked for a reasonable default timeout, tb.Fatal is called.
func ReceiveSoon[T any](tb TestingFatalHelper, ch <-chan T) T {
	tb.Helper()
	return ReceiveOrTimeout(tb, ch, ScaleMs(100))
}

// ReceiveOrTimeout attempts to receive a value from ch.
// If the value cannot be received within the given timeout, tb.Fatal is called.
func ReceiveOrTimeout[T any](tb TestingFatalHelper, ch <-chan T, timeout ScaledDuration) T {
	tb.Helper()

	if ch == nil {
		tb.Fatalf("immediate failure to avoid blocking receive from nil channel %T %v", ch, ch)
		panic("unreachable")
	}

	timer := time.NewTimer(time.Duration(timeout))
	defer timer.Stop()

	select {
	case <-timer.C:
		tb.Fatalf(
			"timed out while blocked receiving from channel %T %v; if this is flaky on only one machine, set SENTINEL_TEST_TIME_FACTOR to a value greater than %d",
			ch, ch, TimeFactor,
		)
		panic("unreachable")
	case x := <-ch:
		return x
	}
}

// NotSending checks that no value is ready to be read from ch.
func NotSending[T any](tb TestingFatalHelper, ch <-chan T) {
	tb.Helper()

	if ch == nil {
		tb.Fatalf("immediate failure to check that a nil channel is not sending (%T %v)", ch, ch)
		panic("unreachable")
	}

	select {
	case x := <-ch:
		tb.Fatalf("no value should have been sent on channel %T %v; got %v", ch, ch, x)
	default:
		// Okay.
	}
}

// Eventually polls cond every few milliseconds until it holds or timeout
// elapses, in which case tb.Fatal is called with msg.
func Eventually(tb TestingFatalHelper, timeout ScaledDuration, cond func() bool, msg string) {
	tb.Helper()

	deadline := time.Now().Add(time.Duration(timeout))
	for !cond() {
		if time.Now().After(deadline) {
			tb.Fatalf("condition not met within %s: %s", time.Duration(timeout), msg)
			panic("unreachable")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
