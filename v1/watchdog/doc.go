// Package watchdog provides a Watchdog that interrupts holders of a
// project lock who keep it longer than a configured threshold.
//
// A caller holding a project's lock submits a watch with [*Watchdog.Submit].
// The watchdog then tries to acquire the same lock for up to the threshold.
// If it succeeds, the holder let go in time and the watch ends quietly.
// If it does not, the watchdog logs a warning naming the holder, the
// resource and the call site that submitted the watch, and interrupts the
// holder.
//
// Interruption is cooperative: [Holder.Interrupt] cancels the context the
// holder works under, and nothing more. A holder that ignores its context
// keeps the lock; the watchdog cannot take a lock away from anyone.
//
// At most one watch is active per project. Submitting again while a watch
// is active is a no-op.
package watchdog
