// Package farm provides synchronized access to projects.
//
// A [Sync] acquires a project's lock on behalf of a unit of work and hands
// the watch over to a watchdog, so work that holds the lock too long is
// interrupted through the context of its [Item].
package farm
