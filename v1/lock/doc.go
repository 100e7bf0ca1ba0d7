// Package lock provides the exclusion locks that guard project state.
//
// Every lock implements [Lock]: a bounded acquire attempt and a release
// that is safe to call without holding the lock. [Mutex] is a local lock.
// [InMemory] and [Redis] are keyed lockers whose lock and unlock events
// propagate through a syncbus, so several nodes can coordinate on one key;
// [Keyed] binds such a locker and a key into a [Lock].
package lock
