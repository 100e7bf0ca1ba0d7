// Package watchbus streams watch lifecycle events to observers.
//
// Events are published under the key of the project they concern. A
// watcher of [All] receives the events of every project.
package watchbus

import "context"

// All is the key that receives every published message.
const All = "*"

// WatchBus provides a simple message bus for streaming events.
type WatchBus interface {
	// Publish sends data to the watchers of key and of All.
	Publish(ctx context.Context, key string, data []byte) error
	// Watch subscribes to messages for key. The returned channel receives
	// payloads until ctx is canceled or Unwatch is called.
	Watch(ctx context.Context, key string) (chan []byte, error)
	// Unwatch stops delivering messages for key to ch and closes it.
	Unwatch(ctx context.Context, key string, ch chan []byte) error
}
