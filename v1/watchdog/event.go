package watchdog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mirkobrombin/go-sentinel/v1/project"
)

// EventType names a step in a watch's life.
type EventType string

const (
	EventStarted     EventType = "started"
	EventReleased    EventType = "released"
	EventInterrupted EventType = "interrupted"
	EventFinished    EventType = "finished"
)

// Event is published on the watch bus, keyed by project, when configured
// with [WithEvents].
type Event struct {
	ID       string     `json:"id"`
	Type     EventType  `json:"type"`
	Project  project.ID `json:"pid"`
	Resource string     `json:"resource"`
	Holder   string     `json:"holder"`
	Time     time.Time  `json:"time"`
}

func (w *Watchdog) publish(ctx context.Context, typ EventType, wt *watch) {
	if w.events == nil {
		return
	}
	ev := Event{
		ID:       uuid.NewString(),
		Type:     typ,
		Project:  wt.project,
		Resource: wt.resource,
		Holder:   wt.holder.Name(),
		Time:     time.Now().UTC(),
	}
	data, err := json.Marshal(ev)
	if err != nil {
		w.log.Debug("Failed to encode watch event", "type", typ, "err", err)
		return
	}
	if err := w.events.Publish(ctx, wt.project.String(), data); err != nil {
		w.log.Debug("Failed to publish watch event", "type", typ, "project", wt.project, "err", err)
	}
}
