package watchdog

import (
	"sort"
	"sync"
	"time"

	"github.com/mirkobrombin/go-sentinel/v1/project"
)

// Entry describes one active watch.
type Entry struct {
	Project  project.ID
	Resource string
	Since    time.Time
}

// registry holds at most one entry per project.
// It is never locked across a lock acquisition.
type registry struct {
	mu      sync.Mutex
	entries map[project.ID]Entry
	now     func() time.Time
}

func newRegistry() *registry {
	return &registry{
		entries: make(map[project.ID]Entry),
		now:     time.Now,
	}
}

// tryRegister inserts an entry for id unless one exists, and reports
// whether it did.
func (r *registry) tryRegister(id project.ID, resource string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[id]; ok {
		return false
	}
	r.entries[id] = Entry{Project: id, Resource: resource, Since: r.now()}
	return true
}

func (r *registry) remove(id project.ID) {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()
}

// snapshot copies the entries, ordered by project.
func (r *registry) snapshot() []Entry {
	r.mu.Lock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Project < out[j].Project })
	return out
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
