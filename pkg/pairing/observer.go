package pairing

import (
	"sort"
	"sync"
)

// Observer is notified about every state change of every session
type Observer interface {
	OnStateChange(Snapshot)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(Snapshot)

// OnStateChange implements Observer
func (f ObserverFunc) OnStateChange(s Snapshot) {
	f(s)
}

// Registry remembers the latest snapshot of every session it observed
type Registry struct {
	lock      sync.RWMutex
	snapshots map[string]Snapshot
}

// OnStateChange implements Observer
func (r *Registry) OnStateChange(s Snapshot) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.snapshots[s.ID] = s
}

// List returns snapshots ordered by start time
func (r *Registry) List() []Snapshot {
	r.lock.RLock()
	defer r.lock.RUnlock()
	snapshots := make([]Snapshot, 0, len(r.snapshots))
	for _, s := range r.snapshots {
		snapshots = append(snapshots, s)
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].StartedAt.Before(snapshots[j].StartedAt)
	})
	return snapshots
}

// Get returns the latest snapshot of a session
func (r *Registry) Get(id string) (Snapshot, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	s, ok := r.snapshots[id]
	return s, ok
}

// NewRegistry creates Registry instances
func NewRegistry() *Registry {
	return &Registry{snapshots: map[string]Snapshot{}}
}
