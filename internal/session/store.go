package session

import (
	"sync"
)

// Roster maps a player's stable id (the local part of their JID) to a
// display name. Entries are added or updated, never removed.
type Roster struct {
	mu    sync.RWMutex
	names map[string]string
}

func NewRoster() *Roster {
	return &Roster{
		names: make(map[string]string),
	}
}

// Put records a display name. Empty ids or names are ignored.
func (r *Roster) Put(id, name string) {
	if id == "" || name == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names[id] = name
}

func (r *Roster) Name(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.names[id]
	return name, ok
}

// All returns a copy of the roster.
func (r *Roster) All() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]string, len(r.names))
	for id, name := range r.names {
		result[id] = name
	}
	return result
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.names)
}
