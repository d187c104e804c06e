package session

import "sync"

// Identity is the local user's id. It is written at most once per process;
// transport resets never clear it.
type Identity struct {
	mu       sync.RWMutex
	id       string
	captured bool
}

// Capture stores id if no identity has been captured yet and reports
// whether this call was the one that stored it.
func (i *Identity) Capture(id string) bool {
	if id == "" {
		return false
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.captured {
		return false
	}
	i.id = id
	i.captured = true
	return true
}

func (i *Identity) Captured() bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.captured
}

// Get returns the captured id, or "" and false.
func (i *Identity) Get() (string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.id, i.captured
}
