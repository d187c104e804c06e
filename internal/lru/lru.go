// Package lru implements a fixed-capacity set that forgets its least
// recently used keys.
package lru

import (
	"sync"

	list "github.com/bahlo/generic-list-go"
)

// Set is safe for concurrent use. A hit counts as a use.
type Set[K comparable] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List[K]
	items    map[K]*list.Element[K]
}

// New returns a set holding at most capacity keys. capacity below 1 is
// treated as 1.
func New[K comparable](capacity int) *Set[K] {
	if capacity < 1 {
		capacity = 1
	}
	return &Set[K]{
		capacity: capacity,
		order:    list.New[K](),
		items:    make(map[K]*list.Element[K], capacity),
	}
}

// ContainsOrAdd reports whether key was already present. If it was not, it
// is inserted in the same critical section, so two callers racing on the
// same key see exactly one false. Inserting past capacity evicts the least
// recently used key.
func (s *Set[K]) ContainsOrAdd(key K) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		s.order.MoveToFront(el)
		return true
	}

	s.items[key] = s.order.PushFront(key)
	if s.order.Len() > s.capacity {
		oldest := s.order.Back()
		s.order.Remove(oldest)
		delete(s.items, oldest.Value)
	}
	return false
}

func (s *Set[K]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}
