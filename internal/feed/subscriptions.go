package feed

import (
	"sort"
	"sync"
)

// SubscriptionSet is the set of instrument ids the adapter wants delivered.
// It outlives individual sessions and is replayed after every connect.
type SubscriptionSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewSubscriptionSet creates an empty set.
func NewSubscriptionSet() *SubscriptionSet {
	return &SubscriptionSet{ids: make(map[string]struct{})}
}

// Add registers id. Returns true if it was newly added.
func (s *SubscriptionSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

// Remove deletes id. Returns true if it was present.
func (s *SubscriptionSet) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[id]; !ok {
		return false
	}
	delete(s.ids, id)
	return true
}

// Has reports whether id is in the set.
func (s *SubscriptionSet) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of ids.
func (s *SubscriptionSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Snapshot returns the ids in sorted order.
func (s *SubscriptionSet) Snapshot() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Clear removes every id.
func (s *SubscriptionSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.ids)
}
