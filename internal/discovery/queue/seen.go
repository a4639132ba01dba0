package queue

import "sync"

// SeenSet remembers transaction IDs already surfaced during the current
// exploration session, so the queue never serves a duplicate. It lives for
// the process and is cleared only by an explicit reset.
type SeenSet struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewSeenSet creates an empty seen set.
func NewSeenSet() *SeenSet {
	return &SeenSet{ids: make(map[string]struct{})}
}

// Contains checks whether an ID was already served.
func (s *SeenSet) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// Add records a served ID.
func (s *SeenSet) Add(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

// Clear empties the set.
func (s *SeenSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]struct{})
}

// Size returns the number of remembered IDs.
func (s *SeenSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}
