package transitions

import (
	"sync"
	"time"

	"agesignal/internal/model"
)

// Store is a bounded, oldest-first history of committed transitions.
type Store struct {
	mu    sync.RWMutex
	buf   []model.Transition
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 1000
	}
	return &Store{limit: limit}
}

func (s *Store) Add(tr model.Transition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, tr)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = tr
}

// List returns the newest limit transitions, oldest first. A non-empty
// subject restricts the result to that subject.
func (s *Store) List(subject string, limit int) []model.Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched := make([]model.Transition, 0, len(s.buf))
	for _, tr := range s.buf {
		if subject != "" && tr.Subject != subject {
			continue
		}
		matched = append(matched, tr)
	}
	if limit <= 0 || limit > len(matched) {
		return matched
	}
	return append([]model.Transition(nil), matched[len(matched)-limit:]...)
}

func (s *Store) Since(ts time.Time) []model.Transition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Transition, 0)
	for _, tr := range s.buf {
		if !tr.Timestamp.Before(ts) {
			out = append(out, tr)
		}
	}
	return out
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
