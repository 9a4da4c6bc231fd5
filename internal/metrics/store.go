package metrics

import (
	"sort"
	"sync"

	"agesignal/internal/model"
)

// Store keeps the latest snapshot per subject for pollers.
type Store struct {
	mu        sync.RWMutex
	bySubject map[string]model.Snapshot
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		bySubject: make(map[string]model.Snapshot),
		limit:     limit,
	}
}

func (s *Store) Update(snaps []model.Snapshot) {
	if len(snaps) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, snap := range snaps {
		if snap.Subject == "" {
			continue
		}
		s.bySubject[snap.Subject] = snap
	}
	for len(s.bySubject) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(subject string) (model.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.bySubject[subject]
	return snap, ok
}

// GetAll returns every snapshot ordered by subject.
func (s *Store) GetAll() []model.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Snapshot, 0, len(s.bySubject))
	for _, snap := range s.bySubject {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Subject < out[j].Subject })
	return out
}

func (s *Store) Delete(subject string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bySubject, subject)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bySubject)
}

func (s *Store) evictOldest() {
	var oldestSubject string
	var oldest model.Snapshot
	for subject, snap := range s.bySubject {
		if oldestSubject == "" || snap.UpdatedAt.Before(oldest.UpdatedAt) {
			oldestSubject = subject
			oldest = snap
		}
	}
	if oldestSubject != "" {
		delete(s.bySubject, oldestSubject)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bySubject = make(map[string]model.Snapshot)
}
