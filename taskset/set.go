// Package taskset holds the in-memory mirror of a user's tasks. The mirror
// is a cache of the remote task table filtered to one owner, ordered
// newest-first by creation time. All mutations are idempotent and keyed by
// task id, so a direct-call result and a change-feed event for the same
// mutation may both be applied in either order without diverging.
package taskset

import (
	"sync"

	"tasklight/domain"
)

// Set is one owner's ordered task collection.
type Set struct {
	mu    sync.Mutex
	order []string
	byID  map[string]domain.Task
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{byID: make(map[string]domain.Task)}
}

// Reset replaces the whole collection with a freshly fetched listing,
// assumed to be newest-first already.
func (s *Set) Reset(tasks []domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.order = s.order[:0]
	s.byID = make(map[string]domain.Task, len(tasks))
	for _, t := range tasks {
		if _, ok := s.byID[t.ID]; ok {
			continue
		}
		s.order = append(s.order, t.ID)
		s.byID[t.ID] = t
	}
}

// Prepend inserts a newly created task at the head. Creation always yields
// the newest timestamp, so head insertion keeps the ordering without a
// re-sort. No-op when the id is already present.
func (s *Set) Prepend(t domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[t.ID]; ok {
		return
	}
	s.order = append([]string{t.ID}, s.order...)
	s.byID[t.ID] = t
}

// Upsert replaces the task with a matching id in place, preserving its
// position. When the id is absent the task is prepended instead.
func (s *Set) Upsert(t domain.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[t.ID]; ok {
		s.byID[t.ID] = t
		return
	}
	s.order = append([]string{t.ID}, s.order...)
	s.byID[t.ID] = t
}

// Remove deletes the task with the given id. No-op when absent.
func (s *Set) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return
	}
	delete(s.byID, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Apply folds one change-feed event into the set. INSERT of a known id is
// a no-op; UPDATE of an unknown id is an implicit insert so the set
// converges even when an earlier insert event was missed.
func (s *Set) Apply(ev domain.ChangeEvent) {
	switch ev.Type {
	case domain.ChangeInsert:
		if ev.New != nil {
			s.Prepend(*ev.New)
		}
	case domain.ChangeUpdate:
		if ev.New != nil {
			s.Upsert(*ev.New)
		}
	case domain.ChangeDelete:
		if ev.Old != nil {
			s.Remove(ev.Old.ID)
		}
	}
}

// Snapshot returns the tasks in order.
func (s *Set) Snapshot() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Task, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Len returns the number of tasks held.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
