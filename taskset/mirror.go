package taskset

import (
	"sync"

	"tasklight/domain"
)

// Mirror manages one Set per owner. Sets are created lazily: an owner has a
// set only after a seed or a change-feed event, and listings fall back to
// the remote store until then.
type Mirror struct {
	mu   sync.Mutex
	sets map[string]*Set
}

// NewMirror returns an empty mirror.
func NewMirror() *Mirror {
	return &Mirror{sets: make(map[string]*Set)}
}

// Seed installs a freshly fetched listing for the owner.
func (m *Mirror) Seed(owner string, tasks []domain.Task) {
	m.get(owner, true).Reset(tasks)
}

// Snapshot returns the owner's tasks and whether the mirror is warm.
func (m *Mirror) Snapshot(owner string) ([]domain.Task, bool) {
	s := m.get(owner, false)
	if s == nil {
		return nil, false
	}
	return s.Snapshot(), true
}

// Prepend adds a created task for the owner. No-op for cold owners: a set
// holding only the new task would shadow the owner's remote tasks on the
// next listing, so cold owners stay cold until a full seed.
func (m *Mirror) Prepend(owner string, t domain.Task) {
	if s := m.get(owner, false); s != nil {
		s.Prepend(t)
	}
}

// Upsert replaces a task for the owner. No-op for cold owners, as Prepend.
func (m *Mirror) Upsert(owner string, t domain.Task) {
	if s := m.get(owner, false); s != nil {
		s.Upsert(t)
	}
}

// Remove drops a task by id. No-op for unknown owners.
func (m *Mirror) Remove(owner, id string) {
	if s := m.get(owner, false); s != nil {
		s.Remove(id)
	}
}

// Apply folds a change-feed event into the owner's set. Owners without a
// warm set have no local view to reconcile; their next listing fetches
// remote truth that already includes the change.
func (m *Mirror) Apply(ev domain.ChangeEvent) {
	if s := m.get(ev.Owner, false); s != nil {
		s.Apply(ev)
	}
}

// Drop forgets the owner's set entirely, forcing the next listing to
// re-fetch. Used when local state is suspected stale.
func (m *Mirror) Drop(owner string) {
	m.mu.Lock()
	delete(m.sets, owner)
	m.mu.Unlock()
}

func (m *Mirror) get(owner string, create bool) *Set {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sets[owner]
	if !ok && create {
		s = NewSet()
		m.sets[owner] = s
	}
	return s
}
