package lifecycle

import (
	"context"
	"sort"
	"sync"

	"tasklight/domain"
)

type fakeStore struct {
	mu   sync.Mutex
	rows map[string]domain.Task

	insertErr error
	mergeErr  error
	deleteErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]domain.Task)}
}

func (f *fakeStore) ListTasks(_ context.Context, owner string) ([]domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tasks := []domain.Task{}
	for _, t := range f.rows {
		if t.Owner == owner {
			tasks = append(tasks, t)
		}
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].CreatedAt.After(tasks[j].CreatedAt) })
	return tasks, nil
}

func (f *fakeStore) GetTask(_ context.Context, owner, id string) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.rows[id]
	if !ok || t.Owner != owner {
		return nil, nil
	}
	return &t, nil
}

func (f *fakeStore) InsertTask(_ context.Context, t domain.Task) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[t.ID] = t
	return nil
}

func (f *fakeStore) MergeTask(_ context.Context, owner, id string, patch domain.TaskPatch) (*domain.Task, error) {
	if f.mergeErr != nil {
		return nil, f.mergeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.rows[id]
	if !ok || t.Owner != owner {
		return nil, nil
	}
	if patch.Title != nil {
		t.Title = *patch.Title
	}
	if patch.Description != nil {
		t.Description = *patch.Description
	}
	if patch.ImageURL != nil && patch.ImagePath != nil {
		if *patch.ImagePath == "" {
			t.ClearImage()
		} else {
			t.SetImage(*patch.ImageURL, *patch.ImagePath)
		}
	}
	if !patch.UpdatedAt.IsZero() {
		t.UpdatedAt = patch.UpdatedAt
	}
	f.rows[id] = t
	return &t, nil
}

func (f *fakeStore) DeleteTask(_ context.Context, owner, id string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.rows[id]
	if ok && t.Owner == owner {
		delete(f.rows, id)
	}
	return nil
}

type fakeArtifacts struct {
	mu      sync.Mutex
	objects map[string][]byte
	removed []string

	uploadErr error
	removeErr error
}

func newFakeArtifacts() *fakeArtifacts {
	return &fakeArtifacts{objects: make(map[string][]byte)}
}

func (f *fakeArtifacts) Upload(_ context.Context, key string, data []byte, _ string, overwrite bool) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.objects[key]; exists && !overwrite {
		return errExists
	}
	f.objects[key] = data
	return nil
}

func (f *fakeArtifacts) PublicURL(key string) string {
	return "https://cdn.example.com/" + key
}

func (f *fakeArtifacts) Remove(_ context.Context, keys []string) error {
	f.mu.Lock()
	f.removed = append(f.removed, keys...)
	f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.objects, k)
	}
	return nil
}

func (f *fakeArtifacts) removedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.removed))
	copy(out, f.removed)
	return out
}

func (f *fakeArtifacts) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.objects[key]
	return ok
}

type fakeSink struct {
	mu     sync.Mutex
	events []domain.ChangeEvent
	err    error
}

func (f *fakeSink) PublishChange(_ context.Context, ev domain.ChangeEvent) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeSink) published() []domain.ChangeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.ChangeEvent, len(f.events))
	copy(out, f.events)
	return out
}
