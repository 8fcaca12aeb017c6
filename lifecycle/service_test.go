package lifecycle

import (
	"context"
	"errors"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"tasklight/domain"
	"tasklight/taskset"
)

var errExists = errors.New("object exists")

var testSession = domain.Session{UserID: "auth0|u1", Email: "user@example.com"}

type fixture struct {
	store     *fakeStore
	artifacts *fakeArtifacts
	sink      *fakeSink
	svc       *Service
	clock     *fakeClock
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newFixture() *fixture {
	f := &fixture{
		store:     newFakeStore(),
		artifacts: newFakeArtifacts(),
		sink:      &fakeSink{},
		clock:     &fakeClock{now: time.Unix(1_700_000_000, 0)},
	}
	logger := log.New()
	f.svc = New(f.store, f.artifacts, f.sink, taskset.NewMirror(), logger)
	f.svc.now = f.clock.Now
	return f
}

func TestCreateWithoutImage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	task, err := f.svc.Create(ctx, testSession, domain.TaskDraft{Title: "Buy milk", Description: ""})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ID == "" {
		t.Fatal("expected assigned id")
	}
	if task.ImageURL != nil || task.ImagePath != nil {
		t.Fatalf("expected both image fields nil, got url=%v path=%v", task.ImageURL, task.ImagePath)
	}

	tasks, err := f.svc.List(ctx, testSession)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != task.ID {
		t.Fatalf("expected created task at head, got %+v", tasks)
	}
}

func TestCreateOrderingNewestFirst(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.svc.Create(ctx, testSession, domain.TaskDraft{Title: "A"})
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	b, err := f.svc.Create(ctx, testSession, domain.TaskDraft{Title: "B"})
	if err != nil {
		t.Fatalf("create b: %v", err)
	}

	tasks, _ := f.svc.List(ctx, testSession)
	if len(tasks) != 2 || tasks[0].ID != b.ID || tasks[1].ID != a.ID {
		t.Fatalf("expected [B A], got %+v", tasks)
	}
}

func TestCreateWithImage(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	img := &domain.ImageUpload{FileName: "photo.png", ContentType: "image/png", Data: []byte("png")}
	task, err := f.svc.Create(ctx, testSession, domain.TaskDraft{Title: "With image", Image: img})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.ImageURL == nil || task.ImagePath == nil {
		t.Fatal("expected both image fields set")
	}
	wantKey := "auth0|u1/" + task.ID + ".png"
	if *task.ImagePath != wantKey {
		t.Fatalf("unexpected image path %q, want %q", *task.ImagePath, wantKey)
	}
	if !f.artifacts.has(wantKey) {
		t.Fatalf("expected object stored at %q", wantKey)
	}
	if *task.ImageURL != "https://cdn.example.com/"+wantKey {
		t.Fatalf("unexpected public url %q", *task.ImageURL)
	}
}

func TestCreateTitleRequired(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Create(context.Background(), testSession, domain.TaskDraft{Title: ""}); err == nil {
		t.Fatal("expected validation error")
	}
	if len(f.store.rows) != 0 {
		t.Fatal("no row should be created on validation failure")
	}
}

func TestCreateUnauthenticated(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Create(context.Background(), domain.Session{}, domain.TaskDraft{Title: "x"}); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestCreateAttachFailureKeepsBaseTask(t *testing.T) {
	f := newFixture()
	f.artifacts.uploadErr = errors.New("bucket down")
	ctx := context.Background()

	img := &domain.ImageUpload{FileName: "photo.jpg", Data: []byte("jpg")}
	task, err := f.svc.Create(ctx, testSession, domain.TaskDraft{Title: "Still created", Image: img})
	if !errors.Is(err, domain.ErrArtifactAttach) {
		t.Fatalf("expected ErrArtifactAttach, got %v", err)
	}
	if task == nil {
		t.Fatal("expected base task despite attach failure")
	}
	if task.ImageURL != nil || task.ImagePath != nil {
		t.Fatal("attach failure must leave image fields unset")
	}

	tasks, _ := f.svc.List(ctx, testSession)
	if len(tasks) != 1 {
		t.Fatalf("expected base task in local set, got %d", len(tasks))
	}
}

func TestCreateStoreFailure(t *testing.T) {
	f := newFixture()
	f.store.insertErr = errors.New("table down")

	_, err := f.svc.Create(context.Background(), testSession, domain.TaskDraft{Title: "x"})
	if !errors.Is(err, domain.ErrCreateFailed) {
		t.Fatalf("expected ErrCreateFailed, got %v", err)
	}
	tasks, _ := f.svc.List(context.Background(), testSession)
	if len(tasks) != 0 {
		t.Fatal("failed create must leave local set unchanged")
	}
}

func TestUpdateWithoutImagePreservesArtifact(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	img := &domain.ImageUpload{FileName: "pic.png", Data: []byte("png")}
	created, err := f.svc.Create(ctx, testSession, domain.TaskDraft{Title: "Buy milk", Image: img})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := f.svc.Update(ctx, testSession, created.ID, domain.TaskChanges{Title: "Buy oat milk"})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Title != "Buy oat milk" {
		t.Fatalf("unexpected title %q", updated.Title)
	}
	if updated.ImageURL == nil || updated.ImagePath == nil ||
		*updated.ImageURL != *created.ImageURL || *updated.ImagePath != *created.ImagePath {
		t.Fatal("update without image must preserve the artifact pair exactly")
	}
	if !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Fatalf("expected updated_at > created_at, got %v / %v", updated.UpdatedAt, updated.CreatedAt)
	}
}

func TestUpdateReplacesImageAndRemovesOldKey(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	created, err := f.svc.Create(ctx, testSession, domain.TaskDraft{Title: "t", Image: &domain.ImageUpload{FileName: "old.png", Data: []byte("old")}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	oldKey := *created.ImagePath

	updated, err := f.svc.Update(ctx, testSession, created.ID, domain.TaskChanges{Title: "t", Image: &domain.ImageUpload{FileName: "new.jpg", Data: []byte("new")}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	removed := f.artifacts.removedKeys()
	if len(removed) != 1 || removed[0] != oldKey {
		t.Fatalf("expected old key %q removed, got %v", oldKey, removed)
	}
	wantKey := "auth0|u1/" + created.ID + ".jpg"
	if updated.ImagePath == nil || *updated.ImagePath != wantKey {
		t.Fatalf("unexpected new image path %+v", updated.ImagePath)
	}
	if !f.artifacts.has(wantKey) {
		t.Fatal("expected new object stored")
	}
}

func TestUpdateCleanupFailureDoesNotAbort(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	created, err := f.svc.Create(ctx, testSession, domain.TaskDraft{Title: "t", Image: &domain.ImageUpload{FileName: "old.png", Data: []byte("old")}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.artifacts.removeErr = errors.New("cleanup down")

	updated, err := f.svc.Update(ctx, testSession, created.ID, domain.TaskChanges{Title: "t2", Image: &domain.ImageUpload{FileName: "new.png", Data: []byte("new")}})
	if err != nil {
		t.Fatalf("cleanup failure must not abort the edit: %v", err)
	}
	if updated.Title != "t2" {
		t.Fatalf("unexpected title %q", updated.Title)
	}
}

func TestUpdateReplacementUploadFailureClearsPair(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	created, err := f.svc.Create(ctx, testSession, domain.TaskDraft{Title: "t", Image: &domain.ImageUpload{FileName: "old.png", Data: []byte("old")}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.artifacts.uploadErr = errors.New("bucket down")

	updated, err := f.svc.Update(ctx, testSession, created.ID, domain.TaskChanges{Title: "t2", Image: &domain.ImageUpload{FileName: "new.png", Data: []byte("new")}})
	if !errors.Is(err, domain.ErrArtifactAttach) {
		t.Fatalf("expected ErrArtifactAttach, got %v", err)
	}
	if updated == nil {
		t.Fatal("expected updated base task")
	}
	if updated.ImageURL != nil || updated.ImagePath != nil {
		t.Fatal("failed replacement must clear both image fields")
	}
}

func TestUpdateNotFound(t *testing.T) {
	f := newFixture()
	if _, err := f.svc.Update(context.Background(), testSession, "missing", domain.TaskChanges{Title: "x"}); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestDeleteRemovesArtifactBeforeRow(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	created, err := f.svc.Create(ctx, testSession, domain.TaskDraft{Title: "t", Image: &domain.ImageUpload{FileName: "p.png", Data: []byte("p")}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	key := *created.ImagePath

	if err := f.svc.Delete(ctx, testSession, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	removed := f.artifacts.removedKeys()
	if len(removed) != 1 || removed[0] != key {
		t.Fatalf("expected removal issued for %q, got %v", key, removed)
	}
	tasks, _ := f.svc.List(ctx, testSession)
	if len(tasks) != 0 {
		t.Fatal("deleted task must leave the local set")
	}
}

func TestDeleteSucceedsWhenArtifactRemovalFails(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	created, err := f.svc.Create(ctx, testSession, domain.TaskDraft{Title: "t", Image: &domain.ImageUpload{FileName: "p.png", Data: []byte("p")}})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.artifacts.removeErr = errors.New("cleanup down")

	if err := f.svc.Delete(ctx, testSession, created.ID); err != nil {
		t.Fatalf("artifact removal failure must not fail the delete: %v", err)
	}
	removed := f.artifacts.removedKeys()
	if len(removed) != 1 || removed[0] != *created.ImagePath {
		t.Fatalf("expected removal still issued, got %v", removed)
	}
	tasks, _ := f.svc.List(ctx, testSession)
	if len(tasks) != 0 {
		t.Fatal("task must be gone from the local set")
	}
}

func TestDeleteStoreFailureLeavesLocalSetUntouched(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	created, err := f.svc.Create(ctx, testSession, domain.TaskDraft{Title: "t"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.store.deleteErr = errors.New("table down")

	if err := f.svc.Delete(ctx, testSession, created.ID); !errors.Is(err, domain.ErrDeleteFailed) {
		t.Fatalf("expected ErrDeleteFailed, got %v", err)
	}
	tasks, _ := f.svc.List(ctx, testSession)
	if len(tasks) != 1 {
		t.Fatal("failed delete must not remove the task locally")
	}
}

func TestDeleteNotFound(t *testing.T) {
	f := newFixture()
	if err := f.svc.Delete(context.Background(), testSession, "missing"); !errors.Is(err, domain.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestMutationsPublishChangeEvents(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	created, err := f.svc.Create(ctx, testSession, domain.TaskDraft{Title: "t"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.Update(ctx, testSession, created.ID, domain.TaskChanges{Title: "t2"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := f.svc.Delete(ctx, testSession, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	events := f.sink.published()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].Type != domain.ChangeInsert || events[0].New == nil || events[0].New.ID != created.ID {
		t.Fatalf("unexpected insert event %+v", events[0])
	}
	if events[1].Type != domain.ChangeUpdate || events[1].New == nil || events[1].New.Title != "t2" {
		t.Fatalf("unexpected update event %+v", events[1])
	}
	if events[2].Type != domain.ChangeDelete || events[2].Old == nil || events[2].Old.ID != created.ID {
		t.Fatalf("unexpected delete event %+v", events[2])
	}
	if events[0].Owner != testSession.Email {
		t.Fatalf("events must carry the owner filter, got %q", events[0].Owner)
	}
}

func TestApplyRemoteConfirmsLocalMutation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	created, err := f.svc.Create(ctx, testSession, domain.TaskDraft{Title: "t"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.List(ctx, testSession); err != nil {
		t.Fatalf("list: %v", err)
	}

	// Feed re-delivery of the local insert must be a no-op.
	f.svc.ApplyRemote(domain.ChangeEvent{Type: domain.ChangeInsert, Owner: testSession.Email, New: created})

	tasks, _ := f.svc.List(ctx, testSession)
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task after redelivery, got %d", len(tasks))
	}
}

func TestApplyRemoteUpdateForUnknownTaskInserts(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	if _, err := f.svc.Create(ctx, testSession, domain.TaskDraft{Title: "warm"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.svc.List(ctx, testSession); err != nil {
		t.Fatalf("list: %v", err)
	}

	ghost := domain.Task{ID: "other-device", Title: "from another tab", Owner: testSession.Email}
	f.svc.ApplyRemote(domain.ChangeEvent{Type: domain.ChangeUpdate, Owner: testSession.Email, New: &ghost})

	tasks, _ := f.svc.List(ctx, testSession)
	if len(tasks) != 2 || tasks[0].ID != "other-device" {
		t.Fatalf("expected implicit insert at head, got %+v", tasks)
	}
}

func TestListSeedsMirrorFromStore(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	seed := domain.Task{ID: "preexisting", Title: "t", Owner: testSession.Email, CreatedAt: time.Unix(50, 0)}
	if err := f.store.InsertTask(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tasks, err := f.svc.List(ctx, testSession)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != "preexisting" {
		t.Fatalf("unexpected listing %+v", tasks)
	}
}

func TestCreateOnColdMirrorKeepsPreexistingTasks(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	seed := domain.Task{ID: "preexisting", Title: "older", Owner: testSession.Email, CreatedAt: time.Unix(50, 0)}
	if err := f.store.InsertTask(ctx, seed); err != nil {
		t.Fatalf("seed: %v", err)
	}

	// Create before any listing has warmed the mirror.
	created, err := f.svc.Create(ctx, testSession, domain.TaskDraft{Title: "newer"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	tasks, err := f.svc.List(ctx, testSession)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(tasks) != 2 || tasks[0].ID != created.ID || tasks[1].ID != "preexisting" {
		t.Fatalf("expected [created preexisting], got %+v", tasks)
	}
}

func TestCreateAfterListPrependsToWarmMirror(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	a, err := f.svc.Create(ctx, testSession, domain.TaskDraft{Title: "A"})
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := f.svc.List(ctx, testSession); err != nil {
		t.Fatalf("list: %v", err)
	}

	b, err := f.svc.Create(ctx, testSession, domain.TaskDraft{Title: "B"})
	if err != nil {
		t.Fatalf("create b: %v", err)
	}

	tasks, _ := f.svc.List(ctx, testSession)
	if len(tasks) != 2 || tasks[0].ID != b.ID || tasks[1].ID != a.ID {
		t.Fatalf("expected [B A], got %+v", tasks)
	}
}

func TestRefreshDropsStaleMirror(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	created, err := f.svc.Create(ctx, testSession, domain.TaskDraft{Title: "t"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Simulate another instance deleting the row behind our back.
	f.store.mu.Lock()
	delete(f.store.rows, created.ID)
	f.store.mu.Unlock()

	tasks, err := f.svc.Refresh(ctx, testSession)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("expected refreshed empty set, got %+v", tasks)
	}
}
