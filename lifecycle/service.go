// Package lifecycle orchestrates task mutations against the remote task
// store and the artifact store, keeps the per-owner task mirror consistent
// with direct-call results, and folds change-feed events back into it.
package lifecycle

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"tasklight/domain"
	"tasklight/taskset"
)

// TaskStore abstracts the remote task table. Implementations enforce owner
// scoping on every call; the service never constructs queries without it.
type TaskStore interface {
	ListTasks(ctx context.Context, owner string) ([]domain.Task, error)
	GetTask(ctx context.Context, owner, id string) (*domain.Task, error)
	InsertTask(ctx context.Context, t domain.Task) error
	MergeTask(ctx context.Context, owner, id string, patch domain.TaskPatch) (*domain.Task, error)
	DeleteTask(ctx context.Context, owner, id string) error
}

// ArtifactStore abstracts the image object bucket.
type ArtifactStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string, overwrite bool) error
	PublicURL(key string) string
	Remove(ctx context.Context, keys []string) error
}

// EventSink receives committed change events for the feed.
type EventSink interface {
	PublishChange(ctx context.Context, ev domain.ChangeEvent) error
}

// Service is the task lifecycle core.
type Service struct {
	store     TaskStore
	artifacts ArtifactStore
	events    EventSink
	mirror    *taskset.Mirror
	logger    *log.Logger
	now       func() time.Time
}

// New creates a Service. The mirror may be shared with the stream layer.
func New(store TaskStore, artifacts ArtifactStore, events EventSink, mirror *taskset.Mirror, logger *log.Logger) *Service {
	if mirror == nil {
		mirror = taskset.NewMirror()
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Service{
		store:     store,
		artifacts: artifacts,
		events:    events,
		mirror:    mirror,
		logger:    logger,
		now:       time.Now,
	}
}

// Mirror exposes the local task set for the stream layer.
func (s *Service) Mirror() *taskset.Mirror { return s.mirror }

// List returns the owner's tasks newest-first, from the mirror when warm,
// otherwise from the store (seeding the mirror).
func (s *Service) List(ctx context.Context, sess domain.Session) ([]domain.Task, error) {
	if !sess.Valid() {
		return nil, domain.ErrUnauthenticated
	}
	if tasks, ok := s.mirror.Snapshot(sess.Email); ok {
		return tasks, nil
	}
	tasks, err := s.store.ListTasks(ctx, sess.Email)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	s.mirror.Seed(sess.Email, tasks)
	return tasks, nil
}

// Refresh discards the owner's mirror and re-fetches from the store. Used
// when local state is suspected stale, e.g. after a feed reconnect.
func (s *Service) Refresh(ctx context.Context, sess domain.Session) ([]domain.Task, error) {
	if !sess.Valid() {
		return nil, domain.ErrUnauthenticated
	}
	s.mirror.Drop(sess.Email)
	return s.List(ctx, sess)
}

// Create inserts a new task and, when an image is attached, uploads it and
// patches the row with the artifact reference. The row is inserted first so
// title and description are never lost to an unrelated upload failure; an
// attach failure leaves the base task standing and returns it alongside
// ErrArtifactAttach.
func (s *Service) Create(ctx context.Context, sess domain.Session, draft domain.TaskDraft) (*domain.Task, error) {
	if !sess.Valid() {
		return nil, domain.ErrUnauthenticated
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	task := domain.Task{
		ID:          uuid.NewString(),
		Title:       draft.Title,
		Description: draft.Description,
		Owner:       sess.Email,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.InsertTask(ctx, task); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCreateFailed, err)
	}

	if draft.Image != nil {
		attached, err := s.attachImage(ctx, sess, &task, draft.Image, false)
		if err != nil {
			// The base task exists; report the attach failure without
			// removing it from the flow.
			s.commit(ctx, sess.Email, domain.ChangeInsert, &task, "")
			return &task, err
		}
		task = *attached
	}

	s.commit(ctx, sess.Email, domain.ChangeInsert, &task, "")
	return &task, nil
}

// Update edits a task's fields and optionally replaces its image. The old
// artifact is removed best-effort before the new one is uploaded; removal
// failures are logged and never abort the edit.
func (s *Service) Update(ctx context.Context, sess domain.Session, id string, changes domain.TaskChanges) (*domain.Task, error) {
	if !sess.Valid() {
		return nil, domain.ErrUnauthenticated
	}
	if err := changes.Validate(); err != nil {
		return nil, err
	}

	current, err := s.store.GetTask(ctx, sess.Email, id)
	if err != nil {
		return nil, fmt.Errorf("fetch task %s: %w", id, err)
	}
	if current == nil {
		return nil, domain.ErrTaskNotFound
	}

	patch := domain.TaskPatch{
		Title:       &changes.Title,
		Description: &changes.Description,
		UpdatedAt:   s.now().UTC(),
	}

	var attachErr error
	if changes.Image != nil {
		if current.HasImage() {
			s.removeArtifact(ctx, *current.ImagePath)
		}
		key := artifactKey(sess.UserID, id, changes.Image.FileName)
		if err := s.artifacts.Upload(ctx, key, changes.Image.Data, changes.Image.ContentType, true); err != nil {
			// The old object is already gone; clear the reference pair so the
			// row never points at a missing artifact.
			empty := ""
			patch.ImageURL = &empty
			patch.ImagePath = &empty
			attachErr = fmt.Errorf("%w: %v", domain.ErrArtifactAttach, err)
		} else {
			url := s.artifacts.PublicURL(key)
			patch.ImageURL = &url
			patch.ImagePath = &key
		}
	}

	updated, err := s.store.MergeTask(ctx, sess.Email, id, patch)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUpdateFailed, err)
	}
	if updated == nil {
		// Row vanished between the fetch and the merge.
		return nil, domain.ErrTaskNotFound
	}

	s.commit(ctx, sess.Email, domain.ChangeUpdate, updated, "")
	return updated, attachErr
}

// Delete removes a task and, best-effort, its image artifact. The row is
// fetched first to learn the artifact key; the row delete is the higher
// priority, so an artifact removal failure is logged and the deletion
// proceeds.
func (s *Service) Delete(ctx context.Context, sess domain.Session, id string) error {
	if !sess.Valid() {
		return domain.ErrUnauthenticated
	}

	current, err := s.store.GetTask(ctx, sess.Email, id)
	if err != nil {
		return fmt.Errorf("fetch task %s: %w", id, err)
	}
	if current == nil {
		return domain.ErrTaskNotFound
	}

	if current.HasImage() {
		s.removeArtifact(ctx, *current.ImagePath)
	}

	if err := s.store.DeleteTask(ctx, sess.Email, id); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrDeleteFailed, err)
	}

	s.commit(ctx, sess.Email, domain.ChangeDelete, nil, id)
	return nil
}

// ApplyRemote folds a change-feed event into the mirror. Re-delivery of an
// already-applied event is a no-op, so events originated by this instance
// confirm rather than duplicate the direct-call result.
func (s *Service) ApplyRemote(ev domain.ChangeEvent) {
	s.mirror.Apply(ev)
}

// attachImage uploads the draft image and patches the row with the
// reference pair. Called with the row already inserted.
func (s *Service) attachImage(ctx context.Context, sess domain.Session, task *domain.Task, img *domain.ImageUpload, overwrite bool) (*domain.Task, error) {
	key := artifactKey(sess.UserID, task.ID, img.FileName)
	if err := s.artifacts.Upload(ctx, key, img.Data, img.ContentType, overwrite); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactAttach, err)
	}
	url := s.artifacts.PublicURL(key)
	patch := domain.TaskPatch{
		ImageURL:  &url,
		ImagePath: &key,
		UpdatedAt: task.UpdatedAt,
	}
	updated, err := s.store.MergeTask(ctx, sess.Email, task.ID, patch)
	if err != nil || updated == nil {
		s.logger.WithError(err).WithField("task", task.ID).Warn("image uploaded but row patch failed, object orphaned")
		return nil, fmt.Errorf("%w: %v", domain.ErrArtifactAttach, err)
	}
	return updated, nil
}

func (s *Service) removeArtifact(ctx context.Context, key string) {
	if err := s.artifacts.Remove(ctx, []string{key}); err != nil {
		s.logger.WithError(err).WithField("key", key).Warnf("%v", domain.ErrArtifactCleanup)
	}
}

// commit applies the mutation result to the mirror and emits the change
// event. Publish failures only delay reconciliation on other instances, so
// they are logged rather than surfaced.
func (s *Service) commit(ctx context.Context, owner string, typ domain.ChangeType, task *domain.Task, deletedID string) {
	ev := domain.ChangeEvent{
		Type:      typ,
		Owner:     owner,
		Timestamp: s.now().UnixNano(),
	}
	switch typ {
	case domain.ChangeInsert:
		s.mirror.Prepend(owner, *task)
		ev.New = task
	case domain.ChangeUpdate:
		s.mirror.Upsert(owner, *task)
		ev.New = task
	case domain.ChangeDelete:
		s.mirror.Remove(owner, deletedID)
		ev.Old = &domain.TaskRef{ID: deletedID}
	}
	if s.events == nil {
		return
	}
	if err := s.events.PublishChange(ctx, ev); err != nil {
		s.logger.WithError(err).WithField("owner", owner).Error("publish change event")
	}
}

// artifactKey derives the storage key for a task's image. The key is a
// deterministic function of the task id so repeated edits overwrite instead
// of accumulating orphans; the owner prefix keeps users from colliding.
func artifactKey(ownerID, taskID, fileName string) string {
	return ownerID + "/" + taskID + path.Ext(fileName)
}
