package api

import (
	"context"

	"tasklight/domain"
)

// TaskLifecycle is implemented by the lifecycle core consumed by handlers.
type TaskLifecycle interface {
	List(ctx context.Context, sess domain.Session) ([]domain.Task, error)
	Create(ctx context.Context, sess domain.Session, draft domain.TaskDraft) (*domain.Task, error)
	Update(ctx context.Context, sess domain.Session, id string, changes domain.TaskChanges) (*domain.Task, error)
	Delete(ctx context.Context, sess domain.Session, id string) error
}

// Authenticator is implemented by types able to turn an Authorization
// header into a session.
type Authenticator interface {
	SessionFromAuthHeader(string) (domain.Session, error)
}
