package domain

import "errors"

var (
	// ErrUnauthenticated indicates no active session; callers redirect to
	// sign-in.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrTaskNotFound indicates the referenced task is absent or not owned
	// by the caller.
	ErrTaskNotFound = errors.New("task not found")

	// ErrCreateFailed, ErrUpdateFailed and ErrDeleteFailed indicate the task
	// store rejected the row mutation. The local task set is left untouched.
	ErrCreateFailed = errors.New("task create failed")
	ErrUpdateFailed = errors.New("task update failed")
	ErrDeleteFailed = errors.New("task delete failed")

	// ErrArtifactUpload indicates an image upload failed before any row
	// referenced it.
	ErrArtifactUpload = errors.New("image upload failed")

	// ErrArtifactAttach indicates the base task row exists but attaching the
	// image to it failed. Non-fatal to the task itself.
	ErrArtifactAttach = errors.New("image attach failed")

	// ErrArtifactCleanup indicates a best-effort removal of a stale image
	// failed. Always logged, never surfaced as an operation failure.
	ErrArtifactCleanup = errors.New("image cleanup failed")
)
