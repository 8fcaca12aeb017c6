package domain

import (
	"errors"
	"time"
)

// Task is a single user-owned unit of work. ImageURL and ImagePath are
// either both set or both nil; ImagePath is the storage key and is never
// rendered to the user.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Owner       string    `json:"email"`
	ImageURL    *string   `json:"image_url"`
	ImagePath   *string   `json:"image_path"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasImage reports whether the task carries an image artifact.
func (t Task) HasImage() bool {
	return t.ImagePath != nil && *t.ImagePath != ""
}

// SetImage attaches the artifact reference pair.
func (t *Task) SetImage(url, path string) {
	t.ImageURL = &url
	t.ImagePath = &path
}

// ClearImage detaches the artifact reference pair.
func (t *Task) ClearImage() {
	t.ImageURL = nil
	t.ImagePath = nil
}

// TaskDraft carries the user-supplied fields of a new task.
type TaskDraft struct {
	Title       string
	Description string
	Image       *ImageUpload
}

// TaskChanges carries the user-supplied fields of an edit.
type TaskChanges struct {
	Title       string
	Description string
	Image       *ImageUpload
}

// TaskPatch is a partial row update. Nil fields are left untouched; an
// empty-string ImageURL/ImagePath pair clears the artifact reference.
// UpdatedAt is always written.
type TaskPatch struct {
	Title       *string
	Description *string
	ImageURL    *string
	ImagePath   *string
	UpdatedAt   time.Time
}

// ImageUpload is an attached image binary plus the original file name, used
// to preserve the extension in the derived storage key.
type ImageUpload struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Validate checks draft fields before any remote call is issued.
func (d TaskDraft) Validate() error {
	if d.Title == "" {
		return errors.New("title must not be empty")
	}
	return nil
}

// Validate checks edit fields before any remote call is issued.
func (c TaskChanges) Validate() error {
	if c.Title == "" {
		return errors.New("title must not be empty")
	}
	return nil
}
