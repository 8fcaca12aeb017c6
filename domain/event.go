package domain

import "github.com/bytedance/sonic"

// ChangeType enumerates the change-feed event kinds.
type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// TaskRef identifies a task in a DELETE event payload.
type TaskRef struct {
	ID string `json:"id"`
}

// ChangeEvent describes one committed mutation of the tasks table. New is
// set for INSERT and UPDATE, Old for DELETE. Events for a single task id
// are emitted in commit order; interleaving across ids is arbitrary.
type ChangeEvent struct {
	Type      ChangeType `json:"eventType"`
	Owner     string     `json:"owner"`
	New       *Task      `json:"new,omitempty"`
	Old       *TaskRef   `json:"old,omitempty"`
	Timestamp int64      `json:"time"`
}

// Encode serializes the event for the change feed.
func (e ChangeEvent) Encode() ([]byte, error) {
	return sonic.Marshal(e)
}

// DecodeChangeEvent parses a change-feed payload.
func DecodeChangeEvent(data []byte) (ChangeEvent, error) {
	var ev ChangeEvent
	err := sonic.Unmarshal(data, &ev)
	return ev, err
}

// TaskID returns the id the event is keyed by.
func (e ChangeEvent) TaskID() string {
	switch {
	case e.New != nil:
		return e.New.ID
	case e.Old != nil:
		return e.Old.ID
	default:
		return ""
	}
}
