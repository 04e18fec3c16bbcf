package types

import (
	"encoding/json"
	"time"
)

// Wire event type identifiers.
const (
	EventAuthenticate   = "authenticate"
	EventJoin           = "join"
	EventLeave          = "leave"
	EventStatusSnapshot = "status_snapshot"
	EventTaskUpdate     = "task_update"
	EventError          = "error"
)

// ClientEvent is one inbound frame from a client. Type selects which
// of the remaining fields are meaningful.
type ClientEvent struct {
	Type         string `json:"type"`
	Token        string `json:"token,omitempty"`
	AssessmentID int64  `json:"assessment_id,omitempty"`
}

// ServerEvent is the closed set of outbound frames. One implementation
// exists per event kind so a switch over the concrete types is
// exhaustive; there is no open map payload on the wire.
type ServerEvent interface {
	EventType() string
}

// SnapshotEvent carries the full current status of an assessment,
// sent on join and on forced resync after buffer overflow.
type SnapshotEvent struct {
	Type         string            `json:"type"`
	AssessmentID int64             `json:"assessment_id"`
	Status       *AssessmentStatus `json:"status"`
}

func NewSnapshotEvent(status *AssessmentStatus) *SnapshotEvent {
	return &SnapshotEvent{
		Type:         EventStatusSnapshot,
		AssessmentID: status.AssessmentID,
		Status:       status,
	}
}

func (e *SnapshotEvent) EventType() string { return EventStatusSnapshot }

// TaskUpdateEvent carries one grading-progress update.
type TaskUpdateEvent struct {
	Type           string          `json:"type"`
	AssessmentID   int64           `json:"assessment_id"`
	TaskID         int64           `json:"task_id"`
	SequenceNumber uint64          `json:"sequence_number"`
	Payload        json.RawMessage `json:"payload"`
	EmittedAt      time.Time       `json:"emitted_at"`
}

func NewTaskUpdateEvent(update *TaskUpdate) *TaskUpdateEvent {
	return &TaskUpdateEvent{
		Type:           EventTaskUpdate,
		AssessmentID:   update.AssessmentID,
		TaskID:         update.TaskID,
		SequenceNumber: update.SequenceNumber,
		Payload:        update.Payload,
		EmittedAt:      update.EmittedAt,
	}
}

func (e *TaskUpdateEvent) EventType() string { return EventTaskUpdate }

// ErrorEvent reports a failure scoped to the receiving connection.
type ErrorEvent struct {
	Type    string    `json:"type"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func NewErrorEvent(err error) *ErrorEvent {
	return &ErrorEvent{
		Type:    EventError,
		Kind:    KindOf(err),
		Message: err.Error(),
	}
}

func (e *ErrorEvent) EventType() string { return EventError }
