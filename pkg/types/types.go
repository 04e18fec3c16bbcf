package types

import (
	"encoding/json"
	"time"
)

// Role identifies what a connected user is allowed to see.
// Students are restricted to assessments they own; evaluators and
// admins may observe any assessment.
type Role string

const (
	RoleStudent   Role = "student"
	RoleEvaluator Role = "evaluator"
	RoleAdmin     Role = "admin"
)

// IsValid reports whether the role is one of the known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleStudent, RoleEvaluator, RoleAdmin:
		return true
	default:
		return false
	}
}

// CanObserve reports whether a user with this role may subscribe to
// updates for an assessment owned by ownerID.
func (r Role) CanObserve(userID, ownerID int64) bool {
	switch r {
	case RoleEvaluator, RoleAdmin:
		return true
	case RoleStudent:
		return userID == ownerID
	default:
		return false
	}
}

// Session is the authenticated state for one active (or recently
// dropped) connection. ConnectionID is unique per transport
// connection; UserID is the logical identity that survives reconnects.
// JoinedRooms must always mirror room membership: an assessment ID is
// present here exactly when the room's member set contains
// ConnectionID.
type Session struct {
	ConnectionID string             `json:"connection_id"`
	UserID       int64              `json:"user_id"`
	Role         Role               `json:"role"`
	JoinedRooms  map[int64]struct{} `json:"-"`
	ConnectedAt  time.Time          `json:"connected_at"`
	LastSeenAt   time.Time          `json:"last_seen_at"`
}

// RoomIDs returns the assessment IDs of all joined rooms.
func (s *Session) RoomIDs() []int64 {
	ids := make([]int64, 0, len(s.JoinedRooms))
	for id := range s.JoinedRooms {
		ids = append(ids, id)
	}
	return ids
}

// Assessment is the directory record used for join authorization.
// Ownership determines which student identity may observe it.
type Assessment struct {
	ID        int64     `json:"id" db:"id"`
	OwnerID   int64     `json:"owner_id" db:"owner_id"`
	Title     string    `json:"title" db:"title"`
	Status    string    `json:"status" db:"status"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// TaskUpdate is one immutable grading-progress event for a task within
// an assessment. SequenceNumber is strictly increasing per assessment
// and assigned by the dispatcher; values supplied by producers are
// ignored.
type TaskUpdate struct {
	ID             string          `json:"id"`
	AssessmentID   int64           `json:"assessment_id"`
	TaskID         int64           `json:"task_id"`
	SequenceNumber uint64          `json:"sequence_number"`
	Payload        json.RawMessage `json:"payload"`
	EmittedAt      time.Time       `json:"emitted_at"`
}

// TaskStatus is the latest known state of a single task inside a
// status snapshot.
type TaskStatus struct {
	TaskID    int64           `json:"task_id"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AssessmentStatus is the full current status of an assessment,
// fetched on (re)join to synchronize a client. AsOfSequence is the
// highest sequence number reflected in the snapshot; a client holding
// it needs no update with a lower or equal sequence number.
type AssessmentStatus struct {
	AssessmentID int64        `json:"assessment_id"`
	Tasks        []TaskStatus `json:"tasks"`
	AsOfSequence uint64       `json:"as_of_sequence"`
	FetchedAt    time.Time    `json:"fetched_at"`
}
