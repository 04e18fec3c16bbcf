package types

import (
	"encoding/json"
	"fmt"
)

// MaxPayloadBytes caps a single task update payload. Larger documents
// should be fetched through a snapshot, not pushed through the
// broadcast path.
const MaxPayloadBytes = 65536

// ValidateIdentity checks the identity fields established at connect
// time. Failures are authentication errors: the connection is rejected.
func ValidateIdentity(userID int64, role Role) error {
	if userID <= 0 {
		return fmt.Errorf("%w: user id must be positive", ErrAuth)
	}
	if !role.IsValid() {
		return fmt.Errorf("%w: unknown role %q", ErrAuth, role)
	}
	return nil
}

// Validate ensures a task update is well formed before it enters the
// dispatch path.
func (u *TaskUpdate) Validate() error {
	if u.AssessmentID <= 0 {
		return fmt.Errorf("assessment id must be positive, got %d", u.AssessmentID)
	}
	if u.TaskID <= 0 {
		return fmt.Errorf("task id must be positive, got %d", u.TaskID)
	}
	if len(u.Payload) > MaxPayloadBytes {
		return fmt.Errorf("payload exceeds %d byte limit", MaxPayloadBytes)
	}
	if len(u.Payload) > 0 && !json.Valid(u.Payload) {
		return fmt.Errorf("payload is not valid JSON")
	}
	return nil
}

// Validate ensures an assessment directory record is well formed.
func (a *Assessment) Validate() error {
	if a.OwnerID <= 0 {
		return fmt.Errorf("owner id must be positive, got %d", a.OwnerID)
	}
	if len(a.Title) < 1 || len(a.Title) > 200 {
		return fmt.Errorf("title must be 1-200 characters")
	}
	return nil
}
