package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestRole_IsValid(t *testing.T) {
	valid := []Role{RoleStudent, RoleEvaluator, RoleAdmin}
	for _, role := range valid {
		if !role.IsValid() {
			t.Errorf("Expected role %q to be valid", role)
		}
	}

	invalid := []Role{"", "grader", "STUDENT", "root"}
	for _, role := range invalid {
		if role.IsValid() {
			t.Errorf("Expected role %q to be invalid", role)
		}
	}
}

func TestRole_CanObserve(t *testing.T) {
	// Students only see their own assessments
	if !RoleStudent.CanObserve(7, 7) {
		t.Error("Student should observe their own assessment")
	}
	if RoleStudent.CanObserve(7, 8) {
		t.Error("Student should not observe another user's assessment")
	}

	// Evaluators and admins see everything
	if !RoleEvaluator.CanObserve(7, 8) {
		t.Error("Evaluator should observe any assessment")
	}
	if !RoleAdmin.CanObserve(7, 8) {
		t.Error("Admin should observe any assessment")
	}

	// Unknown roles see nothing
	if Role("grader").CanObserve(7, 7) {
		t.Error("Unknown role should observe nothing")
	}
}

func TestValidateIdentity(t *testing.T) {
	if err := ValidateIdentity(1, RoleStudent); err != nil {
		t.Errorf("Expected valid identity, got %v", err)
	}

	if err := ValidateIdentity(0, RoleStudent); !errors.Is(err, ErrAuth) {
		t.Errorf("Expected ErrAuth for zero user id, got %v", err)
	}
	if err := ValidateIdentity(-3, RoleAdmin); !errors.Is(err, ErrAuth) {
		t.Errorf("Expected ErrAuth for negative user id, got %v", err)
	}
	if err := ValidateIdentity(1, Role("wizard")); !errors.Is(err, ErrAuth) {
		t.Errorf("Expected ErrAuth for unknown role, got %v", err)
	}
}

func TestTaskUpdate_Validate(t *testing.T) {
	update := &TaskUpdate{
		AssessmentID: 42,
		TaskID:       7,
		Payload:      json.RawMessage(`{"state":"passed"}`),
	}
	if err := update.Validate(); err != nil {
		t.Errorf("Expected valid update, got %v", err)
	}

	bad := &TaskUpdate{AssessmentID: 0, TaskID: 7}
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for zero assessment id")
	}

	bad = &TaskUpdate{AssessmentID: 42, TaskID: 0}
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for zero task id")
	}

	bad = &TaskUpdate{AssessmentID: 42, TaskID: 7, Payload: json.RawMessage(`{not json`)}
	if err := bad.Validate(); err == nil {
		t.Error("Expected error for malformed payload")
	}

	huge := &TaskUpdate{
		AssessmentID: 42,
		TaskID:       7,
		Payload:      json.RawMessage(fmt.Sprintf(`{"blob":%q}`, strings.Repeat("x", MaxPayloadBytes))),
	}
	if err := huge.Validate(); err == nil {
		t.Error("Expected error for oversized payload")
	}

	// Empty payload is allowed; some pipeline stages only signal.
	empty := &TaskUpdate{AssessmentID: 42, TaskID: 7}
	if err := empty.Validate(); err != nil {
		t.Errorf("Expected empty payload to be valid, got %v", err)
	}
}

func TestKindOf_MapsTaxonomy(t *testing.T) {
	cases := []struct {
		err  error
		kind ErrorKind
	}{
		{ErrAuth, KindAuthError},
		{ErrForbidden, KindForbidden},
		{ErrNotFound, KindNotFound},
		{ErrDuplicateSession, KindDuplicateSession},
		{ErrUpstream, KindUpstreamError},
		{ErrTransport, KindTransportError},
		{ErrBufferOverflow, KindBufferOverflow},
		{errors.New("something else"), KindInternal},
	}

	for _, c := range cases {
		if got := KindOf(c.err); got != c.kind {
			t.Errorf("KindOf(%v) = %q, expected %q", c.err, got, c.kind)
		}
	}

	// Wrapped sentinels still classify
	wrapped := fmt.Errorf("join rejected: %w", ErrForbidden)
	if got := KindOf(wrapped); got != KindForbidden {
		t.Errorf("KindOf(wrapped) = %q, expected %q", got, KindForbidden)
	}
}

func TestServerEvents_WireShape(t *testing.T) {
	update := &TaskUpdate{
		ID:             "u1",
		AssessmentID:   42,
		TaskID:         7,
		SequenceNumber: 3,
		Payload:        json.RawMessage(`{"state":"passed"}`),
		EmittedAt:      time.Now(),
	}

	event := NewTaskUpdateEvent(update)
	if event.EventType() != EventTaskUpdate {
		t.Errorf("Expected event type %q, got %q", EventTaskUpdate, event.EventType())
	}

	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("Failed to marshal task update event: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}
	if decoded["type"] != EventTaskUpdate {
		t.Errorf("Expected wire type %q, got %v", EventTaskUpdate, decoded["type"])
	}
	if decoded["sequence_number"] != float64(3) {
		t.Errorf("Expected sequence_number 3, got %v", decoded["sequence_number"])
	}

	errEvent := NewErrorEvent(fmt.Errorf("no: %w", ErrForbidden))
	if errEvent.Kind != KindForbidden {
		t.Errorf("Expected error event kind %q, got %q", KindForbidden, errEvent.Kind)
	}
	if errEvent.EventType() != EventError {
		t.Errorf("Expected event type %q, got %q", EventError, errEvent.EventType())
	}

	status := &AssessmentStatus{AssessmentID: 42, AsOfSequence: 9}
	snapEvent := NewSnapshotEvent(status)
	if snapEvent.AssessmentID != 42 {
		t.Errorf("Expected snapshot assessment 42, got %d", snapEvent.AssessmentID)
	}
	if snapEvent.EventType() != EventStatusSnapshot {
		t.Errorf("Expected event type %q, got %q", EventStatusSnapshot, snapEvent.EventType())
	}
}

func TestSession_RoomIDs(t *testing.T) {
	session := &Session{
		ConnectionID: "c1",
		UserID:       7,
		Role:         RoleStudent,
		JoinedRooms:  map[int64]struct{}{42: {}, 43: {}},
	}

	ids := session.RoomIDs()
	if len(ids) != 2 {
		t.Fatalf("Expected 2 room ids, got %d", len(ids))
	}
	seen := map[int64]bool{}
	for _, id := range ids {
		seen[id] = true
	}
	if !seen[42] || !seen[43] {
		t.Errorf("Expected rooms 42 and 43, got %v", ids)
	}
}
