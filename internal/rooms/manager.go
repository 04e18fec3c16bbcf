package rooms

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"livegrade/internal/registry"
	"livegrade/pkg/interfaces"
	"livegrade/pkg/types"
)

// Manager maintains, per assessment, the set of connections subscribed
// to it. Rooms are created lazily on first join and destroyed when the
// member set empties; a member in its reconnect grace window stays in
// the set, so a room with pending buffers is never destroyed early.
//
// Membership is recorded on both sides of the bidirectional invariant:
// the room's member set and the session's JoinedRooms always agree.
type Manager struct {
	mu        sync.RWMutex
	rooms     map[int64]map[string]struct{} // assessmentID -> connectionIDs
	registry  *registry.Registry
	directory interfaces.AssessmentDirectory
}

// NewManager creates a room manager.
func NewManager(reg *registry.Registry, directory interfaces.AssessmentDirectory) *Manager {
	return &Manager{
		rooms:     make(map[int64]map[string]struct{}),
		registry:  reg,
		directory: directory,
	}
}

// Join authorizes the session for an assessment and records
// membership. A student may only join assessments they own; evaluators
// and admins may join any. Fails with types.ErrNotFound for an unknown
// assessment, types.ErrForbidden on authorization failure, and
// types.ErrUpstream when the directory is unreachable; membership is
// unchanged on every failure. Joining a room twice is a no-op.
func (m *Manager) Join(ctx context.Context, session *types.Session, assessmentID int64) error {
	assessment, err := m.directory.GetAssessment(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			return err
		}
		return fmt.Errorf("%w: %v", types.ErrUpstream, err)
	}

	if !session.Role.CanObserve(session.UserID, assessment.OwnerID) {
		return fmt.Errorf("%w: user %d role %s assessment %d",
			types.ErrForbidden, session.UserID, session.Role, assessmentID)
	}

	m.mu.Lock()
	if m.rooms[assessmentID] == nil {
		m.rooms[assessmentID] = make(map[string]struct{})
	}
	m.rooms[assessmentID][session.ConnectionID] = struct{}{}
	m.mu.Unlock()

	m.registry.AddRoom(session.ConnectionID, assessmentID)
	return nil
}

// Leave removes the connection from a room. Idempotent: leaving a room
// that was never joined is a no-op. Empty rooms are deleted.
func (m *Manager) Leave(connectionID string, assessmentID int64) {
	m.mu.Lock()
	if members, exists := m.rooms[assessmentID]; exists {
		delete(members, connectionID)
		if len(members) == 0 {
			delete(m.rooms, assessmentID)
		}
	}
	m.mu.Unlock()

	m.registry.RemoveRoom(connectionID, assessmentID)
}

// Members returns the connection IDs subscribed to an assessment,
// including members currently in their reconnect grace window.
func (m *Manager) Members(assessmentID int64) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	members, exists := m.rooms[assessmentID]
	if !exists {
		return nil
	}

	ids := make([]string, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	return ids
}

// SwapConnection migrates room membership from a dropped connection to
// its reconnected replacement, preserving the member slot that kept
// broadcasts buffering during the grace window.
func (m *Manager) SwapConnection(oldConnectionID, newConnectionID string, assessmentIDs []int64) {
	m.mu.Lock()
	for _, assessmentID := range assessmentIDs {
		members, exists := m.rooms[assessmentID]
		if !exists {
			members = make(map[string]struct{})
			m.rooms[assessmentID] = members
		}
		delete(members, oldConnectionID)
		members[newConnectionID] = struct{}{}
	}
	m.mu.Unlock()

	for _, assessmentID := range assessmentIDs {
		m.registry.AddRoom(newConnectionID, assessmentID)
	}
}

// RemoveConnection purges a connection from the given rooms, deleting
// rooms that empty out. Used on session expiry and teardown.
func (m *Manager) RemoveConnection(connectionID string, assessmentIDs []int64) {
	m.mu.Lock()
	for _, assessmentID := range assessmentIDs {
		if members, exists := m.rooms[assessmentID]; exists {
			delete(members, connectionID)
			if len(members) == 0 {
				delete(m.rooms, assessmentID)
			}
		}
	}
	m.mu.Unlock()

	for _, assessmentID := range assessmentIDs {
		m.registry.RemoveRoom(connectionID, assessmentID)
	}
}

// GetStats returns room statistics for the health endpoint.
func (m *Manager) GetStats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totalMembers := 0
	for _, members := range m.rooms {
		totalMembers += len(members)
	}

	return map[string]int{
		"rooms":       len(m.rooms),
		"memberships": totalMembers,
	}
}
