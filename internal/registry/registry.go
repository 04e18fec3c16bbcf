package registry

import (
	"fmt"
	"log"
	"sync"
	"time"

	"livegrade/pkg/interfaces"
	"livegrade/pkg/types"
)

// Registry maps active connections to their authenticated identity and
// joined rooms. One session exists per user: registering a new
// connection for a user replaces any previous session, which covers
// both the reconnect path and a client opening a second tab.
type Registry struct {
	mu           sync.RWMutex
	byConnection map[string]*types.Session
	byUser       map[int64]*types.Session
	conns        map[string]interfaces.Connection // live transports only
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		byConnection: make(map[string]*types.Session),
		byUser:       make(map[int64]*types.Session),
		conns:        make(map[string]interfaces.Connection),
	}
}

// Register records an authenticated connection. Fails with
// types.ErrAuth when the identity is invalid and with
// types.ErrDuplicateSession when this connection is already
// registered; the original session is preserved in both cases.
// When the user already has a session on another connection, that
// session is removed and returned so the caller can migrate room
// membership; its transport, if still live, is closed.
func (r *Registry) Register(conn interfaces.Connection, userID int64, role types.Role) (*types.Session, *types.Session, error) {
	if conn == nil {
		return nil, nil, ErrNilConnection
	}
	if err := types.ValidateIdentity(userID, role); err != nil {
		return nil, nil, err
	}

	connectionID := conn.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byConnection[connectionID]; exists {
		return nil, nil, fmt.Errorf("%w: connection %s", types.ErrDuplicateSession, connectionID)
	}

	var replaced *types.Session
	if existing, exists := r.byUser[userID]; exists {
		replaced = existing
		delete(r.byConnection, existing.ConnectionID)
		if oldConn, live := r.conns[existing.ConnectionID]; live {
			delete(r.conns, existing.ConnectionID)
			// Close asynchronously to avoid holding the lock through
			// transport teardown.
			go func() {
				if err := oldConn.Close(); err != nil {
					log.Printf("Failed to close replaced connection %s: %v", existing.ConnectionID, err)
				}
			}()
		}
	}

	now := time.Now()
	session := &types.Session{
		ConnectionID: connectionID,
		UserID:       userID,
		Role:         role,
		JoinedRooms:  make(map[int64]struct{}),
		ConnectedAt:  now,
		LastSeenAt:   now,
	}

	r.byConnection[connectionID] = session
	r.byUser[userID] = session
	r.conns[connectionID] = conn

	return session, replaced, nil
}

// Lookup returns the session for a connection.
func (r *Registry) Lookup(connectionID string) (*types.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.byConnection[connectionID]
	return session, exists
}

// LookupUser returns the session for a user identity.
func (r *Registry) LookupUser(userID int64) (*types.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, exists := r.byUser[userID]
	return session, exists
}

// Connection returns the live transport for a connection, if any. A
// session in its reconnect grace window has no live transport.
func (r *Registry) Connection(connectionID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, exists := r.conns[connectionID]
	return conn, exists
}

// MarkDisconnected drops the live transport for a connection while
// keeping the session itself registered for the grace window. Returns
// the session so the caller can schedule reconnect handling.
func (r *Registry) MarkDisconnected(connectionID string) (*types.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.byConnection[connectionID]
	if !exists {
		return nil, false
	}

	delete(r.conns, connectionID)
	session.LastSeenAt = time.Now()
	return session, true
}

// Unregister removes a session entirely. Idempotent: unknown
// connections are a no-op. Room membership cleanup is the caller's
// responsibility so registry and rooms are purged together.
func (r *Registry) Unregister(connectionID string) (*types.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	session, exists := r.byConnection[connectionID]
	if !exists {
		return nil, false
	}

	delete(r.byConnection, connectionID)
	delete(r.conns, connectionID)

	// Only clear the user index if it still points at this session;
	// a replacement registration may already own it.
	if current, ok := r.byUser[session.UserID]; ok && current == session {
		delete(r.byUser, session.UserID)
	}

	return session, true
}

// AddRoom records room membership on the session side of the
// bidirectional invariant.
func (r *Registry) AddRoom(connectionID string, assessmentID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, exists := r.byConnection[connectionID]; exists {
		session.JoinedRooms[assessmentID] = struct{}{}
	}
}

// RemoveRoom clears room membership on the session side.
func (r *Registry) RemoveRoom(connectionID string, assessmentID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if session, exists := r.byConnection[connectionID]; exists {
		delete(session.JoinedRooms, assessmentID)
	}
}

// GetStats returns registry statistics for the health endpoint.
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"sessions":         len(r.byConnection),
		"live_connections": len(r.conns),
	}
}
