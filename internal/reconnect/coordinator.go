package reconnect

import (
	"fmt"
	"log"
	"sync"
	"time"

	"livegrade/pkg/types"
)

// State tracks where a dropped identity is in its reconnect lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateReconnected
	StateExpired
)

// ReplayPlan is what a resumed identity gets for one room: either the
// buffered updates in ascending sequence order, or a forced resync
// when the buffer overflowed and can no longer guarantee a gap-free
// replay.
type ReplayPlan struct {
	Updates     []*types.TaskUpdate
	ForceResync bool
}

// Resumption describes everything needed to restore a reconnected
// identity: the connection ID that held its room slots and the replay
// plan per room.
type Resumption struct {
	OldConnectionID string
	Role            types.Role
	Rooms           map[int64]*ReplayPlan
}

// pendingBuffer holds updates emitted for one room while its member is
// disconnected. lastSequence rejects duplicates so a replayed buffer
// is strictly ascending with no repeats.
type pendingBuffer struct {
	updates      []*types.TaskUpdate
	lastSequence uint64
	forceResync  bool
}

type entry struct {
	userID       int64
	connectionID string
	role         types.Role
	state        State
	rooms        map[int64]*pendingBuffer
	timer        *time.Timer
	expiresAt    time.Time
}

// Coordinator implements the per-identity reconnect state machine:
// CONNECTED -> DISCONNECTED(grace timer) -> RECONNECTED or EXPIRED.
// A connected identity has no entry here. Entries are keyed by userID,
// the logical identity, because a reconnect arrives on a brand-new
// transport connection; the dropped connection ID is kept only so
// in-flight broadcasts addressed to it still find the buffer.
type Coordinator struct {
	mu           sync.Mutex
	entries      map[int64]*entry
	byConnection map[string]int64
	grace        time.Duration
	capacity     int
	onExpire     func(userID int64)
}

// NewCoordinator creates a coordinator. grace bounds how long a
// dropped identity may stay resumable; capacity bounds each room's
// pending buffer.
func NewCoordinator(grace time.Duration, capacity int) *Coordinator {
	return &Coordinator{
		entries:      make(map[int64]*entry),
		byConnection: make(map[string]int64),
		grace:        grace,
		capacity:     capacity,
	}
}

// SetExpiryHandler installs the callback invoked when a grace timer
// fires. The handler runs on the timer goroutine and should only
// enqueue work; the caller collects the expired entry afterwards with
// TakeExpired.
func (c *Coordinator) SetExpiryHandler(handler func(userID int64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onExpire = handler
}

// Disconnect opens (or extends) the grace window for a session whose
// transport dropped while it was still a room member. Sessions with no
// joined rooms have nothing to resume and get no entry.
func (c *Coordinator) Disconnect(session *types.Session) bool {
	if len(session.JoinedRooms) == 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[session.UserID]; ok {
		// Already in a grace window; keep the buffers and restart the
		// timer under the latest connection ID.
		delete(c.byConnection, existing.connectionID)
		existing.connectionID = session.ConnectionID
		existing.expiresAt = time.Now().Add(c.grace)
		existing.timer.Reset(c.grace)
		c.byConnection[session.ConnectionID] = session.UserID
		return true
	}

	e := &entry{
		userID:       session.UserID,
		connectionID: session.ConnectionID,
		role:         session.Role,
		state:        StateDisconnected,
		rooms:        make(map[int64]*pendingBuffer, len(session.JoinedRooms)),
		expiresAt:    time.Now().Add(c.grace),
	}
	for assessmentID := range session.JoinedRooms {
		e.rooms[assessmentID] = &pendingBuffer{}
	}

	userID := session.UserID
	e.timer = time.AfterFunc(c.grace, func() {
		c.mu.Lock()
		handler := c.onExpire
		c.mu.Unlock()
		if handler != nil {
			handler(userID)
		}
	})

	c.entries[userID] = e
	c.byConnection[session.ConnectionID] = userID
	return true
}

// Buffer appends an update to the pending buffer backing the given
// connection, if one exists. When the buffer is at capacity the oldest
// entry is dropped and the buffer degrades to forced resync: replay
// can no longer be gap-free, so the member will get a fresh snapshot
// on reconnect instead. Returns types.ErrBufferOverflow on the
// transition so callers can log it; buffering itself never fails hard.
func (c *Coordinator) Buffer(connectionID string, update *types.TaskUpdate) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	userID, ok := c.byConnection[connectionID]
	if !ok {
		return false, nil
	}
	e, ok := c.entries[userID]
	if !ok {
		return false, nil
	}
	buf, ok := e.rooms[update.AssessmentID]
	if !ok {
		return false, nil
	}

	if update.SequenceNumber <= buf.lastSequence && buf.lastSequence > 0 {
		// Duplicate or stale; a replayed buffer must be strictly
		// ascending.
		return true, nil
	}
	buf.lastSequence = update.SequenceNumber

	if buf.forceResync {
		// Past the point of gap-free replay; the snapshot on
		// reconnect covers everything, no need to accumulate more.
		return true, nil
	}

	buf.updates = append(buf.updates, update)
	if len(buf.updates) > c.capacity {
		// A partial replay would have a gap, so the buffer is
		// abandoned wholesale and the member resyncs from a snapshot.
		buf.updates = nil
		buf.forceResync = true
		return true, fmt.Errorf("%w: user %d assessment %d", types.ErrBufferOverflow, userID, update.AssessmentID)
	}

	return true, nil
}

// Resume closes the grace window for an identity that reconnected in
// time. Returns the resumption plan and true, or false when no grace
// entry exists and the caller should treat the session as fresh.
func (c *Coordinator) Resume(userID int64) (*Resumption, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[userID]
	if !ok {
		return nil, false
	}

	e.timer.Stop()
	e.state = StateReconnected
	delete(c.entries, userID)
	delete(c.byConnection, e.connectionID)

	res := &Resumption{
		OldConnectionID: e.connectionID,
		Role:            e.role,
		Rooms:           make(map[int64]*ReplayPlan, len(e.rooms)),
	}
	for assessmentID, buf := range e.rooms {
		res.Rooms[assessmentID] = &ReplayPlan{
			Updates:     buf.updates,
			ForceResync: buf.forceResync,
		}
	}

	log.Printf("Reconnect resumed: user=%d rooms=%d", userID, len(res.Rooms))
	return res, true
}

// TakeExpired removes the entry for an identity whose grace timer
// fired, returning the dropped connection ID and its room IDs so the
// caller can purge membership and the session. Returns false when the
// identity resumed between the timer firing and collection.
func (c *Coordinator) TakeExpired(userID int64) (string, []int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[userID]
	if !ok {
		return "", nil, false
	}

	e.state = StateExpired
	delete(c.entries, userID)
	delete(c.byConnection, e.connectionID)

	roomIDs := make([]int64, 0, len(e.rooms))
	for assessmentID := range e.rooms {
		roomIDs = append(roomIDs, assessmentID)
	}

	log.Printf("Reconnect window expired: user=%d rooms=%d", userID, len(roomIDs))
	return e.connectionID, roomIDs, true
}

// Pending reports whether an identity currently has a grace entry.
func (c *Coordinator) Pending(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.entries[userID]
	return ok
}

// GetStats returns coordinator statistics for the health endpoint.
func (c *Coordinator) GetStats() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	buffered := 0
	for _, e := range c.entries {
		for _, buf := range e.rooms {
			buffered += len(buf.updates)
		}
	}

	return map[string]int{
		"grace_entries":    len(c.entries),
		"buffered_updates": buffered,
	}
}
