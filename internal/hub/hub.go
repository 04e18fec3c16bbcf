package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"

	"livegrade/internal/dispatch"
	"livegrade/internal/reconnect"
	"livegrade/internal/registry"
	"livegrade/internal/rooms"
	"livegrade/internal/snapshot"
	"livegrade/pkg/interfaces"
	"livegrade/pkg/types"
)

// Hub is the single coordination point for connection lifecycle, room
// membership and broadcast fan-out. Every state-changing event flows
// through one goroutine, so each handler runs to completion before the
// next; mutations to sessions, rooms and pending buffers are never
// interleaved. Slow work, fetching a snapshot from the evaluation
// capability, runs outside the loop so it cannot stall unrelated
// broadcasts.
type Hub struct {
	registerChannel   chan *registerRequest
	disconnectChannel chan string
	joinChannel       chan *joinRequest
	leaveChannel      chan *leaveRequest
	publishChannel    chan *publishRequest
	expireChannel     chan int64
	shutdownChannel   chan struct{}

	registry   *registry.Registry
	rooms      *rooms.Manager
	reconnect  *reconnect.Coordinator
	dispatcher *dispatch.Dispatcher
	snapshots  *snapshot.Provider

	running bool
	mu      sync.RWMutex
}

type registerRequest struct {
	conn   interfaces.Connection
	userID int64
	role   types.Role
}

type joinRequest struct {
	connectionID string
	assessmentID int64
}

type leaveRequest struct {
	connectionID string
	assessmentID int64
}

type publishRequest struct {
	ctx          context.Context
	assessmentID int64
	taskID       int64
	payload      json.RawMessage
	result       chan publishResult
}

type publishResult struct {
	update *types.TaskUpdate
	err    error
}

// NewHub creates a hub over the core components. The reconnect
// coordinator's expiry handler is wired here so grace timers feed back
// into the coordination loop instead of mutating state from timer
// goroutines.
func NewHub(reg *registry.Registry, roomManager *rooms.Manager, coordinator *reconnect.Coordinator, dispatcher *dispatch.Dispatcher, snapshots *snapshot.Provider) *Hub {
	h := &Hub{
		registerChannel:   make(chan *registerRequest, 100),
		disconnectChannel: make(chan string, 100),
		joinChannel:       make(chan *joinRequest, 100),
		leaveChannel:      make(chan *leaveRequest, 100),
		publishChannel:    make(chan *publishRequest, 1000),
		expireChannel:     make(chan int64, 100),
		shutdownChannel:   make(chan struct{}),
		registry:          reg,
		rooms:             roomManager,
		reconnect:         coordinator,
		dispatcher:        dispatcher,
		snapshots:         snapshots,
	}

	coordinator.SetExpiryHandler(func(userID int64) {
		select {
		case h.expireChannel <- userID:
		default:
			log.Printf("Expire channel full, dropping expiry for user %d", userID)
		}
	})

	return h
}

// Start begins hub processing.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.mu.Unlock()

	log.Println("Starting broadcast hub...")
	go h.run(ctx)
	return nil
}

// Stop gracefully shuts down the hub.
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false

	log.Println("Stopping broadcast hub...")

	select {
	case <-h.shutdownChannel:
	default:
		close(h.shutdownChannel)
	}

	return nil
}

func (h *Hub) checkRunning() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.running {
		return ErrHubNotRunning
	}
	return nil
}

// Register queues an authenticated connection for registration.
func (h *Hub) Register(conn interfaces.Connection, userID int64, role types.Role) error {
	if err := h.checkRunning(); err != nil {
		return err
	}

	select {
	case h.registerChannel <- &registerRequest{conn: conn, userID: userID, role: role}:
		return nil
	default:
		return ErrRegisterChannelFull
	}
}

// Disconnect queues a transport-level disconnect for processing.
func (h *Hub) Disconnect(connectionID string) error {
	if err := h.checkRunning(); err != nil {
		return err
	}

	select {
	case h.disconnectChannel <- connectionID:
		return nil
	default:
		return ErrDisconnectChannelFull
	}
}

// Join queues a join request for an assessment room.
func (h *Hub) Join(connectionID string, assessmentID int64) error {
	if err := h.checkRunning(); err != nil {
		return err
	}

	select {
	case h.joinChannel <- &joinRequest{connectionID: connectionID, assessmentID: assessmentID}:
		return nil
	default:
		return ErrJoinChannelFull
	}
}

// Leave queues a leave request for an assessment room.
func (h *Hub) Leave(connectionID string, assessmentID int64) error {
	if err := h.checkRunning(); err != nil {
		return err
	}

	select {
	case h.leaveChannel <- &leaveRequest{connectionID: connectionID, assessmentID: assessmentID}:
		return nil
	default:
		return ErrLeaveChannelFull
	}
}

// NotifyTaskEvaluated is the capability the grading pipeline calls
// when a task has been evaluated. The notification is sequenced,
// persisted and fanned out on the hub loop; the call reports only the
// success or failure of the publish attempt itself.
func (h *Hub) NotifyTaskEvaluated(ctx context.Context, assessmentID, taskID int64, payload json.RawMessage) (*types.TaskUpdate, error) {
	if err := h.checkRunning(); err != nil {
		return nil, err
	}

	req := &publishRequest{
		ctx:          ctx,
		assessmentID: assessmentID,
		taskID:       taskID,
		payload:      payload,
		result:       make(chan publishResult, 1),
	}

	select {
	case h.publishChannel <- req:
	default:
		return nil, ErrPublishChannelFull
	}

	select {
	case res := <-req.result:
		return res.update, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run is the main coordination loop.
func (h *Hub) run(ctx context.Context) {
	defer log.Println("Hub processing stopped")

	for {
		select {
		case req := <-h.registerChannel:
			h.handleRegister(ctx, req)

		case connectionID := <-h.disconnectChannel:
			h.handleDisconnect(connectionID)

		case req := <-h.joinChannel:
			h.handleJoin(ctx, req)

		case req := <-h.leaveChannel:
			h.handleLeave(req)

		case req := <-h.publishChannel:
			update, err := h.dispatcher.Publish(req.ctx, req.assessmentID, req.taskID, req.payload)
			req.result <- publishResult{update: update, err: err}

		case userID := <-h.expireChannel:
			h.handleExpire(userID)

		case <-h.shutdownChannel:
			log.Println("Hub shutdown requested")
			return

		case <-ctx.Done():
			log.Println("Hub context cancelled")
			return
		}
	}
}

// handleRegister records the session and, when the identity resumed
// within its grace window, migrates room membership to the new
// connection and replays buffered updates before anything live can
// reach it.
func (h *Hub) handleRegister(ctx context.Context, req *registerRequest) {
	if req.conn == nil {
		log.Printf("Attempted to register nil connection")
		return
	}

	session, replaced, err := h.registry.Register(req.conn, req.userID, req.role)
	if err != nil {
		log.Printf("Registration failed for user %d: %v", req.userID, err)
		h.sendError(req.conn, err)
		// A duplicate registration keeps the original session and the
		// connection; everything else tears the transport down.
		if !errors.Is(err, types.ErrDuplicateSession) {
			if closeErr := req.conn.Close(); closeErr != nil {
				log.Printf("Failed to close connection after registration failure: %v", closeErr)
			}
		}
		return
	}

	res, resumed := h.reconnect.Resume(req.userID)
	if resumed {
		roomIDs := make([]int64, 0, len(res.Rooms))
		for assessmentID := range res.Rooms {
			roomIDs = append(roomIDs, assessmentID)
		}
		h.rooms.SwapConnection(res.OldConnectionID, session.ConnectionID, roomIDs)

		for assessmentID, plan := range res.Rooms {
			h.replayRoom(ctx, req.conn, session.UserID, assessmentID, plan)
		}

		log.Printf("Session resumed: user=%d conn=%s rooms=%d", req.userID, session.ConnectionID, len(roomIDs))
		return
	}

	// A replaced session with no grace entry means the user opened a
	// second connection while the first was still live; its room slots
	// are stale and the new connection joins from scratch.
	if replaced != nil {
		h.rooms.RemoveConnection(replaced.ConnectionID, replaced.RoomIDs())
	}

	log.Printf("Session registered: user=%d role=%s conn=%s", req.userID, req.role, session.ConnectionID)
}

// replayRoom hands a resumed member its missed updates, then a fresh
// snapshot. An overflowed buffer skips replay entirely: the snapshot
// alone resynchronizes the member.
func (h *Hub) replayRoom(ctx context.Context, conn interfaces.Connection, userID, assessmentID int64, plan *reconnect.ReplayPlan) {
	if plan.ForceResync {
		log.Printf("Forced resync: user=%d assessment=%d", userID, assessmentID)
	} else {
		for _, update := range plan.Updates {
			if err := conn.Send(types.NewTaskUpdateEvent(update)); err != nil {
				log.Printf("Replay delivery failed: user=%d assessment=%d seq=%d: %v",
					userID, assessmentID, update.SequenceNumber, err)
				return
			}
		}
	}

	go h.deliverSnapshot(ctx, conn, userID, assessmentID)
}

// handleDisconnect opens the reconnect grace window for a session that
// was still a room member; sessions with nothing joined are discarded
// immediately.
func (h *Hub) handleDisconnect(connectionID string) {
	session, exists := h.registry.MarkDisconnected(connectionID)
	if !exists {
		log.Printf("Disconnect for unknown connection: conn=%s", connectionID)
		return
	}

	if h.reconnect.Disconnect(session) {
		log.Printf("Session disconnected, grace window open: user=%d conn=%s rooms=%d",
			session.UserID, connectionID, len(session.JoinedRooms))
		return
	}

	h.registry.Unregister(connectionID)
	log.Printf("Session closed: user=%d conn=%s", session.UserID, connectionID)
}

// handleJoin authorizes and records membership on the loop, then
// fetches the snapshot off the loop so a slow evaluation capability
// cannot stall unrelated broadcasts.
func (h *Hub) handleJoin(ctx context.Context, req *joinRequest) {
	session, exists := h.registry.Lookup(req.connectionID)
	if !exists {
		log.Printf("Join from unknown connection: conn=%s", req.connectionID)
		return
	}
	conn, live := h.registry.Connection(req.connectionID)
	if !live {
		log.Printf("Join from connection without live transport: conn=%s", req.connectionID)
		return
	}

	if err := h.rooms.Join(ctx, session, req.assessmentID); err != nil {
		log.Printf("Join rejected: user=%d assessment=%d: %v", session.UserID, req.assessmentID, err)
		h.sendError(conn, err)
		return
	}

	log.Printf("Joined room: user=%d assessment=%d conn=%s", session.UserID, req.assessmentID, req.connectionID)
	go h.deliverSnapshot(ctx, conn, session.UserID, req.assessmentID)
}

func (h *Hub) handleLeave(req *leaveRequest) {
	h.rooms.Leave(req.connectionID, req.assessmentID)
	log.Printf("Left room: conn=%s assessment=%d", req.connectionID, req.assessmentID)
}

// handleExpire purges an identity whose grace window elapsed: pending
// buffers are already gone with the coordinator entry; room membership
// and the session itself go with it.
func (h *Hub) handleExpire(userID int64) {
	connectionID, roomIDs, ok := h.reconnect.TakeExpired(userID)
	if !ok {
		// Resumed between the timer firing and collection.
		return
	}

	h.rooms.RemoveConnection(connectionID, roomIDs)
	h.registry.Unregister(connectionID)
	log.Printf("Session expired: user=%d conn=%s rooms=%d", userID, connectionID, len(roomIDs))
}

// deliverSnapshot fetches the current status and sends it. If the
// connection closed while the fetch was in flight the send fails and
// the result is discarded; nothing is delivered to a dead transport.
func (h *Hub) deliverSnapshot(ctx context.Context, conn interfaces.Connection, userID, assessmentID int64) {
	status, err := h.snapshots.Snapshot(ctx, assessmentID, userID)
	if err != nil {
		log.Printf("Snapshot fetch failed: user=%d assessment=%d: %v", userID, assessmentID, err)
		h.sendError(conn, err)
		return
	}

	if err := conn.Send(types.NewSnapshotEvent(status)); err != nil {
		log.Printf("Snapshot delivery discarded: user=%d assessment=%d: %v", userID, assessmentID, err)
	}
}

// sendError reports a failure to the originating connection. Errors on
// one connection never propagate to others.
func (h *Hub) sendError(conn interfaces.Connection, cause error) {
	if err := conn.Send(types.NewErrorEvent(cause)); err != nil {
		log.Printf("Failed to send error event: %v", err)
	}
}
