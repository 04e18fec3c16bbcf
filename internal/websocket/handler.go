package websocket

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"livegrade/internal/auth"
	"livegrade/internal/hub"
	"livegrade/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Origin checking is deployment policy; the reverse proxy in
		// front of this service enforces it in production.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// HandlerConfig carries the transport timeouts.
type HandlerConfig struct {
	AuthTimeout  time.Duration // window for the authenticate event after upgrade
	ReadTimeout  time.Duration // pong-refreshed read deadline
	PingInterval time.Duration
}

// Handler upgrades HTTP requests to WebSocket connections and drives
// the inbound event loop for each: authenticate first, then join and
// leave until the transport drops.
type Handler struct {
	hub      *hub.Hub
	verifier *auth.Verifier
	config   HandlerConfig
}

// NewHandler creates a WebSocket handler.
func NewHandler(h *hub.Hub, verifier *auth.Verifier, config HandlerConfig) *Handler {
	return &Handler{
		hub:      h,
		verifier: verifier,
		config:   config,
	}
}

// HandleWebSocket upgrades the request and runs the connection's read
// loop. Identity is established by the first inbound event; until
// then the connection may not join anything.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	conn := NewConnection(ws)
	go h.readLoop(conn, ws)
}

// readLoop consumes inbound events until the transport drops, then
// reports the disconnect to the hub so the reconnect grace window can
// open.
func (h *Handler) readLoop(conn *Connection, ws *websocket.Conn) {
	defer func() {
		if err := h.hub.Disconnect(conn.ID()); err != nil {
			log.Printf("Disconnect notification failed: conn=%s: %v", conn.ID(), err)
		}
		conn.Close()
	}()

	if err := h.authenticate(conn, ws); err != nil {
		log.Printf("Authentication failed: conn=%s: %v", conn.ID(), err)
		h.sendError(conn, err)
		return
	}

	stopPing := h.startKeepalive(conn, ws)
	defer stopPing()

	for {
		if err := ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
			return
		}

		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("Connection read error: conn=%s: %v", conn.ID(), err)
			}
			return
		}

		var event types.ClientEvent
		if err := json.Unmarshal(data, &event); err != nil {
			h.sendError(conn, fmt.Errorf("malformed event: %w", err))
			continue
		}

		h.dispatchEvent(conn, &event)
	}
}

// authenticate reads the first event, which must carry a valid token,
// and registers the resulting identity with the hub.
func (h *Handler) authenticate(conn *Connection, ws *websocket.Conn) error {
	if err := ws.SetReadDeadline(time.Now().Add(h.config.AuthTimeout)); err != nil {
		return fmt.Errorf("%w: %v", types.ErrAuth, err)
	}

	_, data, err := ws.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: no authenticate event: %v", types.ErrAuth, err)
	}

	var event types.ClientEvent
	if err := json.Unmarshal(data, &event); err != nil {
		return fmt.Errorf("%w: malformed authenticate event: %v", types.ErrAuth, err)
	}
	if event.Type != types.EventAuthenticate {
		return fmt.Errorf("%w: %v", types.ErrAuth, ErrAuthenticateFirst)
	}

	userID, role, err := h.verifier.Verify(event.Token)
	if err != nil {
		return err
	}

	return h.hub.Register(conn, userID, role)
}

// dispatchEvent routes one authenticated inbound event to the hub.
func (h *Handler) dispatchEvent(conn *Connection, event *types.ClientEvent) {
	switch event.Type {
	case types.EventJoin:
		if err := h.hub.Join(conn.ID(), event.AssessmentID); err != nil {
			h.sendError(conn, err)
		}
	case types.EventLeave:
		if err := h.hub.Leave(conn.ID(), event.AssessmentID); err != nil {
			h.sendError(conn, err)
		}
	case types.EventAuthenticate:
		// Re-registration of a live connection is rejected; the
		// original session is preserved.
		h.sendError(conn, types.ErrDuplicateSession)
	default:
		h.sendError(conn, fmt.Errorf("unknown event type %q", event.Type))
	}
}

// startKeepalive pings on an interval and extends the read deadline on
// pong. Returns a stop function for the read loop's defer.
func (h *Handler) startKeepalive(conn *Connection, ws *websocket.Conn) func() {
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	ticker := time.NewTicker(h.config.PingInterval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.Ping(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(done)
	}
}

func (h *Handler) sendError(conn *Connection, cause error) {
	if err := conn.Send(types.NewErrorEvent(cause)); err != nil {
		log.Printf("Failed to send error event: conn=%s: %v", conn.ID(), err)
	}
}
