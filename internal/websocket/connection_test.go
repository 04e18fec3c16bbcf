package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"livegrade/pkg/types"
)

// connPair upgrades one server-side connection and returns its wrapper
// plus the raw client side.
func connPair(t *testing.T) (*Connection, *websocket.Conn) {
	t.Helper()

	serverConn := make(chan *Connection, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		serverConn <- NewConnection(ws)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	select {
	case conn := <-serverConn:
		t.Cleanup(func() { conn.Close() })
		return conn, client
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for server connection")
		return nil, nil
	}
}

func TestConnection_SendDeliversInOrder(t *testing.T) {
	conn, client := connPair(t)

	for i := 1; i <= 5; i++ {
		event := types.NewTaskUpdateEvent(&types.TaskUpdate{
			AssessmentID:   42,
			TaskID:         1,
			SequenceNumber: uint64(i),
			EmittedAt:      time.Now(),
		})
		if err := conn.Send(event); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	for i := 1; i <= 5; i++ {
		client.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := client.ReadMessage()
		if err != nil {
			t.Fatalf("Read %d failed: %v", i, err)
		}
		var event types.TaskUpdateEvent
		if err := json.Unmarshal(data, &event); err != nil {
			t.Fatalf("Failed to decode frame: %v", err)
		}
		if event.SequenceNumber != uint64(i) {
			t.Errorf("Expected sequence %d, got %d", i, event.SequenceNumber)
		}
	}
}

func TestConnection_SendAfterCloseFails(t *testing.T) {
	conn, _ := connPair(t)

	if err := conn.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	err := conn.Send(types.NewErrorEvent(types.ErrTransport))
	if err != ErrConnectionClosed {
		t.Errorf("Expected ErrConnectionClosed, got %v", err)
	}
}

func TestConnection_CloseIsIdempotent(t *testing.T) {
	conn, _ := connPair(t)

	if err := conn.Close(); err != nil {
		t.Fatalf("First close failed: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("Second close should be a no-op, got %v", err)
	}
}

func TestConnection_QueuedEventsFlushBeforeClose(t *testing.T) {
	conn, client := connPair(t)

	if err := conn.Send(types.NewErrorEvent(types.ErrAuth)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	conn.Close()

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("Expected the queued event before teardown: %v", err)
	}
	var event types.ErrorEvent
	if err := json.Unmarshal(data, &event); err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	if event.Kind != types.KindAuthError {
		t.Errorf("Expected auth_error, got %s", event.Kind)
	}
}

func TestConnection_UniqueIDs(t *testing.T) {
	a, _ := connPair(t)
	b, _ := connPair(t)

	if a.ID() == "" || a.ID() == b.ID() {
		t.Error("Connections must get distinct non-empty IDs")
	}
}
