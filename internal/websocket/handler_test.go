package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"livegrade/internal/auth"
	"livegrade/internal/dispatch"
	"livegrade/internal/hub"
	"livegrade/internal/reconnect"
	"livegrade/internal/registry"
	"livegrade/internal/rooms"
	"livegrade/internal/snapshot"
	"livegrade/pkg/types"
)

const testSecret = "handler-test-secret"

type fakeDirectory struct {
	mu          sync.Mutex
	assessments map[int64]*types.Assessment
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{assessments: make(map[int64]*types.Assessment)}
}

func (d *fakeDirectory) add(id, ownerID int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.assessments[id] = &types.Assessment{ID: id, OwnerID: ownerID, Title: "Assessment", Status: "active"}
}

func (d *fakeDirectory) CreateAssessment(ctx context.Context, a *types.Assessment) error {
	d.add(a.ID, a.OwnerID)
	return nil
}

func (d *fakeDirectory) GetAssessment(ctx context.Context, id int64) (*types.Assessment, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	a, ok := d.assessments[id]
	if !ok {
		return nil, fmt.Errorf("%w: assessment %d", types.ErrNotFound, id)
	}
	return a, nil
}

func (d *fakeDirectory) StoreTaskUpdate(ctx context.Context, u *types.TaskUpdate) error { return nil }
func (d *fakeDirectory) MaxSequence(ctx context.Context, id int64) (uint64, error)      { return 0, nil }
func (d *fakeDirectory) LatestTaskStatuses(ctx context.Context, id int64) ([]types.TaskStatus, error) {
	return nil, nil
}
func (d *fakeDirectory) HealthCheck(ctx context.Context) error { return nil }

type fakeEvaluation struct{}

func (s *fakeEvaluation) GetAssessmentStatus(ctx context.Context, assessmentID, userID int64) (*types.AssessmentStatus, error) {
	return &types.AssessmentStatus{AssessmentID: assessmentID, FetchedAt: time.Now()}, nil
}

func signToken(t *testing.T, userID int64, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		UserID: userID,
		Role:   role,
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}
	return signed
}

func testEndpoint(t *testing.T) (string, *fakeDirectory) {
	t.Helper()

	reg := registry.NewRegistry()
	dir := newFakeDirectory()
	roomManager := rooms.NewManager(reg, dir)
	coordinator := reconnect.NewCoordinator(time.Minute, 16)
	dispatcher := dispatch.NewDispatcher(roomManager, reg, coordinator, dir)
	provider := snapshot.NewProvider(&fakeEvaluation{}, time.Second)

	h := hub.NewHub(reg, roomManager, coordinator, dispatcher, provider)
	if err := h.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start hub: %v", err)
	}
	t.Cleanup(func() { h.Stop() })

	handler := NewHandler(h, auth.NewVerifier(testSecret), HandlerConfig{
		AuthTimeout:  time.Second,
		ReadTimeout:  5 * time.Second,
		PingInterval: time.Second,
	})

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http"), dir
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event types.ClientEvent) {
	t.Helper()
	if err := ws.WriteJSON(event); err != nil {
		t.Fatalf("Failed to write event: %v", err)
	}
}

// readEnvelope reads one frame and returns its type plus raw bytes.
func readEnvelope(t *testing.T, ws *websocket.Conn) (string, []byte) {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read frame: %v", err)
	}
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("Failed to decode frame: %v", err)
	}
	return envelope.Type, data
}

func authenticate(t *testing.T, ws *websocket.Conn, userID int64, role string) {
	t.Helper()
	send(t, ws, types.ClientEvent{Type: types.EventAuthenticate, Token: signToken(t, userID, role)})
}

func TestHandler_AuthenticateThenJoinDeliversSnapshot(t *testing.T) {
	url, dir := testEndpoint(t)
	dir.add(42, 7)

	ws := dial(t, url)
	authenticate(t, ws, 7, "student")
	send(t, ws, types.ClientEvent{Type: types.EventJoin, AssessmentID: 42})

	eventType, data := readEnvelope(t, ws)
	if eventType != types.EventStatusSnapshot {
		t.Fatalf("Expected snapshot, got %s: %s", eventType, data)
	}
	var snap types.SnapshotEvent
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("Failed to decode snapshot: %v", err)
	}
	if snap.AssessmentID != 42 {
		t.Errorf("Expected snapshot for assessment 42, got %d", snap.AssessmentID)
	}
}

func TestHandler_InvalidTokenRejected(t *testing.T) {
	url, _ := testEndpoint(t)

	ws := dial(t, url)
	send(t, ws, types.ClientEvent{Type: types.EventAuthenticate, Token: "garbage"})

	eventType, data := readEnvelope(t, ws)
	if eventType != types.EventError {
		t.Fatalf("Expected error event, got %s", eventType)
	}
	var errEvent types.ErrorEvent
	json.Unmarshal(data, &errEvent)
	if errEvent.Kind != types.KindAuthError {
		t.Errorf("Expected auth_error, got %s", errEvent.Kind)
	}

	// The transport closes after the rejection.
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := ws.ReadMessage(); err == nil {
		t.Error("Expected the connection to close after auth failure")
	}
}

func TestHandler_JoinBeforeAuthenticateRejected(t *testing.T) {
	url, dir := testEndpoint(t)
	dir.add(42, 7)

	ws := dial(t, url)
	send(t, ws, types.ClientEvent{Type: types.EventJoin, AssessmentID: 42})

	eventType, data := readEnvelope(t, ws)
	if eventType != types.EventError {
		t.Fatalf("Expected error event, got %s: %s", eventType, data)
	}
	var errEvent types.ErrorEvent
	json.Unmarshal(data, &errEvent)
	if errEvent.Kind != types.KindAuthError {
		t.Errorf("Expected auth_error, got %s", errEvent.Kind)
	}
}

func TestHandler_ForbiddenJoinReportsError(t *testing.T) {
	url, dir := testEndpoint(t)
	dir.add(42, 8) // another student's assessment

	ws := dial(t, url)
	authenticate(t, ws, 7, "student")
	send(t, ws, types.ClientEvent{Type: types.EventJoin, AssessmentID: 42})

	eventType, data := readEnvelope(t, ws)
	if eventType != types.EventError {
		t.Fatalf("Expected error event, got %s", eventType)
	}
	var errEvent types.ErrorEvent
	json.Unmarshal(data, &errEvent)
	if errEvent.Kind != types.KindForbidden {
		t.Errorf("Expected forbidden, got %s", errEvent.Kind)
	}
}

func TestHandler_RepeatAuthenticateRejected(t *testing.T) {
	url, dir := testEndpoint(t)
	dir.add(42, 7)

	ws := dial(t, url)
	authenticate(t, ws, 7, "student")
	// Prove the first authenticate landed before re-authenticating.
	send(t, ws, types.ClientEvent{Type: types.EventJoin, AssessmentID: 42})
	if eventType, _ := readEnvelope(t, ws); eventType != types.EventStatusSnapshot {
		t.Fatalf("Expected snapshot first, got %s", eventType)
	}

	authenticate(t, ws, 7, "student")
	eventType, data := readEnvelope(t, ws)
	if eventType != types.EventError {
		t.Fatalf("Expected error event, got %s", eventType)
	}
	var errEvent types.ErrorEvent
	json.Unmarshal(data, &errEvent)
	if errEvent.Kind != types.KindDuplicateSession {
		t.Errorf("Expected duplicate_session, got %s", errEvent.Kind)
	}
}

func TestHandler_MalformedFrameReportsErrorAndKeepsConnection(t *testing.T) {
	url, dir := testEndpoint(t)
	dir.add(42, 7)

	ws := dial(t, url)
	authenticate(t, ws, 7, "student")

	if err := ws.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("Failed to write frame: %v", err)
	}
	if eventType, _ := readEnvelope(t, ws); eventType != types.EventError {
		t.Fatalf("Expected error event, got %s", eventType)
	}

	// The connection survives a malformed frame.
	send(t, ws, types.ClientEvent{Type: types.EventJoin, AssessmentID: 42})
	if eventType, _ := readEnvelope(t, ws); eventType != types.EventStatusSnapshot {
		t.Error("Connection should still work after a malformed frame")
	}
}

func TestHandler_UnknownEventTypeReportsError(t *testing.T) {
	url, _ := testEndpoint(t)

	ws := dial(t, url)
	authenticate(t, ws, 7, "student")
	send(t, ws, types.ClientEvent{Type: "subscribe"})

	eventType, _ := readEnvelope(t, ws)
	if eventType != types.EventError {
		t.Errorf("Expected error event for unknown type, got %s", eventType)
	}
}
