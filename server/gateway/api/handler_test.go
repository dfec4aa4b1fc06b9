package api

import (
	"context"
	"errors"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	commonauth "chat_server/server/common/auth"
	"chat_server/server/gateway/domain"
	gatewayservice "chat_server/server/gateway/service"
)

// wsStubStore is an in-memory MessageStore for exercising the socket
// endpoint over a real HTTP server.
type wsStubStore struct {
	mu          sync.Mutex
	memberships map[string][]string
	members     map[string][]string
	loadErr     error
	nextID      int
	messages    []domain.Message
}

func newWSStubStore() *wsStubStore {
	return &wsStubStore{
		memberships: map[string][]string{},
		members:     map[string][]string{},
	}
}

func (s *wsStubStore) LoadMemberships(ctx context.Context, userID string) ([]string, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.memberships[userID]...), nil
}

func (s *wsStubStore) MembersOf(ctx context.Context, chatID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.members[chatID]...), nil
}

func (s *wsStubStore) PersistMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg.ID = strconv.Itoa(s.nextID)
	msg.CreatedAt = time.Now().UTC()
	s.messages = append(s.messages, msg)
	return msg, nil
}

func (s *wsStubStore) UpdateMessageStatus(ctx context.Context, messageID string, status domain.MessageStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, msg := range s.messages {
		if msg.ID == messageID && msg.Status.CanAdvanceTo(status) {
			s.messages[i].Status = status
			return true, nil
		}
	}
	return false, nil
}

func (s *wsStubStore) UpdateChatSummary(ctx context.Context, chatID string, last domain.Message) error {
	return nil
}

func (s *wsStubStore) MarkChatRead(ctx context.Context, chatID, userID string) ([]domain.StatusChange, error) {
	return nil, nil
}

type stubUserStore struct {
	mu    sync.Mutex
	names map[string]string
	calls int
}

func (s *stubUserStore) CreateUser(ctx context.Context, user domain.User, password string) (string, error) {
	return "", errors.New("not supported")
}

func (s *stubUserStore) Authenticate(ctx context.Context, email, password string) (domain.User, error) {
	return domain.User{}, errors.New("not supported")
}

func (s *stubUserStore) GetByID(ctx context.Context, userID string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	name, ok := s.names[userID]
	if !ok {
		return domain.User{}, errors.New("no such user")
	}
	return domain.User{ID: userID, Name: name, Role: domain.UserRoleUser}, nil
}

func (s *stubUserStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newGatewayFixture(t *testing.T, store *wsStubStore, users *stubUserStore) (*httptest.Server, *commonauth.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	auth := commonauth.NewService("test-secret", 30)
	presence := gatewayservice.NewPresenceRegistry()
	rooms := gatewayservice.NewRoomIndex(store)
	sideCache := gatewayservice.NewCache(nil)
	relay := gatewayservice.NewSignalRelay(presence, rooms)
	delivery := gatewayservice.NewDeliveryService(store, presence, rooms, nil, sideCache)
	sessions := gatewayservice.NewSessionManager(auth, store, presence, rooms, sideCache, 0)
	h := NewHandler(sessions, delivery, relay, rooms, users, nil, auth, 16)

	r := gin.New()
	h.RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, auth
}

func dialChatWS(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func TestChatWS_RejectedConnectReceivesErrorFrame(t *testing.T) {
	store := newWSStubStore()
	store.loadErr = context.DeadlineExceeded
	users := &stubUserStore{names: map[string]string{}}
	srv, auth := newGatewayFixture(t, store, users)

	token, err := auth.GenerateToken("u1", "Alice", "user")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	conn := dialChatWS(t, srv, token)

	frame := readFrame(t, conn)
	if frame["type"] != "error" {
		t.Fatalf("expected error frame, got %+v", frame)
	}
	if frame["error"] != "membership load timed out" {
		t.Fatalf("unexpected error message %q", frame["error"])
	}
	if _, ok := readFrameErr(conn); ok {
		t.Fatal("socket must be closed after the rejection notice")
	}
}

func readFrameErr(conn *websocket.Conn) (map[string]any, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame map[string]any
	if err := conn.ReadJSON(&frame); err != nil {
		return nil, false
	}
	return frame, true
}

func TestChatWS_MessageFlowUsesStoredSenderName(t *testing.T) {
	store := newWSStubStore()
	store.memberships["u1"] = []string{"c1"}
	store.memberships["u2"] = []string{"c1"}
	store.members["c1"] = []string{"u1", "u2"}
	users := &stubUserStore{names: map[string]string{"u1": "Alice Stored", "u2": "Bob Stored"}}
	srv, auth := newGatewayFixture(t, store, users)

	tokenU1, err := auth.GenerateToken("u1", "Claim Name", "user")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	tokenU2, err := auth.GenerateToken("u2", "Other Claim", "user")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	connU2 := dialChatWS(t, srv, tokenU2)
	if frame := readFrame(t, connU2); frame["type"] != "connected" {
		t.Fatalf("expected connected frame for u2, got %+v", frame)
	}
	connU1 := dialChatWS(t, srv, tokenU1)
	if frame := readFrame(t, connU1); frame["type"] != "connected" {
		t.Fatalf("expected connected frame for u1, got %+v", frame)
	}

	send := map[string]any{"type": "send_message", "chat_id": "c1", "text": "hello"}
	if err := connU1.WriteJSON(send); err != nil {
		t.Fatalf("write send_message: %v", err)
	}

	ack := readFrame(t, connU1)
	if ack["type"] != "message_sent" {
		t.Fatalf("expected message_sent ack, got %+v", ack)
	}
	if ack["status"] != "delivered" {
		t.Fatalf("u2 is online, ack must carry delivered, got %q", ack["status"])
	}

	incoming := readFrame(t, connU2)
	if incoming["type"] != "new_message" {
		t.Fatalf("expected new_message at u2, got %+v", incoming)
	}
	if incoming["sender_name"] != "Alice Stored" {
		t.Fatalf("sender name must come from the user record, got %q", incoming["sender_name"])
	}
	if incoming["status"] != "delivered" {
		t.Fatalf("recipient frame must carry delivered, got %q", incoming["status"])
	}

	// a round trip on u2 pins its handler past the user lookup
	if err := connU2.WriteJSON(map[string]any{"type": "mark_read", "chat_id": "c1"}); err != nil {
		t.Fatalf("write mark_read: %v", err)
	}
	if frame := readFrame(t, connU2); frame["type"] != "read_ack" {
		t.Fatalf("expected read_ack at u2, got %+v", frame)
	}
	if users.callCount() != 2 {
		t.Fatalf("expected one user lookup per connect, got %d", users.callCount())
	}
}
