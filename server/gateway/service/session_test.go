package service

import (
	"context"
	"errors"
	"testing"

	"chat_server/server/gateway/domain"
)

func newSessionFixture(t *testing.T) (*SessionManager, *stubStore, *PresenceRegistry, *RoomIndex) {
	t.Helper()
	store := newStubStore()
	store.memberships["u1"] = []string{"c1", "c2"}
	store.members["c1"] = []string{"u1", "u2"}
	store.members["c2"] = []string{"u1", "u3"}
	presence := NewPresenceRegistry()
	rooms := NewRoomIndex(store)
	auth := &stubAuth{users: map[string]string{"good-token": "u1"}}
	return NewSessionManager(auth, store, presence, rooms, NewCache(nil), 0), store, presence, rooms
}

func TestSessionManager_Connect(t *testing.T) {
	t.Run("joins every chat and installs the peer", func(t *testing.T) {
		sessions, _, presence, rooms := newSessionFixture(t)
		peer := &fakePeer{}

		sess, err := sessions.Connect(context.Background(), peer, "good-token")
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		if sess.UserID != "u1" || len(sess.ChatIDs) != 2 {
			t.Fatalf("unexpected session %+v", sess)
		}
		if !presence.IsOnline("u1") {
			t.Fatal("user must be online after connect")
		}
		if !rooms.IsMember("c1", "u1") || !rooms.IsMember("c2", "u3") {
			t.Fatal("room member sets must be loaded")
		}

		events := peer.received()
		if len(events) != 1 {
			t.Fatalf("expected only the connected event, got %d", len(events))
		}
		connected := events[0].(ConnectedEvent)
		if connected.UserID != "u1" || len(connected.ChatIDs) != 2 {
			t.Fatalf("unexpected connected event %+v", connected)
		}
	})

	t.Run("rejects an invalid credential", func(t *testing.T) {
		sessions, _, presence, _ := newSessionFixture(t)

		_, err := sessions.Connect(context.Background(), &fakePeer{}, "bad-token")
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("expected ErrInvalidCredentials, got %v", err)
		}
		if presence.IsOnline("u1") {
			t.Fatal("failed connect must not install presence")
		}
	})

	t.Run("maps a membership load timeout to ErrLoadTimeout", func(t *testing.T) {
		sessions, store, presence, _ := newSessionFixture(t)
		store.loadErr = context.DeadlineExceeded

		_, err := sessions.Connect(context.Background(), &fakePeer{}, "good-token")
		if !errors.Is(err, ErrLoadTimeout) {
			t.Fatalf("expected ErrLoadTimeout, got %v", err)
		}
		if presence.IsOnline("u1") {
			t.Fatal("failed connect must not install presence")
		}
	})

	t.Run("unwinds joined rooms when a later join fails", func(t *testing.T) {
		sessions, store, _, rooms := newSessionFixture(t)
		rooms.Subscribe(context.Background(), "c1")
		store.membersErr = errors.New("db down")

		_, err := sessions.Connect(context.Background(), &fakePeer{}, "good-token")
		if err == nil {
			t.Fatal("expected connect to fail")
		}
		// c1 was cached before the failure, so only its pre-existing
		// subscription survives the unwind.
		if _, ok := rooms.MembersOf("c2"); ok {
			t.Fatal("failed connect must not leave c2 subscribed")
		}
		if _, ok := rooms.MembersOf("c1"); !ok {
			t.Fatal("unwind must not release subscriptions it does not own")
		}
	})

	t.Run("a second connection supersedes the first", func(t *testing.T) {
		sessions, _, presence, _ := newSessionFixture(t)
		first, second := &fakePeer{}, &fakePeer{}

		if _, err := sessions.Connect(context.Background(), first, "good-token"); err != nil {
			t.Fatalf("first connect: %v", err)
		}
		if _, err := sessions.Connect(context.Background(), second, "good-token"); err != nil {
			t.Fatalf("second connect: %v", err)
		}

		if !first.isClosed() {
			t.Fatal("superseded peer must be closed")
		}
		peer, online := presence.PeerFor("u1")
		if !online || peer != Peer(second) {
			t.Fatal("replacement peer must be the live connection")
		}
	})
}

func TestSessionManager_Disconnect(t *testing.T) {
	t.Run("flips presence and announces offline once per chat-mate", func(t *testing.T) {
		sessions, _, presence, _ := newSessionFixture(t)
		peer := &fakePeer{}
		sess, err := sessions.Connect(context.Background(), peer, "good-token")
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		mate := &fakePeer{}
		presence.SetOnline("u2", mate)

		sessions.Disconnect(sess)

		if presence.IsOnline("u1") {
			t.Fatal("user must be offline after disconnect")
		}
		if !peer.isClosed() {
			t.Fatal("peer must be closed")
		}
		offline := mate.countOfType(func(event any) bool {
			e, ok := event.(UserOfflineEvent)
			return ok && e.UserID == "u1" && !e.LastSeenAt.IsZero()
		})
		if offline != 1 {
			t.Fatalf("expected exactly one user_offline at the chat-mate, got %d", offline)
		}
	})

	t.Run("deduplicates chat-mates shared across chats", func(t *testing.T) {
		sessions, store, presence, _ := newSessionFixture(t)
		store.members["c2"] = []string{"u1", "u2"}
		sess, err := sessions.Connect(context.Background(), &fakePeer{}, "good-token")
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		mate := &fakePeer{}
		presence.SetOnline("u2", mate)

		sessions.Disconnect(sess)

		offline := mate.countOfType(func(event any) bool {
			_, ok := event.(UserOfflineEvent)
			return ok
		})
		if offline != 1 {
			t.Fatalf("expected a single user_offline despite shared chats, got %d", offline)
		}
	})

	t.Run("is idempotent", func(t *testing.T) {
		sessions, _, presence, _ := newSessionFixture(t)
		sess, err := sessions.Connect(context.Background(), &fakePeer{}, "good-token")
		if err != nil {
			t.Fatalf("connect: %v", err)
		}
		mate := &fakePeer{}
		presence.SetOnline("u2", mate)

		sessions.Disconnect(sess)
		sessions.Disconnect(sess)

		offline := mate.countOfType(func(event any) bool {
			_, ok := event.(UserOfflineEvent)
			return ok
		})
		if offline != 1 {
			t.Fatalf("double disconnect must not re-announce, got %d", offline)
		}
	})

	t.Run("a superseded session does not announce offline or close the replacement", func(t *testing.T) {
		sessions, _, presence, _ := newSessionFixture(t)
		first, err := sessions.Connect(context.Background(), &fakePeer{}, "good-token")
		if err != nil {
			t.Fatalf("first connect: %v", err)
		}
		second, err := sessions.Connect(context.Background(), &fakePeer{}, "good-token")
		if err != nil {
			t.Fatalf("second connect: %v", err)
		}
		mate := &fakePeer{}
		presence.SetOnline("u2", mate)

		sessions.Disconnect(first)

		if !presence.IsOnline("u1") {
			t.Fatal("replacement connection must stay online")
		}
		if second.Peer.(*fakePeer).isClosed() {
			t.Fatal("replacement peer must stay open")
		}
		if got := len(mate.received()); got != 0 {
			t.Fatalf("superseded teardown must stay silent, got %d events", got)
		}
	})

	t.Run("releases room subscriptions", func(t *testing.T) {
		sessions, _, _, rooms := newSessionFixture(t)
		sess, err := sessions.Connect(context.Background(), &fakePeer{}, "good-token")
		if err != nil {
			t.Fatalf("connect: %v", err)
		}

		sessions.Disconnect(sess)

		if _, ok := rooms.MembersOf("c1"); ok {
			t.Fatal("c1 subscription must be released")
		}
		if _, ok := rooms.MembersOf("c2"); ok {
			t.Fatal("c2 subscription must be released")
		}
	})
}

func TestSessionManager_OfflineUserMisses_NothingBreaks(t *testing.T) {
	// A send while the only recipient is offline leaves the message at
	// sent; the recipient's next connect sees it through history, not a
	// live frame, so the fan-out path simply skips them.
	store := newStubStore()
	store.members["c1"] = []string{"s", "a"}
	presence := NewPresenceRegistry()
	rooms := NewRoomIndex(store)
	if err := rooms.Subscribe(context.Background(), "c1"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	svc := NewDeliveryService(store, presence, rooms, nil, NewCache(nil))

	msg, err := svc.Send(context.Background(), "s", "Sender", SendInput{ChatID: "c1", Body: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if msg.Status != domain.StatusSent {
		t.Fatalf("expected sent, got %s", msg.Status)
	}
	persisted, ok := store.messageByID(msg.ID)
	if !ok || persisted.Status != domain.StatusSent {
		t.Fatalf("message must be durably stored at sent, got %+v ok=%v", persisted, ok)
	}
}
