package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	commonlog "chat_server/server/common/log"
)

type tokenVerifier interface {
	ParseAuthContext(token string) (userID, name, role string, err error)
}

// Session is the per-connection state built at connect time and torn
// down exactly once at disconnect.
type Session struct {
	UserID  string
	Name    string
	Role    string
	Peer    Peer
	ChatIDs []string

	once sync.Once
}

// SessionManager owns the connect/authenticate/join/teardown sequence
// for every incoming connection.
type SessionManager struct {
	auth        tokenVerifier
	store       MessageStore
	presence    *PresenceRegistry
	rooms       *RoomIndex
	cache       *Cache
	loadTimeout time.Duration
}

const DefaultLoadTimeout = 10 * time.Second

func NewSessionManager(auth tokenVerifier, store MessageStore, presence *PresenceRegistry, rooms *RoomIndex, cache *Cache, loadTimeout time.Duration) *SessionManager {
	if loadTimeout <= 0 {
		loadTimeout = DefaultLoadTimeout
	}
	return &SessionManager{auth: auth, store: store, presence: presence, rooms: rooms, cache: cache, loadTimeout: loadTimeout}
}

// Connect validates the credential, joins the user's chats and installs
// the peer as the user's live connection, superseding any prior one.
// The peer becomes reachable for fan-out only after every room is
// joined, so a message arriving mid-setup still sees the user offline.
func (m *SessionManager) Connect(ctx context.Context, peer Peer, credential string) (*Session, error) {
	userID, name, role, err := m.auth.ParseAuthContext(credential)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	loadCtx, cancel := context.WithTimeout(ctx, m.loadTimeout)
	defer cancel()

	chatIDs, err := m.store.LoadMemberships(loadCtx, userID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrLoadTimeout
		}
		return nil, fmt.Errorf("load memberships: %w", err)
	}

	subscribed := make([]string, 0, len(chatIDs))
	for _, chatID := range chatIDs {
		if err := m.rooms.Subscribe(loadCtx, chatID); err != nil {
			for _, joined := range subscribed {
				m.rooms.Unsubscribe(joined)
			}
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, ErrLoadTimeout
			}
			return nil, err
		}
		subscribed = append(subscribed, chatID)
	}

	m.presence.SetOnline(userID, peer)
	m.cache.TouchLastSeen(ctx, userID, true, time.Now())

	sess := &Session{UserID: userID, Name: name, Role: role, Peer: peer, ChatIDs: subscribed}
	peer.Send(newConnectedEvent(userID, subscribed))
	commonlog.Infof("event=session action=connect status=ok user_id=%s chat_count=%d", userID, len(subscribed))
	return sess, nil
}

// Disconnect flips presence offline, announces the departure to the
// user's chats and releases the room subscriptions. It is idempotent
// and completes all side effects before returning, so a message intent
// racing the disconnect observes up-to-date presence.
func (m *SessionManager) Disconnect(sess *Session) {
	if sess == nil {
		return
	}
	sess.once.Do(func() {
		current := m.presence.SetOffline(sess.UserID, sess.Peer)
		if current {
			entry, _ := m.presence.Entry(sess.UserID)
			m.cache.TouchLastSeen(context.Background(), sess.UserID, false, entry.LastSeenAt)
			m.broadcastOffline(sess, entry.LastSeenAt)
		}
		for _, chatID := range sess.ChatIDs {
			m.rooms.Unsubscribe(chatID)
		}
		sess.Peer.Close()
		commonlog.Infof("event=session action=disconnect status=ok user_id=%s superseded=%t", sess.UserID, !current)
	})
}

func (m *SessionManager) broadcastOffline(sess *Session, lastSeenAt time.Time) {
	event := newUserOfflineEvent(sess.UserID, lastSeenAt)
	notified := map[string]struct{}{}
	for _, chatID := range sess.ChatIDs {
		members, ok := m.rooms.MembersOf(chatID)
		if !ok {
			continue
		}
		for _, userID := range members {
			if userID == sess.UserID {
				continue
			}
			if _, done := notified[userID]; done {
				continue
			}
			notified[userID] = struct{}{}
			if peer, online := m.presence.PeerFor(userID); online {
				if !peer.Send(event) {
					peer.Close()
				}
			}
		}
	}
}
