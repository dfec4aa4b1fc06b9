package service

import (
	"sync"
	"time"

	commonlog "chat_server/server/common/log"
	"chat_server/server/gateway/domain"
)

type presenceState struct {
	peer       Peer
	online     bool
	lastSeenAt time.Time
}

// PresenceRegistry maps each known user to at most one live peer.
// Entries are created on first connect and kept for the process
// lifetime as "known but offline" once a user disconnects. All
// connect/disconnect transitions for a user are serialized under the
// registry lock, including severing a superseded peer.
type PresenceRegistry struct {
	mu      sync.Mutex
	entries map[string]*presenceState
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{entries: map[string]*presenceState{}}
}

// SetOnline installs peer as the user's live connection. A prior live
// peer is closed before the new one is installed, so at most one
// connection per user survives.
func (r *PresenceRegistry) SetOnline(userID string, peer Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.entries[userID]
	if !ok {
		state = &presenceState{}
		r.entries[userID] = state
	}
	if state.online && state.peer != nil && state.peer != peer {
		state.peer.Close()
		commonlog.Infof("event=presence action=supersede user_id=%s", userID)
	}
	state.peer = peer
	state.online = true
}

// SetOffline flips the user offline and stamps last-seen, but only if
// peer is still the installed connection. A superseded connection
// reporting its own teardown must not clobber the replacement.
func (r *PresenceRegistry) SetOffline(userID string, peer Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.entries[userID]
	if !ok || state.peer != peer {
		return false
	}
	state.peer = nil
	state.online = false
	state.lastSeenAt = time.Now().UTC()
	return true
}

func (r *PresenceRegistry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.entries[userID]
	return ok && state.online
}

func (r *PresenceRegistry) PeerFor(userID string) (Peer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.entries[userID]
	if !ok || !state.online || state.peer == nil {
		return nil, false
	}
	return state.peer, true
}

func (r *PresenceRegistry) Entry(userID string) (domain.PresenceEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.entries[userID]
	if !ok {
		return domain.PresenceEntry{}, false
	}
	return domain.PresenceEntry{UserID: userID, Online: state.online, LastSeenAt: state.lastSeenAt}, true
}
