package service

import (
	"context"
	"fmt"
	"sync"

	commonlog "chat_server/server/common/log"
)

type membershipSource interface {
	MembersOf(ctx context.Context, chatID string) ([]string, error)
}

type roomEntry struct {
	members map[string]struct{}
	refs    int
}

// RoomIndex caches chat membership for every chat that at least one live
// connection is subscribed to. Member sets are loaded from storage on
// first subscribe and dropped when the last subscriber leaves; they can
// go stale against persisted membership until Resubscribe is invoked.
type RoomIndex struct {
	source membershipSource
	mu     sync.RWMutex
	rooms  map[string]*roomEntry
}

func NewRoomIndex(source membershipSource) *RoomIndex {
	return &RoomIndex{source: source, rooms: map[string]*roomEntry{}}
}

func (i *RoomIndex) Subscribe(ctx context.Context, chatID string) error {
	i.mu.RLock()
	_, cached := i.rooms[chatID]
	i.mu.RUnlock()

	var members []string
	if !cached {
		loaded, err := i.source.MembersOf(ctx, chatID)
		if err != nil {
			return fmt.Errorf("load members of chat %s: %w", chatID, err)
		}
		members = loaded
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	entry, ok := i.rooms[chatID]
	if !ok {
		entry = &roomEntry{members: map[string]struct{}{}}
		for _, userID := range members {
			entry.members[userID] = struct{}{}
		}
		i.rooms[chatID] = entry
	}
	entry.refs++
	return nil
}

func (i *RoomIndex) Unsubscribe(chatID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	entry, ok := i.rooms[chatID]
	if !ok {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(i.rooms, chatID)
	}
}

// Resubscribe reloads the member set from storage. It is the hook the
// storage side calls after membership changes so routing does not stay
// stale for the lifetime of existing connections.
func (i *RoomIndex) Resubscribe(ctx context.Context, chatID string) error {
	i.mu.RLock()
	_, ok := i.rooms[chatID]
	i.mu.RUnlock()
	if !ok {
		return nil
	}
	loaded, err := i.source.MembersOf(ctx, chatID)
	if err != nil {
		return fmt.Errorf("reload members of chat %s: %w", chatID, err)
	}

	i.mu.Lock()
	defer i.mu.Unlock()
	entry, ok := i.rooms[chatID]
	if !ok {
		return nil
	}
	entry.members = map[string]struct{}{}
	for _, userID := range loaded {
		entry.members[userID] = struct{}{}
	}
	commonlog.Infof("event=room_index action=resubscribe chat_id=%s member_count=%d", chatID, len(loaded))
	return nil
}

func (i *RoomIndex) MembersOf(chatID string) ([]string, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	entry, ok := i.rooms[chatID]
	if !ok {
		return nil, false
	}
	members := make([]string, 0, len(entry.members))
	for userID := range entry.members {
		members = append(members, userID)
	}
	return members, true
}

func (i *RoomIndex) IsMember(chatID, userID string) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	entry, ok := i.rooms[chatID]
	if !ok {
		return false
	}
	_, member := entry.members[userID]
	return member
}
