package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	commonlog "chat_server/server/common/log"
	"chat_server/server/gateway/domain"
)

// MessageStore is the persistence collaborator. Durable message ids and
// timestamps assigned by PersistMessage are the ordering authority for a
// chat; the pipeline never reorders around them.
type MessageStore interface {
	LoadMemberships(ctx context.Context, userID string) ([]string, error)
	MembersOf(ctx context.Context, chatID string) ([]string, error)
	PersistMessage(ctx context.Context, msg domain.Message) (domain.Message, error)
	UpdateMessageStatus(ctx context.Context, messageID string, status domain.MessageStatus) (bool, error)
	UpdateChatSummary(ctx context.Context, chatID string, last domain.Message) error
	MarkChatRead(ctx context.Context, chatID, userID string) ([]domain.StatusChange, error)
}

type SendInput struct {
	ChatID      string
	Body        string
	Kind        domain.MessageKind
	FileID      *string
	ClientMsgID string
}

type DeliveryService struct {
	store    MessageStore
	presence *PresenceRegistry
	rooms    *RoomIndex
	events   *EventPublisher
	cache    *Cache
}

func NewDeliveryService(store MessageStore, presence *PresenceRegistry, rooms *RoomIndex, events *EventPublisher, cache *Cache) *DeliveryService {
	return &DeliveryService{store: store, presence: presence, rooms: rooms, events: events, cache: cache}
}

// Send persists the message, fans it out to the chat's online members
// and returns the finalized message for the sender's acknowledgment.
// Status is delivered when at least one recipient was online, sent
// otherwise.
func (s *DeliveryService) Send(ctx context.Context, senderID, senderName string, in SendInput) (domain.Message, error) {
	if in.Kind == "" {
		in.Kind = domain.KindText
	}
	if !in.Kind.Valid() {
		return domain.Message{}, ErrInvalidKind
	}
	if !s.rooms.IsMember(in.ChatID, senderID) {
		return domain.Message{}, ErrAccessDenied
	}
	if in.Kind == domain.KindText && strings.TrimSpace(in.Body) == "" {
		return domain.Message{}, ErrEmptyBody
	}

	fresh, err := s.cache.FirstDelivery(ctx, in.ChatID, senderID, in.ClientMsgID)
	if err != nil {
		return domain.Message{}, fmt.Errorf("check client_msg_id: %w", err)
	}
	if !fresh {
		return domain.Message{}, ErrDuplicateMessage
	}

	persistStartedAt := time.Now()
	created, err := s.store.PersistMessage(ctx, domain.Message{
		ChatID:   in.ChatID,
		SenderID: senderID,
		Body:     in.Body,
		Kind:     in.Kind,
		Status:   domain.StatusSent,
		FileID:   in.FileID,
	})
	if err != nil {
		s.cache.ReleaseDelivery(ctx, in.ChatID, senderID, in.ClientMsgID)
		commonlog.Errorf("event=message_persist action=create status=failed chat_id=%s user_id=%s latency_ms=%d error=%v", in.ChatID, senderID, time.Since(persistStartedAt).Milliseconds(), err)
		if errors.Is(err, context.DeadlineExceeded) {
			return domain.Message{}, ErrDeliveryTimeout
		}
		return domain.Message{}, fmt.Errorf("persist message: %w", err)
	}
	commonlog.Infof("event=message_persist action=create status=ok chat_id=%s user_id=%s message_id=%s latency_ms=%d", in.ChatID, senderID, created.ID, time.Since(persistStartedAt).Milliseconds())

	if err := s.store.UpdateChatSummary(ctx, in.ChatID, created); err != nil {
		commonlog.Warnf("event=chat_summary action=update status=failed chat_id=%s message_id=%s error=%v", in.ChatID, created.ID, err)
	}

	created = s.fanOut(ctx, senderName, created)

	_ = s.events.Publish(ctx, "message.created", created)
	return created, nil
}

func (s *DeliveryService) fanOut(ctx context.Context, senderName string, msg domain.Message) domain.Message {
	members, ok := s.rooms.MembersOf(msg.ChatID)
	if !ok {
		return msg
	}

	targets := map[string]Peer{}
	for _, userID := range members {
		if userID == msg.SenderID {
			continue
		}
		if peer, online := s.presence.PeerFor(userID); online {
			targets[userID] = peer
		}
	}

	if len(targets) == 0 {
		return msg
	}

	// recipients see the frame already delivered; the durable flip
	// waits until at least one peer accepted it
	frame := msg
	frame.Status = domain.StatusDelivered
	event := newMessageEvent(frame, senderName)
	delivered := 0
	for userID, peer := range targets {
		if peer.Send(event) {
			delivered++
			continue
		}
		commonlog.Warnf("event=message_fanout action=deliver status=unresponsive chat_id=%s user_id=%s message_id=%s", msg.ChatID, userID, msg.ID)
		peer.Close()
	}

	if delivered > 0 {
		if _, err := s.store.UpdateMessageStatus(ctx, msg.ID, domain.StatusDelivered); err != nil {
			commonlog.Warnf("event=message_status action=update status=failed message_id=%s target=delivered error=%v", msg.ID, err)
		} else {
			msg.Status = domain.StatusDelivered
		}
	}
	commonlog.Debugf("event=message_fanout action=deliver chat_id=%s message_id=%s fanout_count=%d", msg.ChatID, msg.ID, delivered)
	return msg
}

// MarkRead advances every message in the chat not authored by userID
// to read and notifies the chat's other online members. Messages that
// are already read stay untouched.
func (s *DeliveryService) MarkRead(ctx context.Context, userID, chatID string) ([]domain.StatusChange, error) {
	if !s.rooms.IsMember(chatID, userID) {
		return nil, ErrAccessDenied
	}
	changes, err := s.store.MarkChatRead(ctx, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("mark chat read: %w", err)
	}
	if len(changes) == 0 {
		return nil, nil
	}

	members, _ := s.rooms.MembersOf(chatID)
	for _, change := range changes {
		event := newStatusUpdatedEvent(change)
		for _, memberID := range members {
			if memberID == userID {
				continue
			}
			if peer, online := s.presence.PeerFor(memberID); online {
				if !peer.Send(event) {
					peer.Close()
				}
			}
		}
	}

	_ = s.events.Publish(ctx, "message.read", map[string]any{
		"chat_id":   chatID,
		"reader_id": userID,
		"count":     len(changes),
	})
	return changes, nil
}
