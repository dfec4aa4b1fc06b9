package service

import (
	"sync"
	"time"

	commonlog "chat_server/server/common/log"
	"chat_server/server/gateway/domain"
)

// SignalRelay forwards ephemeral events (typing, call signaling) to a
// chat's other online members. Typing is stateless; call signaling is
// validated against a per-chat call session so out-of-order signals are
// rejected. Nothing here is persisted.
type SignalRelay struct {
	presence *PresenceRegistry
	rooms    *RoomIndex

	mu    sync.Mutex
	calls map[string]*domain.CallSession
}

func NewSignalRelay(presence *PresenceRegistry, rooms *RoomIndex) *SignalRelay {
	return &SignalRelay{presence: presence, rooms: rooms, calls: map[string]*domain.CallSession{}}
}

func (r *SignalRelay) Typing(chatID, senderID string, typing bool) error {
	if !r.rooms.IsMember(chatID, senderID) {
		return ErrAccessDenied
	}
	r.broadcast(chatID, senderID, newTypingEvent(chatID, senderID, typing))
	return nil
}

func (r *SignalRelay) StartCall(chatID, callerID, callType string) error {
	if !r.rooms.IsMember(chatID, callerID) {
		return ErrAccessDenied
	}
	r.mu.Lock()
	if _, active := r.calls[chatID]; active {
		r.mu.Unlock()
		return ErrCallAlreadyActive
	}
	r.calls[chatID] = &domain.CallSession{
		ChatID:      chatID,
		InitiatorID: callerID,
		CallType:    callType,
		State:       domain.CallRinging,
		StartedAt:   time.Now().UTC(),
	}
	r.mu.Unlock()

	r.broadcast(chatID, callerID, newIncomingCallEvent(chatID, callerID, callType))
	return nil
}

func (r *SignalRelay) AcceptCall(chatID, userID string) error {
	return r.answerCall(chatID, userID, domain.CallAccepted, "call_accepted")
}

func (r *SignalRelay) DeclineCall(chatID, userID string) error {
	return r.answerCall(chatID, userID, domain.CallDeclined, "call_declined")
}

func (r *SignalRelay) answerCall(chatID, userID string, next domain.CallState, eventKind string) error {
	if !r.rooms.IsMember(chatID, userID) {
		return ErrAccessDenied
	}
	r.mu.Lock()
	session, ok := r.calls[chatID]
	if !ok || session.State != domain.CallRinging {
		r.mu.Unlock()
		commonlog.Warnf("event=call_signal action=%s status=rejected chat_id=%s user_id=%s", eventKind, chatID, userID)
		return ErrInvalidCallState
	}
	session.State = next
	if next.Terminal() {
		delete(r.calls, chatID)
	}
	r.mu.Unlock()

	r.broadcast(chatID, userID, newCallStateEvent(eventKind, chatID, userID))
	return nil
}

func (r *SignalRelay) EndCall(chatID, userID string) error {
	if !r.rooms.IsMember(chatID, userID) {
		return ErrAccessDenied
	}
	r.mu.Lock()
	session, ok := r.calls[chatID]
	if !ok || session.State.Terminal() {
		r.mu.Unlock()
		commonlog.Warnf("event=call_signal action=call_ended status=rejected chat_id=%s user_id=%s", chatID, userID)
		return ErrInvalidCallState
	}
	session.State = domain.CallEnded
	delete(r.calls, chatID)
	r.mu.Unlock()

	r.broadcast(chatID, userID, newCallStateEvent("call_ended", chatID, userID))
	return nil
}

// ActiveCall reports the in-flight call session for a chat, if any.
func (r *SignalRelay) ActiveCall(chatID string) (domain.CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	session, ok := r.calls[chatID]
	if !ok {
		return domain.CallSession{}, false
	}
	return *session, true
}

func (r *SignalRelay) broadcast(chatID, senderID string, event any) {
	members, ok := r.rooms.MembersOf(chatID)
	if !ok {
		return
	}
	for _, userID := range members {
		if userID == senderID {
			continue
		}
		if peer, online := r.presence.PeerFor(userID); online {
			if !peer.Send(event) {
				peer.Close()
			}
		}
	}
}
