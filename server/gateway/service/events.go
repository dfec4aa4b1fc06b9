package service

import (
	"time"

	"chat_server/server/gateway/domain"
)

// Inbound frame read off a client socket. Fields beyond Type are
// populated per event kind.
type InboundEvent struct {
	Type        string  `json:"type"`
	ChatID      string  `json:"chat_id"`
	Text        string  `json:"text"`
	Kind        string  `json:"kind"`
	FileID      *string `json:"file_id,omitempty"`
	ClientMsgID string  `json:"client_msg_id,omitempty"`
	CallType    string  `json:"call_type,omitempty"`
}

const (
	EventSendMessage = "send_message"
	EventMarkRead    = "mark_read"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"
	EventStartCall   = "start_call"
	EventAcceptCall  = "accept_call"
	EventDeclineCall = "decline_call"
	EventEndCall     = "end_call"
	EventPing        = "ping"
)

type ConnectedEvent struct {
	Type        string    `json:"type"`
	UserID      string    `json:"user_id"`
	ChatIDs     []string  `json:"chat_ids"`
	ConnectedAt time.Time `json:"connected_at"`
}

type NewMessageEvent struct {
	Type       string `json:"type"`
	SenderName string `json:"sender_name"`
	domain.Message
}

type MessageSentEvent struct {
	Type string `json:"type"`
	domain.Message
}

type StatusUpdatedEvent struct {
	Type      string               `json:"type"`
	ChatID    string               `json:"chat_id"`
	MessageID string               `json:"message_id"`
	Status    domain.MessageStatus `json:"status"`
}

type TypingEvent struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
	UserID string `json:"user_id"`
}

type IncomingCallEvent struct {
	Type     string `json:"type"`
	ChatID   string `json:"chat_id"`
	CallerID string `json:"caller_id"`
	CallType string `json:"call_type"`
}

type CallStateEvent struct {
	Type     string `json:"type"`
	ChatID   string `json:"chat_id"`
	ByUserID string `json:"by_user_id"`
}

type UserOfflineEvent struct {
	Type       string    `json:"type"`
	UserID     string    `json:"user_id"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

type ReadAckEvent struct {
	Type   string `json:"type"`
	ChatID string `json:"chat_id"`
	Count  int    `json:"count"`
}

type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func newConnectedEvent(userID string, chatIDs []string) ConnectedEvent {
	return ConnectedEvent{Type: "connected", UserID: userID, ChatIDs: chatIDs, ConnectedAt: time.Now().UTC()}
}

func newMessageEvent(msg domain.Message, senderName string) NewMessageEvent {
	return NewMessageEvent{Type: "new_message", SenderName: senderName, Message: msg}
}

func newMessageSentEvent(msg domain.Message) MessageSentEvent {
	return MessageSentEvent{Type: "message_sent", Message: msg}
}

func newStatusUpdatedEvent(change domain.StatusChange) StatusUpdatedEvent {
	return StatusUpdatedEvent{Type: "message_status_updated", ChatID: change.ChatID, MessageID: change.MessageID, Status: change.Status}
}

func newTypingEvent(chatID, userID string, typing bool) TypingEvent {
	kind := "user_typing"
	if !typing {
		kind = "user_stop_typing"
	}
	return TypingEvent{Type: kind, ChatID: chatID, UserID: userID}
}

func newIncomingCallEvent(chatID, callerID, callType string) IncomingCallEvent {
	return IncomingCallEvent{Type: "incoming_call", ChatID: chatID, CallerID: callerID, CallType: callType}
}

func newCallStateEvent(kind, chatID, byUserID string) CallStateEvent {
	return CallStateEvent{Type: kind, ChatID: chatID, ByUserID: byUserID}
}

func newUserOfflineEvent(userID string, lastSeenAt time.Time) UserOfflineEvent {
	return UserOfflineEvent{Type: "user_offline", UserID: userID, LastSeenAt: lastSeenAt}
}

func NewReadAckEvent(chatID string, count int) ReadAckEvent {
	return ReadAckEvent{Type: "read_ack", ChatID: chatID, Count: count}
}

func NewErrorEvent(message string) ErrorEvent {
	return ErrorEvent{Type: "error", Error: message}
}
