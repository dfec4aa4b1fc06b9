package domain

import "time"

type MessageKind string
type MessageStatus string
type CallState string
type UserRole string

const (
	KindText   MessageKind = "text"
	KindMedia  MessageKind = "media"
	KindSystem MessageKind = "system"
)

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

const (
	CallRinging  CallState = "ringing"
	CallAccepted CallState = "accepted"
	CallDeclined CallState = "declined"
	CallEnded    CallState = "ended"
)

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleUser  UserRole = "user"
)

func (k MessageKind) Valid() bool {
	switch k {
	case KindText, KindMedia, KindSystem:
		return true
	}
	return false
}

// Rank orders the delivery lifecycle. A transition is legal only to a
// strictly higher rank; everything else is a no-op.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	}
	return 0
}

func (s MessageStatus) CanAdvanceTo(next MessageStatus) bool {
	return next.Rank() > s.Rank()
}

func (s CallState) Terminal() bool {
	return s == CallDeclined || s == CallEnded
}

// Message is immutable after creation except for Status, which only moves
// forward through sent -> delivered -> read.
type Message struct {
	ID        string        `json:"id"`
	ChatID    string        `json:"chat_id"`
	SenderID  string        `json:"sender_id"`
	Body      string        `json:"body"`
	Kind      MessageKind   `json:"kind"`
	Status    MessageStatus `json:"status"`
	FileID    *string       `json:"file_id,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}

// StatusChange records one message advancing to a new status, with the
// author so read receipts can be routed back.
type StatusChange struct {
	MessageID string        `json:"message_id"`
	ChatID    string        `json:"chat_id"`
	SenderID  string        `json:"sender_id"`
	Status    MessageStatus `json:"status"`
}

type PresenceEntry struct {
	UserID     string    `json:"user_id"`
	Online     bool      `json:"online"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// CallSession exists only while signaling for a chat is in flight.
type CallSession struct {
	ChatID      string    `json:"chat_id"`
	InitiatorID string    `json:"initiator_id"`
	CallType    string    `json:"call_type"`
	State       CallState `json:"state"`
	StartedAt   time.Time `json:"started_at"`
}

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	Role         UserRole  `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

type FileObject struct {
	FileID       string    `json:"file_id"`
	OwnerID      string    `json:"owner_id"`
	FileName     string    `json:"file_name"`
	ObjectKey    string    `json:"object_key"`
	ThumbnailKey string    `json:"thumbnail_key,omitempty"`
	ContentType  string    `json:"content_type"`
	SizeBytes    int64     `json:"size_bytes"`
	CreatedAt    time.Time `json:"created_at"`
}
