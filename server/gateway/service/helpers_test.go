package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"chat_server/server/gateway/domain"
)

type fakePeer struct {
	mu     sync.Mutex
	events []any
	closed bool
	full   bool
}

func (p *fakePeer) Send(event any) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || p.full {
		return false
	}
	p.events = append(p.events, event)
	return true
}

func (p *fakePeer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakePeer) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *fakePeer) received() []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]any, len(p.events))
	copy(out, p.events)
	return out
}

func (p *fakePeer) countOfType(match func(any) bool) int {
	count := 0
	for _, event := range p.received() {
		if match(event) {
			count++
		}
	}
	return count
}

// stubStore is an in-memory MessageStore with controllable failures.
type stubStore struct {
	mu sync.Mutex

	memberships map[string][]string // userID -> chatIDs
	members     map[string][]string // chatID -> members

	loadErr       error
	membersErr    error
	persistErr    error
	statusErr     error
	summaryErr    error
	markReadErr   error
	membersCalls  int
	summaryCalls  int
	persisted     []domain.Message
	statusUpdates []domain.StatusChange
	nextID        int
}

func newStubStore() *stubStore {
	return &stubStore{
		memberships: map[string][]string{},
		members:     map[string][]string{},
	}
}

func (s *stubStore) LoadMemberships(ctx context.Context, userID string) ([]string, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.memberships[userID]...), nil
}

func (s *stubStore) MembersOf(ctx context.Context, chatID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.membersCalls++
	if s.membersErr != nil {
		return nil, s.membersErr
	}
	return append([]string(nil), s.members[chatID]...), nil
}

func (s *stubStore) PersistMessage(ctx context.Context, msg domain.Message) (domain.Message, error) {
	if s.persistErr != nil {
		return domain.Message{}, s.persistErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg.ID = strconv.Itoa(s.nextID)
	msg.CreatedAt = time.Now().UTC()
	s.persisted = append(s.persisted, msg)
	return msg, nil
}

func (s *stubStore) UpdateMessageStatus(ctx context.Context, messageID string, status domain.MessageStatus) (bool, error) {
	if s.statusErr != nil {
		return false, s.statusErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, msg := range s.persisted {
		if msg.ID != messageID {
			continue
		}
		if !msg.Status.CanAdvanceTo(status) {
			return false, nil
		}
		s.persisted[i].Status = status
		s.statusUpdates = append(s.statusUpdates, domain.StatusChange{
			MessageID: messageID, ChatID: msg.ChatID, SenderID: msg.SenderID, Status: status,
		})
		return true, nil
	}
	return false, nil
}

func (s *stubStore) UpdateChatSummary(ctx context.Context, chatID string, last domain.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaryCalls++
	return s.summaryErr
}

func (s *stubStore) MarkChatRead(ctx context.Context, chatID, userID string) ([]domain.StatusChange, error) {
	if s.markReadErr != nil {
		return nil, s.markReadErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changes := make([]domain.StatusChange, 0)
	for i, msg := range s.persisted {
		if msg.ChatID != chatID || msg.SenderID == userID || msg.Status == domain.StatusRead {
			continue
		}
		s.persisted[i].Status = domain.StatusRead
		changes = append(changes, domain.StatusChange{
			MessageID: msg.ID, ChatID: chatID, SenderID: msg.SenderID, Status: domain.StatusRead,
		})
	}
	return changes, nil
}

func (s *stubStore) messageByID(messageID string) (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.persisted {
		if msg.ID == messageID {
			return msg, true
		}
	}
	return domain.Message{}, false
}

type stubAuth struct {
	users map[string]string // token -> userID
	err   error
}

func (a *stubAuth) ParseAuthContext(token string) (string, string, string, error) {
	if a.err != nil {
		return "", "", "", a.err
	}
	userID, ok := a.users[token]
	if !ok {
		return "", "", "", ErrInvalidCredentials
	}
	return userID, "user " + userID, "user", nil
}
