package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"chat_server/server/gateway/domain"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

func (r *MessageRepository) LoadMemberships(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT chat_id
		FROM chat_members
		WHERE user_id=$1
		ORDER BY chat_id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	chatIDs := make([]string, 0)
	for rows.Next() {
		var chatID string
		if err := rows.Scan(&chatID); err != nil {
			return nil, err
		}
		chatIDs = append(chatIDs, chatID)
	}
	return chatIDs, rows.Err()
}

func (r *MessageRepository) MembersOf(ctx context.Context, chatID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id
		FROM chat_members
		WHERE chat_id=$1
	`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	userIDs := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, err
		}
		userIDs = append(userIDs, userID)
	}
	return userIDs, rows.Err()
}

// PersistMessage assigns the durable id and server timestamp. message_id
// is a monotonically increasing identity column, which makes it the
// ordering authority within a chat.
func (r *MessageRepository) PersistMessage(ctx context.Context, message domain.Message) (domain.Message, error) {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO messages(chat_id, sender_id, body, kind, status, file_id)
		VALUES($1, $2, $3, $4, $5, $6)
		RETURNING message_id::text, created_at
	`, message.ChatID, message.SenderID, message.Body, message.Kind, message.Status, message.FileID).Scan(&message.ID, &message.CreatedAt)
	return message, err
}

// UpdateMessageStatus advances the status only forward; a regression is
// a no-op reported as not updated.
func (r *MessageRepository) UpdateMessageStatus(ctx context.Context, messageID string, status domain.MessageStatus) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE messages
		SET status=$2
		WHERE message_id=$1::bigint
		  AND array_position(ARRAY['sent','delivered','read'], status) < array_position(ARRAY['sent','delivered','read'], $2::text)
	`, messageID, status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *MessageRepository) UpdateChatSummary(ctx context.Context, chatID string, last domain.Message) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE chats
		SET last_message_id=$2::bigint, last_message_body=$3, last_message_kind=$4, last_message_at=$5
		WHERE chat_id=$1
	`, chatID, last.ID, last.Body, last.Kind, last.CreatedAt)
	return err
}

func (r *MessageRepository) MarkChatRead(ctx context.Context, chatID, userID string) ([]domain.StatusChange, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE messages
		SET status='read'
		WHERE chat_id=$1 AND sender_id<>$2 AND status<>'read'
		RETURNING message_id::text, sender_id
	`, chatID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	changes := make([]domain.StatusChange, 0)
	for rows.Next() {
		change := domain.StatusChange{ChatID: chatID, Status: domain.StatusRead}
		if err := rows.Scan(&change.MessageID, &change.SenderID); err != nil {
			return nil, err
		}
		changes = append(changes, change)
	}
	return changes, rows.Err()
}
