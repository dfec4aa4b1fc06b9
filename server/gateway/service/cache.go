package service

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	commonlog "chat_server/server/common/log"
)

const (
	messageIdempotencyTTL = 24 * time.Hour
	lastSeenKeyTTL        = 7 * 24 * time.Hour
)

// Cache holds the optional Redis-backed concerns of the gateway:
// client_msg_id dedupe for resent frames and a best-effort last-seen
// mirror. A nil client disables both without affecting delivery.
type Cache struct {
	redis *redis.Client
}

func NewCache(client *redis.Client) *Cache {
	return &Cache{redis: client}
}

// FirstDelivery claims a client-supplied message id. It returns false
// when the same id was already claimed within the TTL window.
func (c *Cache) FirstDelivery(ctx context.Context, chatID, senderID, clientMsgID string) (bool, error) {
	if c == nil || c.redis == nil || clientMsgID == "" {
		return true, nil
	}
	key := fmt.Sprintf("ws:message:idempotency:%s:%s:%s", chatID, senderID, clientMsgID)
	ok, err := c.redis.SetNX(ctx, key, "1", messageIdempotencyTTL).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// ReleaseDelivery drops an idempotency claim after a failed persist so
// the client can legitimately retry the same client_msg_id.
func (c *Cache) ReleaseDelivery(ctx context.Context, chatID, senderID, clientMsgID string) {
	if c == nil || c.redis == nil || clientMsgID == "" {
		return
	}
	key := fmt.Sprintf("ws:message:idempotency:%s:%s:%s", chatID, senderID, clientMsgID)
	_, _ = c.redis.Del(ctx, key).Result()
}

func (c *Cache) TouchLastSeen(ctx context.Context, userID string, online bool, at time.Time) {
	if c == nil || c.redis == nil {
		return
	}
	key := "presence:last_seen:" + userID
	value := at.UTC().Format(time.RFC3339Nano)
	if online {
		value = "online"
	}
	if err := c.redis.Set(ctx, key, value, lastSeenKeyTTL).Err(); err != nil {
		commonlog.Debugf("event=presence_cache action=touch status=failed user_id=%s error=%v", userID, err)
	}
}
