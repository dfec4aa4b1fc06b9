package service

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	commonlog "chat_server/server/common/log"
)

const eventsExchange = "chat.events"

// EventPublisher exports message lifecycle events to the chat.events
// topic exchange for downstream consumers (indexers, push senders).
// Publishing is best-effort: the delivery pipeline never waits on it.
type EventPublisher struct {
	channel *amqp.Channel
}

func NewEventPublisher(conn *amqp.Connection) (*EventPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := ch.ExchangeDeclare(eventsExchange, "topic", true, false, false, false, nil); err != nil {
		return nil, err
	}
	return &EventPublisher{channel: ch}, nil
}

func (p *EventPublisher) Publish(ctx context.Context, key string, payload any) error {
	if p == nil || p.channel == nil {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	err = p.channel.PublishWithContext(ctx, eventsExchange, key, false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
		Timestamp:   time.Now(),
	})
	if err != nil {
		commonlog.Warnf("event=event_publisher action=publish status=failed key=%s error=%v", key, err)
	}
	return err
}

func (p *EventPublisher) Close() {
	if p == nil || p.channel == nil {
		return
	}
	_ = p.channel.Close()
}
