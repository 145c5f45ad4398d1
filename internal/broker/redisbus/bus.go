package redisbus

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/vnahornyi/check-uz-tickets/internal/broker/messages"
)

const DefaultTriggerChannel = "trackLinks"

// Publisher публикует TriggerEvent в pub/sub-канал.
type Publisher struct {
	c       *redis.Client
	channel string
}

func NewPublisher(c *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultTriggerChannel
	}
	return &Publisher{c: c, channel: channel}
}

func (p *Publisher) PublishTrigger(ctx context.Context, userID string) error {
	ev := messages.TriggerEvent{UserID: userID}
	if err := ev.Validate(); err != nil {
		return err
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal trigger event")
	}
	if err := p.c.Publish(ctx, p.channel, b).Err(); err != nil {
		return errors.Wrap(err, "publish trigger")
	}
	return nil
}

// Subscriber — подписка на канал триггеров.
type Subscriber struct {
	c       *redis.Client
	channel string
}

func NewSubscriber(c *redis.Client, channel string) *Subscriber {
	if channel == "" {
		channel = DefaultTriggerChannel
	}
	return &Subscriber{c: c, channel: channel}
}

// Consume блокируется до отмены контекста. Битые сообщения логируются
// и отбрасываются: один кривой payload не должен ронять подписчика.
func (s *Subscriber) Consume(ctx context.Context, handler func(ev messages.TriggerEvent)) error {
	sub := s.c.Subscribe(ctx, s.channel)
	defer func() { _ = sub.Close() }()

	// Дожидаемся подтверждения подписки, чтобы не потерять ранние события.
	if _, err := sub.Receive(ctx); err != nil {
		return errors.Wrap(err, "subscribe")
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New("subscription channel closed")
			}
			var ev messages.TriggerEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				slog.Error("invalid trigger message", "payload", msg.Payload, "error", err.Error())
				continue
			}
			if err := ev.Validate(); err != nil {
				slog.Error("invalid trigger message", "payload", msg.Payload, "error", err.Error())
				continue
			}
			handler(ev)
		}
	}
}
