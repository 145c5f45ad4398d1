package notifyqueue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/vnahornyi/check-uz-tickets/internal/broker/messages"
)

// Queue — надёжная очередь уведомлений поверх Redis-списков.
// waiting -> processing -> (completed | delayed-retry | failed).
// Семантика at-least-once: транспорт доставки может повторить своё.
type Queue struct {
	c  *redis.Client
	ns string

	maxAttempts int
	retryDelay  time.Duration
}

func New(c *redis.Client) *Queue {
	return &Queue{
		c:           c,
		ns:          "notifications",
		maxAttempts: 5,
		retryDelay:  5 * time.Second,
	}
}

func (q *Queue) WithSettings(maxAttempts int, retryDelay time.Duration) *Queue {
	if maxAttempts > 0 {
		q.maxAttempts = maxAttempts
	}
	if retryDelay > 0 {
		q.retryDelay = retryDelay
	}
	return q
}

func (q *Queue) key(suffix string) string {
	return q.ns + ":" + suffix
}

// Enqueue валидирует job и кладёт его в хвост waiting.
// Невалидный payload — ошибка вызова, в очередь не попадает.
func (q *Queue) Enqueue(ctx context.Context, userID, message string) (string, error) {
	job := messages.NotificationJob{
		ID:         uuid.NewString(),
		UserID:     userID,
		Message:    message,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := job.Validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(job)
	if err != nil {
		return "", errors.Wrap(err, "marshal notification job")
	}
	if err := q.c.LPush(ctx, q.key("waiting"), b).Err(); err != nil {
		return "", errors.Wrap(err, "enqueue notification")
	}
	return job.ID, nil
}

type Counts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// Counts — read-only диагностика, состояние очереди не трогает.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	var out Counts
	var err error

	if out.Waiting, err = q.c.LLen(ctx, q.key("waiting")).Result(); err != nil {
		return Counts{}, errors.Wrap(err, "llen waiting")
	}
	if out.Active, err = q.c.LLen(ctx, q.key("processing")).Result(); err != nil {
		return Counts{}, errors.Wrap(err, "llen processing")
	}
	if out.Delayed, err = q.c.ZCard(ctx, q.key("delayed")).Result(); err != nil {
		return Counts{}, errors.Wrap(err, "zcard delayed")
	}
	if out.Failed, err = q.c.LLen(ctx, q.key("failed")).Result(); err != nil {
		return Counts{}, errors.Wrap(err, "llen failed")
	}

	completed, err := q.c.Get(ctx, q.key("completed")).Int64()
	if err != nil && err != redis.Nil {
		return Counts{}, errors.Wrap(err, "get completed")
	}
	out.Completed = completed

	return out, nil
}
