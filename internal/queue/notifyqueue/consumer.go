package notifyqueue

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/vnahornyi/check-uz-tickets/internal/broker/messages"
)

type Sender interface {
	Send(ctx context.Context, userID, text string) error
}

const pollDelay = 250 * time.Millisecond

// Run крутит цикл доставки до отмены контекста: сначала возвращает в waiting
// дозревшие retry из delayed, потом снимает один job и обрабатывает его.
func (q *Queue) Run(ctx context.Context, sender Sender) error {
	// Консьюмер один: всё, что лежит в processing на старте, осталось от
	// упавшего прошлого запуска и должно быть доставлено повторно.
	if err := q.reclaimProcessing(ctx); err != nil && ctx.Err() == nil {
		slog.Error("reclaim stranded notifications", "error", err.Error())
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := q.promoteDelayed(ctx); err != nil && ctx.Err() == nil {
			slog.Error("promote delayed notifications", "error", err.Error())
		}

		raw, err := q.c.LMove(ctx, q.key("waiting"), q.key("processing"), "RIGHT", "LEFT").Result()
		if err == redis.Nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollDelay):
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("dequeue notification", "error", err.Error())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollDelay):
			}
			continue
		}

		q.processOne(ctx, sender, raw)
	}
}

func (q *Queue) processOne(ctx context.Context, sender Sender, raw string) {
	// В любом исходе job покидает processing ровно один раз,
	// даже если контекст отменили после успешной отправки.
	cleanup := context.WithoutCancel(ctx)
	defer func() {
		if err := q.c.LRem(cleanup, q.key("processing"), 1, raw).Err(); err != nil {
			slog.Error("remove job from processing", "error", err.Error())
		}
	}()

	var job messages.NotificationJob
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		// Яд: не повторяем, сразу в failed для разбора оператором.
		slog.Error("malformed notification job", "payload", raw, "error", err.Error())
		q.moveToFailed(ctx, raw)
		return
	}
	if err := job.Validate(); err != nil {
		slog.Error("invalid notification job", "job_id", job.ID, "error", err.Error())
		q.moveToFailed(ctx, raw)
		return
	}

	if err := sender.Send(ctx, job.UserID, job.Message); err != nil {
		q.retryOrFail(ctx, job, err)
		return
	}

	if err := q.c.Incr(ctx, q.key("completed")).Err(); err != nil {
		slog.Error("incr completed counter", "error", err.Error())
	}
	slog.Info("notification delivered", "job_id", job.ID, "user_id", job.UserID, "attempt", job.Attempts+1)
}

func (q *Queue) retryOrFail(ctx context.Context, job messages.NotificationJob, cause error) {
	job.Attempts++
	if job.Attempts >= q.maxAttempts {
		slog.Error("notification job failed permanently",
			"job_id", job.ID, "user_id", job.UserID, "attempts", job.Attempts, "error", cause.Error())
		b, _ := json.Marshal(job)
		q.moveToFailed(ctx, string(b))
		return
	}

	// Линейный backoff: attempt * retryDelay.
	readyAt := time.Now().UTC().Add(time.Duration(job.Attempts) * q.retryDelay)
	b, _ := json.Marshal(job)
	if err := q.c.ZAdd(ctx, q.key("delayed"), redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: string(b),
	}).Err(); err != nil {
		slog.Error("schedule notification retry", "job_id", job.ID, "error", err.Error())
		q.moveToFailed(ctx, string(b))
		return
	}
	slog.Warn("notification delivery failed, retry scheduled",
		"job_id", job.ID, "user_id", job.UserID, "attempt", job.Attempts, "ready_at", readyAt, "error", cause.Error())
}

func (q *Queue) moveToFailed(ctx context.Context, raw string) {
	if err := q.c.RPush(ctx, q.key("failed"), raw).Err(); err != nil {
		slog.Error("push job to failed list", "error", err.Error())
	}
}

func (q *Queue) reclaimProcessing(ctx context.Context) error {
	for {
		_, err := q.c.LMove(ctx, q.key("processing"), q.key("waiting"), "RIGHT", "LEFT").Result()
		if err == redis.Nil {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reclaim processing")
		}
	}
}

func (q *Queue) promoteDelayed(ctx context.Context) error {
	now := time.Now().UTC().UnixMilli()
	due, err := q.c.ZRangeByScore(ctx, q.key("delayed"), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		return errors.Wrap(err, "zrangebyscore delayed")
	}
	for _, raw := range due {
		if err := q.c.ZRem(ctx, q.key("delayed"), raw).Err(); err != nil {
			return errors.Wrap(err, "zrem delayed")
		}
		if err := q.c.LPush(ctx, q.key("waiting"), raw).Err(); err != nil {
			return errors.Wrap(err, "requeue delayed")
		}
	}
	return nil
}
