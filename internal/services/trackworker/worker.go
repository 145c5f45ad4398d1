package trackworker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vnahornyi/check-uz-tickets/internal/broker/messages"
	"github.com/vnahornyi/check-uz-tickets/internal/models"
	"github.com/vnahornyi/check-uz-tickets/internal/storage/pglinks"
)

type Repository interface {
	ListUserLinks(ctx context.Context, telegramID string, opts pglinks.ListOptions) ([]*models.TrackedLink, error)
	MarkLinkChecked(ctx context.Context, id uint64, available bool) error
	MarkLinkNotified(ctx context.Context, id uint64) (bool, error)
}

type Checker interface {
	Check(ctx context.Context, url string) models.CheckOutcome
}

type Enqueuer interface {
	Enqueue(ctx context.Context, userID, message string) (string, error)
}

type Subscriber interface {
	Consume(ctx context.Context, handler func(ev messages.TriggerEvent)) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Worker struct {
	repo    Repository
	checker Checker
	queue   Enqueuer
	bus     Subscriber
	rl      RateLimiter

	concurrency        int
	rateLimitPerMinute int64

	// Один проход по пользователю за раз: триггеры от бота и от реконсайлера
	// могут прилетать одновременно, а два параллельных read-modify-write по
	// notified дают дубль уведомления.
	userMu    sync.Mutex
	userLocks map[string]*sync.Mutex

	startedAtUnixNano   int64
	lastTriggerUnixNano atomic.Int64
	totalTriggers       atomic.Int64
	totalChecked        atomic.Int64
	totalNotified       atomic.Int64
	totalErrors         atomic.Int64
	inFlight            atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, checker Checker, queue Enqueuer, bus Subscriber, rl RateLimiter) *Worker {
	return &Worker{
		repo: repo, checker: checker, queue: queue, bus: bus, rl: rl,
		concurrency:        4,
		rateLimitPerMinute: 60,
		userLocks:          make(map[string]*sync.Mutex),
		startedAtUnixNano:  time.Now().UTC().UnixNano(),
	}
}

func (w *Worker) WithSettings(concurrency int, rlPerMin int64) *Worker {
	if concurrency > 0 {
		w.concurrency = concurrency
	}
	if rlPerMin > 0 {
		w.rateLimitPerMinute = rlPerMin
	}
	return w
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalTriggers int64      `json:"totalTriggers"`
	TotalChecked  int64      `json:"totalChecked"`
	TotalNotified int64      `json:"totalNotified"`
	TotalErrors   int64      `json:"totalErrors"`
	InFlight      int64      `json:"inFlight"`
	LastError     string     `json:"lastError,omitempty"`
}

func (w *Worker) Stats() Stats {
	st := Stats{
		StartedAt:     time.Unix(0, w.startedAtUnixNano).UTC(),
		TotalTriggers: w.totalTriggers.Load(),
		TotalChecked:  w.totalChecked.Load(),
		TotalNotified: w.totalNotified.Load(),
		TotalErrors:   w.totalErrors.Load(),
		InFlight:      w.inFlight.Load(),
	}
	if n := w.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	w.lastErrorMu.Lock()
	st.LastError = w.lastError
	w.lastErrorMu.Unlock()
	return st
}

// Run подписывается на шину триггеров и раздаёт события обработчикам.
// Семафор ограничивает число одновременно открытых браузерных контекстов.
func (w *Worker) Run(ctx context.Context) error {
	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup

	err := w.bus.Consume(ctx, func(ev messages.TriggerEvent) {
		w.totalTriggers.Add(1)
		w.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())

		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		wg.Add(1)
		w.inFlight.Add(1)
		go func() {
			defer func() {
				w.inFlight.Add(-1)
				<-sem
				wg.Done()
			}()
			w.HandleTrigger(ctx, ev.UserID)
		}()
	})

	wg.Wait()
	return err
}

// HandleTrigger проверяет все eligible-ссылки пользователя последовательно.
// Ошибка по одной ссылке логируется и не прерывает остальные.
func (w *Worker) HandleTrigger(ctx context.Context, userID string) {
	unlock := w.lockUser(userID)
	defer unlock()

	links, err := w.repo.ListUserLinks(ctx, userID, pglinks.ListOptions{
		IncludeNotified: false,
		IncludeIgnored:  false,
	})
	if err != nil {
		w.recordError(err)
		slog.Error("load eligible links", "user_id", userID, "error", err.Error())
		return
	}

	for _, l := range links {
		w.checkOne(ctx, userID, l)
	}
}

func (w *Worker) checkOne(ctx context.Context, userID string, l *models.TrackedLink) {
	now := time.Now().UTC()

	if w.rl != nil && w.rateLimitPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:render:%s", now.Format("200601021504"))
		allowed, n, err := w.rl.Allow(ctx, minuteKey, w.rateLimitPerMinute, 70*time.Second)
		if err != nil {
			w.recordError(err)
			slog.Error("rate limiter", "error", err.Error())
		} else if !allowed {
			// Слишком много рендеров в минуту: притормозим, чтобы разгрузить источник.
			slog.Warn("render rate limit exceeded", "count", n)
			time.Sleep(500 * time.Millisecond)
		}
	}

	outcome := w.checker.Check(ctx, l.Link)
	w.totalChecked.Add(1)

	// INDETERMINATE трактуем как "билетов нет": транзиентный сбой сети
	// не должен будить пользователя ложной тревогой.
	available := outcome == models.OutcomeAvailable

	if err := w.repo.MarkLinkChecked(ctx, l.ID, available); err != nil {
		// Результат проверки этого цикла потерян, но остальные ссылки идём проверять.
		w.recordError(err)
		slog.Error("persist check result", "link_id", l.ID, "error", err.Error())
	}

	if !available {
		return
	}

	// Сначала атомарно взводим notified: проигравший конкурирующий проход
	// не получит второй enqueue за тот же эпизод доступности.
	won, err := w.repo.MarkLinkNotified(ctx, l.ID)
	if err != nil {
		w.recordError(err)
		slog.Error("mark link notified", "link_id", l.ID, "error", err.Error())
		return
	}
	if !won {
		return
	}

	msg := fmt.Sprintf("🎟️ Квитки знайдено для вашого посилання: %s \nПеревірте сайт!", l.Link)
	jobID, err := w.queue.Enqueue(ctx, userID, msg)
	if err != nil {
		w.recordError(err)
		slog.Error("enqueue notification", "link_id", l.ID, "user_id", userID, "error", err.Error())
		return
	}
	w.totalNotified.Add(1)
	slog.Info("notification enqueued", "job_id", jobID, "link_id", l.ID, "user_id", userID)
}

func (w *Worker) lockUser(userID string) func() {
	w.userMu.Lock()
	mu, ok := w.userLocks[userID]
	if !ok {
		mu = &sync.Mutex{}
		w.userLocks[userID] = mu
	}
	w.userMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

func (w *Worker) recordError(err error) {
	w.totalErrors.Add(1)
	w.lastErrorMu.Lock()
	w.lastError = err.Error()
	w.lastErrorMu.Unlock()
}
