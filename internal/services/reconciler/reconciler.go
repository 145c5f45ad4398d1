package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Repository interface {
	ResetStaleNotified(ctx context.Context, olderThan time.Duration) (int64, error)
	ListActiveOwners(ctx context.Context) ([]string, error)
}

type Publisher interface {
	PublishTrigger(ctx context.Context, userID string) error
}

// Reconciler закрывает два хвоста пайплайна: возвращает "давно notified"
// ссылки в игру и гарантирует перепроверку ссылок даже у молчащих
// пользователей.
type Reconciler struct {
	repo Repository
	pub  Publisher

	interval  time.Duration
	retention time.Duration

	triggerCh chan struct{}

	startedAtUnixNano int64
	lastCycleUnixNano atomic.Int64
	totalCycles       atomic.Int64
	totalResets       atomic.Int64
	totalFanout       atomic.Int64
	totalErrors       atomic.Int64
	lastErrorMu       sync.Mutex
	lastError         string
}

func New(repo Repository, pub Publisher) *Reconciler {
	return &Reconciler{
		repo:              repo,
		pub:               pub,
		interval:          180 * time.Second,
		retention:         24 * time.Hour,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (r *Reconciler) WithSettings(interval, retention time.Duration) *Reconciler {
	if interval > 0 {
		r.interval = interval
	}
	if retention > 0 {
		r.retention = retention
	}
	return r
}

// Trigger форсирует немедленный цикл (best-effort, не блокирует).
func (r *Reconciler) Trigger() {
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt   time.Time  `json:"startedAt"`
	LastCycleAt *time.Time `json:"lastCycleAt,omitempty"`
	TotalCycles int64      `json:"totalCycles"`
	TotalResets int64      `json:"totalResets"`
	TotalFanout int64      `json:"totalFanout"`
	TotalErrors int64      `json:"totalErrors"`
	LastError   string     `json:"lastError,omitempty"`
}

func (r *Reconciler) Stats() Stats {
	st := Stats{
		StartedAt:   time.Unix(0, r.startedAtUnixNano).UTC(),
		TotalCycles: r.totalCycles.Load(),
		TotalResets: r.totalResets.Load(),
		TotalFanout: r.totalFanout.Load(),
		TotalErrors: r.totalErrors.Load(),
	}
	if n := r.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	r.lastErrorMu.Lock()
	st.LastError = r.lastError
	r.lastErrorMu.Unlock()
	return st
}

// Run: один цикл сразу на старте, дальше по тикеру до отмены контекста.
// Сбой любого шага логируется, цикл не останавливается.
func (r *Reconciler) Run(ctx context.Context) error {
	r.runOnce(ctx)

	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.runOnce(ctx)
		case <-r.triggerCh:
			r.runOnce(ctx)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	r.totalCycles.Add(1)
	r.lastCycleUnixNano.Store(time.Now().UTC().UnixNano())

	// Шаг A: ссылки, уведомлённые давнее retention, снова становятся eligible.
	n, err := r.repo.ResetStaleNotified(ctx, r.retention)
	if err != nil {
		r.recordError(err)
		slog.Error("reset stale notified flags", "error", err.Error())
	} else if n > 0 {
		r.totalResets.Add(n)
		slog.Info("reset notified flags", "count", n, "older_than", r.retention.String())
	}

	// Шаг B: fan-out триггеров по всем владельцам ссылок.
	owners, err := r.repo.ListActiveOwners(ctx)
	if err != nil {
		r.recordError(err)
		slog.Error("list active owners", "error", err.Error())
		return
	}
	if len(owners) == 0 {
		return
	}

	slog.Info("periodic scan: publishing triggers", "users", len(owners))
	for _, userID := range owners {
		if err := r.pub.PublishTrigger(ctx, userID); err != nil {
			r.recordError(err)
			slog.Warn("publish trigger", "user_id", userID, "error", err.Error())
			continue
		}
		r.totalFanout.Add(1)
	}
}

func (r *Reconciler) recordError(err error) {
	r.totalErrors.Add(1)
	r.lastErrorMu.Lock()
	r.lastError = err.Error()
	r.lastErrorMu.Unlock()
}
