package main

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vnahornyi/check-uz-tickets/config"
	"github.com/vnahornyi/check-uz-tickets/internal/broker/redisbus"
	"github.com/vnahornyi/check-uz-tickets/internal/cache/rediscache"
	"github.com/vnahornyi/check-uz-tickets/internal/checker"
	deliveryfake "github.com/vnahornyi/check-uz-tickets/internal/delivery/fake"
	"github.com/vnahornyi/check-uz-tickets/internal/delivery/telegram"
	"github.com/vnahornyi/check-uz-tickets/internal/integrations/renderer"
	"github.com/vnahornyi/check-uz-tickets/internal/integrations/renderer/browserless"
	rendererfake "github.com/vnahornyi/check-uz-tickets/internal/integrations/renderer/fake"
	"github.com/vnahornyi/check-uz-tickets/internal/queue/notifyqueue"
	"github.com/vnahornyi/check-uz-tickets/internal/services/reconciler"
	"github.com/vnahornyi/check-uz-tickets/internal/services/trackworker"
	"github.com/vnahornyi/check-uz-tickets/internal/storage/pglinks"
)

// workerStorage — всё, что воркер и реконсайлер хотят от базы.
type workerStorage interface {
	trackworker.Repository
	reconciler.Repository
}

type workerFactories struct {
	newStorage  func(cfg *config.Config) (workerStorage, func(), error)
	newRedis    func(cfg *config.Config) (*redis.Client, error)
	newRenderer func(cfg *config.Config) renderer.Client
	newSender   func(cfg *config.Config) (notifyqueue.Sender, error)
}

func defaultWorkerFactories() workerFactories {
	return workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			st, err := pglinks.New(cfg.PostgresConnString())
			if err != nil {
				return nil, nil, err
			}
			return st, st.Close, nil
		},
		newRedis: func(cfg *config.Config) (*redis.Client, error) {
			return rediscache.NewClient(cfg.Redis.URL, cfg.RedisAddr(), cfg.Redis.Username, cfg.Redis.Password)
		},
		newRenderer: func(cfg *config.Config) renderer.Client {
			// Если headless-рендерер не сконфигурирован — локальный fake.
			if cfg.Tracker.RendererBaseURL != "" {
				return browserless.New(cfg.Tracker.RendererBaseURL, cfg.Tracker.RendererToken).
					WithTimings(
						time.Duration(cfg.Tracker.CheckerNavTimeoutSeconds)*time.Second,
						time.Duration(cfg.Tracker.CheckerSettleSeconds)*time.Second,
					)
			}
			return rendererfake.New()
		},
		newSender: func(cfg *config.Config) (notifyqueue.Sender, error) {
			if cfg.Telegram.BotToken != "" {
				return telegram.New(cfg.Telegram.BotToken)
			}
			return deliveryfake.New(), nil
		},
	}
}

func RunTicketWorker(ctx context.Context, cfg *config.Config, f workerFactories) error {
	interval := time.Duration(cfg.Tracker.TrackIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 180 * time.Second
	}
	retention := time.Duration(cfg.Tracker.ResetNotifiedHours) * time.Hour
	if retention <= 0 {
		retention = 24 * time.Hour
	}

	st, closeFn, err := f.newStorage(cfg)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	rdb, err := f.newRedis(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	sender, err := f.newSender(cfg)
	if err != nil {
		return err
	}

	pub := redisbus.NewPublisher(rdb, cfg.Tracker.TriggerChannel)
	sub := redisbus.NewSubscriber(rdb, cfg.Tracker.TriggerChannel)

	q := notifyqueue.New(rdb).WithSettings(
		cfg.Tracker.QueueMaxAttempts,
		time.Duration(cfg.Tracker.QueueRetryDelaySeconds)*time.Second,
	)

	chk := checker.New(f.newRenderer(cfg)).WithSettings(
		cfg.Tracker.CheckerNavAttempts,
		time.Duration(cfg.Tracker.CheckerNavTimeoutSeconds)*time.Second,
		0,
		cfg.Tracker.CheckerMarker,
	)

	rl := rediscache.NewRateLimiter(rdb)

	w := trackworker.New(st, chk, q, sub, rl).
		WithSettings(cfg.Tracker.WorkerConcurrency, int64(cfg.Tracker.WorkerRateLimitPerMinute))

	rec := reconciler.New(st, pub).WithSettings(interval, retention)

	workerErr := make(chan error, 1)
	go func() { workerErr <- w.Run(ctx) }()

	recErr := make(chan error, 1)
	go func() { recErr <- rec.Run(ctx) }()

	queueErr := make(chan error, 1)
	go func() { queueErr <- q.Run(ctx, sender) }()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runWorkerHTTPServer(ctx, workerHTTPOpts{
			httpAddr:    cfg.Tracker.WorkerHTTPAddr,
			swaggerPath: os.Getenv("swaggerPath"),
			worker:      w,
			reconciler:  rec,
			queue:       q,
			cfg:         cfg,
		})
	}()

	// При штатной остановке любая из горутин может вернуть свою ошибку
	// раньше, чем select увидит ctx.Done — нормализуем к ctx.Err().
	finish := func(err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-workerErr:
		return finish(err)
	case err := <-recErr:
		return finish(err)
	case err := <-queueErr:
		return finish(err)
	case err := <-httpErr:
		return finish(err)
	}
}
