package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vnahornyi/check-uz-tickets/config"
	"github.com/vnahornyi/check-uz-tickets/internal/api/linksapi"
	"github.com/vnahornyi/check-uz-tickets/internal/broker/redisbus"
	"github.com/vnahornyi/check-uz-tickets/internal/cache/rediscache"
	"github.com/vnahornyi/check-uz-tickets/internal/queue/notifyqueue"
	"github.com/vnahornyi/check-uz-tickets/internal/services/links"
	"github.com/vnahornyi/check-uz-tickets/internal/storage/pglinks"
)

type ticketAPIApp struct {
	ctx    context.Context
	cancel context.CancelFunc
	opts   ticketAPIOpts
	api    *linksapi.LinksAPI

	closeDB    func()
	closeRedis func() error
}

func mustBootstrapTicketAPI() *ticketAPIApp {
	cfg, err := config.LoadConfig(os.Getenv("configPath"))
	if err != nil {
		panic(fmt.Sprintf("ошибка парсинга конфига, %v", err))
	}

	httpAddr := cfg.Tracker.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}

	cooldown := time.Duration(cfg.Tracker.AbsentCooldownMinutes) * time.Minute
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	cacheTTL := time.Duration(cfg.Tracker.LinksCacheTTLSeconds) * time.Second
	if cacheTTL <= 0 {
		cacheTTL = time.Minute
	}

	st := mustOpenPostgresWithRetry(cfg.PostgresConnString(), 60*time.Second)

	rdb, err := rediscache.NewClient(cfg.Redis.URL, cfg.RedisAddr(), cfg.Redis.Username, cfg.Redis.Password)
	if err != nil {
		panic(fmt.Sprintf("redis is not reachable: %v", err))
	}
	rc := rediscache.New(rdb)

	pub := redisbus.NewPublisher(rdb, cfg.Tracker.TriggerChannel)
	q := notifyqueue.New(rdb)

	svc := links.New(st, pub, q, rc).
		WithSettings(cfg.Tracker.MaxLinksPerUser, cooldown, cacheTTL)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	return &ticketAPIApp{
		ctx:    ctx,
		cancel: cancel,
		opts: ticketAPIOpts{
			httpAddr:    httpAddr,
			swaggerPath: os.Getenv("swaggerPath"),
		},
		api:        linksapi.New(svc),
		closeDB:    st.Close,
		closeRedis: rdb.Close,
	}
}

func mustOpenPostgresWithRetry(connString string, wait time.Duration) *pglinks.Storage {
	deadline := time.Now().Add(wait)
	var lastErr error
	for time.Now().Before(deadline) {
		st, err := pglinks.New(connString)
		if err == nil {
			return st
		}
		lastErr = err
		time.Sleep(1 * time.Second)
	}
	panic(fmt.Sprintf("postgres is not ready after %s: %v", wait, lastErr))
}

func (a *ticketAPIApp) Close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.closeRedis != nil {
		_ = a.closeRedis()
	}
	if a.closeDB != nil {
		a.closeDB()
	}
}

func (a *ticketAPIApp) Run() error {
	return runTicketAPI(a.ctx, a.opts, a.api)
}
