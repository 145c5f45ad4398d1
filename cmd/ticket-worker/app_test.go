package main

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/vnahornyi/check-uz-tickets/config"
	deliveryfake "github.com/vnahornyi/check-uz-tickets/internal/delivery/fake"
	"github.com/vnahornyi/check-uz-tickets/internal/delivery/telegram"
	rendererpkg "github.com/vnahornyi/check-uz-tickets/internal/integrations/renderer"
	"github.com/vnahornyi/check-uz-tickets/internal/integrations/renderer/browserless"
	rendererfake "github.com/vnahornyi/check-uz-tickets/internal/integrations/renderer/fake"
	"github.com/vnahornyi/check-uz-tickets/internal/models"
	"github.com/vnahornyi/check-uz-tickets/internal/queue/notifyqueue"
	"github.com/vnahornyi/check-uz-tickets/internal/storage/pglinks"
)

type fakeStorage struct{}

func (fakeStorage) ListUserLinks(ctx context.Context, telegramID string, opts pglinks.ListOptions) ([]*models.TrackedLink, error) {
	return []*models.TrackedLink{}, nil
}
func (fakeStorage) MarkLinkChecked(ctx context.Context, id uint64, available bool) error { return nil }
func (fakeStorage) MarkLinkNotified(ctx context.Context, id uint64) (bool, error)        { return false, nil }
func (fakeStorage) ResetStaleNotified(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}
func (fakeStorage) ListActiveOwners(ctx context.Context) ([]string, error) { return nil, nil }

func TestDefaultWorkerFactories_SelectRenderer(t *testing.T) {
	f := defaultWorkerFactories()

	cfgHeadless := &config.Config{}
	cfgHeadless.Tracker.RendererBaseURL = "http://localhost:3000"
	var rc rendererpkg.Client = f.newRenderer(cfgHeadless)
	_, ok := rc.(*browserless.Client)
	require.True(t, ok)

	rc = f.newRenderer(&config.Config{})
	_, ok = rc.(*rendererfake.FakeClient)
	require.True(t, ok)
}

func TestDefaultWorkerFactories_SelectSender(t *testing.T) {
	f := defaultWorkerFactories()

	s, err := f.newSender(&config.Config{})
	require.NoError(t, err)
	_, ok := s.(*deliveryfake.Sender)
	require.True(t, ok)

	// с токеном выбирается телеграм-транспорт; сам токен тут не проверяем
	cfg := &config.Config{}
	cfg.Telegram.BotToken = "x"
	s, err = f.newSender(cfg)
	if err == nil {
		_, ok = s.(*telegram.Sender)
		require.True(t, ok)
	}
}

func TestRunTicketWorker_ContextCanceled(t *testing.T) {
	mr := miniredis.RunT(t)
	calledClose := false

	f := workerFactories{
		newStorage: func(cfg *config.Config) (workerStorage, func(), error) {
			return fakeStorage{}, func() { calledClose = true }, nil
		},
		newRedis: func(cfg *config.Config) (*redis.Client, error) {
			return redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil
		},
		newRenderer: func(cfg *config.Config) rendererpkg.Client {
			return rendererfake.New()
		},
		newSender: func(cfg *config.Config) (notifyqueue.Sender, error) {
			return deliveryfake.New(), nil
		},
	}

	cfg := &config.Config{}
	cfg.Tracker.WorkerHTTPAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunTicketWorker(ctx, cfg, f)
	require.ErrorIs(t, err, context.Canceled)
	require.True(t, calledClose)
}
