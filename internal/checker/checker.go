package checker

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/vnahornyi/check-uz-tickets/internal/integrations/renderer"
	"github.com/vnahornyi/check-uz-tickets/internal/models"
)

// DefaultNoResultsMarker — фрагмент разметки, которым страница поиска
// сообщает "рейсов не найдено". Наличие маркера => билетов нет.
const DefaultNoResultsMarker = "no-results"

type Checker struct {
	rc renderer.Client

	attempts   int
	navTimeout time.Duration
	retryBase  time.Duration
	marker     string

	// sleep подменяется в тестах, чтобы не ждать реальные задержки.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(rc renderer.Client) *Checker {
	return &Checker{
		rc:         rc,
		attempts:   3,
		navTimeout: 120 * time.Second,
		retryBase:  2 * time.Second,
		marker:     DefaultNoResultsMarker,
		sleep:      sleepCtx,
	}
}

func (c *Checker) WithSettings(attempts int, navTimeout, retryBase time.Duration, marker string) *Checker {
	if attempts > 0 {
		c.attempts = attempts
	}
	if navTimeout > 0 {
		c.navTimeout = navTimeout
	}
	if retryBase > 0 {
		c.retryBase = retryBase
	}
	if marker != "" {
		c.marker = marker
	}
	return c
}

// Check — чистая функция URL -> исход, без персистентных сайд-эффектов.
// До attempts попыток навигации, каждая со своим таймаутом; между неудачами
// пауза retryBase * номер попытки. Если все попытки сгорели — INDETERMINATE:
// как трактовать неопределённость, решает вызывающая сторона (см. worker).
func (c *Checker) Check(ctx context.Context, url string) models.CheckOutcome {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		navCtx, cancel := context.WithTimeout(ctx, c.navTimeout)
		page, err := c.rc.RenderPage(navCtx, url)
		cancel()

		if err == nil {
			if strings.Contains(page.HTML, c.marker) {
				return models.OutcomeUnavailable
			}
			return models.OutcomeAvailable
		}

		lastErr = err
		slog.Warn("page render attempt failed", "url", url, "attempt", attempt, "error", err.Error())
		if attempt < c.attempts {
			if serr := c.sleep(ctx, time.Duration(attempt)*c.retryBase); serr != nil {
				break
			}
		}
	}

	slog.Error("all render attempts exhausted", "url", url, "error", lastErr.Error())
	return models.OutcomeIndeterminate
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
