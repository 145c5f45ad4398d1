package fake

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeClient_RenderPage(t *testing.T) {
	c := New()

	page, err := c.RenderPage(context.Background(), "https://booking.uz.gov.ua/search-trips/1/2/list?startDate=2025-05-10")
	require.NoError(t, err)
	require.NotEmpty(t, page.HTML)

	// детерминированность: один URL — один и тот же ответ
	again, err := c.RenderPage(context.Background(), "https://booking.uz.gov.ua/search-trips/1/2/list?startDate=2025-05-10")
	require.NoError(t, err)
	require.Equal(t, page.HTML, again.HTML)

	// ответ всегда одного из двух видов
	withTickets := strings.Contains(page.HTML, "BadgeTrainLabels")
	withoutTickets := strings.Contains(page.HTML, "no-results")
	require.True(t, withTickets != withoutTickets)
}
