package fake

import (
	"context"
	"hash/fnv"

	"github.com/vnahornyi/check-uz-tickets/internal/integrations/renderer"
)

// FakeClient — детерминированная заглушка рендерера для локального запуска
// без браузера: часть ссылок "находит" билеты по хэшу URL.
type FakeClient struct{}

func New() *FakeClient { return &FakeClient{} }

func (f *FakeClient) RenderPage(ctx context.Context, url string) (renderer.Page, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(url))
	v := h.Sum32()

	// 20% ссылок считаем "с билетами", остальные отдают заглушку "ничего не найдено"
	html := `<html><body><div class="no-results">Квитків немає</div></body></html>`
	if v%5 == 0 {
		html = `<html><body><div class="BadgeTrainLabels">ІС+</div></body></html>`
	}

	return renderer.Page{HTML: html, FinalURL: url}, nil
}
