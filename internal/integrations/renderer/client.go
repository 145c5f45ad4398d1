package renderer

import "context"

// Page — результат рендеринга страницы headless-браузером.
type Page struct {
	HTML     string
	FinalURL string
}

// Client — непрозрачная способность "сходи и отрендери страницу".
// Жизненный цикл браузера целиком на стороне реализации: вызывающий
// не должен думать про контексты/вкладки.
type Client interface {
	RenderPage(ctx context.Context, url string) (Page, error)
}
