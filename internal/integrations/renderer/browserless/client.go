package browserless

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/vnahornyi/check-uz-tickets/internal/integrations/renderer"
)

// Реалистичный профиль запроса: обычный десктопный Chrome с украинской локалью.
const (
	defaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	acceptLanguage   = "uk-UA,uk;q=0.9,en-US;q=0.8"
)

// Client ходит в browserless-совместимый сервис (/content) и получает
// HTML страницы после клиентского рендеринга. Каждый запрос — изолированный
// браузерный контекст на стороне сервиса: cookies между проверками не текут.
type Client struct {
	baseURL string
	token   string

	navTimeout time.Duration
	settle     time.Duration

	httpc *http.Client
}

func New(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:3000"
	}
	return &Client{
		baseURL:    baseURL,
		token:      token,
		navTimeout: 120 * time.Second,
		settle:     3 * time.Second,
		httpc: &http.Client{
			Timeout: 130 * time.Second,
		},
	}
}

func (c *Client) WithTimings(navTimeout, settle time.Duration) *Client {
	if navTimeout > 0 {
		c.navTimeout = navTimeout
		c.httpc.Timeout = navTimeout + 10*time.Second
	}
	if settle > 0 {
		c.settle = settle
	}
	return c
}

type contentRequest struct {
	URL         string         `json:"url"`
	UserAgent   string         `json:"userAgent"`
	GotoOptions map[string]any `json:"gotoOptions"`
	// Картинки/стили/шрифты не нужны для оценки наличия билетов:
	// меньше трафика и меньше поверхность для детекта.
	RejectResourceTypes []string          `json:"rejectResourceTypes"`
	WaitForTimeout      int               `json:"waitForTimeout"`
	SetExtraHTTPHeaders map[string]string `json:"setExtraHTTPHeaders"`
}

func (c *Client) RenderPage(ctx context.Context, pageURL string) (renderer.Page, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return renderer.Page{}, errors.Wrap(err, "parse base url")
	}
	u.Path = "/content"
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}

	body := contentRequest{
		URL:       pageURL,
		UserAgent: defaultUserAgent,
		GotoOptions: map[string]any{
			"waitUntil": "domcontentloaded",
			"timeout":   c.navTimeout.Milliseconds(),
		},
		RejectResourceTypes: []string{"image", "stylesheet", "font"},
		WaitForTimeout:      int(c.settle.Milliseconds()),
		SetExtraHTTPHeaders: map[string]string{
			"Accept-Language": acceptLanguage,
		},
	}
	b, err := json.Marshal(body)
	if err != nil {
		return renderer.Page{}, errors.Wrap(err, "marshal content request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(b))
	if err != nil {
		return renderer.Page{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return renderer.Page{}, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return renderer.Page{}, fmt.Errorf("renderer http %d", resp.StatusCode)
	}

	html, err := io.ReadAll(resp.Body)
	if err != nil {
		return renderer.Page{}, errors.Wrap(err, "read body")
	}

	return renderer.Page{HTML: string(html), FinalURL: pageURL}, nil
}
