package fake

import (
	"context"
	"log/slog"
	"sync"
)

// Sender — заглушка транспорта доставки для локального запуска без
// телеграм-токена: пишет уведомления в лог и запоминает их.
type Sender struct {
	mu   sync.Mutex
	sent []Sent
}

type Sent struct {
	UserID string
	Text   string
}

func New() *Sender { return &Sender{} }

func (s *Sender) Send(ctx context.Context, userID, text string) error {
	s.mu.Lock()
	s.sent = append(s.sent, Sent{UserID: userID, Text: text})
	s.mu.Unlock()
	slog.Info("fake delivery", "user_id", userID, "text", text)
	return nil
}

func (s *Sender) Sent() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sent, len(s.sent))
	copy(out, s.sent)
	return out
}
