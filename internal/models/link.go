package models

import "time"

// CheckOutcome — закрытый результат проверки страницы.
// Индерминированный исход не скрываем за bool: решение, как его трактовать,
// принимает вызывающая сторона явно.
type CheckOutcome int

const (
	OutcomeIndeterminate CheckOutcome = iota
	OutcomeUnavailable
	OutcomeAvailable
)

func (o CheckOutcome) String() string {
	switch o {
	case OutcomeAvailable:
		return "AVAILABLE"
	case OutcomeUnavailable:
		return "UNAVAILABLE"
	default:
		return "INDETERMINATE"
	}
}

// TrackedLink — одна отслеживаемая ссылка пользователя.
// LastStatus: nil = ещё не проверяли, true = билеты были, false = не было.
type TrackedLink struct {
	ID            uint64     `json:"id"`
	OwnerID       string     `json:"-"`
	Link          string     `json:"link"`
	Notified      bool       `json:"notified"`
	LastStatus    *bool      `json:"last_status"`
	LastCheckedAt *time.Time `json:"last_checked_at"`
	IgnoreUntil   *time.Time `json:"ignore_until"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Suppressed reports whether the link is inside its cooldown window.
func (l *TrackedLink) Suppressed(now time.Time) bool {
	return l.IgnoreUntil != nil && l.IgnoreUntil.After(now)
}
