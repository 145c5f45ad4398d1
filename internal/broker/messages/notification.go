package messages

import (
	"time"

	"github.com/pkg/errors"
)

// NotificationJob — задание на доставку уведомления пользователю.
// Схема валидируется и на входе в очередь, и на выходе: битый payload
// не должен тихо превращаться во что-то отправляемое.
type NotificationJob struct {
	ID         string    `json:"id"`
	UserID     string    `json:"userId"`
	Message    string    `json:"message"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

func (j NotificationJob) Validate() error {
	if j.UserID == "" {
		return errors.New("userId is required")
	}
	if j.Message == "" {
		return errors.New("message is required")
	}
	return nil
}
