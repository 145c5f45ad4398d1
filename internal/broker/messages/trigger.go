package messages

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

// TriggerEvent — "проверь ссылки этого пользователя сейчас".
// Публикуется и ботом (добавление ссылки, ручная проверка), и реконсайлером.
type TriggerEvent struct {
	UserID string `json:"userId"`
}

func (e TriggerEvent) Validate() error {
	if e.UserID == "" {
		return errors.New("userId is required")
	}
	return nil
}

// UnmarshalJSON принимает userId и строкой, и числом: телеграмные id
// исторически гуляют по шине в обоих видах.
func (e *TriggerEvent) UnmarshalJSON(b []byte) error {
	var raw struct {
		UserID json.RawMessage `json:"userId"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return errors.Wrap(err, "unmarshal trigger event")
	}
	if len(raw.UserID) == 0 {
		return errors.New("userId is required")
	}

	var s string
	if err := json.Unmarshal(raw.UserID, &s); err == nil {
		e.UserID = s
		return nil
	}
	var n int64
	if err := json.Unmarshal(raw.UserID, &n); err == nil {
		e.UserID = strconv.FormatInt(n, 10)
		return nil
	}
	return errors.New("userId must be a string or a number")
}
