package telegram

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	tele "gopkg.in/telebot.v4"
)

// Sender доставляет уведомления в Telegram. Это единственное, что пайплайн
// знает о боте: send(userId, text).
type Sender struct {
	bot *tele.Bot
}

func New(token string) (*Sender, error) {
	if token == "" {
		return nil, errors.New("telegram token is empty")
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, errors.Wrap(err, "new telegram bot")
	}
	return &Sender{bot: b}, nil
}

func (s *Sender) Send(ctx context.Context, userID, text string) error {
	id, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return errors.Wrap(err, "parse telegram user id")
	}

	formatted := "🚨 <b>Квитки знайдено!</b> 🚨\n" + text + "\n\nПеревірте сайт якнайшвидше!"
	_, err = s.bot.Send(&tele.User{ID: id}, formatted, &tele.SendOptions{ParseMode: tele.ModeHTML})
	if err != nil {
		return errors.Wrap(err, "telegram send")
	}
	return nil
}
