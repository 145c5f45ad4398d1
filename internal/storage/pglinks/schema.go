package pglinks

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS users (
  id BIGSERIAL PRIMARY KEY,
  telegram_id TEXT UNIQUE NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS tracking_links (
  id BIGSERIAL PRIMARY KEY,
  user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  link TEXT NOT NULL,
  notified BOOLEAN NOT NULL DEFAULT false,
  last_status BOOLEAN NULL,
  last_checked_at TIMESTAMPTZ NULL,
  ignore_until TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (user_id, link)
)`,
		`CREATE INDEX IF NOT EXISTS idx_tracking_links_user_id ON tracking_links(user_id)`,
		// Сброс notified делает bulk-скан по времени последней проверки.
		`CREATE INDEX IF NOT EXISTS idx_tracking_links_notified_checked ON tracking_links(notified, last_checked_at)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
