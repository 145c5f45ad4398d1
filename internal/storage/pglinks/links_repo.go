package pglinks

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"

	"github.com/vnahornyi/check-uz-tickets/internal/models"
)

// CreateLink заводит пользователя (если нужно) и ссылку в одной транзакции.
// Дубликат (user, link) — это ошибка пользователя, а не повод для merge.
func (s *Storage) CreateLink(ctx context.Context, telegramID, link string) (*models.TrackedLink, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var userID uint64
	err = tx.QueryRow(ctx, `
INSERT INTO users (telegram_id)
VALUES ($1)
ON CONFLICT (telegram_id) DO UPDATE SET telegram_id = EXCLUDED.telegram_id
RETURNING id
`, telegramID).Scan(&userID)
	if err != nil {
		return nil, errors.Wrap(err, "upsert user")
	}

	var id uint64
	err = tx.QueryRow(ctx, `
INSERT INTO tracking_links (user_id, link, notified)
VALUES ($1, $2, false)
RETURNING id
`, userID, link).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrDuplicateLink
		}
		return nil, errors.Wrap(err, "insert link")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return s.GetLinkByID(ctx, id)
}

func (s *Storage) GetLinkByID(ctx context.Context, id uint64) (*models.TrackedLink, error) {
	row := s.db.QueryRow(ctx, `
SELECT t.id, u.telegram_id, t.link, t.notified, t.last_status, t.last_checked_at, t.ignore_until, t.created_at
FROM tracking_links t
JOIN users u ON u.id = t.user_id
WHERE t.id = $1
`, id)
	l, err := scanLink(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	return l, err
}

type ListOptions struct {
	IncludeNotified bool
	IncludeIgnored  bool
}

// ListUserLinks возвращает ссылки пользователя. Исключение notified/ignored —
// это предикаты запроса, не пост-фильтр: воркер видит только eligible-набор.
func (s *Storage) ListUserLinks(ctx context.Context, telegramID string, opts ListOptions) ([]*models.TrackedLink, error) {
	q := `
SELECT t.id, u.telegram_id, t.link, t.notified, t.last_status, t.last_checked_at, t.ignore_until, t.created_at
FROM tracking_links t
JOIN users u ON u.id = t.user_id
WHERE u.telegram_id = $1`
	if !opts.IncludeNotified {
		q += ` AND t.notified = false`
	}
	if !opts.IncludeIgnored {
		q += ` AND (t.ignore_until IS NULL OR t.ignore_until <= now())`
	}
	q += ` ORDER BY t.id`

	rows, err := s.db.Query(ctx, q, telegramID)
	if err != nil {
		return nil, errors.Wrap(err, "select user links")
	}
	defer rows.Close()

	out := make([]*models.TrackedLink, 0)
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) DeleteLinkByURL(ctx context.Context, telegramID, link string) (*models.TrackedLink, error) {
	row := s.db.QueryRow(ctx, `
DELETE FROM tracking_links t
USING users u
WHERE t.user_id = u.id AND u.telegram_id = $1 AND t.link = $2
RETURNING t.id, u.telegram_id, t.link, t.notified, t.last_status, t.last_checked_at, t.ignore_until, t.created_at
`, telegramID, link)
	l, err := scanLink(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	return l, err
}

func (s *Storage) DeleteLinkByID(ctx context.Context, id uint64) (*models.TrackedLink, error) {
	row := s.db.QueryRow(ctx, `
DELETE FROM tracking_links t
USING users u
WHERE t.user_id = u.id AND t.id = $1
RETURNING t.id, u.telegram_id, t.link, t.notified, t.last_status, t.last_checked_at, t.ignore_until, t.created_at
`, id)
	l, err := scanLink(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	return l, err
}

// MarkLinkChecked фиксирует результат проверки одним атомарным UPDATE.
func (s *Storage) MarkLinkChecked(ctx context.Context, id uint64, available bool) error {
	_, err := s.db.Exec(ctx, `
UPDATE tracking_links SET last_status = $2, last_checked_at = now() WHERE id = $1
`, id, available)
	return errors.Wrap(err, "mark link checked")
}

// MarkLinkNotified взводит флаг только если он ещё не взведён и сообщает,
// выиграли ли мы гонку. Два конкурирующих прохода по одному пользователю
// не смогут оба увидеть notified=false.
func (s *Storage) MarkLinkNotified(ctx context.Context, id uint64) (bool, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE tracking_links SET notified = true WHERE id = $1 AND notified = false
`, id)
	if err != nil {
		return false, errors.Wrap(err, "mark link notified")
	}
	return tag.RowsAffected() == 1, nil
}

// MarkLinkAbsent: пользователь говорит "билетов на самом деле нет".
// Снимаем notified и глушим автопроверки на время cooldown.
func (s *Storage) MarkLinkAbsent(ctx context.Context, id uint64, cooldown time.Duration) (*models.TrackedLink, error) {
	row := s.db.QueryRow(ctx, `
UPDATE tracking_links t
SET notified = false, ignore_until = now() + make_interval(secs => $2)
FROM users u
WHERE t.user_id = u.id AND t.id = $1
RETURNING t.id, u.telegram_id, t.link, t.notified, t.last_status, t.last_checked_at, t.ignore_until, t.created_at
`, id, cooldown.Seconds())
	l, err := scanLink(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLinkNotFound
	}
	return l, err
}

// ResetStaleNotified снимает notified со всех ссылок, проверенных давнее
// olderThan. Идемпотентно: повторный запуск без новых проверок ничего не меняет.
func (s *Storage) ResetStaleNotified(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.db.Exec(ctx, `
UPDATE tracking_links
SET notified = false
WHERE notified = true
  AND last_checked_at IS NOT NULL
  AND last_checked_at < now() - make_interval(secs => $1)
`, olderThan.Seconds())
	if err != nil {
		return 0, errors.Wrap(err, "reset stale notified")
	}
	return tag.RowsAffected(), nil
}

// ListActiveOwners — telegram id всех, у кого есть хотя бы одна ссылка.
func (s *Storage) ListActiveOwners(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `
SELECT DISTINCT u.telegram_id
FROM users u
JOIN tracking_links t ON t.user_id = u.id
`)
	if err != nil {
		return nil, errors.Wrap(err, "select active owners")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan owner")
		}
		out = append(out, id)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) CountLinks(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM tracking_links`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count links")
	}
	return n, nil
}

func (s *Storage) CountOwners(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT COUNT(DISTINCT user_id) FROM tracking_links`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count owners")
	}
	return n, nil
}

func scanLink(row pgx.Row) (*models.TrackedLink, error) {
	var l models.TrackedLink
	var lastStatus *bool
	var lastCheckedAt *time.Time
	var ignoreUntil *time.Time
	if err := row.Scan(
		&l.ID, &l.OwnerID, &l.Link, &l.Notified,
		&lastStatus, &lastCheckedAt, &ignoreUntil,
		&l.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pgx.ErrNoRows
		}
		return nil, errors.Wrap(err, "scan link")
	}
	l.LastStatus = lastStatus
	l.LastCheckedAt = lastCheckedAt
	l.IgnoreUntil = ignoreUntil
	return &l, nil
}
