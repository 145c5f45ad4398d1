package links

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"time"

	"github.com/pkg/errors"

	"github.com/vnahornyi/check-uz-tickets/internal/cache"
	"github.com/vnahornyi/check-uz-tickets/internal/models"
	"github.com/vnahornyi/check-uz-tickets/internal/queue/notifyqueue"
	"github.com/vnahornyi/check-uz-tickets/internal/storage/pglinks"
)

// Принимаем только страницы поиска booking.uz.gov.ua с обязательным startDate.
var linkPattern = regexp.MustCompile(`^https?://booking\.uz\.gov\.ua/search-trips/\d+/\d+/list\?startDate=\d{4}-\d{2}-\d{2}(?:&.*)?$`)

var (
	ErrInvalidLink  = errors.New("link does not match the expected search-trips format")
	ErrTooManyLinks = errors.New("link limit reached for this user")
)

type Repository interface {
	CreateLink(ctx context.Context, telegramID, link string) (*models.TrackedLink, error)
	GetLinkByID(ctx context.Context, id uint64) (*models.TrackedLink, error)
	ListUserLinks(ctx context.Context, telegramID string, opts pglinks.ListOptions) ([]*models.TrackedLink, error)
	DeleteLinkByURL(ctx context.Context, telegramID, link string) (*models.TrackedLink, error)
	DeleteLinkByID(ctx context.Context, id uint64) (*models.TrackedLink, error)
	MarkLinkAbsent(ctx context.Context, id uint64, cooldown time.Duration) (*models.TrackedLink, error)
	CountLinks(ctx context.Context) (int64, error)
	CountOwners(ctx context.Context) (int64, error)
}

type Publisher interface {
	PublishTrigger(ctx context.Context, userID string) error
}

type QueueCounter interface {
	Counts(ctx context.Context) (notifyqueue.Counts, error)
}

type Service struct {
	repo  Repository
	pub   Publisher
	queue QueueCounter
	cache cache.BytesCache

	maxLinks int
	cooldown time.Duration
	cacheTTL time.Duration
}

func New(repo Repository, pub Publisher, queue QueueCounter, c cache.BytesCache) *Service {
	return &Service{
		repo:  repo,
		pub:   pub,
		queue: queue,
		cache: c,

		maxLinks: 5,
		cooldown: 5 * time.Minute,
		cacheTTL: 60 * time.Second,
	}
}

func (s *Service) WithSettings(maxLinks int, cooldown, cacheTTL time.Duration) *Service {
	if maxLinks > 0 {
		s.maxLinks = maxLinks
	}
	if cooldown > 0 {
		s.cooldown = cooldown
	}
	if cacheTTL > 0 {
		s.cacheTTL = cacheTTL
	}
	return s
}

func ValidateLink(link string) bool {
	return linkPattern.MatchString(link)
}

// AddLink: валидация формата, лимит, запрет дубликатов — всё на границе.
// После успешного добавления публикуем немедленный триггер (best-effort,
// его отказ не роняет добавление).
func (s *Service) AddLink(ctx context.Context, userID, link string) (*models.TrackedLink, error) {
	if userID == "" {
		return nil, errors.New("userID is required")
	}
	if !ValidateLink(link) {
		return nil, ErrInvalidLink
	}

	// Лимит проверяется отдельным чтением, не в транзакции создания:
	// параллельные AddLink одного пользователя могут его превысить.
	existing, err := s.repo.ListUserLinks(ctx, userID, pglinks.ListOptions{IncludeNotified: true, IncludeIgnored: true})
	if err != nil {
		return nil, err
	}
	if len(existing) >= s.maxLinks {
		return nil, ErrTooManyLinks
	}

	created, err := s.repo.CreateLink(ctx, userID, link)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, userID)

	if s.pub != nil {
		if err := s.pub.PublishTrigger(ctx, userID); err != nil {
			slog.Warn("publish trigger after add", "user_id", userID, "error", err.Error())
		}
	}

	return created, nil
}

func (s *Service) RemoveLink(ctx context.Context, userID, link string) (*models.TrackedLink, error) {
	if userID == "" {
		return nil, errors.New("userID is required")
	}
	deleted, err := s.repo.DeleteLinkByURL(ctx, userID, link)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, userID)
	return deleted, nil
}

func (s *Service) RemoveLinkByID(ctx context.Context, linkID uint64) (*models.TrackedLink, error) {
	deleted, err := s.repo.DeleteLinkByID(ctx, linkID)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, deleted.OwnerID)
	return deleted, nil
}

// ListLinks возвращает все ссылки пользователя (включая notified и
// подавленные) — это витрина для фронтенда, не eligible-набор воркера.
func (s *Service) ListLinks(ctx context.Context, userID string) ([]*models.TrackedLink, error) {
	if userID == "" {
		return nil, errors.New("userID is required")
	}

	key := linksKey(userID)
	if s.cache != nil && s.cacheTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var out []*models.TrackedLink
			if json.Unmarshal(b, &out) == nil {
				return out, nil
			}
		}
	}

	out, err := s.repo.ListUserLinks(ctx, userID, pglinks.ListOptions{IncludeNotified: true, IncludeIgnored: true})
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.cacheTTL > 0 {
		b, _ := json.Marshal(out)
		_ = s.cache.Set(ctx, key, b, s.cacheTTL)
	}
	return out, nil
}

// MarkAbsent — пользователь сообщает о ложном срабатывании: notified
// снимается, ссылка глушится на cooldown. Отдельного "resume" нет,
// подавление истекает само.
func (s *Service) MarkAbsent(ctx context.Context, linkID uint64) (*models.TrackedLink, error) {
	updated, err := s.repo.MarkLinkAbsent(ctx, linkID, s.cooldown)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, updated.OwnerID)
	return updated, nil
}

// ForceCheck публикует немедленный триггер проверки для пользователя.
func (s *Service) ForceCheck(ctx context.Context, userID string) error {
	if userID == "" {
		return errors.New("userID is required")
	}
	if s.pub == nil {
		return errors.New("trigger publisher is not wired")
	}
	return s.pub.PublishTrigger(ctx, userID)
}

type Status struct {
	TotalLinks  int64              `json:"totalLinks"`
	TotalUsers  int64              `json:"totalUsers"`
	QueueCounts notifyqueue.Counts `json:"queue"`
}

// Status — обзор системы для статусной команды бота. Кэшируется на cacheTTL.
func (s *Service) Status(ctx context.Context) (Status, error) {
	const key = "status:global"

	if s.cache != nil && s.cacheTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var st Status
			if json.Unmarshal(b, &st) == nil {
				return st, nil
			}
		}
	}

	var st Status
	var err error
	if st.TotalLinks, err = s.repo.CountLinks(ctx); err != nil {
		return Status{}, err
	}
	if st.TotalUsers, err = s.repo.CountOwners(ctx); err != nil {
		return Status{}, err
	}
	if s.queue != nil {
		if st.QueueCounts, err = s.queue.Counts(ctx); err != nil {
			// Очередь может быть недоступна: статус без её счётчиков полезнее, чем ошибка.
			slog.Warn("queue counts unavailable", "error", err.Error())
			err = nil
		}
	}

	if s.cache != nil && s.cacheTTL > 0 {
		b, _ := json.Marshal(st)
		_ = s.cache.Set(ctx, key, b, s.cacheTTL)
	}
	return st, nil
}

func (s *Service) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, linksKey(userID))
	_ = s.cache.Del(ctx, "status:global")
}

func linksKey(userID string) string {
	return "links:" + userID
}
