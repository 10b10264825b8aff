package groups

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"fb-lead-scanner/internal/domain"
)

var (
	// ErrGroupLimit возвращается, когда бесплатный лимит групп исчерпан.
	ErrGroupLimit = errors.New("превышен лимит групп")
	// ErrURLInvalid возвращается на некорректную ссылку на группу.
	ErrURLInvalid = errors.New("некорректная ссылка на группу")
)

var groupURLRegex = regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.|m\.|web\.)?facebook\.com/groups/([a-z0-9._-]+)/?(?:[?#].*)?$`)

// Service управляет списком отслеживаемых групп.
type Service struct {
	repo      domain.GroupRepo
	gate      domain.FeatureGate
	freeLimit int
}

// NewService создаёт сервис групп. freeLimit действует только без подписки.
func NewService(repo domain.GroupRepo, gate domain.FeatureGate, freeLimit int) *Service {
	return &Service{repo: repo, gate: gate, freeLimit: freeLimit}
}

// ParseGroupURL приводит пользовательский ввод к каноничной ссылке
// и возвращает слаг группы.
func ParseGroupURL(input string) (canonical, slug string, err error) {
	trimmed := strings.TrimSpace(input)
	matches := groupURLRegex.FindStringSubmatch(trimmed)
	if len(matches) < 2 {
		return "", "", ErrURLInvalid
	}
	slug = strings.ToLower(matches[1])
	return "https://www.facebook.com/groups/" + slug, slug, nil
}

// AddGroup добавляет группу в отслеживаемые.
func (s *Service) AddGroup(ctx context.Context, rawURL, name, category string) (domain.WatchedGroup, error) {
	canonical, slug, err := ParseGroupURL(rawURL)
	if err != nil {
		return domain.WatchedGroup{}, err
	}

	pro, err := s.gate.IsPro(ctx)
	if err != nil {
		return domain.WatchedGroup{}, fmt.Errorf("проверка подписки: %w", err)
	}
	if !pro && s.freeLimit > 0 {
		count, err := s.repo.CountGroups(ctx)
		if err != nil {
			return domain.WatchedGroup{}, fmt.Errorf("подсчёт групп: %w", err)
		}
		if count >= s.freeLimit {
			return domain.WatchedGroup{}, ErrGroupLimit
		}
	}

	if name == "" {
		name = slug
	}
	group, err := s.repo.UpsertGroup(ctx, domain.WatchedGroup{
		Name:     name,
		URL:      canonical,
		Category: category,
		IsActive: true,
	})
	if err != nil {
		return domain.WatchedGroup{}, fmt.Errorf("сохранение группы: %w", err)
	}
	return group, nil
}

// ListGroups возвращает группы пользователя.
func (s *Service) ListGroups(ctx context.Context, limit, offset int) ([]domain.WatchedGroup, error) {
	return s.repo.ListGroups(ctx, limit, offset)
}

// SetActive включает или выключает группу в автоматике.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) error {
	if err := s.repo.SetGroupActive(ctx, id, active); err != nil {
		return fmt.Errorf("переключение группы: %w", err)
	}
	return nil
}

// RemoveGroup убирает группу из отслеживаемых.
func (s *Service) RemoveGroup(ctx context.Context, id int64) error {
	if err := s.repo.RemoveGroup(ctx, id); err != nil {
		return fmt.Errorf("удаление группы: %w", err)
	}
	return nil
}
