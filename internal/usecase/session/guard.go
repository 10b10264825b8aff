package session

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fb-lead-scanner/internal/domain"
	"fb-lead-scanner/internal/infra/metrics"
)

// UsageKind различает, какой счётчик инкрементировать.
type UsageKind string

const (
	// UsagePost — обработан один пост.
	UsagePost UsageKind = "post"
	// UsageGroup — автоматика посетила одну группу.
	UsageGroup UsageKind = "group"
)

// Verdict — ответ гварда. Отказ по политике — ожидаемый исход,
// а не ошибка: причина возвращается строкой.
type Verdict struct {
	CanProceed bool   `json:"can_proceed"`
	Reason     string `json:"reason,omitempty"`
}

// Guard следит за почасовыми и дневными лимитами и кулдауном.
// Окна откатываются лениво при очередном обращении, фоновый таймер
// для корректности не нужен.
type Guard struct {
	state domain.StateRepo
	loc   *time.Location
	log   zerolog.Logger
	now   func() time.Time
}

// NewGuard создаёт гвард. Граница календарного дня считается в loc.
func NewGuard(state domain.StateRepo, loc *time.Location, log zerolog.Logger) *Guard {
	if loc == nil {
		loc = time.UTC
	}
	return &Guard{state: state, loc: loc, log: log, now: time.Now}
}

// Check решает, можно ли запускать скан прямо сейчас. Повторные вызовы
// в один и тот же момент идемпотентны.
func (g *Guard) Check(ctx context.Context) (Verdict, error) {
	limits, err := g.state.LoadSessionLimits(ctx)
	if err != nil {
		return Verdict{}, fmt.Errorf("загрузка лимитов сессии: %w", err)
	}
	now := g.now()

	if limits.IsPaused && limits.PausedUntil != nil && now.Before(*limits.PausedUntil) {
		remaining := limits.PausedUntil.Sub(now).Round(time.Minute)
		reason := fmt.Sprintf("пауза после кулдауна, осталось %d мин", int(remaining.Minutes()))
		metrics.IncSessionRejection("cooldown")
		return Verdict{CanProceed: false, Reason: reason}, nil
	}

	limits = g.rollover(limits, now)

	if limits.MaxGroupsPerDay > 0 && limits.GroupsVisitedToday >= limits.MaxGroupsPerDay {
		if err := g.state.SaveSessionLimits(ctx, limits); err != nil {
			return Verdict{}, fmt.Errorf("сохранение лимитов сессии: %w", err)
		}
		metrics.IncSessionRejection("daily_limit")
		return Verdict{CanProceed: false, Reason: "дневной лимит групп исчерпан"}, nil
	}

	if limits.MaxPostsPerHour > 0 && limits.PostsScannedThisHour >= limits.MaxPostsPerHour {
		until := now.Add(time.Duration(limits.CooldownMinutes) * time.Minute)
		limits.IsPaused = true
		limits.PausedUntil = &until
		if err := g.state.SaveSessionLimits(ctx, limits); err != nil {
			return Verdict{}, fmt.Errorf("сохранение лимитов сессии: %w", err)
		}
		g.log.Info().Time("paused_until", until).Msg("session: часовой лимит, уходим в кулдаун")
		metrics.IncSessionRejection("hourly_limit")
		return Verdict{CanProceed: false, Reason: fmt.Sprintf("часовой лимит, кулдаун %d мин", limits.CooldownMinutes)}, nil
	}

	if err := g.state.SaveSessionLimits(ctx, limits); err != nil {
		return Verdict{}, fmt.Errorf("сохранение лимитов сессии: %w", err)
	}
	return Verdict{CanProceed: true}, nil
}

// Increment увеличивает счётчик использования.
func (g *Guard) Increment(ctx context.Context, kind UsageKind) error {
	limits, err := g.state.LoadSessionLimits(ctx)
	if err != nil {
		return fmt.Errorf("загрузка лимитов сессии: %w", err)
	}
	limits = g.rollover(limits, g.now())
	switch kind {
	case UsageGroup:
		limits.GroupsVisitedToday++
	default:
		limits.PostsScannedThisHour++
	}
	if err := g.state.SaveSessionLimits(ctx, limits); err != nil {
		return fmt.Errorf("сохранение лимитов сессии: %w", err)
	}
	return nil
}

// rollover лениво обнуляет счётчики на границах окон и снимает
// протухшую паузу. Откат окна имеет приоритет над устаревшим лимитом.
func (g *Guard) rollover(limits domain.SessionLimits, now time.Time) domain.SessionLimits {
	if now.Sub(limits.LastHourReset) >= time.Hour {
		limits.PostsScannedThisHour = 0
		limits.LastHourReset = now
	}
	if !sameDay(limits.LastDayReset, now, g.loc) {
		limits.GroupsVisitedToday = 0
		limits.LastDayReset = now
	}
	if limits.IsPaused && (limits.PausedUntil == nil || !now.Before(*limits.PausedUntil)) {
		limits.IsPaused = false
		limits.PausedUntil = nil
	}
	return limits
}

// sameDay сравнивает календарные дни в явной таймзоне, а не строками.
func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
