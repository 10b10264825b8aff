package scan

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fb-lead-scanner/internal/domain"
	"fb-lead-scanner/internal/infra/metrics"
	"fb-lead-scanner/internal/pkg/timing"
	"fb-lead-scanner/internal/usecase/session"
)

// Задержки перед внешне наблюдаемым действием. Автоматика выдерживает
// паузы длиннее ручного скана: требования к «человечности» у неё строже.
const (
	autoDelayMin   = 500 * time.Millisecond
	autoDelayMax   = 1500 * time.Millisecond
	manualDelayMin = 300 * time.Millisecond
	manualDelayMax = 800 * time.Millisecond

	// neutralScore присваивается лиду, когда автоанализ выключен.
	neutralScore = 50
)

type sessionGuard interface {
	Check(ctx context.Context) (session.Verdict, error)
	Increment(ctx context.Context, kind session.UsageKind) error
}

type tokenLimiter interface {
	Consume(ctx context.Context) error
}

// Service реализует пайплайн сканирования: фильтрация, классификация,
// сохранение лида. Оба входа — ручной и автоматический — проходят здесь
// и делят один журнал дедупликации.
type Service struct {
	ledger     *Ledger
	guard      sessionGuard
	personas   domain.PersonaRepo
	leads      domain.LeadRepo
	classifier domain.Classifier
	notifier   domain.Notifier
	state      domain.StateRepo
	limiter    tokenLimiter
	log        zerolog.Logger

	delay func(ctx context.Context, min, max time.Duration) error
}

// NewService создаёт пайплайн.
func NewService(ledger *Ledger, guard sessionGuard, personas domain.PersonaRepo, leads domain.LeadRepo, classifier domain.Classifier, notifier domain.Notifier, state domain.StateRepo, limiter tokenLimiter, log zerolog.Logger) *Service {
	return &Service{
		ledger:     ledger,
		guard:      guard,
		personas:   personas,
		leads:      leads,
		classifier: classifier,
		notifier:   notifier,
		state:      state,
		limiter:    limiter,
		log:        log,
		delay:      timing.RandomDelay,
	}
}

// Run прогоняет пакет постов через пайплайн. Ошибки отдельных постов
// собираются в результат и не прерывают обработку остальных; до перебора
// скан обрывается только отказом гварда или выключенной настройкой —
// и то и другое попадает в результат одной строкой, а не ошибкой.
func (s *Service) Run(ctx context.Context, items []domain.ContentItem, mode domain.ScanMode) (domain.ScanResult, error) {
	start := time.Now()
	defer metrics.ObserveScan(string(mode), start)

	result := domain.ScanResult{ItemsFound: len(items)}

	settings, err := s.state.LoadSettings(ctx)
	if err != nil {
		return result, fmt.Errorf("загрузка настроек: %w", err)
	}
	if !settings.Enabled {
		result.Errors = append(result.Errors, "сканирование отключено в настройках")
		return result, nil
	}

	verdict, err := s.guard.Check(ctx)
	if err != nil {
		return result, fmt.Errorf("проверка лимитов: %w", err)
	}
	if !verdict.CanProceed {
		result.Errors = append(result.Errors, verdict.Reason)
		return result, nil
	}

	persona, err := s.personas.ActivePersona(ctx)
	hasPersona := true
	if errors.Is(err, domain.ErrNoActivePersona) {
		hasPersona = false
	} else if err != nil {
		return result, fmt.Errorf("загрузка персоны: %w", err)
	}

	minLen := settings.MinTextLength
	if minLen <= 0 {
		minLen = 30
	}

	for _, item := range items {
		if item.SourceID == "" {
			metrics.IncItemSkipped("no_id")
			continue
		}
		// Проверка и вставка в журнал идут до любой точки приостановки:
		// именно это защищает пост от двойной обработки, когда ручной и
		// автоматический сканы живы одновременно.
		if !s.ledger.Mark(item.SourceID) {
			metrics.IncItemSkipped("duplicate")
			continue
		}

		text := strings.TrimSpace(item.Text)
		if utf8.RuneCountInString(text) < minLen {
			metrics.IncItemSkipped("too_short")
			continue
		}
		if !hasPersona {
			// Нет активной персоны — отклоняем всё (fail closed).
			metrics.IncItemSkipped("no_persona")
			continue
		}
		if !relevant(text, persona) {
			metrics.IncItemSkipped("irrelevant")
			continue
		}

		saved, err := s.processItem(ctx, item, text, mode, settings, persona)
		if saved {
			result.LeadsDetected++
		}
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("пост %s: %v", item.SourceID, err))
		}
	}

	return result, nil
}

// processItem выполняет шаги с точками приостановки: лимитер, задержка,
// классификация, сохранение. Возвращает, был ли сохранён лид.
func (s *Service) processItem(ctx context.Context, item domain.ContentItem, text string, mode domain.ScanMode, settings domain.AutomationSettings, persona domain.Persona) (bool, error) {
	if err := s.limiter.Consume(ctx); err != nil {
		return false, fmt.Errorf("лимитер: %w", err)
	}

	delayMin, delayMax := manualDelayMin, manualDelayMax
	if mode == domain.ScanModeAuto {
		delayMin, delayMax = autoDelayMin, autoDelayMax
	}
	if err := s.delay(ctx, delayMin, delayMax); err != nil {
		return false, fmt.Errorf("задержка: %w", err)
	}

	lead := domain.Lead{
		ID:         uuid.NewString(),
		SourceID:   item.SourceID,
		Text:       text,
		AuthorName: item.AuthorName,
		AuthorURL:  item.AuthorURL,
		URL:        item.URL,
		GroupLabel: item.GroupLabel,
		Intent:     domain.IntentGeneral,
		Score:      neutralScore,
		Status:     domain.LeadStatusNew,
		CreatedAt:  time.Now().UTC(),
	}

	if settings.AutoAnalyze {
		cls, err := s.classifier.Classify(ctx, text, persona)
		if err != nil {
			return false, fmt.Errorf("классификация: %w", err)
		}
		if cls.Score < settings.MinLeadScore {
			metrics.IncItemSkipped("low_score")
			return false, nil
		}
		if cls.Intent == domain.IntentIrrelevant || cls.Intent == domain.IntentSelling {
			metrics.IncItemSkipped("intent")
			return false, nil
		}
		lead.Intent = cls.Intent
		lead.Score = cls.Score
		lead.Analysis = &cls

		if cls.Intent.Engaged() {
			reply, err := s.classifier.GenerateReply(ctx, text, cls.Intent, persona)
			if err != nil {
				return false, fmt.Errorf("генерация ответа: %w", err)
			}
			lead.DraftReply = reply
		}
	}

	saved, err := s.leads.UpsertLead(ctx, lead)
	if err != nil {
		return false, fmt.Errorf("сохранение лида: %w", err)
	}
	metrics.LeadsDetectedTotal.Inc()

	if err := s.guard.Increment(ctx, session.UsagePost); err != nil {
		return true, fmt.Errorf("инкремент лимитов: %w", err)
	}
	if err := s.notifier.NotifyLead(ctx, saved); err != nil {
		return true, fmt.Errorf("уведомление: %w", err)
	}
	return true, nil
}

// relevant применяет фильтр релевантности персоны: негативное слово
// отклоняет пост независимо от позитивных совпадений, иначе требуется
// хотя бы одно совпадение по ключевым словам.
func relevant(text string, persona domain.Persona) bool {
	lower := strings.ToLower(text)
	for _, kw := range persona.NegativeKeywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return false
		}
	}
	for _, kw := range persona.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" && strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
