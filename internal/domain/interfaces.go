package domain

import (
	"context"
	"errors"
	"time"
)

// ErrNoActivePersona возвращается, когда ни одна персона не активна.
var ErrNoActivePersona = errors.New("нет активной персоны")

// ErrGroupNotFound возвращается, когда группа не найдена.
var ErrGroupNotFound = errors.New("группа не найдена")

// LeadRepo сохраняет и возвращает лиды.
type LeadRepo interface {
	// UpsertLead сохраняет лид идемпотентно по URL исходного поста.
	UpsertLead(ctx context.Context, lead Lead) (Lead, error)
	ListLeads(ctx context.Context, limit, offset int) ([]Lead, error)
	UpdateLeadStatus(ctx context.Context, id string, status LeadStatus) error
}

// GroupRepo управляет отслеживаемыми группами.
type GroupRepo interface {
	UpsertGroup(ctx context.Context, group WatchedGroup) (WatchedGroup, error)
	ListGroups(ctx context.Context, limit, offset int) ([]WatchedGroup, error)
	ListActiveGroups(ctx context.Context) ([]WatchedGroup, error)
	CountGroups(ctx context.Context) (int, error)
	SetGroupActive(ctx context.Context, id int64, active bool) error
	RemoveGroup(ctx context.Context, id int64) error
	// MarkVisited фиксирует визит автоматики и количество найденных лидов.
	MarkVisited(ctx context.Context, id int64, visitedAt time.Time, leadsFound int) error
}

// PersonaRepo возвращает персоны пользователя.
type PersonaRepo interface {
	// ActivePersona возвращает единственную активную персону
	// или ErrNoActivePersona.
	ActivePersona(ctx context.Context) (Persona, error)
	ListPersonas(ctx context.Context) ([]Persona, error)
	SetPersonaActive(ctx context.Context, id int64) error
}

// StateRepo — персистентное key-value хранилище состояния ядра.
// Долговечность между рестартами гарантируется, транзакционность — нет.
type StateRepo interface {
	LoadAutomationState(ctx context.Context) (AutomationState, error)
	SaveAutomationState(ctx context.Context, state AutomationState) error
	LoadSettings(ctx context.Context) (AutomationSettings, error)
	SaveSettings(ctx context.Context, settings AutomationSettings) error
	LoadSessionLimits(ctx context.Context) (SessionLimits, error)
	SaveSessionLimits(ctx context.Context, limits SessionLimits) error
	// LoadSeenIDs возвращает хвост виденных идентификаторов, старые первыми.
	LoadSeenIDs(ctx context.Context) ([]string, error)
	SaveSeenIDs(ctx context.Context, ids []string) error
}

// Classifier — внешний сервис анализа постов. Медленный и ненадёжный,
// ядро не ретраит его вызовы самостоятельно.
type Classifier interface {
	Classify(ctx context.Context, text string, persona Persona) (Classification, error)
	GenerateReply(ctx context.Context, text string, intent Intent, persona Persona) (string, error)
}

// Notifier доставляет пользователю уведомление о новом лиде.
type Notifier interface {
	NotifyLead(ctx context.Context, lead Lead) error
}

// FeatureGate сообщает состояние подписки пользователя.
type FeatureGate interface {
	IsPro(ctx context.Context) (bool, error)
}

// ScanDispatcher просит оболочку расширения открыть страницу группы и
// просканировать её. Возврат без ошибки означает подтверждённое
// завершение скана и несёт число найденных лидов.
type ScanDispatcher interface {
	Execute(ctx context.Context, task ScheduledTask) (leadsFound int, err error)
}
