package automation

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"fb-lead-scanner/internal/domain"
	"fb-lead-scanner/internal/infra/metrics"
	"fb-lead-scanner/internal/usecase/session"
)

var (
	// ErrAutomationDisabled возвращается при старте с выключенной автоматикой.
	ErrAutomationDisabled = errors.New("автоматика выключена в настройках")
	// ErrProRequired возвращается, когда подписка не активна.
	ErrProRequired = errors.New("автоматика доступна только на тарифе pro")
	// ErrAlreadyRunning возвращается при повторном старте.
	ErrAlreadyRunning = errors.New("планировщик уже запущен")
)

const (
	defaultTick        = 10 * time.Second
	defaultTaskTimeout = 3 * time.Minute
)

type sessionGuard interface {
	Check(ctx context.Context) (session.Verdict, error)
	Increment(ctx context.Context, kind session.UsageKind) error
}

// Scheduler владеет персистентной очередью задач: раз в интервал сеет
// цикл задач с рассыпанными джиттером задержками и разбирает очередь на
// периодическом тике. Одновременно выполняется не больше одной задачи.
type Scheduler struct {
	state      domain.StateRepo
	groups     domain.GroupRepo
	gate       domain.FeatureGate
	guard      sessionGuard
	dispatcher domain.ScanDispatcher
	log        zerolog.Logger

	tick        time.Duration
	taskTimeout time.Duration
	now         func() time.Time
	randFloat   func() float64

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler создаёт планировщик.
func NewScheduler(state domain.StateRepo, groups domain.GroupRepo, gate domain.FeatureGate, guard sessionGuard, dispatcher domain.ScanDispatcher, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		state:       state,
		groups:      groups,
		gate:        gate,
		guard:       guard,
		dispatcher:  dispatcher,
		log:         log,
		tick:        defaultTick,
		taskTimeout: defaultTaskTimeout,
		now:         time.Now,
		randFloat:   rand.Float64,
	}
}

// Start проверяет настройки и подписку, сверяет унаследованное состояние,
// сеет первый цикл и запускает периодический тик. Фича-гейт проверяется
// здесь и при каждом переключении настроек.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	settings, err := s.state.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("загрузка настроек: %w", err)
	}
	if !settings.Enabled {
		return ErrAutomationDisabled
	}
	pro, err := s.gate.IsPro(ctx)
	if err != nil {
		return fmt.Errorf("проверка подписки: %w", err)
	}
	if !pro {
		return ErrProRequired
	}

	state, err := s.state.LoadAutomationState(ctx)
	if err != nil {
		return fmt.Errorf("загрузка состояния автоматики: %w", err)
	}
	state = s.reconcile(state)

	now := s.now()
	state.IsRunning = true
	state.StartedAt = &now
	if err := s.state.SaveAutomationState(ctx, state); err != nil {
		return fmt.Errorf("сохранение состояния автоматики: %w", err)
	}

	if err := s.scheduleNextCycle(ctx, &state, settings); err != nil {
		return err
	}
	if err := s.state.SaveAutomationState(ctx, state); err != nil {
		return fmt.Errorf("сохранение состояния автоматики: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(loopCtx)

	s.log.Info().Msg("scheduler: запущен")
	return nil
}

// Stop отменяет будущие тики. Уже выполняющуюся задачу он не прерывает.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	s.cancel = nil
	done := s.done
	s.mu.Unlock()
	if done != nil {
		<-done
	}

	state, err := s.state.LoadAutomationState(ctx)
	if err != nil {
		return fmt.Errorf("загрузка состояния автоматики: %w", err)
	}
	state.IsRunning = false
	state.CurrentTaskID = ""
	if err := s.state.SaveAutomationState(ctx, state); err != nil {
		return fmt.Errorf("сохранение состояния автоматики: %w", err)
	}
	s.log.Info().Msg("scheduler: остановлен")
	return nil
}

// Status возвращает текущее персистентное состояние очереди.
func (s *Scheduler) Status(ctx context.Context) (domain.AutomationState, error) {
	return s.state.LoadAutomationState(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ProcessQueue(ctx); err != nil {
				// Неконсистентное персистентное состояние — фатальная
				// категория: останавливаем тики, не работаем вслепую.
				s.log.Error().Err(err).Msg("scheduler: тик завершился ошибкой, остановка")
				return
			}
		}
	}
}

// reconcile сверяет состояние после рестарта: задаче в статусе running
// верить нельзя, она переводится в failed до первого тика.
func (s *Scheduler) reconcile(state domain.AutomationState) domain.AutomationState {
	for i := range state.Queue {
		if state.Queue[i].Status == domain.TaskRunning {
			state.Queue[i].Status = domain.TaskFailed
			state.FailedCount++
			s.log.Warn().Str("task", state.Queue[i].ID).Msg("scheduler: незавершённая задача помечена failed после рестарта")
		}
	}
	state.CurrentTaskID = ""
	return state
}

// ProcessQueue выполняет один тик: берёт самую раннюю созревшую задачу,
// а если очередь пуста и интервал прошёл — чистит терминальные задачи и
// сеет новый цикл. Планировщик самоподдерживающийся, внешние пинки после
// старта не нужны.
func (s *Scheduler) ProcessQueue(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, err := s.state.LoadAutomationState(ctx)
	if err != nil {
		return fmt.Errorf("загрузка состояния автоматики: %w", err)
	}
	if !state.IsRunning {
		return nil
	}
	metrics.QueueDepth.Set(float64(len(state.Queue)))

	now := s.now()
	idx := dueTaskIndex(state.Queue, now)
	if idx < 0 {
		return s.maybeReseed(ctx, &state, now)
	}

	verdict, err := s.guard.Check(ctx)
	if err != nil {
		return fmt.Errorf("проверка лимитов: %w", err)
	}
	if !verdict.CanProceed {
		// Отказ по политике — не ошибка: задача остаётся pending
		// и будет пересмотрена следующим тиком.
		s.log.Debug().Str("reason", verdict.Reason).Msg("scheduler: гвард не пустил, задача отложена")
		return nil
	}

	task := state.Queue[idx]
	state.Queue[idx].Status = domain.TaskRunning
	state.CurrentTaskID = task.ID
	if err := s.state.SaveAutomationState(ctx, state); err != nil {
		return fmt.Errorf("сохранение состояния автоматики: %w", err)
	}

	leadsFound, execErr := s.executeTask(ctx, task)

	// currentTaskId очищается в обоих исходах, безусловно.
	if execErr != nil {
		state.Queue[idx].Status = domain.TaskFailed
		state.FailedCount++
		metrics.IncTaskFinished(string(domain.TaskFailed))
		s.log.Warn().Err(execErr).Str("task", task.ID).Str("target", task.TargetLabel).Msg("scheduler: задача завершилась ошибкой")
	} else {
		state.Queue[idx].Status = domain.TaskCompleted
		state.CompletedCount++
		metrics.IncTaskFinished(string(domain.TaskCompleted))
		if task.TargetID != 0 {
			if err := s.groups.MarkVisited(ctx, task.TargetID, now, leadsFound); err != nil {
				s.log.Warn().Err(err).Int64("group", task.TargetID).Msg("scheduler: не удалось отметить визит")
			}
		}
		if err := s.guard.Increment(ctx, session.UsageGroup); err != nil {
			s.log.Warn().Err(err).Msg("scheduler: не удалось инкрементировать лимиты")
		}
	}
	state.CurrentTaskID = ""
	if err := s.state.SaveAutomationState(ctx, state); err != nil {
		return fmt.Errorf("сохранение состояния автоматики: %w", err)
	}
	return nil
}

// executeTask отдаёт задачу диспетчеру и ждёт подтверждения завершения.
// Задача считается completed только когда скан реально отработал, а не
// когда диспетчеризация удалась.
func (s *Scheduler) executeTask(ctx context.Context, task domain.ScheduledTask) (int, error) {
	taskCtx, cancel := context.WithTimeout(ctx, s.taskTimeout)
	defer cancel()
	return s.dispatcher.Execute(taskCtx, task)
}

func (s *Scheduler) maybeReseed(ctx context.Context, state *domain.AutomationState, now time.Time) error {
	settings, err := s.state.LoadSettings(ctx)
	if err != nil {
		return fmt.Errorf("загрузка настроек: %w", err)
	}
	interval := time.Duration(settings.ScanIntervalMinutes) * time.Minute
	if settings.LastScanAt != nil && now.Sub(*settings.LastScanAt) < interval {
		return nil
	}

	state.Queue = pruneTerminal(state.Queue)
	if err := s.scheduleNextCycle(ctx, state, settings); err != nil {
		return err
	}
	if err := s.state.SaveAutomationState(ctx, *state); err != nil {
		return fmt.Errorf("сохранение состояния автоматики: %w", err)
	}
	return nil
}

// scheduleNextCycle выбирает groupsPerCycle самых «застоявшихся» групп
// (никогда не посещённые — первыми) и создаёт по задаче на каждую со
// ступенчатой, неравномерной задержкой: ровный ритм тиков палит автоматику.
func (s *Scheduler) scheduleNextCycle(ctx context.Context, state *domain.AutomationState, settings domain.AutomationSettings) error {
	groups, err := s.groups.ListActiveGroups(ctx)
	if err != nil {
		return fmt.Errorf("загрузка групп: %w", err)
	}
	if len(groups) == 0 {
		s.log.Debug().Msg("scheduler: нет активных групп, цикл пропущен")
		return nil
	}

	sortByStaleness(groups)
	if settings.GroupsPerCycle > 0 && len(groups) > settings.GroupsPerCycle {
		groups = groups[:settings.GroupsPerCycle]
	}

	now := s.now()
	minSec := float64(settings.DelayMinSeconds)
	maxSec := float64(settings.DelayMaxSeconds)
	for i, group := range groups {
		base := float64(i) * (minSec + maxSec) * 0.5
		jitterSec := s.randFloat() * (maxSec - minSec)
		delay := time.Duration((base + jitterSec) * float64(time.Second))
		state.Queue = append(state.Queue, domain.ScheduledTask{
			ID:          uuid.NewString(),
			Type:        domain.TaskScanGroup,
			TargetID:    group.ID,
			TargetURL:   group.URL,
			TargetLabel: group.Name,
			ScheduledAt: now.Add(delay),
			Status:      domain.TaskPending,
			CreatedAt:   now,
		})
	}

	settings.LastScanAt = &now
	if err := s.state.SaveSettings(ctx, settings); err != nil {
		return fmt.Errorf("сохранение настроек: %w", err)
	}
	s.log.Info().Int("tasks", len(groups)).Msg("scheduler: цикл посеян")
	return nil
}

// sortByStaleness упорядочивает группы по давности визита: непосещённые
// первыми, затем по возрастанию lastVisited.
func sortByStaleness(groups []domain.WatchedGroup) {
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i].LastVisited, groups[j].LastVisited
		switch {
		case a == nil && b == nil:
			return false
		case a == nil:
			return true
		case b == nil:
			return false
		default:
			return a.Before(*b)
		}
	})
}

func dueTaskIndex(queue []domain.ScheduledTask, now time.Time) int {
	idx := -1
	for i, task := range queue {
		if task.Status != domain.TaskPending || task.ScheduledAt.After(now) {
			continue
		}
		if idx < 0 || task.ScheduledAt.Before(queue[idx].ScheduledAt) {
			idx = i
		}
	}
	return idx
}

func pruneTerminal(queue []domain.ScheduledTask) []domain.ScheduledTask {
	kept := queue[:0]
	for _, task := range queue {
		if !task.Status.Terminal() {
			kept = append(kept, task)
		}
	}
	return kept
}
