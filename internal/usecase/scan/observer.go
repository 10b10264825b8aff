package scan

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fb-lead-scanner/internal/domain"
	"fb-lead-scanner/internal/pkg/timing"
)

// defaultObserveWait — окно схлопывания всплесков сигналов об изменениях.
const defaultObserveWait = 2 * time.Second

type runner interface {
	Run(ctx context.Context, items []domain.ContentItem, mode domain.ScanMode) (domain.ScanResult, error)
}

// Observer принимает сигналы «появился новый контент» от внешнего
// наблюдателя, накапливает посты и дебаунсом сводит серию сигналов к
// одному запуску пайплайна. Сам механизм обнаружения изменений живёт
// в оболочке расширения, ядру он не принадлежит.
type Observer struct {
	runner runner
	state  domain.StateRepo
	log    zerolog.Logger

	mu      sync.Mutex
	pending []domain.ContentItem
	fire    func()
}

// NewObserver создаёт наблюдателя с окном wait.
func NewObserver(r runner, state domain.StateRepo, log zerolog.Logger, wait time.Duration) *Observer {
	if wait <= 0 {
		wait = defaultObserveWait
	}
	o := &Observer{runner: r, state: state, log: log}
	o.fire = timing.Debounce(o.flush, wait)
	return o
}

// Notify добавляет посты в накопитель и взводит дебаунс.
func (o *Observer) Notify(items []domain.ContentItem) {
	if len(items) == 0 {
		return
	}
	o.mu.Lock()
	o.pending = append(o.pending, items...)
	o.mu.Unlock()
	o.fire()
}

func (o *Observer) flush() {
	o.mu.Lock()
	batch := o.pending
	o.pending = nil
	o.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	ctx := context.Background()
	// Режим перепроверяется на каждом срабатывании: пользователь мог
	// выключить автоскан, пока копился пакет.
	settings, err := o.state.LoadSettings(ctx)
	if err != nil {
		o.log.Error().Err(err).Msg("observer: не удалось загрузить настройки")
		return
	}
	if settings.ScanMode != domain.ScanModeAuto {
		o.log.Debug().Int("items", len(batch)).Msg("observer: автоскан выключен, пакет пропущен")
		return
	}

	result, err := o.runner.Run(ctx, batch, domain.ScanModeAuto)
	if err != nil {
		o.log.Error().Err(err).Msg("observer: скан завершился ошибкой")
		return
	}
	o.log.Info().
		Int("items", result.ItemsFound).
		Int("leads", result.LeadsDetected).
		Int("errors", len(result.Errors)).
		Msg("observer: автоскан завершён")
}
