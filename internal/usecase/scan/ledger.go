package scan

import (
	"context"
	"fmt"
	"sync"

	"fb-lead-scanner/internal/domain"
)

// defaultLedgerCap — сколько последних идентификаторов держим в журнале.
const defaultLedgerCap = 1000

// Ledger — ограниченный журнал уже виденных идентификаторов постов.
// В памяти он источник истины на время жизни процесса, персистентное
// хранилище нужно только для восстановления после рестарта. Журнал общий
// для ручного и автоматического входа в пайплайн, поэтому защищён мьютексом.
type Ledger struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	order []string
	cap   int
	state domain.StateRepo
}

// NewLedger создаёт журнал с окном в capacity идентификаторов.
func NewLedger(state domain.StateRepo, capacity int) *Ledger {
	if capacity <= 0 {
		capacity = defaultLedgerCap
	}
	return &Ledger{
		seen:  make(map[string]struct{}, capacity),
		order: make([]string, 0, capacity),
		cap:   capacity,
		state: state,
	}
}

// Hydrate загружает персистентный хвост один раз за жизнь процесса.
// Если журнал уже непустой, загрузка пропускается.
func (l *Ledger) Hydrate(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.order) > 0 {
		return nil
	}
	ids, err := l.state.LoadSeenIDs(ctx)
	if err != nil {
		return fmt.Errorf("загрузка журнала идентификаторов: %w", err)
	}
	for _, id := range ids {
		l.markLocked(id)
	}
	return nil
}

// Mark отмечает идентификатор как виденный и возвращает true, если он
// встретился впервые. Вставка происходит до обработки поста: пост, на
// котором процесс упал, не будет ретраиться — осознанный at-most-once.
func (l *Ledger) Mark(id string) bool {
	if id == "" {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[id]; ok {
		return false
	}
	l.markLocked(id)
	return true
}

func (l *Ledger) markLocked(id string) {
	if _, ok := l.seen[id]; ok {
		return
	}
	l.seen[id] = struct{}{}
	l.order = append(l.order, id)
	if len(l.order) > l.cap {
		evicted := l.order[0]
		l.order = l.order[1:]
		delete(l.seen, evicted)
	}
}

// Len возвращает текущий размер журнала.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// Flush пишет хвост журнала в персистентное хранилище. Вызывается
// периодически и при остановке процесса.
func (l *Ledger) Flush(ctx context.Context) error {
	l.mu.Lock()
	tail := make([]string, len(l.order))
	copy(tail, l.order)
	l.mu.Unlock()
	if err := l.state.SaveSeenIDs(ctx, tail); err != nil {
		return fmt.Errorf("сохранение журнала идентификаторов: %w", err)
	}
	return nil
}
