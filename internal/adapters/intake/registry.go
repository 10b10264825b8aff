package intake

import (
	"sync"

	"fb-lead-scanner/internal/domain"
)

// completion — итог одного задания скана, пришедший от оболочки расширения.
type completion struct {
	result domain.ScanResult
	err    error
}

// registry сводит вместе отправленные команды скана и пришедшие по очереди
// результаты. Диспетчер ждёт на канале, консьюмер его разрешает.
type registry struct {
	mu      sync.Mutex
	waiting map[string]chan completion
}

func newRegistry() *registry {
	return &registry{waiting: make(map[string]chan completion)}
}

// expect регистрирует ожидание результата по идентификатору задания.
// Канал буферизирован: резолв не блокируется, даже если ожидающий уже ушёл.
func (r *registry) expect(taskID string) chan completion {
	ch := make(chan completion, 1)
	r.mu.Lock()
	r.waiting[taskID] = ch
	r.mu.Unlock()
	return ch
}

// forget снимает ожидание, если диспетчер перестал ждать.
func (r *registry) forget(taskID string) {
	r.mu.Lock()
	delete(r.waiting, taskID)
	r.mu.Unlock()
}

// resolve доставляет итог ожидающему. Возвращает false, если задание
// никто не ждёт (результат пришёл после таймаута или после рестарта).
func (r *registry) resolve(taskID string, c completion) bool {
	r.mu.Lock()
	ch, ok := r.waiting[taskID]
	if ok {
		delete(r.waiting, taskID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	ch <- c
	return true
}
