package timing

import (
	"context"
	"sync"
	"time"
)

// Bucket — token bucket: не более rate срабатываний за окно per на длинной
// дистанции, короткие всплески до rate проходят без ожидания (ведро
// стартует полным). Пополнение ленивое, пропорционально прошедшему времени.
type Bucket struct {
	mu         sync.Mutex
	rate       float64
	per        time.Duration
	tokens     float64
	lastRefill time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewBucket создаёт полное ведро на rate токенов за окно per.
func NewBucket(rate int, per time.Duration) *Bucket {
	if rate <= 0 {
		rate = 1
	}
	if per <= 0 {
		per = time.Minute
	}
	b := &Bucket{
		rate:   float64(rate),
		per:    per,
		tokens: float64(rate),
		now:    time.Now,
		sleep:  sleepCtx,
	}
	b.lastRefill = b.now()
	return b
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (b *Bucket) refillAt(now time.Time) float64 {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return b.tokens
	}
	refilled := b.tokens + float64(elapsed)/float64(b.per)*b.rate
	if refilled > b.rate {
		refilled = b.rate
	}
	return refilled
}

// Consume забирает один токен. Если токенов нет, ждёт per/rate и пробует
// снова — явным циклом, не рекурсией, чтобы стек не рос под нагрузкой.
func (b *Bucket) Consume(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := b.now()
		b.tokens = b.refillAt(now)
		b.lastRefill = now
		if b.tokens >= 1 {
			b.tokens--
			b.mu.Unlock()
			return nil
		}
		b.mu.Unlock()

		wait := time.Duration(float64(b.per) / b.rate)
		if err := b.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// CanConsume выполняет ту же арифметику пополнения, но без изменения
// состояния: подходит для неблокирующих проверок.
func (b *Bucket) CanConsume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refillAt(b.now()) >= 1
}
