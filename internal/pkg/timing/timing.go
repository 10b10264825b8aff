package timing

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// RandomDelay приостанавливает вызывающего на равномерно случайное время
// в диапазоне [min, max]. Используется, чтобы действия автоматики не шли
// с механически ровным ритмом.
func RandomDelay(ctx context.Context, min, max time.Duration) error {
	if max < min {
		min, max = max, min
	}
	d := min
	if span := max - min; span > 0 {
		d += time.Duration(rand.Int63n(int64(span) + 1))
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Jitter возвращает base ± base*variance*rand без приостановки.
func Jitter(base time.Duration, variance float64) time.Duration {
	if base <= 0 || variance <= 0 {
		return base
	}
	shift := (rand.Float64()*2 - 1) * variance * float64(base)
	jittered := base + time.Duration(shift)
	if jittered < 0 {
		return 0
	}
	return jittered
}

// Debounce возвращает обёртку над fn, срабатывающую по заднему фронту:
// fn выполнится через wait после последнего вызова обёртки, серия вызовов
// схлопывается в один запуск.
func Debounce(fn func(), wait time.Duration) func() {
	var mu sync.Mutex
	var timer *time.Timer
	return func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(wait, fn)
	}
}

// Throttle возвращает обёртку над fn, пропускающую первый вызов сразу
// (передний фронт) и не чаще одного запуска за wait; вызовы внутри окна
// схлопываются в один отложенный запуск в конце окна.
func Throttle(fn func(), wait time.Duration) func() {
	var mu sync.Mutex
	var last time.Time
	var trailing *time.Timer
	return func() {
		mu.Lock()
		now := time.Now()
		if now.Sub(last) >= wait {
			last = now
			mu.Unlock()
			fn()
			return
		}
		if trailing == nil {
			remaining := wait - now.Sub(last)
			trailing = time.AfterFunc(remaining, func() {
				mu.Lock()
				last = time.Now()
				trailing = nil
				mu.Unlock()
				fn()
			})
		}
		mu.Unlock()
	}
}
