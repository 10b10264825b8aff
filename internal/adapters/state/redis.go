package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fb-lead-scanner/internal/domain"
	"fb-lead-scanner/internal/infra/metrics"
)

// Ключи персистентного состояния ядра. Состояние долговечно между
// рестартами, но не транзакционно: от потерянных обновлений защищает
// сериализация обращений в самих usecase-ах.
const (
	keyAutomationState = "automation:state"
	keySettings        = "automation:settings"
	keySessionLimits   = "session:limits"
	keySeenIDs         = "scan:seen_ids"
)

// Redis реализует domain.StateRepo поверх Redis.
type Redis struct {
	client    *redis.Client
	ledgerCap int
}

var _ domain.StateRepo = (*Redis)(nil)

// NewRedis создаёт хранилище состояния. ledgerCap ограничивает хвост
// журнала идентификаторов.
func NewRedis(client *redis.Client, ledgerCap int) *Redis {
	if ledgerCap <= 0 {
		ledgerCap = 1000
	}
	return &Redis{client: client, ledgerCap: ledgerCap}
}

func (r *Redis) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	start := time.Now()
	raw, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.ObserveNetworkRequest("redis", "get", key, start, nil)
		return false, nil
	}
	metrics.ObserveNetworkRequest("redis", "get", key, start, err)
	if err != nil {
		return false, fmt.Errorf("чтение %s: %w", key, err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// Нечитаемое состояние — фатальная категория, наверх без маскировки.
		return false, fmt.Errorf("распаковка %s: %w", key, err)
	}
	return true, nil
}

func (r *Redis) setJSON(ctx context.Context, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("упаковка %s: %w", key, err)
	}
	start := time.Now()
	err = r.client.Set(ctx, key, raw, 0).Err()
	metrics.ObserveNetworkRequest("redis", "set", key, start, err)
	if err != nil {
		return fmt.Errorf("запись %s: %w", key, err)
	}
	return nil
}

// LoadAutomationState возвращает состояние планировщика.
func (r *Redis) LoadAutomationState(ctx context.Context) (domain.AutomationState, error) {
	var state domain.AutomationState
	if _, err := r.getJSON(ctx, keyAutomationState, &state); err != nil {
		return domain.AutomationState{}, err
	}
	return state, nil
}

// SaveAutomationState сохраняет состояние планировщика.
func (r *Redis) SaveAutomationState(ctx context.Context, state domain.AutomationState) error {
	return r.setJSON(ctx, keyAutomationState, state)
}

// LoadSettings возвращает настройки автоматики, при отсутствии — дефолтные.
func (r *Redis) LoadSettings(ctx context.Context) (domain.AutomationSettings, error) {
	var settings domain.AutomationSettings
	found, err := r.getJSON(ctx, keySettings, &settings)
	if err != nil {
		return domain.AutomationSettings{}, err
	}
	if !found {
		return domain.DefaultAutomationSettings(), nil
	}
	return settings, nil
}

// SaveSettings сохраняет настройки автоматики.
func (r *Redis) SaveSettings(ctx context.Context, settings domain.AutomationSettings) error {
	return r.setJSON(ctx, keySettings, settings)
}

// LoadSessionLimits возвращает лимиты сессии, при отсутствии — дефолтные.
func (r *Redis) LoadSessionLimits(ctx context.Context) (domain.SessionLimits, error) {
	var limits domain.SessionLimits
	found, err := r.getJSON(ctx, keySessionLimits, &limits)
	if err != nil {
		return domain.SessionLimits{}, err
	}
	if !found {
		return domain.DefaultSessionLimits(time.Now().UTC()), nil
	}
	return limits, nil
}

// SaveSessionLimits сохраняет лимиты сессии.
func (r *Redis) SaveSessionLimits(ctx context.Context, limits domain.SessionLimits) error {
	return r.setJSON(ctx, keySessionLimits, limits)
}

// LoadSeenIDs возвращает хвост журнала идентификаторов, старые первыми.
func (r *Redis) LoadSeenIDs(ctx context.Context) ([]string, error) {
	start := time.Now()
	ids, err := r.client.LRange(ctx, keySeenIDs, 0, -1).Result()
	metrics.ObserveNetworkRequest("redis", "lrange", keySeenIDs, start, err)
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("чтение журнала идентификаторов: %w", err)
	}
	return ids, nil
}

// SaveSeenIDs перезаписывает журнал идентификаторов, обрезая его до
// последних ledgerCap значений.
func (r *Redis) SaveSeenIDs(ctx context.Context, ids []string) error {
	start := time.Now()
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, keySeenIDs)
	if len(ids) > 0 {
		values := make([]any, len(ids))
		for i, id := range ids {
			values[i] = id
		}
		pipe.RPush(ctx, keySeenIDs, values...)
		pipe.LTrim(ctx, keySeenIDs, int64(-r.ledgerCap), -1)
	}
	_, err := pipe.Exec(ctx)
	metrics.ObserveNetworkRequest("redis", "pipeline", keySeenIDs, start, err)
	if err != nil {
		return fmt.Errorf("запись журнала идентификаторов: %w", err)
	}
	return nil
}
