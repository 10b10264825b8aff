package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"fb-lead-scanner/internal/domain"
	"fb-lead-scanner/internal/infra/metrics"
)

// scanCommand — команда оболочке расширения открыть страницу и собрать посты.
type scanCommand struct {
	TaskID      string `json:"task_id"`
	Type        string `json:"type"`
	TargetURL   string `json:"target_url"`
	TargetLabel string `json:"target_label,omitempty"`
}

// Dispatcher отправляет команды скана и ждёт подтверждённого завершения:
// оболочка публикует пакет постов с тем же task_id, консьюмер прогоняет его
// через пайплайн и разрешает ожидание.
type Dispatcher struct {
	broker *Broker
}

var _ domain.ScanDispatcher = (*Dispatcher)(nil)

// NewDispatcher создаёт диспетчера поверх брокера.
func NewDispatcher(broker *Broker) *Dispatcher {
	return &Dispatcher{broker: broker}
}

// Execute публикует команду и блокируется до результата либо отмены
// контекста. Успешный возврат означает, что пакет по заданию обработан.
func (d *Dispatcher) Execute(ctx context.Context, task domain.ScheduledTask) (int, error) {
	ch := d.broker.registry.expect(task.ID)
	defer d.broker.registry.forget(task.ID)

	cmd := scanCommand{
		TaskID:      task.ID,
		Type:        string(task.Type),
		TargetURL:   task.TargetURL,
		TargetLabel: task.TargetLabel,
	}
	body, err := json.Marshal(cmd)
	if err != nil {
		return 0, fmt.Errorf("упаковка команды: %w", err)
	}
	start := time.Now()
	err = d.broker.ch.PublishWithContext(ctx, "", d.broker.commandQueue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    task.ID,
		Body:         body,
	})
	metrics.ObserveNetworkRequest("rabbitmq", "publish", d.broker.commandQueue, start, err)
	if err != nil {
		return 0, fmt.Errorf("публикация команды: %w", err)
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case c := <-ch:
		if c.err != nil {
			return 0, fmt.Errorf("скан %s: %w", task.ID, c.err)
		}
		return c.result.LeadsDetected, nil
	}
}
