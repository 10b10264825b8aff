package intake

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"fb-lead-scanner/internal/domain"
)

type scanRunner interface {
	Run(ctx context.Context, items []domain.ContentItem, mode domain.ScanMode) (domain.ScanResult, error)
}

type pageObserver interface {
	Notify(items []domain.ContentItem)
}

// Consumer читает пакеты постов из intake-очереди и раскладывает их по
// трём маршрутам: ответ на команду автоматики, ручной скан, пассивное
// наблюдение за страницей.
type Consumer struct {
	broker   *Broker
	runner   scanRunner
	observer pageObserver
	log      zerolog.Logger
}

// NewConsumer создаёт консьюмера.
func NewConsumer(broker *Broker, runner scanRunner, observer pageObserver, log zerolog.Logger) *Consumer {
	return &Consumer{broker: broker, runner: runner, observer: observer, log: log}
}

// Run блокирующе обрабатывает intake-очередь до отмены контекста.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.broker.ch.ConsumeWithContext(ctx, c.broker.intakeQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("подписка на %s: %w", c.broker.intakeQueue, err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("канал %s закрыт", c.broker.intakeQueue)
			}
			c.handleDelivery(ctx, d)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	var batch domain.ScanBatch
	if err := json.Unmarshal(d.Body, &batch); err != nil {
		c.log.Error().Err(err).Msg("нечитаемый пакет постов, отбрасываем")
		// Повторная доставка не поможет: сообщение битое.
		_ = d.Nack(false, false)
		return
	}

	switch {
	case batch.TaskID != "":
		// Ответ на команду автоматики: прогоняем пайплайн и будим диспетчера.
		result, err := c.runner.Run(ctx, batch.Items, domain.ScanModeAuto)
		if !c.broker.registry.resolve(batch.TaskID, completion{result: result, err: err}) {
			c.log.Warn().Str("task_id", batch.TaskID).Msg("результат скана пришёл, но его никто не ждёт")
		}
	case batch.Mode == domain.ScanModeManual:
		result, err := c.runner.Run(ctx, batch.Items, domain.ScanModeManual)
		if err != nil {
			c.log.Error().Err(err).Str("page_url", batch.PageURL).Msg("ручной скан завершился ошибкой")
		} else {
			c.log.Info().Str("page_url", batch.PageURL).
				Int("items", result.ItemsFound).Int("leads", result.LeadsDetected).
				Msg("ручной скан обработан")
		}
	default:
		// Пассивные мутации страницы копятся в обсервере и схлопываются.
		c.observer.Notify(batch.Items)
	}

	if err := d.Ack(false); err != nil {
		c.log.Error().Err(err).Msg("не удалось подтвердить сообщение")
	}
}
