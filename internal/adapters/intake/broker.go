package intake

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Broker держит AMQP-соединение с оболочкой расширения. Через очередь
// commandQueue ядро шлёт команды скана, из очереди intakeQueue читает
// пакеты постов.
type Broker struct {
	conn         *amqp.Connection
	ch           *amqp.Channel
	intakeQueue  string
	commandQueue string
	registry     *registry
	log          zerolog.Logger
}

// NewBroker подключается к RabbitMQ и объявляет обе очереди.
func NewBroker(url, intakeQueue, commandQueue string, log zerolog.Logger) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("подключение к rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("открытие канала: %w", err)
	}
	for _, queue := range []string{intakeQueue, commandQueue} {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("объявление очереди %s: %w", queue, err)
		}
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("настройка qos: %w", err)
	}
	return &Broker{
		conn:         conn,
		ch:           ch,
		intakeQueue:  intakeQueue,
		commandQueue: commandQueue,
		registry:     newRegistry(),
		log:          log,
	}, nil
}

// Close закрывает канал и соединение.
func (b *Broker) Close() error {
	if err := b.ch.Close(); err != nil {
		b.conn.Close()
		return fmt.Errorf("закрытие канала: %w", err)
	}
	return b.conn.Close()
}
