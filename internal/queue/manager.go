// internal/queue/manager.go
package queue

import (
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"reminder-workers/internal/common/config"
	"reminder-workers/internal/common/logger"
)

const routingKey = "deliver"

// Manager owns the RabbitMQ connection, channel and topology. The channel
// is not safe for concurrent publishes, so publishes go through a mutex.
type Manager struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	cfg  config.QueueConfig
	log  logger.Logger

	pubMu sync.Mutex
}

func NewManager(cfg config.QueueConfig, log logger.Logger) (*Manager, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	m := &Manager{
		conn: conn,
		ch:   ch,
		cfg:  cfg,
		log:  log,
	}

	if err := m.declareTopology(); err != nil {
		m.Close()
		return nil, err
	}

	log.Info("rabbitmq topology declared", map[string]interface{}{
		"exchange":   cfg.Exchange,
		"queue":      cfg.Queue,
		"deadLetter": cfg.DeadLetter,
	})
	return m, nil
}

// declareTopology declares the direct exchange, the delivery queue and the
// dead letter path. Declarations are idempotent on the broker.
func (m *Manager) declareTopology() error {
	dlx := m.cfg.Exchange + ".dlx"

	if err := m.ch.ExchangeDeclare(m.cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}
	if err := m.ch.ExchangeDeclare(dlx, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead letter exchange: %w", err)
	}

	if _, err := m.ch.QueueDeclare(m.cfg.DeadLetter, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead letter queue: %w", err)
	}
	if err := m.ch.QueueBind(m.cfg.DeadLetter, routingKey, dlx, false, nil); err != nil {
		return fmt.Errorf("failed to bind dead letter queue: %w", err)
	}

	args := amqp.Table{
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": routingKey,
	}
	if _, err := m.ch.QueueDeclare(m.cfg.Queue, true, false, false, false, args); err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := m.ch.QueueBind(m.cfg.Queue, routingKey, m.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

// Consume opens the delivery stream with prefetch bounded by the worker
// pool size.
func (m *Manager) Consume() (<-chan amqp.Delivery, error) {
	if err := m.ch.Qos(m.cfg.Concurrency, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := m.ch.Consume(m.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}
	return deliveries, nil
}

func (m *Manager) Close() error {
	if m.ch != nil {
		m.ch.Close()
	}
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}
