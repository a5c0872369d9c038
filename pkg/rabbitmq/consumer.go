package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Disposition is what the consumer does with a delivery once its handler returns.
type Disposition int

const (
	// Ack removes the delivery from the queue.
	Ack Disposition = iota
	// Requeue puts the delivery back for another attempt.
	Requeue
	// DeadLetter rejects the delivery without requeue. With a dead-letter exchange
	// configured it is parked there for inspection; otherwise it is dropped.
	DeadLetter
)

func (d Disposition) String() string {
	switch d {
	case Ack:
		return "ack"
	case Requeue:
		return "requeue"
	case DeadLetter:
		return "dead_letter"
	}
	return fmt.Sprintf("disposition(%d)", int(d))
}

// Handler processes one delivery body.
type Handler func(ctx context.Context, body []byte) Disposition

// ConsumerConfig describes the queue a Consumer reads and how it is bound.
type ConsumerConfig struct {
	URL                string
	Exchange           string
	Queue              string
	DeadLetterExchange string // optional; parks DeadLetter deliveries in "<Queue>.dead"
	Prefetch           int
	Logger             *slog.Logger
}

// Consumer reads one durable queue bound to a topic exchange and routes each delivery
// to the handler registered for its routing key.
type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	cfg    ConsumerConfig
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewConsumer(cfg ConsumerConfig) (*Consumer, error) {
	if cfg.Exchange == "" || cfg.Queue == "" {
		return nil, fmt.Errorf("consumer needs an exchange and a queue")
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cleanURL, err := sanitizeAMQPURL(cfg.URL)
	if err != nil {
		return nil, err
	}
	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	return &Consumer{
		conn:   conn,
		ch:     ch,
		cfg:    cfg,
		logger: logger.With("component", "rabbitmq_consumer", "queue", cfg.Queue),
	}, nil
}

// queueArgs returns the arguments the work queue is declared with.
func (c *Consumer) queueArgs() amqp.Table {
	if c.cfg.DeadLetterExchange == "" {
		return nil
	}
	return amqp.Table{"x-dead-letter-exchange": c.cfg.DeadLetterExchange}
}

func (c *Consumer) declareTopology(routingKeys []string) error {
	if err := c.ch.ExchangeDeclare(c.cfg.Exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange %s: %w", c.cfg.Exchange, err)
	}

	if dlx := c.cfg.DeadLetterExchange; dlx != "" {
		if err := c.ch.ExchangeDeclare(dlx, "fanout", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare dead-letter exchange %s: %w", dlx, err)
		}
		dead, err := c.ch.QueueDeclare(c.cfg.Queue+".dead", true, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("declare dead-letter queue: %w", err)
		}
		if err := c.ch.QueueBind(dead.Name, "", dlx, false, nil); err != nil {
			return fmt.Errorf("bind dead-letter queue: %w", err)
		}
	}

	q, err := c.ch.QueueDeclare(c.cfg.Queue, true, false, false, false, c.queueArgs())
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", c.cfg.Queue, err)
	}
	for _, key := range routingKeys {
		if err := c.ch.QueueBind(q.Name, key, c.cfg.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", key, err)
		}
	}
	return c.ch.Qos(c.cfg.Prefetch, 0, false)
}

// Start declares the topology, binds one routing key per handler and processes
// deliveries in a background goroutine until ctx is cancelled or Close is called.
func (c *Consumer) Start(ctx context.Context, handlers map[string]Handler) error {
	routes := make(map[string]Handler, len(handlers))
	keys := make([]string, 0, len(handlers))
	for key, handler := range handlers {
		if handler == nil {
			continue
		}
		routes[key] = handler
		keys = append(keys, key)
	}
	if len(routes) == 0 {
		return fmt.Errorf("no handlers provided")
	}

	if err := c.declareTopology(keys); err != nil {
		return err
	}
	deliveries, err := c.ch.Consume(c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.cfg.Queue, err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(runCtx, deliveries, routes)
	}()
	c.logger.Info("consumer started", "routing_keys", keys)
	return nil
}

func (c *Consumer) run(ctx context.Context, deliveries <-chan amqp.Delivery, routes map[string]Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				c.logger.Info("delivery channel closed")
				return
			}
			c.dispatch(ctx, d, routes)
		}
	}
}

// dispatch runs the handler for d and settles the delivery. A panicking handler
// requeues the delivery once and dead-letters a redelivery.
func (c *Consumer) dispatch(ctx context.Context, d amqp.Delivery, routes map[string]Handler) {
	handler, ok := routes[d.RoutingKey]
	if !ok {
		c.logger.Warn("no handler for routing key; dead-lettering", "routing_key", d.RoutingKey)
		c.settle(d, DeadLetter)
		return
	}

	disposition := func() (out Disposition) {
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("handler panicked", "routing_key", d.RoutingKey, "panic", r)
				out = Requeue
				if d.Redelivered {
					out = DeadLetter
				}
			}
		}()
		return handler(ctx, d.Body)
	}()
	c.settle(d, disposition)
}

func (c *Consumer) settle(d amqp.Delivery, disposition Disposition) {
	var err error
	switch disposition {
	case Ack:
		err = d.Ack(false)
	case Requeue:
		c.logger.Warn("requeuing delivery", "routing_key", d.RoutingKey, "message_id", d.MessageId)
		err = d.Nack(false, true)
	default:
		c.logger.Warn("dead-lettering delivery", "routing_key", d.RoutingKey, "message_id", d.MessageId)
		err = d.Nack(false, false)
	}
	if err != nil {
		c.logger.Error("settle delivery failed", "routing_key", d.RoutingKey, "disposition", disposition.String(), "error", err)
	}
}

// Close stops delivery processing, waits for the in-flight handler and closes the
// channel and connection.
func (c *Consumer) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
