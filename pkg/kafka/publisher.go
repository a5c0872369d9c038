// Package kafka publishes wallet events to a Kafka topic. It satisfies the same
// Publisher contract as the RabbitMQ producer so either broker can back the service.
package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// RoutingKeyHeader carries the logical event name on every message.
const RoutingKeyHeader = "routing_key"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	writer messageWriter
	topic  string
}

// NewPublisher builds a publisher writing to topic on brokers.
func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		topic: topic,
	}
}

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// Publish writes body as JSON. The routing key becomes the message key so events for
// one routing key keep their order within a partition.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	headers := []kafka.Header{{Key: RoutingKeyHeader, Value: []byte(routingKey)}}
	if exchange != "" {
		headers = append(headers, kafka.Header{Key: "exchange", Value: []byte(exchange)})
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(routingKey),
		Value:   data,
		Headers: headers,
		Time:    time.Now().UTC(),
	})
}

func (p *Publisher) Close() {
	_ = p.writer.Close()
}
