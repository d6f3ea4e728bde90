package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	interfaces "github.com/sheikh-saqib/currency-ledger/internal/interfaces"
)

var _ interfaces.EventPublisher = (*Publisher)(nil)

// Publisher writes JSON encoded events to kafka. The topic is chosen per
// message so one writer serves every event type.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.Hash{},
			Compression:            kafka.Lz4,
			BatchTimeout:           50 * time.Millisecond,
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

// PublishKeyed encodes event and writes it keyed by key, so events for one player
// land on one partition in order.
func (p *Publisher) PublishKeyed(ctx context.Context, topic, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: data,
		},
	)
}

func (p *Publisher) Publish(ctx context.Context, topic string, event any) error {
	key := ""
	if k, ok := event.(interface{ EventKey() string }); ok {
		key = k.EventKey()
	}
	return p.PublishKeyed(ctx, topic, key, event)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Noop drops every event. Used when no brokers are configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, any) error { return nil }
func (Noop) Close() error                               { return nil }
