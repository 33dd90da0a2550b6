package notify

import (
	"context"
	"fmt"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaPublisher publishes events for the SMS gateway and any other
// downstream consumer. Records are keyed by student number so one
// student's events stay ordered within a partition.
type KafkaPublisher struct {
	client *kgo.Client
	topic  string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, fmt.Errorf("kafka publisher needs brokers and a topic")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ClientID("citadel-gate"),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic}, nil
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) Send(ctx context.Context, ev Event) error {
	rec, err := newRecord(p.topic, ev)
	if err != nil {
		return err
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka produce: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}

func newRecord(topic string, ev Event) (*kgo.Record, error) {
	value, err := ev.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	rec := &kgo.Record{
		Topic: topic,
		Key:   []byte(ev.StudentNo),
		Value: value,
	}
	rec.Headers = []kgo.RecordHeader{
		{Key: "event_id", Value: []byte(ev.ID)},
		{Key: "direction", Value: []byte(ev.Direction)},
	}
	return rec, nil
}
