package storage

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// KafkaMirror republishes persisted audit rows to a Kafka topic so external
// consumers (SIEM, warehousing) can tail the trail without querying the
// store. The store's own feed stays the alert engine's default transport;
// the mirror is additive and best-effort.
type KafkaMirror struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafkaMirror connects a producer to the given brokers.
func NewKafkaMirror(brokers []string, topic string, logger *slog.Logger) (*KafkaMirror, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(0),
	)
	if err != nil {
		return nil, err
	}
	return &KafkaMirror{client: client, topic: topic, logger: logger}, nil
}

// Run tails the store feed for table and produces each row keyed by actor id
// so per-actor ordering survives partitioning. Blocks until ctx is done.
func (m *KafkaMirror) Run(ctx context.Context, feed Feed, table string) error {
	rows, cancel, err := feed.Subscribe(ctx, table)
	if err != nil {
		return err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case row, ok := <-rows:
			if !ok {
				return nil
			}
			m.produce(ctx, row)
		}
	}
}

func (m *KafkaMirror) produce(ctx context.Context, row Row) {
	payload, err := json.Marshal(row)
	if err != nil {
		if m.logger != nil {
			m.logger.Warn("skipping unmarshalable audit row", "error", err)
		}
		return
	}

	key, _ := row["actor_id"].(string)
	record := &kgo.Record{Topic: m.topic, Key: []byte(key), Value: payload}

	m.client.Produce(ctx, record, func(_ *kgo.Record, err error) {
		if err != nil && m.logger != nil {
			m.logger.Warn("audit mirror produce failed", "error", err)
		}
	})
}

// Close flushes outstanding records and releases the producer.
func (m *KafkaMirror) Close(ctx context.Context) error {
	err := m.client.Flush(ctx)
	m.client.Close()
	return err
}

// KafkaFeed implements Feed over a Kafka topic, for deployments where the
// alert engine runs apart from the process that owns the store.
type KafkaFeed struct {
	brokers []string
	topic   string
	group   string
}

// NewKafkaFeed configures a consumer feed. Each subscriber joins the given
// consumer group.
func NewKafkaFeed(brokers []string, topic, group string) *KafkaFeed {
	return &KafkaFeed{brokers: brokers, topic: topic, group: group}
}

// Subscribe consumes the topic into a Row channel. Partitioning by actor key
// preserves ordering within an actor, which is the property rule evaluation
// needs.
func (f *KafkaFeed) Subscribe(ctx context.Context, _ string) (<-chan Row, func(), error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(f.brokers...),
		kgo.ConsumeTopics(f.topic),
		kgo.ConsumerGroup(f.group),
	)
	if err != nil {
		return nil, nil, err
	}

	ch := make(chan Row, 256)
	done := make(chan struct{})

	go func() {
		defer close(ch)
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			default:
			}

			fetches := client.PollFetches(ctx)
			if fetches.IsClientClosed() || ctx.Err() != nil {
				return
			}
			fetches.EachRecord(func(rec *kgo.Record) {
				var row Row
				if err := json.Unmarshal(rec.Value, &row); err != nil {
					return
				}
				select {
				case ch <- row:
				case <-done:
				}
			})
		}
	}()

	cancel := func() {
		close(done)
		client.Close()
	}
	return ch, cancel, nil
}
