package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/roadmind/strategy-engine/internal/config"
)

// KafkaPublisher writes phase events to a Kafka topic, keyed by
// snapshot ID so all events for one snapshot land on one partition in
// order.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a publisher for the configured brokers.
func NewKafkaPublisher(cfg config.EventsConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, eris.New("events: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, eris.New("events: topic required")
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Async:        false,
	})
	return &KafkaPublisher{writer: w}, nil
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, ev PhaseEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "events: marshal event")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.SnapshotID),
		Value: value,
		Time:  ev.OccurredAt,
	})
	if err != nil {
		zap.L().Warn("events: publish failed",
			zap.String("run_id", ev.RunID),
			zap.String("phase", string(ev.Phase)),
			zap.Error(err),
		)
		return eris.Wrap(err, "events: write message")
	}
	return nil
}

// Close implements Publisher.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// FromConfig returns a Kafka publisher when brokers are configured and
// a Noop otherwise.
func FromConfig(cfg config.EventsConfig) (Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return Noop{}, nil
	}
	return NewKafkaPublisher(cfg)
}
