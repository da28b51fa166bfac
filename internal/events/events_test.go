package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadmind/strategy-engine/internal/config"
)

func TestFromConfigNoBrokers(t *testing.T) {
	pub, err := FromConfig(config.EventsConfig{Topic: "strategy.phase-transitions"})
	require.NoError(t, err)
	assert.IsType(t, Noop{}, pub)
}

func TestFromConfigRequiresTopic(t *testing.T) {
	_, err := FromConfig(config.EventsConfig{Brokers: []string{"localhost:9092"}})
	assert.Error(t, err)
}

func TestFromConfigKafka(t *testing.T) {
	pub, err := FromConfig(config.EventsConfig{
		Brokers: []string{"localhost:9092"},
		Topic:   "strategy.phase-transitions",
	})
	require.NoError(t, err)
	assert.IsType(t, &KafkaPublisher{}, pub)
	assert.NoError(t, pub.Close())
}

func TestNoopPublish(t *testing.T) {
	var pub Publisher = Noop{}
	assert.NoError(t, pub.Publish(context.Background(), PhaseEvent{RunID: "r1"}))
	assert.NoError(t, pub.Close())
}
