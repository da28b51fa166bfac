// Package events publishes pipeline phase transitions to an optional
// Kafka topic so dashboards can react without polling the status
// endpoint. When no brokers are configured, publishing is a no-op.
package events

import (
	"context"
	"time"

	"github.com/roadmind/strategy-engine/internal/model"
)

// PhaseEvent is the wire form of one phase transition.
type PhaseEvent struct {
	RunID      string          `json:"run_id"`
	SnapshotID string          `json:"snapshot_id"`
	Phase      model.Phase     `json:"phase"`
	Status     model.RunStatus `json:"status"`
	Progress   int             `json:"progress"`
	Attempt    int             `json:"attempt"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// Publisher emits phase events. Publish failures are reported but never
// affect the run itself.
type Publisher interface {
	Publish(ctx context.Context, ev PhaseEvent) error
	Close() error
}

// Noop discards all events.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, PhaseEvent) error { return nil }

// Close implements Publisher.
func (Noop) Close() error { return nil }
