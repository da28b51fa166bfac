// Package store persists snapshots and pipeline run state. Two backends
// are provided: an embedded sqlite database for single-node deployments
// and postgres for shared ones. Both keep the full record as a JSON
// payload column next to the columns we filter and sort on.
package store

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/roadmind/strategy-engine/internal/config"
	"github.com/roadmind/strategy-engine/internal/model"
)

// ErrNotFound is returned when a snapshot or run does not exist.
var ErrNotFound = errors.New("store: not found")

// RunFilter narrows ListRuns. Zero values mean no filtering.
type RunFilter struct {
	SnapshotID string
	Status     model.RunStatus
	Limit      int
}

// Store is the persistence interface for the engine and the API layer.
type Store interface {
	// Migrate creates or upgrades the schema.
	Migrate(ctx context.Context) error

	// CreateSnapshot persists a snapshot and returns its ID.
	CreateSnapshot(ctx context.Context, snap model.Snapshot) (string, error)
	// GetSnapshot returns the snapshot or ErrNotFound.
	GetSnapshot(ctx context.Context, id string) (*model.Snapshot, error)

	// WriteRunState upserts the run record keyed by run ID. The runner is
	// the only writer; readers always see a complete record.
	WriteRunState(ctx context.Context, run *model.PipelineRun) error
	// ReadRunState returns the most recently updated run for the
	// snapshot, or ErrNotFound when the snapshot has never been run.
	ReadRunState(ctx context.Context, snapshotID string) (*model.PipelineRun, error)
	// GetRun returns the run with the given ID, or ErrNotFound.
	GetRun(ctx context.Context, runID string) (*model.PipelineRun, error)
	// ListRuns returns runs matching the filter, newest first.
	ListRuns(ctx context.Context, filter RunFilter) ([]*model.PipelineRun, error)

	Close() error
}

// Open creates a Store for the configured driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return OpenSQLite(cfg.Path)
	case "postgres":
		return OpenPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
