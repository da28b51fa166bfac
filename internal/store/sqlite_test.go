package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadmind/strategy-engine/internal/model"
)

func newTestSQLite(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteSnapshotRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	id, err := s.CreateSnapshot(ctx, model.Snapshot{
		Latitude:  32.78,
		Longitude: -96.80,
		Locality:  "Victory Park",
		Market:    "dallas",
		Timezone:  "America/Chicago",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	snap, err := s.GetSnapshot(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, snap.ID)
	assert.Equal(t, "Victory Park", snap.Locality)
	assert.False(t, snap.CapturedAt.IsZero())
}

func TestSQLiteGetSnapshotNotFound(t *testing.T) {
	s := newTestSQLite(t)

	_, err := s.GetSnapshot(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteRunStateUpsert(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	snapID, err := s.CreateSnapshot(ctx, model.Snapshot{Latitude: 1, Longitude: 2})
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	run := &model.PipelineRun{
		ID:         "run-1",
		SnapshotID: snapID,
		Status:     model.RunStatusRunning,
		Phase:      model.PhaseStarting,
		StartedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, s.WriteRunState(ctx, run))

	// Same run ID updates in place.
	run.Phase = model.PhaseVenues
	run.Progress = 40
	run.UpdatedAt = now.Add(time.Second)
	require.NoError(t, s.WriteRunState(ctx, run))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.PhaseVenues, got.Phase)
	assert.Equal(t, 40, got.Progress)

	latest, err := s.ReadRunState(ctx, snapID)
	require.NoError(t, err)
	assert.Equal(t, "run-1", latest.ID)
}

func TestSQLiteReadRunStateReturnsLatest(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	snapID, err := s.CreateSnapshot(ctx, model.Snapshot{Latitude: 1, Longitude: 2})
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Second)
	for i, id := range []string{"run-old", "run-new"} {
		run := &model.PipelineRun{
			ID:         id,
			SnapshotID: snapID,
			Status:     model.RunStatusComplete,
			Phase:      model.PhaseComplete,
			Progress:   100,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			UpdatedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, s.WriteRunState(ctx, run))
	}

	latest, err := s.ReadRunState(ctx, snapID)
	require.NoError(t, err)
	assert.Equal(t, "run-new", latest.ID)
}

func TestSQLiteReadRunStateNotFound(t *testing.T) {
	s := newTestSQLite(t)

	_, err := s.ReadRunState(context.Background(), "never-ran")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLiteListRunsFilters(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	snapA, err := s.CreateSnapshot(ctx, model.Snapshot{Latitude: 1, Longitude: 2})
	require.NoError(t, err)
	snapB, err := s.CreateSnapshot(ctx, model.Snapshot{Latitude: 3, Longitude: 4})
	require.NoError(t, err)

	base := time.Now().UTC().Truncate(time.Second)
	writes := []struct {
		id     string
		snap   string
		status model.RunStatus
	}{
		{"r1", snapA, model.RunStatusComplete},
		{"r2", snapA, model.RunStatusFailed},
		{"r3", snapB, model.RunStatusComplete},
	}
	for i, w := range writes {
		require.NoError(t, s.WriteRunState(ctx, &model.PipelineRun{
			ID:         w.id,
			SnapshotID: w.snap,
			Status:     w.status,
			Phase:      model.PhaseComplete,
			StartedAt:  base.Add(time.Duration(i) * time.Second),
			UpdatedAt:  base.Add(time.Duration(i) * time.Second),
		}))
	}

	bySnap, err := s.ListRuns(ctx, RunFilter{SnapshotID: snapA})
	require.NoError(t, err)
	assert.Len(t, bySnap, 2)

	byStatus, err := s.ListRuns(ctx, RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, "r2", byStatus[0].ID)

	limited, err := s.ListRuns(ctx, RunFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	// Newest first.
	assert.Equal(t, "r3", limited[0].ID)
}

func TestSQLiteRunPayloadSurvivesRoundTrip(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	snapID, err := s.CreateSnapshot(ctx, model.Snapshot{Latitude: 1, Longitude: 2})
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Second)
	run := &model.PipelineRun{
		ID:         "run-rich",
		SnapshotID: snapID,
		Status:     model.RunStatusComplete,
		Phase:      model.PhaseComplete,
		Progress:   100,
		Attempt:    1,
		StartedAt:  now,
		UpdatedAt:  now,
		Interim:    &model.InterimResult{Locality: "Dallas", Headline: "Busy night ahead.", GeneratedAt: now},
		Warnings:   []string{"drive times unavailable"},
		Result: &model.StrategyResult{
			Narrative:     "Head toward the arena.",
			ProviderChain: []string{"anthropic"},
			GeneratedAt:   now,
		},
	}
	require.NoError(t, s.WriteRunState(ctx, run))

	got, err := s.GetRun(ctx, "run-rich")
	require.NoError(t, err)
	require.NotNil(t, got.Interim)
	assert.Equal(t, "Busy night ahead.", got.Interim.Headline)
	require.NotNil(t, got.Result)
	assert.Equal(t, []string{"anthropic"}, got.Result.ProviderChain)
	assert.Equal(t, []string{"drive times unavailable"}, got.Warnings)
}
