package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadmind/strategy-engine/internal/config"
	"github.com/roadmind/strategy-engine/internal/consolidate"
	"github.com/roadmind/strategy-engine/internal/events"
	"github.com/roadmind/strategy-engine/internal/model"
	"github.com/roadmind/strategy-engine/internal/provider"
	"github.com/roadmind/strategy-engine/internal/store"
	"github.com/roadmind/strategy-engine/pkg/places"
	"github.com/roadmind/strategy-engine/pkg/routing"
)

// memStore is an in-memory store.Store for engine tests.
type memStore struct {
	mu    sync.Mutex
	snaps map[string]model.Snapshot
	runs  map[string]*model.PipelineRun
}

func newMemStore() *memStore {
	return &memStore{
		snaps: make(map[string]model.Snapshot),
		runs:  make(map[string]*model.PipelineRun),
	}
}

func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

func (m *memStore) CreateSnapshot(_ context.Context, snap model.Snapshot) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[snap.ID] = snap
	return snap.ID, nil
}

func (m *memStore) GetSnapshot(_ context.Context, id string) (*model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &snap, nil
}

func (m *memStore) WriteRunState(_ context.Context, run *model.PipelineRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run.Clone()
	return nil
}

func (m *memStore) ReadRunState(_ context.Context, snapshotID string) (*model.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *model.PipelineRun
	for _, r := range m.runs {
		if r.SnapshotID != snapshotID {
			continue
		}
		if latest == nil || r.UpdatedAt.After(latest.UpdatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest.Clone(), nil
}

func (m *memStore) GetRun(_ context.Context, runID string) (*model.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[runID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return r.Clone(), nil
}

func (m *memStore) ListRuns(_ context.Context, _ store.RunFilter) ([]*model.PipelineRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.PipelineRun, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, r.Clone())
	}
	return out, nil
}

// scriptedAdapter answers per content type and can fail a content type
// a set number of times.
type scriptedAdapter struct {
	mu           sync.Mutex
	name         string
	venueFails   int
	newsFail     bool
	strategyFail bool
	strategyText string
}

func (s *scriptedAdapter) Name() string { return s.name }

func (s *scriptedAdapter) Invoke(_ context.Context, req provider.Request) model.ProviderResult {
	res := model.ProviderResult{Provider: s.name, ContentType: req.ContentType}

	switch req.ContentType {
	case model.ContentStrategy:
		if s.strategyFail {
			res.Outcome = model.OutcomeError
			res.Diagnostic = "strategy backend down"
			return res
		}
		res.Outcome = model.OutcomeOK
		res.Text = "Stay close to the arena. The game ends at nine and demand spikes after."
		if s.strategyText != "" {
			res.Text = s.strategyText
		}
	case model.ContentVenues:
		s.mu.Lock()
		fail := s.venueFails > 0
		if fail {
			s.venueFails--
		}
		s.mu.Unlock()
		if fail {
			res.Outcome = model.OutcomeError
			res.Diagnostic = "venue backend down"
			return res
		}
		res.Outcome = model.OutcomeOK
		lat, lng := 32.7905, -96.8104
		res.Items = []model.Item{
			{Title: "American Airlines Center", Body: "Game night", Latitude: &lat, Longitude: &lng, Impact: 0.9},
			{Title: "Deep Ellum bars", Impact: 0.6},
		}
	case model.ContentNews:
		if s.newsFail {
			res.Outcome = model.OutcomeTimeout
			return res
		}
		res.Outcome = model.OutcomeOK
		res.Items = []model.Item{{Title: "Concert traffic on Victory Ave", Impact: 0.5}}
	}
	return res
}

type fakePlaces struct {
	geocodeErr error
	searchErr  error
}

func (f *fakePlaces) TextSearch(_ context.Context, query string, _ places.LatLng) (*places.TextSearchResponse, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return &places.TextSearchResponse{Places: []places.Place{{
		DisplayName:     places.DisplayName{Text: query},
		Rating:          4.4,
		UserRatingCount: 1200,
		BusinessStatus:  "OPERATIONAL",
		Location:        places.LatLng{Latitude: 32.79, Longitude: -96.81},
	}}}, nil
}

func (f *fakePlaces) ReverseGeocode(context.Context, places.LatLng) (*places.Locality, error) {
	if f.geocodeErr != nil {
		return nil, f.geocodeErr
	}
	return &places.Locality{Neighborhood: "Victory Park", City: "Dallas", State: "Texas"}, nil
}

type fakeRouting struct {
	err error
}

func (f *fakeRouting) DriveMinutes(_ context.Context, _ routing.Coord, dests []routing.Coord) ([]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float64, len(dests))
	for i := range out {
		out[i] = float64(5 + i)
	}
	return out, nil
}

func testSnapshot() model.Snapshot {
	return model.Snapshot{
		ID:         "snap-1",
		Latitude:   32.7831,
		Longitude:  -96.8067,
		Market:     "dallas",
		Timezone:   "America/Chicago",
		CapturedAt: time.Now().UTC(),
	}
}

func newRun(snapshotID string) *model.PipelineRun {
	now := time.Now().UTC()
	return &model.PipelineRun{
		ID:         "run-1",
		SnapshotID: snapshotID,
		Status:     model.RunStatusRunning,
		Phase:      model.PhaseStarting,
		StartedAt:  now,
		UpdatedAt:  now,
	}
}

func testEngine(adapter provider.Adapter, pl places.Client, rt routing.Client, st store.Store) *Engine {
	return New(
		config.EngineConfig{PhaseTimeoutSecs: 5, MaxVenueCandidates: 8},
		[]provider.Adapter{adapter},
		consolidate.New(consolidate.DefaultOptions()),
		pl, rt, st, events.Noop{},
	)
}

func TestExecutionHappyPath(t *testing.T) {
	st := newMemStore()
	eng := testEngine(&scriptedAdapter{name: "stub"}, &fakePlaces{}, &fakeRouting{}, st)

	run := newRun("snap-1")
	var progressSamples []int
	x := eng.NewExecution(testSnapshot(), run, func(cp *model.PipelineRun) {
		progressSamples = append(progressSamples, cp.Progress)
	})

	require.NoError(t, x.Run(context.Background(), model.PhaseStarting))

	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, model.PhaseComplete, run.Phase)
	assert.Equal(t, 100, run.Progress)
	assert.Equal(t, model.PhaseEnriching, run.LastGoodPhase)
	require.NotNil(t, run.CompletedAt)

	require.NotNil(t, run.Interim)
	assert.Equal(t, "Victory Park", run.Interim.Locality)
	assert.Equal(t, "Stay close to the arena.", run.Interim.Headline)

	require.NotNil(t, run.Result)
	assert.NotEmpty(t, run.Result.Narrative)
	assert.Contains(t, run.Result.ProviderChain, "stub")
	require.NotEmpty(t, run.Result.Venues)
	top := run.Result.Venues[0]
	assert.Equal(t, "American Airlines Center", top.Title)
	assert.True(t, top.Verified)
	assert.Equal(t, 4.4, top.PlaceRating)
	assert.Greater(t, top.DriveMinutes, 0.0)
	require.NotNil(t, run.Result.News)
	assert.Len(t, run.Result.News.Items, 1)

	// Progress never regresses across transitions.
	for i := 1; i < len(progressSamples); i++ {
		assert.GreaterOrEqual(t, progressSamples[i], progressSamples[i-1])
	}

	// Every phase record is closed out.
	require.Len(t, run.Phases, len(model.PhaseOrder))
	for _, rec := range run.Phases {
		assert.NotNil(t, rec.CompletedAt, "phase %s left open", rec.Phase)
		assert.Empty(t, rec.Error)
	}

	// State was persisted.
	stored, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusComplete, stored.Status)
}

func TestExecutionVenueFailureThenResume(t *testing.T) {
	st := newMemStore()
	adapter := &scriptedAdapter{name: "stub", venueFails: 1}
	eng := testEngine(adapter, &fakePlaces{}, &fakeRouting{}, st)

	run := newRun("snap-1")
	x := eng.NewExecution(testSnapshot(), run, nil)

	err := x.Run(context.Background(), model.PhaseStarting)
	require.Error(t, err)
	assert.Equal(t, model.PhaseImmediate, run.LastGoodPhase)
	assert.Equal(t, model.RunStatusRunning, run.Status)
	assert.Equal(t, model.PhaseVenues, x.ResumePhase())

	// Interim survives the failure for mid-run reads.
	assert.NotNil(t, run.Interim)

	// Resume picks up after the last good phase and finishes.
	require.NoError(t, x.Run(context.Background(), x.ResumePhase()))
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Equal(t, 100, run.Progress)
}

func TestExecutionNewsFailureDegrades(t *testing.T) {
	st := newMemStore()
	eng := testEngine(&scriptedAdapter{name: "stub", newsFail: true}, &fakePlaces{}, &fakeRouting{}, st)

	run := newRun("snap-1")
	x := eng.NewExecution(testSnapshot(), run, nil)

	require.NoError(t, x.Run(context.Background(), model.PhaseStarting))
	assert.Equal(t, model.RunStatusComplete, run.Status)
	assert.Contains(t, run.Warnings, "news unavailable from every provider")
	require.NotNil(t, run.Result)
	assert.True(t, run.Result.News.TotalFailure)
}

func TestExecutionGeocodeFallsBackToCapturedLocality(t *testing.T) {
	st := newMemStore()
	eng := testEngine(&scriptedAdapter{name: "stub"},
		&fakePlaces{geocodeErr: eris.New("geocode down")}, &fakeRouting{}, st)

	snap := testSnapshot()
	snap.Locality = "Uptown"
	run := newRun(snap.ID)
	x := eng.NewExecution(snap, run, nil)

	require.NoError(t, x.Run(context.Background(), model.PhaseStarting))
	assert.Equal(t, "Uptown", run.Interim.Locality)
	assert.Contains(t, run.Warnings, "locality lookup failed; using captured locality")
}

func TestExecutionGeocodeFailureWithoutHintFailsPhase(t *testing.T) {
	st := newMemStore()
	eng := testEngine(&scriptedAdapter{name: "stub"},
		&fakePlaces{geocodeErr: eris.New("geocode down")}, &fakeRouting{}, st)

	run := newRun("snap-1")
	x := eng.NewExecution(testSnapshot(), run, nil)

	err := x.Run(context.Background(), model.PhaseStarting)
	require.Error(t, err)
	assert.Equal(t, model.PhaseStarting, run.LastGoodPhase)
}

func TestExecutionRoutingFailureDegrades(t *testing.T) {
	st := newMemStore()
	eng := testEngine(&scriptedAdapter{name: "stub"}, &fakePlaces{},
		&fakeRouting{err: eris.New("routing down")}, st)

	run := newRun("snap-1")
	x := eng.NewExecution(testSnapshot(), run, nil)

	require.NoError(t, x.Run(context.Background(), model.PhaseStarting))
	assert.Contains(t, run.Warnings, "drive times unavailable")
	assert.Zero(t, run.Result.Venues[0].DriveMinutes)
}

func TestExecutionMarkFailed(t *testing.T) {
	st := newMemStore()
	eng := testEngine(&scriptedAdapter{name: "stub", venueFails: 10}, &fakePlaces{}, &fakeRouting{}, st)

	run := newRun("snap-1")
	x := eng.NewExecution(testSnapshot(), run, nil)

	err := x.Run(context.Background(), model.PhaseStarting)
	require.Error(t, err)
	x.MarkFailed(context.Background(), err)

	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Equal(t, model.PhaseFailed, run.Phase)
	assert.NotEmpty(t, run.Error)
	require.NotNil(t, run.CompletedAt)
}

func TestExecutionEnrichingFansOutToAllProviders(t *testing.T) {
	st := newMemStore()
	eng := New(
		config.EngineConfig{PhaseTimeoutSecs: 5, MaxVenueCandidates: 8},
		[]provider.Adapter{
			&scriptedAdapter{name: "alpha", strategyFail: true},
			&scriptedAdapter{name: "beta", strategyText: "Work the east side until the rain clears."},
		},
		consolidate.New(consolidate.DefaultOptions()),
		&fakePlaces{}, &fakeRouting{}, st, events.Noop{},
	)

	run := newRun("snap-1")
	x := eng.NewExecution(testSnapshot(), run, nil)

	require.NoError(t, x.Run(context.Background(), model.PhaseStarting))

	// One provider failing the narrative does not degrade the run: the
	// other one's answer wins.
	require.NotNil(t, run.Result)
	assert.Equal(t, "Work the east side until the rain clears.", run.Result.Narrative)
	assert.Contains(t, run.Result.ProviderChain, "beta")
	assert.NotContains(t, run.Warnings, "narrative generation failed; serving interim brief")

	// Both providers were tried during enriching, the failed one included.
	var enriching []model.ProviderAttempt
	for _, at := range run.Attempts {
		if at.Phase == model.PhaseEnriching {
			enriching = append(enriching, at)
		}
	}
	require.Len(t, enriching, 2)
}

func TestExecutionEnrichingPrefersFirstAdapter(t *testing.T) {
	st := newMemStore()
	eng := New(
		config.EngineConfig{PhaseTimeoutSecs: 5, MaxVenueCandidates: 8},
		[]provider.Adapter{
			&scriptedAdapter{name: "alpha", strategyText: "First answer."},
			&scriptedAdapter{name: "beta", strategyText: "Second answer."},
		},
		consolidate.New(consolidate.DefaultOptions()),
		&fakePlaces{}, &fakeRouting{}, st, events.Noop{},
	)

	run := newRun("snap-1")
	x := eng.NewExecution(testSnapshot(), run, nil)

	require.NoError(t, x.Run(context.Background(), model.PhaseStarting))
	assert.Equal(t, "First answer.", run.Result.Narrative)
}

func TestExecutionRecordsProviderAttempts(t *testing.T) {
	st := newMemStore()
	eng := testEngine(&scriptedAdapter{name: "stub"}, &fakePlaces{}, &fakeRouting{}, st)

	run := newRun("snap-1")
	x := eng.NewExecution(testSnapshot(), run, nil)

	require.NoError(t, x.Run(context.Background(), model.PhaseStarting))

	// Every provider-backed phase leaves an attempt on the run itself.
	byPhase := map[model.Phase]int{}
	for _, at := range run.Attempts {
		assert.Equal(t, "stub", at.Provider)
		assert.Equal(t, model.OutcomeOK, at.Outcome)
		byPhase[at.Phase]++
	}
	for _, ph := range []model.Phase{
		model.PhaseAnalyzing, model.PhaseVenues,
		model.PhaseVerifying, model.PhaseEnriching,
	} {
		assert.Equal(t, 1, byPhase[ph], "phase %s", ph)
	}

	// The attempt trail is part of the persisted record.
	stored, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Attempts, len(run.Attempts))
}

func TestExecutionRecordsFailedAttempts(t *testing.T) {
	st := newMemStore()
	eng := testEngine(&scriptedAdapter{name: "stub", venueFails: 1}, &fakePlaces{}, &fakeRouting{}, st)

	run := newRun("snap-1")
	x := eng.NewExecution(testSnapshot(), run, nil)

	require.Error(t, x.Run(context.Background(), model.PhaseStarting))

	var failed []model.ProviderAttempt
	for _, at := range run.Attempts {
		if at.Outcome == model.OutcomeError {
			failed = append(failed, at)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, model.PhaseVenues, failed[0].Phase)
	assert.Equal(t, model.ContentVenues, failed[0].ContentType)
	assert.Equal(t, "venue backend down", failed[0].Diagnostic)
}

func TestExecutionInvalidCoordinates(t *testing.T) {
	st := newMemStore()
	eng := testEngine(&scriptedAdapter{name: "stub"}, &fakePlaces{}, &fakeRouting{}, st)

	snap := testSnapshot()
	snap.Latitude = 123.0
	run := newRun(snap.ID)
	x := eng.NewExecution(snap, run, nil)

	err := x.Run(context.Background(), model.PhaseStarting)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid snapshot coordinates")
}
