// Package engine drives the generation pipeline for one snapshot
// through its phases. The engine owns all phase-ordering, progress, and
// persistence concerns; the runner above it owns scheduling and retry.
package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/roadmind/strategy-engine/internal/config"
	"github.com/roadmind/strategy-engine/internal/consolidate"
	"github.com/roadmind/strategy-engine/internal/events"
	"github.com/roadmind/strategy-engine/internal/model"
	"github.com/roadmind/strategy-engine/internal/progress"
	"github.com/roadmind/strategy-engine/internal/provider"
	"github.com/roadmind/strategy-engine/internal/store"
	"github.com/roadmind/strategy-engine/internal/telemetry"
	"github.com/roadmind/strategy-engine/pkg/places"
	"github.com/roadmind/strategy-engine/pkg/routing"
)

// Engine holds the collaborators shared by all executions.
type Engine struct {
	cfg          config.EngineConfig
	adapters     []provider.Adapter
	consolidator *consolidate.Consolidator
	places       places.Client
	routing      routing.Client
	store        store.Store
	publisher    events.Publisher
}

// New creates an Engine. Adapters are invoked in the given order when a
// phase needs one provider rather than all of them.
func New(
	cfg config.EngineConfig,
	adapters []provider.Adapter,
	consolidator *consolidate.Consolidator,
	placesClient places.Client,
	routingClient routing.Client,
	st store.Store,
	publisher events.Publisher,
) *Engine {
	return &Engine{
		cfg:          cfg,
		adapters:     adapters,
		consolidator: consolidator,
		places:       placesClient,
		routing:      routingClient,
		store:        st,
		publisher:    publisher,
	}
}

// Observer receives a copy of the run after every state transition.
type Observer func(run *model.PipelineRun)

// Execution is one attempt-spanning pass of the pipeline for a run.
// Intermediate artifacts survive between attempts so a retry resumes
// after the last good phase instead of repeating completed work.
type Execution struct {
	eng      *Engine
	snap     model.Snapshot
	run      *model.PipelineRun
	observer Observer
	tracker  *progress.Tracker

	locality      string
	brief         string
	venues        *model.ConsolidatedResult
	recs          []model.VenueRecommendation
	news          *model.ConsolidatedResult
	providerChain []string
}

// NewExecution prepares an execution for the given run. The observer
// may be nil.
func (e *Engine) NewExecution(snap model.Snapshot, run *model.PipelineRun, observer Observer) *Execution {
	return &Execution{
		eng:      e,
		snap:     snap,
		run:      run,
		observer: observer,
		tracker:  progress.NewTracker(),
		locality: snap.Locality,
	}
}

// Run executes phases starting at from. On phase failure it records the
// failure and returns the error; the run is left non-terminal so the
// caller can retry from ResumePhase or mark it failed.
func (x *Execution) Run(ctx context.Context, from model.Phase) error {
	start := from.Index()
	if start < 0 {
		start = 0
	}

	for _, ph := range model.PhaseOrder[start:] {
		if err := x.executePhase(ctx, ph); err != nil {
			return eris.Wrapf(err, "engine: phase %s", ph)
		}
	}

	x.complete()
	return nil
}

// ResumePhase is the phase a retry should start from.
func (x *Execution) ResumePhase() model.Phase {
	idx := x.run.LastGoodPhase.Index()
	if idx < 0 || idx+1 >= len(model.PhaseOrder) {
		return model.PhaseStarting
	}
	return model.PhaseOrder[idx+1]
}

// MarkFailed transitions the run to its absorbing failed state. Called
// by the runner once retries are exhausted.
func (x *Execution) MarkFailed(ctx context.Context, cause error) {
	now := time.Now().UTC()
	x.run.Phase = model.PhaseFailed
	x.run.Status = model.RunStatusFailed
	x.run.Error = eris.ToString(cause, false)
	x.run.UpdatedAt = now
	x.run.CompletedAt = &now
	x.persist(ctx)
}

// executePhase runs one phase under its timeout budget and keeps the
// run record current on both sides of it.
func (x *Execution) executePhase(ctx context.Context, ph model.Phase) error {
	budget := time.Duration(x.eng.cfg.PhaseTimeoutSecs) * time.Second
	if budget <= 0 {
		budget = 60 * time.Second
	}
	phaseCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	x.enterPhase(ctx, ph)

	var err error
	switch ph {
	case model.PhaseStarting:
		err = x.phaseStarting(phaseCtx)
	case model.PhaseResolving:
		err = x.phaseResolving(phaseCtx)
	case model.PhaseAnalyzing:
		err = x.phaseAnalyzing(phaseCtx)
	case model.PhaseImmediate:
		err = x.phaseImmediate(phaseCtx)
	case model.PhaseVenues:
		err = x.phaseVenues(phaseCtx)
	case model.PhaseRouting:
		err = x.phaseRouting(phaseCtx)
	case model.PhasePlaces:
		err = x.phasePlaces(phaseCtx)
	case model.PhaseVerifying:
		err = x.phaseVerifying(phaseCtx)
	case model.PhaseEnriching:
		err = x.phaseEnriching(phaseCtx)
	}

	if err != nil {
		x.failPhase(ctx, ph, err)
		return err
	}
	x.finishPhase(ctx, ph)
	return nil
}

func (x *Execution) enterPhase(ctx context.Context, ph model.Phase) {
	now := time.Now().UTC()
	x.run.Phase = ph
	x.run.Progress = x.tracker.Observe(ph, 0)
	x.run.UpdatedAt = now
	x.run.Phases = append(x.run.Phases, model.PhaseRecord{
		Phase:     ph,
		StartedAt: now,
	})

	zap.L().Info("phase started",
		zap.String("run_id", x.run.ID),
		zap.String("snapshot_id", x.run.SnapshotID),
		zap.String("phase", string(ph)),
		zap.Int("progress", x.run.Progress),
	)
	x.persist(ctx)
}

func (x *Execution) finishPhase(ctx context.Context, ph model.Phase) {
	now := time.Now().UTC()
	rec := x.currentRecord(ph)
	if rec != nil {
		rec.CompletedAt = &now
		rec.DurationMS = now.Sub(rec.StartedAt).Milliseconds()
		telemetry.RecordPhaseDuration(string(ph), rec.DurationMS)
	}

	x.run.LastGoodPhase = ph
	x.run.Progress = x.tracker.Observe(ph, 1)
	x.run.UpdatedAt = now

	zap.L().Info("phase completed",
		zap.String("run_id", x.run.ID),
		zap.String("phase", string(ph)),
		zap.Int("progress", x.run.Progress),
	)
	x.persist(ctx)
}

func (x *Execution) failPhase(ctx context.Context, ph model.Phase, cause error) {
	now := time.Now().UTC()
	rec := x.currentRecord(ph)
	if rec != nil {
		rec.CompletedAt = &now
		rec.DurationMS = now.Sub(rec.StartedAt).Milliseconds()
		rec.Error = eris.ToString(cause, false)
	}
	x.run.UpdatedAt = now
	telemetry.RecordPhaseFailure(string(ph))

	zap.L().Warn("phase failed",
		zap.String("run_id", x.run.ID),
		zap.String("phase", string(ph)),
		zap.String("last_good_phase", string(x.run.LastGoodPhase)),
		zap.Error(cause),
	)
	x.persist(ctx)
}

func (x *Execution) complete() {
	now := time.Now().UTC()
	x.run.Phase = model.PhaseComplete
	x.run.Status = model.RunStatusComplete
	x.run.Progress = x.tracker.Observe(model.PhaseComplete, 1)
	x.run.UpdatedAt = now
	x.run.CompletedAt = &now

	zap.L().Info("run completed",
		zap.String("run_id", x.run.ID),
		zap.String("snapshot_id", x.run.SnapshotID),
		zap.Int("warnings", len(x.run.Warnings)),
	)
	x.persist(context.Background())
}

// currentRecord returns the most recent record for ph. Retried phases
// append a fresh record per attempt.
func (x *Execution) currentRecord(ph model.Phase) *model.PhaseRecord {
	for i := len(x.run.Phases) - 1; i >= 0; i-- {
		if x.run.Phases[i].Phase == ph {
			return &x.run.Phases[i]
		}
	}
	return nil
}

// persist writes the run record, notifies the observer, and publishes a
// phase event. Persistence failures are logged, not fatal: the
// in-memory record remains authoritative for the active run.
func (x *Execution) persist(ctx context.Context) {
	if err := x.eng.store.WriteRunState(ctx, x.run); err != nil {
		zap.L().Error("persist run state",
			zap.String("run_id", x.run.ID),
			zap.Error(err),
		)
	}
	if x.observer != nil {
		x.observer(x.run.Clone())
	}
	if x.eng.publisher != nil {
		_ = x.eng.publisher.Publish(ctx, events.PhaseEvent{
			RunID:      x.run.ID,
			SnapshotID: x.run.SnapshotID,
			Phase:      x.run.Phase,
			Status:     x.run.Status,
			Progress:   x.run.Progress,
			Attempt:    x.run.Attempt,
			OccurredAt: x.run.UpdatedAt,
		})
	}
}

func (x *Execution) warn(msg string) {
	x.run.Warnings = append(x.run.Warnings, msg)
	zap.L().Warn("run degraded",
		zap.String("run_id", x.run.ID),
		zap.String("phase", string(x.run.Phase)),
		zap.String("warning", msg),
	)
}
