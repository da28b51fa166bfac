// Package runner schedules pipeline executions. It guarantees at most
// one active run per snapshot, retries failed runs a bounded number of
// times from the last good phase, and serves cheap status reads for
// active runs without touching the store.
package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/roadmind/strategy-engine/internal/config"
	"github.com/roadmind/strategy-engine/internal/engine"
	"github.com/roadmind/strategy-engine/internal/model"
	"github.com/roadmind/strategy-engine/internal/store"
	"github.com/roadmind/strategy-engine/internal/telemetry"
)

// Runner owns the active-job table. It is safe for concurrent use.
type Runner struct {
	cfg   config.RunnerConfig
	eng   *engine.Engine
	store store.Store

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu   sync.Mutex
	jobs map[string]*job
}

// job tracks one active run. The run pointer is swapped whole on every
// transition so readers always see a consistent record.
type job struct {
	run  atomic.Pointer[model.PipelineRun]
	done chan struct{}

	subMu sync.Mutex
	subs  map[chan *model.PipelineRun]struct{}
}

// New creates a Runner.
func New(cfg config.RunnerConfig, eng *engine.Engine, st store.Store) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:     cfg,
		eng:     eng,
		store:   st,
		baseCtx: ctx,
		cancel:  cancel,
		jobs:    make(map[string]*job),
	}
}

// StartRun begins a pipeline run for the snapshot, or returns the
// already-active run. The second return value reports whether a new
// run was started.
func (r *Runner) StartRun(ctx context.Context, snapshotID string) (*model.PipelineRun, bool, error) {
	snap, err := r.store.GetSnapshot(ctx, snapshotID)
	if err != nil {
		return nil, false, eris.Wrapf(err, "runner: snapshot %s", snapshotID)
	}

	r.mu.Lock()
	if j, ok := r.jobs[snapshotID]; ok {
		r.mu.Unlock()
		return j.run.Load(), false, nil
	}

	now := time.Now().UTC()
	run := &model.PipelineRun{
		ID:         uuid.New().String(),
		SnapshotID: snapshotID,
		Status:     model.RunStatusRunning,
		Phase:      model.PhaseStarting,
		StartedAt:  now,
		UpdatedAt:  now,
	}

	j := &job{
		done: make(chan struct{}),
		subs: make(map[chan *model.PipelineRun]struct{}),
	}
	// The caller's copy is taken before the worker goroutine exists;
	// after launch the shared record belongs to the worker alone.
	ret := run.Clone()
	j.run.Store(run.Clone())
	r.jobs[snapshotID] = j
	r.mu.Unlock()

	telemetry.RecordRunStarted()
	zap.L().Info("run started",
		zap.String("run_id", run.ID),
		zap.String("snapshot_id", snapshotID),
	)

	r.wg.Add(1)
	go r.execute(j, *snap, run)

	return ret, true, nil
}

// execute drives the run to a terminal state, retrying from the last
// good phase up to the configured bound.
func (r *Runner) execute(j *job, snap model.Snapshot, run *model.PipelineRun) {
	defer r.wg.Done()
	defer r.finish(j, run.SnapshotID)

	observer := func(cp *model.PipelineRun) {
		j.run.Store(cp)
		j.broadcast(cp)
	}

	x := r.eng.NewExecution(snap, run, observer)
	from := model.PhaseStarting
	for attempt := 0; ; attempt++ {
		run.Attempt = attempt
		err := x.Run(r.baseCtx, from)
		if err == nil {
			telemetry.RecordRunCompleted()
			return
		}
		if r.baseCtx.Err() != nil || attempt >= r.cfg.MaxRetries {
			x.MarkFailed(r.baseCtx, err)
			telemetry.RecordRunFailed()
			zap.L().Error("run failed",
				zap.String("run_id", run.ID),
				zap.String("snapshot_id", run.SnapshotID),
				zap.Int("attempts", attempt+1),
				zap.Error(err),
			)
			return
		}

		from = x.ResumePhase()
		telemetry.RecordRunRetry()
		zap.L().Warn("run retrying",
			zap.String("run_id", run.ID),
			zap.String("resume_phase", string(from)),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}
}

func (r *Runner) finish(j *job, snapshotID string) {
	r.mu.Lock()
	delete(r.jobs, snapshotID)
	r.mu.Unlock()

	j.subMu.Lock()
	for ch := range j.subs {
		close(ch)
	}
	j.subs = nil
	j.subMu.Unlock()
	close(j.done)
}

// Status returns the current run state for a snapshot: the in-memory
// record for an active run, otherwise the latest persisted one.
func (r *Runner) Status(ctx context.Context, snapshotID string) (*model.PipelineRun, error) {
	r.mu.Lock()
	j, ok := r.jobs[snapshotID]
	r.mu.Unlock()
	if ok {
		return j.run.Load(), nil
	}
	return r.store.ReadRunState(ctx, snapshotID)
}

// Subscribe registers for state transitions of the snapshot's active
// run. It returns false when no run is active. The channel is closed
// when the run finishes; cancel must be called to release the
// subscription early.
func (r *Runner) Subscribe(snapshotID string) (<-chan *model.PipelineRun, func(), bool) {
	r.mu.Lock()
	j, ok := r.jobs[snapshotID]
	r.mu.Unlock()
	if !ok {
		return nil, nil, false
	}

	ch := make(chan *model.PipelineRun, 16)
	j.subMu.Lock()
	if j.subs == nil {
		// Run finished between lookup and registration.
		j.subMu.Unlock()
		close(ch)
		return ch, func() {}, true
	}
	j.subs[ch] = struct{}{}
	// Seed with the current state so subscribers never start blind.
	ch <- j.run.Load()
	j.subMu.Unlock()

	cancel := func() {
		j.subMu.Lock()
		if j.subs != nil {
			if _, still := j.subs[ch]; still {
				delete(j.subs, ch)
				close(ch)
			}
		}
		j.subMu.Unlock()
	}
	return ch, cancel, true
}

// broadcast delivers the state to all subscribers without blocking on
// slow ones.
func (j *job) broadcast(cp *model.PipelineRun) {
	j.subMu.Lock()
	defer j.subMu.Unlock()
	for ch := range j.subs {
		select {
		case ch <- cp:
		default:
		}
	}
}

// ActiveRuns returns the number of currently executing runs.
func (r *Runner) ActiveRuns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// Shutdown stops new progress and waits for active runs to settle or
// the context to expire.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.cancel()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "runner: shutdown")
	}
}
