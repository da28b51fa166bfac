// Package progress synthesizes a smooth client-facing progress signal
// from pipeline phase transitions. Real phase durations vary with
// provider latency, so percent is derived from a fixed per-phase weight
// table rather than wall-clock time.
package progress

import "github.com/roadmind/strategy-engine/internal/model"

// phaseWeights assigns each phase an expected share of the total run.
// Weights sum to 100; they are expectations, not timeouts.
var phaseWeights = map[model.Phase]int{
	model.PhaseStarting:  2,
	model.PhaseResolving: 8,
	model.PhaseAnalyzing: 14,
	model.PhaseImmediate: 5,
	model.PhaseVenues:    20,
	model.PhaseRouting:   8,
	model.PhasePlaces:    10,
	model.PhaseVerifying: 15,
	model.PhaseEnriching: 18,
}

// Weight returns the expected duration weight for a phase.
func Weight(phase model.Phase) int {
	return phaseWeights[phase]
}

// Estimate is the pure phase-to-progress mapping: the weights of all
// earlier phases plus the fraction of the current phase's weight.
// It returns 100 only for the complete phase; any other input is
// capped at 99 so a run never looks finished before it is.
func Estimate(phase model.Phase, elapsedFraction float64) int {
	if phase == model.PhaseComplete {
		return 100
	}
	idx := phase.Index()
	if idx < 0 {
		return 0
	}

	if elapsedFraction < 0 {
		elapsedFraction = 0
	}
	if elapsedFraction > 1 {
		elapsedFraction = 1
	}

	pct := 0
	for _, p := range model.PhaseOrder[:idx] {
		pct += phaseWeights[p]
	}
	pct += int(float64(phaseWeights[phase]) * elapsedFraction)

	if pct > 99 {
		pct = 99
	}
	return pct
}

// defaultMaxStep bounds how far progress may jump in one observation
// when a phase completes early.
const defaultMaxStep = 15

// Tracker turns raw estimates into a monotonic, bounded-step signal for
// a single run. It is not safe for concurrent use; the orchestrator is
// the only writer.
type Tracker struct {
	last    int
	maxStep int
}

// NewTracker creates a Tracker starting at zero.
func NewTracker() *Tracker {
	return &Tracker{maxStep: defaultMaxStep}
}

// Observe folds a new (phase, elapsedFraction) sample into the signal.
// The result never decreases, never advances by more than the step
// bound in one observation, and is forced to 100 on complete.
func (t *Tracker) Observe(phase model.Phase, elapsedFraction float64) int {
	switch phase {
	case model.PhaseComplete:
		t.last = 100
		return t.last
	case model.PhaseFailed:
		// Progress freezes where it was; the terminal status carries
		// the failure.
		return t.last
	}

	target := Estimate(phase, elapsedFraction)
	if target <= t.last {
		return t.last
	}
	if target > t.last+t.maxStep {
		target = t.last + t.maxStep
	}
	t.last = target
	return t.last
}

// Current returns the last observed progress value.
func (t *Tracker) Current() int {
	return t.last
}
