package model

import "time"

// Phase identifies a stage of the generation pipeline.
type Phase string

// Pipeline phases in execution order.
const (
	PhaseStarting  Phase = "starting"
	PhaseResolving Phase = "resolving"
	PhaseAnalyzing Phase = "analyzing"
	PhaseImmediate Phase = "immediate"
	PhaseVenues    Phase = "venues"
	PhaseRouting   Phase = "routing"
	PhasePlaces    Phase = "places"
	PhaseVerifying Phase = "verifying"
	PhaseEnriching Phase = "enriching"
	PhaseComplete  Phase = "complete"
	PhaseFailed    Phase = "failed"
)

// PhaseOrder lists the non-terminal phases in execution order.
var PhaseOrder = []Phase{
	PhaseStarting,
	PhaseResolving,
	PhaseAnalyzing,
	PhaseImmediate,
	PhaseVenues,
	PhaseRouting,
	PhasePlaces,
	PhaseVerifying,
	PhaseEnriching,
}

// Index returns the position of p in PhaseOrder, or -1 for terminal phases.
func (p Phase) Index() int {
	for i, ph := range PhaseOrder {
		if ph == p {
			return i
		}
	}
	return -1
}

// Terminal reports whether p is an absorbing phase.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// RunStatus is the terminal-status field of a PipelineRun.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// PhaseRecord captures the timing of one phase execution within a run.
type PhaseRecord struct {
	Phase       Phase      `json:"phase"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationMS  int64      `json:"duration_ms"`
	Error       string     `json:"error,omitempty"`
}

// ProviderAttempt records one provider invocation made on behalf of a
// run, successful or not, so a stuck or degraded run can be diagnosed
// from its own record rather than process-wide aggregates.
type ProviderAttempt struct {
	Phase       Phase       `json:"phase"`
	Provider    string      `json:"provider"`
	ContentType ContentType `json:"content_type"`
	Outcome     Outcome     `json:"outcome"`
	LatencyMS   int64       `json:"latency_ms"`
	Diagnostic  string      `json:"diagnostic,omitempty"`
}

// InterimResult is the low-fidelity result published during the
// immediate phase so clients are never left with nothing mid-run.
type InterimResult struct {
	Locality    string    `json:"locality"`
	Headline    string    `json:"headline"`
	GeneratedAt time.Time `json:"generated_at"`
}

// VenueRecommendation is a consolidated venue candidate enriched with
// drive-time and places data.
type VenueRecommendation struct {
	ConsolidatedItem
	DriveMinutes float64 `json:"drive_minutes,omitempty"`
	PlaceRating  float64 `json:"place_rating,omitempty"`
	RatingCount  int     `json:"rating_count,omitempty"`
	Verified     bool    `json:"verified"`
}

// StrategyResult is the final payload of a completed run.
type StrategyResult struct {
	Narrative     string                `json:"narrative"`
	Venues        []VenueRecommendation `json:"venues"`
	News          *ConsolidatedResult   `json:"news,omitempty"`
	ProviderChain []string              `json:"provider_chain"`
	GeneratedAt   time.Time             `json:"generated_at"`
}

// PipelineRun is one execution of the generation pipeline for a
// snapshot. It is mutated only by the orchestrator driving it and is
// read-only history once terminal.
type PipelineRun struct {
	ID            string            `json:"id"`
	SnapshotID    string            `json:"snapshot_id"`
	Status        RunStatus         `json:"status"`
	Phase         Phase             `json:"phase"`
	Progress      int               `json:"progress"`
	LastGoodPhase Phase             `json:"last_good_phase,omitempty"`
	Attempt       int               `json:"attempt"`
	StartedAt     time.Time         `json:"started_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	Phases        []PhaseRecord     `json:"phases,omitempty"`
	Attempts      []ProviderAttempt `json:"provider_attempts,omitempty"`
	Interim       *InterimResult    `json:"interim,omitempty"`
	Result        *StrategyResult   `json:"result,omitempty"`
	Warnings      []string          `json:"warnings,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// Clone returns a deep-enough copy for handing to concurrent readers:
// slices are copied so the orchestrator can keep appending to its own.
func (r *PipelineRun) Clone() *PipelineRun {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Phases = append([]PhaseRecord(nil), r.Phases...)
	cp.Attempts = append([]ProviderAttempt(nil), r.Attempts...)
	cp.Warnings = append([]string(nil), r.Warnings...)
	return &cp
}
