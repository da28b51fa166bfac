package model

// ContentType tags what kind of content a provider invocation produced.
type ContentType string

// Content types.
const (
	ContentNews     ContentType = "news"
	ContentVenues   ContentType = "venues"
	ContentStrategy ContentType = "strategy-text"
)

// Outcome classifies a provider invocation.
type Outcome string

// Invocation outcomes.
const (
	OutcomeOK      Outcome = "ok"
	OutcomeTimeout Outcome = "timeout"
	OutcomeError   Outcome = "error"
)

// ProviderResult records one provider invocation within a run, including
// failed attempts. Latency is wall-clock milliseconds from dispatch to
// resolved outcome and feeds provider-health telemetry only.
type ProviderResult struct {
	Provider    string      `json:"provider"`
	ContentType ContentType `json:"content_type"`
	Items       []Item      `json:"items,omitempty"`
	Text        string      `json:"text,omitempty"`
	LatencyMS   int64       `json:"latency_ms"`
	Outcome     Outcome     `json:"outcome"`
	Diagnostic  string      `json:"diagnostic,omitempty"`
}

// OK reports whether the invocation succeeded.
func (r ProviderResult) OK() bool {
	return r.Outcome == OutcomeOK
}
