package telemetry

import (
	"sync"
	"time"
)

// ProviderHealth is a point-in-time view of one provider's recent
// behavior, served by the providers health endpoint.
type ProviderHealth struct {
	Provider     string    `json:"provider"`
	Invocations  int64     `json:"invocations"`
	Successes    int64     `json:"successes"`
	Timeouts     int64     `json:"timeouts"`
	Errors       int64     `json:"errors"`
	SuccessRate  float64   `json:"success_rate"`
	AvgLatencyMS int64     `json:"avg_latency_ms"`
	LastOutcome  string    `json:"last_outcome"`
	LastSeen     time.Time `json:"last_seen"`
}

// healthTracker accumulates per-provider counters. Counts are
// process-lifetime; restarts reset the view.
type healthTracker struct {
	mu    sync.Mutex
	stats map[string]*providerStats
}

type providerStats struct {
	invocations    int64
	successes      int64
	timeouts       int64
	errors         int64
	totalLatencyMS int64
	lastOutcome    string
	lastSeen       time.Time
}

var health = &healthTracker{stats: make(map[string]*providerStats)}

func (h *healthTracker) observe(provider, outcome string, latencyMs int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.stats[provider]
	if !ok {
		s = &providerStats{}
		h.stats[provider] = s
	}
	s.invocations++
	s.totalLatencyMS += latencyMs
	s.lastOutcome = outcome
	s.lastSeen = time.Now().UTC()
	switch outcome {
	case "ok":
		s.successes++
	case "timeout":
		s.timeouts++
	default:
		s.errors++
	}
}

// ProviderHealthSnapshot returns the current per-provider view, keyed
// by provider name.
func ProviderHealthSnapshot() map[string]ProviderHealth {
	health.mu.Lock()
	defer health.mu.Unlock()

	out := make(map[string]ProviderHealth, len(health.stats))
	for name, s := range health.stats {
		ph := ProviderHealth{
			Provider:    name,
			Invocations: s.invocations,
			Successes:   s.successes,
			Timeouts:    s.timeouts,
			Errors:      s.errors,
			LastOutcome: s.lastOutcome,
			LastSeen:    s.lastSeen,
		}
		if s.invocations > 0 {
			ph.SuccessRate = float64(s.successes) / float64(s.invocations)
			ph.AvgLatencyMS = s.totalLatencyMS / s.invocations
		}
		out[name] = ph
	}
	return out
}
