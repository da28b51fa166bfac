// Package provider wraps heterogeneous generation backends behind one
// adapter contract. Adapters never propagate a fault to the caller:
// every failure mode is captured in the ProviderResult outcome so one
// provider failing can never abort its siblings.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roadmind/strategy-engine/internal/model"
)

// Request is one provider invocation. Prompt text is opaque to the
// adapter; Budget bounds the outbound call.
type Request struct {
	Snapshot    model.Snapshot
	ContentType model.ContentType
	Prompt      string
	Budget      time.Duration
}

// Adapter is the uniform interface around one generation backend.
type Adapter interface {
	Name() string
	Invoke(ctx context.Context, req Request) model.ProviderResult
}

// begin starts a result record; finish stamps latency and converts a
// late panic into an error outcome. Adapters call both via defer.
func begin(name string, ct model.ContentType) (model.ProviderResult, time.Time) {
	return model.ProviderResult{Provider: name, ContentType: ct}, time.Now()
}

func finish(res *model.ProviderResult, start time.Time, recovered any) {
	res.LatencyMS = time.Since(start).Milliseconds()
	if recovered != nil {
		res.Outcome = model.OutcomeError
		res.Diagnostic = fmt.Sprintf("panic: %v", recovered)
	}
}

// classify maps a backend error onto the result. Deadline expiry and
// cancellation (phase timeout) are recorded as timeouts, everything
// else as errors.
func classify(res *model.ProviderResult, err error) {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		res.Outcome = model.OutcomeTimeout
		res.Diagnostic = "cancelled before completion"
		return
	}
	res.Outcome = model.OutcomeError
	res.Diagnostic = err.Error()
}

// accept parses the backend's text into the result for the requested
// content type. Malformed payloads become error outcomes, never parse
// panics.
func accept(res *model.ProviderResult, ct model.ContentType, text string) {
	if ct == model.ContentStrategy {
		res.Text = text
		res.Outcome = model.OutcomeOK
		return
	}

	items, err := ParseItems(text)
	if err != nil {
		res.Outcome = model.OutcomeError
		res.Diagnostic = "malformed payload: " + err.Error()
		return
	}
	res.Items = items
	res.Outcome = model.OutcomeOK
}
