package provider

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/roadmind/strategy-engine/internal/model"
	"github.com/roadmind/strategy-engine/internal/telemetry"
)

// FanOut invokes every adapter concurrently and waits for all of them.
// One slow or failing provider never blocks or aborts its siblings: the
// per-invocation budget in req bounds each call, and cancelled in-flight
// calls come back as timeout outcomes. The returned slice is indexed by
// adapter, so output is independent of completion order.
func FanOut(ctx context.Context, adapters []Adapter, req Request) []model.ProviderResult {
	results := make([]model.ProviderResult, len(adapters))

	g, gCtx := errgroup.WithContext(ctx)
	for i, a := range adapters {
		i, a := i, a
		g.Go(func() error {
			results[i] = a.Invoke(gCtx, req)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range results {
		telemetry.RecordProviderInvocation(r.Provider, string(r.ContentType), string(r.Outcome), r.LatencyMS)
		zap.L().Debug("provider invocation",
			zap.String("provider", r.Provider),
			zap.String("content_type", string(r.ContentType)),
			zap.String("outcome", string(r.Outcome)),
			zap.Int64("latency_ms", r.LatencyMS),
		)
	}
	return results
}
