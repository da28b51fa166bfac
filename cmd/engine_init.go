package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/roadmind/strategy-engine/internal/consolidate"
	"github.com/roadmind/strategy-engine/internal/engine"
	"github.com/roadmind/strategy-engine/internal/events"
	"github.com/roadmind/strategy-engine/internal/provider"
	"github.com/roadmind/strategy-engine/internal/runner"
	"github.com/roadmind/strategy-engine/internal/store"
	"github.com/roadmind/strategy-engine/pkg/perplexity"
	"github.com/roadmind/strategy-engine/pkg/places"
	"github.com/roadmind/strategy-engine/pkg/routing"
)

// engineEnv holds the initialized store, runner, and event publisher
// shared by the serve/run/runs commands.
type engineEnv struct {
	Store     store.Store
	Runner    *runner.Runner
	Publisher events.Publisher
}

// Close releases resources. Active runs get a short grace period.
func (e *engineEnv) Close() {
	if e.Runner != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := e.Runner.Shutdown(ctx); err != nil {
			zap.L().Warn("runner shutdown", zap.Error(err))
		}
		cancel()
	}
	if e.Publisher != nil {
		_ = e.Publisher.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEngine sets up the store, provider adapters, collaborator
// clients, and the runner. Callers should defer env.Close().
func initEngine(ctx context.Context) (*engineEnv, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var adapters []provider.Adapter
	if cfg.Anthropic.Key != "" {
		adapters = append(adapters, provider.NewAnthropic(cfg.Anthropic))
	}
	if cfg.Sonar.Key != "" {
		sonarOpts := []perplexity.Option{perplexity.WithModel(cfg.Sonar.Model)}
		if cfg.Sonar.BaseURL != "" {
			sonarOpts = append(sonarOpts, perplexity.WithBaseURL(cfg.Sonar.BaseURL))
		}
		adapters = append(adapters, provider.NewSonar(cfg.Sonar, perplexity.NewClient(cfg.Sonar.Key, sonarOpts...)))
	}
	if len(adapters) == 0 {
		_ = st.Close()
		return nil, eris.New("no generation providers configured")
	}
	zap.L().Info("providers configured", zap.Int("count", len(adapters)))

	opts := consolidate.Options{
		SimilarityThreshold: cfg.Consolidate.SimilarityThreshold,
		FreshnessWindow:     time.Duration(cfg.Consolidate.FreshnessHours) * time.Hour,
		ProximityMeters:     cfg.Consolidate.ProximityMeters,
	}
	if cfg.Consolidate.TuningFile != "" {
		tuned, err := consolidate.LoadTuning(cfg.Consolidate.TuningFile, opts)
		if err != nil {
			zap.L().Warn("consolidation tuning file not loaded", zap.Error(err))
		} else {
			opts = tuned
		}
	}

	placesOpts := []places.Option{}
	if cfg.Places.BaseURL != "" {
		placesOpts = append(placesOpts, places.WithBaseURL(cfg.Places.BaseURL))
	}
	if cfg.Places.QPS > 0 {
		placesOpts = append(placesOpts, places.WithRateLimit(cfg.Places.QPS))
	}
	placesClient := places.NewClient(cfg.Places.Key, placesOpts...)

	routingOpts := []routing.Option{}
	if cfg.Routing.BaseURL != "" {
		routingOpts = append(routingOpts, routing.WithBaseURL(cfg.Routing.BaseURL))
	}
	if cfg.Routing.QPS > 0 {
		routingOpts = append(routingOpts, routing.WithRateLimit(cfg.Routing.QPS))
	}
	routingClient := routing.NewClient(routingOpts...)

	publisher, err := events.FromConfig(cfg.Events)
	if err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "init event publisher")
	}

	eng := engine.New(cfg.Engine, adapters, consolidate.New(opts), placesClient, routingClient, st, publisher)

	return &engineEnv{
		Store:     st,
		Runner:    runner.New(cfg.Runner, eng, st),
		Publisher: publisher,
	}, nil
}
