package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/roadmind/strategy-engine/internal/model"
	"github.com/roadmind/strategy-engine/internal/provider"
	"github.com/roadmind/strategy-engine/internal/resilience"
	"github.com/roadmind/strategy-engine/internal/telemetry"
	"github.com/roadmind/strategy-engine/pkg/places"
	"github.com/roadmind/strategy-engine/pkg/routing"
)

const defaultMaxVenueCandidates = 8

func (x *Execution) phaseStarting(context.Context) error {
	if x.snap.Latitude < -90 || x.snap.Latitude > 90 ||
		x.snap.Longitude < -180 || x.snap.Longitude > 180 {
		return eris.Errorf("invalid snapshot coordinates (%f, %f)",
			x.snap.Latitude, x.snap.Longitude)
	}
	return nil
}

// phaseResolving turns the snapshot's coordinates into a locality name.
// A failed lookup degrades to the snapshot's own locality when one was
// captured; without either the rest of the pipeline has no place to
// talk about, so the phase fails.
func (x *Execution) phaseResolving(ctx context.Context) error {
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("places", "reverse_geocode")

	loc, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) (*places.Locality, error) {
		return x.eng.places.ReverseGeocode(ctx, places.LatLng{
			Latitude:  x.snap.Latitude,
			Longitude: x.snap.Longitude,
		})
	})
	if err != nil {
		if x.snap.Locality != "" {
			x.warn("locality lookup failed; using captured locality")
			x.locality = x.snap.Locality
			return nil
		}
		return eris.Wrap(err, "resolve locality")
	}

	switch {
	case loc.Neighborhood != "":
		x.locality = loc.Neighborhood
	case loc.City != "":
		x.locality = loc.City
	default:
		x.locality = loc.Formatted
	}
	return nil
}

// phaseAnalyzing produces the strategy brief from the first provider
// that answers. The brief seeds both the interim result and the final
// narrative.
func (x *Execution) phaseAnalyzing(ctx context.Context) error {
	text, err := x.askProviders(ctx, model.ContentStrategy, briefPrompt(x.snap, x.locality))
	if err != nil {
		return eris.Wrap(err, "strategy brief")
	}
	x.brief = text
	return nil
}

// phaseImmediate publishes the low-fidelity interim result so clients
// have something to show while the heavier phases run.
func (x *Execution) phaseImmediate(context.Context) error {
	x.run.Interim = &model.InterimResult{
		Locality:    x.locality,
		Headline:    headline(x.brief),
		GeneratedAt: time.Now().UTC(),
	}
	return nil
}

// phaseVenues fans out to every provider for venue candidates and
// consolidates the answers. This content is the core of the final
// result, so a total provider failure fails the phase.
func (x *Execution) phaseVenues(ctx context.Context) error {
	results := provider.FanOut(ctx, x.eng.adapters, provider.Request{
		Snapshot:    x.snap,
		ContentType: model.ContentVenues,
		Prompt:      venuesPrompt(x.snap, x.locality),
	})
	x.recordAttempts(results...)

	consolidated := x.eng.consolidator.Consolidate(model.ContentVenues, results, x.snap.CapturedAt)
	if consolidated.TotalFailure {
		return eris.New("every venue provider failed")
	}
	x.venues = consolidated
	if len(consolidated.Items) == 0 {
		x.warn("no venue candidates survived consolidation")
	}

	limit := x.eng.cfg.MaxVenueCandidates
	if limit <= 0 {
		limit = defaultMaxVenueCandidates
	}
	items := consolidated.Items
	if len(items) > limit {
		items = items[:limit]
	}

	x.recs = make([]model.VenueRecommendation, len(items))
	for i, it := range items {
		x.recs[i] = model.VenueRecommendation{ConsolidatedItem: it}
	}
	return nil
}

// phaseRouting annotates venue candidates with drive times. Routing is
// a nicety, so failures degrade rather than fail the run.
func (x *Execution) phaseRouting(ctx context.Context) error {
	var dests []routing.Coord
	var destIdx []int
	for i, rec := range x.recs {
		if rec.HasLocation() {
			dests = append(dests, routing.Coord{Latitude: *rec.Latitude, Longitude: *rec.Longitude})
			destIdx = append(destIdx, i)
		}
	}
	if len(dests) == 0 {
		return nil
	}

	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("routing", "drive_minutes")

	minutes, err := resilience.DoVal(ctx, cfg, func(ctx context.Context) ([]float64, error) {
		return x.eng.routing.DriveMinutes(ctx, routing.Coord{
			Latitude:  x.snap.Latitude,
			Longitude: x.snap.Longitude,
		}, dests)
	})
	if err != nil {
		x.warn("drive times unavailable")
		return nil
	}

	for i, m := range minutes {
		if m >= 0 {
			x.recs[destIdx[i]].DriveMinutes = m
		}
	}
	return nil
}

// phasePlaces verifies venue candidates against the places index and
// attaches ratings. Per-candidate failures degrade silently; a single
// warning covers the batch.
func (x *Execution) phasePlaces(ctx context.Context) error {
	degraded := false
	for i := range x.recs {
		resp, err := x.eng.places.TextSearch(ctx, x.recs[i].Title, places.LatLng{
			Latitude:  x.snap.Latitude,
			Longitude: x.snap.Longitude,
		})
		if err != nil {
			degraded = true
			continue
		}
		if len(resp.Places) == 0 {
			continue
		}

		p := resp.Places[0]
		x.recs[i].PlaceRating = p.Rating
		x.recs[i].RatingCount = p.UserRatingCount
		x.recs[i].Verified = p.BusinessStatus == "" || p.BusinessStatus == "OPERATIONAL"
		if p.Location.Latitude != 0 || p.Location.Longitude != 0 {
			lat, lng := p.Location.Latitude, p.Location.Longitude
			x.recs[i].Latitude = &lat
			x.recs[i].Longitude = &lng
		}
	}
	if degraded {
		x.warn("venue verification incomplete")
	}
	return nil
}

// phaseVerifying gathers local news and consolidates it. News is
// supporting context; a total failure degrades with a warning.
func (x *Execution) phaseVerifying(ctx context.Context) error {
	results := provider.FanOut(ctx, x.eng.adapters, provider.Request{
		Snapshot:    x.snap,
		ContentType: model.ContentNews,
		Prompt:      newsPrompt(x.snap, x.locality),
	})
	x.recordAttempts(results...)

	consolidated := x.eng.consolidator.Consolidate(model.ContentNews, results, x.snap.CapturedAt)
	if consolidated.TotalFailure {
		x.warn("news unavailable from every provider")
	}
	x.news = consolidated
	return nil
}

// phaseEnriching fans the narrative request out to every provider and
// takes the best answer, then assembles the result. Narratives are free
// text, so selection is by adapter preference order rather than the
// item consolidator. If no provider can write one the brief stands in.
func (x *Execution) phaseEnriching(ctx context.Context) error {
	results := provider.FanOut(ctx, x.eng.adapters, provider.Request{
		Snapshot:    x.snap,
		ContentType: model.ContentStrategy,
		Prompt:      narrativePrompt(x.snap, x.locality, x.brief, x.recs, x.news),
	})
	x.recordAttempts(results...)

	var narrative string
	for _, res := range results {
		if res.OK() && res.Text != "" {
			narrative = res.Text
			x.providerChain = append(x.providerChain, res.Provider)
			break
		}
	}
	if narrative == "" {
		x.warn("narrative generation failed; serving interim brief")
		narrative = x.brief
	}

	x.run.Result = &model.StrategyResult{
		Narrative:     narrative,
		Venues:        x.recs,
		News:          x.news,
		ProviderChain: x.providerChain,
		GeneratedAt:   time.Now().UTC(),
	}
	return nil
}

// askProviders tries each adapter in order and returns the first
// successful text. Every attempt is recorded; the winner joins the
// provider chain.
func (x *Execution) askProviders(ctx context.Context, ct model.ContentType, prompt string) (string, error) {
	var lastDiag string
	for _, a := range x.eng.adapters {
		res := a.Invoke(ctx, provider.Request{
			Snapshot:    x.snap,
			ContentType: ct,
			Prompt:      prompt,
		})
		telemetry.RecordProviderInvocation(res.Provider, string(res.ContentType), string(res.Outcome), res.LatencyMS)
		x.recordAttempts(res)
		if res.OK() {
			x.providerChain = append(x.providerChain, a.Name())
			return res.Text, nil
		}
		lastDiag = res.Diagnostic
	}
	return "", eris.Errorf("all providers failed: %s", lastDiag)
}

// recordAttempts appends provider outcomes, failed ones included, to
// the run record so a degraded run is diagnosable from its own status.
func (x *Execution) recordAttempts(results ...model.ProviderResult) {
	for _, res := range results {
		x.run.Attempts = append(x.run.Attempts, model.ProviderAttempt{
			Phase:       x.run.Phase,
			Provider:    res.Provider,
			ContentType: res.ContentType,
			Outcome:     res.Outcome,
			LatencyMS:   res.LatencyMS,
			Diagnostic:  res.Diagnostic,
		})
	}
}
