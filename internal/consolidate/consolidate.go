// Package consolidate merges the output of multiple providers for one
// content type into a single deduplicated, freshness-filtered, ranked
// result. The merge is deterministic given the same set of successful
// provider results: grouping and ranking depend only on item content,
// never on arrival order.
package consolidate

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"time"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/roadmind/strategy-engine/internal/model"
	"github.com/roadmind/strategy-engine/internal/telemetry"
)

// Options tunes deduplication and filtering. Thresholds are deployment
// parameters, not contracts.
type Options struct {
	// SimilarityThreshold is the minimum trigram similarity of two
	// normalized titles for the items to be judged the same event.
	SimilarityThreshold float64

	// FreshnessWindow is the maximum age of a non-ongoing item relative
	// to the snapshot capture time.
	FreshnessWindow time.Duration

	// ProximityMeters bounds "approximate location match" for the
	// subject+location dedup rule.
	ProximityMeters float64
}

// DefaultOptions returns the tuned defaults.
func DefaultOptions() Options {
	return Options{
		SimilarityThreshold: 0.55,
		FreshnessWindow:     48 * time.Hour,
		ProximityMeters:     150,
	}
}

// Consolidator merges provider results per the fixed algorithm:
// flatten, dedup, filter staleness, rank.
type Consolidator struct {
	opts Options
}

// New creates a Consolidator. Zero-valued options fall back to defaults.
func New(opts Options) *Consolidator {
	def := DefaultOptions()
	if opts.SimilarityThreshold <= 0 {
		opts.SimilarityThreshold = def.SimilarityThreshold
	}
	if opts.FreshnessWindow <= 0 {
		opts.FreshnessWindow = def.FreshnessWindow
	}
	if opts.ProximityMeters <= 0 {
		opts.ProximityMeters = def.ProximityMeters
	}
	return &Consolidator{opts: opts}
}

type entry struct {
	item      model.Item
	normTitle string
	provider  string
}

type group struct {
	canonical model.Item
	normTitle string
	providers map[string]struct{}
}

// Consolidate merges the given provider results into one consolidated
// result. Results with outcome != ok contribute nothing; if none
// succeeded, the returned result is empty with TotalFailure set.
func (c *Consolidator) Consolidate(contentType model.ContentType, results []model.ProviderResult, now time.Time) *model.ConsolidatedResult {
	out := &model.ConsolidatedResult{
		ContentType: contentType,
		GeneratedAt: now,
	}

	// Step 1: flatten successful results, tagging each item with its source.
	var entries []entry
	anyOK := false
	for _, pr := range results {
		if !pr.OK() {
			continue
		}
		anyOK = true
		for _, it := range pr.Items {
			entries = append(entries, entry{
				item:      it,
				normTitle: NormalizeTitle(it.Title),
				provider:  pr.Provider,
			})
		}
	}
	if !anyOK {
		out.TotalFailure = true
		return out
	}

	// Content-order independence: fix a canonical processing order
	// before grouping.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].normTitle != entries[j].normTitle {
			return entries[i].normTitle < entries[j].normTitle
		}
		if entries[i].item.Title != entries[j].item.Title {
			return entries[i].item.Title < entries[j].item.Title
		}
		return entries[i].provider < entries[j].provider
	})

	// Step 2: dedup into groups.
	var groups []*group
	for _, e := range entries {
		matched := false
		for _, g := range groups {
			if c.sameEvent(e, g) {
				mergeInto(g, e)
				telemetry.RecordConsolidationMerge()
				matched = true
				break
			}
		}
		if !matched {
			g := &group{
				canonical: e.item,
				normTitle: e.normTitle,
				providers: map[string]struct{}{e.provider: {}},
			}
			groups = append(groups, g)
		}
	}

	// Step 3: staleness filter. Undated items are kept; ongoing
	// conditions survive past the window.
	cutoff := now.Add(-c.opts.FreshnessWindow)
	kept := groups[:0]
	for _, g := range groups {
		if g.canonical.PublishedAt != nil && g.canonical.PublishedAt.Before(cutoff) && !g.canonical.Ongoing {
			telemetry.RecordConsolidationStaleDrop()
			zap.L().Debug("consolidate: dropping stale item",
				zap.String("title", g.canonical.Title),
				zap.Time("published_at", *g.canonical.PublishedAt),
			)
			continue
		}
		kept = append(kept, g)
	}

	// Step 4: rank.
	sort.Slice(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.canonical.Impact != b.canonical.Impact {
			return a.canonical.Impact > b.canonical.Impact
		}
		at, bt := a.canonical.PublishedAt, b.canonical.PublishedAt
		switch {
		case at != nil && bt != nil && !at.Equal(*bt):
			return at.After(*bt)
		case at != nil && bt == nil:
			return true
		case at == nil && bt != nil:
			return false
		}
		if len(a.providers) != len(b.providers) {
			return len(a.providers) > len(b.providers)
		}
		return a.normTitle < b.normTitle
	})

	// Step 5: emit.
	out.Items = make([]model.ConsolidatedItem, 0, len(kept))
	for _, g := range kept {
		providers := make([]string, 0, len(g.providers))
		for p := range g.providers {
			providers = append(providers, p)
		}
		sort.Strings(providers)
		out.Items = append(out.Items, model.ConsolidatedItem{
			Item:       g.canonical,
			DedupGroup: groupID(g.normTitle),
			Providers:  providers,
		})
	}
	return out
}

// sameEvent applies the dedup rule: normalized-title similarity above
// the threshold, or matching subject plus approximate location.
func (c *Consolidator) sameEvent(e entry, g *group) bool {
	if Similarity(e.normTitle, g.normTitle) >= c.opts.SimilarityThreshold {
		return true
	}

	subjA := NormalizeTitle(e.item.Subject)
	subjB := NormalizeTitle(g.canonical.Subject)
	if subjA == "" || subjA != subjB {
		return false
	}
	if e.item.HasLocation() && g.canonical.HasLocation() {
		return metersBetween(
			geom.Coord{*e.item.Longitude, *e.item.Latitude},
			geom.Coord{*g.canonical.Longitude, *g.canonical.Latitude},
		) <= c.opts.ProximityMeters
	}
	// Without coordinates on both sides, a matching specific subject is
	// the best locality signal available.
	return true
}

// mergeInto folds e into g: provenance union, richer body wins, impact
// and recency take the stronger value, ongoing is sticky.
func mergeInto(g *group, e entry) {
	g.providers[e.provider] = struct{}{}

	if richer(e.item, g.canonical) {
		norm := e.normTitle
		merged := e.item
		carryOver(&merged, g.canonical)
		g.canonical = merged
		g.normTitle = norm
	} else {
		carryOver(&g.canonical, e.item)
	}
}

// richer prefers the item with more body detail, then one carrying a
// specific location.
func richer(a, b model.Item) bool {
	if len(a.Body) != len(b.Body) {
		return len(a.Body) > len(b.Body)
	}
	return a.HasLocation() && !b.HasLocation()
}

// carryOver pulls the stronger auxiliary fields from other into dst.
func carryOver(dst *model.Item, other model.Item) {
	if other.Impact > dst.Impact {
		dst.Impact = other.Impact
	}
	if other.Ongoing {
		dst.Ongoing = true
	}
	if dst.PublishedAt == nil || (other.PublishedAt != nil && other.PublishedAt.After(*dst.PublishedAt)) {
		dst.PublishedAt = other.PublishedAt
	}
	if !dst.HasLocation() && other.HasLocation() {
		dst.Latitude = other.Latitude
		dst.Longitude = other.Longitude
	}
}

func groupID(normTitle string) string {
	h := fnv.New32a()
	h.Write([]byte(normTitle))
	return fmt.Sprintf("g-%08x", h.Sum32())
}

const earthRadiusMeters = 6371000

// metersBetween computes the haversine distance between two lon/lat coords.
func metersBetween(a, b geom.Coord) float64 {
	lat1 := a.Y() * math.Pi / 180
	lat2 := b.Y() * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.X() - a.X()) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}
