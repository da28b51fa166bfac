package engine

import (
	"fmt"
	"strings"

	"github.com/roadmind/strategy-engine/internal/model"
)

// briefPrompt asks for the short strategy brief used by the analyzing
// phase and the interim result.
func briefPrompt(snap model.Snapshot, locality string) string {
	return fmt.Sprintf(
		"You advise rideshare drivers. The driver is near %s (%.5f, %.5f) in the %s market at %s local time zone %s. "+
			"Write a short brief (3-4 sentences) on current demand: where riders likely are right now and why. "+
			"Plain prose, no headings.",
		place(locality), snap.Latitude, snap.Longitude, market(snap), snap.CapturedAt.Format("Mon 15:04"), snap.Timezone,
	)
}

// venuesPrompt asks for venue candidates as a JSON array.
func venuesPrompt(snap model.Snapshot, locality string) string {
	return fmt.Sprintf(
		"List venues near %s (%.5f, %.5f) likely to generate rideshare demand in the next two hours: "+
			"event endings, nightlife districts, transit hubs, stadiums, airports. "+
			"Respond with only a JSON array; each element: "+
			`{"title": name, "body": one-line reason, "subject": venue category, "latitude": number, "longitude": number, "impact": 0..1}. `+
			"Up to 10 elements, highest impact first.",
		place(locality), snap.Latitude, snap.Longitude,
	)
}

// newsPrompt asks for demand-relevant local news as a JSON array.
func newsPrompt(snap model.Snapshot, locality string) string {
	return fmt.Sprintf(
		"Find current local news near %s (%.5f, %.5f) that affects road traffic or rideshare demand: "+
			"closures, incidents, events, weather. "+
			"Respond with only a JSON array; each element: "+
			`{"title": headline, "body": summary, "subject": affected road or area, "latitude": number, "longitude": number, `+
			`"published_at": RFC3339 time, "ongoing": bool, "impact": 0..1}. `+
			"Up to 8 elements. Omit anything older than two days unless still ongoing.",
		place(locality), snap.Latitude, snap.Longitude,
	)
}

// narrativePrompt composes the final driver-facing narrative from the
// brief and the consolidated artifacts.
func narrativePrompt(snap model.Snapshot, locality, brief string, recs []model.VenueRecommendation, news *model.ConsolidatedResult) string {
	var b strings.Builder
	fmt.Fprintf(&b,
		"You advise rideshare drivers near %s. Combine the context below into a single actionable "+
			"plan (4-6 sentences): where to position now, what to watch for, and a fallback. Plain prose.\n\nBrief:\n%s\n",
		place(locality), brief)

	if len(recs) > 0 {
		b.WriteString("\nVenues:\n")
		for _, r := range recs {
			fmt.Fprintf(&b, "- %s", r.Title)
			if r.DriveMinutes > 0 {
				fmt.Fprintf(&b, " (%.0f min away)", r.DriveMinutes)
			}
			if r.Body != "" {
				b.WriteString(": " + r.Body)
			}
			b.WriteString("\n")
		}
	}
	if news != nil && len(news.Items) > 0 {
		b.WriteString("\nNews:\n")
		for _, n := range news.Items {
			fmt.Fprintf(&b, "- %s", n.Title)
			if n.Body != "" {
				b.WriteString(": " + n.Body)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}

// headline extracts the interim headline from the brief: its first
// sentence, bounded in length.
func headline(brief string) string {
	s := strings.TrimSpace(brief)
	if i := strings.IndexAny(s, ".\n"); i > 0 {
		s = s[:i+1]
	}
	s = strings.TrimSpace(s)
	const maxLen = 140
	if r := []rune(s); len(r) > maxLen {
		s = string(r[:maxLen-1]) + "…"
	}
	return s
}

func place(locality string) string {
	if locality == "" {
		return "the driver's area"
	}
	return locality
}

func market(snap model.Snapshot) string {
	if snap.Market == "" {
		return "local"
	}
	return snap.Market
}
