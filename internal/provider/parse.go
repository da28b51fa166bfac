package provider

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/roadmind/strategy-engine/internal/model"
)

// wireItem is the JSON shape adapters expect providers to emit.
type wireItem struct {
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Subject     string   `json:"subject"`
	Latitude    *float64 `json:"latitude"`
	Longitude   *float64 `json:"longitude"`
	PublishedAt string   `json:"published_at"`
	Ongoing     bool     `json:"ongoing"`
	Impact      float64  `json:"impact"`
}

// ParseItems extracts an item list from model output. Providers wrap
// JSON in prose or markdown fences often enough that we locate the
// outermost array rather than demanding a clean document.
func ParseItems(text string) ([]model.Item, error) {
	raw := extractArray(text)
	if raw == "" {
		return nil, eris.New("no JSON array in response")
	}

	var wire []wireItem
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		return nil, eris.Wrap(err, "unmarshal items")
	}

	items := make([]model.Item, 0, len(wire))
	for _, w := range wire {
		if strings.TrimSpace(w.Title) == "" {
			continue
		}
		it := model.Item{
			Title:     strings.TrimSpace(w.Title),
			Body:      strings.TrimSpace(w.Body),
			Subject:   strings.TrimSpace(w.Subject),
			Latitude:  w.Latitude,
			Longitude: w.Longitude,
			Ongoing:   w.Ongoing,
			Impact:    clampImpact(w.Impact),
		}
		if w.PublishedAt != "" {
			if ts, err := time.Parse(time.RFC3339, w.PublishedAt); err == nil {
				it.PublishedAt = &ts
			}
		}
		items = append(items, it)
	}
	return items, nil
}

func clampImpact(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// extractArray returns the outermost JSON array in text, tolerating
// markdown fences and surrounding prose.
func extractArray(text string) string {
	text = strings.TrimSpace(text)
	if fenced := strings.Index(text, "```"); fenced >= 0 {
		text = strings.ReplaceAll(text, "```json", "```")
		parts := strings.Split(text, "```")
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if strings.HasPrefix(p, "[") {
				text = p
				break
			}
		}
	}

	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}
