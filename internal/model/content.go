package model

import "time"

// Item is a single unit of provider output: a news report or a venue
// candidate, depending on the content type it was produced under.
type Item struct {
	Title       string     `json:"title"`
	Body        string     `json:"body,omitempty"`
	Subject     string     `json:"subject,omitempty"`
	Latitude    *float64   `json:"latitude,omitempty"`
	Longitude   *float64   `json:"longitude,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Ongoing     bool       `json:"ongoing,omitempty"`
	Impact      float64    `json:"impact"`
}

// HasLocation reports whether the item carries approximate coordinates.
func (it Item) HasLocation() bool {
	return it.Latitude != nil && it.Longitude != nil
}

// ConsolidatedItem is an Item after deduplication, annotated with the
// providers that contributed it and its dedup group.
type ConsolidatedItem struct {
	Item
	DedupGroup string   `json:"dedup_group"`
	Providers  []string `json:"providers"`
}

// ConsolidatedResult is the deduplicated, filtered, ranked output of
// merging provider results of one content type. Immutable once computed.
type ConsolidatedResult struct {
	ContentType  ContentType        `json:"content_type"`
	Items        []ConsolidatedItem `json:"items"`
	TotalFailure bool               `json:"total_failure,omitempty"`
	GeneratedAt  time.Time          `json:"generated_at"`
}
