package model

import "time"

// Snapshot is the immutable location/time/market context a pipeline run
// is keyed to. It is created once by the location service and never
// mutated; every downstream artifact references it by ID.
type Snapshot struct {
	ID         string    `json:"id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Locality   string    `json:"locality,omitempty"`
	Market     string    `json:"market,omitempty"`
	Timezone   string    `json:"timezone"`
	CapturedAt time.Time `json:"captured_at"`
}
