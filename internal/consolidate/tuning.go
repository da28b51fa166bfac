package consolidate

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Tuning is the on-disk override file for consolidation parameters.
// Operators adjust these per market without a redeploy.
type Tuning struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	FreshnessHours      int     `yaml:"freshness_hours"`
	ProximityMeters     float64 `yaml:"proximity_meters"`
}

// LoadTuning reads a tuning file and applies it over base. Fields left
// zero in the file keep the base value.
func LoadTuning(path string, base Options) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, eris.Wrapf(err, "consolidate: read tuning %s", path)
	}

	// The YAML has a top-level "consolidate" key.
	var wrapper struct {
		Consolidate Tuning `yaml:"consolidate"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return base, eris.Wrap(err, "consolidate: parse tuning")
	}

	t := wrapper.Consolidate
	if t.SimilarityThreshold > 0 {
		base.SimilarityThreshold = t.SimilarityThreshold
	}
	if t.FreshnessHours > 0 {
		base.FreshnessWindow = time.Duration(t.FreshnessHours) * time.Hour
	}
	if t.ProximityMeters > 0 {
		base.ProximityMeters = t.ProximityMeters
	}
	return base, nil
}
