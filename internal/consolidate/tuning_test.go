package consolidate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTuningFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTuningOverrides(t *testing.T) {
	path := writeTuningFile(t, `
consolidate:
  similarity_threshold: 0.7
  freshness_hours: 24
  proximity_meters: 300
`)

	opts, err := LoadTuning(path, DefaultOptions())
	require.NoError(t, err)
	assert.InDelta(t, 0.7, opts.SimilarityThreshold, 1e-9)
	assert.Equal(t, 24*time.Hour, opts.FreshnessWindow)
	assert.InDelta(t, 300, opts.ProximityMeters, 1e-9)
}

func TestLoadTuningPartialKeepsBase(t *testing.T) {
	path := writeTuningFile(t, `
consolidate:
  freshness_hours: 12
`)

	base := DefaultOptions()
	opts, err := LoadTuning(path, base)
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour, opts.FreshnessWindow)
	assert.InDelta(t, base.SimilarityThreshold, opts.SimilarityThreshold, 1e-9)
	assert.InDelta(t, base.ProximityMeters, opts.ProximityMeters, 1e-9)
}

func TestLoadTuningMissingFile(t *testing.T) {
	base := DefaultOptions()
	opts, err := LoadTuning(filepath.Join(t.TempDir(), "absent.yaml"), base)
	require.Error(t, err)
	// The base options come back untouched on failure.
	assert.Equal(t, base, opts)
}

func TestLoadTuningMalformedYAML(t *testing.T) {
	path := writeTuningFile(t, "consolidate: [not a map")

	_, err := LoadTuning(path, DefaultOptions())
	assert.Error(t, err)
}
