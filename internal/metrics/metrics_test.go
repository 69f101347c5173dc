package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, m *Metrics, name string) float64 {
	t.Helper()
	v, err := m.Total(name)
	require.NoError(t, err)
	return v
}

func TestIndependentRegistries(t *testing.T) {
	a := New()
	b := New()

	a.SeedRotations.Inc()
	a.PatchesSkipped.WithLabelValues(ReasonAbsent).Inc()
	a.PatchesSkipped.WithLabelValues(ReasonAbsent).Inc()
	a.PatchesSkipped.WithLabelValues(ReasonNonConfigurable).Inc()

	assert.Equal(t, 1.0, counterValue(t, a, "shield_seed_rotations_total"))
	assert.Equal(t, 0.0, counterValue(t, b, "shield_seed_rotations_total"))
	assert.Equal(t, 3.0, counterValue(t, a, "shield_patches_skipped_total"))
}

func TestTotalReadsGauges(t *testing.T) {
	m := New()
	m.GeneratorStates.Set(4)
	assert.Equal(t, 4.0, counterValue(t, m, "shield_generator_states"))
	assert.Equal(t, 0.0, counterValue(t, m, "shield_unknown_total"))
}
