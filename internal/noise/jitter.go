package noise

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"fingerprint-shield/internal/prng"
)

func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Symmetric returns (draw-0.5)*2*max, a value in [-max, max).
func Symmetric(g prng.Generator, max float64) float64 {
	return (g.Float64() - 0.5) * 2 * max
}

// Perturb is a triangular draw in (-scale/2, scale/2), centred on zero.
func Perturb(g prng.Generator, scale float64) float64 {
	return (g.Float64() + g.Float64() - 1) * 0.5 * scale
}

// Drift moves v by symmetric jitter of at most step and clamps the result.
func Drift(g prng.Generator, v, step, lo, hi float64) float64 {
	return Clamp(v+Symmetric(g, step), lo, hi)
}

// Mode is one component of a timing mixture.
type Mode struct {
	Weight float64
	Mean   float64
	StdDev float64
}

// Multimodal samples a weighted mixture of normal modes, bounded to
// [-Bound, Bound] when Bound is positive.
type Multimodal struct {
	modes []Mode
	dists []distuv.Normal
	Bound float64
}

func NewMultimodal(bound float64, modes ...Mode) *Multimodal {
	m := &Multimodal{modes: modes, Bound: bound}
	for _, mode := range modes {
		sd := mode.StdDev
		if sd <= 0 {
			sd = math.SmallestNonzeroFloat64
		}
		m.dists = append(m.dists, distuv.Normal{Mu: mode.Mean, Sigma: sd})
	}
	return m
}

// DefaultTimingModes is the three-peak mixture used for timer noise: a tight
// centre with two lighter shoulders.
func DefaultTimingModes(jitterMax float64) []Mode {
	return []Mode{
		{Weight: 0.6, Mean: 0, StdDev: jitterMax / 6},
		{Weight: 0.25, Mean: jitterMax / 2, StdDev: jitterMax / 8},
		{Weight: 0.15, Mean: -jitterMax / 2, StdDev: jitterMax / 8},
	}
}

// Sample picks a mode by weight, then inverts its CDF at a second draw so
// the result depends only on g.
func (m *Multimodal) Sample(g prng.Generator) float64 {
	if len(m.dists) == 0 {
		return 0
	}
	weights := make([]Weighted[int], len(m.modes))
	for i, mode := range m.modes {
		weights[i] = Weighted[int]{Value: i, Weight: mode.Weight}
	}
	idx := Choose(g, weights, 0)

	p := g.Float64()
	if p < minUniform {
		p = minUniform
	}
	v := m.dists[idx].Quantile(p)
	if m.Bound > 0 {
		v = Clamp(v, -m.Bound, m.Bound)
	}
	return v
}
