// Package noise turns deterministic generator streams into the shapes the
// patched APIs need: Gaussian sample noise, symmetric jitter, weighted
// choices and bounded pixel mutation. Every function is pure given its
// generator, input and parameters.
package noise

import (
	"math"

	"fingerprint-shield/internal/prng"
)

// Sigma bounds applied after per-seed jitter.
const (
	MinSigma = 1e-9
	MaxSigma = 1e-2
)

// smallest uniform fed to the logarithm
const minUniform = 1e-10

// BoxMuller consumes two uniform draws and returns a pair of independent
// standard normal values.
func BoxMuller(g prng.Generator) (float64, float64) {
	u1 := g.Float64()
	if u1 < minUniform {
		u1 = minUniform
	}
	u2 := g.Float64()
	mag := math.Sqrt(-2 * math.Log(u1))
	theta := 2 * math.Pi * u2
	return mag * math.Cos(theta), mag * math.Sin(theta)
}

// Sigma returns base*(1 + jitter*(draw*2-1)) clamped to [MinSigma, MaxSigma].
func Sigma(base, jitter, draw float64) float64 {
	return Clamp(base*(1+jitter*(draw*2-1)), MinSigma, MaxSigma)
}

// GaussianPool is a pre-materialized buffer of scaled normal samples read
// through a wrapping cursor.
type GaussianPool struct {
	sigma  float64
	buf    []float32
	cursor int
}

// NewGaussianPool draws the per-seed sigma from g and fills size samples.
// Sizes below 2 are raised to 2.
func NewGaussianPool(g prng.Generator, size int, baseSigma, sigmaJitter float64) *GaussianPool {
	if size < 2 {
		size = 2
	}
	p := &GaussianPool{
		sigma: Sigma(baseSigma, sigmaJitter, g.Float64()),
		buf:   make([]float32, size),
	}
	for i := 0; i < size; i += 2 {
		a, b := BoxMuller(g)
		p.buf[i] = float32(a * p.sigma)
		if i+1 < size {
			p.buf[i+1] = float32(b * p.sigma)
		}
	}
	return p
}

func (p *GaussianPool) Sigma() float64 { return p.sigma }

func (p *GaussianPool) Len() int { return len(p.buf) }

func (p *GaussianPool) Cursor() int { return p.cursor }

// Next returns the sample under the cursor and advances it, wrapping at the
// end of the buffer.
func (p *GaussianPool) Next() float32 {
	if p.cursor >= len(p.buf) {
		p.cursor = 0
	}
	v := p.buf[p.cursor]
	p.cursor++
	return v
}

// Apply returns a noisy copy of src. src is never modified.
func (p *GaussianPool) Apply(src []float32) []float32 {
	out := make([]float32, len(src))
	for i, v := range src {
		out[i] = v + p.Next()
	}
	return out
}

// AddInto adds noise to dst in place, for APIs that fill a caller-owned
// destination.
func (p *GaussianPool) AddInto(dst []float32) {
	for i := range dst {
		dst[i] += p.Next()
	}
}
