package stealth

import (
	"time"

	"fingerprint-shield/internal/noise"
	"fingerprint-shield/internal/prng"
)

// Delay draws human-like pauses for wrappers that resolve asynchronously.
type Delay struct {
	Min time.Duration
	Max time.Duration
	// Cap bounds every delay regardless of Min and Max.
	Cap time.Duration
}

// Sample is Gaussian around the midpoint of [Min, Max] with six standard
// deviations spanning the range, clamped to the range and to Cap.
func (d Delay) Sample(g prng.Generator) time.Duration {
	mean := float64(d.Min+d.Max) / 2
	stdDev := float64(d.Max-d.Min) / 6

	z, _ := noise.BoxMuller(g)
	delay := time.Duration(z*stdDev + mean)

	if delay < d.Min {
		delay = d.Min
	}
	if delay > d.Max {
		delay = d.Max
	}
	return d.Bound(delay)
}

// Between draws uniformly in [lo, hi), then applies Cap.
func (d Delay) Between(g prng.Generator, lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return d.Bound(lo)
	}
	return d.Bound(lo + time.Duration(g.Float64()*float64(hi-lo)))
}

// Bound clamps any requested delay to [0, Cap].
func (d Delay) Bound(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if d.Cap > 0 && delay > d.Cap {
		return d.Cap
	}
	return delay
}
