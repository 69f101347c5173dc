package noise

import (
	"math"

	"fingerprint-shield/internal/prng"
)

// PixelOptions controls one mutation pass over an RGBA buffer.
type PixelOptions struct {
	Probability float64
	MaxShift    float64
	Stride      int
	SampleCap   int
}

// PixelTuning holds the configured bases Params scales from.
type PixelTuning struct {
	BaseProbability float64
	MaxShiftBase    float64
	MaxShiftCap     float64
	Stride          int
	SampleCap       int
}

// Params derives per-call probability and shift. Larger areas get a lower
// probability and a smaller shift; the two draws and the UTC hour add a
// rotating modifier. The constants are tunable, only the shape matters.
func Params(t PixelTuning, width, height int, g prng.Generator, hourUTC int) PixelOptions {
	area := math.Max(1, float64(max(width, 1))*float64(max(height, 1)))
	areaScale := Clamp(1-(math.Log10(area)-1)*0.07, 0.4, 1.0)
	entropyScale := 0.85 + g.Float64()*0.45
	timeScale := 0.9 + (math.Abs(float64(12-hourUTC))/24)*0.2

	prob := Clamp(t.BaseProbability*areaScale*entropyScale*timeScale, 0.02, 0.8)
	shiftCap := math.Max(t.MaxShiftCap, 0.2)
	shift := Clamp(
		t.MaxShiftBase*(1+g.Float64()*0.8)/math.Sqrt(math.Max(1, math.Sqrt(area))/10),
		0.2, shiftCap,
	)

	return PixelOptions{
		Probability: prob,
		MaxShift:    shift,
		Stride:      max(1, t.Stride/4),
		SampleCap:   t.SampleCap,
	}
}

// MutatePixels perturbs RGB channels of an RGBA buffer in place and returns
// how many pixels were touched. Alpha is never written. Each visited pixel
// gets one of: bit flip of the low bit, a +-1 step, or a rounded
// perturbation bounded by MaxShift.
func MutatePixels(data []byte, g prng.Generator, opts PixelOptions) int {
	if len(data) < 4 {
		return 0
	}
	stride := max(1, opts.Stride)
	total := len(data) / 4
	limit := max(1, total/stride)
	if opts.SampleCap > 0 && limit > opts.SampleCap {
		limit = opts.SampleCap
	}

	touched := 0
	for base := 0; base+3 < len(data) && touched < limit; base += 4 * stride {
		if g.Float64() > opts.Probability {
			continue
		}
		touched++
		pattern := g.Uint32() & 7
		for c := 0; c < 3; c++ {
			v := int(data[base+c])
			switch {
			case pattern <= 1:
				v ^= int(g.Uint32() & 1)
			case pattern <= 3:
				if g.Uint32()&1 == 1 {
					v++
				} else {
					v--
				}
			default:
				v += int(math.Round(Perturb(g, opts.MaxShift)))
			}
			data[base+c] = byte(Clamp(float64(v), 0, 255))
		}
	}
	return touched
}
