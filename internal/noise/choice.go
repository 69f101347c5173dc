package noise

import "fingerprint-shield/internal/prng"

type Weighted[T any] struct {
	Value  T
	Weight float64
}

// Choose selects by cumulative normalized weight against one uniform draw.
// Non-positive weights never win. An empty or all-zero list yields fallback
// without consuming a draw.
func Choose[T any](g prng.Generator, items []Weighted[T], fallback T) T {
	total := 0.0
	for _, it := range items {
		if it.Weight > 0 {
			total += it.Weight
		}
	}
	if total <= 0 {
		return fallback
	}

	r := g.Float64() * total
	acc := 0.0
	last := fallback
	for _, it := range items {
		if it.Weight <= 0 {
			continue
		}
		acc += it.Weight
		last = it.Value
		if r < acc {
			return it.Value
		}
	}
	return last
}

// Pick is a uniform choice over values.
func Pick[T any](g prng.Generator, values []T, fallback T) T {
	if len(values) == 0 {
		return fallback
	}
	return values[prng.Intn(g, len(values))]
}
