// Package prng holds the small deterministic generators every noise stream is
// drawn from. None of them are suitable for secrets.
package prng

import (
	"fmt"
	"io"
	"math/rand/v2"
	"strings"
)

// ZeroSeed replaces a zero seed for generators whose state must not be zero.
const ZeroSeed uint32 = 0xdeadbeef

// Generator is a reproducible 32-bit stream.
type Generator interface {
	Uint32() uint32
	// Float64 returns a value in [0,1) with 32 bits of resolution.
	Float64() float64
}

type Kind int

const (
	KindMulberry32 Kind = iota
	KindXorshift32
	KindXorshift128
	KindSFC32
)

// Default is the generator family used across the engine.
const Default = KindMulberry32

func (k Kind) String() string {
	switch k {
	case KindMulberry32:
		return "mulberry32"
	case KindXorshift32:
		return "xorshift32"
	case KindXorshift128:
		return "xorshift128"
	case KindSFC32:
		return "sfc32"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind reads a generator name as written in configuration. An empty
// name selects Default.
func ParseKind(name string) (Kind, error) {
	if name == "" {
		return Default, nil
	}
	for _, k := range []Kind{KindMulberry32, KindXorshift32, KindXorshift128, KindSFC32} {
		if strings.EqualFold(name, k.String()) {
			return k, nil
		}
	}
	return Default, fmt.Errorf("unknown generator %q", name)
}

// New builds the default generator.
func New(seed uint32) Generator {
	return Make(Default, seed)
}

// Make builds a generator of the given kind. The 4-word kinds expand the
// single seed word with splitmix-style mixing.
func Make(kind Kind, seed uint32) Generator {
	switch kind {
	case KindXorshift32:
		return NewXorshift32(seed)
	case KindXorshift128:
		return NewXorshift128(expand(seed))
	case KindSFC32:
		return NewSFC32(expand(seed))
	default:
		return NewMulberry32(seed)
	}
}

func toFloat(v uint32) float64 {
	return float64(v) / 4294967296.0
}

// expand derives four state words from one seed.
func expand(seed uint32) [4]uint32 {
	var out [4]uint32
	x := seed
	for i := range out {
		x += 0x9e3779b9
		z := x
		z = (z ^ (z >> 16)) * 0x85ebca6b
		z = (z ^ (z >> 13)) * 0xc2b2ae35
		out[i] = z ^ (z >> 16)
	}
	return out
}

// Intn returns a uniform integer in [0,n). n <= 0 yields 0.
func Intn(g Generator, n int) int {
	if n <= 0 {
		return 0
	}
	return int(g.Float64() * float64(n))
}

// Between returns a uniform float in [lo,hi).
func Between(g Generator, lo, hi float64) float64 {
	return lo + g.Float64()*(hi-lo)
}

type reader struct{ g Generator }

// Reader exposes a generator as a deterministic byte stream.
func Reader(g Generator) io.Reader {
	return reader{g: g}
}

func (r reader) Read(p []byte) (int, error) {
	for i := 0; i < len(p); i += 4 {
		v := r.g.Uint32()
		for j := 0; j < 4 && i+j < len(p); j++ {
			p[i+j] = byte(v >> (8 * j))
		}
	}
	return len(p), nil
}

type source struct{ g Generator }

// Source adapts a generator to math/rand/v2 so library samplers can draw
// from a seeded stream.
func Source(g Generator) rand.Source {
	return source{g: g}
}

func (s source) Uint64() uint64 {
	return uint64(s.g.Uint32())<<32 | uint64(s.g.Uint32())
}
