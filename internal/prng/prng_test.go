package prng

import (
	"io"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKinds = []Kind{KindMulberry32, KindXorshift32, KindXorshift128, KindSFC32}

func draw(g Generator, n int) []uint32 {
	out := make([]uint32, n)
	for i := range out {
		out[i] = g.Uint32()
	}
	return out
}

func TestDeterministicPerKind(t *testing.T) {
	for _, kind := range allKinds {
		t.Run(kind.String(), func(t *testing.T) {
			a := draw(Make(kind, 12345), 256)
			b := draw(Make(kind, 12345), 256)
			assert.Equal(t, a, b)

			c := draw(Make(kind, 12346), 256)
			assert.NotEqual(t, a, c)
		})
	}
}

func TestFloatRange(t *testing.T) {
	for _, kind := range allKinds {
		g := Make(kind, 7)
		for i := 0; i < 20000; i++ {
			f := g.Float64()
			require.GreaterOrEqual(t, f, 0.0)
			require.Less(t, f, 1.0)
		}
	}
}

func TestXorshift32KnownValue(t *testing.T) {
	g := NewXorshift32(1)
	assert.Equal(t, uint32(270369), g.Uint32())
}

func TestZeroSeedIsReplaced(t *testing.T) {
	g := NewXorshift32(0)
	assert.NotZero(t, g.Uint32(), "a zero xorshift state would emit zeros forever")

	h := NewXorshift128([4]uint32{})
	assert.NotZero(t, h.Uint32()|h.Uint32()|h.Uint32()|h.Uint32())
}

func TestNoEarlyRepetition(t *testing.T) {
	const n = 50000

	seen := make(map[uint32]struct{}, n)
	g := NewXorshift32(99)
	for i := 0; i < n; i++ {
		v := g.Uint32()
		_, dup := seen[v]
		require.False(t, dup, "xorshift32 repeated after %d draws", i)
		seen[v] = struct{}{}
	}

	for _, kind := range []Kind{KindMulberry32, KindXorshift128, KindSFC32} {
		distinct := make(map[uint32]struct{}, n)
		for _, v := range draw(Make(kind, 99), n) {
			distinct[v] = struct{}{}
		}
		assert.Greater(t, len(distinct), n-10, kind.String())
	}
}

func TestReaderIsDeterministic(t *testing.T) {
	a := make([]byte, 37)
	b := make([]byte, 37)
	_, err := io.ReadFull(Reader(New(5)), a)
	require.NoError(t, err)
	_, err = io.ReadFull(Reader(New(5)), b)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSourceDrivesMathRand(t *testing.T) {
	r1 := rand.New(Source(New(3)))
	r2 := rand.New(Source(New(3)))
	for i := 0; i < 10; i++ {
		assert.Equal(t, r1.IntN(1000), r2.IntN(1000))
	}
}

func TestHelpers(t *testing.T) {
	g := New(11)
	for i := 0; i < 1000; i++ {
		n := Intn(g, 6)
		assert.True(t, n >= 0 && n < 6)
		f := Between(g, -2, 2)
		assert.True(t, f >= -2 && f < 2)
	}
	assert.Zero(t, Intn(g, 0))
}

func BenchmarkMulberry32(b *testing.B) {
	g := NewMulberry32(1)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		g.Float64()
	}
}

func TestParseKind(t *testing.T) {
	for _, k := range allKinds {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	got, err := ParseKind("")
	require.NoError(t, err)
	assert.Equal(t, Default, got)

	got, err = ParseKind("SFC32")
	require.NoError(t, err)
	assert.Equal(t, KindSFC32, got)

	_, err = ParseKind("mt19937")
	assert.Error(t, err)
}
