package prng

// Mulberry32 is a single-word counter generator with a full 2^32 period.
type Mulberry32 struct {
	t uint32
}

func NewMulberry32(seed uint32) *Mulberry32 {
	return &Mulberry32{t: seed}
}

func (m *Mulberry32) Uint32() uint32 {
	m.t += 0x6d2b79f5
	r := (m.t ^ (m.t >> 15)) * (m.t | 1)
	r ^= r + (r^(r>>7))*(r|61)
	return r ^ (r >> 14)
}

func (m *Mulberry32) Float64() float64 { return toFloat(m.Uint32()) }

// Xorshift32 is Marsaglia's 13/17/5 generator; period 2^32-1.
type Xorshift32 struct {
	x uint32
}

func NewXorshift32(seed uint32) *Xorshift32 {
	if seed == 0 {
		seed = ZeroSeed
	}
	return &Xorshift32{x: seed}
}

func (g *Xorshift32) Uint32() uint32 {
	x := g.x
	x ^= x << 13
	x ^= x >> 17
	x ^= x << 5
	g.x = x
	return x
}

func (g *Xorshift32) Float64() float64 { return toFloat(g.Uint32()) }

// Xorshift128 keeps four words of state; period 2^128-1.
type Xorshift128 struct {
	a, b, c, d uint32
}

func NewXorshift128(seed [4]uint32) *Xorshift128 {
	if seed == [4]uint32{} {
		seed[0] = ZeroSeed
	}
	return &Xorshift128{a: seed[0], b: seed[1], c: seed[2], d: seed[3]}
}

func (g *Xorshift128) Uint32() uint32 {
	t := g.a ^ (g.a << 11)
	g.a, g.b, g.c = g.b, g.c, g.d
	g.d = g.d ^ (g.d >> 19) ^ (t ^ (t >> 8))
	return g.d
}

func (g *Xorshift128) Float64() float64 { return toFloat(g.Uint32()) }

// SFC32 is the small fast chaotic generator with a 32-bit counter, so no
// seed can fall into a short cycle shorter than 2^32.
type SFC32 struct {
	a, b, c, d uint32
}

func NewSFC32(seed [4]uint32) *SFC32 {
	g := &SFC32{a: seed[0], b: seed[1], c: seed[2], d: seed[3]}
	for i := 0; i < 12; i++ {
		g.Uint32()
	}
	return g
}

func (g *SFC32) Uint32() uint32 {
	t := g.a + g.b + g.d
	g.d++
	g.a = g.b ^ (g.b >> 9)
	g.b = g.c + (g.c << 3)
	g.c = (g.c<<21 | g.c>>11) + t
	return t
}

func (g *SFC32) Float64() float64 { return toFloat(g.Uint32()) }
