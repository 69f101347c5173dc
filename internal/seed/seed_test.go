package seed

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fingerprint-shield/internal/entropy"
	"fingerprint-shield/internal/metrics"
	"fingerprint-shield/internal/prng"
	"fingerprint-shield/internal/schedule"
)

const (
	salt   = "s3cr3t-s4lt"
	origin = "https://example.com"
	tag    = "aa11bb22cc33dd44ee55ff6677889900"
)

func newDeriver() *Deriver {
	return NewDeriver(salt, 5*time.Minute, "")
}

func TestComputeSeedKeyScenario(t *testing.T) {
	d := newDeriver()
	c := Context{OriginID: origin, ContextTag: tag, TimeBucket: 1000}

	key := d.ComputeSeedKey(c)
	assert.Len(t, key, 8)
	assert.Equal(t, key, d.ComputeSeedKey(c))
	assert.Equal(t, key, newDeriver().ComputeSeedKey(c), "must not depend on process state")

	c.TimeBucket = 1001
	assert.NotEqual(t, key, d.ComputeSeedKey(c))
}

func TestSeedKeyIsFNV1aOfMaterial(t *testing.T) {
	d := newDeriver()
	c := Context{OriginID: origin, ContextTag: tag, TimeBucket: 1000}

	// FNV-1a 32 computed independently over origin::tag::bucket::salt
	h := uint32(2166136261)
	for _, b := range []byte(origin + "::" + tag + "::1000::" + salt) {
		h ^= uint32(b)
		h *= 16777619
	}
	assert.Equal(t, h, d.Seed(c))
}

func TestEveryInputChangesKey(t *testing.T) {
	d := newDeriver()
	base := Context{OriginID: origin, ContextTag: tag, TimeBucket: 1000}
	key := d.ComputeSeedKey(base)

	other := base
	other.ContextTag = "ff11bb22cc33dd44ee55ff6677889900"
	assert.NotEqual(t, key, d.ComputeSeedKey(other))

	other = base
	other.OriginID = "https://example.org"
	assert.NotEqual(t, key, d.ComputeSeedKey(other))

	assert.NotEqual(t, key, NewDeriver("pepper", 5*time.Minute, "").ComputeSeedKey(base))
}

func TestExtrasDisambiguate(t *testing.T) {
	d := newDeriver()
	c := Context{OriginID: origin, ContextTag: tag, TimeBucket: 7}
	assert.NotEqual(t, d.Seed(c, 0, 0, 16, 16), d.Seed(c, 0, 0, 16, 17))
	assert.Equal(t, d.Seed(c, "getImageData", 3), d.Seed(c, "getImageData", 3))
	assert.NotEqual(t, d.Seed(c), d.Seed(c, "x"))
}

func TestBucketAndSentinel(t *testing.T) {
	d := newDeriver()
	at := time.UnixMilli(1000 * 5 * 60 * 1000)
	assert.Equal(t, int64(1000), d.Bucket(at))
	assert.Equal(t, int64(999), d.Bucket(at.Add(-time.Millisecond)))
	assert.Equal(t, int64(-1), d.Bucket(time.UnixMilli(-1)))

	c := d.Context("", tag, at)
	assert.Equal(t, "null://", c.OriginID)
}

func TestNonZero(t *testing.T) {
	assert.Equal(t, prng.ZeroSeed, NonZero(0))
	assert.Equal(t, uint32(5), NonZero(5))
}

func newPool(t *testing.T, v *schedule.Virtual, opts ...Option) *Pool {
	t.Helper()
	src := entropy.New(entropy.WithReader(bytes.NewReader(bytes.Repeat([]byte{7, 1, 9, 3}, 1024))))
	opts = append([]Option{
		WithScheduler(v),
		WithEntropy(src),
		WithGaussian(1024, 1e-5, 0.3),
		WithIntervals(30*time.Second, 10*time.Second, 25*time.Second),
	}, opts...)
	return NewPool(newDeriver(), origin, tag, opts...)
}

func TestPoolCachesByKey(t *testing.T) {
	v := schedule.NewVirtual(time.UnixMilli(1000 * 5 * 60 * 1000))
	p := newPool(t, v)

	a := p.Acquire()
	b := p.Acquire()
	assert.Same(t, a, b)
	assert.Equal(t, 1, p.Len())
	assert.Equal(t, p.Key(), a.Key)
	assert.Equal(t, int64(1000), a.Context.TimeBucket)
	assert.Same(t, a.Gaussian(), b.Gaussian())
}

func TestRotationReplacesGeneratorButNotHeldOnes(t *testing.T) {
	start := time.UnixMilli(1000 * 5 * 60 * 1000)
	m := metrics.New()
	v := schedule.NewVirtual(start)
	p := newPool(t, v, WithMetrics(m))

	var rotations []int64
	p.OnRotate(func(prev, next Context) { rotations = append(rotations, next.TimeBucket) })
	p.Start()
	defer p.Stop()

	held := p.Acquire()
	heldFirst := held.Rand().Uint32()

	// reference stream the held generator must continue
	ref := prng.Make(prng.Default, held.Seed())
	ref.Uint32()

	v.Advance(5*time.Minute + time.Second)
	assert.Equal(t, []int64{1001}, rotations)
	assert.Zero(t, p.Len(), "old bucket evicted by the background check")

	fresh := p.Acquire()
	assert.NotSame(t, held, fresh)
	assert.NotEqual(t, held.Key, fresh.Key)
	assert.NotEqual(t, heldFirst, fresh.Rand().Uint32())

	for i := 0; i < 100; i++ {
		require.Equal(t, ref.Uint32(), held.Rand().Uint32())
	}
}

func TestLazyRotationWithoutTimers(t *testing.T) {
	v := schedule.NewVirtual(time.UnixMilli(1000 * 5 * 60 * 1000))
	p := newPool(t, v)

	var fired int
	p.OnRotate(func(prev, next Context) {
		fired++
		assert.Equal(t, prev.TimeBucket+1, next.TimeBucket)
	})

	first := p.Acquire()
	v.Advance(5 * time.Minute)
	second := p.Acquire()
	assert.Equal(t, 1, fired)
	assert.NotEqual(t, first.Key, second.Key)
	assert.Equal(t, 1, p.Len())
}

func TestInvalidate(t *testing.T) {
	v := schedule.NewVirtual(time.UnixMilli(0))
	p := newPool(t, v)
	a := p.Acquire()
	p.Invalidate()
	assert.Zero(t, p.Len())
	b := p.Acquire()
	assert.NotSame(t, a, b)
	assert.Equal(t, a.Seed(), b.Seed(), "same key rebuilds the same stream")
}

func TestDeriveIsPerCall(t *testing.T) {
	v := schedule.NewVirtual(time.UnixMilli(0))
	st := newPool(t, v).Acquire()

	g1 := st.Derive("canvas", 0, 0, 10, 10)
	g2 := st.Derive("canvas", 0, 0, 10, 10)
	assert.Equal(t, g1.Uint32(), g2.Uint32())
	assert.NotEqual(t, st.DeriveSeed("canvas", 0, 0, 10, 10), st.DeriveSeed("canvas", 0, 0, 10, 11))
	assert.NotEqual(t, st.Seed(), st.DeriveSeed())
}

func TestMicroReseedRefreshesAux(t *testing.T) {
	v := schedule.NewVirtual(time.UnixMilli(0))
	src := entropy.New(entropy.WithReader(bytes.NewReader(make([]byte, 0))))
	m := metrics.New()
	p := newPool(t, v, WithEntropy(src), WithMetrics(m))

	p.Start()
	p.Start()
	first := p.Aux()
	assert.Same(t, first, p.Aux())

	v.Advance(26 * time.Second)
	assert.NotSame(t, first, p.Aux())

	p.Stop()
	after := p.Aux()
	v.Advance(time.Minute)
	assert.Same(t, after, p.Aux())
	assert.Zero(t, v.Pending())
}
