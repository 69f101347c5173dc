package seed

import (
	"sync"
	"time"

	"fingerprint-shield/internal/entropy"
	"fingerprint-shield/internal/metrics"
	"fingerprint-shield/internal/noise"
	"fingerprint-shield/internal/prng"
	"fingerprint-shield/internal/schedule"
	"fingerprint-shield/pkg/logger"
)

// State is the generator state for one seed key. A State never changes
// seed; rotation replaces it in the Pool, so holders keep a consistent
// stream.
type State struct {
	Key     string
	Context Context

	seed    uint32
	kind    prng.Kind
	deriver *Deriver
	rng     prng.Generator

	gaussSize   int
	baseSigma   float64
	sigmaJitter float64
	gaussOnce   sync.Once
	gauss       *noise.GaussianPool
}

func (s *State) Seed() uint32 { return s.seed }

// Rand is the shared stream for this key.
func (s *State) Rand() prng.Generator { return s.rng }

// Gaussian returns the lazily built sample pool for this key.
func (s *State) Gaussian() *noise.GaussianPool {
	s.gaussOnce.Do(func() {
		g := prng.Make(s.kind, s.deriver.SubSeed(s.Key, "gaussian"))
		s.gauss = noise.NewGaussianPool(g, s.gaussSize, s.baseSigma, s.sigmaJitter)
	})
	return s.gauss
}

// DeriveSeed hashes extras onto this key for a call-scoped seed.
func (s *State) DeriveSeed(extras ...any) uint32 {
	return s.deriver.SubSeed(s.Key, extras...)
}

// Derive returns a fresh generator for one logical call. Re-entrant callers
// each get their own stream.
func (s *State) Derive(extras ...any) prng.Generator {
	return prng.Make(s.kind, s.DeriveSeed(extras...))
}

// RotateFunc is told about bucket changes. It runs outside the pool lock.
type RotateFunc func(prev, next Context)

// Pool caches States keyed by seed key for one origin and context tag.
type Pool struct {
	deriver *Deriver
	origin  string
	tag     string

	sched   schedule.Scheduler
	entropy *entropy.Source
	log     logger.Logger
	metrics *metrics.Metrics

	kind        prng.Kind
	gaussSize   int
	baseSigma   float64
	sigmaJitter float64

	checkEvery time.Duration
	microMin   time.Duration
	microMax   time.Duration

	mu        sync.Mutex
	states    map[string]*State
	ctx       Context
	primed    bool
	aux       prng.Generator
	listeners []RotateFunc
	stops     []schedule.Cancel
	microStop schedule.Cancel
	running   bool
}

type Option func(*Pool)

func WithScheduler(s schedule.Scheduler) Option {
	return func(p *Pool) { p.sched = s }
}

func WithEntropy(src *entropy.Source) Option {
	return func(p *Pool) { p.entropy = src }
}

func WithLogger(l logger.Logger) Option {
	return func(p *Pool) { p.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pool) { p.metrics = m }
}

func WithGenerator(kind prng.Kind) Option {
	return func(p *Pool) { p.kind = kind }
}

func WithGaussian(size int, baseSigma, sigmaJitter float64) Option {
	return func(p *Pool) {
		p.gaussSize = size
		p.baseSigma = baseSigma
		p.sigmaJitter = sigmaJitter
	}
}

// WithIntervals sets the rotation check period and the bounds of the
// randomized micro-reseed period.
func WithIntervals(check, microMin, microMax time.Duration) Option {
	return func(p *Pool) {
		p.checkEvery = check
		p.microMin = microMin
		p.microMax = microMax
	}
}

func NewPool(d *Deriver, origin, tag string, opts ...Option) *Pool {
	p := &Pool{
		deriver:     d,
		origin:      origin,
		tag:         tag,
		sched:       schedule.Real(),
		log:         logger.Nop(),
		kind:        prng.Default,
		gaussSize:   65536,
		baseSigma:   1e-5,
		sigmaJitter: 0.3,
		checkEvery:  30 * time.Second,
		microMin:    10 * time.Second,
		microMax:    25 * time.Second,
		states:      make(map[string]*State),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.entropy == nil {
		p.entropy = entropy.New()
	}
	if p.microMax < p.microMin {
		p.microMax = p.microMin
	}
	return p
}

func (p *Pool) Deriver() *Deriver { return p.deriver }

// Context reports the scope as of the scheduler's current time.
func (p *Pool) Context() Context {
	return p.deriver.Context(p.origin, p.tag, p.sched.Now())
}

// Key is the current seed key.
func (p *Pool) Key() string {
	return p.deriver.ComputeSeedKey(p.Context())
}

// Acquire returns the State for the current seed key, creating it on first
// demand. A bucket change observed here rotates the pool just as the
// background check would.
func (p *Pool) Acquire() *State {
	ctx := p.Context()

	p.mu.Lock()
	prev, rotated := p.observe(ctx)
	key := p.deriver.ComputeSeedKey(ctx)
	st, ok := p.states[key]
	if !ok {
		st = &State{
			Key:         key,
			Context:     ctx,
			seed:        p.deriver.Seed(ctx),
			kind:        p.kind,
			deriver:     p.deriver,
			gaussSize:   p.gaussSize,
			baseSigma:   p.baseSigma,
			sigmaJitter: p.sigmaJitter,
		}
		st.rng = prng.Make(p.kind, st.seed)
		p.states[key] = st
		p.gauge()
	}
	listeners := p.listeners
	p.mu.Unlock()

	if rotated {
		p.notify(listeners, prev, ctx)
	}
	return st
}

// Invalidate drops every cached State. States already handed out keep
// working.
func (p *Pool) Invalidate() {
	p.mu.Lock()
	p.states = make(map[string]*State)
	p.aux = nil
	p.gauge()
	p.mu.Unlock()
}

// Len counts cached States.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.states)
}

// OnRotate registers fn for bucket changes.
func (p *Pool) OnRotate(fn RotateFunc) {
	p.mu.Lock()
	p.listeners = append(p.listeners, fn)
	p.mu.Unlock()
}

// Aux returns the short-lived auxiliary generator. It is reseeded from
// fresh entropy on the micro-reseed timer and is not reproducible.
func (p *Pool) Aux() prng.Generator {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.aux == nil {
		p.aux = p.freshAux()
	}
	return p.aux
}

// Start arms the rotation check and the micro-reseed timer. Calling it on
// a running pool does nothing.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stops = append(p.stops, p.sched.Every(p.checkEvery, p.check))
	p.armMicro()
}

// Stop cancels both timers.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, cancel := range p.stops {
		cancel()
	}
	p.stops = nil
	if p.microStop != nil {
		p.microStop()
		p.microStop = nil
	}
	p.running = false
}

func (p *Pool) check() {
	ctx := p.Context()

	p.mu.Lock()
	prev, rotated := p.observe(ctx)
	listeners := p.listeners
	p.mu.Unlock()

	if rotated {
		p.notify(listeners, prev, ctx)
	}
}

// observe records ctx's bucket and evicts States from other buckets. The
// first observation only primes. Caller holds p.mu.
func (p *Pool) observe(ctx Context) (Context, bool) {
	prev := p.ctx
	if !p.primed {
		p.ctx = ctx
		p.primed = true
		return prev, false
	}
	if ctx.TimeBucket == prev.TimeBucket {
		return prev, false
	}

	p.ctx = ctx
	for key, st := range p.states {
		if st.Context.TimeBucket != ctx.TimeBucket {
			delete(p.states, key)
		}
	}
	p.gauge()
	if p.metrics != nil {
		p.metrics.SeedRotations.Inc()
	}
	p.log.Debug("seed bucket rotated",
		"origin", ctx.OriginID,
		"from", prev.TimeBucket,
		"to", ctx.TimeBucket,
	)
	return prev, true
}

func (p *Pool) notify(listeners []RotateFunc, prev, next Context) {
	for _, fn := range listeners {
		fn(prev, next)
	}
}

// armMicro schedules the next micro reseed. Caller holds p.mu.
func (p *Pool) armMicro() {
	span := p.microMax - p.microMin
	wait := p.microMin
	if span > 0 {
		wait += time.Duration(float64(span) * float64(p.entropy.Uint32()) / 4294967296.0)
	}
	p.microStop = p.sched.After(wait, p.microReseed)
}

func (p *Pool) microReseed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.aux = p.freshAux()
	if p.metrics != nil {
		p.metrics.MicroReseeds.Inc()
	}
	p.armMicro()
}

// freshAux mixes one entropy word into the current key. Caller holds p.mu.
func (p *Pool) freshAux() prng.Generator {
	key := p.deriver.ComputeSeedKey(p.Context())
	return prng.Make(p.kind, p.deriver.SubSeed(key, "aux", p.entropy.Uint32()))
}

func (p *Pool) gauge() {
	if p.metrics != nil {
		p.metrics.GeneratorStates.Set(float64(len(p.states)))
	}
}
