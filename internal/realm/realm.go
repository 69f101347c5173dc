// Package realm binds one goja runtime to everything a stealth patch needs:
// the origin it runs under, its seed pool, the runtime's disguiser and
// installer, and a single-goroutine job queue that scheduler callbacks use
// to get back onto the runtime.
package realm

import (
	_ "embed"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dop251/goja"

	"fingerprint-shield/internal/config"
	"fingerprint-shield/internal/entropy"
	"fingerprint-shield/internal/metrics"
	"fingerprint-shield/internal/noise"
	"fingerprint-shield/internal/patch"
	"fingerprint-shield/internal/prng"
	"fingerprint-shield/internal/schedule"
	"fingerprint-shield/internal/seed"
	"fingerprint-shield/internal/stealth"
	"fingerprint-shield/internal/storage"
	"fingerprint-shield/pkg/logger"
)

//go:embed host.js
var hostSource string

type Realm struct {
	vm      *goja.Runtime
	cfg     *config.Config
	origin  string
	tag     string
	quality entropy.Quality

	sched   schedule.Scheduler
	log     logger.Logger
	metrics *metrics.Metrics
	entropy *entropy.Source
	store   storage.Store

	pool      *seed.Pool
	disguiser *stealth.Disguiser
	installer *patch.Installer
	delay     stealth.Delay

	host  bool
	calls atomic.Uint64

	mu      sync.Mutex
	jobs    []func()
	pending int
	wake    chan struct{}
	cancels []schedule.Cancel
	closed  bool
}

type Option func(*Realm)

// WithRuntime binds an existing runtime instead of a fresh one. The host
// surface is not installed into it unless WithHost is also given.
func WithRuntime(vm *goja.Runtime) Option {
	return func(r *Realm) {
		r.vm = vm
		r.host = false
	}
}

// WithHost controls whether the simulated browser surface is evaluated
// into the runtime.
func WithHost(enabled bool) Option {
	return func(r *Realm) { r.host = enabled }
}

func WithConfig(cfg *config.Config) Option {
	return func(r *Realm) { r.cfg = cfg }
}

func WithScheduler(s schedule.Scheduler) Option {
	return func(r *Realm) { r.sched = s }
}

func WithLogger(l logger.Logger) Option {
	return func(r *Realm) { r.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Realm) { r.metrics = m }
}

func WithEntropy(src *entropy.Source) Option {
	return func(r *Realm) { r.entropy = src }
}

func WithStore(s storage.Store) Option {
	return func(r *Realm) { r.store = s }
}

// WithTag pins the context tag, making every seed reproducible across
// processes.
func WithTag(tag string) Option {
	return func(r *Realm) { r.tag = tag }
}

// New creates a realm for origin. An empty origin falls back to the
// configured sentinel.
func New(origin string, opts ...Option) (*Realm, error) {
	r := &Realm{
		origin: origin,
		host:   true,
		wake:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.cfg == nil {
		r.cfg = config.Default()
	}
	if r.vm == nil {
		r.vm = goja.New()
	}
	if r.sched == nil {
		r.sched = schedule.Real()
	}
	if r.log == nil {
		r.log = logger.Nop()
	}
	if r.metrics == nil {
		r.metrics = metrics.New()
	}
	if r.entropy == nil {
		var eopts []entropy.Option
		if r.cfg.Seed.StrictEntropy {
			eopts = append(eopts, entropy.Strict())
		}
		r.entropy = entropy.New(eopts...)
	}
	if r.store == nil {
		r.store = storage.NewMemory(r.cfg.Storage.TTL, r.sched)
	}
	r.store = storage.Instrument(r.store, r.metrics)
	if r.origin == "" {
		r.origin = r.cfg.Seed.FallbackOriginMarker
	}

	if r.tag == "" {
		tag, q, err := r.entropy.Tag()
		if err != nil {
			return nil, fmt.Errorf("context tag: %w", err)
		}
		r.tag, r.quality = tag, q
		if q == entropy.Weak {
			r.metrics.WeakEntropy.Inc()
			r.log.Warn("Context tag drawn from weak entropy", "origin", r.origin)
		}
	} else {
		r.quality = entropy.Strong
	}

	if r.host {
		if _, err := r.vm.RunString(hostSource); err != nil {
			return nil, fmt.Errorf("install host surface: %w", err)
		}
	}

	r.log = r.log.With("origin", r.origin)

	kind, err := prng.ParseKind(r.cfg.Seed.Generator)
	if err != nil {
		return nil, fmt.Errorf("seed generator: %w", err)
	}

	deriver := seed.NewDeriver(r.cfg.Seed.Salt, r.cfg.Seed.RotationWindow, r.cfg.Seed.FallbackOriginMarker)
	r.pool = seed.NewPool(deriver, r.origin, r.tag,
		seed.WithScheduler(r.sched),
		seed.WithEntropy(r.entropy),
		seed.WithLogger(r.log),
		seed.WithMetrics(r.metrics),
		seed.WithGenerator(kind),
		seed.WithGaussian(r.cfg.Noise.Audio.PoolSize, r.cfg.Noise.Audio.BaseSigma, r.cfg.Noise.Audio.SigmaJitter),
		seed.WithIntervals(r.cfg.Seed.RotationCheck, r.cfg.Seed.MicroReseedMin, r.cfg.Seed.MicroReseedMax),
	)

	r.disguiser = stealth.New(r.vm, r.log)
	if err := r.disguiser.InstallInterceptor(); err != nil {
		return nil, fmt.Errorf("install interceptor: %w", err)
	}
	r.installer = patch.New(r.disguiser, patch.WithLogger(r.log), patch.WithMetrics(r.metrics))
	r.delay = stealth.Delay{Min: r.cfg.Delay.Min, Max: r.cfg.Delay.Max, Cap: r.cfg.Delay.Cap}

	if err := r.installTimers(); err != nil {
		return nil, err
	}

	r.pool.Start()
	r.log.Debug("Realm created", "seed_key", r.pool.Key(), "entropy", r.quality.String())
	return r, nil
}

func (r *Realm) VM() *goja.Runtime             { return r.vm }
func (r *Realm) Config() *config.Config        { return r.cfg }
func (r *Realm) Origin() string                { return r.origin }
func (r *Realm) Tag() string                   { return r.tag }
func (r *Realm) Quality() entropy.Quality      { return r.quality }
func (r *Realm) Scheduler() schedule.Scheduler { return r.sched }
func (r *Realm) Logger() logger.Logger         { return r.log }
func (r *Realm) Metrics() *metrics.Metrics     { return r.metrics }
func (r *Realm) Store() storage.Store          { return r.store }
func (r *Realm) Pool() *seed.Pool              { return r.pool }
func (r *Realm) Disguiser() *stealth.Disguiser { return r.disguiser }
func (r *Realm) Installer() *patch.Installer   { return r.installer }
func (r *Realm) Delay() stealth.Delay          { return r.delay }

// NextCall numbers wrapper invocations so each call derives its own seed.
func (r *Realm) NextCall() uint64 {
	return r.calls.Add(1)
}

// Native disguises a Go function as a fresh built-in with no original.
func (r *Realm) Native(name string, length int, fn func(goja.FunctionCall) goja.Value) (*goja.Object, error) {
	return r.disguiser.Disguise(fn, name, stealth.Options{Length: length})
}

// Constructor looks up a global constructor, or nil if the runtime has none.
func (r *Realm) Constructor(name string) goja.Value {
	v := r.vm.Get(name)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if _, ok := goja.AssertConstructor(v); !ok {
		return nil
	}
	return v
}

// ErrorValue converts err into what a page would see. A simulated hardware
// failure becomes a DOMException with the matching name.
func (r *Realm) ErrorValue(err error) goja.Value {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		return ex.Value()
	}
	var hw *noise.HardwareError
	if errors.As(err, &hw) {
		if ctor := r.Constructor("DOMException"); ctor != nil {
			if obj, cerr := r.vm.New(ctor, r.vm.ToValue(hw.Message), r.vm.ToValue(hw.Name)); cerr == nil {
				return obj
			}
		}
		e := r.vm.NewGoError(err)
		_ = e.Set("name", hw.Name)
		_ = e.Set("message", hw.Message)
		return e
	}
	return r.vm.NewGoError(err)
}

// Throw raises err in the running script.
func (r *Realm) Throw(err error) {
	panic(r.ErrorValue(err))
}

// Every runs fn on the realm's goroutine at each tick until Close. Ticks
// that arrive while a previous one is still queued are coalesced.
func (r *Realm) Every(d time.Duration, fn func()) {
	var queued atomic.Bool
	cancel := r.sched.Every(d, func() {
		if !queued.CompareAndSwap(false, true) {
			return
		}
		r.Enqueue(func() {
			queued.Store(false)
			fn()
		})
	})
	r.mu.Lock()
	r.cancels = append(r.cancels, cancel)
	r.mu.Unlock()
}

// Close stops rotation timers and periodic jobs. Queued jobs are dropped.
func (r *Realm) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	cancels := r.cancels
	r.cancels = nil
	r.jobs = nil
	r.pending = 0
	r.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	r.pool.Stop()
	r.signal()
}
