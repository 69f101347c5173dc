// Package patch swaps members of host objects for disguised wrappers. It
// never raises into page code: every refusal is an expected outcome that is
// counted and, at most, logged at debug level.
package patch

import (
	"runtime"
	"sync"
	"time"
	"weak"

	"github.com/dop251/goja"
	"golang.org/x/time/rate"

	"fingerprint-shield/internal/metrics"
	"fingerprint-shield/internal/stealth"
	"fingerprint-shield/pkg/logger"
)

// Factory builds the replacement from the current member, which is nil
// when the member does not exist. Returning nil skips the patch.
type Factory func(original goja.Value) any

// Descriptor is one substitution.
type Descriptor struct {
	Target *goja.Object
	Member string
	Kind   stealth.Kind
	// Getter factories receive the current getter; Method factories the
	// current value.
	Factory Factory
	// Optional installs even when the member is absent.
	Optional bool
}

// Outcome reports what Install did.
type Outcome int

const (
	Installed Outcome = iota
	SkippedAbsent
	SkippedAlreadyPatched
	SkippedNonConfigurable
	SkippedFactory
	SkippedDefine
)

// String is "installed" or the metrics skip reason.
func (o Outcome) String() string {
	switch o {
	case Installed:
		return "installed"
	case SkippedAbsent:
		return metrics.ReasonAbsent
	case SkippedAlreadyPatched:
		return metrics.ReasonAlreadyPatched
	case SkippedNonConfigurable:
		return metrics.ReasonNonConfigurable
	case SkippedFactory:
		return metrics.ReasonFactoryFailed
	case SkippedDefine:
		return metrics.ReasonDefineFailed
	}
	return ""
}

type slot struct {
	target weak.Pointer[goja.Object]
	member string
}

// Installer is the single registry of applied patches for one runtime.
type Installer struct {
	disguiser *stealth.Disguiser
	log       logger.Logger
	metrics   *metrics.Metrics
	sometimes rate.Sometimes

	mu      sync.Mutex
	applied map[slot]struct{}
}

type Option func(*Installer)

func WithLogger(l logger.Logger) Option {
	return func(i *Installer) { i.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Installer) { i.metrics = m }
}

func New(d *stealth.Disguiser, opts ...Option) *Installer {
	i := &Installer{
		disguiser: d,
		log:       logger.Nop(),
		sometimes: rate.Sometimes{First: 10, Interval: time.Minute},
		applied:   make(map[slot]struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Installed reports whether member of target has been patched by this
// installer.
func (i *Installer) Installed(target *goja.Object, member string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.applied[slot{target: weak.Make(target), member: member}]
	return ok
}

// Install applies one descriptor. It is safe to repeat.
func (i *Installer) Install(desc Descriptor) Outcome {
	out := i.install(desc)
	if i.metrics != nil {
		if out == Installed {
			i.metrics.PatchesInstalled.WithLabelValues(desc.Member).Inc()
		} else {
			i.metrics.PatchesSkipped.WithLabelValues(out.String()).Inc()
		}
	}
	return out
}

// InstallAll applies descriptors in order and returns one outcome each.
// A refusal never stops the remaining descriptors.
func (i *Installer) InstallAll(descs []Descriptor) []Outcome {
	out := make([]Outcome, len(descs))
	for n, desc := range descs {
		out[n] = i.Install(desc)
	}
	return out
}

func (i *Installer) install(desc Descriptor) (out Outcome) {
	if desc.Target == nil || desc.Factory == nil {
		return SkippedAbsent
	}
	key := slot{target: weak.Make(desc.Target), member: desc.Member}

	i.mu.Lock()
	_, done := i.applied[key]
	i.mu.Unlock()
	if done {
		return SkippedAlreadyPatched
	}

	defer func() {
		// a factory or a host hook may throw; the page never sees it
		if r := recover(); r != nil {
			i.debug("patch panicked", desc.Member, r)
			out = SkippedFactory
		}
	}()

	current, exists, err := i.disguiser.Descriptor(desc.Target, desc.Member)
	if err != nil {
		i.debug("descriptor unreadable", desc.Member, err)
		return SkippedAbsent
	}
	if !exists && !desc.Optional {
		return SkippedAbsent
	}
	if exists && !current.Configurable {
		return SkippedNonConfigurable
	}

	var original goja.Value
	if exists {
		original = current.Value
		if desc.Kind != stealth.KindMethod {
			original = current.Get
			if desc.Kind == stealth.KindSetter {
				original = current.Set
			}
		}
		if original != nil && goja.IsUndefined(original) {
			original = nil
		}
	}
	if rec := i.disguiser.Lookup(original); rec != nil && rec.Installed() {
		return SkippedAlreadyPatched
	}

	impl := desc.Factory(original)
	if impl == nil {
		return SkippedFactory
	}
	wrapper, err := i.disguiser.Disguise(impl, desc.Member, stealth.Options{
		Original: original,
		Kind:     desc.Kind,
	})
	if err != nil {
		i.debug("disguise failed", desc.Member, err)
		return SkippedFactory
	}

	if err := i.define(desc, current, exists, wrapper); err != nil {
		i.debug("redefinition refused", desc.Member, err)
		return SkippedDefine
	}

	i.disguiser.MarkInstalled(wrapper)
	i.mu.Lock()
	i.applied[key] = struct{}{}
	i.mu.Unlock()
	runtime.AddCleanup(desc.Target, i.forget, key)
	return Installed
}

// define writes the wrapper back with the existing flags, defaulting to
// non-enumerable, configurable and writable for new members.
func (i *Installer) define(desc Descriptor, current stealth.Descriptor, exists bool, wrapper *goja.Object) error {
	configurable := goja.FLAG_TRUE
	enumerable := goja.FLAG_FALSE
	writable := goja.FLAG_TRUE
	if exists {
		enumerable = flag(current.Enumerable)
		if !current.Accessor {
			writable = flag(current.Writable)
		}
	}

	switch desc.Kind {
	case stealth.KindGetter:
		var setter goja.Value
		if exists && current.Accessor {
			setter = current.Set
		}
		return desc.Target.DefineAccessorProperty(desc.Member, wrapper, setter, configurable, enumerable)
	case stealth.KindSetter:
		var getter goja.Value
		if exists && current.Accessor {
			getter = current.Get
		}
		return desc.Target.DefineAccessorProperty(desc.Member, getter, wrapper, configurable, enumerable)
	}
	return desc.Target.DefineDataProperty(desc.Member, wrapper, writable, configurable, enumerable)
}

func (i *Installer) forget(key slot) {
	i.mu.Lock()
	delete(i.applied, key)
	i.mu.Unlock()
}

func (i *Installer) debug(msg, member string, cause any) {
	i.sometimes.Do(func() {
		i.log.Debug(msg, "member", member, "cause", cause)
	})
}

func flag(b bool) goja.Flag {
	if b {
		return goja.FLAG_TRUE
	}
	return goja.FLAG_FALSE
}
