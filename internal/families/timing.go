package families

import (
	"math"
	"sync"

	"github.com/dop251/goja"

	"fingerprint-shield/internal/config"
	"fingerprint-shield/internal/noise"
	"fingerprint-shield/internal/patch"
	"fingerprint-shield/internal/realm"
)

// Timing blurs the clocks a page can read. performance.now gets symmetric
// jitter and Date.now a per-seed skew, neither ever running backwards.
// Timer delays get a multimodal jitter.
type Timing struct{}

func (Timing) Name() string { return "timing" }

func (Timing) Enabled(f config.FamiliesConfig) bool { return f.Timing }

func (Timing) Patches(r *realm.Realm) []patch.Descriptor {
	cfg := r.Config().Noise.Timing
	vm := r.VM()

	var (
		mu   sync.Mutex
		last float64
	)
	now := method(func(original goja.Callable, c goja.FunctionCall) goja.Value {
		v := invoke(r, original, c.This, c.Arguments...).ToFloat()
		v += noise.Symmetric(r.Pool().Acquire().Rand(), cfg.JitterMaxMs)

		mu.Lock()
		if v < last {
			v = last
		}
		last = v
		mu.Unlock()
		return vm.ToValue(v)
	})

	// the skew is redrawn on rotation, so Date.now is clamped like
	// performance.now
	var lastDate int64
	dateNow := method(func(original goja.Callable, c goja.FunctionCall) goja.Value {
		v := invoke(r, original, c.This, c.Arguments...).ToInteger()
		v += dateSkew(r.Pool().Acquire(), cfg.DateSkewMaxMs)

		mu.Lock()
		if v < lastDate {
			v = lastDate
		}
		lastDate = v
		mu.Unlock()
		return vm.ToValue(v)
	})

	mixture := noise.NewMultimodal(cfg.JitterMaxMs*4, noise.DefaultTimingModes(cfg.JitterMaxMs*4)...)
	setTimeout := method(func(original goja.Callable, c goja.FunctionCall) goja.Value {
		args := append([]goja.Value(nil), c.Arguments...)
		if len(args) > 1 {
			delay := args[1].ToFloat() + mixture.Sample(r.Pool().Acquire().Rand())
			args[1] = vm.ToValue(math.Max(0, delay))
		}
		return invoke(r, original, c.This, args...)
	})

	var date *goja.Object
	if ctor := r.Constructor("Date"); ctor != nil {
		date = ctor.ToObject(vm)
	}

	return []patch.Descriptor{
		{Target: prototype(r, "Performance"), Member: "now", Factory: now},
		{Target: date, Member: "now", Factory: dateNow},
		{Target: vm.GlobalObject(), Member: "setTimeout", Factory: setTimeout},
	}
}
