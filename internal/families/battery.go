package families

import (
	"math"
	"sync"

	"github.com/dop251/goja"

	"fingerprint-shield/internal/config"
	"fingerprint-shield/internal/noise"
	"fingerprint-shield/internal/patch"
	"fingerprint-shield/internal/prng"
	"fingerprint-shield/internal/realm"
	"fingerprint-shield/internal/stealth"
)

// BatteryState is the spoofed battery. Level drifts on every tick.
type BatteryState struct {
	mu       sync.Mutex
	level    float64
	charging bool
}

// NewBatteryState draws a starting level in [0.2, 0.9] and a charging flag.
func NewBatteryState(g prng.Generator) *BatteryState {
	return &BatteryState{
		charging: g.Float64() > 0.5,
		level:    prng.Between(g, 0.2, 0.9),
	}
}

// Tick drifts the level by at most step and rarely toggles charging.
func (b *BatteryState) Tick(g prng.Generator, step float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if g.Float64() < 0.01 {
		b.charging = !b.charging
	}
	b.level = noise.Drift(g, b.level, step, 0.01, 1)
}

// Level is rounded to two decimals like real hardware reports.
func (b *BatteryState) Level() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return math.Round(b.level*100) / 100
}

func (b *BatteryState) Charging() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.charging
}

// Times returns chargingTime and dischargingTime in seconds.
func (b *BatteryState) Times() (float64, float64) {
	level, charging := b.Level(), b.Charging()
	if charging {
		return math.Floor((1 - level) * 3600), math.Inf(1)
	}
	return 0, math.Floor(level * 3600)
}

// Battery spoofs BatteryManager readings.
type Battery struct{}

func (Battery) Name() string { return "battery" }

func (Battery) Enabled(f config.FamiliesConfig) bool { return f.Battery }

func (Battery) Patches(r *realm.Realm) []patch.Descriptor {
	proto := prototype(r, "BatteryManager")
	if proto == nil {
		return nil
	}
	vm := r.VM()
	cfg := r.Config().Noise.Drift

	state := NewBatteryState(r.Pool().Acquire().Derive("battery"))
	drift := sync.OnceFunc(func() {
		r.Every(cfg.BatteryTick, func() { state.Tick(r.Pool().Aux(), cfg.BatteryStep) })
	})

	// the drift ticker starts once something is actually installed
	getter := func(read func() any) patch.Factory {
		inner := method(func(original goja.Callable, c goja.FunctionCall) goja.Value {
			invoke(r, original, c.This)
			return vm.ToValue(read())
		})
		return func(original goja.Value) any {
			impl := inner(original)
			if impl != nil {
				drift()
			}
			return impl
		}
	}

	return []patch.Descriptor{
		{Target: proto, Member: "level", Kind: stealth.KindGetter, Factory: getter(func() any { return state.Level() })},
		{Target: proto, Member: "charging", Kind: stealth.KindGetter, Factory: getter(func() any { return state.Charging() })},
		{Target: proto, Member: "chargingTime", Kind: stealth.KindGetter, Factory: getter(func() any {
			charging, _ := state.Times()
			return charging
		})},
		{Target: proto, Member: "dischargingTime", Kind: stealth.KindGetter, Factory: getter(func() any {
			_, discharging := state.Times()
			return discharging
		})},
	}
}
