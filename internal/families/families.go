// Package families holds the per-API patches built on the engine. Each
// family describes its substitutions as patch descriptors so the realm's
// single installer applies them.
package families

import (
	"github.com/dop251/goja"

	"fingerprint-shield/internal/config"
	"fingerprint-shield/internal/patch"
	"fingerprint-shield/internal/realm"
)

// Family is one group of related patches.
type Family interface {
	Name() string
	Enabled(config.FamiliesConfig) bool
	Patches(r *realm.Realm) []patch.Descriptor
}

// Report is the outcome of one substitution.
type Report struct {
	Family  string
	Member  string
	Outcome patch.Outcome
}

// All returns every family in install order.
func All() []Family {
	return []Family{
		Canvas{},
		Audio{},
		Timing{},
		WebGL{},
		WebGPU{},
		Navigator{},
		Battery{},
		MediaDevices{Labels: true},
	}
}

// Install applies the enabled families to r. With no families given it
// uses All.
func Install(r *realm.Realm, fams ...Family) []Report {
	if len(fams) == 0 {
		fams = All()
	}
	enabled := r.Config().Families

	var reports []Report
	for _, f := range fams {
		if !f.Enabled(enabled) {
			r.Logger().Debug("Family disabled", "family", f.Name())
			continue
		}
		descs := f.Patches(r)
		for n, out := range r.Installer().InstallAll(descs) {
			reports = append(reports, Report{Family: f.Name(), Member: descs[n].Member, Outcome: out})
		}
	}
	return reports
}

// prototype returns ctor.prototype, or nil when the host lacks ctor.
func prototype(r *realm.Realm, ctor string) *goja.Object {
	v := r.Constructor(ctor)
	if v == nil {
		return nil
	}
	obj, ok := v.ToObject(r.VM()).Get("prototype").(*goja.Object)
	if !ok {
		return nil
	}
	return obj
}

// global returns a global object, or nil.
func global(r *realm.Realm, name string) *goja.Object {
	obj, ok := r.VM().Get(name).(*goja.Object)
	if !ok {
		return nil
	}
	return obj
}

// method adapts a wrapper body to a factory that needs a callable original.
func method(body func(original goja.Callable, c goja.FunctionCall) goja.Value) patch.Factory {
	return func(original goja.Value) any {
		call, ok := goja.AssertFunction(original)
		if !ok {
			return nil
		}
		return func(c goja.FunctionCall) goja.Value {
			return body(call, c)
		}
	}
}

// invoke calls the original and rethrows whatever it threw.
func invoke(r *realm.Realm, original goja.Callable, this goja.Value, args ...goja.Value) goja.Value {
	v, err := original(this, args...)
	if err != nil {
		r.Disguiser().Throw(err)
	}
	return v
}

func fail(r *realm.Realm, family string, err error) {
	r.Metrics().SimulatedFailures.WithLabelValues(family).Inc()
	r.Logger().Debug("Simulated hardware failure", "family", family, "error", err)
	r.Throw(err)
}
