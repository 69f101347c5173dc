package families

import (
	"strings"
	"time"

	"github.com/dop251/goja"

	"fingerprint-shield/internal/config"
	"fingerprint-shield/internal/noise"
	"fingerprint-shield/internal/patch"
	"fingerprint-shield/internal/prng"
	"fingerprint-shield/internal/realm"
	"fingerprint-shield/internal/stealth"
)

// Hardware is a coherent core count and memory pair.
type Hardware struct {
	Cores  int
	Memory float64
}

var hardwareProfiles = []noise.Weighted[Hardware]{
	{Value: Hardware{Cores: 4, Memory: 4}, Weight: 0.25},
	{Value: Hardware{Cores: 4, Memory: 8}, Weight: 0.2},
	{Value: Hardware{Cores: 8, Memory: 8}, Weight: 0.35},
	{Value: Hardware{Cores: 12, Memory: 8}, Weight: 0.12},
	{Value: Hardware{Cores: 16, Memory: 8}, Weight: 0.08},
}

// Platform maps a raw navigator.platform onto the most common value for
// the same operating system.
func Platform(raw string) string {
	l := strings.ToLower(raw)
	switch {
	case strings.Contains(l, "mac"):
		return "MacIntel"
	case strings.Contains(l, "win"):
		return "Win32"
	case strings.Contains(l, "android"), strings.Contains(l, "arm"), strings.Contains(l, "aarch64"):
		return "Linux armv8l"
	case strings.Contains(l, "linux"), strings.Contains(l, "x11"):
		return "Linux x86_64"
	}
	return raw
}

// Navigator replaces identity accessors on Navigator.prototype and keeps
// the high-entropy client hints in line with them.
type Navigator struct{}

func (Navigator) Name() string { return "navigator" }

func (Navigator) Enabled(f config.FamiliesConfig) bool { return f.Navigator }

func (Navigator) Patches(r *realm.Realm) []patch.Descriptor {
	vm := r.VM()
	proto := prototype(r, "Navigator")
	hardware := func() Hardware { return hardwareOf(r.Pool().Acquire()) }

	concurrency := method(func(original goja.Callable, c goja.FunctionCall) goja.Value {
		invoke(r, original, c.This)
		return vm.ToValue(hardware().Cores)
	})
	memory := method(func(original goja.Callable, c goja.FunctionCall) goja.Value {
		invoke(r, original, c.This)
		return vm.ToValue(hardware().Memory)
	})
	platform := method(func(original goja.Callable, c goja.FunctionCall) goja.Value {
		return vm.ToValue(Platform(invoke(r, original, c.This).String()))
	})

	highEntropy := method(func(original goja.Callable, c goja.FunctionCall) goja.Value {
		result := invoke(r, original, c.This, c.Arguments...)
		promise, ok := result.Export().(*goja.Promise)
		if !ok || promise.State() != goja.PromiseStateFulfilled {
			return result
		}
		src, ok := promise.Result().(*goja.Object)
		if !ok {
			return result
		}

		state := r.Pool().Acquire()
		hints := UserAgentHintsFor(state.Derive("navigator.ua"), hostPlatform(r))
		out := vm.NewObject()
		for _, k := range src.Keys() {
			v, replaced := hints.value(k)
			if !replaced {
				_ = out.Set(k, src.Get(k))
				continue
			}
			_ = out.Set(k, v)
		}

		gen := state.Derive("getHighEntropyValues", r.NextCall())
		return r.ResolveAfter(r.Delay().Between(gen, hintLatencyMin, hintLatencyMax), func() (any, error) {
			return out, nil
		})
	})

	return []patch.Descriptor{
		{Target: proto, Member: "hardwareConcurrency", Kind: stealth.KindGetter, Factory: concurrency},
		{Target: proto, Member: "deviceMemory", Kind: stealth.KindGetter, Factory: memory},
		{Target: proto, Member: "platform", Kind: stealth.KindGetter, Factory: platform},
		{Target: prototype(r, "NavigatorUAData"), Member: "getHighEntropyValues", Factory: highEntropy},
	}
}

const (
	hintLatencyMin = time.Millisecond
	hintLatencyMax = 5 * time.Millisecond
)

// UserAgentHints are the client hints that must agree with navigator.platform.
type UserAgentHints struct {
	Platform        string
	PlatformVersion string
	Architecture    string
	Mobile          bool
}

var platformVersions = map[string][]string{
	"Windows": {"10.0.0", "15.0.0"},
	"macOS":   {"13.6.7", "14.5.0", "14.6.1"},
	"Android": {"13.0.0", "14.0.0"},
	"Linux":   {"6.5.0", "6.8.0"},
}

// UserAgentHintsFor picks hints for a navigator.platform value.
func UserAgentHintsFor(g prng.Generator, platform string) UserAgentHints {
	var h UserAgentHints
	switch DetectOS(Platform(platform)) {
	case "windows":
		h = UserAgentHints{Platform: "Windows", Architecture: "x86"}
	case "macos":
		h = UserAgentHints{Platform: "macOS", Architecture: "arm"}
	case "android":
		h = UserAgentHints{Platform: "Android", Architecture: "arm", Mobile: true}
	default:
		h = UserAgentHints{Platform: "Linux", Architecture: "x86"}
	}
	h.PlatformVersion = noise.Pick(g, platformVersions[h.Platform], "")
	return h
}

func (h UserAgentHints) value(key string) (any, bool) {
	switch key {
	case "platform":
		return h.Platform, true
	case "platformVersion":
		return h.PlatformVersion, true
	case "architecture":
		return h.Architecture, true
	case "mobile":
		return h.Mobile, true
	case "bitness":
		return "64", true
	case "model":
		return "", true
	case "wow64":
		return false, true
	}
	return nil, false
}
