package families

import (
	"math/rand/v2"
	"strings"
	"time"

	"github.com/dop251/goja"

	"fingerprint-shield/internal/config"
	"fingerprint-shield/internal/patch"
	"fingerprint-shield/internal/prng"
	"fingerprint-shield/internal/realm"
	"fingerprint-shield/internal/seed"
	"fingerprint-shield/internal/stealth"
)

const (
	adapterLatencyMin = 2 * time.Millisecond
	adapterLatencyMax = 10 * time.Millisecond
)

// Adapter is the GPUAdapterInfo a seed presents.
type Adapter struct {
	Vendor       string
	Architecture string
}

var architectures = map[string][]string{
	"intel":    {"gen-9", "gen-12lp", "xe"},
	"nvidia":   {"turing", "ampere", "lovelace"},
	"amd":      {"gcn-5", "rdna-2", "rdna-3"},
	"qualcomm": {"adreno-6xx", "adreno-7xx"},
}

// adapterVendor maps a WebGL vendor string onto the lowercase vendor
// WebGPU reports for the same hardware.
func adapterVendor(gpu GPU) string {
	l := strings.ToLower(gpu.Vendor + " " + gpu.Renderer)
	for _, v := range []string{"nvidia", "amd", "qualcomm", "intel"} {
		if strings.Contains(l, v) {
			return v
		}
	}
	return ""
}

// PickAdapter draws the architecture for gpu from rnd.
func PickAdapter(gpu GPU, rnd *rand.Rand) Adapter {
	vendor := adapterVendor(gpu)
	archs := architectures[vendor]
	if len(archs) == 0 {
		return Adapter{Vendor: vendor}
	}
	return Adapter{Vendor: vendor, Architecture: archs[rnd.IntN(len(archs))]}
}

// sfc32 derives an SFC32 stream from s whatever generator the pool uses.
func sfc32(s *seed.State, extras ...any) prng.Generator {
	return prng.Make(prng.KindSFC32, s.DeriveSeed(extras...))
}

func adapterOf(s *seed.State) Adapter {
	return PickAdapter(gpuOf(s), rand.New(prng.Source(sfc32(s, "webgpu"))))
}

// WebGPU reports a hardware adapter whose info agrees with the WebGL
// renderer, and adds a short seeded delay to adapter requests.
type WebGPU struct{}

func (WebGPU) Name() string { return "webgpu" }

func (WebGPU) Enabled(f config.FamiliesConfig) bool { return f.WebGPU }

func (WebGPU) Patches(r *realm.Realm) []patch.Descriptor {
	vm := r.VM()
	info := prototype(r, "GPUAdapterInfo")

	field := func(pick func(Adapter) string) patch.Factory {
		return method(func(original goja.Callable, c goja.FunctionCall) goja.Value {
			invoke(r, original, c.This)
			return vm.ToValue(pick(adapterOf(r.Pool().Acquire())))
		})
	}

	requestAdapter := method(func(original goja.Callable, c goja.FunctionCall) goja.Value {
		result := invoke(r, original, c.This, c.Arguments...)
		gen := sfc32(r.Pool().Acquire(), "requestAdapter", r.NextCall())
		// resolving with the host promise adopts its outcome
		return r.ResolveAfter(r.Delay().Between(gen, adapterLatencyMin, adapterLatencyMax), func() (any, error) {
			return result, nil
		})
	})

	fallback := method(func(original goja.Callable, c goja.FunctionCall) goja.Value {
		invoke(r, original, c.This)
		return vm.ToValue(false)
	})

	return []patch.Descriptor{
		{Target: prototype(r, "GPU"), Member: "requestAdapter", Factory: requestAdapter},
		{Target: prototype(r, "GPUAdapter"), Member: "isFallbackAdapter", Kind: stealth.KindGetter, Factory: fallback},
		{Target: info, Member: "vendor", Kind: stealth.KindGetter, Factory: field(func(a Adapter) string { return a.Vendor })},
		{Target: info, Member: "architecture", Kind: stealth.KindGetter, Factory: field(func(a Adapter) string { return a.Architecture })},
		{Target: info, Member: "device", Kind: stealth.KindGetter, Factory: field(func(Adapter) string { return "" })},
		{Target: info, Member: "description", Kind: stealth.KindGetter, Factory: field(func(Adapter) string { return "" })},
	}
}
