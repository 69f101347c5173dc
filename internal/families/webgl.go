package families

import (
	"slices"

	"github.com/dop251/goja"

	"fingerprint-shield/internal/config"
	"fingerprint-shield/internal/noise"
	"fingerprint-shield/internal/patch"
	"fingerprint-shield/internal/prng"
	"fingerprint-shield/internal/realm"
)

const (
	glVendor           = 0x1F00
	glRenderer         = 0x1F01
	glUnmaskedVendor   = 0x9245
	glUnmaskedRenderer = 0x9246
)

// GPU is one spoofed vendor and renderer pair.
type GPU struct {
	Vendor   string
	Renderer string
}

// GPUs is the weighted pool WebGL reports from.
var GPUs = []noise.Weighted[GPU]{
	{Value: GPU{"Google Inc. (Intel)", "ANGLE (Intel, Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0, D3D11)"}, Weight: 0.35},
	{Value: GPU{"Google Inc. (NVIDIA)", "ANGLE (NVIDIA, NVIDIA GeForce GTX 1650 Direct3D11 vs_5_0 ps_5_0, D3D11)"}, Weight: 0.25},
	{Value: GPU{"Google Inc. (AMD)", "ANGLE (AMD, AMD Radeon(TM) Graphics Direct3D11 vs_5_0 ps_5_0, D3D11)"}, Weight: 0.2},
	{Value: GPU{"Google Inc. (Qualcomm)", "ANGLE (Qualcomm, Adreno (TM) 740, OpenGL ES 3.2)"}, Weight: 0.1},
	{Value: GPU{"Intel Inc.", "Intel Iris OpenGL Engine"}, Weight: 0.1},
}

// PickGPU is the seed-stable choice for one seed generator.
func PickGPU(g prng.Generator) GPU {
	return noise.Choose(g, GPUs, GPUs[0].Value)
}

// optionalExtensions are reported on top of the host's list, each with its
// own probability per seed key.
var optionalExtensions = []noise.Weighted[string]{
	{Value: "WEBGL_compressed_texture_s3tc", Weight: 0.8},
	{Value: "WEBGL_compressed_texture_s3tc_srgb", Weight: 0.6},
	{Value: "EXT_texture_compression_bptc", Weight: 0.5},
	{Value: "WEBGL_compressed_texture_astc", Weight: 0.2},
	{Value: "WEBGL_compressed_texture_pvrtc", Weight: 0.1},
	{Value: "KHR_parallel_shader_compile", Weight: 0.7},
}

// Extensions merges the seed's optional extensions into the host's list.
func Extensions(g prng.Generator, host []string) []string {
	seen := make(map[string]bool, len(host))
	out := make([]string, 0, len(host)+len(optionalExtensions))
	for _, ext := range host {
		if !seen[ext] {
			seen[ext] = true
			out = append(out, ext)
		}
	}
	for _, opt := range optionalExtensions {
		if g.Float64() < opt.Weight && !seen[opt.Value] {
			seen[opt.Value] = true
			out = append(out, opt.Value)
		}
	}
	slices.Sort(out)
	return out
}

// WebGL answers vendor and renderer queries from a weighted pool, stable
// for the current seed key. The extension list and shader precision
// ranges vary per key the same way.
type WebGL struct{}

func (WebGL) Name() string { return "webgl" }

func (WebGL) Enabled(f config.FamiliesConfig) bool { return f.WebGL }

func (WebGL) Patches(r *realm.Realm) []patch.Descriptor {
	vm := r.VM()
	proto := prototype(r, "WebGLRenderingContext")

	getParameter := method(func(original goja.Callable, c goja.FunctionCall) goja.Value {
		result := invoke(r, original, c.This, c.Arguments...)
		switch c.Argument(0).ToInteger() {
		case glVendor, glUnmaskedVendor:
			return vm.ToValue(gpuOf(r.Pool().Acquire()).Vendor)
		case glRenderer, glUnmaskedRenderer:
			return vm.ToValue(gpuOf(r.Pool().Acquire()).Renderer)
		}
		return result
	})

	supported := method(func(original goja.Callable, c goja.FunctionCall) goja.Value {
		result := invoke(r, original, c.This, c.Arguments...)
		var host []string
		if err := vm.ExportTo(result, &host); err != nil {
			return result
		}
		exts := Extensions(r.Pool().Acquire().Derive("webgl.extensions"), host)
		items := make([]any, len(exts))
		for i, ext := range exts {
			items[i] = ext
		}
		return vm.NewArray(items...)
	})

	precision := method(func(original goja.Callable, c goja.FunctionCall) goja.Value {
		result := invoke(r, original, c.This, c.Arguments...)
		format, ok := result.(*goja.Object)
		if !ok {
			return result
		}
		gen := r.Pool().Acquire().Derive("webgl.precision", c.Argument(0).ToInteger(), c.Argument(1).ToInteger())
		if gen.Float64() < 0.5 {
			return result
		}

		// own data properties shadow the host getters on the same prototype
		out := vm.CreateObject(format.Prototype())
		for _, k := range []string{"rangeMin", "rangeMax", "precision"} {
			v := format.Get(k)
			if k == "rangeMax" {
				v = vm.ToValue(v.ToInteger() + 1)
			}
			_ = out.DefineDataProperty(k, v, goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_TRUE)
		}
		return out
	})

	return []patch.Descriptor{
		{Target: proto, Member: "getParameter", Factory: getParameter},
		{Target: proto, Member: "getSupportedExtensions", Factory: supported},
		{Target: proto, Member: "getShaderPrecisionFormat", Factory: precision},
	}
}
