package families

import (
	"time"

	"github.com/dop251/goja"

	"fingerprint-shield/internal/config"
	"fingerprint-shield/internal/noise"
	"fingerprint-shield/internal/patch"
	"fingerprint-shield/internal/realm"
)

const (
	decodeLatencyMin = time.Millisecond
	decodeLatencyMax = 8 * time.Millisecond
)

// Audio adds Gaussian pool noise to channel data. getChannelData returns a
// noisy copy; copyFromChannel adds noise into the caller's destination.
// decodeAudioData settles after a short seeded latency.
type Audio struct{}

func (Audio) Name() string { return "audio" }

func (Audio) Enabled(f config.FamiliesConfig) bool { return f.Audio }

func (Audio) Patches(r *realm.Realm) []patch.Descriptor {
	cfg := r.Config().Noise.Audio
	vm := r.VM()
	proto := prototype(r, "AudioBuffer")

	getChannelData := method(func(original goja.Callable, c goja.FunctionCall) goja.Value {
		result := invoke(r, original, c.This, c.Arguments...)

		f32 := r.Constructor("Float32Array")
		if f32 == nil {
			return result
		}
		copied, err := vm.New(f32, result)
		if err != nil {
			return result
		}
		samples, ok := copied.Export().([]float32)
		if !ok {
			return result
		}

		state := r.Pool().Acquire()
		state.Gaussian().AddInto(samples)

		gen := state.Derive("getChannelData", c.Argument(0).ToInteger(), r.NextCall())
		if err := noise.MaybeFail(gen, cfg.FailureProbability, "InvalidStateError", "Audio buffer error"); err != nil {
			fail(r, "audio", err)
		}
		return copied
	})

	copyFromChannel := method(func(original goja.Callable, c goja.FunctionCall) goja.Value {
		result := invoke(r, original, c.This, c.Arguments...)

		dst, ok := c.Argument(0).Export().([]float32)
		if !ok {
			return result
		}
		r.Pool().Acquire().Gaussian().AddInto(dst)
		return result
	})

	decode := method(func(original goja.Callable, c goja.FunctionCall) goja.Value {
		result := invoke(r, original, c.This, c.Arguments...)
		gen := r.Pool().Acquire().Derive("decodeAudioData", r.NextCall())
		return r.ResolveAfter(r.Delay().Between(gen, decodeLatencyMin, decodeLatencyMax), func() (any, error) {
			return result, nil
		})
	})

	return []patch.Descriptor{
		{Target: proto, Member: "getChannelData", Factory: getChannelData},
		{Target: proto, Member: "copyFromChannel", Factory: copyFromChannel},
		{Target: prototype(r, "BaseAudioContext"), Member: "decodeAudioData", Factory: decode},
	}
}
