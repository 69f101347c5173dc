package families

import (
	"errors"

	"github.com/dop251/goja"

	"fingerprint-shield/internal/config"
	"fingerprint-shield/internal/noise"
	"fingerprint-shield/internal/patch"
	"fingerprint-shield/internal/realm"
)

// Canvas mutates a copy of every getImageData readback. toDataURL exports
// with a small centred patch mutated and then restores it. Canvases smaller
// than the configured minimum are left alone.
type Canvas struct{}

func (Canvas) Name() string { return "canvas" }

func (Canvas) Enabled(f config.FamiliesConfig) bool { return f.Canvas }

func (Canvas) Patches(r *realm.Realm) []patch.Descriptor {
	cfg := r.Config().Noise.Pixels
	tuning := noise.PixelTuning{
		BaseProbability: cfg.BaseProbability,
		MaxShiftBase:    cfg.MaxShiftBase,
		MaxShiftCap:     cfg.MaxShiftCap,
		Stride:          cfg.Stride,
		SampleCap:       cfg.SampleCap,
	}
	vm := r.VM()

	getImageData := method(func(original goja.Callable, c goja.FunctionCall) goja.Value {
		result := invoke(r, original, c.This, c.Arguments...)

		img, ok := result.(*goja.Object)
		if !ok {
			return result
		}
		width := int(img.Get("width").ToInteger())
		height := int(img.Get("height").ToInteger())
		cw, ch := canvasSize(c.This, width, height)
		if cw < cfg.MinSafeDim || ch < cfg.MinSafeDim {
			return result
		}

		state := r.Pool().Acquire()
		gen := state.Derive("getImageData",
			c.Argument(0).ToInteger(), c.Argument(1).ToInteger(),
			c.Argument(2).ToInteger(), c.Argument(3).ToInteger(),
			r.NextCall())
		if err := noise.MaybeFail(gen, cfg.FailureProbability, "InvalidStateError", "The canvas has been tainted by cross-origin data."); err != nil {
			fail(r, "canvas", err)
		}

		u8 := r.Constructor("Uint8ClampedArray")
		ctor := r.Constructor("ImageData")
		if u8 == nil || ctor == nil {
			return result
		}
		copied, err := vm.New(u8, img.Get("data"))
		if err != nil {
			return result
		}
		data, ok := copied.Export().([]byte)
		if !ok {
			return result
		}

		params := noise.Params(tuning, width, height, state.Derive("canvas-params", width, height), r.Scheduler().Now().UTC().Hour())
		noise.MutatePixels(data, gen, params)

		out, err := vm.New(ctor, copied, vm.ToValue(width), vm.ToValue(height))
		if err != nil {
			return result
		}
		return out
	})

	// captured before this family's own patches land
	ctxProto := prototype(r, "CanvasRenderingContext2D")
	canvasProto := prototype(r, "HTMLCanvasElement")
	natives := canvasNatives{
		getContext:   callable(canvasProto, "getContext"),
		getImageData: callable(ctxProto, "getImageData"),
		putImageData: callable(ctxProto, "putImageData"),
	}

	toDataURL := method(func(original goja.Callable, c goja.FunctionCall) goja.Value {
		canvas, ok := c.This.(*goja.Object)
		if !ok || !natives.ok() {
			return invoke(r, original, c.This, c.Arguments...)
		}
		width := int(canvas.Get("width").ToInteger())
		height := int(canvas.Get("height").ToInteger())
		if width < cfg.MinSafeDim || height < cfg.MinSafeDim {
			return invoke(r, original, c.This, c.Arguments...)
		}

		ctx, err := natives.getContext(canvas, vm.ToValue("2d"))
		if err != nil || goja.IsNull(ctx) {
			return invoke(r, original, c.This, c.Arguments...)
		}

		state := r.Pool().Acquire()
		gen := state.Derive("toDataURL", width, height, r.NextCall())
		pw, ph := min(cfg.PatchSize, width), min(cfg.PatchSize, height)
		x := vm.ToValue((width - pw) / 2)
		y := vm.ToValue((height - ph) / 2)

		saved, err := natives.getImageData(ctx, x, y, vm.ToValue(pw), vm.ToValue(ph))
		if err != nil {
			return invoke(r, original, c.This, c.Arguments...)
		}
		mutated, err := copyImageData(r, saved)
		if err != nil {
			return invoke(r, original, c.This, c.Arguments...)
		}
		data, ok := mutated.Get("data").Export().([]byte)
		if !ok {
			return invoke(r, original, c.This, c.Arguments...)
		}
		params := noise.Params(tuning, width, height, state.Derive("canvas-params", width, height), r.Scheduler().Now().UTC().Hour())
		noise.MutatePixels(data, gen, params)

		if _, err := natives.putImageData(ctx, mutated, x, y); err != nil {
			return invoke(r, original, c.This, c.Arguments...)
		}
		defer func() {
			if _, err := natives.putImageData(ctx, saved, x, y); err != nil {
				r.Logger().Warn("Canvas restore failed", "error", err)
			}
		}()
		return invoke(r, original, c.This, c.Arguments...)
	})

	return []patch.Descriptor{
		{Target: ctxProto, Member: "getImageData", Factory: getImageData},
		{Target: canvasProto, Member: "toDataURL", Factory: toDataURL},
	}
}

// canvasNatives are the host methods toDataURL paints through.
type canvasNatives struct {
	getContext   goja.Callable
	getImageData goja.Callable
	putImageData goja.Callable
}

func (n canvasNatives) ok() bool {
	return n.getContext != nil && n.getImageData != nil && n.putImageData != nil
}

// callable reads a method off proto, or nil.
func callable(proto *goja.Object, name string) goja.Callable {
	if proto == nil {
		return nil
	}
	fn, ok := goja.AssertFunction(proto.Get(name))
	if !ok {
		return nil
	}
	return fn
}

// copyImageData builds a new ImageData over a copy of img's pixels.
func copyImageData(r *realm.Realm, img goja.Value) (*goja.Object, error) {
	obj, ok := img.(*goja.Object)
	u8, ctor := r.Constructor("Uint8ClampedArray"), r.Constructor("ImageData")
	if !ok || u8 == nil || ctor == nil {
		return nil, errors.New("no ImageData support")
	}
	vm := r.VM()
	copied, err := vm.New(u8, obj.Get("data"))
	if err != nil {
		return nil, err
	}
	return vm.New(ctor, copied, obj.Get("width"), obj.Get("height"))
}

// canvasSize reads the backing canvas dimensions, falling back to the
// readback size when the context has no canvas.
func canvasSize(ctx goja.Value, width, height int) (int, int) {
	obj, ok := ctx.(*goja.Object)
	if !ok {
		return width, height
	}
	canvas, ok := obj.Get("canvas").(*goja.Object)
	if !ok {
		return width, height
	}
	return int(canvas.Get("width").ToInteger()), int(canvas.Get("height").ToInteger())
}
