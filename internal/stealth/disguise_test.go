package stealth

import (
	"testing"
	"time"

	"github.com/dop251/goja"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fingerprint-shield/internal/prng"
)

func setup(t *testing.T) (*goja.Runtime, *Disguiser) {
	t.Helper()
	vm := goja.New()
	d := New(vm, nil)
	require.NoError(t, d.InstallInterceptor())
	return vm, d
}

func run(t *testing.T, vm *goja.Runtime, src string) goja.Value {
	t.Helper()
	v, err := vm.RunString(src)
	require.NoError(t, err)
	return v
}

func jsFunc(t *testing.T, vm *goja.Runtime, src string) *goja.Object {
	t.Helper()
	return run(t, vm, "("+src+")").(*goja.Object)
}

func TestStringifiedWrapperIsPlaceholder(t *testing.T) {
	vm, d := setup(t)
	impl := jsFunc(t, vm, `function patchedGetImageData(x, y, w, h) { return "secret-body" }`)

	wrapped, err := d.Disguise(impl, "getImageData", Options{Original: impl})
	require.NoError(t, err)
	require.NoError(t, vm.Set("wrapped", wrapped))

	want := "function getImageData() { [native code] }"
	assert.Equal(t, want, run(t, vm, `String(wrapped)`).String())
	assert.Equal(t, want, run(t, vm, `Function.prototype.toString.call(wrapped)`).String())
	assert.Equal(t, want, run(t, vm, `wrapped.toString()`).String())
	assert.NotContains(t, run(t, vm, `"" + wrapped`).String(), "secret-body")
}

func TestWrapperForwardsCallsAndErrors(t *testing.T) {
	vm, d := setup(t)
	add := jsFunc(t, vm, `function (a, b) { if (a < 0) throw new RangeError("boom"); return a + b + (this && this.bias || 0) }`)

	wrapped, err := d.Disguise(add, "add", Options{Original: add})
	require.NoError(t, err)
	require.NoError(t, vm.Set("add", wrapped))

	assert.Equal(t, int64(5), run(t, vm, `add(2, 3)`).ToInteger())
	assert.Equal(t, int64(15), run(t, vm, `add.call({bias: 10}, 2, 3)`).ToInteger())
	assert.True(t, run(t, vm, `
		(function () {
			try { add(-1, 0); return false }
			catch (e) { return e instanceof RangeError && e.message === "boom" }
		})()
	`).ToBoolean())
}

func TestGoImplementationAndThrow(t *testing.T) {
	vm, d := setup(t)
	wrapped, err := d.Disguise(func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) == 0 {
			panic(vm.NewTypeError("Failed to execute 'now': 0 arguments"))
		}
		return vm.ToValue(call.Argument(0).ToInteger() * 2)
	}, "double", Options{Length: 1})
	require.NoError(t, err)
	require.NoError(t, vm.Set("double", wrapped))

	assert.Equal(t, int64(8), run(t, vm, `double(4)`).ToInteger())
	assert.True(t, run(t, vm, `(function(){ try { double() } catch (e) { return e instanceof TypeError } return false })()`).ToBoolean())
	assert.Equal(t, int64(1), run(t, vm, `double.length`).ToInteger())
}

func TestReflectionSurfaceMatchesNativeTemplate(t *testing.T) {
	vm, d := setup(t)
	impl := jsFunc(t, vm, `function evil(a, b, c, d) { return 1 }`)
	impl.Set("marker", true)

	wrapped, err := d.Disguise(impl, "getImageData", Options{Original: impl})
	require.NoError(t, err)

	surface, err := d.Inspect(wrapped)
	require.NoError(t, err)
	assert.True(t, surface.LooksNative("getImageData", 4), "%+v", surface)
	assert.ElementsMatch(t, []string{"length", "name"}, surface.OwnKeys)

	require.NoError(t, vm.Set("wrapped", wrapped))
	assert.Equal(t, int64(0), run(t, vm, `Object.keys(wrapped).length`).ToInteger())
	assert.Equal(t, int64(0), run(t, vm, `Object.getOwnPropertySymbols(wrapped).length`).ToInteger())
	assert.Equal(t, "length,name", run(t, vm, `Object.getOwnPropertyNames(wrapped).sort().join()`).String())
	assert.True(t, run(t, vm, `(function(){ var d = Object.getOwnPropertyDescriptor(wrapped, "name"); return !d.writable && !d.enumerable && d.configurable })()`).ToBoolean())
	assert.True(t, run(t, vm, `Object.getPrototypeOf(wrapped) === Function.prototype`).ToBoolean())
	assert.False(t, run(t, vm, `"prototype" in wrapped`).ToBoolean())

	// the reference built-in has the same surface
	native := run(t, vm, `Array.prototype.push`).(*goja.Object)
	ref, err := d.Inspect(native)
	require.NoError(t, err)
	assert.True(t, ref.LooksNative("push", 1), "%+v", ref)
}

func TestInterceptorIdempotentAndSelfSafe(t *testing.T) {
	vm, d := setup(t)
	hook := d.Interceptor()
	require.NotNil(t, hook)

	require.NoError(t, d.InstallInterceptor())
	assert.Same(t, hook, d.Interceptor())
	assert.True(t, run(t, vm, `Function.prototype.toString`).SameAs(hook))

	want := "function toString() { [native code] }"
	assert.Equal(t, want, run(t, vm, `Function.prototype.toString.toString()`).String())
	assert.Equal(t, want, run(t, vm, `Function.prototype.toString.call(Function.prototype.toString)`).String())

	rec := d.Lookup(hook)
	require.NotNil(t, rec)
	assert.True(t, rec.Installed())

	other := New(vm, nil)
	assert.Same(t, d, other)
	require.NoError(t, other.InstallInterceptor())
	assert.True(t, run(t, vm, `Function.prototype.toString`).SameAs(hook))

	assert.NotSame(t, d, New(goja.New(), nil))
}

func TestUnregisteredFunctionsFallThrough(t *testing.T) {
	vm, _ := setup(t)
	assert.Contains(t, run(t, vm, `(function foo() { return 1 }).toString()`).String(), "return 1")
	assert.Equal(t, "function push() { [native code] }", run(t, vm, `Array.prototype.push.toString()`).String())
	assert.True(t, run(t, vm, `(function(){ try { Function.prototype.toString.call({}) } catch (e) { return e instanceof TypeError } return false })()`).ToBoolean())
}

func TestLayeredDisguises(t *testing.T) {
	vm, d := setup(t)
	orig := jsFunc(t, vm, `function enumerateDevices() { return [] }`)

	inner, err := d.Disguise(orig, "enumerateDevices", Options{Original: orig})
	require.NoError(t, err)
	outer, err := d.Disguise(inner, "enumerateDevices", Options{Original: inner})
	require.NoError(t, err)

	in := d.Lookup(inner)
	out := d.Lookup(outer)
	require.NotNil(t, in)
	require.NotNil(t, out)
	assert.NotSame(t, in, out)
	assert.Equal(t, 1, in.Layers())
	assert.Equal(t, 2, out.Layers())

	got, ok := d.Unwrap(outer)
	require.True(t, ok)
	assert.Same(t, inner, got)
	assert.True(t, d.Root(outer).SameAs(orig))
	assert.Same(t, inner, out.DelegatesTo())

	src, err := d.SourceOf(outer)
	require.NoError(t, err)
	assert.Equal(t, NativeSource("enumerateDevices"), src)
}

func TestAccessorNames(t *testing.T) {
	_, d := setup(t)
	getter, err := d.Disguise(func(goja.FunctionCall) goja.Value { return d.Runtime().ToValue(8) }, "hardwareConcurrency", Options{Kind: KindGetter})
	require.NoError(t, err)

	src, err := d.SourceOf(getter)
	require.NoError(t, err)
	assert.Equal(t, "function get hardwareConcurrency() { [native code] }", src)
	assert.Equal(t, "set x", KindSetter.DisplayName("x"))
}

func TestRejectsNonCallables(t *testing.T) {
	vm, d := setup(t)
	_, err := d.Disguise(vm.ToValue(5), "x", Options{})
	assert.ErrorIs(t, err, ErrNotCallable)
	_, err = d.Disguise(42, "x", Options{})
	assert.ErrorIs(t, err, ErrNotCallable)

	assert.Nil(t, d.Lookup(vm.ToValue("str")))
	assert.Nil(t, d.Lookup(jsFunc(t, vm, `function () {}`)))
	_, ok := d.Unwrap(vm.ToValue(1))
	assert.False(t, ok)
}

func TestDelayBounds(t *testing.T) {
	d := Delay{Min: 20 * time.Millisecond, Max: 180 * time.Millisecond, Cap: 150 * time.Millisecond}
	g := prng.New(4)
	for i := 0; i < 5000; i++ {
		v := d.Sample(g)
		require.True(t, v >= d.Min && v <= d.Cap, "%v", v)
		b := d.Between(g, time.Second, 2*time.Second)
		require.Equal(t, d.Cap, b)
	}
	assert.Zero(t, d.Bound(-time.Second))
	assert.Equal(t, 5*time.Millisecond, Delay{}.Bound(5*time.Millisecond))
	assert.Equal(t, 40*time.Millisecond, Delay{}.Between(g, 40*time.Millisecond, 10*time.Millisecond))
}
