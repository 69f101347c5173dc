package stealth

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"weak"

	"github.com/dop251/goja"

	"fingerprint-shield/pkg/logger"
)

// Kind says which slot a wrapper occupies.
type Kind int

const (
	KindMethod Kind = iota
	KindGetter
	KindSetter
)

// DisplayName is the name the host reports for a member of this kind.
func (k Kind) DisplayName(member string) string {
	switch k {
	case KindGetter:
		return "get " + member
	case KindSetter:
		return "set " + member
	}
	return member
}

var ErrNotCallable = errors.New("stealth: implementation is not callable")

// Native is what the rest of the engine asks of a disguised value.
type Native interface {
	LooksNative() bool
	DelegatesTo() *goja.Object
}

// Record is the private metadata for one wrapper. It is never attached to
// the wrapper itself.
type Record struct {
	Name     string
	Kind     Kind
	Original *goja.Object

	inner     *Record
	installed bool
}

var _ Native = (*Record)(nil)

// Source is the placeholder returned when the wrapper is stringified.
func (r *Record) Source() string {
	return NativeSource(r.Name)
}

// LooksNative is true for every record: the disguiser answers reflection
// for it from the placeholder.
func (r *Record) LooksNative() bool { return true }

// DelegatesTo is the pre-patch callable, or nil when there was none.
func (r *Record) DelegatesTo() *goja.Object { return r.Original }

// Layers counts how many disguises are stacked, this one included.
func (r *Record) Layers() int {
	n := 1
	for in := r.inner; in != nil; in = in.inner {
		n++
	}
	return n
}

// Installed reports whether the installer placed this wrapper on a target.
func (r *Record) Installed() bool { return r.installed }

// NativeSource renders the host's stringification of a built-in.
func NativeSource(name string) string {
	return "function " + name + "() { [native code] }"
}

// Options tune one disguise.
type Options struct {
	// Original is the member being replaced. Its length is copied.
	Original goja.Value
	// Length is reported when there is no Original.
	Length int
	Kind   Kind
}

// Disguiser owns the association table for one runtime and the single
// Function.prototype.toString interception point.
type Disguiser struct {
	vm  *goja.Runtime
	log logger.Logger

	mu    sync.Mutex
	table map[weak.Pointer[goja.Object]]*Record

	pristineToString   goja.Callable
	pristineDescriptor goja.Callable
	interceptor        *goja.Object
}

var (
	registryMu sync.Mutex
	registry   = make(map[weak.Pointer[goja.Runtime]]weak.Pointer[Disguiser])
)

// New returns the runtime's Disguiser, creating it on first use, so every
// caller shares one association table and one interception point.
func New(vm *goja.Runtime, log logger.Logger) *Disguiser {
	key := weak.Make(vm)

	registryMu.Lock()
	defer registryMu.Unlock()
	if existing, ok := registry[key]; ok {
		if d := existing.Value(); d != nil {
			return d
		}
	}

	d := newDisguiser(vm, log)
	registry[key] = weak.Make(d)
	runtime.AddCleanup(vm, dropRuntime, key)
	return d
}

func dropRuntime(key weak.Pointer[goja.Runtime]) {
	registryMu.Lock()
	delete(registry, key)
	registryMu.Unlock()
}

func newDisguiser(vm *goja.Runtime, log logger.Logger) *Disguiser {
	if log == nil {
		log = logger.Nop()
	}
	d := &Disguiser{
		vm:    vm,
		log:   log,
		table: make(map[weak.Pointer[goja.Object]]*Record),
	}
	proto := vm.Get("Function").ToObject(vm).Get("prototype").ToObject(vm)
	d.pristineToString, _ = goja.AssertFunction(proto.Get("toString"))
	object := vm.Get("Object").ToObject(vm)
	d.pristineDescriptor, _ = goja.AssertFunction(object.Get("getOwnPropertyDescriptor"))
	return d
}

func (d *Disguiser) Runtime() *goja.Runtime { return d.vm }

// Disguise builds a fresh native-shaped function forwarding to impl and
// registers it under name. impl may be a Go function in either goja
// calling convention or any callable JS value.
func (d *Disguiser) Disguise(impl any, name string, opts Options) (*goja.Object, error) {
	call, inner, err := d.forwarder(impl)
	if err != nil {
		return nil, fmt.Errorf("disguise %s: %w", name, err)
	}

	wrapper := d.vm.ToValue(call).(*goja.Object)

	length := opts.Length
	var original *goja.Object
	if opts.Original != nil && !goja.IsUndefined(opts.Original) && !goja.IsNull(opts.Original) {
		original = opts.Original.ToObject(d.vm)
		if l := original.Get("length"); l != nil {
			length = int(l.ToInteger())
		}
	}

	display := opts.Kind.DisplayName(name)
	if err := d.shape(wrapper, display, length); err != nil {
		return nil, fmt.Errorf("disguise %s: %w", name, err)
	}

	d.register(wrapper, &Record{
		Name:     display,
		Kind:     opts.Kind,
		Original: original,
		inner:    inner,
	})
	return wrapper, nil
}

func (d *Disguiser) forwarder(impl any) (func(goja.FunctionCall) goja.Value, *Record, error) {
	switch fn := impl.(type) {
	case func(goja.FunctionCall) goja.Value:
		return fn, nil, nil
	case goja.Callable:
		return d.forward(fn), nil, nil
	case func(goja.Value, ...goja.Value) (goja.Value, error):
		return d.forward(fn), nil, nil
	case goja.Value:
		c, ok := goja.AssertFunction(fn)
		if !ok {
			return nil, nil, ErrNotCallable
		}
		return d.forward(c), d.Lookup(fn), nil
	}
	return nil, nil, ErrNotCallable
}

func (d *Disguiser) forward(c goja.Callable) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		v, err := c(call.This, call.Arguments...)
		if err != nil {
			d.Throw(err)
		}
		return v
	}
}

// Throw rethrows err into the running script. A JS exception keeps its
// original value.
func (d *Disguiser) Throw(err error) {
	var ex *goja.Exception
	if errors.As(err, &ex) {
		panic(ex)
	}
	panic(d.vm.NewGoError(err))
}

// shape leaves exactly the own keys a built-in method has: length and
// name, both read-only, configurable and hidden from enumeration.
func (d *Disguiser) shape(fn *goja.Object, name string, length int) error {
	for _, key := range fn.Keys() {
		if err := fn.Delete(key); err != nil {
			return err
		}
	}
	for _, key := range fn.GetOwnPropertyNames() {
		if key != "length" && key != "name" {
			if err := fn.Delete(key); err != nil {
				return err
			}
		}
	}
	if err := fn.DefineDataProperty("length", d.vm.ToValue(length), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
		return err
	}
	return fn.DefineDataProperty("name", d.vm.ToValue(name), goja.FLAG_FALSE, goja.FLAG_TRUE, goja.FLAG_FALSE)
}

func (d *Disguiser) register(fn *goja.Object, rec *Record) {
	key := weak.Make(fn)

	d.mu.Lock()
	d.table[key] = rec
	d.mu.Unlock()

	runtime.AddCleanup(fn, d.forget, key)
}

func (d *Disguiser) forget(key weak.Pointer[goja.Object]) {
	d.mu.Lock()
	delete(d.table, key)
	d.mu.Unlock()
}

// Lookup returns the record for a wrapper, or nil for anything else.
func (d *Disguiser) Lookup(v goja.Value) *Record {
	obj, ok := v.(*goja.Object)
	if !ok || obj == nil {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.table[weak.Make(obj)]
}

// Unwrap returns the member a wrapper replaced.
func (d *Disguiser) Unwrap(v goja.Value) (*goja.Object, bool) {
	rec := d.Lookup(v)
	if rec == nil || rec.Original == nil {
		return nil, false
	}
	return rec.Original, true
}

// Root follows Unwrap until it reaches a value that is not a wrapper.
func (d *Disguiser) Root(v goja.Value) goja.Value {
	for {
		orig, ok := d.Unwrap(v)
		if !ok {
			return v
		}
		v = orig
	}
}

// MarkInstalled flags a wrapper as placed on a target.
func (d *Disguiser) MarkInstalled(v goja.Value) {
	if rec := d.Lookup(v); rec != nil {
		d.mu.Lock()
		rec.installed = true
		d.mu.Unlock()
	}
}

// Size counts live records.
func (d *Disguiser) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.table)
}
