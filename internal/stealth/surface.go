package stealth

import (
	"slices"

	"github.com/dop251/goja"
)

// Descriptor mirrors a JS property descriptor.
type Descriptor struct {
	Value        goja.Value
	Get          goja.Value
	Set          goja.Value
	Writable     bool
	Enumerable   bool
	Configurable bool
	Accessor     bool
}

// Descriptor reads the own property descriptor of member through the
// pristine Object.getOwnPropertyDescriptor captured at construction.
func (d *Disguiser) Descriptor(target *goja.Object, member string) (Descriptor, bool, error) {
	raw, err := d.pristineDescriptor(goja.Undefined(), target, d.vm.ToValue(member))
	if err != nil {
		return Descriptor{}, false, err
	}
	if goja.IsUndefined(raw) {
		return Descriptor{}, false, nil
	}
	obj := raw.ToObject(d.vm)
	desc := Descriptor{
		Enumerable:   obj.Get("enumerable").ToBoolean(),
		Configurable: obj.Get("configurable").ToBoolean(),
	}
	if hasOwn(obj, "get") || hasOwn(obj, "set") {
		desc.Accessor = true
		desc.Get = obj.Get("get")
		desc.Set = obj.Get("set")
		return desc, true, nil
	}
	desc.Value = obj.Get("value")
	desc.Writable = obj.Get("writable").ToBoolean()
	return desc, true, nil
}

func hasOwn(obj *goja.Object, key string) bool {
	return slices.Contains(obj.GetOwnPropertyNames(), key)
}

// Surface is what a page can learn about a function by reflection.
type Surface struct {
	Source  string
	OwnKeys []string
	Length  Descriptor
	Name    Descriptor
}

// Inspect gathers the reflection surface of fn as page code would see it
// with the interceptor in place.
func (d *Disguiser) Inspect(fn *goja.Object) (Surface, error) {
	src, err := d.SourceOf(fn)
	if err != nil {
		return Surface{}, err
	}
	s := Surface{Source: src, OwnKeys: fn.GetOwnPropertyNames()}
	for _, sym := range fn.Symbols() {
		s.OwnKeys = append(s.OwnKeys, sym.String())
	}
	if s.Length, _, err = d.Descriptor(fn, "length"); err != nil {
		return Surface{}, err
	}
	if s.Name, _, err = d.Descriptor(fn, "name"); err != nil {
		return Surface{}, err
	}
	return s, nil
}

// LooksNative compares a surface with a built-in method of the given name
// and length.
func (s Surface) LooksNative(name string, length int) bool {
	if s.Source != NativeSource(name) {
		return false
	}
	keys := slices.Clone(s.OwnKeys)
	slices.Sort(keys)
	if !slices.Equal(keys, []string{"length", "name"}) {
		return false
	}
	for _, desc := range []Descriptor{s.Length, s.Name} {
		if desc.Accessor || desc.Writable || desc.Enumerable || !desc.Configurable {
			return false
		}
	}
	if s.Name.Value == nil || s.Name.Value.String() != name {
		return false
	}
	return s.Length.Value != nil && s.Length.Value.ToInteger() == int64(length)
}
