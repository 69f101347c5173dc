package stealth

import (
	"errors"

	"github.com/dop251/goja"
)

// InstallInterceptor replaces Function.prototype.toString with a disguised
// hook that answers from the association table and defers to the pristine
// implementation for everything else. A second call is a no-op.
func (d *Disguiser) InstallInterceptor() error {
	if d.pristineToString == nil {
		return errors.New("stealth: Function.prototype.toString unavailable")
	}

	proto := d.vm.Get("Function").ToObject(d.vm).Get("prototype").ToObject(d.vm)
	current := proto.Get("toString")

	d.mu.Lock()
	installed := d.interceptor != nil
	d.mu.Unlock()
	if installed {
		return nil
	}
	if rec := d.Lookup(current); rec != nil && rec.Name == "toString" {
		d.mu.Lock()
		d.interceptor = current.(*goja.Object)
		d.mu.Unlock()
		return nil
	}

	hook, err := d.Disguise(d.toString, "toString", Options{Original: current})
	if err != nil {
		return err
	}
	if err := proto.DefineDataProperty("toString", hook, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_FALSE); err != nil {
		d.log.Debug("toString interception refused", "error", err)
		return err
	}
	d.MarkInstalled(hook)

	d.mu.Lock()
	d.interceptor = hook
	d.mu.Unlock()
	return nil
}

// Interceptor is the installed hook, or nil.
func (d *Disguiser) Interceptor() *goja.Object {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.interceptor
}

// toString never calls back into the page's Function.prototype.toString,
// so asking the hook about itself resolves from its own record.
func (d *Disguiser) toString(call goja.FunctionCall) goja.Value {
	if rec := d.Lookup(call.This); rec != nil {
		return d.vm.ToValue(rec.Source())
	}
	v, err := d.pristineToString(call.This, call.Arguments...)
	if err != nil {
		d.Throw(err)
	}
	return v
}

// SourceOf stringifies v the way the page would see it.
func (d *Disguiser) SourceOf(v goja.Value) (string, error) {
	if rec := d.Lookup(v); rec != nil {
		return rec.Source(), nil
	}
	s, err := d.pristineToString(v)
	if err != nil {
		return "", err
	}
	return s.String(), nil
}
