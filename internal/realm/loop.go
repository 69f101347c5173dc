package realm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dop251/goja"
)

// ErrClosed rejects delayed resolutions requested after Close.
var ErrClosed = errors.New("realm closed")

// Enqueue schedules fn to run on the realm's goroutine at the next Flush.
// It is safe to call from any goroutine. Jobs run in the order they were
// queued.
func (r *Realm) Enqueue(fn func()) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.jobs = append(r.jobs, fn)
	r.mu.Unlock()
	r.signal()
}

func (r *Realm) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Flush runs queued jobs, including any queued while flushing, and
// returns how many ran. It must be called from the goroutine that owns the
// runtime.
func (r *Realm) Flush() int {
	n := 0
	for {
		r.mu.Lock()
		jobs := r.jobs
		r.jobs = nil
		r.mu.Unlock()

		if len(jobs) == 0 {
			return n
		}
		for _, job := range jobs {
			job()
			n++
		}
	}
}

// Pending counts delayed resolutions that have not settled yet.
func (r *Realm) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pending
}

// Run flushes jobs as they arrive until no delayed resolution is pending
// or ctx is done.
func (r *Realm) Run(ctx context.Context) error {
	for {
		r.Flush()
		if r.Pending() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.wake:
		}
	}
}

// begin counts a delayed resolution. It refuses once the realm is closed.
func (r *Realm) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.pending++
	return true
}

func (r *Realm) settle() {
	r.mu.Lock()
	if r.pending > 0 {
		r.pending--
	}
	r.mu.Unlock()
}

// ResolveAfter returns a promise settled with producer's result once delay
// has elapsed. The delay is clamped to the configured cap, so resolution
// always eventually happens. producer runs on the realm's goroutine. On a
// closed realm the promise is rejected with ErrClosed straight away.
func (r *Realm) ResolveAfter(delay time.Duration, producer func() (any, error)) goja.Value {
	promise, resolve, reject := r.vm.NewPromise()

	if !r.begin() {
		if rerr := reject(r.ErrorValue(ErrClosed)); rerr != nil {
			r.log.Debug("Promise rejection failed", "error", rerr)
		}
		return r.vm.ToValue(promise)
	}

	delay = r.delay.Bound(delay)
	r.metrics.InjectedDelay.Observe(delay.Seconds())

	r.sched.After(delay, func() {
		r.Enqueue(func() {
			defer r.settle()
			v, err := producer()
			if err != nil {
				if rerr := reject(r.ErrorValue(err)); rerr != nil {
					r.log.Debug("Promise rejection failed", "error", rerr)
				}
				return
			}
			if rerr := resolve(v); rerr != nil {
				r.log.Debug("Promise resolution failed", "error", rerr)
			}
		})
	})
	return r.vm.ToValue(promise)
}

type timers struct {
	mu     sync.Mutex
	next   int64
	active map[int64]func()
}

// installTimers provides setTimeout and clearTimeout backed by the
// realm's scheduler.
func (r *Realm) installTimers() error {
	t := &timers{active: make(map[int64]func())}

	setTimeout, err := r.Native("setTimeout", 1, func(call goja.FunctionCall) goja.Value {
		fn, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(r.vm.NewTypeError("The callback provided as parameter 1 is not a function."))
		}
		delay := time.Duration(call.Argument(1).ToFloat() * float64(time.Millisecond))
		if delay < 0 {
			delay = 0
		}
		var args []goja.Value
		if len(call.Arguments) > 2 {
			args = append(args, call.Arguments[2:]...)
		}

		t.mu.Lock()
		t.next++
		id := t.next
		t.mu.Unlock()

		cancel := r.sched.After(delay, func() {
			r.Enqueue(func() {
				t.mu.Lock()
				_, live := t.active[id]
				delete(t.active, id)
				t.mu.Unlock()
				if !live {
					return
				}
				if _, err := fn(goja.Undefined(), args...); err != nil {
					r.log.Debug("Timer callback threw", "error", err)
				}
			})
		})

		t.mu.Lock()
		t.active[id] = cancel
		t.mu.Unlock()
		return r.vm.ToValue(id)
	})
	if err != nil {
		return err
	}

	clearTimeout, err := r.Native("clearTimeout", 0, func(call goja.FunctionCall) goja.Value {
		id := call.Argument(0).ToInteger()
		t.mu.Lock()
		cancel, ok := t.active[id]
		delete(t.active, id)
		t.mu.Unlock()
		if ok {
			cancel()
		}
		return goja.Undefined()
	})
	if err != nil {
		return err
	}

	global := r.vm.GlobalObject()
	if err := global.DefineDataProperty("setTimeout", setTimeout, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_TRUE); err != nil {
		return err
	}
	return global.DefineDataProperty("clearTimeout", clearTimeout, goja.FLAG_TRUE, goja.FLAG_TRUE, goja.FLAG_TRUE)
}
