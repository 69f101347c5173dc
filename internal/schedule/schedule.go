// Package schedule abstracts the clock and timers behind rotation and delayed
// resolution so tests can drive virtual time.
package schedule

import (
	"sort"
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

// Cancel stops a scheduled task. Calling it more than once is harmless.
type Cancel func()

type Scheduler interface {
	Clock
	After(d time.Duration, fn func()) Cancel
	Every(d time.Duration, fn func()) Cancel
}

type realScheduler struct{}

// Real returns a Scheduler backed by wall-clock timers. Callbacks run on
// timer goroutines.
func Real() Scheduler {
	return realScheduler{}
}

func (realScheduler) Now() time.Time { return time.Now() }

func (realScheduler) After(d time.Duration, fn func()) Cancel {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

func (realScheduler) Every(d time.Duration, fn func()) Cancel {
	ticker := time.NewTicker(d)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		for {
			select {
			case <-ticker.C:
				fn()
			case <-done:
				return
			}
		}
	}()

	return func() {
		once.Do(func() {
			ticker.Stop()
			close(done)
		})
	}
}

type task struct {
	id       uint64
	at       time.Time
	interval time.Duration
	fn       func()
	stopped  bool
}

// Virtual is a manually advanced Scheduler. Callbacks run synchronously on
// the goroutine calling Advance, in due-time order.
type Virtual struct {
	mu    sync.Mutex
	now   time.Time
	seq   uint64
	tasks []*task
}

func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

func (v *Virtual) Now() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

func (v *Virtual) After(d time.Duration, fn func()) Cancel {
	return v.add(d, 0, fn)
}

func (v *Virtual) Every(d time.Duration, fn func()) Cancel {
	if d <= 0 {
		d = time.Nanosecond
	}
	return v.add(d, d, fn)
}

func (v *Virtual) add(d, interval time.Duration, fn func()) Cancel {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.seq++
	t := &task{id: v.seq, at: v.now.Add(d), interval: interval, fn: fn}
	v.tasks = append(v.tasks, t)

	return func() {
		v.mu.Lock()
		t.stopped = true
		v.mu.Unlock()
	}
}

// Pending counts tasks that have not fired (one-shot) or been cancelled.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	n := 0
	for _, t := range v.tasks {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Advance moves time forward by d, firing every task that falls due.
// Tasks scheduled by callbacks fire too if they fall inside the window.
func (v *Virtual) Advance(d time.Duration) {
	v.mu.Lock()
	target := v.now.Add(d)
	v.mu.Unlock()

	for {
		v.mu.Lock()
		next := v.nextDue(target)
		if next == nil {
			v.now = target
			v.mu.Unlock()
			return
		}
		v.now = next.at
		if next.interval > 0 {
			next.at = next.at.Add(next.interval)
		} else {
			next.stopped = true
		}
		fn := next.fn
		v.mu.Unlock()

		fn()
	}
}

func (v *Virtual) nextDue(target time.Time) *task {
	live := v.tasks[:0]
	for _, t := range v.tasks {
		if !t.stopped {
			live = append(live, t)
		}
	}
	v.tasks = live

	sort.SliceStable(v.tasks, func(i, j int) bool {
		if v.tasks[i].at.Equal(v.tasks[j].at) {
			return v.tasks[i].id < v.tasks[j].id
		}
		return v.tasks[i].at.Before(v.tasks[j].at)
	})
	if len(v.tasks) == 0 || v.tasks[0].at.After(target) {
		return nil
	}
	return v.tasks[0]
}
