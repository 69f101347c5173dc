package schedule

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func TestVirtualAfterFiresOnce(t *testing.T) {
	v := NewVirtual(epoch)
	fired := 0
	v.After(time.Second, func() { fired++ })

	v.Advance(999 * time.Millisecond)
	assert.Zero(t, fired)
	v.Advance(time.Millisecond)
	assert.Equal(t, 1, fired)
	v.Advance(time.Hour)
	assert.Equal(t, 1, fired)
	assert.Zero(t, v.Pending())
}

func TestVirtualEveryAndCancel(t *testing.T) {
	v := NewVirtual(epoch)
	ticks := 0
	cancel := v.Every(10*time.Second, func() { ticks++ })

	v.Advance(35 * time.Second)
	assert.Equal(t, 3, ticks)

	cancel()
	cancel()
	v.Advance(time.Minute)
	assert.Equal(t, 3, ticks)
}

func TestVirtualOrderAndNow(t *testing.T) {
	v := NewVirtual(epoch)
	var order []string
	var seen []time.Time
	v.After(2*time.Second, func() { order = append(order, "b"); seen = append(seen, v.Now()) })
	v.After(time.Second, func() { order = append(order, "a"); seen = append(seen, v.Now()) })
	v.After(2*time.Second, func() { order = append(order, "c") })

	v.Advance(5 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, epoch.Add(time.Second), seen[0])
	assert.Equal(t, epoch.Add(2*time.Second), seen[1])
	assert.Equal(t, epoch.Add(5*time.Second), v.Now())
}

func TestVirtualNestedScheduling(t *testing.T) {
	v := NewVirtual(epoch)
	fired := false
	v.After(time.Second, func() {
		v.After(time.Second, func() { fired = true })
	})
	v.Advance(3 * time.Second)
	assert.True(t, fired)
}

func TestRealSchedulerFires(t *testing.T) {
	s := Real()
	var n atomic.Int32
	done := make(chan struct{})
	s.After(5*time.Millisecond, func() { close(done) })
	cancel := s.Every(2*time.Millisecond, func() { n.Add(1) })
	defer cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("After never fired")
	}
	assert.Eventually(t, func() bool { return n.Load() > 0 }, time.Second, time.Millisecond)
}
