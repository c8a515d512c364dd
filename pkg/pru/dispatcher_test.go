package pru

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherInvokesOncePerEvent(t *testing.T) {
	d := newEventDispatcher()
	var calls atomic.Int32
	d.setCallback(func() { calls.Add(1) })
	d.run()

	for i := 0; i < 5; i++ {
		d.post(swapEvent{index: uint32(i % 2), at: time.Now()})
	}

	assert.Eventually(t, func() bool { return calls.Load() == 5 },
		time.Second, time.Millisecond)
	d.close()
	assert.Equal(t, int32(5), calls.Load())
}

func TestDispatcherNilCallback(t *testing.T) {
	d := newEventDispatcher()
	d.run()
	d.post(swapEvent{index: 1, at: time.Now()})
	time.Sleep(10 * time.Millisecond)
	d.close()
}

func TestDispatcherCallbackPanicIsContained(t *testing.T) {
	d := newEventDispatcher()
	var calls atomic.Int32
	d.setCallback(func() {
		calls.Add(1)
		panic("callback misbehaved")
	})
	d.run()

	d.post(swapEvent{index: 1, at: time.Now()})
	d.post(swapEvent{index: 0, at: time.Now()})

	assert.Eventually(t, func() bool { return calls.Load() == 2 },
		time.Second, time.Millisecond)
	d.close()
}

func TestDispatcherCloseClearsCallback(t *testing.T) {
	d := newEventDispatcher()
	d.setCallback(func() {})
	d.run()
	d.close()

	assert.Nil(t, d.callback())
	// posting after close must not block or panic
	d.post(swapEvent{index: 1, at: time.Now()})
}
