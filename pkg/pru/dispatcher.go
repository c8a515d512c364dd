package pru

import (
	"sync"
	"time"

	queuepkg "github.com/Workiva/go-datastructures/queue"
)

// swapEvent records one observed toggle of the shared buffer index.
type swapEvent struct {
	index uint32
	at    time.Time
}

// eventDispatcher decouples callback execution from the monitor loop: the
// monitor posts swap events into a queue and a dedicated goroutine drains
// them, invoking the registered callback once per event and in order. The
// callback slot is read under a momentary lock and never held across the
// invocation, so a slow callback can only delay later events, not block
// Stop or deadlock the controller.
type eventDispatcher struct {
	q  *queuepkg.Queue
	wg sync.WaitGroup

	mu sync.Mutex
	cb func()
}

const eventQueueHint = 16

func newEventDispatcher() *eventDispatcher {
	return &eventDispatcher{q: queuepkg.New(eventQueueHint)}
}

func (d *eventDispatcher) setCallback(fn func()) {
	d.mu.Lock()
	d.cb = fn
	d.mu.Unlock()
}

func (d *eventDispatcher) callback() func() {
	d.mu.Lock()
	fn := d.cb
	d.mu.Unlock()
	return fn
}

// post enqueues one swap event. Never blocks.
func (d *eventDispatcher) post(e swapEvent) {
	if err := d.q.Put(e); err != nil {
		internalLogger.warnf("dispatcher: dropped swap event for buffer %d: %v", e.index, err)
	}
}

// run starts the drain goroutine. It exits when the queue is disposed.
func (d *eventDispatcher) run() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			items, err := d.q.Get(1)
			if err != nil {
				// queue disposed, dispatcher is shutting down
				return
			}
			for range items {
				d.invoke()
			}
		}
	}()
}

func (d *eventDispatcher) invoke() {
	fn := d.callback()
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			internalLogger.errorf("dispatcher: callback panic: %v", r)
		}
	}()
	fn()
}

// close disposes the queue, waits for the drain goroutine and clears the
// callback slot. Events still queued at this point are discarded.
func (d *eventDispatcher) close() {
	d.q.Dispose()
	d.wg.Wait()
	d.setCallback(nil)
}
