package pru

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// State of a controller session.
type State int32

const (
	StateUninitialized State = iota
	StateInitialized
	StateRunning
	StateStopped
	StateCleanedUp
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateCleanedUp:
		return "cleaned-up"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// DefaultPollInterval is the sleep between reads of the shared buffer
// index when nothing has changed. Callback latency is bounded by it.
const DefaultPollInterval = 300 * time.Millisecond

// Options configure a Master or Slave controller.
type Options struct {
	// Firmware is the image passed to Binding.LoadProgram. Empty selects
	// the role's default image name.
	Firmware string
	// PollInterval overrides DefaultPollInterval when positive.
	PollInterval time.Duration
	// ExternalStop, when non-nil, halts the monitor loop alongside the
	// internal stop flag. A single process-wide flag can stop several
	// controllers at once.
	ExternalStop *atomic.Bool
	// Meter and Tracer enable OTel instrumentation; nil means no-op.
	Meter  metric.Meter
	Tracer trace.Tracer
}

// controller carries the session lifecycle shared by Master and Slave:
// the revocable context handle, the two stop flags, the monitor goroutine
// and the swap-event dispatcher. The only asymmetry between the two roles
// is which context fields each side writes versus only observes.
type controller struct {
	role     string
	core     uint32
	firmware string
	binding  Binding

	ctx atomic.Pointer[Context]

	stop         atomic.Bool
	externalStop *atomic.Bool

	poll time.Duration
	inst *instruments

	mu         sync.Mutex
	state      State
	loaded     bool
	monitor    chan struct{}
	monitorErr error
	dispatcher *eventDispatcher
}

func newController(role string, core uint32, b Binding, opts Options) *controller {
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return &controller{
		role:         role,
		core:         core,
		firmware:     opts.Firmware,
		binding:      b,
		externalStop: opts.ExternalStop,
		poll:         poll,
		inst:         newInstruments(opts.Meter, opts.Tracer, role),
	}
}

// Init loads the firmware and maps the shared context. Calling it when
// already initialized is a no-op and still succeeds.
func (c *controller) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateUninitialized:
	case StateCleanedUp:
		return fmt.Errorf("pru: %s: init after cleanup", c.role)
	default:
		return nil
	}
	if c.binding == nil {
		return fmt.Errorf("pru: %s: no hardware binding", c.role)
	}
	if !c.loaded {
		if err := c.binding.LoadProgram(c.core, c.firmware); err != nil {
			return fmt.Errorf("pru: %s: load program: %w", c.role, err)
		}
		c.loaded = true
	}
	mapped, err := c.binding.MapContext(c.core)
	if err != nil {
		return fmt.Errorf("pru: %s: map context: %w", c.role, err)
	}
	mapped.Reset()
	c.ctx.Store(mapped)
	c.state = StateInitialized
	internalLogger.infof("%s controller initialized on core %d", c.role, c.core)
	return nil
}

// Start installs the callback and spawns the monitor loop. Valid from the
// initialized and stopped states. The callback may be nil.
func (c *controller) Start(callback func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateInitialized, StateStopped:
	case StateRunning:
		return fmt.Errorf("pru: %s: monitor loop already running", c.role)
	default:
		return fmt.Errorf("pru: %s: cannot start from %s state", c.role, c.state)
	}
	c.stop.Store(false)
	c.monitorErr = nil
	c.dispatcher = newEventDispatcher()
	c.dispatcher.setCallback(callback)
	c.dispatcher.run()
	done := make(chan struct{})
	c.monitor = done
	go c.monitorLoop(done, c.dispatcher)
	c.state = StateRunning
	internalLogger.infof("%s monitor loop started", c.role)
	return nil
}

// Stop signals the monitor loop to exit and clears the callback slot. It
// does not block; cancellation latency is bounded by the poll interval.
// Wait joins the loop.
func (c *controller) Stop() {
	c.stop.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dispatcher != nil {
		c.dispatcher.setCallback(nil)
	}
	if c.state == StateRunning {
		c.state = StateStopped
		internalLogger.infof("%s controller stopping", c.role)
	}
}

// Wait blocks until the monitor loop has exited and the dispatcher has
// drained, then reports any failure the loop died with.
func (c *controller) Wait() error {
	c.mu.Lock()
	done := c.monitor
	d := c.dispatcher
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	<-done
	if d != nil {
		d.close()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.monitor = nil
	c.dispatcher = nil
	return c.monitorErr
}

// Cleanup halts the core and drops the context handle. Safe to call
// multiple times; the second and later calls are no-ops. Called while the
// monitor loop is still running, it stops and joins the loop first so the
// context is never released under a live monitor.
func (c *controller) Cleanup() error {
	c.mu.Lock()
	if c.state == StateRunning {
		c.mu.Unlock()
		c.Stop()
		if err := c.Wait(); err != nil {
			internalLogger.warnf("%s cleanup: monitor exit: %v", c.role, err)
		}
		c.mu.Lock()
	}
	defer c.mu.Unlock()
	if c.state == StateCleanedUp {
		return nil
	}
	var err error
	if c.loaded {
		if uerr := c.binding.UnloadProgram(c.core); uerr != nil {
			err = fmt.Errorf("pru: %s: unload program: %w", c.role, uerr)
			internalLogger.warnf("%s cleanup: %v", c.role, uerr)
		}
		c.loaded = false
	}
	c.ctx.Store(nil)
	if c.dispatcher != nil {
		c.dispatcher.setCallback(nil)
	}
	c.state = StateCleanedUp
	internalLogger.infof("%s controller cleaned up", c.role)
	return err
}

// Close tears the controller down in the only safe order: request stop,
// join the monitor, release hardware resources. It always attempts all
// three regardless of prior state.
func (c *controller) Close() error {
	c.Stop()
	werr := c.Wait()
	cerr := c.Cleanup()
	if werr != nil {
		return werr
	}
	return cerr
}

// State returns the current lifecycle state.
func (c *controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsMapped reports whether a live context is attached.
func (c *controller) IsMapped() bool {
	return c.ctx.Load().Mapped()
}

// Context returns the live context handle, or nil. Exposed for firmware
// doubles in tests and demos; application code goes through the
// role-specific accessors.
func (c *controller) Context() *Context {
	return c.ctx.Load()
}

func (c *controller) stopRequested() bool {
	if c.stop.Load() {
		return true
	}
	return c.externalStop != nil && c.externalStop.Load()
}

// monitorLoop polls the shared buffer index and posts one event per
// observed change. No change means sleep one interval and re-check; there
// is no interrupt source from the co-processor to block on.
func (c *controller) monitorLoop(done chan struct{}, d *eventDispatcher) {
	defer close(done)
	defer func() {
		if r := recover(); r != nil {
			c.mu.Lock()
			c.monitorErr = fmt.Errorf("pru: %s: monitor loop panic: %v", c.role, r)
			c.mu.Unlock()
		}
	}()
	bg := context.Background()
	var last uint32
	for !c.stopRequested() {
		ctx := c.ctx.Load()
		if ctx == nil || !ctx.Mapped() {
			time.Sleep(c.poll)
			continue
		}
		c.inst.pollCycles.Add(bg, 1, c.inst.attrs)
		cur := ctx.BufferIndex()
		internalLogger.tracef("%s poll: buffer index %d", c.role, cur)
		if cur == last {
			time.Sleep(c.poll)
			continue
		}
		last = cur
		internalLogger.debugf("%s observed buffer swap to %d", c.role, cur)
		c.inst.bufferSwaps.Add(bg, 1, c.inst.attrs)
		d.post(swapEvent{index: cur, at: time.Now()})
	}
}

// waitFor sleeps and re-checks done until it reports true, a stop is
// requested, or ctx is canceled. The interval is a sleep quantum, not a
// deadline: callers that need a hard bound wrap ctx with one.
func (c *controller) waitFor(ctx context.Context, interval time.Duration, spanName string, done func() bool) {
	if interval <= 0 {
		interval = c.poll
	}
	ctx, span := c.inst.tracer.Start(ctx, spanName)
	defer span.End()
	for !c.stopRequested() && !done() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}
