package pru

import (
	"fmt"
	"sync"
)

// PRU core assignments, fixed by the firmware build.
const (
	// MasterCore runs the SPI master firmware.
	MasterCore uint32 = 0
	// SlaveCore runs the SPI slave firmware.
	SlaveCore uint32 = 1
)

// Binding supplies mapped contexts and firmware lifecycle hooks to the
// controllers. It exclusively owns the mapped memory: controllers hold
// revocable Context handles and never unmap anything themselves.
//
// All methods are fallible; the controllers log and surface failures but
// never retry automatically.
type Binding interface {
	// MapContext returns the shared context for the given core, mapping it
	// on first use.
	MapContext(core uint32) (*Context, error)
	// LoadProgram loads and starts the firmware image on the given core.
	LoadProgram(core uint32, firmware string) error
	// UnloadProgram halts the given core.
	UnloadProgram(core uint32) error
	// Teardown revokes all handed-out contexts and releases the mappings.
	Teardown() error
}

// MemBinding is a heap-backed Binding for tests and demos. Program load and
// unload are no-ops; MapContext hands out one shared heap context per core,
// so a test double playing firmware and a controller observe the same state.
type MemBinding struct {
	mu    sync.Mutex
	ctxs  map[uint32]*Context
	down  bool
	loads int
}

// NewMemBinding creates an empty in-memory binding.
func NewMemBinding() *MemBinding {
	return &MemBinding{ctxs: make(map[uint32]*Context, 2)}
}

// MapContext implements Binding.
func (b *MemBinding) MapContext(core uint32) (*Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, fmt.Errorf("pru: mem binding already torn down")
	}
	if ctx, ok := b.ctxs[core]; ok {
		return ctx, nil
	}
	ctx, err := NewContext(make([]byte, ContextSize))
	if err != nil {
		return nil, err
	}
	b.ctxs[core] = ctx
	return ctx, nil
}

// LoadProgram implements Binding. It only counts invocations.
func (b *MemBinding) LoadProgram(core uint32, firmware string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return fmt.Errorf("pru: mem binding already torn down")
	}
	b.loads++
	internalLogger.debugf("mem binding: load %q on core %d", firmware, core)
	return nil
}

// UnloadProgram implements Binding.
func (b *MemBinding) UnloadProgram(core uint32) error {
	internalLogger.debugf("mem binding: unload core %d", core)
	return nil
}

// Teardown implements Binding. Idempotent.
func (b *MemBinding) Teardown() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil
	}
	for _, ctx := range b.ctxs {
		ctx.Revoke()
	}
	b.down = true
	return nil
}

// Loads reports how many LoadProgram calls the binding has seen.
func (b *MemBinding) Loads() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loads
}
