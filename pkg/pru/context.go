package pru

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

const (
	// BufferSize is the size in bytes of one double-buffer region, large
	// enough for a maximum-size frame.
	BufferSize = 0x400

	bufferCount = 2

	// Field offsets inside the shared region. The firmware addresses these
	// by fixed byte offset, so the layout must never change across builds.
	bufferIndexOffset = bufferCount * BufferSize
	lengthOffset      = bufferIndexOffset + 4
	slaveMaxOffset    = lengthOffset + 4

	// ContextSize is the number of bytes a Binding must map for one Context.
	ContextSize = slaveMaxOffset + 4
)

// Context overlays the shared transfer state on a mapped PRU data RAM
// region: two BufferSize data regions followed by three control words
// (active buffer index, transmission length, slave max transmission length).
//
// The control words are read and written with atomic 32-bit operations on
// both sides. The buffer bytes are plain memory; the double-buffer protocol
// guarantees firmware and host never write the same region concurrently.
//
// A Context can be revoked by its owning Binding before the underlying
// region is unmapped. Every accessor checks the revocation flag and
// degrades to a zero value or no-op afterwards, so no caller can ever
// dereference unmapped memory through a stale handle.
type Context struct {
	mem     []byte
	revoked atomic.Bool
}

// NewContext wraps a mapped region of at least ContextSize bytes.
func NewContext(mem []byte) (*Context, error) {
	if len(mem) < ContextSize {
		return nil, fmt.Errorf("pru: context region too small: %d bytes, need %d", len(mem), ContextSize)
	}
	if uintptr(unsafe.Pointer(&mem[0]))%4 != 0 {
		return nil, fmt.Errorf("pru: context region not 4-byte aligned")
	}
	return &Context{mem: mem[:ContextSize]}, nil
}

func (c *Context) word(off int) *uint32 {
	return (*uint32)(unsafe.Pointer(&c.mem[off]))
}

// Mapped reports whether the handle is still backed by mapped memory.
func (c *Context) Mapped() bool {
	return c != nil && !c.revoked.Load()
}

// Revoke permanently invalidates the handle. Only the owning Binding calls
// this, immediately before unmapping the region.
func (c *Context) Revoke() {
	c.revoked.Store(true)
}

// BufferIndex returns the raw active buffer index written by the firmware.
func (c *Context) BufferIndex() uint32 {
	if !c.Mapped() {
		return 0
	}
	return atomic.LoadUint32(c.word(bufferIndexOffset))
}

// SetBufferIndex overwrites the active buffer index. The host only does
// this at initialization or reset; during a session the firmware owns it.
func (c *Context) SetBufferIndex(i uint32) {
	if !c.Mapped() {
		return
	}
	atomic.StoreUint32(c.word(bufferIndexOffset), i)
}

// Length returns the byte count of the in-flight or last transmission.
// Zero is the idle/done sentinel.
func (c *Context) Length() uint32 {
	if !c.Mapped() {
		return 0
	}
	return atomic.LoadUint32(c.word(lengthOffset))
}

// SetLength requests a transmission of n bytes (master side); the firmware
// clears it back to zero once the send completes.
func (c *Context) SetLength(n uint32) {
	if !c.Mapped() {
		return
	}
	atomic.StoreUint32(c.word(lengthOffset), n)
}

// SlaveMaxLength returns the armed inbound frame bound, zero when the
// firmware has consumed the armed request.
func (c *Context) SlaveMaxLength() uint32 {
	if !c.Mapped() {
		return 0
	}
	return atomic.LoadUint32(c.word(slaveMaxOffset))
}

// SetSlaveMaxLength arms reception of at most n bytes (slave side).
func (c *Context) SetSlaveMaxLength(n uint32) {
	if !c.Mapped() {
		return
	}
	atomic.StoreUint32(c.word(slaveMaxOffset), n)
}

// Buffer returns the currently active data region. An out-of-range index
// falls back to region 0 rather than indexing out of bounds. Returns nil
// once the context has been revoked.
func (c *Context) Buffer() []byte {
	if !c.Mapped() {
		return nil
	}
	return c.BufferAt(atomic.LoadUint32(c.word(bufferIndexOffset)))
}

// BufferAt returns data region i with the same out-of-range fallback as
// Buffer. Firmware doubles and tests use it to reach the inactive region.
func (c *Context) BufferAt(i uint32) []byte {
	if !c.Mapped() {
		return nil
	}
	if i >= bufferCount {
		i = 0
	}
	off := int(i) * BufferSize
	return c.mem[off : off+BufferSize]
}

// Reset returns the context to its initial state: index 0, both length
// words zero, all buffer bytes zero. Idempotent.
func (c *Context) Reset() {
	if !c.Mapped() {
		return
	}
	atomic.StoreUint32(c.word(bufferIndexOffset), 0)
	atomic.StoreUint32(c.word(lengthOffset), 0)
	atomic.StoreUint32(c.word(slaveMaxOffset), 0)
	region := c.mem[:bufferIndexOffset]
	for i := range region {
		region[i] = 0
	}
}
