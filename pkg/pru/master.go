package pru

import (
	"context"
	"time"
)

// DefaultMasterFirmware is the image name loaded on MasterCore when
// Options.Firmware is empty.
const DefaultMasterFirmware = "pru-spi-master.bin"

// Master drives outbound transmissions on the SPI master core and reports
// transfer completion detected by the monitor loop.
type Master struct {
	*controller
}

// NewMaster creates a master controller. Construction never touches the
// hardware; Init does.
func NewMaster(b Binding, opts Options) *Master {
	if opts.Firmware == "" {
		opts.Firmware = DefaultMasterFirmware
	}
	return &Master{controller: newController("master", MasterCore, b, opts)}
}

// StartTransmission writes length into the shared length word, asking the
// firmware to clock out that many bytes from the active buffer. Silently
// ignored while the context is unmapped or when length is zero. It does
// not block; the firmware clears the word when the send completes.
func (m *Master) StartTransmission(length uint32) {
	ctx := m.ctx.Load()
	if !ctx.Mapped() {
		internalLogger.warnf("master: start transmission of %d bytes ignored, context unmapped", length)
		return
	}
	if length == 0 {
		return
	}
	ctx.SetLength(length)
	m.inst.transmissions.Add(context.Background(), 1, m.inst.attrs)
	internalLogger.debugf("master: transmission of %d bytes requested", length)
}

// IsTransmissionDone reports whether the context is mapped and the
// firmware has cleared the length word.
func (m *Master) IsTransmissionDone() bool {
	ctx := m.ctx.Load()
	return ctx.Mapped() && ctx.Length() == 0
}

// WaitForTransmissionToComplete sleeps and re-checks until the pending
// send completes, a stop is requested, or ctx is canceled. Best effort:
// the interval is the recheck quantum, not an enforced deadline.
func (m *Master) WaitForTransmissionToComplete(ctx context.Context, interval time.Duration) {
	m.waitFor(ctx, interval, "pru.master.wait_transmission", m.IsTransmissionDone)
}

// Data returns the active buffer region, nil while unmapped. The caller
// writes the next outbound frame into it before StartTransmission and
// reads the received frame from it after a swap.
func (m *Master) Data() []byte {
	return m.ctx.Load().Buffer()
}

// BufferIndex returns the raw active buffer index, 0 while unmapped.
func (m *Master) BufferIndex() uint32 {
	return m.ctx.Load().BufferIndex()
}
