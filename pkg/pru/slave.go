package pru

import (
	"context"
	"time"
)

// DefaultSlaveFirmware is the image name loaded on SlaveCore when
// Options.Firmware is empty.
const DefaultSlaveFirmware = "pru-spi-slave.bin"

// Slave arms and observes inbound transmissions on the SPI slave core.
type Slave struct {
	*controller
}

// NewSlave creates a slave controller. Construction never touches the
// hardware; Init does.
func NewSlave(b Binding, opts Options) *Slave {
	if opts.Firmware == "" {
		opts.Firmware = DefaultSlaveFirmware
	}
	return &Slave{controller: newController("slave", SlaveCore, b, opts)}
}

// EnableReceive arms the firmware to accept up to max bytes on the next
// inbound frame. Silently ignored while the context is unmapped. The
// firmware clears the word once the transfer finishes.
func (s *Slave) EnableReceive(max uint32) {
	ctx := s.ctx.Load()
	if !ctx.Mapped() {
		internalLogger.warnf("slave: enable receive of %d bytes ignored, context unmapped", max)
		return
	}
	ctx.SetSlaveMaxLength(max)
	s.inst.transmissions.Add(context.Background(), 1, s.inst.attrs)
	internalLogger.debugf("slave: receive armed for up to %d bytes", max)
}

// IsTransmissionDone reports whether the context is mapped and the
// firmware has consumed the armed request.
func (s *Slave) IsTransmissionDone() bool {
	ctx := s.ctx.Load()
	return ctx.Mapped() && ctx.SlaveMaxLength() == 0
}

// WaitForTransmissionToComplete sleeps and re-checks until the armed
// receive completes, a stop is requested, or ctx is canceled. Best effort,
// same contract as the master side.
func (s *Slave) WaitForTransmissionToComplete(ctx context.Context, interval time.Duration) {
	s.waitFor(ctx, interval, "pru.slave.wait_transmission", s.IsTransmissionDone)
}

// LastTransmissionLength reports how many bytes the last inbound frame
// actually carried. Valid after a completed cycle; callers compare it
// against the length they armed to detect short transfers.
func (s *Slave) LastTransmissionLength() uint32 {
	return s.ctx.Load().Length()
}

// Data returns the active buffer region, nil while unmapped.
func (s *Slave) Data() []byte {
	return s.ctx.Load().Buffer()
}

// BufferIndex returns the raw active buffer index, 0 while unmapped.
func (s *Slave) BufferIndex() uint32 {
	return s.ctx.Load().BufferIndex()
}
