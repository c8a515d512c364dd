package pru

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSlave(t *testing.T) (*Slave, *MemBinding) {
	t.Helper()
	b := NewMemBinding()
	s := NewSlave(b, Options{PollInterval: testPoll})
	t.Cleanup(func() { _ = s.Close() })
	return s, b
}

func TestSlaveInitIdempotent(t *testing.T) {
	s, b := newTestSlave(t)
	require.Nil(t, s.Init())
	require.Nil(t, s.Init())
	assert.Equal(t, StateInitialized, s.State())
	assert.Equal(t, 1, b.Loads())
}

func TestSlaveUnmappedDegradesToNoops(t *testing.T) {
	s := NewSlave(NewMemBinding(), Options{PollInterval: testPoll})
	s.EnableReceive(512) // must not panic
	assert.Equal(t, uint32(0), s.LastTransmissionLength())
	assert.Nil(t, s.Data())
	assert.False(t, s.IsTransmissionDone())
}

func TestSlaveShortTransferReportsActualLength(t *testing.T) {
	s, b := newTestSlave(t)
	require.Nil(t, s.Init())

	shared, err := b.MapContext(SlaveCore)
	require.Nil(t, err)

	s.EnableReceive(512)
	assert.Equal(t, uint32(512), shared.SlaveMaxLength())
	assert.False(t, s.IsTransmissionDone())

	// firmware double: only 300 bytes arrive before chip select drops
	go func() {
		time.Sleep(3 * testPoll)
		inbound := shared.BufferAt(shared.BufferIndex())
		for i := 0; i < 300; i++ {
			inbound[i] = byte(i)
		}
		shared.SetLength(300)
		shared.SetSlaveMaxLength(0)
	}()

	s.WaitForTransmissionToComplete(context.Background(), testPoll)
	assert.True(t, s.IsTransmissionDone())
	assert.Equal(t, uint32(300), s.LastTransmissionLength(), "reports carried bytes, not the armed bound")
	assert.Equal(t, byte(299%256), s.Data()[299])
}

func TestDuplexLoopback(t *testing.T) {
	b := NewMemBinding()
	master := NewMaster(b, Options{PollInterval: testPoll})
	slave := NewSlave(b, Options{PollInterval: testPoll})
	t.Cleanup(func() {
		_ = master.Close()
		_ = slave.Close()
		_ = b.Teardown()
	})

	require.Nil(t, master.Init())
	require.Nil(t, slave.Init())
	require.Nil(t, master.Start(nil))
	require.Nil(t, slave.Start(nil))

	mctx, err := b.MapContext(MasterCore)
	require.Nil(t, err)
	sctx, err := b.MapContext(SlaveCore)
	require.Nil(t, err)

	// firmware double: move the armed frame from master RAM to slave RAM,
	// swap both active buffers and clear the control words
	stopFirmware := make(chan struct{})
	go func() {
		for {
			select {
			case <-stopFirmware:
				return
			case <-time.After(testPoll):
			}
			n := mctx.Length()
			if n == 0 || sctx.SlaveMaxLength() == 0 {
				continue
			}
			if max := sctx.SlaveMaxLength(); n > max {
				n = max
			}
			src := mctx.Buffer()
			dst := sctx.BufferAt(1 - sctx.BufferIndex())
			copy(dst[:n], src[:n])
			sctx.SetLength(n)
			sctx.SetBufferIndex(1 - sctx.BufferIndex())
			sctx.SetSlaveMaxLength(0)
			mctx.SetBufferIndex(1 - mctx.BufferIndex())
			mctx.SetLength(0)
		}
	}()
	defer close(stopFirmware)

	payload := make([]byte, 512)
	for i := range payload {
		payload[i] = byte(i * 3)
	}

	slave.EnableReceive(512)
	copy(master.Data(), payload)
	master.StartTransmission(512)

	slave.WaitForTransmissionToComplete(context.Background(), testPoll)
	master.WaitForTransmissionToComplete(context.Background(), testPoll)

	assert.True(t, master.IsTransmissionDone())
	assert.Equal(t, uint32(512), slave.LastTransmissionLength())
	assert.Equal(t, payload, slave.Data()[:512])

	master.Stop()
	slave.Stop()
	require.Nil(t, master.Wait())
	require.Nil(t, slave.Wait())
}
