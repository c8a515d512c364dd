package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kpishere/SPIButtonController-BBB/pkg/config"
	"github.com/kpishere/SPIButtonController-BBB/pkg/pru"
)

func testConfig(buttons ...config.ButtonMapping) *config.Config {
	cfg := config.Default()
	cfg.PRU.PollIntervalMS = 2
	cfg.Polling.IntervalMS = 2
	cfg.Polling.DebounceMS = 0
	cfg.Buttons = buttons
	return cfg
}

func newTestDaemon(t *testing.T, cfg *config.Config) (*Daemon, *pru.Slave, pru.Binding) {
	t.Helper()
	b := pru.NewMemBinding()
	slave := pru.NewSlave(b, pru.Options{PollInterval: 2 * time.Millisecond})
	require.NoError(t, slave.Init())

	stats := NewStats(prometheus.NewRegistry())
	d, err := New(slave, cfg, stats, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		d.Close()
		_ = slave.Cleanup()
	})
	return d, slave, b
}

func TestMatches(t *testing.T) {
	m := &config.ButtonMapping{Value: 0x01}
	assert.True(t, matches(m, 0x01))
	assert.False(t, matches(m, 0x03))

	mask := uint8(0x01)
	m = &config.ButtonMapping{Value: 0x01, Mask: &mask}
	assert.True(t, matches(m, 0x01))
	assert.True(t, matches(m, 0x03), "masked compare ignores other bits")
	assert.False(t, matches(m, 0x02))
}

func TestProcessFrameFiresOnChange(t *testing.T) {
	cfg := testConfig(config.ButtonMapping{Button: 0, Value: 1, Command: "true"})
	d, _, _ := newTestDaemon(t, cfg)

	ctx := context.Background()
	d.processFrame(ctx, []byte{1})
	assert.Equal(t, float64(1), counterValue(d.stats.TriggersFired))

	// Same value again, no edge.
	d.processFrame(ctx, []byte{1})
	assert.Equal(t, float64(1), counterValue(d.stats.TriggersFired))

	// Release then press again.
	d.processFrame(ctx, []byte{0})
	d.processFrame(ctx, []byte{1})
	assert.Equal(t, float64(2), counterValue(d.stats.TriggersFired))
}

func TestProcessFrameDebounce(t *testing.T) {
	cfg := testConfig(config.ButtonMapping{Button: 0, Value: 1, Command: "true"})
	cfg.Polling.DebounceMS = 60_000
	d, _, _ := newTestDaemon(t, cfg)

	ctx := context.Background()
	d.processFrame(ctx, []byte{1})
	d.processFrame(ctx, []byte{0})
	d.processFrame(ctx, []byte{1})

	assert.Equal(t, float64(1), counterValue(d.stats.TriggersFired))
	assert.Equal(t, float64(1), counterValue(d.stats.DebouncedEvents))
}

func TestProcessFrameButtonBeyondFrame(t *testing.T) {
	cfg := testConfig(config.ButtonMapping{Button: 9, Value: 1, Command: "true"})
	d, _, _ := newTestDaemon(t, cfg)

	d.processFrame(context.Background(), []byte{1, 1})
	assert.Zero(t, counterValue(d.stats.TriggersFired))
}

func TestRunReceivesFrame(t *testing.T) {
	cfg := testConfig(config.ButtonMapping{Button: 0, Value: 0x42, Command: "true"})
	d, _, b := newTestDaemon(t, cfg)

	// Firmware double: answer the first armed receive with a one-byte frame.
	sctx, err := b.MapContext(pru.SlaveCore)
	require.NoError(t, err)
	go func() {
		for sctx.SlaveMaxLength() == 0 {
			time.Sleep(time.Millisecond)
		}
		sctx.Buffer()[0] = 0x42
		sctx.SetLength(1)
		sctx.SetSlaveMaxLength(0)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	assert.Eventually(t, func() bool {
		return counterValue(d.stats.FramesReceived) >= 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, counterValue(d.stats.TriggersFired), float64(1))

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("run loop did not exit on cancel")
	}
}

func TestReloadClearsState(t *testing.T) {
	cfg := testConfig(config.ButtonMapping{Button: 0, Value: 1, Command: "true"})
	d, _, _ := newTestDaemon(t, cfg)

	ctx := context.Background()
	d.processFrame(ctx, []byte{1})
	require.Equal(t, float64(1), counterValue(d.stats.TriggersFired))

	// After a reload the held value counts as a fresh edge again.
	d.Reload(testConfig(config.ButtonMapping{Button: 0, Value: 1, Command: "true"}))
	d.processFrame(ctx, []byte{1})
	assert.Equal(t, float64(2), counterValue(d.stats.TriggersFired))
}
