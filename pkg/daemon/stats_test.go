package daemon

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestStatsSnapshot(t *testing.T) {
	s := NewStats(prometheus.NewRegistry())
	s.FramesReceived.Inc()
	s.FramesReceived.Inc()
	s.TriggersFired.Inc()
	s.LastFrameBytes.Set(17)

	snap := s.Snapshot()
	assert.Equal(t, float64(2), snap.FramesReceived)
	assert.Equal(t, float64(1), snap.TriggersFired)
	assert.Equal(t, float64(0), snap.CommandsFailed)
	assert.Equal(t, float64(17), snap.LastFrameBytes)
}

func TestStatsRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewStats(reg)
	assert.Panics(t, func() { NewStats(reg) }, "duplicate registration must panic")
}
