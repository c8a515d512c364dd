package daemon

import (
	"os"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shirou/gopsutil/v3/process"
)

// Stats aggregates the daemon's Prometheus instruments. Counters are
// registered on the supplied registerer so the API layer can expose them,
// and Snapshot surfaces the same values as plain numbers for /v1/stats.
type Stats struct {
	FramesReceived  prometheus.Counter
	TriggersFired   prometheus.Counter
	CommandsFailed  prometheus.Counter
	DebouncedEvents prometheus.Counter
	LastFrameBytes  prometheus.Gauge
}

// NewStats creates and registers the daemon instruments. A nil registerer
// uses the default registry.
func NewStats(reg prometheus.Registerer) *Stats {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &Stats{
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spibuttond_frames_received_total",
			Help: "Button frames received from the PRU transport.",
		}),
		TriggersFired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spibuttond_triggers_fired_total",
			Help: "Button mappings whose command was dispatched.",
		}),
		CommandsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spibuttond_commands_failed_total",
			Help: "Dispatched commands that returned an error.",
		}),
		DebouncedEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "spibuttond_debounced_events_total",
			Help: "Button changes suppressed by the debounce window.",
		}),
		LastFrameBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "spibuttond_last_frame_bytes",
			Help: "Length of the most recent button frame.",
		}),
	}
	reg.MustRegister(s.FramesReceived, s.TriggersFired, s.CommandsFailed,
		s.DebouncedEvents, s.LastFrameBytes)
	return s
}

// Snapshot is the JSON shape served by the stats endpoint.
type Snapshot struct {
	FramesReceived  float64 `json:"frames_received"`
	TriggersFired   float64 `json:"triggers_fired"`
	CommandsFailed  float64 `json:"commands_failed"`
	DebouncedEvents float64 `json:"debounced_events"`
	LastFrameBytes  float64 `json:"last_frame_bytes"`
	CPUPercent      float64 `json:"cpu_percent"`
	RSSBytes        uint64  `json:"rss_bytes"`
}

// Snapshot reads the current counter values together with process CPU and
// memory usage.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		FramesReceived:  counterValue(s.FramesReceived),
		TriggersFired:   counterValue(s.TriggersFired),
		CommandsFailed:  counterValue(s.CommandsFailed),
		DebouncedEvents: counterValue(s.DebouncedEvents),
		LastFrameBytes:  gaugeValue(s.LastFrameBytes),
	}
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if pct, err := proc.CPUPercent(); err == nil {
			snap.CPUPercent = pct
		}
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			snap.RSSBytes = mem.RSS
		}
	}
	return snap
}

func counterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil || m.Counter == nil {
		return 0
	}
	return m.Counter.GetValue()
}

func gaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil || m.Gauge == nil {
		return 0
	}
	return m.Gauge.GetValue()
}
