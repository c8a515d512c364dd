// Package daemon turns inbound PRU button frames into shell commands,
// Klipper API calls and MQTT notifications.
package daemon

import (
	"context"
	"strconv"
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/kpishere/SPIButtonController-BBB/pkg/command"
	"github.com/kpishere/SPIButtonController-BBB/pkg/config"
	"github.com/kpishere/SPIButtonController-BBB/pkg/pru"
)

// Daemon runs the receive loop: arm the slave transport, wait for a button
// frame, diff it against the previous frame and dispatch the commands of
// every mapping whose button changed into a matching state.
type Daemon struct {
	slave    *pru.Slave
	executor *command.Executor
	klipper  *command.KlipperClient
	notifier *Notifier
	pool     *ants.Pool
	stats    *Stats
	logger   *zap.Logger

	mu  sync.RWMutex
	cfg *config.Config

	// Keyed by the button's byte offset.
	buttonState cmap.ConcurrentMap[string, uint8]
	lastEvent   cmap.ConcurrentMap[string, time.Time]
	// Klipper request correlation, request ID to trigger label.
	pending cmap.ConcurrentMap[string, string]
}

// New builds a daemon around an initialized slave transport. The MQTT
// connection, when configured, is established eagerly so a bad broker URL
// surfaces at startup.
func New(slave *pru.Slave, cfg *config.Config, stats *Stats, logger *zap.Logger) (*Daemon, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Daemon{
		slave:       slave,
		executor:    command.NewExecutor(logger, 30*time.Second),
		stats:       stats,
		logger:      logger,
		cfg:         cfg,
		buttonState: cmap.New[uint8](),
		lastEvent:   cmap.New[time.Time](),
		pending:     cmap.New[string](),
	}

	pool, err := ants.NewPool(cfg.Polling.Workers, ants.WithPanicHandler(func(v interface{}) {
		logger.Error("trigger worker panic", zap.Any("panic", v))
	}))
	if err != nil {
		return nil, err
	}
	d.pool = pool

	if cfg.Klipper != nil {
		d.klipper = command.NewKlipperClient(cfg.Klipper.BaseURL, cfg.Klipper.APIKey, logger)
		go d.consumeKlipperEvents()
	}
	if cfg.MQTT != nil {
		n, err := NewNotifier(cfg.MQTT.BrokerURL, logger)
		if err != nil {
			pool.Release()
			return nil, err
		}
		if err := n.Connect(); err != nil {
			logger.Warn("mqtt connect failed, notifications disabled until reconnect",
				zap.Error(err))
		}
		d.notifier = n
	}
	return d, nil
}

// Run drives the receive loop until the context is cancelled. The slave
// must already be started.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info("button loop running")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		d.mu.RLock()
		maxBytes := d.cfg.PRU.ReceiveMaxBytes
		pollInterval := d.cfg.PollInterval()
		scanInterval := d.cfg.ScanInterval()
		d.mu.RUnlock()

		d.slave.EnableReceive(maxBytes)
		d.slave.WaitForTransmissionToComplete(ctx, pollInterval)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n := d.slave.LastTransmissionLength()
		data := d.slave.Data()
		if n > 0 && data != nil {
			if int(n) > len(data) {
				n = uint32(len(data))
			}
			frame := make([]byte, n)
			copy(frame, data[:n])
			d.stats.FramesReceived.Inc()
			d.stats.LastFrameBytes.Set(float64(n))
			d.processFrame(ctx, frame)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(scanInterval):
		}
	}
}

// processFrame diffs one frame against the stored button states and
// dispatches every mapping that matches a changed byte.
func (d *Daemon) processFrame(ctx context.Context, frame []byte) {
	d.mu.RLock()
	mappings := d.cfg.Buttons
	debounce := d.cfg.Debounce()
	d.mu.RUnlock()

	for i := range mappings {
		m := &mappings[i]
		if int(m.Button) >= len(frame) {
			continue
		}
		v := frame[m.Button]
		key := strconv.Itoa(int(m.Button))

		prev, seen := d.buttonState.Get(key)
		d.buttonState.Set(key, v)
		if seen && prev == v {
			continue
		}
		if !matches(m, v) {
			continue
		}

		if last, ok := d.lastEvent.Get(key); ok && time.Since(last) < debounce {
			d.stats.DebouncedEvents.Inc()
			d.logger.Debug("debounced", zap.String("button", m.Name()))
			continue
		}
		d.lastEvent.Set(key, time.Now())
		d.dispatch(ctx, m, v)
	}
}

func matches(m *config.ButtonMapping, v uint8) bool {
	if m.Mask != nil {
		return v&*m.Mask == m.Value
	}
	return v == m.Value
}

// dispatch hands the mapping's command to the worker pool.
func (d *Daemon) dispatch(ctx context.Context, m *config.ButtonMapping, v uint8) {
	d.stats.TriggersFired.Inc()
	d.logger.Info("trigger",
		zap.String("button", m.Name()),
		zap.Uint8("value", v),
		zap.String("command", m.Command),
	)

	name, cmd := m.Name(), m.Command
	button := m.Button
	err := d.pool.Submit(func() {
		if command.IsKlipperCommand(cmd) {
			if d.klipper == nil {
				d.logger.Warn("klipper command without klipper config",
					zap.String("button", name))
				d.stats.CommandsFailed.Inc()
				return
			}
			d.klipper.Send(ctx, cmd, command.NewRequestID(), name)
		} else if err := d.executor.Execute(ctx, cmd); err != nil {
			d.stats.CommandsFailed.Inc()
			d.logger.Warn("command failed", zap.String("button", name), zap.Error(err))
		}
		if d.notifier != nil {
			d.notifier.Publish(ButtonEvent{
				Button:  button,
				Value:   v,
				Name:    name,
				Command: cmd,
				At:      time.Now(),
			})
		}
	})
	if err != nil {
		d.stats.CommandsFailed.Inc()
		d.logger.Warn("worker pool rejected trigger", zap.Error(err))
	}
}

// consumeKlipperEvents correlates issued Klipper requests with their
// responses for logging and failure accounting.
func (d *Daemon) consumeKlipperEvents() {
	for ev := range d.klipper.Events() {
		switch ev.Kind {
		case command.EventIssued:
			d.pending.Set(ev.RequestID, ev.TriggerInfo)
		case command.EventResponse:
			trigger, _ := d.pending.Pop(ev.RequestID)
			if ev.Success {
				d.logger.Debug("klipper response",
					zap.String("trigger", trigger),
					zap.String("requestID", ev.RequestID),
					zap.String("status", ev.Status),
				)
				continue
			}
			d.stats.CommandsFailed.Inc()
			d.logger.Warn("klipper request failed",
				zap.String("trigger", trigger),
				zap.String("requestID", ev.RequestID),
				zap.String("status", ev.Status),
			)
		}
	}
}

// Reload swaps in a new configuration and clears the per-button state so
// the next frame is evaluated fresh. Klipper and MQTT endpoints are fixed
// at startup; changes to those sections need a restart.
func (d *Daemon) Reload(cfg *config.Config) {
	d.mu.Lock()
	old := d.cfg
	d.cfg = cfg
	d.mu.Unlock()

	d.buttonState.Clear()
	d.lastEvent.Clear()
	d.pool.Tune(cfg.Polling.Workers)

	if !sameEndpoint(old, cfg) {
		d.logger.Warn("klipper/mqtt endpoint changes are ignored on reload, restart to apply")
	}
	d.logger.Info("configuration reloaded", zap.Int("buttons", len(cfg.Buttons)))
}

func sameEndpoint(a, b *config.Config) bool {
	switch {
	case (a.Klipper == nil) != (b.Klipper == nil):
		return false
	case a.Klipper != nil && a.Klipper.BaseURL != b.Klipper.BaseURL:
		return false
	case (a.MQTT == nil) != (b.MQTT == nil):
		return false
	case a.MQTT != nil && a.MQTT.BrokerURL != b.MQTT.BrokerURL:
		return false
	}
	return true
}

// Snapshot exposes the daemon's counters for the status API.
func (d *Daemon) Snapshot() Snapshot {
	return d.stats.Snapshot()
}

// Close releases the worker pool and the MQTT connection. The receive
// loop must have returned first.
func (d *Daemon) Close() {
	d.pool.Release()
	if d.notifier != nil {
		d.notifier.Close()
	}
}
