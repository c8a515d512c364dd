// Package config loads and validates the daemon's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is where the daemon looks when no -confPath flag is given.
const DefaultPath = "/etc/spi-button-controller/config.yaml"

// Config is the root of the configuration file.
type Config struct {
	PRU     PRUConfig       `yaml:"pru"`
	Polling PollingConfig   `yaml:"polling"`
	Buttons []ButtonMapping `yaml:"buttons"`
	Klipper *KlipperConfig  `yaml:"klipper,omitempty"`
	MQTT    *MQTTConfig     `yaml:"mqtt,omitempty"`
	API     APIConfig       `yaml:"api"`
}

// PRUConfig configures the shared-memory transport.
type PRUConfig struct {
	// FirmwareDir holds the PRU firmware images. Empty means search the
	// well-known install prefixes.
	FirmwareDir string `yaml:"firmware_dir"`
	// PollIntervalMS is the monitor loop and wait helper interval.
	PollIntervalMS uint64 `yaml:"poll_interval_ms"`
	// ReceiveMaxBytes is the inbound frame bound armed on the slave.
	ReceiveMaxBytes uint32 `yaml:"receive_max_bytes"`
}

// PollingConfig configures the button scan loop.
type PollingConfig struct {
	IntervalMS uint64 `yaml:"interval_ms"`
	DebounceMS uint64 `yaml:"debounce_ms"`
	// Workers sizes the trigger-command worker pool.
	Workers int `yaml:"workers"`
}

// KlipperConfig points klipper:-prefixed commands at a Moonraker/Klipper
// API server.
type KlipperConfig struct {
	// BaseURL of the JSON-RPC endpoint, e.g. http://127.0.0.1:7125/
	BaseURL string `yaml:"base_url"`
	// APIKey is sent with each request when the server requires one.
	APIKey string `yaml:"api_key,omitempty"`
}

// MQTTConfig enables publishing trigger events to a broker. The URL path
// becomes the topic prefix, e.g. mqtt://host:1883/printer/front-panel.
type MQTTConfig struct {
	BrokerURL string `yaml:"broker_url"`
}

// APIConfig configures the status HTTP API.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// ButtonMapping triggers a command when a frame byte matches a value,
// optionally under a mask.
type ButtonMapping struct {
	// Button is the byte offset of this button's state in the frame.
	Button uint8 `yaml:"button"`
	// Value the (masked) byte must equal to fire the trigger.
	Value uint8 `yaml:"value"`
	// Mask, when set, is ANDed with the frame byte before comparing.
	Mask *uint8 `yaml:"mask,omitempty"`
	// Command is a shell command, or a klipper:METHOD|{json} API call.
	Command     string `yaml:"command"`
	Description string `yaml:"description,omitempty"`
}

// Name returns the mapping's human label, falling back to the offset.
func (m *ButtonMapping) Name() string {
	if m.Description != "" {
		return m.Description
	}
	return fmt.Sprintf("button %d", m.Button)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		PRU: PRUConfig{
			PollIntervalMS:  300,
			ReceiveMaxBytes: 0x400,
		},
		Polling: PollingConfig{
			IntervalMS: 100,
			DebounceMS: 50,
			Workers:    4,
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8689",
		},
	}
}

// Load reads, fills in defaults and validates a configuration file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.PRU.PollIntervalMS == 0 {
		c.PRU.PollIntervalMS = d.PRU.PollIntervalMS
	}
	if c.PRU.ReceiveMaxBytes == 0 {
		c.PRU.ReceiveMaxBytes = d.PRU.ReceiveMaxBytes
	}
	if c.Polling.IntervalMS == 0 {
		c.Polling.IntervalMS = d.Polling.IntervalMS
	}
	if c.Polling.Workers <= 0 {
		c.Polling.Workers = d.Polling.Workers
	}
	if c.API.Listen == "" {
		c.API.Listen = d.API.Listen
	}
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.PRU.ReceiveMaxBytes > 0x400 {
		return fmt.Errorf("pru.receive_max_bytes %d exceeds the %d byte frame buffer", c.PRU.ReceiveMaxBytes, 0x400)
	}
	for i := range c.Buttons {
		m := &c.Buttons[i]
		if m.Command == "" {
			return fmt.Errorf("buttons[%d] (%s): empty command", i, m.Name())
		}
	}
	if c.Klipper != nil && c.Klipper.BaseURL == "" {
		return fmt.Errorf("klipper.base_url is required when the klipper section is present")
	}
	if c.MQTT != nil && c.MQTT.BrokerURL == "" {
		return fmt.Errorf("mqtt.broker_url is required when the mqtt section is present")
	}
	return nil
}

// PollInterval returns the transport poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PRU.PollIntervalMS) * time.Millisecond
}

// ScanInterval returns the button scan interval as a duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.Polling.IntervalMS) * time.Millisecond
}

// Debounce returns the per-button debounce window as a duration.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Polling.DebounceMS) * time.Millisecond
}
