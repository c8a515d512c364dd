package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.Nil(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
pru:
  firmware_dir: /opt/pru-firmware
  poll_interval_ms: 50
  receive_max_bytes: 512
polling:
  interval_ms: 20
  debounce_ms: 40
  workers: 2
buttons:
  - button: 0
    value: 0x01
    mask: 0x01
    command: "echo play"
    description: "play/pause"
  - button: 1
    value: 0xff
    command: "klipper:printer.gcode.script|{\"script\":\"G28\"}"
klipper:
  base_url: http://127.0.0.1:7125/
  api_key: secret
mqtt:
  broker_url: mqtt://127.0.0.1:1883/printer
api:
  enabled: true
  listen: 0.0.0.0:8689
`)
	cfg, err := Load(path)
	require.Nil(t, err)

	assert.Equal(t, "/opt/pru-firmware", cfg.PRU.FirmwareDir)
	assert.Equal(t, 50*time.Millisecond, cfg.PollInterval())
	assert.Equal(t, uint32(512), cfg.PRU.ReceiveMaxBytes)
	assert.Equal(t, 20*time.Millisecond, cfg.ScanInterval())
	assert.Equal(t, 40*time.Millisecond, cfg.Debounce())
	assert.Equal(t, 2, cfg.Polling.Workers)

	require.Len(t, cfg.Buttons, 2)
	assert.Equal(t, "play/pause", cfg.Buttons[0].Name())
	require.NotNil(t, cfg.Buttons[0].Mask)
	assert.Equal(t, uint8(0x01), *cfg.Buttons[0].Mask)
	assert.Nil(t, cfg.Buttons[1].Mask)
	assert.Equal(t, "button 1", cfg.Buttons[1].Name())

	require.NotNil(t, cfg.Klipper)
	assert.Equal(t, "secret", cfg.Klipper.APIKey)
	require.NotNil(t, cfg.MQTT)
	assert.Equal(t, "0.0.0.0:8689", cfg.API.Listen)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
buttons:
  - button: 3
    value: 1
    command: "true"
`)
	cfg, err := Load(path)
	require.Nil(t, err)

	d := Default()
	assert.Equal(t, d.PRU.PollIntervalMS, cfg.PRU.PollIntervalMS)
	assert.Equal(t, d.PRU.ReceiveMaxBytes, cfg.PRU.ReceiveMaxBytes)
	assert.Equal(t, d.Polling.IntervalMS, cfg.Polling.IntervalMS)
	assert.Equal(t, d.Polling.Workers, cfg.Polling.Workers)
	assert.Equal(t, d.API.Listen, cfg.API.Listen)
	assert.Nil(t, cfg.Klipper)
	assert.Nil(t, cfg.MQTT)
}

func TestLoadRejectsEmptyCommand(t *testing.T) {
	path := writeConfig(t, `
buttons:
  - button: 0
    value: 1
    command: ""
`)
	_, err := Load(path)
	assert.NotNil(t, err)
}

func TestLoadRejectsOversizedReceiveBound(t *testing.T) {
	path := writeConfig(t, `
pru:
  receive_max_bytes: 2048
`)
	_, err := Load(path)
	assert.NotNil(t, err)
}

func TestLoadRejectsIncompleteSections(t *testing.T) {
	_, err := Load(writeConfig(t, "klipper: {}\n"))
	assert.NotNil(t, err)

	_, err = Load(writeConfig(t, "mqtt: {}\n"))
	assert.NotNil(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.NotNil(t, err)
}
