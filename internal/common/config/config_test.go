package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	_errors "github.com/mirzahilmi/heartsensor/broker/internal/common/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadJSONDefaults(t *testing.T) {
	path := writeFile(t, "config.json", `{"isDevelopment": true}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment)
	assert.EqualValues(t, 8090, cfg.Port)
	assert.EqualValues(t, 5, cfg.ShutdownTimeout)
	assert.Equal(t, "./public", cfg.PublicDir)
	assert.Equal(t, 100*time.Millisecond, cfg.Acquisition.Interval())
	assert.Equal(t, 64, cfg.Broadcast.ClientBuffer)
	assert.False(t, cfg.Mqtt.Enabled())
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
port: 9000
acquisition:
  intervalMs: 250
mqtt:
  brokerUrl: tcp://localhost:1883
openSignals:
  - type: gsr
    path: /tmp/gsr.txt
simulator:
  sensors:
    - id: 1
      name: Polar H10
      capabilities: [ecg, hr]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.EqualValues(t, 9000, cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.Acquisition.Interval())
	assert.True(t, cfg.Mqtt.Enabled())
	assert.Equal(t, "hsl/sensors", cfg.Mqtt.TopicPrefix)
	require.Len(t, cfg.OpenSignals, 1)
	assert.Equal(t, "gsr", cfg.OpenSignals[0].Type)
	require.Len(t, cfg.Simulator.Sensors, 1)
	assert.Equal(t, []string{"ecg", "hr"}, cfg.Simulator.Sensors[0].Capabilities)
}

func TestLoadValidation(t *testing.T) {
	path := writeFile(t, "config.json", `{
		"openSignals": [{"type": "ppg"}],
		"simulator": {"sensors": [{"id": 1}, {"id": 1, "capabilities": ["eeg"]}]}
	}`)

	_, err := Load(path)
	require.Error(t, err)

	var validation *_errors.ValidationError
	require.True(t, errors.As(err, &validation))
	fields := validation.Fields()
	assert.Contains(t, fields, "openSignals[0].type")
	assert.Contains(t, fields, "openSignals[0].path")
	assert.Contains(t, fields, "simulator.sensors[1].id")
	assert.Contains(t, fields, "simulator.sensors[1].capabilities")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}
