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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DEVICE_URL", "")
	cfg, err := Load(writeConfig(t, "server:\n  port: 9090\n"))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Server.StatusCacheSeconds)
	assert.Equal(t, "http://127.0.0.1:5000", cfg.Device.URL)
	assert.Equal(t, 5*time.Second, cfg.Device.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Device.SimulatedDelay)
	assert.False(t, cfg.Device.SimulateOnTransportFailure)
	assert.Equal(t, uint32(3), cfg.Device.Breaker.ConsecutiveFailures)
	assert.Equal(t, 30*time.Second, cfg.Device.Breaker.OpenTimeout)
	assert.Equal(t, 30*time.Second, cfg.Device.ProbeInterval)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "medikiosk.db", cfg.Database.DSN)
	assert.Equal(t, 1, cfg.WorkerPool.Size)
	assert.Equal(t, "simulated", cfg.Controller.Actuator)
	assert.Equal(t, []int{0, 1, 2, 3}, cfg.Controller.Channels)
	assert.Equal(t, 90.0, cfg.Controller.DispenseAngle)
	assert.Equal(t, time.Second, cfg.Controller.SettleDuration)
}

func TestLoad_DispenseAngle(t *testing.T) {
	t.Setenv("DEVICE_URL", "")
	testCases := []struct {
		name     string
		body     string
		expected float64
	}{
		{"absent uses default", "controller:\n  port: 5000\n", DefaultDispenseAngle},
		{"explicit zero is kept", "controller:\n  dispense_angle: 0\n  rest_angle: 90\n", 0},
		{"explicit value", "controller:\n  dispense_angle: 120\n", 120},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tc.body))
			require.NoError(t, err)
			assert.Equal(t, tc.expected, cfg.Controller.DispenseAngle)
		})
	}
}

func TestLoad_ExampleFile(t *testing.T) {
	t.Setenv("DEVICE_URL", "")
	cfg, err := Load("config.example.yaml")
	require.NoError(t, err)

	assert.Equal(t, "http://192.168.1.50:5000", cfg.Device.URL)
	assert.Equal(t, 45, cfg.Inventory.InitialStock["stomachAche"])
	assert.Equal(t, 5, cfg.Inventory.LowStockThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Controller.MoveDuration)
}

func TestLoad_DeviceURLFromEnv(t *testing.T) {
	t.Setenv("DEVICE_URL", "http://10.0.0.9:5000")
	cfg, err := Load(writeConfig(t, "device:\n  url: http://192.168.1.50:5000\n  simulate_on_transport_failure: true\n"))
	require.NoError(t, err)

	assert.Equal(t, "http://10.0.0.9:5000", cfg.Device.URL)
	assert.True(t, cfg.Device.SimulateOnTransportFailure)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [not, a, map]\n"))
	assert.Error(t, err)
}

func TestLocation(t *testing.T) {
	assert.Equal(t, time.UTC, ServerConfig{Timezone: "UTC"}.Location())
	assert.Equal(t, time.Local, ServerConfig{Timezone: "Not/AZone"}.Location())
}
