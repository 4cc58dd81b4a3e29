package plot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, ValidateConfig(cfg))
	assert.Equal(t, DefaultEpsilonMeters, cfg.Clustering.EpsilonMeters)
	assert.Equal(t, 1, cfg.Clustering.MinPoints)
	assert.Equal(t, DefaultBufferSegments, cfg.Geometry.Segments)
	assert.Equal(t, "Sin lote", cfg.Naming.UnassignedParcelName)
	assert.Equal(t, "Cacao", cfg.Naming.Species)
}

func TestValidateConfig_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero epsilon", func(c *Config) { c.Clustering.EpsilonMeters = 0 }},
		{"negative epsilon", func(c *Config) { c.Clustering.EpsilonMeters = -1 }},
		{"zero min points", func(c *Config) { c.Clustering.MinPoints = 0 }},
		{"too few segments", func(c *Config) { c.Geometry.Segments = 4 }},
		{"unknown classifier", func(c *Config) { c.Classifier = "neural" }},
		{"port out of range", func(c *Config) { c.HTTP.Port = 70000 }},
		{"empty database path", func(c *Config) { c.DatabasePath = "" }},
		{"negative jitter", func(c *Config) { c.Render.JitterDelta = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, ValidateConfig(cfg))
		})
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
databasePath: /var/lib/cacaomap/plots.db
clustering:
  epsilonMeters: 30
classifier: voltage
mqtt:
  broker: tcp://broker:1883
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/cacaomap/plots.db", cfg.DatabasePath)
	assert.Equal(t, 30.0, cfg.Clustering.EpsilonMeters)
	assert.Equal(t, 1, cfg.Clustering.MinPoints, "unset keys keep defaults")
	assert.Equal(t, ClassifierVoltage, cfg.Classifier)
	assert.Equal(t, "tcp://broker:1883", cfg.MQTT.Broker)
	assert.Equal(t, "cacaomap/telemetry", cfg.MQTT.TelemetryTopic)
}

func TestLoadConfig_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.ErrorContains(t, err, "config file not found")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("clustering: [unclosed"), 0644))
	_, err = LoadConfig(bad)
	assert.ErrorContains(t, err, "parsing config YAML")

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("clustering:\n  epsilonMeters: 0\n"), 0644))
	_, err = LoadConfig(invalid)
	assert.ErrorContains(t, err, "validating config")
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.Clustering.EpsilonMeters = 12.5
	cfg.MQTT.Broker = "tcp://localhost:1883"

	require.NoError(t, SaveConfig(path, cfg))
	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CACAOMAP_DB_PATH", "/tmp/env.db")
	t.Setenv("MQTT_BROKER", "tcp://env:1883")
	t.Setenv("MQTT_USERNAME", "finca")
	t.Setenv("MQTT_PASSWORD", "")
	t.Setenv("PORT", "9090")

	cfg := DefaultConfig()
	cfg.MQTT.Password = "from-file"
	ApplyEnvOverrides(cfg)

	assert.Equal(t, "/tmp/env.db", cfg.DatabasePath)
	assert.Equal(t, "tcp://env:1883", cfg.MQTT.Broker)
	assert.Equal(t, "finca", cfg.MQTT.Username)
	assert.Equal(t, "from-file", cfg.MQTT.Password, "empty variables are ignored")
	assert.Equal(t, 9090, cfg.HTTP.Port)
}

func TestApplyEnvOverrides_BadPort(t *testing.T) {
	t.Setenv("PORT", "eighty")
	cfg := DefaultConfig()
	ApplyEnvOverrides(cfg)
	assert.Equal(t, 8080, cfg.HTTP.Port)
}
