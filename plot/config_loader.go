package plot

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed config_schema.cue
var configSchema string

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath: "cacaomap.db",
		Clustering: ClusteringConfig{
			EpsilonMeters: DefaultEpsilonMeters,
			MinPoints:     1,
		},
		Geometry: GeometryConfig{
			BufferMeters: DefaultBufferMeters,
			Segments:     DefaultBufferSegments,
		},
		Naming: NamingConfig{
			Species:              "Cacao",
			UnassignedParcelName: "Sin lote",
		},
		Classifier:     ClassifierRandom,
		MaturityStates: []string{"Inmaduro", "Transición", "Maduro", "Enfermo"},
		MQTT: MQTTConfig{
			ClientID:       "cacaomap",
			TelemetryTopic: "cacaomap/telemetry",
			PublishPrefix:  "cacaomap",
		},
		HTTP:   HTTPConfig{Port: 8080},
		Render: RenderConfig{JitterDelta: 0.0001, Scale: 10},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if err := ValidateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(path string, config *Config) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshaling config YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// ApplyEnvOverrides overlays environment variables onto config.
// Empty variables leave the file value untouched.
func ApplyEnvOverrides(config *Config) {
	set := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	set(&config.DatabasePath, "CACAOMAP_DB_PATH")
	set(&config.MQTT.Broker, "MQTT_BROKER")
	set(&config.MQTT.ClientID, "MQTT_CLIENT_ID")
	set(&config.MQTT.Username, "MQTT_USERNAME")
	set(&config.MQTT.Password, "MQTT_PASSWORD")
	set(&config.MQTT.PublishPrefix, "MQTT_PUBLISH_PREFIX")

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.HTTP.Port = port
		}
	}
}

// ValidateConfig checks config against the embedded CUE schema.
func ValidateConfig(config *Config) error {
	ctx := cuecontext.New()
	schema := ctx.CompileString(configSchema)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compiling config schema: %w", err)
	}

	def := schema.LookupPath(cue.ParsePath("#Config"))
	value := def.Unify(ctx.Encode(config))
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	return nil
}
