package plot

import (
	"database/sql/driver"
	"time"

	"gorm.io/datatypes"
)

// TelemetryReading is one normalized sensor observation from an ingestion batch.
// Valid is false when longitude or latitude was missing or non-numeric; such a
// reading is still archived but never located or clustered.
type TelemetryReading struct {
	Longitude   float64  `json:"longitude"`
	Latitude    float64  `json:"latitude"`
	RawValue    *float64 `json:"rawValue"`
	Voltage     *float64 `json:"voltage"`
	Capacitance *float64 `json:"capacitance"`
	Valid       bool     `json:"-"`
}

// Parcel is a land boundary maintained outside this service.
type Parcel struct {
	ID       string         `gorm:"primaryKey" json:"id"`
	Name     string         `json:"name"`
	Boundary datatypes.JSON `json:"boundary"` // GeoJSON MultiPolygon
}

// MaturityState is an entry of the cacao maturity catalog.
type MaturityState struct {
	ID   string `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex" json:"name"`
}

// GenerationStatus tracks a generation through staging and promotion.
type GenerationStatus string

const (
	GenerationPending GenerationStatus = "pending"
	GenerationActive  GenerationStatus = "active"
	GenerationRetired GenerationStatus = "retired"
	GenerationFailed  GenerationStatus = "failed"
)

// Value stores the status as plain text.
func (s GenerationStatus) Value() (driver.Value, error) {
	return string(s), nil
}

// Generation is the set of crop units and plants produced by one pipeline run.
type Generation struct {
	ID            string           `gorm:"primaryKey" json:"id"`
	Status        GenerationStatus `gorm:"index" json:"status"`
	ReadingCount  int              `json:"readingCount"`
	CropUnitCount int              `json:"cropUnitCount"`
	Error         string           `json:"error,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
	PromotedAt    *time.Time       `json:"promotedAt,omitempty"`
}

// CropUnit is a derived cluster of plants with a synthesized boundary.
type CropUnit struct {
	ID           string         `gorm:"primaryKey" json:"id"`
	Name         string         `json:"name"`
	Species      string         `json:"species"`
	ParcelID     *string        `gorm:"index" json:"parcelId"`
	Polygon      datatypes.JSON `json:"polygon"` // GeoJSON MultiPolygon
	Active       bool           `gorm:"index;not null;default:false" json:"active"`
	GenerationID string         `gorm:"index" json:"generationId"`
	ClusterLabel int            `json:"clusterLabel"`
}

// Plant is a derived point entity, one per crop unit of the same run.
type Plant struct {
	ID              string         `gorm:"primaryKey" json:"id"`
	CropUnitID      string         `gorm:"index" json:"cropUnitId"`
	MaturityStateID string         `gorm:"index" json:"maturityStateId"`
	Location        datatypes.JSON `json:"location"` // GeoJSON Point
	Active          bool           `gorm:"index;not null;default:false" json:"active"`
	GenerationID    string         `gorm:"index" json:"generationId"`
}

// MetricRecord archives an input reading verbatim. Rows are append-only.
type MetricRecord struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	Raw          *float64  `json:"raw"`
	Voltage      *float64  `json:"voltage"`
	Capacitance  *float64  `json:"capacitance"`
	Longitude    *float64  `json:"longitude"`
	Latitude     *float64  `json:"latitude"`
	GenerationID string    `gorm:"index" json:"generationId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// TableName keeps the archive table name stable.
func (MetricRecord) TableName() string { return "metrics" }

// RunResult is returned to the caller of a successful pipeline run.
type RunResult struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	Count        int    `json:"count"`
	GenerationID string `json:"generationId"`
	CropUnits    int    `json:"cropUnits"`
}

// ClusteringConfig controls the density clustering step.
type ClusteringConfig struct {
	EpsilonMeters float64 `yaml:"epsilonMeters" json:"epsilonMeters"`
	MinPoints     int     `yaml:"minPoints" json:"minPoints"`
}

// GeometryConfig controls the synthesized crop unit polygon.
type GeometryConfig struct {
	BufferMeters float64 `yaml:"bufferMeters" json:"bufferMeters"`
	Segments     int     `yaml:"segments" json:"segments"`
}

// NamingConfig controls crop unit naming and species.
type NamingConfig struct {
	Species              string `yaml:"species" json:"species"`
	UnassignedParcelName string `yaml:"unassignedParcelName" json:"unassignedParcelName"`
}

// MQTTConfig holds MQTT connection settings
type MQTTConfig struct {
	Broker         string `yaml:"broker" json:"broker"`
	ClientID       string `yaml:"clientId" json:"clientId"`
	Username       string `yaml:"username,omitempty" json:"username"`
	Password       string `yaml:"password,omitempty" json:"password"`
	TelemetryTopic string `yaml:"telemetryTopic" json:"telemetryTopic"`
	PublishPrefix  string `yaml:"publishPrefix" json:"publishPrefix"`
}

// HTTPConfig holds the HTTP listener settings.
type HTTPConfig struct {
	Port int `yaml:"port" json:"port"`
}

// RenderConfig controls map rendering.
type RenderConfig struct {
	JitterDelta float64 `yaml:"jitterDelta" json:"jitterDelta"` // degrees
	Scale       float64 `yaml:"scale" json:"scale"`             // canvas units per metre
}

// Config represents the full configuration file
type Config struct {
	DatabasePath   string           `yaml:"databasePath" json:"databasePath"`
	Clustering     ClusteringConfig `yaml:"clustering" json:"clustering"`
	Geometry       GeometryConfig   `yaml:"geometry" json:"geometry"`
	Naming         NamingConfig     `yaml:"naming" json:"naming"`
	Classifier     string           `yaml:"classifier" json:"classifier"` // "random" or "voltage"
	MaturityStates []string         `yaml:"maturityStates" json:"maturityStates"`
	MQTT           MQTTConfig       `yaml:"mqtt" json:"mqtt"`
	HTTP           HTTPConfig       `yaml:"http" json:"http"`
	Render         RenderConfig     `yaml:"render" json:"render"`
}
