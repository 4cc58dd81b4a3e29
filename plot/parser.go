package plot

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// ErrNotJSONArray is returned when an ingestion body is not a JSON array of objects.
var ErrNotJSONArray = errors.New("telemetry batch must be a JSON array of objects")

// Field aliases accepted from the sensor feed. The first name is canonical.
var (
	rawValueKeys    = []string{"rawValue", "raw"}
	voltageKeys     = []string{"voltage", "voltaje"}
	capacitanceKeys = []string{"capacitance", "capacitancia"}
)

// ParseReadingsFile reads and parses a telemetry batch JSON file
func ParseReadingsFile(path string) ([]TelemetryReading, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return ParseReadings(data)
}

// ParseReadings decodes a JSON array of reading payloads and normalizes each one.
// Field-level problems never fail the batch; see NormalizePayload.
func ParseReadings(data []byte) ([]TelemetryReading, error) {
	var payloads []map[string]any
	if err := json.Unmarshal(data, &payloads); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotJSONArray, err)
	}
	if payloads == nil {
		return nil, ErrNotJSONArray
	}
	return NormalizePayloads(payloads), nil
}

// NormalizePayloads normalizes payloads in order without dropping any.
func NormalizePayloads(payloads []map[string]any) []TelemetryReading {
	readings := make([]TelemetryReading, len(payloads))
	for i, p := range payloads {
		readings[i] = NormalizePayload(p)
	}
	return readings
}

// NormalizePayload converts one raw payload into a TelemetryReading.
// Optional measurements become nil when absent or non-numeric. A reading with a
// missing or non-numeric coordinate is kept but marked invalid.
func NormalizePayload(p map[string]any) TelemetryReading {
	lon, lonOK := numeric(p["longitude"])
	lat, latOK := numeric(p["latitude"])

	r := TelemetryReading{
		RawValue:    firstNumeric(p, rawValueKeys),
		Voltage:     firstNumeric(p, voltageKeys),
		Capacitance: firstNumeric(p, capacitanceKeys),
		Valid:       lonOK && latOK,
	}
	if r.Valid {
		r.Longitude = lon
		r.Latitude = lat
	} else {
		r.Longitude = math.NaN()
		r.Latitude = math.NaN()
	}
	return r
}

func firstNumeric(p map[string]any, keys []string) *float64 {
	for _, k := range keys {
		if v, ok := numeric(p[k]); ok {
			return &v
		}
	}
	return nil
}

// numeric accepts JSON numbers only; strings, booleans and non-finite values are rejected.
func numeric(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// NewMetricRecords archives every reading, invalid ones included, under a generation.
func NewMetricRecords(readings []TelemetryReading, generationID string, newID func() string) []MetricRecord {
	records := make([]MetricRecord, len(readings))
	for i, r := range readings {
		rec := MetricRecord{
			ID:           newID(),
			Raw:          r.RawValue,
			Voltage:      r.Voltage,
			Capacitance:  r.Capacitance,
			GenerationID: generationID,
		}
		if r.Valid {
			lon, lat := r.Longitude, r.Latitude
			rec.Longitude = &lon
			rec.Latitude = &lat
		}
		records[i] = rec
	}
	return records
}
