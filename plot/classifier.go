package plot

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
)

// Classifier names accepted in config.
const (
	ClassifierRandom  = "random"
	ClassifierVoltage = "voltage"
)

// ErrEmptyCatalog is returned when no maturity states are available to assign.
var ErrEmptyCatalog = errors.New("maturity state catalog is empty")

// MaturityClassifier picks a maturity state id for the readings of one cluster.
type MaturityClassifier interface {
	Classify(readings []LocatedReading) (string, error)
}

// ClassifierFactory builds a classifier over the catalog fetched for a run.
type ClassifierFactory func(catalog []MaturityState) (MaturityClassifier, error)

// RandomClassifier assigns a uniformly random catalog state. It is the
// placeholder policy until readings can be mapped to maturity.
type RandomClassifier struct {
	catalog []MaturityState
	mu      sync.Mutex
	rng     *rand.Rand
}

// NewRandomClassifier returns a random classifier. A nil rng uses a randomly seeded source.
func NewRandomClassifier(catalog []MaturityState, rng *rand.Rand) (*RandomClassifier, error) {
	if len(catalog) == 0 {
		return nil, ErrEmptyCatalog
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &RandomClassifier{catalog: catalog, rng: rng}, nil
}

// Classify ignores the readings.
func (c *RandomClassifier) Classify([]LocatedReading) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.catalog[c.rng.IntN(len(c.catalog))].ID, nil
}

// VoltageThreshold maps readings below UpperVolts to the named state.
type VoltageThreshold struct {
	UpperVolts float64
	State      string
}

// DefaultVoltageThresholds follow the field calibration of the capacitance probes.
// Voltages at or above the last bound are classified as diseased.
var DefaultVoltageThresholds = []VoltageThreshold{
	{UpperVolts: 1, State: "Inmaduro"},
	{UpperVolts: 2, State: "Transición"},
	{UpperVolts: 3, State: "Maduro"},
}

// DiseasedState is assigned above every threshold.
const DiseasedState = "Enfermo"

// VoltageClassifier classifies a cluster by its mean voltage. Clusters without
// voltage, or whose state is missing from the catalog, go to Fallback.
type VoltageClassifier struct {
	Thresholds []VoltageThreshold
	Fallback   MaturityClassifier
	byName     map[string]string
}

// NewVoltageClassifier indexes the catalog by lower-cased name.
func NewVoltageClassifier(catalog []MaturityState, fallback MaturityClassifier) (*VoltageClassifier, error) {
	if len(catalog) == 0 {
		return nil, ErrEmptyCatalog
	}
	byName := make(map[string]string, len(catalog))
	for _, s := range catalog {
		byName[strings.ToLower(s.Name)] = s.ID
	}
	return &VoltageClassifier{
		Thresholds: DefaultVoltageThresholds,
		Fallback:   fallback,
		byName:     byName,
	}, nil
}

// Classify maps the mean voltage of the readings to a catalog state.
func (c *VoltageClassifier) Classify(readings []LocatedReading) (string, error) {
	var sum float64
	var n int
	for _, r := range readings {
		if r.Voltage != nil {
			sum += *r.Voltage
			n++
		}
	}
	if n == 0 {
		return c.fallback(readings)
	}

	if id, ok := c.byName[strings.ToLower(VoltageState(sum/float64(n), c.Thresholds))]; ok {
		return id, nil
	}
	return c.fallback(readings)
}

func (c *VoltageClassifier) fallback(readings []LocatedReading) (string, error) {
	if c.Fallback == nil {
		return "", fmt.Errorf("no maturity state for readings and no fallback classifier")
	}
	return c.Fallback.Classify(readings)
}

// VoltageState names the state for a voltage.
func VoltageState(volts float64, thresholds []VoltageThreshold) string {
	for _, t := range thresholds {
		if volts < t.UpperVolts {
			return t.State
		}
	}
	return DiseasedState
}

// NewClassifierFactory returns the factory for a configured classifier name.
func NewClassifierFactory(name string) (ClassifierFactory, error) {
	switch name {
	case "", ClassifierRandom:
		return func(catalog []MaturityState) (MaturityClassifier, error) {
			return NewRandomClassifier(catalog, nil)
		}, nil
	case ClassifierVoltage:
		return func(catalog []MaturityState) (MaturityClassifier, error) {
			fallback, err := NewRandomClassifier(catalog, nil)
			if err != nil {
				return nil, err
			}
			return NewVoltageClassifier(catalog, fallback)
		}, nil
	default:
		return nil, fmt.Errorf("unknown classifier %q", name)
	}
}
