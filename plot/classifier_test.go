package plot

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() []MaturityState {
	return []MaturityState{
		{ID: "s1", Name: "Inmaduro"},
		{ID: "s2", Name: "Transición"},
		{ID: "s3", Name: "Maduro"},
		{ID: "s4", Name: "Enfermo"},
	}
}

func withVoltage(v float64) LocatedReading {
	r := reading(0, 0)
	r.Voltage = &v
	return LocatedReading{TelemetryReading: r}
}

func TestRandomClassifier(t *testing.T) {
	c, err := NewRandomClassifier(testCatalog(), rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)

	valid := map[string]bool{"s1": true, "s2": true, "s3": true, "s4": true}
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id, err := c.Classify(nil)
		require.NoError(t, err)
		assert.True(t, valid[id], "unexpected state %q", id)
		seen[id] = true
	}
	assert.Len(t, seen, 4, "uniform choice reaches every state")
}

func TestRandomClassifier_Seeded(t *testing.T) {
	a, _ := NewRandomClassifier(testCatalog(), rand.New(rand.NewPCG(7, 7)))
	b, _ := NewRandomClassifier(testCatalog(), rand.New(rand.NewPCG(7, 7)))
	for i := 0; i < 10; i++ {
		x, _ := a.Classify(nil)
		y, _ := b.Classify(nil)
		assert.Equal(t, x, y)
	}
}

func TestEmptyCatalog(t *testing.T) {
	_, err := NewRandomClassifier(nil, nil)
	assert.True(t, errors.Is(err, ErrEmptyCatalog))

	_, err = NewVoltageClassifier(nil, nil)
	assert.True(t, errors.Is(err, ErrEmptyCatalog))

	for _, name := range []string{ClassifierRandom, ClassifierVoltage} {
		factory, err := NewClassifierFactory(name)
		require.NoError(t, err)
		_, err = factory(nil)
		assert.ErrorIs(t, err, ErrEmptyCatalog, name)
	}
}

func TestVoltageState(t *testing.T) {
	tests := []struct {
		volts float64
		want  string
	}{
		{0, "Inmaduro"},
		{0.99, "Inmaduro"},
		{1, "Transición"},
		{1.99, "Transición"},
		{2, "Maduro"},
		{2.99, "Maduro"},
		{3, "Enfermo"},
		{4.5, "Enfermo"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, VoltageState(tt.volts, DefaultVoltageThresholds), "%.2f V", tt.volts)
	}
}

func TestVoltageClassifier(t *testing.T) {
	c, err := NewVoltageClassifier(testCatalog(), fixedClassifier("fallback"))
	require.NoError(t, err)

	tests := []struct {
		name     string
		readings []LocatedReading
		want     string
	}{
		{"mean below one volt", []LocatedReading{withVoltage(0.5), withVoltage(0.9)}, "s1"},
		{"mean of mixed readings", []LocatedReading{withVoltage(1.0), withVoltage(3.0)}, "s3"},
		{"diseased", []LocatedReading{withVoltage(3.5)}, "s4"},
		{"readings without voltage are ignored", []LocatedReading{withVoltage(1.5), {TelemetryReading: reading(0, 0)}}, "s2"},
		{"no voltage at all", []LocatedReading{{TelemetryReading: reading(0, 0)}}, "fallback"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Classify(tt.readings)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVoltageClassifier_NameMatchIsCaseInsensitive(t *testing.T) {
	c, err := NewVoltageClassifier([]MaturityState{{ID: "m", Name: "MADURO"}}, fixedClassifier("fallback"))
	require.NoError(t, err)

	got, err := c.Classify([]LocatedReading{withVoltage(2.5)})
	require.NoError(t, err)
	assert.Equal(t, "m", got)

	got, err = c.Classify([]LocatedReading{withVoltage(0.5)})
	require.NoError(t, err)
	assert.Equal(t, "fallback", got, "state missing from catalog")
}

func TestVoltageClassifier_NoFallback(t *testing.T) {
	c, err := NewVoltageClassifier(testCatalog(), nil)
	require.NoError(t, err)
	_, err = c.Classify([]LocatedReading{{TelemetryReading: reading(0, 0)}})
	assert.Error(t, err)
}

func TestNewClassifierFactory_Unknown(t *testing.T) {
	_, err := NewClassifierFactory("neural")
	assert.Error(t, err)
}
