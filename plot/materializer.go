package plot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Materializer writes a synthesized generation and makes it the active one.
type Materializer struct {
	store Store
	NewID func() string
	Now   func() time.Time
}

// NewMaterializer returns a materializer over store.
func NewMaterializer(store Store) *Materializer {
	return &Materializer{store: store, NewID: uuid.NewString, Now: time.Now}
}

// Stage creates the pending generation that synthesized rows are tagged with.
func (m *Materializer) Stage(ctx context.Context, readingCount int) (*Generation, error) {
	gen := &Generation{
		ID:           m.NewID(),
		Status:       GenerationPending,
		ReadingCount: readingCount,
		CreatedAt:    m.Now(),
	}
	if err := m.store.CreateGeneration(ctx, gen); err != nil {
		return nil, err
	}
	return gen, nil
}

// Commit inserts the staged rows and the metric archive, then promotes gen.
// On failure gen is marked failed and the previously active generation stays
// visible.
func (m *Materializer) Commit(ctx context.Context, gen *Generation, units []SynthesizedUnit, readings []TelemetryReading) error {
	gen.CropUnitCount = len(units)
	if err := m.commit(ctx, gen, units, readings); err != nil {
		return m.fail(ctx, gen, err)
	}
	gen.Status = GenerationActive
	return nil
}

func (m *Materializer) commit(ctx context.Context, gen *Generation, units []SynthesizedUnit, readings []TelemetryReading) error {
	cropUnits := make([]CropUnit, len(units))
	plants := make([]Plant, len(units))
	for i, u := range units {
		cropUnits[i] = u.CropUnit
		cropUnits[i].Active = false
		cropUnits[i].GenerationID = gen.ID
		plants[i] = u.Plant
		plants[i].Active = false
		plants[i].GenerationID = gen.ID
	}

	if err := m.store.InsertCropUnits(ctx, cropUnits); err != nil {
		return fmt.Errorf("staging crop units: %w", err)
	}
	if err := m.store.InsertPlants(ctx, plants); err != nil {
		return fmt.Errorf("staging plants: %w", err)
	}
	if err := m.store.InsertMetrics(ctx, NewMetricRecords(readings, gen.ID, m.NewID)); err != nil {
		return fmt.Errorf("archiving metrics: %w", err)
	}
	if err := m.store.PromoteGeneration(ctx, gen.ID); err != nil {
		return fmt.Errorf("promoting generation %s: %w", gen.ID, err)
	}
	return nil
}

// Fail marks gen failed and returns cause joined with any marking error.
func (m *Materializer) Fail(ctx context.Context, gen *Generation, cause error) error {
	return m.fail(ctx, gen, cause)
}

func (m *Materializer) fail(ctx context.Context, gen *Generation, cause error) error {
	gen.Status = GenerationFailed
	gen.Error = cause.Error()
	// The caller's context may be what failed; marking still gets a chance.
	markCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.store.FailGeneration(markCtx, gen.ID, cause.Error()); err != nil {
		return errors.Join(cause, fmt.Errorf("marking generation %s failed: %w", gen.ID, err))
	}
	return cause
}
