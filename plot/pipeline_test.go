package plot

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyStore fails selected writes on top of a MemoryStore.
type flakyStore struct {
	*MemoryStore
	failPlants  error
	failPromote error
	failMark    error
}

func (s *flakyStore) InsertPlants(ctx context.Context, plants []Plant) error {
	if s.failPlants != nil {
		return s.failPlants
	}
	return s.MemoryStore.InsertPlants(ctx, plants)
}

func (s *flakyStore) PromoteGeneration(ctx context.Context, id string) error {
	if s.failPromote != nil {
		return s.failPromote
	}
	return s.MemoryStore.PromoteGeneration(ctx, id)
}

func (s *flakyStore) FailGeneration(ctx context.Context, id, reason string) error {
	if s.failMark != nil {
		return s.failMark
	}
	return s.MemoryStore.FailGeneration(ctx, id, reason)
}

func seededStore(t *testing.T, parcels ...Parcel) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.UpsertMaturityStates(ctx, testCatalog()))
	require.NoError(t, store.UpsertParcels(ctx, parcels))
	return store
}

func newTestPipeline(t *testing.T, store Store) *Pipeline {
	t.Helper()
	p, err := NewPipeline(store, DefaultConfig())
	require.NoError(t, err)
	return p
}

func TestPipeline_Scenarios(t *testing.T) {
	origin := orb.Point{-73.0, 4.0}
	far := north(origin, 100)
	lote := mustParcel(t, "p1", "Lote Norte", square(-73.01, 3.99, 0.02))

	tests := []struct {
		name      string
		parcels   []Parcel
		readings  []TelemetryReading
		wantUnits int
		wantNames []string
		wantNil   bool
	}{
		{
			name:      "readings 1.5 m apart form one crop unit",
			parcels:   []Parcel{lote},
			readings:  []TelemetryReading{reading(-73.000, 4.000), reading(-73.00001, 4.00001)},
			wantUnits: 1,
			wantNames: []string{"Lote Norte - Cultivo 0"},
		},
		{
			name:      "readings 100 m apart form two crop units",
			parcels:   []Parcel{lote},
			readings:  []TelemetryReading{reading(origin[0], origin[1]), reading(far[0], far[1])},
			wantUnits: 2,
			wantNames: []string{"Lote Norte - Cultivo 0", "Lote Norte - Cultivo 1"},
		},
		{
			name:      "reading outside every parcel",
			parcels:   []Parcel{lote},
			readings:  []TelemetryReading{reading(-60, 10)},
			wantUnits: 1,
			wantNames: []string{"Sin lote - Cultivo 0"},
			wantNil:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := seededStore(t, tt.parcels...)
			p := newTestPipeline(t, store)

			result, err := p.Run(ctx, tt.readings)
			require.NoError(t, err)
			assert.Equal(t, "ok", result.Status)
			assert.Equal(t, RunSucceededMessage, result.Message)
			assert.Equal(t, len(tt.readings), result.Count)
			assert.Equal(t, tt.wantUnits, result.CropUnits)

			units, err := store.ActiveCropUnits(ctx)
			require.NoError(t, err)
			plants, err := store.ActivePlants(ctx)
			require.NoError(t, err)
			require.Len(t, units, tt.wantUnits)
			assert.Len(t, plants, tt.wantUnits, "one plant per crop unit")

			var names []string
			for _, u := range units {
				names = append(names, u.Name)
				assert.Equal(t, result.GenerationID, u.GenerationID)
				if tt.wantNil {
					assert.Nil(t, u.ParcelID)
				} else {
					assert.Equal(t, ptr("p1"), u.ParcelID)
				}
			}
			assert.Equal(t, tt.wantNames, names)

			metrics, err := store.CountMetrics(ctx)
			require.NoError(t, err)
			assert.Equal(t, len(tt.readings), metrics)
		})
	}
}

func TestPipeline_SecondRunReplacesFirst(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	p := newTestPipeline(t, store)

	first, err := p.Run(ctx, []TelemetryReading{reading(-73, 4), reading(-74, 5)})
	require.NoError(t, err)
	second, err := p.Run(ctx, []TelemetryReading{reading(-73, 4)})
	require.NoError(t, err)

	units, err := store.ActiveCropUnits(ctx)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, second.GenerationID, units[0].GenerationID)

	plants, err := store.ActivePlants(ctx)
	require.NoError(t, err)
	require.Len(t, plants, 1)
	assert.Equal(t, second.GenerationID, plants[0].GenerationID)

	inactive, err := store.CountCropUnits(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, first.CropUnits, inactive, "first run's rows are kept, only deactivated")

	gens := store.Generations()
	require.Len(t, gens, 2)
	statuses := map[string]GenerationStatus{}
	for _, g := range gens {
		statuses[g.ID] = g.Status
	}
	assert.Equal(t, GenerationRetired, statuses[first.GenerationID])
	assert.Equal(t, GenerationActive, statuses[second.GenerationID])
}

func TestPipeline_InvalidReadingsAreArchivedNotClustered(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	p := newTestPipeline(t, store)

	readings := []TelemetryReading{
		reading(-73, 4),
		{Longitude: math.NaN(), Latitude: math.NaN()},
	}
	result, err := p.Run(ctx, readings)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, 1, result.CropUnits)

	metrics, err := store.CountMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, metrics)
}

func TestPipeline_EmptyBatch(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	p := newTestPipeline(t, store)

	_, err := p.Run(ctx, []TelemetryReading{reading(-73, 4)})
	require.NoError(t, err)

	result, err := p.Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Count)
	assert.Equal(t, 0, result.CropUnits)

	active, err := store.CountCropUnits(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, 0, active, "an empty batch activates an empty generation")
}

func TestPipeline_FailedStagingKeepsPreviousGeneration(t *testing.T) {
	ctx := context.Background()
	mem := seededStore(t)
	store := &flakyStore{MemoryStore: mem}
	p := newTestPipeline(t, store)

	first, err := p.Run(ctx, []TelemetryReading{reading(-73, 4)})
	require.NoError(t, err)

	diskFull := errors.New("disk full")
	store.failPlants = diskFull
	_, err = p.Run(ctx, []TelemetryReading{reading(-74, 5), reading(-75, 6)})
	require.Error(t, err)
	assert.ErrorIs(t, err, diskFull)

	units, err := mem.ActiveCropUnits(ctx)
	require.NoError(t, err)
	require.Len(t, units, 1)
	assert.Equal(t, first.GenerationID, units[0].GenerationID)

	active, err := mem.ActiveGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.GenerationID, active.ID)

	var failed *Generation
	for _, g := range mem.Generations() {
		if g.Status == GenerationFailed {
			g := g
			failed = &g
		}
	}
	require.NotNil(t, failed)
	assert.Contains(t, failed.Error, "disk full")

	staged, err := mem.CountCropUnits(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, staged, "failed generation's rows stay inactive")
}

func TestPipeline_FailedPromotionKeepsPreviousGeneration(t *testing.T) {
	ctx := context.Background()
	mem := seededStore(t)
	store := &flakyStore{MemoryStore: mem}
	p := newTestPipeline(t, store)

	first, err := p.Run(ctx, []TelemetryReading{reading(-73, 4)})
	require.NoError(t, err)

	store.failPromote = errors.New("database is locked")
	store.failMark = errors.New("still locked")
	_, err = p.Run(ctx, []TelemetryReading{reading(-74, 5)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")
	assert.Contains(t, err.Error(), "still locked", "marking failure is joined to the cause")

	active, err := mem.ActiveGeneration(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.GenerationID, active.ID)
}

func TestPipeline_EmptyCatalog(t *testing.T) {
	p := newTestPipeline(t, NewMemoryStore())
	_, err := p.Run(context.Background(), []TelemetryReading{reading(-73, 4)})
	assert.ErrorIs(t, err, ErrEmptyCatalog)
}

func TestPipeline_BrokenParcelAborts(t *testing.T) {
	store := seededStore(t, Parcel{ID: "bad", Name: "Bad", Boundary: []byte(`not geojson`)})
	p := newTestPipeline(t, store)
	_, err := p.Run(context.Background(), []TelemetryReading{reading(-73, 4)})
	require.Error(t, err)
	assert.Empty(t, store.Generations(), "nothing is staged before locating succeeds")
}

func TestPipeline_ConcurrentRunsNeverMixGenerations(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	p := newTestPipeline(t, store)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pt := north(orb.Point{-73, 4}, float64(i*100))
			_, err := p.Run(ctx, []TelemetryReading{reading(pt[0], pt[1]), reading(-74, 5)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	units, err := store.ActiveCropUnits(ctx)
	require.NoError(t, err)
	plants, err := store.ActivePlants(ctx)
	require.NoError(t, err)
	require.Len(t, units, 2)
	require.Len(t, plants, 2)

	gen := units[0].GenerationID
	for _, u := range units {
		assert.Equal(t, gen, u.GenerationID)
	}
	for _, pl := range plants {
		assert.Equal(t, gen, pl.GenerationID)
	}
}

func TestPipeline_VoltageClassifier(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	cfg := DefaultConfig()
	cfg.Classifier = ClassifierVoltage
	p, err := NewPipeline(store, cfg)
	require.NoError(t, err)

	r := reading(-73, 4)
	volts := 2.4
	r.Voltage = &volts
	_, err = p.Run(ctx, []TelemetryReading{r})
	require.NoError(t, err)

	plants, err := store.ActivePlants(ctx)
	require.NoError(t, err)
	require.Len(t, plants, 1)
	assert.Equal(t, "s3", plants[0].MaturityStateID)
}
