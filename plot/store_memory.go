package plot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a Store kept in process memory. Slices preserve insertion
// order so listings are deterministic.
type MemoryStore struct {
	mu          sync.RWMutex
	parcels     []Parcel
	states      []MaturityState
	generations map[string]*Generation
	cropUnits   []CropUnit
	plants      []Plant
	metrics     []MetricRecord
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{generations: make(map[string]*Generation)}
}

// ListParcels returns parcels in insertion order.
func (s *MemoryStore) ListParcels(ctx context.Context) ([]Parcel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Parcel(nil), s.parcels...), nil
}

// UpsertParcels replaces parcels with matching ids and appends the rest.
func (s *MemoryStore) UpsertParcels(ctx context.Context, parcels []Parcel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range parcels {
		replaced := false
		for i := range s.parcels {
			if s.parcels[i].ID == p.ID {
				s.parcels[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			s.parcels = append(s.parcels, p)
		}
	}
	return nil
}

// ListMaturityStates returns the catalog in insertion order.
func (s *MemoryStore) ListMaturityStates(ctx context.Context) ([]MaturityState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]MaturityState(nil), s.states...), nil
}

// UpsertMaturityStates replaces states with matching ids and appends the rest.
func (s *MemoryStore) UpsertMaturityStates(ctx context.Context, states []MaturityState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range states {
		replaced := false
		for i := range s.states {
			if s.states[i].ID == st.ID {
				s.states[i] = st
				replaced = true
				break
			}
		}
		if !replaced {
			s.states = append(s.states, st)
		}
	}
	return nil
}

// CreateGeneration records a new generation.
func (s *MemoryStore) CreateGeneration(ctx context.Context, gen *Generation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.generations[gen.ID]; exists {
		return fmt.Errorf("generation %s already exists", gen.ID)
	}
	if gen.CreatedAt.IsZero() {
		gen.CreatedAt = time.Now()
	}
	g := *gen
	s.generations[gen.ID] = &g
	return nil
}

// InsertCropUnits appends crop units.
func (s *MemoryStore) InsertCropUnits(ctx context.Context, units []CropUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cropUnits = append(s.cropUnits, units...)
	return nil
}

// InsertPlants appends plants.
func (s *MemoryStore) InsertPlants(ctx context.Context, plants []Plant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plants = append(s.plants, plants...)
	return nil
}

// InsertMetrics appends metric records.
func (s *MemoryStore) InsertMetrics(ctx context.Context, metrics []MetricRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, m := range metrics {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = now
		}
		s.metrics = append(s.metrics, m)
	}
	return nil
}

// PromoteGeneration swaps the active generation under a single write lock.
func (s *MemoryStore) PromoteGeneration(ctx context.Context, generationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen, ok := s.generations[generationID]
	if !ok || gen.Status != GenerationPending {
		return fmt.Errorf("promoting %s: %w", generationID, ErrGenerationNotPending)
	}

	for i := range s.cropUnits {
		s.cropUnits[i].Active = s.cropUnits[i].GenerationID == generationID
	}
	for i := range s.plants {
		s.plants[i].Active = s.plants[i].GenerationID == generationID
	}
	for _, g := range s.generations {
		if g.Status == GenerationActive {
			g.Status = GenerationRetired
		}
	}
	now := time.Now()
	gen.Status = GenerationActive
	gen.PromotedAt = &now
	return nil
}

// FailGeneration marks a pending generation failed.
func (s *MemoryStore) FailGeneration(ctx context.Context, generationID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	gen, ok := s.generations[generationID]
	if !ok || gen.Status != GenerationPending {
		return fmt.Errorf("failing %s: %w", generationID, ErrGenerationNotPending)
	}
	gen.Status = GenerationFailed
	gen.Error = reason
	return nil
}

// ActiveGeneration returns the active generation or nil when none exists.
func (s *MemoryStore) ActiveGeneration(ctx context.Context) (*Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, g := range s.generations {
		if g.Status == GenerationActive {
			out := *g
			return &out, nil
		}
	}
	return nil, nil
}

// GetGeneration returns a generation by id or nil.
func (s *MemoryStore) GetGeneration(ctx context.Context, generationID string) (*Generation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if g, ok := s.generations[generationID]; ok {
		out := *g
		return &out, nil
	}
	return nil, nil
}

// Generations returns every generation ordered by creation time.
func (s *MemoryStore) Generations() []Generation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Generation, 0, len(s.generations))
	for _, g := range s.generations {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ActiveCropUnits returns active crop units in insertion order.
func (s *MemoryStore) ActiveCropUnits(ctx context.Context) ([]CropUnit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []CropUnit
	for _, u := range s.cropUnits {
		if u.Active {
			out = append(out, u)
		}
	}
	return out, nil
}

// ActivePlants returns active plants in insertion order.
func (s *MemoryStore) ActivePlants(ctx context.Context) ([]Plant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Plant
	for _, p := range s.plants {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

// CountCropUnits counts crop units by active flag.
func (s *MemoryStore) CountCropUnits(ctx context.Context, active bool) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, u := range s.cropUnits {
		if u.Active == active {
			n++
		}
	}
	return n, nil
}

// CountPlants counts plants by active flag.
func (s *MemoryStore) CountPlants(ctx context.Context, active bool) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, p := range s.plants {
		if p.Active == active {
			n++
		}
	}
	return n, nil
}

// CountMetrics counts archived readings.
func (s *MemoryStore) CountMetrics(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.metrics), nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
