package plot

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// RunSucceededMessage is the human-readable message of a successful run.
const RunSucceededMessage = "Base de datos actualizada correctamente"

// Pipeline runs Validator → Locator → Clustering → Synthesizer → Materializer
// over one telemetry batch. At most one run executes at a time.
type Pipeline struct {
	store        Store
	config       *Config
	classifiers  ClassifierFactory
	materializer *Materializer

	mu sync.Mutex
}

// NewPipeline builds a pipeline from config. The classifier named in config is
// instantiated per run over the freshly read catalog.
func NewPipeline(store Store, config *Config) (*Pipeline, error) {
	factory, err := NewClassifierFactory(config.Classifier)
	if err != nil {
		return nil, err
	}
	return NewPipelineWithClassifier(store, config, factory), nil
}

// NewPipelineWithClassifier builds a pipeline with an explicit classifier factory.
func NewPipelineWithClassifier(store Store, config *Config, factory ClassifierFactory) *Pipeline {
	return &Pipeline{
		store:        store,
		config:       config,
		classifiers:  factory,
		materializer: NewMaterializer(store),
	}
}

// Materializer exposes the materializer so callers can override id and clock sources.
func (p *Pipeline) Materializer() *Materializer { return p.materializer }

// Run derives and activates a new generation from readings.
func (p *Pipeline) Run(ctx context.Context, readings []TelemetryReading) (*RunResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := time.Now()

	parcels, err := p.store.ListParcels(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading parcels: %w", err)
	}
	catalog, err := p.store.ListMaturityStates(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading maturity states: %w", err)
	}
	classifier, err := p.classifiers(catalog)
	if err != nil {
		return nil, fmt.Errorf("building classifier: %w", err)
	}

	located, err := LocateReadings(readings, parcels)
	if err != nil {
		return nil, err
	}
	groups := ClusterReadings(located, ClusterConfig{
		EpsilonMeters: p.config.Clustering.EpsilonMeters,
		MinPoints:     p.config.Clustering.MinPoints,
	})

	gen, err := p.materializer.Stage(ctx, len(readings))
	if err != nil {
		return nil, fmt.Errorf("staging generation: %w", err)
	}

	synth := NewSynthesizer(p.config, classifier)
	synth.NewID = p.materializer.NewID
	units, err := synth.Synthesize(gen.ID, groups)
	if err != nil {
		return nil, p.materializer.Fail(ctx, gen, err)
	}

	if err := p.materializer.Commit(ctx, gen, units, readings); err != nil {
		return nil, err
	}

	log.Printf("[PIPELINE] generation %s active: %d readings, %d crop units (%s)",
		gen.ID, len(readings), len(units), time.Since(start).Round(time.Millisecond))

	return &RunResult{
		Status:       "ok",
		Message:      RunSucceededMessage,
		Count:        len(readings),
		GenerationID: gen.ID,
		CropUnits:    len(units),
	}, nil
}
