package plot

import (
	"context"
	"errors"
)

// ErrGenerationNotPending is returned when promoting or failing a generation
// that is not staged.
var ErrGenerationNotPending = errors.New("generation is not pending")

// Store persists reference data, generations and the metric archive.
//
// PromoteGeneration must be atomic: readers never observe active rows from
// two generations, nor an empty active set while a promotion is in progress.
type Store interface {
	ListParcels(ctx context.Context) ([]Parcel, error)
	UpsertParcels(ctx context.Context, parcels []Parcel) error
	ListMaturityStates(ctx context.Context) ([]MaturityState, error)
	UpsertMaturityStates(ctx context.Context, states []MaturityState) error

	CreateGeneration(ctx context.Context, gen *Generation) error
	InsertCropUnits(ctx context.Context, units []CropUnit) error
	InsertPlants(ctx context.Context, plants []Plant) error
	InsertMetrics(ctx context.Context, metrics []MetricRecord) error
	PromoteGeneration(ctx context.Context, generationID string) error
	FailGeneration(ctx context.Context, generationID string, reason string) error

	ActiveGeneration(ctx context.Context) (*Generation, error)
	GetGeneration(ctx context.Context, generationID string) (*Generation, error)
	ActiveCropUnits(ctx context.Context) ([]CropUnit, error)
	ActivePlants(ctx context.Context) ([]Plant, error)
	CountCropUnits(ctx context.Context, active bool) (int, error)
	CountPlants(ctx context.Context, active bool) (int, error)
	CountMetrics(ctx context.Context) (int, error)

	Close() error
}
