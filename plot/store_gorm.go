package plot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const insertBatchSize = 200

// OpenSQLite opens (or creates) the SQLite database at path and migrates the schema.
func OpenSQLite(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if err := db.AutoMigrate(
		&Parcel{},
		&MaturityState{},
		&Generation{},
		&CropUnit{},
		&Plant{},
		&MetricRecord{},
	); err != nil {
		return nil, fmt.Errorf("automigrate: %w", err)
	}
	return db, nil
}

// GormStore is a Store backed by gorm.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an open database.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// OpenGormStore opens the SQLite database at path.
func OpenGormStore(path string) (*GormStore, error) {
	db, err := OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return NewGormStore(db), nil
}

// DB exposes the underlying handle.
func (s *GormStore) DB() *gorm.DB { return s.db }

func (s *GormStore) ListParcels(ctx context.Context) ([]Parcel, error) {
	var parcels []Parcel
	if err := s.db.WithContext(ctx).Order("rowid").Find(&parcels).Error; err != nil {
		return nil, fmt.Errorf("list parcels: %w", err)
	}
	return parcels, nil
}

func (s *GormStore) UpsertParcels(ctx context.Context, parcels []Parcel) error {
	if len(parcels) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "boundary"}),
	}).Create(&parcels).Error
	if err != nil {
		return fmt.Errorf("upsert parcels: %w", err)
	}
	return nil
}

func (s *GormStore) ListMaturityStates(ctx context.Context) ([]MaturityState, error) {
	var states []MaturityState
	if err := s.db.WithContext(ctx).Order("rowid").Find(&states).Error; err != nil {
		return nil, fmt.Errorf("list maturity states: %w", err)
	}
	return states, nil
}

func (s *GormStore) UpsertMaturityStates(ctx context.Context, states []MaturityState) error {
	if len(states) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name"}),
	}).Create(&states).Error
	if err != nil {
		return fmt.Errorf("upsert maturity states: %w", err)
	}
	return nil
}

func (s *GormStore) CreateGeneration(ctx context.Context, gen *Generation) error {
	if err := s.db.WithContext(ctx).Create(gen).Error; err != nil {
		return fmt.Errorf("create generation %s: %w", gen.ID, err)
	}
	return nil
}

func (s *GormStore) InsertCropUnits(ctx context.Context, units []CropUnit) error {
	if len(units) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(units, insertBatchSize).Error; err != nil {
		return fmt.Errorf("insert crop units: %w", err)
	}
	return nil
}

func (s *GormStore) InsertPlants(ctx context.Context, plants []Plant) error {
	if len(plants) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(plants, insertBatchSize).Error; err != nil {
		return fmt.Errorf("insert plants: %w", err)
	}
	return nil
}

func (s *GormStore) InsertMetrics(ctx context.Context, metrics []MetricRecord) error {
	if len(metrics) == 0 {
		return nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(metrics, insertBatchSize).Error; err != nil {
		return fmt.Errorf("insert metrics: %w", err)
	}
	return nil
}

// PromoteGeneration deactivates the current active rows, activates the staged
// rows of generationID and flips generation statuses in one transaction.
func (s *GormStore) PromoteGeneration(ctx context.Context, generationID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var gen Generation
		if err := tx.First(&gen, "id = ?", generationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("promoting %s: %w", generationID, ErrGenerationNotPending)
			}
			return err
		}
		if gen.Status != GenerationPending {
			return fmt.Errorf("promoting %s: %w", generationID, ErrGenerationNotPending)
		}

		if err := tx.Model(&CropUnit{}).Where("active = ?", true).Update("active", false).Error; err != nil {
			return fmt.Errorf("deactivate crop units: %w", err)
		}
		if err := tx.Model(&Plant{}).Where("active = ?", true).Update("active", false).Error; err != nil {
			return fmt.Errorf("deactivate plants: %w", err)
		}
		if err := tx.Model(&CropUnit{}).Where("generation_id = ?", generationID).Update("active", true).Error; err != nil {
			return fmt.Errorf("activate crop units: %w", err)
		}
		if err := tx.Model(&Plant{}).Where("generation_id = ?", generationID).Update("active", true).Error; err != nil {
			return fmt.Errorf("activate plants: %w", err)
		}
		if err := tx.Model(&Generation{}).Where("status = ?", GenerationActive).Update("status", GenerationRetired).Error; err != nil {
			return fmt.Errorf("retire generation: %w", err)
		}

		now := time.Now()
		return tx.Model(&Generation{}).Where("id = ?", generationID).Updates(map[string]any{
			"status":      GenerationActive,
			"promoted_at": now,
		}).Error
	})
}

func (s *GormStore) FailGeneration(ctx context.Context, generationID string, reason string) error {
	res := s.db.WithContext(ctx).Model(&Generation{}).
		Where("id = ? AND status = ?", generationID, GenerationPending).
		Updates(map[string]any{"status": GenerationFailed, "error": reason})
	if res.Error != nil {
		return fmt.Errorf("fail generation %s: %w", generationID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("failing %s: %w", generationID, ErrGenerationNotPending)
	}
	return nil
}

func (s *GormStore) ActiveGeneration(ctx context.Context) (*Generation, error) {
	var gen Generation
	err := s.db.WithContext(ctx).Where("status = ?", GenerationActive).Take(&gen).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active generation: %w", err)
	}
	return &gen, nil
}

func (s *GormStore) GetGeneration(ctx context.Context, generationID string) (*Generation, error) {
	var gen Generation
	err := s.db.WithContext(ctx).Where("id = ?", generationID).Take(&gen).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get generation %s: %w", generationID, err)
	}
	return &gen, nil
}

func (s *GormStore) ActiveCropUnits(ctx context.Context) ([]CropUnit, error) {
	var units []CropUnit
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("rowid").Find(&units).Error; err != nil {
		return nil, fmt.Errorf("active crop units: %w", err)
	}
	return units, nil
}

func (s *GormStore) ActivePlants(ctx context.Context) ([]Plant, error) {
	var plants []Plant
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("rowid").Find(&plants).Error; err != nil {
		return nil, fmt.Errorf("active plants: %w", err)
	}
	return plants, nil
}

func (s *GormStore) CountCropUnits(ctx context.Context, active bool) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&CropUnit{}).Where("active = ?", active).Count(&n).Error
	return int(n), err
}

func (s *GormStore) CountPlants(ctx context.Context, active bool) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&Plant{}).Where("active = ?", active).Count(&n).Error
	return int(n), err
}

func (s *GormStore) CountMetrics(ctx context.Context) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&MetricRecord{}).Count(&n).Error
	return int(n), err
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
