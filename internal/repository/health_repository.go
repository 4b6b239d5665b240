package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ai-workout-scheduler/agent/internal/model"
)

// HealthRepository defines the interface for health sample operations.
// Samples are owned by ingestion; the core only reads.
type HealthRepository interface {
	// Upsert inserts a sample, treating duplicate (timestamp, source) keys
	// as a no-op. Returns true when a row was actually inserted.
	Upsert(ctx context.Context, sample *model.HealthSample) (bool, error)
	// LatestBefore returns the most recent sample with timestamp < cutoff.
	LatestBefore(ctx context.Context, cutoff time.Time) (*model.HealthSample, error)
	// SamplesIn returns samples in [start, end), ascending by timestamp.
	SamplesIn(ctx context.Context, start, end time.Time) ([]*model.HealthSample, error)
}

type healthRepository struct {
	db *gorm.DB
}

// NewHealthRepository creates a new instance of HealthRepository.
func NewHealthRepository(db *gorm.DB) HealthRepository {
	return &healthRepository{db: db}
}

func (r *healthRepository) Upsert(ctx context.Context, sample *model.HealthSample) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "timestamp"}, {Name: "source"}},
			DoNothing: true,
		}).
		Create(sample)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *healthRepository) LatestBefore(ctx context.Context, cutoff time.Time) (*model.HealthSample, error) {
	var sample model.HealthSample
	err := r.db.WithContext(ctx).
		Where("timestamp < ?", cutoff).
		Order("timestamp DESC").
		First(&sample).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sample, nil
}

func (r *healthRepository) SamplesIn(ctx context.Context, start, end time.Time) ([]*model.HealthSample, error) {
	var samples []*model.HealthSample
	err := r.db.WithContext(ctx).
		Where("timestamp >= ? AND timestamp < ?", start, end).
		Order("timestamp ASC").
		Find(&samples).Error
	if err != nil {
		return nil, err
	}
	return samples, nil
}
