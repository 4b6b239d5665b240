package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ai-workout-scheduler/agent/internal/model"
)

// ActivityRepository defines the interface for completed-workout records.
// Activities are owned by ingestion and immutable once written.
type ActivityRepository interface {
	// Upsert inserts an activity, ignoring duplicates on
	// (timestamp, discipline). Returns true when a row was inserted.
	Upsert(ctx context.Context, activity *model.Activity) (bool, error)
	// ActivitiesIn returns activities in [start, end), ascending.
	ActivitiesIn(ctx context.Context, start, end time.Time) ([]*model.Activity, error)
	// CountInWeek counts activities of one discipline inside [weekStart,
	// weekStart+7d) that happened before now.
	CountInWeek(ctx context.Context, discipline model.Discipline, weekStart, now time.Time) (int64, error)
}

type activityRepository struct {
	db *gorm.DB
}

// NewActivityRepository creates a new instance of ActivityRepository.
func NewActivityRepository(db *gorm.DB) ActivityRepository {
	return &activityRepository{db: db}
}

func (r *activityRepository) Upsert(ctx context.Context, activity *model.Activity) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "timestamp"}, {Name: "discipline"}},
			DoNothing: true,
		}).
		Create(activity)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *activityRepository) ActivitiesIn(ctx context.Context, start, end time.Time) ([]*model.Activity, error) {
	var activities []*model.Activity
	err := r.db.WithContext(ctx).
		Where("timestamp >= ? AND timestamp < ?", start, end).
		Order("timestamp ASC").
		Find(&activities).Error
	if err != nil {
		return nil, err
	}
	return activities, nil
}

func (r *activityRepository) CountInWeek(ctx context.Context, discipline model.Discipline, weekStart, now time.Time) (int64, error) {
	weekEnd := weekStart.AddDate(0, 0, 7)
	cutoff := now
	if weekEnd.Before(cutoff) {
		cutoff = weekEnd
	}

	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.Activity{}).
		Where("discipline = ? AND timestamp >= ? AND timestamp < ?", discipline, weekStart, cutoff).
		Count(&count).Error
	return count, err
}
