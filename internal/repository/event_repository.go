package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ai-workout-scheduler/agent/internal/model"
)

// EventRepository mirrors remote calendar events locally so past cycles can
// be audited without calendar API calls.
type EventRepository interface {
	// Upsert creates or refreshes the mirror row keyed by external_id.
	Upsert(ctx context.Context, event *model.CalendarEvent) error
	// ListRange returns mirrored events in [start, end), ascending by start.
	ListRange(ctx context.Context, start, end time.Time) ([]*model.CalendarEvent, error)
	// DeleteByExternalID removes the mirror row for a deleted remote event.
	DeleteByExternalID(ctx context.Context, externalID string) error
}

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new instance of EventRepository.
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Upsert(ctx context.Context, event *model.CalendarEvent) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "external_id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"summary", "description", "start_time", "end_time", "tags", "origin", "updated_at",
			}),
		}).
		Create(event).Error
}

func (r *eventRepository) ListRange(ctx context.Context, start, end time.Time) ([]*model.CalendarEvent, error) {
	var events []*model.CalendarEvent
	err := r.db.WithContext(ctx).
		Where("start_time >= ? AND start_time < ?", start, end).
		Order("start_time ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *eventRepository) DeleteByExternalID(ctx context.Context, externalID string) error {
	return r.db.WithContext(ctx).
		Where("external_id = ?", externalID).
		Delete(&model.CalendarEvent{}).Error
}
