package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ai-workout-scheduler/agent/internal/model"
)

// AuditRepository is the append-only log of scheduler decisions.
type AuditRepository interface {
	Append(ctx context.Context, action *model.AuditAction) error
	ListByCycle(ctx context.Context, cycleID string) ([]*model.AuditAction, error)
	ListRecent(ctx context.Context, since time.Time, limit int) ([]*model.AuditAction, error)
}

type auditRepository struct {
	db *gorm.DB
}

// NewAuditRepository creates a new instance of AuditRepository.
func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Append(ctx context.Context, action *model.AuditAction) error {
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now()
	}
	return r.db.WithContext(ctx).Create(action).Error
}

func (r *auditRepository) ListByCycle(ctx context.Context, cycleID string) ([]*model.AuditAction, error) {
	var actions []*model.AuditAction
	err := r.db.WithContext(ctx).
		Where("cycle_id = ?", cycleID).
		Order("timestamp ASC").
		Find(&actions).Error
	if err != nil {
		return nil, err
	}
	return actions, nil
}

func (r *auditRepository) ListRecent(ctx context.Context, since time.Time, limit int) ([]*model.AuditAction, error) {
	var actions []*model.AuditAction
	query := r.db.WithContext(ctx).
		Where("timestamp >= ?", since).
		Order("timestamp DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&actions).Error; err != nil {
		return nil, err
	}
	return actions, nil
}
