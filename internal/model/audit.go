package model

import "time"

// Audit action types. Every planner/reconciler decision is recorded, whether
// or not it was executed against the calendar.
const (
	ActionPlan          = "plan"
	ActionReschedule    = "reschedule"
	ActionCancel        = "cancel"
	ActionMarkCompleted = "mark_completed"
	ActionMissed        = "missed"
	ActionSkipDuplicate = "skip_duplicate"
	ActionSkipTargetMet = "skip_target_met"
	ActionSkipNoSlot    = "skip_no_slot"
	ActionCycleAborted  = "cycle_aborted"
	ActionImport        = "import"
	ActionSkipImport    = "skip_import"
)

// AuditAction is an immutable record of one scheduler decision.
type AuditAction struct {
	ID          int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	ActionID    string      `gorm:"size:36;uniqueIndex;not null" json:"action_id"`
	CycleID     string      `gorm:"size:36;index" json:"cycle_id"`
	Agent       string      `gorm:"size:50;not null" json:"agent"`
	ActionType  string      `gorm:"size:30;not null;index" json:"action_type"`
	Confidence  float64     `json:"confidence"`
	BeforeState JSONMap     `gorm:"type:jsonb" json:"before_state"`
	AfterState  JSONMap     `gorm:"type:jsonb" json:"after_state"`
	Reasoning   string      `gorm:"type:text" json:"reasoning"`
	DataSources StringSlice `gorm:"type:jsonb" json:"data_sources"`
	Executed    bool        `gorm:"not null" json:"executed"`
	Timestamp   time.Time   `gorm:"not null;index" json:"timestamp"`
	CreatedAt   time.Time   `json:"created_at"`
}

func (AuditAction) TableName() string {
	return "audit_actions"
}
