package model

import (
	"strings"
	"time"
)

// Event origin values. Planner-owned events are the only ones the scheduler
// ever mutates or deletes.
const (
	OriginPlanned  = "planned"
	OriginExternal = "external"
)

// Summary prefixes that identify planner state on the remote calendar.
// Ownership is tested on the summary prefix; the discipline round-trips
// through a "workout:<discipline>" tag line in the description.
const (
	PlannedSummaryPrefix   = "[AI Workout] "
	CompletedSummaryPrefix = "[✓ Done] "
	MissedSummaryPrefix    = "[✗ Missed] "
	DisciplineTagPrefix    = "workout:"
)

// CalendarEvent mirrors one entry of the remote calendar.
type CalendarEvent struct {
	ID          int64       `gorm:"primaryKey;autoIncrement" json:"id"`
	ExternalID  string      `gorm:"size:255;uniqueIndex;not null" json:"external_id" validate:"required"`
	Summary     string      `gorm:"size:500" json:"summary"`
	Description string      `gorm:"type:text" json:"description"`
	StartTime   time.Time   `gorm:"not null" json:"start_time" validate:"required"`
	EndTime     time.Time   `gorm:"not null" json:"end_time" validate:"required,gtfield=StartTime"`
	Tags        StringSlice `gorm:"type:jsonb" json:"tags"`
	Origin      string      `gorm:"size:20;default:external" json:"origin" validate:"oneof=planned external"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

func (CalendarEvent) TableName() string {
	return "calendar_events"
}

// PlannerOwned reports whether this event was created by the scheduler.
// Completed and missed markers keep ownership: the planner prefixes the
// summary, it never rewrites it wholesale.
func (e *CalendarEvent) PlannerOwned() bool {
	for _, prefix := range []string{PlannedSummaryPrefix, CompletedSummaryPrefix, MissedSummaryPrefix} {
		if strings.HasPrefix(e.Summary, strings.TrimRight(prefix, " ")) {
			return true
		}
	}
	return false
}

// Reconciled reports whether a past planner-owned event already carries a
// completion or missed marker.
func (e *CalendarEvent) Reconciled() bool {
	return strings.HasPrefix(e.Summary, strings.TrimRight(CompletedSummaryPrefix, " ")) ||
		strings.HasPrefix(e.Summary, strings.TrimRight(MissedSummaryPrefix, " "))
}

// EventDiscipline extracts the discipline from the workout tag line, falling
// back to the tags column for events round-tripped through the store.
func (e *CalendarEvent) EventDiscipline() (Discipline, bool) {
	for _, line := range strings.Split(e.Description, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, DisciplineTagPrefix) {
			return Discipline(strings.TrimPrefix(line, DisciplineTagPrefix)), true
		}
	}
	for _, tag := range e.Tags {
		if strings.HasPrefix(tag, DisciplineTagPrefix) {
			return Discipline(strings.TrimPrefix(tag, DisciplineTagPrefix)), true
		}
	}
	return "", false
}

// Overlaps reports whether two events intersect as half-open intervals.
func (e *CalendarEvent) Overlaps(other *CalendarEvent) bool {
	return e.StartTime.Before(other.EndTime) && other.StartTime.Before(e.EndTime)
}

// MatchesKeyword reports whether the event summary or tags contain any of
// the configured protected keywords (case-insensitive).
func (e *CalendarEvent) MatchesKeyword(keywords []string) bool {
	summary := strings.ToLower(e.Summary)
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if strings.Contains(summary, kw) {
			return true
		}
		for _, tag := range e.Tags {
			if strings.Contains(strings.ToLower(tag), kw) {
				return true
			}
		}
	}
	return false
}
