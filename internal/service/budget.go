package service

import (
	"context"
	"time"

	"github.com/ai-workout-scheduler/agent/internal/config"
	"github.com/ai-workout-scheduler/agent/internal/model"
	"github.com/ai-workout-scheduler/agent/internal/repository"
)

// Budget is the per-discipline quota left for one Monday-start local week.
type Budget struct {
	WeekStart time.Time
	Remaining map[model.Discipline]int
	Scheduled map[model.Discipline]int
	Completed map[model.Discipline]int
}

// AllZero reports whether no discipline has quota left.
func (b *Budget) AllZero() bool {
	for _, r := range b.Remaining {
		if r > 0 {
			return false
		}
	}
	return true
}

// Budgeter computes remaining weekly quotas from goals, scheduled events and
// recorded activities.
type Budgeter interface {
	// Compute builds the budget for the week starting at weekStart (local
	// Monday midnight). events is the calendar state the cycle already read;
	// only planner-owned future events inside the week count as scheduled.
	Compute(ctx context.Context, goals *config.Goals, weekStart, now time.Time, events []*model.CalendarEvent) (*Budget, error)
}

type budgeter struct {
	activityRepo repository.ActivityRepository
}

// NewBudgeter creates a new instance of Budgeter.
func NewBudgeter(activityRepo repository.ActivityRepository) Budgeter {
	return &budgeter{activityRepo: activityRepo}
}

func (b *budgeter) Compute(ctx context.Context, goals *config.Goals, weekStart, now time.Time, events []*model.CalendarEvent) (*Budget, error) {
	weekEnd := weekStart.AddDate(0, 0, 7)

	scheduled := make(map[model.Discipline]int)
	for _, e := range events {
		if e.Origin != model.OriginPlanned || !e.StartTime.After(now) {
			continue
		}
		if e.StartTime.Before(weekStart) || !e.StartTime.Before(weekEnd) {
			continue
		}
		if d, ok := e.EventDiscipline(); ok {
			scheduled[d]++
		}
	}

	remaining := make(map[model.Discipline]int)
	completed := make(map[model.Discipline]int)
	for _, d := range model.Disciplines {
		actual, err := b.activityRepo.CountInWeek(ctx, d, weekStart, now)
		if err != nil {
			return nil, err
		}
		completed[d] = int(actual)

		left := goals.Target(d) - scheduled[d] - int(actual)
		if left < 0 {
			left = 0
		}
		remaining[d] = left
	}

	return &Budget{
		WeekStart: weekStart,
		Remaining: remaining,
		Scheduled: scheduled,
		Completed: completed,
	}, nil
}

// PurgeTargets returns the planner-owned future events whose discipline is no
// longer in the goals (weekly target zero). The reconciler deletes these
// before any planning happens.
func PurgeTargets(goals *config.Goals, now time.Time, events []*model.CalendarEvent) []*model.CalendarEvent {
	var out []*model.CalendarEvent
	for _, e := range events {
		if !e.StartTime.After(now) {
			continue
		}
		if e.Origin != model.OriginPlanned && !e.PlannerOwned() {
			continue
		}
		d, ok := e.EventDiscipline()
		if !ok {
			continue
		}
		if goals.Target(d) == 0 {
			out = append(out, e)
		}
	}
	return out
}
