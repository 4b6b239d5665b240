package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-workout-scheduler/agent/internal/config"
	"github.com/ai-workout-scheduler/agent/internal/model"
)

func testGoals(swim, bike, run, strength int) *config.Goals {
	return &config.Goals{
		WeeklyStructure: config.WeeklyStructure{
			SwimSessions:     swim,
			BikeSessions:     bike,
			RunSessions:      run,
			StrengthSessions: strength,
		},
		Preferences: config.Preferences{
			PreferredWorkoutTime: config.PolicyFlexible,
			MorningHours:         []int{6, 9},
			EveningHours:         []int{17, 21},
			UserTimezone:         "UTC",
		},
		Safety: config.Safety{MaxMutationsPerCycle: 8, MinNoticeHours: 2},
	}
}

func plannedCalendarEvent(id string, start time.Time, d model.Discipline) *model.CalendarEvent {
	return &model.CalendarEvent{
		ExternalID:  id,
		Summary:     model.PlannedSummaryPrefix + string(d) + ": session",
		Description: "Option A\n\n" + model.DisciplineTagPrefix + string(d),
		StartTime:   start,
		EndTime:     start.Add(time.Hour),
		Origin:      model.OriginPlanned,
	}
}

// testDay (2026-03-02) is a Monday, so it doubles as the week start.
func TestBudget_RemainingSubtractsScheduledAndActual(t *testing.T) {
	goals := testGoals(0, 1, 3, 2)
	now := testDay.Add(10 * time.Hour)

	activities := &fakeActivityRepo{activities: []*model.Activity{
		{Timestamp: testDay.Add(7 * time.Hour), Discipline: model.DisciplineRun},
	}}
	events := []*model.CalendarEvent{
		plannedCalendarEvent("e1", testDay.AddDate(0, 0, 1).Add(6*time.Hour), model.DisciplineRun),
		plannedCalendarEvent("e2", testDay.AddDate(0, 0, 2).Add(6*time.Hour), model.DisciplineStrength),
	}

	budget, err := NewBudgeter(activities).Compute(context.Background(), goals, testDay, now, events)
	require.NoError(t, err)

	assert.Equal(t, 1, budget.Remaining[model.DisciplineRun])      // 3 - 1 scheduled - 1 done
	assert.Equal(t, 1, budget.Remaining[model.DisciplineStrength]) // 2 - 1 scheduled
	assert.Equal(t, 1, budget.Remaining[model.DisciplineBike])
	assert.Equal(t, 0, budget.Remaining[model.DisciplineSwim])
	assert.False(t, budget.AllZero())
}

func TestBudget_NeverNegative(t *testing.T) {
	goals := testGoals(0, 0, 1, 0)
	now := testDay.Add(20 * time.Hour)

	activities := &fakeActivityRepo{activities: []*model.Activity{
		{Timestamp: testDay.Add(6 * time.Hour), Discipline: model.DisciplineRun},
		{Timestamp: testDay.Add(18 * time.Hour), Discipline: model.DisciplineRun},
	}}

	budget, err := NewBudgeter(activities).Compute(context.Background(), goals, testDay, now, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, budget.Remaining[model.DisciplineRun])
	assert.True(t, budget.AllZero())
}

func TestBudget_PastAndExternalEventsDoNotCountAsScheduled(t *testing.T) {
	goals := testGoals(0, 0, 2, 0)
	now := testDay.AddDate(0, 0, 3)

	pastRun := plannedCalendarEvent("past", testDay.Add(6*time.Hour), model.DisciplineRun)
	external := &model.CalendarEvent{
		ExternalID: "ext",
		Summary:    "Morning run with Sam",
		StartTime:  now.Add(24 * time.Hour),
		EndTime:    now.Add(25 * time.Hour),
		Origin:     model.OriginExternal,
	}

	budget, err := NewBudgeter(&fakeActivityRepo{}).Compute(context.Background(), goals, testDay, now,
		[]*model.CalendarEvent{pastRun, external})
	require.NoError(t, err)
	assert.Equal(t, 2, budget.Remaining[model.DisciplineRun])
}

func TestBudget_OtherWeeksExcluded(t *testing.T) {
	goals := testGoals(0, 0, 2, 0)
	now := testDay.Add(time.Hour)

	nextWeek := plannedCalendarEvent("nw", testDay.AddDate(0, 0, 8).Add(6*time.Hour), model.DisciplineRun)

	budget, err := NewBudgeter(&fakeActivityRepo{}).Compute(context.Background(), goals, testDay, now,
		[]*model.CalendarEvent{nextWeek})
	require.NoError(t, err)
	assert.Equal(t, 2, budget.Remaining[model.DisciplineRun])
}

func TestPurgeTargets(t *testing.T) {
	goals := testGoals(0, 0, 2, 1) // swim removed
	now := testDay.Add(time.Hour)

	futureSwim := plannedCalendarEvent("s1", now.Add(24*time.Hour), model.DisciplineSwim)
	futureSwim2 := plannedCalendarEvent("s2", now.Add(48*time.Hour), model.DisciplineSwim)
	futureRun := plannedCalendarEvent("r1", now.Add(24*time.Hour), model.DisciplineRun)
	pastSwim := plannedCalendarEvent("s0", now.Add(-24*time.Hour), model.DisciplineSwim)
	external := &model.CalendarEvent{
		ExternalID: "ext",
		Summary:    "Open water swim trip",
		StartTime:  now.Add(24 * time.Hour),
		EndTime:    now.Add(26 * time.Hour),
		Origin:     model.OriginExternal,
	}

	purge := PurgeTargets(goals, now, []*model.CalendarEvent{futureSwim, futureSwim2, futureRun, pastSwim, external})
	require.Len(t, purge, 2)
	ids := []string{purge[0].ExternalID, purge[1].ExternalID}
	assert.ElementsMatch(t, []string{"s1", "s2"}, ids)
}
