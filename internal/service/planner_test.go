package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-workout-scheduler/agent/internal/config"
	"github.com/ai-workout-scheduler/agent/internal/model"
)

type plannerFixture struct {
	view       *fakeView
	audit      *fakeAuditRepo
	activities *fakeActivityRepo
	health     *fakeHealthRepo
	mirror     *fakeEventRepo
	lm         *fakeLMClient
	planner    Planner
}

func newPlannerFixture() *plannerFixture {
	f := &plannerFixture{
		view:       newFakeView(),
		audit:      &fakeAuditRepo{},
		activities: &fakeActivityRepo{},
		health:     &fakeHealthRepo{},
		mirror:     newFakeEventRepo(),
		lm:         &fakeLMClient{responses: map[string]string{"primary": validBody}},
	}

	templates := config.NewTemplateStore([]*config.WorkoutTemplate{
		testTemplate(model.DisciplineRun),
		testTemplate(model.DisciplineBike),
		testTemplate(model.DisciplineSwim),
		testTemplate(model.DisciplineStrength),
	})
	gen := &generator{
		models:    []config.ModelConfig{{Name: "primary", Provider: "openai"}},
		clientFor: func(string) (LMClient, error) { return f.lm, nil },
	}
	snapshots := NewSnapshotService(f.health, f.activities, 300)

	f.planner = NewPlanner(templates, snapshots, NewBudgeter(f.activities), gen,
		f.view, f.activities, f.audit, f.mirror, 2, 300)
	return f
}

// Scenario: fresh user, empty calendar, three-day horizon. One event per day,
// alternating disciplines starting with the largest remaining quota.
func TestPlanner_FreshUserFillsHorizon(t *testing.T) {
	f := newPlannerFixture()
	goals := testGoals(0, 0, 2, 3)
	cyc := NewCycle(testDay.Add(5*time.Hour), 8, false)

	require.NoError(t, f.planner.Plan(context.Background(), cyc, goals, 3))

	events := f.view.all()
	require.Len(t, events, 3)
	assert.Equal(t, 3, cyc.Stats.Created)

	var disciplines []model.Discipline
	for _, e := range events {
		d, ok := e.EventDiscipline()
		require.True(t, ok)
		disciplines = append(disciplines, d)

		assert.True(t, strings.HasPrefix(e.Summary, model.PlannedSummaryPrefix))
		assert.Contains(t, e.Description, "Option A")
		assert.Contains(t, e.Description, "Option B")
		assert.Contains(t, e.Description, "Backup")
		// Morning window placement
		assert.Equal(t, 6, e.StartTime.Hour())
	}
	assert.Equal(t, []model.Discipline{
		model.DisciplineStrength, model.DisciplineRun, model.DisciplineStrength,
	}, disciplines)

	executed := f.audit.byType(model.ActionPlan)
	require.Len(t, executed, 3)
	for _, a := range executed {
		assert.True(t, a.Executed)
		assert.NotEmpty(t, a.AfterState["event_id"])
	}
}

// Scenario: morning fully blocked on the second day under the flexible
// policy; that day's workout moves to the evening window.
func TestPlanner_MorningBlockedFallsBackToEvening(t *testing.T) {
	f := newPlannerFixture()
	goals := testGoals(0, 0, 2, 3)

	blockedDay := testDay.AddDate(0, 0, 1)
	f.view.events["ext-1"] = &model.CalendarEvent{
		ExternalID: "ext-1",
		Summary:    "Office all-hands",
		StartTime:  blockedDay.Add(6 * time.Hour),
		EndTime:    blockedDay.Add(9 * time.Hour),
		Origin:     model.OriginExternal,
	}

	cyc := NewCycle(testDay.Add(5*time.Hour), 8, false)
	require.NoError(t, f.planner.Plan(context.Background(), cyc, goals, 3))

	for _, e := range f.view.all() {
		if e.Origin != model.OriginPlanned {
			continue
		}
		if model.Date(e.StartTime, time.UTC).Equal(blockedDay) {
			assert.Equal(t, 17, e.StartTime.Hour())
		} else {
			assert.Equal(t, 6, e.StartTime.Hour())
		}
	}
}

// Scenario: weekly target already met by recorded activities; nothing is
// scheduled and every horizon day records the skip.
func TestPlanner_TargetAlreadyMet(t *testing.T) {
	f := newPlannerFixture()
	goals := testGoals(0, 0, 2, 0)
	now := testDay.Add(10 * time.Hour)

	f.activities.activities = []*model.Activity{
		{Timestamp: testDay.Add(6 * time.Hour), Discipline: model.DisciplineRun, DurationMinutes: 40},
		{Timestamp: testDay.Add(8 * time.Hour), Discipline: model.DisciplineRun, DurationMinutes: 40},
	}

	cyc := NewCycle(now, 8, false)
	require.NoError(t, f.planner.Plan(context.Background(), cyc, goals, 3))

	assert.Empty(t, f.view.all())
	assert.Len(t, f.audit.byType(model.ActionSkipTargetMet), 3)
	assert.Equal(t, 3, cyc.Stats.Skipped)
}

func TestPlanner_CalendarFullRecordsNoSlot(t *testing.T) {
	f := newPlannerFixture()
	goals := testGoals(0, 0, 2, 3)

	// Block both windows on every horizon day
	for i := 0; i < 3; i++ {
		day := testDay.AddDate(0, 0, i)
		f.view.events[blockID("m", i)] = externalBlock(blockID("m", i), day.Add(5*time.Hour), day.Add(10*time.Hour))
		f.view.events[blockID("e", i)] = externalBlock(blockID("e", i), day.Add(16*time.Hour), day.Add(22*time.Hour))
	}

	cyc := NewCycle(testDay.Add(4*time.Hour), 8, false)
	require.NoError(t, f.planner.Plan(context.Background(), cyc, goals, 3))

	for _, e := range f.view.all() {
		assert.Equal(t, model.OriginExternal, e.Origin)
	}
	assert.Len(t, f.audit.byType(model.ActionSkipNoSlot), 3)
}

func TestPlanner_SecondRunIsIdempotent(t *testing.T) {
	f := newPlannerFixture()
	goals := testGoals(0, 0, 2, 3)

	first := NewCycle(testDay.Add(5*time.Hour), 8, false)
	require.NoError(t, f.planner.Plan(context.Background(), first, goals, 3))
	require.Equal(t, 3, first.Stats.Created)
	upsertsAfterFirst := f.view.upserts

	second := NewCycle(testDay.Add(5*time.Hour+30*time.Minute), 8, false)
	require.NoError(t, f.planner.Plan(context.Background(), second, goals, 3))

	assert.Equal(t, 0, second.Stats.Created)
	assert.Equal(t, 0, second.Stats.Updated)
	assert.Equal(t, upsertsAfterFirst, f.view.upserts)
	assert.Len(t, f.audit.byType(model.ActionSkipDuplicate), 3)

	for _, a := range f.audit.byType(model.ActionPlan) {
		if a.CycleID == second.ID {
			assert.False(t, a.Executed)
		}
	}
}

func TestPlanner_DryRunWritesNothing(t *testing.T) {
	f := newPlannerFixture()
	goals := testGoals(0, 0, 2, 3)

	cyc := NewCycle(testDay.Add(5*time.Hour), 8, true)
	require.NoError(t, f.planner.Plan(context.Background(), cyc, goals, 3))

	assert.Empty(t, f.view.all())
	assert.Equal(t, 0, f.view.upserts)

	plans := f.audit.byType(model.ActionPlan)
	require.Len(t, plans, 3)
	for _, a := range plans {
		assert.False(t, a.Executed)
	}
}

func TestPlanner_MutationBudgetBuffersExcess(t *testing.T) {
	f := newPlannerFixture()
	goals := testGoals(0, 0, 2, 3)

	cyc := NewCycle(testDay.Add(5*time.Hour), 1, false)
	require.NoError(t, f.planner.Plan(context.Background(), cyc, goals, 3))

	assert.Len(t, f.view.all(), 1)
	assert.Equal(t, 1, cyc.Stats.Created)

	plans := f.audit.byType(model.ActionPlan)
	require.Len(t, plans, 3)
	var executed int
	for _, a := range plans {
		if a.Executed {
			executed++
		}
	}
	assert.Equal(t, 1, executed)
}

func TestPlanner_UnknownRecoveryFlagged(t *testing.T) {
	f := newPlannerFixture()
	goals := testGoals(0, 0, 1, 0)

	cyc := NewCycle(testDay.Add(5*time.Hour), 8, false)
	require.NoError(t, f.planner.Plan(context.Background(), cyc, goals, 1))

	plans := f.audit.byType(model.ActionPlan)
	require.Len(t, plans, 1)
	assert.Equal(t, true, plans[0].AfterState["recovery_unknown"])
}

func TestPlanner_LongDescriptionKeepsTagUnderCap(t *testing.T) {
	f := newPlannerFixture()
	goals := testGoals(0, 0, 1, 0)
	f.lm.responses["primary"] = validBody + "\n" + strings.Repeat("drill detail line\n", 1200)

	cyc := NewCycle(testDay.Add(5*time.Hour), 8, false)
	require.NoError(t, f.planner.Plan(context.Background(), cyc, goals, 1))

	events := f.view.all()
	require.Len(t, events, 1)
	assert.LessOrEqual(t, len(events[0].Description), maxDescriptionLen)
	assert.True(t, strings.HasSuffix(events[0].Description, model.DisciplineTagPrefix+"run"))

	d, ok := events[0].EventDiscipline()
	require.True(t, ok)
	assert.Equal(t, model.DisciplineRun, d)
}

func TestChooseDiscipline(t *testing.T) {
	priority := model.Disciplines

	d, ok := chooseDiscipline(priority, map[model.Discipline]int{
		model.DisciplineStrength: 3, model.DisciplineRun: 2,
	}, "")
	require.True(t, ok)
	assert.Equal(t, model.DisciplineStrength, d)

	// No repeat: strength was yesterday
	d, ok = chooseDiscipline(priority, map[model.Discipline]int{
		model.DisciplineStrength: 3, model.DisciplineRun: 2,
	}, model.DisciplineStrength)
	require.True(t, ok)
	assert.Equal(t, model.DisciplineRun, d)

	// Forced repeat when nothing else has quota
	d, ok = chooseDiscipline(priority, map[model.Discipline]int{
		model.DisciplineRun: 1,
	}, model.DisciplineRun)
	require.True(t, ok)
	assert.Equal(t, model.DisciplineRun, d)

	// Priority breaks remaining ties
	d, ok = chooseDiscipline(priority, map[model.Discipline]int{
		model.DisciplineBike: 2, model.DisciplineRun: 2,
	}, "")
	require.True(t, ok)
	assert.Equal(t, model.DisciplineRun, d)

	_, ok = chooseDiscipline(priority, map[model.Discipline]int{}, "")
	assert.False(t, ok)
}

func TestIntensityFor(t *testing.T) {
	tests := []struct {
		name     string
		recovery model.RecoveryTier
		d        model.Discipline
		load     float64
		want     model.IntensityTier
	}{
		{"poor reduces", model.RecoveryPoor, model.DisciplineStrength, 0, model.TierReduced},
		{"fair reduces run", model.RecoveryFair, model.DisciplineRun, 0, model.TierReduced},
		{"fair reduces bike", model.RecoveryFair, model.DisciplineBike, 0, model.TierReduced},
		{"fair keeps strength", model.RecoveryFair, model.DisciplineStrength, 0, model.TierNormal},
		{"fair keeps swim", model.RecoveryFair, model.DisciplineSwim, 0, model.TierNormal},
		{"good is normal", model.RecoveryGood, model.DisciplineRun, 0, model.TierNormal},
		{"excellent is normal", model.RecoveryExcellent, model.DisciplineRun, 0, model.TierNormal},
		{"high load downshifts", model.RecoveryGood, model.DisciplineRun, 400, model.TierReduced},
		{"high load on poor hits backup", model.RecoveryPoor, model.DisciplineRun, 400, model.TierBackup},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, intensityFor(tt.recovery, tt.d, tt.load, 300))
		})
	}
}

func blockID(kind string, i int) string {
	return "block-" + kind + "-" + string(rune('0'+i))
}

func externalBlock(id string, start, end time.Time) *model.CalendarEvent {
	return &model.CalendarEvent{
		ExternalID: id,
		Summary:    "Busy",
		StartTime:  start,
		EndTime:    end,
		Origin:     model.OriginExternal,
	}
}
