package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ai-workout-scheduler/agent/internal/config"
	apperrors "github.com/ai-workout-scheduler/agent/internal/errors"
	"github.com/ai-workout-scheduler/agent/internal/model"
	"github.com/ai-workout-scheduler/agent/internal/pkg/logger"
	"github.com/ai-workout-scheduler/agent/internal/repository"
)

// CalendarView is the calendar capability the planner and reconciler need.
// Satisfied by calendar.View; tests supply fakes.
type CalendarView interface {
	ListRange(ctx context.Context, start, end time.Time) ([]*model.CalendarEvent, error)
	Upsert(ctx context.Context, event *model.CalendarEvent, loc *time.Location) (string, bool, error)
	Delete(ctx context.Context, externalID string) error
}

// Planner decides which workouts to schedule over the forward horizon.
type Planner interface {
	Plan(ctx context.Context, cyc *Cycle, goals *config.Goals, horizonDays int) error
}

type planner struct {
	templates    *config.TemplateStore
	snapshots    SnapshotService
	budgeter     Budgeter
	generator    Generator
	view         CalendarView
	activityRepo repository.ActivityRepository
	auditRepo    repository.AuditRepository
	eventRepo    repository.EventRepository
	fanOut       int
	loadCeiling  float64
}

// NewPlanner creates a new instance of Planner. fanOut bounds concurrent
// model calls across candidate days.
func NewPlanner(
	templates *config.TemplateStore,
	snapshots SnapshotService,
	budgeter Budgeter,
	generator Generator,
	view CalendarView,
	activityRepo repository.ActivityRepository,
	auditRepo repository.AuditRepository,
	eventRepo repository.EventRepository,
	fanOut int,
	loadCeiling float64,
) Planner {
	if fanOut <= 0 {
		fanOut = 2
	}
	if loadCeiling <= 0 {
		loadCeiling = 300
	}
	return &planner{
		templates:    templates,
		snapshots:    snapshots,
		budgeter:     budgeter,
		generator:    generator,
		view:         view,
		activityRepo: activityRepo,
		auditRepo:    auditRepo,
		eventRepo:    eventRepo,
		fanOut:       fanOut,
		loadCeiling:  loadCeiling,
	}
}

// dayPlan is one candidate day's decision, carried from the sequential
// decision phase through generation into the ordered apply phase.
type dayPlan struct {
	date            time.Time
	discipline      model.Discipline
	tier            model.IntensityTier
	slotStart       time.Time
	duration        time.Duration
	request         *PlanRequest
	recoveryUnknown bool

	workout *GeneratedWorkout
	genErr  error
}

// Plan runs three phases: decide per day (sequential, reads only), generate
// content (bounded fan-out), apply mutations in ascending date order.
func (p *planner) Plan(ctx context.Context, cyc *Cycle, goals *config.Goals, horizonDays int) error {
	if horizonDays <= 0 {
		horizonDays = 3
	}
	loc := goals.Location()
	today := model.Date(cyc.Now, loc)
	horizonEnd := today.AddDate(0, 0, horizonDays)

	// One windowed read covering every week the horizon touches; all reads
	// happen before any mutation.
	readStart := model.WeekStart(today, loc)
	readEnd := model.WeekStart(horizonEnd, loc).AddDate(0, 0, 7)
	events, err := p.view.ListRange(ctx, readStart, readEnd)
	if err != nil {
		return err
	}

	candidates, err := p.decide(ctx, cyc, goals, today, horizonEnd, events)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		return nil
	}

	p.generateAll(ctx, candidates)

	return p.apply(ctx, cyc, goals, candidates)
}

func (p *planner) decide(ctx context.Context, cyc *Cycle, goals *config.Goals, today, horizonEnd time.Time, events []*model.CalendarEvent) ([]*dayPlan, error) {
	loc := goals.Location()
	prev := plannedDisciplineOn(events, today.AddDate(0, 0, -1), loc)

	var candidates []*dayPlan
	for day := today; day.Before(horizonEnd); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrDeadlineExceeded, "planning cancelled")
		}

		if existing := plannedDisciplineOn(events, day, loc); existing != "" {
			prev = existing
			p.recordSkip(ctx, cyc, model.ActionSkipDuplicate, day,
				fmt.Sprintf("a planned %s event already exists on %s", existing, day.Format("2006-01-02")))
			continue
		}

		weekStart := model.WeekStart(day, loc)
		budget, err := p.budgeter.Compute(ctx, goals, weekStart, cyc.Now, events)
		if err != nil {
			return nil, err
		}
		if budget.AllZero() {
			prev = ""
			p.recordSkip(ctx, cyc, model.ActionSkipTargetMet, day, "all weekly targets met")
			continue
		}

		discipline, ok := chooseDiscipline(goals.Priority(), budget.Remaining, prev)
		if !ok {
			prev = ""
			p.recordSkip(ctx, cyc, model.ActionSkipTargetMet, day, "all weekly targets met")
			continue
		}

		snap, err := p.snapshots.Snapshot(ctx, day)
		if err != nil {
			return nil, err
		}

		tier := intensityFor(snap.EffectiveTier(), discipline, snap.TrainingLoad48h, p.loadCeiling)
		template, ok := p.templates.Get(discipline)
		if !ok {
			return nil, apperrors.Wrap(apperrors.ErrTemplateNotFound, apperrors.ErrConfig,
				fmt.Sprintf("no workout template for %s", discipline))
		}
		minutes, err := p.templates.Duration(discipline, tier)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrConfig, "template duration lookup failed")
		}
		duration := time.Duration(minutes) * time.Minute

		preferred, alternate := windowsFor(goals)
		busy := BusyIntervals(eventsOn(events, day, loc))
		if day.Equal(today) {
			// Today's elapsed hours are not schedulable
			busy = append(busy, Interval{Start: day, End: cyc.Now})
		}

		slotStart, found := FindFreeSlot(day, duration, preferred, alternate, busy)
		if !found {
			prev = ""
			p.recordSkip(ctx, cyc, model.ActionSkipNoSlot, day,
				fmt.Sprintf("no free %s slot for %s in either window", duration, discipline))
			continue
		}

		recent, err := p.activityRepo.ActivitiesIn(ctx, day.AddDate(0, 0, -7), day)
		if err != nil {
			return nil, err
		}

		candidate := &dayPlan{
			date:            day,
			discipline:      discipline,
			tier:            tier,
			slotStart:       slotStart,
			duration:        duration,
			recoveryUnknown: snap.Tier == model.RecoveryUnknown,
			request: &PlanRequest{
				Date:             day,
				Discipline:       discipline,
				Tier:             tier,
				SlotStart:        slotStart,
				DurationMinutes:  minutes,
				Snapshot:         snap,
				RecentActivities: recent,
				Template:         template,
				Goals:            goals,
			},
		}
		candidates = append(candidates, candidate)
		prev = discipline

		// Later days must budget against this decision
		events = append(events, &model.CalendarEvent{
			Summary:     model.PlannedSummaryPrefix + string(discipline) + ": pending",
			Description: model.DisciplineTagPrefix + string(discipline),
			StartTime:   slotStart,
			EndTime:     slotStart.Add(duration),
			Origin:      model.OriginPlanned,
		})
	}
	return candidates, nil
}

// generateAll fills candidate workouts with bounded concurrency. Order of
// completion does not matter; application stays ordered by date.
func (p *planner) generateAll(ctx context.Context, candidates []*dayPlan) {
	sem := make(chan struct{}, p.fanOut)
	var wg sync.WaitGroup
	for _, c := range candidates {
		wg.Add(1)
		go func(c *dayPlan) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			c.workout, c.genErr = p.generator.Generate(ctx, c.request)
		}(c)
	}
	wg.Wait()
}

func (p *planner) apply(ctx context.Context, cyc *Cycle, goals *config.Goals, candidates []*dayPlan) error {
	loc := goals.Location()

	for _, c := range candidates {
		if c.genErr != nil {
			return c.genErr
		}

		summary := model.PlannedSummaryPrefix + string(c.discipline) + ": " + c.workout.Title
		// The length cap covers the tag line too; reserve its room so the
		// discipline always round-trips
		tag := model.DisciplineTagPrefix + string(c.discipline)
		description := truncateTo(c.workout.Description, maxDescriptionLen-len(tag)-2) + "\n\n" + tag
		event := &model.CalendarEvent{
			Summary:     summary,
			Description: description,
			StartTime:   c.slotStart,
			EndTime:     c.slotStart.Add(c.duration),
			Tags:        model.StringSlice{tag},
			Origin:      model.OriginPlanned,
		}

		audit := cyc.newAudit(AgentPlanner, model.ActionPlan, false)
		audit.Confidence = 0.9
		if c.workout.Degraded {
			audit.Confidence = 0.6
		}
		audit.Reasoning = fmt.Sprintf("scheduled %s at %s intensity for %s",
			c.discipline, c.tier, c.date.Format("2006-01-02"))
		audit.DataSources = model.StringSlice{"health_samples", "activities", "calendar", "goals"}
		audit.BeforeState = model.JSONMap{"date": c.date.Format("2006-01-02"), "existing_event": nil}
		audit.AfterState = model.JSONMap{
			"summary":          summary,
			"start":            c.slotStart.Format(time.RFC3339),
			"duration_minutes": int(c.duration / time.Minute),
			"intensity_tier":   string(c.tier),
			"model":            c.workout.Model,
			"degraded":         c.workout.Degraded,
			"recovery_unknown": c.recoveryUnknown,
		}

		if c.workout.Degraded {
			cyc.Stats.Degraded++
		}

		if !cyc.TryMutation() {
			// Dry run or mutation budget spent: record the decision only
			p.appendAudit(ctx, audit)
			continue
		}

		externalID, created, err := p.view.Upsert(ctx, event, loc)
		if err != nil {
			if apperrors.IsTransient(err) {
				logger.Warn("calendar upsert failed, skipping day",
					zap.Time("date", c.date),
					zap.Error(err),
				)
				audit.Reasoning += "; calendar write failed: " + err.Error()
				p.appendAudit(ctx, audit)
				continue
			}
			return err
		}

		event.ExternalID = externalID
		if err := p.eventRepo.Upsert(ctx, event); err != nil {
			logger.Warn("event mirror upsert failed", zap.Error(err))
		}

		if created {
			cyc.Stats.Created++
		} else {
			cyc.Stats.Updated++
		}

		audit.Executed = true
		audit.AfterState["event_id"] = externalID
		p.appendAudit(ctx, audit)
	}
	return nil
}

func (p *planner) recordSkip(ctx context.Context, cyc *Cycle, actionType string, day time.Time, reason string) {
	cyc.Stats.Skipped++
	audit := cyc.newAudit(AgentPlanner, actionType, false)
	audit.Reasoning = reason
	audit.BeforeState = model.JSONMap{"date": day.Format("2006-01-02")}
	audit.DataSources = model.StringSlice{"calendar", "goals"}
	p.appendAudit(ctx, audit)
}

func (p *planner) appendAudit(ctx context.Context, audit *model.AuditAction) {
	if err := p.auditRepo.Append(ctx, audit); err != nil {
		logger.Errorf("failed to append audit action", err,
			zap.String("action_type", audit.ActionType))
	}
}

// chooseDiscipline picks the discipline with the largest remaining quota,
// breaking ties by the configured priority order. The previous day's
// discipline is avoided unless it is the only one with quota left.
func chooseDiscipline(priority []model.Discipline, remaining map[model.Discipline]int, prev model.Discipline) (model.Discipline, bool) {
	var best model.Discipline
	for _, d := range priority {
		if remaining[d] <= 0 || d == prev {
			continue
		}
		if best == "" || remaining[d] > remaining[best] {
			best = d
		}
	}
	if best != "" {
		return best, true
	}
	// Forced repeat when nothing else has quota
	for _, d := range priority {
		if remaining[d] > 0 {
			return d, true
		}
	}
	return "", false
}

// intensityFor is the pure decision table mapping recovery tier and
// discipline to an intensity tier. A 48h training load above the ceiling
// downshifts one tier.
func intensityFor(recovery model.RecoveryTier, d model.Discipline, load48, ceiling float64) model.IntensityTier {
	var tier model.IntensityTier
	switch recovery {
	case model.RecoveryPoor:
		tier = model.TierReduced
	case model.RecoveryFair:
		if d == model.DisciplineRun || d == model.DisciplineBike {
			tier = model.TierReduced
		} else {
			tier = model.TierNormal
		}
	default:
		tier = model.TierNormal
	}

	if ceiling > 0 && load48 > ceiling {
		tier = tier.Downshift()
	}
	return tier
}

// windowsFor maps the preferred-time policy onto search windows. Only the
// flexible policy gets an alternate window.
func windowsFor(goals *config.Goals) (config.HourWindow, *config.HourWindow) {
	switch goals.Preferences.PreferredWorkoutTime {
	case config.PolicyMorning:
		return goals.MorningWindow(), nil
	case config.PolicyEvening:
		return goals.EveningWindow(), nil
	default:
		evening := goals.EveningWindow()
		return goals.MorningWindow(), &evening
	}
}

// eventsOn filters events overlapping the given local day.
func eventsOn(events []*model.CalendarEvent, day time.Time, loc *time.Location) []*model.CalendarEvent {
	dayEnd := day.AddDate(0, 0, 1)
	var out []*model.CalendarEvent
	for _, e := range events {
		if e.StartTime.Before(dayEnd) && day.Before(e.EndTime) {
			out = append(out, e)
		}
	}
	return out
}

// plannedDisciplineOn returns the discipline of a planner-owned event on the
// given day, or empty when there is none.
func plannedDisciplineOn(events []*model.CalendarEvent, day time.Time, loc *time.Location) model.Discipline {
	for _, e := range eventsOn(events, day, loc) {
		if e.Origin != model.OriginPlanned && !e.PlannerOwned() {
			continue
		}
		if d, ok := e.EventDiscipline(); ok {
			return d
		}
	}
	return ""
}
