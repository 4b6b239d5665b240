package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ai-workout-scheduler/agent/internal/config"
	apperrors "github.com/ai-workout-scheduler/agent/internal/errors"
	"github.com/ai-workout-scheduler/agent/internal/model"
	"github.com/ai-workout-scheduler/agent/internal/pkg/logger"
	"github.com/ai-workout-scheduler/agent/internal/repository"
)

// Activity match window around a planned event: the athlete may start a bit
// early or log the activity after a long session.
const (
	matchLeadIn  = 30 * time.Minute
	matchLeadOut = 90 * time.Minute
)

// futureScanDays bounds how far ahead the reconciler looks for planner-owned
// events to purge or reschedule.
const futureScanDays = 30

// Reconciler closes the loop between planned events and observed activity,
// and keeps future events consistent with the current goals and calendar.
type Reconciler interface {
	Reconcile(ctx context.Context, cyc *Cycle, goals *config.Goals, trailingDays int) error
}

type reconciler struct {
	view         CalendarView
	activityRepo repository.ActivityRepository
	auditRepo    repository.AuditRepository
	eventRepo    repository.EventRepository
}

// NewReconciler creates a new instance of Reconciler.
func NewReconciler(
	view CalendarView,
	activityRepo repository.ActivityRepository,
	auditRepo repository.AuditRepository,
	eventRepo repository.EventRepository,
) Reconciler {
	return &reconciler{
		view:         view,
		activityRepo: activityRepo,
		auditRepo:    auditRepo,
		eventRepo:    eventRepo,
	}
}

func (r *reconciler) Reconcile(ctx context.Context, cyc *Cycle, goals *config.Goals, trailingDays int) error {
	if trailingDays <= 0 {
		trailingDays = 7
	}
	loc := goals.Location()
	scanStart := model.Date(cyc.Now, loc).AddDate(0, 0, -trailingDays)
	scanEnd := cyc.Now.AddDate(0, 0, futureScanDays)

	events, err := r.view.ListRange(ctx, scanStart, scanEnd)
	if err != nil {
		return err
	}

	// Events whose discipline left the goals go first, so the rest of the
	// pass never reschedules around them.
	purged := make(map[string]bool)
	for _, e := range PurgeTargets(goals, cyc.Now, events) {
		if err := ctx.Err(); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDeadlineExceeded, "reconciliation cancelled")
		}
		if e.MatchesKeyword(goals.ProtectedKeywords) {
			continue
		}
		discipline, _ := e.EventDiscipline()
		if err := r.cancelEvent(ctx, cyc, e, "target_removed",
			fmt.Sprintf("weekly target for %s is zero", discipline)); err != nil {
			return err
		}
		purged[e.ExternalID] = true
	}

	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return apperrors.Wrap(err, apperrors.ErrDeadlineExceeded, "reconciliation cancelled")
		}
		if purged[e.ExternalID] {
			continue
		}
		if e.Origin != model.OriginPlanned && !e.PlannerOwned() {
			continue
		}
		if e.MatchesKeyword(goals.ProtectedKeywords) {
			continue
		}

		if e.EndTime.Before(cyc.Now) {
			if e.Reconciled() {
				continue
			}
			if err := r.reconcilePast(ctx, cyc, goals, e); err != nil {
				return err
			}
			continue
		}

		if e.StartTime.After(cyc.Now) {
			if err := r.reconcileFuture(ctx, cyc, goals, e, events); err != nil {
				return err
			}
		}
	}
	return nil
}

// reconcilePast marks a finished planned event completed or missed based on
// recorded activities around its time slot.
func (r *reconciler) reconcilePast(ctx context.Context, cyc *Cycle, goals *config.Goals, e *model.CalendarEvent) error {
	discipline, ok := e.EventDiscipline()
	if !ok {
		return nil
	}

	activities, err := r.activityRepo.ActivitiesIn(ctx,
		e.StartTime.Add(-matchLeadIn), e.EndTime.Add(matchLeadOut))
	if err != nil {
		return err
	}

	var matches []*model.Activity
	for _, a := range activities {
		if a.Discipline == discipline {
			matches = append(matches, a)
		}
	}

	if len(matches) == 0 {
		return r.markMissed(ctx, cyc, goals, e)
	}

	best := matches[0]
	if len(matches) > 1 {
		best = bestOverlap(e, matches)
	}
	return r.markCompleted(ctx, cyc, goals, e, best, len(matches) > 1)
}

func (r *reconciler) markCompleted(ctx context.Context, cyc *Cycle, goals *config.Goals, e *model.CalendarEvent, a *model.Activity, multi bool) error {
	updated := *e
	updated.Summary = model.CompletedSummaryPrefix + strings.TrimPrefix(e.Summary, model.PlannedSummaryPrefix)
	updated.Description = e.Description + "\n\n" + observedStats(a)

	audit := cyc.newAudit(AgentReconciler, model.ActionMarkCompleted, false)
	audit.Confidence = 0.9
	if multi {
		audit.Confidence = 0.7
	}
	audit.Reasoning = fmt.Sprintf("matched %s activity at %s to planned event",
		a.Discipline, a.Timestamp.Format(time.RFC3339))
	audit.DataSources = model.StringSlice{"activities", "calendar"}
	audit.BeforeState = model.JSONMap{"summary": e.Summary}
	audit.AfterState = model.JSONMap{
		"summary":          updated.Summary,
		"multi_candidate":  multi,
		"duration_minutes": a.DurationMinutes,
	}

	return r.applyUpdate(ctx, cyc, goals, &updated, audit)
}

func (r *reconciler) markMissed(ctx context.Context, cyc *Cycle, goals *config.Goals, e *model.CalendarEvent) error {
	updated := *e
	updated.Summary = model.MissedSummaryPrefix + strings.TrimPrefix(e.Summary, model.PlannedSummaryPrefix)

	audit := cyc.newAudit(AgentReconciler, model.ActionMissed, false)
	audit.Confidence = 0.8
	audit.Reasoning = "no matching activity recorded around the planned slot"
	audit.DataSources = model.StringSlice{"activities", "calendar"}
	audit.BeforeState = model.JSONMap{"summary": e.Summary}
	audit.AfterState = model.JSONMap{"summary": updated.Summary}

	return r.applyUpdate(ctx, cyc, goals, &updated, audit)
}

// reconcileFuture reschedules imminent events that a non-planner event now
// overlaps; discipline purges already happened via PurgeTargets.
func (r *reconciler) reconcileFuture(ctx context.Context, cyc *Cycle, goals *config.Goals, e *model.CalendarEvent, events []*model.CalendarEvent) error {
	if !e.StartTime.Before(cyc.Now.Add(goals.MinNotice())) {
		return nil
	}

	conflict := overlappingExternal(e, events)
	if conflict == nil {
		return nil
	}

	loc := goals.Location()
	day := model.Date(e.StartTime, loc)
	duration := e.EndTime.Sub(e.StartTime)

	var busy []Interval
	for _, other := range eventsOn(events, day, loc) {
		if other.ExternalID == e.ExternalID {
			continue
		}
		busy = append(busy, Interval{Start: other.StartTime, End: other.EndTime})
	}
	busy = append(busy, Interval{Start: day, End: cyc.Now})

	preferred, alternate := windowsFor(goals)
	slotStart, found := FindFreeSlot(day, duration, preferred, alternate, busy)
	if !found {
		return r.cancelEvent(ctx, cyc, e, "no_slot",
			fmt.Sprintf("overlapped by %q and no alternate slot on %s", conflict.Summary, day.Format("2006-01-02")))
	}

	updated := *e
	updated.StartTime = slotStart
	updated.EndTime = slotStart.Add(duration)

	audit := cyc.newAudit(AgentReconciler, model.ActionReschedule, false)
	audit.Confidence = 0.8
	audit.Reasoning = fmt.Sprintf("moved out of the way of %q", conflict.Summary)
	audit.DataSources = model.StringSlice{"calendar", "goals"}
	audit.BeforeState = model.JSONMap{"start": e.StartTime.Format(time.RFC3339)}
	audit.AfterState = model.JSONMap{"start": slotStart.Format(time.RFC3339), "event_id": e.ExternalID}

	return r.applyUpdate(ctx, cyc, goals, &updated, audit)
}

func (r *reconciler) cancelEvent(ctx context.Context, cyc *Cycle, e *model.CalendarEvent, reason, detail string) error {
	audit := cyc.newAudit(AgentReconciler, model.ActionCancel, false)
	audit.Confidence = 0.9
	audit.Reasoning = fmt.Sprintf("%s: %s", reason, detail)
	audit.DataSources = model.StringSlice{"calendar", "goals"}
	audit.BeforeState = model.JSONMap{"summary": e.Summary, "start": e.StartTime.Format(time.RFC3339)}
	audit.AfterState = model.JSONMap{"reason": reason}

	if !cyc.TryMutation() {
		r.appendAudit(ctx, audit)
		return nil
	}

	if err := r.view.Delete(ctx, e.ExternalID); err != nil {
		if apperrors.IsTransient(err) {
			logger.Warn("calendar delete failed, skipping event",
				zap.String("event_id", e.ExternalID),
				zap.Error(err),
			)
			audit.Reasoning += "; calendar delete failed: " + err.Error()
			r.appendAudit(ctx, audit)
			return nil
		}
		return err
	}
	if err := r.eventRepo.DeleteByExternalID(ctx, e.ExternalID); err != nil {
		logger.Warn("event mirror delete failed", zap.Error(err))
	}

	cyc.Stats.Deleted++
	audit.Executed = true
	r.appendAudit(ctx, audit)
	return nil
}

func (r *reconciler) applyUpdate(ctx context.Context, cyc *Cycle, goals *config.Goals, updated *model.CalendarEvent, audit *model.AuditAction) error {
	if !cyc.TryMutation() {
		r.appendAudit(ctx, audit)
		return nil
	}

	if _, _, err := r.view.Upsert(ctx, updated, goals.Location()); err != nil {
		if apperrors.IsTransient(err) {
			logger.Warn("calendar update failed, skipping event",
				zap.String("event_id", updated.ExternalID),
				zap.Error(err),
			)
			audit.Reasoning += "; calendar write failed: " + err.Error()
			r.appendAudit(ctx, audit)
			return nil
		}
		return err
	}
	if err := r.eventRepo.Upsert(ctx, updated); err != nil {
		logger.Warn("event mirror upsert failed", zap.Error(err))
	}

	cyc.Stats.Updated++
	audit.Executed = true
	r.appendAudit(ctx, audit)
	return nil
}

func (r *reconciler) appendAudit(ctx context.Context, audit *model.AuditAction) {
	if err := r.auditRepo.Append(ctx, audit); err != nil {
		logger.Errorf("failed to append audit action", err,
			zap.String("action_type", audit.ActionType))
	}
}

// bestOverlap returns the activity with the greatest time overlap with the
// event interval.
func bestOverlap(e *model.CalendarEvent, activities []*model.Activity) *model.Activity {
	var best *model.Activity
	var bestOverlap time.Duration
	for _, a := range activities {
		overlap := intervalOverlap(e.StartTime, e.EndTime, a.Timestamp, a.End())
		if best == nil || overlap > bestOverlap {
			best = a
			bestOverlap = overlap
		}
	}
	return best
}

func intervalOverlap(s1, e1, s2, e2 time.Time) time.Duration {
	start := s1
	if s2.After(start) {
		start = s2
	}
	end := e1
	if e2.Before(end) {
		end = e2
	}
	if end.Before(start) {
		return 0
	}
	return end.Sub(start)
}

// overlappingExternal returns a non-planner event overlapping e, if any.
func overlappingExternal(e *model.CalendarEvent, events []*model.CalendarEvent) *model.CalendarEvent {
	for _, other := range events {
		if other.ExternalID == e.ExternalID {
			continue
		}
		if other.Origin == model.OriginPlanned || other.PlannerOwned() {
			continue
		}
		if e.Overlaps(other) {
			return other
		}
	}
	return nil
}

func observedStats(a *model.Activity) string {
	var b strings.Builder
	b.WriteString("Observed: ")
	fmt.Fprintf(&b, "%.0f min", a.DurationMinutes)
	if a.DistanceKM != nil {
		fmt.Fprintf(&b, ", %.1f km", *a.DistanceKM)
	}
	if a.AvgHeartRate != nil {
		fmt.Fprintf(&b, ", avg HR %.0f", *a.AvgHeartRate)
	}
	return b.String()
}
