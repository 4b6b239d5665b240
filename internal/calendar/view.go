package calendar

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/ai-workout-scheduler/agent/internal/errors"
	"github.com/ai-workout-scheduler/agent/internal/model"
	"github.com/ai-workout-scheduler/agent/internal/pkg/logger"
)

const maxListRange = 90 * 24 * time.Hour

// RetryPolicy controls the transient-error retry loop.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Factor   float64
	Jitter   float64
}

// DefaultRetryPolicy: 3 attempts, base 1s, factor 2, ±20% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Base: time.Second, Factor: 2, Jitter: 0.2}
}

// View wraps the calendar collaborator as an ordered event sequence with
// idempotent planner writes.
type View struct {
	client Client
	policy RetryPolicy
	sleep  func(context.Context, time.Duration) error
}

// NewView builds a calendar view with the given retry policy. A zero policy
// gets the defaults.
func NewView(client Client, policy RetryPolicy) *View {
	if policy.Attempts <= 0 {
		policy = DefaultRetryPolicy()
	}
	return &View{
		client: client,
		policy: policy,
		sleep:  sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// ListRange returns events in [start, end), ascending by start time.
// Ranges longer than 90 days are clipped.
func (v *View) ListRange(ctx context.Context, start, end time.Time) ([]*model.CalendarEvent, error) {
	if end.Sub(start) > maxListRange {
		end = start.Add(maxListRange)
	}

	var events []*model.CalendarEvent
	err := v.withRetry(ctx, "list", func() error {
		var err error
		events, err = v.client.List(ctx, start, end)
		return err
	})
	if err != nil {
		return nil, err
	}

	filtered := events[:0]
	for _, e := range events {
		if e.StartTime.Before(end) && !e.StartTime.Before(start) {
			filtered = append(filtered, e)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].StartTime.Before(filtered[j].StartTime)
	})
	return filtered, nil
}

// Upsert creates or updates a planner-owned event. When the event has no
// external ID yet, an existing planned event for the same (date, discipline)
// slot is searched so repeated cycles stay idempotent. Returns the external
// ID and whether a new event was created.
func (v *View) Upsert(ctx context.Context, event *model.CalendarEvent, loc *time.Location) (string, bool, error) {
	if event.Origin != model.OriginPlanned {
		return "", false, apperrors.New(apperrors.ErrForbidden, "refusing to upsert a non-planner event")
	}

	if event.ExternalID == "" {
		existing, err := v.findPlannedSlot(ctx, event, loc)
		if err != nil {
			return "", false, err
		}
		if existing != nil {
			event.ExternalID = existing.ExternalID
		}
	}

	if event.ExternalID != "" {
		err := v.withRetry(ctx, "update", func() error {
			return v.client.Update(ctx, event)
		})
		if err != nil {
			return "", false, err
		}
		return event.ExternalID, false, nil
	}

	var externalID string
	err := v.withRetry(ctx, "insert", func() error {
		var err error
		externalID, err = v.client.Insert(ctx, event)
		return err
	})
	if err != nil {
		return "", false, err
	}
	event.ExternalID = externalID
	return externalID, true, nil
}

// findPlannedSlot locates an existing planner-owned event on the same local
// date with the same discipline. This is the stable (date, discipline) key.
func (v *View) findPlannedSlot(ctx context.Context, event *model.CalendarEvent, loc *time.Location) (*model.CalendarEvent, error) {
	discipline, ok := event.EventDiscipline()
	if !ok {
		return nil, nil
	}
	dayStart := model.Date(event.StartTime, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	events, err := v.ListRange(ctx, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		if e.Origin != model.OriginPlanned {
			continue
		}
		if d, ok := e.EventDiscipline(); ok && d == discipline {
			return e, nil
		}
	}
	return nil, nil
}

// Delete removes an event by external ID. A not_found answer counts as
// success: the desired state is already true.
func (v *View) Delete(ctx context.Context, externalID string) error {
	err := v.withRetry(ctx, "delete", func() error {
		return v.client.Delete(ctx, externalID)
	})
	if err != nil && Classify(err) == KindNotFound {
		return nil
	}
	return err
}

// withRetry runs op, retrying transient failures with exponential backoff
// and jitter. Permission, not_found and permanent failures surface
// immediately as classified AppErrors.
func (v *View) withRetry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < v.policy.Attempts; attempt++ {
		if attempt > 0 {
			backoff := float64(v.policy.Base)
			for i := 1; i < attempt; i++ {
				backoff *= v.policy.Factor
			}
			jitter := 1 + v.policy.Jitter*(2*rand.Float64()-1)
			if err := v.sleep(ctx, time.Duration(backoff*jitter)); err != nil {
				return apperrors.Wrap(err, apperrors.ErrDeadlineExceeded, "calendar retry interrupted")
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		switch Classify(err) {
		case KindTransient:
			logger.Warn("transient calendar error, retrying",
				zap.String("op", op),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		case KindPermission:
			return apperrors.Wrap(err, apperrors.ErrPermission, fmt.Sprintf("calendar %s denied", op))
		case KindNotFound:
			return apperrors.Wrap(err, apperrors.ErrNotFound, fmt.Sprintf("calendar %s target missing", op))
		default:
			return apperrors.Wrap(err, apperrors.ErrExternalService, fmt.Sprintf("calendar %s failed", op))
		}
	}
	return apperrors.Wrap(lastErr, apperrors.ErrTransientExternal, fmt.Sprintf("calendar %s failed after %d attempts", op, v.policy.Attempts))
}
