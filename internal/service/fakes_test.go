package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ai-workout-scheduler/agent/internal/model"
)

// In-memory repository fakes shared by the service tests.

type fakeHealthRepo struct {
	mu      sync.Mutex
	samples []*model.HealthSample
	err     error
}

func (f *fakeHealthRepo) Upsert(ctx context.Context, sample *model.HealthSample) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	for _, s := range f.samples {
		if s.Timestamp.Equal(sample.Timestamp) && s.Source == sample.Source {
			return false, nil
		}
	}
	f.samples = append(f.samples, sample)
	return true, nil
}

func (f *fakeHealthRepo) LatestBefore(ctx context.Context, cutoff time.Time) (*model.HealthSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var latest *model.HealthSample
	for _, s := range f.samples {
		if s.Timestamp.Before(cutoff) && (latest == nil || s.Timestamp.After(latest.Timestamp)) {
			latest = s
		}
	}
	return latest, nil
}

func (f *fakeHealthRepo) SamplesIn(ctx context.Context, start, end time.Time) ([]*model.HealthSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []*model.HealthSample
	for _, s := range f.samples {
		if !s.Timestamp.Before(start) && s.Timestamp.Before(end) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

type fakeActivityRepo struct {
	mu         sync.Mutex
	activities []*model.Activity
	err        error
}

func (f *fakeActivityRepo) Upsert(ctx context.Context, activity *model.Activity) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	for _, a := range f.activities {
		if a.Timestamp.Equal(activity.Timestamp) && a.Discipline == activity.Discipline {
			return false, nil
		}
	}
	f.activities = append(f.activities, activity)
	return true, nil
}

func (f *fakeActivityRepo) ActivitiesIn(ctx context.Context, start, end time.Time) ([]*model.Activity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	var out []*model.Activity
	for _, a := range f.activities {
		if !a.Timestamp.Before(start) && a.Timestamp.Before(end) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (f *fakeActivityRepo) CountInWeek(ctx context.Context, discipline model.Discipline, weekStart, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	cutoff := weekStart.AddDate(0, 0, 7)
	if now.Before(cutoff) {
		cutoff = now
	}
	var count int64
	for _, a := range f.activities {
		if a.Discipline == discipline && !a.Timestamp.Before(weekStart) && a.Timestamp.Before(cutoff) {
			count++
		}
	}
	return count, nil
}

type fakeAuditRepo struct {
	mu      sync.Mutex
	actions []*model.AuditAction
	err     error
}

func (f *fakeAuditRepo) Append(ctx context.Context, action *model.AuditAction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if action.Timestamp.IsZero() {
		action.Timestamp = time.Now()
	}
	copied := *action
	f.actions = append(f.actions, &copied)
	return nil
}

func (f *fakeAuditRepo) ListByCycle(ctx context.Context, cycleID string) ([]*model.AuditAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.AuditAction
	for _, a := range f.actions {
		if a.CycleID == cycleID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAuditRepo) ListRecent(ctx context.Context, since time.Time, limit int) ([]*model.AuditAction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.AuditAction
	for _, a := range f.actions {
		if !a.Timestamp.Before(since) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// byType filters recorded actions by action type.
func (f *fakeAuditRepo) byType(actionType string) []*model.AuditAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.AuditAction
	for _, a := range f.actions {
		if a.ActionType == actionType {
			out = append(out, a)
		}
	}
	return out
}

type fakeEventRepo struct {
	mu     sync.Mutex
	events map[string]*model.CalendarEvent
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: make(map[string]*model.CalendarEvent)}
}

func (f *fakeEventRepo) Upsert(ctx context.Context, event *model.CalendarEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copied := *event
	f.events[event.ExternalID] = &copied
	return nil
}

func (f *fakeEventRepo) ListRange(ctx context.Context, start, end time.Time) ([]*model.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.CalendarEvent
	for _, e := range f.events {
		if !e.StartTime.Before(start) && e.StartTime.Before(end) {
			copied := *e
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (f *fakeEventRepo) byID(externalID string) *model.CalendarEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.events[externalID]; ok {
		copied := *e
		return &copied
	}
	return nil
}

func (f *fakeEventRepo) DeleteByExternalID(ctx context.Context, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.events, externalID)
	return nil
}

// fakeView is an in-memory CalendarView with the same (date, discipline)
// upsert idempotence as the real one.
type fakeView struct {
	mu      sync.Mutex
	events  map[string]*model.CalendarEvent
	nextID  int
	upserts int
	deletes int
	failAll error
}

func newFakeView() *fakeView {
	return &fakeView{events: make(map[string]*model.CalendarEvent)}
}

func (f *fakeView) ListRange(ctx context.Context, start, end time.Time) ([]*model.CalendarEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return nil, f.failAll
	}
	var out []*model.CalendarEvent
	for _, e := range f.events {
		if !e.StartTime.Before(start) && e.StartTime.Before(end) {
			copied := *e
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (f *fakeView) Upsert(ctx context.Context, event *model.CalendarEvent, loc *time.Location) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return "", false, f.failAll
	}
	f.upserts++

	id := event.ExternalID
	if id == "" {
		if d, ok := event.EventDiscipline(); ok {
			day := model.Date(event.StartTime, loc)
			for _, e := range f.events {
				if e.Origin != model.OriginPlanned {
					continue
				}
				if !model.Date(e.StartTime, loc).Equal(day) {
					continue
				}
				if ed, ok := e.EventDiscipline(); ok && ed == d {
					id = e.ExternalID
					break
				}
			}
		}
	}

	created := false
	if id == "" {
		f.nextID++
		id = fmt.Sprintf("evt-%d", f.nextID)
		created = true
	}
	copied := *event
	copied.ExternalID = id
	f.events[id] = &copied
	return id, created, nil
}

func (f *fakeView) Delete(ctx context.Context, externalID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAll != nil {
		return f.failAll
	}
	f.deletes++
	delete(f.events, externalID)
	return nil
}

func (f *fakeView) byID(id string) *model.CalendarEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.events[id]; ok {
		copied := *e
		return &copied
	}
	return nil
}

func (f *fakeView) all() []*model.CalendarEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.CalendarEvent
	for _, e := range f.events {
		copied := *e
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

func floatPtr(v float64) *float64 { return &v }
