package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ai-workout-scheduler/agent/internal/model"
	"github.com/ai-workout-scheduler/agent/internal/pkg/logger"
	"github.com/ai-workout-scheduler/agent/internal/repository"
)

// Lookback windows for wearable imports. Health rows arrive late (sleep is
// scored after wake-up), so a few past days are re-fetched every cycle and
// deduplicated on upsert.
const (
	healthLookbackDays   = 3
	activityLookbackDays = 7
)

// WearableClient is the wearable collaborator contract as the ingest layer
// sees it. Satisfied by garmin.RESTClient.
type WearableClient interface {
	DailySample(ctx context.Context, day time.Time) (*model.HealthSample, error)
	Activities(ctx context.Context, start, end time.Time) ([]*model.Activity, error)
}

// ImportCache remembers the last successful wearable import so back-to-back
// cycles skip redundant API calls. Satisfied by redis.Cache.
type ImportCache interface {
	LastImport(ctx context.Context) (time.Time, error)
	SetLastImport(ctx context.Context, when time.Time) error
}

// IngestService pulls wearable and calendar data into the local store ahead
// of reconciliation. Run is the cycle entry point; the Import methods back
// the standalone import commands.
type IngestService interface {
	Run(ctx context.Context, cyc *Cycle) error
	ImportWearable(ctx context.Context, cyc *Cycle, days int, force bool) error
	ImportCalendar(ctx context.Context, cyc *Cycle, pastDays, futureDays int) error
}

type ingestService struct {
	wearable     WearableClient
	view         CalendarView
	healthRepo   repository.HealthRepository
	activityRepo repository.ActivityRepository
	eventRepo    repository.EventRepository
	auditRepo    repository.AuditRepository
	cache        ImportCache
	maxCacheAge  time.Duration
}

// NewIngestService creates a new instance of IngestService. wearable and
// cache may be nil; a nil wearable turns Run into a no-op and a nil cache
// disables the freshness check.
func NewIngestService(
	wearable WearableClient,
	view CalendarView,
	healthRepo repository.HealthRepository,
	activityRepo repository.ActivityRepository,
	eventRepo repository.EventRepository,
	auditRepo repository.AuditRepository,
	cache ImportCache,
	maxCacheAge time.Duration,
) IngestService {
	if maxCacheAge <= 0 {
		maxCacheAge = 6 * time.Hour
	}
	return &ingestService{
		wearable:     wearable,
		view:         view,
		healthRepo:   healthRepo,
		activityRepo: activityRepo,
		eventRepo:    eventRepo,
		auditRepo:    auditRepo,
		cache:        cache,
		maxCacheAge:  maxCacheAge,
	}
}

func (s *ingestService) Run(ctx context.Context, cyc *Cycle) error {
	return s.ImportWearable(ctx, cyc, 0, false)
}

func (s *ingestService) ImportWearable(ctx context.Context, cyc *Cycle, days int, force bool) error {
	if days <= 0 {
		days = activityLookbackDays
	}
	if s.wearable == nil {
		return nil
	}
	if cyc.DryRun {
		s.recordSkip(ctx, cyc, "dry run, wearable import not performed")
		return nil
	}

	if !force && s.cache != nil {
		last, err := s.cache.LastImport(ctx)
		if err != nil {
			logger.Warn("import cache read failed, importing anyway", zap.Error(err))
		} else if s.fresh(last, cyc.Now) {
			s.recordSkip(ctx, cyc, fmt.Sprintf("last import at %s is recent enough",
				last.Format(time.RFC3339)))
			return nil
		}
	}

	samples, sampleDups, err := s.importHealth(ctx, cyc)
	if err != nil {
		return err
	}
	activities, activityDups, err := s.importActivities(ctx, cyc, days)
	if err != nil {
		return err
	}

	audit := cyc.newAudit(AgentIngest, model.ActionImport, true)
	audit.Confidence = 1.0
	audit.Reasoning = "wearable import"
	audit.DataSources = model.StringSlice{"garmin"}
	audit.AfterState = model.JSONMap{
		"samples_inserted":     samples,
		"samples_duplicate":    sampleDups,
		"activities_inserted":  activities,
		"activities_duplicate": activityDups,
	}
	s.appendAudit(ctx, audit)

	if s.cache != nil {
		if err := s.cache.SetLastImport(ctx, cyc.Now); err != nil {
			logger.Warn("failed to record import time", zap.Error(err))
		}
	}
	return nil
}

// fresh reports whether a new import can be skipped: the last one is both
// recent and from the same calendar day, so overnight data is never missed.
func (s *ingestService) fresh(last, now time.Time) bool {
	if last.IsZero() {
		return false
	}
	if now.Sub(last) >= s.maxCacheAge {
		return false
	}
	return model.Date(last, time.UTC).Equal(model.Date(now, time.UTC))
}

func (s *ingestService) importHealth(ctx context.Context, cyc *Cycle) (inserted, duplicates int, err error) {
	today := model.Date(cyc.Now, time.UTC)
	for i := healthLookbackDays - 1; i >= 0; i-- {
		day := today.AddDate(0, 0, -i)
		sample, err := s.wearable.DailySample(ctx, day)
		if err != nil {
			return inserted, duplicates, err
		}
		if sample == nil {
			continue
		}
		ok, err := s.healthRepo.Upsert(ctx, sample)
		if err != nil {
			return inserted, duplicates, err
		}
		if ok {
			inserted++
		} else {
			duplicates++
		}
	}
	return inserted, duplicates, nil
}

func (s *ingestService) importActivities(ctx context.Context, cyc *Cycle, days int) (inserted, duplicates int, err error) {
	start := model.Date(cyc.Now, time.UTC).AddDate(0, 0, -days)
	activities, err := s.wearable.Activities(ctx, start, cyc.Now)
	if err != nil {
		return 0, 0, err
	}

	for _, a := range activities {
		ok, err := s.activityRepo.Upsert(ctx, a)
		if err != nil {
			return inserted, duplicates, err
		}
		if ok {
			inserted++
			continue
		}
		duplicates++
		audit := cyc.newAudit(AgentIngest, model.ActionSkipDuplicate, false)
		audit.Confidence = 1.0
		audit.Reasoning = "activity already recorded"
		audit.DataSources = model.StringSlice{"garmin"}
		audit.AfterState = model.JSONMap{
			"timestamp":  a.Timestamp.Format(time.RFC3339),
			"discipline": string(a.Discipline),
		}
		s.appendAudit(ctx, audit)
	}
	return inserted, duplicates, nil
}

// ImportCalendar mirrors remote events into the local store so past cycles
// can be inspected without calendar API calls.
func (s *ingestService) ImportCalendar(ctx context.Context, cyc *Cycle, pastDays, futureDays int) error {
	if pastDays <= 0 {
		pastDays = 7
	}
	if futureDays <= 0 {
		futureDays = 30
	}

	start := model.Date(cyc.Now, time.UTC).AddDate(0, 0, -pastDays)
	end := cyc.Now.AddDate(0, 0, futureDays)

	events, err := s.view.ListRange(ctx, start, end)
	if err != nil {
		return err
	}

	var mirrored int
	for _, e := range events {
		if cyc.DryRun {
			continue
		}
		if err := s.eventRepo.Upsert(ctx, e); err != nil {
			return err
		}
		mirrored++
	}

	audit := cyc.newAudit(AgentIngest, model.ActionImport, !cyc.DryRun)
	audit.Confidence = 1.0
	audit.Reasoning = "calendar mirror import"
	audit.DataSources = model.StringSlice{"calendar"}
	audit.AfterState = model.JSONMap{"events_mirrored": mirrored, "events_seen": len(events)}
	s.appendAudit(ctx, audit)
	return nil
}

func (s *ingestService) recordSkip(ctx context.Context, cyc *Cycle, reason string) {
	audit := cyc.newAudit(AgentIngest, model.ActionSkipImport, false)
	audit.Confidence = 1.0
	audit.Reasoning = reason
	audit.DataSources = model.StringSlice{"garmin"}
	s.appendAudit(ctx, audit)
}

func (s *ingestService) appendAudit(ctx context.Context, audit *model.AuditAction) {
	if err := s.auditRepo.Append(ctx, audit); err != nil {
		logger.Errorf("failed to append audit action", err,
			zap.String("action_type", audit.ActionType))
	}
}
