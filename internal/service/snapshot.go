package service

import (
	"context"
	"sort"
	"time"

	"github.com/ai-workout-scheduler/agent/internal/model"
	"github.com/ai-workout-scheduler/agent/internal/repository"
)

// recoveryWeights is the blend used to score recovery. The components are
// sleep quality, HRV vs baseline, resting HR vs baseline, inverted stress
// and inverted normalized 48h training load.
var recoveryWeights = struct {
	Sleep  float64
	HRV    float64
	RHR    float64
	Stress float64
	Load   float64
}{
	Sleep:  0.35,
	HRV:    0.25,
	RHR:    0.20,
	Stress: 0.15,
	Load:   0.10,
}

// neutralComponent substitutes for a component whose input is absent.
const neutralComponent = 60.0

// staleSampleAge is how old the newest sample may be before the snapshot
// degrades to the unknown tier.
const staleSampleAge = 48 * time.Hour

// Snapshot is the physiological state the planner decides against, derived
// for one reference date.
type Snapshot struct {
	Date               time.Time          `json:"date"`
	SleepDurationHours *float64           `json:"sleep_duration_hours,omitempty"`
	SleepQualityScore  *float64           `json:"sleep_quality_score,omitempty"`
	RestingHeartRate   *float64           `json:"resting_heart_rate,omitempty"`
	HRVScore           *float64           `json:"hrv_score,omitempty"`
	StressLevel        *float64           `json:"stress_level,omitempty"`
	BaselineRestingHR  *float64           `json:"baseline_resting_hr,omitempty"`
	BaselineStress     *float64           `json:"baseline_stress,omitempty"`
	TrainingLoad48h    float64            `json:"training_load_48h"`
	RecoveryScore      float64            `json:"recovery_score"`
	Tier               model.RecoveryTier `json:"recovery_tier"`
	SampleTimestamp    *time.Time         `json:"sample_timestamp,omitempty"`
}

// EffectiveTier is the tier the planner plans against: unknown is treated as
// good (neutral default) while the audit entry keeps the real tier.
func (s *Snapshot) EffectiveTier() model.RecoveryTier {
	if s.Tier == model.RecoveryUnknown {
		return model.RecoveryGood
	}
	return s.Tier
}

// SnapshotService derives recovery snapshots from stored health data.
type SnapshotService interface {
	// Snapshot builds the recovery state for reference date d (local midnight).
	Snapshot(ctx context.Context, d time.Time) (*Snapshot, error)
}

type snapshotService struct {
	healthRepo   repository.HealthRepository
	activityRepo repository.ActivityRepository
	loadCeiling  float64
}

// NewSnapshotService creates a new instance of SnapshotService. loadCeiling
// normalizes the 48h training load into a 0-100 component.
func NewSnapshotService(healthRepo repository.HealthRepository, activityRepo repository.ActivityRepository, loadCeiling float64) SnapshotService {
	if loadCeiling <= 0 {
		loadCeiling = 300
	}
	return &snapshotService{
		healthRepo:   healthRepo,
		activityRepo: activityRepo,
		loadCeiling:  loadCeiling,
	}
}

func (s *snapshotService) Snapshot(ctx context.Context, d time.Time) (*Snapshot, error) {
	snap := &Snapshot{Date: d}

	load, err := s.trainingLoad48h(ctx, d)
	if err != nil {
		return nil, err
	}
	snap.TrainingLoad48h = load

	sample, err := s.healthRepo.LatestBefore(ctx, d.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	if sample == nil || d.Sub(sample.Timestamp) > staleSampleAge {
		snap.Tier = model.RecoveryUnknown
		return snap, nil
	}

	snap.SampleTimestamp = &sample.Timestamp
	snap.SleepDurationHours = sample.SleepDurationHours
	snap.SleepQualityScore = sample.SleepQualityScore
	snap.RestingHeartRate = sample.RestingHeartRate
	snap.HRVScore = sample.HRVScore
	snap.StressLevel = sample.StressLevel

	baselineRHR, baselineStress, err := s.baselines(ctx, d)
	if err != nil {
		return nil, err
	}
	snap.BaselineRestingHR = baselineRHR
	snap.BaselineStress = baselineStress

	snap.RecoveryScore = s.blend(sample, baselineRHR, load)
	snap.Tier = tierForScore(snap.RecoveryScore)
	return snap, nil
}

// blend computes the weighted recovery score. Absent inputs contribute the
// neutral component so a sparse sample does not read as poor recovery.
func (s *snapshotService) blend(sample *model.HealthSample, baselineRHR *float64, load float64) float64 {
	sleep := neutralComponent
	if sample.SleepQualityScore != nil {
		sleep = clamp(*sample.SleepQualityScore, 0, 100)
	}

	hrv := neutralComponent
	if sample.HRVScore != nil {
		// No universal HRV scale; score against a resting-HRV midpoint of 50ms
		hrv = clamp(*sample.HRVScore, 0, 100)
	}

	rhr := neutralComponent
	if sample.RestingHeartRate != nil && baselineRHR != nil && *baselineRHR > 0 {
		// At baseline 50, each percent above baseline costs 2 points
		deviation := (*sample.RestingHeartRate - *baselineRHR) / *baselineRHR
		rhr = clamp(50-200*deviation, 0, 100)
	}

	stress := neutralComponent
	if sample.StressLevel != nil {
		stress = clamp(100-*sample.StressLevel, 0, 100)
	}

	normalizedLoad := clamp(load/s.loadCeiling*100, 0, 100)

	return recoveryWeights.Sleep*sleep +
		recoveryWeights.HRV*hrv +
		recoveryWeights.RHR*rhr +
		recoveryWeights.Stress*stress +
		recoveryWeights.Load*(100-normalizedLoad)
}

func (s *snapshotService) trainingLoad48h(ctx context.Context, d time.Time) (float64, error) {
	activities, err := s.activityRepo.ActivitiesIn(ctx, d.Add(-48*time.Hour), d)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, a := range activities {
		if a.TrainingLoad != nil {
			total += *a.TrainingLoad
		}
	}
	return total, nil
}

// baselines returns the 7-day medians for resting HR and stress level.
func (s *snapshotService) baselines(ctx context.Context, d time.Time) (*float64, *float64, error) {
	samples, err := s.healthRepo.SamplesIn(ctx, d.AddDate(0, 0, -7), d.AddDate(0, 0, 1))
	if err != nil {
		return nil, nil, err
	}

	var rhrs, stresses []float64
	for _, sample := range samples {
		if sample.RestingHeartRate != nil {
			rhrs = append(rhrs, *sample.RestingHeartRate)
		}
		if sample.StressLevel != nil {
			stresses = append(stresses, *sample.StressLevel)
		}
	}
	return median(rhrs), median(stresses), nil
}

func median(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	m := sorted[mid]
	if len(sorted)%2 == 0 {
		m = (sorted[mid-1] + sorted[mid]) / 2
	}
	return &m
}

func tierForScore(score float64) model.RecoveryTier {
	switch {
	case score >= 80:
		return model.RecoveryExcellent
	case score >= 60:
		return model.RecoveryGood
	case score >= 40:
		return model.RecoveryFair
	default:
		return model.RecoveryPoor
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
