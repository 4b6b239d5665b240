package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-workout-scheduler/agent/internal/model"
)

func healthSample(ts time.Time, quality, rhr, hrv, stress float64) *model.HealthSample {
	return &model.HealthSample{
		Timestamp:         ts,
		Source:            "test",
		SleepQualityScore: floatPtr(quality),
		RestingHeartRate:  floatPtr(rhr),
		HRVScore:          floatPtr(hrv),
		StressLevel:       floatPtr(stress),
	}
}

func TestSnapshot_NoSampleIsUnknown(t *testing.T) {
	svc := NewSnapshotService(&fakeHealthRepo{}, &fakeActivityRepo{}, 300)

	snap, err := svc.Snapshot(context.Background(), testDay)
	require.NoError(t, err)
	assert.Equal(t, model.RecoveryUnknown, snap.Tier)
	assert.Equal(t, model.RecoveryGood, snap.EffectiveTier())
}

func TestSnapshot_StaleSampleIsUnknown(t *testing.T) {
	health := &fakeHealthRepo{samples: []*model.HealthSample{
		healthSample(testDay.Add(-72*time.Hour), 85, 52, 70, 20),
	}}
	svc := NewSnapshotService(health, &fakeActivityRepo{}, 300)

	snap, err := svc.Snapshot(context.Background(), testDay)
	require.NoError(t, err)
	assert.Equal(t, model.RecoveryUnknown, snap.Tier)
}

func TestSnapshot_WellRestedScoresHigh(t *testing.T) {
	health := &fakeHealthRepo{}
	for i := 1; i <= 7; i++ {
		health.samples = append(health.samples,
			healthSample(testDay.AddDate(0, 0, -i), 85, 52, 80, 20))
	}
	// Today's sample matches a healthy baseline
	health.samples = append(health.samples, healthSample(testDay.Add(6*time.Hour), 90, 51, 85, 15))

	svc := NewSnapshotService(health, &fakeActivityRepo{}, 300)
	snap, err := svc.Snapshot(context.Background(), testDay)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, snap.RecoveryScore, 60.0)
	assert.Contains(t, []model.RecoveryTier{model.RecoveryGood, model.RecoveryExcellent}, snap.Tier)
	require.NotNil(t, snap.BaselineRestingHR)
	assert.InDelta(t, 52, *snap.BaselineRestingHR, 1.5)
}

func TestSnapshot_PoorNightScoresLow(t *testing.T) {
	health := &fakeHealthRepo{}
	for i := 1; i <= 7; i++ {
		health.samples = append(health.samples,
			healthSample(testDay.AddDate(0, 0, -i), 80, 50, 70, 25))
	}
	// Short bad sleep, elevated resting HR, high stress
	health.samples = append(health.samples, healthSample(testDay.Add(6*time.Hour), 20, 62, 25, 85))

	activities := &fakeActivityRepo{activities: []*model.Activity{
		{
			Timestamp:    testDay.Add(-20 * time.Hour),
			Discipline:   model.DisciplineRun,
			TrainingLoad: floatPtr(280),
		},
	}}

	svc := NewSnapshotService(health, activities, 300)
	snap, err := svc.Snapshot(context.Background(), testDay)
	require.NoError(t, err)

	assert.Less(t, snap.RecoveryScore, 40.0)
	assert.Equal(t, model.RecoveryPoor, snap.Tier)
	assert.Equal(t, model.RecoveryPoor, snap.EffectiveTier())
	assert.InDelta(t, 280, snap.TrainingLoad48h, 0.001)
}

func TestSnapshot_TrainingLoadWindowIs48h(t *testing.T) {
	activities := &fakeActivityRepo{activities: []*model.Activity{
		{Timestamp: testDay.Add(-12 * time.Hour), Discipline: model.DisciplineRun, TrainingLoad: floatPtr(100)},
		{Timestamp: testDay.Add(-40 * time.Hour), Discipline: model.DisciplineBike, TrainingLoad: floatPtr(50)},
		{Timestamp: testDay.Add(-60 * time.Hour), Discipline: model.DisciplineSwim, TrainingLoad: floatPtr(999)},
	}}
	svc := NewSnapshotService(&fakeHealthRepo{}, activities, 300)

	snap, err := svc.Snapshot(context.Background(), testDay)
	require.NoError(t, err)
	assert.InDelta(t, 150, snap.TrainingLoad48h, 0.001)
}

func TestSnapshot_SparseSampleUsesNeutralComponents(t *testing.T) {
	health := &fakeHealthRepo{samples: []*model.HealthSample{
		{Timestamp: testDay.Add(2 * time.Hour), Source: "test"},
	}}
	svc := NewSnapshotService(health, &fakeActivityRepo{}, 300)

	snap, err := svc.Snapshot(context.Background(), testDay)
	require.NoError(t, err)
	// All neutral components minus nothing: stays in the good band
	assert.Equal(t, model.RecoveryGood, snap.Tier)
}

func TestMedian(t *testing.T) {
	assert.Nil(t, median(nil))

	odd := median([]float64{3, 1, 2})
	require.NotNil(t, odd)
	assert.Equal(t, 2.0, *odd)

	even := median([]float64{4, 1, 3, 2})
	require.NotNil(t, even)
	assert.Equal(t, 2.5, *even)
}

func TestTierForScore(t *testing.T) {
	assert.Equal(t, model.RecoveryExcellent, tierForScore(80))
	assert.Equal(t, model.RecoveryGood, tierForScore(60))
	assert.Equal(t, model.RecoveryFair, tierForScore(40))
	assert.Equal(t, model.RecoveryPoor, tierForScore(39.9))
}
