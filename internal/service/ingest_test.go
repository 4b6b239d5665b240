package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-workout-scheduler/agent/internal/model"
)

type fakeWearable struct {
	samples    map[string]*model.HealthSample
	activities []*model.Activity
	err        error
	sampleGets int
}

func (f *fakeWearable) DailySample(ctx context.Context, day time.Time) (*model.HealthSample, error) {
	f.sampleGets++
	if f.err != nil {
		return nil, f.err
	}
	return f.samples[day.Format("2006-01-02")], nil
}

func (f *fakeWearable) Activities(ctx context.Context, start, end time.Time) ([]*model.Activity, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.activities, nil
}

type fakeImportCache struct {
	last time.Time
	sets int
}

func (f *fakeImportCache) LastImport(ctx context.Context) (time.Time, error) {
	return f.last, nil
}

func (f *fakeImportCache) SetLastImport(ctx context.Context, when time.Time) error {
	f.last = when
	f.sets++
	return nil
}

type ingestFixture struct {
	wearable *fakeWearable
	cache    *fakeImportCache
	health   *fakeHealthRepo
	activity *fakeActivityRepo
	mirror   *fakeEventRepo
	audit    *fakeAuditRepo
	view     *fakeView
	svc      IngestService
}

func newIngestFixture() *ingestFixture {
	f := &ingestFixture{
		wearable: &fakeWearable{samples: map[string]*model.HealthSample{}},
		cache:    &fakeImportCache{},
		health:   &fakeHealthRepo{},
		activity: &fakeActivityRepo{},
		mirror:   newFakeEventRepo(),
		audit:    &fakeAuditRepo{},
		view:     newFakeView(),
	}
	f.svc = NewIngestService(f.wearable, f.view, f.health, f.activity, f.mirror,
		f.audit, f.cache, 6*time.Hour)
	return f
}

func daySample(day time.Time) *model.HealthSample {
	return &model.HealthSample{
		Timestamp:          day,
		Source:             "garmin",
		SleepDurationHours: floatPtr(7.5),
	}
}

func TestIngest_ImportsHealthAndActivities(t *testing.T) {
	f := newIngestFixture()
	now := testDay.Add(8 * time.Hour)

	for i := 0; i < 3; i++ {
		day := testDay.AddDate(0, 0, -i)
		f.wearable.samples[day.Format("2006-01-02")] = daySample(day)
	}
	f.wearable.activities = []*model.Activity{
		{Timestamp: testDay.Add(-18 * time.Hour), Discipline: model.DisciplineRun, DurationMinutes: 40},
		{Timestamp: testDay.Add(-42 * time.Hour), Discipline: model.DisciplineSwim, DurationMinutes: 30},
	}

	cyc := NewCycle(now, 8, false)
	require.NoError(t, f.svc.Run(context.Background(), cyc))

	assert.Len(t, f.health.samples, 3)
	assert.Len(t, f.activity.activities, 2)
	assert.Equal(t, 1, f.cache.sets)

	imports := f.audit.byType(model.ActionImport)
	require.Len(t, imports, 1)
	assert.True(t, imports[0].Executed)
	assert.Equal(t, 3, imports[0].AfterState["samples_inserted"])
	assert.Equal(t, 2, imports[0].AfterState["activities_inserted"])
}

func TestIngest_FreshCacheSkipsImport(t *testing.T) {
	f := newIngestFixture()
	now := testDay.Add(8 * time.Hour)
	f.cache.last = now.Add(-2 * time.Hour)

	cyc := NewCycle(now, 8, false)
	require.NoError(t, f.svc.Run(context.Background(), cyc))

	assert.Equal(t, 0, f.wearable.sampleGets)
	require.Len(t, f.audit.byType(model.ActionSkipImport), 1)
}

func TestIngest_StaleCacheImports(t *testing.T) {
	f := newIngestFixture()
	now := testDay.Add(8 * time.Hour)
	f.cache.last = now.Add(-7 * time.Hour)

	cyc := NewCycle(now, 8, false)
	require.NoError(t, f.svc.Run(context.Background(), cyc))

	assert.Equal(t, 3, f.wearable.sampleGets)
}

func TestIngest_YesterdayImportIsStaleEvenIfRecent(t *testing.T) {
	f := newIngestFixture()
	// 01:00 with the last import at 23:00 the previous day: recent by the
	// clock but overnight sleep data would be missed.
	now := testDay.Add(1 * time.Hour)
	f.cache.last = testDay.Add(-1 * time.Hour)

	cyc := NewCycle(now, 8, false)
	require.NoError(t, f.svc.Run(context.Background(), cyc))

	assert.Equal(t, 3, f.wearable.sampleGets)
}

func TestIngest_ForceBypassesCache(t *testing.T) {
	f := newIngestFixture()
	now := testDay.Add(8 * time.Hour)
	f.cache.last = now.Add(-1 * time.Hour)

	cyc := NewCycle(now, 8, false)
	require.NoError(t, f.svc.ImportWearable(context.Background(), cyc, 0, true))

	assert.Equal(t, 3, f.wearable.sampleGets)
}

func TestIngest_DuplicatesAudited(t *testing.T) {
	f := newIngestFixture()
	now := testDay.Add(8 * time.Hour)

	existing := &model.Activity{
		Timestamp: testDay.Add(-18 * time.Hour), Discipline: model.DisciplineRun, DurationMinutes: 40,
	}
	f.activity.activities = []*model.Activity{existing}
	f.wearable.activities = []*model.Activity{
		{Timestamp: existing.Timestamp, Discipline: model.DisciplineRun, DurationMinutes: 40},
		{Timestamp: testDay.Add(-42 * time.Hour), Discipline: model.DisciplineSwim, DurationMinutes: 30},
	}

	cyc := NewCycle(now, 8, false)
	require.NoError(t, f.svc.Run(context.Background(), cyc))

	assert.Len(t, f.activity.activities, 2)
	dups := f.audit.byType(model.ActionSkipDuplicate)
	require.Len(t, dups, 1)
	assert.False(t, dups[0].Executed)
	assert.Equal(t, "run", dups[0].AfterState["discipline"])

	imports := f.audit.byType(model.ActionImport)
	require.Len(t, imports, 1)
	assert.Equal(t, 1, imports[0].AfterState["activities_duplicate"])
}

func TestIngest_WearableErrorPropagates(t *testing.T) {
	f := newIngestFixture()
	f.wearable.err = assert.AnError

	cyc := NewCycle(testDay.Add(8*time.Hour), 8, false)
	err := f.svc.Run(context.Background(), cyc)
	require.Error(t, err)
	assert.Equal(t, 0, f.cache.sets)
}

func TestIngest_DryRunSkips(t *testing.T) {
	f := newIngestFixture()

	cyc := NewCycle(testDay.Add(8*time.Hour), 8, true)
	require.NoError(t, f.svc.Run(context.Background(), cyc))

	assert.Equal(t, 0, f.wearable.sampleGets)
	assert.Len(t, f.audit.byType(model.ActionSkipImport), 1)
}

func TestIngest_ImportCalendarMirrorsEvents(t *testing.T) {
	f := newIngestFixture()
	now := testDay.Add(8 * time.Hour)

	f.view.events["ext-1"] = externalBlock("ext-1", testDay.Add(10*time.Hour), testDay.Add(11*time.Hour))
	f.view.events["ext-2"] = externalBlock("ext-2", testDay.AddDate(0, 0, 2).Add(9*time.Hour), testDay.AddDate(0, 0, 2).Add(10*time.Hour))

	cyc := NewCycle(now, 8, false)
	require.NoError(t, f.svc.ImportCalendar(context.Background(), cyc, 7, 30))

	assert.NotNil(t, f.mirror.byID("ext-1"))
	assert.NotNil(t, f.mirror.byID("ext-2"))

	imports := f.audit.byType(model.ActionImport)
	require.Len(t, imports, 1)
	assert.Equal(t, 2, imports[0].AfterState["events_mirrored"])
}
