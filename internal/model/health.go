package model

import (
	"strings"
	"time"
)

// Discipline is the canonical workout type the scheduler plans against.
type Discipline string

const (
	DisciplineRun      Discipline = "run"
	DisciplineBike     Discipline = "bike"
	DisciplineSwim     Discipline = "swim"
	DisciplineStrength Discipline = "strength"
	DisciplineOther    Discipline = "other"
)

// Disciplines lists the plannable disciplines in default priority order.
var Disciplines = []Discipline{DisciplineStrength, DisciplineRun, DisciplineBike, DisciplineSwim}

// NormalizeDiscipline maps wearable activity type keys (treadmill_running,
// lap_swimming, indoor_cycling, ...) onto the canonical disciplines.
func NormalizeDiscipline(typeKey string) Discipline {
	switch {
	case containsAny(typeKey, "run", "treadmill"):
		return DisciplineRun
	case containsAny(typeKey, "bike", "cycling", "cycle"):
		return DisciplineBike
	case containsAny(typeKey, "swim", "pool"):
		return DisciplineSwim
	case containsAny(typeKey, "strength", "weight", "lift", "gym"):
		return DisciplineStrength
	default:
		return DisciplineOther
	}
}

func containsAny(s string, subs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// HealthSample is one timestamped measurement from an external source.
// Created by ingestion, never mutated; the raw payload is retained so
// derived fields can be recomputed later.
type HealthSample struct {
	ID                 int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp          time.Time  `gorm:"not null;uniqueIndex:idx_health_ts_source" json:"timestamp" validate:"required"`
	Source             string     `gorm:"size:50;not null;uniqueIndex:idx_health_ts_source" json:"source" validate:"required"`
	SleepDurationHours *float64   `json:"sleep_duration_hours" validate:"omitempty,min=0,max=24"`
	SleepQualityScore  *float64   `json:"sleep_quality_score" validate:"omitempty,min=0,max=100"`
	RestingHeartRate   *float64   `json:"resting_heart_rate" validate:"omitempty,min=0"`
	HRVScore           *float64   `json:"hrv_score" validate:"omitempty,min=0"`
	StressLevel        *float64   `json:"stress_level" validate:"omitempty,min=0,max=100"`
	RecoveryScore      *float64   `json:"recovery_score" validate:"omitempty,min=0,max=100"`
	Steps              *int       `json:"steps" validate:"omitempty,min=0"`
	RawData            JSONMap    `gorm:"type:jsonb" json:"raw_data"`
	CreatedAt          time.Time  `json:"created_at"`
}

func (HealthSample) TableName() string {
	return "health_samples"
}

// Activity is a completed workout as reported by the wearable. Immutable.
type Activity struct {
	ID                int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp         time.Time  `gorm:"not null;uniqueIndex:idx_activity_ts_type" json:"timestamp" validate:"required"`
	Discipline        Discipline `gorm:"size:20;not null;uniqueIndex:idx_activity_ts_type" json:"discipline"`
	DurationMinutes   float64    `json:"duration_minutes" validate:"min=0"`
	DistanceKM        *float64   `json:"distance_km" validate:"omitempty,min=0"`
	AvgHeartRate      *float64   `json:"avg_heart_rate" validate:"omitempty,min=0"`
	TrainingLoad      *float64   `json:"training_load" validate:"omitempty,min=0"`
	PerceivedExertion *int       `json:"perceived_exertion" validate:"omitempty,min=1,max=10"`
	Calories          *float64   `json:"calories" validate:"omitempty,min=0"`
	RawData           JSONMap    `gorm:"type:jsonb" json:"raw_data"`
	CreatedAt         time.Time  `json:"created_at"`
}

func (Activity) TableName() string {
	return "activities"
}

// End returns the activity finish time derived from its duration.
func (a *Activity) End() time.Time {
	return a.Timestamp.Add(time.Duration(a.DurationMinutes * float64(time.Minute)))
}
