package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/ai-workout-scheduler/agent/internal/model"
)

// Preferred workout time policies.
const (
	PolicyMorning  = "morning"
	PolicyEvening  = "evening"
	PolicyFlexible = "flexible"
)

// HourWindow is a half-open [Start, End) window of local hours.
type HourWindow struct {
	Start int `mapstructure:"-" json:"start"`
	End   int `mapstructure:"-" json:"end"`
}

func (w HourWindow) Valid() bool {
	return w.Start >= 0 && w.Start < w.End && w.End <= 24
}

// WeeklyStructure holds the weekly target session counts per discipline.
type WeeklyStructure struct {
	SwimSessions     int `mapstructure:"swim_sessions" validate:"min=0,max=14"`
	BikeSessions     int `mapstructure:"bike_sessions" validate:"min=0,max=14"`
	RunSessions      int `mapstructure:"run_sessions" validate:"min=0,max=14"`
	StrengthSessions int `mapstructure:"strength_sessions" validate:"min=0,max=14"`
}

// Preferences holds the scheduling windows and timezone.
type Preferences struct {
	PreferredWorkoutTime string `mapstructure:"preferred_workout_time" validate:"oneof=morning evening flexible"`
	MorningHours         []int  `mapstructure:"morning_hours" validate:"len=2"`
	EveningHours         []int  `mapstructure:"evening_hours" validate:"len=2"`
	UserTimezone         string `mapstructure:"user_timezone" validate:"required"`
}

// Safety holds the cycle-level protection limits.
type Safety struct {
	MaxMutationsPerCycle int `mapstructure:"max_mutations_per_cycle" validate:"min=1"`
	MinNoticeHours       int `mapstructure:"min_notice_hours" validate:"min=0"`
}

// Goals is the declarative training-goal document. Unknown keys are ignored;
// missing required keys abort the cycle with a descriptive error.
type Goals struct {
	WeeklyStructure    WeeklyStructure `mapstructure:"weekly_structure" validate:"required"`
	Preferences        Preferences     `mapstructure:"preferences" validate:"required"`
	ProtectedKeywords  []string        `mapstructure:"protected_keywords"`
	DisciplinePriority []string        `mapstructure:"discipline_priority" validate:"dive,oneof=run bike swim strength"`
	Safety             Safety          `mapstructure:"safety"`

	location *time.Location
}

// LoadGoals reads and validates the goals document.
func LoadGoals(path string) (*Goals, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("preferences.preferred_workout_time", PolicyFlexible)
	v.SetDefault("preferences.morning_hours", []int{6, 9})
	v.SetDefault("preferences.evening_hours", []int{17, 21})
	v.SetDefault("safety.max_mutations_per_cycle", 8)
	v.SetDefault("safety.min_notice_hours", 2)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read goals file %s: %w", path, err)
	}

	var goals Goals
	if err := v.Unmarshal(&goals); err != nil {
		return nil, fmt.Errorf("failed to parse goals file: %w", err)
	}

	if err := goals.Validate(); err != nil {
		return nil, err
	}
	return &goals, nil
}

// Validate checks field constraints plus the cross-field rules the struct
// tags cannot express (hour window bounds, IANA timezone).
func (g *Goals) Validate() error {
	if err := validator.New().Struct(g); err != nil {
		return fmt.Errorf("invalid goals config: %w", err)
	}

	if w := g.MorningWindow(); !w.Valid() {
		return fmt.Errorf("preferences.morning_hours must satisfy 0 <= start < end <= 24, got %v", g.Preferences.MorningHours)
	}
	if w := g.EveningWindow(); !w.Valid() {
		return fmt.Errorf("preferences.evening_hours must satisfy 0 <= start < end <= 24, got %v", g.Preferences.EveningHours)
	}

	loc, err := time.LoadLocation(g.Preferences.UserTimezone)
	if err != nil {
		return fmt.Errorf("preferences.user_timezone is not a valid IANA zone: %w", err)
	}
	g.location = loc
	return nil
}

// Location returns the user timezone. Validate must have succeeded first.
func (g *Goals) Location() *time.Location {
	if g.location == nil {
		loc, err := time.LoadLocation(g.Preferences.UserTimezone)
		if err != nil {
			return time.UTC
		}
		g.location = loc
	}
	return g.location
}

func (g *Goals) MorningWindow() HourWindow {
	return windowFromSlice(g.Preferences.MorningHours)
}

func (g *Goals) EveningWindow() HourWindow {
	return windowFromSlice(g.Preferences.EveningHours)
}

func windowFromSlice(hours []int) HourWindow {
	if len(hours) != 2 {
		return HourWindow{}
	}
	return HourWindow{Start: hours[0], End: hours[1]}
}

// Target returns the weekly session target for a discipline.
func (g *Goals) Target(d model.Discipline) int {
	switch d {
	case model.DisciplineSwim:
		return g.WeeklyStructure.SwimSessions
	case model.DisciplineBike:
		return g.WeeklyStructure.BikeSessions
	case model.DisciplineRun:
		return g.WeeklyStructure.RunSessions
	case model.DisciplineStrength:
		return g.WeeklyStructure.StrengthSessions
	default:
		return 0
	}
}

// Priority returns the discipline order the planner chooses in, defaulting
// to strength > run > bike > swim when the config does not declare one.
func (g *Goals) Priority() []model.Discipline {
	if len(g.DisciplinePriority) == 0 {
		return model.Disciplines
	}
	out := make([]model.Discipline, 0, len(g.DisciplinePriority))
	for _, d := range g.DisciplinePriority {
		out = append(out, model.Discipline(d))
	}
	return out
}

// MinNotice returns the reschedule notice window as a duration.
func (g *Goals) MinNotice() time.Duration {
	return time.Duration(g.Safety.MinNoticeHours) * time.Hour
}
