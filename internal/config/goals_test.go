package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ai-workout-scheduler/agent/internal/model"
)

func writeGoalsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "goals.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validGoals = `
weekly_structure:
  run_sessions: 2
  strength_sessions: 3
preferences:
  preferred_workout_time: flexible
  morning_hours: [6, 9]
  evening_hours: [17, 21]
  user_timezone: Europe/Berlin
protected_keywords: ["race", "physio"]
discipline_priority: ["strength", "run"]
safety:
  max_mutations_per_cycle: 5
  min_notice_hours: 3
`

func TestLoadGoals(t *testing.T) {
	goals, err := LoadGoals(writeGoalsFile(t, validGoals))
	require.NoError(t, err)

	assert.Equal(t, 2, goals.Target(model.DisciplineRun))
	assert.Equal(t, 3, goals.Target(model.DisciplineStrength))
	assert.Equal(t, 0, goals.Target(model.DisciplineSwim))
	assert.Equal(t, HourWindow{Start: 6, End: 9}, goals.MorningWindow())
	assert.Equal(t, HourWindow{Start: 17, End: 21}, goals.EveningWindow())
	assert.Equal(t, "Europe/Berlin", goals.Location().String())
	assert.Equal(t, []model.Discipline{model.DisciplineStrength, model.DisciplineRun}, goals.Priority())
	assert.Equal(t, 5, goals.Safety.MaxMutationsPerCycle)
	assert.Equal(t, 3*time.Hour, goals.MinNotice())
}

func TestLoadGoals_Defaults(t *testing.T) {
	goals, err := LoadGoals(writeGoalsFile(t, `
weekly_structure:
  run_sessions: 1
preferences:
  user_timezone: UTC
`))
	require.NoError(t, err)

	assert.Equal(t, PolicyFlexible, goals.Preferences.PreferredWorkoutTime)
	assert.Equal(t, HourWindow{Start: 6, End: 9}, goals.MorningWindow())
	assert.Equal(t, 8, goals.Safety.MaxMutationsPerCycle)
	assert.Equal(t, 2*time.Hour, goals.MinNotice())
	// No priority declared: strength first by default
	assert.Equal(t, model.Disciplines, goals.Priority())
}

func TestLoadGoals_UnknownKeysIgnored(t *testing.T) {
	_, err := LoadGoals(writeGoalsFile(t, validGoals+"\nfuture_option: 42\n"))
	assert.NoError(t, err)
}

func TestLoadGoals_InvalidTimezone(t *testing.T) {
	_, err := LoadGoals(writeGoalsFile(t, `
weekly_structure:
  run_sessions: 1
preferences:
  user_timezone: Mars/Olympus
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user_timezone")
}

func TestLoadGoals_InvalidWindow(t *testing.T) {
	_, err := LoadGoals(writeGoalsFile(t, `
weekly_structure:
  run_sessions: 1
preferences:
  user_timezone: UTC
  morning_hours: [9, 6]
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "morning_hours")
}

func TestLoadGoals_InvalidPolicy(t *testing.T) {
	_, err := LoadGoals(writeGoalsFile(t, `
weekly_structure:
  run_sessions: 1
preferences:
  preferred_workout_time: midnight
  user_timezone: UTC
`))
	assert.Error(t, err)
}

func TestLoadGoals_MissingFile(t *testing.T) {
	_, err := LoadGoals(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
