package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/ai-workout-scheduler/agent/internal/model"
)

// TierSpec is the main-set variant of a template for one intensity tier.
type TierSpec struct {
	Main            string `mapstructure:"main" validate:"required"`
	DurationMinutes int    `mapstructure:"duration_minutes" validate:"min=10,max=240"`
	TargetHRZone    string `mapstructure:"target_hr_zone"`
}

// WorkoutTemplate is the per-discipline structured recipe the generator
// feeds to the model and renders verbatim in degraded mode.
type WorkoutTemplate struct {
	Discipline model.Discipline                  `mapstructure:"discipline" validate:"required,oneof=run bike swim strength"`
	Warmup     string                            `mapstructure:"warmup" validate:"required"`
	Cooldown   string                            `mapstructure:"cooldown" validate:"required"`
	Tiers      map[model.IntensityTier]TierSpec `mapstructure:"tiers" validate:"required"`
}

// Tier resolves the spec for a tier, falling back reduced -> normal and
// backup -> reduced so sparse templates still plan.
func (t *WorkoutTemplate) Tier(tier model.IntensityTier) TierSpec {
	if spec, ok := t.Tiers[tier]; ok {
		return spec
	}
	if tier == model.TierBackup {
		if spec, ok := t.Tiers[model.TierReduced]; ok {
			return spec
		}
	}
	return t.Tiers[model.TierNormal]
}

// TemplateStore loads and serves workout templates (goal & template store).
type TemplateStore struct {
	templates map[model.Discipline]*WorkoutTemplate
}

// LoadTemplates reads the templates document and indexes it by discipline.
func LoadTemplates(path string) (*TemplateStore, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read templates file %s: %w", path, err)
	}

	var doc struct {
		Templates []*WorkoutTemplate `mapstructure:"templates"`
	}
	if err := v.Unmarshal(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse templates file: %w", err)
	}
	if len(doc.Templates) == 0 {
		return nil, fmt.Errorf("templates file %s defines no templates", path)
	}

	store := &TemplateStore{templates: make(map[model.Discipline]*WorkoutTemplate)}
	for i, tpl := range doc.Templates {
		if _, ok := tpl.Tiers[model.TierNormal]; !ok {
			return nil, fmt.Errorf("templates[%d] (%s) must define the normal tier", i, tpl.Discipline)
		}
		store.templates[tpl.Discipline] = tpl
	}
	return store, nil
}

// NewTemplateStore builds a store from in-memory templates. Test seam.
func NewTemplateStore(templates []*WorkoutTemplate) *TemplateStore {
	store := &TemplateStore{templates: make(map[model.Discipline]*WorkoutTemplate)}
	for _, tpl := range templates {
		store.templates[tpl.Discipline] = tpl
	}
	return store
}

// Get returns the template for a discipline.
func (s *TemplateStore) Get(d model.Discipline) (*WorkoutTemplate, bool) {
	tpl, ok := s.templates[d]
	return tpl, ok
}

// Duration returns the planned duration for a discipline at a tier.
func (s *TemplateStore) Duration(d model.Discipline, tier model.IntensityTier) (int, error) {
	tpl, ok := s.templates[d]
	if !ok {
		return 0, fmt.Errorf("no workout template for discipline %s", d)
	}
	spec := tpl.Tier(tier)
	if spec.DurationMinutes <= 0 {
		return 45, nil
	}
	return spec.DurationMinutes, nil
}
