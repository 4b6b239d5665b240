package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ai-workout-scheduler/agent/internal/config"
	apperrors "github.com/ai-workout-scheduler/agent/internal/errors"
	"github.com/ai-workout-scheduler/agent/internal/model"
	"github.com/ai-workout-scheduler/agent/internal/pkg/crypto"
	"github.com/ai-workout-scheduler/agent/internal/pkg/logger"
)

// maxDescriptionLen caps persisted workout descriptions.
const maxDescriptionLen = 8000

// Section headings the parse contract requires in every generated workout.
const (
	sectionOptionA = "Option A"
	sectionOptionB = "Option B"
	sectionBackup  = "Backup"
)

// PlanRequest is the planner's input to content generation for one day.
type PlanRequest struct {
	Date             time.Time               `json:"date"`
	Discipline       model.Discipline        `json:"discipline"`
	Tier             model.IntensityTier     `json:"intensity_tier"`
	SlotStart        time.Time               `json:"slot_start"`
	DurationMinutes  int                     `json:"duration_minutes"`
	Snapshot         *Snapshot               `json:"health_snapshot"`
	RecentActivities []*model.Activity       `json:"-"`
	Template         *config.WorkoutTemplate `json:"-"`
	Goals            *config.Goals           `json:"-"`
}

// GeneratedWorkout is the parsed result of one generation.
type GeneratedWorkout struct {
	Title       string // Option A title, used in the event summary
	Description string
	Model       string // which model produced it; empty when degraded
	Degraded    bool
}

// Generator turns a PlanRequest into workout text via the model fallback
// chain, degrading to a template-only render when every model fails.
type Generator interface {
	Generate(ctx context.Context, req *PlanRequest) (*GeneratedWorkout, error)
}

type generator struct {
	models    []config.ModelConfig
	encryptor crypto.Encryptor
	clientFor func(provider string) (LMClient, error)
}

// NewGenerator creates a new instance of Generator. encryptor may be nil when
// no encrypted API keys are configured.
func NewGenerator(models []config.ModelConfig, encryptor crypto.Encryptor) Generator {
	return &generator{
		models:    models,
		encryptor: encryptor,
		clientFor: GetLMClient,
	}
}

func (g *generator) Generate(ctx context.Context, req *PlanRequest) (*GeneratedWorkout, error) {
	prompt := BuildPrompt(req)

	for _, m := range g.models {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrDeadlineExceeded, "generation cancelled")
		}

		text, err := g.callModel(ctx, prompt, m)
		if err != nil {
			logger.Warn("model call failed, trying next",
				zap.String("model", m.Name),
				zap.Error(err),
			)
			continue
		}

		workout, err := ParseWorkout(text, req)
		if err != nil {
			logger.Warn("model output unparseable, trying next",
				zap.String("model", m.Name),
				zap.Error(err),
			)
			continue
		}

		workout.Model = m.Name
		return workout, nil
	}

	// Template-only fallback. The cycle still succeeds; the audit entry
	// records degraded=true.
	logger.Warn("all models failed, rendering template fallback",
		zap.String("discipline", string(req.Discipline)),
		zap.Time("date", req.Date),
	)
	workout := renderTemplateWorkout(req)
	workout.Degraded = true
	return workout, nil
}

func (g *generator) callModel(ctx context.Context, prompt string, m config.ModelConfig) (string, error) {
	client, err := g.clientFor(m.Provider)
	if err != nil {
		return "", err
	}

	key, err := ResolveAPIKey(m, g.encryptor)
	if err != nil {
		return "", err
	}
	m.APIKey = key

	callCtx, cancel := context.WithTimeout(ctx, m.ModelTimeout())
	defer cancel()

	return client.Generate(callCtx, prompt, m)
}

// BuildPrompt renders the generation prompt. Section order is stable: role,
// goals, health snapshot, recent activity, template, output instructions.
func BuildPrompt(req *PlanRequest) string {
	var b strings.Builder

	b.WriteString("You are a fitness coach generating one day's workout for an athlete.\n\n")

	if req.Goals != nil {
		ws := req.Goals.WeeklyStructure
		fmt.Fprintf(&b, "## Weekly goals\nswim: %d, bike: %d, run: %d, strength: %d sessions per week\n\n",
			ws.SwimSessions, ws.BikeSessions, ws.RunSessions, ws.StrengthSessions)
	}

	if snap := req.Snapshot; snap != nil {
		b.WriteString("## Health snapshot\n")
		fmt.Fprintf(&b, "recovery tier: %s (score %.0f)\n", snap.Tier, snap.RecoveryScore)
		if snap.SleepDurationHours != nil {
			fmt.Fprintf(&b, "sleep: %.1f h", *snap.SleepDurationHours)
			if snap.SleepQualityScore != nil {
				fmt.Fprintf(&b, " (quality %.0f/100)", *snap.SleepQualityScore)
			}
			b.WriteString("\n")
		}
		if snap.RestingHeartRate != nil {
			fmt.Fprintf(&b, "resting HR: %.0f bpm\n", *snap.RestingHeartRate)
		}
		if snap.StressLevel != nil {
			fmt.Fprintf(&b, "stress: %.0f/100\n", *snap.StressLevel)
		}
		fmt.Fprintf(&b, "training load last 48h: %.0f\n\n", snap.TrainingLoad48h)
	}

	b.WriteString("## Recent activity (7 days)\n")
	if len(req.RecentActivities) == 0 {
		b.WriteString("none recorded\n")
	}
	for _, a := range req.RecentActivities {
		fmt.Fprintf(&b, "%s: %s %.0f min", a.Timestamp.Format("Mon 2006-01-02"), a.Discipline, a.DurationMinutes)
		if a.DistanceKM != nil {
			fmt.Fprintf(&b, ", %.1f km", *a.DistanceKM)
		}
		b.WriteString("\n")
	}
	b.WriteString("\n")

	if tpl := req.Template; tpl != nil {
		spec := tpl.Tier(req.Tier)
		fmt.Fprintf(&b, "## Template (%s, %s intensity)\nwarmup: %s\nmain: %s\ncooldown: %s\n",
			req.Discipline, req.Tier, tpl.Warmup, spec.Main, tpl.Cooldown)
		if spec.TargetHRZone != "" {
			fmt.Fprintf(&b, "target HR zone: %s\n", spec.TargetHRZone)
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Instructions\nPlan a %s workout of about %d minutes for %s at %s intensity.\n",
		req.Discipline, req.DurationMinutes, req.Date.Format("Monday 2006-01-02"), req.Tier)
	b.WriteString("Output exactly two labeled alternatives, \"Option A\" and \"Option B\", each with ")
	b.WriteString("warmup, main set, cooldown and a target HR zone, then a \"Backup (low energy)\" variant. ")
	b.WriteString("Plain text only, no markdown fences.\n")

	return b.String()
}

// ParseWorkout sanitizes raw model output and validates the parse contract:
// both Option A and Option B must be present; a Backup section is appended
// from the template when the model omitted it.
func ParseWorkout(raw string, req *PlanRequest) (*GeneratedWorkout, error) {
	text := sanitize(raw)
	if text == "" {
		return nil, apperrors.Wrap(apperrors.ErrUnparseableWorkout, apperrors.ErrDegraded, "empty model output")
	}

	if !containsSection(text, sectionOptionA) || !containsSection(text, sectionOptionB) {
		return nil, apperrors.Wrap(apperrors.ErrUnparseableWorkout, apperrors.ErrDegraded,
			"model output is missing Option A or Option B")
	}

	if !containsSection(text, sectionBackup) {
		text = text + "\n\n" + renderBackupSection(req)
	}

	text = truncateDescription(text)

	return &GeneratedWorkout{
		Title:       extractTitle(text, req.Discipline),
		Description: text,
	}, nil
}

// sanitize strips markdown fences and any preamble before the first
// "Option A" or "# " heading.
func sanitize(raw string) string {
	// Fence lines, with or without a language tag
	lines := strings.Split(raw, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	text := strings.TrimSpace(strings.Join(kept, "\n"))

	// "Here's your workout..." style preambles: cut to the first real heading
	optionIdx := strings.Index(text, sectionOptionA)
	headingIdx := strings.Index(text, "# ")
	cut := -1
	switch {
	case optionIdx >= 0 && headingIdx >= 0:
		cut = optionIdx
		if headingIdx < optionIdx {
			cut = headingIdx
		}
	case optionIdx >= 0:
		cut = optionIdx
	case headingIdx >= 0:
		cut = headingIdx
	}
	if cut > 0 {
		text = text[cut:]
	}

	return strings.TrimSpace(text)
}

func containsSection(text, section string) bool {
	return strings.Contains(text, section)
}

func truncateDescription(text string) string {
	return truncateTo(text, maxDescriptionLen)
}

// truncateTo cuts text to at most limit bytes, ending with an ellipsis. The
// cut never splits a multi-byte rune.
func truncateTo(text string, limit int) string {
	if len(text) <= limit {
		return text
	}
	cut := limit - 3
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

// extractTitle pulls the Option A title ("Option A: Tempo Run" -> "Tempo
// Run"); the discipline name is the fallback.
func extractTitle(text string, d model.Discipline) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "#* "))
		if !strings.HasPrefix(line, sectionOptionA) {
			continue
		}
		title := strings.TrimPrefix(line, sectionOptionA)
		title = strings.Trim(title, " :–-")
		if title != "" {
			return title
		}
	}
	return titleCase(d) + " session"
}

func titleCase(d model.Discipline) string {
	s := string(d)
	if s == "" {
		return "Workout"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// renderTemplateWorkout is the deterministic degraded fallback: the template
// rendered verbatim, still satisfying the parse contract.
func renderTemplateWorkout(req *PlanRequest) *GeneratedWorkout {
	tpl := req.Template
	var b strings.Builder

	writeOption := func(label string, tier model.IntensityTier) {
		spec := tpl.Tier(tier)
		fmt.Fprintf(&b, "%s: %s (%s)\n", label, titleCase(req.Discipline), tier)
		fmt.Fprintf(&b, "Warmup: %s\n", tpl.Warmup)
		fmt.Fprintf(&b, "Main: %s\n", spec.Main)
		fmt.Fprintf(&b, "Cooldown: %s\n", tpl.Cooldown)
		if spec.TargetHRZone != "" {
			fmt.Fprintf(&b, "Target HR zone: %s\n", spec.TargetHRZone)
		}
		b.WriteString("\n")
	}

	writeOption(sectionOptionA, req.Tier)
	writeOption(sectionOptionB, req.Tier.Downshift())
	b.WriteString(renderBackupSection(req))

	return &GeneratedWorkout{
		Title:       titleCase(req.Discipline) + " session",
		Description: truncateDescription(strings.TrimSpace(b.String())),
	}
}

func renderBackupSection(req *PlanRequest) string {
	spec := req.Template.Tier(model.TierBackup)
	var b strings.Builder
	b.WriteString("Backup (low energy):\n")
	fmt.Fprintf(&b, "Warmup: %s\n", req.Template.Warmup)
	fmt.Fprintf(&b, "Main: %s\n", spec.Main)
	fmt.Fprintf(&b, "Cooldown: %s", req.Template.Cooldown)
	return b.String()
}
