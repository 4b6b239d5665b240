package service

import (
	"time"

	"github.com/google/uuid"

	"github.com/ai-workout-scheduler/agent/internal/model"
)

// Agent names recorded on audit actions.
const (
	AgentPlanner      = "planner"
	AgentReconciler   = "reconciler"
	AgentOrchestrator = "orchestrator"
	AgentIngest       = "ingest"
)

// CycleStats is the per-cycle mutation summary.
type CycleStats struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Deleted  int `json:"deleted"`
	Skipped  int `json:"skipped"`
	Degraded int `json:"degraded"`
}

// Cycle carries the shared state of one scheduler invocation: identity,
// reference time, dry-run flag and the calendar mutation budget.
type Cycle struct {
	ID     string
	Now    time.Time
	DryRun bool
	Stats  CycleStats

	maxMutations int
	used         int
}

// NewCycle starts a cycle. maxMutations caps calendar writes; excess work is
// still audited with executed=false.
func NewCycle(now time.Time, maxMutations int, dryRun bool) *Cycle {
	if maxMutations <= 0 {
		maxMutations = 8
	}
	return &Cycle{
		ID:           uuid.New().String(),
		Now:          now,
		DryRun:       dryRun,
		maxMutations: maxMutations,
	}
}

// TryMutation consumes one unit of the mutation budget. It returns false when
// the budget is spent or the cycle is a dry run; the caller then records the
// decision without executing it.
func (c *Cycle) TryMutation() bool {
	if c.DryRun {
		return false
	}
	if c.used >= c.maxMutations {
		return false
	}
	c.used++
	return true
}

// MutationsUsed returns how many calendar writes this cycle performed.
func (c *Cycle) MutationsUsed() int {
	return c.used
}

// newAudit builds an audit action skeleton for this cycle.
func (c *Cycle) newAudit(agent, actionType string, executed bool) *model.AuditAction {
	return &model.AuditAction{
		ActionID:   uuid.New().String(),
		CycleID:    c.ID,
		Agent:      agent,
		ActionType: actionType,
		Executed:   executed,
		Timestamp:  time.Now(),
	}
}
