package service

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/ai-workout-scheduler/agent/internal/config"
	apperrors "github.com/ai-workout-scheduler/agent/internal/errors"
	"github.com/ai-workout-scheduler/agent/internal/model"
	"github.com/ai-workout-scheduler/agent/internal/pkg/logger"
	"github.com/ai-workout-scheduler/agent/internal/repository"
)

// stackFingerprintLen truncates panic stacks recorded in audit entries.
const stackFingerprintLen = 400

// CycleLocker keeps cycles single-flight. Satisfied by lock.CycleLock.
type CycleLocker interface {
	Acquire(ctx context.Context) error
	Release(ctx context.Context) error
}

// Ingestor triggers the ingestion collaborators at the start of a cycle.
type Ingestor interface {
	Run(ctx context.Context, cyc *Cycle) error
}

// CycleOptions tune one orchestrator invocation.
type CycleOptions struct {
	DryRun       bool
	HorizonDays  int
	TrailingDays int
	SkipIngest   bool
}

// CycleSummary is the persisted outcome of one cycle.
type CycleSummary struct {
	CycleID    string     `json:"cycle_id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	DryRun     bool       `json:"dry_run"`
	Aborted    bool       `json:"aborted"`
	Stats      CycleStats `json:"stats"`
	Error      string     `json:"error,omitempty"`
}

// Orchestrator drives one full cycle: ingest, reconcile, plan, summarize.
type Orchestrator interface {
	RunCycle(ctx context.Context, opts CycleOptions) (*CycleSummary, error)
}

type orchestrator struct {
	lock          CycleLocker
	goalsProvider func() (*config.Goals, error)
	ingest        Ingestor
	reconciler    Reconciler
	planner       Planner
	auditRepo     repository.AuditRepository
	summarySink   func(ctx context.Context, summary []byte) error
	deadline      time.Duration
	nowFn         func() time.Time
}

// NewOrchestrator creates a new instance of Orchestrator. lock, ingest and
// summarySink may be nil (single-process runs, ingest-less cycles, no ops
// cache); goalsProvider is called at the start of every cycle so config
// changes take effect without a restart.
func NewOrchestrator(
	lock CycleLocker,
	goalsProvider func() (*config.Goals, error),
	ingest Ingestor,
	reconciler Reconciler,
	planner Planner,
	auditRepo repository.AuditRepository,
	summarySink func(ctx context.Context, summary []byte) error,
	deadline time.Duration,
) Orchestrator {
	if deadline <= 0 {
		deadline = 10 * time.Minute
	}
	return &orchestrator{
		lock:          lock,
		goalsProvider: goalsProvider,
		ingest:        ingest,
		reconciler:    reconciler,
		planner:       planner,
		auditRepo:     auditRepo,
		summarySink:   summarySink,
		deadline:      deadline,
		nowFn:         time.Now,
	}
}

func (o *orchestrator) RunCycle(ctx context.Context, opts CycleOptions) (summary *CycleSummary, err error) {
	goals, err := o.goalsProvider()
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrConfig, "failed to load goals")
	}

	if o.lock != nil {
		if err := o.lock.Acquire(ctx); err != nil {
			return nil, err
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if rerr := o.lock.Release(releaseCtx); rerr != nil {
				logger.Warn("failed to release cycle lock", zap.Error(rerr))
			}
		}()
	}

	cycleCtx, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	cyc := NewCycle(o.nowFn(), goals.Safety.MaxMutationsPerCycle, opts.DryRun)
	startedAt := time.Now()
	remaining := []string{"ingest", "reconcile", "plan"}

	logger.Info("cycle started",
		zap.String("cycle_id", cyc.ID),
		zap.Bool("dry_run", opts.DryRun),
	)

	// Panics inside a component are contained: they become a cycle_aborted
	// audit entry with a truncated stack fingerprint.
	defer func() {
		if rec := recover(); rec != nil {
			o.recordAbort(cyc, fmt.Sprintf("panic: %v", rec), stackFingerprint(), remaining)
			summary = nil
			err = apperrors.New(apperrors.ErrInternalServer, fmt.Sprintf("cycle panicked: %v", rec))
		}
	}()

	if o.ingest != nil && !opts.SkipIngest {
		if ierr := o.ingest.Run(cycleCtx, cyc); ierr != nil {
			if apperrors.CodeOf(ierr) == apperrors.ErrDeadlineExceeded {
				return o.abort(cyc, startedAt, ierr, remaining)
			}
			// Stale data degrades the snapshot but does not stop the cycle
			logger.Warn("ingestion failed, continuing with stored data", zap.Error(ierr))
		}
	}
	remaining = remaining[1:]

	if rerr := o.reconciler.Reconcile(cycleCtx, cyc, goals, opts.TrailingDays); rerr != nil {
		if apperrors.CodeOf(rerr) == apperrors.ErrDeadlineExceeded {
			return o.abort(cyc, startedAt, rerr, remaining)
		}
		return nil, rerr
	}
	remaining = remaining[1:]

	if perr := o.planner.Plan(cycleCtx, cyc, goals, opts.HorizonDays); perr != nil {
		if apperrors.CodeOf(perr) == apperrors.ErrDeadlineExceeded {
			return o.abort(cyc, startedAt, perr, remaining)
		}
		return nil, perr
	}
	remaining = nil

	summary = o.finish(cyc, startedAt, "")
	return summary, nil
}

// abort records the cycle_aborted audit entry with the operations not
// attempted and still emits a summary.
func (o *orchestrator) abort(cyc *Cycle, startedAt time.Time, cause error, remaining []string) (*CycleSummary, error) {
	o.recordAbort(cyc, cause.Error(), "", remaining)
	summary := o.finish(cyc, startedAt, cause.Error())
	summary.Aborted = true
	return summary, apperrors.Wrap(cause, apperrors.ErrDeadlineExceeded, "cycle aborted")
}

func (o *orchestrator) recordAbort(cyc *Cycle, cause, stack string, remaining []string) {
	// The cycle context may already be dead; audit writes get a short grace
	// window of their own.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	audit := cyc.newAudit(AgentOrchestrator, model.ActionCycleAborted, false)
	audit.Reasoning = cause
	audit.BeforeState = model.JSONMap{"mutations_used": cyc.MutationsUsed()}
	audit.AfterState = model.JSONMap{"not_attempted": remaining}
	if stack != "" {
		audit.AfterState["stack"] = stack
	}
	if err := o.auditRepo.Append(ctx, audit); err != nil {
		logger.Errorf("failed to record cycle abort", err)
	}
}

// finish assembles the summary, persists it for the ops surface and logs the
// single cycle summary line.
func (o *orchestrator) finish(cyc *Cycle, startedAt time.Time, errMsg string) *CycleSummary {
	summary := &CycleSummary{
		CycleID:    cyc.ID,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
		DryRun:     cyc.DryRun,
		Stats:      cyc.Stats,
		Error:      errMsg,
	}

	if o.summarySink != nil {
		payload, err := json.Marshal(summary)
		if err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := o.summarySink(ctx, payload); err != nil {
				logger.Warn("failed to persist cycle summary", zap.Error(err))
			}
		}
	}

	logger.Info("cycle finished",
		zap.String("cycle_id", cyc.ID),
		zap.Int("created", cyc.Stats.Created),
		zap.Int("updated", cyc.Stats.Updated),
		zap.Int("deleted", cyc.Stats.Deleted),
		zap.Int("skipped", cyc.Stats.Skipped),
		zap.Int("degraded", cyc.Stats.Degraded),
		zap.Duration("elapsed", time.Since(startedAt)),
	)
	return summary
}

func stackFingerprint() string {
	stack := string(debug.Stack())
	if len(stack) > stackFingerprintLen {
		stack = stack[:stackFingerprintLen]
	}
	return stack
}
