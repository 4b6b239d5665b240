package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ai-workout-scheduler/agent/internal/calendar"
	"github.com/ai-workout-scheduler/agent/internal/config"
	apperrors "github.com/ai-workout-scheduler/agent/internal/errors"
	"github.com/ai-workout-scheduler/agent/internal/garmin"
	"github.com/ai-workout-scheduler/agent/internal/handler"
	"github.com/ai-workout-scheduler/agent/internal/pkg/crypto"
	"github.com/ai-workout-scheduler/agent/internal/pkg/database"
	"github.com/ai-workout-scheduler/agent/internal/pkg/lock"
	"github.com/ai-workout-scheduler/agent/internal/pkg/logger"
	"github.com/ai-workout-scheduler/agent/internal/pkg/redis"
	"github.com/ai-workout-scheduler/agent/internal/pkg/token"
	"github.com/ai-workout-scheduler/agent/internal/repository"
	"github.com/ai-workout-scheduler/agent/internal/router"
	"github.com/ai-workout-scheduler/agent/internal/service"
)

var (
	configDir string
	dryRun    bool
)

func main() {
	root := &cobra.Command{
		Use:           "agent",
		Short:         "Autonomous workout scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configDir, "config", "c", "", "config directory")
	root.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "record decisions without calendar writes")

	root.AddCommand(
		planCmd(),
		reconcileCmd(),
		importGarminCmd(),
		importCalendarCmd(),
		runAllCmd(),
		serveCmd(),
		daemonCmd(),
		tokenCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(exitCode(err))
	}
}

// Exit codes for the periodic trigger: 0 success (degraded included),
// 1 config/user error, 2 transient external failure, 3 deadline abort.
func exitCode(err error) int {
	switch apperrors.CodeOf(err) {
	case apperrors.Success, apperrors.ErrAlreadyRunning, apperrors.ErrDegraded:
		return 0
	case apperrors.ErrTransientExternal, apperrors.ErrExternalService:
		return 2
	case apperrors.ErrDeadlineExceeded:
		return 3
	default:
		return 1
	}
}

// app bundles every dependency the commands need, built once per invocation.
type app struct {
	cfg          *config.Config
	db           *gorm.DB
	redisClient  *goredis.Client
	lock         *lock.CycleLock
	healthRepo   repository.HealthRepository
	activityRepo repository.ActivityRepository
	eventRepo    repository.EventRepository
	auditRepo    repository.AuditRepository
	view         *calendar.View
	planner      service.Planner
	reconciler   service.Reconciler
	ingest       service.IngestService
	orchestrator service.Orchestrator
}

func newApp() (*app, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrConfig, "failed to load config")
	}

	if err := logger.InitLogger(cfg.Log, cfg.App.Mode); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrConfig, "failed to initialize logger")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTransientExternal, "failed to connect to database")
	}
	if err := database.Ping(db, 5*time.Second); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTransientExternal, "database not reachable")
	}

	redisClient, err := redis.Connect(cfg.Redis, cfg.RedisAddr())
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrTransientExternal, "failed to connect to redis")
	}

	encryptor, err := crypto.NewEncryptor(cfg.App.SecretKey)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrConfig, "failed to create encryptor")
	}

	templates, err := config.LoadTemplates(cfg.Scheduler.TemplatesFile)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrConfig, "failed to load workout templates")
	}

	healthRepo := repository.NewHealthRepository(db)
	activityRepo := repository.NewActivityRepository(db)
	eventRepo := repository.NewEventRepository(db)
	auditRepo := repository.NewAuditRepository(db)

	calClient := calendar.NewRESTClient(
		cfg.Calendar.Endpoint, cfg.Calendar.CalendarID, cfg.Calendar.Token, cfg.Calendar.Timeout)
	view := calendar.NewView(calClient, calendar.RetryPolicy{
		Attempts: cfg.Scheduler.CalendarRetryAttempts,
		Base:     cfg.Scheduler.CalendarRetryBase,
		Factor:   2,
		Jitter:   0.2,
	})

	snapshots := service.NewSnapshotService(healthRepo, activityRepo, cfg.Scheduler.TrainingLoadCeiling)
	generator := service.NewGenerator(cfg.LLM.Models, encryptor)
	planner := service.NewPlanner(templates, snapshots, service.NewBudgeter(activityRepo),
		generator, view, activityRepo, auditRepo, eventRepo,
		cfg.LLM.MaxConcurrency, cfg.Scheduler.TrainingLoadCeiling)
	reconciler := service.NewReconciler(view, activityRepo, auditRepo, eventRepo)

	var wearable service.WearableClient
	if cfg.Garmin.Endpoint != "" {
		wearable = garmin.NewRESTClient(cfg.Garmin.Endpoint, cfg.Garmin.Token, cfg.Garmin.Timeout)
	}
	ingest := service.NewIngestService(wearable, view, healthRepo, activityRepo,
		eventRepo, auditRepo, redis.NewCache(redisClient), cfg.Scheduler.ImportCacheMaxAge)

	// Lock TTL exceeds the deadline so a crashed cycle cannot wedge the next
	cycleLock := lock.New(redisClient, cfg.SourcePath, cfg.Scheduler.CycleDeadline+time.Minute)

	orchestrator := service.NewOrchestrator(
		cycleLock,
		func() (*config.Goals, error) { return config.LoadGoals(cfg.Scheduler.GoalsFile) },
		ingest,
		reconciler,
		planner,
		auditRepo,
		func(ctx context.Context, summary []byte) error {
			return redis.SetCycleSummary(ctx, redisClient, summary)
		},
		cfg.Scheduler.CycleDeadline,
	)

	return &app{
		cfg:          cfg,
		db:           db,
		redisClient:  redisClient,
		lock:         cycleLock,
		healthRepo:   healthRepo,
		activityRepo: activityRepo,
		eventRepo:    eventRepo,
		auditRepo:    auditRepo,
		view:         view,
		planner:      planner,
		reconciler:   reconciler,
		ingest:       ingest,
		orchestrator: orchestrator,
	}, nil
}

func (a *app) close() {
	if err := database.Close(a.db); err != nil {
		logger.Warn("failed to close database", zap.Error(err))
	}
	if err := a.redisClient.Close(); err != nil {
		logger.Warn("failed to close redis client", zap.Error(err))
	}
	_ = logger.Logger.Sync()
}

// signalContext cancels on SIGINT/SIGTERM so a shutdown aborts the cycle
// through the same deadline path as a timeout.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// withLockedCycle runs one phase under the advisory lock with the cycle
// deadline applied, for the standalone plan/reconcile/import commands.
func (a *app) withLockedCycle(ctx context.Context, fn func(ctx context.Context, cyc *service.Cycle, goals *config.Goals) error) error {
	goals, err := config.LoadGoals(a.cfg.Scheduler.GoalsFile)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrConfig, "failed to load goals")
	}

	if err := a.lock.Acquire(ctx); err != nil {
		return err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.lock.Release(releaseCtx); err != nil {
			logger.Warn("failed to release cycle lock", zap.Error(err))
		}
	}()

	cycleCtx, cancel := context.WithTimeout(ctx, a.cfg.Scheduler.CycleDeadline)
	defer cancel()

	cyc := service.NewCycle(time.Now(), goals.Safety.MaxMutationsPerCycle, dryRun)
	if err := fn(cycleCtx, cyc, goals); err != nil {
		return err
	}

	logger.Info("done",
		zap.String("cycle_id", cyc.ID),
		zap.Int("created", cyc.Stats.Created),
		zap.Int("updated", cyc.Stats.Updated),
		zap.Int("deleted", cyc.Stats.Deleted),
		zap.Int("skipped", cyc.Stats.Skipped),
	)
	return nil
}

func planCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan workouts for the coming days",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			if days <= 0 {
				days = a.cfg.Scheduler.HorizonDays
			}
			return a.withLockedCycle(ctx, func(ctx context.Context, cyc *service.Cycle, goals *config.Goals) error {
				return a.planner.Plan(ctx, cyc, goals, days)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "planning horizon in days")
	return cmd
}

func reconcileCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile planned events against recorded activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			if days <= 0 {
				days = a.cfg.Scheduler.ReconcileDays
			}
			return a.withLockedCycle(ctx, func(ctx context.Context, cyc *service.Cycle, goals *config.Goals) error {
				return a.reconciler.Reconcile(ctx, cyc, goals, days)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "trailing days to reconcile")
	return cmd
}

func importGarminCmd() *cobra.Command {
	var days int
	var force bool
	cmd := &cobra.Command{
		Use:   "import-garmin",
		Short: "Import wearable health samples and activities",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			return a.withLockedCycle(ctx, func(ctx context.Context, cyc *service.Cycle, goals *config.Goals) error {
				return a.ingest.ImportWearable(ctx, cyc, days, force)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "activity lookback in days")
	cmd.Flags().BoolVar(&force, "force", false, "bypass the import freshness cache")
	return cmd
}

func importCalendarCmd() *cobra.Command {
	var past, future int
	cmd := &cobra.Command{
		Use:   "import-calendar",
		Short: "Mirror remote calendar events into the local store",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			return a.withLockedCycle(ctx, func(ctx context.Context, cyc *service.Cycle, goals *config.Goals) error {
				return a.ingest.ImportCalendar(ctx, cyc, past, future)
			})
		},
	}
	cmd.Flags().IntVar(&past, "past", 7, "days of past events to mirror")
	cmd.Flags().IntVar(&future, "future", 30, "days of future events to mirror")
	return cmd
}

func runAllCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-all",
		Short: "Run one full cycle: ingest, reconcile, plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			_, err = a.orchestrator.RunCycle(ctx, service.CycleOptions{
				DryRun:       dryRun,
				HorizonDays:  a.cfg.Scheduler.HorizonDays,
				TrailingDays: a.cfg.Scheduler.ReconcileDays,
			})
			return err
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the ops API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()
			return a.serveOps(ctx, nil)
		},
	}
}

func daemonCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run cycles on a schedule and serve the ops API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			c := cron.New()
			_, err = c.AddFunc(a.cfg.Scheduler.CronSpec, func() {
				_, err := a.orchestrator.RunCycle(ctx, service.CycleOptions{
					HorizonDays:  a.cfg.Scheduler.HorizonDays,
					TrailingDays: a.cfg.Scheduler.ReconcileDays,
				})
				if err != nil && apperrors.CodeOf(err) != apperrors.ErrAlreadyRunning {
					logger.Errorf("scheduled cycle failed", err)
				}
			})
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrConfig,
					fmt.Sprintf("invalid cron spec %q", a.cfg.Scheduler.CronSpec))
			}

			c.Start()
			defer c.Stop()
			logger.Info("daemon started", zap.String("cron_spec", a.cfg.Scheduler.CronSpec))

			return a.serveOps(ctx, nil)
		},
	}
}

// serveOps runs the ops HTTP server until ctx is cancelled. ready, when not
// nil, is closed once the listener is up (used by tests).
func (a *app) serveOps(ctx context.Context, ready chan<- struct{}) error {
	tokens := token.NewManager(a.cfg.App.SecretKey, a.cfg.App.Name)
	ops := handler.NewOpsHandler(
		a.orchestrator,
		a.auditRepo,
		func(ctx context.Context) ([]byte, error) {
			return redis.CycleSummary(ctx, a.redisClient)
		},
		a.cfg.App.Version,
		a.cfg.Scheduler.HorizonDays,
		a.cfg.Scheduler.ReconcileDays,
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", a.cfg.App.Port),
		Handler:      router.Setup(a.cfg.App.Mode, ops, tokens),
		ReadTimeout:  15 * time.Second,
		// TriggerCycle runs a full cycle synchronously, so the write timeout
		// must exceed the cycle deadline
		WriteTimeout: a.cfg.Scheduler.CycleDeadline + time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("ops API listening", zap.Int("port", a.cfg.App.Port))
		if ready != nil {
			close(ready)
		}
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return apperrors.Wrap(err, apperrors.ErrInternalServer, "ops API server failed")
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	var subject string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an ops API bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configDir)
			if err != nil {
				return apperrors.Wrap(err, apperrors.ErrConfig, "failed to load config")
			}

			signed, err := token.NewManager(cfg.App.SecretKey, cfg.App.Name).Issue(subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(signed)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	cmd.Flags().StringVar(&subject, "subject", "ops", "token subject")
	return cmd
}
