package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/amirphl/warmup-orchestrator/app/dto"
	"github.com/amirphl/warmup-orchestrator/app/handlers"
	"github.com/amirphl/warmup-orchestrator/app/router"
	"github.com/amirphl/warmup-orchestrator/app/scheduler"
	"github.com/amirphl/warmup-orchestrator/config"
	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/amirphl/warmup-orchestrator/utils"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var rootCmd = &cobra.Command{
	Use:           "warmup-orchestrator",
	Short:         "Account warmup orchestration engine",
	Long:          "Drives social-media accounts through their lifecycle and the warmup phase pipeline, one automated action at a time.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the ops API and the warmup scheduler",
		RunE:  runServe,
	}

	reportCmd = &cobra.Command{
		Use:   "report",
		Short: "Export warmup progress as an XLSX workbook",
		RunE:  runReport,
	}
	reportSince time.Duration
	reportOut   string

	accountCmd = &cobra.Command{
		Use:   "account",
		Short: "Account lifecycle operations",
	}
	accountTransitionCmd = &cobra.Command{
		Use:   "transition <account-id> <state>",
		Short: "Move an account to a lifecycle state",
		Args:  cobra.ExactArgs(2),
		RunE:  runAccountTransition,
	}
	accountBulkTransitionCmd = &cobra.Command{
		Use:   "bulk-transition <state> <account-id>...",
		Short: "Move several accounts to a lifecycle state",
		Args:  cobra.MinimumNArgs(2),
		RunE:  runAccountBulkTransition,
	}
	accountInvalidateCmd = &cobra.Command{
		Use:   "invalidate <account-id>",
		Short: "Release an account's resources and archive it",
		Args:  cobra.ExactArgs(1),
		RunE:  runAccountInvalidate,
	}
	accountInitPhasesCmd = &cobra.Command{
		Use:   "init-phases <account-id>",
		Short: "Create the warmup phase records of an account",
		Args:  cobra.ExactArgs(1),
		RunE:  runAccountInitPhases,
	}
	accountManualSetupCmd = &cobra.Command{
		Use:   "manual-setup <account-id>",
		Short: "Record the operator-driven manual_setup phase as done",
		Args:  cobra.ExactArgs(1),
		RunE:  runAccountManualSetup,
	}
	transitionForce  bool
	transitionReason string
	transitionNotes  string
	actor            string

	proxyCmd = &cobra.Command{
		Use:   "proxy",
		Short: "Proxy assignment operations",
	}
	proxyAssignCmd = &cobra.Command{
		Use:   "assign <account-id>",
		Short: "Bind the least loaded proxy to an account",
		Args:  cobra.ExactArgs(1),
		RunE:  runProxyAssign,
	}
	proxyUnassignCmd = &cobra.Command{
		Use:   "unassign <account-id>",
		Short: "Release an account's proxy",
		Args:  cobra.ExactArgs(1),
		RunE:  runProxyUnassign,
	}

	phaseCmd = &cobra.Command{
		Use:   "phase",
		Short: "Warmup phase operations",
	}
	phaseResolveReviewCmd = &cobra.Command{
		Use:   "resolve-review <account-id> <phase>",
		Short: "Return an escalated phase to the queue",
		Args:  cobra.ExactArgs(2),
		RunE:  runPhaseResolveReview,
	}
)

func init() {
	reportCmd.Flags().DurationVar(&reportSince, "since", 7*24*time.Hour, "Window of assignment statistics")
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", ".", "Output directory")

	accountTransitionCmd.Flags().BoolVar(&transitionForce, "force", false, "Skip the transition table and validation rules")
	accountBulkTransitionCmd.Flags().BoolVar(&transitionForce, "force", false, "Skip the transition table and validation rules")
	for _, c := range []*cobra.Command{accountTransitionCmd, accountBulkTransitionCmd} {
		c.Flags().StringVar(&transitionReason, "reason", "", "Transition reason")
		c.Flags().StringVar(&transitionNotes, "notes", "", "Transition notes")
	}
	for _, c := range []*cobra.Command{accountTransitionCmd, accountBulkTransitionCmd, accountInvalidateCmd, accountManualSetupCmd, phaseResolveReviewCmd} {
		c.Flags().StringVar(&actor, "by", "", "Operator recorded on the change")
	}

	accountCmd.AddCommand(accountTransitionCmd, accountBulkTransitionCmd, accountInvalidateCmd, accountInitPhasesCmd, accountManualSetupCmd)
	proxyCmd.AddCommand(proxyAssignCmd, proxyUnassignCmd)
	phaseCmd.AddCommand(phaseResolveReviewCmd)
	rootCmd.AddCommand(serveCmd, reportCmd, accountCmd, proxyCmd, phaseCmd)
}

// bootstrap loads the configuration and wires the application
func bootstrap() (*Application, error) {
	cfg, err := config.LoadProductionConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	app, err := initializeApplication(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	return app, nil
}

// withApp runs fn against a freshly wired application bounded by the default request timeout
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *Application) (any, error)) error {
	app, err := bootstrap()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), utils.DefaultRequestTimeout)
	defer cancel()

	out, err := fn(ctx, app)
	if out != nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(out); encErr != nil {
			return encErr
		}
	}
	return err
}

func runServe(cmd *cobra.Command, _ []string) error {
	log.Println("Starting warmup orchestrator...")

	app, err := bootstrap()
	if err != nil {
		return err
	}
	defer app.Close()
	cfg := app.config

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := seedWarmupGroups(ctx, app.groupRepo, cfg.Warmup.GroupsFile); err != nil {
		return err
	}
	app.stopFuncs = append(app.stopFuncs, startCacheHealthMonitor(ctx, app.cache, 30*time.Second))

	var (
		sched  *scheduler.WarmupScheduler
		status handlers.SchedulerStatusProvider
	)
	if cfg.Scheduler.Enabled {
		sched = newWarmupScheduler(app)
		status = sched
	}

	warmupHandler := handlers.NewWarmupHandler(app.pipelineFlow, app.lifecycleFlow, app.proxyFlow, status)
	appRouter := router.NewFiberRouter(warmupHandler, cfg)
	appRouter.SetupRoutes()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		if err := appRouter.Start(address); err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return appRouter.GetApp().ShutdownWithContext(shutdownCtx)
	})

	if sched != nil {
		g.Go(func() error {
			stopScheduler := sched.Start(gCtx)
			<-gCtx.Done()
			stopScheduler()
			return nil
		})
	}

	err = g.Wait()
	log.Println("Server stopped")
	return err
}

func newWarmupScheduler(app *Application) *scheduler.WarmupScheduler {
	cfg := app.config
	logger, closer := scheduler.NewSchedulerLogger(cfg.Logging)
	app.stopFuncs = append(app.stopFuncs, func() { _ = closer.Close() })

	var guard scheduler.TickGuard = scheduler.NewLocalTickGuard()
	if cfg.Scheduler.DistributedLock && app.cache != nil {
		guard = scheduler.NewRedisTickLease(app.cache, cfg.Cache.RedisPrefix, cfg.Scheduler.LockTTL, logger)
	}

	return scheduler.NewWarmupScheduler(scheduler.Deps{
		Pipeline:   app.pipelineFlow,
		Content:    app.assignmentFlow,
		Candidates: app.accountRepo,
		Cooldown:   scheduler.NewCooldownPolicy(app.groupRepo, cfg.Scheduler.DefaultMinCooldownHours, cfg.Scheduler.DefaultMaxCooldownHours),
		Executor:   scheduler.NewHTTPExecutorClient(cfg.Executor, cfg.Scheduler.WorkerID),
		Guard:      guard,
	}, cfg.Scheduler, logger)
}

func runReport(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, app *Application) (any, error) {
		since := utils.UTCNow().Add(-reportSince)
		name, content, err := app.reportFlow.ExportWarmupReport(ctx, since)
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(reportOut, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
		path := filepath.Join(reportOut, name)
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write report: %w", err)
		}
		return map[string]any{"file": path, "bytes": len(content)}, nil
	})
}

func transitionOptions() dto.TransitionOptions {
	opts := dto.TransitionOptions{Force: transitionForce, ChangedBy: actor}
	if transitionReason != "" {
		opts.Reason = utils.ToPtr(transitionReason)
	}
	if transitionNotes != "" {
		opts.Notes = utils.ToPtr(transitionNotes)
	}
	return opts
}

func runAccountTransition(cmd *cobra.Command, args []string) error {
	accountID, err := parseAccountID(args[0])
	if err != nil {
		return err
	}
	state, err := parseLifecycleState(args[1])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, app *Application) (any, error) {
		return app.lifecycleFlow.Transition(ctx, accountID, state, transitionOptions())
	})
}

func runAccountBulkTransition(cmd *cobra.Command, args []string) error {
	state, err := parseLifecycleState(args[0])
	if err != nil {
		return err
	}
	ids := make([]uint, 0, len(args)-1)
	for _, raw := range args[1:] {
		id, err := parseAccountID(raw)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	return withApp(cmd, func(ctx context.Context, app *Application) (any, error) {
		return app.lifecycleFlow.BulkTransition(ctx, ids, state, transitionOptions())
	})
}

func runAccountInvalidate(cmd *cobra.Command, args []string) error {
	accountID, err := parseAccountID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, app *Application) (any, error) {
		return app.lifecycleFlow.Invalidate(ctx, accountID, actor)
	})
}

func runAccountInitPhases(cmd *cobra.Command, args []string) error {
	accountID, err := parseAccountID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, app *Application) (any, error) {
		return app.pipelineFlow.InitializePhases(ctx, accountID)
	})
}

func runAccountManualSetup(cmd *cobra.Command, args []string) error {
	accountID, err := parseAccountID(args[0])
	if err != nil {
		return err
	}
	workerID := "operator"
	if actor != "" {
		workerID = "operator:" + actor
	}
	return withApp(cmd, func(ctx context.Context, app *Application) (any, error) {
		sessionID := fmt.Sprintf("session-%d-%s", utils.UTCNow().UnixMilli(), uuid.NewString()[:8])
		if res, err := app.pipelineFlow.StartPhase(ctx, accountID, models.WarmupPhaseManualSetup, workerID, sessionID); err != nil {
			return res, err
		}
		return app.pipelineFlow.CompletePhase(ctx, dto.CompletePhaseRequest{
			AccountID: accountID,
			Phase:     models.WarmupPhaseManualSetup,
			WorkerID:  workerID,
		})
	})
}

func runProxyAssign(cmd *cobra.Command, args []string) error {
	accountID, err := parseAccountID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, app *Application) (any, error) {
		return app.proxyFlow.AssignProxy(ctx, accountID)
	})
}

func runProxyUnassign(cmd *cobra.Command, args []string) error {
	accountID, err := parseAccountID(args[0])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, app *Application) (any, error) {
		return app.proxyFlow.UnassignProxy(ctx, accountID)
	})
}

func runPhaseResolveReview(cmd *cobra.Command, args []string) error {
	accountID, err := parseAccountID(args[0])
	if err != nil {
		return err
	}
	phase := models.WarmupPhase(args[1])
	if !phase.IsValid() {
		return fmt.Errorf("unknown warmup phase %q", args[1])
	}
	return withApp(cmd, func(ctx context.Context, app *Application) (any, error) {
		return app.pipelineFlow.ResolveReview(ctx, accountID, phase, actor)
	})
}

func parseAccountID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid account id %q", raw)
	}
	return uint(id), nil
}

func parseLifecycleState(raw string) (models.LifecycleState, error) {
	state := models.LifecycleState(raw)
	if !state.IsValid() {
		return "", fmt.Errorf("unknown lifecycle state %q", raw)
	}
	return state, nil
}
