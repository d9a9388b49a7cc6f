// Package scheduler drives warmup phases through the automation executor
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/amirphl/warmup-orchestrator/app/dto"
	businessflow "github.com/amirphl/warmup-orchestrator/business_flow"
	"github.com/amirphl/warmup-orchestrator/config"
	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/amirphl/warmup-orchestrator/utils"
	"github.com/google/uuid"
)

// TickOutcome names how a scheduler tick ended
type TickOutcome string

const (
	OutcomeOverlap       TickOutcome = "overlap"
	OutcomeWorkerBusy    TickOutcome = "worker_busy"
	OutcomeNoCandidate   TickOutcome = "no_candidate"
	OutcomeNoPhase       TickOutcome = "no_phase"
	OutcomeNoContent     TickOutcome = "no_content"
	OutcomeStartRejected TickOutcome = "start_rejected"
	OutcomeCompleted     TickOutcome = "completed"
	OutcomeFailed        TickOutcome = "failed"
	OutcomeError         TickOutcome = "error"
)

// PhasePipeline is the part of the warmup pipeline the scheduler drives
type PhasePipeline interface {
	NextEligiblePhase(ctx context.Context, accountID uint, workerID string) (*models.AccountWarmupPhase, error)
	StartPhase(ctx context.Context, accountID uint, phase models.WarmupPhase, workerID, sessionID string) (*dto.PhaseResult, error)
	CompletePhase(ctx context.Context, req dto.CompletePhaseRequest) (*dto.PhaseResult, error)
	FailPhase(ctx context.Context, req dto.FailPhaseRequest) (*dto.PhaseResult, error)
	ScriptSequenceFor(phase models.WarmupPhase, containerHandle string) (businessflow.PhaseDescriptor, businessflow.ScriptSequence)
	ResetStuckPhases(ctx context.Context, olderThan time.Duration) (int64, error)
	ResetOrphanedPhases(ctx context.Context) (int64, error)
	ReleaseFailedPhases(ctx context.Context, failedBefore time.Time) (int64, error)
	HasPhaseInProgress(ctx context.Context) (bool, error)
}

// ContentProvider resolves the content StartPhase attached to a phase
type ContentProvider interface {
	AssignedContent(ctx context.Context, warmupPhaseID uint) (*dto.AssignedContent, error)
}

// CandidateStore lists accounts ready for work and applies post actions
type CandidateStore interface {
	ListWarmupCandidates(ctx context.Context, now time.Time, limit int) ([]*models.WarmupCandidate, error)
	UpdateUsername(ctx context.Context, id uint, username string) error
}

// Deps are the collaborators of WarmupScheduler
type Deps struct {
	Pipeline   PhasePipeline
	Content    ContentProvider
	Candidates CandidateStore
	Cooldown   *CooldownPolicy
	Executor   Executor
	Guard      TickGuard
}

// WarmupScheduler runs at most one warmup phase per tick, one phase system-wide at a time
type WarmupScheduler struct {
	deps   Deps
	cfg    config.SchedulerConfig
	logger *log.Logger

	mu          sync.Mutex
	running     bool
	hasTimer    bool
	lastTickAt  *time.Time
	lastOutcome TickOutcome
	tickCount   int64
}

func NewWarmupScheduler(deps Deps, cfg config.SchedulerConfig, logger *log.Logger) *WarmupScheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.StuckTimeout <= 0 {
		cfg.StuckTimeout = 10 * time.Minute
	}
	if cfg.WorkerID == "" {
		cfg.WorkerID = "warmup-queue-service"
	}
	if cfg.CandidateLimit <= 0 {
		cfg.CandidateLimit = 5
	}
	if deps.Guard == nil {
		deps.Guard = NewLocalTickGuard()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &WarmupScheduler{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
	}
}

// Start performs the startup sweep, schedules the deferred first tick and the periodic ticker,
// and returns a stop function. Calling Start on a running scheduler returns a no-op stop.
func (s *WarmupScheduler) Start(parent context.Context) func() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return func() {}
	}
	s.running = true
	s.mu.Unlock()
	schedulerRunning.Set(1)

	ctx, cancel := context.WithCancel(parent)
	done := make(chan struct{})

	if n, err := s.deps.Pipeline.ResetOrphanedPhases(ctx); err != nil {
		s.logger.Printf("scheduler: startup cleanup failed: %v", err)
	} else if n > 0 {
		recoveredPhases.WithLabelValues("startup").Add(float64(n))
		s.logger.Printf("scheduler: startup cleanup reset %d in-progress phases", n)
	}

	go func() {
		defer close(done)

		startup := time.NewTimer(s.cfg.StartupDelay)
		defer startup.Stop()
		select {
		case <-ctx.Done():
			return
		case <-startup.C:
			s.RunOnce(ctx)
		}

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		s.setTimer(true)
		defer s.setTimer(false)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RunOnce(ctx)
			}
		}
	}()

	s.logger.Printf("scheduler: started worker=%s interval=%s stuck_timeout=%s", s.cfg.WorkerID, s.cfg.Interval, s.cfg.StuckTimeout)

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			schedulerRunning.Set(0)
			s.logger.Printf("scheduler: stopped")
		})
	}
}

func (s *WarmupScheduler) setTimer(v bool) {
	s.mu.Lock()
	s.hasTimer = v
	s.mu.Unlock()
}

// Status reports the loop state and the last tick
func (s *WarmupScheduler) Status() dto.SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return dto.SchedulerStatus{
		IsRunning:   s.running,
		HasTimer:    s.hasTimer,
		WorkerID:    s.cfg.WorkerID,
		LastTickAt:  s.lastTickAt,
		LastOutcome: string(s.lastOutcome),
		TickCount:   s.tickCount,
	}
}

// RunOnce executes one tick. A tick that finds another tick in flight returns OutcomeOverlap.
func (s *WarmupScheduler) RunOnce(ctx context.Context) TickOutcome {
	if !s.deps.Guard.TryAcquire(ctx) {
		s.record(OutcomeOverlap)
		return OutcomeOverlap
	}
	defer s.deps.Guard.Release()

	outcome := s.tick(ctx)
	s.record(outcome)
	return outcome
}

func (s *WarmupScheduler) record(outcome TickOutcome) {
	tickTotal.WithLabelValues(string(outcome)).Inc()

	now := utils.UTCNow()
	s.mu.Lock()
	s.lastTickAt = &now
	s.lastOutcome = outcome
	s.tickCount++
	s.mu.Unlock()
}

func (s *WarmupScheduler) tick(ctx context.Context) TickOutcome {
	now := utils.UTCNow()

	// 1) Return failed phases whose retry delay elapsed
	if n, err := s.deps.Pipeline.ReleaseFailedPhases(ctx, now.Add(-s.cfg.RetryDelay)); err != nil {
		s.logger.Printf("scheduler: release failed phases failed: %v", err)
	} else if n > 0 {
		recoveredPhases.WithLabelValues("retry").Add(float64(n))
		s.logger.Printf("scheduler: released %d failed phases for retry", n)
	}

	// 2) Stuck-work recovery
	if n, err := s.deps.Pipeline.ResetStuckPhases(ctx, s.cfg.StuckTimeout); err != nil {
		s.logger.Printf("scheduler: stuck phase sweep failed: %v", err)
		return OutcomeError
	} else if n > 0 {
		recoveredPhases.WithLabelValues("timeout").Add(float64(n))
		s.logger.Printf("scheduler: reset %d stuck phases", n)
	}

	// 3) Singleton check
	busy, err := s.deps.Pipeline.HasPhaseInProgress(ctx)
	if err != nil {
		s.logger.Printf("scheduler: singleton check failed: %v", err)
		return OutcomeError
	}
	if busy {
		return OutcomeWorkerBusy
	}

	// 4) Candidate selection. An account whose next phase has no eligible content
	// yields to the next candidate instead of blocking the queue.
	candidates, err := s.deps.Candidates.ListWarmupCandidates(ctx, now, s.cfg.CandidateLimit)
	if err != nil {
		s.logger.Printf("scheduler: list candidates failed: %v", err)
		return OutcomeError
	}
	if len(candidates) == 0 {
		return OutcomeNoCandidate
	}

	exhausted := OutcomeNoPhase
	for _, cand := range candidates {
		phase, err := s.deps.Pipeline.NextEligiblePhase(ctx, cand.AccountID, s.cfg.WorkerID)
		if err != nil {
			s.logger.Printf("scheduler: next phase failed account=%d: %v", cand.AccountID, err)
			return OutcomeError
		}
		if phase == nil {
			continue
		}

		// 5) Claim; content is attached inside the same transaction
		sessionID := newSessionID(now)
		res, err := s.deps.Pipeline.StartPhase(ctx, cand.AccountID, phase.Phase, s.cfg.WorkerID, sessionID)
		if err != nil {
			if businessflow.IsSingletonWorkerBusy(err) {
				return OutcomeWorkerBusy
			}
			s.logger.Printf("scheduler: start phase rejected account=%d phase=%s: %v", cand.AccountID, phase.Phase, err)
			return OutcomeStartRejected
		}
		if !res.Success {
			s.logger.Printf("scheduler: no content for account=%d phase=%s: %s", cand.AccountID, phase.Phase, res.Message)
			exhausted = OutcomeNoContent
			continue
		}
		s.logger.Printf("scheduler: started account=%d phase=%s worker=%s session=%s", cand.AccountID, phase.Phase, s.cfg.WorkerID, sessionID)
		return s.execute(ctx, cand, phase, sessionID)
	}
	return exhausted
}

func (s *WarmupScheduler) execute(ctx context.Context, cand *models.WarmupCandidate, phase *models.AccountWarmupPhase, sessionID string) TickOutcome {
	descriptor, scripts := s.deps.Pipeline.ScriptSequenceFor(phase.Phase, cand.ContainerHandle)

	// 6) Execute
	assigned, err := s.deps.Content.AssignedContent(ctx, phase.ID)
	if err != nil {
		s.logger.Printf("scheduler: load assigned content failed account=%d phase=%s: %v", cand.AccountID, phase.Phase, err)
	}

	req := buildExecutorRequest(cand, phase.Phase, sessionID, scripts, assigned)
	started := time.Now()
	result, execErr := s.deps.Executor.Execute(ctx, req)
	elapsed := time.Since(started)

	if execErr != nil || result == nil || !result.Success {
		return s.fail(ctx, cand, phase.Phase, elapsed, result, execErr)
	}
	return s.complete(ctx, cand, phase.Phase, descriptor, elapsed, result, assigned)
}

func (s *WarmupScheduler) complete(
	ctx context.Context,
	cand *models.WarmupCandidate,
	phase models.WarmupPhase,
	descriptor businessflow.PhaseDescriptor,
	elapsed time.Duration,
	result *dto.ExecutorResult,
	assigned *dto.AssignedContent,
) TickOutcome {
	phaseExecutionDuration.WithLabelValues(string(phase), "success").Observe(elapsed.Seconds())

	now := utils.UTCNow()
	next, err := s.deps.Cooldown.NextAvailableAt(ctx, cand.ModelID, now)
	if err != nil {
		// Without a policy the phase still completes; successors become available now
		s.logger.Printf("scheduler: cooldown lookup failed account=%d: %v", cand.AccountID, err)
	}

	durationMs := result.ExecutionTimeMs
	if durationMs <= 0 {
		durationMs = elapsed.Milliseconds()
	}
	payload, _ := json.Marshal(result)

	req := dto.CompletePhaseRequest{
		AccountID:       cand.AccountID,
		Phase:           phase,
		WorkerID:        s.cfg.WorkerID,
		DurationMs:      durationMs,
		ResponsePayload: payload,
	}
	if err == nil {
		req.NextAvailableAt = &next
	}

	res, err := s.deps.Pipeline.CompletePhase(ctx, req)
	if err != nil {
		s.logger.Printf("scheduler: complete phase failed account=%d phase=%s: %v", cand.AccountID, phase, err)
		return OutcomeError
	}
	s.logger.Printf("scheduler: completed account=%d phase=%s duration_ms=%d next_available_at=%s promoted=%t",
		cand.AccountID, phase, durationMs, next.Format(time.RFC3339), res.Promoted)

	s.runPostAction(ctx, cand, descriptor, assigned)
	return OutcomeCompleted
}

func (s *WarmupScheduler) fail(
	ctx context.Context,
	cand *models.WarmupCandidate,
	phase models.WarmupPhase,
	elapsed time.Duration,
	result *dto.ExecutorResult,
	execErr error,
) TickOutcome {
	phaseExecutionDuration.WithLabelValues(string(phase), "failure").Observe(elapsed.Seconds())

	category := models.FailureCategoryBotError
	message := "Executor reported failure"
	details := map[string]any{"elapsed_ms": elapsed.Milliseconds()}
	if execErr != nil {
		message = fmt.Sprintf("Executor call failed: %v", execErr)
	}
	if result != nil {
		if result.FailureCategory.IsValid() {
			category = result.FailureCategory
		}
		if result.Error != "" {
			message = result.Error
		}
		details["execution_time_ms"] = result.ExecutionTimeMs
	}
	raw, _ := json.Marshal(details)

	res, err := s.deps.Pipeline.FailPhase(ctx, dto.FailPhaseRequest{
		AccountID:       cand.AccountID,
		Phase:           phase,
		WorkerID:        s.cfg.WorkerID,
		Message:         message,
		Details:         raw,
		FailureCategory: category,
	})
	if err != nil {
		s.logger.Printf("scheduler: fail phase failed account=%d phase=%s: %v", cand.AccountID, phase, err)
		return OutcomeError
	}

	phaseFailures.WithLabelValues(string(phase), string(category), fmt.Sprint(res.Escalated)).Inc()
	s.logger.Printf("scheduler: failed account=%d phase=%s category=%s status=%s: %s", cand.AccountID, phase, category, res.Status, message)
	return OutcomeFailed
}

func (s *WarmupScheduler) runPostAction(ctx context.Context, cand *models.WarmupCandidate, descriptor businessflow.PhaseDescriptor, assigned *dto.AssignedContent) {
	if descriptor.PostAction != businessflow.PostActionUpdateUsername {
		return
	}
	if assigned == nil || assigned.Text == nil {
		s.logger.Printf("scheduler: username post action skipped account=%d: no text assigned", cand.AccountID)
		return
	}

	username := usernameFromText(assigned.Text.TextContent)
	if username == "" {
		return
	}
	if err := s.deps.Candidates.UpdateUsername(ctx, cand.AccountID, username); err != nil {
		s.logger.Printf("scheduler: username post action failed account=%d: %v", cand.AccountID, err)
		return
	}
	s.logger.Printf("scheduler: username updated account=%d %s -> %s", cand.AccountID, cand.Username, username)
}

func buildExecutorRequest(cand *models.WarmupCandidate, phase models.WarmupPhase, sessionID string, scripts businessflow.ScriptSequence, assigned *dto.AssignedContent) dto.ExecutorRequest {
	req := dto.ExecutorRequest{
		AccountID:       cand.AccountID,
		Phase:           phase,
		ContainerHandle: cand.ContainerHandle,
		Username:        cand.Username,
		SkipOnboarding:  needsOnboardingSkip(cand.CompletedPhases),
		APIScripts:      scripts.APIScripts,
		LuaScripts:      scripts.LuaScripts,
		SessionID:       sessionID,
	}
	if assigned != nil {
		if assigned.Content != nil {
			req.ContentID = &assigned.Content.ID
			req.ContentPath = &assigned.Content.FilePath
		}
		if assigned.Text != nil {
			req.TextID = &assigned.Text.ID
			req.Text = &assigned.Text.TextContent
		}
	}
	return req
}

// needsOnboardingSkip is true for an account's first automated phase.
// manual_setup is a dependency of every automated phase, so one completed phase means none automated yet.
func needsOnboardingSkip(completedPhases int64) bool {
	return completedPhases <= 1
}

// usernameFromText appends the last letter twice and lower-cases the result
func usernameFromText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	last, _ := utf8.DecodeLastRuneInString(text)
	return strings.ToLower(text + string(last) + string(last))
}

func newSessionID(now time.Time) string {
	return fmt.Sprintf("session-%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}
