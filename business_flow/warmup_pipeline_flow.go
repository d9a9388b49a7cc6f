package businessflow

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/amirphl/warmup-orchestrator/app/dto"
	"github.com/amirphl/warmup-orchestrator/config"
	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/amirphl/warmup-orchestrator/repository"
	"github.com/amirphl/warmup-orchestrator/utils"
	"gorm.io/gorm"
)

// Messages written onto phase rows by the maintenance sweeps
const (
	startupCleanupMessage = "Reset by startup cleanup"
	stuckTimeoutMessage   = "Reset due to timeout (stuck for %d minutes)"
)

// WarmupPipelineFlow drives the per-account phase state machine
type WarmupPipelineFlow interface {
	InitializePhases(ctx context.Context, accountID uint) (*dto.PhaseInitResult, error)
	StartPhase(ctx context.Context, accountID uint, phase models.WarmupPhase, workerID, sessionID string) (*dto.PhaseResult, error)
	CompletePhase(ctx context.Context, req dto.CompletePhaseRequest) (*dto.PhaseResult, error)
	FailPhase(ctx context.Context, req dto.FailPhaseRequest) (*dto.PhaseResult, error)
	NextEligiblePhase(ctx context.Context, accountID uint, workerID string) (*models.AccountWarmupPhase, error)
	ScriptSequenceFor(phase models.WarmupPhase, containerHandle string) (PhaseDescriptor, ScriptSequence)

	ResetStuckPhases(ctx context.Context, olderThan time.Duration) (int64, error)
	ResetOrphanedPhases(ctx context.Context) (int64, error)
	ReleaseFailedPhases(ctx context.Context, failedBefore time.Time) (int64, error)
	HasPhaseInProgress(ctx context.Context) (bool, error)

	WarmupStatus(ctx context.Context, accountID uint) (*dto.WarmupStatus, error)
	Statistics(ctx context.Context) (*dto.WarmupStatistics, error)
	ResolveReview(ctx context.Context, accountID uint, phase models.WarmupPhase, resolvedBy string) (*dto.PhaseResult, error)
}

// WarmupPipelineFlowImpl implements WarmupPipelineFlow
type WarmupPipelineFlowImpl struct {
	accountRepo repository.AccountRepository
	phaseRepo   repository.AccountWarmupPhaseRepository
	groupRepo   repository.WarmupConfigurationRepository
	assignment  ContentAssignmentFlow
	lifecycle   AccountLifecycleFlow
	cfg         config.WarmupConfig
	db          *gorm.DB
}

// NewWarmupPipelineFlow creates a new warmup pipeline flow
func NewWarmupPipelineFlow(
	accountRepo repository.AccountRepository,
	phaseRepo repository.AccountWarmupPhaseRepository,
	groupRepo repository.WarmupConfigurationRepository,
	assignment ContentAssignmentFlow,
	lifecycle AccountLifecycleFlow,
	cfg config.WarmupConfig,
	db *gorm.DB,
) WarmupPipelineFlow {
	return &WarmupPipelineFlowImpl{
		accountRepo: accountRepo,
		phaseRepo:   phaseRepo,
		groupRepo:   groupRepo,
		assignment:  assignment,
		lifecycle:   lifecycle,
		cfg:         cfg,
		db:          db,
	}
}

// InitializePhases creates the twelve phase rows of an account; existing rows are kept
func (f *WarmupPipelineFlowImpl) InitializePhases(ctx context.Context, accountID uint) (*dto.PhaseInitResult, error) {
	account, err := getAccount(ctx, f.accountRepo, accountID)
	if err != nil {
		return nil, err
	}

	maxRetries, err := f.maxRetriesFor(ctx, account)
	if err != nil {
		return nil, err
	}

	now := utils.UTCNow()
	rows := make([]*models.AccountWarmupPhase, 0, len(models.OrderedWarmupPhases))
	for _, phase := range models.OrderedWarmupPhases {
		row := &models.AccountWarmupPhase{
			AccountID:  account.ID,
			Phase:      phase,
			Status:     models.PhaseStatusPending,
			MaxRetries: maxRetries,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if phase == models.WarmupPhaseManualSetup {
			row.Status = models.PhaseStatusAvailable
			row.AvailableAt = &now
		}
		rows = append(rows, row)
	}

	created, err := f.phaseRepo.InsertMissing(ctx, rows)
	if err != nil {
		return nil, err
	}

	return &dto.PhaseInitResult{
		AccountID: account.ID,
		Created:   created,
		Total:     len(models.OrderedWarmupPhases),
	}, nil
}

func (f *WarmupPipelineFlowImpl) maxRetriesFor(ctx context.Context, account *models.Account) (int, error) {
	maxRetries := f.cfg.DefaultMaxRetries
	if maxRetries <= 0 {
		maxRetries = models.DefaultPhaseMaxRetries
	}
	if account.ModelID == nil || f.groupRepo == nil {
		return maxRetries, nil
	}
	group, err := f.groupRepo.ByModelID(ctx, *account.ModelID)
	if err != nil {
		return 0, err
	}
	if group != nil && group.MaxRetries != nil && *group.MaxRetries > 0 {
		maxRetries = *group.MaxRetries
	}
	return maxRetries, nil
}

// StartPhase claims the singleton worker slot for (accountID, phase) and attaches content if missing.
// When no content is eligible nothing changes and the result carries Success=false with a nil error.
func (f *WarmupPipelineFlowImpl) StartPhase(ctx context.Context, accountID uint, phase models.WarmupPhase, workerID, sessionID string) (*dto.PhaseResult, error) {
	if !phase.IsValid() {
		return nil, NewBusinessErrorf("INVALID_PHASE", "Invalid warmup phase: %s", ErrInvalidPhase, phase)
	}
	if workerID == "" {
		return nil, NewBusinessError("WORKER_ID_REQUIRED", "Worker ID is required", ErrWorkerIDRequired)
	}

	result := &dto.PhaseResult{AccountID: accountID, Phase: phase}
	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		if err := f.phaseRepo.LockWorkerSlot(txCtx); err != nil {
			return err
		}
		busy, err := f.phaseRepo.CountInProgress(txCtx)
		if err != nil {
			return err
		}
		if busy > 0 {
			return NewBusinessError("SINGLETON_WORKER_BUSY", "Another phase is already in progress", ErrSingletonWorkerBusy)
		}

		account, err := getAccount(txCtx, f.accountRepo, accountID)
		if err != nil {
			return err
		}
		row, err := f.phaseRepo.ByAccountAndPhaseForUpdate(txCtx, accountID, phase)
		if err != nil {
			return err
		}
		if row == nil {
			return NewBusinessError("PHASE_NOT_FOUND", "Warmup phase not found", ErrPhaseNotFound)
		}
		if row.Status != models.PhaseStatusAvailable {
			return NewBusinessErrorf("PHASE_NOT_AVAILABLE", "Warmup phase is %s", ErrPhaseNotAvailable, row.Status)
		}

		now := utils.UTCNow()
		if row.AvailableAt != nil && row.AvailableAt.After(now) {
			return NewBusinessErrorf("PHASE_COOLDOWN_ACTIVE", "Warmup phase is available at %s", ErrPhaseCooldownActive, row.AvailableAt.Format(time.RFC3339))
		}

		statuses, err := f.phaseStatuses(txCtx, accountID)
		if err != nil {
			return err
		}
		if !DependenciesMet(phase, statuses) {
			return NewBusinessError("DEPENDENCIES_NOT_MET", "Warmup phase dependencies are not completed", ErrDependenciesNotMet)
		}

		started, err := f.phaseRepo.MarkStarted(txCtx, row.ID, workerID, sessionID, now)
		if err != nil {
			return err
		}
		if !started {
			return NewBusinessError("PHASE_NOT_AVAILABLE", "Warmup phase was claimed concurrently", ErrPhaseNotAvailable)
		}
		if err := f.accountRepo.TouchBotAction(txCtx, accountID, workerID, now); err != nil {
			return err
		}

		if d, ok := DescriptorFor(phase); ok && (d.RequiresContent || d.RequiresText) && !row.HasContent() {
			assigned, err := f.assignment.AssignToPhase(txCtx, accountID, row.ID, phase, account.ModelID)
			if err != nil {
				return err
			}
			if !assigned.Success {
				// roll back the claim so the phase stays available
				result.Message = assigned.Message
				return NewBusinessError("CONTENT_UNAVAILABLE", assigned.Message, ErrContentUnavailable)
			}
		} else if row.HasContent() {
			if _, err := f.assignment.RenewForRetry(txCtx, row.ID); err != nil {
				return err
			}
		}

		row, err = f.phaseRepo.ByAccountAndPhase(txCtx, accountID, phase)
		if err != nil {
			return err
		}
		result.Record = row
		return nil
	})
	if IsContentUnavailable(err) {
		result.Status = models.PhaseStatusAvailable
		return result, nil
	}
	if err != nil {
		result.Message = err.Error()
		return result, err
	}

	result.Success = true
	result.Status = models.PhaseStatusInProgress
	if result.Message == "" {
		result.Message = "Warmup phase started"
	}
	return result, nil
}

// CompletePhase finishes an in-progress phase owned by req.WorkerID, unlocks its successors,
// applies the cooldown and promotes the account once every phase is done
func (f *WarmupPipelineFlowImpl) CompletePhase(ctx context.Context, req dto.CompletePhaseRequest) (*dto.PhaseResult, error) {
	if !req.Phase.IsValid() {
		return nil, NewBusinessErrorf("INVALID_PHASE", "Invalid warmup phase: %s", ErrInvalidPhase, req.Phase)
	}

	result := &dto.PhaseResult{AccountID: req.AccountID, Phase: req.Phase}
	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		row, err := f.ownedRow(txCtx, req.AccountID, req.Phase, req.WorkerID)
		if err != nil {
			return err
		}

		now := utils.UTCNow()
		completed, err := f.phaseRepo.MarkCompleted(txCtx, row.ID, repository.PhaseCompletion{
			WorkerID:        req.WorkerID,
			DurationMs:      req.DurationMs,
			ResponsePayload: req.ResponsePayload,
			At:              now,
		})
		if err != nil {
			return err
		}
		if !completed {
			return NewBusinessError("PHASE_NOT_OWNED", "Warmup phase is not in progress for this worker", ErrPhaseNotOwned)
		}

		statuses, err := f.phaseStatuses(txCtx, req.AccountID)
		if err != nil {
			return err
		}
		if unlock := UnlockablePhases(statuses); len(unlock) > 0 {
			if _, err := f.phaseRepo.Unlock(txCtx, req.AccountID, unlock, now); err != nil {
				return err
			}
			for _, p := range unlock {
				statuses[p] = models.PhaseStatusAvailable
			}
		}
		if req.NextAvailableAt != nil {
			if _, err := f.phaseRepo.ApplyCooldown(txCtx, req.AccountID, *req.NextAvailableAt); err != nil {
				return err
			}
		}

		if row.HasContent() {
			if err := f.assignment.RecordPhaseOutcome(txCtx, row.ID, true); err != nil {
				return err
			}
		}

		if isWarmupComplete(statusCounts(statuses)) {
			promoted, err := f.lifecycle.PromoteToActive(txCtx, req.AccountID)
			if err != nil {
				return err
			}
			result.Promoted = promoted
		}
		return f.accountRepo.TouchBotAction(txCtx, req.AccountID, req.WorkerID, now)
	})
	if err != nil {
		result.Message = err.Error()
		return result, err
	}

	result.Success = true
	result.Status = models.PhaseStatusCompleted
	result.Message = "Warmup phase completed"
	return result, nil
}

// FailPhase records a failed execution of an in-progress phase owned by req.WorkerID
func (f *WarmupPipelineFlowImpl) FailPhase(ctx context.Context, req dto.FailPhaseRequest) (*dto.PhaseResult, error) {
	if !req.Phase.IsValid() {
		return nil, NewBusinessErrorf("INVALID_PHASE", "Invalid warmup phase: %s", ErrInvalidPhase, req.Phase)
	}
	if req.FailureCategory == "" {
		req.FailureCategory = models.FailureCategoryBotError
	}
	if !req.FailureCategory.IsValid() {
		return nil, NewBusinessErrorf("INVALID_FAILURE_CATEGORY", "Invalid failure category: %s", ErrInvalidFailureCategory, req.FailureCategory)
	}

	result := &dto.PhaseResult{AccountID: req.AccountID, Phase: req.Phase}
	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		row, err := f.ownedRow(txCtx, req.AccountID, req.Phase, req.WorkerID)
		if err != nil {
			return err
		}

		outcome := NextFailureStatus(FailureInput{
			Status:        row.Status,
			RetryCount:    row.RetryCount,
			MaxRetries:    row.MaxRetries,
			ForceEscalate: req.ForceEscalate,
			Category:      req.FailureCategory,
		})

		now := utils.UTCNow()
		failed, err := f.phaseRepo.MarkFailed(txCtx, row.ID, repository.PhaseFailure{
			WorkerID:       req.WorkerID,
			NextStatus:     outcome.Status,
			NextRetryCount: outcome.RetryCount,
			Escalated:      outcome.Escalated,
			Category:       req.FailureCategory,
			Message:        req.Message,
			Details:        req.Details,
			At:             now,
		})
		if err != nil {
			return err
		}
		if !failed {
			return NewBusinessError("PHASE_NOT_OWNED", "Warmup phase is not in progress for this worker", ErrPhaseNotOwned)
		}

		if outcome.Escalated {
			msg := fmt.Sprintf("Phase %s requires review: %s", req.Phase, req.Message)
			if err := f.accountRepo.MarkRequiresReview(txCtx, req.AccountID, msg, now); err != nil {
				return err
			}
		}
		if row.HasContent() {
			if err := f.assignment.RecordPhaseOutcome(txCtx, row.ID, false); err != nil {
				return err
			}
		}

		result.Status = outcome.Status
		result.Escalated = outcome.Escalated
		return nil
	})
	if err != nil {
		result.Message = err.Error()
		return result, err
	}

	result.Success = true
	if result.Escalated {
		result.Message = "Warmup phase escalated for review"
	} else {
		result.Message = "Warmup phase failed and will be retried"
	}
	return result, nil
}

// ownedRow locks the phase row and checks it is in progress under workerID
func (f *WarmupPipelineFlowImpl) ownedRow(ctx context.Context, accountID uint, phase models.WarmupPhase, workerID string) (*models.AccountWarmupPhase, error) {
	row, err := f.phaseRepo.ByAccountAndPhaseForUpdate(ctx, accountID, phase)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, NewBusinessError("PHASE_NOT_FOUND", "Warmup phase not found", ErrPhaseNotFound)
	}
	if !row.IsOwnedBy(workerID) {
		return nil, NewBusinessError("PHASE_NOT_OWNED", "Warmup phase is not in progress for this worker", ErrPhaseNotOwned)
	}
	return row, nil
}

// NextEligiblePhase returns the available phase with the earliest available_at whose
// dependencies are completed, or nil when nothing is eligible or the worker slot is taken
func (f *WarmupPipelineFlowImpl) NextEligiblePhase(ctx context.Context, accountID uint, workerID string) (*models.AccountWarmupPhase, error) {
	busy, err := f.HasPhaseInProgress(ctx)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, nil
	}

	rows, err := f.phaseRepo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return pickEligiblePhase(rows, utils.UTCNow()), nil
}

// pickEligiblePhase orders by available_at then canonical phase order
func pickEligiblePhase(rows []*models.AccountWarmupPhase, now time.Time) *models.AccountWarmupPhase {
	statuses := make(map[models.WarmupPhase]models.PhaseStatus, len(rows))
	for _, r := range rows {
		statuses[r.Phase] = r.Status
	}

	var eligible []*models.AccountWarmupPhase
	for _, r := range rows {
		if r.Status != models.PhaseStatusAvailable {
			continue
		}
		if r.AvailableAt != nil && r.AvailableAt.After(now) {
			continue
		}
		if !DependenciesMet(r.Phase, statuses) {
			continue
		}
		eligible = append(eligible, r)
	}
	if len(eligible) == 0 {
		return nil
	}

	slices.SortStableFunc(eligible, func(a, b *models.AccountWarmupPhase) int {
		at, bt := availableAt(a), availableAt(b)
		if c := at.Compare(bt); c != 0 {
			return c
		}
		return slices.Index(models.OrderedWarmupPhases, a.Phase) - slices.Index(models.OrderedWarmupPhases, b.Phase)
	})
	return eligible[0]
}

func availableAt(r *models.AccountWarmupPhase) time.Time {
	if r.AvailableAt == nil {
		return time.Time{}
	}
	return *r.AvailableAt
}

// ScriptSequenceFor returns the descriptor and executor scripts of phase
func (f *WarmupPipelineFlowImpl) ScriptSequenceFor(phase models.WarmupPhase, containerHandle string) (PhaseDescriptor, ScriptSequence) {
	return ScriptSequenceFor(phase, containerHandle)
}

// ResetStuckPhases returns phases in progress for longer than olderThan to available
func (f *WarmupPipelineFlowImpl) ResetStuckPhases(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := utils.UTCNow()
	msg := fmt.Sprintf(stuckTimeoutMessage, int(olderThan.Minutes()))
	rows, err := f.phaseRepo.ResetStuck(ctx, now.Add(-olderThan), msg, now)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// ResetOrphanedPhases returns every phase in progress to available; used once at startup
func (f *WarmupPipelineFlowImpl) ResetOrphanedPhases(ctx context.Context) (int64, error) {
	now := utils.UTCNow()
	rows, err := f.phaseRepo.ResetStuck(ctx, now.Add(time.Second), startupCleanupMessage, now)
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// ReleaseFailedPhases returns failed phases whose last failure predates failedBefore to available
func (f *WarmupPipelineFlowImpl) ReleaseFailedPhases(ctx context.Context, failedBefore time.Time) (int64, error) {
	return f.phaseRepo.ReleaseFailed(ctx, failedBefore, utils.UTCNow())
}

// HasPhaseInProgress reports whether the singleton worker slot is taken
func (f *WarmupPipelineFlowImpl) HasPhaseInProgress(ctx context.Context) (bool, error) {
	n, err := f.phaseRepo.CountInProgress(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// WarmupStatus summarizes one account's progress
func (f *WarmupPipelineFlowImpl) WarmupStatus(ctx context.Context, accountID uint) (*dto.WarmupStatus, error) {
	account, err := getAccount(ctx, f.accountRepo, accountID)
	if err != nil {
		return nil, err
	}
	rows, err := f.phaseRepo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	status := &dto.WarmupStatus{
		AccountID:      account.ID,
		Username:       account.Username,
		LifecycleState: account.LifecycleState,
		TotalPhases:    len(models.OrderedWarmupPhases),
		Phases:         make([]dto.PhaseStatusItem, 0, len(rows)),
	}
	for _, r := range rows {
		switch r.Status {
		case models.PhaseStatusCompleted:
			status.CompletedPhases++
		case models.PhaseStatusAvailable:
			status.AvailablePhases++
		case models.PhaseStatusFailed:
			status.FailedPhases++
		case models.PhaseStatusRequiresReview:
			status.ReviewPhases++
		}
		status.Phases = append(status.Phases, dto.PhaseStatusItem{
			Phase:           r.Phase,
			Status:          r.Status,
			AvailableAt:     r.AvailableAt,
			StartedAt:       r.StartedAt,
			CompletedAt:     r.CompletedAt,
			RetryCount:      r.RetryCount,
			MaxRetries:      r.MaxRetries,
			FailureCategory: r.FailureCategory,
			ErrorMessage:    r.ErrorMessage,
			HasContent:      r.HasContent(),
		})
	}
	slices.SortStableFunc(status.Phases, func(a, b dto.PhaseStatusItem) int {
		return slices.Index(models.OrderedWarmupPhases, a.Phase) - slices.Index(models.OrderedWarmupPhases, b.Phase)
	})
	status.ProgressPercent = float64(status.CompletedPhases) * 100 / float64(status.TotalPhases)
	return status, nil
}

// Statistics returns fleet-wide phase counts
func (f *WarmupPipelineFlowImpl) Statistics(ctx context.Context) (*dto.WarmupStatistics, error) {
	rows, err := f.phaseRepo.CountByPhaseAndStatus(ctx)
	if err != nil {
		return nil, err
	}
	accounts, err := f.accountRepo.CountByLifecycleState(ctx)
	if err != nil {
		return nil, err
	}

	stats := &dto.WarmupStatistics{
		ByPhase:         make(map[models.WarmupPhase]map[models.PhaseStatus]int64, len(models.OrderedWarmupPhases)),
		ByStatus:        make(map[models.PhaseStatus]int64),
		AccountsByState: accounts,
		GeneratedAt:     utils.UTCNow(),
	}
	for _, r := range rows {
		if stats.ByPhase[r.Phase] == nil {
			stats.ByPhase[r.Phase] = make(map[models.PhaseStatus]int64)
		}
		stats.ByPhase[r.Phase][r.Status] += r.Count
		stats.ByStatus[r.Status] += r.Count
	}
	return stats, nil
}

// ResolveReview returns a requires_review phase to available with a fresh retry budget
func (f *WarmupPipelineFlowImpl) ResolveReview(ctx context.Context, accountID uint, phase models.WarmupPhase, resolvedBy string) (*dto.PhaseResult, error) {
	if !phase.IsValid() {
		return nil, NewBusinessErrorf("INVALID_PHASE", "Invalid warmup phase: %s", ErrInvalidPhase, phase)
	}
	if resolvedBy == "" {
		resolvedBy = models.TransitionChangedBySystem
	}

	result := &dto.PhaseResult{AccountID: accountID, Phase: phase}
	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		row, err := f.phaseRepo.ByAccountAndPhaseForUpdate(txCtx, accountID, phase)
		if err != nil {
			return err
		}
		if row == nil {
			return NewBusinessError("PHASE_NOT_FOUND", "Warmup phase not found", ErrPhaseNotFound)
		}
		if row.Status != models.PhaseStatusRequiresReview {
			return NewBusinessErrorf("PHASE_NOT_IN_REVIEW", "Warmup phase is %s", ErrPhaseNotInReview, row.Status)
		}

		reopened, err := f.phaseRepo.ReopenForReview(txCtx, row.ID, resolvedBy, utils.UTCNow())
		if err != nil {
			return err
		}
		if !reopened {
			return NewBusinessError("PHASE_NOT_IN_REVIEW", "Warmup phase review was resolved concurrently", ErrPhaseNotInReview)
		}

		counts, err := f.phaseRepo.CountByStatus(txCtx, accountID)
		if err != nil {
			return err
		}
		if counts[models.PhaseStatusRequiresReview] == 0 {
			return f.accountRepo.ClearReviewFlag(txCtx, accountID)
		}
		return nil
	})
	if err != nil {
		result.Message = err.Error()
		return result, err
	}

	result.Success = true
	result.Status = models.PhaseStatusAvailable
	result.Message = "Warmup phase returned to the queue"
	return result, nil
}

func (f *WarmupPipelineFlowImpl) phaseStatuses(ctx context.Context, accountID uint) (map[models.WarmupPhase]models.PhaseStatus, error) {
	rows, err := f.phaseRepo.ListByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, NewBusinessError("PHASES_NOT_INITIALIZED", "Warmup phases not initialized", ErrPhasesNotInitialized)
	}
	statuses := make(map[models.WarmupPhase]models.PhaseStatus, len(rows))
	for _, r := range rows {
		statuses[r.Phase] = r.Status
	}
	return statuses, nil
}

func statusCounts(statuses map[models.WarmupPhase]models.PhaseStatus) map[models.PhaseStatus]int64 {
	counts := make(map[models.PhaseStatus]int64)
	for _, s := range statuses {
		counts[s]++
	}
	return counts
}
