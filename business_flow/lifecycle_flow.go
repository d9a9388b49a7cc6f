package businessflow

import (
	"context"
	"fmt"
	"slices"

	"github.com/amirphl/warmup-orchestrator/app/dto"
	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/amirphl/warmup-orchestrator/repository"
	"github.com/amirphl/warmup-orchestrator/utils"
	"gorm.io/gorm"
)

// AccountLifecycleFlow drives accounts through the lifecycle state machine
type AccountLifecycleFlow interface {
	IsValidTransition(from, to models.LifecycleState) bool
	AvailableTransitions(state models.LifecycleState) []models.LifecycleState
	ValidateForState(ctx context.Context, account *models.Account, target models.LifecycleState) (*dto.StateValidationResult, error)
	Transition(ctx context.Context, accountID uint, to models.LifecycleState, opts dto.TransitionOptions) (*dto.TransitionResult, error)
	BulkTransition(ctx context.Context, accountIDs []uint, to models.LifecycleState, opts dto.TransitionOptions) (*dto.BulkTransitionResult, error)
	Invalidate(ctx context.Context, accountID uint, changedBy string) (*dto.TransitionResult, error)
	StateHistory(ctx context.Context, accountID uint, limit int) ([]dto.StateTransitionItem, error)
	LifecycleSummary(ctx context.Context) (*dto.LifecycleSummary, error)
	AccountsByState(ctx context.Context, state models.LifecycleState, limit, offset int) ([]*models.Account, error)
	PromoteToActive(ctx context.Context, accountID uint) (bool, error)
}

// AccountLifecycleFlowImpl implements AccountLifecycleFlow
type AccountLifecycleFlowImpl struct {
	accountRepo    repository.AccountRepository
	transitionRepo repository.AccountStateTransitionRepository
	phaseRepo      repository.AccountWarmupPhaseRepository
	proxyRepo      repository.ProxyRepository
	warmup         WarmupCompletionChecker
	db             *gorm.DB
}

// NewAccountLifecycleFlow creates a new lifecycle flow
func NewAccountLifecycleFlow(
	accountRepo repository.AccountRepository,
	transitionRepo repository.AccountStateTransitionRepository,
	phaseRepo repository.AccountWarmupPhaseRepository,
	proxyRepo repository.ProxyRepository,
	db *gorm.DB,
) AccountLifecycleFlow {
	return &AccountLifecycleFlowImpl{
		accountRepo:    accountRepo,
		transitionRepo: transitionRepo,
		phaseRepo:      phaseRepo,
		proxyRepo:      proxyRepo,
		warmup:         NewWarmupCompletionChecker(phaseRepo),
		db:             db,
	}
}

// IsValidTransition reports whether the adjacency table has an edge from -> to
func (f *AccountLifecycleFlowImpl) IsValidTransition(from, to models.LifecycleState) bool {
	return slices.Contains(lifecycleTransitions[from], to)
}

// AvailableTransitions returns the states reachable from state in one step
func (f *AccountLifecycleFlowImpl) AvailableTransitions(state models.LifecycleState) []models.LifecycleState {
	return slices.Clone(lifecycleTransitions[state])
}

// ValidateForState evaluates every rule declared for target against account
func (f *AccountLifecycleFlowImpl) ValidateForState(ctx context.Context, account *models.Account, target models.LifecycleState) (*dto.StateValidationResult, error) {
	if account == nil {
		return nil, NewBusinessError("ACCOUNT_NOT_FOUND", "Account not found", ErrAccountNotFound)
	}
	return evaluateLifecycleRules(ctx, account, target, f.warmup)
}

// Transition moves one account to state to. The account row is locked for the
// duration of the check and the audit row is written in the same transaction.
func (f *AccountLifecycleFlowImpl) Transition(ctx context.Context, accountID uint, to models.LifecycleState, opts dto.TransitionOptions) (*dto.TransitionResult, error) {
	if !to.IsValid() {
		return nil, NewBusinessErrorf("INVALID_LIFECYCLE_STATE", "Invalid lifecycle state: %s", ErrInvalidLifecycleState, to)
	}
	if opts.ChangedBy == "" {
		opts.ChangedBy = models.TransitionChangedBySystem
	}

	result := &dto.TransitionResult{AccountID: accountID, ToState: to}
	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		account, err := f.accountRepo.ByIDForUpdate(txCtx, accountID)
		if err != nil {
			return err
		}
		if account == nil {
			return NewBusinessError("ACCOUNT_NOT_FOUND", "Account not found", ErrAccountNotFound)
		}
		result.FromState = account.LifecycleState

		if !opts.Force {
			if !f.IsValidTransition(account.LifecycleState, to) {
				return NewBusinessErrorf("INVALID_TRANSITION", "Cannot transition from %s to %s", ErrInvalidTransition, account.LifecycleState, to)
			}
			validation, err := evaluateLifecycleRules(txCtx, account, to, f.warmup)
			if err != nil {
				return err
			}
			if !validation.IsValid {
				result.ValidationErrors = validation.Errors
				return NewBusinessError("TRANSITION_VALIDATION_FAILED", "Account does not meet the requirements of the target state", ErrTransitionValidationFailed)
			}
		}

		return f.applyTransition(txCtx, account, to, opts)
	})
	if err != nil {
		result.Success = false
		result.Message = err.Error()
		return result, err
	}

	result.Success = true
	result.Message = fmt.Sprintf("Account transitioned from %s to %s", result.FromState, to)
	return result, nil
}

// applyTransition writes the new state and its audit row; it must run inside a transaction
func (f *AccountLifecycleFlowImpl) applyTransition(ctx context.Context, account *models.Account, to models.LifecycleState, opts dto.TransitionOptions) error {
	now := utils.UTCNow()
	updated, err := f.accountRepo.UpdateLifecycleState(ctx, account.ID, repository.LifecycleUpdate{
		From:      account.LifecycleState,
		To:        to,
		ChangedBy: opts.ChangedBy,
		Notes:     opts.Notes,
		At:        now,
	})
	if err != nil {
		return err
	}
	if !updated {
		return NewBusinessError("TRANSITION_CONFLICT", "Account state changed concurrently", ErrTransitionConflict)
	}

	entry := &models.AccountStateTransition{
		AccountID: account.ID,
		FromState: account.LifecycleState,
		ToState:   to,
		Reason:    opts.Reason,
		ChangedBy: opts.ChangedBy,
		Notes:     opts.Notes,
		IsForced:  opts.Force,
		CreatedAt: now,
	}
	if err := f.transitionRepo.Save(ctx, entry); err != nil {
		return fmt.Errorf("failed to record state transition: %w", err)
	}

	account.LifecycleState = to
	return nil
}

// BulkTransition applies Transition to each account independently
func (f *AccountLifecycleFlowImpl) BulkTransition(ctx context.Context, accountIDs []uint, to models.LifecycleState, opts dto.TransitionOptions) (*dto.BulkTransitionResult, error) {
	if len(accountIDs) == 0 {
		return nil, NewBusinessError("ACCOUNT_IDS_REQUIRED", "At least one account ID is required", ErrAccountIDsRequired)
	}
	if !to.IsValid() {
		return nil, NewBusinessErrorf("INVALID_LIFECYCLE_STATE", "Invalid lifecycle state: %s", ErrInvalidLifecycleState, to)
	}
	if opts.Reason == nil {
		opts.Reason = utils.ToPtr(models.TransitionReasonBulk)
	}

	out := &dto.BulkTransitionResult{
		Successful: []uint{},
		Failed:     []dto.BulkTransitionFailure{},
	}
	for _, id := range accountIDs {
		out.TotalProcessed++
		res, err := f.Transition(ctx, id, to, opts)
		if err != nil {
			failure := dto.BulkTransitionFailure{AccountID: id, Error: err.Error()}
			if res != nil {
				failure.ValidationErrors = res.ValidationErrors
			}
			out.Failed = append(out.Failed, failure)
			out.FailureCount++
			continue
		}
		out.Successful = append(out.Successful, id)
		out.SuccessCount++
	}
	return out, nil
}

// Invalidate archives the account regardless of its state, releases its proxy and
// container and skips every phase that has not finished
func (f *AccountLifecycleFlowImpl) Invalidate(ctx context.Context, accountID uint, changedBy string) (*dto.TransitionResult, error) {
	if changedBy == "" {
		changedBy = models.TransitionChangedBySystem
	}

	result := &dto.TransitionResult{AccountID: accountID, ToState: models.LifecycleStateArchived}
	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		account, err := f.accountRepo.ByIDForUpdate(txCtx, accountID)
		if err != nil {
			return err
		}
		if account == nil {
			return NewBusinessError("ACCOUNT_NOT_FOUND", "Account not found", ErrAccountNotFound)
		}
		result.FromState = account.LifecycleState

		if account.ProxyID != nil {
			if err := f.proxyRepo.DecrementAccountCount(txCtx, *account.ProxyID); err != nil {
				return err
			}
		}
		if err := f.accountRepo.ReleaseResources(txCtx, account.ID); err != nil {
			return err
		}
		if _, err := f.phaseRepo.SkipOpen(txCtx, account.ID, "Account invalidated", utils.UTCNow()); err != nil {
			return err
		}

		return f.applyTransition(txCtx, account, models.LifecycleStateArchived, dto.TransitionOptions{
			Force:     true,
			Reason:    utils.ToPtr(models.TransitionReasonInvalidation),
			ChangedBy: changedBy,
			Notes:     utils.ToPtr(models.TransitionInvalidationNotesValue),
		})
	})
	if err != nil {
		result.Message = err.Error()
		return result, err
	}

	result.Success = true
	result.Message = "Account invalidated and resources released"
	return result, nil
}

// StateHistory returns the most recent lifecycle transitions of an account
func (f *AccountLifecycleFlowImpl) StateHistory(ctx context.Context, accountID uint, limit int) ([]dto.StateTransitionItem, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := f.transitionRepo.ListByAccount(ctx, accountID, limit)
	if err != nil {
		return nil, err
	}

	items := make([]dto.StateTransitionItem, 0, len(rows))
	for _, r := range rows {
		items = append(items, dto.StateTransitionItem{
			ID:        r.ID,
			FromState: r.FromState,
			ToState:   r.ToState,
			Reason:    r.Reason,
			ChangedBy: r.ChangedBy,
			Notes:     r.Notes,
			IsForced:  r.IsForced,
			CreatedAt: r.CreatedAt,
		})
	}
	return items, nil
}

// LifecycleSummary counts accounts per lifecycle state
func (f *AccountLifecycleFlowImpl) LifecycleSummary(ctx context.Context) (*dto.LifecycleSummary, error) {
	counts, err := f.accountRepo.CountByLifecycleState(ctx)
	if err != nil {
		return nil, err
	}
	summary := &dto.LifecycleSummary{Counts: counts}
	for _, n := range counts {
		summary.Total += n
	}
	return summary, nil
}

// AccountsByState lists accounts currently in state
func (f *AccountLifecycleFlowImpl) AccountsByState(ctx context.Context, state models.LifecycleState, limit, offset int) ([]*models.Account, error) {
	if !state.IsValid() {
		return nil, NewBusinessErrorf("INVALID_LIFECYCLE_STATE", "Invalid lifecycle state: %s", ErrInvalidLifecycleState, state)
	}
	return f.accountRepo.ByFilter(ctx, models.AccountFilter{LifecycleState: &state}, "state_changed_at DESC NULLS LAST, id DESC", limit, offset)
}

// PromoteToActive moves a warmup account to active without re-running validation.
// It joins the caller's transaction so the promotion commits with the last phase.
func (f *AccountLifecycleFlowImpl) PromoteToActive(ctx context.Context, accountID uint) (bool, error) {
	promoted := false
	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		account, err := f.accountRepo.ByIDForUpdate(txCtx, accountID)
		if err != nil {
			return err
		}
		if account == nil {
			return NewBusinessError("ACCOUNT_NOT_FOUND", "Account not found", ErrAccountNotFound)
		}
		if account.LifecycleState != models.LifecycleStateWarmup {
			return nil
		}

		err = f.applyTransition(txCtx, account, models.LifecycleStateActive, dto.TransitionOptions{
			Force:     true,
			Reason:    utils.ToPtr(models.TransitionReasonWarmupComplete),
			ChangedBy: models.TransitionChangedBySystem,
			Notes:     utils.ToPtr("All warmup phases finished"),
		})
		if err != nil {
			return err
		}
		promoted = true
		return nil
	})
	return promoted, err
}
