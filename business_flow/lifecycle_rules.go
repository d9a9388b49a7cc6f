package businessflow

import (
	"context"
	"slices"
	"strings"

	"github.com/amirphl/warmup-orchestrator/app/dto"
	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/amirphl/warmup-orchestrator/repository"
)

// lifecycleTransitions is the static adjacency table of the account life cycle
var lifecycleTransitions = map[models.LifecycleState][]models.LifecycleState{
	models.LifecycleStateImported: {
		models.LifecycleStateReady,
		models.LifecycleStateArchived,
	},
	models.LifecycleStateReady: {
		models.LifecycleStateReadyForBotAssignment,
		models.LifecycleStateWarmup,
		models.LifecycleStateArchived,
	},
	models.LifecycleStateReadyForBotAssignment: {
		models.LifecycleStateWarmup,
		models.LifecycleStateArchived,
	},
	models.LifecycleStateWarmup: {
		models.LifecycleStateActive,
		models.LifecycleStateMaintenance,
		models.LifecycleStatePaused,
		models.LifecycleStateArchived,
	},
	models.LifecycleStateActive: {
		models.LifecycleStatePaused,
		models.LifecycleStateCleanup,
		models.LifecycleStateArchived,
	},
	models.LifecycleStatePaused: {
		models.LifecycleStateActive,
		models.LifecycleStateCleanup,
		models.LifecycleStateArchived,
	},
	models.LifecycleStateCleanup: {
		models.LifecycleStateReady,
		models.LifecycleStateArchived,
	},
	models.LifecycleStateMaintenance: {
		models.LifecycleStatePaused,
		models.LifecycleStateCleanup,
		models.LifecycleStateArchived,
	},
	models.LifecycleStateArchived: {},
}

// minUsernameLength is the shortest username accepted as a configured profile
const minUsernameLength = 3

// WarmupCompletionChecker reports whether an account finished its warmup pipeline
type WarmupCompletionChecker interface {
	IsWarmupComplete(ctx context.Context, accountID uint) (bool, error)
}

// lifecycleRule is one declarative requirement of a target lifecycle state
type lifecycleRule struct {
	Name        string
	Code        string
	Field       string
	Message     string
	Requirement string
	Targets     []models.LifecycleState
	Check       func(ctx context.Context, account *models.Account, warmup WarmupCompletionChecker) (bool, error)
}

var lifecycleRules = []lifecycleRule{
	{
		Name:        "requires_proxy",
		Code:        "PROXY_REQUIRED",
		Field:       "proxy_id",
		Message:     "Account must have a proxy assigned",
		Requirement: "Proxy configuration",
		Targets: []models.LifecycleState{
			models.LifecycleStateReadyForBotAssignment,
			models.LifecycleStateWarmup,
			models.LifecycleStateActive,
		},
		Check: func(_ context.Context, a *models.Account, _ WarmupCompletionChecker) (bool, error) {
			return a.HasProxy(), nil
		},
	},
	{
		Name:        "requires_model_assignment",
		Code:        "MODEL_ASSIGNMENT_REQUIRED",
		Field:       "model_id",
		Message:     "Account must be assigned to a model",
		Requirement: "Model assignment",
		Targets: []models.LifecycleState{
			models.LifecycleStateReady,
			models.LifecycleStateReadyForBotAssignment,
			models.LifecycleStateWarmup,
			models.LifecycleStateActive,
		},
		Check: func(_ context.Context, a *models.Account, _ WarmupCompletionChecker) (bool, error) {
			return a.ModelID != nil, nil
		},
	},
	{
		Name:        "requires_profile_configuration",
		Code:        "PROFILE_INCOMPLETE",
		Field:       "username",
		Message:     "Account profile must be configured",
		Requirement: "Profile configuration",
		Targets: []models.LifecycleState{
			models.LifecycleStateReady,
			models.LifecycleStateReadyForBotAssignment,
		},
		Check: func(_ context.Context, a *models.Account, _ WarmupCompletionChecker) (bool, error) {
			return len(strings.TrimSpace(a.Username)) >= minUsernameLength, nil
		},
	},
	{
		Name:        "requires_warmup_completion",
		Code:        "WARMUP_INCOMPLETE",
		Field:       "warmup",
		Message:     "Account must complete every warmup phase",
		Requirement: "Warmup completion",
		Targets:     []models.LifecycleState{models.LifecycleStateActive},
		Check: func(ctx context.Context, a *models.Account, warmup WarmupCompletionChecker) (bool, error) {
			if warmup == nil {
				return false, nil
			}
			return warmup.IsWarmupComplete(ctx, a.ID)
		},
	},
	{
		Name:        "requires_no_active_errors",
		Code:        "ACTIVE_ERRORS_EXIST",
		Field:       "status",
		Message:     "Account must not be in an error or suspended status",
		Requirement: "Resolve active errors",
		Targets: []models.LifecycleState{
			models.LifecycleStateWarmup,
			models.LifecycleStateActive,
		},
		Check: func(_ context.Context, a *models.Account, _ WarmupCompletionChecker) (bool, error) {
			return a.Status != models.AccountStatusError && a.Status != models.AccountStatusSuspended, nil
		},
	},
	{
		Name:        "requires_container",
		Code:        "CONTAINER_REQUIRED",
		Field:       "container_handle",
		Message:     "Account must be bound to a container",
		Requirement: "Container assignment",
		Targets:     []models.LifecycleState{models.LifecycleStateWarmup},
		Check: func(_ context.Context, a *models.Account, _ WarmupCompletionChecker) (bool, error) {
			return a.HasContainer(), nil
		},
	},
}

// evaluateLifecycleRules runs every rule targeting state against account
func evaluateLifecycleRules(ctx context.Context, account *models.Account, target models.LifecycleState, warmup WarmupCompletionChecker) (*dto.StateValidationResult, error) {
	result := &dto.StateValidationResult{
		IsValid:             true,
		Errors:              []dto.ValidationError{},
		MissingRequirements: []string{},
	}
	for _, rule := range lifecycleRules {
		if !slices.Contains(rule.Targets, target) {
			continue
		}
		ok, err := rule.Check(ctx, account, warmup)
		if err != nil {
			return nil, err
		}
		if ok {
			continue
		}
		result.IsValid = false
		result.Errors = append(result.Errors, dto.ValidationError{
			Field:   rule.Field,
			Message: rule.Message,
			Code:    rule.Code,
		})
		result.MissingRequirements = append(result.MissingRequirements, rule.Requirement)
	}
	return result, nil
}

// phaseCompletionChecker treats an account as warmed up when every phase is completed or skipped
type phaseCompletionChecker struct {
	phaseRepo repository.AccountWarmupPhaseRepository
}

// NewWarmupCompletionChecker creates a checker backed by the phase records
func NewWarmupCompletionChecker(phaseRepo repository.AccountWarmupPhaseRepository) WarmupCompletionChecker {
	return &phaseCompletionChecker{phaseRepo: phaseRepo}
}

func (c *phaseCompletionChecker) IsWarmupComplete(ctx context.Context, accountID uint) (bool, error) {
	counts, err := c.phaseRepo.CountByStatus(ctx, accountID)
	if err != nil {
		return false, err
	}
	return isWarmupComplete(counts), nil
}

func isWarmupComplete(counts map[models.PhaseStatus]int64) bool {
	var total int64
	for _, n := range counts {
		total += n
	}
	done := counts[models.PhaseStatusCompleted] + counts[models.PhaseStatusSkipped]
	return total >= int64(len(models.OrderedWarmupPhases)) && done == total && counts[models.PhaseStatusCompleted] > 0
}
