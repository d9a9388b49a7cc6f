package businessflow

import (
	"context"
	"errors"
	"testing"

	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/amirphl/warmup-orchestrator/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubWarmupChecker struct {
	complete bool
	err      error
}

func (s stubWarmupChecker) IsWarmupComplete(context.Context, uint) (bool, error) {
	return s.complete, s.err
}

func configuredAccount() *models.Account {
	return &models.Account{
		ID:              7,
		Username:        "sunny_days",
		Status:          models.AccountStatusActive,
		ModelID:         utils.ToPtr(uint(3)),
		ProxyID:         utils.ToPtr(uint(11)),
		ContainerHandle: utils.ToPtr("42"),
	}
}

func TestIsValidTransition(t *testing.T) {
	f := &AccountLifecycleFlowImpl{}

	tests := []struct {
		name string
		from models.LifecycleState
		to   models.LifecycleState
		want bool
	}{
		{"imported to ready", models.LifecycleStateImported, models.LifecycleStateReady, true},
		{"imported to warmup skips ready", models.LifecycleStateImported, models.LifecycleStateWarmup, false},
		{"ready to warmup", models.LifecycleStateReady, models.LifecycleStateWarmup, true},
		{"ready for bot assignment to warmup", models.LifecycleStateReadyForBotAssignment, models.LifecycleStateWarmup, true},
		{"warmup to active", models.LifecycleStateWarmup, models.LifecycleStateActive, true},
		{"warmup to maintenance", models.LifecycleStateWarmup, models.LifecycleStateMaintenance, true},
		{"active back to warmup", models.LifecycleStateActive, models.LifecycleStateWarmup, false},
		{"paused to active", models.LifecycleStatePaused, models.LifecycleStateActive, true},
		{"cleanup to ready", models.LifecycleStateCleanup, models.LifecycleStateReady, true},
		{"maintenance to active", models.LifecycleStateMaintenance, models.LifecycleStateActive, false},
		{"archived is terminal", models.LifecycleStateArchived, models.LifecycleStateReady, false},
		{"self loop", models.LifecycleStateWarmup, models.LifecycleStateWarmup, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.IsValidTransition(tt.from, tt.to))
		})
	}
}

func TestEveryStateCanBeArchived(t *testing.T) {
	f := &AccountLifecycleFlowImpl{}
	for _, state := range models.AllLifecycleStates {
		if state == models.LifecycleStateArchived {
			assert.Empty(t, f.AvailableTransitions(state))
			continue
		}
		assert.Contains(t, f.AvailableTransitions(state), models.LifecycleStateArchived, "state %s", state)
	}
}

func TestAvailableTransitionsReturnsCopy(t *testing.T) {
	f := &AccountLifecycleFlowImpl{}
	got := f.AvailableTransitions(models.LifecycleStateImported)
	require.NotEmpty(t, got)
	got[0] = models.LifecycleStateActive
	assert.Equal(t, models.LifecycleStateReady, lifecycleTransitions[models.LifecycleStateImported][0])
}

func TestEvaluateLifecycleRules(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		mutate    func(a *models.Account)
		target    models.LifecycleState
		warmup    WarmupCompletionChecker
		wantValid bool
		wantCodes []string
	}{
		{
			name:      "configured account may enter warmup",
			target:    models.LifecycleStateWarmup,
			wantValid: true,
		},
		{
			name:      "warmup requires proxy",
			mutate:    func(a *models.Account) { a.ProxyID = nil },
			target:    models.LifecycleStateWarmup,
			wantCodes: []string{"PROXY_REQUIRED"},
		},
		{
			name:      "warmup requires container",
			mutate:    func(a *models.Account) { a.ContainerHandle = utils.ToPtr("") },
			target:    models.LifecycleStateWarmup,
			wantCodes: []string{"CONTAINER_REQUIRED"},
		},
		{
			name:      "error status blocks warmup",
			mutate:    func(a *models.Account) { a.Status = models.AccountStatusError },
			target:    models.LifecycleStateWarmup,
			wantCodes: []string{"ACTIVE_ERRORS_EXIST"},
		},
		{
			name:      "ready requires model and profile",
			mutate:    func(a *models.Account) { a.ModelID = nil; a.Username = "ab" },
			target:    models.LifecycleStateReady,
			wantCodes: []string{"MODEL_ASSIGNMENT_REQUIRED", "PROFILE_INCOMPLETE"},
		},
		{
			name:      "ready does not require proxy",
			mutate:    func(a *models.Account) { a.ProxyID = nil },
			target:    models.LifecycleStateReady,
			wantValid: true,
		},
		{
			name:      "active requires finished warmup",
			target:    models.LifecycleStateActive,
			warmup:    stubWarmupChecker{complete: false},
			wantCodes: []string{"WARMUP_INCOMPLETE"},
		},
		{
			name:      "active with finished warmup",
			target:    models.LifecycleStateActive,
			warmup:    stubWarmupChecker{complete: true},
			wantValid: true,
		},
		{
			name:      "archived has no rules",
			mutate:    func(a *models.Account) { a.ProxyID = nil; a.ModelID = nil; a.Status = models.AccountStatusBanned },
			target:    models.LifecycleStateArchived,
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			account := configuredAccount()
			if tt.mutate != nil {
				tt.mutate(account)
			}
			res, err := evaluateLifecycleRules(ctx, account, tt.target, tt.warmup)
			require.NoError(t, err)
			assert.Equal(t, tt.wantValid, res.IsValid)

			var codes []string
			for _, e := range res.Errors {
				codes = append(codes, e.Code)
			}
			assert.Equal(t, tt.wantCodes, codes)
			assert.Len(t, res.MissingRequirements, len(tt.wantCodes))
		})
	}
}

func TestEvaluateLifecycleRulesPropagatesCheckerError(t *testing.T) {
	boom := errors.New("db down")
	_, err := evaluateLifecycleRules(context.Background(), configuredAccount(), models.LifecycleStateActive, stubWarmupChecker{err: boom})
	assert.ErrorIs(t, err, boom)
}

func TestValidateForStateRejectsNilAccount(t *testing.T) {
	f := &AccountLifecycleFlowImpl{}
	_, err := f.ValidateForState(context.Background(), nil, models.LifecycleStateReady)
	assert.True(t, IsAccountNotFound(err))
	assert.Equal(t, "ACCOUNT_NOT_FOUND", ErrorCode(err))
}

func TestIsWarmupComplete(t *testing.T) {
	total := int64(len(models.OrderedWarmupPhases))

	tests := []struct {
		name   string
		counts map[models.PhaseStatus]int64
		want   bool
	}{
		{"no rows", map[models.PhaseStatus]int64{}, false},
		{"all completed", map[models.PhaseStatus]int64{models.PhaseStatusCompleted: total}, true},
		{"completed and skipped", map[models.PhaseStatus]int64{models.PhaseStatusCompleted: total - 2, models.PhaseStatusSkipped: 2}, true},
		{"one pending", map[models.PhaseStatus]int64{models.PhaseStatusCompleted: total - 1, models.PhaseStatusPending: 1}, false},
		{"one in review", map[models.PhaseStatus]int64{models.PhaseStatusCompleted: total - 1, models.PhaseStatusRequiresReview: 1}, false},
		{"everything skipped", map[models.PhaseStatus]int64{models.PhaseStatusSkipped: total}, false},
		{"missing rows", map[models.PhaseStatus]int64{models.PhaseStatusCompleted: total - 1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isWarmupComplete(tt.counts))
		})
	}
}
