package businessflow

import (
	"testing"

	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/stretchr/testify/assert"
)

func TestNextFailureStatus(t *testing.T) {
	tests := []struct {
		name string
		in   FailureInput
		want FailureOutcome
	}{
		{
			name: "first bot error is retried",
			in:   FailureInput{RetryCount: 0, MaxRetries: 3, Category: models.FailureCategoryBotError},
			want: FailureOutcome{Status: models.PhaseStatusFailed, RetryCount: 1},
		},
		{
			name: "second failure still retried",
			in:   FailureInput{RetryCount: 1, MaxRetries: 3, Category: models.FailureCategoryNetworkError},
			want: FailureOutcome{Status: models.PhaseStatusFailed, RetryCount: 2},
		},
		{
			name: "budget exhausted escalates",
			in:   FailureInput{RetryCount: 2, MaxRetries: 3, Category: models.FailureCategoryTimeout},
			want: FailureOutcome{Status: models.PhaseStatusRequiresReview, RetryCount: 3, Escalated: true},
		},
		{
			name: "challenge escalates immediately",
			in:   FailureInput{RetryCount: 0, MaxRetries: 3, Category: models.FailureCategoryInstagramChallenge},
			want: FailureOutcome{Status: models.PhaseStatusRequiresReview, RetryCount: 1, Escalated: true},
		},
		{
			name: "suspension escalates immediately",
			in:   FailureInput{RetryCount: 0, MaxRetries: 3, Category: models.FailureCategoryAccountSuspended},
			want: FailureOutcome{Status: models.PhaseStatusRequiresReview, RetryCount: 1, Escalated: true},
		},
		{
			name: "captcha escalates immediately",
			in:   FailureInput{RetryCount: 0, MaxRetries: 5, Category: models.FailureCategoryCaptcha},
			want: FailureOutcome{Status: models.PhaseStatusRequiresReview, RetryCount: 1, Escalated: true},
		},
		{
			name: "forced escalation",
			in:   FailureInput{RetryCount: 0, MaxRetries: 3, ForceEscalate: true, Category: models.FailureCategoryOther},
			want: FailureOutcome{Status: models.PhaseStatusRequiresReview, RetryCount: 1, Escalated: true},
		},
		{
			name: "zero budget uses default",
			in:   FailureInput{RetryCount: 1, MaxRetries: 0, Category: models.FailureCategoryBotError},
			want: FailureOutcome{Status: models.PhaseStatusFailed, RetryCount: 2},
		},
		{
			name: "budget of one escalates on first failure",
			in:   FailureInput{RetryCount: 0, MaxRetries: 1, Category: models.FailureCategoryRateLimit},
			want: FailureOutcome{Status: models.PhaseStatusRequiresReview, RetryCount: 1, Escalated: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextFailureStatus(tt.in))
		})
	}
}

func TestIsEscalatingCategory(t *testing.T) {
	assert.True(t, IsEscalatingCategory(models.FailureCategoryInstagramChallenge))
	assert.True(t, IsEscalatingCategory(models.FailureCategoryAccountSuspended))
	assert.True(t, IsEscalatingCategory(models.FailureCategoryCaptcha))
	assert.False(t, IsEscalatingCategory(models.FailureCategoryBotError))
	assert.False(t, IsEscalatingCategory(models.FailureCategoryContentRejection))
	assert.False(t, IsEscalatingCategory(models.FailureCategory("unknown")))
}
