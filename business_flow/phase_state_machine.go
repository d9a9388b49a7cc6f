package businessflow

import "github.com/amirphl/warmup-orchestrator/models"

// escalatingCategories are never retried automatically
var escalatingCategories = map[models.FailureCategory]struct{}{
	models.FailureCategoryInstagramChallenge: {},
	models.FailureCategoryAccountSuspended:   {},
	models.FailureCategoryCaptcha:            {},
}

// FailureInput is the state a failed execution is applied to
type FailureInput struct {
	Status        models.PhaseStatus
	RetryCount    int
	MaxRetries    int
	ForceEscalate bool
	Category      models.FailureCategory
}

// FailureOutcome is the state a phase row moves to after a failed execution
type FailureOutcome struct {
	Status     models.PhaseStatus
	RetryCount int
	Escalated  bool
}

// IsEscalatingCategory reports whether a failure of category c goes straight to review
func IsEscalatingCategory(c models.FailureCategory) bool {
	_, ok := escalatingCategories[c]
	return ok
}

// NextFailureStatus returns the status and retry count after one more failure.
// The row escalates to requires_review when forced, when the category is never retried,
// or when the incremented retry count reaches the retry budget; otherwise it becomes failed.
func NextFailureStatus(in FailureInput) FailureOutcome {
	maxRetries := in.MaxRetries
	if maxRetries <= 0 {
		maxRetries = models.DefaultPhaseMaxRetries
	}

	next := in.RetryCount + 1
	if in.ForceEscalate || IsEscalatingCategory(in.Category) || next >= maxRetries {
		return FailureOutcome{Status: models.PhaseStatusRequiresReview, RetryCount: next, Escalated: true}
	}
	return FailureOutcome{Status: models.PhaseStatusFailed, RetryCount: next}
}
