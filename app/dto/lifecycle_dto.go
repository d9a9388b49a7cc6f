// Package dto contains Data Transfer Objects for API request and response structures
package dto

import (
	"time"

	"github.com/amirphl/warmup-orchestrator/models"
)

// TransitionOptions controls a lifecycle transition
// Force skips both the adjacency check and the validation rules
type TransitionOptions struct {
	Force     bool    `json:"force"`
	Reason    *string `json:"reason,omitempty" validate:"omitempty,max=255"`
	ChangedBy string  `json:"changed_by,omitempty" validate:"omitempty,max=255"`
	Notes     *string `json:"notes,omitempty" validate:"omitempty,max=1000"`
}

// ValidationError is one failed lifecycle rule
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// StateValidationResult reports whether an account satisfies a target state's requirements
type StateValidationResult struct {
	IsValid             bool              `json:"is_valid"`
	Errors              []ValidationError `json:"errors"`
	MissingRequirements []string          `json:"missing_requirements"`
}

// TransitionResult is the outcome of a single lifecycle transition
type TransitionResult struct {
	Success          bool                  `json:"success"`
	Message          string                `json:"message"`
	AccountID        uint                  `json:"account_id"`
	FromState        models.LifecycleState `json:"from_state,omitempty"`
	ToState          models.LifecycleState `json:"to_state"`
	ValidationErrors []ValidationError     `json:"validation_errors,omitempty"`
}

// BulkTransitionFailure describes one account that could not be transitioned
type BulkTransitionFailure struct {
	AccountID        uint              `json:"account_id"`
	Error            string            `json:"error"`
	ValidationErrors []ValidationError `json:"validation_errors,omitempty"`
}

// BulkTransitionResult aggregates independent per-account transitions
type BulkTransitionResult struct {
	Successful     []uint                  `json:"successful"`
	Failed         []BulkTransitionFailure `json:"failed"`
	TotalProcessed int                     `json:"total_processed"`
	SuccessCount   int                     `json:"success_count"`
	FailureCount   int                     `json:"failure_count"`
}

// StateTransitionItem is one entry of an account's lifecycle history
type StateTransitionItem struct {
	ID        uint                  `json:"id"`
	FromState models.LifecycleState `json:"from_state"`
	ToState   models.LifecycleState `json:"to_state"`
	Reason    *string               `json:"reason,omitempty"`
	ChangedBy string                `json:"changed_by"`
	Notes     *string               `json:"notes,omitempty"`
	IsForced  bool                  `json:"is_forced"`
	CreatedAt time.Time             `json:"created_at"`
}

// LifecycleSummary counts accounts per lifecycle state
type LifecycleSummary struct {
	Counts map[models.LifecycleState]int64 `json:"counts"`
	Total  int64                           `json:"total"`
}
