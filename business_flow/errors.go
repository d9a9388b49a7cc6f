package businessflow

import (
	"errors"
	"fmt"
)

// Business flow error constants
var (
	// Account-related errors
	ErrAccountNotFound            = errors.New("account not found")
	ErrInvalidLifecycleState      = errors.New("invalid lifecycle state")
	ErrInvalidTransition          = errors.New("invalid lifecycle transition")
	ErrTransitionValidationFailed = errors.New("account does not meet target state requirements")
	ErrTransitionConflict         = errors.New("account state changed concurrently")
	ErrAccountIDsRequired         = errors.New("at least one account ID is required")

	// Phase-related errors
	ErrInvalidPhase           = errors.New("invalid warmup phase")
	ErrPhaseNotFound          = errors.New("warmup phase not found")
	ErrPhasesNotInitialized   = errors.New("warmup phases not initialized")
	ErrSingletonWorkerBusy    = errors.New("another phase is already in progress")
	ErrPhaseNotAvailable      = errors.New("warmup phase is not available")
	ErrPhaseCooldownActive    = errors.New("warmup phase cooldown has not elapsed")
	ErrPhaseNotOwned          = errors.New("warmup phase is not in progress for this worker")
	ErrDependenciesNotMet     = errors.New("warmup phase dependencies are not completed")
	ErrPhaseNotInReview       = errors.New("warmup phase does not require review")
	ErrWorkerIDRequired       = errors.New("worker ID is required")
	ErrInvalidFailureCategory = errors.New("invalid failure category")

	// Resource-related errors
	ErrNoProxyAvailable      = errors.New("no proxy with free capacity")
	ErrProxyCapacityExceeded = errors.New("proxy capacity exceeded")
	ErrAssignmentNotFound    = errors.New("content assignment not found")
	ErrAssetNotFound         = errors.New("asset not found")
	ErrCategoryRequired      = errors.New("asset category is required")
	ErrContentUnavailable    = errors.New("no eligible content for phase")

	// Execution errors
	ErrExecutorFailed = errors.New("automation executor failed")
)

type BusinessError struct {
	Code    string
	Message string
	Err     error
}

func (e *BusinessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Err
}

func NewBusinessError(code, message string, err error) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

func NewBusinessErrorf(code, message string, err error, args ...any) *BusinessError {
	return &BusinessError{
		Code:    code,
		Message: fmt.Sprintf(message, args...),
		Err:     err,
	}
}

func IsAccountNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}

func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

func IsTransitionValidationFailed(err error) bool {
	return errors.Is(err, ErrTransitionValidationFailed)
}

func IsPhaseNotFound(err error) bool {
	return errors.Is(err, ErrPhaseNotFound)
}

func IsSingletonWorkerBusy(err error) bool {
	return errors.Is(err, ErrSingletonWorkerBusy)
}

func IsPhaseNotAvailable(err error) bool {
	return errors.Is(err, ErrPhaseNotAvailable)
}

func IsPhaseNotOwned(err error) bool {
	return errors.Is(err, ErrPhaseNotOwned)
}

func IsDependenciesNotMet(err error) bool {
	return errors.Is(err, ErrDependenciesNotMet)
}

func IsPhaseNotInReview(err error) bool {
	return errors.Is(err, ErrPhaseNotInReview)
}

func IsNoProxyAvailable(err error) bool {
	return errors.Is(err, ErrNoProxyAvailable)
}

func IsContentUnavailable(err error) bool {
	return errors.Is(err, ErrContentUnavailable)
}

func IsAssignmentNotFound(err error) bool {
	return errors.Is(err, ErrAssignmentNotFound)
}

func IsExecutorFailed(err error) bool {
	return errors.Is(err, ErrExecutorFailed)
}

// ErrorCode returns the BusinessError code carried by err, or an empty string
func ErrorCode(err error) string {
	var be *BusinessError
	if errors.As(err, &be) {
		return be.Code
	}
	return ""
}
