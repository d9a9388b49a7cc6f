package dto

import (
	"encoding/json"
	"time"

	"github.com/amirphl/warmup-orchestrator/models"
)

// PhaseResult is the outcome of a pipeline mutation
// Success=false with a nil error means the caller lost a race or the row was not eligible
type PhaseResult struct {
	Success   bool                       `json:"success"`
	Message   string                     `json:"message"`
	AccountID uint                       `json:"account_id"`
	Phase     models.WarmupPhase         `json:"phase"`
	Status    models.PhaseStatus         `json:"status,omitempty"`
	Escalated bool                       `json:"escalated,omitempty"`
	Promoted  bool                       `json:"promoted,omitempty"`
	Record    *models.AccountWarmupPhase `json:"record,omitempty"`
}

// PhaseInitResult reports how many phase rows InitializePhases created
type PhaseInitResult struct {
	AccountID uint  `json:"account_id"`
	Created   int64 `json:"created"`
	Total     int   `json:"total"`
}

// CompletePhaseRequest carries a successful execution back into the pipeline
type CompletePhaseRequest struct {
	AccountID       uint               `json:"account_id" validate:"required"`
	Phase           models.WarmupPhase `json:"phase" validate:"required"`
	WorkerID        string             `json:"worker_id" validate:"required,max=255"`
	DurationMs      int64              `json:"duration_ms" validate:"gte=0"`
	ResponsePayload json.RawMessage    `json:"response_payload,omitempty"`
	// NextAvailableAt is the cooldown for the account's remaining available phases; nil means now
	NextAvailableAt *time.Time `json:"next_available_at,omitempty"`
}

// FailPhaseRequest carries a failed execution back into the pipeline
type FailPhaseRequest struct {
	AccountID       uint                   `json:"account_id" validate:"required"`
	Phase           models.WarmupPhase     `json:"phase" validate:"required"`
	WorkerID        string                 `json:"worker_id" validate:"required,max=255"`
	Message         string                 `json:"message" validate:"max=2000"`
	Details         json.RawMessage        `json:"details,omitempty"`
	FailureCategory models.FailureCategory `json:"failure_category" validate:"required"`
	ForceEscalate   bool                   `json:"force_escalate"`
}

// PhaseStatusItem is one row of an account's warmup status
type PhaseStatusItem struct {
	Phase           models.WarmupPhase      `json:"phase"`
	Status          models.PhaseStatus      `json:"status"`
	AvailableAt     *time.Time              `json:"available_at,omitempty"`
	StartedAt       *time.Time              `json:"started_at,omitempty"`
	CompletedAt     *time.Time              `json:"completed_at,omitempty"`
	RetryCount      int                     `json:"retry_count"`
	MaxRetries      int                     `json:"max_retries"`
	FailureCategory *models.FailureCategory `json:"failure_category,omitempty"`
	ErrorMessage    *string                 `json:"error_message,omitempty"`
	HasContent      bool                    `json:"has_content"`
}

// WarmupStatus summarizes an account's progress through the pipeline
type WarmupStatus struct {
	AccountID       uint                  `json:"account_id"`
	Username        string                `json:"username"`
	LifecycleState  models.LifecycleState `json:"lifecycle_state"`
	TotalPhases     int                   `json:"total_phases"`
	CompletedPhases int64                 `json:"completed_phases"`
	AvailablePhases int64                 `json:"available_phases"`
	FailedPhases    int64                 `json:"failed_phases"`
	ReviewPhases    int64                 `json:"review_phases"`
	ProgressPercent float64               `json:"progress_percent"`
	Phases          []PhaseStatusItem     `json:"phases"`
}

// WarmupStatistics is the fleet-wide phase count matrix
type WarmupStatistics struct {
	ByPhase         map[models.WarmupPhase]map[models.PhaseStatus]int64 `json:"by_phase"`
	ByStatus        map[models.PhaseStatus]int64                        `json:"by_status"`
	AccountsByState map[models.LifecycleState]int64                     `json:"accounts_by_state"`
	GeneratedAt     time.Time                                           `json:"generated_at"`
}
