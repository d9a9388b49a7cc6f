package models

import (
	"encoding/json"
	"time"
)

// WarmupPhase names one profile-building step in the warmup sequence
type WarmupPhase string

const (
	WarmupPhaseManualSetup    WarmupPhase = "manual_setup"
	WarmupPhaseBio            WarmupPhase = "bio"
	WarmupPhaseGender         WarmupPhase = "gender"
	WarmupPhaseName           WarmupPhase = "name"
	WarmupPhaseUsername       WarmupPhase = "username"
	WarmupPhaseFirstHighlight WarmupPhase = "first_highlight"
	WarmupPhaseNewHighlight   WarmupPhase = "new_highlight"
	WarmupPhasePostCaption    WarmupPhase = "post_caption"
	WarmupPhasePostNoCaption  WarmupPhase = "post_no_caption"
	WarmupPhaseStoryCaption   WarmupPhase = "story_caption"
	WarmupPhaseStoryNoCaption WarmupPhase = "story_no_caption"
	WarmupPhaseSetToPrivate   WarmupPhase = "set_to_private"
)

// OrderedWarmupPhases is the canonical phase order
var OrderedWarmupPhases = []WarmupPhase{
	WarmupPhaseManualSetup,
	WarmupPhaseBio,
	WarmupPhaseGender,
	WarmupPhaseName,
	WarmupPhaseUsername,
	WarmupPhaseFirstHighlight,
	WarmupPhaseNewHighlight,
	WarmupPhasePostCaption,
	WarmupPhasePostNoCaption,
	WarmupPhaseStoryCaption,
	WarmupPhaseStoryNoCaption,
	WarmupPhaseSetToPrivate,
}

// IsValid reports whether p is one of the declared phases
func (p WarmupPhase) IsValid() bool {
	for _, ph := range OrderedWarmupPhases {
		if ph == p {
			return true
		}
	}
	return false
}

func (p WarmupPhase) String() string { return string(p) }

// PhaseStatus is the per-phase execution status
type PhaseStatus string

const (
	PhaseStatusPending        PhaseStatus = "pending"
	PhaseStatusAvailable      PhaseStatus = "available"
	PhaseStatusInProgress     PhaseStatus = "in_progress"
	PhaseStatusCompleted      PhaseStatus = "completed"
	PhaseStatusFailed         PhaseStatus = "failed"
	PhaseStatusRequiresReview PhaseStatus = "requires_review"
	PhaseStatusSkipped        PhaseStatus = "skipped"
)

// FailureCategory classifies a failed execution
type FailureCategory string

const (
	FailureCategoryBotError           FailureCategory = "bot_error"
	FailureCategoryInstagramChallenge FailureCategory = "instagram_challenge"
	FailureCategoryContentRejection   FailureCategory = "content_rejection"
	FailureCategoryCaptcha            FailureCategory = "captcha"
	FailureCategoryRateLimit          FailureCategory = "rate_limit"
	FailureCategoryAccountSuspended   FailureCategory = "account_suspended"
	FailureCategoryNetworkError       FailureCategory = "network_error"
	FailureCategoryTimeout            FailureCategory = "timeout"
	FailureCategoryOther              FailureCategory = "other"
)

// IsValid reports whether c is a declared failure category
func (c FailureCategory) IsValid() bool {
	switch c {
	case FailureCategoryBotError, FailureCategoryInstagramChallenge, FailureCategoryContentRejection,
		FailureCategoryCaptcha, FailureCategoryRateLimit, FailureCategoryAccountSuspended,
		FailureCategoryNetworkError, FailureCategoryTimeout, FailureCategoryOther:
		return true
	}
	return false
}

// DefaultPhaseMaxRetries is used when a row is created without an explicit budget
const DefaultPhaseMaxRetries = 3

// AccountWarmupPhase is one (account, phase) execution record
// Table: account_warmup_phases
// Unique by (account_id, phase); rows are never deleted
// A partial unique index guarantees at most one row system-wide is in_progress
type AccountWarmupPhase struct {
	ID        uint        `gorm:"primaryKey" json:"id"`
	AccountID uint        `gorm:"not null;uniqueIndex:uk_account_warmup_phases_account_phase,priority:1;index:idx_account_warmup_phases_account_id" json:"account_id"`
	Phase     WarmupPhase `gorm:"size:50;not null;uniqueIndex:uk_account_warmup_phases_account_phase,priority:2" json:"phase"`
	Status    PhaseStatus `gorm:"size:50;not null;default:pending;index:idx_account_warmup_phases_status" json:"status"`

	AvailableAt      *time.Time `gorm:"index:idx_account_warmup_phases_available_at" json:"available_at,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	ReviewRequiredAt *time.Time `json:"review_required_at,omitempty"`

	AssignedContentID *uint      `json:"assigned_content_id,omitempty"`
	AssignedTextID    *uint      `json:"assigned_text_id,omitempty"`
	ContentAssignedAt *time.Time `json:"content_assigned_at,omitempty"`

	RetryCount      int              `gorm:"not null;default:0" json:"retry_count"`
	MaxRetries      int              `gorm:"not null;default:3" json:"max_retries"`
	FailureCategory *FailureCategory `gorm:"size:50" json:"failure_category,omitempty"`
	ErrorMessage    *string          `gorm:"type:text" json:"error_message,omitempty"`
	ErrorDetails    json.RawMessage  `gorm:"type:jsonb" json:"error_details,omitempty"`

	ExecutingWorkerID  *string         `gorm:"size:255;index:idx_account_warmup_phases_worker_id" json:"executing_worker_id,omitempty"`
	ExecutingSessionID *string         `gorm:"size:255" json:"executing_session_id,omitempty"`
	ExecutionTimeMs    *int64          `json:"execution_time_ms,omitempty"`
	ResponsePayload    json.RawMessage `gorm:"type:jsonb" json:"response_payload,omitempty"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (AccountWarmupPhase) TableName() string { return "account_warmup_phases" }

// HasContent reports whether any resource is attached to the phase
func (p *AccountWarmupPhase) HasContent() bool {
	return p != nil && (p.AssignedContentID != nil || p.AssignedTextID != nil)
}

// IsOwnedBy reports whether the row is in progress under workerID
func (p *AccountWarmupPhase) IsOwnedBy(workerID string) bool {
	return p != nil && p.Status == PhaseStatusInProgress && p.ExecutingWorkerID != nil && *p.ExecutingWorkerID == workerID
}

// AccountWarmupPhaseFilter provides filter fields for repository queries
type AccountWarmupPhaseFilter struct {
	ID                *uint
	AccountID         *uint
	Phase             *WarmupPhase
	Status            *PhaseStatus
	Statuses          []PhaseStatus
	ExecutingWorkerID *string
	AvailableBefore   *time.Time
	StartedBefore     *time.Time
}

// PhaseStatusCount is an aggregate row of phase counts
type PhaseStatusCount struct {
	Phase  WarmupPhase `json:"phase"`
	Status PhaseStatus `json:"status"`
	Count  int64       `json:"count"`
}

// WarmupCandidate is an account eligible for the next scheduler tick
type WarmupCandidate struct {
	AccountID       uint   `json:"account_id"`
	Username        string `json:"username"`
	ModelID         *uint  `json:"model_id,omitempty"`
	ContainerHandle string `json:"container_handle"`
	ReadyPhases     int64  `json:"ready_phases"`
	CompletedPhases int64  `json:"completed_phases"`
}
