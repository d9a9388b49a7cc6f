package models

import "time"

// Transition reasons written by the lifecycle coordinator
const (
	TransitionReasonInvalidation     = "invalidation"
	TransitionReasonWarmupComplete   = "warmup_complete"
	TransitionReasonManual           = "manual"
	TransitionReasonBulk             = "bulk_transition"
	TransitionChangedBySystem        = "system"
	TransitionInvalidationNotesValue = "Account marked as invalid; resources released."
)

// AccountStateTransition is an append-only audit row for lifecycle state changes
// Table: account_state_transitions
type AccountStateTransition struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	AccountID uint           `gorm:"not null;index:idx_account_state_transitions_account_id" json:"account_id"`
	FromState LifecycleState `gorm:"size:50;not null" json:"from_state"`
	ToState   LifecycleState `gorm:"size:50;not null;index:idx_account_state_transitions_to_state" json:"to_state"`
	Reason    *string        `gorm:"size:255" json:"reason,omitempty"`
	ChangedBy string         `gorm:"size:255;not null" json:"changed_by"`
	Notes     *string        `gorm:"type:text" json:"notes,omitempty"`
	IsForced  bool           `gorm:"not null;default:false" json:"is_forced"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_account_state_transitions_created_at" json:"created_at"`
}

func (AccountStateTransition) TableName() string { return "account_state_transitions" }

// AccountStateTransitionFilter provides filter fields for repository queries
type AccountStateTransitionFilter struct {
	ID            *uint
	AccountID     *uint
	ToState       *LifecycleState
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}
