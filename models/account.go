// Package models contains domain entities for the account warmup orchestrator
package models

import (
	"time"

	"github.com/google/uuid"
)

// LifecycleState is the coarse-grained macro status of an account
type LifecycleState string

const (
	LifecycleStateImported              LifecycleState = "imported"
	LifecycleStateReady                 LifecycleState = "ready"
	LifecycleStateReadyForBotAssignment LifecycleState = "ready_for_bot_assignment"
	LifecycleStateWarmup                LifecycleState = "warmup"
	LifecycleStateActive                LifecycleState = "active"
	LifecycleStatePaused                LifecycleState = "paused"
	LifecycleStateCleanup               LifecycleState = "cleanup"
	LifecycleStateMaintenance           LifecycleState = "maintenance"
	LifecycleStateArchived              LifecycleState = "archived"
)

// AllLifecycleStates lists every lifecycle state in declaration order
var AllLifecycleStates = []LifecycleState{
	LifecycleStateImported,
	LifecycleStateReady,
	LifecycleStateReadyForBotAssignment,
	LifecycleStateWarmup,
	LifecycleStateActive,
	LifecycleStatePaused,
	LifecycleStateCleanup,
	LifecycleStateMaintenance,
	LifecycleStateArchived,
}

// IsValid reports whether s is a declared lifecycle state
func (s LifecycleState) IsValid() bool {
	for _, st := range AllLifecycleStates {
		if st == s {
			return true
		}
	}
	return false
}

func (s LifecycleState) String() string { return string(s) }

// Account operational status, independent of the lifecycle state
const (
	AccountStatusActive    = "active"
	AccountStatusError     = "error"
	AccountStatusSuspended = "suspended"
	AccountStatusBanned    = "banned"
)

// Account represents a social-media account driven through the warmup life cycle
// Table: accounts
// ContainerHandle identifies the physical automation slot the account is bound to
// ModelID groups accounts that share a content pool and cooldown configuration
type Account struct {
	ID   uint      `gorm:"primaryKey" json:"id"`
	UUID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_accounts_uuid" json:"uuid"`

	Username string `gorm:"size:255;not null;uniqueIndex:uk_accounts_username" json:"username"`
	ModelID  *uint  `gorm:"index:idx_accounts_model_id" json:"model_id,omitempty"`
	Status   string `gorm:"size:50;not null;default:active" json:"status"`

	LifecycleState  LifecycleState `gorm:"size:50;not null;default:imported;index:idx_accounts_lifecycle_state" json:"lifecycle_state"`
	ContainerHandle *string        `gorm:"size:100;index:idx_accounts_container_handle" json:"container_handle,omitempty"`
	ProxyID         *uint          `gorm:"index:idx_accounts_proxy_id" json:"proxy_id,omitempty"`
	ProxyAssignedAt *time.Time     `json:"proxy_assigned_at,omitempty"`

	RequiresHumanReview bool       `gorm:"not null;default:false;index:idx_accounts_requires_human_review" json:"requires_human_review"`
	LastErrorMessage    *string    `gorm:"type:text" json:"last_error_message,omitempty"`
	LastErrorAt         *time.Time `json:"last_error_at,omitempty"`

	StateChangedAt  *time.Time `json:"state_changed_at,omitempty"`
	StateChangedBy  *string    `gorm:"size:255" json:"state_changed_by,omitempty"`
	StateNotes      *string    `gorm:"type:text" json:"state_notes,omitempty"`
	LastBotActionBy *string    `gorm:"size:255" json:"last_bot_action_by,omitempty"`
	LastBotActionAt *time.Time `json:"last_bot_action_at,omitempty"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_accounts_created_at" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (Account) TableName() string {
	return "accounts"
}

// HasProxy reports whether a proxy is bound to the account
func (a *Account) HasProxy() bool {
	return a != nil && a.ProxyID != nil
}

// HasContainer reports whether a container handle is bound to the account
func (a *Account) HasContainer() bool {
	return a != nil && a.ContainerHandle != nil && *a.ContainerHandle != ""
}

// AccountFilter represents filter criteria for account queries
type AccountFilter struct {
	ID                  *uint
	UUID                *uuid.UUID
	Username            *string
	ModelID             *uint
	Status              *string
	LifecycleState      *LifecycleState
	LifecycleStates     []LifecycleState
	ProxyID             *uint
	HasContainer        *bool
	RequiresHumanReview *bool
	CreatedAfter        *time.Time
	CreatedBefore       *time.Time
}
