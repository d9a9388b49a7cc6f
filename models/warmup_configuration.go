package models

import "time"

// WarmupConfiguration holds per model-group cooldown policy
// Table: warmup_configurations
// Unique by model_id
type WarmupConfiguration struct {
	ID               uint    `gorm:"primaryKey" json:"id"`
	ModelID          uint    `gorm:"not null;uniqueIndex:uk_warmup_configurations_model_id" json:"model_id"`
	MinCooldownHours float64 `gorm:"type:numeric(6,2);not null" json:"min_cooldown_hours"`
	MaxCooldownHours float64 `gorm:"type:numeric(6,2);not null" json:"max_cooldown_hours"`
	MaxRetries       *int    `json:"max_retries,omitempty"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (WarmupConfiguration) TableName() string { return "warmup_configurations" }

// WarmupConfigurationFilter provides filter fields for repository queries
type WarmupConfigurationFilter struct {
	ID      *uint
	ModelID *uint
}
