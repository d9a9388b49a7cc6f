package models

import (
	"encoding/json"
	"time"
)

const (
	AssignmentAlgorithmQualityScoreV1 = "quality_score_v1"
	AssignmentAssignedBySystem        = "system"
)

// ContentAssignment links one (account, phase) to the chosen content/text
// Table: content_assignments
// Outcome columns are written once when the phase finishes
type ContentAssignment struct {
	ID            uint        `gorm:"primaryKey" json:"id"`
	AccountID     uint        `gorm:"not null;index:idx_content_assignments_account_id" json:"account_id"`
	WarmupPhaseID uint        `gorm:"not null;index:idx_content_assignments_warmup_phase_id" json:"warmup_phase_id"`
	Phase         WarmupPhase `gorm:"size:50;not null" json:"phase"`
	ContentID     *uint       `gorm:"index:idx_content_assignments_content_id" json:"content_id,omitempty"`
	TextID        *uint       `gorm:"index:idx_content_assignments_text_id" json:"text_id,omitempty"`

	AssignmentAlgorithm string  `gorm:"size:100;not null" json:"assignment_algorithm"`
	AssignmentScore     float64 `gorm:"type:numeric(6,2);not null" json:"assignment_score"`
	AssignmentReason    string  `gorm:"type:text;not null" json:"assignment_reason"`
	AssignedBy          string  `gorm:"size:255;not null" json:"assigned_by"`

	UsedAt            *time.Time      `json:"used_at,omitempty"`
	Success           *bool           `json:"success,omitempty"`
	PerformanceScore  *float64        `gorm:"type:numeric(6,2)" json:"performance_score,omitempty"`
	EngagementMetrics json.RawMessage `gorm:"type:jsonb" json:"engagement_metrics,omitempty"`

	AssignedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC');index:idx_content_assignments_assigned_at" json:"assigned_at"`
	UpdatedAt  time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (ContentAssignment) TableName() string { return "content_assignments" }

// ContentAssignmentFilter provides filter fields for repository queries
type ContentAssignmentFilter struct {
	ID             *uint
	AccountID      *uint
	WarmupPhaseID  *uint
	ContentID      *uint
	TextID         *uint
	Used           *bool
	AssignedAfter  *time.Time
	AssignedBefore *time.Time
}

// AssignmentStats aggregates assignment outcomes for reporting
type AssignmentStats struct {
	Phase                 WarmupPhase `json:"phase"`
	TotalAssignments      int64       `json:"total_assignments"`
	UsedAssignments       int64       `json:"used_assignments"`
	SuccessfulAssignments int64       `json:"successful_assignments"`
	AvgAssignmentScore    float64     `json:"avg_assignment_score"`
	AvgPerformanceScore   *float64    `json:"avg_performance_score,omitempty"`
}
