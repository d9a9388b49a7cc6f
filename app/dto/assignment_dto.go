package dto

import "github.com/amirphl/warmup-orchestrator/models"

// AssetCriteria narrows a content or text selection
type AssetCriteria struct {
	ModelID             *uint               `json:"model_id,omitempty"`
	Category            string              `json:"category" validate:"required"`
	MinQualityScore     *float64            `json:"min_quality_score,omitempty" validate:"omitempty,gte=0,lte=100"`
	MaxUsageCount       *int                `json:"max_usage_count,omitempty" validate:"omitempty,gte=0"`
	ExcludeRecentlyUsed *bool               `json:"exclude_recently_used,omitempty"`
	ExcludeTakenBy      *models.WarmupPhase `json:"exclude_taken_by,omitempty"`
}

// ContentAssignmentResult is the outcome of AssignToPhase
// Success=false with a nil error means no asset satisfied the criteria
type ContentAssignmentResult struct {
	Success      bool                 `json:"success"`
	Message      string               `json:"message"`
	AssignmentID uint                 `json:"assignment_id,omitempty"`
	ContentID    *uint                `json:"content_id,omitempty"`
	TextID       *uint                `json:"text_id,omitempty"`
	Score        float64              `json:"score"`
	Reason       string               `json:"reason,omitempty"`
	Content      *models.ContentAsset `json:"content,omitempty"`
	Text         *models.TextAsset    `json:"text,omitempty"`
}

// AssignedContent is the resolved content of a phase row
type AssignedContent struct {
	WarmupPhaseID uint                      `json:"warmup_phase_id"`
	Assignment    *models.ContentAssignment `json:"assignment,omitempty"`
	Content       *models.ContentAsset      `json:"content,omitempty"`
	Text          *models.TextAsset         `json:"text,omitempty"`
}

// ProxyAssignmentResult is the outcome of AssignProxy/UnassignProxy
// Success=false with a nil error means the pool has no free capacity
type ProxyAssignmentResult struct {
	Success   bool          `json:"success"`
	Message   string        `json:"message"`
	AccountID uint          `json:"account_id"`
	ProxyID   *uint         `json:"proxy_id,omitempty"`
	Proxy     *models.Proxy `json:"proxy,omitempty"`
}
