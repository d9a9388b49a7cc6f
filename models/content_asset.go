package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Asset categories shared by content and text pools
const (
	AssetCategoryAny                = "any"
	AssetCategoryBio                = "bio"
	AssetCategoryName               = "name"
	AssetCategoryUsername           = "username"
	AssetCategoryHighlight          = "highlight"
	AssetCategoryHighlightGroupName = "highlight_group_name"
	AssetCategoryPost               = "post"
	AssetCategoryStory              = "story"
	AssetCategoryProfilePicture     = "pfp"
)

// ContentAsset is a pooled image/video resource
// Table: content_assets
// Categories uses PostgreSQL text[]
type ContentAsset struct {
	ID   uint      `gorm:"primaryKey" json:"id"`
	UUID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_content_assets_uuid" json:"uuid"`

	ModelID    *uint          `gorm:"index:idx_content_assets_model_id" json:"model_id,omitempty"`
	FileName   string         `gorm:"size:255;not null" json:"file_name"`
	FilePath   string         `gorm:"size:1024;not null" json:"file_path"`
	MimeType   string         `gorm:"size:100" json:"mime_type"`
	Categories pq.StringArray `gorm:"type:text[];not null" json:"categories"`

	QualityScore    float64    `gorm:"type:numeric(5,2);not null;default:50" json:"quality_score"`
	AssignmentCount int        `gorm:"not null;default:0" json:"assignment_count"`
	SuccessCount    int        `gorm:"not null;default:0" json:"success_count"`
	FailureCount    int        `gorm:"not null;default:0" json:"failure_count"`
	LastAssignedAt  *time.Time `json:"last_assigned_at,omitempty"`
	IsBlacklisted   bool       `gorm:"not null;default:false;index:idx_content_assets_is_blacklisted" json:"is_blacklisted"`
	BlacklistReason *string    `gorm:"type:text" json:"blacklist_reason,omitempty"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (ContentAsset) TableName() string { return "content_assets" }

// TextAsset is a pooled text resource (bio, caption, username seed, ...)
// Table: text_assets
type TextAsset struct {
	ID   uint      `gorm:"primaryKey" json:"id"`
	UUID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:uk_text_assets_uuid" json:"uuid"`

	ModelID     *uint          `gorm:"index:idx_text_assets_model_id" json:"model_id,omitempty"`
	TextContent string         `gorm:"type:text;not null" json:"text_content"`
	Categories  pq.StringArray `gorm:"type:text[];not null" json:"categories"`

	QualityScore    float64    `gorm:"type:numeric(5,2);not null;default:50" json:"quality_score"`
	AssignmentCount int        `gorm:"not null;default:0" json:"assignment_count"`
	SuccessCount    int        `gorm:"not null;default:0" json:"success_count"`
	FailureCount    int        `gorm:"not null;default:0" json:"failure_count"`
	LastAssignedAt  *time.Time `json:"last_assigned_at,omitempty"`
	IsBlacklisted   bool       `gorm:"not null;default:false;index:idx_text_assets_is_blacklisted" json:"is_blacklisted"`
	BlacklistReason *string    `gorm:"type:text" json:"blacklist_reason,omitempty"`

	CreatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"created_at"`
	UpdatedAt time.Time `gorm:"default:(CURRENT_TIMESTAMP AT TIME ZONE 'UTC')" json:"updated_at"`
}

func (TextAsset) TableName() string { return "text_assets" }

// PooledAsset is the ranking view shared by content and text assets
type PooledAsset interface {
	AssetID() uint
	AssetQuality() float64
	AssetUsage() int
}

func (c *ContentAsset) AssetID() uint { return c.ID }
func (c *ContentAsset) AssetQuality() float64 { return c.QualityScore }
func (c *ContentAsset) AssetUsage() int { return c.AssignmentCount }
func (t *TextAsset) AssetID() uint { return t.ID }
func (t *TextAsset) AssetQuality() float64 { return t.QualityScore }
func (t *TextAsset) AssetUsage() int { return t.AssignmentCount }

// AssetFilter is shared by content and text asset queries
type AssetFilter struct {
	ID            *uint
	ModelID       *uint
	Category      *string
	IsBlacklisted *bool
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// AssetSelectionCriteria narrows the candidate pool for one selection
type AssetSelectionCriteria struct {
	ModelID          *uint
	Category         string
	MinQualityScore  float64
	MaxUsageCount    int
	NotAssignedSince *time.Time   // skip assets whose last_assigned_at is after this instant
	ExcludeTakenBy   *WarmupPhase // skip texts already assigned to any row of this phase
	Limit            int
}
