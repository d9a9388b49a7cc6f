package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/warmup-orchestrator/models"
	"gorm.io/gorm"
)

// TextAssetRepositoryImpl implements TextAssetRepository interface
type TextAssetRepositoryImpl struct {
	*BaseRepository[models.TextAsset, models.AssetFilter]
}

// NewTextAssetRepository creates a new text asset repository
func NewTextAssetRepository(db *gorm.DB) TextAssetRepository {
	return &TextAssetRepositoryImpl{
		BaseRepository: NewBaseRepository[models.TextAsset, models.AssetFilter](db),
	}
}

// ByFilter retrieves text assets based on filter criteria
func (r *TextAssetRepositoryImpl) ByFilter(ctx context.Context, filter models.AssetFilter, orderBy string, limit, offset int) ([]*models.TextAsset, error) {
	db := r.getDB(ctx)
	query := applyAssetFilter(db.Model(&models.TextAsset{}), filter)

	if orderBy == "" {
		orderBy = "id DESC"
	}
	query = query.Order(orderBy)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var assets []*models.TextAsset
	if err := query.Find(&assets).Error; err != nil {
		return nil, err
	}
	return assets, nil
}

// Count returns the number of text assets matching the filter
func (r *TextAssetRepositoryImpl) Count(ctx context.Context, filter models.AssetFilter) (int64, error) {
	db := r.getDB(ctx)
	query := applyAssetFilter(db.Model(&models.TextAsset{}), filter)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any text asset matching the filter exists
func (r *TextAssetRepositoryImpl) Exists(ctx context.Context, filter models.AssetFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Candidates returns the best eligible text assets for the criteria.
// With ExcludeTakenBy set, texts already assigned to any row of that phase are skipped.
func (r *TextAssetRepositoryImpl) Candidates(ctx context.Context, criteria models.AssetSelectionCriteria) ([]*models.TextAsset, error) {
	db := r.getDB(ctx)
	query := applySelectionCriteria(db.Model(&models.TextAsset{}), criteria)
	if criteria.ExcludeTakenBy != nil {
		query = query.Where(
			"NOT EXISTS (SELECT 1 FROM account_warmup_phases p WHERE p.assigned_text_id = text_assets.id AND p.phase = ?)",
			*criteria.ExcludeTakenBy,
		)
	}

	var assets []*models.TextAsset
	if err := query.Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("failed to select text candidates for %s: %w", criteria.Category, err)
	}
	return assets, nil
}

// RecordAssignment bumps usage counters after the text is handed to a phase
func (r *TextAssetRepositoryImpl) RecordAssignment(ctx context.Context, id uint, at time.Time) error {
	return updateAsset(ctx, r.BaseRepository, &models.TextAsset{}, id, map[string]any{
		"assignment_count": gorm.Expr("assignment_count + 1"),
		"last_assigned_at": at,
		"updated_at":       at,
	})
}

// RecordOutcome bumps the success or failure counter
func (r *TextAssetRepositoryImpl) RecordOutcome(ctx context.Context, id uint, success bool) error {
	return updateAsset(ctx, r.BaseRepository, &models.TextAsset{}, id, outcomeColumns(success))
}

// Blacklist removes the text from future selection
func (r *TextAssetRepositoryImpl) Blacklist(ctx context.Context, id uint, reason string) error {
	return updateAsset(ctx, r.BaseRepository, &models.TextAsset{}, id, map[string]any{
		"is_blacklisted":   true,
		"blacklist_reason": reason,
		"updated_at":       time.Now().UTC(),
	})
}
