package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/amirphl/warmup-orchestrator/models"
	"gorm.io/gorm"
)

// ContentAssetRepositoryImpl implements ContentAssetRepository interface
type ContentAssetRepositoryImpl struct {
	*BaseRepository[models.ContentAsset, models.AssetFilter]
}

// NewContentAssetRepository creates a new content asset repository
func NewContentAssetRepository(db *gorm.DB) ContentAssetRepository {
	return &ContentAssetRepositoryImpl{
		BaseRepository: NewBaseRepository[models.ContentAsset, models.AssetFilter](db),
	}
}

// applyAssetFilter is shared by the content and text pools
func applyAssetFilter(query *gorm.DB, filter models.AssetFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.ModelID != nil {
		query = query.Where("model_id = ?", *filter.ModelID)
	}
	if filter.Category != nil {
		query = query.Where("? = ANY(categories)", *filter.Category)
	}
	if filter.IsBlacklisted != nil {
		query = query.Where("is_blacklisted = ?", *filter.IsBlacklisted)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}

// applySelectionCriteria narrows a pool query to eligible assets ordered best first.
// Ties on quality and usage are ordered randomly so the limit never fixes the same subset.
func applySelectionCriteria(query *gorm.DB, c models.AssetSelectionCriteria) *gorm.DB {
	query = query.Where("is_blacklisted = FALSE").
		Where("? = ANY(categories)", c.Category).
		Where("quality_score >= ?", c.MinQualityScore)
	if c.MaxUsageCount > 0 {
		query = query.Where("assignment_count < ?", c.MaxUsageCount)
	}
	if c.ModelID != nil {
		query = query.Where("(model_id IS NULL OR model_id = ?)", *c.ModelID)
	}
	if c.NotAssignedSince != nil {
		query = query.Where("(last_assigned_at IS NULL OR last_assigned_at < ?)", *c.NotAssignedSince)
	}
	limit := c.Limit
	if limit <= 0 {
		limit = 10
	}
	return query.Order("quality_score DESC, assignment_count ASC, random()").Limit(limit)
}

// ByFilter retrieves content assets based on filter criteria
func (r *ContentAssetRepositoryImpl) ByFilter(ctx context.Context, filter models.AssetFilter, orderBy string, limit, offset int) ([]*models.ContentAsset, error) {
	db := r.getDB(ctx)
	query := applyAssetFilter(db.Model(&models.ContentAsset{}), filter)

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

	var assets []*models.ContentAsset
	if err := query.Find(&assets).Error; err != nil {
		return nil, err
	}
	return assets, nil
}

// Count returns the number of content assets matching the filter
func (r *ContentAssetRepositoryImpl) Count(ctx context.Context, filter models.AssetFilter) (int64, error) {
	db := r.getDB(ctx)
	query := applyAssetFilter(db.Model(&models.ContentAsset{}), filter)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any content asset matching the filter exists
func (r *ContentAssetRepositoryImpl) Exists(ctx context.Context, filter models.AssetFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Candidates returns the best eligible content assets for the criteria
func (r *ContentAssetRepositoryImpl) Candidates(ctx context.Context, criteria models.AssetSelectionCriteria) ([]*models.ContentAsset, error) {
	db := r.getDB(ctx)
	query := applySelectionCriteria(db.Model(&models.ContentAsset{}), criteria)

	var assets []*models.ContentAsset
	if err := query.Find(&assets).Error; err != nil {
		return nil, fmt.Errorf("failed to select content candidates for %s: %w", criteria.Category, err)
	}
	return assets, nil
}

// RecordAssignment bumps usage counters after the asset is handed to a phase
func (r *ContentAssetRepositoryImpl) RecordAssignment(ctx context.Context, id uint, at time.Time) error {
	return updateAsset(ctx, r.BaseRepository, &models.ContentAsset{}, id, map[string]any{
		"assignment_count": gorm.Expr("assignment_count + 1"),
		"last_assigned_at": at,
		"updated_at":       at,
	})
}

// RecordOutcome bumps the success or failure counter
func (r *ContentAssetRepositoryImpl) RecordOutcome(ctx context.Context, id uint, success bool) error {
	return updateAsset(ctx, r.BaseRepository, &models.ContentAsset{}, id, outcomeColumns(success))
}

// Blacklist removes the asset from future selection
func (r *ContentAssetRepositoryImpl) Blacklist(ctx context.Context, id uint, reason string) error {
	return updateAsset(ctx, r.BaseRepository, &models.ContentAsset{}, id, map[string]any{
		"is_blacklisted":   true,
		"blacklist_reason": reason,
		"updated_at":       time.Now().UTC(),
	})
}

func outcomeColumns(success bool) map[string]any {
	column := "failure_count"
	if success {
		column = "success_count"
	}
	return map[string]any{
		column:       gorm.Expr(column + " + 1"),
		"updated_at": time.Now().UTC(),
	}
}

func updateAsset[T any, F any](ctx context.Context, r *BaseRepository[T, F], model any, id uint, updates map[string]any) error {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}

	result := db.Model(model).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		err = fmt.Errorf("failed to update asset %d: %w", id, result.Error)
	} else if result.RowsAffected == 0 {
		err = fmt.Errorf("asset not found with ID: %d", id)
	}
	return finish(db, shouldCommit, err)
}
