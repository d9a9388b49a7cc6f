package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/amirphl/warmup-orchestrator/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WarmupConfigurationRepositoryImpl implements WarmupConfigurationRepository interface
type WarmupConfigurationRepositoryImpl struct {
	*BaseRepository[models.WarmupConfiguration, models.WarmupConfigurationFilter]
}

// NewWarmupConfigurationRepository creates a new warmup configuration repository
func NewWarmupConfigurationRepository(db *gorm.DB) WarmupConfigurationRepository {
	return &WarmupConfigurationRepositoryImpl{
		BaseRepository: NewBaseRepository[models.WarmupConfiguration, models.WarmupConfigurationFilter](db),
	}
}

func (r *WarmupConfigurationRepositoryImpl) applyFilter(query *gorm.DB, filter models.WarmupConfigurationFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.ModelID != nil {
		query = query.Where("model_id = ?", *filter.ModelID)
	}
	return query
}

// ByFilter retrieves configurations based on filter criteria
func (r *WarmupConfigurationRepositoryImpl) ByFilter(ctx context.Context, filter models.WarmupConfigurationFilter, orderBy string, limit, offset int) ([]*models.WarmupConfiguration, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.WarmupConfiguration{}), filter)

	if orderBy == "" {
		orderBy = "model_id ASC"
	}
	query = query.Order(orderBy)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []*models.WarmupConfiguration
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns the number of configurations matching the filter
func (r *WarmupConfigurationRepositoryImpl) Count(ctx context.Context, filter models.WarmupConfigurationFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.WarmupConfiguration{}), filter)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any configuration matching the filter exists
func (r *WarmupConfigurationRepositoryImpl) Exists(ctx context.Context, filter models.WarmupConfigurationFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ByModelID returns the configuration of a model group, or nil
func (r *WarmupConfigurationRepositoryImpl) ByModelID(ctx context.Context, modelID uint) (*models.WarmupConfiguration, error) {
	db := r.getDB(ctx)

	var cfg models.WarmupConfiguration
	err := db.Where("model_id = ?", modelID).Take(&cfg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find warmup configuration for model %d: %w", modelID, err)
	}
	return &cfg, nil
}

// Upsert inserts the configuration or overwrites the existing row of the same model group
func (r *WarmupConfigurationRepositoryImpl) Upsert(ctx context.Context, cfg *models.WarmupConfiguration) error {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}

	cfg.UpdatedAt = utils.UTCNow()
	err = db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "model_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"min_cooldown_hours", "max_cooldown_hours", "max_retries", "updated_at"}),
	}).Create(cfg).Error
	if err != nil {
		err = fmt.Errorf("failed to upsert warmup configuration for model %d: %w", cfg.ModelID, err)
	}
	return finish(db, shouldCommit, err)
}
