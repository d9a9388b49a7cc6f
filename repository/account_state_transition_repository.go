package repository

import (
	"context"

	"github.com/amirphl/warmup-orchestrator/models"
	"gorm.io/gorm"
)

// AccountStateTransitionRepositoryImpl implements AccountStateTransitionRepository interface
type AccountStateTransitionRepositoryImpl struct {
	*BaseRepository[models.AccountStateTransition, models.AccountStateTransitionFilter]
}

// NewAccountStateTransitionRepository creates a new transition log repository
func NewAccountStateTransitionRepository(db *gorm.DB) AccountStateTransitionRepository {
	return &AccountStateTransitionRepositoryImpl{
		BaseRepository: NewBaseRepository[models.AccountStateTransition, models.AccountStateTransitionFilter](db),
	}
}

func (r *AccountStateTransitionRepositoryImpl) applyFilter(query *gorm.DB, filter models.AccountStateTransitionFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.AccountID != nil {
		query = query.Where("account_id = ?", *filter.AccountID)
	}
	if filter.ToState != nil {
		query = query.Where("to_state = ?", *filter.ToState)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}

// ByFilter retrieves transitions based on filter criteria
func (r *AccountStateTransitionRepositoryImpl) ByFilter(ctx context.Context, filter models.AccountStateTransitionFilter, orderBy string, limit, offset int) ([]*models.AccountStateTransition, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.AccountStateTransition{}), filter)

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

	var rows []*models.AccountStateTransition
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns the number of transitions matching the filter
func (r *AccountStateTransitionRepositoryImpl) Count(ctx context.Context, filter models.AccountStateTransitionFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.AccountStateTransition{}), filter)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any transition matching the filter exists
func (r *AccountStateTransitionRepositoryImpl) Exists(ctx context.Context, filter models.AccountStateTransitionFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListByAccount returns the most recent transitions of an account, newest first
func (r *AccountStateTransitionRepositoryImpl) ListByAccount(ctx context.Context, accountID uint, limit int) ([]*models.AccountStateTransition, error) {
	return r.ByFilter(ctx, models.AccountStateTransitionFilter{AccountID: &accountID}, "created_at DESC, id DESC", limit, 0)
}
