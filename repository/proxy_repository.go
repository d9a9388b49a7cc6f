package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/warmup-orchestrator/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// capacityExpr is the effective capacity of a proxy row
const capacityExpr = "COALESCE(max_accounts, 3)"

// ProxyRepositoryImpl implements ProxyRepository interface
type ProxyRepositoryImpl struct {
	*BaseRepository[models.Proxy, models.ProxyFilter]
}

// NewProxyRepository creates a new proxy repository
func NewProxyRepository(db *gorm.DB) ProxyRepository {
	return &ProxyRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Proxy, models.ProxyFilter](db),
	}
}

func (r *ProxyRepositoryImpl) applyFilter(query *gorm.DB, filter models.ProxyFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		query = query.Where("uuid = ?", *filter.UUID)
	}
	if filter.Host != nil {
		query = query.Where("host = ?", *filter.Host)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.HasCapacity != nil {
		if *filter.HasCapacity {
			query = query.Where("account_count < " + capacityExpr)
		} else {
			query = query.Where("account_count >= " + capacityExpr)
		}
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}

// ByFilter retrieves proxies based on filter criteria
func (r *ProxyRepositoryImpl) ByFilter(ctx context.Context, filter models.ProxyFilter, orderBy string, limit, offset int) ([]*models.Proxy, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Proxy{}), filter)

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

	var proxies []*models.Proxy
	if err := query.Find(&proxies).Error; err != nil {
		return nil, err
	}
	return proxies, nil
}

// Count returns the number of proxies matching the filter
func (r *ProxyRepositoryImpl) Count(ctx context.Context, filter models.ProxyFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Proxy{}), filter)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any proxy matching the filter exists
func (r *ProxyRepositoryImpl) Exists(ctx context.Context, filter models.ProxyFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// LockLeastLoaded picks the active proxy with the lowest account count and row-locks it.
// Rows locked by concurrent assigners are skipped. Returns nil when the pool is exhausted.
func (r *ProxyRepositoryImpl) LockLeastLoaded(ctx context.Context) (*models.Proxy, error) {
	db := r.getDB(ctx)

	var proxy models.Proxy
	err := db.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", models.ProxyStatusActive).
		Where("account_count < " + capacityExpr).
		Order("account_count ASC, id ASC").
		Take(&proxy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock least loaded proxy: %w", err)
	}
	return &proxy, nil
}

// IncrementAccountCount takes one slot on the proxy if capacity remains
func (r *ProxyRepositoryImpl) IncrementAccountCount(ctx context.Context, id uint, at time.Time) (bool, error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
	}

	result := db.Model(&models.Proxy{}).
		Where("id = ? AND account_count < "+capacityExpr, id).
		Updates(map[string]any{
			"account_count":    gorm.Expr("account_count + 1"),
			"last_assigned_at": at,
			"updated_at":       at,
		})
	if result.Error != nil {
		err = fmt.Errorf("failed to increment account count of proxy %d: %w", id, result.Error)
		return false, finish(db, shouldCommit, err)
	}
	return result.RowsAffected > 0, finish(db, shouldCommit, nil)
}

// DecrementAccountCount frees one slot on the proxy, never going below zero
func (r *ProxyRepositoryImpl) DecrementAccountCount(ctx context.Context, id uint) error {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}

	err = db.Model(&models.Proxy{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"account_count": gorm.Expr("GREATEST(account_count - 1, 0)"),
			"updated_at":    time.Now().UTC(),
		}).Error
	if err != nil {
		err = fmt.Errorf("failed to decrement account count of proxy %d: %w", id, err)
	}
	return finish(db, shouldCommit, err)
}

// Stats aggregates pool capacity
func (r *ProxyRepositoryImpl) Stats(ctx context.Context) (*models.ProxyStats, error) {
	db := r.getDB(ctx)

	var stats models.ProxyStats
	err := db.Raw(`
		SELECT
			COUNT(*) AS total_proxies,
			COUNT(*) FILTER (WHERE status = ?) AS active_proxies,
			COALESCE(SUM(`+capacityExpr+`) FILTER (WHERE status = ?), 0) AS total_capacity,
			COALESCE(SUM(account_count) FILTER (WHERE status = ?), 0) AS used_capacity,
			COUNT(*) FILTER (WHERE status = ? AND account_count < `+capacityExpr+`) AS available_proxies
		FROM proxies
	`,
		models.ProxyStatusActive,
		models.ProxyStatusActive,
		models.ProxyStatusActive,
		models.ProxyStatusActive,
	).Scan(&stats).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate proxy stats: %w", err)
	}
	return &stats, nil
}

// ListAvailable returns active proxies with free slots, least loaded first
func (r *ProxyRepositoryImpl) ListAvailable(ctx context.Context, limit int) ([]*models.Proxy, error) {
	active := models.ProxyStatusActive
	hasCapacity := true
	return r.ByFilter(ctx, models.ProxyFilter{Status: &active, HasCapacity: &hasCapacity}, "account_count ASC, id ASC", limit, 0)
}
