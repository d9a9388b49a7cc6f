// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/amirphl/warmup-orchestrator/utils"
	"gorm.io/gorm"
)

// AccountRepositoryImpl implements AccountRepository interface
type AccountRepositoryImpl struct {
	*BaseRepository[models.Account, models.AccountFilter]
}

// NewAccountRepository creates a new account repository
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &AccountRepositoryImpl{
		BaseRepository: NewBaseRepository[models.Account, models.AccountFilter](db),
	}
}

// ByUsername retrieves an account by username
func (r *AccountRepositoryImpl) ByUsername(ctx context.Context, username string) (*models.Account, error) {
	items, err := r.ByFilter(ctx, models.AccountFilter{Username: &username}, "", 1, 0)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items[0], nil
}

// applyFilter applies filter criteria to a GORM query
func (r *AccountRepositoryImpl) applyFilter(query *gorm.DB, filter models.AccountFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.UUID != nil {
		query = query.Where("uuid = ?", *filter.UUID)
	}
	if filter.Username != nil {
		query = query.Where("username = ?", *filter.Username)
	}
	if filter.ModelID != nil {
		query = query.Where("model_id = ?", *filter.ModelID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.LifecycleState != nil {
		query = query.Where("lifecycle_state = ?", *filter.LifecycleState)
	}
	if len(filter.LifecycleStates) > 0 {
		query = query.Where("lifecycle_state IN ?", filter.LifecycleStates)
	}
	if filter.ProxyID != nil {
		query = query.Where("proxy_id = ?", *filter.ProxyID)
	}
	if filter.HasContainer != nil {
		if *filter.HasContainer {
			query = query.Where("container_handle IS NOT NULL AND container_handle <> ''")
		} else {
			query = query.Where("(container_handle IS NULL OR container_handle = '')")
		}
	}
	if filter.RequiresHumanReview != nil {
		query = query.Where("requires_human_review = ?", *filter.RequiresHumanReview)
	}
	if filter.CreatedAfter != nil {
		query = query.Where("created_at > ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		query = query.Where("created_at < ?", *filter.CreatedBefore)
	}
	return query
}

// ByFilter retrieves accounts based on filter criteria
func (r *AccountRepositoryImpl) ByFilter(ctx context.Context, filter models.AccountFilter, orderBy string, limit, offset int) ([]*models.Account, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Account{}), filter)

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

	var accounts []*models.Account
	if err := query.Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// Count returns the number of accounts matching the filter
func (r *AccountRepositoryImpl) Count(ctx context.Context, filter models.AccountFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.Account{}), filter)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any account matching the filter exists
func (r *AccountRepositoryImpl) Exists(ctx context.Context, filter models.AccountFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// UpdateLifecycleState moves the account from upd.From to upd.To and stamps the audit columns
func (r *AccountRepositoryImpl) UpdateLifecycleState(ctx context.Context, id uint, upd LifecycleUpdate) (bool, error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
	}

	updates := map[string]any{
		"lifecycle_state":  upd.To,
		"state_changed_at": upd.At,
		"state_changed_by": upd.ChangedBy,
		"updated_at":       upd.At,
	}
	if upd.Notes != nil {
		updates["state_notes"] = *upd.Notes
	}

	result := db.Model(&models.Account{}).
		Where("id = ? AND lifecycle_state = ?", id, upd.From).
		Updates(updates)
	if result.Error != nil {
		err = fmt.Errorf("failed to update lifecycle state of account %d: %w", id, result.Error)
		return false, finish(db, shouldCommit, err)
	}

	return result.RowsAffected > 0, finish(db, shouldCommit, nil)
}

// ReleaseResources detaches the proxy and container from the account
func (r *AccountRepositoryImpl) ReleaseResources(ctx context.Context, id uint) error {
	return r.updateColumns(ctx, id, map[string]any{
		"proxy_id":          nil,
		"proxy_assigned_at": nil,
		"container_handle":  nil,
	})
}

// SetProxy binds a proxy to the account
func (r *AccountRepositoryImpl) SetProxy(ctx context.Context, id uint, proxyID uint, at time.Time) error {
	return r.updateColumns(ctx, id, map[string]any{
		"proxy_id":          proxyID,
		"proxy_assigned_at": at,
	})
}

// ClearProxy unbinds the proxy from the account
func (r *AccountRepositoryImpl) ClearProxy(ctx context.Context, id uint) error {
	return r.updateColumns(ctx, id, map[string]any{
		"proxy_id":          nil,
		"proxy_assigned_at": nil,
	})
}

// MarkRequiresReview flags the account for human review and records the last error
func (r *AccountRepositoryImpl) MarkRequiresReview(ctx context.Context, id uint, message string, at time.Time) error {
	return r.updateColumns(ctx, id, map[string]any{
		"requires_human_review": true,
		"last_error_message":    message,
		"last_error_at":         at,
	})
}

// ClearReviewFlag removes the human review flag
func (r *AccountRepositoryImpl) ClearReviewFlag(ctx context.Context, id uint) error {
	return r.updateColumns(ctx, id, map[string]any{
		"requires_human_review": false,
	})
}

// UpdateUsername replaces the account username
func (r *AccountRepositoryImpl) UpdateUsername(ctx context.Context, id uint, username string) error {
	return r.updateColumns(ctx, id, map[string]any{
		"username": username,
	})
}

// TouchBotAction records the worker that last acted on the account
func (r *AccountRepositoryImpl) TouchBotAction(ctx context.Context, id uint, workerID string, at time.Time) error {
	return r.updateColumns(ctx, id, map[string]any{
		"last_bot_action_by": workerID,
		"last_bot_action_at": at,
	})
}

func (r *AccountRepositoryImpl) updateColumns(ctx context.Context, id uint, updates map[string]any) error {
	if id == 0 {
		return errors.New("account ID is required for update")
	}

	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}

	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = utils.UTCNow()
	}

	result := db.Model(&models.Account{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		err = fmt.Errorf("failed to update account %d: %w", id, result.Error)
	} else if result.RowsAffected == 0 {
		err = fmt.Errorf("account not found with ID: %d", id)
	}

	return finish(db, shouldCommit, err)
}

// ListWarmupCandidates returns warmup accounts with a container and proxy bound and at least one
// ready automated phase, ordered by most ready phases then fewest completed phases.
// manual_setup is operator-driven and never counts as ready.
func (r *AccountRepositoryImpl) ListWarmupCandidates(ctx context.Context, now time.Time, limit int) ([]*models.WarmupCandidate, error) {
	db := r.getDB(ctx)
	if limit <= 0 {
		limit = 1
	}

	var rows []*models.WarmupCandidate
	err := db.Raw(`
		SELECT
			a.id AS account_id,
			a.username,
			a.model_id,
			a.container_handle,
			COUNT(*) FILTER (WHERE p.status = ? AND p.available_at <= ? AND p.phase <> ?) AS ready_phases,
			COUNT(*) FILTER (WHERE p.status = ?) AS completed_phases
		FROM accounts a
		JOIN account_warmup_phases p ON p.account_id = a.id
		WHERE a.lifecycle_state = ?
			AND a.container_handle IS NOT NULL
			AND a.container_handle <> ''
			AND a.proxy_id IS NOT NULL
			AND a.requires_human_review = FALSE
		GROUP BY a.id
		HAVING COUNT(*) FILTER (WHERE p.status = ? AND p.available_at <= ? AND p.phase <> ?) > 0
		ORDER BY ready_phases DESC, completed_phases ASC, a.id ASC
		LIMIT ?
	`,
		models.PhaseStatusAvailable, now, models.WarmupPhaseManualSetup,
		models.PhaseStatusCompleted,
		models.LifecycleStateWarmup,
		models.PhaseStatusAvailable, now, models.WarmupPhaseManualSetup,
		limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list warmup candidates: %w", err)
	}
	return rows, nil
}

// CountByLifecycleState returns the number of accounts per lifecycle state
func (r *AccountRepositoryImpl) CountByLifecycleState(ctx context.Context) (map[models.LifecycleState]int64, error) {
	db := r.getDB(ctx)

	type row struct {
		LifecycleState models.LifecycleState
		Count          int64
	}
	var rows []row
	err := db.Model(&models.Account{}).
		Select("lifecycle_state, COUNT(*) AS count").
		Group("lifecycle_state").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count accounts by lifecycle state: %w", err)
	}

	out := make(map[models.LifecycleState]int64, len(models.AllLifecycleStates))
	for _, st := range models.AllLifecycleStates {
		out[st] = 0
	}
	for _, r := range rows {
		out[r.LifecycleState] = r.Count
	}
	return out, nil
}
