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

// workerSlotLockKey is the advisory lock key guarding the singleton-worker check
const workerSlotLockKey int64 = 0x5741524d5550 // "WARMUP"

// AccountWarmupPhaseRepositoryImpl implements AccountWarmupPhaseRepository interface
type AccountWarmupPhaseRepositoryImpl struct {
	*BaseRepository[models.AccountWarmupPhase, models.AccountWarmupPhaseFilter]
}

// NewAccountWarmupPhaseRepository creates a new warmup phase repository
func NewAccountWarmupPhaseRepository(db *gorm.DB) AccountWarmupPhaseRepository {
	return &AccountWarmupPhaseRepositoryImpl{
		BaseRepository: NewBaseRepository[models.AccountWarmupPhase, models.AccountWarmupPhaseFilter](db),
	}
}

func (r *AccountWarmupPhaseRepositoryImpl) applyFilter(query *gorm.DB, filter models.AccountWarmupPhaseFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.AccountID != nil {
		query = query.Where("account_id = ?", *filter.AccountID)
	}
	if filter.Phase != nil {
		query = query.Where("phase = ?", *filter.Phase)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if len(filter.Statuses) > 0 {
		query = query.Where("status IN ?", filter.Statuses)
	}
	if filter.ExecutingWorkerID != nil {
		query = query.Where("executing_worker_id = ?", *filter.ExecutingWorkerID)
	}
	if filter.AvailableBefore != nil {
		query = query.Where("available_at <= ?", *filter.AvailableBefore)
	}
	if filter.StartedBefore != nil {
		query = query.Where("started_at < ?", *filter.StartedBefore)
	}
	return query
}

// ByFilter retrieves phase rows based on filter criteria
func (r *AccountWarmupPhaseRepositoryImpl) ByFilter(ctx context.Context, filter models.AccountWarmupPhaseFilter, orderBy string, limit, offset int) ([]*models.AccountWarmupPhase, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.AccountWarmupPhase{}), filter)

	if orderBy == "" {
		orderBy = "id ASC"
	}
	query = query.Order(orderBy)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	var rows []*models.AccountWarmupPhase
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns the number of phase rows matching the filter
func (r *AccountWarmupPhaseRepositoryImpl) Count(ctx context.Context, filter models.AccountWarmupPhaseFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.AccountWarmupPhase{}), filter)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any phase row matching the filter exists
func (r *AccountWarmupPhaseRepositoryImpl) Exists(ctx context.Context, filter models.AccountWarmupPhaseFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ByAccountAndPhase retrieves the row for (accountID, phase)
func (r *AccountWarmupPhaseRepositoryImpl) ByAccountAndPhase(ctx context.Context, accountID uint, phase models.WarmupPhase) (*models.AccountWarmupPhase, error) {
	db := r.getDB(ctx)

	var row models.AccountWarmupPhase
	err := db.Where("account_id = ? AND phase = ?", accountID, phase).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find phase %s for account %d: %w", phase, accountID, err)
	}
	return &row, nil
}

// ByAccountAndPhaseForUpdate retrieves and row-locks the row for (accountID, phase)
func (r *AccountWarmupPhaseRepositoryImpl) ByAccountAndPhaseForUpdate(ctx context.Context, accountID uint, phase models.WarmupPhase) (*models.AccountWarmupPhase, error) {
	db := r.getDB(ctx)

	var row models.AccountWarmupPhase
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ? AND phase = ?", accountID, phase).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to lock phase %s for account %d: %w", phase, accountID, err)
	}
	return &row, nil
}

// ListByAccount returns every phase row of the account ordered by id
func (r *AccountWarmupPhaseRepositoryImpl) ListByAccount(ctx context.Context, accountID uint) ([]*models.AccountWarmupPhase, error) {
	return r.ByFilter(ctx, models.AccountWarmupPhaseFilter{AccountID: &accountID}, "id ASC", 0, 0)
}

// InsertMissing inserts rows, skipping (account_id, phase) pairs that already exist
func (r *AccountWarmupPhaseRepositoryImpl) InsertMissing(ctx context.Context, rows []*models.AccountWarmupPhase) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return 0, err
	}

	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "phase"}},
		DoNothing: true,
	}).Create(&rows)
	if result.Error != nil {
		err = fmt.Errorf("failed to insert warmup phases: %w", result.Error)
		return 0, finish(db, shouldCommit, err)
	}

	return result.RowsAffected, finish(db, shouldCommit, nil)
}

// LockWorkerSlot takes a transaction-scoped advisory lock; it must run inside WithTransaction
func (r *AccountWarmupPhaseRepositoryImpl) LockWorkerSlot(ctx context.Context) error {
	tx, ok := ctx.Value(TxContextKey).(*gorm.DB)
	if !ok || tx == nil {
		return errors.New("worker slot lock requires a transaction")
	}
	if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", workerSlotLockKey).Error; err != nil {
		return fmt.Errorf("failed to acquire worker slot lock: %w", err)
	}
	return nil
}

// CountInProgress returns how many rows are in progress across all accounts
func (r *AccountWarmupPhaseRepositoryImpl) CountInProgress(ctx context.Context) (int64, error) {
	status := models.PhaseStatusInProgress
	return r.Count(ctx, models.AccountWarmupPhaseFilter{Status: &status})
}

// MarkStarted flips an available row to in_progress under workerID
func (r *AccountWarmupPhaseRepositoryImpl) MarkStarted(ctx context.Context, id uint, workerID, sessionID string, at time.Time) (bool, error) {
	return r.conditionalUpdate(ctx,
		"id = ? AND status = ?", []any{id, models.PhaseStatusAvailable},
		map[string]any{
			"status":               models.PhaseStatusInProgress,
			"started_at":           at,
			"completed_at":         nil,
			"executing_worker_id":  workerID,
			"executing_session_id": sessionID,
			"updated_at":           at,
		})
}

// MarkCompleted flips an in_progress row owned by c.WorkerID to completed
func (r *AccountWarmupPhaseRepositoryImpl) MarkCompleted(ctx context.Context, id uint, c PhaseCompletion) (bool, error) {
	updates := map[string]any{
		"status":            models.PhaseStatusCompleted,
		"completed_at":      c.At,
		"execution_time_ms": c.DurationMs,
		"updated_at":        c.At,
	}
	if len(c.ResponsePayload) > 0 {
		updates["response_payload"] = c.ResponsePayload
	}
	return r.conditionalUpdate(ctx,
		"id = ? AND status = ? AND executing_worker_id = ?",
		[]any{id, models.PhaseStatusInProgress, c.WorkerID},
		updates)
}

// MarkFailed writes the outcome of a failed execution on an in_progress row owned by f.WorkerID
func (r *AccountWarmupPhaseRepositoryImpl) MarkFailed(ctx context.Context, id uint, f PhaseFailure) (bool, error) {
	updates := map[string]any{
		"status":           f.NextStatus,
		"retry_count":      f.NextRetryCount,
		"failure_category": f.Category,
		"error_message":    f.Message,
		"updated_at":       f.At,
	}
	if len(f.Details) > 0 {
		updates["error_details"] = f.Details
	}
	if f.Escalated {
		updates["review_required_at"] = f.At
	}
	return r.conditionalUpdate(ctx,
		"id = ? AND status = ? AND executing_worker_id = ?",
		[]any{id, models.PhaseStatusInProgress, f.WorkerID},
		updates)
}

// ReopenForReview returns a requires_review row to available with a fresh retry budget
func (r *AccountWarmupPhaseRepositoryImpl) ReopenForReview(ctx context.Context, id uint, resolvedBy string, at time.Time) (bool, error) {
	return r.conditionalUpdate(ctx,
		"id = ? AND status = ?", []any{id, models.PhaseStatusRequiresReview},
		map[string]any{
			"status":              models.PhaseStatusAvailable,
			"available_at":        at,
			"retry_count":         0,
			"review_required_at":  nil,
			"executing_worker_id": nil,
			"error_message":       fmt.Sprintf("Review resolved by %s", resolvedBy),
			"updated_at":          at,
		})
}

func (r *AccountWarmupPhaseRepositoryImpl) conditionalUpdate(ctx context.Context, where string, args []any, updates map[string]any) (bool, error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
	}

	result := db.Model(&models.AccountWarmupPhase{}).Where(where, args...).Updates(updates)
	if result.Error != nil {
		err = fmt.Errorf("failed to update warmup phase: %w", result.Error)
		return false, finish(db, shouldCommit, err)
	}
	return result.RowsAffected > 0, finish(db, shouldCommit, nil)
}

// Unlock flips pending rows of the given phases to available
func (r *AccountWarmupPhaseRepositoryImpl) Unlock(ctx context.Context, accountID uint, phases []models.WarmupPhase, availableAt time.Time) (int64, error) {
	if len(phases) == 0 {
		return 0, nil
	}
	return r.bulkUpdate(ctx,
		"account_id = ? AND phase IN ? AND status = ?",
		[]any{accountID, phases, models.PhaseStatusPending},
		map[string]any{
			"status":       models.PhaseStatusAvailable,
			"available_at": availableAt,
			"updated_at":   availableAt,
		})
}

// ApplyCooldown pushes available_at of every not-yet-started available row to at least until
func (r *AccountWarmupPhaseRepositoryImpl) ApplyCooldown(ctx context.Context, accountID uint, until time.Time) (int64, error) {
	return r.bulkUpdate(ctx,
		"account_id = ? AND status = ?",
		[]any{accountID, models.PhaseStatusAvailable},
		map[string]any{
			"available_at": gorm.Expr("GREATEST(COALESCE(available_at, ?), ?)", until, until),
		})
}

// ResetStuck returns in_progress rows started before startedBefore to available and reports them
func (r *AccountWarmupPhaseRepositoryImpl) ResetStuck(ctx context.Context, startedBefore time.Time, message string, at time.Time) ([]*models.AccountWarmupPhase, error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return nil, err
	}

	var rows []*models.AccountWarmupPhase
	result := db.Model(&rows).
		Clauses(clause.Returning{}).
		Where("status = ? AND (started_at IS NULL OR started_at < ?)", models.PhaseStatusInProgress, startedBefore).
		Updates(map[string]any{
			"status":               models.PhaseStatusAvailable,
			"available_at":         at,
			"executing_worker_id":  nil,
			"executing_session_id": nil,
			"error_message":        message,
			"updated_at":           at,
		})
	if result.Error != nil {
		err = fmt.Errorf("failed to reset stuck warmup phases: %w", result.Error)
		return nil, finish(db, shouldCommit, err)
	}
	return rows, finish(db, shouldCommit, nil)
}

// ReleaseFailed returns failed rows whose last failure predates failedBefore to available
func (r *AccountWarmupPhaseRepositoryImpl) ReleaseFailed(ctx context.Context, failedBefore time.Time, at time.Time) (int64, error) {
	return r.bulkUpdate(ctx,
		"status = ? AND updated_at < ?",
		[]any{models.PhaseStatusFailed, failedBefore},
		map[string]any{
			"status":              models.PhaseStatusAvailable,
			"available_at":        gorm.Expr("GREATEST(COALESCE(available_at, ?), ?)", at, at),
			"executing_worker_id": nil,
			"updated_at":          at,
		})
}

// SkipOpen marks every row that has not finished as skipped
func (r *AccountWarmupPhaseRepositoryImpl) SkipOpen(ctx context.Context, accountID uint, reason string, at time.Time) (int64, error) {
	return r.bulkUpdate(ctx,
		"account_id = ? AND status IN ?",
		[]any{accountID, []models.PhaseStatus{models.PhaseStatusPending, models.PhaseStatusAvailable, models.PhaseStatusFailed}},
		map[string]any{
			"status":        models.PhaseStatusSkipped,
			"error_message": reason,
			"updated_at":    at,
		})
}

func (r *AccountWarmupPhaseRepositoryImpl) bulkUpdate(ctx context.Context, where string, args []any, updates map[string]any) (int64, error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return 0, err
	}

	result := db.Model(&models.AccountWarmupPhase{}).Where(where, args...).Updates(updates)
	if result.Error != nil {
		err = fmt.Errorf("failed to update warmup phases: %w", result.Error)
		return 0, finish(db, shouldCommit, err)
	}
	return result.RowsAffected, finish(db, shouldCommit, nil)
}

// SetAssignment writes the chosen resources onto the phase row
func (r *AccountWarmupPhaseRepositoryImpl) SetAssignment(ctx context.Context, id uint, contentID, textID *uint, at time.Time) error {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return err
	}

	result := db.Model(&models.AccountWarmupPhase{}).Where("id = ?", id).Updates(map[string]any{
		"assigned_content_id": contentID,
		"assigned_text_id":    textID,
		"content_assigned_at": at,
		"updated_at":          at,
	})
	if result.Error != nil {
		err = fmt.Errorf("failed to set assignment on warmup phase %d: %w", id, result.Error)
	} else if result.RowsAffected == 0 {
		err = fmt.Errorf("warmup phase not found with ID: %d", id)
	}
	return finish(db, shouldCommit, err)
}

// CountByStatus returns per-status counts for one account
func (r *AccountWarmupPhaseRepositoryImpl) CountByStatus(ctx context.Context, accountID uint) (map[models.PhaseStatus]int64, error) {
	db := r.getDB(ctx)

	type row struct {
		Status models.PhaseStatus
		Count  int64
	}
	var rows []row
	err := db.Model(&models.AccountWarmupPhase{}).
		Select("status, COUNT(*) AS count").
		Where("account_id = ?", accountID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count phases for account %d: %w", accountID, err)
	}

	out := make(map[models.PhaseStatus]int64, len(rows))
	for _, r := range rows {
		out[r.Status] = r.Count
	}
	return out, nil
}

// CountByPhaseAndStatus returns fleet-wide counts grouped by phase and status
func (r *AccountWarmupPhaseRepositoryImpl) CountByPhaseAndStatus(ctx context.Context) ([]*models.PhaseStatusCount, error) {
	db := r.getDB(ctx)

	var rows []*models.PhaseStatusCount
	err := db.Model(&models.AccountWarmupPhase{}).
		Select("phase, status, COUNT(*) AS count").
		Group("phase, status").
		Order("phase, status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count phases by status: %w", err)
	}
	return rows, nil
}
