package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/warmup-orchestrator/models"
	"gorm.io/gorm"
)

// ContentAssignmentRepositoryImpl implements ContentAssignmentRepository interface
type ContentAssignmentRepositoryImpl struct {
	*BaseRepository[models.ContentAssignment, models.ContentAssignmentFilter]
}

// NewContentAssignmentRepository creates a new content assignment repository
func NewContentAssignmentRepository(db *gorm.DB) ContentAssignmentRepository {
	return &ContentAssignmentRepositoryImpl{
		BaseRepository: NewBaseRepository[models.ContentAssignment, models.ContentAssignmentFilter](db),
	}
}

func (r *ContentAssignmentRepositoryImpl) applyFilter(query *gorm.DB, filter models.ContentAssignmentFilter) *gorm.DB {
	if filter.ID != nil {
		query = query.Where("id = ?", *filter.ID)
	}
	if filter.AccountID != nil {
		query = query.Where("account_id = ?", *filter.AccountID)
	}
	if filter.WarmupPhaseID != nil {
		query = query.Where("warmup_phase_id = ?", *filter.WarmupPhaseID)
	}
	if filter.ContentID != nil {
		query = query.Where("content_id = ?", *filter.ContentID)
	}
	if filter.TextID != nil {
		query = query.Where("text_id = ?", *filter.TextID)
	}
	if filter.Used != nil {
		if *filter.Used {
			query = query.Where("used_at IS NOT NULL")
		} else {
			query = query.Where("used_at IS NULL")
		}
	}
	if filter.AssignedAfter != nil {
		query = query.Where("assigned_at > ?", *filter.AssignedAfter)
	}
	if filter.AssignedBefore != nil {
		query = query.Where("assigned_at < ?", *filter.AssignedBefore)
	}
	return query
}

// ByFilter retrieves assignments based on filter criteria
func (r *ContentAssignmentRepositoryImpl) ByFilter(ctx context.Context, filter models.ContentAssignmentFilter, orderBy string, limit, offset int) ([]*models.ContentAssignment, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ContentAssignment{}), filter)

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

	var rows []*models.ContentAssignment
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Count returns the number of assignments matching the filter
func (r *ContentAssignmentRepositoryImpl) Count(ctx context.Context, filter models.ContentAssignmentFilter) (int64, error) {
	db := r.getDB(ctx)
	query := r.applyFilter(db.Model(&models.ContentAssignment{}), filter)

	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// Exists checks if any assignment matching the filter exists
func (r *ContentAssignmentRepositoryImpl) Exists(ctx context.Context, filter models.ContentAssignmentFilter) (bool, error) {
	count, err := r.Count(ctx, filter)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// LatestByWarmupPhase returns the most recent assignment of a phase row
func (r *ContentAssignmentRepositoryImpl) LatestByWarmupPhase(ctx context.Context, warmupPhaseID uint) (*models.ContentAssignment, error) {
	db := r.getDB(ctx)

	var row models.ContentAssignment
	err := db.Where("warmup_phase_id = ?", warmupPhaseID).Order("assigned_at DESC, id DESC").Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find assignment for warmup phase %d: %w", warmupPhaseID, err)
	}
	return &row, nil
}

// MarkUsed writes the outcome of an assignment that has not been used yet
func (r *ContentAssignmentRepositoryImpl) MarkUsed(ctx context.Context, id uint, outcome AssignmentOutcome) (bool, error) {
	db, shouldCommit, err := r.getDBForWrite(ctx)
	if err != nil {
		return false, err
	}

	updates := map[string]any{
		"used_at":    outcome.At,
		"success":    outcome.Success,
		"updated_at": outcome.At,
	}
	if outcome.PerformanceScore != nil {
		updates["performance_score"] = *outcome.PerformanceScore
	}
	if len(outcome.EngagementMetrics) > 0 {
		updates["engagement_metrics"] = outcome.EngagementMetrics
	}

	result := db.Model(&models.ContentAssignment{}).
		Where("id = ? AND used_at IS NULL", id).
		Updates(updates)
	if result.Error != nil {
		err = fmt.Errorf("failed to mark assignment %d used: %w", id, result.Error)
		return false, finish(db, shouldCommit, err)
	}
	return result.RowsAffected > 0, finish(db, shouldCommit, nil)
}

// StatsByPhase aggregates assignment outcomes per phase since the given instant
func (r *ContentAssignmentRepositoryImpl) StatsByPhase(ctx context.Context, since time.Time) ([]*models.AssignmentStats, error) {
	db := r.getDB(ctx)

	var rows []*models.AssignmentStats
	err := db.Model(&models.ContentAssignment{}).
		Select(`phase,
			COUNT(*) AS total_assignments,
			COUNT(used_at) AS used_assignments,
			COUNT(*) FILTER (WHERE success = TRUE) AS successful_assignments,
			COALESCE(AVG(assignment_score), 0) AS avg_assignment_score,
			AVG(performance_score) AS avg_performance_score`).
		Where("assigned_at >= ?", since).
		Group("phase").
		Order("phase").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate assignment stats: %w", err)
	}
	return rows, nil
}
