package businessflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/amirphl/warmup-orchestrator/app/dto"
	"github.com/amirphl/warmup-orchestrator/config"
	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/amirphl/warmup-orchestrator/repository"
	"github.com/amirphl/warmup-orchestrator/utils"
	"gorm.io/gorm"
)

// ContentAssignmentFlow picks pooled content and text for warmup phases
type ContentAssignmentFlow interface {
	SelectContent(ctx context.Context, criteria dto.AssetCriteria) (*models.ContentAsset, error)
	SelectText(ctx context.Context, criteria dto.AssetCriteria) (*models.TextAsset, error)
	AssignToPhase(ctx context.Context, accountID, phaseID uint, phase models.WarmupPhase, groupID *uint) (*dto.ContentAssignmentResult, error)
	MarkUsed(ctx context.Context, assignmentID uint, success bool, performanceScore *float64, metrics json.RawMessage) error
	RecordPhaseOutcome(ctx context.Context, warmupPhaseID uint, success bool) error
	RenewForRetry(ctx context.Context, warmupPhaseID uint) (bool, error)
	BlacklistContent(ctx context.Context, contentID uint, reason string) error
	BlacklistText(ctx context.Context, textID uint, reason string) error
	AssignedContent(ctx context.Context, warmupPhaseID uint) (*dto.AssignedContent, error)
}

// ContentAssignmentFlowImpl implements ContentAssignmentFlow
type ContentAssignmentFlowImpl struct {
	contentRepo    repository.ContentAssetRepository
	textRepo       repository.TextAssetRepository
	assignmentRepo repository.ContentAssignmentRepository
	phaseRepo      repository.AccountWarmupPhaseRepository
	cfg            config.AssignmentConfig
	db             *gorm.DB
	shuffle        shuffleFunc
}

// NewContentAssignmentFlow creates a new content assignment flow
func NewContentAssignmentFlow(
	contentRepo repository.ContentAssetRepository,
	textRepo repository.TextAssetRepository,
	assignmentRepo repository.ContentAssignmentRepository,
	phaseRepo repository.AccountWarmupPhaseRepository,
	cfg config.AssignmentConfig,
	db *gorm.DB,
) ContentAssignmentFlow {
	return &ContentAssignmentFlowImpl{
		contentRepo:    contentRepo,
		textRepo:       textRepo,
		assignmentRepo: assignmentRepo,
		phaseRepo:      phaseRepo,
		cfg:            cfg,
		db:             db,
	}
}

// selectionCriteria fills unset criteria from config for one category
func (f *ContentAssignmentFlowImpl) selectionCriteria(c dto.AssetCriteria, category string, now time.Time) models.AssetSelectionCriteria {
	out := models.AssetSelectionCriteria{
		ModelID:         c.ModelID,
		Category:        category,
		MinQualityScore: f.cfg.MinQualityScore,
		MaxUsageCount:   f.cfg.MaxUsageCount,
		ExcludeTakenBy:  c.ExcludeTakenBy,
		Limit:           f.cfg.CandidateLimit,
	}
	if c.MinQualityScore != nil {
		out.MinQualityScore = *c.MinQualityScore
	}
	if c.MaxUsageCount != nil {
		out.MaxUsageCount = *c.MaxUsageCount
	}
	exclude := f.cfg.ExcludeRecentlyUsed
	if c.ExcludeRecentlyUsed != nil {
		exclude = *c.ExcludeRecentlyUsed
	}
	if exclude && f.cfg.RecentUseWindow > 0 {
		since := now.Add(-f.cfg.RecentUseWindow)
		out.NotAssignedSince = &since
	}
	return out
}

// SelectContent returns the best content asset for criteria, widening to "any"; nil when none qualifies
func (f *ContentAssignmentFlowImpl) SelectContent(ctx context.Context, criteria dto.AssetCriteria) (*models.ContentAsset, error) {
	return f.selectContent(ctx, criteria, []string{criteria.Category})
}

// SelectText returns the best text asset for criteria, widening to "any"; nil when none qualifies
func (f *ContentAssignmentFlowImpl) SelectText(ctx context.Context, criteria dto.AssetCriteria) (*models.TextAsset, error) {
	return f.selectText(ctx, criteria, []string{criteria.Category})
}

func (f *ContentAssignmentFlowImpl) selectContent(ctx context.Context, criteria dto.AssetCriteria, categories []string) (*models.ContentAsset, error) {
	if len(categories) == 0 || strings.TrimSpace(categories[0]) == "" {
		return nil, NewBusinessError("CATEGORY_REQUIRED", "Asset category is required", ErrCategoryRequired)
	}
	now := utils.UTCNow()
	for _, category := range categoriesWithFallback(categories) {
		candidates, err := f.contentRepo.Candidates(ctx, f.selectionCriteria(criteria, category, now))
		if err != nil {
			return nil, err
		}
		if best, ok := bestAsset(candidates, f.shuffle); ok {
			return best, nil
		}
	}
	return nil, nil
}

func (f *ContentAssignmentFlowImpl) selectText(ctx context.Context, criteria dto.AssetCriteria, categories []string) (*models.TextAsset, error) {
	if len(categories) == 0 || strings.TrimSpace(categories[0]) == "" {
		return nil, NewBusinessError("CATEGORY_REQUIRED", "Asset category is required", ErrCategoryRequired)
	}
	now := utils.UTCNow()
	for _, category := range categoriesWithFallback(categories) {
		candidates, err := f.textRepo.Candidates(ctx, f.selectionCriteria(criteria, category, now))
		if err != nil {
			return nil, err
		}
		if best, ok := bestAsset(candidates, f.shuffle); ok {
			return best, nil
		}
	}
	return nil, nil
}

// AssignToPhase chooses the content and text a phase needs, records the assignment
// and writes the chosen ids onto the phase row
func (f *ContentAssignmentFlowImpl) AssignToPhase(ctx context.Context, accountID, phaseID uint, phase models.WarmupPhase, groupID *uint) (*dto.ContentAssignmentResult, error) {
	d, ok := DescriptorFor(phase)
	if !ok {
		return nil, NewBusinessErrorf("INVALID_PHASE", "Invalid warmup phase: %s", ErrInvalidPhase, phase)
	}
	if !d.RequiresContent && !d.RequiresText {
		return &dto.ContentAssignmentResult{Success: true, Message: "Phase requires no content"}, nil
	}

	criteria := dto.AssetCriteria{ModelID: groupID}
	var content *models.ContentAsset
	var text *models.TextAsset
	var err error

	if d.RequiresContent {
		content, err = f.selectContent(ctx, criteria, d.ContentCategories)
		if err != nil {
			return nil, err
		}
		if content == nil {
			return &dto.ContentAssignmentResult{
				Success: false,
				Message: fmt.Sprintf("No content available for categories %s", strings.Join(d.ContentCategories, ", ")),
			}, nil
		}
	}
	if d.RequiresText {
		textCriteria := criteria
		if phase == models.WarmupPhaseUsername {
			textCriteria.ExcludeTakenBy = &phase
		}
		text, err = f.selectText(ctx, textCriteria, d.TextCategories)
		if err != nil {
			return nil, err
		}
		if text == nil {
			return &dto.ContentAssignmentResult{
				Success: false,
				Message: fmt.Sprintf("No text available for categories %s", strings.Join(d.TextCategories, ", ")),
			}, nil
		}
	}

	var pooled []models.PooledAsset
	result := &dto.ContentAssignmentResult{Content: content, Text: text}
	if content != nil {
		result.ContentID = &content.ID
		pooled = append(pooled, content)
	}
	if text != nil {
		result.TextID = &text.ID
		pooled = append(pooled, text)
	}
	result.Score = assignmentScore(pooled...)
	result.Reason = assignmentReason(content, text)

	err = repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		now := utils.UTCNow()
		assignment := &models.ContentAssignment{
			AccountID:           accountID,
			WarmupPhaseID:       phaseID,
			Phase:               phase,
			ContentID:           result.ContentID,
			TextID:              result.TextID,
			AssignmentAlgorithm: models.AssignmentAlgorithmQualityScoreV1,
			AssignmentScore:     result.Score,
			AssignmentReason:    result.Reason,
			AssignedBy:          models.AssignmentAssignedBySystem,
			AssignedAt:          now,
			UpdatedAt:           now,
		}
		if err := f.assignmentRepo.Save(txCtx, assignment); err != nil {
			return err
		}
		result.AssignmentID = assignment.ID

		if err := f.phaseRepo.SetAssignment(txCtx, phaseID, result.ContentID, result.TextID, now); err != nil {
			return err
		}
		if content != nil {
			if err := f.contentRepo.RecordAssignment(txCtx, content.ID, now); err != nil {
				return err
			}
		}
		if text != nil {
			if err := f.textRepo.RecordAssignment(txCtx, text.ID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	result.Success = true
	result.Message = "Content assigned"
	return result, nil
}

// MarkUsed records the outcome of an assignment and feeds it into the asset counters.
// An assignment that already has an outcome is left unchanged.
func (f *ContentAssignmentFlowImpl) MarkUsed(ctx context.Context, assignmentID uint, success bool, performanceScore *float64, metrics json.RawMessage) error {
	return repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		assignment, err := f.assignmentRepo.ByID(txCtx, assignmentID)
		if err != nil {
			return err
		}
		if assignment == nil {
			return NewBusinessError("ASSIGNMENT_NOT_FOUND", "Content assignment not found", ErrAssignmentNotFound)
		}
		return f.markUsed(txCtx, assignment, success, performanceScore, metrics)
	})
}

func (f *ContentAssignmentFlowImpl) markUsed(ctx context.Context, assignment *models.ContentAssignment, success bool, performanceScore *float64, metrics json.RawMessage) error {
	marked, err := f.assignmentRepo.MarkUsed(ctx, assignment.ID, repository.AssignmentOutcome{
		Success:           success,
		PerformanceScore:  performanceScore,
		EngagementMetrics: metrics,
		At:                utils.UTCNow(),
	})
	if err != nil || !marked {
		return err
	}
	if assignment.ContentID != nil {
		if err := f.contentRepo.RecordOutcome(ctx, *assignment.ContentID, success); err != nil {
			return err
		}
	}
	if assignment.TextID != nil {
		if err := f.textRepo.RecordOutcome(ctx, *assignment.TextID, success); err != nil {
			return err
		}
	}
	return nil
}

// RecordPhaseOutcome marks the latest assignment of a phase row as used
func (f *ContentAssignmentFlowImpl) RecordPhaseOutcome(ctx context.Context, warmupPhaseID uint, success bool) error {
	return repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		assignment, err := f.assignmentRepo.LatestByWarmupPhase(txCtx, warmupPhaseID)
		if err != nil || assignment == nil {
			return err
		}
		return f.markUsed(txCtx, assignment, success, nil, nil)
	})
}

// RenewForRetry opens a fresh assignment carrying the same content and text when the latest
// assignment of a phase row already has an outcome, so the next run records its own outcome.
// It reports whether a new assignment was written.
func (f *ContentAssignmentFlowImpl) RenewForRetry(ctx context.Context, warmupPhaseID uint) (bool, error) {
	renewed := false
	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		prev, err := f.assignmentRepo.LatestByWarmupPhase(txCtx, warmupPhaseID)
		if err != nil || prev == nil || prev.UsedAt == nil {
			return err
		}

		now := utils.UTCNow()
		next := &models.ContentAssignment{
			AccountID:           prev.AccountID,
			WarmupPhaseID:       prev.WarmupPhaseID,
			Phase:               prev.Phase,
			ContentID:           prev.ContentID,
			TextID:              prev.TextID,
			AssignmentAlgorithm: prev.AssignmentAlgorithm,
			AssignmentScore:     prev.AssignmentScore,
			AssignmentReason:    "retry of assignment " + strconv.FormatUint(uint64(prev.ID), 10),
			AssignedBy:          models.AssignmentAssignedBySystem,
			AssignedAt:          now,
			UpdatedAt:           now,
		}
		if err := f.assignmentRepo.Save(txCtx, next); err != nil {
			return err
		}
		if prev.ContentID != nil {
			if err := f.contentRepo.RecordAssignment(txCtx, *prev.ContentID, now); err != nil {
				return err
			}
		}
		if prev.TextID != nil {
			if err := f.textRepo.RecordAssignment(txCtx, *prev.TextID, now); err != nil {
				return err
			}
		}
		renewed = true
		return nil
	})
	return renewed, err
}

// BlacklistContent removes a content asset from selection
func (f *ContentAssignmentFlowImpl) BlacklistContent(ctx context.Context, contentID uint, reason string) error {
	return f.contentRepo.Blacklist(ctx, contentID, reason)
}

// BlacklistText removes a text asset from selection
func (f *ContentAssignmentFlowImpl) BlacklistText(ctx context.Context, textID uint, reason string) error {
	return f.textRepo.Blacklist(ctx, textID, reason)
}

// AssignedContent resolves the content and text currently attached to a phase row
func (f *ContentAssignmentFlowImpl) AssignedContent(ctx context.Context, warmupPhaseID uint) (*dto.AssignedContent, error) {
	row, err := f.phaseRepo.ByID(ctx, warmupPhaseID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, NewBusinessError("PHASE_NOT_FOUND", "Warmup phase not found", ErrPhaseNotFound)
	}

	out := &dto.AssignedContent{WarmupPhaseID: warmupPhaseID}
	if out.Assignment, err = f.assignmentRepo.LatestByWarmupPhase(ctx, warmupPhaseID); err != nil {
		return nil, err
	}
	if row.AssignedContentID != nil {
		if out.Content, err = f.contentRepo.ByID(ctx, *row.AssignedContentID); err != nil {
			return nil, err
		}
	}
	if row.AssignedTextID != nil {
		if out.Text, err = f.textRepo.ByID(ctx, *row.AssignedTextID); err != nil {
			return nil, err
		}
	}
	return out, nil
}
