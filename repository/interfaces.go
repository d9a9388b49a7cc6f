// Package repository provides data access layer implementations and interfaces for database operations
package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/amirphl/warmup-orchestrator/models"
)

// RepositoryContext key for transaction in context
type contextKey string

const TxContextKey contextKey = "tx"

type Repository[T any, F any] interface {
	ByID(ctx context.Context, id uint) (*T, error)
	ByFilter(ctx context.Context, filter F, orderBy string, limit, offset int) ([]*T, error)
	Save(ctx context.Context, entity *T) error
	SaveBatch(ctx context.Context, entities []*T) error
	Count(ctx context.Context, filter F) (int64, error)
	Exists(ctx context.Context, filter F) (bool, error)
}

// LifecycleUpdate carries the audit columns written with a lifecycle state change
type LifecycleUpdate struct {
	From      models.LifecycleState
	To        models.LifecycleState
	ChangedBy string
	Notes     *string
	At        time.Time
}

// AccountRepository defines operations for accounts
type AccountRepository interface {
	Repository[models.Account, models.AccountFilter]
	ByIDForUpdate(ctx context.Context, id uint) (*models.Account, error)
	ByUsername(ctx context.Context, username string) (*models.Account, error)
	// UpdateLifecycleState applies the change only if the row still holds upd.From
	UpdateLifecycleState(ctx context.Context, id uint, upd LifecycleUpdate) (bool, error)
	ReleaseResources(ctx context.Context, id uint) error
	SetProxy(ctx context.Context, id uint, proxyID uint, at time.Time) error
	ClearProxy(ctx context.Context, id uint) error
	MarkRequiresReview(ctx context.Context, id uint, message string, at time.Time) error
	ClearReviewFlag(ctx context.Context, id uint) error
	UpdateUsername(ctx context.Context, id uint, username string) error
	TouchBotAction(ctx context.Context, id uint, workerID string, at time.Time) error
	ListWarmupCandidates(ctx context.Context, now time.Time, limit int) ([]*models.WarmupCandidate, error)
	CountByLifecycleState(ctx context.Context) (map[models.LifecycleState]int64, error)
}

// AccountStateTransitionRepository defines operations for the lifecycle audit log
type AccountStateTransitionRepository interface {
	Repository[models.AccountStateTransition, models.AccountStateTransitionFilter]
	ListByAccount(ctx context.Context, accountID uint, limit int) ([]*models.AccountStateTransition, error)
}

// PhaseCompletion carries the columns written when a phase completes
type PhaseCompletion struct {
	WorkerID        string
	DurationMs      int64
	ResponsePayload json.RawMessage
	At              time.Time
}

// PhaseFailure carries the columns written when a phase fails
type PhaseFailure struct {
	WorkerID       string
	NextStatus     models.PhaseStatus
	NextRetryCount int
	Escalated      bool
	Category       models.FailureCategory
	Message        string
	Details        json.RawMessage
	At             time.Time
}

// AccountWarmupPhaseRepository defines operations for warmup phase records
type AccountWarmupPhaseRepository interface {
	Repository[models.AccountWarmupPhase, models.AccountWarmupPhaseFilter]
	ByAccountAndPhase(ctx context.Context, accountID uint, phase models.WarmupPhase) (*models.AccountWarmupPhase, error)
	ByAccountAndPhaseForUpdate(ctx context.Context, accountID uint, phase models.WarmupPhase) (*models.AccountWarmupPhase, error)
	ListByAccount(ctx context.Context, accountID uint) ([]*models.AccountWarmupPhase, error)
	// InsertMissing creates rows that do not exist yet and returns how many were inserted
	InsertMissing(ctx context.Context, rows []*models.AccountWarmupPhase) (int64, error)
	// LockWorkerSlot serializes singleton-worker checks until the surrounding transaction ends
	LockWorkerSlot(ctx context.Context) error
	CountInProgress(ctx context.Context) (int64, error)
	MarkStarted(ctx context.Context, id uint, workerID, sessionID string, at time.Time) (bool, error)
	MarkCompleted(ctx context.Context, id uint, c PhaseCompletion) (bool, error)
	MarkFailed(ctx context.Context, id uint, f PhaseFailure) (bool, error)
	ReopenForReview(ctx context.Context, id uint, resolvedBy string, at time.Time) (bool, error)
	Unlock(ctx context.Context, accountID uint, phases []models.WarmupPhase, availableAt time.Time) (int64, error)
	ApplyCooldown(ctx context.Context, accountID uint, until time.Time) (int64, error)
	ResetStuck(ctx context.Context, startedBefore time.Time, message string, at time.Time) ([]*models.AccountWarmupPhase, error)
	ReleaseFailed(ctx context.Context, failedBefore time.Time, at time.Time) (int64, error)
	SkipOpen(ctx context.Context, accountID uint, reason string, at time.Time) (int64, error)
	SetAssignment(ctx context.Context, id uint, contentID, textID *uint, at time.Time) error
	CountByStatus(ctx context.Context, accountID uint) (map[models.PhaseStatus]int64, error)
	CountByPhaseAndStatus(ctx context.Context) ([]*models.PhaseStatusCount, error)
}

// ContentAssetRepository defines operations for the image/video pool
type ContentAssetRepository interface {
	Repository[models.ContentAsset, models.AssetFilter]
	Candidates(ctx context.Context, criteria models.AssetSelectionCriteria) ([]*models.ContentAsset, error)
	RecordAssignment(ctx context.Context, id uint, at time.Time) error
	RecordOutcome(ctx context.Context, id uint, success bool) error
	Blacklist(ctx context.Context, id uint, reason string) error
}

// TextAssetRepository defines operations for the text pool
type TextAssetRepository interface {
	Repository[models.TextAsset, models.AssetFilter]
	Candidates(ctx context.Context, criteria models.AssetSelectionCriteria) ([]*models.TextAsset, error)
	RecordAssignment(ctx context.Context, id uint, at time.Time) error
	RecordOutcome(ctx context.Context, id uint, success bool) error
	Blacklist(ctx context.Context, id uint, reason string) error
}

// AssignmentOutcome carries the columns written when an assignment is used
type AssignmentOutcome struct {
	Success           bool
	PerformanceScore  *float64
	EngagementMetrics json.RawMessage
	At                time.Time
}

// ContentAssignmentRepository defines operations for content assignment records
type ContentAssignmentRepository interface {
	Repository[models.ContentAssignment, models.ContentAssignmentFilter]
	LatestByWarmupPhase(ctx context.Context, warmupPhaseID uint) (*models.ContentAssignment, error)
	// MarkUsed writes the outcome once; a second call reports false
	MarkUsed(ctx context.Context, id uint, outcome AssignmentOutcome) (bool, error)
	StatsByPhase(ctx context.Context, since time.Time) ([]*models.AssignmentStats, error)
}

// ProxyRepository defines operations for proxies
type ProxyRepository interface {
	Repository[models.Proxy, models.ProxyFilter]
	// LockLeastLoaded row-locks the active proxy with the most free capacity
	LockLeastLoaded(ctx context.Context) (*models.Proxy, error)
	IncrementAccountCount(ctx context.Context, id uint, at time.Time) (bool, error)
	DecrementAccountCount(ctx context.Context, id uint) error
	Stats(ctx context.Context) (*models.ProxyStats, error)
	ListAvailable(ctx context.Context, limit int) ([]*models.Proxy, error)
}

// WarmupConfigurationRepository defines operations for per-group warmup policy
type WarmupConfigurationRepository interface {
	Repository[models.WarmupConfiguration, models.WarmupConfigurationFilter]
	ByModelID(ctx context.Context, modelID uint) (*models.WarmupConfiguration, error)
	Upsert(ctx context.Context, cfg *models.WarmupConfiguration) error
}
