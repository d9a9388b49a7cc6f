package businessflow

import (
	"context"
	"testing"
	"time"

	"github.com/amirphl/warmup-orchestrator/app/dto"
	"github.com/amirphl/warmup-orchestrator/config"
	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/amirphl/warmup-orchestrator/repository"
	testingutil "github.com/amirphl/warmup-orchestrator/testing"
	"github.com/amirphl/warmup-orchestrator/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type integrationFlows struct {
	lifecycle  AccountLifecycleFlow
	pipeline   WarmupPipelineFlow
	proxies    ProxyAssignmentFlow
	assignment ContentAssignmentFlow
	phaseRepo  repository.AccountWarmupPhaseRepository
}

func newIntegrationFlows(tdb *testingutil.TestDB) *integrationFlows {
	db := tdb.DB
	accountRepo := repository.NewAccountRepository(db)
	transitionRepo := repository.NewAccountStateTransitionRepository(db)
	phaseRepo := repository.NewAccountWarmupPhaseRepository(db)
	proxyRepo := repository.NewProxyRepository(db)
	groupRepo := repository.NewWarmupConfigurationRepository(db)

	lifecycle := NewAccountLifecycleFlow(accountRepo, transitionRepo, phaseRepo, proxyRepo, db)
	assignment := NewContentAssignmentFlow(
		repository.NewContentAssetRepository(db),
		repository.NewTextAssetRepository(db),
		repository.NewContentAssignmentRepository(db),
		phaseRepo,
		config.AssignmentConfig{MaxUsageCount: 50, CandidateLimit: 20},
		db,
	)
	return &integrationFlows{
		lifecycle:  lifecycle,
		pipeline:   NewWarmupPipelineFlow(accountRepo, phaseRepo, groupRepo, assignment, lifecycle, config.WarmupConfig{DefaultMaxRetries: 3}, db),
		proxies:    NewProxyAssignmentFlow(accountRepo, proxyRepo, db),
		assignment: assignment,
		phaseRepo:  phaseRepo,
	}
}

func withIntegrationDB(t *testing.T, fn func(t *testing.T, tdb *testingutil.TestDB)) {
	t.Helper()
	if !testingutil.Available() {
		t.Skip("TEST_DB_HOST not set")
	}
	err := testingutil.TestWithDB(func(tdb *testingutil.TestDB) error {
		fn(t, tdb)
		return nil
	})
	require.NoError(t, err)
}

func phaseRow(t *testing.T, f *integrationFlows, accountID uint, phase models.WarmupPhase) *models.AccountWarmupPhase {
	t.Helper()
	row, err := f.phaseRepo.ByAccountAndPhase(context.Background(), accountID, phase)
	require.NoError(t, err)
	require.NotNil(t, row)
	return row
}

// warmupAccount creates an account in warmup with every resource bound,
// initializes its phases and completes manual_setup
func warmupAccount(t *testing.T, tdb *testingutil.TestDB, f *integrationFlows) *models.Account {
	t.Helper()
	ctx := testingutil.CreateTestContext()
	fixtures := testingutil.NewTestFixtures(tdb)

	proxy, err := fixtures.CreateTestProxy(nil, 1)
	require.NoError(t, err)
	account, err := fixtures.CreateTestAccount(
		testingutil.WithLifecycleState(models.LifecycleStateWarmup),
		testingutil.WithModelID(1),
		testingutil.WithContainer("7"),
		testingutil.WithProxy(proxy.ID),
	)
	require.NoError(t, err)

	_, err = f.pipeline.InitializePhases(ctx, account.ID)
	require.NoError(t, err)
	_, err = f.pipeline.StartPhase(ctx, account.ID, models.WarmupPhaseManualSetup, "operator", "setup")
	require.NoError(t, err)
	_, err = f.pipeline.CompletePhase(ctx, dto.CompletePhaseRequest{AccountID: account.ID, Phase: models.WarmupPhaseManualSetup, WorkerID: "operator"})
	require.NoError(t, err)
	return account
}

func assignmentCount(t *testing.T, tdb *testingutil.TestDB, warmupPhaseID uint) int64 {
	t.Helper()
	var n int64
	require.NoError(t, tdb.DB.Model(&models.ContentAssignment{}).Where("warmup_phase_id = ?", warmupPhaseID).Count(&n).Error)
	return n
}

func phaseStatus(t *testing.T, f *integrationFlows, accountID uint, phase models.WarmupPhase) models.PhaseStatus {
	t.Helper()
	row, err := f.phaseRepo.ByAccountAndPhase(context.Background(), accountID, phase)
	require.NoError(t, err)
	require.NotNil(t, row)
	return row.Status
}

func TestWarmupPipelineIntegration(t *testing.T) {
	withIntegrationDB(t, func(t *testing.T, tdb *testingutil.TestDB) {
		ctx := testingutil.CreateTestContext()
		fixtures := testingutil.NewTestFixtures(tdb)
		f := newIntegrationFlows(tdb)

		_, err := fixtures.CreateTestProxy(nil, 0)
		require.NoError(t, err)
		account, err := fixtures.CreateTestAccount(testingutil.WithModelID(1), testingutil.WithContainer("7"))
		require.NoError(t, err)

		// warmup requires a proxy
		_, err = f.lifecycle.Transition(ctx, account.ID, models.LifecycleStateReady, dto.TransitionOptions{})
		require.NoError(t, err)
		res, err := f.lifecycle.Transition(ctx, account.ID, models.LifecycleStateWarmup, dto.TransitionOptions{})
		require.Error(t, err)
		assert.True(t, IsTransitionValidationFailed(err))
		require.NotEmpty(t, res.ValidationErrors)
		assert.Equal(t, "PROXY_REQUIRED", res.ValidationErrors[0].Code)

		assigned, err := f.proxies.AssignProxy(ctx, account.ID)
		require.NoError(t, err)
		require.True(t, assigned.Success)

		res, err = f.lifecycle.Transition(ctx, account.ID, models.LifecycleStateWarmup, dto.TransitionOptions{ChangedBy: "tester"})
		require.NoError(t, err)
		assert.Equal(t, models.LifecycleStateReady, res.FromState)

		history, err := f.lifecycle.StateHistory(ctx, account.ID, 10)
		require.NoError(t, err)
		assert.Len(t, history, 2)

		initRes, err := f.pipeline.InitializePhases(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(12), initRes.Created)
		initRes, err = f.pipeline.InitializePhases(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(0), initRes.Created)

		assert.Equal(t, models.PhaseStatusAvailable, phaseStatus(t, f, account.ID, models.WarmupPhaseManualSetup))
		assert.Equal(t, models.PhaseStatusPending, phaseStatus(t, f, account.ID, models.WarmupPhaseGender))

		_, err = f.pipeline.StartPhase(ctx, account.ID, models.WarmupPhaseGender, "worker-a", "s0")
		assert.True(t, IsPhaseNotAvailable(err))

		_, err = f.pipeline.StartPhase(ctx, account.ID, models.WarmupPhaseManualSetup, "operator", "s1")
		require.NoError(t, err)

		busy, err := f.pipeline.HasPhaseInProgress(ctx)
		require.NoError(t, err)
		assert.True(t, busy)

		_, err = f.pipeline.StartPhase(ctx, account.ID, models.WarmupPhaseBio, "worker-a", "s2")
		assert.True(t, IsSingletonWorkerBusy(err))

		_, err = f.pipeline.CompletePhase(ctx, dto.CompletePhaseRequest{AccountID: account.ID, Phase: models.WarmupPhaseManualSetup, WorkerID: "someone-else"})
		assert.True(t, IsPhaseNotOwned(err))

		done, err := f.pipeline.CompletePhase(ctx, dto.CompletePhaseRequest{AccountID: account.ID, Phase: models.WarmupPhaseManualSetup, WorkerID: "operator"})
		require.NoError(t, err)
		assert.True(t, done.Success)
		assert.False(t, done.Promoted)

		assert.Equal(t, models.PhaseStatusAvailable, phaseStatus(t, f, account.ID, models.WarmupPhaseGender))
		assert.Equal(t, models.PhaseStatusAvailable, phaseStatus(t, f, account.ID, models.WarmupPhaseFirstHighlight))
		assert.Equal(t, models.PhaseStatusPending, phaseStatus(t, f, account.ID, models.WarmupPhaseNewHighlight))
		assert.Equal(t, models.PhaseStatusPending, phaseStatus(t, f, account.ID, models.WarmupPhaseSetToPrivate))

		status, err := f.pipeline.WarmupStatus(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, status.CompletedPhases)
		assert.Equal(t, 12, status.TotalPhases)

		// retriable failure
		_, err = f.pipeline.StartPhase(ctx, account.ID, models.WarmupPhaseGender, "worker-a", "s3")
		require.NoError(t, err)
		failed, err := f.pipeline.FailPhase(ctx, dto.FailPhaseRequest{
			AccountID: account.ID, Phase: models.WarmupPhaseGender, WorkerID: "worker-a",
			Message: "tap target missing", FailureCategory: models.FailureCategoryBotError,
		})
		require.NoError(t, err)
		assert.Equal(t, models.PhaseStatusFailed, failed.Status)
		assert.False(t, failed.Escalated)

		released, err := f.pipeline.ReleaseFailedPhases(ctx, utils.UTCNow().Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, int64(1), released)
		assert.Equal(t, models.PhaseStatusAvailable, phaseStatus(t, f, account.ID, models.WarmupPhaseGender))

		// escalating failure flags the account
		_, err = f.pipeline.StartPhase(ctx, account.ID, models.WarmupPhaseGender, "worker-a", "s4")
		require.NoError(t, err)
		failed, err = f.pipeline.FailPhase(ctx, dto.FailPhaseRequest{
			AccountID: account.ID, Phase: models.WarmupPhaseGender, WorkerID: "worker-a",
			Message: "captcha shown", FailureCategory: models.FailureCategoryCaptcha,
		})
		require.NoError(t, err)
		assert.True(t, failed.Escalated)
		assert.Equal(t, models.PhaseStatusRequiresReview, failed.Status)

		var flagged models.Account
		require.NoError(t, tdb.DB.First(&flagged, account.ID).Error)
		assert.True(t, flagged.RequiresHumanReview)

		_, err = f.pipeline.ResolveReview(ctx, account.ID, models.WarmupPhaseBio, "operator")
		assert.True(t, IsPhaseNotInReview(err))

		resolved, err := f.pipeline.ResolveReview(ctx, account.ID, models.WarmupPhaseGender, "operator")
		require.NoError(t, err)
		assert.True(t, resolved.Success)
		assert.Equal(t, models.PhaseStatusAvailable, phaseStatus(t, f, account.ID, models.WarmupPhaseGender))

		var cleared models.Account
		require.NoError(t, tdb.DB.First(&cleared, account.ID).Error)
		assert.False(t, cleared.RequiresHumanReview)

		// a stuck phase is returned to the queue
		_, err = f.pipeline.StartPhase(ctx, account.ID, models.WarmupPhaseGender, "worker-a", "s5")
		require.NoError(t, err)
		reset, err := f.pipeline.ResetOrphanedPhases(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), reset)
		assert.Equal(t, models.PhaseStatusAvailable, phaseStatus(t, f, account.ID, models.WarmupPhaseGender))
	})
}

func TestProxyAssignmentIntegration(t *testing.T) {
	withIntegrationDB(t, func(t *testing.T, tdb *testingutil.TestDB) {
		ctx := testingutil.CreateTestContext()
		fixtures := testingutil.NewTestFixtures(tdb)
		f := newIntegrationFlows(tdb)

		proxy, err := fixtures.CreateTestProxy(utils.ToPtr(1), 0)
		require.NoError(t, err)
		first, err := fixtures.CreateTestAccount()
		require.NoError(t, err)
		second, err := fixtures.CreateTestAccount()
		require.NoError(t, err)

		res, err := f.proxies.AssignProxy(ctx, first.ID)
		require.NoError(t, err)
		require.True(t, res.Success)
		assert.Equal(t, proxy.ID, *res.ProxyID)

		again, err := f.proxies.AssignProxy(ctx, first.ID)
		require.NoError(t, err)
		assert.True(t, again.Success)
		assert.Equal(t, "Account already has a proxy", again.Message)

		full, err := f.proxies.AssignProxy(ctx, second.ID)
		require.NoError(t, err)
		assert.False(t, full.Success)
		assert.Nil(t, full.ProxyID)

		stats, err := f.proxies.ProxyStats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats.UsedCapacity)

		_, err = f.proxies.UnassignProxy(ctx, first.ID)
		require.NoError(t, err)

		res, err = f.proxies.AssignProxy(ctx, second.ID)
		require.NoError(t, err)
		assert.True(t, res.Success)
	})
}
