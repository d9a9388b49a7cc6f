package businessflow

import (
	"testing"
	"time"

	"github.com/amirphl/warmup-orchestrator/app/dto"
	"github.com/amirphl/warmup-orchestrator/models"
	testingutil "github.com/amirphl/warmup-orchestrator/testing"
	"github.com/amirphl/warmup-orchestrator/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWarmupCompletionPromotesIntegration(t *testing.T) {
	withIntegrationDB(t, func(t *testing.T, tdb *testingutil.TestDB) {
		ctx := testingutil.CreateTestContext()
		fixtures := testingutil.NewTestFixtures(tdb)
		f := newIntegrationFlows(tdb)

		_, err := fixtures.CreateTestContentAsset(nil, models.AssetCategoryAny, 80, 0)
		require.NoError(t, err)
		_, err = fixtures.CreateTestTextAsset(nil, models.AssetCategoryAny, "Morning light", 80, 0)
		require.NoError(t, err)

		// manual_setup is already done
		account := warmupAccount(t, tdb, f)
		phases := models.OrderedWarmupPhases[1:]

		for i, phase := range phases {
			started, err := f.pipeline.StartPhase(ctx, account.ID, phase, "worker-a", "run-"+string(phase))
			require.NoError(t, err, phase)
			require.True(t, started.Success, "%s: %s", phase, started.Message)

			done, err := f.pipeline.CompletePhase(ctx, dto.CompletePhaseRequest{AccountID: account.ID, Phase: phase, WorkerID: "worker-a"})
			require.NoError(t, err, phase)
			assert.Equal(t, i == len(phases)-1, done.Promoted, phase)
		}

		status, err := f.pipeline.WarmupStatus(ctx, account.ID)
		require.NoError(t, err)
		assert.Equal(t, 12, status.CompletedPhases)

		var promoted models.Account
		require.NoError(t, tdb.DB.First(&promoted, account.ID).Error)
		assert.Equal(t, models.LifecycleStateActive, promoted.LifecycleState)

		history, err := f.lifecycle.StateHistory(ctx, account.ID, 10)
		require.NoError(t, err)
		require.NotEmpty(t, history)
		assert.Equal(t, models.LifecycleStateWarmup, history[0].FromState)
		assert.Equal(t, models.LifecycleStateActive, history[0].ToState)
		require.NotNil(t, history[0].Reason)
		assert.Equal(t, models.TransitionReasonWarmupComplete, *history[0].Reason)
	})
}

func TestPromoteToActiveIntegration(t *testing.T) {
	tests := []struct {
		name         string
		state        models.LifecycleState
		wantPromoted bool
		wantState    models.LifecycleState
	}{
		{"warmup account is promoted", models.LifecycleStateWarmup, true, models.LifecycleStateActive},
		{"ready account is left alone", models.LifecycleStateReady, false, models.LifecycleStateReady},
		{"paused account is left alone", models.LifecycleStatePaused, false, models.LifecycleStatePaused},
	}

	withIntegrationDB(t, func(t *testing.T, tdb *testingutil.TestDB) {
		ctx := testingutil.CreateTestContext()
		fixtures := testingutil.NewTestFixtures(tdb)
		f := newIntegrationFlows(tdb)

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				account, err := fixtures.CreateTestAccount(testingutil.WithLifecycleState(tt.state))
				require.NoError(t, err)

				promoted, err := f.lifecycle.PromoteToActive(ctx, account.ID)
				require.NoError(t, err)
				assert.Equal(t, tt.wantPromoted, promoted)

				var stored models.Account
				require.NoError(t, tdb.DB.First(&stored, account.ID).Error)
				assert.Equal(t, tt.wantState, stored.LifecycleState)

				history, err := f.lifecycle.StateHistory(ctx, account.ID, 10)
				require.NoError(t, err)
				if tt.wantPromoted {
					require.Len(t, history, 1)
					assert.Equal(t, models.TransitionReasonWarmupComplete, *history[0].Reason)
				} else {
					assert.Empty(t, history)
				}
			})
		}
	})
}

func TestResetStuckPhasesIntegration(t *testing.T) {
	withIntegrationDB(t, func(t *testing.T, tdb *testingutil.TestDB) {
		ctx := testingutil.CreateTestContext()
		f := newIntegrationFlows(tdb)
		account := warmupAccount(t, tdb, f)

		_, err := f.pipeline.StartPhase(ctx, account.ID, models.WarmupPhaseGender, "worker-a", "s1")
		require.NoError(t, err)

		// started just now
		reset, err := f.pipeline.ResetStuckPhases(ctx, 10*time.Minute)
		require.NoError(t, err)
		assert.Zero(t, reset)
		gender := phaseRow(t, f, account.ID, models.WarmupPhaseGender)
		assert.Equal(t, models.PhaseStatusInProgress, gender.Status)
		require.NotNil(t, gender.ExecutingWorkerID)
		assert.Equal(t, "worker-a", *gender.ExecutingWorkerID)

		// started past the threshold
		require.NoError(t, tdb.DB.Model(&models.AccountWarmupPhase{}).
			Where("id = ?", gender.ID).
			Update("started_at", utils.UTCNow().Add(-20*time.Minute)).Error)

		reset, err = f.pipeline.ResetStuckPhases(ctx, 10*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(1), reset)

		gender = phaseRow(t, f, account.ID, models.WarmupPhaseGender)
		assert.Equal(t, models.PhaseStatusAvailable, gender.Status)
		assert.Nil(t, gender.ExecutingWorkerID)
		require.NotNil(t, gender.ErrorMessage)
		assert.Contains(t, *gender.ErrorMessage, "stuck")

		busy, err := f.pipeline.HasPhaseInProgress(ctx)
		require.NoError(t, err)
		assert.False(t, busy)
	})
}

func TestInvalidateIntegration(t *testing.T) {
	tests := []struct {
		name          string
		proxyCount    int
		wantProxyLeft int
	}{
		{"proxy counter is decremented", 2, 1},
		{"proxy counter stays at zero", 0, 0},
	}

	withIntegrationDB(t, func(t *testing.T, tdb *testingutil.TestDB) {
		ctx := testingutil.CreateTestContext()
		fixtures := testingutil.NewTestFixtures(tdb)
		f := newIntegrationFlows(tdb)

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				proxy, err := fixtures.CreateTestProxy(nil, tt.proxyCount)
				require.NoError(t, err)
				account, err := fixtures.CreateTestAccount(
					testingutil.WithLifecycleState(models.LifecycleStateWarmup),
					testingutil.WithContainer("11"),
					testingutil.WithProxy(proxy.ID),
				)
				require.NoError(t, err)
				_, err = f.pipeline.InitializePhases(ctx, account.ID)
				require.NoError(t, err)
				_, err = f.pipeline.StartPhase(ctx, account.ID, models.WarmupPhaseManualSetup, "operator", "setup")
				require.NoError(t, err)
				_, err = f.pipeline.CompletePhase(ctx, dto.CompletePhaseRequest{AccountID: account.ID, Phase: models.WarmupPhaseManualSetup, WorkerID: "operator"})
				require.NoError(t, err)

				res, err := f.lifecycle.Invalidate(ctx, account.ID, "operator")
				require.NoError(t, err)
				assert.True(t, res.Success)
				assert.Equal(t, models.LifecycleStateWarmup, res.FromState)

				var storedProxy models.Proxy
				require.NoError(t, tdb.DB.First(&storedProxy, proxy.ID).Error)
				assert.Equal(t, tt.wantProxyLeft, storedProxy.AccountCount)

				var stored models.Account
				require.NoError(t, tdb.DB.First(&stored, account.ID).Error)
				assert.Equal(t, models.LifecycleStateArchived, stored.LifecycleState)
				assert.Nil(t, stored.ProxyID)
				assert.Nil(t, stored.ProxyAssignedAt)
				assert.Nil(t, stored.ContainerHandle)

				assert.Equal(t, models.PhaseStatusCompleted, phaseStatus(t, f, account.ID, models.WarmupPhaseManualSetup))
				assert.Equal(t, models.PhaseStatusSkipped, phaseStatus(t, f, account.ID, models.WarmupPhaseGender))
				assert.Equal(t, models.PhaseStatusSkipped, phaseStatus(t, f, account.ID, models.WarmupPhaseNewHighlight))

				history, err := f.lifecycle.StateHistory(ctx, account.ID, 10)
				require.NoError(t, err)
				require.Len(t, history, 1)
				assert.Equal(t, models.LifecycleStateArchived, history[0].ToState)
				assert.True(t, history[0].IsForced)
				require.NotNil(t, history[0].Reason)
				assert.Equal(t, models.TransitionReasonInvalidation, *history[0].Reason)
				assert.Equal(t, "operator", history[0].ChangedBy)
			})
		}
	})
}

func TestForcedTransitionIntegration(t *testing.T) {
	withIntegrationDB(t, func(t *testing.T, tdb *testingutil.TestDB) {
		ctx := testingutil.CreateTestContext()
		fixtures := testingutil.NewTestFixtures(tdb)
		f := newIntegrationFlows(tdb)

		// imported -> active is not a declared edge
		require.False(t, f.lifecycle.IsValidTransition(models.LifecycleStateImported, models.LifecycleStateActive))

		rejected, err := fixtures.CreateTestAccount()
		require.NoError(t, err)
		res, err := f.lifecycle.Transition(ctx, rejected.ID, models.LifecycleStateActive, dto.TransitionOptions{ChangedBy: "operator"})
		require.Error(t, err)
		assert.True(t, IsInvalidTransition(err))
		assert.False(t, res.Success)

		var unchanged models.Account
		require.NoError(t, tdb.DB.First(&unchanged, rejected.ID).Error)
		assert.Equal(t, models.LifecycleStateImported, unchanged.LifecycleState)
		assert.Nil(t, unchanged.StateChangedAt)
		history, err := f.lifecycle.StateHistory(ctx, rejected.ID, 10)
		require.NoError(t, err)
		assert.Empty(t, history)

		forced, err := fixtures.CreateTestAccount()
		require.NoError(t, err)
		res, err = f.lifecycle.Transition(ctx, forced.ID, models.LifecycleStateActive, dto.TransitionOptions{
			Force:     true,
			ChangedBy: "operator",
			Reason:    utils.ToPtr("manual override"),
		})
		require.NoError(t, err)
		assert.True(t, res.Success)
		assert.Equal(t, models.LifecycleStateImported, res.FromState)

		var moved models.Account
		require.NoError(t, tdb.DB.First(&moved, forced.ID).Error)
		assert.Equal(t, models.LifecycleStateActive, moved.LifecycleState)
		history, err = f.lifecycle.StateHistory(ctx, forced.ID, 10)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.True(t, history[0].IsForced)
		assert.Equal(t, "manual override", *history[0].Reason)
	})
}

func TestBulkTransitionIsolatesFailuresIntegration(t *testing.T) {
	withIntegrationDB(t, func(t *testing.T, tdb *testingutil.TestDB) {
		ctx := testingutil.CreateTestContext()
		fixtures := testingutil.NewTestFixtures(tdb)
		f := newIntegrationFlows(tdb)

		good, err := fixtures.CreateTestAccount()
		require.NoError(t, err)
		// archived is terminal
		archived, err := fixtures.CreateTestAccount(testingutil.WithLifecycleState(models.LifecycleStateArchived))
		require.NoError(t, err)
		const missing uint = 999999

		res, err := f.lifecycle.BulkTransition(ctx, []uint{missing, good.ID, archived.ID}, models.LifecycleStateArchived, dto.TransitionOptions{})
		require.NoError(t, err)
		assert.Equal(t, 3, res.TotalProcessed)
		assert.Equal(t, 1, res.SuccessCount)
		assert.Equal(t, 2, res.FailureCount)
		assert.Equal(t, []uint{good.ID}, res.Successful)
		require.Len(t, res.Failed, 2)
		assert.Equal(t, missing, res.Failed[0].AccountID)
		assert.Equal(t, archived.ID, res.Failed[1].AccountID)
		assert.NotEmpty(t, res.Failed[1].Error)

		var moved models.Account
		require.NoError(t, tdb.DB.First(&moved, good.ID).Error)
		assert.Equal(t, models.LifecycleStateArchived, moved.LifecycleState)

		history, err := f.lifecycle.StateHistory(ctx, good.ID, 10)
		require.NoError(t, err)
		require.Len(t, history, 1)
		require.NotNil(t, history[0].Reason)
		assert.Equal(t, models.TransitionReasonBulk, *history[0].Reason)

		history, err = f.lifecycle.StateHistory(ctx, archived.ID, 10)
		require.NoError(t, err)
		assert.Empty(t, history)
	})
}
