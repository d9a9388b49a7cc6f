package scheduler

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/amirphl/warmup-orchestrator/app/dto"
	businessflow "github.com/amirphl/warmup-orchestrator/business_flow"
	"github.com/amirphl/warmup-orchestrator/config"
	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/amirphl/warmup-orchestrator/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePipeline struct {
	mu sync.Mutex

	busy        bool
	stuckErr    error
	next        *models.AccountWarmupPhase
	startErr    error
	noContent   map[uint]bool
	orphanCalls int

	started         []string
	startedAccounts []uint
	completed []dto.CompletePhaseRequest
	failed    []dto.FailPhaseRequest
}

func (p *fakePipeline) NextEligiblePhase(_ context.Context, accountID uint, _ string) (*models.AccountWarmupPhase, error) {
	if p.next == nil {
		return nil, nil
	}
	phase := *p.next
	phase.AccountID = accountID
	return &phase, nil
}

func (p *fakePipeline) StartPhase(_ context.Context, accountID uint, phase models.WarmupPhase, workerID, sessionID string) (*dto.PhaseResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return nil, p.startErr
	}
	if p.noContent[accountID] {
		return &dto.PhaseResult{AccountID: accountID, Phase: phase, Status: models.PhaseStatusAvailable, Message: "No text available"}, nil
	}
	p.started = append(p.started, sessionID)
	p.startedAccounts = append(p.startedAccounts, accountID)
	return &dto.PhaseResult{Success: true, AccountID: accountID, Phase: phase, Status: models.PhaseStatusInProgress}, nil
}

func (p *fakePipeline) CompletePhase(_ context.Context, req dto.CompletePhaseRequest) (*dto.PhaseResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.completed = append(p.completed, req)
	return &dto.PhaseResult{Success: true, AccountID: req.AccountID, Phase: req.Phase, Status: models.PhaseStatusCompleted}, nil
}

func (p *fakePipeline) FailPhase(_ context.Context, req dto.FailPhaseRequest) (*dto.PhaseResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failed = append(p.failed, req)
	out := businessflow.NextFailureStatus(businessflow.FailureInput{MaxRetries: 3, Category: req.FailureCategory})
	return &dto.PhaseResult{Success: true, Status: out.Status, Escalated: out.Escalated}, nil
}

func (p *fakePipeline) ScriptSequenceFor(phase models.WarmupPhase, containerHandle string) (businessflow.PhaseDescriptor, businessflow.ScriptSequence) {
	return businessflow.ScriptSequenceFor(phase, containerHandle)
}

func (p *fakePipeline) ResetStuckPhases(context.Context, time.Duration) (int64, error) {
	return 0, p.stuckErr
}

func (p *fakePipeline) ResetOrphanedPhases(context.Context) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orphanCalls++
	return 0, nil
}

func (p *fakePipeline) ReleaseFailedPhases(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (p *fakePipeline) HasPhaseInProgress(context.Context) (bool, error) {
	return p.busy, nil
}

type fakeContent struct {
	assigned *dto.AssignedContent
}

func (c *fakeContent) AssignedContent(context.Context, uint) (*dto.AssignedContent, error) {
	return c.assigned, nil
}

type fakeCandidates struct {
	candidates []*models.WarmupCandidate
	usernames  map[uint]string
	limit      int
}

func (c *fakeCandidates) ListWarmupCandidates(_ context.Context, _ time.Time, limit int) ([]*models.WarmupCandidate, error) {
	c.limit = limit
	if len(c.candidates) > limit {
		return c.candidates[:limit], nil
	}
	return c.candidates, nil
}

func (c *fakeCandidates) UpdateUsername(_ context.Context, id uint, username string) error {
	if c.usernames == nil {
		c.usernames = map[uint]string{}
	}
	c.usernames[id] = username
	return nil
}

type fakeExecutor struct {
	result *dto.ExecutorResult
	err    error
	reqs   []dto.ExecutorRequest
}

func (e *fakeExecutor) Execute(_ context.Context, req dto.ExecutorRequest) (*dto.ExecutorResult, error) {
	e.reqs = append(e.reqs, req)
	return e.result, e.err
}

type fakeCooldownSource map[uint]*models.WarmupConfiguration

func (s fakeCooldownSource) ByModelID(_ context.Context, modelID uint) (*models.WarmupConfiguration, error) {
	return s[modelID], nil
}

type schedulerFixture struct {
	pipeline   *fakePipeline
	content    *fakeContent
	candidates *fakeCandidates
	executor   *fakeExecutor
	scheduler  *WarmupScheduler
}

func newSchedulerFixture(phase models.WarmupPhase) *schedulerFixture {
	modelID := uint(9)
	f := &schedulerFixture{
		pipeline: &fakePipeline{
			next: &models.AccountWarmupPhase{ID: 100, AccountID: 1, Phase: phase, Status: models.PhaseStatusAvailable},
		},
		content: &fakeContent{},
		candidates: &fakeCandidates{candidates: []*models.WarmupCandidate{{
			AccountID:       1,
			Username:        "old_name",
			ModelID:         &modelID,
			ContainerHandle: "17",
			ReadyPhases:     3,
			CompletedPhases: 1,
		}}},
		executor: &fakeExecutor{result: &dto.ExecutorResult{Success: true, ExecutionTimeMs: 4200}},
	}

	cooldown := NewCooldownPolicy(fakeCooldownSource{modelID: {ModelID: modelID, MinCooldownHours: 2, MaxCooldownHours: 4}}, 15, 24)
	cooldown.float64n = func() float64 { return 0.5 }

	f.scheduler = NewWarmupScheduler(Deps{
		Pipeline:   f.pipeline,
		Content:    f.content,
		Candidates: f.candidates,
		Cooldown:   cooldown,
		Executor:   f.executor,
	}, config.SchedulerConfig{
		Interval:     time.Minute,
		StuckTimeout: 10 * time.Minute,
		RetryDelay:   10 * time.Minute,
		WorkerID:     "test-worker",
	}, log.New(io.Discard, "", 0))
	return f
}

func TestRunOnceCompletesPhase(t *testing.T) {
	f := newSchedulerFixture(models.WarmupPhaseGender)
	before := utils.UTCNow()

	outcome := f.scheduler.RunOnce(context.Background())

	assert.Equal(t, OutcomeCompleted, outcome)
	require.Len(t, f.pipeline.started, 1)
	assert.True(t, strings.HasPrefix(f.pipeline.started[0], "session-"))

	require.Len(t, f.executor.reqs, 1)
	req := f.executor.reqs[0]
	assert.Equal(t, uint(1), req.AccountID)
	assert.Equal(t, models.WarmupPhaseGender, req.Phase)
	assert.True(t, req.SkipOnboarding)
	assert.Equal(t, []string{"open_container17.lua", "change_gender_to_female.lua"}, req.LuaScripts)
	assert.Equal(t, f.pipeline.started[0], req.SessionID)
	assert.Equal(t, 5, f.candidates.limit)

	require.Len(t, f.pipeline.completed, 1)
	done := f.pipeline.completed[0]
	assert.Equal(t, "test-worker", done.WorkerID)
	assert.Equal(t, int64(4200), done.DurationMs)
	require.NotNil(t, done.NextAvailableAt)
	// group range 2..4h at r=0.5
	assert.WithinDuration(t, before.Add(3*time.Hour), *done.NextAvailableAt, time.Minute)
	assert.Empty(t, f.pipeline.failed)
}

func TestRunOnceUsernamePostAction(t *testing.T) {
	f := newSchedulerFixture(models.WarmupPhaseUsername)
	f.pipeline.next.AssignedTextID = utils.ToPtr(uint(5))
	f.content.assigned = &dto.AssignedContent{
		WarmupPhaseID: 100,
		Text:          &models.TextAsset{ID: 5, TextContent: "SunnyDay"},
	}

	outcome := f.scheduler.RunOnce(context.Background())

	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, "sunnydayyy", f.candidates.usernames[1])
	require.Len(t, f.executor.reqs, 1)
	require.NotNil(t, f.executor.reqs[0].Text)
	assert.Equal(t, "SunnyDay", *f.executor.reqs[0].Text)
}

func TestRunOnceNoContentLeavesPhaseUntouched(t *testing.T) {
	f := newSchedulerFixture(models.WarmupPhasePostCaption)
	f.pipeline.noContent = map[uint]bool{1: true}

	outcome := f.scheduler.RunOnce(context.Background())

	assert.Equal(t, OutcomeNoContent, outcome)
	assert.Empty(t, f.pipeline.started)
	assert.Empty(t, f.executor.reqs)
	assert.Empty(t, f.pipeline.completed)
	assert.Empty(t, f.pipeline.failed)
}

func TestRunOnceSkipsCandidateWithoutContent(t *testing.T) {
	tests := []struct {
		name        string
		noContent   map[uint]bool
		limit       int
		want        TickOutcome
		wantStarted []uint
	}{
		{
			name:        "second candidate is served",
			noContent:   map[uint]bool{1: true},
			want:        OutcomeCompleted,
			wantStarted: []uint{2},
		},
		{
			name:        "first two starved, third served",
			noContent:   map[uint]bool{1: true, 2: true},
			want:        OutcomeCompleted,
			wantStarted: []uint{3},
		},
		{
			name:      "every candidate starved",
			noContent: map[uint]bool{1: true, 2: true, 3: true},
			want:      OutcomeNoContent,
		},
		{
			name:      "limit of one keeps the starved head",
			noContent: map[uint]bool{1: true},
			limit:     1,
			want:      OutcomeNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSchedulerFixture(models.WarmupPhaseBio)
			f.candidates.candidates = append(f.candidates.candidates,
				&models.WarmupCandidate{AccountID: 2, Username: "second", ContainerHandle: "18", ReadyPhases: 2},
				&models.WarmupCandidate{AccountID: 3, Username: "third", ContainerHandle: "19", ReadyPhases: 1},
			)
			f.pipeline.noContent = tt.noContent
			if tt.limit > 0 {
				f.scheduler.cfg.CandidateLimit = tt.limit
			}

			outcome := f.scheduler.RunOnce(context.Background())

			assert.Equal(t, tt.want, outcome)
			assert.Equal(t, tt.wantStarted, f.pipeline.startedAccounts)
			require.Len(t, f.executor.reqs, len(tt.wantStarted))
			require.Len(t, f.pipeline.completed, len(tt.wantStarted))
			for i, id := range tt.wantStarted {
				assert.Equal(t, id, f.executor.reqs[i].AccountID)
				assert.Equal(t, id, f.pipeline.completed[i].AccountID)
			}
		})
	}
}

func TestRunOnceFailures(t *testing.T) {
	tests := []struct {
		name         string
		result       *dto.ExecutorResult
		err          error
		wantCategory models.FailureCategory
		wantMessage  string
		wantStatus   models.PhaseStatus
	}{
		{
			name:         "transport error is a bot error",
			err:          errors.New("connection refused"),
			wantCategory: models.FailureCategoryBotError,
			wantMessage:  "Executor call failed: connection refused",
			wantStatus:   models.PhaseStatusFailed,
		},
		{
			name:         "executor verdict keeps its category",
			result:       &dto.ExecutorResult{Success: false, Error: "challenge screen", FailureCategory: models.FailureCategoryInstagramChallenge},
			wantCategory: models.FailureCategoryInstagramChallenge,
			wantMessage:  "challenge screen",
			wantStatus:   models.PhaseStatusRequiresReview,
		},
		{
			name:         "unknown category falls back",
			result:       &dto.ExecutorResult{Success: false, FailureCategory: "weird"},
			wantCategory: models.FailureCategoryBotError,
			wantMessage:  "Executor reported failure",
			wantStatus:   models.PhaseStatusFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSchedulerFixture(models.WarmupPhaseGender)
			f.executor.result = tt.result
			f.executor.err = tt.err

			outcome := f.scheduler.RunOnce(context.Background())

			assert.Equal(t, OutcomeFailed, outcome)
			assert.Empty(t, f.pipeline.completed)
			require.Len(t, f.pipeline.failed, 1)
			got := f.pipeline.failed[0]
			assert.Equal(t, tt.wantCategory, got.FailureCategory)
			assert.Equal(t, tt.wantMessage, got.Message)
			assert.Equal(t, "test-worker", got.WorkerID)
			assert.NotEmpty(t, got.Details)
		})
	}
}

func TestRunOnceEarlyExits(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *schedulerFixture)
		want   TickOutcome
	}{
		{
			name:   "worker busy",
			mutate: func(f *schedulerFixture) { f.pipeline.busy = true },
			want:   OutcomeWorkerBusy,
		},
		{
			name:   "no candidate",
			mutate: func(f *schedulerFixture) { f.candidates.candidates = nil },
			want:   OutcomeNoCandidate,
		},
		{
			name:   "no eligible phase",
			mutate: func(f *schedulerFixture) { f.pipeline.next = nil },
			want:   OutcomeNoPhase,
		},
		{
			name:   "stuck sweep error",
			mutate: func(f *schedulerFixture) { f.pipeline.stuckErr = errors.New("db down") },
			want:   OutcomeError,
		},
		{
			name: "lost the worker slot race",
			mutate: func(f *schedulerFixture) {
				f.pipeline.startErr = businessflow.NewBusinessError("SINGLETON_WORKER_BUSY", "busy", businessflow.ErrSingletonWorkerBusy)
			},
			want: OutcomeWorkerBusy,
		},
		{
			name: "start rejected",
			mutate: func(f *schedulerFixture) {
				f.pipeline.startErr = businessflow.NewBusinessError("PHASE_NOT_AVAILABLE", "gone", businessflow.ErrPhaseNotAvailable)
			},
			want: OutcomeStartRejected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSchedulerFixture(models.WarmupPhaseGender)
			tt.mutate(f)

			assert.Equal(t, tt.want, f.scheduler.RunOnce(context.Background()))
			assert.Empty(t, f.executor.reqs)
			assert.Empty(t, f.pipeline.completed)
			assert.Empty(t, f.pipeline.failed)
		})
	}
}

func TestRunOnceSkipsOverlappingTick(t *testing.T) {
	f := newSchedulerFixture(models.WarmupPhaseGender)
	guard := NewLocalTickGuard()
	f.scheduler.deps.Guard = guard

	require.True(t, guard.TryAcquire(context.Background()))
	assert.Equal(t, OutcomeOverlap, f.scheduler.RunOnce(context.Background()))
	assert.Empty(t, f.executor.reqs)

	guard.Release()
	assert.Equal(t, OutcomeCompleted, f.scheduler.RunOnce(context.Background()))
}

func TestStatusRecordsTicks(t *testing.T) {
	f := newSchedulerFixture(models.WarmupPhaseGender)
	f.pipeline.busy = true

	f.scheduler.RunOnce(context.Background())
	f.scheduler.RunOnce(context.Background())

	status := f.scheduler.Status()
	assert.False(t, status.IsRunning)
	assert.Equal(t, "test-worker", status.WorkerID)
	assert.Equal(t, int64(2), status.TickCount)
	assert.Equal(t, string(OutcomeWorkerBusy), status.LastOutcome)
	assert.NotNil(t, status.LastTickAt)
}

func TestStartAndStop(t *testing.T) {
	f := newSchedulerFixture(models.WarmupPhaseGender)
	f.pipeline.busy = true
	f.scheduler.cfg.StartupDelay = time.Millisecond
	f.scheduler.cfg.Interval = 5 * time.Millisecond

	stop := f.scheduler.Start(context.Background())
	assert.True(t, f.scheduler.Status().IsRunning)

	// second Start is a no-op
	f.scheduler.Start(context.Background())()

	require.Eventually(t, func() bool {
		return f.scheduler.Status().TickCount >= 2
	}, time.Second, 5*time.Millisecond)

	stop()
	stop()

	status := f.scheduler.Status()
	assert.False(t, status.IsRunning)
	assert.False(t, status.HasTimer)
	assert.Equal(t, 1, f.pipeline.orphanCalls)
}

func TestNeedsOnboardingSkip(t *testing.T) {
	assert.True(t, needsOnboardingSkip(0))
	assert.True(t, needsOnboardingSkip(1))
	assert.False(t, needsOnboardingSkip(2))
	assert.False(t, needsOnboardingSkip(11))
}

func TestUsernameFromText(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Sunny", "sunnyyy"},
		{"  Ali ", "aliii"},
		{"x", "xxx"},
		{"Zoë", "zoëëë"},
		{"   ", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, usernameFromText(tt.in))
		})
	}
}

func TestNewSessionID(t *testing.T) {
	now := time.UnixMilli(1700000000123).UTC()
	id := newSessionID(now)
	require.True(t, strings.HasPrefix(id, "session-1700000000123-"))
	assert.Len(t, strings.TrimPrefix(id, "session-1700000000123-"), 8)
	assert.NotEqual(t, id, newSessionID(now))
}
