package businessflow

import (
	"testing"
	"time"

	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryPhaseHasDescriptor(t *testing.T) {
	for _, phase := range models.OrderedWarmupPhases {
		d, ok := DescriptorFor(phase)
		require.True(t, ok, "phase %s", phase)
		assert.Equal(t, phase, d.Phase)
		if phase != models.WarmupPhaseManualSetup {
			assert.NotEmpty(t, d.LuaScript, "phase %s", phase)
			assert.Contains(t, d.Dependencies, models.WarmupPhaseManualSetup, "phase %s", phase)
		}
	}
}

func TestSetToPrivateDependsOnEveryOtherPhase(t *testing.T) {
	d, ok := DescriptorFor(models.WarmupPhaseSetToPrivate)
	require.True(t, ok)
	assert.Len(t, d.Dependencies, len(models.OrderedWarmupPhases)-1)
	assert.NotContains(t, d.Dependencies, models.WarmupPhaseSetToPrivate)
}

func TestScriptSequenceFor(t *testing.T) {
	tests := []struct {
		name        string
		phase       models.WarmupPhase
		container   string
		wantAPI     []string
		wantLua     []string
		wantContent bool
		wantText    bool
	}{
		{
			name:      "manual setup has no automation",
			phase:     models.WarmupPhaseManualSetup,
			container: "7",
			wantAPI:   []string{},
			wantLua:   []string{},
		},
		{
			name:      "bio uses clipboard",
			phase:     models.WarmupPhaseBio,
			container: "12",
			wantAPI:   []string{APIScriptPhotoCleaner, APIScriptClipboard, APIScriptLuaExecutor},
			wantLua:   []string{"open_container12.lua", "change_bio_to_clipboard.lua"},
			wantText:  true,
		},
		{
			name:        "post with caption uses gallery and clipboard",
			phase:       models.WarmupPhasePostCaption,
			container:   "3",
			wantAPI:     []string{APIScriptPhotoCleaner, APIScriptGallery, APIScriptClipboard, APIScriptLuaExecutor},
			wantLua:     []string{"open_container3.lua", "upload_post_newest_media_clipboard_caption.lua"},
			wantContent: true,
			wantText:    true,
		},
		{
			name:        "story without caption skips clipboard",
			phase:       models.WarmupPhaseStoryNoCaption,
			container:   "5",
			wantAPI:     []string{APIScriptPhotoCleaner, APIScriptGallery, APIScriptLuaExecutor},
			wantLua:     []string{"open_container5.lua", "upload_story_newest_media_no_caption.lua"},
			wantContent: true,
		},
		{
			name:      "unknown phase",
			phase:     models.WarmupPhase("follow"),
			container: "1",
			wantAPI:   []string{},
			wantLua:   []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, seq := ScriptSequenceFor(tt.phase, tt.container)
			assert.Equal(t, tt.wantAPI, seq.APIScripts)
			assert.Equal(t, tt.wantLua, seq.LuaScripts)
			assert.Equal(t, tt.wantContent, d.RequiresContent)
			assert.Equal(t, tt.wantText, d.RequiresText)
		})
	}
}

func TestScriptSequenceForDoesNotAliasDescriptor(t *testing.T) {
	_, seq := ScriptSequenceFor(models.WarmupPhaseBio, "1")
	seq.APIScripts[0] = "tampered"
	_, again := ScriptSequenceFor(models.WarmupPhaseBio, "1")
	assert.Equal(t, APIScriptPhotoCleaner, again.APIScripts[0])
}

func TestUsernamePhaseCarriesPostAction(t *testing.T) {
	d, _ := DescriptorFor(models.WarmupPhaseUsername)
	assert.Equal(t, PostActionUpdateUsername, d.PostAction)

	d, _ = DescriptorFor(models.WarmupPhaseBio)
	assert.Empty(t, d.PostAction)
}

func allStatuses(status models.PhaseStatus) map[models.WarmupPhase]models.PhaseStatus {
	out := make(map[models.WarmupPhase]models.PhaseStatus, len(models.OrderedWarmupPhases))
	for _, p := range models.OrderedWarmupPhases {
		out[p] = status
	}
	return out
}

func TestUnlockablePhases(t *testing.T) {
	t.Run("nothing before manual setup", func(t *testing.T) {
		statuses := allStatuses(models.PhaseStatusPending)
		assert.Equal(t, []models.WarmupPhase{models.WarmupPhaseManualSetup}, UnlockablePhases(statuses))
	})

	t.Run("manual setup unlocks independent phases", func(t *testing.T) {
		statuses := allStatuses(models.PhaseStatusPending)
		statuses[models.WarmupPhaseManualSetup] = models.PhaseStatusCompleted

		got := UnlockablePhases(statuses)
		assert.Contains(t, got, models.WarmupPhaseBio)
		assert.Contains(t, got, models.WarmupPhaseFirstHighlight)
		assert.NotContains(t, got, models.WarmupPhaseNewHighlight)
		assert.NotContains(t, got, models.WarmupPhaseSetToPrivate)
	})

	t.Run("first highlight unlocks new highlight", func(t *testing.T) {
		statuses := allStatuses(models.PhaseStatusAvailable)
		statuses[models.WarmupPhaseManualSetup] = models.PhaseStatusCompleted
		statuses[models.WarmupPhaseFirstHighlight] = models.PhaseStatusCompleted
		statuses[models.WarmupPhaseNewHighlight] = models.PhaseStatusPending

		assert.Equal(t, []models.WarmupPhase{models.WarmupPhaseNewHighlight}, UnlockablePhases(statuses))
	})

	t.Run("skipped dependency does not unlock", func(t *testing.T) {
		statuses := allStatuses(models.PhaseStatusCompleted)
		statuses[models.WarmupPhaseBio] = models.PhaseStatusSkipped
		statuses[models.WarmupPhaseSetToPrivate] = models.PhaseStatusPending

		assert.Empty(t, UnlockablePhases(statuses))
	})
}

func TestCategoriesWithFallback(t *testing.T) {
	assert.Equal(t, []string{"post", "any"}, categoriesWithFallback([]string{"post"}))
	assert.Equal(t, []string{"any"}, categoriesWithFallback(nil))
	assert.Equal(t, []string{"any", "post"}, categoriesWithFallback([]string{"any", "post"}))
}

func TestPickEligiblePhase(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	earlier := now.Add(-2 * time.Hour)
	later := now.Add(time.Hour)

	row := func(id uint, phase models.WarmupPhase, status models.PhaseStatus, at *time.Time) *models.AccountWarmupPhase {
		return &models.AccountWarmupPhase{ID: id, Phase: phase, Status: status, AvailableAt: at}
	}

	t.Run("canonical order breaks ties", func(t *testing.T) {
		rows := []*models.AccountWarmupPhase{
			row(1, models.WarmupPhaseManualSetup, models.PhaseStatusCompleted, nil),
			row(2, models.WarmupPhaseName, models.PhaseStatusAvailable, &earlier),
			row(3, models.WarmupPhaseBio, models.PhaseStatusAvailable, &earlier),
		}
		got := pickEligiblePhase(rows, now)
		require.NotNil(t, got)
		assert.Equal(t, models.WarmupPhaseBio, got.Phase)
	})

	t.Run("earliest available first", func(t *testing.T) {
		earliest := now.Add(-5 * time.Hour)
		rows := []*models.AccountWarmupPhase{
			row(1, models.WarmupPhaseManualSetup, models.PhaseStatusCompleted, nil),
			row(2, models.WarmupPhaseBio, models.PhaseStatusAvailable, &earlier),
			row(3, models.WarmupPhaseGender, models.PhaseStatusAvailable, &earliest),
		}
		got := pickEligiblePhase(rows, now)
		require.NotNil(t, got)
		assert.Equal(t, models.WarmupPhaseGender, got.Phase)
	})

	t.Run("cooldown in the future", func(t *testing.T) {
		rows := []*models.AccountWarmupPhase{
			row(1, models.WarmupPhaseManualSetup, models.PhaseStatusCompleted, nil),
			row(2, models.WarmupPhaseBio, models.PhaseStatusAvailable, &later),
		}
		assert.Nil(t, pickEligiblePhase(rows, now))
	})

	t.Run("unmet dependency", func(t *testing.T) {
		rows := []*models.AccountWarmupPhase{
			row(1, models.WarmupPhaseManualSetup, models.PhaseStatusCompleted, nil),
			row(2, models.WarmupPhaseFirstHighlight, models.PhaseStatusFailed, nil),
			row(3, models.WarmupPhaseNewHighlight, models.PhaseStatusAvailable, &earlier),
		}
		assert.Nil(t, pickEligiblePhase(rows, now))
	})

	t.Run("failed and in review rows are not picked", func(t *testing.T) {
		rows := []*models.AccountWarmupPhase{
			row(1, models.WarmupPhaseManualSetup, models.PhaseStatusCompleted, nil),
			row(2, models.WarmupPhaseBio, models.PhaseStatusFailed, &earlier),
			row(3, models.WarmupPhaseName, models.PhaseStatusRequiresReview, &earlier),
		}
		assert.Nil(t, pickEligiblePhase(rows, now))
	})
}
