package businessflow

import (
	"testing"

	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noShuffle keeps input order so ties resolve deterministically
func noShuffle(int, func(i, j int)) {}

// reverseShuffle reverses input order
func reverseShuffle(n int, swap func(i, j int)) {
	for i := 0; i < n/2; i++ {
		swap(i, n-1-i)
	}
}

func TestRankAssets(t *testing.T) {
	assets := []*models.ContentAsset{
		{ID: 1, QualityScore: 60, AssignmentCount: 5},
		{ID: 2, QualityScore: 90, AssignmentCount: 10},
		{ID: 3, QualityScore: 60, AssignmentCount: 1},
		{ID: 4, QualityScore: 90, AssignmentCount: 2},
	}

	ranked := rankAssets(assets, noShuffle)
	ids := make([]uint, 0, len(ranked))
	for _, a := range ranked {
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []uint{4, 2, 3, 1}, ids)

	// input is untouched
	assert.Equal(t, uint(1), assets[0].ID)
}

func TestRankAssetsTiesFollowShuffle(t *testing.T) {
	assets := []*models.TextAsset{
		{ID: 1, QualityScore: 50, AssignmentCount: 0},
		{ID: 2, QualityScore: 50, AssignmentCount: 0},
	}

	first, ok := bestAsset(assets, noShuffle)
	require.True(t, ok)
	assert.Equal(t, uint(1), first.ID)

	first, ok = bestAsset(assets, reverseShuffle)
	require.True(t, ok)
	assert.Equal(t, uint(2), first.ID)
}

func TestBestAssetEmpty(t *testing.T) {
	got, ok := bestAsset([]*models.ContentAsset{}, noShuffle)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestAssignmentScore(t *testing.T) {
	content := &models.ContentAsset{QualityScore: 80}
	text := &models.TextAsset{QualityScore: 40}

	assert.InDelta(t, 60.0, assignmentScore(content, text), 1e-9)
	assert.InDelta(t, 80.0, assignmentScore(content), 1e-9)
	assert.Zero(t, assignmentScore())
}

func TestAssignmentReason(t *testing.T) {
	content := &models.ContentAsset{QualityScore: 80, AssignmentCount: 3}
	text := &models.TextAsset{QualityScore: 42.5, AssignmentCount: 0}

	assert.Equal(t, "Image: score 80.00, used 3 times; Text: score 42.50, used 0 times", assignmentReason(content, text))
	assert.Equal(t, "Text: score 42.50, used 0 times", assignmentReason(nil, text))
	assert.Empty(t, assignmentReason(nil, nil))
}
