package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/amirphl/warmup-orchestrator/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type erroringCooldownSource struct{ err error }

func (s erroringCooldownSource) ByModelID(context.Context, uint) (*models.WarmupConfiguration, error) {
	return nil, s.err
}

func TestCooldownDuration(t *testing.T) {
	tests := []struct {
		name     string
		min, max float64
		r        float64
		want     time.Duration
	}{
		{"lower bound", 15, 24, 0, 15 * time.Hour},
		{"midpoint", 15, 24, 0.5, 19*time.Hour + 30*time.Minute},
		{"fixed range", 6, 6, 0.9, 6 * time.Hour},
		{"fractional hours", 0.5, 1.5, 0.25, 45 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cooldownDuration(tt.min, tt.max, tt.r))
		})
	}
}

func TestCooldownRange(t *testing.T) {
	ctx := context.Background()
	source := fakeCooldownSource{
		1: {ModelID: 1, MinCooldownHours: 2, MaxCooldownHours: 4},
		2: {ModelID: 2, MinCooldownHours: 8, MaxCooldownHours: 3},
	}
	policy := NewCooldownPolicy(source, 15, 24)

	tests := []struct {
		name     string
		modelID  *uint
		min, max float64
	}{
		{"no group", nil, 15, 24},
		{"configured group", utils.ToPtr(uint(1)), 2, 4},
		{"inverted group falls back", utils.ToPtr(uint(2)), 15, 24},
		{"unknown group falls back", utils.ToPtr(uint(3)), 15, 24},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			minH, maxH, err := policy.Range(ctx, tt.modelID)
			require.NoError(t, err)
			assert.Equal(t, tt.min, minH)
			assert.Equal(t, tt.max, maxH)
		})
	}
}

func TestCooldownRangeSourceError(t *testing.T) {
	boom := errors.New("db down")
	policy := NewCooldownPolicy(erroringCooldownSource{err: boom}, 15, 24)

	_, _, err := policy.Range(context.Background(), utils.ToPtr(uint(1)))
	assert.ErrorIs(t, err, boom)

	_, err = policy.NextAvailableAt(context.Background(), utils.ToPtr(uint(1)), time.Now())
	assert.ErrorIs(t, err, boom)
}

func TestNextAvailableAtStaysInRange(t *testing.T) {
	policy := NewCooldownPolicy(nil, 15, 24)
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 100; i++ {
		next, err := policy.NextAvailableAt(context.Background(), nil, now)
		require.NoError(t, err)
		assert.False(t, next.Before(now.Add(15*time.Hour)))
		assert.True(t, next.Before(now.Add(24*time.Hour)))
	}
}

func TestNewCooldownPolicyClampsInvertedDefaults(t *testing.T) {
	policy := NewCooldownPolicy(nil, 10, 5)
	minH, maxH, err := policy.Range(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 10.0, minH)
	assert.Equal(t, 10.0, maxH)
}
