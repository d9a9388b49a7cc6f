package scheduler

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/amirphl/warmup-orchestrator/models"
)

// CooldownSource resolves the per-group cooldown policy
type CooldownSource interface {
	ByModelID(ctx context.Context, modelID uint) (*models.WarmupConfiguration, error)
}

// CooldownPolicy picks when an account's next phase may start
type CooldownPolicy struct {
	source     CooldownSource
	defaultMin float64
	defaultMax float64
	float64n   func() float64
}

func NewCooldownPolicy(source CooldownSource, defaultMinHours, defaultMaxHours float64) *CooldownPolicy {
	if defaultMaxHours < defaultMinHours {
		defaultMaxHours = defaultMinHours
	}
	return &CooldownPolicy{
		source:     source,
		defaultMin: defaultMinHours,
		defaultMax: defaultMaxHours,
		float64n:   rand.Float64,
	}
}

// Range returns the cooldown bounds in hours for a model group
func (p *CooldownPolicy) Range(ctx context.Context, modelID *uint) (float64, float64, error) {
	if modelID == nil || p.source == nil {
		return p.defaultMin, p.defaultMax, nil
	}
	group, err := p.source.ByModelID(ctx, *modelID)
	if err != nil {
		return 0, 0, err
	}
	if group == nil || group.MaxCooldownHours < group.MinCooldownHours {
		return p.defaultMin, p.defaultMax, nil
	}
	return group.MinCooldownHours, group.MaxCooldownHours, nil
}

// NextAvailableAt draws a uniform cooldown inside the group's range
func (p *CooldownPolicy) NextAvailableAt(ctx context.Context, modelID *uint, now time.Time) (time.Time, error) {
	minHours, maxHours, err := p.Range(ctx, modelID)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(cooldownDuration(minHours, maxHours, p.float64n())), nil
}

// cooldownDuration maps r in [0,1) onto [minHours, maxHours)
func cooldownDuration(minHours, maxHours, r float64) time.Duration {
	hours := minHours + (maxHours-minHours)*r
	return time.Duration(hours * float64(time.Hour))
}
