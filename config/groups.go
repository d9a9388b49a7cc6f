package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// WarmupGroup is one cooldown policy seed for a model group
type WarmupGroup struct {
	ModelID          uint    `yaml:"model_id"`
	MinCooldownHours float64 `yaml:"min_cooldown_hours"`
	MaxCooldownHours float64 `yaml:"max_cooldown_hours"`
	MaxRetries       *int    `yaml:"max_retries,omitempty"`
}

type warmupGroupsFile struct {
	Groups []WarmupGroup `yaml:"groups"`
}

// LoadWarmupGroups reads cooldown seeds from a YAML file of the form
//
//	groups:
//	  - model_id: 1
//	    min_cooldown_hours: 15
//	    max_cooldown_hours: 24
func LoadWarmupGroups(path string) ([]WarmupGroup, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read warmup groups file: %w", err)
	}

	var file warmupGroupsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to parse warmup groups file: %w", err)
	}

	seen := make(map[uint]struct{}, len(file.Groups))
	for i, g := range file.Groups {
		if g.ModelID == 0 {
			return nil, fmt.Errorf("group %d: model_id is required", i)
		}
		if _, dup := seen[g.ModelID]; dup {
			return nil, fmt.Errorf("group %d: duplicate model_id %d", i, g.ModelID)
		}
		seen[g.ModelID] = struct{}{}
		if g.MinCooldownHours < 0 || g.MaxCooldownHours < g.MinCooldownHours {
			return nil, fmt.Errorf("group %d: invalid cooldown range %.2f-%.2f", i, g.MinCooldownHours, g.MaxCooldownHours)
		}
		if g.MaxRetries != nil && *g.MaxRetries < 1 {
			return nil, fmt.Errorf("group %d: max_retries must be positive", i)
		}
	}
	return file.Groups, nil
}
