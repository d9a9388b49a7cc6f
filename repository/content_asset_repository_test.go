package repository

import (
	"testing"

	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/amirphl/warmup-orchestrator/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(postgres.New(postgres.Config{DSN: "host=localhost user=warmup dbname=warmup sslmode=disable"}), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)
	return db
}

func TestApplySelectionCriteria(t *testing.T) {
	db := dryRunDB(t)

	tests := []struct {
		name        string
		criteria    models.AssetSelectionCriteria
		contains    []string
		notContains []string
	}{
		{
			name:     "ties are shuffled by the database",
			criteria: models.AssetSelectionCriteria{Category: models.AssetCategoryBio, Limit: 3},
			contains: []string{
				"ORDER BY quality_score DESC, assignment_count ASC, random()",
				"LIMIT 3",
				"is_blacklisted = FALSE",
			},
			notContains: []string{"id ASC", "model_id", "last_assigned_at"},
		},
		{
			name:     "default limit",
			criteria: models.AssetSelectionCriteria{Category: models.AssetCategoryAny},
			contains: []string{"LIMIT 10"},
		},
		{
			name: "optional filters",
			criteria: models.AssetSelectionCriteria{
				Category:         models.AssetCategoryPost,
				ModelID:          utils.ToPtr(uint(4)),
				MaxUsageCount:    50,
				NotAssignedSince: utils.ToPtr(utils.UTCNow()),
			},
			contains: []string{"assignment_count <", "model_id IS NULL OR model_id =", "last_assigned_at IS NULL OR last_assigned_at <"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
				var out []*models.ContentAsset
				return applySelectionCriteria(tx.Model(&models.ContentAsset{}), tt.criteria).Find(&out)
			})
			for _, want := range tt.contains {
				assert.Contains(t, sql, want)
			}
			for _, unwanted := range tt.notContains {
				assert.NotContains(t, sql, unwanted)
			}
		})
	}
}
