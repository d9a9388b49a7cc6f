package testing

import (
	"fmt"
	"math/rand/v2"

	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/amirphl/warmup-orchestrator/utils"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

// TestFixtures provides helper methods for creating test data
type TestFixtures struct {
	DB *TestDB
}

// NewTestFixtures creates a new test fixtures instance
func NewTestFixtures(db *TestDB) *TestFixtures {
	return &TestFixtures{DB: db}
}

// CreateTestProxy creates an active proxy; a nil maxAccounts uses the default capacity
func (tf *TestFixtures) CreateTestProxy(maxAccounts *int, accountCount int) (*models.Proxy, error) {
	proxy := &models.Proxy{
		UUID:         uuid.New(),
		Host:         fmt.Sprintf("10.0.%d.%d", rand.IntN(255), rand.IntN(255)),
		Port:         8000 + rand.IntN(1000),
		Status:       models.ProxyStatusActive,
		MaxAccounts:  maxAccounts,
		AccountCount: accountCount,
	}
	if err := tf.DB.DB.Create(proxy).Error; err != nil {
		return nil, fmt.Errorf("failed to create proxy: %w", err)
	}
	return proxy, nil
}

// AccountOption customizes an account created by CreateTestAccount
type AccountOption func(*models.Account)

func WithLifecycleState(state models.LifecycleState) AccountOption {
	return func(a *models.Account) { a.LifecycleState = state }
}

func WithModelID(id uint) AccountOption {
	return func(a *models.Account) { a.ModelID = &id }
}

func WithContainer(handle string) AccountOption {
	return func(a *models.Account) { a.ContainerHandle = &handle }
}

func WithProxy(proxyID uint) AccountOption {
	return func(a *models.Account) {
		now := utils.UTCNow()
		a.ProxyID = &proxyID
		a.ProxyAssignedAt = &now
	}
}

func WithStatus(status string) AccountOption {
	return func(a *models.Account) { a.Status = status }
}

// CreateTestAccount creates an imported account with a unique username
func (tf *TestFixtures) CreateTestAccount(opts ...AccountOption) (*models.Account, error) {
	account := &models.Account{
		UUID:           uuid.New(),
		Username:       fmt.Sprintf("warmup_%s", uuid.NewString()[:8]),
		Status:         models.AccountStatusActive,
		LifecycleState: models.LifecycleStateImported,
	}
	for _, opt := range opts {
		opt(account)
	}
	if err := tf.DB.DB.Create(account).Error; err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return account, nil
}

// CreateTestContentAsset creates a pooled image in the given category
func (tf *TestFixtures) CreateTestContentAsset(modelID *uint, category string, quality float64, used int) (*models.ContentAsset, error) {
	name := uuid.NewString()[:8] + ".jpg"
	asset := &models.ContentAsset{
		UUID:            uuid.New(),
		ModelID:         modelID,
		FileName:        name,
		FilePath:        "/pool/" + name,
		MimeType:        "image/jpeg",
		Categories:      pq.StringArray{category},
		QualityScore:    quality,
		AssignmentCount: used,
	}
	if err := tf.DB.DB.Create(asset).Error; err != nil {
		return nil, fmt.Errorf("failed to create content asset: %w", err)
	}
	return asset, nil
}

// CreateTestTextAsset creates a pooled text in the given category
func (tf *TestFixtures) CreateTestTextAsset(modelID *uint, category, text string, quality float64, used int) (*models.TextAsset, error) {
	asset := &models.TextAsset{
		UUID:            uuid.New(),
		ModelID:         modelID,
		TextContent:     text,
		Categories:      pq.StringArray{category},
		QualityScore:    quality,
		AssignmentCount: used,
	}
	if err := tf.DB.DB.Create(asset).Error; err != nil {
		return nil, fmt.Errorf("failed to create text asset: %w", err)
	}
	return asset, nil
}

// CreateTestWarmupGroup stores a cooldown policy for a model group
func (tf *TestFixtures) CreateTestWarmupGroup(modelID uint, minHours, maxHours float64) (*models.WarmupConfiguration, error) {
	now := utils.UTCNow()
	cfg := &models.WarmupConfiguration{
		ModelID:          modelID,
		MinCooldownHours: minHours,
		MaxCooldownHours: maxHours,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := tf.DB.DB.Create(cfg).Error; err != nil {
		return nil, fmt.Errorf("failed to create warmup configuration: %w", err)
	}
	return cfg, nil
}
