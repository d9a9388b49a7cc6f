// Package main provides the entry point for the account warmup orchestrator
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	businessflow "github.com/amirphl/warmup-orchestrator/business_flow"
	"github.com/amirphl/warmup-orchestrator/config"
	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/amirphl/warmup-orchestrator/repository"
	"github.com/amirphl/warmup-orchestrator/utils"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Application holds the shared infrastructure and flows used by every command
type Application struct {
	config *config.ProductionConfig
	db     *gorm.DB
	cache  *redis.Client

	accountRepo repository.AccountRepository
	groupRepo   repository.WarmupConfigurationRepository

	lifecycleFlow  businessflow.AccountLifecycleFlow
	pipelineFlow   businessflow.WarmupPipelineFlow
	assignmentFlow businessflow.ContentAssignmentFlow
	proxyFlow      businessflow.ProxyAssignmentFlow
	reportFlow     businessflow.WarmupReportFlow

	stopFuncs []func()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// initializeDatabase initializes the database connection with connection pooling
func initializeDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	gormCfg := &gorm.Config{}
	if cfg.SlowQueryLog {
		gormCfg.Logger = logger.New(log.Default(), logger.Config{
			SlowThreshold:             cfg.SlowQueryTime,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		})
	}

	db, err := gorm.Open(postgres.Open(dsn), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB for connection pooling configuration
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("Database connection established with %d max open connections, %d max idle connections",
		cfg.MaxOpenConns, cfg.MaxIdleConns)

	return db, nil
}

// initializeCache initializes the Redis client and verifies connectivity
func initializeCache(cfg config.CacheConfig) (*redis.Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	// Override DB if provided in config
	opt.DB = cfg.RedisDB

	rc := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rc.Ping(ctx).Err(); err != nil {
		_ = rc.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("Redis connection established (db=%d)", cfg.RedisDB)
	return rc, nil
}

// startCacheHealthMonitor periodically pings Redis to detect connectivity issues.
// The returned cancel function stops the monitor.
func startCacheHealthMonitor(parent context.Context, client *redis.Client, interval time.Duration) func() {
	if client == nil {
		return func() {}
	}
	monitorCtx, cancel := context.WithCancel(parent)
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-monitorCtx.Done():
				return
			case <-ticker.C:
				ctx, c := context.WithTimeout(context.Background(), 3*time.Second)
				if err := client.Ping(ctx).Err(); err != nil {
					log.Printf("Redis healthcheck failed: %v", err)
				}
				c()
			}
		}
	}()
	return cancel
}

// initializeApplication connects the stores and wires repositories and flows
func initializeApplication(cfg *config.ProductionConfig) (*Application, error) {
	db, err := initializeDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	rc, err := initializeCache(cfg.Cache)
	if err != nil {
		return nil, err
	}

	// Initialize repositories
	accountRepo := repository.NewAccountRepository(db)
	transitionRepo := repository.NewAccountStateTransitionRepository(db)
	phaseRepo := repository.NewAccountWarmupPhaseRepository(db)
	contentRepo := repository.NewContentAssetRepository(db)
	textRepo := repository.NewTextAssetRepository(db)
	assignmentRepo := repository.NewContentAssignmentRepository(db)
	proxyRepo := repository.NewProxyRepository(db)
	groupRepo := repository.NewWarmupConfigurationRepository(db)

	// Initialize flows
	lifecycleFlow := businessflow.NewAccountLifecycleFlow(accountRepo, transitionRepo, phaseRepo, proxyRepo, db)
	assignmentFlow := businessflow.NewContentAssignmentFlow(contentRepo, textRepo, assignmentRepo, phaseRepo, cfg.Assignment, db)
	pipelineFlow := businessflow.NewWarmupPipelineFlow(accountRepo, phaseRepo, groupRepo, assignmentFlow, lifecycleFlow, cfg.Warmup, db)
	proxyFlow := businessflow.NewProxyAssignmentFlow(accountRepo, proxyRepo, db)
	reportFlow := businessflow.NewWarmupReportFlow(accountRepo, phaseRepo, assignmentRepo, proxyRepo)

	return &Application{
		config:         cfg,
		db:             db,
		cache:          rc,
		accountRepo:    accountRepo,
		groupRepo:      groupRepo,
		lifecycleFlow:  lifecycleFlow,
		pipelineFlow:   pipelineFlow,
		assignmentFlow: assignmentFlow,
		proxyFlow:      proxyFlow,
		reportFlow:     reportFlow,
	}, nil
}

// Close stops background workers and releases connections
func (a *Application) Close() {
	for i := len(a.stopFuncs) - 1; i >= 0; i-- {
		a.stopFuncs[i]()
	}
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// seedWarmupGroups upserts cooldown policies from the configured YAML file
func seedWarmupGroups(ctx context.Context, repo repository.WarmupConfigurationRepository, path string) error {
	if path == "" {
		return nil
	}
	groups, err := config.LoadWarmupGroups(path)
	if err != nil {
		return err
	}
	now := utils.UTCNow()
	for _, g := range groups {
		if err := repo.Upsert(ctx, &models.WarmupConfiguration{
			ModelID:          g.ModelID,
			MinCooldownHours: g.MinCooldownHours,
			MaxCooldownHours: g.MaxCooldownHours,
			MaxRetries:       g.MaxRetries,
			CreatedAt:        now,
			UpdatedAt:        now,
		}); err != nil {
			return fmt.Errorf("failed to seed warmup group %d: %w", g.ModelID, err)
		}
	}
	log.Printf("Seeded %d warmup groups from %s", len(groups), path)
	return nil
}
