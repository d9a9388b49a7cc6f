// Package config provides configuration management and environment variable handling for the application
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// ProductionConfig holds all configuration for production environment
type ProductionConfig struct {
	Database   DatabaseConfig   `json:"database"`
	Server     ServerConfig     `json:"server"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Cache      CacheConfig      `json:"cache"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Executor   ExecutorConfig   `json:"executor"`
	Assignment AssignmentConfig `json:"assignment"`
	Warmup     WarmupConfig     `json:"warmup"`
	Deployment DeploymentConfig `json:"deployment"`
}

type DatabaseConfig struct {
	Host            string        `json:"host" validate:"required"`
	Port            int           `json:"port" validate:"min=1,max=65535"`
	Name            string        `json:"name" validate:"required"`
	User            string        `json:"user" validate:"required"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode" validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxOpenConns    int           `json:"max_open_conns" validate:"min=1"`
	MaxIdleConns    int           `json:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `json:"conn_max_idle_time"`
	SlowQueryLog    bool          `json:"slow_query_log"`
	SlowQueryTime   time.Duration `json:"slow_query_time"`
}

type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	BodyLimit       int           `json:"body_limit"`
}

type LoggingConfig struct {
	Level      string `json:"level" validate:"omitempty,oneof=debug info warn error"`
	Output     string `json:"output" validate:"oneof=stdout file both"`
	FilePath   string `json:"file_path"`
	MaxSize    int    `json:"max_size"` // MB
	MaxBackups int    `json:"max_backups"`
	MaxAge     int    `json:"max_age"` // days
	Compress   bool   `json:"compress"`

	// Access Logs
	EnableAccessLog bool `json:"enable_access_log"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type CacheConfig struct {
	Enabled     bool   `json:"enabled"`
	RedisURL    string `json:"redis_url"`
	RedisDB     int    `json:"redis_db"`
	RedisPrefix string `json:"redis_prefix"`
}

// SchedulerConfig controls the warmup polling loop
type SchedulerConfig struct {
	Enabled                 bool          `json:"enabled"`
	Interval                time.Duration `json:"interval" validate:"gt=0"`
	StartupDelay            time.Duration `json:"startup_delay" validate:"gte=0"`
	StuckTimeout            time.Duration `json:"stuck_timeout" validate:"gt=0"`
	RetryDelay              time.Duration `json:"retry_delay" validate:"gte=0"`
	WorkerID                string        `json:"worker_id" validate:"required,max=255"`
	CandidateLimit          int           `json:"candidate_limit" validate:"gte=1"`
	DefaultMinCooldownHours float64       `json:"default_min_cooldown_hours" validate:"gte=0"`
	DefaultMaxCooldownHours float64       `json:"default_max_cooldown_hours" validate:"gtefield=DefaultMinCooldownHours"`
	DistributedLock         bool          `json:"distributed_lock"`
	LockTTL                 time.Duration `json:"lock_ttl"`
}

// ExecutorConfig points at the device automation executor
type ExecutorConfig struct {
	BaseURL   string        `json:"base_url" validate:"required,url"`
	Timeout   time.Duration `json:"timeout" validate:"gt=0"`
	JWTSecret string        `json:"-"`
	JWTIssuer string        `json:"jwt_issuer"`
	TokenTTL  time.Duration `json:"token_ttl"`
}

// AssignmentConfig holds the content selection defaults
type AssignmentConfig struct {
	MinQualityScore     float64       `json:"min_quality_score" validate:"gte=0,lte=100"`
	MaxUsageCount       int           `json:"max_usage_count" validate:"gte=0"`
	ExcludeRecentlyUsed bool          `json:"exclude_recently_used"`
	RecentUseWindow     time.Duration `json:"recent_use_window"`
	CandidateLimit      int           `json:"candidate_limit" validate:"gte=1"`
}

// WarmupConfig holds pipeline defaults
type WarmupConfig struct {
	DefaultMaxRetries int    `json:"default_max_retries" validate:"gte=1"`
	GroupsFile        string `json:"groups_file"`
}

type DeploymentConfig struct {
	Environment string `json:"environment"`
	Version     string `json:"version"`
	CommitHash  string `json:"commit_hash"`
	BuildTime   string `json:"build_time"`
}

// LoadProductionConfig loads and validates configuration from environment variables
func LoadProductionConfig() (*ProductionConfig, error) {
	// Load environment variables from .env file
	if err := loadEnvFile(".env"); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &ProductionConfig{
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "warmup"),
			User:            getEnvString("DB_USER", "postgres"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 15*time.Minute),
			SlowQueryLog:    getEnvBool("DB_SLOW_QUERY_LOG", true),
			SlowQueryTime:   getEnvDuration("DB_SLOW_QUERY_TIME", 1*time.Second),
		},
		Server: ServerConfig{
			Host:            getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			BodyLimit:       getEnvInt("SERVER_BODY_LIMIT", 1024*1024), // 1MB
		},
		Logging: LoggingConfig{
			Level:           getEnvString("LOG_LEVEL", "info"),
			Output:          getEnvString("LOG_OUTPUT", "both"),
			FilePath:        getEnvString("LOG_FILE_PATH", "/var/log/warmup/scheduler.log"),
			MaxSize:         getEnvInt("LOG_MAX_SIZE", 100),
			MaxBackups:      getEnvInt("LOG_MAX_BACKUPS", 10),
			MaxAge:          getEnvInt("LOG_MAX_AGE", 30),
			Compress:        getEnvBool("LOG_COMPRESS", true),
			EnableAccessLog: getEnvBool("LOG_ENABLE_ACCESS", true),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnvString("METRICS_PATH", "/metrics"),
		},
		Cache: CacheConfig{
			Enabled:     getEnvBool("CACHE_ENABLED", false),
			RedisURL:    getEnvString("CACHE_REDIS_URL", "redis://localhost:6379"),
			RedisDB:     getEnvInt("CACHE_REDIS_DB", 0),
			RedisPrefix: getEnvString("CACHE_REDIS_PREFIX", "warmup:"),
		},
		Scheduler: SchedulerConfig{
			Enabled:                 getEnvBool("SCHEDULER_ENABLED", true),
			Interval:                getEnvDuration("SCHEDULER_INTERVAL", 30*time.Second),
			StartupDelay:            getEnvDuration("SCHEDULER_STARTUP_DELAY", 5*time.Second),
			StuckTimeout:            getEnvDuration("SCHEDULER_STUCK_TIMEOUT", 10*time.Minute),
			RetryDelay:              getEnvDuration("SCHEDULER_RETRY_DELAY", 10*time.Minute),
			WorkerID:                getEnvString("SCHEDULER_WORKER_ID", "warmup-queue-service"),
			CandidateLimit:          getEnvInt("SCHEDULER_CANDIDATE_LIMIT", 5),
			DefaultMinCooldownHours: getEnvFloat("SCHEDULER_MIN_COOLDOWN_HOURS", 15),
			DefaultMaxCooldownHours: getEnvFloat("SCHEDULER_MAX_COOLDOWN_HOURS", 24),
			DistributedLock:         getEnvBool("SCHEDULER_DISTRIBUTED_LOCK", false),
			LockTTL:                 getEnvDuration("SCHEDULER_LOCK_TTL", 15*time.Minute),
		},
		Executor: ExecutorConfig{
			BaseURL:   getEnvString("EXECUTOR_BASE_URL", "http://localhost:3001"),
			Timeout:   getEnvDuration("EXECUTOR_TIMEOUT", 10*time.Minute),
			JWTSecret: getEnvString("EXECUTOR_JWT_SECRET", ""),
			JWTIssuer: getEnvString("EXECUTOR_JWT_ISSUER", "warmup-orchestrator"),
			TokenTTL:  getEnvDuration("EXECUTOR_TOKEN_TTL", 15*time.Minute),
		},
		Assignment: AssignmentConfig{
			MinQualityScore:     getEnvFloat("ASSIGNMENT_MIN_QUALITY_SCORE", 20),
			MaxUsageCount:       getEnvInt("ASSIGNMENT_MAX_USAGE_COUNT", 50),
			ExcludeRecentlyUsed: getEnvBool("ASSIGNMENT_EXCLUDE_RECENTLY_USED", true),
			RecentUseWindow:     getEnvDuration("ASSIGNMENT_RECENT_USE_WINDOW", 7*24*time.Hour),
			CandidateLimit:      getEnvInt("ASSIGNMENT_CANDIDATE_LIMIT", 10),
		},
		Warmup: WarmupConfig{
			DefaultMaxRetries: getEnvInt("WARMUP_DEFAULT_MAX_RETRIES", 3),
			GroupsFile:        getEnvString("WARMUP_GROUPS_FILE", ""),
		},
		Deployment: DeploymentConfig{
			Environment: getEnvString("APP_ENV", "production"),
			Version:     getEnvString("VERSION", "1.0.0"),
			CommitHash:  getEnvString("COMMIT_HASH", "unknown"),
			BuildTime:   getEnvString("BUILD_TIME", "unknown"),
		},
	}

	// Validate the loaded configuration
	if err := ValidateProductionConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadEnvFile loads environment variables from path if it exists; variables already set win
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// ValidateProductionConfig validates the production configuration
func ValidateProductionConfig(cfg *ProductionConfig) error {
	var problems []string

	if err := validator.New().Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				problems = append(problems, fmt.Sprintf("%s failed on '%s'", fe.Namespace(), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	// Validate database configuration
	if cfg.Deployment.Environment == "production" && cfg.Database.Password == "" {
		problems = append(problems, "DB_PASSWORD is required")
	}

	// Validate executor configuration
	if cfg.Scheduler.Enabled && len(cfg.Executor.JWTSecret) < 32 {
		problems = append(problems, "EXECUTOR_JWT_SECRET must be at least 32 characters long")
	}

	// Validate scheduler configuration
	if cfg.Scheduler.StuckTimeout > 0 && cfg.Scheduler.StuckTimeout < cfg.Scheduler.Interval {
		problems = append(problems, "SCHEDULER_STUCK_TIMEOUT must not be shorter than SCHEDULER_INTERVAL")
	}
	if cfg.Scheduler.DistributedLock && !cfg.Cache.Enabled {
		problems = append(problems, "SCHEDULER_DISTRIBUTED_LOCK requires CACHE_ENABLED")
	}

	// Validate logging configuration
	if cfg.Logging.Output != "stdout" && cfg.Logging.FilePath == "" {
		problems = append(problems, "LOG_FILE_PATH is required when logging to a file")
	}

	// Validate cache configuration if enabled
	if cfg.Cache.Enabled && cfg.Cache.RedisURL == "" {
		problems = append(problems, "CACHE_REDIS_URL is required when cache is enabled")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(problems, "; "))
	}
	return nil
}
