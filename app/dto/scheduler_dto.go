package dto

import (
	"time"

	"github.com/amirphl/warmup-orchestrator/models"
)

// SchedulerStatus reports the warmup scheduler's runtime state
type SchedulerStatus struct {
	IsRunning   bool       `json:"is_running"`
	HasTimer    bool       `json:"has_timer"`
	WorkerID    string     `json:"worker_id"`
	LastTickAt  *time.Time `json:"last_tick_at,omitempty"`
	LastOutcome string     `json:"last_outcome,omitempty"`
	TickCount   int64      `json:"tick_count"`
}

// ExecutorRequest is sent to the automation executor for one phase
type ExecutorRequest struct {
	AccountID       uint               `json:"account_id" validate:"required"`
	Phase           models.WarmupPhase `json:"phase" validate:"required"`
	ContainerHandle string             `json:"container_handle" validate:"required"`
	Username        string             `json:"username" validate:"required"`
	SkipOnboarding  bool               `json:"skip_onboarding"`
	ContentID       *uint              `json:"content_id,omitempty"`
	ContentPath     *string            `json:"content_path,omitempty"`
	TextID          *uint              `json:"text_id,omitempty"`
	Text            *string            `json:"text,omitempty"`
	APIScripts      []string           `json:"api_scripts"`
	LuaScripts      []string           `json:"lua_scripts"`
	SessionID       string             `json:"session_id" validate:"required"`
}

// ExecutorResult is the executor's verdict on one phase
type ExecutorResult struct {
	Success         bool                   `json:"success"`
	ExecutionTimeMs int64                  `json:"execution_time_ms" validate:"gte=0"`
	Error           string                 `json:"error,omitempty"`
	FailureCategory models.FailureCategory `json:"failure_category,omitempty"`
}
