package handlers

import (
	"strconv"

	"github.com/amirphl/warmup-orchestrator/app/dto"
	businessflow "github.com/amirphl/warmup-orchestrator/business_flow"
	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/gofiber/fiber/v3"
)

// SchedulerStatusProvider exposes the scheduler's runtime state
type SchedulerStatusProvider interface {
	Status() dto.SchedulerStatus
}

// WarmupHandlerInterface defines the read-only operations surface
type WarmupHandlerInterface interface {
	SchedulerStatus(c fiber.Ctx) error
	WarmupStatistics(c fiber.Ctx) error
	AccountWarmupStatus(c fiber.Ctx) error
	AccountStateHistory(c fiber.Ctx) error
	LifecycleSummary(c fiber.Ctx) error
	AccountsByState(c fiber.Ctx) error
	ProxyStats(c fiber.Ctx) error
}

// WarmupHandler serves scheduler, pipeline and pool status
type WarmupHandler struct {
	baseHandler
	pipeline  businessflow.WarmupPipelineFlow
	lifecycle businessflow.AccountLifecycleFlow
	proxies   businessflow.ProxyAssignmentFlow
	scheduler SchedulerStatusProvider
}

func NewWarmupHandler(
	pipeline businessflow.WarmupPipelineFlow,
	lifecycle businessflow.AccountLifecycleFlow,
	proxies businessflow.ProxyAssignmentFlow,
	scheduler SchedulerStatusProvider,
) *WarmupHandler {
	return &WarmupHandler{
		baseHandler: newBaseHandler(),
		pipeline:    pipeline,
		lifecycle:   lifecycle,
		proxies:     proxies,
		scheduler:   scheduler,
	}
}

// PageQuery is the shared limit/offset query
type PageQuery struct {
	Limit  int `query:"limit" validate:"omitempty,min=1,max=500"`
	Offset int `query:"offset" validate:"omitempty,min=0"`
}

// SchedulerStatus reports the scheduler loop state.
// @Router /api/v1/scheduler/status [get]
func (h *WarmupHandler) SchedulerStatus(c fiber.Ctx) error {
	if h.scheduler == nil {
		return h.SuccessResponse(c, fiber.StatusOK, "Scheduler is disabled", dto.SchedulerStatus{})
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Scheduler status retrieved", h.scheduler.Status())
}

// WarmupStatistics returns phase counts by phase and status.
// @Router /api/v1/warmup/statistics [get]
func (h *WarmupHandler) WarmupStatistics(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/warmup/statistics")
	defer cancel()

	stats, err := h.pipeline.Statistics(ctx)
	if err != nil {
		return h.flowError(c, err, "Failed to load warmup statistics", "WARMUP_STATISTICS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Warmup statistics retrieved", stats)
}

// AccountWarmupStatus returns the per-phase status of one account.
// @Router /api/v1/accounts/{id}/warmup [get]
func (h *WarmupHandler) AccountWarmupStatus(c fiber.Ctx) error {
	accountID, ok := parseID(c.Params("id"))
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid account ID", "INVALID_ACCOUNT_ID", nil)
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/accounts/:id/warmup")
	defer cancel()

	status, err := h.pipeline.WarmupStatus(ctx, accountID)
	if err != nil {
		return h.flowError(c, err, "Failed to load warmup status", "WARMUP_STATUS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Warmup status retrieved", status)
}

// AccountStateHistory returns the newest lifecycle transitions of one account.
// @Router /api/v1/accounts/{id}/transitions [get]
func (h *WarmupHandler) AccountStateHistory(c fiber.Ctx) error {
	accountID, ok := parseID(c.Params("id"))
	if !ok {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid account ID", "INVALID_ACCOUNT_ID", nil)
	}
	var q PageQuery
	if err := c.Bind().Query(&q); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	if valid, resp := h.validate(c, &q); !valid {
		return resp
	}
	if q.Limit == 0 {
		q.Limit = 50
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/accounts/:id/transitions")
	defer cancel()

	items, err := h.lifecycle.StateHistory(ctx, accountID, q.Limit)
	if err != nil {
		return h.flowError(c, err, "Failed to load state history", "STATE_HISTORY_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "State history retrieved", items)
}

// LifecycleSummary returns account counts per lifecycle state.
// @Router /api/v1/lifecycle/summary [get]
func (h *WarmupHandler) LifecycleSummary(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/lifecycle/summary")
	defer cancel()

	summary, err := h.lifecycle.LifecycleSummary(ctx)
	if err != nil {
		return h.flowError(c, err, "Failed to load lifecycle summary", "LIFECYCLE_SUMMARY_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Lifecycle summary retrieved", summary)
}

// AccountsByState lists accounts in one lifecycle state.
// @Router /api/v1/lifecycle/{state}/accounts [get]
func (h *WarmupHandler) AccountsByState(c fiber.Ctx) error {
	state := models.LifecycleState(c.Params("state"))
	if !state.IsValid() {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid lifecycle state", "INVALID_LIFECYCLE_STATE", nil)
	}
	var q PageQuery
	if err := c.Bind().Query(&q); err != nil {
		return h.ErrorResponse(c, fiber.StatusBadRequest, "Invalid query parameters", "INVALID_REQUEST", err.Error())
	}
	if valid, resp := h.validate(c, &q); !valid {
		return resp
	}
	if q.Limit == 0 {
		q.Limit = 100
	}

	ctx, cancel := h.createRequestContext(c, "/api/v1/lifecycle/:state/accounts")
	defer cancel()

	accounts, err := h.lifecycle.AccountsByState(ctx, state, q.Limit, q.Offset)
	if err != nil {
		return h.flowError(c, err, "Failed to list accounts", "ACCOUNTS_LIST_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Accounts retrieved", accounts)
}

// ProxyStats returns proxy pool utilization.
// @Router /api/v1/proxies/stats [get]
func (h *WarmupHandler) ProxyStats(c fiber.Ctx) error {
	ctx, cancel := h.createRequestContext(c, "/api/v1/proxies/stats")
	defer cancel()

	stats, err := h.proxies.ProxyStats(ctx)
	if err != nil {
		return h.flowError(c, err, "Failed to load proxy statistics", "PROXY_STATS_FAILED")
	}
	return h.SuccessResponse(c, fiber.StatusOK, "Proxy statistics retrieved", stats)
}

func parseID(raw string) (uint, bool) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
