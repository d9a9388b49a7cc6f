package businessflow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/amirphl/warmup-orchestrator/repository"
	"github.com/xuri/excelize/v2"
)

// reportAccountLimit bounds the accounts sheet
const reportAccountLimit = 5000

// WarmupReportFlow exports warmup progress as a spreadsheet
type WarmupReportFlow interface {
	ExportWarmupReport(ctx context.Context, since time.Time) (string, []byte, error)
}

// WarmupReportFlowImpl implements WarmupReportFlow
type WarmupReportFlowImpl struct {
	accountRepo    repository.AccountRepository
	phaseRepo      repository.AccountWarmupPhaseRepository
	assignmentRepo repository.ContentAssignmentRepository
	proxyRepo      repository.ProxyRepository
}

// NewWarmupReportFlow creates a new report flow
func NewWarmupReportFlow(
	accountRepo repository.AccountRepository,
	phaseRepo repository.AccountWarmupPhaseRepository,
	assignmentRepo repository.ContentAssignmentRepository,
	proxyRepo repository.ProxyRepository,
) WarmupReportFlow {
	return &WarmupReportFlowImpl{
		accountRepo:    accountRepo,
		phaseRepo:      phaseRepo,
		assignmentRepo: assignmentRepo,
		proxyRepo:      proxyRepo,
	}
}

// ExportWarmupReport builds a workbook with account progress, the phase status matrix,
// assignment stats since the given instant and proxy capacity
func (f *WarmupReportFlowImpl) ExportWarmupReport(ctx context.Context, since time.Time) (string, []byte, error) {
	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	if err := f.writeAccountsSheet(ctx, xl); err != nil {
		return "", nil, err
	}
	if err := f.writePhaseSheet(ctx, xl); err != nil {
		return "", nil, err
	}
	if err := f.writeAssignmentSheet(ctx, xl, since); err != nil {
		return "", nil, err
	}
	if err := f.writeProxySheet(ctx, xl); err != nil {
		return "", nil, err
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	filename := fmt.Sprintf("warmup_report_%s.xlsx", time.Now().UTC().Format("20060102_150405"))
	return filename, buf.Bytes(), nil
}

func (f *WarmupReportFlowImpl) writeAccountsSheet(ctx context.Context, xl *excelize.File) error {
	const sheet = "accounts"
	xl.SetSheetName(xl.GetSheetName(0), sheet)

	accounts, err := f.accountRepo.ByFilter(ctx, models.AccountFilter{
		LifecycleStates: []models.LifecycleState{models.LifecycleStateWarmup, models.LifecycleStateActive},
	}, "id ASC", reportAccountLimit, 0)
	if err != nil {
		return NewBusinessError("FETCH_ACCOUNTS_FAILED", "Failed to fetch accounts", err)
	}

	header := []string{"id", "username", "lifecycle_state", "model_id", "container", "completed", "available", "failed", "requires_review", "skipped", "requires_human_review"}
	_ = xl.SetSheetRow(sheet, "A1", &header)

	for i, a := range accounts {
		counts, err := f.phaseRepo.CountByStatus(ctx, a.ID)
		if err != nil {
			return NewBusinessError("FETCH_PHASES_FAILED", "Failed to count warmup phases", err)
		}
		modelID := ""
		if a.ModelID != nil {
			modelID = strconv.FormatUint(uint64(*a.ModelID), 10)
		}
		container := ""
		if a.ContainerHandle != nil {
			container = *a.ContainerHandle
		}
		record := []any{
			a.ID,
			a.Username,
			string(a.LifecycleState),
			modelID,
			container,
			counts[models.PhaseStatusCompleted],
			counts[models.PhaseStatusAvailable],
			counts[models.PhaseStatusFailed],
			counts[models.PhaseStatusRequiresReview],
			counts[models.PhaseStatusSkipped],
			a.RequiresHumanReview,
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, i+2)
		_ = xl.SetSheetRow(sheet, cellRef, &record)
	}
	return nil
}

var reportPhaseStatuses = []models.PhaseStatus{
	models.PhaseStatusPending,
	models.PhaseStatusAvailable,
	models.PhaseStatusInProgress,
	models.PhaseStatusCompleted,
	models.PhaseStatusFailed,
	models.PhaseStatusRequiresReview,
	models.PhaseStatusSkipped,
}

func (f *WarmupReportFlowImpl) writePhaseSheet(ctx context.Context, xl *excelize.File) error {
	const sheet = "phases"
	if _, err := xl.NewSheet(sheet); err != nil {
		return NewBusinessError("EXCEL_WRITE_ERROR", "Failed to create sheet", err)
	}

	rows, err := f.phaseRepo.CountByPhaseAndStatus(ctx)
	if err != nil {
		return NewBusinessError("FETCH_PHASES_FAILED", "Failed to count warmup phases", err)
	}
	matrix := make(map[models.WarmupPhase]map[models.PhaseStatus]int64)
	for _, r := range rows {
		if matrix[r.Phase] == nil {
			matrix[r.Phase] = make(map[models.PhaseStatus]int64)
		}
		matrix[r.Phase][r.Status] = r.Count
	}

	header := []string{"phase"}
	for _, s := range reportPhaseStatuses {
		header = append(header, string(s))
	}
	_ = xl.SetSheetRow(sheet, "A1", &header)

	for i, phase := range models.OrderedWarmupPhases {
		record := []any{string(phase)}
		for _, s := range reportPhaseStatuses {
			record = append(record, matrix[phase][s])
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, i+2)
		_ = xl.SetSheetRow(sheet, cellRef, &record)
	}
	return nil
}

func (f *WarmupReportFlowImpl) writeAssignmentSheet(ctx context.Context, xl *excelize.File, since time.Time) error {
	const sheet = "assignments"
	if _, err := xl.NewSheet(sheet); err != nil {
		return NewBusinessError("EXCEL_WRITE_ERROR", "Failed to create sheet", err)
	}

	stats, err := f.assignmentRepo.StatsByPhase(ctx, since)
	if err != nil {
		return NewBusinessError("FETCH_ASSIGNMENTS_FAILED", "Failed to aggregate assignments", err)
	}

	header := []string{"phase", "total", "used", "successful", "avg_assignment_score", "avg_performance_score"}
	_ = xl.SetSheetRow(sheet, "A1", &header)
	for i, s := range stats {
		perf := ""
		if s.AvgPerformanceScore != nil {
			perf = strconv.FormatFloat(*s.AvgPerformanceScore, 'f', 2, 64)
		}
		record := []any{
			string(s.Phase),
			s.TotalAssignments,
			s.UsedAssignments,
			s.SuccessfulAssignments,
			s.AvgAssignmentScore,
			perf,
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, i+2)
		_ = xl.SetSheetRow(sheet, cellRef, &record)
	}
	return nil
}

func (f *WarmupReportFlowImpl) writeProxySheet(ctx context.Context, xl *excelize.File) error {
	const sheet = "proxies"
	if _, err := xl.NewSheet(sheet); err != nil {
		return NewBusinessError("EXCEL_WRITE_ERROR", "Failed to create sheet", err)
	}

	stats, err := f.proxyRepo.Stats(ctx)
	if err != nil {
		return NewBusinessError("FETCH_PROXIES_FAILED", "Failed to aggregate proxies", err)
	}

	rows := [][]any{
		{"total_proxies", stats.TotalProxies},
		{"active_proxies", stats.ActiveProxies},
		{"total_capacity", stats.TotalCapacity},
		{"used_capacity", stats.UsedCapacity},
		{"available_proxies", stats.AvailableProxies},
	}
	for i, record := range rows {
		cellRef, _ := excelize.CoordinatesToCellName(1, i+1)
		_ = xl.SetSheetRow(sheet, cellRef, &record)
	}
	return nil
}
