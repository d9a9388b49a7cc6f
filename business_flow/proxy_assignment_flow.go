package businessflow

import (
	"context"
	"fmt"

	"github.com/amirphl/warmup-orchestrator/app/dto"
	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/amirphl/warmup-orchestrator/repository"
	"github.com/amirphl/warmup-orchestrator/utils"
	"gorm.io/gorm"
)

// ProxyAssignmentFlow balances accounts across the proxy pool
type ProxyAssignmentFlow interface {
	AssignProxy(ctx context.Context, accountID uint) (*dto.ProxyAssignmentResult, error)
	UnassignProxy(ctx context.Context, accountID uint) (*dto.ProxyAssignmentResult, error)
	ProxyStats(ctx context.Context) (*models.ProxyStats, error)
	AvailableProxies(ctx context.Context, limit int) ([]*models.Proxy, error)
}

// ProxyAssignmentFlowImpl implements ProxyAssignmentFlow
type ProxyAssignmentFlowImpl struct {
	accountRepo repository.AccountRepository
	proxyRepo   repository.ProxyRepository
	db          *gorm.DB
}

// NewProxyAssignmentFlow creates a new proxy assignment flow
func NewProxyAssignmentFlow(accountRepo repository.AccountRepository, proxyRepo repository.ProxyRepository, db *gorm.DB) ProxyAssignmentFlow {
	return &ProxyAssignmentFlowImpl{accountRepo: accountRepo, proxyRepo: proxyRepo, db: db}
}

// AssignProxy binds the least loaded active proxy to the account. The proxy counter and the
// account row change in one transaction. An exhausted pool is reported with Success=false.
func (f *ProxyAssignmentFlowImpl) AssignProxy(ctx context.Context, accountID uint) (*dto.ProxyAssignmentResult, error) {
	result := &dto.ProxyAssignmentResult{AccountID: accountID}
	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		account, err := f.accountRepo.ByIDForUpdate(txCtx, accountID)
		if err != nil {
			return err
		}
		if account == nil {
			return NewBusinessError("ACCOUNT_NOT_FOUND", "Account not found", ErrAccountNotFound)
		}
		if account.ProxyID != nil {
			result.Success = true
			result.ProxyID = account.ProxyID
			result.Message = "Account already has a proxy"
			return nil
		}

		proxy, err := f.proxyRepo.LockLeastLoaded(txCtx)
		if err != nil {
			return err
		}
		if proxy == nil {
			result.Message = "No proxy with free capacity"
			return nil
		}

		now := utils.UTCNow()
		taken, err := f.proxyRepo.IncrementAccountCount(txCtx, proxy.ID, now)
		if err != nil {
			return err
		}
		if !taken {
			return NewBusinessErrorf("PROXY_CAPACITY_EXCEEDED", "Proxy %d is full", ErrProxyCapacityExceeded, proxy.ID)
		}
		if err := f.accountRepo.SetProxy(txCtx, accountID, proxy.ID, now); err != nil {
			return err
		}

		proxy.AccountCount++
		result.Success = true
		result.ProxyID = &proxy.ID
		result.Proxy = proxy
		result.Message = fmt.Sprintf("Proxy %s:%d assigned", proxy.Host, proxy.Port)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UnassignProxy releases the account's proxy slot; the counter never drops below zero
func (f *ProxyAssignmentFlowImpl) UnassignProxy(ctx context.Context, accountID uint) (*dto.ProxyAssignmentResult, error) {
	result := &dto.ProxyAssignmentResult{AccountID: accountID}
	err := repository.WithTransaction(ctx, f.db, func(txCtx context.Context) error {
		account, err := f.accountRepo.ByIDForUpdate(txCtx, accountID)
		if err != nil {
			return err
		}
		if account == nil {
			return NewBusinessError("ACCOUNT_NOT_FOUND", "Account not found", ErrAccountNotFound)
		}
		if account.ProxyID == nil {
			result.Success = true
			result.Message = "Account has no proxy"
			return nil
		}

		if err := f.proxyRepo.DecrementAccountCount(txCtx, *account.ProxyID); err != nil {
			return err
		}
		if err := f.accountRepo.ClearProxy(txCtx, accountID); err != nil {
			return err
		}

		result.Success = true
		result.ProxyID = account.ProxyID
		result.Message = "Proxy unassigned"
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ProxyStats aggregates pool capacity
func (f *ProxyAssignmentFlowImpl) ProxyStats(ctx context.Context) (*models.ProxyStats, error) {
	return f.proxyRepo.Stats(ctx)
}

// AvailableProxies lists active proxies with free slots, least loaded first
func (f *ProxyAssignmentFlowImpl) AvailableProxies(ctx context.Context, limit int) ([]*models.Proxy, error) {
	if limit <= 0 {
		limit = 20
	}
	return f.proxyRepo.ListAvailable(ctx, limit)
}
