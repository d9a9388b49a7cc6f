// Package businessflow contains the business logic for the application.
package businessflow

import (
	"context"

	"github.com/amirphl/warmup-orchestrator/models"
	"github.com/amirphl/warmup-orchestrator/repository"
)

// getAccount loads an account or returns ErrAccountNotFound
func getAccount(ctx context.Context, accountRepo repository.AccountRepository, accountID uint) (*models.Account, error) {
	account, err := accountRepo.ByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, NewBusinessError("ACCOUNT_NOT_FOUND", "Account not found", ErrAccountNotFound)
	}
	return account, nil
}
