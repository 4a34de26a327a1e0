package services

import (
	"context"

	"github.com/baharkarakas/wallet-ledger/internal/models"
	repo "github.com/baharkarakas/wallet-ledger/internal/repository"
)

type BalanceService struct{ users repo.Users }

func NewBalanceService(users repo.Users) *BalanceService { return &BalanceService{users: users} }

// Current reads the committed balance. It never observes a half-applied settlement.
func (s *BalanceService) Current(ctx context.Context, userID string) (models.Balance, error) {
	u, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return models.Balance{}, err
	}
	return models.Balance{UserID: u.ID, Balance: u.Balance, UpdatedAt: u.UpdatedAt}, nil
}
