package service

import (
	"context"
	"fmt"

	"github.com/eloysh/Gurenko-ai/internal/config"
	"github.com/eloysh/Gurenko-ai/internal/models"
)

// UserStore is the durable user ledger.
type UserStore interface {
	Ensure(ctx context.Context, telegramID int64, username, firstName, lastName, referral string, signupCredits int) (*models.User, bool, error)
	FindByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	AddCredits(ctx context.Context, userID int64, delta int) error
	ListTelegramIDs(ctx context.Context) ([]int64, error)
}

type UserService struct {
	cfg   config.Config
	users UserStore
}

func NewUserService(cfg config.Config, users UserStore) *UserService {
	return &UserService{cfg: cfg, users: users}
}

// Ensure returns the user for the telegram id, creating it with the signup
// credit bonus on first contact.
func (s *UserService) Ensure(ctx context.Context, telegramID int64, username, firstName, lastName, referral string) (*models.User, bool, error) {
	user, created, err := s.users.Ensure(ctx, telegramID, username, firstName, lastName, referral, s.cfg.SignupCredits)
	if err != nil {
		return nil, false, fmt.Errorf("ensure user: %w", err)
	}
	return user, created, nil
}

func (s *UserService) FindByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	return s.users.FindByTelegramID(ctx, telegramID)
}

func (s *UserService) AddCredits(ctx context.Context, userID int64, delta int) error {
	return s.users.AddCredits(ctx, userID, delta)
}

func (s *UserService) ListTelegramIDs(ctx context.Context) ([]int64, error) {
	ids, err := s.users.ListTelegramIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("list telegram ids: %w", err)
	}
	return ids, nil
}
