package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/baharkarakas/wallet-ledger/internal/auth"
	"github.com/baharkarakas/wallet-ledger/internal/errs"
	"github.com/baharkarakas/wallet-ledger/internal/models"
	repo "github.com/baharkarakas/wallet-ledger/internal/repository"
)

type RegisterInput struct {
	Name           string
	Email          string
	Password       string
	InitialBalance int64
}

type UserService struct {
	users  repo.Users
	tokens *auth.TokenManager
	log    *slog.Logger
}

func NewUserService(users repo.Users, tokens *auth.TokenManager, log *slog.Logger) *UserService {
	if log == nil {
		log = slog.Default()
	}
	return &UserService{users: users, tokens: tokens, log: log}
}

func (s *UserService) Register(ctx context.Context, in RegisterInput) (models.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.InitialBalance < 0 {
		return models.User{}, errs.Invalid("initial_balance", "must be >= 0")
	}
	hash, err := auth.HashPassword(in.Password)
	if errors.Is(err, auth.ErrPasswordLength) {
		return models.User{}, errs.Invalid("password", "must be 8 to 72 bytes")
	}
	if err != nil {
		return models.User{}, err
	}
	u, err := s.users.Create(ctx, models.User{
		Name:         in.Name,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         models.RoleUser,
		Balance:      in.InitialBalance,
	})
	if err != nil {
		return models.User{}, err
	}
	s.log.Info("user registered", "user_id", u.ID)
	return u, nil
}

// Login checks the credentials and issues a token pair. Unknown emails and
// wrong passwords are indistinguishable to the caller.
func (s *UserService) Login(ctx context.Context, email, password string) (auth.TokenPair, error) {
	u, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if errors.Is(err, errs.ErrNotFound) {
		return auth.TokenPair{}, errs.ErrUnauthorized
	}
	if err != nil {
		return auth.TokenPair{}, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return auth.TokenPair{}, errs.ErrUnauthorized
	}
	return s.tokens.GeneratePair(u.ID, u.Role)
}

func (s *UserService) Refresh(ctx context.Context, refreshToken string) (auth.TokenPair, error) {
	claims, err := s.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return auth.TokenPair{}, errs.ErrUnauthorized
	}
	// Role may have changed since the refresh token was issued.
	u, err := s.users.GetByID(ctx, claims.UserID)
	if errors.Is(err, errs.ErrNotFound) {
		return auth.TokenPair{}, errs.ErrUnauthorized
	}
	if err != nil {
		return auth.TokenPair{}, err
	}
	return s.tokens.GeneratePair(u.ID, u.Role)
}

func (s *UserService) Me(ctx context.Context, userID string) (models.User, error) {
	return s.users.GetByID(ctx, userID)
}
