package auth

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/dmsqa/permcore/internal/shared"
)

// Service wraps authentication business rules.
type Service struct {
	repo   Repository
	tokens *TokenIssuer
	logger *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, tokens *TokenIssuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, tokens: tokens, logger: logger}
}

// Authenticate validates username/password credentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*Account, error) {
	account, err := s.repo.FindByUsername(ctx, username)
	if err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	if !account.IsActive {
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return nil, shared.ErrInvalidCredentials
	}
	return account, nil
}

// Login authenticates and issues a signed token.
func (s *Service) Login(ctx context.Context, username, password string) (string, time.Time, *Account, error) {
	account, err := s.Authenticate(ctx, username, password)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	token, expiresAt, err := s.tokens.Issue(account)
	if err != nil {
		return "", time.Time{}, nil, err
	}
	if err := s.repo.TouchLastLogin(ctx, account.ID, time.Now()); err != nil {
		s.logger.Warn("touch last login", slog.Int64("user_id", account.ID), slog.Any("error", err))
	}
	return token, expiresAt, account, nil
}

// Verify resolves a bearer token to an identity.
func (s *Service) Verify(raw string) (*shared.Identity, error) {
	return s.tokens.Verify(raw)
}
