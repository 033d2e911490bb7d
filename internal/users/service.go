package users

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/dmsqa/permcore/internal/shared"
)

// ResolveInvalidator drops a user's cached permission resolution after a
// role-assignment change.
type ResolveInvalidator interface {
	Invalidate(ctx context.Context, userID int64) error
}

// Service wraps user administration rules.
type Service struct {
	repo   Repository
	cache  ResolveInvalidator
	logger *slog.Logger
}

// NewService constructs a new Service. The cache may be nil.
func NewService(repo Repository, cache ResolveInvalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger}
}

// List returns a page of users.
func (s *Service) List(ctx context.Context, filters ListFilters) ([]User, shared.Pagination, error) {
	if filters.PageSize <= 0 {
		filters.PageSize = 20
	}
	if filters.PageSize > 100 {
		filters.PageSize = 100
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}
	filters.Keyword = strings.TrimSpace(filters.Keyword)

	users, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return users, shared.NewPagination(filters.Page, filters.PageSize, total), nil
}

// Get fetches one user with their role assignments.
func (s *Service) Get(ctx context.Context, id int64) (*User, []int64, error) {
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	roleIDs, err := s.repo.ListUserRoles(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return user, roleIDs, nil
}

// Create hashes the password and inserts the user.
func (s *Service) Create(ctx context.Context, req CreateUserRequest) (*User, error) {
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" {
		return nil, shared.ErrValidationf("username required")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	id, err := s.repo.Create(ctx, username, strings.TrimSpace(req.DisplayName), string(hashed), req.IsAdmin)
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Disable soft-deactivates a user account. Existing tokens stop working at
// the permission layer, not here.
func (s *Service) Disable(ctx context.Context, id int64) error {
	if err := s.repo.SetActive(ctx, id, false); err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

// Enable reactivates a user account.
func (s *Service) Enable(ctx context.Context, id int64) error {
	return s.repo.SetActive(ctx, id, true)
}

// AssignRole attaches a role to the user and drops their cached resolution.
func (s *Service) AssignRole(ctx context.Context, userID, roleID int64) error {
	if _, err := s.repo.Get(ctx, userID); err != nil {
		return err
	}
	if err := s.repo.AssignRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// RemoveRole detaches a role from the user and drops their cached resolution.
func (s *Service) RemoveRole(ctx context.Context, userID, roleID int64) error {
	if err := s.repo.RemoveRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("invalidate resolve cache", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}
