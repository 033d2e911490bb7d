package roles

import (
	"context"
	"log/slog"
	"strings"

	"github.com/dmsqa/permcore/internal/shared"
)

// ResolveInvalidator drops cached permission resolutions after role
// mutations, where the affected user set is not tracked.
type ResolveInvalidator interface {
	Flush(ctx context.Context) error
}

// Service wraps role management rules.
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

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole fetches one role with its menu grants.
func (s *Service) GetRole(ctx context.Context, id int64) (*Role, []int64, error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	menuIDs, err := s.repo.ListRoleMenus(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return role, menuIDs, nil
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, req CreateRoleRequest) (*Role, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, shared.ErrValidationf("role name required")
	}
	return s.repo.CreateRole(ctx, name, strings.TrimSpace(req.Description))
}

// UpdateRole updates an existing role.
func (s *Service) UpdateRole(ctx context.Context, id int64, req CreateRoleRequest) (*Role, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, shared.ErrValidationf("role name required")
	}
	return s.repo.UpdateRole(ctx, id, name, strings.TrimSpace(req.Description))
}

// DeleteRole removes a role that no user holds.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	count, err := s.repo.AssignedUserCount(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return shared.ErrValidationf("role is assigned to %d users", count)
	}
	return s.repo.DeleteRole(ctx, id)
}

// SetMenus replaces the role's menu grants. Every user holding the role sees
// the change on their next resolution.
func (s *Service) SetMenus(ctx context.Context, roleID int64, menuIDs []int64) error {
	if _, err := s.repo.GetRole(ctx, roleID); err != nil {
		return err
	}
	if err := s.repo.SetRoleMenus(ctx, roleID, menuIDs); err != nil {
		return err
	}
	s.flushCache(ctx)
	return nil
}

func (s *Service) flushCache(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Flush(ctx); err != nil {
		s.logger.Warn("flush resolve cache", slog.Any("error", err))
	}
}
