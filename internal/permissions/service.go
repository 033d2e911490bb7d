package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/dmsqa/permcore/internal/observability"
	"github.com/dmsqa/permcore/internal/shared"
)

// Service orchestrates permission resolution and override mutations.
type Service struct {
	repo    Repository
	cache   *ResolveCache
	metrics *observability.Metrics
	logger  *slog.Logger
	group   singleflight.Group
	now     func() time.Time
}

// NewService constructs a Service. Cache and metrics may be nil.
func NewService(repo Repository, cache *ResolveCache, metrics *observability.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the time source.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Resolve computes the effective permission set for a user. Cached results
// are served when available; concurrent misses for the same user collapse
// into a single database round trip.
func (s *Service) Resolve(ctx context.Context, userID int64) ([]EffectivePermission, error) {
	if perms, ok := s.cache.Get(ctx, userID); ok {
		s.metrics.ObserveResolveCache("hit")
		return perms, nil
	}
	s.metrics.ObserveResolveCache("miss")

	value, err, _ := s.group.Do(fmt.Sprintf("resolve:%d", userID), func() (any, error) {
		perms, err := s.resolveFresh(ctx, userID)
		if err != nil {
			return nil, err
		}
		s.cache.Set(ctx, userID, perms)
		return perms, nil
	})
	if err != nil {
		return nil, err
	}
	return value.([]EffectivePermission), nil
}

func (s *Service) resolveFresh(ctx context.Context, userID int64) ([]EffectivePermission, error) {
	now := s.now()
	grants, err := retryRead(ctx, func(ctx context.Context) ([]RoleGrant, error) {
		return s.repo.RoleGrants(ctx, userID)
	})
	if err != nil {
		return nil, fmt.Errorf("permissions: role grants: %w", err)
	}
	overrides, err := retryRead(ctx, func(ctx context.Context) ([]Override, error) {
		return s.repo.ActiveOverrides(ctx, userID, now)
	})
	if err != nil {
		return nil, fmt.Errorf("permissions: active overrides: %w", err)
	}
	return Resolve(grants, overrides, now), nil
}

// Check reports whether the user holds the permission code, either
// "menuCode" or "menuCode:actionCode".
func (s *Service) Check(ctx context.Context, userID int64, code string) (bool, error) {
	perms, err := s.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	_, ok := GrantedSet(perms)[strings.TrimSpace(code)]
	return ok, nil
}

// ListOverrides returns the user's active override rows for administration.
func (s *Service) ListOverrides(ctx context.Context, userID int64) ([]Override, error) {
	return retryRead(ctx, func(ctx context.Context) ([]Override, error) {
		return s.repo.ListOverrides(ctx, userID)
	})
}

// Grant creates one override and its history entry atomically.
func (s *Service) Grant(ctx context.Context, spec GrantSpec, operatorID int64) (*Override, error) {
	spec, err := s.normalizeSpec(spec)
	if err != nil {
		return nil, err
	}

	if err := s.checkReferences(ctx, spec); err != nil {
		return nil, err
	}

	if existing, err := s.repo.FindEquivalentActive(ctx, spec.UserID, spec.MenuID, spec.Level, spec.ActionCode); err == nil && existing != nil {
		return nil, fmt.Errorf("%w: equivalent active override %d", shared.ErrConflict, existing.ID)
	} else if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	now := s.now()
	override := Override{
		UserID:     spec.UserID,
		MenuID:     spec.MenuID,
		Type:       spec.Type,
		Level:      spec.Level,
		ActionCode: spec.ActionCode,
		GrantedBy:  operatorID,
		GrantedAt:  now,
		ExpiresAt:  spec.ExpiresAt,
		Reason:     spec.Reason,
		Active:     true,
		UpdatedAt:  now,
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertOverride(ctx, override)
		if err != nil {
			return err
		}
		override.ID = id
		_, err = tx.InsertHistory(ctx, HistoryEntry{
			OverrideID: &id,
			UserID:     override.UserID,
			MenuID:     override.MenuID,
			Type:       override.Type,
			Level:      override.Level,
			ActionCode: override.ActionCode,
			Action:     ActionCreate,
			OldValue:   nil,
			NewValue:   snapshotJSON(override),
			Reason:     spec.Reason,
			OperatorID: operatorID,
			OperatedAt: now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, spec.UserID)
	s.metrics.ObserveOverrideMutation(string(ActionCreate))

	created, err := s.repo.GetOverride(ctx, override.ID)
	if err != nil {
		// The write committed; fall back to the in-memory copy.
		s.logger.Warn("read back override", slog.Int64("id", override.ID), slog.Any("error", err))
		return &override, nil
	}
	return created, nil
}

// BatchGrant applies each spec independently. One invalid spec never rolls
// back the others; the caller gets a per-item result list.
func (s *Service) BatchGrant(ctx context.Context, specs []GrantSpec, operatorID int64) (BatchResult, error) {
	result := BatchResult{
		BatchID: uuid.NewString(),
		Results: make([]BatchItemResult, 0, len(specs)),
	}
	for _, spec := range specs {
		item := BatchItemResult{MenuID: spec.MenuID, ActionCode: spec.ActionCode}
		created, err := s.Grant(ctx, spec, operatorID)
		switch {
		case err == nil:
			item.Status = BatchStatusCreated
			item.OverrideID = created.ID
		case errors.Is(err, shared.ErrConflict):
			item.Status = BatchStatusExists
		default:
			item.Status = BatchStatusFailed
			item.Error = err.Error()
		}
		result.Results = append(result.Results, item)
	}
	return result, nil
}

// Revoke soft-deletes an override, recording the prior state in history.
func (s *Service) Revoke(ctx context.Context, overrideID int64, reason *string, operatorID int64) error {
	existing, err := s.repo.GetOverride(ctx, overrideID)
	if err != nil {
		return err
	}
	if !existing.Active {
		return fmt.Errorf("%w: override %d already revoked", shared.ErrNotFound, overrideID)
	}

	now := s.now()
	revoked := *existing
	revoked.Active = false
	revoked.UpdatedAt = now

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.DeactivateOverride(ctx, overrideID); err != nil {
			return err
		}
		_, err := tx.InsertHistory(ctx, HistoryEntry{
			OverrideID: &overrideID,
			UserID:     existing.UserID,
			MenuID:     existing.MenuID,
			Type:       existing.Type,
			Level:      existing.Level,
			ActionCode: existing.ActionCode,
			Action:     ActionDelete,
			OldValue:   snapshotJSON(*existing),
			NewValue:   snapshotJSON(revoked),
			Reason:     reason,
			OperatorID: operatorID,
			OperatedAt: now,
		})
		return err
	})
	if err != nil {
		return err
	}

	s.invalidate(ctx, existing.UserID)
	s.metrics.ObserveOverrideMutation(string(ActionDelete))
	return nil
}

// Restore re-creates a previously revoked override from its recorded shape.
func (s *Service) Restore(ctx context.Context, userID, menuID int64, permType PermissionType, level PermissionLevel, reason *string, operatorID int64) (*Override, error) {
	if reason == nil {
		r := "restored from history"
		reason = &r
	}
	return s.Grant(ctx, GrantSpec{
		UserID: userID,
		MenuID: menuID,
		Type:   permType,
		Level:  level,
		Reason: reason,
	}, operatorID)
}

// CleanupExpired deactivates every override whose expiry has passed. Running
// it again with no newly expired rows affects nothing and writes no history.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	count, err := s.repo.DeactivateExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if count > 0 {
		if err := s.cache.Flush(ctx); err != nil {
			s.logger.Warn("flush resolve cache", slog.Any("error", err))
		}
		s.logger.Info("expired overrides deactivated", slog.Int64("count", count))
	}
	return count, nil
}

// History returns a page of mutation history, newest first.
func (s *Service) History(ctx context.Context, filters HistoryFilters) ([]HistoryEntry, shared.Pagination, error) {
	if filters.PageSize <= 0 {
		filters.PageSize = 20
	}
	if filters.PageSize > 100 {
		filters.PageSize = 100
	}
	if filters.Page <= 0 {
		filters.Page = 1
	}

	type pageResult struct {
		entries []HistoryEntry
		total   int
	}
	result, err := retryRead(ctx, func(ctx context.Context) (pageResult, error) {
		entries, total, err := s.repo.History(ctx, filters)
		return pageResult{entries: entries, total: total}, err
	})
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return result.entries, shared.NewPagination(filters.Page, filters.PageSize, result.total), nil
}

func (s *Service) normalizeSpec(spec GrantSpec) (GrantSpec, error) {
	if spec.Type == "" {
		spec.Type = TypeGrant
	}
	if spec.Level == "" {
		spec.Level = LevelMenu
	}
	if !spec.Type.IsValid() {
		return spec, fmt.Errorf("%w: permission type must be grant or deny", shared.ErrValidation)
	}
	if !spec.Level.IsValid() {
		return spec, fmt.Errorf("%w: permission level must be menu or action", shared.ErrValidation)
	}
	if spec.Level == LevelAction {
		if spec.ActionCode == nil || strings.TrimSpace(*spec.ActionCode) == "" {
			return spec, fmt.Errorf("%w: action-level override requires an action code", shared.ErrValidation)
		}
		code := strings.TrimSpace(*spec.ActionCode)
		spec.ActionCode = &code
	} else {
		spec.ActionCode = nil
	}
	if spec.ExpiresAt != nil && !spec.ExpiresAt.After(s.now()) {
		return spec, fmt.Errorf("%w: expiry must be in the future", shared.ErrValidation)
	}
	return spec, nil
}

func (s *Service) checkReferences(ctx context.Context, spec GrantSpec) error {
	userOK, err := s.repo.UserExists(ctx, spec.UserID)
	if err != nil {
		return err
	}
	if !userOK {
		return fmt.Errorf("%w: user %d does not exist", shared.ErrValidation, spec.UserID)
	}
	menuOK, err := s.repo.MenuExists(ctx, spec.MenuID)
	if err != nil {
		return err
	}
	if !menuOK {
		return fmt.Errorf("%w: menu %d does not exist", shared.ErrValidation, spec.MenuID)
	}
	return nil
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if err := s.cache.Invalidate(ctx, userID); err != nil {
		s.logger.Warn("invalidate resolve cache", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}

// overrideSnapshot is the value shape recorded in history entries.
type overrideSnapshot struct {
	Type       PermissionType  `json:"type"`
	Level      PermissionLevel `json:"level"`
	ActionCode *string         `json:"action_code,omitempty"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
	Active     bool            `json:"active"`
}

func snapshotJSON(o Override) *string {
	raw, err := json.Marshal(overrideSnapshot{
		Type:       o.Type,
		Level:      o.Level,
		ActionCode: o.ActionCode,
		ExpiresAt:  o.ExpiresAt,
		Active:     o.Active,
	})
	if err != nil {
		return nil
	}
	s := string(raw)
	return &s
}

// retryRead re-issues an idempotent read once when the store errors. Domain
// errors and context cancellation are returned as-is; writes never go
// through this path.
func retryRead[T any](ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	value, err := fn(ctx)
	if err == nil || isDomainError(err) || ctx.Err() != nil {
		return value, err
	}
	return fn(ctx)
}

func isDomainError(err error) bool {
	return errors.Is(err, shared.ErrNotFound) ||
		errors.Is(err, shared.ErrValidation) ||
		errors.Is(err, shared.ErrConflict)
}
