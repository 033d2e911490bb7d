package permissions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmsqa/permcore/internal/shared"
)

// Repository defines data access for permission resolution and override
// mutations.
type Repository interface {
	RoleGrants(ctx context.Context, userID int64) ([]RoleGrant, error)
	ActiveOverrides(ctx context.Context, userID int64, now time.Time) ([]Override, error)
	ListOverrides(ctx context.Context, userID int64) ([]Override, error)
	GetOverride(ctx context.Context, id int64) (*Override, error)
	FindEquivalentActive(ctx context.Context, userID, menuID int64, level PermissionLevel, actionCode *string) (*Override, error)
	UserExists(ctx context.Context, userID int64) (bool, error)
	MenuExists(ctx context.Context, menuID int64) (bool, error)
	History(ctx context.Context, filters HistoryFilters) ([]HistoryEntry, int, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes the operations that must run inside one transaction so
// an override write and its history entry commit or roll back together.
type TxRepository interface {
	InsertOverride(ctx context.Context, o Override) (int64, error)
	DeactivateOverride(ctx context.Context, id int64) error
	InsertHistory(ctx context.Context, h HistoryEntry) (int64, error)
}

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

var _ Repository = (*PGRepository)(nil)

// WithTx wraps callback in a repeatable-read transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("permissions: begin tx: %w", err)
	}
	wrapper := &txRepo{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// RoleGrants returns every (menu, action) pair reachable through the user's
// roles. Inactive menus never contribute to the baseline.
func (r *PGRepository) RoleGrants(ctx context.Context, userID int64) ([]RoleGrant, error) {
	query := `
		SELECT DISTINCT m.id, m.code, m.action_code
		FROM user_roles ur
		INNER JOIN role_menus rm ON rm.role_id = ur.role_id
		INNER JOIN menus m ON m.id = rm.menu_id
		WHERE ur.user_id = $1 AND m.active
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []RoleGrant
	for rows.Next() {
		var g RoleGrant
		if err := rows.Scan(&g.MenuID, &g.MenuCode, &g.ActionCode); err != nil {
			return nil, err
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

const overrideColumns = `up.id, up.user_id, up.menu_id, m.code, up.permission_type, up.permission_level,
	       up.action_code, up.granted_by, up.granted_at, up.expires_at, up.reason, up.active, up.updated_at`

func scanOverride(row pgx.Row) (*Override, error) {
	var o Override
	err := row.Scan(
		&o.ID, &o.UserID, &o.MenuID, &o.MenuCode, &o.Type, &o.Level,
		&o.ActionCode, &o.GrantedBy, &o.GrantedAt, &o.ExpiresAt, &o.Reason, &o.Active, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// ActiveOverrides returns the user's overrides that are effective at the
// given instant. Expired rows are filtered here, not deleted.
func (r *PGRepository) ActiveOverrides(ctx context.Context, userID int64, now time.Time) ([]Override, error) {
	query := `
		SELECT ` + overrideColumns + `
		FROM user_permissions up
		INNER JOIN menus m ON m.id = up.menu_id
		WHERE up.user_id = $1
		  AND up.active
		  AND (up.expires_at IS NULL OR up.expires_at > $2)
	`
	return r.queryOverrides(ctx, query, userID, now)
}

// ListOverrides returns all active override rows for a user, including ones
// whose expiry has already passed, for administrative listings.
func (r *PGRepository) ListOverrides(ctx context.Context, userID int64) ([]Override, error) {
	query := `
		SELECT ` + overrideColumns + `
		FROM user_permissions up
		INNER JOIN menus m ON m.id = up.menu_id
		WHERE up.user_id = $1 AND up.active
		ORDER BY up.granted_at DESC
	`
	return r.queryOverrides(ctx, query, userID)
}

func (r *PGRepository) queryOverrides(ctx context.Context, query string, args ...any) ([]Override, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var overrides []Override
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, *o)
	}
	return overrides, rows.Err()
}

// GetOverride fetches one override by ID.
func (r *PGRepository) GetOverride(ctx context.Context, id int64) (*Override, error) {
	query := `
		SELECT ` + overrideColumns + `
		FROM user_permissions up
		INNER JOIN menus m ON m.id = up.menu_id
		WHERE up.id = $1
	`
	o, err := scanOverride(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

// FindEquivalentActive looks up an active override for the same
// (user, menu, level, action) key, if any.
func (r *PGRepository) FindEquivalentActive(ctx context.Context, userID, menuID int64, level PermissionLevel, actionCode *string) (*Override, error) {
	query := `
		SELECT ` + overrideColumns + `
		FROM user_permissions up
		INNER JOIN menus m ON m.id = up.menu_id
		WHERE up.user_id = $1
		  AND up.menu_id = $2
		  AND up.permission_level = $3
		  AND COALESCE(up.action_code, '') = COALESCE($4, '')
		  AND up.active
	`
	o, err := scanOverride(r.pool.QueryRow(ctx, query, userID, menuID, level, actionCode))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

// UserExists reports whether a user row exists.
func (r *PGRepository) UserExists(ctx context.Context, userID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists)
	return exists, err
}

// MenuExists reports whether a menu row exists, active or not.
func (r *PGRepository) MenuExists(ctx context.Context, menuID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM menus WHERE id = $1)`, menuID).Scan(&exists)
	return exists, err
}

// History returns a page of history entries, newest first, plus the total
// count matching the filters.
func (r *PGRepository) History(ctx context.Context, filters HistoryFilters) ([]HistoryEntry, int, error) {
	conditions := []string{"h.user_id = $1"}
	args := []any{filters.UserID}

	if filters.MenuID != nil {
		args = append(args, *filters.MenuID)
		conditions = append(conditions, fmt.Sprintf("h.menu_id = $%d", len(args)))
	}
	if filters.ActionCode != nil {
		args = append(args, *filters.ActionCode)
		conditions = append(conditions, fmt.Sprintf("h.action_code = $%d", len(args)))
	}
	if !filters.From.IsZero() {
		args = append(args, filters.From)
		conditions = append(conditions, fmt.Sprintf("h.operated_at >= $%d", len(args)))
	}
	if !filters.To.IsZero() {
		args = append(args, filters.To)
		conditions = append(conditions, fmt.Sprintf("h.operated_at <= $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	var total int
	countQuery := `SELECT COUNT(*) FROM user_permission_history h WHERE ` + where
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, pageSize, (page-1)*pageSize)

	query := fmt.Sprintf(`
		SELECT h.id, h.override_id, h.user_id, h.menu_id, m.code,
		       h.permission_type, h.permission_level, h.action_code,
		       h.action, h.old_value, h.new_value, h.reason,
		       h.operator_id, h.operated_at
		FROM user_permission_history h
		INNER JOIN menus m ON m.id = h.menu_id
		WHERE %s
		ORDER BY h.operated_at DESC, h.id DESC
		LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		err := rows.Scan(
			&h.ID, &h.OverrideID, &h.UserID, &h.MenuID, &h.MenuCode,
			&h.Type, &h.Level, &h.ActionCode,
			&h.Action, &h.OldValue, &h.NewValue, &h.Reason,
			&h.OperatorID, &h.OperatedAt,
		)
		if err != nil {
			return nil, 0, err
		}
		entries = append(entries, h)
	}
	return entries, total, rows.Err()
}

// DeactivateExpired bulk-deactivates overrides whose expiry has passed.
// Already-deactivated rows are untouched, which makes repeated sweeps no-ops.
func (r *PGRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE user_permissions
		SET active = FALSE, updated_at = $1
		WHERE expires_at IS NOT NULL AND expires_at <= $1 AND active
	`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type txRepo struct {
	tx pgx.Tx
}

// InsertOverride writes a new override row and returns its ID. A partial
// unique index on active rows turns concurrent duplicate grants into
// ErrConflict.
func (t *txRepo) InsertOverride(ctx context.Context, o Override) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO user_permissions (
			user_id, menu_id, permission_type, permission_level, action_code,
			granted_by, granted_at, expires_at, reason, active, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, $7)
		RETURNING id
	`, o.UserID, o.MenuID, o.Type, o.Level, o.ActionCode,
		o.GrantedBy, o.GrantedAt, o.ExpiresAt, o.Reason).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, shared.ErrConflict
		}
		return 0, err
	}
	return id, nil
}

// DeactivateOverride soft-deletes one override row.
func (t *txRepo) DeactivateOverride(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE user_permissions
		SET active = FALSE, updated_at = NOW()
		WHERE id = $1 AND active
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// InsertHistory appends one immutable history entry.
func (t *txRepo) InsertHistory(ctx context.Context, h HistoryEntry) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO user_permission_history (
			override_id, user_id, menu_id, permission_type, permission_level,
			action_code, action, old_value, new_value, reason, operator_id, operated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id
	`, h.OverrideID, h.UserID, h.MenuID, h.Type, h.Level,
		h.ActionCode, h.Action, h.OldValue, h.NewValue, h.Reason, h.OperatorID, h.OperatedAt).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
