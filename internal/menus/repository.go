package menus

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmsqa/permcore/internal/shared"
)

// Repository defines persistence for menus.
type Repository interface {
	List(ctx context.Context, includeInactive bool) ([]Menu, error)
	Get(ctx context.Context, id int64) (*Menu, error)
	Create(ctx context.Context, m Menu) (int64, error)
	Update(ctx context.Context, m Menu) error
	SetActive(ctx context.Context, id int64, active bool) error
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

const menuColumns = `id, code, name, kind, action_code, parent_id, path, sort_order, active, created_at, updated_at`

func scanMenu(row pgx.Row) (*Menu, error) {
	var m Menu
	err := row.Scan(
		&m.ID, &m.Code, &m.Name, &m.Kind, &m.ActionCode, &m.ParentID,
		&m.Path, &m.SortOrder, &m.Active, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// List returns menus ordered for tree assembly.
func (r *PGRepository) List(ctx context.Context, includeInactive bool) ([]Menu, error) {
	query := `SELECT ` + menuColumns + ` FROM menus`
	if !includeInactive {
		query += ` WHERE active`
	}
	query += ` ORDER BY sort_order, id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var menus []Menu
	for rows.Next() {
		m, err := scanMenu(rows)
		if err != nil {
			return nil, err
		}
		menus = append(menus, *m)
	}
	return menus, rows.Err()
}

// Get fetches one menu by ID.
func (r *PGRepository) Get(ctx context.Context, id int64) (*Menu, error) {
	m, err := scanMenu(r.pool.QueryRow(ctx, `SELECT `+menuColumns+` FROM menus WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return m, nil
}

// Create inserts a new menu row. A duplicate code maps to ErrConflict.
func (r *PGRepository) Create(ctx context.Context, m Menu) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `
		INSERT INTO menus (code, name, kind, action_code, parent_id, path, sort_order, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE)
		RETURNING id
	`, m.Code, m.Name, m.Kind, m.ActionCode, m.ParentID, m.Path, m.SortOrder).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, shared.ErrConflict
		}
		return 0, err
	}
	return id, nil
}

// Update rewrites the mutable menu fields.
func (r *PGRepository) Update(ctx context.Context, m Menu) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE menus
		SET name = $2, path = $3, sort_order = $4, updated_at = NOW()
		WHERE id = $1
	`, m.ID, m.Name, m.Path, m.SortOrder)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// SetActive toggles a menu's active flag.
func (r *PGRepository) SetActive(ctx context.Context, id int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE menus SET active = $2, updated_at = NOW() WHERE id = $1`, id, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
