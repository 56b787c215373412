package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"svcdesk/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports that a guarded update matched no row because the
	// stored state changed underneath the caller.
	ErrConflict = errors.New("conflict")
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// q runs against tx when non-nil, else directly against the pool.
func (r Repo) q(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return r.DB
}

func expectAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) InsertCategory(ctx context.Context, tx *sql.Tx, c domain.Category) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO categories(name,description,created_at,updated_at) VALUES (?,?,?,?)`,
		c.Name, nullable(c.Description), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) UpdateCategory(ctx context.Context, tx *sql.Tx, c domain.Category) error {
	return expectAffected(r.q(tx).ExecContext(ctx, `UPDATE categories SET name=?, description=?, updated_at=? WHERE id=?`,
		c.Name, nullable(c.Description), c.UpdatedAt, c.ID))
}

func (r Repo) DeleteCategory(ctx context.Context, tx *sql.Tx, id int64) error {
	return expectAffected(r.q(tx).ExecContext(ctx, `DELETE FROM categories WHERE id=?`, id))
}

func (r Repo) GetCategory(ctx context.Context, tx *sql.Tx, id int64) (domain.Category, error) {
	var c domain.Category
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,name,COALESCE(description,''),created_at,updated_at FROM categories WHERE id=?`, id).
		Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

func (r Repo) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(description,''),created_at,updated_at FROM categories ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Category
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

func (r Repo) InsertSlaLevel(ctx context.Context, tx *sql.Tx, s domain.SlaLevel) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO sla_levels(name,description,response_hours,resolution_hours,created_at,updated_at) VALUES (?,?,?,?,?,?)`,
		s.Name, nullable(s.Description), s.ResponseHours, s.ResolutionHours, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) UpdateSlaLevel(ctx context.Context, tx *sql.Tx, s domain.SlaLevel) error {
	return expectAffected(r.q(tx).ExecContext(ctx, `UPDATE sla_levels SET name=?, description=?, response_hours=?, resolution_hours=?, updated_at=? WHERE id=?`,
		s.Name, nullable(s.Description), s.ResponseHours, s.ResolutionHours, s.UpdatedAt, s.ID))
}

func (r Repo) DeleteSlaLevel(ctx context.Context, tx *sql.Tx, id int64) error {
	return expectAffected(r.q(tx).ExecContext(ctx, `DELETE FROM sla_levels WHERE id=?`, id))
}

func (r Repo) GetSlaLevel(ctx context.Context, tx *sql.Tx, id int64) (domain.SlaLevel, error) {
	var s domain.SlaLevel
	err := r.q(tx).QueryRowContext(ctx, `SELECT id,name,COALESCE(description,''),response_hours,resolution_hours,created_at,updated_at FROM sla_levels WHERE id=?`, id).
		Scan(&s.ID, &s.Name, &s.Description, &s.ResponseHours, &s.ResolutionHours, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListSlaLevels(ctx context.Context) ([]domain.SlaLevel, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,COALESCE(description,''),response_hours,resolution_hours,created_at,updated_at FROM sla_levels ORDER BY resolution_hours, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SlaLevel
	for rows.Next() {
		var s domain.SlaLevel
		if err := rows.Scan(&s.ID, &s.Name, &s.Description, &s.ResponseHours, &s.ResolutionHours, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

func (r Repo) count(ctx context.Context, tx *sql.Tx, query string, args ...any) (int, error) {
	var n int
	if err := r.q(tx).QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count: %w", err)
	}
	return n, nil
}

// IsUniqueViolation reports whether err came from a UNIQUE constraint.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// IsForeignKeyViolation reports whether err came from a FOREIGN KEY constraint.
func IsForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableInt64Ptr(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
