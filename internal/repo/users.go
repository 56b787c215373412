package repo

import (
	"context"
	"database/sql"
	"strings"

	"svcdesk/internal/domain"
)

func scanUser(row rowScanner) (domain.User, error) {
	var u domain.User
	var active int
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &active, &u.CreatedAt); err != nil {
		return u, err
	}
	u.Active = active == 1
	return u, nil
}

func (r Repo) InsertUser(ctx context.Context, tx *sql.Tx, u domain.User) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO users(name,email,role,active,created_at) VALUES (?,?,?,?,?)`,
		u.Name, strings.ToLower(strings.TrimSpace(u.Email)), u.Role, boolInt(u.Active), u.CreatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) UpdateUser(ctx context.Context, tx *sql.Tx, u domain.User) error {
	return expectAffected(r.q(tx).ExecContext(ctx, `UPDATE users SET name=?, email=?, role=?, active=? WHERE id=?`,
		u.Name, strings.ToLower(strings.TrimSpace(u.Email)), u.Role, boolInt(u.Active), u.ID))
}

func (r Repo) DeleteUser(ctx context.Context, tx *sql.Tx, id int64) error {
	return expectAffected(r.q(tx).ExecContext(ctx, `DELETE FROM users WHERE id=?`, id))
}

func (r Repo) GetUser(ctx context.Context, tx *sql.Tx, id int64) (domain.User, error) {
	u, err := scanUser(r.q(tx).QueryRowContext(ctx, `SELECT id,name,email,role,active,created_at FROM users WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

func (r Repo) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	u, err := scanUser(r.DB.QueryRowContext(ctx, `SELECT id,name,email,role,active,created_at FROM users WHERE email=?`,
		strings.ToLower(strings.TrimSpace(email))))
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	return u, err
}

// ListUsers returns users, optionally restricted to one role.
func (r Repo) ListUsers(ctx context.Context, role string) ([]domain.User, error) {
	query := `SELECT id,name,email,role,active,created_at FROM users`
	var args []any
	if role != "" {
		query += ` WHERE role=?`
		args = append(args, role)
	}
	query += ` ORDER BY id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}

func (r Repo) CountUsers(ctx context.Context) (int, error) {
	return r.count(ctx, nil, `SELECT COUNT(1) FROM users`)
}

// CountRequestsByRequester counts requests a user has submitted.
func (r Repo) CountRequestsByRequester(ctx context.Context, tx *sql.Tx, userID int64) (int, error) {
	return r.count(ctx, tx, `SELECT COUNT(1) FROM service_requests WHERE requester_id=?`, userID)
}
