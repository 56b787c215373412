package repo

import (
	"context"
	"database/sql"
	"strings"

	"svcdesk/internal/domain"
)

type ServiceFilters struct {
	CategoryID *int64
	ActiveOnly bool
}

const serviceColumns = `id,category_id,sla_id,name,COALESCE(description,''),active,created_at,updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanService(row rowScanner) (domain.Service, error) {
	var s domain.Service
	var categoryID, slaID sql.NullInt64
	var active int
	if err := row.Scan(&s.ID, &categoryID, &slaID, &s.Name, &s.Description, &active, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return s, err
	}
	if categoryID.Valid {
		s.CategoryID = &categoryID.Int64
	}
	if slaID.Valid {
		s.SlaID = &slaID.Int64
	}
	s.Active = active == 1
	return s, nil
}

func (r Repo) InsertService(ctx context.Context, tx *sql.Tx, s domain.Service) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO services(category_id,sla_id,name,description,active,created_at,updated_at) VALUES (?,?,?,?,?,?,?)`,
		nullableInt64Ptr(s.CategoryID), nullableInt64Ptr(s.SlaID), s.Name, nullable(s.Description), boolInt(s.Active), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) UpdateService(ctx context.Context, tx *sql.Tx, s domain.Service) error {
	return expectAffected(r.q(tx).ExecContext(ctx, `UPDATE services SET category_id=?, sla_id=?, name=?, description=?, active=?, updated_at=? WHERE id=?`,
		nullableInt64Ptr(s.CategoryID), nullableInt64Ptr(s.SlaID), s.Name, nullable(s.Description), boolInt(s.Active), s.UpdatedAt, s.ID))
}

func (r Repo) DeleteService(ctx context.Context, tx *sql.Tx, id int64) error {
	return expectAffected(r.q(tx).ExecContext(ctx, `DELETE FROM services WHERE id=?`, id))
}

func (r Repo) GetService(ctx context.Context, tx *sql.Tx, id int64) (domain.Service, error) {
	s, err := scanService(r.q(tx).QueryRowContext(ctx, `SELECT `+serviceColumns+` FROM services WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListServices(ctx context.Context, f ServiceFilters) ([]domain.Service, error) {
	var clauses []string
	var args []any
	if f.CategoryID != nil {
		clauses = append(clauses, "category_id=?")
		args = append(args, *f.CategoryID)
	}
	if f.ActiveOnly {
		clauses = append(clauses, "active=1")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT `+serviceColumns+` FROM services `+where+` ORDER BY name, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Service
	for rows.Next() {
		s, err := scanService(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// CountRequestsForService counts requests submitted against a service.
func (r Repo) CountRequestsForService(ctx context.Context, tx *sql.Tx, serviceID int64) (int, error) {
	return r.count(ctx, tx, `SELECT COUNT(1) FROM service_requests WHERE service_id=?`, serviceID)
}

func (r Repo) InsertTemplateField(ctx context.Context, tx *sql.Tx, f domain.TemplateField) (int64, error) {
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO template_fields(service_id,label,field_type,options,required,position) VALUES (?,?,?,?,?,?)`,
		f.ServiceID, f.Label, f.FieldType, nullable(f.Options), boolInt(f.Required), f.Position)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) UpdateTemplateField(ctx context.Context, tx *sql.Tx, f domain.TemplateField) error {
	return expectAffected(r.q(tx).ExecContext(ctx, `UPDATE template_fields SET label=?, field_type=?, options=?, required=?, position=? WHERE id=? AND service_id=?`,
		f.Label, f.FieldType, nullable(f.Options), boolInt(f.Required), f.Position, f.ID, f.ServiceID))
}

func (r Repo) DeleteTemplateField(ctx context.Context, tx *sql.Tx, serviceID, id int64) error {
	return expectAffected(r.q(tx).ExecContext(ctx, `DELETE FROM template_fields WHERE id=? AND service_id=?`, id, serviceID))
}

func (r Repo) GetTemplateField(ctx context.Context, tx *sql.Tx, serviceID, id int64) (domain.TemplateField, error) {
	f, err := scanTemplateField(r.q(tx).QueryRowContext(ctx, `SELECT id,service_id,label,field_type,COALESCE(options,''),required,position FROM template_fields WHERE id=? AND service_id=?`, id, serviceID))
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	return f, err
}

// ListTemplateFields returns the fields of a service in display order.
func (r Repo) ListTemplateFields(ctx context.Context, tx *sql.Tx, serviceID int64) ([]domain.TemplateField, error) {
	rows, err := r.q(tx).QueryContext(ctx, `SELECT id,service_id,label,field_type,COALESCE(options,''),required,position FROM template_fields WHERE service_id=? ORDER BY position, id`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TemplateField
	for rows.Next() {
		f, err := scanTemplateField(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func scanTemplateField(row rowScanner) (domain.TemplateField, error) {
	var f domain.TemplateField
	var required int
	if err := row.Scan(&f.ID, &f.ServiceID, &f.Label, &f.FieldType, &f.Options, &required, &f.Position); err != nil {
		return f, err
	}
	f.Required = required == 1
	return f, nil
}
