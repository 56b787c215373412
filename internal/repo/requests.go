package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"svcdesk/internal/domain"
)

type RequestFilters struct {
	Status      domain.Status
	RequesterID *int64
	ServiceID   *int64
	Limit       int
	// Cursor is a request id; only older requests are returned.
	Cursor int64
}

const requestColumns = `id,code,service_id,sla_id,requester_id,status,COALESCE(description,''),answers_json,service_snapshot_json,sla_snapshot_json,submitted_at,updated_at`

func scanRequest(row rowScanner) (domain.ServiceRequest, error) {
	var sr domain.ServiceRequest
	var slaID sql.NullInt64
	var answers, slaSnapshot sql.NullString
	var serviceSnapshot string
	if err := row.Scan(&sr.ID, &sr.Code, &sr.ServiceID, &slaID, &sr.RequesterID, &sr.Status, &sr.Description,
		&answers, &serviceSnapshot, &slaSnapshot, &sr.SubmittedAt, &sr.UpdatedAt); err != nil {
		return sr, err
	}
	if slaID.Valid {
		sr.SlaID = &slaID.Int64
	}
	if answers.Valid && answers.String != "" {
		if err := json.Unmarshal([]byte(answers.String), &sr.Answers); err != nil {
			return sr, fmt.Errorf("decode answers of request %d: %w", sr.ID, err)
		}
	}
	if err := json.Unmarshal([]byte(serviceSnapshot), &sr.ServiceSnapshot); err != nil {
		return sr, fmt.Errorf("decode service snapshot of request %d: %w", sr.ID, err)
	}
	if slaSnapshot.Valid && slaSnapshot.String != "" {
		var snap domain.SlaSnapshot
		if err := json.Unmarshal([]byte(slaSnapshot.String), &snap); err != nil {
			return sr, fmt.Errorf("decode sla snapshot of request %d: %w", sr.ID, err)
		}
		sr.SlaSnapshot = &snap
	}
	return sr, nil
}

func (r Repo) InsertRequest(ctx context.Context, tx *sql.Tx, sr domain.ServiceRequest) (int64, error) {
	var answers any
	if len(sr.Answers) > 0 {
		data, err := json.Marshal(sr.Answers)
		if err != nil {
			return 0, err
		}
		answers = string(data)
	}
	serviceSnapshot, err := json.Marshal(sr.ServiceSnapshot)
	if err != nil {
		return 0, err
	}
	var slaSnapshot any
	if sr.SlaSnapshot != nil {
		data, err := json.Marshal(sr.SlaSnapshot)
		if err != nil {
			return 0, err
		}
		slaSnapshot = string(data)
	}
	res, err := r.q(tx).ExecContext(ctx, `INSERT INTO service_requests(code,service_id,sla_id,requester_id,status,description,answers_json,service_snapshot_json,sla_snapshot_json,submitted_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		sr.Code, sr.ServiceID, nullableInt64Ptr(sr.SlaID), sr.RequesterID, string(sr.Status), nullable(sr.Description),
		answers, string(serviceSnapshot), slaSnapshot, sr.SubmittedAt, sr.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r Repo) GetRequest(ctx context.Context, tx *sql.Tx, id int64) (domain.ServiceRequest, error) {
	sr, err := scanRequest(r.q(tx).QueryRowContext(ctx, `SELECT `+requestColumns+` FROM service_requests WHERE id=?`, id))
	if err == sql.ErrNoRows {
		return sr, ErrNotFound
	}
	return sr, err
}

func (r Repo) GetRequestByCode(ctx context.Context, code string) (domain.ServiceRequest, error) {
	sr, err := scanRequest(r.DB.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM service_requests WHERE code=?`, code))
	if err == sql.ErrNoRows {
		return sr, ErrNotFound
	}
	return sr, err
}

func (r Repo) ListRequests(ctx context.Context, f RequestFilters) ([]domain.ServiceRequest, error) {
	var clauses []string
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, string(f.Status))
	}
	if f.RequesterID != nil {
		clauses = append(clauses, "requester_id=?")
		args = append(args, *f.RequesterID)
	}
	if f.ServiceID != nil {
		clauses = append(clauses, "service_id=?")
		args = append(args, *f.ServiceID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT ` + requestColumns + ` FROM service_requests ` + where + ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.ServiceRequest
	for rows.Next() {
		sr, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, sr)
	}
	return res, rows.Err()
}

// UpdateRequestStatus moves a request from one status to another. It returns
// ErrConflict when the stored status is no longer from.
func (r Repo) UpdateRequestStatus(ctx context.Context, tx *sql.Tx, id int64, from, to domain.Status, updatedAt string) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE service_requests SET status=?, updated_at=? WHERE id=? AND status=?`,
		string(to), updatedAt, id, string(from))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConflict
	}
	return nil
}

func (r Repo) DeleteRequest(ctx context.Context, tx *sql.Tx, id int64) error {
	return expectAffected(r.q(tx).ExecContext(ctx, `DELETE FROM service_requests WHERE id=?`, id))
}

// CountRequestsByStatus returns the number of requests per status.
func (r Repo) CountRequestsByStatus(ctx context.Context) (map[domain.Status]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(1) FROM service_requests GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := map[domain.Status]int{}
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		res[domain.Status(status)] = n
	}
	return res, rows.Err()
}
