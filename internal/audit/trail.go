package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"svcdesk/internal/domain"
)

// TimeLayout is fixed-width so lexical order of created_at matches time order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// Ref points at the row an entry describes.
type Ref struct {
	Table string
	ID    int64
}

// Entry is the caller-supplied part of an audit log row.
type Entry struct {
	ActorID     *int64
	Module      string
	Action      string
	Ref         *Ref
	Description string
	Changes     map[string]any
}

// PersistenceError reports that the audit store could not record an entry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("audit %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Trail is the append-only audit sink. It exposes no update or delete.
type Trail struct {
	DB  *sql.DB
	Now func() time.Time

	mu   sync.Mutex
	last time.Time
}

func New(db *sql.DB) *Trail {
	return &Trail{DB: db, Now: time.Now}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Append stores e and returns the stored row. When tx is non-nil the entry
// becomes visible only if tx commits.
func (t *Trail) Append(ctx context.Context, tx *sql.Tx, e Entry) (domain.AuditLogEntry, error) {
	if strings.TrimSpace(e.Module) == "" || strings.TrimSpace(e.Action) == "" {
		return domain.AuditLogEntry{}, errors.New("audit: module and action required")
	}
	var q execer = t.DB
	if tx != nil {
		q = tx
	}
	row := domain.AuditLogEntry{
		ActorID: e.ActorID,
		Module:  e.Module,
		Action:  e.Action,
	}
	if e.Description != "" {
		d := e.Description
		row.Description = &d
	}
	if e.Ref != nil {
		table, id := e.Ref.Table, e.Ref.ID
		row.AffectedTable = &table
		row.AffectedID = &id
	}
	if len(e.Changes) > 0 {
		data, err := json.Marshal(e.Changes)
		if err != nil {
			return domain.AuditLogEntry{}, fmt.Errorf("marshal audit changes: %w", err)
		}
		s := string(data)
		row.Changes = &s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	ts, err := t.nextTimestamp(ctx, q)
	if err != nil {
		return domain.AuditLogEntry{}, &PersistenceError{Op: "append", Err: err}
	}
	row.CreatedAt = ts.Format(TimeLayout)
	res, err := q.ExecContext(ctx, `INSERT INTO audit_log(actor_id,module,action,description,affected_table,affected_id,changes,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		nullableInt64(row.ActorID), row.Module, row.Action, nullableString(row.Description),
		nullableString(row.AffectedTable), nullableInt64(row.AffectedID), nullableString(row.Changes), row.CreatedAt)
	if err != nil {
		return domain.AuditLogEntry{}, &PersistenceError{Op: "append", Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.AuditLogEntry{}, &PersistenceError{Op: "append", Err: err}
	}
	row.ID = id
	t.last = ts
	return row, nil
}

// nextTimestamp returns a time strictly after every stored created_at.
func (t *Trail) nextTimestamp(ctx context.Context, q execer) (time.Time, error) {
	now := time.Now
	if t.Now != nil {
		now = t.Now
	}
	ts := now().UTC().Truncate(time.Microsecond)
	var latest sql.NullString
	if err := q.QueryRowContext(ctx, `SELECT MAX(created_at) FROM audit_log`).Scan(&latest); err != nil {
		return time.Time{}, err
	}
	floor := t.last
	if latest.Valid {
		stored, err := time.Parse(TimeLayout, latest.String)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse stored created_at %q: %w", latest.String, err)
		}
		if stored.After(floor) {
			floor = stored
		}
	}
	if !ts.After(floor) {
		ts = floor.Add(time.Microsecond)
	}
	return ts, nil
}

// Filter narrows List results. Cursor is an entry id; only older entries are returned.
type Filter struct {
	Module        string
	Action        string
	ActorID       *int64
	AffectedTable string
	AffectedID    *int64
	Limit         int
	Cursor        int64
}

// List returns entries newest first. It backs the read-only audit views.
func (t *Trail) List(ctx context.Context, f Filter) ([]domain.AuditLogEntry, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Module != "" {
		clauses = append(clauses, "module=?")
		args = append(args, f.Module)
	}
	if f.Action != "" {
		clauses = append(clauses, "action=?")
		args = append(args, f.Action)
	}
	if f.ActorID != nil {
		clauses = append(clauses, "actor_id=?")
		args = append(args, *f.ActorID)
	}
	if f.AffectedTable != "" {
		clauses = append(clauses, "affected_table=?")
		args = append(args, f.AffectedTable)
	}
	if f.AffectedID != nil {
		clauses = append(clauses, "affected_id=?")
		args = append(args, *f.AffectedID)
	}
	if f.Cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, f.Cursor)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query := `SELECT id,actor_id,module,action,description,affected_table,affected_id,changes,created_at FROM audit_log WHERE ` +
		strings.Join(clauses, " AND ") + ` ORDER BY id DESC LIMIT ?`
	return t.query(ctx, query, args...)
}

// After returns up to limit entries with ids greater than cursor, oldest first.
func (t *Trail) After(ctx context.Context, cursor int64, limit int) ([]domain.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	return t.query(ctx, `SELECT id,actor_id,module,action,description,affected_table,affected_id,changes,created_at FROM audit_log WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
}

// LatestID returns the id of the newest entry, 0 when the trail is empty.
func (t *Trail) LatestID(ctx context.Context) (int64, error) {
	var id int64
	if err := t.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM audit_log`).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *Trail) query(ctx context.Context, query string, args ...any) ([]domain.AuditLogEntry, error) {
	rows, err := t.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.AuditLogEntry
	for rows.Next() {
		var e domain.AuditLogEntry
		var actorID, affectedID sql.NullInt64
		var desc, table, changes sql.NullString
		if err := rows.Scan(&e.ID, &actorID, &e.Module, &e.Action, &desc, &table, &affectedID, &changes, &e.CreatedAt); err != nil {
			return nil, err
		}
		if actorID.Valid {
			e.ActorID = &actorID.Int64
		}
		if affectedID.Valid {
			e.AffectedID = &affectedID.Int64
		}
		if desc.Valid {
			e.Description = &desc.String
		}
		if table.Valid {
			e.AffectedTable = &table.String
		}
		if changes.Valid {
			e.Changes = &changes.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullableString(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func nullableInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
