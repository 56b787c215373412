package audit_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"svcdesk/internal/audit"
	"svcdesk/internal/db"
	"svcdesk/internal/migrate"
)

func newTrail(t *testing.T) (*audit.Trail, *sql.DB) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return audit.New(conn), conn
}

func int64p(v int64) *int64 { return &v }

func TestAppendAssignsIDAndTimestamp(t *testing.T) {
	trail, _ := newTrail(t)
	ctx := context.Background()
	trail.Now = func() time.Time { return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC) }

	entry, err := trail.Append(ctx, nil, audit.Entry{
		ActorID:     int64p(7),
		Module:      "Solicitudes",
		Action:      "Crear",
		Ref:         &audit.Ref{Table: "service_requests", ID: 42},
		Description: "created SOL-1",
		Changes:     map[string]any{"status": "Pending"},
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if entry.ID == 0 {
		t.Fatalf("expected id to be assigned")
	}
	if entry.CreatedAt != "2024-03-01T10:00:00.000000Z" {
		t.Fatalf("unexpected created_at %s", entry.CreatedAt)
	}
	if entry.AffectedTable == nil || *entry.AffectedTable != "service_requests" || entry.AffectedID == nil || *entry.AffectedID != 42 {
		t.Fatalf("unexpected ref %+v", entry)
	}
	if entry.Changes == nil || *entry.Changes != `{"status":"Pending"}` {
		t.Fatalf("unexpected changes %v", entry.Changes)
	}

	list, err := trail.List(ctx, audit.Filter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].ID != entry.ID || *list[0].ActorID != 7 {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestAppendSystemEntryHasNullActor(t *testing.T) {
	trail, _ := newTrail(t)
	entry, err := trail.Append(context.Background(), nil, audit.Entry{Module: "Usuarios", Action: "Crear"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if entry.ActorID != nil || entry.AffectedTable != nil || entry.Description != nil || entry.Changes != nil {
		t.Fatalf("expected null optional fields, got %+v", entry)
	}
}

func TestAppendTimestampsStrictlyIncrease(t *testing.T) {
	trail, _ := newTrail(t)
	ctx := context.Background()
	frozen := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	trail.Now = func() time.Time { return frozen }

	var prev string
	for i := 0; i < 5; i++ {
		e, err := trail.Append(ctx, nil, audit.Entry{Module: "Solicitudes", Action: "Actualizar Estado"})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if prev != "" && e.CreatedAt <= prev {
			t.Fatalf("created_at not increasing: %s after %s", e.CreatedAt, prev)
		}
		prev = e.CreatedAt
	}

	// A clock that goes backwards is still clamped past the stored maximum.
	trail.Now = func() time.Time { return frozen.Add(-time.Hour) }
	e, err := trail.Append(ctx, nil, audit.Entry{Module: "Solicitudes", Action: "Eliminar"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if e.CreatedAt <= prev {
		t.Fatalf("expected clamped timestamp, got %s <= %s", e.CreatedAt, prev)
	}
}

func TestAppendRequiresModuleAndAction(t *testing.T) {
	trail, _ := newTrail(t)
	if _, err := trail.Append(context.Background(), nil, audit.Entry{Module: "Solicitudes"}); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestAppendInRolledBackTxIsDiscarded(t *testing.T) {
	trail, conn := newTrail(t)
	ctx := context.Background()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := trail.Append(ctx, tx, audit.Entry{Module: "Servicios", Action: "Crear"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}
	id, err := trail.LatestID(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if id != 0 {
		t.Fatalf("expected empty trail, latest id %d", id)
	}
}

func TestAppendReportsPersistenceError(t *testing.T) {
	trail, conn := newTrail(t)
	conn.Close()
	_, err := trail.Append(context.Background(), nil, audit.Entry{Module: "Solicitudes", Action: "Crear"})
	var perr *audit.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
}

func TestStoredEntriesCannotBeRewritten(t *testing.T) {
	trail, conn := newTrail(t)
	ctx := context.Background()
	e, err := trail.Append(ctx, nil, audit.Entry{Module: "Solicitudes", Action: "Crear"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := conn.ExecContext(ctx, `UPDATE audit_log SET action='Eliminar' WHERE id=?`, e.ID); err == nil {
		t.Fatalf("expected update to be rejected")
	}
	if _, err := conn.ExecContext(ctx, `DELETE FROM audit_log WHERE id=?`, e.ID); err == nil {
		t.Fatalf("expected delete to be rejected")
	}
	list, err := trail.List(ctx, audit.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Action != "Crear" {
		t.Fatalf("entry changed: %+v", list)
	}
}

func TestListFiltersAndPaginates(t *testing.T) {
	trail, _ := newTrail(t)
	ctx := context.Background()
	for i := int64(1); i <= 4; i++ {
		mod := "Solicitudes"
		if i%2 == 0 {
			mod = "Servicios"
		}
		if _, err := trail.Append(ctx, nil, audit.Entry{Module: mod, Action: "Crear", Ref: &audit.Ref{Table: "t", ID: i}}); err != nil {
			t.Fatal(err)
		}
	}
	page, err := trail.List(ctx, audit.Filter{Module: "Solicitudes"})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID <= page[1].ID {
		t.Fatalf("expected 2 entries newest first, got %+v", page)
	}
	page, err = trail.List(ctx, audit.Filter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	next, err := trail.List(ctx, audit.Filter{Limit: 2, Cursor: page[1].ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(next) != 2 || next[0].ID >= page[1].ID {
		t.Fatalf("unexpected second page %+v", next)
	}
	after, err := trail.After(ctx, page[1].ID, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(after) != 1 || after[0].ID != page[0].ID {
		t.Fatalf("unexpected after %+v", after)
	}
	byRef, err := trail.List(ctx, audit.Filter{AffectedTable: "t", AffectedID: int64p(3)})
	if err != nil {
		t.Fatal(err)
	}
	if len(byRef) != 1 {
		t.Fatalf("expected one entry for ref, got %d", len(byRef))
	}
}
