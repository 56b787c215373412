package migrate_test

import (
	"context"
	"testing"

	"svcdesk/internal/db"
	"svcdesk/internal/migrate"
)

func TestVersion(t *testing.T) {
	ctx := context.Background()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer conn.Close()

	v, err := migrate.Version(ctx, conn)
	if err != nil || v != 0 {
		t.Fatalf("fresh db: version=%d err=%v", v, err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	v, err = migrate.Version(ctx, conn)
	if err != nil || v < 1 {
		t.Fatalf("migrated db: version=%d err=%v", v, err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if again, _ := migrate.Version(ctx, conn); again != v {
		t.Fatalf("expected version %d after rerun, got %d", v, again)
	}
}

func TestVersionReportsStoreErrors(t *testing.T) {
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	conn.Close()

	v, err := migrate.Version(context.Background(), conn)
	if err == nil {
		t.Fatalf("expected error on closed db, got version %d", v)
	}
}
