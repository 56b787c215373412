package app_test

import (
	"context"
	"os"
	"testing"

	"svcdesk/internal/app"
	"svcdesk/internal/config"
	"svcdesk/internal/domain"
)

func TestOpenBootstrapsAdministratorOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	ws, err := app.Open(ctx, app.Options{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if ws.Admin == nil || ws.Admin.Email != app.DefaultAdminEmail {
		t.Fatalf("expected bootstrap admin, got %+v", ws.Admin)
	}
	actor, err := ws.Actor(ctx, 0)
	if err != nil {
		t.Fatalf("actor: %v", err)
	}
	if actor.UserID != ws.Admin.ID || !actor.HasCapability(domain.CapabilityAdministrator) || actor.Source != "cli" {
		t.Fatalf("unexpected actor %+v", actor)
	}
	ws.Close()

	ws, err = app.Open(ctx, app.Options{Workspace: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer ws.Close()
	if ws.Admin != nil {
		t.Fatalf("expected no second bootstrap, got %+v", ws.Admin)
	}
	if _, err := ws.Actor(ctx, 999); err == nil {
		t.Fatalf("expected unknown actor error")
	}
}

func TestOpenReadsWorkspaceConfig(t *testing.T) {
	dir := t.TempDir()
	yml := `roles:
  Jefe:
    - Administrator
  Cliente:
    - Requester
requests:
  code_prefix: REQ
  default_role: Cliente
`
	if err := os.WriteFile(config.Path(dir), []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	ws, err := app.Open(context.Background(), app.Options{Workspace: dir, AdminName: "Jefa", AdminEmail: "jefa@example.com"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer ws.Close()
	if ws.Config.Requests.CodePrefix != "REQ" {
		t.Fatalf("expected config from workspace, got %+v", ws.Config.Requests)
	}
	if ws.Admin == nil || ws.Admin.Role != "Jefe" || ws.Admin.Name != "Jefa" {
		t.Fatalf("unexpected admin %+v", ws.Admin)
	}
}
