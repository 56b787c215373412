package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"svcdesk/internal/audit"
	"svcdesk/internal/config"
	"svcdesk/internal/db"
	"svcdesk/internal/domain"
	"svcdesk/internal/engine"
	"svcdesk/internal/engine/auth"
	"svcdesk/internal/migrate"
	"svcdesk/internal/repo"
)

type testEnv struct {
	Engine    engine.Engine
	Ctx       context.Context
	Admin     auth.Principal
	Requester auth.Principal
	Service   domain.Service
	Sla       domain.SlaLevel
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	admin, created, err := eng.EnsureAdmin(ctx, "Admin", "admin@example.com")
	if err != nil || !created {
		t.Fatalf("ensure admin: %v (created=%v)", err, created)
	}
	authSvc := auth.Service{Repo: eng.Repo, Config: cfg}
	adminP, err := authSvc.Principal(ctx, admin.ID)
	if err != nil {
		t.Fatalf("admin principal: %v", err)
	}
	user, err := eng.CreateUser(ctx, adminP, domain.UserInput{Name: "Ana", Email: "ana@example.com"})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	userP, err := authSvc.Principal(ctx, user.ID)
	if err != nil {
		t.Fatalf("user principal: %v", err)
	}
	sla, err := eng.CreateSlaLevel(ctx, adminP, domain.SlaLevelInput{Name: "Standard", ResponseHours: 4, ResolutionHours: 24})
	if err != nil {
		t.Fatalf("create sla: %v", err)
	}
	svc, err := eng.CreateService(ctx, adminP, domain.ServiceInput{Name: "Laptop", SlaID: &sla.ID})
	if err != nil {
		t.Fatalf("create service: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Admin: adminP, Requester: userP, Service: svc, Sla: sla}
}

func (env testEnv) newRequest(t *testing.T) domain.ServiceRequest {
	t.Helper()
	sr, err := env.Engine.CreateRequest(env.Ctx, env.Requester, domain.RequestInput{ServiceID: env.Service.ID, Description: "need one"})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	return sr
}

func (env testEnv) auditFor(t *testing.T, id int64) []domain.AuditLogEntry {
	t.Helper()
	entries, err := env.Engine.Audit.List(env.Ctx, audit.Filter{AffectedTable: "service_requests", AffectedID: &id, Limit: 100})
	if err != nil {
		t.Fatalf("list audit: %v", err)
	}
	return entries
}

func TestRequestLifecycleScenario(t *testing.T) {
	env := newTestEnv(t)
	sr := env.newRequest(t)
	if sr.Status != domain.StatusPending {
		t.Fatalf("expected Pending, got %s", sr.Status)
	}
	if sr.SlaSnapshot == nil || sr.SlaSnapshot.Name != "Standard" {
		t.Fatalf("expected sla snapshot, got %+v", sr.SlaSnapshot)
	}
	before := len(env.auditFor(t, sr.ID))

	sr, err := env.Engine.TransitionRequest(env.Ctx, sr.ID, "InProgress", env.Admin)
	if err != nil || sr.Status != domain.StatusInProgress {
		t.Fatalf("to InProgress: %v", err)
	}
	entries := env.auditFor(t, sr.ID)
	if len(entries) != before+1 || entries[0].Action != domain.ActionUpdateStatus || entries[0].Module != domain.ModuleRequests {
		t.Fatalf("expected one status audit entry, got %+v", entries)
	}
	if entries[0].ActorID == nil || *entries[0].ActorID != env.Admin.UserID {
		t.Fatalf("audit actor mismatch: %+v", entries[0])
	}

	_, err = env.Engine.TransitionRequest(env.Ctx, sr.ID, "Resolved", env.Requester)
	var authErr auth.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
	stored, err := env.Engine.Repo.GetRequest(env.Ctx, nil, sr.ID)
	if err != nil || stored.Status != domain.StatusInProgress {
		t.Fatalf("status changed after rejected transition: %v %s", err, stored.Status)
	}
	if got := len(env.auditFor(t, sr.ID)); got != before+1 {
		t.Fatalf("rejected transition wrote audit: %d entries", got)
	}

	if _, err := env.Engine.TransitionRequest(env.Ctx, sr.ID, "Resolved", env.Admin); err != nil {
		t.Fatalf("to Resolved: %v", err)
	}
	_, err = env.Engine.TransitionRequest(env.Ctx, sr.ID, "Cancelled", env.Admin)
	var invalid engine.InvalidTransitionError
	if !errors.As(err, &invalid) || invalid.From != domain.StatusResolved {
		t.Fatalf("expected InvalidTransitionError from Resolved, got %v", err)
	}
}

func TestTransitionTable(t *testing.T) {
	env := newTestEnv(t)
	statuses := []domain.Status{domain.StatusPending, domain.StatusInProgress, domain.StatusResolved, domain.StatusCancelled}
	targets := []string{"Pending", "InProgress", "Resolved", "Cancelled", "Reopened"}
	for _, from := range statuses {
		for _, target := range targets {
			sr := env.newRequest(t)
			if from != domain.StatusPending {
				if _, err := env.Engine.TransitionRequest(env.Ctx, sr.ID, string(from), env.Admin); err != nil {
					t.Fatalf("setup %s: %v", from, err)
				}
			}
			_, err := env.Engine.TransitionRequest(env.Ctx, sr.ID, target, env.Admin)
			want := !from.Terminal() && target != string(from) && domain.Status(target).Valid()
			if want && err != nil {
				t.Fatalf("%s -> %s: unexpected error %v", from, target, err)
			}
			if !want {
				var invalid engine.InvalidTransitionError
				if !errors.As(err, &invalid) {
					t.Fatalf("%s -> %s: expected InvalidTransitionError, got %v", from, target, err)
				}
			}
		}
	}
}

func TestTransitionAuthorizationCheckedFirst(t *testing.T) {
	env := newTestEnv(t)
	sr := env.newRequest(t)
	for _, target := range []string{"Resolved", "Bogus", "Pending"} {
		_, err := env.Engine.TransitionRequest(env.Ctx, sr.ID, target, env.Requester)
		var authErr auth.AuthorizationError
		if !errors.As(err, &authErr) || authErr.Capability != domain.CapabilityAdministrator {
			t.Fatalf("target %s: expected AuthorizationError, got %v", target, err)
		}
	}
	if _, err := env.Engine.TransitionRequest(env.Ctx, sr.ID, "Resolved", nil); err == nil {
		t.Fatalf("expected nil actor to be rejected")
	}
}

func TestTransitionAcceptsLocalizedStatus(t *testing.T) {
	env := newTestEnv(t)
	sr := env.newRequest(t)
	sr, err := env.Engine.TransitionRequest(env.Ctx, sr.ID, "En Proceso", env.Admin)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if sr.Status != domain.StatusInProgress {
		t.Fatalf("expected canonical InProgress, got %s", sr.Status)
	}
}

func TestTransitionAuditIsAppendOnlyAndOrdered(t *testing.T) {
	env := newTestEnv(t)
	sr := env.newRequest(t)
	steps := []string{"InProgress", "Pending", "InProgress", "Pending", "Cancelled"}
	for _, s := range steps {
		if _, err := env.Engine.TransitionRequest(env.Ctx, sr.ID, s, env.Admin); err != nil {
			t.Fatalf("to %s: %v", s, err)
		}
	}
	entries := env.auditFor(t, sr.ID)
	var statusEntries []domain.AuditLogEntry
	for _, e := range entries {
		if e.Action == domain.ActionUpdateStatus {
			statusEntries = append(statusEntries, e)
		}
	}
	if len(statusEntries) != len(steps) {
		t.Fatalf("expected %d status entries, got %d", len(steps), len(statusEntries))
	}
	// List is newest first.
	for i := 1; i < len(statusEntries); i++ {
		if statusEntries[i-1].CreatedAt <= statusEntries[i].CreatedAt {
			t.Fatalf("created_at not strictly increasing: %s then %s", statusEntries[i].CreatedAt, statusEntries[i-1].CreatedAt)
		}
	}
	first := statusEntries[len(statusEntries)-1]
	if first.Changes == nil || *first.Changes != `{"from":"Pending","to":"InProgress"}` {
		t.Fatalf("unexpected changes on first entry: %v", first.Changes)
	}
}

func TestAuditFailureRollsBackTransition(t *testing.T) {
	env := newTestEnv(t)
	sr := env.newRequest(t)
	if _, err := env.Engine.DB.Exec(`CREATE TRIGGER audit_log_fail BEFORE INSERT ON audit_log BEGIN SELECT RAISE(ABORT, 'audit store unavailable'); END;`); err != nil {
		t.Fatalf("install trigger: %v", err)
	}
	_, err := env.Engine.TransitionRequest(env.Ctx, sr.ID, "InProgress", env.Admin)
	var perr *audit.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	stored, err := env.Engine.Repo.GetRequest(env.Ctx, nil, sr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != domain.StatusPending {
		t.Fatalf("status persisted without audit entry: %s", stored.Status)
	}
}

func TestCreateRequestSnapshotIsFrozen(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.AddTemplateField(env.Ctx, env.Admin, env.Service.ID, domain.TemplateFieldInput{Label: "Model", FieldType: "select", Options: "Air,Pro", Required: true}); err != nil {
		t.Fatalf("add field: %v", err)
	}
	sr, err := env.Engine.CreateRequest(env.Ctx, env.Requester, domain.RequestInput{
		ServiceID: env.Service.ID,
		Answers:   map[string]string{"model": "Pro"},
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if sr.Answers["Model"] != "Pro" || len(sr.ServiceSnapshot.Fields) != 1 {
		t.Fatalf("unexpected answers/snapshot %+v %+v", sr.Answers, sr.ServiceSnapshot)
	}
	if _, err := env.Engine.UpdateSlaLevel(env.Ctx, env.Admin, env.Sla.ID, domain.SlaLevelInput{Name: "Relaxed", ResponseHours: 48, ResolutionHours: 96}); err != nil {
		t.Fatalf("update sla: %v", err)
	}
	if _, err := env.Engine.UpdateService(env.Ctx, env.Admin, env.Service.ID, domain.ServiceInput{Name: "Notebook", SlaID: &env.Sla.ID}); err != nil {
		t.Fatalf("update service: %v", err)
	}
	stored, err := env.Engine.GetRequest(env.Ctx, env.Requester, sr.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.ServiceSnapshot.Name != "Laptop" || stored.SlaSnapshot.Name != "Standard" || stored.SlaSnapshot.ResolutionHours != 24 {
		t.Fatalf("snapshot changed: %+v %+v", stored.ServiceSnapshot, stored.SlaSnapshot)
	}
	if !regexpCode(stored.Code) {
		t.Fatalf("unexpected code %s", stored.Code)
	}
}

func regexpCode(code string) bool {
	// SOL-20240101-XXXXXX
	return len(code) == len("SOL-20240101-ABCDEF") && code[:13] == "SOL-20240101-"
}

func TestCreateRequestValidatesAnswers(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.Engine.AddTemplateField(env.Ctx, env.Admin, env.Service.ID, domain.TemplateFieldInput{Label: "Quantity", FieldType: "number", Required: true}); err != nil {
		t.Fatalf("add field: %v", err)
	}
	cases := []map[string]string{
		nil,
		{"Quantity": "many"},
		{"Color": "red", "Quantity": "1"},
	}
	for _, answers := range cases {
		_, err := env.Engine.CreateRequest(env.Ctx, env.Requester, domain.RequestInput{ServiceID: env.Service.ID, Answers: answers})
		var verr engine.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("answers %v: expected ValidationError, got %v", answers, err)
		}
	}
}

func TestRequestersOnlySeeTheirOwnRequests(t *testing.T) {
	env := newTestEnv(t)
	mine := env.newRequest(t)
	other, err := env.Engine.CreateUser(env.Ctx, env.Admin, domain.UserInput{Name: "Luis", Email: "luis@example.com"})
	if err != nil {
		t.Fatal(err)
	}
	otherP := auth.Principal{UserID: other.ID, Role: other.Role}
	if _, err := env.Engine.GetRequest(env.Ctx, otherP, mine.ID); err == nil {
		t.Fatalf("expected other requester to be rejected")
	}
	list, err := env.Engine.ListRequests(env.Ctx, otherP, repo.RequestFilters{})
	if err != nil || len(list) != 0 {
		t.Fatalf("expected empty list, got %d (%v)", len(list), err)
	}
	list, err = env.Engine.ListRequests(env.Ctx, env.Admin, repo.RequestFilters{})
	if err != nil || len(list) != 1 {
		t.Fatalf("expected admin to see 1 request, got %d (%v)", len(list), err)
	}
}

func TestDeleteRequestAuditsBeforeRemoval(t *testing.T) {
	env := newTestEnv(t)
	sr := env.newRequest(t)
	var authErr auth.AuthorizationError
	if err := env.Engine.DeleteRequest(env.Ctx, sr.ID, env.Requester); !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
	if err := env.Engine.DeleteRequest(env.Ctx, sr.ID, env.Admin); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := env.Engine.Repo.GetRequest(env.Ctx, nil, sr.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected request gone, got %v", err)
	}
	entries := env.auditFor(t, sr.ID)
	if len(entries) == 0 || entries[0].Action != domain.ActionDelete {
		t.Fatalf("expected delete audit entry, got %+v", entries)
	}
	if err := env.Engine.DeleteRequest(env.Ctx, sr.ID, env.Admin); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestCatalogMutationsAreAudited(t *testing.T) {
	env := newTestEnv(t)
	cat, err := env.Engine.CreateCategory(env.Ctx, env.Admin, domain.CategoryInput{Name: "Hardware"})
	if err != nil {
		t.Fatalf("create category: %v", err)
	}
	if _, err := env.Engine.UpdateCategory(env.Ctx, env.Admin, cat.ID, domain.CategoryInput{Name: "Equipos"}); err != nil {
		t.Fatalf("update category: %v", err)
	}
	if err := env.Engine.DeleteCategory(env.Ctx, env.Admin, cat.ID); err != nil {
		t.Fatalf("delete category: %v", err)
	}
	entries, err := env.Engine.Audit.List(env.Ctx, audit.Filter{Module: domain.ModuleCategories})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 category entries, got %d", len(entries))
	}
	wantActions := []string{domain.ActionDelete, domain.ActionUpdate, domain.ActionCreate}
	for i, e := range entries {
		if e.Action != wantActions[i] {
			t.Fatalf("entry %d: expected %s got %s", i, wantActions[i], e.Action)
		}
	}
	if entries[1].Changes == nil || *entries[1].Changes != `{"name":{"from":"Hardware","to":"Equipos"}}` {
		t.Fatalf("unexpected update changes %v", entries[1].Changes)
	}
	system, err := env.Engine.Audit.List(env.Ctx, audit.Filter{Module: domain.ModuleUsers, Limit: 100})
	if err != nil {
		t.Fatal(err)
	}
	if last := system[len(system)-1]; last.ActorID != nil {
		t.Fatalf("bootstrap admin entry should have no actor, got %d", *last.ActorID)
	}
}

func TestCatalogRequiresAdministrator(t *testing.T) {
	env := newTestEnv(t)
	var authErr auth.AuthorizationError
	if _, err := env.Engine.CreateCategory(env.Ctx, env.Requester, domain.CategoryInput{Name: "X"}); !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
	if err := env.Engine.DeleteService(env.Ctx, env.Requester, env.Service.ID); !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
}

func TestDeleteServiceWithRequestsConflicts(t *testing.T) {
	env := newTestEnv(t)
	env.newRequest(t)
	err := env.Engine.DeleteService(env.Ctx, env.Admin, env.Service.ID)
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	inactive := false
	if _, err := env.Engine.UpdateService(env.Ctx, env.Admin, env.Service.ID, domain.ServiceInput{Name: "Laptop", Active: &inactive}); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	_, err = env.Engine.CreateRequest(env.Ctx, env.Requester, domain.RequestInput{ServiceID: env.Service.ID})
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected inactive service to reject requests, got %v", err)
	}
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	_, created, err := env.Engine.EnsureAdmin(env.Ctx, "Other", "other@example.com")
	if err != nil || created {
		t.Fatalf("expected no second admin, created=%v err=%v", created, err)
	}
}
