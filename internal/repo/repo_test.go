package repo_test

import (
	"context"
	"errors"
	"testing"

	"svcdesk/internal/db"
	"svcdesk/internal/domain"
	"svcdesk/internal/migrate"
	"svcdesk/internal/repo"
)

const ts = "2024-01-01T00:00:00Z"

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func seedRequest(t *testing.T, r repo.Repo, code string) domain.ServiceRequest {
	t.Helper()
	ctx := context.Background()
	userID, err := r.InsertUser(ctx, nil, domain.User{Name: "Ana", Email: code + "@example.com", Role: "Solicitante", Active: true, CreatedAt: ts})
	if err != nil {
		t.Fatalf("insert user: %v", err)
	}
	svcID, err := r.InsertService(ctx, nil, domain.Service{Name: "Laptop", Active: true, CreatedAt: ts, UpdatedAt: ts})
	if err != nil {
		t.Fatalf("insert service: %v", err)
	}
	sr := domain.ServiceRequest{
		Code:            code,
		ServiceID:       svcID,
		RequesterID:     userID,
		Status:          domain.StatusPending,
		Answers:         map[string]string{"Modelo": "X1"},
		ServiceSnapshot: domain.ServiceSnapshot{ServiceID: svcID, Name: "Laptop"},
		SubmittedAt:     ts,
		UpdatedAt:       ts,
	}
	id, err := r.InsertRequest(ctx, nil, sr)
	if err != nil {
		t.Fatalf("insert request: %v", err)
	}
	sr.ID = id
	return sr
}

func TestUpdateRequestStatusIsCompareAndSwap(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	sr := seedRequest(t, r, "SOL-20240101-AAAAAA")

	if err := r.UpdateRequestStatus(ctx, nil, sr.ID, domain.StatusPending, domain.StatusInProgress, ts); err != nil {
		t.Fatalf("first update: %v", err)
	}
	// A second writer that still believes the request is Pending loses.
	err := r.UpdateRequestStatus(ctx, nil, sr.ID, domain.StatusPending, domain.StatusCancelled, ts)
	if !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	got, err := r.GetRequest(ctx, nil, sr.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusInProgress {
		t.Fatalf("expected InProgress, got %s", got.Status)
	}
	if got.Answers["Modelo"] != "X1" || got.ServiceSnapshot.Name != "Laptop" {
		t.Fatalf("unexpected round trip %+v", got)
	}
}

func TestRequestNotFoundAndCounts(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	if _, err := r.GetRequest(ctx, nil, 42); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.DeleteRequest(ctx, nil, 42); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on delete, got %v", err)
	}
	a := seedRequest(t, r, "SOL-20240101-AAAAAA")
	seedRequest(t, r, "SOL-20240101-BBBBBB")
	if err := r.UpdateRequestStatus(ctx, nil, a.ID, domain.StatusPending, domain.StatusResolved, ts); err != nil {
		t.Fatalf("update: %v", err)
	}
	counts, err := r.CountRequestsByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts[domain.StatusPending] != 1 || counts[domain.StatusResolved] != 1 {
		t.Fatalf("unexpected counts %v", counts)
	}
	byCode, err := r.GetRequestByCode(ctx, "SOL-20240101-BBBBBB")
	if err != nil || byCode.Code != "SOL-20240101-BBBBBB" {
		t.Fatalf("get by code: %v %+v", err, byCode)
	}
}

func TestListRequestsCursorPagination(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	var ids []int64
	for _, code := range []string{"SOL-1", "SOL-2", "SOL-3"} {
		ids = append(ids, seedRequest(t, r, code).ID)
	}
	page, err := r.ListRequests(ctx, repo.RequestFilters{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 2 || page[0].ID != ids[2] || page[1].ID != ids[1] {
		t.Fatalf("unexpected first page %+v", page)
	}
	page, err = r.ListRequests(ctx, repo.RequestFilters{Limit: 2, Cursor: page[1].ID})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page) != 1 || page[0].ID != ids[0] {
		t.Fatalf("unexpected second page %+v", page)
	}
}
