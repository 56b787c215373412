package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"svcdesk/internal/config"
	"svcdesk/internal/db"
	"svcdesk/internal/domain"
	"svcdesk/internal/engine"
	"svcdesk/internal/engine/auth"
	"svcdesk/internal/migrate"
	"svcdesk/internal/repo"
)

const (
	DefaultAdminName  = "Administrador"
	DefaultAdminEmail = "admin@svcdesk.local"
)

// Options controls how a workspace is opened.
type Options struct {
	Workspace  string
	Logger     *slog.Logger
	AdminName  string
	AdminEmail string
}

// Workspace is an opened database plus the engine bound to it.
type Workspace struct {
	DB     *sql.DB
	Config *config.Config
	Engine engine.Engine
	Auth   auth.Service
	// Admin is set when Open bootstrapped the first administrator.
	Admin *domain.User
}

// Open migrates the workspace database, loads svcdesk.yml (or defaults)
// and seeds an administrator when no user exists.
func Open(ctx context.Context, opts Options) (*Workspace, error) {
	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	e := engine.New(conn, cfg)
	if opts.Logger != nil {
		e.Logger = opts.Logger
	}
	ws := &Workspace{
		DB:     conn,
		Config: cfg,
		Engine: e,
		Auth:   auth.Service{Repo: e.Repo, Config: cfg},
	}
	name, email := opts.AdminName, opts.AdminEmail
	if name == "" {
		name = DefaultAdminName
	}
	if email == "" {
		email = DefaultAdminEmail
	}
	admin, created, err := e.EnsureAdmin(ctx, name, email)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		ws.Admin = &admin
	}
	return ws, nil
}

func (w *Workspace) Close() error {
	return w.DB.Close()
}

// Actor resolves the principal local commands act as. A zero id picks the
// lowest-numbered active administrator.
func (w *Workspace) Actor(ctx context.Context, userID int64) (auth.Principal, error) {
	if userID == 0 {
		id, err := w.firstAdmin(ctx)
		if err != nil {
			return auth.Principal{}, err
		}
		userID = id
	}
	p, err := w.Auth.Principal(ctx, userID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return auth.Principal{}, fmt.Errorf("actor %d not found", userID)
		}
		return auth.Principal{}, err
	}
	p.Source = "cli"
	return p, nil
}

func (w *Workspace) firstAdmin(ctx context.Context) (int64, error) {
	role := w.Config.AdminRole()
	users, err := w.Engine.Repo.ListUsers(ctx, role)
	if err != nil {
		return 0, err
	}
	for _, u := range users {
		if u.Active {
			return u.ID, nil
		}
	}
	return 0, fmt.Errorf("no active %s user; pass --actor-id", role)
}
