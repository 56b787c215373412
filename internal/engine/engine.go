package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"svcdesk/internal/audit"
	"svcdesk/internal/config"
	"svcdesk/internal/repo"
)

var tracer = otel.Tracer("svcdesk/internal/engine")

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  *audit.Trail
	Config *config.Config
	Now    func() time.Time
	Logger *slog.Logger
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.New(db),
		Config: cfg,
		Now:    time.Now,
		Logger: slog.Default(),
	}
}

// ValidationError reports bad caller input.
type ValidationError struct {
	Message string
}

func (e ValidationError) Error() string { return e.Message }

func invalidf(format string, args ...any) error {
	return ValidationError{Message: fmt.Sprintf(format, args...)}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) timestamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// inTx runs fn in a transaction that commits only when fn returns nil.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if e.Config == nil {
		return errors.New("config not loaded")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func startSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// changes accumulates field diffs for an audit entry.
type changes map[string]any

func (c changes) track(field string, from, to any) {
	if from == to {
		return
	}
	c[field] = map[string]any{"from": from, "to": to}
}

func int64Value(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
