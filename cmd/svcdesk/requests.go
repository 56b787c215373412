package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"svcdesk/internal/app"
	"svcdesk/internal/audit"
	"svcdesk/internal/domain"
	"svcdesk/internal/engine/auth"
	"svcdesk/internal/repo"
)

var statusOrder = []domain.Status{
	domain.StatusPending,
	domain.StatusInProgress,
	domain.StatusResolved,
	domain.StatusCancelled,
}

func requestCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "request",
		Short: "File and move service requests",
		Long:  "Requests start Pending. Administrators move them to InProgress, Resolved or Cancelled; localized names such as \"En Proceso\" are accepted. Every transition is audited.",
	}
	c.AddCommand(requestCreateCmd(), requestListCmd(), requestShowCmd(), requestTransitionCmd())
	c.AddCommand(deleteCmd("request", func(ctx context.Context, ws *app.Workspace, actor auth.Principal, id int64) error {
		return ws.Engine.DeleteRequest(ctx, id, actor)
	}))
	return c
}

func requestCreateCmd() *cobra.Command {
	var in domain.RequestInput
	var answers []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "File a request",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(answers) > 0 {
				in.Answers = make(map[string]string, len(answers))
				for _, a := range answers {
					label, value, ok := strings.Cut(a, "=")
					if !ok {
						return fmt.Errorf("--answer must be label=value, got %q", a)
					}
					in.Answers[strings.TrimSpace(label)] = value
				}
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				sr, err := ws.Engine.CreateRequest(ctx, actor, in)
				if err != nil {
					return err
				}
				return printJSON(sr)
			})
		},
	}
	cmd.Flags().Int64Var(&in.ServiceID, "service-id", 0, "service id")
	cmd.Flags().StringVar(&in.Description, "description", "", "free text description")
	cmd.Flags().StringArrayVar(&answers, "answer", nil, "template answer as label=value (repeatable)")
	return cmd
}

func requestListCmd() *cobra.Command {
	var (
		status      string
		serviceID   int64
		requesterID int64
		f           repo.RequestFilters
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				st, ok := domain.ParseStatus(status)
				if !ok {
					return fmt.Errorf("unknown status %q", status)
				}
				f.Status = st
			}
			f.ServiceID = optionalFlagID(cmd, "service-id", serviceID)
			f.RequesterID = optionalFlagID(cmd, "requester-id", requesterID)
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				items, err := ws.Engine.ListRequests(ctx, actor, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Code", "Service", "Requester", "Status", "Submitted"})
				for _, sr := range items {
					tw.AppendRow(table.Row{sr.ID, sr.Code, sr.ServiceSnapshot.Name, sr.RequesterID, sr.Status, sr.SubmittedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().Int64Var(&serviceID, "service-id", 0, "service filter")
	cmd.Flags().Int64Var(&requesterID, "requester-id", 0, "requester filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "page size")
	cmd.Flags().Int64Var(&f.Cursor, "cursor", 0, "only requests older than this id")
	return cmd
}

func requestShowCmd() *cobra.Command {
	var withAudit bool
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a request and its audit history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				sr, err := ws.Engine.GetRequest(ctx, actor, id)
				if err != nil {
					return err
				}
				if !withAudit || !actor.HasCapability(domain.CapabilityAdministrator) {
					return printJSON(sr)
				}
				entries, err := ws.Engine.Audit.List(ctx, audit.Filter{AffectedTable: "service_requests", AffectedID: &sr.ID, Limit: 200})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"request": sr, "audit": entries})
				}
				if err := printJSON(sr); err != nil {
					return err
				}
				renderAudit(entries)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&withAudit, "audit", true, "include audit history (administrators only)")
	return cmd
}

func requestTransitionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transition <id> <status>",
		Short: "Move a request to another status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				sr, err := ws.Engine.TransitionRequest(ctx, id, args[1], actor)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sr)
				}
				fmt.Printf("%s is now %s\n", sr.Code, sr.Status)
				return nil
			})
		},
	}
}

func auditCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "audit",
		Short: "Read the audit trail",
		Long:  "The audit trail is append-only: entries are never updated or deleted.",
	}
	var (
		n       int
		f       audit.Filter
		actorID int64
		refID   int64
	)
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest audit entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Limit = n
			f.ActorID = optionalFlagID(cmd, "actor", actorID)
			f.AffectedID = optionalFlagID(cmd, "affected-id", refID)
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
					return err
				}
				entries, err := ws.Engine.Audit.List(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				renderAudit(entries)
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of entries")
	tail.Flags().StringVar(&f.Module, "module", "", "module filter")
	tail.Flags().StringVar(&f.Action, "action", "", "action filter")
	tail.Flags().Int64Var(&actorID, "actor", 0, "acting user filter")
	tail.Flags().StringVar(&f.AffectedTable, "affected-table", "", "affected table filter")
	tail.Flags().Int64Var(&refID, "affected-id", 0, "affected row filter")
	tail.Flags().Int64Var(&f.Cursor, "cursor", 0, "only entries older than this id")
	c.AddCommand(tail)
	return c
}

func renderAudit(entries []domain.AuditLogEntry) {
	tw := newTable(table.Row{"ID", "At", "Actor", "Module", "Action", "Ref", "Changes"})
	for _, e := range entries {
		ref := ""
		if e.AffectedTable != nil {
			ref = *e.AffectedTable
			if e.AffectedID != nil {
				ref = fmt.Sprintf("%s/%d", ref, *e.AffectedID)
			}
		}
		tw.AppendRow(table.Row{e.ID, e.CreatedAt, deref(e.ActorID), e.Module, e.Action, ref, deref(e.Changes)})
	}
	tw.Render()
}
