package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"svcdesk/internal/app"
	"svcdesk/internal/domain"
	"svcdesk/internal/engine/auth"
)

func userCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "user",
		Short: "Manage users and API keys",
		Long:  "Users carry one role from svcdesk.yml; the role's capabilities decide what they may do. The first administrator is created automatically.",
	}
	var (
		in     domain.UserInput
		role   string
		active bool
	)
	addFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&in.Name, "name", "", "display name")
		cmd.Flags().StringVar(&in.Email, "email", "", "email address")
		cmd.Flags().StringVar(&in.Role, "role", "", "role (default from requests.default_role)")
		cmd.Flags().BoolVar(&active, "active", true, "user may sign in")
	}
	input := func() domain.UserInput {
		out := in
		a := active
		out.Active = &a
		return out
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
					return err
				}
				users, err := ws.Engine.Repo.ListUsers(ctx, role)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := newTable(table.Row{"ID", "Name", "Email", "Role", "Active"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email, u.Role, u.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&role, "role", "", "role filter")

	create := &cobra.Command{
		Use:   "create",
		Short: "Create user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				u, err := ws.Engine.CreateUser(ctx, actor, input())
				if err != nil {
					return err
				}
				return printJSON(u)
			})
		},
	}
	addFlags(create)

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace user fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				u, err := ws.Engine.UpdateUser(ctx, actor, id, input())
				if err != nil {
					return err
				}
				return printJSON(u)
			})
		},
	}
	addFlags(update)

	c.AddCommand(list, create, update, deleteCmd("user", func(ctx context.Context, ws *app.Workspace, actor auth.Principal, id int64) error {
		return ws.Engine.DeleteUser(ctx, actor, id)
	}))
	c.AddCommand(keyCmd())
	return c
}

func keyCmd() *cobra.Command {
	c := &cobra.Command{Use: "key", Short: "Manage API keys"}
	var userID int64
	var name string
	c.PersistentFlags().Int64Var(&userID, "user-id", 0, "key owner (default: the acting user)")
	owner := func(actor auth.Principal) int64 {
		if userID != 0 {
			return userID
		}
		return actor.UserID
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key; the raw key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				key, raw, err := ws.Engine.CreateAPIKey(ctx, actor, owner(actor), name)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "user_id": key.UserID, "name": key.Name, "key": raw})
				}
				fmt.Printf("key %s for user %d\n%s\n", key.ID, key.UserID, raw)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "key label")

	list := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				uid := owner(actor)
				if uid != actor.UserID {
					if err := auth.Require(actor, domain.CapabilityAdministrator); err != nil {
						return err
					}
				}
				keys, err := ws.Engine.Repo.ListAPIKeys(ctx, uid)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					for i := range keys {
						keys[i].KeyHash = ""
					}
					return printJSON(keys)
				}
				tw := newTable(table.Row{"ID", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				if err := ws.Engine.RevokeAPIKey(ctx, actor, owner(actor), args[0]); err != nil {
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}
	c.AddCommand(create, list, revoke)
	return c
}
