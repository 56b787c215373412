package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"svcdesk/internal/app"
	"svcdesk/internal/domain"
	"svcdesk/internal/engine/auth"
	"svcdesk/internal/repo"
)

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}

func optionalFlagID(cmd *cobra.Command, name string, v int64) *int64 {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	return &v
}

func categoryCmd() *cobra.Command {
	c := &cobra.Command{Use: "category", Short: "Manage service categories"}
	var name, desc string

	list := &cobra.Command{
		Use:   "list",
		Short: "List categories",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, _ auth.Principal) error {
				items, err := ws.Engine.Repo.ListCategories(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Description"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Name, it.Description})
				}
				tw.Render()
				return nil
			})
		},
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create category",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				out, err := ws.Engine.CreateCategory(ctx, actor, domain.CategoryInput{Name: name, Description: desc})
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "category name")
	create.Flags().StringVar(&desc, "description", "", "description")

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace category fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				out, err := ws.Engine.UpdateCategory(ctx, actor, id, domain.CategoryInput{Name: name, Description: desc})
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	update.Flags().StringVar(&name, "name", "", "category name")
	update.Flags().StringVar(&desc, "description", "", "description")

	c.AddCommand(list, create, update, deleteCmd("category", func(ctx context.Context, ws *app.Workspace, actor auth.Principal, id int64) error {
		return ws.Engine.DeleteCategory(ctx, actor, id)
	}))
	return c
}

func slaCmd() *cobra.Command {
	c := &cobra.Command{Use: "sla", Short: "Manage SLA levels"}
	var in domain.SlaLevelInput
	addFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&in.Name, "name", "", "SLA name")
		cmd.Flags().StringVar(&in.Description, "description", "", "description")
		cmd.Flags().IntVar(&in.ResponseHours, "response-hours", 0, "hours to first response")
		cmd.Flags().IntVar(&in.ResolutionHours, "resolution-hours", 0, "hours to resolution")
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List SLA levels",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, _ auth.Principal) error {
				items, err := ws.Engine.Repo.ListSlaLevels(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Response (h)", "Resolution (h)"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Name, it.ResponseHours, it.ResolutionHours})
				}
				tw.Render()
				return nil
			})
		},
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create SLA level",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				out, err := ws.Engine.CreateSlaLevel(ctx, actor, in)
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	addFlags(create)

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace SLA level fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				out, err := ws.Engine.UpdateSlaLevel(ctx, actor, id, in)
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	addFlags(update)

	c.AddCommand(list, create, update, deleteCmd("SLA level", func(ctx context.Context, ws *app.Workspace, actor auth.Principal, id int64) error {
		return ws.Engine.DeleteSlaLevel(ctx, actor, id)
	}))
	return c
}

func serviceCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "service",
		Short: "Manage catalog services",
		Long:  "A service belongs to an optional category and SLA level and carries the template fields requesters fill in. Requests snapshot the service and SLA when filed.",
	}
	var (
		in               domain.ServiceInput
		categoryID       int64
		slaID            int64
		active           bool
		filterCategory   int64
		filterActiveOnly bool
	)
	addFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&in.Name, "name", "", "service name")
		cmd.Flags().StringVar(&in.Description, "description", "", "description")
		cmd.Flags().Int64Var(&categoryID, "category-id", 0, "category id")
		cmd.Flags().Int64Var(&slaID, "sla-id", 0, "SLA level id")
		cmd.Flags().BoolVar(&active, "active", true, "accepts new requests")
	}
	input := func(cmd *cobra.Command) domain.ServiceInput {
		out := in
		out.CategoryID = optionalFlagID(cmd, "category-id", categoryID)
		out.SlaID = optionalFlagID(cmd, "sla-id", slaID)
		a := active
		out.Active = &a
		return out
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List services",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, _ auth.Principal) error {
				items, err := ws.Engine.Repo.ListServices(ctx, repo.ServiceFilters{
					CategoryID: optionalFlagID(cmd, "category-id", filterCategory),
					ActiveOnly: filterActiveOnly,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Name", "Category", "SLA", "Active"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.Name, deref(it.CategoryID), deref(it.SlaID), it.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().Int64Var(&filterCategory, "category-id", 0, "category filter")
	list.Flags().BoolVar(&filterActiveOnly, "active-only", false, "only active services")

	create := &cobra.Command{
		Use:   "create",
		Short: "Create service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				out, err := ws.Engine.CreateService(ctx, actor, input(cmd))
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	addFlags(create)

	update := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace service fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				out, err := ws.Engine.UpdateService(ctx, actor, id, input(cmd))
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	addFlags(update)

	c.AddCommand(list, create, update, deleteCmd("service", func(ctx context.Context, ws *app.Workspace, actor auth.Principal, id int64) error {
		return ws.Engine.DeleteService(ctx, actor, id)
	}))
	c.AddCommand(fieldCmd())
	return c
}

func fieldCmd() *cobra.Command {
	c := &cobra.Command{Use: "field", Short: "Manage a service's request template fields"}
	var (
		serviceID int64
		in        domain.TemplateFieldInput
	)
	addFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&in.Label, "label", "", "field label")
		cmd.Flags().StringVar(&in.FieldType, "type", "text", "text, textarea, number, date or select")
		cmd.Flags().StringVar(&in.Options, "options", "", "comma separated options for select fields")
		cmd.Flags().BoolVar(&in.Required, "required", false, "answer required")
		cmd.Flags().IntVar(&in.Position, "position", 0, "display position")
	}
	c.PersistentFlags().Int64Var(&serviceID, "service-id", 0, "service id")
	_ = c.MarkPersistentFlagRequired("service-id")

	list := &cobra.Command{
		Use:   "list",
		Short: "List template fields",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, _ auth.Principal) error {
				if _, err := ws.Engine.Repo.GetService(ctx, nil, serviceID); err != nil {
					return err
				}
				items, err := ws.Engine.Repo.ListTemplateFields(ctx, nil, serviceID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable(table.Row{"ID", "Pos", "Label", "Type", "Required", "Options"})
				for _, f := range items {
					tw.AppendRow(table.Row{f.ID, f.Position, f.Label, f.FieldType, f.Required, f.Options})
				}
				tw.Render()
				return nil
			})
		},
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Add template field",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				out, err := ws.Engine.AddTemplateField(ctx, actor, serviceID, in)
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	addFlags(add)

	update := &cobra.Command{
		Use:   "update <field-id>",
		Short: "Replace template field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				out, err := ws.Engine.UpdateTemplateField(ctx, actor, serviceID, id, in)
				if err != nil {
					return err
				}
				return printJSON(out)
			})
		},
	}
	addFlags(update)

	c.AddCommand(list, add, update, deleteCmd("template field", func(ctx context.Context, ws *app.Workspace, actor auth.Principal, id int64) error {
		return ws.Engine.DeleteTemplateField(ctx, actor, serviceID, id)
	}))
	return c
}

func deleteCmd(noun string, fn func(context.Context, *app.Workspace, auth.Principal, int64) error) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete " + noun,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				if err := fn(ctx, ws, actor, id); err != nil {
					return err
				}
				fmt.Printf("deleted %s %d\n", noun, id)
				return nil
			})
		},
	}
}
