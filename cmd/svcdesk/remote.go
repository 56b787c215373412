package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"svcdesk/internal/optimistic"
	svcdesksdk "svcdesk/sdk/go"
)

func remoteCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "remote",
		Short: "Drive a running server over HTTP",
		Long:  "Remote commands apply changes to a local view immediately, then reconcile with the server. A rejected change is rolled back and the server's error is reported.",
	}
	svc := &cobra.Command{Use: "service", Short: "Manage services on a remote server"}
	svc.AddCommand(remoteServiceListCmd(), remoteServiceAddCmd(), remoteServiceRemoveCmd())
	c.AddCommand(svc)
	return c
}

func newRemoteClient() (*svcdesksdk.Client, error) {
	key := viper.GetString("api-key")
	if key == "" {
		return nil, fmt.Errorf("--api-key (or SVCDESK_API_KEY) is required")
	}
	client := svcdesksdk.New(viper.GetString("server"))
	client.APIKey = key
	return client, nil
}

// withServices runs fn against a coordinator over the remote service
// collection, primed with one refresh. Every view change is rendered when
// verbose is set.
func withServices(ctx context.Context, verbose bool, filter url.Values, fn func(context.Context, *optimistic.Coordinator[svcdesksdk.Service, svcdesksdk.ServiceInput]) error) error {
	client, err := newRemoteClient()
	if err != nil {
		return err
	}
	opts := []optimistic.Option[svcdesksdk.Service]{
		optimistic.WithLogger[svcdesksdk.Service](newLogger()),
		optimistic.WithFilter[svcdesksdk.Service](filter),
	}
	if verbose {
		opts = append(opts, optimistic.WithObserver(func(view []svcdesksdk.Service) {
			renderServices(view)
		}))
	}
	c := optimistic.New[svcdesksdk.Service, svcdesksdk.ServiceInput](client.Services(), opts...)
	defer c.Close()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, err := c.Refresh(ctx).Wait(ctx); err != nil {
		return err
	}
	return fn(ctx, c)
}

func remoteServiceListCmd() *cobra.Command {
	var categoryID string
	var active bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List remote services",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := url.Values{}
			if categoryID != "" {
				filter.Set("category_id", categoryID)
			}
			if active {
				filter.Set("active", "true")
			}
			return withServices(cmd.Context(), false, filter, func(ctx context.Context, c *optimistic.Coordinator[svcdesksdk.Service, svcdesksdk.ServiceInput]) error {
				if viper.GetBool("json") {
					return printJSON(c.View())
				}
				renderServices(c.View())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&categoryID, "category-id", "", "category filter")
	cmd.Flags().BoolVar(&active, "active-only", false, "only active services")
	return cmd
}

func remoteServiceAddCmd() *cobra.Command {
	var (
		in         svcdesksdk.ServiceInput
		categoryID int64
		slaID      int64
		verbose    bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a service optimistically",
		RunE: func(cmd *cobra.Command, args []string) error {
			in.CategoryID = optionalFlagID(cmd, "category-id", categoryID)
			in.SlaID = optionalFlagID(cmd, "sla-id", slaID)
			return withServices(cmd.Context(), verbose, nil, func(ctx context.Context, c *optimistic.Coordinator[svcdesksdk.Service, svcdesksdk.ServiceInput]) error {
				draft := svcdesksdk.Service{
					ID:          c.NextTransientID(),
					CategoryID:  in.CategoryID,
					SlaID:       in.SlaID,
					Name:        in.Name,
					Description: in.Description,
					Active:      true,
				}
				task := c.Create(ctx, in, &draft)
				jsonOut := viper.GetBool("json")
				if !jsonOut {
					fmt.Println("projected:")
					renderServices(c.View())
				}
				created, err := task.Wait(ctx)
				if !jsonOut {
					fmt.Println("reconciled:")
					renderServices(c.View())
				}
				if err != nil {
					return err
				}
				if jsonOut {
					return printJSON(created)
				}
				fmt.Printf("created service %d %q\n", created.ID, created.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&in.Name, "name", "", "service name")
	cmd.Flags().StringVar(&in.Description, "description", "", "description")
	cmd.Flags().Int64Var(&categoryID, "category-id", 0, "category id")
	cmd.Flags().Int64Var(&slaID, "sla-id", 0, "SLA level id")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "render the view on every change")
	return cmd
}

func remoteServiceRemoveCmd() *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a service optimistically",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), verbose, nil, func(ctx context.Context, c *optimistic.Coordinator[svcdesksdk.Service, svcdesksdk.ServiceInput]) error {
				task := c.Remove(ctx, id)
				fmt.Println("projected:")
				renderServices(c.View())
				_, err := task.Wait(ctx)
				fmt.Println("reconciled:")
				renderServices(c.View())
				if err != nil {
					return err
				}
				fmt.Println("deleted service", id)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "render the view on every change")
	return cmd
}

func renderServices(items []svcdesksdk.Service) {
	tw := newTable(table.Row{"ID", "Name", "Category", "SLA", "Active"})
	for _, s := range items {
		tw.AppendRow(table.Row{s.ID, s.Name, deref(s.CategoryID), deref(s.SlaID), s.Active})
	}
	tw.Render()
}
