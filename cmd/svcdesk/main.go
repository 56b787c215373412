package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"svcdesk/internal/app"
	"svcdesk/internal/config"
	"svcdesk/internal/db"
	"svcdesk/internal/engine/auth"
	"svcdesk/internal/migrate"
	"svcdesk/internal/observability"
	"svcdesk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "svcdesk",
	Short: "svcdesk service catalog CLI",
	Long: `svcdesk manages a service catalog and the requests filed against it.
- Catalog: categories, SLA levels and services with their request template fields.
- Requests: move Pending -> InProgress -> Resolved, or to Cancelled; Resolved and Cancelled are final.
- Audit: every mutation appends one immutable entry, view it with 'svcdesk audit tail'.
- Remote: 'svcdesk remote' drives a running server through the HTTP API with optimistic local views.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SVCDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Int64("actor-id", 0, "user id local commands act as (default: first administrator)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text or json")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8080/v1", "API base URL for remote commands")
	rootCmd.PersistentFlags().String("api-key", "", "API key for remote commands")
	for _, name := range []string{"workspace", "json", "actor-id", "log-format", "log-level", "server", "api-key"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(categoryCmd())
	rootCmd.AddCommand(slaCmd())
	rootCmd.AddCommand(serviceCmd())
	rootCmd.AddCommand(requestCmd())
	rootCmd.AddCommand(auditCmd())
	rootCmd.AddCommand(remoteCmd())
}

func newLogger() *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(viper.GetString("log-level"))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(viper.GetString("log-format"), "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			slog.SetDefault(logger)
			shutdownTracing, err := observability.InitTracingFromEnv("svcdesk")
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdownTracing(ctx); err != nil {
					logger.Warn("tracing shutdown failed", "error", err)
				}
			}()

			ws, err := app.Open(cmd.Context(), app.Options{Workspace: viper.GetString("workspace"), Logger: logger})
			if err != nil {
				return err
			}
			defer ws.Close()
			if ws.Admin != nil {
				logger.Info("created bootstrap administrator; mint a key with 'svcdesk user key create'", "user_id", ws.Admin.ID, "email", ws.Admin.Email)
			}
			if addr == "" {
				addr = ws.Config.Server.Addr
			}
			if basePath == "" {
				basePath = ws.Config.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret:              jwtSecret(ws.Config),
				AllowLegacyActorHeader: ws.Config.Auth.AllowLegacyActorHeader,
				Logger:                 logger,
			}
			if authCfg.JWTSecret == "" {
				logger.Warn("no JWT secret configured; bearer tokens are rejected (set SVCDESK_JWT_SECRET)")
			}
			handler, err := server.New(server.Config{Engine: ws.Engine, BasePath: basePath, Auth: authCfg, Logger: logger})
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if d := server.NewWebhookDispatcher(ws.Engine, logger); d != nil {
				go d.Run(ctx)
			}
			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving svcdesk API", "addr", addr, "base_path", basePath, "docs", basePath+"/docs")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from svcdesk.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from svcdesk.yml)")
	return cmd
}

func jwtSecret(cfg *config.Config) string {
	if s := viper.GetString("jwt-secret"); s != "" {
		return s
	}
	return cfg.Auth.JWTSecret
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.MigrateContext(cmd.Context(), conn); err != nil {
				return err
			}
			v, err := migrate.Version(cmd.Context(), conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"db": db.Path(workspace), "version": v})
			}
			fmt.Printf("%s at schema version %d\n", db.Path(workspace), v)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage svcdesk.yml",
		Long:  "svcdesk.yml holds the listen address, auth settings, the role table (role -> capabilities), request code prefix and webhooks. Missing settings fall back to defaults.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default svcdesk.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSON(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate svcdesk.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show request counts per status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, _ auth.Principal) error {
				counts, err := ws.Engine.Repo.CountRequestsByStatus(ctx)
				if err != nil {
					return err
				}
				latest, err := ws.Engine.Audit.LatestID(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"requests": counts, "audit_latest_id": latest})
				}
				tw := newTable(table.Row{"Status", "Requests"})
				for _, st := range statusOrder {
					tw.AppendRow(table.Row{st, counts[st]})
				}
				tw.AppendFooter(table.Row{"Audit entries", latest})
				tw.Render()
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	tok := &cobra.Command{Use: "token", Short: "Manage bearer tokens"}
	var ttl time.Duration
	var userID int64
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Mint a bearer token for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, ws *app.Workspace, actor auth.Principal) error {
				id := userID
				if id == 0 {
					id = actor.UserID
				}
				if _, err := ws.Auth.Principal(ctx, id); err != nil {
					return err
				}
				token, err := server.SignToken(jwtSecret(ws.Config), id, ttl)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"user_id": id, "token": token})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	mint.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	mint.Flags().Int64Var(&userID, "user-id", 0, "user id (default: the acting user)")
	mint.Flags().String("jwt-secret", "", "HMAC secret (default from SVCDESK_JWT_SECRET or svcdesk.yml)")
	_ = viper.BindPFlag("jwt-secret", mint.Flags().Lookup("jwt-secret"))
	tok.AddCommand(mint)
	return tok
}

// --- helpers ---

// withWorkspace opens the workspace and resolves the acting principal.
func withWorkspace(ctx context.Context, fn func(context.Context, *app.Workspace, auth.Principal) error) error {
	ws, err := app.Open(ctx, app.Options{Workspace: viper.GetString("workspace"), Logger: newLogger()})
	if err != nil {
		return err
	}
	defer ws.Close()
	actor, err := ws.Actor(ctx, viper.GetInt64("actor-id"))
	if err != nil {
		return err
	}
	return fn(ctx, ws, actor)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func deref[T any](v *T) any {
	if v == nil {
		return ""
	}
	return *v
}
