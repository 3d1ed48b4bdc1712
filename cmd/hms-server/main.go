package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/config"
	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/cache"
	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/db"
	"github.com/mdwasim1340/multi-tenant-hms-sub006/internal/platform/provision"
)

const (
	registryCacheKey = "hms:tenant_schemas"
	provisionLockKey = "provision:lock"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "hms-server",
		Short:        "Multi-tenant hospital data API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(provisionCmd())
	rootCmd.AddCommand(tenantCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the shared infrastructure every command needs.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	redis    *cache.Client
	registry *db.Registry
}

func newLogger(env, level string) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if env == "development" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return logger.Level(lvl)
}

func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Env, cfg.LogLevel)

	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DBMaxConns,
		MinConns: cfg.DBMinConns,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, pool: pool}

	var schemaCache db.SchemaCache
	if cfg.RedisURL != "" {
		a.redis, err = cache.Connect(ctx, cfg.RedisURL, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		schemaCache = a.redis.SchemaSet(registryCacheKey, cfg.RegistryCacheTTL)
	}
	a.registry = db.NewRegistry(pool, schemaCache, logger)
	return a, nil
}

func (a *app) close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close redis")
		}
	}
	a.pool.Close()
}

func (a *app) provisioner() *provision.Provisioner {
	var lock provision.Locker
	if a.redis != nil {
		lock = a.redis.Lock(provisionLockKey, a.cfg.ProvisionLockTTL)
	}
	return provision.New(a.pool, a.registry, lock, a.logger)
}

// withApp runs fn with a bootstrapped app and tears it down afterwards.
func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx := context.Background()
	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(ctx, a)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(runServer)
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run migrations on the shared public schema",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			to, _ := cmd.Flags().GetInt("to")
			return withApp(func(ctx context.Context, a *app) error {
				if dir == "" {
					dir = a.cfg.MigrationsDir
				}
				count, err := db.NewMigrator(a.pool, dir).UpTo(ctx, db.GlobalSchema, to)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) to %s.\n", count, db.GlobalSchema)
				return nil
			})
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	upCmd.Flags().Int("to", 0, "Stop after this migration version (0 applies all)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return withApp(func(ctx context.Context, a *app) error {
				if dir == "" {
					dir = a.cfg.MigrationsDir
				}
				statuses, err := db.NewMigrator(a.pool, dir).Status(ctx, db.GlobalSchema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tNAME\tSTATUS\tAPPLIED AT")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format(time.DateTime)
						}
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", s.Version, s.Name, status, appliedAt)
				}
				return w.Flush()
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func provisionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "provision",
		Short: "Apply table definitions to tenant schemas",
	}

	applyCmd := &cobra.Command{
		Use:   "apply",
		Short: "Provision every tenant schema (or those given with --schema)",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			names, _ := cmd.Flags().GetStringSlice("schema")
			return withApp(func(ctx context.Context, a *app) error {
				defs, only, err := provisionInputs(a, dir, names)
				if err != nil {
					return err
				}
				report, err := a.provisioner().Apply(ctx, defs, only...)
				if err != nil {
					return err
				}
				printReport(report)
				return report.Err()
			})
		},
	}
	applyCmd.Flags().String("dir", "", "Path to definitions directory (default DEFINITIONS_DIR)")
	applyCmd.Flags().StringSlice("schema", nil, "Limit to these tenant schemas")
	cmd.AddCommand(applyCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show which definitions each tenant schema has",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			names, _ := cmd.Flags().GetStringSlice("schema")
			return withApp(func(ctx context.Context, a *app) error {
				defs, only, err := provisionInputs(a, dir, names)
				if err != nil {
					return err
				}
				statuses, err := a.provisioner().Status(ctx, defs, only...)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "SCHEMA\tAPPLIED\tPENDING")
				for _, s := range statuses {
					applied := make([]string, len(s.Records))
					for i, r := range s.Records {
						applied[i] = r.Definition
					}
					fmt.Fprintf(w, "%s\t%s\t%s\n", s.Schema, orDash(applied), orDash(s.Pending))
				}
				return w.Flush()
			})
		},
	}
	statusCmd.Flags().String("dir", "", "Path to definitions directory (default DEFINITIONS_DIR)")
	statusCmd.Flags().StringSlice("schema", nil, "Limit to these tenant schemas")
	cmd.AddCommand(statusCmd)

	return cmd
}

func provisionInputs(a *app, dir string, names []string) ([]*provision.Definition, []db.Schema, error) {
	if dir == "" {
		dir = a.cfg.DefinitionsDir
	}
	defs, err := provision.LoadDir(dir)
	if err != nil {
		return nil, nil, err
	}
	only, err := parseSchemas(names)
	if err != nil {
		return nil, nil, err
	}
	return defs, only, nil
}

// parseSchemas maps --schema values (tenant ids or full schema names) to
// validated schemas.
func parseSchemas(names []string) ([]db.Schema, error) {
	var out []db.Schema
	for _, n := range names {
		s, err := db.SchemaForTenant(n, false)
		if err != nil {
			return nil, fmt.Errorf("--schema %q: %w", n, err)
		}
		out = append(out, s)
	}
	return out, nil
}

func printReport(r *provision.Report) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCHEMA\tRESULT\tAPPLIED\tDURATION")
	for _, res := range r.Results {
		result := "ok"
		if !res.OK() {
			result = "FAILED: " + res.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", res.Schema, result, orDash(res.Applied), res.Duration.Round(time.Millisecond))
	}
	_ = w.Flush()
	fmt.Printf("%d of %d schema(s) provisioned.\n", r.Succeeded(), len(r.Results))
}

func printSchemas(out io.Writer, schemas []db.Schema) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCHEMA\tKIND")
	for _, s := range schemas {
		kind := "tenant"
		if s.IsDemo() {
			kind = "demo"
		}
		fmt.Fprintf(w, "%s\t%s\n", s, kind)
	}
	return w.Flush()
}

func orDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List tenant schemas",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				schemas, err := a.registry.List(ctx)
				if err != nil {
					return err
				}
				return printSchemas(os.Stdout, schemas)
			})
		},
	})

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and provision it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			demo, _ := cmd.Flags().GetBool("demo")
			dir, _ := cmd.Flags().GetString("dir")
			if name == "" {
				return fmt.Errorf("--name is required")
			}
			schema, err := db.SchemaForTenant(name, demo)
			if err != nil {
				return err
			}
			return withApp(func(ctx context.Context, a *app) error {
				if dir == "" {
					dir = a.cfg.DefinitionsDir
				}
				defs, err := provision.LoadDir(dir)
				if err != nil {
					return err
				}
				fmt.Printf("Creating tenant schema: %s\n", schema)
				if err := db.CreateTenantSchema(ctx, a.pool, schema); err != nil {
					return err
				}
				res, err := a.provisioner().ApplySchema(ctx, schema, defs)
				if err != nil {
					return err
				}
				if !res.OK() {
					return fmt.Errorf("provision %s: %w", schema, res.Err)
				}
				fmt.Printf("Tenant %s created with %s.\n", schema, orDash(res.Applied))
				return nil
			})
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (lowercase letters, digits, underscores)")
	createCmd.Flags().Bool("demo", false, "Create a demo_ schema instead of tenant_")
	createCmd.Flags().String("dir", "", "Path to definitions directory (default DEFINITIONS_DIR)")
	cmd.AddCommand(createCmd)

	return cmd
}
