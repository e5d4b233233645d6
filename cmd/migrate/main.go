package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/asakaida/relmanager/internal/infrastructure/config"
	"github.com/asakaida/relmanager/internal/infrastructure/database"
	"github.com/asakaida/relmanager/internal/infrastructure/logging"
	"github.com/asakaida/relmanager/internal/repositories/postgres"
	"github.com/asakaida/relmanager/internal/services/relation"
	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const migrationsDir = "internal/infrastructure/database/migrations/postgres"

// session is the state shared by the subcommands of one invocation.
type session struct {
	cfg    *config.Config
	pg     *database.Postgres
	logger *zap.Logger
}

var (
	envFlag   string
	olderFlag time.Duration
	current   session
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Maintain the relmanager database",
	Long: `Maintain the relmanager database.

The schema holds three tables: records (every model row, attributes as JSONB),
pivots (many-to-many rows with their pivot data) and deferred_bindings
(relation edits staged by forms that have not been saved yet).`,
	SilenceUsage:      true,
	PersistentPreRunE: openSession,
	PersistentPostRun: closeSession,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Create or upgrade the records, pivots and deferred_bindings tables",
	RunE: withMigrate(func(m *migrate.Migrate, _ []string) (string, error) {
		return "schema is up to date", m.Up()
	}),
}

var downCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Roll back schema versions (default: 1)",
	Args:  cobra.MaximumNArgs(1),
	RunE: withMigrate(func(m *migrate.Migrate, args []string) (string, error) {
		steps, err := parseSteps(args)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("rolled back %d version(s)", steps), m.Steps(-steps)
	}),
}

var gotoCmd = &cobra.Command{
	Use:   "goto <version>",
	Short: "Move the schema to a version",
	Args:  cobra.ExactArgs(1),
	RunE: withMigrate(func(m *migrate.Migrate, args []string) (string, error) {
		version, err := parseVersion(args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("schema at version %d", version), m.Migrate(version)
	}),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the schema version",
	RunE: withMigrate(func(m *migrate.Migrate, _ []string) (string, error) {
		version, dirty, err := m.Version()
		switch {
		case errors.Is(err, migrate.ErrNilVersion):
			return "no schema version applied yet", nil
		case err != nil:
			return "", err
		case dirty:
			return fmt.Sprintf("schema version %d (dirty, the last migration failed)", version), nil
		default:
			return fmt.Sprintf("schema version %d", version), nil
		}
	}),
}

var forceCmd = &cobra.Command{
	Use:   "force <version>",
	Short: "Mark a version as applied without running it, to clear a dirty state",
	Args:  cobra.ExactArgs(1),
	RunE: withMigrate(func(m *migrate.Migrate, args []string) (string, error) {
		version, err := parseVersion(args[0])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("schema forced to version %d", version), m.Force(int(version))
	}),
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup-bindings",
	Short: "Delete stale deferred bindings",
	Long: `Delete deferred bindings older than --older-than (default: DEFERRED_BINDING_TTL_HOURS)
and the unsaved records they were staging.`,
	RunE: runCleanup,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&envFlag, "env", "e", "dev", "Environment to use (dev, test, prod)")
	cleanupCmd.Flags().DurationVar(&olderFlag, "older-than", 0, "Age of bindings to delete (e.g. 72h)")

	rootCmd.AddCommand(upCmd, downCmd, gotoCmd, versionCmd, forceCmd, cleanupCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func openSession(cmd *cobra.Command, args []string) error {
	if err := config.InitConfig(envFlag); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	pg, err := database.NewPostgres(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	logger.Info("Connected to database",
		zap.String("env", envFlag),
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Database))

	current = session{cfg: cfg, pg: pg, logger: logger}
	return nil
}

func closeSession(cmd *cobra.Command, args []string) {
	if current.pg != nil {
		_ = current.pg.Close()
	}
	if current.logger != nil {
		_ = current.logger.Sync()
	}
}

// withMigrate runs fn on a migrate instance over the schema directory and
// logs its outcome. ErrNoChange is not a failure.
func withMigrate(fn func(m *migrate.Migrate, args []string) (string, error)) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		root, err := findProjectRoot()
		if err != nil {
			return fmt.Errorf("failed to find project root: %w", err)
		}
		path := filepath.Join(root, migrationsDir)

		driver, err := database.NewMigrateDriver(current.pg.DB)
		if err != nil {
			return fmt.Errorf("failed to create migration driver: %w", err)
		}
		m, err := migrate.NewWithDatabaseInstance("file://"+path, "postgres", driver)
		if err != nil {
			return fmt.Errorf("failed to read migrations in %s: %w", path, err)
		}
		defer m.Close()

		msg, err := fn(m, args)
		if errors.Is(err, migrate.ErrNoChange) {
			current.logger.Info("Nothing to do", zap.String("command", cmd.Name()))
			return nil
		}
		if err != nil {
			return fmt.Errorf("%s failed: %w", cmd.Name(), err)
		}
		current.logger.Info(msg, zap.String("command", cmd.Name()))
		return nil
	}
}

func parseSteps(args []string) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	steps, err := strconv.Atoi(args[0])
	if err != nil || steps < 1 {
		return 0, fmt.Errorf("steps must be a positive number, got %q", args[0])
	}
	return steps, nil
}

func parseVersion(arg string) (uint, error) {
	version, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("version must be a non-negative number, got %q", arg)
	}
	return uint(version), nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	defs, err := relation.LoadConfigFile(current.cfg.Relations.Path, nil)
	if err != nil {
		return fmt.Errorf("failed to load relation config: %w", err)
	}

	db := current.pg.DB
	binder := relation.NewBinder(relation.Repositories{
		Records:  postgres.NewPostgresRecordRepository(db),
		Pivots:   postgres.NewPostgresPivotRepository(db),
		Bindings: postgres.NewPostgresDeferredBindingRepository(db),
		Tx:       postgres.NewPostgresTransactor(db),
	}, defs, current.logger.Named("deferred"))

	age := olderFlag
	if age <= 0 {
		age = current.cfg.Relations.DeferredBindingTTL()
	}
	n, err := binder.CleanUp(cmd.Context(), time.Now().Add(-age))
	if err != nil {
		return fmt.Errorf("cleanup failed: %w", err)
	}
	current.logger.Info("Deleted stale deferred bindings",
		zap.Int("count", n),
		zap.Duration("older_than", age))
	return nil
}

// findProjectRoot walks up from the working directory to the go.mod.
func findProjectRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent directory")
		}
		dir = parent
	}
}
