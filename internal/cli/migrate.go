package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/emiliopalmerini/msplit/internal/adapters/turso"
	"github.com/emiliopalmerini/msplit/internal/migrate"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate [version]",
	Short: "Run libSQL store migrations",
	Long: `Run the migrations of the libSQL store (TURSO_DATABASE_URL).

Without arguments, runs all pending migrations (up).
With a version number, migrates to that specific version (up or down as needed).
The Redis and memory stores have no schema.

Examples:
  msplit migrate      # Run all pending migrations
  msplit migrate 1    # Migrate to version 1
  msplit migrate 0    # Drop the store tables`,
	Args: cobra.MaximumNArgs(1),
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	target := -1
	if len(args) == 1 {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 0 {
			return fmt.Errorf("invalid version number: %s", args[0])
		}
		target = v
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("TURSO_DATABASE_URL is required")
	}

	db, err := turso.Open(ctx, cfg.Database.URL, cfg.Database.AuthToken)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	runner := turso.Migrator(db)
	runner.Out = cmd.OutOrStdout()
	return runMigrations(ctx, cmd.OutOrStdout(), runner, target)
}

// runMigrations applies every pending migration when target is negative and
// migrates to target otherwise.
func runMigrations(ctx context.Context, w io.Writer, runner *migrate.Runner, target int) error {
	if err := runner.EnsureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	current, _, err := runner.CurrentVersion(ctx)
	if err != nil {
		return fmt.Errorf("failed to get current version: %w", err)
	}
	fmt.Fprintf(w, "Current version: %d\n", current)

	if target < 0 {
		n, err := runner.Up(ctx)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Fprintln(w, "No pending migrations")
			return nil
		}
		fmt.Fprintf(w, "Applied %d migration(s)\n", n)
		return nil
	}

	if target == current {
		fmt.Fprintln(w, "Already at target version")
		return nil
	}
	if err := runner.To(ctx, target); err != nil {
		return err
	}
	fmt.Fprintf(w, "Migrated to version %d\n", target)
	return nil
}
