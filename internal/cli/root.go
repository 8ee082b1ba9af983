package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/emiliopalmerini/msplit/internal/infrastructure/config"
)

var rootCmd = &cobra.Command{
	Use:   "msplit",
	Short: "A/B testing engine backed by Redis or libSQL",
	Long: `msplit assigns visitors to experiment alternatives, keeps the assignment
sticky, counts participations and conversions, and reports how confident you
can be that an alternative beats the control.

Configuration is read from the environment (SPLIT_STORE, SPLIT_REDIS_URL,
TURSO_DATABASE_URL, ...). Flags override it.`,
	SilenceUsage: true,
}

var storeFlag string

// Execute runs the root command with ctx, exiting non-zero on failure.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&storeFlag, "store", "", "Store backend: redis, turso or memory (overrides SPLIT_STORE)")
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if storeFlag != "" {
		cfg.Split.Store = storeFlag
	}
	return cfg, nil
}

// withApp runs fn with a freshly wired AppContext and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *AppContext) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := NewAppContext(ctx, cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer app.Close(ctx)

	return fn(ctx, app)
}
