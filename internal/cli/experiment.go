package cli

import (
	"context"
	"fmt"
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/emiliopalmerini/msplit/internal/domain"
	"github.com/emiliopalmerini/msplit/internal/split"
)

var experimentCmd = &cobra.Command{
	Use:   "experiment",
	Short: "Manage experiments",
	Long:  `List, inspect, create, reset and delete experiments, and declare winners.`,
}

var experimentListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show every experiment with its statistics",
	Args:  cobra.NoArgs,
	RunE:  runExperimentList,
}

var experimentShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show the statistics of one experiment",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentShow,
}

var experimentCreateCmd = &cobra.Command{
	Use:   "create <name> <alternative[:weight]>...",
	Short: "Create an experiment, or rebuild it if its alternatives changed",
	Long: `Create an experiment. The first alternative is the control.

If the experiment exists with the same alternatives nothing changes. If the
alternatives differ, counters and winner are cleared and the version is bumped.

Examples:
  msplit experiment create link_color blue red
  msplit experiment create link_color blue:0.8 red:20`,
	Args: cobra.MinimumNArgs(3),
	RunE: runExperimentCreate,
}

var experimentWinnerCmd = &cobra.Command{
	Use:   "winner <name> [alternative]",
	Short: "Declare or clear the winner of an experiment",
	Long: `Declare the winner of an experiment. Every visitor is shown the winner
from then on and nothing is counted. An unknown alternative is ignored.

Examples:
  msplit experiment winner link_color red
  msplit experiment winner link_color --clear`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runExperimentWinner,
}

var experimentResetCmd = &cobra.Command{
	Use:   "reset <name>",
	Short: "Zero the counters, clear the winner and start a new version",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentReset,
}

var experimentDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete an experiment and its counters",
	Args:  cobra.ExactArgs(1),
	RunE:  runExperimentDelete,
}

var clearWinner bool

func init() {
	rootCmd.AddCommand(experimentCmd)

	experimentCmd.AddCommand(experimentListCmd)
	experimentCmd.AddCommand(experimentShowCmd)
	experimentCmd.AddCommand(experimentCreateCmd)
	experimentCmd.AddCommand(experimentWinnerCmd)
	experimentCmd.AddCommand(experimentResetCmd)
	experimentCmd.AddCommand(experimentDeleteCmd)

	experimentWinnerCmd.Flags().BoolVar(&clearWinner, "clear", false, "Clear the declared winner")
}

func runExperimentList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		return listExperiments(ctx, cmd.OutOrStdout(), app.Repo)
	})
}

func listExperiments(ctx context.Context, w io.Writer, repo *split.Repository) error {
	experiments, err := repo.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to list experiments: %w", err)
	}
	if len(experiments) == 0 {
		fmt.Fprintln(w, "No experiments found")
		return nil
	}
	for _, exp := range experiments {
		if err := printExperiment(ctx, w, exp); err != nil {
			return err
		}
	}
	return nil
}

func runExperimentShow(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		exp, err := findExperiment(ctx, cmd.OutOrStdout(), app.Repo, args[0])
		if err != nil || exp == nil {
			return err
		}
		return printExperiment(ctx, cmd.OutOrStdout(), exp)
	})
}

// findExperiment loads an experiment and prints a notice when it is missing.
func findExperiment(ctx context.Context, w io.Writer, repo *split.Repository, name string) (*split.Experiment, error) {
	exp, err := repo.Find(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to find experiment: %w", err)
	}
	if exp == nil {
		fmt.Fprintf(w, "Experiment %q not found\n", name)
	}
	return exp, nil
}

func runExperimentCreate(cmd *cobra.Command, args []string) error {
	specs, err := domain.ParseAlternativeSpecs(args[1:])
	if err != nil {
		return err
	}
	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		return createExperiment(ctx, cmd.OutOrStdout(), app.Repo, args[0], specs)
	})
}

func createExperiment(ctx context.Context, w io.Writer, repo *split.Repository, name string, specs []domain.AlternativeSpec) error {
	exp, err := repo.FindOrCreate(ctx, name, specs...)
	if err != nil {
		return fmt.Errorf("failed to create experiment: %w", err)
	}
	version, err := exp.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Experiment %s ready with alternatives %v (version %d)\n", exp.Name, exp.AlternativeNames(), version)
	return nil
}

func runExperimentWinner(cmd *cobra.Command, args []string) error {
	if !clearWinner && len(args) < 2 {
		return fmt.Errorf("an alternative is required unless --clear is given")
	}
	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		alternative := ""
		if len(args) == 2 {
			alternative = args[1]
		}
		return declareWinner(ctx, cmd.OutOrStdout(), app.Repo, args[0], alternative, clearWinner)
	})
}

func declareWinner(ctx context.Context, w io.Writer, repo *split.Repository, name, alternative string, unset bool) error {
	exp, err := findExperiment(ctx, w, repo, name)
	if err != nil || exp == nil {
		return err
	}

	if unset {
		if err := exp.ResetWinner(ctx); err != nil {
			return fmt.Errorf("failed to clear winner: %w", err)
		}
		fmt.Fprintf(w, "Cleared the winner of %s\n", name)
		return nil
	}

	if !slices.Contains(exp.AlternativeNames(), alternative) {
		fmt.Fprintf(w, "%q is not an alternative of %s; winner unchanged\n", alternative, name)
		return nil
	}
	if err := exp.SetWinner(ctx, alternative); err != nil {
		return fmt.Errorf("failed to set winner: %w", err)
	}
	fmt.Fprintf(w, "Declared %s the winner of %s\n", alternative, name)
	return nil
}

func runExperimentReset(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		return resetExperiment(ctx, cmd.OutOrStdout(), app.Repo, args[0])
	})
}

func resetExperiment(ctx context.Context, w io.Writer, repo *split.Repository, name string) error {
	exp, err := findExperiment(ctx, w, repo, name)
	if err != nil || exp == nil {
		return err
	}
	if err := exp.Reset(ctx); err != nil {
		return fmt.Errorf("failed to reset experiment: %w", err)
	}
	version, err := exp.Version(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Reset %s; now at version %d\n", name, version)
	return nil
}

func runExperimentDelete(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		return deleteExperiment(ctx, cmd.OutOrStdout(), app.Repo, args[0])
	})
}

func deleteExperiment(ctx context.Context, w io.Writer, repo *split.Repository, name string) error {
	exp, err := findExperiment(ctx, w, repo, name)
	if err != nil || exp == nil {
		return err
	}
	if err := exp.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete experiment: %w", err)
	}
	fmt.Fprintf(w, "Deleted experiment: %s\n", name)
	return nil
}
