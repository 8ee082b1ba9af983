package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/emiliopalmerini/msplit/internal/domain"
	"github.com/emiliopalmerini/msplit/internal/ports"
	"github.com/emiliopalmerini/msplit/internal/split"
)

var assignCmd = &cobra.Command{
	Use:   "assign <experiment> <alternative[:weight]>...",
	Short: "Assign the session's visitor to an alternative",
	Long: `Assign a visitor to an alternative of an experiment, creating the
experiment if needed. The visitor and its assignments are kept in a JSON
session file, so repeated calls return the same alternative.

Examples:
  msplit assign link_color blue red
  msplit assign link_color blue red --session /tmp/alice.json
  msplit assign link_color blue red --override red`,
	Args: cobra.MinimumNArgs(3),
	RunE: runAssign,
}

var completeCmd = &cobra.Command{
	Use:   "complete <experiment>",
	Short: "Record a conversion for the session's visitor",
	Long: `Record a conversion for the alternative the visitor was assigned.
The assignment is removed afterwards unless --keep is given.

Examples:
  msplit complete link_color
  msplit complete link_color --keep`,
	Args: cobra.ExactArgs(1),
	RunE: runComplete,
}

var (
	sessionPath    string
	visitorAddr    string
	overrideAlt    string
	keepAssignment bool
)

func init() {
	rootCmd.AddCommand(assignCmd)
	rootCmd.AddCommand(completeCmd)

	for _, c := range []*cobra.Command{assignCmd, completeCmd} {
		c.Flags().StringVar(&sessionPath, "session", "", "Session file (default $XDG_STATE_HOME/msplit/session.json)")
		c.Flags().StringVar(&visitorAddr, "addr", "", "Visitor IP address, checked against SPLIT_IGNORE_IP_ADDRESSES")
	}
	assignCmd.Flags().StringVar(&overrideAlt, "override", "", "Force an alternative without counting it")
	completeCmd.Flags().BoolVar(&keepAssignment, "keep", false, "Keep the assignment after the conversion")
}

func resolveSessionPath() (string, error) {
	if sessionPath != "" {
		return sessionPath, nil
	}
	return defaultSessionPath()
}

func visitorFrom(vf *visitorFile, experiment string) ports.Visitor {
	v := ports.Visitor{
		ID:          vf.VisitorID,
		Addr:        visitorAddr,
		Assignments: vf.Assignments,
	}
	if overrideAlt != "" {
		v.Override = split.Overrides{experiment: overrideAlt}
	}
	return v
}

func runAssign(cmd *cobra.Command, args []string) error {
	specs, err := domain.ParseAlternativeSpecs(args[1:])
	if err != nil {
		return err
	}
	path, err := resolveSessionPath()
	if err != nil {
		return err
	}
	vf, err := loadVisitorFile(path)
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		if err := assignVisitor(ctx, cmd.OutOrStdout(), app.Engine, visitorFrom(vf, args[0]), args[0], specs); err != nil {
			return err
		}
		return vf.save(path)
	})
}

func assignVisitor(ctx context.Context, w io.Writer, engine *split.Engine, v ports.Visitor, experiment string, specs []domain.AlternativeSpec) error {
	alt, err := engine.Assign(ctx, v, experiment, specs...)
	if err != nil {
		return fmt.Errorf("failed to assign %s: %w", experiment, err)
	}
	fmt.Fprintln(w, alt)
	return nil
}

func runComplete(cmd *cobra.Command, args []string) error {
	path, err := resolveSessionPath()
	if err != nil {
		return err
	}
	vf, err := loadVisitorFile(path)
	if err != nil {
		return err
	}

	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		if err := completeVisitor(ctx, cmd.OutOrStdout(), app.Engine, visitorFrom(vf, args[0]), args[0], keepAssignment); err != nil {
			return err
		}
		return vf.save(path)
	})
}

func completeVisitor(ctx context.Context, w io.Writer, engine *split.Engine, v ports.Visitor, experiment string, keep bool) error {
	var opts []split.CompletionOption
	if keep {
		opts = append(opts, split.KeepAssignment())
	}
	if err := engine.RecordCompletion(ctx, v, experiment, opts...); err != nil {
		return fmt.Errorf("failed to record completion for %s: %w", experiment, err)
	}
	fmt.Fprintf(w, "Recorded completion for %s\n", experiment)
	return nil
}
