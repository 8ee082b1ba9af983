package cli

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"sort"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/emiliopalmerini/msplit/internal/domain"
	"github.com/emiliopalmerini/msplit/internal/ports"
	"github.com/emiliopalmerini/msplit/internal/split"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <experiment> <alternative[:weight]>...",
	Short: "Run synthetic visitors through an experiment",
	Long: `Send a stream of synthetic visitors through an experiment and print the
resulting report. Each visitor is assigned twice, to exercise stickiness, and
then converts with the probability given by --rate for its alternative.

Examples:
  msplit simulate link_color blue red --visitors 5000
  msplit simulate link_color blue:3 red:1 --rate blue=0.10 --rate red=0.14
  msplit --store memory simulate checkout a b c --concurrency 16`,
	Args: cobra.MinimumNArgs(3),
	RunE: runSimulate,
}

var (
	simVisitors    int
	simConcurrency int
	simRates       map[string]string
)

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().IntVar(&simVisitors, "visitors", 1000, "Number of visitors")
	simulateCmd.Flags().IntVar(&simConcurrency, "concurrency", 8, "Visitors handled in parallel")
	simulateCmd.Flags().StringToStringVar(&simRates, "rate", nil, "Conversion probability per alternative, e.g. red=0.12")
}

type simulation struct {
	Experiment  string
	Specs       []domain.AlternativeSpec
	Visitors    int
	Concurrency int
	Rates       map[string]float64
	Random      func() float64
}

type simulationResult struct {
	Assigned    map[string]int
	Completions int64
}

func parseRates(raw map[string]string) (map[string]float64, error) {
	rates := make(map[string]float64, len(raw))
	for alt, v := range raw {
		p, err := strconv.ParseFloat(v, 64)
		if err != nil || p < 0 || p > 1 {
			return nil, fmt.Errorf("invalid rate %q for %s: want a probability between 0 and 1", v, alt)
		}
		rates[alt] = p
	}
	return rates, nil
}

func runSimulate(cmd *cobra.Command, args []string) error {
	specs, err := domain.ParseAlternativeSpecs(args[1:])
	if err != nil {
		return err
	}
	rates, err := parseRates(simRates)
	if err != nil {
		return err
	}

	sim := simulation{
		Experiment:  args[0],
		Specs:       specs,
		Visitors:    simVisitors,
		Concurrency: simConcurrency,
		Rates:       rates,
		Random:      rand.Float64,
	}

	return withApp(cmd, func(ctx context.Context, app *AppContext) error {
		res, err := sim.run(ctx, app.Engine)
		if err != nil {
			return err
		}
		return printSimulation(ctx, cmd.OutOrStdout(), app.Repo, sim, res)
	})
}

func (s simulation) run(ctx context.Context, engine *split.Engine) (*simulationResult, error) {
	if s.Visitors <= 0 {
		return nil, fmt.Errorf("visitors must be positive, got %d", s.Visitors)
	}
	if s.Concurrency <= 0 {
		s.Concurrency = 1
	}

	// Workers must not race the first save of the alternative list.
	if _, err := engine.Repository().FindOrCreate(ctx, s.Experiment, s.Specs...); err != nil {
		return nil, fmt.Errorf("failed to prepare %s: %w", s.Experiment, err)
	}

	assigned := make([]string, s.Visitors)
	var completions atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.Concurrency)
	for i := range s.Visitors {
		g.Go(func() error {
			v := ports.Visitor{ID: uuid.New().String(), Assignments: split.NewSession()}

			first, err := engine.Assign(gctx, v, s.Experiment, s.Specs...)
			if err != nil {
				return fmt.Errorf("visitor %d: %w", i, err)
			}
			again, err := engine.Assign(gctx, v, s.Experiment, s.Specs...)
			if err != nil {
				return fmt.Errorf("visitor %d: %w", i, err)
			}
			if again != first {
				return fmt.Errorf("visitor %d: assignment changed from %s to %s", i, first, again)
			}
			assigned[i] = first

			if s.Random() < s.Rates[first] {
				if err := engine.RecordCompletion(gctx, v, s.Experiment); err != nil {
					return fmt.Errorf("visitor %d: %w", i, err)
				}
				completions.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &simulationResult{Assigned: make(map[string]int), Completions: completions.Load()}
	for _, alt := range assigned {
		res.Assigned[alt]++
	}
	return res, nil
}

func printSimulation(ctx context.Context, w io.Writer, repo *split.Repository, sim simulation, res *simulationResult) error {
	alts := make([]string, 0, len(res.Assigned))
	for alt := range res.Assigned {
		alts = append(alts, alt)
	}
	sort.Strings(alts)

	fmt.Fprintf(w, "Simulated %d visitors, %d conversions\n", sim.Visitors, res.Completions)
	for _, alt := range alts {
		fmt.Fprintf(w, "  %-20s %d\n", alt, res.Assigned[alt])
	}
	fmt.Fprintln(w)

	exp, err := repo.Find(ctx, sim.Experiment)
	if err != nil {
		return err
	}
	if exp == nil {
		return fmt.Errorf("experiment %s disappeared during the simulation", sim.Experiment)
	}
	return printExperiment(ctx, w, exp)
}
