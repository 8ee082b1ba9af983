package split

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/emiliopalmerini/msplit/internal/domain"
	"github.com/emiliopalmerini/msplit/internal/logging"
	"github.com/emiliopalmerini/msplit/internal/ports"
)

// Repository finds and creates experiments in a store.
type Repository struct {
	store  ports.Store
	now    func() time.Time
	random func() float64
	logger *slog.Logger
}

// RepositoryOption configures a Repository.
type RepositoryOption func(*Repository)

// WithClock sets the clock used for start times.
func WithClock(now func() time.Time) RepositoryOption {
	return func(r *Repository) { r.now = now }
}

// WithRandom sets the source of uniform numbers in [0, 1) used for weighted
// draws.
func WithRandom(random func() float64) RepositoryOption {
	return func(r *Repository) { r.random = random }
}

// WithRepositoryLogger sets the logger for structural changes.
func WithRepositoryLogger(l *slog.Logger) RepositoryOption {
	return func(r *Repository) { r.logger = l }
}

func NewRepository(store ports.Store, opts ...RepositoryOption) *Repository {
	r := &Repository{
		store:  store,
		now:    time.Now,
		random: rand.Float64,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Store returns the backing store.
func (r *Repository) Store() ports.Store {
	return r.store
}

// New returns an unsaved experiment handle. specs are not validated.
func (r *Repository) New(name string, specs ...domain.AlternativeSpec) *Experiment {
	alts := make([]*Alternative, len(specs))
	for i, s := range specs {
		alts[i] = NewAlternative(r.store, name, s)
	}
	return &Experiment{
		Name:         name,
		alternatives: alts,
		store:        r.store,
		now:          r.now,
		random:       r.random,
	}
}

// Find loads a stored experiment. It returns nil, nil when the experiment
// does not exist. Weights are not stored, so every alternative has the
// default weight.
func (r *Repository) Find(ctx context.Context, name string) (*Experiment, error) {
	if isReservedName(name) {
		return nil, nil
	}
	exists, err := r.store.Exists(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("looking up experiment %s: %w", name, err)
	}
	if !exists {
		return nil, nil
	}

	names, err := r.store.LRange(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("reading alternatives of %s: %w", name, err)
	}
	if len(names) == 0 {
		return nil, nil
	}
	return r.New(name, domain.Alts(names...)...), nil
}

// FindOrCreate returns the experiment declared by key and specs, creating it
// when absent. key may carry a ":<version>" suffix. When the stored
// alternative names differ from specs, the experiment is rebuilt: counters
// and winner are cleared, the version is bumped and the new list is saved.
// The returned experiment carries the weights of specs.
func (r *Repository) FindOrCreate(ctx context.Context, key string, specs ...domain.AlternativeSpec) (*Experiment, error) {
	if err := domain.ValidateAlternatives(specs); err != nil {
		return nil, err
	}

	name := domain.ExperimentName(key)
	if name == "" || isReservedName(name) {
		return nil, fmt.Errorf("%w: %q is not a usable experiment name", domain.ErrInvalidExperiment, name)
	}
	existing, err := r.Find(ctx, name)
	if err != nil {
		return nil, err
	}

	exp := r.New(name, specs...)
	if existing != nil && slices.Equal(existing.AlternativeNames(), exp.AlternativeNames()) {
		return exp, nil
	}

	if existing != nil {
		r.logger.Info("alternatives changed, rebuilding experiment",
			"experiment", name,
			"old", existing.AlternativeNames(),
			"new", exp.AlternativeNames(),
		)
		if err := existing.Reset(ctx); err != nil {
			return nil, err
		}
		for _, a := range existing.alternatives {
			if err := a.Delete(ctx); err != nil {
				return nil, err
			}
		}
		if err := r.store.Del(ctx, name); err != nil {
			return nil, fmt.Errorf("deleting alternatives of %s: %w", name, err)
		}
	}

	if err := exp.Save(ctx); err != nil {
		return nil, err
	}
	return exp, nil
}

// All returns every registered experiment sorted by name. Experiments removed
// while listing are skipped.
func (r *Repository) All(ctx context.Context) ([]*Experiment, error) {
	names, err := r.store.SMembers(ctx, experimentsKey)
	if err != nil {
		return nil, fmt.Errorf("listing experiments: %w", err)
	}
	slices.Sort(names)

	experiments := make([]*Experiment, 0, len(names))
	for _, name := range names {
		exp, err := r.Find(ctx, name)
		if err != nil {
			return nil, err
		}
		if exp != nil {
			experiments = append(experiments, exp)
		}
	}
	return experiments, nil
}
