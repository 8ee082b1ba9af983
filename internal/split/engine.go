package split

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/emiliopalmerini/msplit/internal/domain"
	"github.com/emiliopalmerini/msplit/internal/logging"
	"github.com/emiliopalmerini/msplit/internal/policy"
	"github.com/emiliopalmerini/msplit/internal/ports"
)

// Engine assigns visitors to alternatives and records their conversions.
type Engine struct {
	repo          *Repository
	allowMultiple bool
	failover      bool
	onError       func(error)
	exclusion     ports.ExclusionPolicy
	metrics       ports.MetricsExporter
	logger        *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithAllowMultiple lets a visitor take part in several experiments at once.
func WithAllowMultiple(allow bool) Option {
	return func(e *Engine) { e.allowMultiple = allow }
}

// WithFailover answers from the declared alternatives when the store is
// unavailable instead of returning the error.
func WithFailover(enabled bool) Option {
	return func(e *Engine) { e.failover = enabled }
}

// WithErrorObserver is called with every store error absorbed by failover.
func WithErrorObserver(fn func(error)) Option {
	return func(e *Engine) { e.onError = fn }
}

func WithExclusionPolicy(p ports.ExclusionPolicy) Option {
	return func(e *Engine) { e.exclusion = p }
}

func WithMetrics(m ports.MetricsExporter) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func NewEngine(repo *Repository, opts ...Option) *Engine {
	e := &Engine{
		repo:      repo,
		exclusion: policy.None{},
		metrics:   noopMetrics{},
		logger:    logging.Discard(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type noopMetrics struct{}

func (noopMetrics) RecordParticipation(context.Context, string, string) {}
func (noopMetrics) RecordCompletion(context.Context, string, string)    {}
func (noopMetrics) RecordFailover(context.Context, string, string)      {}
func (noopMetrics) Close(context.Context) error                         { return nil }

// Repository returns the repository the engine reads experiments from.
func (e *Engine) Repository() *Repository {
	return e.repo
}

// Assign returns the alternative of experimentName the visitor should see,
// creating the experiment from specs when needed. A first-time visitor is
// drawn by weight, counted as a participant and remembered in
// v.Assignments. Invalid specs are always reported, even with failover.
func (e *Engine) Assign(ctx context.Context, v ports.Visitor, experimentName string, specs ...domain.AlternativeSpec) (string, error) {
	if err := domain.ValidateAlternatives(specs); err != nil {
		return "", err
	}
	if v.Assignments == nil {
		v.Assignments = NewSession()
	}

	alt, err := e.assign(ctx, v, experimentName, specs)
	if err != nil {
		if e.absorb(ctx, err, experimentName, "assign") {
			return specs[0].Name, nil
		}
		return "", err
	}
	return alt, nil
}

func (e *Engine) assign(ctx context.Context, v ports.Visitor, experimentName string, specs []domain.AlternativeSpec) (string, error) {
	exp, err := e.repo.FindOrCreate(ctx, experimentName, specs...)
	if err != nil {
		return "", err
	}

	winner, err := exp.Winner(ctx)
	if err != nil {
		return "", err
	}
	if winner != nil {
		return winner.Name, nil
	}

	if v.Override != nil {
		if name, ok := v.Override.Requested(exp.Name); ok && slices.Contains(exp.AlternativeNames(), name) {
			return name, nil
		}
	}

	key, err := exp.Key(ctx)
	if err != nil {
		return "", err
	}
	e.purgeStaleVersions(v.Assignments, exp.Name, key)

	if e.exclusion.IsExcluded(v) || (!e.allowMultiple && inOtherExperiment(v.Assignments, exp.Name)) {
		return exp.Control().Name, nil
	}

	if name, ok := v.Assignments.Get(key); ok {
		return name, nil
	}

	alt, err := exp.NextAlternative(ctx)
	if err != nil {
		return "", err
	}
	if err := alt.IncrementParticipation(ctx); err != nil {
		return "", err
	}
	v.Assignments.Set(key, alt.Name)
	e.metrics.RecordParticipation(ctx, exp.Name, alt.Name)
	e.logger.Debug("visitor assigned", "experiment", exp.Name, "alternative", alt.Name, "visitor", v.ID)
	return alt.Name, nil
}

// purgeStaleVersions drops the visitor's keys for other versions of the
// experiment.
func (e *Engine) purgeStaleVersions(s ports.AssignmentStore, experiment, current string) {
	for _, k := range s.Keys() {
		if k != current && domain.IsAssignmentKeyFor(k, experiment) {
			s.Delete(k)
		}
	}
}

func inOtherExperiment(s ports.AssignmentStore, experiment string) bool {
	for _, k := range s.Keys() {
		if !domain.IsAssignmentKeyFor(k, experiment) {
			return true
		}
	}
	return false
}

// CompletionOption configures RecordCompletion.
type CompletionOption func(*completionConfig)

type completionConfig struct {
	keep bool
}

// KeepAssignment leaves the assignment in place after the completion, so the
// visitor keeps the same alternative and may convert again.
func KeepAssignment() CompletionOption {
	return func(c *completionConfig) { c.keep = true }
}

// RecordCompletion counts a conversion for the visitor's alternative.
// experimentName may carry a ":<version>" suffix, as in Assign. It is a no-op
// for excluded visitors, unknown experiments and visitors without an
// assignment.
func (e *Engine) RecordCompletion(ctx context.Context, v ports.Visitor, experimentName string, opts ...CompletionOption) error {
	var cfg completionConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if v.Assignments == nil {
		return nil
	}

	if err := e.complete(ctx, v, experimentName, cfg); err != nil {
		if e.absorb(ctx, err, experimentName, "complete") {
			return nil
		}
		return err
	}
	return nil
}

func (e *Engine) complete(ctx context.Context, v ports.Visitor, experimentName string, cfg completionConfig) error {
	if e.exclusion.IsExcluded(v) {
		return nil
	}

	exp, err := e.repo.Find(ctx, domain.ExperimentName(experimentName))
	if err != nil {
		return err
	}
	if exp == nil {
		return nil
	}

	key, err := exp.Key(ctx)
	if err != nil {
		return err
	}
	name, ok := v.Assignments.Get(key)
	if !ok {
		return nil
	}

	alt := exp.Alternative(name)
	if alt == nil {
		e.logger.Warn("dropping assignment to unknown alternative", "experiment", exp.Name, "alternative", name)
		v.Assignments.Delete(key)
		return nil
	}

	if err := alt.IncrementCompletion(ctx); err != nil {
		return err
	}
	e.metrics.RecordCompletion(ctx, exp.Name, alt.Name)

	if !cfg.keep {
		v.Assignments.Delete(key)
	}
	return nil
}

// absorb reports whether err is a store outage that failover answers for.
// The observer and the failover metric see every absorbed error.
func (e *Engine) absorb(ctx context.Context, err error, experiment, operation string) bool {
	if !e.failover || !errors.Is(err, domain.ErrStoreUnavailable) {
		return false
	}

	e.logger.Warn("store unavailable, failing over",
		"experiment", experiment,
		"operation", operation,
		"error", err,
	)
	e.metrics.RecordFailover(ctx, experiment, operation)
	e.observe(err)
	return true
}

func (e *Engine) observe(err error) {
	if e.onError == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("error observer panicked", "panic", fmt.Sprint(r))
		}
	}()
	e.onError(err)
}
