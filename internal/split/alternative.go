package split

import (
	"context"
	"fmt"
	"strconv"

	"github.com/emiliopalmerini/msplit/internal/domain"
	"github.com/emiliopalmerini/msplit/internal/ports"
)

// Alternative is a handle on one alternative of an experiment. It holds no
// counters itself; every read goes to the store.
type Alternative struct {
	Name           string
	Weight         float64
	ExperimentName string

	store ports.Store
}

// NewAlternative returns a handle on the stored alternative. Nothing is
// written until Save.
func NewAlternative(store ports.Store, experiment string, spec domain.AlternativeSpec) *Alternative {
	return &Alternative{
		Name:           spec.Name,
		Weight:         spec.Weight,
		ExperimentName: experiment,
		store:          store,
	}
}

// Key returns the hash key holding the counters.
func (a *Alternative) Key() string {
	return alternativeKey(a.ExperimentName, a.Name)
}

func (a *Alternative) counter(ctx context.Context, field string) (int64, error) {
	v, ok, err := a.store.HGet(ctx, a.Key(), field)
	if err != nil {
		return 0, fmt.Errorf("reading %s of %s: %w", field, a.Key(), err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s of %s: %w", field, a.Key(), err)
	}
	return n, nil
}

func (a *Alternative) setCounter(ctx context.Context, field string, n int64) error {
	if err := a.store.HSet(ctx, a.Key(), map[string]string{field: strconv.FormatInt(n, 10)}); err != nil {
		return fmt.Errorf("writing %s of %s: %w", field, a.Key(), err)
	}
	return nil
}

func (a *Alternative) ParticipantCount(ctx context.Context) (int64, error) {
	return a.counter(ctx, participantField)
}

func (a *Alternative) SetParticipantCount(ctx context.Context, n int64) error {
	return a.setCounter(ctx, participantField, n)
}

func (a *Alternative) CompletedCount(ctx context.Context) (int64, error) {
	return a.counter(ctx, completedField)
}

func (a *Alternative) SetCompletedCount(ctx context.Context, n int64) error {
	return a.setCounter(ctx, completedField, n)
}

// Counts reads both counters.
func (a *Alternative) Counts(ctx context.Context) (domain.Counts, error) {
	participants, err := a.ParticipantCount(ctx)
	if err != nil {
		return domain.Counts{}, err
	}
	completed, err := a.CompletedCount(ctx)
	if err != nil {
		return domain.Counts{}, err
	}
	return domain.Counts{Participants: participants, Completed: completed}, nil
}

// IncrementParticipation atomically adds one participant.
func (a *Alternative) IncrementParticipation(ctx context.Context) error {
	if _, err := a.store.HIncrBy(ctx, a.Key(), participantField, 1); err != nil {
		return fmt.Errorf("incrementing participation of %s: %w", a.Key(), err)
	}
	return nil
}

// IncrementCompletion atomically adds one completion.
func (a *Alternative) IncrementCompletion(ctx context.Context) error {
	if _, err := a.store.HIncrBy(ctx, a.Key(), completedField, 1); err != nil {
		return fmt.Errorf("incrementing completion of %s: %w", a.Key(), err)
	}
	return nil
}

func (a *Alternative) ConversionRate(ctx context.Context) (float64, error) {
	c, err := a.Counts(ctx)
	if err != nil {
		return 0, err
	}
	return c.ConversionRate(), nil
}

// controlName returns the first stored alternative of the experiment, or ""
// when the experiment is not stored.
func (a *Alternative) controlName(ctx context.Context) (string, error) {
	names, err := a.store.LRange(ctx, a.ExperimentName)
	if err != nil {
		return "", fmt.Errorf("reading alternatives of %s: %w", a.ExperimentName, err)
	}
	if len(names) == 0 {
		return "", nil
	}
	return names[0], nil
}

// IsControl reports whether this is the first alternative of the stored
// experiment. It is false when the experiment does not exist.
func (a *Alternative) IsControl(ctx context.Context) (bool, error) {
	control, err := a.controlName(ctx)
	if err != nil {
		return false, err
	}
	return control != "" && control == a.Name, nil
}

// ZScore compares this alternative with the control. ok is false for the
// control itself, for empty samples and for zero variance.
func (a *Alternative) ZScore(ctx context.Context) (z float64, ok bool, err error) {
	control, err := a.controlName(ctx)
	if err != nil {
		return 0, false, err
	}
	if control == "" || control == a.Name {
		return 0, false, nil
	}

	mine, err := a.Counts(ctx)
	if err != nil {
		return 0, false, err
	}
	theirs, err := NewAlternative(a.store, a.ExperimentName, domain.Alt(control)).Counts(ctx)
	if err != nil {
		return 0, false, err
	}

	z, ok = domain.ZScore(mine, theirs)
	return z, ok, nil
}

func (a *Alternative) ConfidenceLevel(ctx context.Context) (string, error) {
	z, ok, err := a.ZScore(ctx)
	if err != nil {
		return "", err
	}
	return domain.ConfidenceLevel(z, ok), nil
}

// Save initialises both counters to zero unless they already exist.
func (a *Alternative) Save(ctx context.Context) error {
	for _, field := range []string{participantField, completedField} {
		if _, err := a.store.HSetNX(ctx, a.Key(), field, "0"); err != nil {
			return fmt.Errorf("saving %s: %w", a.Key(), err)
		}
	}
	return nil
}

// Reset zeroes both counters in one write.
func (a *Alternative) Reset(ctx context.Context) error {
	err := a.store.HSet(ctx, a.Key(), map[string]string{
		participantField: "0",
		completedField:   "0",
	})
	if err != nil {
		return fmt.Errorf("resetting %s: %w", a.Key(), err)
	}
	return nil
}

func (a *Alternative) Delete(ctx context.Context) error {
	if err := a.store.Del(ctx, a.Key()); err != nil {
		return fmt.Errorf("deleting %s: %w", a.Key(), err)
	}
	return nil
}
