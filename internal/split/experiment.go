package split

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/emiliopalmerini/msplit/internal/domain"
	"github.com/emiliopalmerini/msplit/internal/ports"
)

// Experiment is a named set of alternatives, control first. Like Alternative
// it is a handle: winner, version, start time and counters live in the store.
type Experiment struct {
	Name string

	alternatives []*Alternative
	store        ports.Store
	now          func() time.Time
	random       func() float64
}

// Alternatives returns the alternatives in declaration order.
func (e *Experiment) Alternatives() []*Alternative {
	return slices.Clone(e.alternatives)
}

// AlternativeNames returns the alternative names in declaration order.
func (e *Experiment) AlternativeNames() []string {
	names := make([]string, len(e.alternatives))
	for i, a := range e.alternatives {
		names[i] = a.Name
	}
	return names
}

// Alternative returns the named alternative, or nil.
func (e *Experiment) Alternative(name string) *Alternative {
	for _, a := range e.alternatives {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// Control returns the first alternative, or nil for a handle without
// alternatives.
func (e *Experiment) Control() *Alternative {
	if len(e.alternatives) == 0 {
		return nil
	}
	return e.alternatives[0]
}

// Winner returns the declared winner, or nil. The stored name is not checked
// against the alternatives.
func (e *Experiment) Winner(ctx context.Context) (*Alternative, error) {
	name, ok, err := e.store.HGet(ctx, winnerKey, e.Name)
	if err != nil {
		return nil, fmt.Errorf("reading winner of %s: %w", e.Name, err)
	}
	if !ok || name == "" {
		return nil, nil
	}
	if a := e.Alternative(name); a != nil {
		return a, nil
	}
	return NewAlternative(e.store, e.Name, domain.Alt(name)), nil
}

func (e *Experiment) SetWinner(ctx context.Context, alternative string) error {
	if err := e.store.HSet(ctx, winnerKey, map[string]string{e.Name: alternative}); err != nil {
		return fmt.Errorf("setting winner of %s: %w", e.Name, err)
	}
	return nil
}

func (e *Experiment) ResetWinner(ctx context.Context) error {
	if err := e.store.HDel(ctx, winnerKey, e.Name); err != nil {
		return fmt.Errorf("clearing winner of %s: %w", e.Name, err)
	}
	return nil
}

// StartTime returns when the experiment was first saved. ok is false for an
// unsaved experiment.
func (e *Experiment) StartTime(ctx context.Context) (t time.Time, ok bool, err error) {
	v, ok, err := e.store.HGet(ctx, startTimesKey, e.Name)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("reading start time of %s: %w", e.Name, err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	t, err = time.ParseInLocation(startTimeLayout, v, time.UTC)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parsing start time of %s: %w", e.Name, err)
	}
	return t, true, nil
}

// Version returns the stored version, 0 when never bumped.
func (e *Experiment) Version(ctx context.Context) (int64, error) {
	v, ok, err := e.store.Get(ctx, versionKey(e.Name))
	if err != nil {
		return 0, fmt.Errorf("reading version of %s: %w", e.Name, err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing version of %s: %w", e.Name, err)
	}
	return n, nil
}

func (e *Experiment) IncrementVersion(ctx context.Context) (int64, error) {
	n, err := e.store.Incr(ctx, versionKey(e.Name))
	if err != nil {
		return 0, fmt.Errorf("incrementing version of %s: %w", e.Name, err)
	}
	return n, nil
}

// Key returns the assignment key visitors hold for the current version.
func (e *Experiment) Key(ctx context.Context) (string, error) {
	v, err := e.Version(ctx)
	if err != nil {
		return "", err
	}
	return domain.AssignmentKey(e.Name, v), nil
}

// NextAlternative returns the winner if one is declared, else a weighted
// random draw.
func (e *Experiment) NextAlternative(ctx context.Context) (*Alternative, error) {
	w, err := e.Winner(ctx)
	if err != nil {
		return nil, err
	}
	if w != nil {
		return w, nil
	}
	return e.RandomAlternative(), nil
}

// RandomAlternative picks a uniform point in [0, total weight) and returns the
// first alternative whose cumulative weight reaches it. Zero-weight
// alternatives are never picked.
func (e *Experiment) RandomAlternative() *Alternative {
	total := 0.0
	for _, a := range e.alternatives {
		total += a.Weight
	}

	point := e.random() * total
	var last *Alternative
	sum := 0.0
	for _, a := range e.alternatives {
		if a.Weight <= 0 {
			continue
		}
		sum += a.Weight
		last = a
		if sum >= point {
			return a
		}
	}
	// Rounding can leave point just above the final boundary.
	return last
}

// IsNewRecord reports whether the alternative list has not been stored yet.
func (e *Experiment) IsNewRecord(ctx context.Context) (bool, error) {
	exists, err := e.store.Exists(ctx, e.Name)
	if err != nil {
		return false, fmt.Errorf("checking %s: %w", e.Name, err)
	}
	return !exists, nil
}

// Save registers a new experiment: registry entry, start time, alternative
// list and zeroed counters. It does nothing when the list already exists.
func (e *Experiment) Save(ctx context.Context) error {
	isNew, err := e.IsNewRecord(ctx)
	if err != nil {
		return err
	}
	if !isNew {
		return nil
	}

	if err := e.store.SAdd(ctx, experimentsKey, e.Name); err != nil {
		return fmt.Errorf("registering %s: %w", e.Name, err)
	}
	start := e.now().UTC().Format(startTimeLayout)
	if err := e.store.HSet(ctx, startTimesKey, map[string]string{e.Name: start}); err != nil {
		return fmt.Errorf("recording start time of %s: %w", e.Name, err)
	}
	if err := e.store.RPush(ctx, e.Name, e.AlternativeNames()...); err != nil {
		return fmt.Errorf("storing alternatives of %s: %w", e.Name, err)
	}
	for _, a := range e.alternatives {
		if err := a.Save(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Reset zeroes every counter, clears the winner and bumps the version so
// visitors are assigned afresh.
func (e *Experiment) Reset(ctx context.Context) error {
	for _, a := range e.alternatives {
		if err := a.Reset(ctx); err != nil {
			return err
		}
	}
	if err := e.ResetWinner(ctx); err != nil {
		return err
	}
	_, err := e.IncrementVersion(ctx)
	return err
}

// Delete removes the experiment. The version key survives and is bumped, so
// a re-created experiment does not match old assignments.
func (e *Experiment) Delete(ctx context.Context) error {
	for _, a := range e.alternatives {
		if err := a.Delete(ctx); err != nil {
			return err
		}
	}
	if err := e.ResetWinner(ctx); err != nil {
		return err
	}
	if err := e.store.SRem(ctx, experimentsKey, e.Name); err != nil {
		return fmt.Errorf("unregistering %s: %w", e.Name, err)
	}
	if err := e.store.Del(ctx, e.Name); err != nil {
		return fmt.Errorf("deleting alternatives of %s: %w", e.Name, err)
	}
	if err := e.store.HDel(ctx, startTimesKey, e.Name); err != nil {
		return fmt.Errorf("deleting start time of %s: %w", e.Name, err)
	}
	_, err := e.IncrementVersion(ctx)
	return err
}

func (e *Experiment) TotalParticipants(ctx context.Context) (int64, error) {
	var total int64
	for _, a := range e.alternatives {
		n, err := a.ParticipantCount(ctx)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (e *Experiment) TotalCompleted(ctx context.Context) (int64, error) {
	var total int64
	for _, a := range e.alternatives {
		n, err := a.CompletedCount(ctx)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
