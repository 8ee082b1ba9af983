package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// DefaultWeight is the weight of an alternative declared by name only.
const DefaultWeight = 1.0

// reservedAlternativeName collides with the "<experiment>:version" counter key.
const reservedAlternativeName = "version"

// AlternativeSpec declares one alternative of an experiment.
type AlternativeSpec struct {
	Name   string
	Weight float64
}

// Alt declares an alternative with the default weight.
func Alt(name string) AlternativeSpec {
	return AlternativeSpec{Name: name, Weight: DefaultWeight}
}

// Weighted declares an alternative with an explicit weight.
func Weighted(name string, weight float64) AlternativeSpec {
	return AlternativeSpec{Name: name, Weight: weight}
}

// Alts declares alternatives with the default weight, in order.
func Alts(names ...string) []AlternativeSpec {
	specs := make([]AlternativeSpec, len(names))
	for i, n := range names {
		specs[i] = Alt(n)
	}
	return specs
}

// ParseAlternativeSpec parses "name" or "name:weight".
func ParseAlternativeSpec(s string) (AlternativeSpec, error) {
	name, weightStr, found := strings.Cut(s, ":")
	if !found {
		return Alt(s), nil
	}
	weight, err := strconv.ParseFloat(weightStr, 64)
	if err != nil || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return AlternativeSpec{}, fmt.Errorf("%w: bad weight %q for %q", ErrInvalidExperiment, weightStr, name)
	}
	return Weighted(name, weight), nil
}

// ParseAlternativeSpecs parses every argument with ParseAlternativeSpec.
func ParseAlternativeSpecs(args []string) ([]AlternativeSpec, error) {
	specs := make([]AlternativeSpec, 0, len(args))
	for _, a := range args {
		spec, err := ParseAlternativeSpec(a)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// ValidateAlternatives checks that specs can form an experiment: at least two
// alternatives, unique non-empty names, finite non-negative weights summing to
// more than zero.
func ValidateAlternatives(specs []AlternativeSpec) error {
	if len(specs) < 2 {
		return fmt.Errorf("%w: you must declare at least 2 alternatives", ErrInvalidExperiment)
	}

	seen := make(map[string]bool, len(specs))
	total := 0.0
	for _, s := range specs {
		switch {
		case s.Name == "":
			return fmt.Errorf("%w: alternative name is empty", ErrInvalidExperiment)
		case s.Name == reservedAlternativeName:
			return fmt.Errorf("%w: %q is a reserved alternative name", ErrInvalidExperiment, s.Name)
		case seen[s.Name]:
			return fmt.Errorf("%w: duplicate alternative %q", ErrInvalidExperiment, s.Name)
		case math.IsNaN(s.Weight) || math.IsInf(s.Weight, 0):
			return fmt.Errorf("%w: alternative %q has a non-finite weight", ErrInvalidExperiment, s.Name)
		case s.Weight < 0:
			return fmt.Errorf("%w: alternative %q has negative weight", ErrInvalidExperiment, s.Name)
		}
		seen[s.Name] = true
		total += s.Weight
	}

	if total <= 0 {
		return fmt.Errorf("%w: total weight must be positive", ErrInvalidExperiment)
	}
	return nil
}

// SpecNames returns the alternative names of specs, in order.
func SpecNames(specs []AlternativeSpec) []string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}

// ExperimentName returns the experiment name of a key, dropping any ":<version>"
// suffix.
func ExperimentName(key string) string {
	name, _, _ := strings.Cut(key, ":")
	return name
}

// AssignmentKey returns the per-visitor key of an experiment at a version.
func AssignmentKey(name string, version int64) string {
	if version > 0 {
		return fmt.Sprintf("%s:%d", name, version)
	}
	return name
}

// IsAssignmentKeyFor reports whether key is an assignment key of the named
// experiment at any version.
func IsAssignmentKeyFor(key, name string) bool {
	if key == name {
		return true
	}
	rest, ok := strings.CutPrefix(key, name+":")
	if !ok || rest == "" {
		return false
	}
	_, err := strconv.ParseInt(rest, 10, 64)
	return err == nil
}
