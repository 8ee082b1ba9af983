package domain

import "errors"

var (
	// ErrInvalidExperiment is returned when an experiment is declared with an
	// unusable set of alternatives. It is never converted into a fallback.
	ErrInvalidExperiment = errors.New("invalid experiment definition")

	// ErrStoreUnavailable marks errors caused by an unreachable backing store.
	ErrStoreUnavailable = errors.New("store unavailable")
)
