package ports

// AssignmentStore is the per-visitor mapping from assignment key to
// alternative name, usually backed by the host application's session.
type AssignmentStore interface {
	Get(key string) (string, bool)
	Set(key, alternative string)
	Delete(key string)
	Keys() []string
}

// OverrideSource yields an explicitly requested alternative for an
// experiment, e.g. from a URL parameter.
type OverrideSource interface {
	Requested(experiment string) (string, bool)
}

// Visitor is the subject of an assignment.
type Visitor struct {
	ID          string
	Addr        string
	Assignments AssignmentStore
	Override    OverrideSource
}

// ExclusionPolicy decides whether a visitor must be kept out of experiments.
type ExclusionPolicy interface {
	IsExcluded(v Visitor) bool
}
