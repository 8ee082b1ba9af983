package split

import (
	"testing"
	"time"

	"github.com/emiliopalmerini/msplit/internal/adapters/memory"
	"github.com/emiliopalmerini/msplit/internal/ports"
)

var testStart = time.Date(2024, 3, 1, 9, 30, 15, 0, time.UTC)

// testRepo returns a repository on a fresh memory store with a pinned clock.
// random, when non-nil, replaces the uniform source.
func testRepo(t *testing.T, random func() float64) (*Repository, *memory.Store) {
	t.Helper()

	store := memory.NewStore()
	opts := []RepositoryOption{WithClock(func() time.Time { return testStart })}
	if random != nil {
		opts = append(opts, WithRandom(random))
	}
	return NewRepository(store, opts...), store
}

func fixed(v float64) func() float64 {
	return func() float64 { return v }
}

func newVisitor(id string) ports.Visitor {
	return ports.Visitor{ID: id, Assignments: NewSession()}
}
