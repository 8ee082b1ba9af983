package split

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emiliopalmerini/msplit/internal/domain"
	"github.com/emiliopalmerini/msplit/internal/policy"
	"github.com/emiliopalmerini/msplit/internal/ports"
)

var linkColor = domain.Alts("blue", "red")

// recordingMetrics counts exported events by kind.
type recordingMetrics struct {
	mu     sync.Mutex
	events []string
}

func (m *recordingMetrics) record(kind, experiment, detail string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, fmt.Sprintf("%s %s %s", kind, experiment, detail))
}

func (m *recordingMetrics) RecordParticipation(_ context.Context, experiment, alternative string) {
	m.record("participation", experiment, alternative)
}

func (m *recordingMetrics) RecordCompletion(_ context.Context, experiment, alternative string) {
	m.record("completion", experiment, alternative)
}

func (m *recordingMetrics) RecordFailover(_ context.Context, experiment, operation string) {
	m.record("failover", experiment, operation)
}

func (m *recordingMetrics) Close(context.Context) error { return nil }

func totalParticipants(t *testing.T, repo *Repository, name string) int64 {
	t.Helper()
	exp, err := repo.Find(context.Background(), name)
	require.NoError(t, err)
	require.NotNil(t, exp)
	n, err := exp.TotalParticipants(context.Background())
	require.NoError(t, err)
	return n
}

func counts(t *testing.T, repo *Repository, experiment, alternative string) domain.Counts {
	t.Helper()
	c, err := NewAlternative(repo.Store(), experiment, domain.Alt(alternative)).Counts(context.Background())
	require.NoError(t, err)
	return c
}

func TestEngine_AssignCompleteScenario(t *testing.T) {
	ctx := context.Background()
	repo, _ := testRepo(t, nil)
	metrics := &recordingMetrics{}
	engine := NewEngine(repo, WithMetrics(metrics))
	visitor := newVisitor("A")

	first, err := engine.Assign(ctx, visitor, "link_color", linkColor...)
	require.NoError(t, err)
	assert.Contains(t, []string{"blue", "red"}, first)
	assert.Equal(t, int64(1), counts(t, repo, "link_color", first).Participants)

	second, err := engine.Assign(ctx, visitor, "link_color", linkColor...)
	require.NoError(t, err)
	assert.Equal(t, first, second, "assignment is sticky")
	assert.Equal(t, int64(1), counts(t, repo, "link_color", first).Participants)

	require.NoError(t, engine.RecordCompletion(ctx, visitor, "link_color"))
	c := counts(t, repo, "link_color", first)
	assert.Equal(t, int64(1), c.Completed)
	assert.Equal(t, 1.0, c.ConversionRate())

	_, held := visitor.Assignments.Get("link_color")
	assert.False(t, held, "completion clears the assignment by default")

	assert.Equal(t, []string{
		"participation link_color " + first,
		"completion link_color " + first,
	}, metrics.events)
}

func TestEngine_ParticipantsGrowByOnePerNewVisitor(t *testing.T) {
	ctx := context.Background()
	repo, _ := testRepo(t, nil)
	engine := NewEngine(repo)

	visitors := make([]ports.Visitor, 25)
	for i := range visitors {
		visitors[i] = newVisitor(fmt.Sprintf("v%d", i))
	}

	for i, v := range visitors {
		_, err := engine.Assign(ctx, v, "link_color", linkColor...)
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), totalParticipants(t, repo, "link_color"))
	}
	for _, v := range visitors {
		_, err := engine.Assign(ctx, v, "link_color", linkColor...)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(len(visitors)), totalParticipants(t, repo, "link_color"))
}

func TestEngine_ConcurrentVisitorsLoseNoCounts(t *testing.T) {
	ctx := context.Background()
	repo, _ := testRepo(t, nil)
	engine := NewEngine(repo)

	// Create the experiment up front so workers never race a structural change.
	_, err := repo.FindOrCreate(ctx, "link_color", linkColor...)
	require.NoError(t, err)

	const visitors = 200
	var wg sync.WaitGroup
	for i := range visitors {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := newVisitor(fmt.Sprintf("v%d", i))
			_, err := engine.Assign(ctx, v, "link_color", linkColor...)
			assert.NoError(t, err)
			assert.NoError(t, engine.RecordCompletion(ctx, v, "link_color"))
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(visitors), totalParticipants(t, repo, "link_color"))
	exp, err := repo.Find(ctx, "link_color")
	require.NoError(t, err)
	completed, err := exp.TotalCompleted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(visitors), completed)
}

func TestEngine_InvalidDefinition(t *testing.T) {
	repo, store := testRepo(t, nil)
	require.NoError(t, store.Close())
	engine := NewEngine(repo, WithFailover(true))

	_, err := engine.Assign(context.Background(), newVisitor("A"), "link_color", domain.Alt("blue"))
	assert.ErrorIs(t, err, domain.ErrInvalidExperiment, "invalid definitions are reported even with failover")
}

func TestEngine_NonFiniteWeightRejected(t *testing.T) {
	ctx := context.Background()
	repo, store := testRepo(t, nil)
	engine := NewEngine(repo)

	for _, w := range []float64{math.NaN(), math.Inf(1)} {
		_, err := engine.Assign(ctx, newVisitor("A"), "link_color", domain.Weighted("blue", w), domain.Alt("red"))
		assert.ErrorIs(t, err, domain.ErrInvalidExperiment)
	}

	exists, err := store.Exists(ctx, "link_color")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEngine_Winner(t *testing.T) {
	ctx := context.Background()
	repo, _ := testRepo(t, nil)
	engine := NewEngine(repo)

	exp, err := repo.FindOrCreate(ctx, "link_color", linkColor...)
	require.NoError(t, err)
	require.NoError(t, exp.SetWinner(ctx, "red"))

	for i := range 10 {
		v := newVisitor(fmt.Sprintf("v%d", i))
		alt, err := engine.Assign(ctx, v, "link_color", linkColor...)
		require.NoError(t, err)
		assert.Equal(t, "red", alt)
		assert.Empty(t, v.Assignments.Keys(), "winner assignments are not stored")
	}

	assert.Zero(t, totalParticipants(t, repo, "link_color"))
}

func TestEngine_Override(t *testing.T) {
	ctx := context.Background()
	repo, _ := testRepo(t, fixed(0))
	engine := NewEngine(repo)

	v := newVisitor("A")
	v.Override = Overrides{"link_color": "red"}
	alt, err := engine.Assign(ctx, v, "link_color", linkColor...)
	require.NoError(t, err)
	assert.Equal(t, "red", alt)
	assert.Empty(t, v.Assignments.Keys())
	assert.Zero(t, totalParticipants(t, repo, "link_color"))

	v.Override = Overrides{"link_color": "purple"}
	alt, err = engine.Assign(ctx, v, "link_color", linkColor...)
	require.NoError(t, err)
	assert.Equal(t, "blue", alt, "an unknown override falls through to a normal draw")
	assert.Equal(t, int64(1), totalParticipants(t, repo, "link_color"))
}

func TestEngine_ResetGivesFreshAssignment(t *testing.T) {
	ctx := context.Background()
	repo, _ := testRepo(t, fixed(0))
	engine := NewEngine(repo)
	visitor := newVisitor("A")

	alt, err := engine.Assign(ctx, visitor, "link_color", linkColor...)
	require.NoError(t, err)
	assert.Equal(t, "blue", alt)

	exp, err := repo.Find(ctx, "link_color")
	require.NoError(t, err)
	require.NoError(t, exp.Alternative("blue").SetParticipantCount(ctx, 5))
	require.NoError(t, exp.Reset(ctx))
	assert.Zero(t, counts(t, repo, "link_color", "blue").Participants)

	alt, err = engine.Assign(ctx, visitor, "link_color", linkColor...)
	require.NoError(t, err)
	assert.Equal(t, "blue", alt)
	assert.Equal(t, []string{"link_color:1"}, visitor.Assignments.Keys(), "the stale key is purged")
	assert.Equal(t, int64(1), counts(t, repo, "link_color", "blue").Participants, "counted again under the new version")
}

func TestEngine_StructuralChangeGivesFreshAssignment(t *testing.T) {
	ctx := context.Background()
	repo, _ := testRepo(t, fixed(0.99))
	engine := NewEngine(repo)
	visitor := newVisitor("A")

	alt, err := engine.Assign(ctx, visitor, "link_color", linkColor...)
	require.NoError(t, err)
	assert.Equal(t, "red", alt)

	alt, err = engine.Assign(ctx, visitor, "link_color", domain.Alts("blue", "green")...)
	require.NoError(t, err)
	assert.Equal(t, "green", alt)
	assert.Equal(t, []string{"link_color:1"}, visitor.Assignments.Keys())
}

func TestEngine_PurgeLeavesOtherExperiments(t *testing.T) {
	ctx := context.Background()
	repo, _ := testRepo(t, nil)
	engine := NewEngine(repo, WithAllowMultiple(true))
	visitor := newVisitor("A")
	visitor.Assignments.Set("link_color_v2", "x")
	visitor.Assignments.Set("link_color:blue", "x")

	_, err := engine.Assign(ctx, visitor, "link_color", linkColor...)
	require.NoError(t, err)

	keys := visitor.Assignments.Keys()
	assert.Contains(t, keys, "link_color_v2")
	assert.Contains(t, keys, "link_color:blue")
	assert.Contains(t, keys, "link_color")
}

func TestEngine_MultipleExperiments(t *testing.T) {
	ctx := context.Background()

	t.Run("disallowed", func(t *testing.T) {
		repo, _ := testRepo(t, fixed(0.99))
		engine := NewEngine(repo)
		visitor := newVisitor("A")

		_, err := engine.Assign(ctx, visitor, "link_color", linkColor...)
		require.NoError(t, err)

		alt, err := engine.Assign(ctx, visitor, "button_size", domain.Alts("small", "big")...)
		require.NoError(t, err)
		assert.Equal(t, "small", alt, "second experiment shows the control")
		assert.Equal(t, []string{"link_color"}, visitor.Assignments.Keys())
		assert.Zero(t, totalParticipants(t, repo, "button_size"))
	})

	t.Run("allowed", func(t *testing.T) {
		repo, _ := testRepo(t, fixed(0.99))
		engine := NewEngine(repo, WithAllowMultiple(true))
		visitor := newVisitor("A")

		_, err := engine.Assign(ctx, visitor, "link_color", linkColor...)
		require.NoError(t, err)

		alt, err := engine.Assign(ctx, visitor, "button_size", domain.Alts("small", "big")...)
		require.NoError(t, err)
		assert.Equal(t, "big", alt)
		assert.Equal(t, []string{"button_size", "link_color"}, visitor.Assignments.Keys())
	})
}

func TestEngine_ExcludedVisitor(t *testing.T) {
	ctx := context.Background()
	repo, _ := testRepo(t, fixed(0.99))
	engine := NewEngine(repo, WithExclusionPolicy(policy.NewIgnoredAddresses("10.0.0.1")))

	v := newVisitor("A")
	v.Addr = "10.0.0.1"

	alt, err := engine.Assign(ctx, v, "link_color", linkColor...)
	require.NoError(t, err)
	assert.Equal(t, "blue", alt)
	assert.Empty(t, v.Assignments.Keys())
	assert.Zero(t, totalParticipants(t, repo, "link_color"))

	v.Assignments.Set("link_color", "red")
	require.NoError(t, engine.RecordCompletion(ctx, v, "link_color"))
	assert.Zero(t, counts(t, repo, "link_color", "red").Completed)
}

func TestEngine_CompletionNoOps(t *testing.T) {
	ctx := context.Background()
	repo, _ := testRepo(t, nil)
	engine := NewEngine(repo)

	require.NoError(t, engine.RecordCompletion(ctx, newVisitor("A"), "unknown"))

	_, err := repo.FindOrCreate(ctx, "link_color", linkColor...)
	require.NoError(t, err)
	require.NoError(t, engine.RecordCompletion(ctx, newVisitor("B"), "link_color"))

	exp, err := repo.Find(ctx, "link_color")
	require.NoError(t, err)
	completed, err := exp.TotalCompleted(ctx)
	require.NoError(t, err)
	assert.Zero(t, completed)

	require.NoError(t, engine.RecordCompletion(ctx, ports.Visitor{ID: "C"}, "link_color"))
}

func TestEngine_CompletionWithVersionedKey(t *testing.T) {
	ctx := context.Background()
	repo, _ := testRepo(t, fixed(0))
	engine := NewEngine(repo)
	visitor := newVisitor("A")

	alt, err := engine.Assign(ctx, visitor, "link_color:2", linkColor...)
	require.NoError(t, err)
	require.NoError(t, engine.RecordCompletion(ctx, visitor, "link_color:2"))

	assert.Equal(t, int64(1), counts(t, repo, "link_color", alt).Completed)
	_, ok := visitor.Assignments.Get("link_color")
	assert.False(t, ok)
}

func TestEngine_CompletionKeepAssignment(t *testing.T) {
	ctx := context.Background()
	repo, _ := testRepo(t, fixed(0))
	engine := NewEngine(repo)
	visitor := newVisitor("A")

	_, err := engine.Assign(ctx, visitor, "link_color", linkColor...)
	require.NoError(t, err)

	require.NoError(t, engine.RecordCompletion(ctx, visitor, "link_color", KeepAssignment()))
	require.NoError(t, engine.RecordCompletion(ctx, visitor, "link_color", KeepAssignment()))

	assert.Equal(t, int64(2), counts(t, repo, "link_color", "blue").Completed, "kept assignments double count")
	alt, ok := visitor.Assignments.Get("link_color")
	assert.True(t, ok)
	assert.Equal(t, "blue", alt)
}

func TestEngine_CompletionAfterResetClearsStale(t *testing.T) {
	ctx := context.Background()
	repo, _ := testRepo(t, fixed(0))
	engine := NewEngine(repo)
	visitor := newVisitor("A")

	_, err := engine.Assign(ctx, visitor, "link_color", linkColor...)
	require.NoError(t, err)
	exp, err := repo.Find(ctx, "link_color")
	require.NoError(t, err)
	require.NoError(t, exp.Reset(ctx))

	require.NoError(t, engine.RecordCompletion(ctx, visitor, "link_color"))
	assert.Zero(t, counts(t, repo, "link_color", "blue").Completed, "old-version assignments do not convert")
}

func TestEngine_StoreUnavailable(t *testing.T) {
	ctx := context.Background()

	t.Run("propagates without failover", func(t *testing.T) {
		repo, store := testRepo(t, nil)
		require.NoError(t, store.Close())
		engine := NewEngine(repo)

		_, err := engine.Assign(ctx, newVisitor("A"), "link_color", linkColor...)
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

		v := newVisitor("A")
		v.Assignments.Set("link_color", "blue")
		err = engine.RecordCompletion(ctx, v, "link_color")
		assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
	})

	t.Run("fails over to the first alternative", func(t *testing.T) {
		repo, store := testRepo(t, nil)
		require.NoError(t, store.Close())

		var observed []error
		metrics := &recordingMetrics{}
		engine := NewEngine(repo,
			WithFailover(true),
			WithMetrics(metrics),
			WithErrorObserver(func(err error) { observed = append(observed, err) }),
		)

		v := newVisitor("A")
		alt, err := engine.Assign(ctx, v, "link_color", domain.Alts("red", "blue")...)
		require.NoError(t, err)
		assert.Equal(t, "red", alt)
		assert.Empty(t, v.Assignments.Keys())

		v.Assignments.Set("link_color", "red")
		require.NoError(t, engine.RecordCompletion(ctx, v, "link_color"))

		require.Len(t, observed, 2)
		for _, err := range observed {
			assert.True(t, errors.Is(err, domain.ErrStoreUnavailable))
		}
		assert.Equal(t, []string{
			"failover link_color assign",
			"failover link_color complete",
		}, metrics.events)
	})

	t.Run("observer panics are contained", func(t *testing.T) {
		repo, store := testRepo(t, nil)
		require.NoError(t, store.Close())
		engine := NewEngine(repo,
			WithFailover(true),
			WithErrorObserver(func(error) { panic("observer bug") }),
		)

		alt, err := engine.Assign(ctx, newVisitor("A"), "link_color", linkColor...)
		require.NoError(t, err)
		assert.Equal(t, "blue", alt)
	})
}

func TestEngine_NilAssignments(t *testing.T) {
	repo, _ := testRepo(t, nil)
	engine := NewEngine(repo)

	alt, err := engine.Assign(context.Background(), ports.Visitor{ID: "A"}, "link_color", linkColor...)
	require.NoError(t, err)
	assert.Contains(t, []string{"blue", "red"}, alt)
}
