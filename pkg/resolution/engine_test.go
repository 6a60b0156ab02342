package resolution

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kennylajara/news/pkg/entity"
)

type recorder struct {
	sets        []ChangeSet
	suggestions []Suggestion
	fail        error
}

func (r *recorder) CommitClassification(_ context.Context, cs ChangeSet) error {
	if r.fail != nil {
		return r.fail
	}
	r.sets = append(r.sets, cs)
	return nil
}

func (r *recorder) RecordSuggestion(_ context.Context, s Suggestion) error {
	r.suggestions = append(r.suggestions, s)
	return nil
}

// fixture builds a graph from classifications and (entity, canonical) edges.
func fixture(t *testing.T, classes map[int64]entity.Classification, edges ...[2]int64) (*Engine, *recorder) {
	t.Helper()
	g := NewGraph()
	for id, c := range classes {
		g.Add(entity.Entity{ID: id, Classification: c})
	}
	for _, e := range edges {
		require.True(t, g.AddReference(entity.Reference{EntityID: e[0], CanonicalID: e[1]}))
	}
	require.NoError(t, g.Check())
	rec := &recorder{}
	return NewEngine(g, rec, Options{}), rec
}

func nodeOf(t *testing.T, e *Engine, id int64) Node {
	t.Helper()
	n, ok := e.Node(id)
	require.True(t, ok)
	return n
}

func TestSetAsAlias_MovesEveryDependent(t *testing.T) {
	ctx := context.Background()
	e, rec := fixture(t,
		map[int64]entity.Classification{
			1: entity.Canonical, 2: entity.Canonical, 6: entity.Canonical,
			3: entity.Alias, 4: entity.Alias,
			5: entity.Ambiguous, 7: entity.Ambiguous,
		},
		[2]int64{3, 1}, [2]int64{4, 1},
		[2]int64{5, 1}, [2]int64{5, 6},
		[2]int64{7, 1}, [2]int64{7, 2},
	)

	out, err := e.SetAsAlias(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, entity.Canonical, out.Previous)
	assert.Equal(t, entity.Alias, out.Classification)
	assert.Equal(t, []int64{1, 3, 4, 5, 7}, out.Affected)

	assert.Equal(t, []int64{2}, nodeOf(t, e, 1).References)
	assert.Equal(t, []int64{2}, nodeOf(t, e, 3).References)
	assert.Equal(t, []int64{2}, nodeOf(t, e, 4).References)
	assert.Equal(t, entity.Ambiguous, nodeOf(t, e, 5).Classification)
	assert.Equal(t, []int64{2, 6}, nodeOf(t, e, 5).References)
	// 7 pointed at both, so it collapses to an alias of 2.
	assert.Equal(t, entity.Alias, nodeOf(t, e, 7).Classification)
	assert.Equal(t, []int64{2}, nodeOf(t, e, 7).References)

	assert.Empty(t, e.Referrers(1))
	assert.Equal(t, []int64{1, 3, 4, 5, 7}, e.Referrers(2))
	require.NoError(t, e.Check())

	require.Len(t, rec.sets, 1)
	assert.Equal(t, "set_as_alias", rec.sets[0].Op)
	assert.Len(t, rec.sets[0].Changes, 5)
}

func TestSetAsAmbiguous_MovesDependentsOntoSet(t *testing.T) {
	ctx := context.Background()
	e, _ := fixture(t,
		map[int64]entity.Classification{
			1: entity.Canonical, 2: entity.Canonical, 6: entity.Canonical, 8: entity.Canonical,
			3: entity.Alias, 5: entity.Ambiguous,
		},
		[2]int64{3, 1}, [2]int64{5, 1}, [2]int64{5, 6},
	)

	out, err := e.SetAsAmbiguous(ctx, 1, []int64{8, 2, 2})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 5}, out.Affected)
	assert.Equal(t, []int64{2, 8}, nodeOf(t, e, 1).References)

	assert.Equal(t, entity.Ambiguous, nodeOf(t, e, 3).Classification)
	assert.Equal(t, []int64{2, 8}, nodeOf(t, e, 3).References)
	assert.Equal(t, []int64{2, 6, 8}, nodeOf(t, e, 5).References)
	require.NoError(t, e.Check())
}

func TestSetAsAmbiguous_UnionsPriorReferences(t *testing.T) {
	ctx := context.Background()
	e, _ := fixture(t,
		map[int64]entity.Classification{1: entity.Canonical, 2: entity.Canonical, 3: entity.Alias, 9: entity.Canonical},
		[2]int64{3, 1},
	)

	_, err := e.SetAsAmbiguous(ctx, 3, []int64{2})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, nodeOf(t, e, 3).References)

	// A canonical needs two distinct targets on its own.
	_, err = e.SetAsAmbiguous(ctx, 9, []int64{2, 2})
	assert.ErrorIs(t, err, ErrInvariantViolation)

	// Targets must be canonical.
	_, err = e.SetAsAmbiguous(ctx, 9, []int64{1, 3})
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Equal(t, entity.Canonical, nodeOf(t, e, 9).Classification)
}

func TestSetAsCanonical(t *testing.T) {
	ctx := context.Background()
	e, rec := fixture(t,
		map[int64]entity.Classification{1: entity.Canonical, 3: entity.Alias},
		[2]int64{3, 1},
	)

	_, err := e.SetAsCanonical(ctx, 3)
	var rerr *Error
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, ErrInvariantViolation, rerr.Kind)
	assert.Equal(t, int64(3), rerr.EntityID)

	out, err := e.SetAsCanonical(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, out.Affected)
	assert.Empty(t, rec.sets)
}

func TestSetAsNotEntity_ResettlesDependents(t *testing.T) {
	ctx := context.Background()
	e, _ := fixture(t,
		map[int64]entity.Classification{
			1: entity.Canonical, 2: entity.Canonical, 6: entity.Canonical,
			3: entity.Alias, 5: entity.Ambiguous, 7: entity.Ambiguous,
		},
		[2]int64{3, 1},
		[2]int64{5, 1}, [2]int64{5, 6},
		[2]int64{7, 1}, [2]int64{7, 2}, [2]int64{7, 6},
	)

	out, err := e.SetAsNotEntity(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 5, 7}, out.Affected)

	assert.Equal(t, entity.NotAnEntity, nodeOf(t, e, 1).Classification)
	assert.Equal(t, entity.Canonical, nodeOf(t, e, 3).Classification)
	assert.Empty(t, nodeOf(t, e, 3).References)
	assert.Equal(t, entity.Alias, nodeOf(t, e, 5).Classification)
	assert.Equal(t, []int64{6}, nodeOf(t, e, 5).References)
	assert.Equal(t, []int64{2, 6}, nodeOf(t, e, 7).References)
	require.NoError(t, e.Check())

	// Terminal.
	_, err = e.SetAsAlias(ctx, 1, 2)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	_, err = e.SetAsAlias(ctx, 3, 1)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	_, err = e.SetAsNotEntity(ctx, 1)
	assert.NoError(t, err)
}

func TestIdentityErrors(t *testing.T) {
	ctx := context.Background()
	e, _ := fixture(t, map[int64]entity.Classification{1: entity.Canonical})

	_, err := e.SetAsCanonical(ctx, 0)
	assert.ErrorIs(t, err, ErrIdentity)
	_, err = e.SetAsAlias(ctx, 99, 1)
	assert.ErrorIs(t, err, ErrIdentity)
	_, err = e.SetAsAlias(ctx, 1, 99)
	assert.ErrorIs(t, err, ErrIdentity)
	_, err = e.SetAsAlias(ctx, 1, 1)
	assert.ErrorIs(t, err, ErrInvariantViolation)

	assert.ErrorIs(t, e.Track(entity.Entity{Name: "nuevo"}), ErrIdentity)
	require.NoError(t, e.Track(entity.Entity{ID: 2, Name: "nuevo", Classification: entity.Alias}))
	assert.Equal(t, entity.Canonical, nodeOf(t, e, 2).Classification)
}

func TestCommitFailureLeavesGraphUntouched(t *testing.T) {
	ctx := context.Background()
	e, rec := fixture(t,
		map[int64]entity.Classification{1: entity.Canonical, 2: entity.Canonical, 3: entity.Alias},
		[2]int64{3, 1},
	)
	rec.fail = errors.New("disk full")

	_, err := e.SetAsAlias(ctx, 1, 2)
	require.Error(t, err)
	assert.ErrorIs(t, err, rec.fail)

	assert.Equal(t, entity.Canonical, nodeOf(t, e, 1).Classification)
	assert.Equal(t, []int64{1}, nodeOf(t, e, 3).References)
	assert.Equal(t, []int64{3}, e.Referrers(1))
	require.NoError(t, e.Check())
}

func TestViolationNeverReachesCommitter(t *testing.T) {
	ctx := context.Background()
	e, rec := fixture(t,
		map[int64]entity.Classification{1: entity.Canonical, 3: entity.Alias, 4: entity.Canonical},
		[2]int64{3, 1},
	)
	_, err := e.SetAsAlias(ctx, 4, 3)
	assert.ErrorIs(t, err, ErrInvariantViolation)
	assert.Empty(t, rec.sets)
}

func TestApply_LowConfidenceIsSuggested(t *testing.T) {
	ctx := context.Background()
	e, rec := fixture(t, map[int64]entity.Classification{1: entity.Canonical, 2: entity.Canonical})

	out, err := e.Apply(ctx, 1, Decision{Action: ActionAlias, Targets: []int64{2}, Confidence: 0.4, Source: SourceLLM})
	require.NoError(t, err)
	assert.True(t, out.Suggested)
	assert.False(t, out.Applied)
	assert.Equal(t, entity.Canonical, nodeOf(t, e, 1).Classification)
	assert.Empty(t, rec.sets)
	require.Len(t, rec.suggestions, 1)
	assert.Equal(t, int64(1), rec.suggestions[0].EntityID)
}

func TestApply_NoneOnlyMarksReviewed(t *testing.T) {
	ctx := context.Background()
	e, rec := fixture(t, map[int64]entity.Classification{1: entity.Canonical})

	out, err := e.Apply(ctx, 1, NoMatch(SourceRules, "nothing similar"))
	require.NoError(t, err)
	assert.Empty(t, out.Affected)
	require.Len(t, rec.sets, 1)
	require.Len(t, rec.sets[0].Changes, 1)
	assert.True(t, rec.sets[0].Changes[0].Reviewed)
	assert.False(t, rec.sets[0].Changes[0].Reclassified)
}

func TestApply_AliasNeedsOneTarget(t *testing.T) {
	e, _ := fixture(t, map[int64]entity.Classification{1: entity.Canonical, 2: entity.Canonical, 3: entity.Canonical})
	_, err := e.Apply(context.Background(), 1, Decision{Action: ActionAlias, Targets: []int64{2, 3}, Confidence: 1})
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestClassify_InitialsBecomeAlias(t *testing.T) {
	// "JCE" (1) against "Junta Central Electoral" (2).
	e, _ := fixture(t, map[int64]entity.Classification{1: entity.Canonical, 2: entity.Canonical})

	out, err := e.Classify(context.Background(), 1, 2, RulePolicy{})
	require.NoError(t, err)
	assert.Equal(t, entity.Alias, out.Classification)
	assert.Equal(t, []int64{2}, nodeOf(t, e, 1).References)
}

func TestClassify_AliasMeetsNewCanonical(t *testing.T) {
	// "RD" (3) is an alias of "República Dominicana" (1); the candidate is
	// "República Dominicana Estado" (2).
	e, _ := fixture(t,
		map[int64]entity.Classification{1: entity.Canonical, 2: entity.Canonical, 3: entity.Alias},
		[2]int64{3, 1},
	)

	out, err := e.Classify(context.Background(), 3, 2, RulePolicy{})
	require.NoError(t, err)
	assert.Equal(t, entity.Ambiguous, out.Classification)
	assert.Equal(t, []int64{1, 2}, nodeOf(t, e, 3).References)
}

func TestReview_AppliesInOrder(t *testing.T) {
	ctx := context.Background()
	e, rec := fixture(t,
		map[int64]entity.Classification{1: entity.Canonical, 2: entity.Canonical, 4: entity.Canonical, 5: entity.Alias},
		[2]int64{5, 4},
	)

	res, err := e.Review(ctx, 1, []int64{2, 99, 5, 2}, RulePolicy{})
	require.NoError(t, err)
	assert.Equal(t, entity.Ambiguous, res.Classification)
	assert.Len(t, res.Outcomes, 2)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, []int64{2, 4}, nodeOf(t, e, 1).References)

	last := rec.sets[len(rec.sets)-1]
	assert.Equal(t, "mark_reviewed", last.Op)
}

func TestInvariantsHoldUnderRandomOperations(t *testing.T) {
	ctx := context.Background()
	classes := make(map[int64]entity.Classification)
	for id := int64(1); id <= 12; id++ {
		classes[id] = entity.Canonical
	}
	e, _ := fixture(t, classes)
	r := rand.New(rand.NewPCG(42, 7))
	pick := func() int64 { return 1 + r.Int64N(12) }

	for range 500 {
		id := pick()
		var err error
		switch r.IntN(5) {
		case 0:
			_, err = e.SetAsAlias(ctx, id, pick())
		case 1:
			_, err = e.SetAsAmbiguous(ctx, id, []int64{pick(), pick()})
		case 2:
			_, err = e.SetAsCanonical(ctx, id)
		case 3:
			if r.IntN(10) == 0 {
				_, err = e.SetAsNotEntity(ctx, id)
			}
		case 4:
			_, err = e.Classify(ctx, id, pick(), RulePolicy{})
		}
		if err != nil {
			require.True(t, errors.Is(err, ErrInvariantViolation) || errors.Is(err, ErrIdentity), err.Error())
		}
		require.NoError(t, e.Check())
	}
}
