package localsearch

import (
	"context"
	"testing"
	"time"

	"github.com/jjhbw/feaspump/cutpool"
	"github.com/jjhbw/feaspump/model"
	"github.com/jjhbw/feaspump/solver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func binary() model.Variable { return model.Variable{Kind: model.Binary, Lower: 0, Upper: 1} }

// assignmentModel is a single cardinality row over three binaries (exactly
// one is 1).
func assignmentModel() *model.Model {
	return &model.Model{
		Variables: []model.Variable{binary(), binary(), binary()},
		Rows: []model.Row{
			{Terms: []model.Term{{Var: 0, Coef: 1}, {Var: 1, Coef: 1}, {Var: 2, Coef: 1}}, Sense: model.EQ, RHS: 1},
		},
	}
}

// atLeastTwoModel requires at least two of three binaries to be 1.
func atLeastTwoModel() *model.Model {
	return &model.Model{
		Variables: []model.Variable{binary(), binary(), binary()},
		Rows: []model.Row{
			{Terms: []model.Term{{Var: 0, Coef: 1}, {Var: 1, Coef: 1}, {Var: 2, Coef: 1}}, Sense: model.GE, RHS: 2},
		},
	}
}

// inconsistentModel has an LP-feasible (x0=x1=0.5) but integer-infeasible
// relaxation: equivalence forces x0==x1, cardinality forces their sum to 1.
func inconsistentModel() *model.Model {
	return &model.Model{
		Variables: []model.Variable{binary(), binary()},
		Rows: []model.Row{
			{Terms: []model.Term{{Var: 0, Coef: 1}, {Var: 1, Coef: -1}}, Sense: model.EQ, RHS: 0},
			{Terms: []model.Term{{Var: 0, Coef: 1}, {Var: 1, Coef: 1}}, Sense: model.EQ, RHS: 1},
		},
	}
}

func zeroDuals(n int) []float64 { return make([]float64, n) }

func TestBuildImportantConstraints_AllKeepsEveryRow(t *testing.T) {
	m := assignmentModel()
	s := NewSearcher(m, All, zeroDuals(1), []float64{0.3}, cutpool.New(len(m.Variables)))
	for _, j := range m.BinaryIndices() {
		assert.Equal(t, []int{0}, s.important[j])
	}
}

func TestBuildImportantConstraints_ZeroDualsDowngradesToSlackFilter(t *testing.T) {
	m := &model.Model{
		Variables: []model.Variable{binary(), binary()},
		Rows: []model.Row{
			{Terms: []model.Term{{Var: 0, Coef: 1}}, Sense: model.LE, RHS: 1}, // tight at x0=1: slack 0
			{Terms: []model.Term{{Var: 1, Coef: 1}}, Sense: model.LE, RHS: 5}, // slack 4 at x1=1
		},
	}
	duals := zeroDuals(2)
	slacks := []float64{0, 4}

	s := NewSearcher(m, OnlyNonzeroDuals, duals, slacks, cutpool.New(len(m.Variables)))
	// All duals are zero: OnlyNonzeroDuals downgrades to
	// NonzeroDualsOrZeroSlacks, which keeps only the tight (slack ~ 0)
	// row 0. Variable 1 only appears in the slack-4 row, so it gets no
	// important constraints at all.
	assert.Equal(t, []int{0}, s.important[0])
	assert.Nil(t, s.important[1])
}

func TestSearch_ConsensusFixAgreesWithConstraint(t *testing.T) {
	m := assignmentModel()
	s := NewSearcher(m, All, zeroDuals(len(m.Rows)), ComputeSlacks(m, []float64{1, 0, 0}), cutpool.New(len(m.Variables)))

	base := solver.New(m)
	slice := [][]float64{{1, 0, 0}, {1, 0, 0}, {1, 0, 0}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res := s.Search(ctx, base, slice, Params{Discrepancy: 0.1, UnfixLevel: 1, Budget: 5 * time.Second})

	require.Equal(t, solver.StatusFeasible, res.Status)
	assert.InDelta(t, 1.0, res.Values[0], 1e-6)
	assert.InDelta(t, 0.0, res.Values[1], 1e-6)
	assert.InDelta(t, 0.0, res.Values[2], 1e-6)
	assert.Equal(t, 0, res.CutsAdded)
}

func TestSearch_ConsensusFixViolatesGEAndUnfixesHelpfulZeros(t *testing.T) {
	m := atLeastTwoModel()
	pool := cutpool.New(len(m.Variables))
	s := NewSearcher(m, All, zeroDuals(len(m.Rows)), ComputeSlacks(m, []float64{0, 0, 0}), pool)

	base := solver.New(m)
	// Every chromosome rounds every binary to 0: consensus fix pins all
	// three to 0 (f=0 < delta), which immediately violates "at least two
	// must be 1". Each fixed-to-0 variable has a positive coefficient in
	// a >= row, so all three satisfy the "helpful" side condition and are
	// unfixed again; the closing MILP solve then finds a point with two
	// ones over the now-unconstrained model.
	slice := [][]float64{{0, 0, 0}, {0, 0, 0}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res := s.Search(ctx, base, slice, Params{Discrepancy: 0.1, UnfixLevel: 1, Budget: 5 * time.Second})

	require.Equal(t, solver.StatusFeasible, res.Status)
	ones := 0
	for _, v := range res.Values {
		if v > 0.5 {
			ones++
		}
	}
	assert.GreaterOrEqual(t, ones, 2)
}

func TestSearch_InherentlyInfeasibleModelExpandsAndStaysInfeasible(t *testing.T) {
	m := inconsistentModel()
	pool := cutpool.New(len(m.Variables))
	s := NewSearcher(m, All, zeroDuals(len(m.Rows)), ComputeSlacks(m, []float64{0.5, 0.5}), pool)

	base := solver.New(m)
	// Both chromosomes agree x0=x1=1, which Phase 1 fixes by consensus;
	// Phase 2's scan finds the cardinality row (x0+x1=1) violated by
	// fixedContribution=2, emits a no-good cut over {0,1}, and (EQ)
	// unfixes both variables unconditionally. With every fixing undone,
	// the closing MILP solve hits the model's own inherent conflict
	// (x0==x1 vs x0+x1==1) and reports infeasible; Phase 4 has nothing
	// left to cut (fixed is empty) and the BFS expansion is a no-op, so
	// the second solve is infeasible too.
	slice := [][]float64{{1, 1}, {1, 1}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res := s.Search(ctx, base, slice, Params{Discrepancy: 0.1, UnfixLevel: 2, Budget: 5 * time.Second})

	assert.Equal(t, solver.StatusInfeasible, res.Status)
	assert.Equal(t, 1, pool.Len())
}

// uniquePointModel has exactly one feasible point, (1,0,1,0,1,0): three
// "exactly one of each pair" rows, chained equivalences tying the even
// bits together, and a cardinality row forcing all three even bits to 1.
func uniquePointModel() *model.Model {
	return &model.Model{
		Variables: []model.Variable{binary(), binary(), binary(), binary(), binary(), binary()},
		Rows: []model.Row{
			{Terms: []model.Term{{Var: 0, Coef: 1}, {Var: 1, Coef: 1}}, Sense: model.EQ, RHS: 1},
			{Terms: []model.Term{{Var: 2, Coef: 1}, {Var: 3, Coef: 1}}, Sense: model.EQ, RHS: 1},
			{Terms: []model.Term{{Var: 4, Coef: 1}, {Var: 5, Coef: 1}}, Sense: model.EQ, RHS: 1},
			{Terms: []model.Term{{Var: 0, Coef: 1}, {Var: 2, Coef: -1}}, Sense: model.EQ, RHS: 0},
			{Terms: []model.Term{{Var: 2, Coef: 1}, {Var: 4, Coef: -1}}, Sense: model.EQ, RHS: 0},
			{Terms: []model.Term{{Var: 0, Coef: 1}, {Var: 2, Coef: 1}, {Var: 4, Coef: 1}}, Sense: model.EQ, RHS: 3},
		},
	}
}

func TestSearch_FourAgreedBitsTwoFreeBitsReachTheUniquePoint(t *testing.T) {
	// The slice agrees on the first four bits of the unique feasible
	// point and splits 50/50 on the last two; with Discrepancy = 0 only
	// unanimous bits are fixed, the two contested bits stay free, and the
	// MILP solve completes them. Unfix levels do not matter here because
	// no consensus bit is wrong.
	m := uniquePointModel()
	for _, unfixLevel := range []int{0, 1} {
		pool := cutpool.New(len(m.Variables))
		s := NewSearcher(m, All, zeroDuals(len(m.Rows)), ComputeSlacks(m, []float64{1, 0, 1, 0, 1, 0}), pool)

		base := solver.New(m)
		slice := [][]float64{
			{1, 0, 1, 0, 1, 0},
			{1, 0, 1, 0, 0, 1},
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		res := s.Search(ctx, base, slice, Params{Discrepancy: 0, UnfixLevel: unfixLevel, Budget: 5 * time.Second})
		cancel()

		require.Equal(t, solver.StatusFeasible, res.Status, "unfix level %d", unfixLevel)
		assert.InDeltaSlice(t, []float64{1, 0, 1, 0, 1, 0}, res.Values, 1e-6, "unfix level %d", unfixLevel)
	}
}

func TestSearch_EmptySliceSkipsConsensusFix(t *testing.T) {
	m := assignmentModel()
	s := NewSearcher(m, All, zeroDuals(len(m.Rows)), ComputeSlacks(m, []float64{1, 0, 0}), cutpool.New(len(m.Variables)))

	base := solver.New(m)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res := s.Search(ctx, base, nil, Params{Discrepancy: 0.1, UnfixLevel: 1, Budget: 5 * time.Second})

	require.Equal(t, solver.StatusFeasible, res.Status)
	sum := res.Values[0] + res.Values[1] + res.Values[2]
	assert.InDelta(t, 1.0, sum, 1e-6)
}
