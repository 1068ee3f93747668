package solver

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/jjhbw/feaspump/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSolveLP_SimplexExample(t *testing.T) {
	// Minimize Z = -1x1 + -2x2 + 0x3 + 0x4
	// Subject to:
	//   -1x1 + 2x2 + 1x3 + 0x4 = 4
	//    3x1 + 1x2 + 0x3 + 1x4 = 9
	m := &model.Model{
		Variables: []model.Variable{
			{Kind: model.Continuous, Lower: 0, Upper: math.Inf(1), Obj: -1},
			{Kind: model.Continuous, Lower: 0, Upper: math.Inf(1), Obj: -2},
			{Kind: model.Continuous, Lower: 0, Upper: math.Inf(1), Obj: 0},
			{Kind: model.Continuous, Lower: 0, Upper: math.Inf(1), Obj: 0},
		},
		Rows: []model.Row{
			{Terms: []model.Term{{Var: 0, Coef: -1}, {Var: 1, Coef: 2}, {Var: 2, Coef: 1}}, Sense: model.EQ, RHS: 4},
			{Terms: []model.Term{{Var: 0, Coef: 3}, {Var: 1, Coef: 1}, {Var: 3, Coef: 1}}, Sense: model.EQ, RHS: 9},
		},
	}

	s := New(m)
	status, err := s.SolveLP()
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, status)
	assert.InDelta(t, -8, s.LastObjective(), 1e-6)
	assert.InDelta(t, 2, s.Primal()[0], 1e-6)
	assert.InDelta(t, 3, s.Primal()[1], 1e-6)
}

func TestSolveLP_InfeasibleBounds(t *testing.T) {
	m := &model.Model{
		Variables: []model.Variable{
			{Kind: model.Continuous, Lower: 5, Upper: 6, Obj: 1},
		},
		Rows: []model.Row{
			{Terms: []model.Term{{Var: 0, Coef: 1}}, Sense: model.LE, RHS: 2},
		},
	}
	s := New(m)
	status, err := s.SolveLP()
	require.NoError(t, err)
	assert.Equal(t, StatusInfeasible, status)
}

func TestSolveMILP_SimpleKnapsackLikeBinaries(t *testing.T) {
	// maximize x0+x1+x2 s.t. x0+x1+x2 <= 2, all binary.
	// Optimal integer objective is -2 (minimized, negated).
	m := &model.Model{
		Variables: []model.Variable{
			{Kind: model.Binary, Lower: 0, Upper: 1, Obj: 1},
			{Kind: model.Binary, Lower: 0, Upper: 1, Obj: 1},
			{Kind: model.Binary, Lower: 0, Upper: 1, Obj: 1},
		},
		Rows: []model.Row{
			{Terms: []model.Term{{Var: 0, Coef: 1}, {Var: 1, Coef: 1}, {Var: 2, Coef: 1}}, Sense: model.LE, RHS: 2},
		},
		Maximize: true,
	}
	s := New(m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, x, err := s.SolveMILP(ctx, MILPOptions{Workers: 2})
	require.NoError(t, err)
	assert.Equal(t, StatusOptimal, status)

	sum := x[0] + x[1] + x[2]
	assert.InDelta(t, 2, sum, 1e-6)
	for _, v := range x {
		assert.True(t, v > -1e-6 && (math.Abs(v) < 1e-6 || math.Abs(v-1) < 1e-6), "expected binary value, got %v", v)
	}
}

func TestSolveMILP_InfeasibleIntegerModel(t *testing.T) {
	// x0 == x1 (via the equality row x0 - x1 = 0) and x0+x1 == 1:
	// no integer point satisfies both.
	m := &model.Model{
		Variables: []model.Variable{
			{Kind: model.Binary, Lower: 0, Upper: 1},
			{Kind: model.Binary, Lower: 0, Upper: 1},
		},
		Rows: []model.Row{
			{Terms: []model.Term{{Var: 0, Coef: 1}, {Var: 1, Coef: -1}}, Sense: model.EQ, RHS: 0},
			{Terms: []model.Term{{Var: 0, Coef: 1}, {Var: 1, Coef: 1}}, Sense: model.EQ, RHS: 1},
		},
	}
	s := New(m)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, _, err := s.SolveMILP(ctx, MILPOptions{Workers: 1})
	assert.Error(t, err)
	assert.Equal(t, StatusInfeasible, status)
}

func TestTreeLogger_RecordsEveryVisitedNode(t *testing.T) {
	m := &model.Model{
		Variables: []model.Variable{
			{Kind: model.Binary, Lower: 0, Upper: 1, Obj: 1},
			{Kind: model.Binary, Lower: 0, Upper: 1, Obj: 1},
		},
		Rows: []model.Row{
			{Terms: []model.Term{{Var: 0, Coef: 2}, {Var: 1, Coef: 2}}, Sense: model.LE, RHS: 3},
		},
		Maximize: true,
	}
	s := New(m)

	tl := NewTreeLogger()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := s.SolveMILP(ctx, MILPOptions{Workers: 1, Instrumentation: tl})
	require.NoError(t, err)

	assert.NotEmpty(t, tl.nodes)
	var buf strings.Builder
	tl.ToDOT(&buf)
	assert.Contains(t, buf.String(), "digraph enumtree")
}

func TestClone_IndependentExtraRows(t *testing.T) {
	m := &model.Model{
		Variables: []model.Variable{{Kind: model.Continuous, Lower: 0, Upper: math.Inf(1), Obj: -1}},
		Rows:      []model.Row{{Terms: []model.Term{{Var: 0, Coef: 1}}, Sense: model.LE, RHS: 10}},
	}
	s := New(m)
	clone := s.Clone()
	clone.AddConstraint([]float64{1}, 3)

	_, err := s.SolveLP()
	require.NoError(t, err)
	assert.InDelta(t, 10, s.Primal()[0], 1e-6)

	_, err = clone.SolveLP()
	require.NoError(t, err)
	assert.InDelta(t, 3, clone.Primal()[0], 1e-6)
}
