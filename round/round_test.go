package round

import (
	"math"
	"testing"

	"github.com/jjhbw/feaspump/model"

	"github.com/jjhbw/feaspump/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func binary() model.Variable {
	return model.Variable{Kind: model.Binary, Lower: 0, Upper: 1}
}

func TestMostFractionalFirst_OrdersByClosenessToHalf(t *testing.T) {
	x := []float64{0.9, 0.51, 0.1}
	order := MostFractionalFirst{}.Order(x, []int{0, 1, 2})
	assert.Equal(t, []int{1, 0, 2}, order)
}

func TestMostFractionalFirst_TiesBrokenByIndex(t *testing.T) {
	x := []float64{0.3, 0.3, 0.7}
	order := MostFractionalFirst{}.Order(x, []int{2, 1, 0})
	// 0 and 1 tie exactly, so they fall back to index order. In float64,
	// |0.5-0.7| is 0.19999999999999996, a hair below |0.5-0.3| = 0.2, so 2
	// ranks first.
	assert.Equal(t, []int{2, 0, 1}, order)
}

func TestRound_CardinalityPropagationFixesTheRest(t *testing.T) {
	vars := []model.Variable{binary(), binary(), binary(), binary(), binary()}
	m := &model.Model{
		Variables: vars,
		Rows: []model.Row{
			{
				Terms: []model.Term{{Var: 0, Coef: 1}, {Var: 1, Coef: 1}, {Var: 2, Coef: 1}, {Var: 3, Coef: 1}, {Var: 4, Coef: 1}},
				Sense: model.EQ,
				RHS:   1,
			},
		},
	}
	dom, err := domain.New(m)
	require.NoError(t, err)

	x := []float64{0.9, 0.2, 0.2, 0.2, 0.2}
	res := Round(x, []int{0, 1, 2, 3, 4}, dom, nil, nil)

	assert.False(t, res.PropagationFailed)
	assert.Equal(t, 1.0, res.Values[0])
	for j := 1; j < 5; j++ {
		assert.Equal(t, 0.0, res.Values[j])
	}
}

func TestRound_FallsBackToPlainRoundingOnPropagationFailure(t *testing.T) {
	// x0 == x1 (Equiv) together with x0+x1 == 1 (Cardinality) can never
	// both hold: equivalence forces the sum to 0 or 2, never 1. Neither
	// row is violated while both variables are still free, so the
	// conflict only surfaces once rounding fixes one of them.
	vars := []model.Variable{binary(), binary()}
	m := &model.Model{
		Variables: vars,
		Rows: []model.Row{
			{Terms: []model.Term{{Var: 0, Coef: 1}, {Var: 1, Coef: -1}}, Sense: model.EQ, RHS: 0},
			{Terms: []model.Term{{Var: 0, Coef: 1}, {Var: 1, Coef: 1}}, Sense: model.EQ, RHS: 1},
		},
	}
	dom, err := domain.New(m)
	require.NoError(t, err)

	x := []float64{0.9, 0.1}
	res := Round(x, []int{0, 1}, dom, nil, FixedThreshold(0.5))

	assert.True(t, res.PropagationFailed)
	assert.Equal(t, 1.0, res.Values[0])
	assert.True(t, dom.Failed())
}

func TestRound_DeterministicGivenSameInputAndThreshold(t *testing.T) {
	vars := []model.Variable{binary(), binary(), binary()}
	m := &model.Model{Variables: vars}

	x := []float64{0.6, 0.4, 0.5}

	dom1, err := domain.New(m)
	require.NoError(t, err)
	res1 := Round(x, []int{0, 1, 2}, dom1, nil, nil)

	dom2, err := domain.New(m)
	require.NoError(t, err)
	res2 := Round(x, []int{0, 1, 2}, dom2, nil, nil)

	assert.Equal(t, res1.Values, res2.Values)
}

func TestSeededThreshold_ReproducibleFromSameSeed(t *testing.T) {
	a := NewSeededThreshold(42)
	b := NewSeededThreshold(42)
	for i := 0; i < 5; i++ {
		va, vb := a.Threshold(0), b.Threshold(0)
		assert.Equal(t, va, vb)
		assert.True(t, va >= 0.4 && va <= 0.6, "jitter must stay within bounds, got %f", va)
	}
}

func TestRound_UntouchedEntriesStayNaN(t *testing.T) {
	vars := []model.Variable{binary(), binary()}
	m := &model.Model{Variables: vars}
	dom, err := domain.New(m)
	require.NoError(t, err)

	x := []float64{0.6, 0.4}
	res := Round(x, []int{0}, dom, nil, nil)

	assert.True(t, math.IsNaN(res.Values[1]))
}
