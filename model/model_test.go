package model

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModel_Validate_RejectsWideIntegers(t *testing.T) {
	m := &Model{
		Variables: []Variable{
			{Name: "x", Kind: Binary, Lower: 0, Upper: 3},
		},
	}

	err := m.Validate()
	assert.ErrorIs(t, err, ErrUnsupportedInteger)
}

func TestModel_Validate_AcceptsBinaryAndContinuous(t *testing.T) {
	m := &Model{
		Variables: []Variable{
			{Name: "x", Kind: Binary, Lower: 0, Upper: 1},
			{Name: "y", Kind: Continuous, Lower: 0, Upper: math.Inf(1)},
		},
	}

	assert.NoError(t, m.Validate())
}

func TestRow_Activity_CardinalityLikeRow(t *testing.T) {
	r := Row{
		Terms: []Term{{Var: 0, Coef: 1}, {Var: 1, Coef: 1}, {Var: 2, Coef: 1}},
		Sense: EQ,
		RHS:   1,
	}
	lb := []float64{0, 0, 0}
	ub := []float64{1, 1, 1}

	minAct, maxAct, minInf, maxInf := r.Activity(lb, ub)
	assert.Equal(t, 0.0, minAct)
	assert.Equal(t, 3.0, maxAct)
	assert.Equal(t, 0, minInf)
	assert.Equal(t, 0, maxInf)
}

func TestRow_Activity_UnboundedContributor(t *testing.T) {
	r := Row{
		Terms: []Term{{Var: 0, Coef: -1}, {Var: 1, Coef: 2}},
		Sense: LE,
		RHS:   5,
	}
	lb := []float64{0, math.Inf(-1)}
	ub := []float64{math.Inf(1), 10}

	minAct, maxAct, minInf, maxInf := r.Activity(lb, ub)
	assert.Equal(t, 2, minInf) // -1 * ub(x0)=+inf and 2 * lb(x1)=-inf both contribute to minInf
	assert.Equal(t, 0, maxInf) // -1 * lb(x0) and 2 * ub(x1) are both finite
	_ = minAct
	_ = maxAct
}

func TestModel_BinaryIndices(t *testing.T) {
	m := &Model{
		Variables: []Variable{
			{Kind: Continuous},
			{Kind: Binary},
			{Kind: Binary},
		},
	}
	assert.Equal(t, []int{1, 2}, m.BinaryIndices())
}

func TestModel_ObjectiveNorm(t *testing.T) {
	m := &Model{
		Variables: []Variable{
			{Obj: 3},
			{Obj: 4},
		},
	}
	assert.Equal(t, 5.0, m.ObjectiveNorm())
}
