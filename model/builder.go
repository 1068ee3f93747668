package model

import (
	"fmt"
	"math"
)

// Builder is the programmatic model-construction entry point: add
// variables and constraints, then Build to get a validated, sparse
// model.Model.
type Builder struct {
	maximize  bool
	variables []*varBuilder
	rows      []*rowBuilder
}

type varBuilder struct {
	name    string
	coef    float64
	integer bool
	lower   float64
	upper   float64
}

type rowBuilder struct {
	name  string
	terms []Term
	sense Sense
	rhs   float64
}

// NewBuilder starts an empty problem, minimizing by default.
func NewBuilder() *Builder {
	return &Builder{}
}

// AddVariable declares a new variable, defaulting to continuous with
// coefficient 0 and bounds [0, +Inf). The returned *VariableRef is used to
// set the variable's properties and to reference it from AddExpression.
func (b *Builder) AddVariable(name string) *VariableRef {
	v := &varBuilder{name: name, upper: math.Inf(1)}
	b.variables = append(b.variables, v)
	return &VariableRef{v: v, index: len(b.variables) - 1}
}

// VariableRef identifies one variable declared on a Builder.
type VariableRef struct {
	v     *varBuilder
	index int
}

// SetCoeff sets the variable's objective coefficient.
func (r *VariableRef) SetCoeff(coef float64) *VariableRef {
	r.v.coef = coef
	return r
}

// IsInteger marks the variable as binary. This engine only supports
// {0,1}-domain integers; wider integer domains fail Build with
// ErrUnsupportedInteger.
func (r *VariableRef) IsInteger() *VariableRef {
	r.v.integer = true
	return r
}

// UpperBound sets the variable's inclusive upper bound.
func (r *VariableRef) UpperBound(bound float64) *VariableRef {
	r.v.upper = bound
	return r
}

// LowerBound sets the variable's inclusive lower bound.
func (r *VariableRef) LowerBound(bound float64) *VariableRef {
	r.v.lower = bound
	return r
}

// ConstraintRef builds one row by accumulating AddExpression terms.
type ConstraintRef struct {
	b *Builder
	r *rowBuilder
}

// AddConstraint starts a new constraint row; terminate it with EqualTo,
// SmallerThanOrEqualTo, or GreaterThanOrEqualTo.
func (b *Builder) AddConstraint(name string) *ConstraintRef {
	r := &rowBuilder{name: name}
	b.rows = append(b.rows, r)
	return &ConstraintRef{b: b, r: r}
}

// AddExpression adds one coef*variable term to the constraint's
// left-hand side.
func (c *ConstraintRef) AddExpression(coef float64, v *VariableRef) *ConstraintRef {
	c.r.terms = append(c.r.terms, Term{Var: v.index, Coef: coef})
	return c
}

// EqualTo closes the constraint as an equality row.
func (c *ConstraintRef) EqualTo(rhs float64) *ConstraintRef {
	c.r.sense = EQ
	c.r.rhs = rhs
	return c
}

// SmallerThanOrEqualTo closes the constraint as a <= row.
func (c *ConstraintRef) SmallerThanOrEqualTo(rhs float64) *ConstraintRef {
	c.r.sense = LE
	c.r.rhs = rhs
	return c
}

// GreaterThanOrEqualTo closes the constraint as a >= row.
func (c *ConstraintRef) GreaterThanOrEqualTo(rhs float64) *ConstraintRef {
	c.r.sense = GE
	c.r.rhs = rhs
	return c
}

// Maximize sets the problem sense to maximization.
func (b *Builder) Maximize() *Builder {
	b.maximize = true
	return b
}

// Minimize sets the problem sense to minimization (the default).
func (b *Builder) Minimize() *Builder {
	b.maximize = false
	return b
}

// Build compiles the declared variables and rows into a validated Model.
// Any variable whose bounds have already collapsed (lower == upper) is
// classified Fixed rather than Continuous/Binary, regardless of whether
// IsInteger was called: package domain tracks per-variable fixedness, so a
// collapsed column stays in the model instead of being eliminated by a
// separate presolve pass.
func (b *Builder) Build() (*Model, error) {
	m := &Model{Maximize: b.maximize}

	for _, v := range b.variables {
		kind := Continuous
		upper := v.upper
		switch {
		case v.lower == v.upper:
			kind = Fixed
		case v.integer:
			kind = Binary
			// An integer variable left at the default upper bound is a
			// plain binary; an explicit wider bound still fails Validate.
			if math.IsInf(upper, 1) {
				upper = 1
			}
		}
		m.Variables = append(m.Variables, Variable{
			Name:  v.name,
			Kind:  kind,
			Lower: v.lower,
			Upper: upper,
			Obj:   v.coef,
		})
	}

	for _, r := range b.rows {
		for _, t := range r.terms {
			if t.Var < 0 || t.Var >= len(b.variables) {
				return nil, fmt.Errorf("model: constraint %q references unknown variable index %d", r.name, t.Var)
			}
		}
		m.Rows = append(m.Rows, Row{
			Name:  r.name,
			Terms: append([]Term(nil), r.terms...),
			Sense: r.sense,
			RHS:   r.rhs,
		})
	}

	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}
