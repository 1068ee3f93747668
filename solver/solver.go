// Package solver is the LP/MILP solving backend the rest of the engine
// depends on: dense matrix assembly from a sparse model.Model, LP
// relaxations via gonum's simplex, and a branch-and-bound MILP driver for
// binary variables. One Solver is one solving context; Clone hands out
// independent contexts over the same immutable model so workers never
// share mutable solver state.
package solver

import (
	"errors"
	"math"

	"github.com/jjhbw/feaspump/model"
	"gonum.org/v1/gonum/mat"
)

// Status is the outcome of an LP or MILP solve.
type Status int

const (
	StatusOptimal Status = iota
	StatusFeasible
	StatusInfeasible
	StatusUnbounded
	StatusUnknown
	StatusFailed
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusOptimal:
		return "optimal"
	case StatusFeasible:
		return "feasible"
	case StatusInfeasible:
		return "infeasible"
	case StatusUnbounded:
		return "unbounded"
	case StatusUnknown:
		return "unknown"
	case StatusFailed:
		return "failed"
	case StatusAborted:
		return "aborted"
	default:
		return "?"
	}
}

// ErrNoIntegerFeasible is returned by SolveMILP when branch-and-bound
// exhausts the search tree without finding an integer-feasible point.
var ErrNoIntegerFeasible = errors.New("solver: no integer-feasible solution found")

// extraRow is one additional inequality row layered on top of the model's
// own constraints: a no-good cut, a variable fixing, or a
// branch-and-bound split.
type extraRow struct {
	coefs []float64
	rhs   float64
}

// Solver is one LP/MILP solving context over a fixed model.Model. The
// dense A/b (equalities) and the base set of inequality rows (from
// row senses and variable bounds) are built once; Clone shares them
// (they never change after construction) and copies only the small
// per-context state.
type Solver struct {
	m *model.Model

	c []float64
	A *mat.Dense
	b []float64

	// base inequality rows, built once from row senses (LE/GE) and
	// variable bounds that aren't the implicit x >= 0.
	baseG *mat.Dense
	baseH []float64

	// extra rows layered on top of base for the current context: set via
	// AddConstraint (cut pool, local search) or accumulated during a
	// branch-and-bound descent.
	extra []extraRow

	lastPrimal    []float64
	lastStatus    Status
	lastObjective float64
}

// New builds a Solver over m. m must already have passed model.Validate.
func New(m *model.Model) *Solver {
	c := make([]float64, len(m.Variables))
	for j, v := range m.Variables {
		c[j] = v.Obj
		if m.Maximize {
			c[j] = -c[j]
		}
	}

	var Adata []float64
	var b []float64
	var Gdata []float64
	var h []float64
	n := len(m.Variables)

	for _, row := range m.Rows {
		coefs := make([]float64, n)
		for _, t := range row.Terms {
			coefs[t.Var] = t.Coef
		}
		switch row.Sense {
		case model.EQ:
			Adata = append(Adata, coefs...)
			b = append(b, row.RHS)
		case model.LE:
			Gdata = append(Gdata, coefs...)
			h = append(h, row.RHS)
		case model.GE:
			neg := make([]float64, n)
			for j, v := range coefs {
				neg[j] = -v
			}
			Gdata = append(Gdata, neg...)
			h = append(h, -row.RHS)
		}
	}

	for j, v := range m.Variables {
		if !math.IsInf(v.Upper, 1) {
			row := make([]float64, n)
			row[j] = 1
			Gdata = append(Gdata, row...)
			h = append(h, v.Upper)
		}
		if v.Lower > 0 {
			row := make([]float64, n)
			row[j] = -1
			Gdata = append(Gdata, row...)
			h = append(h, -v.Lower)
		}
	}

	s := &Solver{m: m, c: c}
	if len(b) > 0 {
		s.A = mat.NewDense(len(b), n, Adata)
		s.b = b
	}
	if len(h) > 0 {
		s.baseG = mat.NewDense(len(h), n, Gdata)
		s.baseH = h
	}
	return s
}

// NumVars returns the number of decision variables.
func (s *Solver) NumVars() int { return len(s.c) }

// Clone returns an independent solving context over the same model: the
// dense matrices are shared (read-only after New), but the extra-rows
// slice is copied so branch-and-bound descent on one clone never mutates
// another's view.
func (s *Solver) Clone() *Solver {
	clone := &Solver{
		m:     s.m,
		c:     s.c,
		A:     s.A,
		b:     s.b,
		baseG: s.baseG,
		baseH: s.baseH,
		extra: append([]extraRow(nil), s.extra...),
	}
	return clone
}

// SetObjective replaces the objective coefficients for the current
// context only (used by ofp's pump objective); it does not affect other
// clones.
func (s *Solver) SetObjective(c []float64) {
	s.c = c
}

// AddConstraint layers one more inequality row (coefs · x <= rhs) onto
// this context, returning a handle for RemoveConstraint. Used by cutpool
// to mirror no-good cuts into a solving context.
func (s *Solver) AddConstraint(coefs []float64, rhs float64) int {
	s.extra = append(s.extra, extraRow{coefs: append([]float64(nil), coefs...), rhs: rhs})
	return len(s.extra) - 1
}

// RemoveConstraint drops the row added at handle. Handles are stable
// across removals: the row's coefficients are zeroed and its rhs set to
// +Inf (always slack) rather than compacting the slice, so earlier
// handles stay valid.
func (s *Solver) RemoveConstraint(handle int) {
	if handle < 0 || handle >= len(s.extra) {
		return
	}
	s.extra[handle] = extraRow{coefs: make([]float64, len(s.c)), rhs: math.Inf(1)}
}

// combinedInequalities stacks the model's base inequality rows with any
// extra rows into one (G, h) pair. Rows tombstoned by RemoveConstraint
// (rhs == +Inf) are skipped outright: an always-slack inequality would
// become the unrepresentable equality "slack = +Inf" once
// convertToEqualities embeds it.
func (s *Solver) combinedInequalities() (*mat.Dense, []float64) {
	live := 0
	for _, e := range s.extra {
		if !math.IsInf(e.rhs, 1) {
			live++
		}
	}

	if live == 0 {
		if s.baseG == nil {
			return nil, nil
		}
		return mat.DenseCopyOf(s.baseG), append([]float64(nil), s.baseH...)
	}

	n := len(s.c)
	h := append([]float64(nil), s.baseH...)
	var extraData []float64
	for _, e := range s.extra {
		if math.IsInf(e.rhs, 1) {
			continue
		}
		extraData = append(extraData, e.coefs...)
		h = append(h, e.rhs)
	}
	extraG := mat.NewDense(live, n, extraData)

	if s.baseG == nil {
		return extraG, h
	}

	baseRows, _ := s.baseG.Dims()
	Gnew := mat.NewDense(baseRows+live, n, nil)
	Gnew.Stack(s.baseG, extraG)
	return Gnew, h
}

// Primal returns the variable assignment from the most recent SolveLP.
func (s *Solver) Primal() []float64 { return s.lastPrimal }

// LastObjective returns the objective value of the most recent SolveLP.
func (s *Solver) LastObjective() float64 { return s.lastObjective }

// LastStatus returns the status of the most recent solve.
func (s *Solver) LastStatus() Status { return s.lastStatus }
