package solver

import (
	"errors"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

// convertToEqualities folds an inequality system G x <= h into an
// equality system over slack variables, so gonum's lp.Simplex (which only
// accepts A x = b, x >= 0) can be used.
func convertToEqualities(c []float64, A *mat.Dense, b []float64, G *mat.Dense, h []float64) (cNew []float64, aNew *mat.Dense, bNew []float64) {
	nVar := len(c)
	nCons := len(b)
	nIneq := len(h)
	nNewVar := nVar + nIneq
	nNewCons := nCons + nIneq

	cNew = make([]float64, nNewVar)
	copy(cNew, c)

	bNew = make([]float64, nNewCons)
	copy(bNew, b)
	copy(bNew[nCons:], h)

	aNew = mat.NewDense(nNewCons, nNewVar, nil)
	if A != nil {
		aNew.Slice(0, nCons, 0, nVar).(*mat.Dense).Copy(A)
	}
	aNew.Slice(nCons, nNewCons, 0, nVar).(*mat.Dense).Copy(G)

	slackBlock := aNew.Slice(nCons, nNewCons, nVar, nVar+nIneq).(*mat.Dense)
	for i := 0; i < nIneq; i++ {
		slackBlock.Set(i, i, 1)
	}
	return
}

// SolveLP solves the current context's LP relaxation and caches the
// result (truncated back to the model's own variables, slacks dropped).
func (s *Solver) SolveLP() (Status, error) {
	G, h := s.combinedInequalities()

	var z float64
	var x []float64
	var err error

	if G != nil {
		c, A, b := convertToEqualities(s.c, s.A, s.b, G, h)
		z, x, err = lp.Simplex(c, A, b, 0, nil)
	} else if s.A != nil {
		z, x, err = lp.Simplex(s.c, s.A, s.b, 0, nil)
	} else {
		// No constraints at all: every variable sits at 0 (the implicit
		// x >= 0 floor), which is optimal whenever c >= 0 and otherwise
		// unbounded. model.Validate does not reject a model without rows,
		// so this branch keeps SolveLP total.
		x = make([]float64, len(s.c))
		for _, cj := range s.c {
			if cj < 0 {
				err = lp.ErrUnbounded
				break
			}
		}
	}

	switch {
	case err == nil:
		s.lastPrimal = x[:len(s.c)]
		s.lastObjective = z
		s.lastStatus = StatusOptimal
		return StatusOptimal, nil
	case errors.Is(err, lp.ErrInfeasible):
		s.lastStatus = StatusInfeasible
		return StatusInfeasible, nil
	case errors.Is(err, lp.ErrUnbounded):
		s.lastStatus = StatusUnbounded
		return StatusUnbounded, nil
	case errors.Is(err, lp.ErrSingular):
		s.lastStatus = StatusFailed
		return StatusFailed, err
	default:
		s.lastStatus = StatusFailed
		return StatusFailed, err
	}
}
