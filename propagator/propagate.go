package propagator

import (
	"math"

	"github.com/jjhbw/feaspump/model"
)

// Propagate runs one pass of a single propagator given the current Bounds.
// It either declares the propagator entailed/strongly-entailed/infeasible,
// tightens a bound (which the Domain re-queues as new events), or does
// nothing. Once a propagator is Infeasible it stays that way (sticky
// failure) until the caller restores a snapshot.
func Propagate(p *Propagator, b Bounds) {
	if p.State == Infeasible {
		return
	}

	switch p.Kind {
	case KindCardinality:
		propagateCardinality(p, b)
	case KindLinear, KindKnapsack:
		propagateActivity(p, b)
	case KindImplies:
		propagateImplies(p, b)
	case KindEquiv:
		propagateEquiv(p, b)
	case KindVarLB, KindVarUB:
		propagateVarBound(p, b)
	}

	p.Dirty = false
}

// propagateCardinality handles cardinality rows (sum of n binaries {<=,>=,=} k,
// all coefficients 1) directly in terms of fixed/free counts. Unlike a
// generic linear row, a cardinality row's finite-domain binaries let it
// force an exact conclusion as soon as the count of fixed-ones (or the
// count of fixed-ones plus remaining free variables) meets k, without ever
// needing an unbounded contributor.
func propagateCardinality(p *Propagator, b Bounds) {
	fixedOnes, fixedZeros, free := 0, 0, 0
	for _, t := range p.Row.Terms {
		switch {
		case b.IsFixed(t.Var) && b.LB(t.Var) >= 1-Eps:
			fixedOnes++
		case b.IsFixed(t.Var):
			fixedZeros++
		default:
			free++
		}
	}

	allowsLE := p.Row.Sense == model.LE || p.Row.Sense == model.EQ
	allowsGE := p.Row.Sense == model.GE || p.Row.Sense == model.EQ

	if allowsLE && float64(fixedOnes)-p.K > Eps {
		p.State = Infeasible
		return
	}
	if allowsGE && p.K-float64(fixedOnes+free) > Eps {
		p.State = Infeasible
		return
	}

	if allowsLE && math.Abs(float64(fixedOnes)-p.K) <= Eps {
		for _, t := range p.Row.Terms {
			if !b.IsFixed(t.Var) {
				b.FixDown(t.Var)
			}
		}
		free = 0
	} else if allowsGE && math.Abs(float64(fixedOnes+free)-p.K) <= Eps && free > 0 {
		for _, t := range p.Row.Terms {
			if !b.IsFixed(t.Var) {
				b.FixUp(t.Var)
			}
		}
		free = 0
	}

	if free == 0 {
		p.State = StronglyEntailed
	} else {
		p.State = Entailed
	}
}

func propagateActivity(p *Propagator, b Bounds) {
	lhs, rhs := p.Row.Bounds()
	hasLo := !math.IsInf(lhs, -1)
	hasHi := !math.IsInf(rhs, 1)

	if hasHi && p.MinInf == 0 && p.MinAct-rhs > Eps {
		p.State = Infeasible
		return
	}
	if hasLo && p.MaxInf == 0 && lhs-p.MaxAct > Eps {
		p.State = Infeasible
		return
	}

	loEntailed := !hasLo || (p.MinInf == 0 && p.MinAct-lhs >= -Eps)
	hiEntailed := !hasHi || (p.MaxInf == 0 && rhs-p.MaxAct >= -Eps)

	switch {
	case loEntailed && hiEntailed:
		p.State = StronglyEntailed
		return
	case loEntailed || hiEntailed:
		p.State = Entailed
	}

	if hasHi && !hiEntailed && p.MinInf == 1 {
		tightenFromSingleInfinite(p, b, rhs, p.MinAct, true)
	}
	if hasLo && !loEntailed && p.MaxInf == 1 {
		tightenFromSingleInfinite(p, b, lhs, p.MaxAct, false)
	}
}

// tightenFromSingleInfinite tightens the one unbounded contributor on a
// side whose activity is otherwise finite: the implied bound is
// (rhs - activity_without_j) / coef_j.
func tightenFromSingleInfinite(p *Propagator, b Bounds, target, activityWithoutJ float64, upperSide bool) {
	for _, t := range p.Row.Terms {
		if math.Abs(t.Coef) < Eps {
			continue
		}

		var infinite bool
		switch {
		case upperSide && t.Coef > 0:
			infinite = math.IsInf(b.LB(t.Var), -1)
		case upperSide && t.Coef < 0:
			infinite = math.IsInf(b.UB(t.Var), 1)
		case !upperSide && t.Coef > 0:
			infinite = math.IsInf(b.UB(t.Var), 1)
		default:
			infinite = math.IsInf(b.LB(t.Var), -1)
		}
		if !infinite {
			continue
		}

		implied := (target - activityWithoutJ) / t.Coef

		switch {
		case upperSide && t.Coef > 0:
			b.TightenUB(t.Var, implied)
		case upperSide && t.Coef < 0:
			b.TightenLB(t.Var, implied)
		case !upperSide && t.Coef > 0:
			b.TightenLB(t.Var, implied)
		default:
			b.TightenUB(t.Var, implied)
		}
		return // exactly one unbounded contributor is expected on this side
	}
}

// propagateImplies handles "x_a + x_b = 0" rows (two non-negative binaries
// summing to zero): both variables are forced to 0.
func propagateImplies(p *Propagator, b Bounds) {
	if b.LB(p.VarA) == 1 || b.LB(p.VarB) == 1 {
		p.State = Infeasible
		return
	}
	if b.UB(p.VarA) != 0 {
		b.FixDown(p.VarA)
	}
	if b.UB(p.VarB) != 0 {
		b.FixDown(p.VarB)
	}
	p.State = StronglyEntailed
}

// propagateEquiv handles "x_a - x_b = 0" rows: the two binaries always
// carry the same value.
func propagateEquiv(p *Propagator, b Bounds) {
	aFixed, bFixed := b.IsFixed(p.VarA), b.IsFixed(p.VarB)

	if aFixed && bFixed {
		if b.LB(p.VarA) != b.LB(p.VarB) {
			p.State = Infeasible
		} else {
			p.State = StronglyEntailed
		}
		return
	}
	if aFixed {
		if b.LB(p.VarA) == 1 {
			b.FixUp(p.VarB)
		} else {
			b.FixDown(p.VarB)
		}
		return
	}
	if bFixed {
		if b.LB(p.VarB) == 1 {
			b.FixUp(p.VarA)
		} else {
			b.FixDown(p.VarA)
		}
	}
}

// propagateVarBound handles the linked continuous/binary row
// coefCont*x_cont + coefBin*x_bin {<=,>=} rhs: once the binary is fixed,
// the continuous variable's bound follows directly.
func propagateVarBound(p *Propagator, b Bounds) {
	if !b.IsFixed(p.Bin) {
		return
	}
	binVal := b.LB(p.Bin)
	rhsEff := p.Row.RHS - p.CoefBin*binVal
	implied := rhsEff / p.CoefCont

	if p.Kind == KindVarUB {
		if p.CoefCont > 0 {
			b.TightenUB(p.Cont, implied)
		} else {
			b.TightenLB(p.Cont, implied)
		}
	} else {
		if p.CoefCont > 0 {
			b.TightenLB(p.Cont, implied)
		} else {
			b.TightenUB(p.Cont, implied)
		}
	}
	p.State = StronglyEntailed
}
