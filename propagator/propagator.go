// Package propagator implements the specialized constraint propagators of
// the domain & propagation engine: a tagged variant over {Linear,
// Cardinality, Knapsack, Implies, Equiv, VarLB, VarUB}, each carrying its
// own fields alongside a shared header. Advisors are the per-(variable,
// propagator) reverse-index edges that tell a propagator how a specific
// bound change updates its cached activities.
package propagator

import (
	"math"

	"github.com/jjhbw/feaspump/model"
)

// Tolerance used for "is this coefficient zero" and "is this bound
// actually tighter" checks throughout propagation.
const Eps = 1e-9

// State is the result a propagator has reached given the current domain.
type State int

const (
	Unknown State = iota
	Entailed
	StronglyEntailed
	Infeasible
)

func (s State) String() string {
	switch s {
	case Unknown:
		return "unknown"
	case Entailed:
		return "entailed"
	case StronglyEntailed:
		return "strongly-entailed"
	case Infeasible:
		return "infeasible"
	default:
		return "?"
	}
}

// Kind identifies which specialized propagator a Propagator value is.
type Kind int

const (
	KindLinear Kind = iota
	KindCardinality
	KindKnapsack
	KindImplies
	KindEquiv
	KindVarLB
	KindVarUB
)

// Bounds is the subset of the Domain's state a propagator needs to read and
// mutate. Package domain implements this interface; propagator never
// imports domain, breaking what would otherwise be a dependency cycle.
type Bounds interface {
	LB(j int) float64
	UB(j int) float64
	IsFixed(j int) bool
	IsBinary(j int) bool
	FixUp(j int)
	FixDown(j int)
	TightenLB(j int, newLB float64) bool
	TightenUB(j int, newUB float64) bool
}

// Propagator is one constraint's specialized deduction engine. It is a
// tagged variant rather than an interface hierarchy: advisor dispatch is a
// small switch on Kind, not virtual calls.
type Propagator struct {
	// shared header
	ID       int
	Name     string
	Priority int
	Dirty    bool
	State    State

	Kind Kind
	Row  model.Row

	// cached activities, recomputed in full from Row by the Domain each
	// time an advisor wakes this propagator.
	MinAct, MaxAct float64
	MinInf, MaxInf int

	// Cardinality: k is the row's rhs; Sense is Row.Sense.
	K float64

	// Implies / Equiv: two binaries with +/-1 coefficients and rhs 0.
	VarA, VarB   int
	SignA, SignB float64

	// VarLB / VarUB: one continuous/integer variable (Cont) linked to one
	// binary (Bin) via coef*Cont <= M*Bin style rows. CoefCont is the
	// continuous variable's coefficient, CoefBin the binary's.
	Cont, Bin         int
	CoefCont, CoefBin float64
}

// AdvisorKind tags which update rule an Advisor applies.
type AdvisorKind int

const (
	AdvisorGenericActivity AdvisorKind = iota
	AdvisorCardinalityCount
	AdvisorImplication
	AdvisorVarBound
)

// Advisor is the reverse-index record stored per (variable, propagator)
// edge: it knows how a bound change on its variable should update exactly
// one propagator's cached activities.
type Advisor struct {
	PropagatorIndex int
	Kind            AdvisorKind
	Coef            float64
}

// Classify analyzes a single constraint row and returns the most specific
// propagator whose structural pattern matches. Ranged constraints are not
// representable by model.Row (single Sense+RHS), so no ranged row can
// reach Classify.
func Classify(row model.Row, vars []model.Variable) *Propagator {
	p := &Propagator{
		Name:  row.Name,
		Row:   row,
		State: Unknown,
		Dirty: true,
	}

	// Implication/equivalence is checked before cardinality: a two-term
	// row like "x_a + x_b = 0" matches isCardinality's shape too (all
	// coefficients 1, all binary), but its RHS of 0 makes the dedicated
	// Implies deduction strictly more useful than the generic count.
	if isImplicationOrEquivalence(row, vars) {
		t0, t1 := row.Terms[0], row.Terms[1]
		p.VarA, p.SignA = t0.Var, t0.Coef
		p.VarB, p.SignB = t1.Var, t1.Coef
		if !sameSign(t0.Coef, t1.Coef) {
			// x_a - x_b = 0: the two binaries always carry the same value.
			p.Kind = KindEquiv
		} else {
			// x_a + x_b = 0: with binaries both non-negative, both are 0.
			p.Kind = KindImplies
		}
		p.Priority = 5
		return p
	}

	if isCardinality(row, vars) {
		p.Kind = KindCardinality
		p.K = row.RHS
		p.Priority = 10
		return p
	}

	if vb, ok := isVarBound(row, vars); ok {
		p.Kind = vb.kind
		p.Cont = vb.cont
		p.Bin = vb.bin
		p.CoefCont = vb.coefCont
		p.CoefBin = vb.coefBin
		p.Priority = 3
		return p
	}

	if isKnapsack(row, vars) {
		p.Kind = KindKnapsack
		p.Priority = 1
		return p
	}

	p.Kind = KindLinear
	p.Priority = 0
	return p
}

func sameSign(a, b float64) bool { return (a > 0) == (b > 0) }

func isCardinality(row model.Row, vars []model.Variable) bool {
	if len(row.Terms) == 0 {
		return false
	}
	for _, t := range row.Terms {
		if math.Abs(t.Coef-1) > Eps {
			return false
		}
		if vars[t.Var].Kind != model.Binary {
			return false
		}
	}
	return true
}

func isImplicationOrEquivalence(row model.Row, vars []model.Variable) bool {
	if len(row.Terms) != 2 || row.Sense != model.EQ || row.RHS != 0 {
		return false
	}
	for _, t := range row.Terms {
		if vars[t.Var].Kind != model.Binary {
			return false
		}
		if math.Abs(math.Abs(t.Coef)-1) > Eps {
			return false
		}
	}
	return true
}

type varBoundMatch struct {
	kind              Kind
	cont, bin         int
	coefCont, coefBin float64
}

// isVarBound matches rows of the shape coefCont*x_cont + coefBin*x_bin {<=,>=,=} rhs
// with exactly one continuous/integer and one binary variable. A >= row
// becomes KindVarLB and any other sense KindVarUB, so an = row is
// propagated on its <= side only.
func isVarBound(row model.Row, vars []model.Variable) (varBoundMatch, bool) {
	if len(row.Terms) != 2 {
		return varBoundMatch{}, false
	}
	var cont, bin = -1, -1
	var coefCont, coefBin float64
	for _, t := range row.Terms {
		if vars[t.Var].Kind == model.Binary {
			bin = t.Var
			coefBin = t.Coef
		} else {
			cont = t.Var
			coefCont = t.Coef
		}
	}
	if cont == -1 || bin == -1 {
		return varBoundMatch{}, false
	}
	kind := KindVarUB
	if row.Sense == model.GE {
		kind = KindVarLB
	}
	return varBoundMatch{kind: kind, cont: cont, bin: bin, coefCont: coefCont, coefBin: coefBin}, true
}

func isKnapsack(row model.Row, vars []model.Variable) bool {
	if len(row.Terms) == 0 {
		return false
	}
	for _, t := range row.Terms {
		if t.Coef <= 0 {
			return false
		}
		if vars[t.Var].Lower < 0 {
			return false
		}
	}
	return true
}
