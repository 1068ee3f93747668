// Package localsearch implements the time-boxed MIP local search:
// consensus fix, violated-constraint scan with no-good cut emission and
// sign/side-conditioned unfixing, a deadline-bounded MILP solve that stops
// at the first incumbent, and, on infeasibility, a BFS unfixing expansion
// through the variable/constraint bipartite graph followed by one more
// MILP attempt.
//
// Fixing and unfixing reuse solver.Solver.Clone/AddConstraint/
// RemoveConstraint exactly as package fixer's probes do: Solver has no
// SetBounds, so a fixed variable is the pair of inequality rows x_j <= v
// and -x_j <= -v.
package localsearch

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/jjhbw/feaspump/cutpool"
	"github.com/jjhbw/feaspump/model"
	"github.com/jjhbw/feaspump/solver"
)

const eps = 1e-6

// FilteringPolicy selects how the important-constraints list per binary
// is pruned.
type FilteringPolicy int

const (
	All FilteringPolicy = iota
	OnlyNonzeroDuals
	NonzeroDualsOrZeroSlacks
)

// handle pairs the two AddConstraint rows (x_j <= v, -x_j <= -v) that fix
// one binary on the working solver.
type handle struct{ up, down int }

// Searcher runs local search against one model's important-constraints
// list, built once at construction.
type Searcher struct {
	m        *model.Model
	binaries []int
	policy   FilteringPolicy

	// important[j] holds, for binary variable j, the row indices of its
	// important constraints, ordered tightest/most-dual-weighted first.
	important [][]int

	pool *cutpool.Pool
}

// NewSearcher builds the important-constraints list from the full
// relaxation's per-constraint duals and slacks. The gonum simplex backend
// (solver/lp.go) does not expose dual values, so callers pass an all-zero
// duals slice and ComputeSlacks supplies genuine slacks from the
// relaxation point; with all duals zero, OnlyNonzeroDuals immediately
// downgrades to NonzeroDualsOrZeroSlacks.
func NewSearcher(m *model.Model, policy FilteringPolicy, duals, slacks []float64, pool *cutpool.Pool) *Searcher {
	s := &Searcher{m: m, binaries: m.BinaryIndices(), policy: policy, pool: pool}
	s.important = s.buildImportantConstraints(duals, slacks)
	return s
}

// ComputeSlacks returns each row's slack at x: the LE/GE distance to the
// binding side (zero means tight) or the absolute EQ residual.
func ComputeSlacks(m *model.Model, x []float64) []float64 {
	slacks := make([]float64, len(m.Rows))
	for i, row := range m.Rows {
		var lhs float64
		for _, t := range row.Terms {
			lhs += t.Coef * x[t.Var]
		}
		switch row.Sense {
		case model.LE:
			slacks[i] = row.RHS - lhs
		case model.GE:
			slacks[i] = lhs - row.RHS
		default:
			slacks[i] = math.Abs(row.RHS - lhs)
		}
	}
	return slacks
}

// buildImportantConstraints orders rows by |dual| descending, ties broken
// by |slack| ascending, applies the filtering policy (downgrading to the
// next less restrictive one if the top row's dual is ~0, and again to All
// if filtering would leave nothing at all), then inverts the kept rows
// into a per-binary list.
func (s *Searcher) buildImportantConstraints(duals, slacks []float64) [][]int {
	order := make([]int, len(s.m.Rows))
	for i := range order {
		order[i] = i
	}

	policy := s.policy
	if policy != All && len(order) > 0 {
		sort.SliceStable(order, func(a, b int) bool {
			i, j := order[a], order[b]
			if math.Abs(duals[i]) != math.Abs(duals[j]) {
				return math.Abs(duals[i]) > math.Abs(duals[j])
			}
			return math.Abs(slacks[i]) < math.Abs(slacks[j])
		})

		if policy == OnlyNonzeroDuals && math.Abs(duals[order[0]]) < eps {
			policy = NonzeroDualsOrZeroSlacks
		}
	}

	kept := order
	switch policy {
	case OnlyNonzeroDuals:
		kept = takeWhile(order, func(i int) bool { return math.Abs(duals[i]) >= eps })
	case NonzeroDualsOrZeroSlacks:
		kept = takeWhile(order, func(i int) bool {
			return !(math.Abs(duals[i]) < eps && math.Abs(slacks[i]) > eps)
		})
	}
	if len(kept) == 0 {
		kept = order
	}

	perVar := make([][]int, len(s.m.Variables))
	for _, rowIdx := range kept {
		for _, t := range s.m.Rows[rowIdx].Terms {
			if t.Coef != 0 && s.m.Variables[t.Var].Kind == model.Binary {
				perVar[t.Var] = append(perVar[t.Var], rowIdx)
			}
		}
	}
	return perVar
}

func takeWhile(order []int, keep func(int) bool) []int {
	for i, idx := range order {
		if !keep(idx) {
			return order[:i]
		}
	}
	return order
}

// Params configures one Search call.
type Params struct {
	// Discrepancy is delta in [0,1]: a binary whose 1-frequency f across
	// the slice has f <= delta or f >= 1-delta (outside the open interval
	// (delta, 1-delta)) is fixed by consensus.
	Discrepancy float64

	// UnfixLevel is L >= 0, the number of BFS expansion iterations tried
	// on the first infeasible MILP solve.
	UnfixLevel int

	// Budget bounds the whole Search call, including both MILP attempts.
	Budget time.Duration
}

// Result is what one Search call found.
type Result struct {
	Status    solver.Status
	Values    []float64
	CutsAdded int
}

// Search runs the four phases — consensus fix, violated-constraint scan,
// first-incumbent MILP solve, and (on infeasibility) BFS unfix expansion
// plus a second solve — against base, a clone of the current pump
// context. It never mutates base; every fixing and cut is applied to an
// internal clone.
func (s *Searcher) Search(ctx context.Context, base *solver.Solver, slice [][]float64, p Params) Result {
	deadline := time.Now().Add(p.Budget)

	fixed, working := s.consensusFix(base, slice, p.Discrepancy)
	handles := s.commitAll(working, fixed)

	cutsAdded := s.scanAndUnfix(ctx, working, fixed, handles)

	status, x := s.solveBounded(ctx, working, deadline)

	if status == solver.StatusInfeasible && time.Now().Before(deadline) && p.UnfixLevel > 0 {
		// A pattern cut only means something when something is still
		// fixed; if Phase 2 already unfixed everything, the infeasibility
		// is inherent to the model, not to any particular fixed pattern,
		// so there is nothing left to cut (an empty pattern's "cut" would
		// be the degenerate, permanently-infeasible row 0 <= -1).
		if len(fixed) > 0 {
			cut := wholePatternCut(fixed)
			if s.pool.TryAdd(cut) {
				cutsAdded++
				coefs, rhs := cut.Row(len(s.m.Variables))
				working.AddConstraint(coefs, rhs)
			}
		}
		s.expandUnfix(working, fixed, handles, p.UnfixLevel)
		status, x = s.solveBounded(ctx, working, deadline)
	}

	return Result{Status: status, Values: x, CutsAdded: cutsAdded}
}

// consensusFix implements Phase 1: for each binary, fix it to round(f_j)
// when its 1-frequency f_j across slice falls outside the open interval
// (delta, 1-delta).
func (s *Searcher) consensusFix(base *solver.Solver, slice [][]float64, delta float64) (map[int]float64, *solver.Solver) {
	fixed := make(map[int]float64)
	n := len(slice)
	working := base.Clone()
	if n == 0 {
		return fixed, working
	}

	for _, j := range s.binaries {
		ones := 0
		for _, chr := range slice {
			if chr[j] > 0.5 {
				ones++
			}
		}
		f := float64(ones) / float64(n)
		// Inclusive comparisons so delta == 0 still fixes unanimous bits.
		switch {
		case f <= delta:
			fixed[j] = 0
		case f >= 1-delta:
			fixed[j] = 1
		}
	}
	return fixed, working
}

// commitAll adds the two bound-enforcing rows for every variable in
// fixed and returns their handles.
func (s *Searcher) commitAll(working *solver.Solver, fixed map[int]float64) map[int]handle {
	handles := make(map[int]handle, len(fixed))
	for j, v := range fixed {
		handles[j] = s.fixVar(working, j, v)
	}
	return handles
}

func (s *Searcher) fixVar(working *solver.Solver, j int, v float64) handle {
	n := working.NumVars()
	up := make([]float64, n)
	up[j] = 1
	upHandle := working.AddConstraint(up, v)
	down := make([]float64, n)
	down[j] = -1
	downHandle := working.AddConstraint(down, -v)
	return handle{up: upHandle, down: downHandle}
}

func (s *Searcher) unfix(working *solver.Solver, fixed map[int]float64, handles map[int]handle, j int) {
	h, ok := handles[j]
	if !ok {
		return
	}
	working.RemoveConstraint(h.up)
	working.RemoveConstraint(h.down)
	delete(handles, j)
	delete(fixed, j)
}

// scanAndUnfix implements Phase 2: test every constraint for violation
// under the current fixing, cut the fixed-to-1 pattern of each violated
// one, and unfix whichever of its fixed binaries satisfy the sign/side
// condition.
func (s *Searcher) scanAndUnfix(ctx context.Context, working *solver.Solver, fixed map[int]float64, handles map[int]handle) int {
	cutsAdded := 0

	for rowIdx := range s.m.Rows {
		if ctx.Err() != nil {
			break
		}

		row := s.m.Rows[rowIdx]

		var fixedContribution, posResidual, negResidual float64
		var ones []int
		for _, t := range row.Terms {
			if v, isFixed := fixed[t.Var]; isFixed {
				fixedContribution += t.Coef * v
				if v > 0.5 {
					ones = append(ones, t.Var)
				}
				continue
			}
			if t.Coef > 0 {
				posResidual += t.Coef
			} else {
				negResidual += t.Coef
			}
		}

		violated := false
		switch row.Sense {
		case model.LE:
			violated = fixedContribution+negResidual > row.RHS+eps
		case model.GE:
			violated = fixedContribution+posResidual < row.RHS-eps
		default: // EQ: violated unless the residual range straddles the target
			violated = fixedContribution+posResidual < row.RHS-eps || fixedContribution+negResidual > row.RHS+eps
		}
		if !violated {
			continue
		}

		if len(ones) > 0 {
			cut := cutpool.NoGoodCut{Ones: ones}
			if s.pool.TryAdd(cut) {
				cutsAdded++
				coefs, rhs := cut.Row(len(s.m.Variables))
				working.AddConstraint(coefs, rhs)
			}
		}

		for _, t := range row.Terms {
			v, isFixed := fixed[t.Var]
			if !isFixed {
				continue
			}

			if row.Sense == model.EQ {
				s.unfix(working, fixed, handles, t.Var)
				continue
			}

			if v > 0.5 {
				// Only a variable currently fixed to 0 can become
				// "free-making" toward relieving a <=/>= violation.
				continue
			}
			helpful := (row.Sense == model.LE && t.Coef < 0) || (row.Sense == model.GE && t.Coef > 0)
			if helpful {
				s.unfix(working, fixed, handles, t.Var)
			}
		}
	}

	return cutsAdded
}

// wholePatternCut is the Phase 4 "general cut covering the entire fixed
// pattern".
func wholePatternCut(fixed map[int]float64) cutpool.NoGoodCut {
	var ones, zeros []int
	for j, v := range fixed {
		if v > 0.5 {
			ones = append(ones, j)
		} else {
			zeros = append(zeros, j)
		}
	}
	return cutpool.NoGoodCut{Ones: ones, Zeros: zeros}
}

// expandUnfix implements Phase 4's BFS: starting from the currently-free
// binaries, walk each frontier variable's important-constraints list and
// unfix every still-fixed binary those constraints touch, for up to
// levels iterations.
func (s *Searcher) expandUnfix(working *solver.Solver, fixed map[int]float64, handles map[int]handle, levels int) {
	takenVars := make(map[int]bool, len(s.binaries))
	var frontier []int
	for _, j := range s.binaries {
		if _, isFixed := fixed[j]; !isFixed {
			takenVars[j] = true
			frontier = append(frontier, j)
		}
	}

	takenConstraints := make(map[int]bool)
	for l := 0; l < levels && len(frontier) > 0; l++ {
		var next []int
		for _, j := range frontier {
			for _, rowIdx := range s.important[j] {
				if takenConstraints[rowIdx] {
					continue
				}
				takenConstraints[rowIdx] = true

				for _, t := range s.m.Rows[rowIdx].Terms {
					if _, isFixed := fixed[t.Var]; !isFixed {
						continue
					}
					if takenVars[t.Var] {
						continue
					}
					takenVars[t.Var] = true
					s.unfix(working, fixed, handles, t.Var)
					next = append(next, t.Var)
				}
			}
		}
		frontier = next
	}
}

// solveBounded implements Phase 3: a MILP solve that stops at the first
// incumbent, bounded by the overall deadline.
func (s *Searcher) solveBounded(ctx context.Context, working *solver.Solver, deadline time.Time) (solver.Status, []float64) {
	solveCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	status, x, err := working.Clone().SolveMILP(solveCtx, solver.MILPOptions{Workers: 1, StopOnFirstFeasible: true})
	if err != nil && status != solver.StatusAborted && status != solver.StatusInfeasible {
		return solver.StatusInfeasible, nil
	}
	return status, x
}
