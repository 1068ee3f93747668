// Package domain implements the domain & propagation engine: the current
// (lb, ub, fixed) state of every variable, a priority-ordered queue of
// dirty propagators, and snapshot/restore for the rounder's speculative
// exploration.
package domain

import (
	"errors"

	"github.com/jjhbw/feaspump/model"
	"github.com/jjhbw/feaspump/propagator"
)

// ErrInfeasible is returned by Propagate when some propagator has declared
// the domain infeasible. Infeasibility is sticky: once set, subsequent
// calls to Propagate keep returning it until Restore rewinds the domain.
var ErrInfeasible = errors.New("domain: propagation reached an infeasible state")

// maxEmissionsPerRound caps per-variable bound-change emission within one
// propagation round: beyond this many, further tightenings still apply but
// no longer wake other propagators, preventing oscillation on
// near-continuous bounds.
const maxEmissionsPerRound = 10

// Domain holds the current bounds of every variable plus the compiled
// propagator network that watches them.
type Domain struct {
	kinds []model.Kind

	lb, ub []float64
	fixed  []bool

	props     []*propagator.Propagator
	advisors  [][]propagator.Advisor // indexed by variable
	queue     []int
	queued    []bool
	emissions []int

	failed bool
}

// New compiles a Model into a Domain: one specialized propagator per row,
// advisors wired from each row's variables back to it, and initial
// activities computed directly from the starting bounds. If any
// propagator starts infeasible, New fails immediately.
func New(m *model.Model) (*Domain, error) {
	n := len(m.Variables)
	d := &Domain{
		kinds:     make([]model.Kind, n),
		lb:        make([]float64, n),
		ub:        make([]float64, n),
		fixed:     make([]bool, n),
		advisors:  make([][]propagator.Advisor, n),
		emissions: make([]int, n),
	}

	for i, v := range m.Variables {
		d.kinds[i] = v.Kind
		d.lb[i] = v.Lower
		d.ub[i] = v.Upper
		d.fixed[i] = v.IsFixed()
	}

	for _, row := range m.Rows {
		p := propagator.Classify(row, m.Variables)
		idx := len(d.props)
		p.ID = idx
		d.props = append(d.props, p)
		d.queued = append(d.queued, true)
		d.queue = append(d.queue, idx)

		switch p.Kind {
		case propagator.KindLinear, propagator.KindCardinality, propagator.KindKnapsack:
			p.MinAct, p.MaxAct, p.MinInf, p.MaxInf = row.Activity(d.lb, d.ub)
			for _, t := range row.Terms {
				d.advisors[t.Var] = append(d.advisors[t.Var], propagator.Advisor{
					PropagatorIndex: idx,
					Kind:            propagator.AdvisorGenericActivity,
					Coef:            t.Coef,
				})
			}
		case propagator.KindImplies, propagator.KindEquiv:
			d.advisors[p.VarA] = append(d.advisors[p.VarA], propagator.Advisor{PropagatorIndex: idx, Kind: propagator.AdvisorImplication})
			d.advisors[p.VarB] = append(d.advisors[p.VarB], propagator.Advisor{PropagatorIndex: idx, Kind: propagator.AdvisorImplication})
		case propagator.KindVarLB, propagator.KindVarUB:
			d.advisors[p.Cont] = append(d.advisors[p.Cont], propagator.Advisor{PropagatorIndex: idx, Kind: propagator.AdvisorVarBound})
			d.advisors[p.Bin] = append(d.advisors[p.Bin], propagator.Advisor{PropagatorIndex: idx, Kind: propagator.AdvisorVarBound})
		}
	}

	if err := d.Propagate(); err != nil {
		return nil, err
	}
	return d, nil
}

// NumVars returns the number of variables in the domain.
func (d *Domain) NumVars() int { return len(d.lb) }

// Failed reports whether the domain is in the sticky infeasible state.
func (d *Domain) Failed() bool { return d.failed }

// --- propagator.Bounds implementation -------------------------------------

func (d *Domain) LB(j int) float64    { return d.lb[j] }
func (d *Domain) UB(j int) float64    { return d.ub[j] }
func (d *Domain) IsFixed(j int) bool  { return d.fixed[j] }
func (d *Domain) IsBinary(j int) bool { return d.kinds[j] == model.Binary }

func (d *Domain) FixUp(j int) {
	if d.fixed[j] {
		return
	}
	d.lb[j] = 1
	d.ub[j] = 1
	d.fixed[j] = true
	d.emit(j)
}

func (d *Domain) FixDown(j int) {
	if d.fixed[j] {
		return
	}
	d.lb[j] = 0
	d.ub[j] = 0
	d.fixed[j] = true
	d.emit(j)
}

func (d *Domain) TightenLB(j int, newLB float64) bool {
	if d.fixed[j] {
		return false
	}
	if newLB > d.ub[j] {
		newLB = d.ub[j]
	}
	if newLB-d.lb[j] <= propagator.Eps {
		return false
	}
	d.lb[j] = newLB
	if d.ub[j]-d.lb[j] <= propagator.Eps {
		d.fixed[j] = true
	}
	d.emit(j)
	return true
}

func (d *Domain) TightenUB(j int, newUB float64) bool {
	if d.fixed[j] {
		return false
	}
	if newUB < d.lb[j] {
		newUB = d.lb[j]
	}
	if d.ub[j]-newUB <= propagator.Eps {
		return false
	}
	d.ub[j] = newUB
	if d.ub[j]-d.lb[j] <= propagator.Eps {
		d.fixed[j] = true
	}
	d.emit(j)
	return true
}

// emit wakes the advisors attached to variable j, subject to the
// per-round rate limiter: beyond maxEmissionsPerRound, the bound change
// still applies (it already has, by the time emit is called) but no
// longer wakes dependent propagators.
func (d *Domain) emit(j int) {
	d.emissions[j]++
	if d.emissions[j] > maxEmissionsPerRound {
		return
	}
	for _, adv := range d.advisors[j] {
		d.wake(adv)
	}
}

func (d *Domain) wake(adv propagator.Advisor) {
	p := d.props[adv.PropagatorIndex]
	switch p.Kind {
	case propagator.KindLinear, propagator.KindCardinality, propagator.KindKnapsack:
		p.MinAct, p.MaxAct, p.MinInf, p.MaxInf = p.Row.Activity(d.lb, d.ub)
	}
	p.Dirty = true
	if !d.queued[adv.PropagatorIndex] {
		d.queued[adv.PropagatorIndex] = true
		d.queue = append(d.queue, adv.PropagatorIndex)
	}
}

// Propagate dequeues the highest-priority dirty propagator repeatedly
// until a fixpoint (no propagator left dirty) or an infeasibility is
// declared. Infeasibility is sticky: once failed, Propagate returns
// ErrInfeasible immediately without running any further propagator.
func (d *Domain) Propagate() error {
	if d.failed {
		return ErrInfeasible
	}

	for j := range d.emissions {
		d.emissions[j] = 0
	}

	for len(d.queue) > 0 {
		idx := d.popHighestPriority()
		p := d.props[idx]
		if !p.Dirty {
			continue
		}
		propagator.Propagate(p, d)
		if p.State == propagator.Infeasible {
			d.failed = true
			return ErrInfeasible
		}
	}
	return nil
}

func (d *Domain) popHighestPriority() int {
	best := 0
	for i := 1; i < len(d.queue); i++ {
		if d.props[d.queue[i]].Priority > d.props[d.queue[best]].Priority {
			best = i
		}
	}
	idx := d.queue[best]
	d.queue = append(d.queue[:best], d.queue[best+1:]...)
	d.queued[idx] = false
	return idx
}
