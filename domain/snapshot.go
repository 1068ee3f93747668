package domain

import "github.com/jjhbw/feaspump/propagator"

// Snapshot captures a Domain's (lb, ub, fixed) arrays plus every
// propagator's cached state, so the rounder can explore a branch and
// rewind without re-solving anything.
type Snapshot struct {
	lb, ub []float64
	fixed  []bool
	failed bool

	propState              []propagator.State
	propMinAct, propMaxAct []float64
	propMinInf, propMaxInf []int
}

// Dump captures the current state of the Domain.
func (d *Domain) Dump() *Snapshot {
	s := &Snapshot{
		lb:         append([]float64(nil), d.lb...),
		ub:         append([]float64(nil), d.ub...),
		fixed:      append([]bool(nil), d.fixed...),
		failed:     d.failed,
		propState:  make([]propagator.State, len(d.props)),
		propMinAct: make([]float64, len(d.props)),
		propMaxAct: make([]float64, len(d.props)),
		propMinInf: make([]int, len(d.props)),
		propMaxInf: make([]int, len(d.props)),
	}
	for i, p := range d.props {
		s.propState[i] = p.State
		s.propMinAct[i] = p.MinAct
		s.propMaxAct[i] = p.MaxAct
		s.propMinInf[i] = p.MinInf
		s.propMaxInf[i] = p.MaxInf
	}
	return s
}

// Restore rewinds the Domain to a previously dumped Snapshot. Restore
// resets dirty=false on every propagator and leaves the propagation queue
// empty: the caller is expected to issue new bound changes (which
// re-enqueue whatever they affect) rather than re-running propagation on
// stale events.
func (d *Domain) Restore(s *Snapshot) {
	copy(d.lb, s.lb)
	copy(d.ub, s.ub)
	copy(d.fixed, s.fixed)
	d.failed = s.failed

	for i, p := range d.props {
		p.State = s.propState[i]
		p.MinAct = s.propMinAct[i]
		p.MaxAct = s.propMaxAct[i]
		p.MinInf = s.propMinInf[i]
		p.MaxInf = s.propMaxInf[i]
		p.Dirty = false
	}

	for j := range d.emissions {
		d.emissions[j] = 0
	}
	d.queue = d.queue[:0]
	for i := range d.queued {
		d.queued[i] = false
	}
}
