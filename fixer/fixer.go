// Package fixer implements histogram-based variable fixing: given a slice
// of rounded population chromosomes, it builds a per-variable 1-bit
// histogram, ranks binaries by a fixing-type score, and tries to
// permanently fix a block of them via incremental LP probes, finishing
// with a bounded MILP probe for an outright feasible point.
//
// A probe is a throwaway solver.Solver clone carrying the candidate
// fixings as extra inequality rows, solved with SolveLP: LP feasibility is
// a necessary condition for MILP feasibility, so an LP-infeasible fixing
// can be rejected without branching.
package fixer

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/jjhbw/feaspump/model"
	"github.com/jjhbw/feaspump/solver"
)

// FixingType selects which binaries a histogram fixing pass prefers.
type FixingType int

const (
	MostOnes FixingType = iota
	MostZeros
	MostFractionals
	Automatic
)

// subBlockSize is the width of each provisional fixing batch in Fix's
// block walk.
const subBlockSize = 8

// probeTimeLimit bounds the closing MILP feasibility probe.
const probeTimeLimit = 10 * time.Second

// Fixer calibrates a fixing percentage once at construction and then
// applies histogram-based fixing on demand. It is not safe for concurrent
// use; callers decoding in parallel should build one Fixer per worker over
// independent solver clones.
type Fixer struct {
	m          *model.Model
	binaries   []int
	fixingType FixingType
	percentage float64

	// working accumulates every fixing committed across the Fixer's
	// lifetime (calibration probes never commit; only Fix does).
	working *solver.Solver
	fixed   map[int]float64
	handles []int
}

// NewFixer builds a Fixer over s's model. fixingType == Automatic is
// resolved immediately from fullRelaxation's zero/one majority;
// percentage == 0 triggers automatic block-size calibration against
// fullRelaxation.
func NewFixer(s *solver.Solver, m *model.Model, fixingType FixingType, percentage float64, fullRelaxation []float64) *Fixer {
	binaries := m.BinaryIndices()

	if fixingType == Automatic {
		zeros, ones := 0, 0
		for _, j := range binaries {
			if fullRelaxation[j] < 0.5 {
				zeros++
			} else {
				ones++
			}
		}
		if zeros >= ones {
			fixingType = MostZeros
		} else {
			fixingType = MostOnes
		}
	}

	f := &Fixer{
		m:          m,
		binaries:   binaries,
		fixingType: fixingType,
		working:    s.Clone(),
		fixed:      make(map[int]float64),
	}

	if percentage <= 0 {
		f.percentage = f.calibrate(s, fullRelaxation)
	} else {
		f.percentage = percentage
	}

	return f
}

// FixingType reports the (possibly resolved-from-Automatic) fixing type in
// effect.
func (f *Fixer) FixingType() FixingType { return f.fixingType }

// Percentage reports the (possibly calibrated) fixing percentage in
// effect.
func (f *Fixer) Percentage() float64 { return f.percentage }

// score ranks a variable's consensus frequency for the configured fixing
// type; the consensus source is either the calibration relaxation or the
// per-call histogram.
func (f *Fixer) score(frac float64) float64 {
	switch f.fixingType {
	case MostOnes:
		return frac
	case MostZeros:
		return -frac
	default: // MostFractionals
		v := math.Abs(frac)
		if v > 0.5 {
			v = 1 - v
		}
		return v
	}
}

// rankByScore returns binaries sorted by descending score, ties broken by
// ascending index so the ranking is deterministic.
func (f *Fixer) rankByScore(values []float64) []int {
	order := append([]int(nil), f.binaries...)
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := f.score(values[order[a]]), f.score(values[order[b]])
		if sa != sb {
			return sa > sb
		}
		return order[a] < order[b]
	})
	return order
}

// probe checks whether fixing the given variables to the given values is
// LP-feasible, without mutating base.
func probe(base *solver.Solver, fixings map[int]float64) bool {
	trial := base.Clone()
	n := trial.NumVars()
	for j, v := range fixings {
		up := make([]float64, n)
		up[j] = 1
		trial.AddConstraint(up, v)
		down := make([]float64, n)
		down[j] = -1
		trial.AddConstraint(down, -v)
	}
	status, err := trial.SolveLP()
	return err == nil && status == solver.StatusOptimal
}

// commit permanently fixes j to v on f.working and records it. pending, if
// non-nil, additionally collects j so a caller can roll the whole batch
// back via undoPending.
func (f *Fixer) commit(j int, v float64, pending *[]int) {
	n := f.working.NumVars()
	up := make([]float64, n)
	up[j] = 1
	f.handles = append(f.handles, f.working.AddConstraint(up, v))
	down := make([]float64, n)
	down[j] = -1
	f.handles = append(f.handles, f.working.AddConstraint(down, -v))
	f.fixed[j] = v
	if pending != nil {
		*pending = append(*pending, j)
	}
}

// calibrate finds the largest feasible fixing block: starting from the
// full candidate block, probe feasibility and halve the block on failure
// until a feasible block size is found or the block collapses to <= 2, at
// which point it falls back to fixed default percentages.
func (f *Fixer) calibrate(base *solver.Solver, fullRelaxation []float64) float64 {
	order := f.rankByScore(fullRelaxation)
	numBinaries := len(order)
	if numBinaries == 0 {
		return 0
	}

	blockSize := numBinaries
	for blockSize > 2 {
		foundSize := false
		begin := 0
		for begin < len(order) {
			end := begin + blockSize
			if end > len(order) {
				end = len(order)
			}

			fixings := make(map[int]float64, end-begin)
			for _, j := range order[begin:end] {
				v := 0.0
				if fullRelaxation[j] > 0.5 {
					v = 1.0
				}
				fixings[j] = v
			}

			if probe(base, fixings) {
				foundSize = true
				break
			}
			begin = end
		}
		if foundSize {
			break
		}
		blockSize = int(math.Round(float64(blockSize) / 2.0))
	}

	if blockSize <= 2 {
		if f.fixingType == MostZeros {
			return 0.20
		}
		return 0.05
	}
	return float64(blockSize) / float64(numBinaries)
}

// Result is what one Fix call did.
type Result struct {
	// Fixed holds every binary Fix permanently committed (value 0 or 1).
	Fixed map[int]float64

	// Candidate, when CandidateFound is true, is a full integer-feasible
	// point discovered by the closing MILP probe.
	Candidate      []float64
	CandidateFound bool

	// Infeasible reports that the closing MILP probe proved the
	// committed fixings infeasible; every fixing from this call was
	// undone, and Fixed/Candidate are both empty.
	Infeasible bool
}

// Fix runs one histogram-based fixing pass over rounded (one []float64 per
// chromosome, e.g. package ofp's Result.Values); a binary counts as 1
// when its value exceeds 0.5.
func (f *Fixer) Fix(ctx context.Context, rounded [][]float64) Result {
	numChromosomes := len(rounded)
	histogram := make([]int, len(f.m.Variables))
	for _, chr := range rounded {
		for _, j := range f.binaries {
			if chr[j] > 0.5 {
				histogram[j]++
			}
		}
	}

	freq := make([]float64, len(f.m.Variables))
	for _, j := range f.binaries {
		if numChromosomes > 0 {
			freq[j] = float64(histogram[j]) / float64(numChromosomes)
		}
	}

	order := f.rankByScore(freq)
	numToFix := int(math.Floor(float64(len(order)) * f.percentage))
	if numToFix > len(order) {
		numToFix = len(order)
	}

	threshold := float64(numChromosomes) / 2.0
	startHandles := len(f.handles)
	var pending []int

	begin := 0
	for begin < numToFix {
		if ctx.Err() != nil {
			break
		}

		end := begin + subBlockSize
		if end > numToFix {
			end = numToFix
		}
		block := order[begin:end]

		candidates := make(map[int]float64, len(block))
		for _, j := range block {
			if _, already := f.fixed[j]; already {
				continue
			}
			v := 0.0
			if float64(histogram[j]) >= threshold {
				v = 1.0
			}
			candidates[j] = v
		}

		combined := make(map[int]float64, len(f.fixed)+len(candidates))
		for j, v := range f.fixed {
			combined[j] = v
		}
		for j, v := range candidates {
			combined[j] = v
		}

		if probe(f.working, combined) {
			for j, v := range candidates {
				f.commit(j, v, &pending)
			}
		} else {
			// Fall back to one-by-one: try the majority side, then the
			// opposite; drop the fixing entirely if both fail.
			for j, majority := range candidates {
				trial := map[int]float64{j: majority}
				for k, v := range f.fixed {
					trial[k] = v
				}
				if probe(f.working, trial) {
					f.commit(j, majority, &pending)
					continue
				}
				opposite := 1.0 - majority
				trial[j] = opposite
				if probe(f.working, trial) {
					f.commit(j, opposite, &pending)
				}
				// else: dropped, left free.
			}
		}

		begin = end
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeLimit)
	defer cancel()
	status, x, err := f.working.Clone().SolveMILP(probeCtx, solver.MILPOptions{Workers: 1})

	switch {
	case (status == solver.StatusOptimal || status == solver.StatusFeasible) && err == nil:
		result := Result{Fixed: copyFixed(f.fixed), Candidate: x, CandidateFound: true}
		return result

	case status == solver.StatusInfeasible:
		f.undo(startHandles, pending)
		return Result{Infeasible: true}

	default:
		// Aborted (timeout) or otherwise inconclusive: keep the fixings
		// as durable hints.
		return Result{Fixed: copyFixed(f.fixed)}
	}
}

// undo rolls back every constraint committed since handles[fromHandle:] and
// drops pending's variables from f.fixed, restoring f.working to the state
// before this Fix call.
func (f *Fixer) undo(fromHandle int, pending []int) {
	for _, h := range f.handles[fromHandle:] {
		f.working.RemoveConstraint(h)
	}
	f.handles = f.handles[:fromHandle]
	for _, j := range pending {
		delete(f.fixed, j)
	}
}

func copyFixed(m map[int]float64) map[int]float64 {
	out := make(map[int]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
