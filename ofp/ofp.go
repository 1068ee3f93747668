// Package ofp implements the objective feasibility pump decode: given a
// chromosome's fractional point, alternately round it and re-project
// through an LP whose objective blends "stay close to the rounding" with a
// decaying weight toward the original objective, until an integer-feasible
// point is found or the iteration budget runs out.
package ofp

import (
	"context"
	"math"
	"math/rand/v2"

	"github.com/jjhbw/feaspump/domain"
	"github.com/jjhbw/feaspump/model"
	"github.com/jjhbw/feaspump/round"
	"github.com/jjhbw/feaspump/solver"
)

const eps = 1e-6

// Strategy selects whether alpha starts at 1 (Objective FP, blending the
// original objective in from iteration 1) or 0 (classic FP, which only
// minimizes distance to the rounding until perturbation kicks in).
type Strategy int

const (
	StrategyObjective Strategy = iota
	StrategyClassic
)

// FitnessRule selects how Result.Fitness combines distance and
// non-integrality.
type FitnessRule int

const (
	FitnessConvex FitnessRule = iota
	FitnessGeometric
)

// Params configures one Decoder's pump behavior. Zero-value Params is not
// usable; see NewParams for sensible defaults.
type Params struct {
	Strategy Strategy

	Phi   float64 // objective decay per iteration, in [0,1]
	Delta float64 // cycle-detection tolerance, in [0,1]

	IterationLimit int // consecutive no-improvement rounds before stopping

	// Weak-perturbation flip-count band: on short cycling, flip a random
	// count in [T/2, 3T/2) of the bits whose LP value lies closest to
	// their rounding.
	T int

	// Strong-perturbation band: on long cycling, a binary flips if
	// |rounded-LP| + max(U(RhoLB,RhoUB), 0) > 0.5.
	RhoLB, RhoUB float64

	PerturbWhenCycling bool

	FitnessRule        FitnessRule
	MinimizationFactor float64 // beta in [0,1], owned by the outer engine

	// JitterThreshold opts into a per-call randomised rounding threshold
	// (round.SeededThreshold) seeded by each Decode call's decodingSeed,
	// instead of the deterministic round.FixedThreshold(0.5) default.
	JitterThreshold bool
}

// NewParams returns usable pump defaults.
func NewParams() Params {
	return Params{
		Strategy:           StrategyObjective,
		Phi:                0.9,
		Delta:              0.01,
		IterationLimit:     50,
		T:                  20,
		RhoLB:              0.0,
		RhoUB:              0.5,
		PerturbWhenCycling: true,
		FitnessRule:        FitnessConvex,
		MinimizationFactor: 0.5,
	}
}

// Result is what one Decode call produced.
type Result struct {
	// Values holds every variable's value at the returned point: the
	// integer-feasible LP projection, or else the projection with the
	// smallest Distance (the starting point if no projection was solved).
	// When IntegerFeasible is false, binaries may be fractional.
	Values []float64

	// IntegerFeasible reports whether the pump terminated with a point
	// satisfying all binary integrality.
	IntegerFeasible bool

	Distance       float64 // best Δ = Σ_{j∈B} |x̃_j - x̄_j|
	Fractionality  float64
	NumNonIntegral int
	Iterations     int

	// Fitness is the scalar performance value the outer GA ranks on.
	Fitness float64
}

// Decoder runs the pump for one goroutine: it owns its own solver clone,
// rounder, RNG and scratch buffers so concurrent decodes never share
// mutable state.
type Decoder struct {
	s        *solver.Solver
	m        *model.Model
	binaries []int
	cNorm    float64

	params Params
	rng    *rand.Rand
	ranker round.Ranker
}

// NewDecoder builds a Decoder over s, which must already be configured with
// m's constraints (s.NumVars() == len(m.Variables)). s is used and mutated
// freely (its objective is overwritten every iteration); callers should
// pass a Solver.Clone() dedicated to this Decoder.
func NewDecoder(s *solver.Solver, m *model.Model, params Params, seed uint64) *Decoder {
	return &Decoder{
		s:        s,
		m:        m,
		binaries: m.BinaryIndices(),
		cNorm:    m.ObjectiveNorm(),
		params:   params,
		rng:      rand.New(rand.NewPCG(seed, seed^0x2545f4914f6cdd1d)),
		ranker:   round.MostFractionalFirst{},
	}
}

// Decode runs the pump starting from x (a full-width point, typically the
// chromosome's LP relaxation), against dom (a Domain already restored to
// the baseline the caller wants to pump from; Decode snapshots and restores
// it around each rounding attempt). decodingSeed is the chromosome's
// trailing gene; it only matters when Params.JitterThreshold is set. ctx
// is polled once per pump iteration: on cancellation Decode returns the
// best point found so far rather than running to its own iteration limit.
func (d *Decoder) Decode(ctx context.Context, x []float64, dom *domain.Domain, decodingSeed float64) Result {
	n := len(x)
	numBinaries := len(d.binaries)

	var thresh round.ThresholdSource = round.FixedThreshold(0.5)
	if d.params.JitterThreshold {
		thresh = round.NewSeededThreshold(seedFromGene(decodingSeed))
	}

	alpha := 1.0
	if d.params.Strategy == StrategyClassic {
		alpha = 0.0
	}

	current := append([]float64(nil), x...)
	previous := make([]float64, n)
	for _, j := range d.binaries {
		previous[j] = d.rng.Float64()
	}

	checkedSolutions := make(map[string]float64)

	best := Result{Distance: math.Inf(1), Fractionality: math.Inf(1), NumNonIntegral: math.MaxInt32}
	bestPoint := append([]float64(nil), x...)

	iteration := 1
	iterWithoutImprovement := 0

	for {
		if ctx.Err() != nil {
			break
		}

		baseline := dom.Dump()
		rres := round.Round(current, d.binaries, dom, d.ranker, thresh)
		rounded := append([]float64(nil), current...)
		for _, j := range d.binaries {
			if !math.IsNaN(rres.Values[j]) {
				rounded[j] = rres.Values[j]
			}
		}
		dom.Restore(baseline)

		sameAsPrevious := true
		for _, j := range d.binaries {
			if math.Abs(rounded[j]-previous[j]) > eps {
				sameAsPrevious = false
				break
			}
		}

		if sameAsPrevious {
			if !d.params.PerturbWhenCycling {
				break
			}
			d.weakPerturb(current, rounded)
		}

		hash := hashRounding(rounded, d.binaries)
		if storedAlpha, seen := checkedSolutions[hash]; seen && storedAlpha-alpha < d.params.Delta {
			if !d.params.PerturbWhenCycling {
				break
			}
			d.strongPerturb(current, rounded)
		} else {
			checkedSolutions[hash] = alpha
		}

		obj, _ := d.pumpObjective(rounded, alpha, numBinaries)
		d.s.SetObjective(obj)
		status, err := d.s.SolveLP()
		if err != nil || (status != solver.StatusOptimal && status != solver.StatusFeasible) {
			// The LP projection failed outright (degenerate/infeasible
			// pump system): stop with whatever best we already have.
			break
		}

		next := d.s.Primal()

		dist := 0.0
		violations := 0
		fractionality := 0.0
		for _, j := range d.binaries {
			v := next[j]
			if v > eps && v < 1-eps {
				violations++
			}
			dist += math.Abs(v - rounded[j])
			fractionality += math.Abs(v - math.Floor(v+0.5))
		}

		if violations == 0 {
			point := append([]float64(nil), next...)
			return Result{
				Values:          point,
				IntegerFeasible: true,
				Distance:        0,
				Fractionality:   0,
				NumNonIntegral:  0,
				Iterations:      iteration,
				Fitness:         0,
			}
		}

		if best.Distance-dist > eps {
			best.Distance = dist
			best.Fractionality = fractionality
			best.NumNonIntegral = violations
			copy(bestPoint, next)
			iterWithoutImprovement = 0
		} else {
			iterWithoutImprovement++
		}

		current = append([]float64(nil), next...)
		copy(previous, rounded)

		alpha *= d.params.Phi
		iteration++

		if iterWithoutImprovement == d.params.IterationLimit {
			break
		}
	}

	best.Values = bestPoint
	best.IntegerFeasible = false
	best.Iterations = iteration
	best.Fitness = d.fitness(best)
	return best
}

// pumpObjective builds the pump's LP objective: for each binary rounded to
// one of its bounds, a unit contribution pulling it back toward that
// bound, plus the original objective scaled by alpha and the
// sqrt(|B|)/||c|| normalization, sign-flipped under maximization so the
// pump always minimizes.
func (d *Decoder) pumpObjective(rounded []float64, alpha float64, numBinaries int) (obj []float64, constant float64) {
	n := d.s.NumVars()
	obj = make([]float64, n)

	localNorm := 0.0
	if d.params.Strategy == StrategyObjective {
		localNorm = math.Sqrt(float64(numBinaries))
	}

	for _, j := range d.binaries {
		ub := d.m.Variables[j].Upper
		lb := d.m.Variables[j].Lower
		switch {
		case rounded[j]+eps > ub:
			obj[j] += -(1 - alpha)
			constant += ub
		case rounded[j]-eps < lb:
			obj[j] += (1 - alpha)
			constant += lb
		}
	}
	constant *= 1 - alpha

	if d.cNorm > eps {
		scale := alpha * localNorm / d.cNorm
		sign := 1.0
		if d.m.Maximize {
			sign = -1.0
		}
		for j, v := range d.m.Variables {
			obj[j] += sign * scale * v.Obj
		}
	}

	return obj, constant
}

// weakPerturb flips the rand(T/2, 3T/2) binaries whose |current-rounded|
// gap is smallest, breaking a short cycle (same rounding twice in a row).
func (d *Decoder) weakPerturb(current, rounded []float64) {
	type gap struct {
		diff float64
		idx  int
	}
	gaps := make([]gap, len(d.binaries))
	for i, j := range d.binaries {
		gaps[i] = gap{math.Abs(current[j] - rounded[j]), j}
	}
	for i := 1; i < len(gaps); i++ {
		k := i
		for k > 0 && (gaps[k-1].diff > gaps[k].diff || (gaps[k-1].diff == gaps[k].diff && gaps[k-1].idx > gaps[k].idx)) {
			gaps[k-1], gaps[k] = gaps[k], gaps[k-1]
			k--
		}
	}

	lo := d.params.T / 2
	hi := 3 * d.params.T / 2
	if hi <= lo {
		hi = lo + 1
	}
	if hi > len(gaps) {
		hi = len(gaps)
	}
	if lo > hi {
		lo = hi
	}
	count := lo
	if hi > lo {
		count = lo + d.rng.IntN(hi-lo)
	}

	for i := 0; i < count && i < len(gaps); i++ {
		j := gaps[i].idx
		rounded[j] = 1.0 - rounded[j]
	}
}

// strongPerturb flips every binary whose rounded/current gap plus a random
// band exceeds 0.5, breaking a long cycle (a rounding re-seen at a close
// alpha).
func (d *Decoder) strongPerturb(current, rounded []float64) {
	for _, j := range d.binaries {
		band := d.params.RhoLB + d.rng.Float64()*(d.params.RhoUB-d.params.RhoLB)
		if band < 0 {
			band = 0
		}
		if math.Abs(rounded[j]-current[j])+band > 0.5 {
			rounded[j] = 1.0 - rounded[j]
		}
	}
}

// seedFromGene turns a chromosome's trailing [0,1) gene into a PCG seed,
// deterministically, so the same gene always yields the same jitter stream.
func seedFromGene(g float64) uint64 {
	if g < 0 {
		g = 0
	}
	if g >= 1 {
		g = 0.999999999
	}
	return uint64(g * (1 << 53))
}

// SetMinimizationFactor updates beta between generations without
// disturbing the Decoder's persistent per-thread RNG stream.
func (d *Decoder) SetMinimizationFactor(beta float64) {
	d.params.MinimizationFactor = beta
}

// hashRounding encodes the rounded binaries as a string key, one '0' or
// '1' byte per binary, used for cycle detection.
func hashRounding(rounded []float64, binaries []int) string {
	buf := make([]byte, len(binaries))
	for i, j := range binaries {
		if rounded[j] < eps {
			buf[i] = '0'
		} else {
			buf[i] = '1'
		}
	}
	return string(buf)
}

// fitness combines Distance and NumNonIntegral under the configured rule.
func (d *Decoder) fitness(r Result) float64 {
	beta := d.params.MinimizationFactor
	dist := r.Distance
	nonInt := float64(r.NumNonIntegral)

	switch d.params.FitnessRule {
	case FitnessGeometric:
		if dist < 0 {
			dist = 0
		}
		if nonInt < 0 {
			nonInt = 0
		}
		return math.Pow(dist, beta) * math.Pow(nonInt, 1-beta)
	default: // FitnessConvex
		return beta*dist + (1-beta)*nonInt
	}
}
