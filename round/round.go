// Package round implements the propagation-aware rounding projector: given
// a fractional point and a domain baseline, it decides each unfixed binary
// one at a time, in ranked order, letting the propagation engine fix
// whatever variables follow as a side effect.
package round

import (
	"math"

	"github.com/jjhbw/feaspump/domain"
)

// Ranker orders the unfixed binaries a Round call should decide first.
// The order matters: once a variable is decided, propagation may fix
// others as a side effect, shrinking the set Round still has to choose
// for itself.
type Ranker interface {
	Order(x []float64, binaryIdx []int) []int
}

// MostFractionalFirst orders variables by how close their fractional
// value sits to 1/2, closest first, ties broken by variable index so the
// order stays deterministic.
type MostFractionalFirst struct{}

func (MostFractionalFirst) Order(x []float64, binaryIdx []int) []int {
	order := append([]int(nil), binaryIdx...)

	remainder := func(j int) float64 {
		_, f := math.Modf(x[j])
		if f < 0 {
			f += 1
		}
		return math.Abs(0.5 - f)
	}

	// insertion sort: these slices are small (number of binaries per
	// decoding step), and a stable, allocation-free sort keeps the
	// deterministic tie-break trivial to reason about.
	for i := 1; i < len(order); i++ {
		j := i
		for j > 0 {
			a, b := order[j-1], order[j]
			ra, rb := remainder(a), remainder(b)
			if ra < rb || (ra == rb && a <= b) {
				break
			}
			order[j-1], order[j] = order[j], order[j-1]
			j--
		}
	}
	return order
}

// ThresholdSource supplies the rounding threshold t for variable j: the
// variable rounds up when its fractional value is >= t.
type ThresholdSource interface {
	Threshold(j int) float64
}

// FixedThreshold is the deterministic default: the same threshold (0.5,
// plain rounding) for every variable and every call.
type FixedThreshold float64

func (t FixedThreshold) Threshold(int) float64 { return float64(t) }

// SeededThreshold (opt-in jittered threshold) lives in threshold_seeded.go.

// Result is what a single Round call decided.
type Result struct {
	// Values holds the rounded value for every variable Round touched
	// (the binaries reachable from binaryIdx, including ones fixed only
	// as a propagation side effect). Untouched entries are left at NaN.
	Values []float64

	// PropagationFailed reports whether propagation reached
	// infeasibility partway through. When true, every variable the loop
	// had not yet decided was rounded by plain round-half-up instead.
	PropagationFailed bool
}

// Round decides every variable in binaryIdx against dom, which must
// already be restored to the baseline the caller wants to round from.
// dom is mutated in place: each decision is applied via FixUp/FixDown and
// propagated immediately, so the domain dom leaves with reflects exactly
// what was fixed (or, on failure, whatever got fixed before the failure).
func Round(x []float64, binaryIdx []int, dom *domain.Domain, ranker Ranker, thresh ThresholdSource) Result {
	if ranker == nil {
		ranker = MostFractionalFirst{}
	}
	if thresh == nil {
		thresh = FixedThreshold(0.5)
	}

	values := make([]float64, len(x))
	for i := range values {
		values[i] = math.NaN()
	}

	order := ranker.Order(x, binaryIdx)
	failed := false

	for _, j := range order {
		if !math.IsNaN(values[j]) {
			continue
		}

		if failed {
			values[j] = math.Round(x[j])
			continue
		}

		if dom.IsFixed(j) {
			// Fixed already, either at model load or as a side effect of
			// a propagation triggered earlier in this loop.
			values[j] = dom.LB(j)
			continue
		}

		up := x[j] >= thresh.Threshold(j)
		if up {
			dom.FixUp(j)
			values[j] = 1
		} else {
			dom.FixDown(j)
			values[j] = 0
		}

		if err := dom.Propagate(); err != nil {
			failed = true
		}
	}

	return Result{Values: values, PropagationFailed: failed}
}
