package engine

import (
	"math/rand/v2"

	"github.com/jjhbw/feaspump/population"
)

// GAParams configures the biased random-key reproduction operator: elites
// are copied verbatim, p-pe-pm offspring are built by biased crossover
// between one uniformly-chosen elite parent and one uniformly-chosen
// non-elite parent, and the remaining pm chromosomes are replaced by
// fresh random keys ("mutants").
type GAParams struct {
	// EliteFraction is pe/p: the share of each generation carried over
	// unchanged, best fitness first.
	EliteFraction float64

	// MutantFraction is pm/p: the share of each generation replaced with
	// fresh uniform-random chromosomes every generation.
	MutantFraction float64

	// EliteBias is rhoe: the per-gene probability an offspring inherits
	// from its elite parent rather than its non-elite parent.
	EliteBias float64
}

// DefaultGAParams returns common biased random-key GA settings.
func DefaultGAParams() GAParams {
	return GAParams{EliteFraction: 0.2, MutantFraction: 0.15, EliteBias: 0.7}
}

// eliteCount and mutantCount clamp GAParams's fractions into valid
// chromosome counts for a population of size p: pe is at least 1 and
// pe+pm never exceeds p.
func eliteCount(p int, params GAParams) int {
	pe := int(params.EliteFraction * float64(p))
	if pe < 1 {
		pe = 1
	}
	if pe > p {
		pe = p
	}
	return pe
}

func mutantCount(p, pe int, params GAParams) int {
	pm := int(params.MutantFraction * float64(p))
	if pm < 0 {
		pm = 0
	}
	if pm > p-pe {
		pm = p - pe
	}
	return pm
}

// seedRandom fills every chromosome of pop with fresh uniform-random keys,
// the generation-0 initialization before any decoding has happened.
func seedRandom(pop *population.Population, rng *rand.Rand) {
	for i := 0; i < pop.P(); i++ {
		chr := pop.Chromosome(i)
		for g := range chr {
			chr[g] = rng.Float64()
		}
	}
}

// evolve writes generation curr+1 into next (both already allocated to the
// same n, p). curr must already be sorted by fitness, best first. next's
// chromosomes are overwritten in place; next's fitness is stale until the
// caller decodes them.
func evolve(curr, next *population.Population, params GAParams, rng *rand.Rand) {
	p := curr.P()
	n := curr.N()

	pe := eliteCount(p, params)
	pm := mutantCount(p, pe, params)

	eliteIdx := curr.EliteIndices(pe)
	for i, srcIdx := range eliteIdx {
		copy(next.Chromosome(i), curr.Chromosome(srcIdx))
	}

	for i := pe; i < p-pm; i++ {
		eliteParent := eliteIdx[rng.IntN(pe)]
		nonEliteParent, _ := curr.Elite(pe + rng.IntN(p-pe))

		eliteChr := curr.Chromosome(eliteParent)
		nonEliteChr := curr.Chromosome(nonEliteParent)
		child := next.Chromosome(i)
		for g := 0; g < n; g++ {
			if rng.Float64() < params.EliteBias {
				child[g] = eliteChr[g]
			} else {
				child[g] = nonEliteChr[g]
			}
		}
	}

	for i := p - pm; i < p; i++ {
		child := next.Chromosome(i)
		for g := range child {
			child[g] = rng.Float64()
		}
	}
}
