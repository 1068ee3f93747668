// Package population implements the population & fitness container: an
// array of chromosomes with parallel (fitness, original-index) pairs kept
// sorted best-first after every decoding wave, plus a read-only
// heterogeneity projection over the elite subset.
package population

import "sort"

// Chromosome is one candidate solution: a vector of "random keys" in [0,1)
// that a decoder turns into a point over the model's variables.
type Chromosome []float64

// ranked pairs one chromosome's fitness with its original population slot.
type ranked struct {
	fitness float64
	index   int
}

// Population holds p chromosomes of width n plus their fitness ranking.
// Chromosomes and their fitness pairs are stored in parallel arrays;
// SortFitness must be called after every fitness assignment wave before
// the ranked accessors (Best, Elite, Heterogeneity) are valid.
type Population struct {
	chromosomes []Chromosome
	fit         []ranked

	// lpCount accumulates the total number of LP solves attributed to
	// this population's decodes, incremented by the caller via AddLPCount
	// since decoding itself lives in package ofp, outside Population's
	// responsibility.
	lpCount int

	sorted bool
}

// New allocates a population of p chromosomes, each of width n, all zeroed.
func New(n, p int) *Population {
	chrs := make([]Chromosome, p)
	fit := make([]ranked, p)
	for i := range chrs {
		chrs[i] = make(Chromosome, n)
		fit[i] = ranked{index: i}
	}
	return &Population{chromosomes: chrs, fit: fit}
}

// N returns the chromosome width.
func (p *Population) N() int {
	if len(p.chromosomes) == 0 {
		return 0
	}
	return len(p.chromosomes[0])
}

// P returns the population size.
func (p *Population) P() int { return len(p.chromosomes) }

// Chromosome returns a mutable reference to chromosome i in storage (slot)
// order, i.e. before sorting is applied — the order a GA's crossover/bias
// operators write into.
func (p *Population) Chromosome(i int) Chromosome { return p.chromosomes[i] }

// SetFitness records chromosome i's fitness from the most recent decode.
// Invalidates the sort order until SortFitness is called again.
func (p *Population) SetFitness(i int, f float64) {
	p.fit[i] = ranked{fitness: f, index: i}
	p.sorted = false
}

// AddLPCount attributes n more LP solves to this population's running
// total.
func (p *Population) AddLPCount(n int) { p.lpCount += n }

// TotalLPCount returns the running total of LP solves across every decode
// this population has gone through.
func (p *Population) TotalLPCount() int { return p.lpCount }

// SortFitness orders the fitness/index pairs best-first: ascending when
// maximize is false (fitness is a distance-like quantity to minimize),
// descending when true.
func (p *Population) SortFitness(maximize bool) {
	sort.SliceStable(p.fit, func(i, j int) bool {
		if maximize {
			return p.fit[i].fitness > p.fit[j].fitness
		}
		return p.fit[i].fitness < p.fit[j].fitness
	})
	p.sorted = true
}

// Best returns the best-ranked chromosome's original index and fitness.
// Requires a prior call to SortFitness.
func (p *Population) Best() (index int, fitness float64) {
	return p.fit[0].index, p.fit[0].fitness
}

// Elite returns the original index and fitness of the k-th best-ranked
// chromosome (0 = best). Requires a prior call to SortFitness.
func (p *Population) Elite(k int) (index int, fitness float64) {
	return p.fit[k].index, p.fit[k].fitness
}

// EliteIndices returns the original indices of the best count chromosomes,
// best first. Requires a prior call to SortFitness.
func (p *Population) EliteIndices(count int) []int {
	if count > len(p.fit) {
		count = len(p.fit)
	}
	idx := make([]int, count)
	for i := 0; i < count; i++ {
		idx[i] = p.fit[i].index
	}
	return idx
}

// Heterogeneity is a read-only diversity projection: the count of distinct
// rounding hashes over the elite subset, divided by elite size. hashOf
// maps a chromosome's original index to whatever signature the caller
// wants deduplicated on (e.g. a bit-packed rounding hash); Population has
// no notion of rounding itself, so the hash function is supplied rather
// than computed here.
func (p *Population) Heterogeneity(eliteCount int, hashOf func(index int) string) float64 {
	if eliteCount <= 0 {
		return 0
	}
	if eliteCount > len(p.fit) {
		eliteCount = len(p.fit)
	}
	seen := make(map[string]struct{}, eliteCount)
	for i := 0; i < eliteCount; i++ {
		seen[hashOf(p.fit[i].index)] = struct{}{}
	}
	return float64(len(seen)) / float64(eliteCount)
}
