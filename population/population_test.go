package population

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew_AllocatesZeroedChromosomes(t *testing.T) {
	p := New(4, 3)
	assert.Equal(t, 4, p.N())
	assert.Equal(t, 3, p.P())
	for i := 0; i < 3; i++ {
		for _, v := range p.Chromosome(i) {
			assert.Equal(t, 0.0, v)
		}
	}
}

func TestSortFitness_MinimizeOrdersAscending(t *testing.T) {
	p := New(1, 4)
	p.SetFitness(0, 3.0)
	p.SetFitness(1, 1.0)
	p.SetFitness(2, 4.0)
	p.SetFitness(3, 2.0)
	p.SortFitness(false)

	idx, fit := p.Best()
	assert.Equal(t, 1, idx)
	assert.Equal(t, 1.0, fit)

	assert.Equal(t, []int{1, 3, 0, 2}, p.EliteIndices(4))
}

func TestSortFitness_MaximizeOrdersDescending(t *testing.T) {
	p := New(1, 3)
	p.SetFitness(0, 0.2)
	p.SetFitness(1, 0.9)
	p.SetFitness(2, 0.5)
	p.SortFitness(true)

	idx, fit := p.Best()
	assert.Equal(t, 1, idx)
	assert.Equal(t, 0.9, fit)
}

func TestElite_ReturnsKthBest(t *testing.T) {
	p := New(1, 3)
	p.SetFitness(0, 5.0)
	p.SetFitness(1, 1.0)
	p.SetFitness(2, 3.0)
	p.SortFitness(false)

	idx, fit := p.Elite(1)
	assert.Equal(t, 2, idx)
	assert.Equal(t, 3.0, fit)
}

func TestHeterogeneity_CountsDistinctHashesOverElite(t *testing.T) {
	p := New(1, 4)
	for i, f := range []float64{0, 1, 2, 3} {
		p.SetFitness(i, f)
	}
	p.SortFitness(false)

	hashes := map[int]string{0: "A", 1: "A", 2: "B", 3: "C"}
	het := p.Heterogeneity(4, func(index int) string { return hashes[index] })
	assert.InDelta(t, 3.0/4.0, het, 1e-9)
}

func TestHeterogeneity_ZeroEliteCountReturnsZero(t *testing.T) {
	p := New(1, 2)
	p.SortFitness(false)
	assert.Equal(t, 0.0, p.Heterogeneity(0, func(int) string { return "x" }))
}

func TestTotalLPCount_Accumulates(t *testing.T) {
	p := New(1, 1)
	p.AddLPCount(3)
	p.AddLPCount(2)
	assert.Equal(t, 5, p.TotalLPCount())
}
