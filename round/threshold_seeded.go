package round

import "math/rand/v2"

// jitterHalfWidth bounds how far a SeededThreshold can stray from the
// deterministic 0.5 cutoff. Keeping the jitter narrow means a seeded run
// still rounds close to the model's own fractional values.
const jitterHalfWidth = 0.1

// SeededThreshold draws a fresh threshold per call from an RNG seeded by
// the decoding seed (the chromosome's trailing gene). Two SeededThreshold
// values built from the same seed draw the same sequence, so a rounding
// run stays reproducible given its chromosome.
type SeededThreshold struct {
	rng *rand.Rand
}

// NewSeededThreshold builds a threshold source seeded deterministically
// from seed. rand.NewPCG takes two 64-bit halves; mixing the seed with a
// fixed odd constant keeps both halves well distributed for a single
// uint64 input.
func NewSeededThreshold(seed uint64) *SeededThreshold {
	return &SeededThreshold{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (s *SeededThreshold) Threshold(int) float64 {
	return 0.5 + (s.rng.Float64()-0.5)*2*jitterHalfWidth
}
