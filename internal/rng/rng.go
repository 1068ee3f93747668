// Package rng builds the per-thread random sources the engine hands to
// its workers: the engine, the GA operator, and each worker's decoder all
// derive their streams the same way from one configured run seed.
package rng

import "math/rand/v2"

// warmupDraws discards this many draws before a New-constructed Rand is
// handed to a caller.
const warmupDraws = 1000

// salt mirrors ofp.NewDecoder's own PCG construction
// (rand.NewPCG(seed, seed^0x2545f4914f6cdd1d)).
const salt = 0x2545f4914f6cdd1d

// New returns a warmed-up PCG source seeded from seed.
func New(seed uint64) *rand.Rand {
	r := rand.New(rand.NewPCG(seed, seed^salt))
	for i := 0; i < warmupDraws; i++ {
		r.Float64()
	}
	return r
}

// Derive produces an independent seed for worker index i from a single
// configured run seed, so per-thread RNGs never share a stream. Uses a
// splitmix64-style finalizer, a standard deterministic way to fan one seed
// into many without pulling in a second RNG family.
func Derive(seed uint64, i int) uint64 {
	z := seed + uint64(i+1)*0x9e3779b97f4a7c15
	z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
	z = (z ^ (z >> 27)) * 0x94d049bb133111eb
	return z ^ (z >> 31)
}
