// Package sampler implements Efraimidis–Spirakis weighted reservoir
// sampling without replacement: given positive weights and a desired
// count k, it returns k distinct indices with inclusion probability
// proportional to weight.
//
// New to this repository (the teacher's Srskip-shadowgate/proxy.NextWeighted
// does single-draw cumulative-weight selection; this generalizes that
// idea to a k-at-a-time draw without replacement, as the selector's
// three tiers require).
package sampler

import (
	"math"
	"sort"
)

// RNG is the minimal randomness source the sampler needs. Inject a
// *rand.Rand (or any seeded equivalent) for deterministic tests.
type RNG interface {
	Float64() float64
}

// Sample returns the indices of the k smallest Efraimidis–Spirakis keys
// over weights, in ascending key order (the strongest draw first).
//
//   - k <= 0 returns nil.
//   - k >= len(weights) returns all indices, still ordered by key.
//   - Every weight must be strictly positive; the caller is responsible
//     for substituting a floor value for zero-health entries (the
//     selector substitutes 0.1 for Dead backends before calling this).
func Sample(weights []float64, k int, rng RNG) []int {
	n := len(weights)
	if k <= 0 || n == 0 {
		return nil
	}
	if k > n {
		k = n
	}

	type keyed struct {
		idx int
		key float64
	}
	keys := make([]keyed, n)
	for i, w := range weights {
		u := rng.Float64()
		keys[i] = keyed{idx: i, key: -math.Log(u) / w}
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].key < keys[j].key })

	out := make([]int, k)
	for i := 0; i < k; i++ {
		out[i] = keys[i].idx
	}
	return out
}
