package candidates

import (
	"math"
	"math/bits"
	"math/rand/v2"

	"github.com/cespare/xxhash/v2"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate"

	"github.com/kennylajara/news/pkg/tokenindex"
)

const (
	mersennePrime = (1 << 61) - 1
	maxHash       = (1 << 32) - 1
)

// Signature is a MinHash sketch; one minimum per permutation.
type Signature []uint64

// MinHasher computes signatures with universal hashing
// (a*x + b) mod (2^61 - 1) over a 32-bit xxhash of each shingle.
type MinHasher struct {
	a, b []uint64
}

// NewMinHasher draws numPerm permutations from a seeded generator, so two
// hashers with the same arguments produce identical signatures.
func NewMinHasher(numPerm int, seed uint64) *MinHasher {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	h := &MinHasher{
		a: make([]uint64, numPerm),
		b: make([]uint64, numPerm),
	}
	for i := range numPerm {
		h.a[i] = 1 + r.Uint64N(mersennePrime-1)
		h.b[i] = r.Uint64N(mersennePrime)
	}
	return h
}

// NumPerm returns the signature length.
func (h *MinHasher) NumPerm() int { return len(h.a) }

// Sign computes the signature of a shingle set. An empty set yields the
// all-max signature, which only collides with other empty sets.
func (h *MinHasher) Sign(shingles []string) Signature {
	sig := make(Signature, len(h.a))
	for i := range sig {
		sig[i] = maxHash
	}
	for _, s := range shingles {
		hv := xxhash.Sum64String(s) & maxHash
		for i := range sig {
			if v := permute(h.a[i], h.b[i], hv) & maxHash; v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}

func permute(a, b, x uint64) uint64 {
	hi, lo := bits.Mul64(a, x)
	lo, carry := bits.Add64(lo, b, 0)
	return bits.Rem64(hi+carry, lo, mersennePrime)
}

// Shingles returns the distinct character bigrams of the normalized name.
// A one-rune name is its own single shingle.
func Shingles(name string) []string {
	rs := []rune(tokenindex.NormalizeName(name))
	switch len(rs) {
	case 0:
		return nil
	case 1:
		return []string{string(rs)}
	}
	seen := make(map[string]bool, len(rs))
	out := make([]string, 0, len(rs)-1)
	for i := 0; i+1 < len(rs); i++ {
		sh := string(rs[i : i+2])
		if !seen[sh] {
			seen[sh] = true
			out = append(out, sh)
		}
	}
	return out
}

// Jaccard returns |a ∩ b| / |a ∪ b| for two shingle sets.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]uint8, len(a)+len(b))
	for _, s := range a {
		set[s] |= 1
	}
	for _, s := range b {
		set[s] |= 2
	}
	inter := 0
	for _, v := range set {
		if v == 3 {
			inter++
		}
	}
	return float64(inter) / float64(len(set))
}

const integrationSteps = 1000

// probability that a pair with similarity s shares at least one bucket
func collision(s float64, bands, rows int) float64 {
	return 1 - math.Pow(1-math.Pow(s, float64(rows)), float64(bands))
}

func integral(f func(float64) float64, lo, hi float64) float64 {
	if hi <= lo {
		return 0
	}
	x := floats.Span(make([]float64, integrationSteps+1), lo, hi)
	y := make([]float64, len(x))
	for i, v := range x {
		y[i] = f(v)
	}
	return integrate.Trapezoidal(x, y)
}

// OptimalParams picks bands and rows (bands*rows <= numPerm) minimizing the
// equally weighted false positive and false negative areas around the
// Jaccard threshold.
func OptimalParams(threshold float64, numPerm int) (bands, rows int) {
	const fpWeight, fnWeight = 0.5, 0.5
	minErr := math.Inf(1)
	for b := 1; b <= numPerm; b++ {
		for r := 1; r <= numPerm/b; r++ {
			fp := integral(func(s float64) float64 { return collision(s, b, r) }, 0, threshold)
			fn := integral(func(s float64) float64 { return 1 - collision(s, b, r) }, threshold, 1)
			if e := fp*fpWeight + fn*fnWeight; e < minErr {
				minErr = e
				bands, rows = b, r
			}
		}
	}
	return bands, rows
}
