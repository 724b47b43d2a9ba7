package features

import (
	"fmt"
	"math/bits"
	"sort"
)

// HammingMatcher is a brute-force matcher over binary descriptors.
type HammingMatcher struct{}

var _ Matcher = HammingMatcher{}

// Hamming returns the number of differing bits between a and b, which must
// have equal length.
func Hamming(a, b Descriptor) (int, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("features: descriptor lengths differ: %d vs %d", len(a), len(b))
	}
	d := 0
	for i := range a {
		d += bits.OnesCount8(a[i] ^ b[i])
	}
	return d, nil
}

// KnnMatch implements Matcher. Ties keep the lower train index first.
func (HammingMatcher) KnnMatch(query, train []Descriptor, k int) ([][]Match, error) {
	if k < 1 {
		return nil, fmt.Errorf("features: k must be positive, got %d", k)
	}
	out := make([][]Match, len(query))
	cand := make([]Match, len(train))
	for qi, q := range query {
		for ti, t := range train {
			d, err := Hamming(q, t)
			if err != nil {
				return nil, err
			}
			cand[ti] = Match{Query: qi, Train: ti, Distance: float64(d)}
		}
		sort.SliceStable(cand, func(i, j int) bool { return cand[i].Distance < cand[j].Distance })
		n := min(k, len(cand))
		out[qi] = append([]Match(nil), cand[:n]...)
	}
	return out, nil
}
