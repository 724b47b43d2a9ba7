package features

import (
	"errors"
	"fmt"
	"image"
)

// DefaultRatio is the nearest/second-nearest distance ratio above which a
// match is considered ambiguous.
const DefaultRatio = 0.70

// ErrNoPipeline is returned by MatchFrame when the detector or extractor is
// missing.
var ErrNoPipeline = errors.New("features: detector and extractor are required")

// RobustMatcher filters raw k-nearest matches with a ratio test and,
// optionally, a symmetry test.
type RobustMatcher struct {
	Detector  Detector
	Extractor Extractor
	Matcher   Matcher
	Ratio     float64
}

// NewRobustMatcher returns a RobustMatcher with DefaultRatio. A nil matcher
// defaults to HammingMatcher.
func NewRobustMatcher(d Detector, e Extractor, m Matcher) *RobustMatcher {
	if m == nil {
		m = HammingMatcher{}
	}
	return &RobustMatcher{Detector: d, Extractor: e, Matcher: m, Ratio: DefaultRatio}
}

func (rm *RobustMatcher) ratio() float64 {
	if rm.Ratio <= 0 {
		return DefaultRatio
	}
	return rm.Ratio
}

// RatioTest clears every neighbour list whose best match is not clearly
// better than the runner-up, or which has fewer than two neighbours. It
// returns the number of cleared lists.
func (rm *RobustMatcher) RatioTest(knn [][]Match) int {
	ratio := rm.ratio()
	removed := 0
	for i, nn := range knn {
		if len(nn) == 0 {
			continue
		}
		if len(nn) < 2 || nn[1].Distance == 0 || nn[0].Distance/nn[1].Distance > ratio {
			knn[i] = nil
			removed++
		}
	}
	return removed
}

// SymmetryTest keeps matches whose best neighbour in one direction is also
// the best neighbour in the other direction. forward is query→train and
// backward is train→query.
func SymmetryTest(forward, backward [][]Match) []Match {
	best := make(map[int]int, len(backward))
	for _, nn := range backward {
		if len(nn) == 0 {
			continue
		}
		// backward Query indexes train; Train indexes query.
		best[nn[0].Query] = nn[0].Train
	}
	var out []Match
	for _, nn := range forward {
		if len(nn) == 0 {
			continue
		}
		m := nn[0]
		if q, ok := best[m.Train]; ok && q == m.Query {
			out = append(out, m)
		}
	}
	return out
}

// Match runs the two-way ratio and symmetry filtered match between query
// and train descriptors.
func (rm *RobustMatcher) Match(query, train []Descriptor) ([]Match, error) {
	forward, err := rm.Matcher.KnnMatch(query, train, 2)
	if err != nil {
		return nil, fmt.Errorf("features: forward match: %w", err)
	}
	backward, err := rm.Matcher.KnnMatch(train, query, 2)
	if err != nil {
		return nil, fmt.Errorf("features: backward match: %w", err)
	}
	rm.RatioTest(forward)
	rm.RatioTest(backward)
	return SymmetryTest(forward, backward), nil
}

// FastMatch runs a one-way ratio filtered match.
func (rm *RobustMatcher) FastMatch(query, train []Descriptor) ([]Match, error) {
	knn, err := rm.Matcher.KnnMatch(query, train, 2)
	if err != nil {
		return nil, fmt.Errorf("features: match: %w", err)
	}
	rm.RatioTest(knn)
	var out []Match
	for _, nn := range knn {
		if len(nn) > 0 {
			out = append(out, nn[0])
		}
	}
	return out, nil
}

// MatchFrame detects and describes keypoints in img, then fast-matches them
// against the model descriptors. The returned matches index the returned
// keypoints as Query and the model descriptors as Train.
func (rm *RobustMatcher) MatchFrame(img image.Image, model []Descriptor) ([]Match, []Keypoint, error) {
	if rm.Detector == nil || rm.Extractor == nil {
		return nil, nil, ErrNoPipeline
	}
	kps, err := rm.Detector.Detect(img)
	if err != nil {
		return nil, nil, fmt.Errorf("features: detect: %w", err)
	}
	kps, descs, err := rm.Extractor.Compute(img, kps)
	if err != nil {
		return nil, nil, fmt.Errorf("features: compute: %w", err)
	}
	matches, err := rm.FastMatch(descs, model)
	if err != nil {
		return nil, nil, err
	}
	return matches, kps, nil
}
