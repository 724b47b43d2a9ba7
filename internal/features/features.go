// Package features defines the keypoint detection, description and
// matching capabilities the tracker consumes, and the robust matching
// policy built on top of them.
//
// Concrete detectors and extractors live outside this module;
// HammingMatcher is the in-tree brute-force matcher for binary descriptors.
package features

import (
	"image"

	"github.com/MilonLemon/pnp-demo/internal/geom"
)

// Keypoint is a detected image feature.
type Keypoint struct {
	Point    geom.Point2
	Size     float64
	Angle    float64
	Response float64
	Octave   int
}

// Descriptor is a binary feature descriptor.
type Descriptor []byte

// Match pairs descriptor Query of the query set with descriptor Train of
// the train set.
type Match struct {
	Query    int
	Train    int
	Distance float64
}

// Detector finds keypoints in a frame.
type Detector interface {
	Detect(img image.Image) ([]Keypoint, error)
}

// Extractor computes a descriptor per keypoint. It may drop keypoints it
// cannot describe; the returned slices are parallel.
type Extractor interface {
	Compute(img image.Image, kps []Keypoint) ([]Keypoint, []Descriptor, error)
}

// Matcher returns, for each query descriptor, up to k nearest train
// descriptors ordered by increasing distance.
type Matcher interface {
	KnnMatch(query, train []Descriptor, k int) ([][]Match, error)
}
