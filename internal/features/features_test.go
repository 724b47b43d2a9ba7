package features

import (
	"errors"
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MilonLemon/pnp-demo/internal/geom"
)

func descs(bs ...byte) []Descriptor {
	out := make([]Descriptor, len(bs))
	for i, b := range bs {
		out[i] = Descriptor{b}
	}
	return out
}

func TestHamming(t *testing.T) {
	t.Parallel()
	tests := []struct {
		a, b Descriptor
		want int
	}{
		{Descriptor{0x00}, Descriptor{0x00}, 0},
		{Descriptor{0x00}, Descriptor{0xFF}, 8},
		{Descriptor{0x0F, 0x01}, Descriptor{0x00, 0x03}, 5},
	}
	for _, tt := range tests {
		got, err := Hamming(tt.a, tt.b)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := Hamming(Descriptor{1}, Descriptor{1, 2})
	assert.Error(t, err)
}

func TestHammingMatcher_KnnMatch(t *testing.T) {
	t.Parallel()
	got, err := HammingMatcher{}.KnnMatch(descs(0x00), descs(0x0F, 0x00, 0xFF), 2)
	require.NoError(t, err)
	want := [][]Match{{{Query: 0, Train: 1, Distance: 0}, {Query: 0, Train: 0, Distance: 4}}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("KnnMatch mismatch (-want +got):\n%s", diff)
	}

	got, err = HammingMatcher{}.KnnMatch(descs(0x00), descs(0x01), 5)
	require.NoError(t, err)
	assert.Len(t, got[0], 1)

	_, err = HammingMatcher{}.KnnMatch(descs(0x00), descs(0x01), 0)
	assert.Error(t, err)
}

func TestRatioTest(t *testing.T) {
	t.Parallel()
	rm := NewRobustMatcher(nil, nil, nil)
	knn := [][]Match{
		{{Distance: 1}, {Distance: 10}}, // distinct
		{{Distance: 8}, {Distance: 10}}, // ambiguous
		{{Distance: 3}},                 // no runner-up
		{{Distance: 0}, {Distance: 0}},  // tie at zero
		nil,
	}
	removed := rm.RatioTest(knn)
	assert.Equal(t, 3, removed)
	assert.Len(t, knn[0], 2)
	assert.Nil(t, knn[1])
	assert.Nil(t, knn[2])
	assert.Nil(t, knn[3])
}

// query: 0x00, 0xFF, 0x07; train: 0xFF, 0x01, 0xF0.
// q2's best train (t1) prefers q0, so the symmetry test drops it.
var (
	testQuery = descs(0x00, 0xFF, 0x07)
	testTrain = descs(0xFF, 0x01, 0xF0)
)

func TestRobustMatcher_Match(t *testing.T) {
	t.Parallel()
	rm := NewRobustMatcher(nil, nil, HammingMatcher{})
	got, err := rm.Match(testQuery, testTrain)
	require.NoError(t, err)
	want := []Match{
		{Query: 0, Train: 1, Distance: 1},
		{Query: 1, Train: 0, Distance: 0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Match mismatch (-want +got):\n%s", diff)
	}
}

func TestRobustMatcher_FastMatch(t *testing.T) {
	t.Parallel()
	rm := NewRobustMatcher(nil, nil, nil)
	got, err := rm.FastMatch(testQuery, testTrain)
	require.NoError(t, err)
	want := []Match{
		{Query: 0, Train: 1, Distance: 1},
		{Query: 1, Train: 0, Distance: 0},
		{Query: 2, Train: 1, Distance: 2},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("FastMatch mismatch (-want +got):\n%s", diff)
	}
}

type fakeDetector struct {
	kps []Keypoint
	err error
}

func (d fakeDetector) Detect(image.Image) ([]Keypoint, error) { return d.kps, d.err }

type fakeExtractor struct{ descs []Descriptor }

func (e fakeExtractor) Compute(_ image.Image, kps []Keypoint) ([]Keypoint, []Descriptor, error) {
	return kps, e.descs, nil
}

func TestRobustMatcher_MatchFrame(t *testing.T) {
	t.Parallel()
	kps := []Keypoint{
		{Point: geom.Point2{X: 1, Y: 1}},
		{Point: geom.Point2{X: 2, Y: 2}},
		{Point: geom.Point2{X: 3, Y: 3}},
	}
	img := image.NewGray(image.Rect(0, 0, 4, 4))
	rm := NewRobustMatcher(fakeDetector{kps: kps}, fakeExtractor{descs: testQuery}, nil)

	matches, gotKps, err := rm.MatchFrame(img, testTrain)
	require.NoError(t, err)
	assert.Len(t, matches, 3)
	assert.Equal(t, kps, gotKps)

	_, _, err = NewRobustMatcher(nil, nil, nil).MatchFrame(img, testTrain)
	assert.ErrorIs(t, err, ErrNoPipeline)

	boom := errors.New("boom")
	rm.Detector = fakeDetector{err: boom}
	_, _, err = rm.MatchFrame(img, testTrain)
	assert.ErrorIs(t, err, boom)
}
