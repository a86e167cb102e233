package pano

import (
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomDescriptor(rng *rand.Rand, n int) []float64 {
	d := make([]float64, n)
	for i := range d {
		d[i] = float64(rng.IntN(256))
	}
	return d
}

// shiftedPair makes n features scattered over a 200x150 image, and the
// same features as seen in an image displaced by (dx, dy). The right
// set is in reverse order so that indices don't line up.
func shiftedPair(n int, dx, dy float64, seed uint64) (FeatureSet, FeatureSet) {
	rng := rand.New(rand.NewPCG(seed, 99))
	left, right := FeatureSet{}, FeatureSet{}
	for i := 0; i < n; i++ {
		f := Feature{X: 60 + rng.Float64()*130, Y: rng.Float64() * 150, Descriptor: randomDescriptor(rng, 32)}
		left.Features = append(left.Features, f)
	}
	for i := n - 1; i >= 0; i-- {
		f := left.Features[i]
		right.Features = append(right.Features, Feature{X: f.X - dx, Y: f.Y - dy, Descriptor: f.Descriptor})
	}
	return left, right
}

func TestMatchFeaturesNearest(t *testing.T) {
	left := FeatureSet{Features: []Feature{
		{Descriptor: []float64{0, 0}},
		{Descriptor: []float64{10, 10}},
	}}
	right := FeatureSet{Features: []Feature{
		{Descriptor: []float64{9, 10}},
		{Descriptor: []float64{3, 4}},
		{Descriptor: []float64{100, 100}},
	}}

	matches := MatchFeatures(left, right)
	assert.Equal(t, []Correspondence{
		{Left: 0, Right: 1, Distance: 5},
		{Left: 1, Right: 0, Distance: 1},
	}, matches)

	assert.Empty(t, MatchFeatures(left, FeatureSet{}))
}

func TestFilterByDistance(t *testing.T) {
	matches := []Correspondence{{Distance: 0}, {Distance: 2}, {Distance: 3}, {Distance: 3.5}}
	// min distance is floored at 1, so the threshold is 3
	kept := FilterByDistance(matches, 3)
	assert.Len(t, kept, 3)

	matches = []Correspondence{{Distance: 4}, {Distance: 7}, {Distance: 8.5}, {Distance: 9}}
	kept = FilterByDistance(matches, 2.2)
	assert.Equal(t, []Correspondence{{Distance: 4}, {Distance: 7}, {Distance: 8.5}}, kept)

	assert.Empty(t, FilterByDistance(nil, 10))
}

func TestEstimateShiftRecoversTranslation(t *testing.T) {
	left, right := shiftedPair(40, 48, -8, 1)

	// Some features in the right image that match nothing in particular
	rng := rand.New(rand.NewPCG(7, 7))
	for i := 0; i < 10; i++ {
		right.Features = append(right.Features, Feature{X: rng.Float64() * 200, Y: rng.Float64() * 150, Descriptor: randomDescriptor(rng, 32)})
	}

	res, err := EstimateShift(NewConfig(), 0, left, right)
	require.NoError(t, err)
	assert.Equal(t, Shift{DX: 48, DY: -8}, res.Shift)
	assert.Len(t, res.Inliers, 40)
	assert.Equal(t, int64(len(res.Matches)), res.Distances.Count)
	assert.Equal(t, 0.0, res.Distances.Min)
}

func TestEstimateShiftRejectsOutlierMatches(t *testing.T) {
	left, right := shiftedPair(30, 20, 5, 2)

	// Same descriptors, but in the wrong place
	rng := rand.New(rand.NewPCG(3, 3))
	for i := 0; i < 8; i++ {
		d := randomDescriptor(rng, 32)
		left.Features = append(left.Features, Feature{X: 70 + rng.Float64()*100, Y: rng.Float64() * 150, Descriptor: d})
		right.Features = append(right.Features, Feature{X: rng.Float64() * 100, Y: rng.Float64() * 150, Descriptor: d})
	}

	res, err := EstimateShift(NewConfig(), 3, left, right)
	require.NoError(t, err)
	assert.Equal(t, Shift{DX: 20, DY: 5}, res.Shift)
	assert.Len(t, res.Matches, 38)
	assert.GreaterOrEqual(t, len(res.Inliers), 30)
	assert.Less(t, len(res.Inliers), 38)
}

func TestEstimateShiftTooFewMatches(t *testing.T) {
	left, right := shiftedPair(5, 10, 0, 3)
	_, err := EstimateShift(NewConfig(), 1, left, right)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInsufficientCorrespondences)

	var pe *PairError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 1, pe.Left)
	assert.Equal(t, 2, pe.Right)
}

func TestEstimateShiftNoGeometricConsensus(t *testing.T) {
	left, right := shiftedPair(12, 10, 0, 4)
	rng := rand.New(rand.NewPCG(5, 5))
	for i := range right.Features {
		right.Features[i].X = rng.Float64() * 200
		right.Features[i].Y = rng.Float64() * 150
	}

	_, err := EstimateShift(NewConfig(), 0, left, right)
	assert.ErrorIs(t, err, ErrInsufficientCorrespondences)
}

func TestEstimateShiftDegenerateFeatures(t *testing.T) {
	left, _ := shiftedPair(20, 10, 0, 5)
	right := FeatureSet{Features: left.Features[:2]}

	_, err := EstimateShift(NewConfig(), 0, left, right)
	assert.ErrorIs(t, err, ErrDegenerateFeatures)
	assert.NotErrorIs(t, err, ErrInsufficientCorrespondences)

	_, err = EstimateShift(NewConfig(), 0, FeatureSet{}, left)
	assert.ErrorIs(t, err, ErrDegenerateFeatures)
}

func TestEstimateShiftRejectsLeftwardShift(t *testing.T) {
	left, right := shiftedPair(30, -20, 0, 6)
	res, err := EstimateShift(NewConfig(), 0, left, right)
	assert.ErrorIs(t, err, ErrInsufficientCorrespondences)
	assert.Equal(t, Shift{DX: -20, DY: 0}, res.Shift)
}

// Many features on the left, all closest to one of a few features
// bunched together on the right; what unrelated images tend to give.
func TestEstimateShiftRejectsFunnelledMatches(t *testing.T) {
	rng := rand.New(rand.NewPCG(8, 8))
	hubs := []Feature{{X: 100, Y: 75}, {X: 103, Y: 76}, {X: 101, Y: 79}, {X: 104, Y: 80}, {X: 99, Y: 78}}
	right := FeatureSet{}
	for _, h := range hubs {
		h.Descriptor = randomDescriptor(rng, 32)
		right.Features = append(right.Features, h)
	}

	left := FeatureSet{}
	for i := 0; i < 40; i++ {
		d := append([]float64{}, right.Features[i%len(hubs)].Descriptor...)
		d[i%32] += float64(1 + i%3)
		left.Features = append(left.Features, Feature{X: float64(20 + (i%8)*20), Y: float64(20 + (i/8)*20), Descriptor: d})
	}

	res, err := EstimateShift(NewConfig(), 0, left, right)
	assert.ErrorIs(t, err, ErrInsufficientCorrespondences)
	assert.Len(t, res.Matches, 40)
	assert.Less(t, len(res.Inliers), 10)
}

func TestEstimateShiftRejectsNonUniformDisplacement(t *testing.T) {
	// Right image is 8% bigger: close enough to a translation for the
	// homography, but the displacement varies by 30px across the image
	rng := rand.New(rand.NewPCG(9, 9))
	left, right := FeatureSet{}, FeatureSet{}
	for i := 0; i < 40; i++ {
		x, y := float64(10*i), float64(7*((i*13)%40))
		d := randomDescriptor(rng, 32)
		left.Features = append(left.Features, Feature{X: x, Y: y, Descriptor: d})
		right.Features = append(right.Features, Feature{X: 1.08*x - 40, Y: 1.08 * y, Descriptor: d})
	}

	res, err := EstimateShift(NewConfig(), 0, left, right)
	assert.ErrorIs(t, err, ErrInsufficientCorrespondences)
	assert.Len(t, res.Inliers, 40)
}
