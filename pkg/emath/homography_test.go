package emath

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gridPoints(n int) []Point2 {
	pts := []Point2{}
	for i := 0; i < n; i++ {
		pts = append(pts, Point2{X: float64(10 + (i%7)*23), Y: float64(15 + (i/7)*19 + (i%3)*5)})
	}
	return pts
}

func TestFitHomographyTranslation(t *testing.T) {
	src := gridPoints(12)
	dst := make([]Point2, len(src))
	for i, p := range src {
		dst[i] = Point2{p.X - 40, p.Y + 7}
	}

	h, err := FitHomography(src, dst)
	require.NoError(t, err)

	for i := range src {
		assert.Less(t, ReprojectionError(h, src[i], dst[i]), 1e-6)
	}
	assert.InDelta(t, -40.0, h[2], 1e-6)
	assert.InDelta(t, 7.0, h[5], 1e-6)
}

func TestFitHomographyPerspective(t *testing.T) {
	truth := Mat3{1.1, 0.05, 12, -0.02, 0.95, -4, 0.0003, -0.0001, 1}
	src := gridPoints(20)
	dst := make([]Point2, len(src))
	for i, p := range src {
		x, y, ok := truth.Project(p.X, p.Y)
		require.True(t, ok)
		dst[i] = Point2{x, y}
	}

	h, err := FitHomography(src, dst)
	require.NoError(t, err)
	for i := range h {
		assert.InDelta(t, truth[i], h[i], 1e-6, "element %d", i)
	}
}

func TestFitHomographyErrors(t *testing.T) {
	_, err := FitHomography(gridPoints(3), gridPoints(3))
	assert.ErrorIs(t, err, ErrTooFewPoints)

	same := []Point2{{5, 5}, {5, 5}, {5, 5}, {5, 5}}
	_, err = FitHomography(same, same)
	assert.ErrorIs(t, err, ErrDegenerate)
}

func TestRansacHomographyRejectsOutliers(t *testing.T) {
	src := gridPoints(40)
	dst := make([]Point2, len(src))
	for i, p := range src {
		dst[i] = Point2{p.X + 25, p.Y - 3}
	}

	// Corrupt every 4th pair
	rng := rand.New(rand.NewPCG(7, 7))
	outliers := map[int]bool{}
	for i := 0; i < len(dst); i += 4 {
		dst[i] = Point2{rng.Float64() * 300, rng.Float64() * 300}
		outliers[i] = true
	}

	h, mask, err := RansacHomography(src, dst, DefaultRansacParams())
	require.NoError(t, err)
	require.Len(t, mask, len(src))

	for i := range mask {
		assert.Equal(t, !outliers[i], mask[i], "pair %d", i)
	}
	assert.InDelta(t, 25.0, h[2], 1e-6)
	assert.InDelta(t, -3.0, h[5], 1e-6)
}

func TestRansacHomographyDeterministic(t *testing.T) {
	src := gridPoints(30)
	dst := make([]Point2, len(src))
	rng := rand.New(rand.NewPCG(3, 3))
	for i, p := range src {
		dst[i] = Point2{p.X + 10 + rng.Float64(), p.Y + rng.Float64()}
	}

	h1, m1, err1 := RansacHomography(src, dst, DefaultRansacParams())
	h2, m2, err2 := RansacHomography(src, dst, DefaultRansacParams())
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, h1, h2)
	assert.Equal(t, m1, m2)
}

func TestRansacHomographyTooFew(t *testing.T) {
	_, _, err := RansacHomography(gridPoints(3), gridPoints(3), DefaultRansacParams())
	assert.ErrorIs(t, err, ErrTooFewPoints)
}

func TestNearTranslation(t *testing.T) {
	assert.True(t, NearTranslation(IdentityMat3(), 0.1))

	shifted := IdentityMat3()
	shifted[2], shifted[5] = -120, 35
	assert.True(t, NearTranslation(shifted, 0.1))

	// Same thing, up to scale
	for i := range shifted {
		shifted[i] *= 4
	}
	assert.True(t, NearTranslation(shifted, 0.1))

	assert.False(t, NearTranslation(Mat3{0.3, 0, 100, 0, 0.3, 100, 0, 0, 1}, 0.1), "collapsing")
	assert.False(t, NearTranslation(Mat3{1, 0.2, 0, 0, 1, 0, 0, 0, 1}, 0.1), "shearing")
	assert.False(t, NearTranslation(Mat3{1, 0, 0, 0, 1, 0, 0.0003, 0, 1}, 0.1), "perspective")
	assert.False(t, NearTranslation(Mat3{}, 0.1))
}

func TestRansacHomographyAccept(t *testing.T) {
	// Everything squeezed into a small patch
	src := gridPoints(30)
	dst := make([]Point2, len(src))
	for i, p := range src {
		dst[i] = Point2{0.3*p.X + 100, 0.3*p.Y + 100}
	}

	h, _, err := RansacHomography(src, dst, DefaultRansacParams())
	require.NoError(t, err)
	assert.InDelta(t, 0.3, h[0], 1e-6)

	p := DefaultRansacParams()
	p.Accept = func(h Mat3) bool { return NearTranslation(h, 0.1) }
	_, _, err = RansacHomography(src, dst, p)
	assert.ErrorIs(t, err, ErrDegenerate)

	// A translation passes the same filter
	for i, s := range src {
		dst[i] = Point2{s.X + 30, s.Y - 6}
	}
	h, mask, err := RansacHomography(src, dst, p)
	require.NoError(t, err)
	assert.NotContains(t, mask, false)
	assert.InDelta(t, 30.0, h[2], 1e-6)
}
