package emath

// Homography estimation: a normalised DLT solved with an SVD, wrapped
// in a RANSAC loop so that outlier correspondences don't skew it.

import (
	"errors"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrTooFewPoints = errors.New("need at least 4 point pairs")
	ErrDegenerate   = errors.New("degenerate point configuration")
)

type Point2 struct {
	X, Y float64
}

type RansacParams struct {
	Threshold     float64 // Max reprojection error, in pixels, for a pair to count as an inlier
	MaxIterations int
	Confidence    float64 // Stop early once we're this sure we've seen an all-inlier sample
	Seed          uint64

	// If set, hypotheses it returns false for are skipped, however much
	// support they have.
	Accept func(Mat3) bool
}

func DefaultRansacParams() RansacParams {
	return RansacParams{
		Threshold:     3.0,
		MaxIterations: 2000,
		Confidence:    0.995,
		Seed:          1,
	}
}

// normalizingTransform moves the centroid of the points to the origin
// and scales them so the mean distance from it is sqrt(2). Returns
// the transform and its inverse.
func normalizingTransform(pts []Point2) (Mat3, Mat3, bool) {
	cx, cy := 0.0, 0.0
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(len(pts))
	cy /= float64(len(pts))

	meanDist := 0.0
	for _, p := range pts {
		meanDist += math.Hypot(p.X-cx, p.Y-cy)
	}
	meanDist /= float64(len(pts))
	if meanDist < 1e-12 {
		return Mat3{}, Mat3{}, false
	}

	s := math.Sqrt2 / meanDist
	t := Mat3{s, 0, -s * cx, 0, s, -s * cy, 0, 0, 1}
	tInv := Mat3{1 / s, 0, cx, 0, 1 / s, cy, 0, 0, 1}
	return t, tInv, true
}

// FitHomography finds the least-squares H (up to scale) such that
// dst[i] ~ H.src[i], using every pair.
func FitHomography(src, dst []Point2) (Mat3, error) {
	if len(src) < 4 || len(src) != len(dst) {
		return Mat3{}, ErrTooFewPoints
	}

	tSrc, _, ok1 := normalizingTransform(src)
	tDst, tDstInv, ok2 := normalizingTransform(dst)
	if !ok1 || !ok2 {
		return Mat3{}, ErrDegenerate
	}

	data := make([]float64, 0, 2*len(src)*9)
	for i := range src {
		s := tSrc.Apply(Vec3{src[i].X, src[i].Y, 1})
		d := tDst.Apply(Vec3{dst[i].X, dst[i].Y, 1})
		X, Y, x, y := s[0], s[1], d[0], d[1]
		data = append(data, -X, -Y, -1, 0, 0, 0, x*X, x*Y, x)
		data = append(data, 0, 0, 0, -X, -Y, -1, y*X, y*Y, y)
	}
	A := mat.NewDense(2*len(src), 9, data)

	var svd mat.SVD
	if ok := svd.Factorize(A, mat.SVDFull); !ok {
		return Mat3{}, ErrDegenerate
	}
	var V mat.Dense
	svd.VTo(&V)

	// V (not V^T) comes back, so the null vector is the last column.
	var hn Mat3
	for i := 0; i < 9; i++ {
		hn[i] = V.At(i, 8)
	}

	h := tDstInv.Mult(hn).Mult(tSrc)
	if math.Abs(h[8]) < 1e-12 {
		return Mat3{}, ErrDegenerate
	}
	return h.Scaled(), nil
}

// NearTranslation reports whether h is within maxWarp of a pure
// translation: each element of its linear part within maxWarp of the
// identity, and its perspective terms within maxWarp/1000.
func NearTranslation(h Mat3, maxWarp float64) bool {
	if h[8] == 0 {
		return false
	}
	h = h.Scaled()
	id := IdentityMat3()
	for _, i := range []int{0, 1, 3, 4} {
		if math.Abs(h[i]-id[i]) > maxWarp {
			return false
		}
	}
	return math.Abs(h[6]) <= maxWarp/1000 && math.Abs(h[7]) <= maxWarp/1000
}

func (p RansacParams) accepts(h Mat3) bool {
	return p.Accept == nil || p.Accept(h)
}

// ReprojectionError is the distance between H.src and dst.
func ReprojectionError(h Mat3, src, dst Point2) float64 {
	x, y, ok := h.Project(src.X, src.Y)
	if !ok {
		return math.Inf(1)
	}
	return math.Hypot(x-dst.X, y-dst.Y)
}

func collinear(a, b, c Point2) bool {
	area := (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
	return math.Abs(area) < 1e-2
}

func degenerateSample(pts []Point2) bool {
	for i := 0; i < len(pts); i++ {
		for j := i + 1; j < len(pts); j++ {
			for k := j + 1; k < len(pts); k++ {
				if collinear(pts[i], pts[j], pts[k]) {
					return true
				}
			}
		}
	}
	return false
}

func markInliers(h Mat3, src, dst []Point2, thresh float64, mask []bool) int {
	n := 0
	for i := range src {
		mask[i] = ReprojectionError(h, src[i], dst[i]) <= thresh
		if mask[i] {
			n++
		}
	}
	return n
}

// RansacHomography fits a homography to the pairs, ignoring the ones
// that don't agree with the consensus. It returns the homography and a
// mask, true for each inlier pair. The same inputs and seed always give
// the same answer. ErrDegenerate means no acceptable hypothesis had the
// support of 4 pairs.
func RansacHomography(src, dst []Point2, p RansacParams) (Mat3, []bool, error) {
	n := len(src)
	if n < 4 || n != len(dst) {
		return Mat3{}, nil, ErrTooFewPoints
	}

	rng := rand.New(rand.NewPCG(p.Seed, p.Seed^0x9e3779b97f4a7c15))
	maxIter := p.MaxIterations
	if maxIter <= 0 {
		maxIter = 1
	}

	bestH := Mat3{}
	bestCount := 0
	bestMask := make([]bool, n)
	mask := make([]bool, n)

	sampleSrc := make([]Point2, 4)
	sampleDst := make([]Point2, 4)
	idx := [4]int{}

	for iter := 0; iter < maxIter; iter++ {
		// Pick 4 distinct pairs
		for k := 0; k < 4; k++ {
		pick:
			for {
				idx[k] = rng.IntN(n)
				for j := 0; j < k; j++ {
					if idx[j] == idx[k] {
						continue pick
					}
				}
				break
			}
			sampleSrc[k] = src[idx[k]]
			sampleDst[k] = dst[idx[k]]
		}
		if degenerateSample(sampleSrc) || degenerateSample(sampleDst) {
			continue
		}

		h, err := FitHomography(sampleSrc, sampleDst)
		if err != nil || !p.accepts(h) {
			continue
		}

		count := markInliers(h, src, dst, p.Threshold, mask)
		if count > bestCount {
			bestCount = count
			bestH = h
			copy(bestMask, mask)

			// Adaptive stopping: how many samples until we've probably drawn an all-inlier one
			w := float64(count) / float64(n)
			if w >= 1.0 {
				break
			}
			if p.Confidence > 0 && p.Confidence < 1 {
				k := math.Log(1-p.Confidence) / math.Log(1-math.Pow(w, 4))
				if !math.IsNaN(k) && !math.IsInf(k, 0) && int(math.Ceil(k)) < maxIter {
					maxIter = int(math.Ceil(k))
				}
			}
		}
	}

	if bestCount < 4 {
		return Mat3{}, nil, ErrDegenerate
	}

	// Refit on the consensus set, keep it if it doesn't lose any support
	inSrc := make([]Point2, 0, bestCount)
	inDst := make([]Point2, 0, bestCount)
	for i := range src {
		if bestMask[i] {
			inSrc = append(inSrc, src[i])
			inDst = append(inDst, dst[i])
		}
	}
	if h, err := FitHomography(inSrc, inDst); err == nil && p.accepts(h) {
		if count := markInliers(h, src, dst, p.Threshold, mask); count >= bestCount {
			bestH = h
			copy(bestMask, mask)
		}
	}

	return bestH, bestMask, nil
}
