package pano

import (
	"fmt"
	"math"

	"github.com/codahale/hdrhistogram"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ricdezen/panoramic/pkg/emath"
)

// A Correspondence pairs a feature in the left image with its nearest
// neighbour (by descriptor) in the right image.
type Correspondence struct {
	Left, Right int // Indices into the two FeatureSets
	Distance    float64
}

// A Shift is how far the right image of a pair is displaced from the
// left one, in pixels. DX is positive for a camera turning right.
type Shift struct {
	DX, DY int
}

func (s Shift) String() string { return fmt.Sprintf("(%+d,%+d)", s.DX, s.DY) }

// DistanceStats summarises the descriptor distances of the matches
// that survived the distance filter.
type DistanceStats struct {
	Count int64
	Min   float64
	P50   float64
	P90   float64
	Max   float64
}

func (ds DistanceStats) String() string {
	return fmt.Sprintf("n=%d min=%.2f p50=%.2f p90=%.2f max=%.2f", ds.Count, ds.Min, ds.P50, ds.P90, ds.Max)
}

// PairResult is everything we learn about one adjacent pair.
type PairResult struct {
	Pair       int              // The left image of the pair
	Matches    []Correspondence // Survivors of the distance filter
	Inliers    []Correspondence // Survivors of the consensus fit
	Homography emath.Mat3       // Maps left image points to right image points
	Shift      Shift
	Distances  DistanceStats
}

// MatchFeatures finds, for every feature on the left, the closest
// descriptor on the right. It is brute force over all pairs.
func MatchFeatures(left, right FeatureSet) []Correspondence {
	matches := make([]Correspondence, 0, left.Len())
	if right.Len() == 0 {
		return matches
	}

	for i, lf := range left.Features {
		best, bestD2 := -1, math.MaxFloat64
		for j, rf := range right.Features {
			if d2 := squaredDistanceBelow(lf.Descriptor, rf.Descriptor, bestD2); d2 < bestD2 {
				best, bestD2 = j, d2
			}
		}
		if best >= 0 {
			matches = append(matches, Correspondence{Left: i, Right: best, Distance: math.Sqrt(bestD2)})
		}
	}
	return matches
}

// squaredDistanceBelow gives up as soon as the running sum reaches
// limit; the result is then only known to be >= limit.
func squaredDistanceBelow(a, b []float64, limit float64) float64 {
	sum := 0.0
	for k := range a {
		d := a[k] - b[k]
		sum += d * d
		if sum >= limit {
			return sum
		}
	}
	return sum
}

// FilterByDistance keeps the matches no further apart than ratio times
// the closest match distance. The closest distance is floored at 1.0,
// so a handful of perfect matches don't zero out the threshold.
func FilterByDistance(matches []Correspondence, ratio float64) []Correspondence {
	if len(matches) == 0 {
		return nil
	}

	dists := make([]float64, len(matches))
	for i, m := range matches {
		dists[i] = m.Distance
	}
	threshold := math.Max(1.0, floats.Min(dists)) * ratio

	kept := []Correspondence{}
	for _, m := range matches {
		if m.Distance <= threshold {
			kept = append(kept, m)
		}
	}
	return kept
}

// EstimateShift works out the displacement between images pair and
// pair+1: nearest neighbour matching, the distance filter, then a
// RANSAC homography whose inliers are averaged into the shift. Pairs
// whose inliers don't agree on one rightward displacement fail with
// ErrInsufficientCorrespondences.
func EstimateShift(cfg Config, pair int, left, right FeatureSet) (PairResult, error) {
	res := PairResult{Pair: pair}

	if err := checkFeatures(pair, left); err != nil {
		return res, pairError(pair, err)
	}
	if err := checkFeatures(pair+1, right); err != nil {
		return res, pairError(pair, err)
	}

	res.Matches = FilterByDistance(MatchFeatures(left, right), cfg.DistRatio)
	res.Distances = distanceStats(res.Matches)
	if len(res.Matches) < cfg.MinInliers {
		return res, pairError(pair, fmt.Errorf("%w: %d matches within distance threshold, need %d",
			ErrInsufficientCorrespondences, len(res.Matches), cfg.MinInliers))
	}

	src := make([]emath.Point2, len(res.Matches))
	dst := make([]emath.Point2, len(res.Matches))
	for i, m := range res.Matches {
		lf, rf := left.Features[m.Left], right.Features[m.Right]
		src[i] = emath.Point2{X: lf.X, Y: lf.Y}
		dst[i] = emath.Point2{X: rf.X, Y: rf.Y}
	}

	h, mask, err := emath.RansacHomography(src, dst, cfg.RansacParams(pair))
	if err != nil {
		return res, pairError(pair, fmt.Errorf("%w: homography: %w", ErrInsufficientCorrespondences, err))
	}
	res.Homography = h

	dxs, dys := []float64{}, []float64{}
	for i, m := range res.Matches {
		if !mask[i] {
			continue
		}
		res.Inliers = append(res.Inliers, m)
		dxs = append(dxs, src[i].X-dst[i].X)
		dys = append(dys, src[i].Y-dst[i].Y)
	}
	if len(res.Inliers) < cfg.MinInliers {
		return res, pairError(pair, fmt.Errorf("%w: %d homography inliers, need %d",
			ErrInsufficientCorrespondences, len(res.Inliers), cfg.MinInliers))
	}

	sx, sy := stat.StdDev(dxs, nil), stat.StdDev(dys, nil)
	if sx > cfg.MaxShiftSpread || sy > cfg.MaxShiftSpread {
		return res, pairError(pair, fmt.Errorf("%w: inlier displacements spread by (%.1f,%.1f)px, max %.1f",
			ErrInsufficientCorrespondences, sx, sy, cfg.MaxShiftSpread))
	}

	res.Shift = Shift{
		DX: int(math.Round(stat.Mean(dxs, nil))),
		DY: int(math.Round(stat.Mean(dys, nil))),
	}
	if res.Shift.DX < 0 {
		return res, pairError(pair, fmt.Errorf("%w: shift %s runs right to left",
			ErrInsufficientCorrespondences, res.Shift))
	}
	return res, nil
}

// Distances are recorded in hundredths.
func distanceStats(matches []Correspondence) DistanceStats {
	h := hdrhistogram.New(0, 10000000, 3)
	for _, m := range matches {
		h.RecordValue(int64(math.Round(m.Distance * 100)))
	}
	if h.TotalCount() == 0 {
		return DistanceStats{}
	}
	return DistanceStats{
		Count: h.TotalCount(),
		Min:   float64(h.Min()) / 100,
		P50:   float64(h.ValueAtQuantile(50)) / 100,
		P90:   float64(h.ValueAtQuantile(90)) / 100,
		Max:   float64(h.Max()) / 100,
	}
}
