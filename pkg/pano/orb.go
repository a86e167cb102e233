package pano

import (
	"image"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/ricdezen/panoramic/pkg/emath"
)

// ORBDetector finds FAST corners over a small image pyramid, orients
// them by intensity centroid, and describes them with a steered BRIEF
// bit string. Only the strongest MaxFeatures corners are kept.
//
// Descriptor bits are stored as 0.0 / 1.0, so the Euclidean distance
// between two descriptors is the square root of their Hamming distance
// and the same matcher works for both detector families.
type ORBDetector struct {
	MaxFeatures   int
	FASTThreshold int // In 8 bit gray levels
	Levels        int // Pyramid levels, each half the size of the last
}

const (
	orbPatchRadius = 15
	orbBorder      = orbPatchRadius + 1
	orbBits        = 256
	fastArc        = 9 // contiguous circle pixels needed for a corner
)

func NewORBDetector(cfg Config) *ORBDetector {
	return &ORBDetector{
		MaxFeatures:   cfg.MaxFeatures,
		FASTThreshold: cfg.FASTThreshold,
		Levels:        3,
	}
}

func (d *ORBDetector) Name() string { return "orb" }

// The Bresenham circle of radius 3 used by the segment test, clockwise
// from the top.
var fastCircle = [16][2]int{
	{0, -3}, {1, -3}, {2, -2}, {3, -1}, {3, 0}, {3, 1}, {2, 2}, {1, 3},
	{0, 3}, {-1, 3}, {-2, 2}, {-3, 1}, {-3, 0}, {-3, -1}, {-2, -2}, {-1, -3},
}

type briefPair struct {
	x1, y1, x2, y2 float64
}

// The test locations are drawn once, from a fixed seed, so descriptors
// are comparable across images and across runs.
var briefPattern = newBriefPattern(orbBits, 0x5eed)

func newBriefPattern(n int, seed uint64) []briefPair {
	rng := rand.New(rand.NewPCG(seed, seed+1))
	sigma := float64(2*orbPatchRadius+1) / 5.0
	sample := func() (float64, float64) {
		for {
			x := math.Round(rng.NormFloat64() * sigma)
			y := math.Round(rng.NormFloat64() * sigma)
			if x*x+y*y <= orbPatchRadius*orbPatchRadius {
				return x, y
			}
		}
	}

	pattern := make([]briefPair, n)
	for i := range pattern {
		pattern[i].x1, pattern[i].y1 = sample()
		pattern[i].x2, pattern[i].y2 = sample()
	}
	return pattern
}

type orbCorner struct {
	x, y  int
	level int
	score float64
}

func (d *ORBDetector) Detect(img *image.Gray) (FeatureSet, error) {
	fs := FeatureSet{}

	levels := []emath.FloatGrid{emath.NewFloatGridFromGray(img)}
	for l := 1; l < d.Levels; l++ {
		prev := &levels[l-1]
		if prev.Dx()/2 < 2*orbBorder+1 || prev.Dy()/2 < 2*orbBorder+1 {
			break
		}
		levels = append(levels, prev.DownSample())
	}

	corners := []orbCorner{}
	for l := range levels {
		corners = append(corners, d.fastCorners(&levels[l], l)...)
	}

	// Strongest first; the stable sort keeps scan order for equal scores
	sort.SliceStable(corners, func(i, j int) bool { return corners[i].score > corners[j].score })
	if d.MaxFeatures > 0 && len(corners) > d.MaxFeatures {
		corners = corners[:d.MaxFeatures]
	}

	// BRIEF compares single pixels, so it wants a smoothed image
	smoothed := make([]emath.FloatGrid, len(levels))
	for l := range levels {
		smoothed[l] = levels[l].Blur(2)
	}

	for _, c := range corners {
		angle := intensityCentroidAngle(&levels[c.level], c.x, c.y)
		deg := angle * 180.0 / math.Pi
		if deg < 0 {
			deg += 360
		}
		scale := math.Pow(2, float64(c.level))
		fs.Features = append(fs.Features, Feature{
			X:          (float64(c.x)+0.5)*scale - 0.5,
			Y:          (float64(c.y)+0.5)*scale - 0.5,
			Size:       float64(2*orbPatchRadius+1) * scale,
			Angle:      deg,
			Response:   c.score,
			Octave:     c.level,
			Descriptor: steeredBrief(&smoothed[c.level], c.x, c.y, deg),
		})
	}

	return fs, nil
}

// fastCorners runs the FAST-9 segment test over the grid, then keeps
// only local maxima of the corner score.
func (d *ORBDetector) fastCorners(g *emath.FloatGrid, level int) []orbCorner {
	w, h := g.Dx(), g.Dy()
	if w < 2*orbBorder+1 || h < 2*orbBorder+1 {
		return nil
	}
	t := float64(d.FASTThreshold) / 255.0

	scores := emath.NewFloatGrid(w, h)
	for y := orbBorder; y < h-orbBorder; y++ {
		for x := orbBorder; x < w-orbBorder; x++ {
			scores.Set(x, y, fastScore(g, x, y, t))
		}
	}

	corners := []orbCorner{}
	for y := orbBorder; y < h-orbBorder; y++ {
		for x := orbBorder; x < w-orbBorder; x++ {
			s := scores.Get(x, y)
			if s <= 0 || !isLocalMax(&scores, x, y) {
				continue
			}
			corners = append(corners, orbCorner{x: x, y: y, level: level, score: s})
		}
	}
	return corners
}

// fastScore is zero unless at least fastArc contiguous circle pixels
// are all brighter (or all darker) than the centre by more than t. For
// corners it is the summed excess over the threshold, for whichever
// polarity is larger.
func fastScore(g *emath.FloatGrid, x, y int, t float64) float64 {
	p := g.Get(x, y)
	var diffs [16]float64
	for i, off := range fastCircle {
		diffs[i] = g.Get(x+off[0], y+off[1]) - p
	}

	bright, dark := 0, 0
	maxBright, maxDark := 0, 0
	for i := 0; i < 16+fastArc-1; i++ {
		v := diffs[i%16]
		if v > t {
			bright++
			maxBright = max(maxBright, bright)
		} else {
			bright = 0
		}
		if v < -t {
			dark++
			maxDark = max(maxDark, dark)
		} else {
			dark = 0
		}
	}
	if maxBright < fastArc && maxDark < fastArc {
		return 0
	}

	sumBright, sumDark := 0.0, 0.0
	for _, v := range diffs {
		if v > t {
			sumBright += v - t
		} else if v < -t {
			sumDark += -v - t
		}
	}
	return math.Max(sumBright, sumDark)
}

// isLocalMax is true if no 8-neighbour beats the score. Ties go to
// whichever point was scanned first.
func isLocalMax(scores *emath.FloatGrid, x, y int) bool {
	s := scores.Get(x, y)
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			if dx == 0 && dy == 0 {
				continue
			}
			n := scores.Get(x+dx, y+dy)
			if n > s {
				return false
			}
			if n == s && (dy < 0 || (dy == 0 && dx < 0)) {
				return false
			}
		}
	}
	return true
}

// intensityCentroidAngle is the direction, in radians, from the
// corner to the intensity centroid of the disc around it.
func intensityCentroidAngle(g *emath.FloatGrid, cx, cy int) float64 {
	m10, m01 := 0.0, 0.0
	for dy := -orbPatchRadius; dy <= orbPatchRadius; dy++ {
		for dx := -orbPatchRadius; dx <= orbPatchRadius; dx++ {
			if dx*dx+dy*dy > orbPatchRadius*orbPatchRadius {
				continue
			}
			v := g.Get(cx+dx, cy+dy)
			m10 += float64(dx) * v
			m01 += float64(dy) * v
		}
	}
	return math.Atan2(m01, m10)
}

// steeredBrief rotates the test pattern by the corner's orientation and
// records one bit per pair of samples.
func steeredBrief(g *emath.FloatGrid, cx, cy int, angleDeg float64) []float64 {
	steer := emath.Identity().Translate(float64(cx), float64(cy)).Rotate(angleDeg)

	desc := make([]float64, len(briefPattern))
	for i, p := range briefPattern {
		x1, y1 := steer.Apply(p.x1, p.y1)
		x2, y2 := steer.Apply(p.x2, p.y2)
		if g.Get(int(math.Round(x1)), int(math.Round(y1))) < g.Get(int(math.Round(x2)), int(math.Round(y2))) {
			desc[i] = 1
		}
	}
	return desc
}
