package pano

import (
	"fmt"
	"image"
	"log/slog"
	"math"
	"path/filepath"
	"sync/atomic"

	"github.com/ricdezen/panoramic/pkg/emath"
)

// SIFTDetector finds scale and rotation invariant features: extrema of
// a difference-of-Gaussians scale space, each given a dominant
// orientation and a 4x4x8 gradient histogram descriptor.
//
// The scale space is built by repeated [1 2 1] blurs rather than
// one big kernel per level; each pass adds 0.5 to the variance, so
// the level sigmas are only approximately 1.6*2^(i/3).
type SIFTDetector struct {
	Intervals         int     // Scales per octave that extrema are looked for in
	Sigma             float64 // Blur of the first level of each octave
	ContrastThreshold float64 // |DoG| below this is ignored (image values in [0,1])
	EdgeThreshold     float64 // Max ratio of principal curvatures; weeds out edge responses
	MaxOctaves        int     // 0 means as many as the image size allows

	DumpGrids bool   // Write the DoG grids out as PNGs, for debugging
	DumpDir   string // Where they go; the working dir if empty
	nDumped   atomic.Int64

	Logger *slog.Logger // slog.Default() if nil
}

const (
	siftDescWidth    = 4 // cells across the descriptor window
	siftDescBins     = 8 // orientation bins per cell
	siftOriBins      = 36
	siftBorder       = 5
	siftInitialSigma = 0.5 // Assumed blur already present in the input
)

func NewSIFTDetector(cfg Config) *SIFTDetector {
	return &SIFTDetector{
		Intervals:         3,
		Sigma:             1.6,
		ContrastThreshold: cfg.ContrastThreshold,
		EdgeThreshold:     10,
		DumpGrids:         cfg.Verbosity > 1,
	}
}

func (d *SIFTDetector) Name() string { return "sift" }

func (d *SIFTDetector) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

func (d *SIFTDetector) numOctaves(w, h int) int {
	n := int(math.Log2(float64(min(w, h)))) - 3
	if n < 1 {
		n = 1
	}
	if d.MaxOctaves > 0 && n > d.MaxOctaves {
		n = d.MaxOctaves
	}
	return n
}

// siftLevel is one blurred image in an octave, with its gradients
// computed on demand.
type siftLevel struct {
	emath.FloatGrid
	sigma    float64 // in octave pixels
	mag, ori emath.FloatGrid
	hasGrads bool
}

func (l *siftLevel) gradients() {
	if !l.hasGrads {
		l.mag, l.ori = l.Gradients()
		l.hasGrads = true
	}
}

func (d *SIFTDetector) Detect(img *image.Gray) (FeatureSet, error) {
	fs := FeatureSet{}
	b := img.Bounds()
	if b.Dx() < 2*siftBorder+1 || b.Dy() < 2*siftBorder+1 {
		return fs, nil
	}

	log := d.logger()
	imgNum := d.nDumped.Add(1)
	octBase := emath.NewFloatGridFromGray(img)
	baseVar := siftInitialSigma * siftInitialSigma
	nLevels := d.Intervals + 3

	for o := 0; o < d.numOctaves(b.Dx(), b.Dy()); o++ {
		if octBase.Dx() < 2*siftBorder+1 || octBase.Dy() < 2*siftBorder+1 {
			break
		}

		// Gaussian levels; actual variance is tracked since blurring comes in 0.5 steps
		levels := make([]*siftLevel, nLevels)
		prev, prevVar := octBase, baseVar
		for i := 0; i < nLevels; i++ {
			target := d.Sigma * math.Pow(2, float64(i)/float64(d.Intervals))
			passes := emath.BlurPassesForVariance(prevVar, target*target)
			g := prev.Blur(passes)
			v := prevVar + 0.5*float64(passes)
			levels[i] = &siftLevel{FloatGrid: g, sigma: math.Sqrt(v)}
			prev, prevVar = g, v
		}

		dogs := make([]emath.FloatGrid, nLevels-1)
		for i := range dogs {
			dogs[i] = levels[i+1].Sub(&levels[i].FloatGrid)
			if d.DumpGrids {
				title := fmt.Sprintf("img %d, octave %d, dog %d", imgNum, o, i)
				filename := filepath.Join(d.DumpDir, fmt.Sprintf("sift-%03d-o%d-dog%d.png", imgNum, o, i))
				if err := dogs[i].ToImg(title, filename); err != nil {
					log.Warn("can't dump dog grid", "file", filename, "error", err)
				}
			}
		}

		n := 0
		for i := 1; i <= d.Intervals; i++ {
			for _, kp := range d.findExtrema(dogs, i) {
				f, ok := d.describe(levels[i], kp, o)
				if ok {
					fs.Features = append(fs.Features, f)
					n++
				}
			}
		}
		log.Debug("sift octave", "image", imgNum, "octave", o, "size", fmt.Sprintf("%dx%d", octBase.Dx(), octBase.Dy()), "features", n)

		// The next octave starts from the level with twice the base sigma. A 2x2
		// box average adds 0.25 to the variance before the pixels halve in size.
		next := levels[d.Intervals]
		octBase = next.DownSample()
		baseVar = (next.sigma*next.sigma + 0.25) / 4.0
	}

	return fs, nil
}

type siftKeypoint struct {
	x, y     int
	offX     float64 // sub-pixel refinement
	offY     float64
	response float64
}

func (d *SIFTDetector) findExtrema(dogs []emath.FloatGrid, i int) []siftKeypoint {
	kps := []siftKeypoint{}
	cur, below, above := &dogs[i], &dogs[i-1], &dogs[i+1]
	w, h := cur.Dx(), cur.Dy()
	edgeLimit := (d.EdgeThreshold + 1) * (d.EdgeThreshold + 1) / d.EdgeThreshold

	for y := siftBorder; y < h-siftBorder; y++ {
		for x := siftBorder; x < w-siftBorder; x++ {
			v := cur.Get(x, y)
			if math.Abs(v) < d.ContrastThreshold {
				continue
			}
			if !isExtremum(v, x, y, cur, below, above) {
				continue
			}

			dxx := cur.Get(x+1, y) + cur.Get(x-1, y) - 2*v
			dyy := cur.Get(x, y+1) + cur.Get(x, y-1) - 2*v
			dxy := (cur.Get(x+1, y+1) - cur.Get(x+1, y-1) - cur.Get(x-1, y+1) + cur.Get(x-1, y-1)) / 4.0
			tr := dxx + dyy
			det := dxx*dyy - dxy*dxy
			if det <= 0 || tr*tr/det >= edgeLimit {
				continue
			}

			kp := siftKeypoint{x: x, y: y, response: math.Abs(v)}
			if dxx != 0 {
				kp.offX = clampOffset(-(cur.Get(x+1, y) - cur.Get(x-1, y)) / (2 * dxx))
			}
			if dyy != 0 {
				kp.offY = clampOffset(-(cur.Get(x, y+1) - cur.Get(x, y-1)) / (2 * dyy))
			}
			kps = append(kps, kp)
		}
	}
	return kps
}

func clampOffset(v float64) float64 {
	return math.Max(-0.5, math.Min(0.5, v))
}

// isExtremum is true if v is strictly above (or below) all 26
// neighbours in the 3x3x3 cube around it.
func isExtremum(v float64, x, y int, cur, below, above *emath.FloatGrid) bool {
	isMax, isMin := true, true
	for _, g := range []*emath.FloatGrid{below, cur, above} {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if g == cur && dx == 0 && dy == 0 {
					continue
				}
				n := g.Get(x+dx, y+dy)
				if n >= v {
					isMax = false
				}
				if n <= v {
					isMin = false
				}
				if !isMax && !isMin {
					return false
				}
			}
		}
	}
	return true
}

// describe assigns the dominant orientation and builds the descriptor.
func (d *SIFTDetector) describe(l *siftLevel, kp siftKeypoint, octave int) (Feature, bool) {
	l.gradients()
	angle, ok := d.dominantOrientation(l, kp)
	if !ok {
		return Feature{}, false
	}

	desc := d.descriptor(l, kp, angle)

	// Octave pixel x covers full-size pixels [2^o.x, 2^o.(x+1))
	scale := math.Pow(2, float64(octave))
	deg := angle * 180.0 / math.Pi
	if deg < 0 {
		deg += 360
	}
	return Feature{
		X:          (float64(kp.x)+kp.offX+0.5)*scale - 0.5,
		Y:          (float64(kp.y)+kp.offY+0.5)*scale - 0.5,
		Size:       2 * l.sigma * scale,
		Angle:      deg,
		Response:   kp.response,
		Octave:     octave,
		Descriptor: desc,
	}, true
}

func (d *SIFTDetector) dominantOrientation(l *siftLevel, kp siftKeypoint) (float64, bool) {
	sigma := 1.5 * l.sigma
	radius := int(math.Round(3 * sigma))
	w, h := l.Dx(), l.Dy()

	hist := [siftOriBins]float64{}
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			px, py := kp.x+dx, kp.y+dy
			if px < 1 || px >= w-1 || py < 1 || py >= h-1 {
				continue
			}
			weight := math.Exp(-float64(dx*dx+dy*dy)/(2*sigma*sigma)) * l.mag.Get(px, py)
			bin := int(math.Round(float64(siftOriBins)*(l.ori.Get(px, py)+math.Pi)/(2*math.Pi))) % siftOriBins
			hist[bin] += weight
		}
	}

	// Circular [1 2 1] smoothing
	smooth := [siftOriBins]float64{}
	for i := 0; i < siftOriBins; i++ {
		smooth[i] = (hist[(i+siftOriBins-1)%siftOriBins] + 2*hist[i] + hist[(i+1)%siftOriBins]) / 4
	}

	peak := 0
	for i := 1; i < siftOriBins; i++ {
		if smooth[i] > smooth[peak] {
			peak = i
		}
	}
	if smooth[peak] <= 0 {
		return 0, false
	}

	// Parabolic interpolation across the peak's neighbours
	l0 := smooth[(peak+siftOriBins-1)%siftOriBins]
	r0 := smooth[(peak+1)%siftOriBins]
	offset := 0.0
	if denom := l0 - 2*smooth[peak] + r0; denom != 0 {
		offset = 0.5 * (l0 - r0) / denom
	}
	bin := float64(peak) + offset
	return bin*2*math.Pi/float64(siftOriBins) - math.Pi, true
}

func (d *SIFTDetector) descriptor(l *siftLevel, kp siftKeypoint, angle float64) []float64 {
	const n = siftDescWidth
	histWidth := 3 * l.sigma
	radius := int(math.Round(histWidth * math.Sqrt2 * (n + 1) / 2))
	cosA, sinA := math.Cos(angle), math.Sin(angle)
	w, h := l.Dx(), l.Dy()

	hist := make([]float64, n*n*siftDescBins)
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			// Rotate into the keypoint's frame, in units of cells
			rx := (cosA*float64(dx) + sinA*float64(dy)) / histWidth
			ry := (-sinA*float64(dx) + cosA*float64(dy)) / histWidth
			rbin := ry + n/2 - 0.5
			cbin := rx + n/2 - 0.5
			if rbin <= -1 || rbin >= n || cbin <= -1 || cbin >= n {
				continue
			}
			px, py := kp.x+dx, kp.y+dy
			if px < 1 || px >= w-1 || py < 1 || py >= h-1 {
				continue
			}

			weight := math.Exp(-(rx*rx + ry*ry) / (2 * (n / 2) * (n / 2)))
			mag := l.mag.Get(px, py) * weight
			ori := l.ori.Get(px, py) - angle
			for ori < 0 {
				ori += 2 * math.Pi
			}
			for ori >= 2*math.Pi {
				ori -= 2 * math.Pi
			}
			obin := ori * siftDescBins / (2 * math.Pi)

			// Trilinear interpolation into the neighbouring bins
			r0, c0, o0 := int(math.Floor(rbin)), int(math.Floor(cbin)), int(math.Floor(obin))
			fr, fc, fo := rbin-float64(r0), cbin-float64(c0), obin-float64(o0)
			for ir := 0; ir <= 1; ir++ {
				r := r0 + ir
				if r < 0 || r >= n {
					continue
				}
				wr := fr
				if ir == 0 {
					wr = 1 - fr
				}
				for ic := 0; ic <= 1; ic++ {
					c := c0 + ic
					if c < 0 || c >= n {
						continue
					}
					wc := fc
					if ic == 0 {
						wc = 1 - fc
					}
					for io := 0; io <= 1; io++ {
						o := (o0 + io) % siftDescBins
						wo := fo
						if io == 0 {
							wo = 1 - fo
						}
						hist[(r*n+c)*siftDescBins+o] += mag * wr * wc * wo
					}
				}
			}
		}
	}

	normalizeDescriptor(hist)
	return hist
}

// normalizeDescriptor scales to unit length, clips big components at
// 0.2 to damp lighting effects, renormalises, then quantises to
// [0, 255] like the classic byte-valued descriptor.
func normalizeDescriptor(hist []float64) {
	norm := 0.0
	for _, v := range hist {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return
	}

	clip := 0.2 * norm
	norm2 := 0.0
	for i, v := range hist {
		if v > clip {
			v = clip
		}
		hist[i] = v
		norm2 += v * v
	}
	norm2 = math.Sqrt(norm2)

	for i, v := range hist {
		hist[i] = float64(emath.ClampU8(v / norm2 * 512))
	}
}
