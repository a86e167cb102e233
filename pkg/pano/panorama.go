package pano

import (
	"image"
	"log/slog"
	"slices"
	"sync"
)

// Stats counts the expensive steps a Panorama has run. Mostly of
// interest to tests that check the caching.
type Stats struct {
	Projections       int // Images reprojected onto the cylinder
	Detections        int // Images run through the feature detector
	ShiftComputations int // Full runs of the matching stage
	Equalizations     int // Material sets equalised
	Composites        int // Canvases built
}

type cacheEntry struct {
	present bool
	img     image.Image
}

// Panorama stitches an ordered run of photos, taken by a camera
// turning about its vertical axis, into one wide image. Results are
// computed on first request and cached; it is safe for concurrent use.
type Panorama struct {
	Logger *slog.Logger

	cfg       Config
	detector  Detector
	originals []image.Image // Canonical (left to right) order, all one size

	mu        sync.Mutex
	projected []*image.RGBA
	gray      []*image.Gray
	equalized [2][]image.Image // Indexed by gray
	pairs     []PairResult
	chain     *ShiftChain
	matchImgs []image.Image
	results   [2][2]cacheEntry // [gray][equalized]
	stats     Stats
}

type Option func(*Panorama)

// WithDetector uses the given detector instead of the one the config
// names.
func WithDetector(d Detector) Option {
	return func(p *Panorama) { p.detector = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Panorama) { p.Logger = l }
}

// New takes ownership of the images. They are reversed first if the
// config says they run right to left, and any whose size differs from
// the first are rescaled to match it.
func New(images []image.Image, cfg Config, opts ...Option) (*Panorama, error) {
	if len(images) < 2 {
		return nil, configErrorf("need at least 2 images, got %d", len(images))
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Panorama{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.detector == nil {
		d, err := cfg.GetDetector()
		if err != nil {
			return nil, err
		}
		p.detector = d
	}
	if sd, ok := p.detector.(*SIFTDetector); ok && sd.Logger == nil {
		sd.Logger = p.Logger
	}

	b := images[0].Bounds()
	p.originals = make([]image.Image, len(images))
	for i, img := range images {
		if img.Bounds().Dx() != b.Dx() || img.Bounds().Dy() != b.Dy() {
			p.Logger.Warn("rescaling image", "image", i, "from", img.Bounds().Size(), "to", b.Size())
		}
		p.originals[i] = ScaleTo(img, b.Dx(), b.Dy())
	}
	if cfg.Direction == Left {
		slices.Reverse(p.originals)
	}

	p.Logger.Info("new panorama", "images", len(images), "size", b.Size(), "detector", p.detector.Name(),
		"halffov", cfg.HalfFOVDeg, "distratio", cfg.DistRatio, "direction", cfg.Direction)
	return p, nil
}

// Get returns the composite for one of the four variants. If draw is
// set and the match images haven't been drawn yet, the matching stage
// is rerun to draw them; the composite itself doesn't change. The
// returned image is shared with the cache and must not be modified.
func (p *Panorama) Get(gray, equalized, draw bool) (image.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	g, e := b2i(gray), b2i(equalized)
	shouldDraw := draw && len(p.matchImgs) == 0
	entry := p.results[g][e]
	if entry.present && !shouldDraw {
		return entry.img, nil
	}

	if p.chain == nil || shouldDraw {
		if err := p.computeShifts(shouldDraw); err != nil {
			return nil, err
		}
	}
	if entry.present {
		return entry.img, nil
	}

	img, err := Composite(p.materials(gray, equalized), *p.chain)
	if err != nil {
		return nil, err
	}
	p.stats.Composites++
	p.results[g][e] = cacheEntry{present: true, img: img}
	p.Logger.Info("composited", "gray", gray, "equalized", equalized, "size", img.Bounds().Size())
	return img, nil
}

// GetAll returns color, color equalised, gray and gray equalised, in
// that order. The gray variants are converted to RGBA.
func (p *Panorama) GetAll(draw bool) ([]image.Image, error) {
	out := make([]image.Image, 0, 4)
	for _, v := range [][2]bool{{false, false}, {false, true}, {true, false}, {true, true}} {
		img, err := p.Get(v[0], v[1], draw)
		if err != nil {
			return nil, err
		}
		if v[0] {
			img = ToRGBA(img)
		}
		out = append(out, img)
	}
	return out, nil
}

// MatchImages returns one image per adjacent pair showing the inlier
// correspondences. It is empty until Get or GetAll has run with draw
// set.
func (p *Panorama) MatchImages() []image.Image {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.matchImgs)
}

// Shifts returns the per-pair shifts, computing them if need be.
func (p *Panorama) Shifts() ([]Shift, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.chain == nil {
		if err := p.computeShifts(false); err != nil {
			return nil, err
		}
	}
	return slices.Clone(p.chain.Shifts), nil
}

// Extent returns the canvas extent, computing the shifts if need be.
func (p *Panorama) Extent() (CanvasExtent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.chain == nil {
		if err := p.computeShifts(false); err != nil {
			return CanvasExtent{}, err
		}
	}
	return p.chain.Extent, nil
}

// PairResults returns the details of the last matching run, if any.
func (p *Panorama) PairResults() []PairResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.pairs)
}

func (p *Panorama) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// computeShifts projects the images (once), detects features in them,
// matches each adjacent pair, and folds the shifts into a chain. Must
// be called with the lock held. Nothing is updated on failure.
func (p *Panorama) computeShifts(draw bool) error {
	n := len(p.originals)
	needProjection := p.projected == nil
	projected := p.projected
	gray := p.gray
	if needProjection {
		projected = make([]*image.RGBA, n)
		gray = make([]*image.Gray, n)
	}
	features := make([]FeatureSet, n)

	err := forEachConcurrently(n, p.cfg.workers(), func(i int) error {
		if needProjection {
			img, err := CylindricalProjection(p.originals[i], p.cfg.HalfFOV())
			if err != nil {
				return err
			}
			projected[i] = img
			gray[i] = ToGray(img)
		}
		fs, err := p.detector.Detect(gray[i])
		if err != nil {
			return err
		}
		features[i] = fs
		return nil
	})
	if err != nil {
		return err
	}

	if needProjection {
		p.projected, p.gray = projected, gray
		p.stats.Projections += n
	}
	p.stats.Detections += n
	for i, fs := range features {
		p.Logger.Debug("features", "image", i, "detector", p.detector.Name(), "count", fs.Len())
	}

	pairs := make([]PairResult, n-1)
	err = forEachConcurrently(n-1, p.cfg.workers(), func(i int) error {
		res, err := EstimateShift(p.cfg, i, features[i], features[i+1])
		pairs[i] = res
		return err
	})
	if err != nil {
		return err
	}

	shifts := make([]Shift, n-1)
	for i, res := range pairs {
		shifts[i] = res.Shift
		p.Logger.Debug("pair", "left", i, "right", i+1, "matches", len(res.Matches), "inliers", len(res.Inliers),
			"shift", res.Shift.String(), "distances", res.Distances.String())
	}
	chain := AccumulateShifts(shifts)
	p.Logger.Info("shifts computed", "shifts", shifts, "extent", chain.Extent.String())

	if draw {
		imgs := make([]image.Image, n-1)
		for i, res := range pairs {
			imgs[i] = DrawMatches(p.gray[i], p.gray[i+1], features[i], features[i+1], res.Inliers)
		}
		p.matchImgs = imgs
	}

	p.pairs = pairs
	p.chain = &chain
	p.stats.ShiftComputations++
	return nil
}

// materials returns the images to composite for a variant, equalising
// them on first use. Must be called with the lock held.
func (p *Panorama) materials(gray, equalized bool) []image.Image {
	n := len(p.projected)
	base := make([]image.Image, n)
	for i := range base {
		if gray {
			base[i] = p.gray[i]
		} else {
			base[i] = p.projected[i]
		}
	}
	if !equalized {
		return base
	}

	g := b2i(gray)
	if p.equalized[g] == nil {
		eq := make([]image.Image, n)
		for i, img := range base {
			eq[i] = Equalize(img)
		}
		p.equalized[g] = eq
		p.stats.Equalizations++
	}
	return p.equalized[g]
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}
