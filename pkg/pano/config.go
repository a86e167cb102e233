package pano

import (
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/ricdezen/panoramic/pkg/emath"
)

/* Example config file ...

halffovdeg: 33
distratio: 10
direction: left
detector: orb
maxfeatures: 5000
ransacthreshold: 3
mininliers: 10
maxwarp: 0.1
maxshiftspread: 6

*/

// Direction says which way the camera was turning as the photos were
// taken. Right is the canonical left-to-right order.
type Direction int

const (
	Right Direction = iota
	Left
)

func (d Direction) String() string {
	switch d {
	case Right:
		return "right"
	case Left:
		return "left"
	}
	return fmt.Sprintf("Direction(%d)", int(d))
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "r", "right", "":
		return Right, nil
	case "l", "left":
		return Left, nil
	}
	return Right, configErrorf("unknown direction %q, wanted r|l", s)
}

func (d Direction) MarshalYAML() (interface{}, error) { return d.String(), nil }

func (d *Direction) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParseDirection(s)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

type Config struct {
	Verbosity int

	HalfFOVDeg float64   // Half the horizontal field of view of the camera
	DistRatio  float64   // Matches further than DistRatio * (min match distance) are dropped
	Direction  Direction // Left means the images were supplied right to left

	Detector          string  // Which feature detector family to use
	MaxFeatures       int     // Cap on the number of features per image (orb)
	ContrastThreshold float64 // DoG extrema dimmer than this are ignored (sift)
	FASTThreshold     int     // Intensity difference for the FAST segment test (orb)

	RANSACThreshold  float64 // Reprojection error (pixels) below which a match is an inlier
	RANSACIterations int
	RANSACSeed       uint64
	MinInliers       int // Fewer consensus inliers than this and a pair can't be stitched

	// Projected images line up by translation alone, so a consensus
	// homography further than MaxWarp from one is rejected, as is a pair
	// whose inlier displacements have a std dev (pixels) over MaxShiftSpread.
	MaxWarp        float64
	MaxShiftSpread float64

	Workers int // Size of the worker pool for the per-image and per-pair stages
}

func NewConfig() Config {
	return Config{
		HalfFOVDeg:        33,
		DistRatio:         10,
		Direction:         Right,
		Detector:          "sift",
		MaxFeatures:       5000,
		ContrastThreshold: 0.01,
		FASTThreshold:     20,
		RANSACThreshold:   3.0,
		RANSACIterations:  2000,
		RANSACSeed:        1,
		MinInliers:        10,
		MaxWarp:           0.1,
		MaxShiftSpread:    6,
		Workers:           runtime.NumCPU(),
	}
}

func NewConfigFromYaml(b []byte) (Config, error) {
	c := NewConfig()
	err := yaml.Unmarshal(b, &c)
	return c, err
}

func (c Config) AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		slog.Error("can't marshal config yaml", "error", err)
		return ""
	}
	return string(b)
}

// HalfFOV is the half field of view in radians.
func (c Config) HalfFOV() float64 {
	return c.HalfFOVDeg * math.Pi / 180.0
}

// Validate reports anything that makes the config unusable.
func (c Config) Validate() error {
	if !(c.HalfFOVDeg > 0 && c.HalfFOVDeg < 90) {
		return configErrorf("half field of view %v deg is outside (0, 90)", c.HalfFOVDeg)
	}
	if !(c.DistRatio > 0) {
		return configErrorf("distance ratio %v must be positive", c.DistRatio)
	}
	if c.Direction != Right && c.Direction != Left {
		return configErrorf("unknown direction %s", c.Direction)
	}
	if _, exists := detectorFactories[c.Detector]; !exists {
		return configErrorf("no detector named '%s', wanted %s", c.Detector, ListDetectors())
	}
	if c.MinInliers < 4 {
		return configErrorf("min inliers %d is below the 4 a homography needs", c.MinInliers)
	}
	if !(c.RANSACThreshold > 0) {
		return configErrorf("ransac threshold %v must be positive", c.RANSACThreshold)
	}
	if !(c.MaxWarp > 0 && c.MaxWarp < 1) {
		return configErrorf("max warp %v is outside (0, 1)", c.MaxWarp)
	}
	if !(c.MaxShiftSpread > 0) {
		return configErrorf("max shift spread %v must be positive", c.MaxShiftSpread)
	}
	return nil
}

func (c Config) workers() int {
	if c.Workers < 1 {
		return 1
	}
	return c.Workers
}

// RansacParams derives the consensus parameters for one pair. Each pair
// gets its own seed so results don't depend on scheduling, and only
// near-translations are considered.
func (c Config) RansacParams(pair int) emath.RansacParams {
	p := emath.DefaultRansacParams()
	p.Threshold = c.RANSACThreshold
	if c.RANSACIterations > 0 {
		p.MaxIterations = c.RANSACIterations
	}
	p.Seed = c.RANSACSeed + uint64(pair)
	maxWarp := c.MaxWarp
	p.Accept = func(h emath.Mat3) bool { return emath.NearTranslation(h, maxWarp) }
	return p
}

// A DetectorFactory builds a Detector from the config.
type DetectorFactory func(Config) Detector

var detectorFactories = map[string]DetectorFactory{
	"sift": func(c Config) Detector { return NewSIFTDetector(c) },
	"orb":  func(c Config) Detector { return NewORBDetector(c) },
}

// RegisterDetector makes a detector family selectable by name. Used by
// the optional OpenCV detectors.
func RegisterDetector(name string, f DetectorFactory) {
	detectorFactories[name] = f
}

func ListDetectors() string {
	names := []string{}
	for name := range detectorFactories {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Sprintf("%v", names)
}

func (c Config) GetDetector() (Detector, error) {
	f, exists := detectorFactories[c.Detector]
	if !exists {
		return nil, configErrorf("no detector named '%s', wanted %s", c.Detector, ListDetectors())
	}
	return f(c), nil
}
