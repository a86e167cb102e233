package pano

import (
	"fmt"
	"image"
)

// A Feature is a distinctive point in an image along with a descriptor
// that lets us find the same point in another image.
type Feature struct {
	X, Y       float64   // Position in the full-size image
	Size       float64   // Diameter of the neighbourhood the descriptor was built from
	Angle      float64   // Dominant orientation, degrees in [0, 360)
	Response   float64   // Detector strength; bigger is better
	Octave     int       // Pyramid level it was found on
	Descriptor []float64 // Compared by Euclidean distance
}

// A FeatureSet is everything a Detector found in one image.
type FeatureSet struct {
	Features []Feature
}

func (fs FeatureSet) Len() int { return len(fs.Features) }

func (fs FeatureSet) String() string {
	dim := 0
	if len(fs.Features) > 0 {
		dim = len(fs.Features[0].Descriptor)
	}
	return fmt.Sprintf("FeatureSet[%d features, %d-dim descriptors]", len(fs.Features), dim)
}

// A Detector finds features in grayscale images. Implementations must
// be safe to call from several goroutines at once, and must not return
// an error just because an image has no features.
type Detector interface {
	Name() string
	Detect(img *image.Gray) (FeatureSet, error)
}

// minFeatures is how few features an image can have before we give
// up on it; a homography needs four correspondences.
const minFeatures = 4

func checkFeatures(idx int, fs FeatureSet) error {
	if fs.Len() < minFeatures {
		return fmt.Errorf("%w: image %d has %d features (need %d)", ErrDegenerateFeatures, idx, fs.Len(), minFeatures)
	}
	return nil
}
