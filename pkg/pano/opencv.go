//go:build withcv
// +build withcv

package pano

// OpenCV backed detectors, for comparison with the pure Go ones. Build
// with `-tags withcv` (needs OpenCV 4 installed).

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

func init() {
	RegisterDetector("cv-sift", func(c Config) Detector { return cvSIFTDetector{} })
	RegisterDetector("cv-orb", func(c Config) Detector { return cvORBDetector{MaxFeatures: c.MaxFeatures, FASTThreshold: c.FASTThreshold} })
}

type cvSIFTDetector struct{}

func (cvSIFTDetector) Name() string { return "cv-sift" }

func (cvSIFTDetector) Detect(img *image.Gray) (FeatureSet, error) {
	mat, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return FeatureSet{}, fmt.Errorf("gray to mat: %w", err)
	}
	defer mat.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	sift := gocv.NewSIFT()
	defer sift.Close()

	kps, desc := sift.DetectAndCompute(mat, mask)
	defer desc.Close()

	return toFeatureSet(kps, func(row int) []float64 {
		d := make([]float64, desc.Cols())
		for col := range d {
			d[col] = float64(desc.GetFloatAt(row, col))
		}
		return d
	}), nil
}

type cvORBDetector struct {
	MaxFeatures   int
	FASTThreshold int
}

func (cvORBDetector) Name() string { return "cv-orb" }

// Detect unpacks the binary descriptor into 0/1 components, to match
// what the pure Go ORB detector produces.
func (d cvORBDetector) Detect(img *image.Gray) (FeatureSet, error) {
	mat, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return FeatureSet{}, fmt.Errorf("gray to mat: %w", err)
	}
	defer mat.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	orb := gocv.NewORBWithParams(d.MaxFeatures, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, d.FASTThreshold)
	defer orb.Close()

	kps, desc := orb.DetectAndCompute(mat, mask)
	defer desc.Close()

	return toFeatureSet(kps, func(row int) []float64 {
		bits := make([]float64, desc.Cols()*8)
		for col := 0; col < desc.Cols(); col++ {
			b := desc.GetUCharAt(row, col)
			for i := 0; i < 8; i++ {
				bits[col*8+i] = float64((b >> i) & 1)
			}
		}
		return bits
	}), nil
}

func toFeatureSet(kps []gocv.KeyPoint, descRow func(int) []float64) FeatureSet {
	fs := FeatureSet{Features: make([]Feature, len(kps))}
	for i, kp := range kps {
		fs.Features[i] = Feature{
			X:          kp.X,
			Y:          kp.Y,
			Size:       kp.Size,
			Angle:      kp.Angle,
			Response:   kp.Response,
			Octave:     kp.Octave,
			Descriptor: descRow(i),
		}
	}
	return fs
}
