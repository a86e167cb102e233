package pano

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig covers bad parameters: half-fov out of range, fewer
	// than two images, an unknown detector, and so on.
	ErrConfig = errors.New("configuration error")

	// ErrDegenerateFeatures is returned when an image yields too few
	// feature points to take part in matching.
	ErrDegenerateFeatures = errors.New("degenerate features")

	// ErrInsufficientCorrespondences is returned when a pair of images
	// can't produce a shift: no matches survive filtering, the
	// consensus fit has too few inliers, or the shift leaves no overlap
	// to blend over. It is never reported as a (0,0) shift.
	ErrInsufficientCorrespondences = errors.New("insufficient correspondences")
)

// A PairError labels a failure with the adjacent pair it happened on.
type PairError struct {
	Left, Right int
	Err         error
}

func (e *PairError) Error() string {
	return fmt.Sprintf("pair %d-%d: %v", e.Left, e.Right, e.Err)
}

func (e *PairError) Unwrap() error { return e.Err }

func pairError(i int, err error) error {
	return &PairError{Left: i, Right: i + 1, Err: err}
}

func configErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}
