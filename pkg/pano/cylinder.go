package pano

import (
	"image"
	"math"

	"github.com/ricdezen/panoramic/pkg/emath"
)

// CylindricalProjection reprojects the image onto a cylinder whose
// radius is the focal length implied by the half field of view (in
// radians). Once projected, turning the camera about its vertical axis
// shows up as a plain horizontal shift between frames.
//
// Destination (x,y) samples the source at
//   ( f.tan((x-xc)/f) + xc , (y-yc)/cos((x-xc)/f) + yc )
// with bilinear interpolation. Samples that land outside the source are
// left black (but opaque).
func CylindricalProjection(img image.Image, halfFOV float64) (*image.RGBA, error) {
	if !(halfFOV > 0 && halfFOV < math.Pi/2) {
		return nil, configErrorf("half field of view %v rad is outside (0, pi/2)", halfFOV)
	}

	src := ToRGBA(img)
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewRGBA(src.Rect)

	f := float64(w) / (2.0 * math.Tan(halfFOV))
	xc := float64(w-1) / 2.0
	yc := float64(h-1) / 2.0

	const eps = 1e-6
	maxX, maxY := float64(w-1)+eps, float64(h-1)+eps

	for x := 0; x < w; x++ {
		theta := (float64(x) - xc) / f
		sx := f*math.Tan(theta) + xc
		cosTheta := math.Cos(theta)

		for y := 0; y < h; y++ {
			di := dst.PixOffset(x, y)
			dst.Pix[di+3] = 0xff

			sy := (float64(y)-yc)/cosTheta + yc
			if sx < -eps || sx > maxX || sy < -eps || sy > maxY {
				continue
			}

			x0, fx := splitCoord(sx, w)
			y0, fy := splitCoord(sy, h)
			x1, y1 := min(x0+1, w-1), min(y0+1, h-1)

			p00 := src.PixOffset(x0, y0)
			p10 := src.PixOffset(x1, y0)
			p01 := src.PixOffset(x0, y1)
			p11 := src.PixOffset(x1, y1)
			for c := 0; c < 3; c++ {
				top := float64(src.Pix[p00+c])*(1-fx) + float64(src.Pix[p10+c])*fx
				bot := float64(src.Pix[p01+c])*(1-fx) + float64(src.Pix[p11+c])*fx
				dst.Pix[di+c] = emath.ClampU8(top*(1-fy) + bot*fy)
			}
		}
	}

	return dst, nil
}

// splitCoord returns the integer cell and the fractional offset into
// it, kept inside [0, n-1].
func splitCoord(v float64, n int) (int, float64) {
	i := int(math.Floor(v))
	if i < 0 {
		return 0, 0
	}
	if i >= n-1 {
		return n - 1, 0
	}
	return i, v - float64(i)
}

