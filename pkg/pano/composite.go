package pano

import (
	"fmt"
	"image"
	"math"

	"github.com/ricdezen/panoramic/pkg/emath"
)

// pixBuf is the part of image.RGBA / image.Gray the compositor needs.
type pixBuf struct {
	pix    []uint8
	stride int
	bpp    int // bytes per pixel
}

func (p pixBuf) offset(x, y int) int { return y*p.stride + x*p.bpp }

func asPixBuf(img image.Image) (pixBuf, bool) {
	switch t := img.(type) {
	case *image.RGBA:
		if t.Rect.Min != (image.Point{}) {
			return pixBuf{}, false
		}
		return pixBuf{t.Pix, t.Stride, 4}, true
	case *image.Gray:
		if t.Rect.Min != (image.Point{}) {
			return pixBuf{}, false
		}
		return pixBuf{t.Pix, t.Stride, 1}, true
	}
	return pixBuf{}, false
}

// seam is where image i takes over from image i-1, in image i's own
// columns.
type seam struct {
	start     int // Unclamped start of the blend; alpha is 0 here
	pieceLeft int // First column pasted as-is; the blend ends here
	span      float64
}

// seamFor places the seam for an image that sits shift columns to the
// right of its predecessor. The two images meet in the middle of the
// overlap, but the pasted piece starts 60% of the way across, leaving
// room to cross-fade either side of the junction.
func seamFor(shift, width int) (seam, error) {
	if shift < 0 || shift >= width {
		return seam{}, fmt.Errorf("%w: horizontal shift %d leaves no overlap in width %d",
			ErrInsufficientCorrespondences, shift, width)
	}
	overlap := width - shift
	pieceLeft := int(math.Round(float64(overlap) * 0.6))
	junction := overlap / 2
	halfSpan := pieceLeft - junction
	if halfSpan <= 0 {
		return seam{}, fmt.Errorf("%w: overlap of %d columns is too small to blend",
			ErrInsufficientCorrespondences, overlap)
	}
	return seam{start: junction - halfSpan, pieceLeft: pieceLeft, span: float64(2 * halfSpan)}, nil
}

// Composite pastes the images onto one canvas at the chain's offsets,
// cross-fading each seam, then crops off the rows that vertical drift
// leaves black. The images must all be *image.RGBA or all be
// *image.Gray, and all the same size; the result has the same type.
func Composite(materials []image.Image, chain ShiftChain) (image.Image, error) {
	n := len(materials)
	if n == 0 {
		return nil, configErrorf("nothing to composite")
	}
	if len(chain.Offsets) != n || len(chain.Shifts) != n-1 {
		return nil, configErrorf("%d images but %d offsets and %d shifts", n, len(chain.Offsets), len(chain.Shifts))
	}

	b := materials[0].Bounds()
	w, h := b.Dx(), b.Dy()
	srcs := make([]pixBuf, n)
	for i, m := range materials {
		pb, ok := asPixBuf(m)
		if !ok || (i > 0 && pb.bpp != srcs[0].bpp) {
			return nil, configErrorf("image %d is a %T; wanted all *image.RGBA or all *image.Gray", i, m)
		}
		if m.Bounds().Dx() != w || m.Bounds().Dy() != h {
			return nil, configErrorf("image %d is %dx%d, wanted %dx%d", i, m.Bounds().Dx(), m.Bounds().Dy(), w, h)
		}
		srcs[i] = pb
	}

	ext := chain.Extent
	drift := ext.Drift()
	if drift >= h {
		return nil, fmt.Errorf("%w: vertical drift %d is not less than the image height %d",
			ErrInsufficientCorrespondences, drift, h)
	}

	seams := make([]seam, n)
	for i := 1; i < n; i++ {
		s, err := seamFor(chain.Shifts[i-1].DX, w)
		if err != nil {
			return nil, pairError(i-1, err)
		}
		seams[i] = s
	}

	cw, ch := ext.CanvasSize(w, h)
	canvas, dst := newCanvas(materials[0], cw, ch)
	bpp := dst.bpp

	for i, src := range srcs {
		ox := chain.Offsets[i].X - ext.Left
		oy := chain.Offsets[i].Y - ext.Upper
		sm := seams[i]

		for r := 0; r < h; r++ {
			srow := src.offset(0, r)
			drow := dst.offset(ox, oy+r)

			// Cross-fade from what's already on the canvas into this image
			for c := max(sm.start, 0); c < sm.pieceLeft; c++ {
				alpha := float64(c-sm.start) / sm.span
				for k := 0; k < bpp; k++ {
					old := float64(dst.pix[drow+c*bpp+k])
					cur := float64(src.pix[srow+c*bpp+k])
					dst.pix[drow+c*bpp+k] = emath.ClampU8(old*(1-alpha) + cur*alpha)
				}
			}

			// The rest of the row overwrites
			copy(dst.pix[drow+sm.pieceLeft*bpp:drow+w*bpp], src.pix[srow+sm.pieceLeft*bpp:srow+w*bpp])
		}
	}

	return cropRows(canvas, drift, ch-drift), nil
}

// newCanvas allocates an opaque black canvas of the same type as like.
func newCanvas(like image.Image, w, h int) (image.Image, pixBuf) {
	if _, isGray := like.(*image.Gray); isGray {
		img := image.NewGray(image.Rect(0, 0, w, h))
		return img, pixBuf{img.Pix, img.Stride, 1}
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 0xff
	}
	return img, pixBuf{img.Pix, img.Stride, 4}
}

// cropRows copies rows [y0, y1) into a new image with its origin at (0,0).
func cropRows(img image.Image, y0, y1 int) image.Image {
	w := img.Bounds().Dx()
	switch src := img.(type) {
	case *image.Gray:
		dst := image.NewGray(image.Rect(0, 0, w, y1-y0))
		copy(dst.Pix, src.Pix[y0*src.Stride:y1*src.Stride])
		return dst
	case *image.RGBA:
		dst := image.NewRGBA(image.Rect(0, 0, w, y1-y0))
		copy(dst.Pix, src.Pix[y0*src.Stride:y1*src.Stride])
		return dst
	}
	return img
}
