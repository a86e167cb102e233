package pano

import (
	"image"
)

// Equalize spreads the histogram of each channel across the full
// [0, 255] range, independently. Gray images stay gray; anything else
// comes back as RGBA with its alpha untouched. A channel holding a
// single value is left as is.
func Equalize(img image.Image) image.Image {
	if g, ok := img.(*image.Gray); ok {
		dst := cloneImage(g).(*image.Gray)
		equalizePlane(dst.Pix, dst.Rect.Dx(), dst.Rect.Dy(), dst.Stride, 1, 0)
		return dst
	}

	dst := ToRGBA(img)
	for c := 0; c < 3; c++ {
		equalizePlane(dst.Pix, dst.Rect.Dx(), dst.Rect.Dy(), dst.Stride, 4, c)
	}
	return dst
}

// equalizePlane equalises the channel at byte offset `channel` of
// every `bpp`-byte pixel, in place.
func equalizePlane(pix []uint8, w, h, stride, bpp, channel int) {
	hist := [256]int{}
	for y := 0; y < h; y++ {
		row := pix[y*stride:]
		for x := 0; x < w; x++ {
			hist[row[x*bpp+channel]]++
		}
	}

	total := w * h
	first := 0
	for first < 256 && hist[first] == 0 {
		first++
	}
	if first == 256 || hist[first] == total {
		return
	}

	// The darkest level maps to 0, the cumulative count spreads the rest up to 255
	scale := 255.0 / float64(total-hist[first])
	lut := [256]uint8{}
	sum := 0
	for i := first + 1; i < 256; i++ {
		sum += hist[i]
		lut[i] = uint8(min(255, int(float64(sum)*scale+0.5)))
	}

	for y := 0; y < h; y++ {
		row := pix[y*stride:]
		for x := 0; x < w; x++ {
			row[x*bpp+channel] = lut[row[x*bpp+channel]]
		}
	}
}
