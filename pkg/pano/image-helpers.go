package pano

// A few helper routines for golang's image libraries

import (
	"fmt"
	"image"
	"image/png"
	"os"

	"golang.org/x/image/draw"
)

// ToRGBA copies any image into an RGBA whose bounds start at (0,0).
func ToRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

// ToGray converts to 8 bit gray with the usual luma weights
// (0.299, 0.587, 0.114).
func ToGray(img image.Image) *image.Gray {
	src := ToRGBA(img)
	b := src.Bounds()
	dst := image.NewGray(b)
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			i := src.PixOffset(x, y)
			r, g, bl := int(src.Pix[i]), int(src.Pix[i+1]), int(src.Pix[i+2])
			// Fixed point, 14 bits, rounded
			dst.Pix[dst.PixOffset(x, y)] = uint8((r*4899 + g*9617 + bl*1868 + 8192) >> 14)
		}
	}
	return dst
}

// ScaleTo resamples the image to the given size, if it isn't that size
// already.
func ScaleTo(img image.Image, w, h int) image.Image {
	if b := img.Bounds(); b.Dx() == w && b.Dy() == h {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// cloneImage returns a deep copy of an RGBA or Gray image.
func cloneImage(img image.Image) image.Image {
	switch src := img.(type) {
	case *image.RGBA:
		dst := image.NewRGBA(src.Rect)
		copy(dst.Pix, src.Pix)
		return dst
	case *image.Gray:
		dst := image.NewGray(src.Rect)
		copy(dst.Pix, src.Pix)
		return dst
	}
	return ToRGBA(img)
}

// VConcat stacks the images vertically, left aligned, on a black
// background.
func VConcat(imgs ...image.Image) *image.RGBA {
	w, h := 0, 0
	for _, img := range imgs {
		b := img.Bounds()
		if b.Dx() > w {
			w = b.Dx()
		}
		h += b.Dy()
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)
	y := 0
	for _, img := range imgs {
		b := img.Bounds()
		draw.Draw(dst, image.Rect(0, y, b.Dx(), y+b.Dy()), img, b.Min, draw.Src)
		y += b.Dy()
	}
	return dst
}

func WritePNG(img image.Image, filename string) error {
	if writer, err := os.Create(filename); err != nil {
		return fmt.Errorf("open+w '%s': %v", filename, err)
	} else {
		defer writer.Close()
		return png.Encode(writer, img)
	}
}
