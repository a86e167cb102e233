package pano

import (
	"bytes"
	"image"
	"image/color"
	"log/slog"
	"math/rand/v2"

	"golang.org/x/image/draw"
)

// randomTexture fills an image with overlapping flat rectangles, which
// gives both detectors plenty of corners and blobs to work with.
func randomTexture(w, h int, seed uint64) *image.RGBA {
	rng := rand.New(rand.NewPCG(seed, seed*7+3))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{128, 128, 128, 255}), image.Point{}, draw.Src)

	for i := 0; i < w*h/150; i++ {
		x, y := rng.IntN(w), rng.IntN(h)
		rw, rh := 6+rng.IntN(30), 6+rng.IntN(30)
		v := uint8(rng.IntN(256))
		c := color.RGBA{v, v, 255 - v, 255}
		draw.Draw(img, image.Rect(x, y, x+rw, y+rh), image.NewUniform(c), image.Point{}, draw.Src)
	}
	return img
}

// crop copies out the w x h window at (x,y), with its origin at (0,0).
func crop(img *image.RGBA, x, y, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), img, image.Pt(x, y), draw.Src)
	return dst
}

func flatImage(w, h int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(color.RGBA{v, v, v, 255}), image.Point{}, draw.Src)
	return img
}

func solidGray(w, h int, v uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = v
	}
	return img
}

// bufferLogger logs everything, down to debug, into buf.
func bufferLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
