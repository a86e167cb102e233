package pano

import (
	"image"
	"math"

	"github.com/fogleman/gg"
	colorful "github.com/lucasb-eyer/go-colorful"

	"github.com/ricdezen/panoramic/pkg/emath"
)

// DrawMatches puts the two images side by side and joins each
// correspondence with a line, one colour per correspondence. Features
// that weren't matched aren't drawn.
func DrawMatches(left, right image.Image, lfs, rfs FeatureSet, matches []Correspondence) *image.RGBA {
	lb, rb := left.Bounds(), right.Bounds()
	w := lb.Dx() + rb.Dx()
	h := max(lb.Dy(), rb.Dy())

	dc := gg.NewContext(w, h)
	dc.SetRGB(0, 0, 0)
	dc.Clear()
	dc.DrawImage(ToRGBA(left), 0, 0)
	dc.DrawImage(ToRGBA(right), lb.Dx(), 0)

	// Right image coords onto the combined image
	toRight := emath.Identity().Translate(float64(lb.Dx()), 0)

	dc.SetLineWidth(1)
	for i, m := range matches {
		col := matchColor(i)
		dc.SetRGB(col.R, col.G, col.B)

		lf, rf := lfs.Features[m.Left], rfs.Features[m.Right]
		rx, ry := toRight.Apply(rf.X, rf.Y)
		lr := math.Max(3, lf.Size/2)
		rr := math.Max(3, rf.Size/2)

		dc.DrawCircle(lf.X, lf.Y, lr)
		dc.Stroke()
		dc.DrawCircle(rx, ry, rr)
		dc.Stroke()
		dc.DrawLine(lf.X, lf.Y, rx, ry)
		dc.Stroke()
	}

	return ToRGBA(dc.Image())
}

// matchColor steps the hue round by the golden angle, so neighbouring
// indices get clearly different colours.
func matchColor(i int) colorful.Color {
	hue := math.Mod(float64(i)*137.508, 360)
	return colorful.Hsv(hue, 0.85, 0.95).Clamped()
}
