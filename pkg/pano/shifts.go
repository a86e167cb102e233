package pano

import (
	"fmt"
	"image"
)

// CanvasExtent is how far the chain of images reaches from the first
// image's position. Left and Upper are <= 0, Right and Lower >= 0.
type CanvasExtent struct {
	Left, Right, Upper, Lower int
}

func (e CanvasExtent) String() string {
	return fmt.Sprintf("x[%d,%d] y[%d,%d]", e.Left, e.Right, e.Upper, e.Lower)
}

// CanvasSize is the canvas needed to hold every w x h image.
func (e CanvasExtent) CanvasSize(w, h int) (int, int) {
	return w + e.Right - e.Left, h + e.Lower - e.Upper
}

// Drift is the total vertical wander of the chain.
func (e CanvasExtent) Drift() int { return e.Lower - e.Upper }

func (e *CanvasExtent) include(p image.Point) {
	e.Left = min(e.Left, p.X)
	e.Right = max(e.Right, p.X)
	e.Upper = min(e.Upper, p.Y)
	e.Lower = max(e.Lower, p.Y)
}

// ShiftChain is the pairwise shifts folded into absolute positions.
type ShiftChain struct {
	Shifts  []Shift       // Shifts[i] is from image i to image i+1
	Offsets []image.Point // Offsets[i] is image i's position; Offsets[0] is the origin
	Extent  CanvasExtent
}

// AccumulateShifts walks the shifts in order, keeping a running
// position and widening the extent to include it.
func AccumulateShifts(shifts []Shift) ShiftChain {
	chain := ShiftChain{
		Shifts:  append([]Shift(nil), shifts...),
		Offsets: make([]image.Point, 1, len(shifts)+1),
	}

	pos := image.Point{}
	for _, s := range shifts {
		pos = pos.Add(image.Point{X: s.DX, Y: s.DY})
		chain.Offsets = append(chain.Offsets, pos)
		chain.Extent.include(pos)
	}
	return chain
}
