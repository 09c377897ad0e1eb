// Package highlight places each deduction on a detected line of the solution image.
package highlight

import (
	"sort"

	"mistakepatch/api/internal/grading"
)

const (
	minSide = 0.02

	overlapX     = 0.55
	overlapY     = 0.18
	nearFullX    = 0.7
	gapOfMinSide = 0.1
)

type bounds struct{ x0, y0, x1, y1 float64 }

func (b bounds) width() float64  { return b.x1 - b.x0 }
func (b bounds) height() float64 { return b.y1 - b.y0 }

func boundsOf(b grading.LineBox) (bounds, bool) {
	if b.W <= 0 || b.H <= 0 {
		return bounds{}, false
	}
	out := bounds{
		x0: grading.Clamp(b.X-b.W/2, 0, 1),
		y0: grading.Clamp(b.Y-b.H/2, 0, 1),
		x1: grading.Clamp(b.X+b.W/2, 0, 1),
		y1: grading.Clamp(b.Y+b.H/2, 0, 1),
	}
	if out.x1 <= out.x0 || out.y1 <= out.y0 {
		return bounds{}, false
	}
	return out, true
}

func ratio(overlap, side float64) float64 {
	if side <= 1e-9 {
		return 0
	}
	return overlap / side
}

// sameLine: enough overlap on both axes, or near-full horizontal overlap
// with a vertical gap under a tenth of the shorter box.
func sameLine(a, b grading.LineBox) bool {
	f, ok := boundsOf(a)
	if !ok {
		return false
	}
	s, ok := boundsOf(b)
	if !ok {
		return false
	}
	minW := min(f.width(), s.width())
	minH := min(f.height(), s.height())
	xr := ratio(max(0, min(f.x1, s.x1)-max(f.x0, s.x0)), minW)
	yr := ratio(max(0, min(f.y1, s.y1)-max(f.y0, s.y0)), minH)
	gap := max(0, max(f.y0, s.y0)-min(f.y1, s.y1))
	return (xr >= overlapX && yr >= overlapY) || (xr >= nearFullX && gap <= minH*gapOfMinSide)
}

func union(a, b grading.LineBox) grading.LineBox {
	f, ok := boundsOf(a)
	if !ok {
		return b
	}
	s, ok := boundsOf(b)
	if !ok {
		return a
	}
	x0, y0 := min(f.x0, s.x0), min(f.y0, s.y0)
	x1, y1 := max(f.x1, s.x1), max(f.y1, s.y1)
	return grading.LineBox{
		X: grading.Round4(grading.Clamp((x0+x1)/2, 0, 1)),
		Y: grading.Round4(grading.Clamp((y0+y1)/2, 0, 1)),
		W: grading.Round4(grading.Clamp(x1-x0, minSide, 1)),
		H: grading.Round4(grading.Clamp(y1-y0, minSide, 1)),
	}
}

// Collapse clamps the detector's boxes, orders them top to bottom and folds
// boxes of one text line into their union envelope.
func Collapse(boxes []grading.LineBox) []grading.LineBox {
	norm := make([]grading.LineBox, 0, len(boxes))
	for _, b := range boxes {
		if b.W <= 0 || b.H <= 0 {
			continue
		}
		norm = append(norm, grading.LineBox{
			X: grading.Clamp(b.X, 0, 1),
			Y: grading.Clamp(b.Y, 0, 1),
			W: grading.Clamp(b.W, minSide, 1),
			H: grading.Clamp(b.H, minSide, 1),
		})
	}
	if len(norm) == 0 {
		return nil
	}
	sort.SliceStable(norm, func(i, j int) bool { return norm[i].Y < norm[j].Y })

	merged := []grading.LineBox{norm[0]}
	for _, b := range norm[1:] {
		last := &merged[len(merged)-1]
		if sameLine(*last, b) {
			*last = union(*last, b)
			continue
		}
		merged = append(merged, b)
	}
	return merged
}
