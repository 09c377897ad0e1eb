package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"sort"

	_ "golang.org/x/image/webp"

	"mistakepatch/api/internal/grading"
)

const darkThreshold = 195

type inkBox struct {
	box grading.LineBox
	top int
	ink int
}

// DetectInkLines finds horizontal bands of dark pixels and returns their
// padded bounding boxes, topmost first, at most n of them.
func DetectInkLines(data []byte, n int) ([]grading.LineBox, error) {
	if len(data) == 0 || n <= 0 {
		return nil, nil
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return inkLines(img, n), nil
}

func inkLines(img image.Image, n int) []grading.LineBox {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width <= 0 || height <= 0 {
		return nil
	}

	dark := make([]bool, width*height)
	rowInk := make([]int, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g := color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray)
			if g.Y < darkThreshold {
				dark[y*width+x] = true
				rowInk[y]++
			}
		}
	}

	activeRow := max(6, int(float64(width)*0.012))
	maxGap := max(2, int(float64(height)*0.008))

	type segment struct{ top, bottom int }
	var segments []segment
	start, gap := -1, 0
	for y, ink := range rowInk {
		if ink >= activeRow {
			if start < 0 {
				start = y
			}
			gap = 0
			continue
		}
		if start < 0 {
			continue
		}
		gap++
		if gap > maxGap {
			if end := y - gap; end-start >= 8 {
				segments = append(segments, segment{start, end})
			}
			start, gap = -1, 0
		}
	}
	if start >= 0 && height-1-start >= 8 {
		segments = append(segments, segment{start, height - 1})
	}

	padX := max(4, int(float64(width)*0.008))
	padY := max(4, int(float64(height)*0.008))
	minW := int(float64(width) * 0.15)
	minH := int(float64(height) * 0.03)

	var found []inkBox
	for _, s := range segments {
		bandH := s.bottom - s.top + 1
		colInk := make([]int, width)
		for y := s.top; y <= s.bottom; y++ {
			for x := 0; x < width; x++ {
				if dark[y*width+x] {
					colInk[x]++
				}
			}
		}
		activeCol := max(2, int(float64(bandH)*0.04))
		left, right := -1, -1
		for x := 0; x < width; x++ {
			if colInk[x] >= activeCol {
				left = x
				break
			}
		}
		for x := width - 1; x >= 0; x-- {
			if colInk[x] >= activeCol {
				right = x
				break
			}
		}
		if left < 0 || right <= left {
			continue
		}

		x0, x1 := max(0, left-padX), min(width-1, right+padX)
		y0, y1 := max(0, s.top-padY), min(height-1, s.bottom+padY)
		bw, bh := x1-x0+1, y1-y0+1
		if bw < minW || bh < minH {
			continue
		}

		ink := 0
		for y := s.top; y <= s.bottom; y++ {
			ink += rowInk[y]
		}
		found = append(found, inkBox{
			box: grading.LineBox{
				X: grading.Round4((float64(x0) + float64(bw)/2) / float64(width)),
				Y: grading.Round4((float64(y0) + float64(bh)/2) / float64(height)),
				W: grading.Round4(float64(bw) / float64(width)),
				H: grading.Round4(float64(bh) / float64(height)),
			},
			top: y0,
			ink: ink,
		})
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].top != found[j].top {
			return found[i].top < found[j].top
		}
		return found[i].ink > found[j].ink
	})
	if len(found) > n {
		found = found[:n]
	}
	out := make([]grading.LineBox, len(found))
	for i, f := range found {
		out[i] = f.box
	}
	return out
}
