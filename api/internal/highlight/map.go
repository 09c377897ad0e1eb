package highlight

import (
	"regexp"
	"strconv"
	"strings"

	"mistakepatch/api/internal/grading"
)

// MinRequested is the smallest number of boxes asked from the detector.
const MinRequested = 6

var stepRe = regexp.MustCompile(`^[sS](\d+)$`)

// Requested is how many line boxes to ask the detector for.
func Requested(res *grading.Result) int {
	return max(len(res.Mistakes), MinRequested)
}

// stepIndex maps "s<k>" onto the k-th box (1-based, clamped). Anything else is unresolved.
func stepIndex(step string, n int) (int, bool) {
	if n <= 0 {
		return 0, false
	}
	m := stepRe.FindStringSubmatch(strings.TrimSpace(step))
	if m == nil {
		return 0, false
	}
	k, err := strconv.Atoi(m[1])
	if err != nil || k <= 0 {
		return 0, false
	}
	return min(k-1, n-1), true
}

// Map collapses boxes and fills the coordinates of every highlight that is not
// already complete. It returns how many highlights were filled.
func Map(res *grading.Result, boxes []grading.LineBox) int {
	lines := Collapse(boxes)
	if len(lines) == 0 {
		return 0
	}

	filled, fallback := 0, 0
	for i := range res.Mistakes {
		m := &res.Mistakes[i]
		idx, ok := stepIndex(grading.ParseProvenance(m.Evidence).Step, len(lines))
		if !ok {
			// unresolved mistakes consume boxes in order, the fallback cursor advances either way
			idx = min(fallback, len(lines)-1)
			fallback++
		}
		if m.Highlight.Complete() {
			continue
		}
		// only the coordinates change, mode and shape stay as the mistake carries them
		b := lines[idx]
		h := &m.Highlight
		if h.Mode == "" {
			h.Mode = grading.ModeOCRBox
		}
		if h.Shape == "" {
			h.Shape = grading.ShapeBox
		}
		h.X, h.Y = grading.FloatPtr(b.X), grading.FloatPtr(b.Y)
		h.W, h.H = grading.FloatPtr(b.W), grading.FloatPtr(b.H)
		filled++
	}
	return filled
}
