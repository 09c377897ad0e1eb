package balance

import (
	"math"
	"sort"

	"mistakepatch/api/internal/grading"
)

const (
	unitsPerPoint = 10
	maxItemUnits  = grading.MaxPoints * unitsPerPoint
	minWeight     = 0.1
)

func normalizationFiller() grading.Mistake {
	return grading.Mistake{
		Type:           grading.LogicGap,
		Severity:       grading.SeverityHigh,
		PointsDeducted: 1,
		Evidence:       grading.FormatProvenance("s0", grading.RuleScoreBalance, "점수 총합 정규화를 위한 감점 분배", ""),
		FixInstruction: "핵심 줄의 전개를 순서대로 다시 확인하세요.",
		LocationHint:   middleLocation,
		Highlight:      grading.Box(),
	}
}

// NormalizeToTarget redistributes deductions so they sum to exactly target,
// every item a multiple of 0.1 and at most 2.0. Items rounded down to zero drop out.
func NormalizeToTarget(ms []grading.Mistake, target float64) []grading.Mistake {
	if len(ms) == 0 {
		return nil
	}
	targetUnits := int(math.Round(grading.RoundTenth(grading.Clamp(target, 0, grading.MaxScore)) * unitsPerPoint))
	if targetUnits <= 0 {
		return nil
	}

	items := append([]grading.Mistake(nil), ms...)
	for len(items)*maxItemUnits < targetUnits && len(items) < grading.MaxMistakes {
		items = append(items, normalizationFiller())
	}

	weights := make([]float64, len(items))
	for i, m := range items {
		weights[i] = max(m.PointsDeducted, minWeight)
	}
	alloc := allocateWithCap(weights, float64(targetUnits)/unitsPerPoint, grading.MaxPoints)

	units := make([]int, len(items))
	used := 0
	for i, v := range alloc {
		units[i] = max(0, int(math.Floor(v*unitsPerPoint+1e-9)))
		used += units[i]
	}

	switch drift := targetUnits - used; {
	case drift > 0:
		// hand out single tenths by largest remainder, then weight, then position
		order := indexes(len(items))
		sort.SliceStable(order, func(a, b int) bool {
			i, j := order[a], order[b]
			ri := alloc[i]*unitsPerPoint - float64(units[i])
			rj := alloc[j]*unitsPerPoint - float64(units[j])
			if ri != rj {
				return ri > rj
			}
			if weights[i] != weights[j] {
				return weights[i] > weights[j]
			}
			return i < j
		})
		for drift > 0 {
			moved := false
			for _, i := range order {
				if units[i] >= maxItemUnits {
					continue
				}
				units[i]++
				drift--
				moved = true
				if drift == 0 {
					break
				}
			}
			if !moved {
				break
			}
		}
	case drift < 0:
		// take single tenths back from the smallest allocations first
		order := indexes(len(items))
		sort.SliceStable(order, func(a, b int) bool {
			i, j := order[a], order[b]
			if units[i] != units[j] {
				return units[i] < units[j]
			}
			if weights[i] != weights[j] {
				return weights[i] < weights[j]
			}
			return i < j
		})
		for overflow := -drift; overflow > 0; {
			moved := false
			for _, i := range order {
				if units[i] <= 0 {
					continue
				}
				units[i]--
				overflow--
				moved = true
				if overflow == 0 {
					break
				}
			}
			if !moved {
				break
			}
		}
	}

	out := make([]grading.Mistake, 0, len(items))
	for i, m := range items {
		points := grading.RoundTenth(grading.Clamp(float64(units[i])/unitsPerPoint, 0, grading.MaxPoints))
		if points < 0.1 {
			continue
		}
		m.PointsDeducted = points
		m.Severity = m.Severity.Max(severityFor(points))
		out = append(out, m)
	}

	if len(out) == 0 {
		points := grading.RoundTenth(min(grading.MaxPoints, float64(targetUnits)/unitsPerPoint))
		sev := grading.SeverityMed
		if points >= 1.2 {
			sev = grading.SeverityHigh
		}
		out = append(out, grading.Mistake{
			Type:           grading.LogicGap,
			Severity:       sev,
			PointsDeducted: points,
			Evidence:       grading.FormatProvenance("s0", grading.RuleScoreBalance, "점수 총합 정규화를 위한 최소 감점 항목", ""),
			FixInstruction: "핵심 줄의 논리 전개를 다시 확인하세요.",
			LocationHint:   middleLocation,
			Highlight:      grading.Box(),
		})
	}
	return capMistakes(out)
}

func indexes(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// allocateWithCap splits target in proportion to weights with a per-item cap.
// Items whose share reaches the cap are pinned there and the rest re-split.
func allocateWithCap(weights []float64, target, limit float64) []float64 {
	n := len(weights)
	out := make([]float64, n)
	if n == 0 {
		return out
	}
	limit = max(0, limit)
	remaining := grading.Clamp(target, 0, limit*float64(n))
	open := indexes(n)

	for len(open) > 0 && remaining > 1e-9 {
		var sum float64
		for _, i := range open {
			sum += max(weights[i], 0)
		}
		if sum <= 1e-9 {
			share := remaining / float64(len(open))
			for _, i := range open {
				out[i] = min(limit, share)
			}
			break
		}

		var next []int
		saturated := 0
		for _, i := range open {
			if remaining*(max(weights[i], 0)/sum) >= limit-1e-9 {
				out[i] = limit
				saturated++
				continue
			}
			next = append(next, i)
		}
		if saturated > 0 {
			remaining = max(0, remaining-limit*float64(saturated))
			open = next
			continue
		}

		for _, i := range open {
			out[i] = remaining * (max(weights[i], 0) / sum)
		}
		remaining = 0
	}
	return out
}
