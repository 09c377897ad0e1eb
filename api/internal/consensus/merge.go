package consensus

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"mistakepatch/api/internal/grading"
)

const defaultLocation = "풀이 중간 구간"

type bucketKey struct {
	Type     grading.MistakeType
	Location string
}

func keyOf(m grading.Mistake) bucketKey {
	loc := strings.ToLower(grading.CleanText(m.LocationHint, defaultLocation, 80))
	return bucketKey{Type: m.Type, Location: strings.Join(strings.Fields(loc), " ")}
}

// Merge folds N validated runs into one result. The anchor run (score closest
// to the median, first wins ties) supplies every field not recomputed here, so
// the outcome does not depend on the order in which runs completed beyond that tie-break.
func Merge(runs []*grading.Result, requested int) (*grading.Result, grading.ConsensusMeta) {
	if requested < 1 {
		requested = 1
	}
	if len(runs) == 0 {
		return nil, grading.ConsensusMeta{RunsRequested: requested}
	}
	if len(runs) == 1 {
		return runs[0].Clone(), grading.SingleRun(requested)
	}

	scores := make([]float64, len(runs))
	for i, r := range runs {
		scores[i] = r.ScoreTotal
	}
	scoreMedian := grading.Round2(median(scores))
	lo, hi := minMax(scores)
	spread := hi - lo
	scoreAgreement := 1 - math.Min(1, spread/3)

	var rubric grading.Rubric
	for _, k := range grading.Dimensions {
		vals := make([]float64, len(runs))
		for i, r := range runs {
			vals[i] = r.RubricScores.Get(k)
		}
		rubric.Set(k, grading.Round2(grading.Clamp(median(vals), 0, grading.MaxDimension)))
	}

	mistakes, mistakeAgreement := mergeMistakes(runs)
	agreement := grading.Round2(grading.Clamp((scoreAgreement+mistakeAgreement)/2, 0, 1))

	anchor := runs[0]
	for _, r := range runs[1:] {
		if math.Abs(r.ScoreTotal-scoreMedian) < math.Abs(anchor.ScoreTotal-scoreMedian) {
			anchor = r
		}
	}
	merged := anchor.Clone()
	merged.ScoreTotal = scoreMedian
	merged.RubricScores = rubric
	merged.Mistakes = mistakes

	if checklist := voteChecklist(runs); len(checklist) > 0 {
		merged.NextChecklist = checklist
	}

	var confSum float64
	for _, r := range runs {
		confSum += r.Confidence
	}
	avg := confSum / float64(len(runs))
	merged.Confidence = grading.Round2(grading.Clamp(avg-(1-agreement)*0.25, 0, 1))

	merged.MissingInfo = []string{}
	for _, r := range runs {
		for _, s := range r.MissingInfo {
			merged.AddMissingInfo(s)
		}
	}
	merged.AddMissingInfo(fmt.Sprintf("consensus_runs=%d/%d, agreement=%.2f", len(runs), requested, agreement))

	return merged, grading.ConsensusMeta{
		RunsRequested: requested,
		RunsUsed:      len(runs),
		Agreement:     agreement,
		ScoreSpread:   math.Round(spread*1000) / 1000,
	}
}

// mergeMistakes keeps buckets voted by at least ceil(N/2) runs.
func mergeMistakes(runs []*grading.Result) ([]grading.Mistake, float64) {
	var order []bucketKey
	buckets := map[bucketKey][]grading.Mistake{}
	for _, r := range runs {
		for _, m := range r.Mistakes {
			k := keyOf(m)
			if _, ok := buckets[k]; !ok {
				order = append(order, k)
			}
			buckets[k] = append(buckets[k], m)
		}
	}
	if len(order) == 0 {
		return []grading.Mistake{}, 1
	}

	threshold := max(1, (len(runs)+1)/2)
	merged := make([]grading.Mistake, 0, len(order))
	for _, k := range order {
		bucket := buckets[k]
		if len(bucket) < threshold {
			continue
		}
		rep := bucket[0]
		for _, m := range bucket[1:] {
			if m.PointsDeducted > rep.PointsDeducted ||
				(m.PointsDeducted == rep.PointsDeducted && m.Severity.Rank() > rep.Severity.Rank()) {
				rep = m
			}
		}
		loc := k.Location
		if loc == "" {
			loc = defaultLocation
		}
		rep.LocationHint = grading.CleanText(rep.LocationHint, loc, 120)
		merged = append(merged, rep)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].PointsDeducted != merged[j].PointsDeducted {
			return merged[i].PointsDeducted > merged[j].PointsDeducted
		}
		return merged[i].Type > merged[j].Type
	})
	agreement := float64(len(merged)) / float64(len(order))
	if len(merged) > grading.MaxMistakes {
		merged = merged[:grading.MaxMistakes]
	}
	return merged, agreement
}

func voteChecklist(runs []*grading.Result) []string {
	votes := map[string]int{}
	var texts []string
	for _, r := range runs {
		for _, s := range r.NextChecklist {
			s = grading.CleanText(s, "", 80)
			if s == "" {
				continue
			}
			if _, ok := votes[s]; !ok {
				texts = append(texts, s)
			}
			votes[s]++
		}
	}
	sort.Slice(texts, func(i, j int) bool {
		if votes[texts[i]] != votes[texts[j]] {
			return votes[texts[i]] > votes[texts[j]]
		}
		return texts[i] < texts[j]
	})
	if len(texts) > grading.MaxChecklist {
		texts = texts[:grading.MaxChecklist]
	}
	return texts
}

func median(vals []float64) float64 {
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func minMax(vals []float64) (float64, float64) {
	lo, hi := vals[0], vals[0]
	for _, v := range vals[1:] {
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	return lo, hi
}
