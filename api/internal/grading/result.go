package grading

// --- GRADING RESULT ---------------------------------------------------------
// Canonical record produced by the reconciliation pipeline and persisted as-is.
// Every stage mutates the same *Result; nothing outside this package constructs
// one from raw model output except Normalize.

const (
	MaxScore        = 10.0
	MaxDimension    = 2.0
	MaxPoints       = 2.0
	MaxMistakes     = 20
	MaxChecklist    = 3
	MaxMissingInfo  = 6
	MaxPatchChanges = 6
)

type Result struct {
	ScoreTotal          float64   `json:"score_total" validate:"gte=0,lte=10"`
	RubricScores        Rubric    `json:"rubric_scores"`
	Mistakes            []Mistake `json:"mistakes" validate:"max=20,dive"`
	Patch               Patch     `json:"patch"`
	NextChecklist       []string  `json:"next_checklist" validate:"min=1,max=3,dive,min=1,max=80"`
	Confidence          float64   `json:"confidence" validate:"gte=0,lte=1"`
	MissingInfo         []string  `json:"missing_info" validate:"max=6,dive,min=1,max=80"`
	AnswerVerdict       Verdict   `json:"answer_verdict" validate:"oneof=correct incorrect unknown"`
	AnswerVerdictReason string    `json:"answer_verdict_reason" validate:"min=1,max=120"`
}

// Rubric holds the five 0..2 dimensions; their sum tracks ScoreTotal loosely.
type Rubric struct {
	Conditions  float64 `json:"conditions" validate:"gte=0,lte=2"`
	Modeling    float64 `json:"modeling" validate:"gte=0,lte=2"`
	Logic       float64 `json:"logic" validate:"gte=0,lte=2"`
	Calculation float64 `json:"calculation" validate:"gte=0,lte=2"`
	Final       float64 `json:"final" validate:"gte=0,lte=2"`
}

// Dimension names in canonical order.
var Dimensions = []string{"conditions", "modeling", "logic", "calculation", "final"}

func (r Rubric) Get(key string) float64 {
	switch key {
	case "conditions":
		return r.Conditions
	case "modeling":
		return r.Modeling
	case "logic":
		return r.Logic
	case "calculation":
		return r.Calculation
	case "final":
		return r.Final
	}
	return 0
}

func (r *Rubric) Set(key string, v float64) {
	switch key {
	case "conditions":
		r.Conditions = v
	case "modeling":
		r.Modeling = v
	case "logic":
		r.Logic = v
	case "calculation":
		r.Calculation = v
	case "final":
		r.Final = v
	}
}

func (r Rubric) Sum() float64 {
	return r.Conditions + r.Modeling + r.Logic + r.Calculation + r.Final
}

// Scale multiplies every dimension by ratio, clamping into 0..2.
func (r *Rubric) Scale(ratio float64) {
	for _, k := range Dimensions {
		r.Set(k, Round2(Clamp(r.Get(k)*ratio, 0, MaxDimension)))
	}
}

// RescaleTo scales the dimensions proportionally so they sum to total;
// an all-zero rubric is filled evenly instead.
func (r *Rubric) RescaleTo(total float64) {
	if sum := r.Sum(); sum > 0 {
		r.Scale(total / sum)
		return
	}
	r.Fill(total / float64(len(Dimensions)))
}

// Fill sets every dimension to v (clamped).
func (r *Rubric) Fill(v float64) {
	v = Round2(Clamp(v, 0, MaxDimension))
	for _, k := range Dimensions {
		r.Set(k, v)
	}
}

type Mistake struct {
	MistakeID      string      `json:"mistake_id,omitempty"`
	Type           MistakeType `json:"type" validate:"mistake_type"`
	Severity       Severity    `json:"severity" validate:"oneof=low med high"`
	PointsDeducted float64     `json:"points_deducted" validate:"gte=0,lte=2"`
	Evidence       string      `json:"evidence" validate:"min=1,max=240"`
	FixInstruction string      `json:"fix_instruction" validate:"min=1,max=240"`
	LocationHint   string      `json:"location_hint" validate:"min=1,max=120"`
	Highlight      Highlight   `json:"highlight"`
}

// Highlight coordinates are normalized to the image: x/y are the box center, w/h its size.
type Highlight struct {
	Mode  HighlightMode  `json:"mode" validate:"oneof=tap ocr_box region_box"`
	Shape HighlightShape `json:"shape" validate:"oneof=circle box"`
	X     *float64       `json:"x" validate:"omitempty,gte=0,lte=1"`
	Y     *float64       `json:"y" validate:"omitempty,gte=0,lte=1"`
	W     *float64       `json:"w" validate:"omitempty,gte=0,lte=1"`
	H     *float64       `json:"h" validate:"omitempty,gte=0,lte=1"`
}

// Complete reports whether all four coordinates are set.
func (h Highlight) Complete() bool {
	return h.X != nil && h.Y != nil && h.W != nil && h.H != nil
}

// LineBox is a detected text line in the same normalized center/size frame as Highlight.
type LineBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Box returns an ocr_box highlight without coordinates.
func Box() Highlight {
	return Highlight{Mode: ModeOCRBox, Shape: ShapeBox}
}

type Patch struct {
	MinimalChanges       []PatchChange `json:"minimal_changes" validate:"min=1,max=6,dive"`
	PatchedSolutionBrief string        `json:"patched_solution_brief" validate:"min=1,max=600"`
}

type PatchChange struct {
	Change    string `json:"change" validate:"min=1,max=220"`
	Rationale string `json:"rationale" validate:"min=1,max=160"`
}

// DeductionSum sums points over all mistakes.
func (r *Result) DeductionSum() float64 {
	var s float64
	for _, m := range r.Mistakes {
		s += m.PointsDeducted
	}
	return s
}

// AddMissingInfo appends text once, keeping the list capped.
func (r *Result) AddMissingInfo(text string) {
	text = CleanText(text, "", 80)
	if text == "" {
		return
	}
	for _, v := range r.MissingInfo {
		if v == text {
			return
		}
	}
	r.MissingInfo = append(r.MissingInfo, text)
	if len(r.MissingInfo) > MaxMissingInfo {
		r.MissingInfo = r.MissingInfo[:MaxMissingInfo]
	}
}

// Clone returns a deep copy; stages that need a pristine candidate use it.
func (r *Result) Clone() *Result {
	out := *r
	out.Mistakes = append([]Mistake(nil), r.Mistakes...)
	out.Patch.MinimalChanges = append([]PatchChange(nil), r.Patch.MinimalChanges...)
	out.NextChecklist = append([]string(nil), r.NextChecklist...)
	out.MissingInfo = append([]string{}, r.MissingInfo...)
	return &out
}
