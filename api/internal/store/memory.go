package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"mistakepatch/api/internal/grading"
	"mistakepatch/api/internal/util"
)

type memAnalysis struct {
	Analysis
	resultJSON []byte
	mistakes   []memMistake
}

type memMistake struct {
	id  string
	typ grading.MistakeType
}

// Memory is a process-local Repo used when no DATABASE_URL is configured and by tests.
type Memory struct {
	mu          sync.RWMutex
	now         func() time.Time
	submissions map[string]Submission
	analyses    map[string]*memAnalysis
	annotations []Annotation
}

func NewMemory() *Memory {
	return &Memory{
		now:         time.Now,
		submissions: map[string]Submission{},
		analyses:    map[string]*memAnalysis{},
	}
}

func (m *Memory) CreateSubmission(_ context.Context, s Submission) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = util.NewID("s")
	s.CreatedAt = m.now()
	m.submissions[s.ID] = s
	return s.ID, nil
}

func (m *Memory) CreateAnalysis(_ context.Context, submissionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.submissions[submissionID]
	if !ok {
		return "", ErrNotFound
	}
	now := m.now()
	a := &memAnalysis{Analysis: Analysis{
		ID:           util.NewID("a"),
		SubmissionID: sub.ID,
		UserID:       sub.UserID,
		Status:       StatusQueued,
		Subject:      sub.Subject,
		SolutionPath: sub.SolutionPath,
		ProblemPath:  sub.ProblemPath,
		CreatedAt:    now,
		UpdatedAt:    now,
	}}
	m.analyses[a.ID] = a
	return a.ID, nil
}

func (m *Memory) SetStatus(_ context.Context, analysisID, status, errorCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[analysisID]
	if !ok {
		return ErrNotFound
	}
	a.Status, a.ErrorCode, a.UpdatedAt = status, errorCode, m.now()
	return nil
}

func (m *Memory) MarkFailed(ctx context.Context, analysisID, errorCode string) error {
	return m.SetStatus(ctx, analysisID, StatusFailed, errorCode)
}

func (m *Memory) SaveResult(_ context.Context, analysisID string, res *grading.Result, fallbackUsed bool, errorCode string) error {
	js, err := json.Marshal(res)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.analyses[analysisID]
	if !ok {
		return ErrNotFound
	}
	a.Status, a.FallbackUsed, a.ErrorCode, a.UpdatedAt = StatusDone, fallbackUsed, errorCode, m.now()
	a.resultJSON = js
	a.mistakes = a.mistakes[:0]
	for _, mk := range res.Mistakes {
		a.mistakes = append(a.mistakes, memMistake{id: util.NewID("m"), typ: mk.Type})
	}
	return nil
}

// GetAnalysis returns a copy; the stored result is decoded afresh on every read.
func (m *Memory) GetAnalysis(_ context.Context, analysisID, userID string) (*Analysis, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.analyses[analysisID]
	if !ok || a.UserID != userID {
		return nil, ErrNotFound
	}
	out := a.Analysis
	if len(a.resultJSON) == 0 {
		return &out, nil
	}
	var res grading.Result
	if err := json.Unmarshal(a.resultJSON, &res); err != nil {
		return nil, err
	}
	ids := make([]string, len(a.mistakes))
	for i, mk := range a.mistakes {
		ids[i] = mk.id
	}
	overlay(&res, ids, m.latest(analysisID))
	out.Result = &res
	return &out, nil
}

func (m *Memory) latest(analysisID string) map[string]Annotation {
	out := map[string]Annotation{}
	// later appends win, matching created_at desc
	for _, ann := range m.annotations {
		if ann.AnalysisID == analysisID {
			out[ann.MistakeID] = ann
		}
	}
	return out
}

func (m *Memory) MistakeExists(_ context.Context, analysisID, mistakeID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.analyses[analysisID]
	if !ok || a.UserID != userID {
		return false, nil
	}
	for _, mk := range a.mistakes {
		if mk.id == mistakeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) CreateAnnotation(_ context.Context, a Annotation) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.analyses[a.AnalysisID]; !ok {
		return "", ErrNotFound
	}
	a.ID = util.NewID("ann")
	a.CreatedAt = m.now()
	m.annotations = append(m.annotations, a)
	return a.ID, nil
}

func (m *Memory) History(_ context.Context, userID string, limit int) (*History, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var list []*memAnalysis
	counts := map[string]int{}
	for _, a := range m.analyses {
		if a.UserID != userID {
			continue
		}
		list = append(list, a)
		if a.Status == StatusDone {
			for _, mk := range a.mistakes {
				counts[string(mk.typ)]++
			}
		}
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
	if n := clampLimit(limit); len(list) > n {
		list = list[:n]
	}

	h := &History{Items: make([]HistoryItem, 0, len(list)), TopTags: []TagCount{}}
	for _, a := range list {
		it := HistoryItem{AnalysisID: a.ID, Subject: a.Subject, Status: a.Status, CreatedAt: a.CreatedAt}
		if len(a.resultJSON) > 0 {
			var res grading.Result
			if err := json.Unmarshal(a.resultJSON, &res); err == nil {
				it.ScoreTotal = grading.FloatPtr(res.ScoreTotal)
			}
		}
		if len(a.mistakes) > 0 {
			it.TopTag = string(a.mistakes[0].typ)
		}
		h.Items = append(h.Items, it)
	}

	for typ, n := range counts {
		h.TopTags = append(h.TopTags, TagCount{Type: typ, Count: n})
	}
	sort.Slice(h.TopTags, func(i, j int) bool {
		if h.TopTags[i].Count != h.TopTags[j].Count {
			return h.TopTags[i].Count > h.TopTags[j].Count
		}
		return h.TopTags[i].Type < h.TopTags[j].Type
	})
	if len(h.TopTags) > 3 {
		h.TopTags = h.TopTags[:3]
	}
	return h, nil
}
