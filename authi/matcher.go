package authi

import (
	"fmt"
	"log/slog"
	"sort"
)

// Fusion weights and threshold schedule of the matcher.
const (
	KeywordMaxWeight = 0.6
	KeywordAvgWeight = 0.2
	SentenceWeight   = 0.2

	StartThreshold = 0.65
	FloorThreshold = 0.30
	ThresholdStep  = 0.05
)

// The threshold schedule is walked in hundredths so the floor is hit exactly.
const (
	startThresholdCents = int(StartThreshold * 100)
	floorThresholdCents = int(FloorThreshold * 100)
	thresholdStepCents  = int(ThresholdStep * 100)
)

// Matcher ranks reference conditions against a note. It holds no per-request
// state and is safe for concurrent use.
type Matcher struct {
	logger *slog.Logger
}

// MatcherOption configures a Matcher.
type MatcherOption func(*Matcher)

// WithMatcherLogger sets the logger used to report excluded records.
func WithMatcherLogger(logger *slog.Logger) MatcherOption {
	return func(m *Matcher) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMatcher creates a matcher.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{logger: slog.Default()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type keywordAccumulator struct {
	max   float64
	avg   float64
	count int
}

func (a *keywordAccumulator) add(sim float64) {
	if a.count == 0 || sim > a.max {
		a.max = sim
	}
	a.avg = (a.avg*float64(a.count) + sim) / float64(a.count+1)
	a.count++
}

// candidate collects the evidence for one condition name during a request.
type candidate struct {
	record   int
	keyword  keywordAccumulator
	sentence float64
}

// score fuses the keyword evidence with the sentence similarity, which stays 0
// when the sentence pass did not reach the candidate.
func (c *candidate) score() float64 {
	if c.keyword.count == 0 {
		return c.sentence
	}
	return KeywordMaxWeight*c.keyword.max + KeywordAvgWeight*c.keyword.avg + SentenceWeight*c.sentence
}

type scored struct {
	record int
	score  float64
}

// Match scores every scorable record of table against the keywords and the note
// vector and returns between min(minResults, scorable) and maxResults results,
// best first.
func (m *Matcher) Match(noteVector []float32, keywords []Keyword, table *ReferenceTable, minResults, maxResults int) ([]MatchResult, error) {
	if minResults <= 0 || minResults > maxResults {
		return nil, fmt.Errorf("%w: minResults=%d maxResults=%d", ErrInvalidResultBounds, minResults, maxResults)
	}
	if table == nil || table.Len() == 0 {
		return []MatchResult{}, nil
	}

	dim := len(noteVector)
	if dim == 0 && len(keywords) > 0 {
		dim = len(keywords[0].Vector)
	}
	useNote := true
	if err := checkVector(noteVector, dim); err != nil {
		m.logger.Warn("note vector unusable, sentence pass skipped", "error", err)
		useNote = false
	}
	usable := make([]Keyword, 0, len(keywords))
	for _, kw := range keywords {
		if err := checkVector(kw.Vector, dim); err != nil {
			m.logger.Warn("keyword vector unusable", "keyword", kw.Text, "error", err)
			continue
		}
		usable = append(usable, kw)
	}

	excluded := make([]bool, table.Len())
	for i := range table.records {
		rec := &table.records[i]
		if !rec.HasVector() {
			excluded[i] = true
			continue
		}
		if err := checkVector(rec.Vector, dim); err != nil {
			m.logger.Warn("reference record excluded", "condition", rec.Condition, "icd_code", rec.ICDCode, "error", err)
			excluded[i] = true
		}
	}

	var order []string
	candidates := make(map[string]*candidate)
	touch := func(i int) *candidate {
		name := table.records[i].Condition
		c, ok := candidates[name]
		if !ok {
			c = &candidate{record: i}
			candidates[name] = c
			order = append(order, name)
		}
		return c
	}

	for _, kw := range usable {
		for i := range table.records {
			if excluded[i] {
				continue
			}
			sim, err := CosineSimilarity(kw.Vector, table.records[i].Vector)
			if err != nil {
				m.logger.Warn("keyword similarity skipped", "keyword", kw.Text, "condition", table.records[i].Condition, "error", err)
				continue
			}
			touch(i).keyword.add(sim)
		}
	}

	if useNote {
		for i := range table.records {
			if excluded[i] {
				continue
			}
			sim, err := CosineSimilarity(noteVector, table.records[i].Vector)
			if err != nil {
				m.logger.Warn("sentence similarity skipped", "condition", table.records[i].Condition, "error", err)
				continue
			}
			touch(i).sentence = sim
		}
	}

	ranked := make([]scored, 0, len(order))
	for _, name := range order {
		c := candidates[name]
		ranked = append(ranked, scored{record: c.record, score: c.score()})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	return toResults(table, boundResults(ranked, minResults, maxResults)), nil
}

func boundResults(ranked []scored, minResults, maxResults int) []scored {
	if len(ranked) < minResults {
		return ranked
	}
	cents := startThresholdCents
	filtered := aboveThreshold(ranked, cents)
	for len(filtered) < minResults && cents > floorThresholdCents {
		cents -= thresholdStepCents
		filtered = aboveThreshold(ranked, cents)
	}
	if len(filtered) < minResults {
		return ranked[:minResults]
	}
	return limitScored(filtered, maxResults)
}

func aboveThreshold(ranked []scored, cents int) []scored {
	threshold := float64(cents) / 100
	out := make([]scored, 0, len(ranked))
	for _, r := range ranked {
		if r.score >= threshold {
			out = append(out, r)
		}
	}
	return out
}

func limitScored(items []scored, k int) []scored {
	if len(items) <= k {
		return items
	}
	return items[:k]
}

func toResults(table *ReferenceTable, items []scored) []MatchResult {
	out := make([]MatchResult, len(items))
	for i, it := range items {
		rec := table.records[it.record]
		out[i] = MatchResult{
			Condition:      rec.Condition,
			ICDCode:        rec.ICDCode,
			ICDDescription: rec.ICDDescription,
			Score:          it.score,
		}
	}
	return out
}
