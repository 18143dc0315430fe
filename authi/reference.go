package authi

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ReferenceTable is an ordered, immutable set of condition records.
type ReferenceTable struct {
	records  []ConditionRecord
	scorable int
}

// NewReferenceTable copies records into a new table.
func NewReferenceTable(records []ConditionRecord) *ReferenceTable {
	t := &ReferenceTable{records: make([]ConditionRecord, len(records))}
	for i, rec := range records {
		if rec.HasVector() {
			rec.Vector = cloneVector(rec.Vector)
			t.scorable++
		} else {
			rec.Vector = nil
		}
		t.records[i] = rec
	}
	return t
}

// Len returns the number of records, including those without a vector.
func (t *ReferenceTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.records)
}

// Scorable returns the number of records with a reference vector.
func (t *ReferenceTable) Scorable() int {
	if t == nil {
		return 0
	}
	return t.scorable
}

// Record returns the i-th record. The vector must not be modified.
func (t *ReferenceTable) Record(i int) ConditionRecord {
	return t.records[i]
}

// Records returns a copy of the record list in table order.
func (t *ReferenceTable) Records() []ConditionRecord {
	if t == nil {
		return nil
	}
	out := make([]ConditionRecord, len(t.records))
	copy(out, t.records)
	return out
}

// VectorCache remembers reference vectors between runs. A nil vector with
// found=true records that no vector could be derived for the key.
type VectorCache interface {
	Get(key string) (vec []float32, found bool, err error)
	Put(key string, vec []float32) error
}

type loadOptions struct {
	cache     VectorCache
	stopwords Stopwords
	workers   int
	logger    *slog.Logger
}

// LoadOption configures LoadReferenceTable.
type LoadOption func(*loadOptions)

// WithVectorCache reuses reference vectors stored by a previous load.
func WithVectorCache(cache VectorCache) LoadOption {
	return func(o *loadOptions) {
		o.cache = cache
	}
}

// WithLoadStopwords overrides the stopword set used for descriptions.
func WithLoadStopwords(stopwords Stopwords) LoadOption {
	return func(o *loadOptions) {
		o.stopwords = stopwords
	}
}

// WithLoadWorkers bounds how many descriptions are encoded concurrently.
func WithLoadWorkers(n int) LoadOption {
	return func(o *loadOptions) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithLoadLogger sets the logger used while building the table.
func WithLoadLogger(logger *slog.Logger) LoadOption {
	return func(o *loadOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// LoadReferenceTable derives a reference vector for every row from the keywords
// of its ICD description. Rows whose description yields no keywords, or fails to
// encode, keep an absent vector. Only context cancellation fails the load.
func LoadReferenceTable(ctx context.Context, enc Encoder, rows []ConditionRow, opts ...LoadOption) (*ReferenceTable, error) {
	if enc == nil {
		return nil, ErrEncoderRequired
	}
	o := loadOptions{
		stopwords: DefaultStopwords(),
		workers:   max(1, runtime.NumCPU()/2),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	records := make([]ConditionRecord, len(rows))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for i, row := range rows {
		records[i] = ConditionRecord{
			Condition:      row.Condition,
			ICDCode:        row.ICDCode,
			ICDDescription: row.ICDDescription,
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			vec, err := referenceVector(gctx, enc, row.ICDDescription, o)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				o.logger.Warn("reference vector unavailable",
					"condition", row.Condition, "icd_code", row.ICDCode, "error", err)
				return nil
			}
			records[i].Vector = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load reference table: %w", err)
	}

	table := NewReferenceTable(records)
	o.logger.Info("reference table loaded", "conditions", table.Len(), "scorable", table.Scorable())
	return table, nil
}

func referenceVector(ctx context.Context, enc Encoder, description string, o loadOptions) ([]float32, error) {
	key := vectorCacheKey(enc.ModelID(), o.stopwords.Fingerprint(), description)
	if o.cache != nil {
		vec, found, err := o.cache.Get(key)
		if err != nil {
			o.logger.Warn("vector cache read failed", "error", err)
		} else if found {
			return vec, nil
		}
	}
	tokens, err := enc.EncodeTokens(ctx, description)
	if err != nil {
		return nil, err
	}
	var vec []float32
	keywords := ExtractKeywords(tokens, o.stopwords)
	if len(keywords) > 0 {
		vecs := make([][]float32, len(keywords))
		for i, kw := range keywords {
			vecs[i] = kw.Vector
		}
		vec = MeanVector(vecs)
	}
	if o.cache != nil {
		if err := o.cache.Put(key, vec); err != nil {
			o.logger.Warn("vector cache write failed", "error", err)
		}
	}
	return vec, nil
}

// vectorCacheKey covers everything a reference vector depends on: the encoder
// identity, the stopword set and the description.
func vectorCacheKey(modelID, stopwords, text string) string {
	h := sha1.New()
	_, _ = io.WriteString(h, modelID)
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, stopwords)
	_, _ = io.WriteString(h, "|")
	_, _ = io.WriteString(h, text)
	return hex.EncodeToString(h.Sum(nil))
}

func cloneVector(vec []float32) []float32 {
	out := make([]float32, len(vec))
	copy(out, vec)
	return out
}
