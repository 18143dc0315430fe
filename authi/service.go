package authi

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"unicode/utf8"
)

const minDisplayKeywordRunes = 4

// engine is the published, immutable pair an analysis runs against.
type engine struct {
	encoder Encoder
	table   *ReferenceTable
}

// Service analyzes clinical notes against the published reference table.
// Encoder and table are published once they are fully built; until both are
// present Analyze fails with ErrEncoderUnavailable.
type Service struct {
	state   atomic.Pointer[engine]
	matcher *Matcher

	cfgMu     sync.RWMutex
	cfg       Config
	stopwords Stopwords

	logger *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService constructs a service with no encoder or table published.
func NewService(cfg Config, opts ...ServiceOption) *Service {
	cfg.ApplyDefaults()
	s := &Service{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stopwords = stopwordsFor(cfg)
	s.matcher = NewMatcher(WithMatcherLogger(s.logger))
	s.state.Store(&engine{})
	return s
}

func stopwordsFor(cfg Config) Stopwords {
	if len(cfg.Stopwords) == 0 {
		return DefaultStopwords()
	}
	return NewStopwords(cfg.Stopwords)
}

// Config returns a copy of the current configuration.
func (s *Service) Config() Config {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.cfg.Clone()
}

// UpdateConfig replaces result bounds, keyword limits and stopwords for later requests.
func (s *Service) UpdateConfig(cfg Config) error {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.cfgMu.Lock()
	s.cfg = cfg
	s.stopwords = stopwordsFor(cfg)
	s.cfgMu.Unlock()
	return nil
}

// Stopwords returns the stopword set in effect.
func (s *Service) Stopwords() Stopwords {
	s.cfgMu.RLock()
	defer s.cfgMu.RUnlock()
	return s.stopwords
}

// PublishEncoder makes enc available to later requests.
func (s *Service) PublishEncoder(enc Encoder) {
	for {
		old := s.state.Load()
		next := &engine{encoder: enc, table: old.table}
		if s.state.CompareAndSwap(old, next) {
			s.logger.Info("encoder published", "model_id", enc.ModelID())
			return
		}
	}
}

// PublishTable swaps in a fully built reference table.
func (s *Service) PublishTable(table *ReferenceTable) {
	for {
		old := s.state.Load()
		next := &engine{encoder: old.encoder, table: table}
		if s.state.CompareAndSwap(old, next) {
			s.logger.Info("reference table published", "conditions", table.Len(), "scorable", table.Scorable())
			return
		}
	}
}

// LoadConditions builds a reference table from rows with the published encoder
// and publishes it.
func (s *Service) LoadConditions(ctx context.Context, rows []ConditionRow, opts ...LoadOption) error {
	enc := s.state.Load().encoder
	if enc == nil {
		return ErrEncoderUnavailable
	}
	cfg := s.Config()
	base := []LoadOption{
		WithLoadStopwords(s.Stopwords()),
		WithLoadWorkers(cfg.Embedder.Workers),
		WithLoadLogger(s.logger),
	}
	table, err := LoadReferenceTable(ctx, enc, rows, append(base, opts...)...)
	if err != nil {
		return err
	}
	s.PublishTable(table)
	return nil
}

// Table returns the published reference table, or nil.
func (s *Service) Table() *ReferenceTable {
	return s.state.Load().table
}

// Status reports whether the encoder and table are available.
func (s *Service) Status() Status {
	st := s.state.Load()
	return Status{
		ModelLoaded:      st.encoder != nil,
		ConditionsLoaded: st.table.Len() > 0,
		Conditions:       st.table.Len(),
		Scorable:         st.table.Scorable(),
	}
}

// Analyze extracts keywords from note and ranks the reference conditions.
// A note without keywords yields an empty result and no matching.
func (s *Service) Analyze(ctx context.Context, note string) (AnalysisResult, error) {
	st := s.state.Load()
	if st.encoder == nil || st.table == nil {
		return AnalysisResult{}, ErrEncoderUnavailable
	}
	cfg := s.Config()
	stopwords := s.Stopwords()

	tokens, err := st.encoder.EncodeTokens(ctx, note)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("encode note tokens: %w", err)
	}
	keywords := ExtractKeywords(tokens, stopwords)
	if len(keywords) == 0 {
		s.logger.Debug("no keywords extracted")
		return AnalysisResult{Keywords: []string{}, Matches: []MatchResult{}}, nil
	}

	noteVector, err := st.encoder.EncodeSentence(ctx, note)
	if err != nil {
		return AnalysisResult{}, fmt.Errorf("encode note: %w", err)
	}
	matches, err := s.matcher.Match(noteVector, keywords, st.table, cfg.MinResults, cfg.MaxResults)
	if err != nil {
		return AnalysisResult{}, err
	}
	s.logger.Debug("note analyzed", "keywords", len(keywords), "matches", len(matches))
	return AnalysisResult{
		Keywords: displayKeywords(keywords, cfg.MaxKeywords),
		Matches:  matches,
	}, nil
}

// Close releases the published encoder.
func (s *Service) Close() error {
	st := s.state.Swap(&engine{})
	if st != nil && st.encoder != nil {
		return st.encoder.Close()
	}
	return nil
}

func displayKeywords(keywords []Keyword, limit int) []string {
	out := make([]string, 0, min(len(keywords), limit))
	for _, kw := range keywords {
		if len(out) >= limit {
			break
		}
		if utf8.RuneCountInString(kw.Text) >= minDisplayKeywordRunes {
			out = append(out, kw.Text)
		}
	}
	return out
}
