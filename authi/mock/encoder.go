// Package mock provides a deterministic authi.Encoder for tests.
//
// The default behaviour splits text on non-alphanumeric characters, wraps the
// words in [CLS]/[SEP] boundary tokens and gives every piece a unit vector derived
// from an FNV hash of its lower-cased text. Vectors can be pinned per word, and
// either method can be replaced through its Func field.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"salulink/authi/authi"
)

// Encoder is a test double for authi.Encoder.
type Encoder struct {
	// EncodeTokensFunc replaces the default tokenization when set.
	EncodeTokensFunc func(ctx context.Context, text string) ([]authi.Token, error)
	// EncodeSentenceFunc replaces the default sentence vector when set.
	EncodeSentenceFunc func(ctx context.Context, text string) ([]float32, error)

	// Dim is the vector length of generated vectors.
	Dim int
	// SplitAt splits words longer than SplitAt runes into WordPiece-style pieces
	// of SplitAt runes. Zero disables splitting.
	SplitAt int
	// Vectors pins the vector of a lower-cased piece.
	Vectors map[string][]float32
	// SentenceVectors pins the sentence vector of an exact text.
	SentenceVectors map[string][]float32

	mu            sync.Mutex
	tokenCalls    int
	sentenceCalls int
	closed        bool
}

var _ authi.Encoder = (*Encoder)(nil)

// NewEncoder creates a mock encoder producing vectors of length dim.
func NewEncoder(dim int) *Encoder {
	return &Encoder{
		Dim:             dim,
		Vectors:         map[string][]float32{},
		SentenceVectors: map[string][]float32{},
	}
}

// ModelID returns a fixed identifier.
func (m *Encoder) ModelID() string {
	return "mock-encoder"
}

// Close marks the encoder closed.
func (m *Encoder) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close was called.
func (m *Encoder) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// TokenCalls returns how often EncodeTokens was called.
func (m *Encoder) TokenCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tokenCalls
}

// SentenceCalls returns how often EncodeSentence was called.
func (m *Encoder) SentenceCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sentenceCalls
}

// EncodeTokens returns [CLS], the word pieces of text, then [SEP].
func (m *Encoder) EncodeTokens(ctx context.Context, text string) ([]authi.Token, error) {
	m.mu.Lock()
	m.tokenCalls++
	m.mu.Unlock()
	if m.EncodeTokensFunc != nil {
		return m.EncodeTokensFunc(ctx, text)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokens := []authi.Token{{Text: "[CLS]", Vector: m.vectorFor("[CLS]"), Boundary: true}}
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, word := range words {
		for i, piece := range m.pieces(word) {
			tokens = append(tokens, authi.Token{
				Text:         piece,
				Vector:       m.vectorFor(piece),
				Continuation: i > 0,
			})
		}
	}
	tokens = append(tokens, authi.Token{Text: "[SEP]", Vector: m.vectorFor("[SEP]"), Boundary: true})
	return tokens, nil
}

// EncodeSentence returns the pinned vector for text or a hash-derived one.
func (m *Encoder) EncodeSentence(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.sentenceCalls++
	m.mu.Unlock()
	if m.EncodeSentenceFunc != nil {
		return m.EncodeSentenceFunc(ctx, text)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if vec, ok := m.SentenceVectors[text]; ok {
		return append([]float32(nil), vec...), nil
	}
	return DeterministicVector("sentence|"+text, m.Dim), nil
}

func (m *Encoder) pieces(word string) []string {
	runes := []rune(word)
	if m.SplitAt <= 0 || len(runes) <= m.SplitAt {
		return []string{word}
	}
	var out []string
	for start := 0; start < len(runes); start += m.SplitAt {
		end := min(start+m.SplitAt, len(runes))
		out = append(out, string(runes[start:end]))
	}
	return out
}

func (m *Encoder) vectorFor(piece string) []float32 {
	if vec, ok := m.Vectors[strings.ToLower(piece)]; ok {
		return vec
	}
	return DeterministicVector(strings.ToLower(piece), m.Dim)
}

// DeterministicVector creates a unit vector of length dim from an FNV hash of text.
func DeterministicVector(text string, dim int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vector := make([]float32, dim)
	var sumSquares float64
	for i := 0; i < dim; i++ {
		seed = seed*1664525 + 1013904223
		vector[i] = float32(seed%1000)/1000.0 - 0.5
		sumSquares += float64(vector[i]) * float64(vector[i])
	}
	if sumSquares > 0 {
		norm := float32(1 / math.Sqrt(sumSquares))
		for i := range vector {
			vector[i] *= norm
		}
	}
	return vector
}
