package authi

import (
	"crypto/sha1"
	"encoding/hex"
	"sort"
	"strings"
	"unicode/utf8"
)

const minKeywordRunes = 3

var defaultStopwords = []string{
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with", "by", "from",
	"is", "was", "are", "were", "been", "be", "have", "has", "had", "do", "does", "did",
	"will", "would", "could", "should", "may", "might", "must", "can",
	"this", "that", "these", "those",
}

// Stopwords is a set of lower-case words that never become keywords.
type Stopwords map[string]struct{}

// NewStopwords builds a set from words, lower-casing each entry.
func NewStopwords(words []string) Stopwords {
	set := make(Stopwords, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}

// DefaultStopwords returns the built-in English function-word set.
func DefaultStopwords() Stopwords {
	return NewStopwords(defaultStopwords)
}

// Contains reports whether word, lower-cased, is in the set.
func (s Stopwords) Contains(word string) bool {
	_, ok := s[strings.ToLower(word)]
	return ok
}

// Fingerprint identifies the set independently of insertion order.
func (s Stopwords) Fingerprint() string {
	words := make([]string, 0, len(s))
	for w := range s {
		words = append(words, w)
	}
	sort.Strings(words)
	h := sha1.New()
	for _, w := range words {
		h.Write([]byte(w))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ExtractKeywords reassembles WordPiece tokens into words and keeps those longer
// than two characters that are not stopwords. Each keyword carries the mean of
// its token vectors. Keywords are returned in text order.
func ExtractKeywords(tokens []Token, stopwords Stopwords) []Keyword {
	var (
		keywords []Keyword
		word     strings.Builder
		vectors  [][]float32
	)
	flush := func() {
		text := word.String()
		lower := strings.ToLower(text)
		_, stop := stopwords[lower]
		if utf8.RuneCountInString(lower) >= minKeywordRunes && !stop {
			if vec := MeanVector(vectors); vec != nil {
				keywords = append(keywords, Keyword{Text: text, Vector: vec})
			}
		}
		word.Reset()
		vectors = vectors[:0]
	}

	for _, tok := range tokens {
		switch {
		case tok.Boundary:
			flush()
		case tok.Continuation:
			word.WriteString(tok.Text)
			vectors = append(vectors, tok.Vector)
		default:
			flush()
			word.WriteString(tok.Text)
			vectors = append(vectors, tok.Vector)
		}
	}
	flush()
	return keywords
}

// MeanVector returns the component-wise mean of vecs, or nil when vecs is empty
// or the vectors disagree on length.
func MeanVector(vecs [][]float32) []float32 {
	if len(vecs) == 0 {
		return nil
	}
	dim := len(vecs[0])
	if dim == 0 {
		return nil
	}
	sum := make([]float64, dim)
	for _, v := range vecs {
		if len(v) != dim {
			return nil
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	out := make([]float32, dim)
	n := float64(len(vecs))
	for i, s := range sum {
		out[i] = float32(s / n)
	}
	return out
}
