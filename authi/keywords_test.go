package authi

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boundary(text string) Token {
	return Token{Text: text, Vector: []float32{9, 9}, Boundary: true}
}

func word(text string, vec ...float32) Token {
	return Token{Text: text, Vector: vec}
}

func cont(text string, vec ...float32) Token {
	return Token{Text: text, Vector: vec, Continuation: true}
}

func keywordTexts(kws []Keyword) []string {
	out := make([]string, len(kws))
	for i, kw := range kws {
		out[i] = kw.Text
	}
	return out
}

func TestExtractKeywordsReassemblesContinuations(t *testing.T) {
	tokens := []Token{
		boundary("[CLS]"),
		word("hyper", 1, 0),
		cont("tension", 0, 1),
		cont("s", 2, 2),
		boundary("[SEP]"),
	}

	kws := ExtractKeywords(tokens, DefaultStopwords())

	require.Len(t, kws, 1)
	assert.Equal(t, "hypertensions", kws[0].Text)
	assert.InDeltaSlice(t, []float32{1, 1}, kws[0].Vector, 1e-6)
}

func TestExtractKeywordsFiltersShortWordsAndStopwords(t *testing.T) {
	tokens := []Token{
		boundary("[CLS]"),
		word("The", 1, 0),
		word("patient", 1, 0),
		word("has", 1, 0),
		word("BP", 1, 0),
		word("of", 1, 0),
		word("160", 1, 0),
		word("THOSE", 1, 0),
		word("pain", 0, 1),
		boundary("[SEP]"),
	}

	kws := ExtractKeywords(tokens, DefaultStopwords())

	assert.Equal(t, []string{"patient", "160", "pain"}, keywordTexts(kws))
}

func TestExtractKeywordsFlushesAtBoundaries(t *testing.T) {
	tokens := []Token{
		word("chest", 1, 0),
		boundary("[SEP]"),
		cont("itis", 0, 1),
		word("ache", 1, 1),
	}

	kws := ExtractKeywords(tokens, DefaultStopwords())

	require.Equal(t, []string{"chest", "itis", "ache"}, keywordTexts(kws))
	assert.Equal(t, []float32{0, 1}, kws[1].Vector)
}

func TestExtractKeywordsLengthCountsRunes(t *testing.T) {
	tokens := []Token{word("ßü", 1, 0), word("élé", 0, 1)}

	kws := ExtractKeywords(tokens, DefaultStopwords())

	assert.Equal(t, []string{"élé"}, keywordTexts(kws))
}

func TestExtractKeywordsUsesLowerCasedForm(t *testing.T) {
	tokens := []Token{word("İLE", 1, 0), word("İV", 0, 1), word("İNR", 1, 1)}

	kws := ExtractKeywords(tokens, NewStopwords([]string{"ile"}))

	assert.Equal(t, []string{"İNR"}, keywordTexts(kws))
}

func TestStopwordsFingerprint(t *testing.T) {
	a := NewStopwords([]string{"the", "of", "and"})
	b := NewStopwords([]string{"AND", "of", "the"})

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), NewStopwords([]string{"the", "of"}).Fingerprint())
	assert.NotEqual(t, DefaultStopwords().Fingerprint(), NewStopwords(nil).Fingerprint())
}

func TestExtractKeywordsEmpty(t *testing.T) {
	assert.Empty(t, ExtractKeywords(nil, DefaultStopwords()))
	assert.Empty(t, ExtractKeywords([]Token{boundary("[CLS]"), word("the", 1), boundary("[SEP]")}, DefaultStopwords()))
}

func TestExtractKeywordsCustomStopwords(t *testing.T) {
	tokens := []Token{word("patient", 1, 0), word("denies", 0, 1)}

	kws := ExtractKeywords(tokens, NewStopwords([]string{" Patient ", ""}))

	assert.Equal(t, []string{"denies"}, keywordTexts(kws))
}

func TestExtractKeywordsDoesNotAliasTokenVectors(t *testing.T) {
	vec := []float32{1, 2}
	kws := ExtractKeywords([]Token{word("renal", vec...)}, DefaultStopwords())

	require.Len(t, kws, 1)
	kws[0].Vector[0] = 42
	assert.Equal(t, float32(1), vec[0])
}

func TestMeanVector(t *testing.T) {
	assert.Nil(t, MeanVector(nil))
	assert.Nil(t, MeanVector([][]float32{{}}))
	assert.Nil(t, MeanVector([][]float32{{1, 2}, {1}}))
	assert.Equal(t, []float32{2, 3}, MeanVector([][]float32{{1, 2}, {3, 4}}))
}

func TestDefaultStopwords(t *testing.T) {
	sw := DefaultStopwords()
	assert.Len(t, sw, 39)
	assert.True(t, sw.Contains("THESE"))
	assert.False(t, sw.Contains("pain"))
}
