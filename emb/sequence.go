package emb

import "github.com/sugarme/tokenizer"

type sequence struct {
	ids     []int64
	typeIDs []int64
	mask    []int64
	tokens  []string
	special []bool
}

func sequenceFromEncoding(en *tokenizer.Encoding) sequence {
	if en == nil {
		return sequence{}
	}
	n := len(en.Ids)
	seq := sequence{
		ids:     make([]int64, n),
		typeIDs: make([]int64, n),
		mask:    make([]int64, n),
		tokens:  make([]string, n),
		special: make([]bool, n),
	}
	for i, id := range en.Ids {
		seq.ids[i] = int64(id)
		if i < len(en.TypeIds) {
			seq.typeIDs[i] = int64(en.TypeIds[i])
		}
		seq.mask[i] = 1
		if i < len(en.AttentionMask) {
			seq.mask[i] = int64(en.AttentionMask[i])
		}
		if i < len(en.Tokens) {
			seq.tokens[i] = en.Tokens[i]
		}
		if i < len(en.SpecialTokenMask) {
			seq.special[i] = en.SpecialTokenMask[i] == 1
		} else {
			seq.special[i] = isSpecialToken(seq.tokens[i])
		}
	}
	return seq
}

// truncate keeps the first limit-1 tokens plus the final token, so a trailing
// [SEP] survives the cut.
func (s sequence) truncate(limit int) sequence {
	n := len(s.ids)
	if limit <= 0 || n <= limit {
		return s
	}
	if limit == 1 {
		return s.pick(0, 1, -1)
	}
	return s.pick(0, limit-1, n-1)
}

func (s sequence) pick(from, to, last int) sequence {
	out := sequence{
		ids:     append([]int64(nil), s.ids[from:to]...),
		typeIDs: append([]int64(nil), s.typeIDs[from:to]...),
		mask:    append([]int64(nil), s.mask[from:to]...),
		tokens:  append([]string(nil), s.tokens[from:to]...),
		special: append([]bool(nil), s.special[from:to]...),
	}
	if last >= 0 {
		out.ids = append(out.ids, s.ids[last])
		out.typeIDs = append(out.typeIDs, s.typeIDs[last])
		out.mask = append(out.mask, s.mask[last])
		out.tokens = append(out.tokens, s.tokens[last])
		out.special = append(out.special, s.special[last])
	}
	return out
}

func isSpecialToken(tok string) bool {
	switch tok {
	case "[CLS]", "[SEP]", "[PAD]", "[MASK]":
		return true
	}
	return false
}
