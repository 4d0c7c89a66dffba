package retrieval

import (
	"sort"
	"strings"
	"unicode"
)

// passage is one indexed chunk.
type passage struct {
	source string
	text   string
	terms  map[string]int
}

// index holds one session's passages.
type index struct {
	passages []passage
}

func newIndex() *index {
	return &index{}
}

func (ix *index) add(source string, chunks []string) {
	for _, c := range chunks {
		ix.passages = append(ix.passages, passage{source: source, text: c, terms: termCounts(c)})
	}
}

func (ix *index) empty() bool {
	return len(ix.passages) == 0
}

// search returns up to k passages ranked by how many distinct question
// terms they contain, then by total term frequency, then by position.
func (ix *index) search(question string, k int) []passage {
	query := termCounts(question)
	if len(query) == 0 || k <= 0 {
		return nil
	}

	type scored struct {
		pos      int
		distinct int
		freq     int
	}
	var hits []scored
	for i, p := range ix.passages {
		s := scored{pos: i}
		for term := range query {
			if n := p.terms[term]; n > 0 {
				s.distinct++
				s.freq += n
			}
		}
		if s.distinct > 0 {
			hits = append(hits, s)
		}
	}

	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].distinct != hits[b].distinct {
			return hits[a].distinct > hits[b].distinct
		}
		return hits[a].freq > hits[b].freq
	})

	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]passage, len(hits))
	for i, h := range hits {
		out[i] = ix.passages[h.pos]
	}
	return out
}

// head returns the first k passages.
func (ix *index) head(k int) []passage {
	if k > len(ix.passages) {
		k = len(ix.passages)
	}
	return ix.passages[:k]
}

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"do": {}, "does": {}, "for": {}, "from": {}, "how": {}, "in": {}, "is": {}, "it": {},
	"of": {}, "on": {}, "or": {}, "the": {}, "this": {}, "that": {}, "to": {}, "was": {},
	"what": {}, "when": {}, "where": {}, "which": {}, "who": {}, "why": {}, "with": {},
}

// termCounts lowercases text and counts its content words.
func termCounts(text string) map[string]int {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	counts := make(map[string]int, len(words))
	for _, w := range words {
		if len([]rune(w)) < 2 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		counts[w]++
	}
	return counts
}
