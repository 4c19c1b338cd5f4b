// Package sparse implements the BM25 lexical index over payload text.
// The index lives in memory and is rebuilt by streaming stored payloads
// at open time; nothing here touches disk.
package sparse

import (
	"math"
	"sort"
	"strings"
	"unicode"
)

// BM25 parameters: k1 saturates term frequency, b normalizes by document
// length.
const (
	defaultK1 = 1.2
	defaultB  = 0.75
)

// Result is one scored document.
type Result struct {
	Slot  uint32
	Score float64
}

// Index is an incremental BM25 inverted index keyed by slot.
type Index struct {
	k1, b float64

	postings map[string]map[uint32]int // term → slot → term frequency
	docLen   map[uint32]int
	totalLen int
}

// New creates an empty index with default parameters.
func New() *Index {
	return NewWithParams(defaultK1, defaultB)
}

// NewWithParams creates an empty index with custom BM25 parameters.
func NewWithParams(k1, b float64) *Index {
	return &Index{
		k1:       k1,
		b:        b,
		postings: make(map[string]map[uint32]int),
		docLen:   make(map[uint32]int),
	}
}

// Tokenize lowercases, strips punctuation, and splits on whitespace.
func Tokenize(text string) []string {
	text = strings.ToLower(text)
	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			sb.WriteRune(r)
		} else {
			sb.WriteByte(' ')
		}
	}
	return strings.Fields(sb.String())
}

// Add indexes a document, replacing any previous text for the slot.
func (ix *Index) Add(slot uint32, text string) {
	if _, ok := ix.docLen[slot]; ok {
		ix.Remove(slot)
	}
	terms := Tokenize(text)
	if len(terms) == 0 {
		return
	}
	for _, term := range terms {
		m, ok := ix.postings[term]
		if !ok {
			m = make(map[uint32]int)
			ix.postings[term] = m
		}
		m[slot]++
	}
	ix.docLen[slot] = len(terms)
	ix.totalLen += len(terms)
}

// Remove drops a document from the index.
func (ix *Index) Remove(slot uint32) {
	n, ok := ix.docLen[slot]
	if !ok {
		return
	}
	for term, m := range ix.postings {
		if _, ok := m[slot]; ok {
			delete(m, slot)
			if len(m) == 0 {
				delete(ix.postings, term)
			}
		}
	}
	delete(ix.docLen, slot)
	ix.totalLen -= n
}

// Docs returns the number of indexed documents.
func (ix *Index) Docs() int { return len(ix.docLen) }

// idf computes log((N − df + 0.5) / (df + 0.5) + 1).
func (ix *Index) idf(df int) float64 {
	n := float64(len(ix.docLen))
	d := float64(df)
	return math.Log((n-d+0.5)/(d+0.5) + 1)
}

// Search scores the query against every document sharing a term and
// returns the top k by descending BM25 score.
func (ix *Index) Search(query string, k int) []Result {
	terms := Tokenize(query)
	if len(terms) == 0 || len(ix.docLen) == 0 {
		return nil
	}
	avgLen := float64(ix.totalLen) / float64(len(ix.docLen))

	scores := make(map[uint32]float64)
	for _, term := range terms {
		m, ok := ix.postings[term]
		if !ok {
			continue
		}
		idf := ix.idf(len(m))
		for slot, tf := range m {
			dl := float64(ix.docLen[slot])
			num := float64(tf) * (ix.k1 + 1)
			den := float64(tf) + ix.k1*(1-ix.b+ix.b*(dl/avgLen))
			scores[slot] += idf * num / den
		}
	}

	out := make([]Result, 0, len(scores))
	for slot, score := range scores {
		out = append(out, Result{Slot: slot, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Slot < out[j].Slot
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out
}
