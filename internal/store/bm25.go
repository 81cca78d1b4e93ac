package store

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// k1 and b are the standard Okapi BM25 free parameters, matching the
// defaults SQLite FTS5's own bm25() ranking function uses.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

var tokenPattern = regexp.MustCompile(`[A-Za-z0-9_]+`)

func tokenize(text string) []string {
	matches := tokenPattern.FindAllString(strings.ToLower(text), -1)
	return matches
}

// postingsEntry is one document's contribution to a term's postings
// list: the document id and how many times the term occurs in it.
type postingsEntry struct {
	DocID string `json:"docId"`
	Freq  int    `json:"freq"`
}

// bm25Data is the on-disk shape of bm25-index.json. Field and array
// ordering is always produced by Serialize in a sorted, deterministic
// order (spec.md §4.D determinism property).
type bm25Data struct {
	Postings   map[string][]postingsEntry `json:"postings"`
	DocLengths map[string]int             `json:"docLengths"`
}

// Index is a from-scratch BM25 inverted index. spec.md requires a
// specific flat-file serialization contract (bm25-index.json with
// stable ordering, supporting append/remove-by-ids/serialize/
// deserialize) that doesn't map onto the teacher's own approach to
// lexical search, which relies on SQLite's FTS5 virtual table (an
// opaque binary format embedded in the database file, not a portable
// JSON document). FTS5 also has no supported "export all postings as
// JSON" operation, so satisfying the spec's literal persisted-artifact
// contract requires a hand-rolled index; this is the one component in
// the store package built on the standard library rather than a
// third-party dependency from the examples (see DESIGN.md).
type Index struct {
	postings   map[string]map[string]int // term -> docID -> freq
	docLengths map[string]int
}

// NewIndex returns an empty BM25 index.
func NewIndex() *Index {
	return &Index{
		postings:   make(map[string]map[string]int),
		docLengths: make(map[string]int),
	}
}

// Add inserts or replaces the postings for one document.
func (idx *Index) Add(docID, text string) {
	idx.removeOne(docID)
	tokens := tokenize(text)
	idx.docLengths[docID] = len(tokens)

	freqs := make(map[string]int)
	for _, t := range tokens {
		freqs[t]++
	}
	for term, freq := range freqs {
		if idx.postings[term] == nil {
			idx.postings[term] = make(map[string]int)
		}
		idx.postings[term][docID] = freq
	}
}

// RemoveByIDs drops every document in ids, returning the subset of ids
// that were actually present (per spec.md §4.D's fallback-to-rebuild
// behavior when some ids are unknown to the index).
func (idx *Index) RemoveByIDs(ids []string) (removed []string) {
	for _, id := range ids {
		if _, ok := idx.docLengths[id]; ok {
			idx.removeOne(id)
			removed = append(removed, id)
		}
	}
	return removed
}

func (idx *Index) removeOne(docID string) {
	if _, ok := idx.docLengths[docID]; !ok {
		return
	}
	delete(idx.docLengths, docID)
	for term, docs := range idx.postings {
		if _, ok := docs[docID]; ok {
			delete(docs, docID)
			if len(docs) == 0 {
				delete(idx.postings, term)
			}
		}
	}
}

// DocIDs returns the set of document ids currently in the index.
func (idx *Index) DocIDs() []string {
	ids := make([]string, 0, len(idx.docLengths))
	for id := range idx.docLengths {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (idx *Index) avgDocLength() float64 {
	if len(idx.docLengths) == 0 {
		return 0
	}
	total := 0
	for _, l := range idx.docLengths {
		total += l
	}
	return float64(total) / float64(len(idx.docLengths))
}

// SearchResult is one scored BM25 hit.
type SearchResult struct {
	DocID string
	Score float64
}

// Search scores every document containing at least one query term and
// returns the top k by descending BM25 score, ties broken by docID
// ascending (matching the hybrid-search tie-break rule in spec.md §4.F).
func (idx *Index) Search(query string, k int) []SearchResult {
	terms := tokenize(query)
	if len(terms) == 0 || len(idx.docLengths) == 0 {
		return nil
	}

	n := float64(len(idx.docLengths))
	avgLen := idx.avgDocLength()
	scores := make(map[string]float64)

	seen := make(map[string]bool)
	for _, term := range terms {
		if seen[term] {
			continue
		}
		seen[term] = true

		docs, ok := idx.postings[term]
		if !ok {
			continue
		}
		df := float64(len(docs))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))

		for docID, freq := range docs {
			dl := float64(idx.docLengths[docID])
			denom := float64(freq) + bm25K1*(1-bm25B+bm25B*dl/avgLen)
			scores[docID] += idf * (float64(freq) * (bm25K1 + 1) / denom)
		}
	}

	results := make([]SearchResult, 0, len(scores))
	for docID, score := range scores {
		results = append(results, SearchResult{DocID: docID, Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].DocID < results[j].DocID
	})
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results
}

// Serialize renders the index as the bm25-index.json shape, with terms,
// per-term postings, and the docLengths map all emitted in sorted key
// order for byte-identical output across runs.
func (idx *Index) Serialize() ([]byte, error) {
	data := bm25Data{
		Postings:   make(map[string][]postingsEntry, len(idx.postings)),
		DocLengths: idx.docLengths,
	}
	for term, docs := range idx.postings {
		entries := make([]postingsEntry, 0, len(docs))
		for docID, freq := range docs {
			entries = append(entries, postingsEntry{DocID: docID, Freq: freq})
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].DocID < entries[j].DocID })
		data.Postings[term] = entries
	}
	// json.Marshal sorts map[string]... keys lexicographically already,
	// giving deterministic output for both top-level maps.
	return json.MarshalIndent(data, "", "  ")
}

// Deserialize replaces the index's contents from a bm25-index.json
// payload.
func (idx *Index) Deserialize(b []byte) error {
	var data bm25Data
	if err := json.Unmarshal(b, &data); err != nil {
		return fmt.Errorf("bm25: decode: %w", err)
	}
	idx.postings = make(map[string]map[string]int, len(data.Postings))
	for term, entries := range data.Postings {
		m := make(map[string]int, len(entries))
		for _, e := range entries {
			m[e.DocID] = e.Freq
		}
		idx.postings[term] = m
	}
	idx.docLengths = data.DocLengths
	if idx.docLengths == nil {
		idx.docLengths = make(map[string]int)
	}
	return nil
}

// LoadIndex reads bm25-index.json from path. A missing file yields an
// empty index.
func LoadIndex(path string) (*Index, error) {
	idx := NewIndex()
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bm25: read %s: %w", path, err)
	}
	if err := idx.Deserialize(b); err != nil {
		return nil, err
	}
	return idx, nil
}

// Save atomically writes bm25-index.json (write-to-temp + rename).
func (idx *Index) Save(path string) error {
	b, err := idx.Serialize()
	if err != nil {
		return fmt.Errorf("bm25: encode: %w", err)
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".bm25-*.json.tmp")
	if err != nil {
		return fmt.Errorf("bm25: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("bm25: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("bm25: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("bm25: rename temp file: %w", err)
	}
	return nil
}

// RebuildFromVectorStore reconstructs a BM25 index from a VectorStore's
// persisted rows, used when RemoveByIDs finds ids the index doesn't
// recognize (spec.md §4.D: "the vector store is the source of truth").
// text extracts the embeddable text for a row's metadata (the
// Orchestrator supplies this, since the store package doesn't know the
// chunk model).
func RebuildFromVectorStore(rows []QueryResult, text func(Metadata) string) *Index {
	idx := NewIndex()
	for _, r := range rows {
		idx.Add(r.ID, text(r.Metadata))
	}
	return idx
}
