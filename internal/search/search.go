// Package search implements the HybridSearch component (spec.md §4.F):
// it fans out a query to the vector store and BM25 index, normalizes
// and combines their scores, applies filters, and optionally reranks
// the top results with an LLM cross-encoder. Grounded on the teacher's
// internal/graph/searcher.go fan-out-then-combine shape, generalized
// from graph-distance search to vector+lexical hybrid search.
package search

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/coderag/coderag/internal/chunkmodel"
	"github.com/coderag/coderag/internal/enrich"
	"github.com/coderag/coderag/internal/store"
)

// Method names how a result was found, surfaced for observability.
type Method string

const (
	MethodVector Method = "vector"
	MethodBM25   Method = "bm25"
	MethodHybrid Method = "hybrid"
)

// Result is one scored hit returned by Search.
type Result struct {
	ChunkID string
	Score   float64
	Chunk   chunkmodel.Chunk
	Method  Method
}

// Filters narrows results by chunk attributes, all optional.
type Filters struct {
	Language     string
	ChunkType    chunkmodel.ChunkType
	FilePathGlob string
	RepoName     string
}

func (f Filters) matches(c chunkmodel.Chunk) bool {
	if f.Language != "" && c.Language != f.Language {
		return false
	}
	if f.ChunkType != "" && c.Metadata.ChunkType != f.ChunkType {
		return false
	}
	if f.RepoName != "" && c.Metadata.RepoName != f.RepoName {
		return false
	}
	if f.FilePathGlob != "" {
		ok, err := filepath.Match(f.FilePathGlob, c.FilePath)
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// EmbeddingProvider is the external collaborator from spec.md §6,
// used to embed the query with the same provider used at index time.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Weights are the hybrid-combination weights (spec.md §4.F step 4);
// they must sum to 1.
type Weights struct {
	Vector float64
	BM25   float64
}

// DefaultWeights matches the spec's default 0.7/0.3 split.
var DefaultWeights = Weights{Vector: 0.7, BM25: 0.3}

// RerankConfig optionally configures the cross-encoder rerank pass.
type RerankConfig struct {
	Client LLMClient
	Model  string
	TopN   int // default 20
}

// LLMClient is an alias of enrich.LLMClient, so one client value can
// serve both the Enricher and the reranker.
type LLMClient = enrich.LLMClient

// HybridSearch combines vector similarity and BM25 lexical scoring.
type HybridSearch struct {
	vectors  store.VectorStore
	bm25     *store.Index
	embedder EmbeddingProvider
	chunks   func(id string) (chunkmodel.Chunk, bool)
	weights  Weights
	rerank   *RerankConfig
}

// New returns a HybridSearch over vectors+bm25. chunkByID resolves a
// chunk id to its full Chunk (the Orchestrator reconstructs it from
// vector-store metadata).
func New(vectors store.VectorStore, bm25 *store.Index, embedder EmbeddingProvider, chunkByID func(id string) (chunkmodel.Chunk, bool), weights Weights, rerank *RerankConfig) *HybridSearch {
	if weights.Vector == 0 && weights.BM25 == 0 {
		weights = DefaultWeights
	}
	return &HybridSearch{vectors: vectors, bm25: bm25, embedder: embedder, chunks: chunkByID, weights: weights, rerank: rerank}
}

// Search runs the full hybrid-retrieval algorithm (spec.md §4.F).
func (h *HybridSearch) Search(ctx context.Context, query string, topK int, filters Filters) ([]Result, error) {
	fanoutK := topK * 4
	if fanoutK < 50 {
		fanoutK = 50
	}

	vecs, err := h.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("search: embedder returned no vector for query")
	}

	vectorHits, err := h.vectors.Query(ctx, vecs[0], fanoutK)
	if err != nil {
		return nil, fmt.Errorf("search: vector query: %w", err)
	}
	bm25Hits := h.bm25.Search(query, fanoutK)

	vecScores := normalizeVectorScores(vectorHits)
	bm25Scores := normalizeBM25Scores(bm25Hits)

	combined := make(map[string]float64)
	for id, v := range vecScores {
		combined[id] += h.weights.Vector * v
	}
	for id, b := range bm25Scores {
		combined[id] += h.weights.BM25 * b
	}

	results := make([]Result, 0, len(combined))
	for id, score := range combined {
		chunk, ok := h.chunks(id)
		if !ok {
			continue
		}
		if !filters.matches(chunk) {
			continue
		}
		method := MethodHybrid
		_, inVec := vecScores[id]
		_, inBM25 := bm25Scores[id]
		if inVec && !inBM25 {
			method = MethodVector
		} else if inBM25 && !inVec {
			method = MethodBM25
		}
		results = append(results, Result{ChunkID: id, Score: score, Chunk: chunk, Method: method})
	}

	sortResults(results)
	if len(results) > topK {
		results = results[:topK]
	}

	if h.rerank != nil && h.rerank.Client != nil {
		reranked, err := h.applyRerank(ctx, query, results)
		if err == nil {
			results = reranked
		}
		// a first-call network failure aborts rerank and falls back to
		// the pre-rerank ordering (spec.md §4.F), so err is intentionally
		// swallowed here.
	}

	return results, nil
}

func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
}

func normalizeVectorScores(hits []store.QueryResult) map[string]float64 {
	scores := make(map[string]float64, len(hits))
	for _, h := range hits {
		// cosine distance in [0,2]; similarity = 1 - distance, clamped.
		sim := 1 - h.Distance
		if sim < 0 {
			sim = 0
		}
		if sim > 1 {
			sim = 1
		}
		scores[h.ID] = sim
	}
	return scores
}

func normalizeBM25Scores(hits []store.SearchResult) map[string]float64 {
	scores := make(map[string]float64, len(hits))
	if len(hits) == 0 {
		return scores
	}
	max := hits[0].Score
	for _, h := range hits {
		if h.Score > max {
			max = h.Score
		}
	}
	if max <= 0 {
		return scores
	}
	for _, h := range hits {
		scores[h.DocID] = h.Score / max
	}
	return scores
}

const defaultRerankTopN = 20

// applyRerank asks the LLM for a 0-100 relevance score per (query,
// chunk) pair over the top N results, then sorts those by LLM score
// and prepends them ahead of the remaining results in their original
// order (spec.md §4.F "Optional rerank").
func (h *HybridSearch) applyRerank(ctx context.Context, query string, results []Result) ([]Result, error) {
	n := h.rerank.TopN
	if n <= 0 {
		n = defaultRerankTopN
	}
	if n > len(results) {
		n = len(results)
	}
	head := results[:n]
	tail := results[n:]

	scored := make([]Result, len(head))
	copy(scored, head)

	for i := range scored {
		score, err := h.rerankScore(ctx, query, scored[i].Chunk, i == 0)
		if err != nil {
			return nil, err
		}
		scored[i].Score = float64(score)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	return append(scored, tail...), nil
}

// rerankScore issues one LLM call and clamps the parsed score to
// [0,100]. Non-parseable responses and transient per-item HTTP errors
// both score 50; a failure on the first call propagates so the caller
// aborts the whole rerank pass.
func (h *HybridSearch) rerankScore(ctx context.Context, query string, chunk chunkmodel.Chunk, isFirst bool) (int, error) {
	prompt := fmt.Sprintf("On a scale of 0-100, how relevant is this code chunk to the query %q? Respond with only the number.\n\n%s", query, chunk.Content)
	resp, err := h.rerank.Client.Generate(ctx, prompt, h.rerank.Model)
	if err != nil {
		if isFirst {
			return 0, err
		}
		return 50, nil
	}

	score, parseErr := strconv.Atoi(strings.TrimSpace(resp))
	if parseErr != nil {
		return 50, nil
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score, nil
}
