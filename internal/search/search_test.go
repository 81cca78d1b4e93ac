package search

import (
	"context"
	"fmt"
	"testing"

	"github.com/coderag/coderag/internal/chunkmodel"
	"github.com/coderag/coderag/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeVectorStore struct {
	hits []store.QueryResult
}

func (f *fakeVectorStore) Connect(ctx context.Context) error { return nil }
func (f *fakeVectorStore) Upsert(ctx context.Context, ids []string, vectors [][]float32, metadata []store.Metadata) error {
	return nil
}
func (f *fakeVectorStore) Query(ctx context.Context, vector []float32, k int) ([]store.QueryResult, error) {
	return f.hits, nil
}
func (f *fakeVectorStore) Remove(ctx context.Context, ids []string) error { return nil }
func (f *fakeVectorStore) Count(ctx context.Context) (int, error)        { return len(f.hits), nil }
func (f *fakeVectorStore) All(ctx context.Context) ([]store.QueryResult, error) {
	return f.hits, nil
}
func (f *fakeVectorStore) Close() error { return nil }

type fakeEmbedder struct{}

func (fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return [][]float32{{1, 0, 0}}, nil
}

func chunkLookup(chunks map[string]chunkmodel.Chunk) func(string) (chunkmodel.Chunk, bool) {
	return func(id string) (chunkmodel.Chunk, bool) {
		c, ok := chunks[id]
		return c, ok
	}
}

func TestHybridSearch_CombinesAndSortsByScore(t *testing.T) {
	chunks := map[string]chunkmodel.Chunk{
		"x": {ID: "x", Content: "vector winner", Language: "go"},
		"y": {ID: "y", Content: "bm25 winner widget factory", Language: "go"},
	}
	vs := &fakeVectorStore{hits: []store.QueryResult{
		{ID: "x", Distance: 0.0},
		{ID: "y", Distance: 0.9},
	}}
	bm25 := store.NewIndex()
	bm25.Add("y", "widget factory widget factory")
	bm25.Add("x", "irrelevant text")

	hs := New(vs, bm25, fakeEmbedder{}, chunkLookup(chunks), DefaultWeights, nil)
	results, err := hs.Search(context.Background(), "widget factory", 10, Filters{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "x", results[0].ChunkID, "higher combined score should rank first")
}

func TestHybridSearch_AppliesLanguageFilter(t *testing.T) {
	chunks := map[string]chunkmodel.Chunk{
		"x": {ID: "x", Content: "go code", Language: "go"},
		"y": {ID: "y", Content: "py code", Language: "python"},
	}
	vs := &fakeVectorStore{hits: []store.QueryResult{{ID: "x", Distance: 0.1}, {ID: "y", Distance: 0.1}}}
	bm25 := store.NewIndex()

	hs := New(vs, bm25, fakeEmbedder{}, chunkLookup(chunks), DefaultWeights, nil)
	results, err := hs.Search(context.Background(), "code", 10, Filters{Language: "python"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "y", results[0].ChunkID)
}

type fakeRerankLLM struct {
	scores map[string]string
	err    error
}

func (f *fakeRerankLLM) IsAvailable(ctx context.Context) bool { return true }
func (f *fakeRerankLLM) Generate(ctx context.Context, prompt, model string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	for content, score := range f.scores {
		if containsAll(prompt, content) {
			return score, nil
		}
	}
	return "not-a-number", nil
}

func containsAll(haystack, needle string) bool {
	return len(needle) > 0 && (len(haystack) >= len(needle)) && (indexOf(haystack, needle) >= 0)
}

func indexOf(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}

func TestHybridSearch_RerankReordersTopN(t *testing.T) {
	chunks := map[string]chunkmodel.Chunk{
		"x": {ID: "x", Content: "low relevance chunk"},
		"y": {ID: "y", Content: "high relevance chunk"},
	}
	vs := &fakeVectorStore{hits: []store.QueryResult{{ID: "x", Distance: 0.0}, {ID: "y", Distance: 0.5}}}
	bm25 := store.NewIndex()

	llm := &fakeRerankLLM{scores: map[string]string{
		"low relevance chunk":  "10",
		"high relevance chunk": "99",
	}}
	hs := New(vs, bm25, fakeEmbedder{}, chunkLookup(chunks), DefaultWeights, &RerankConfig{Client: llm, TopN: 2})

	results, err := hs.Search(context.Background(), "q", 10, Filters{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "y", results[0].ChunkID, "rerank should promote the higher-scored chunk")
}

func TestHybridSearch_RerankNetworkFailureFallsBackToOriginalOrder(t *testing.T) {
	chunks := map[string]chunkmodel.Chunk{
		"x": {ID: "x", Content: "chunk x"},
		"y": {ID: "y", Content: "chunk y"},
	}
	vs := &fakeVectorStore{hits: []store.QueryResult{{ID: "x", Distance: 0.0}, {ID: "y", Distance: 0.5}}}
	bm25 := store.NewIndex()

	llm := &fakeRerankLLM{err: fmt.Errorf("network down")}
	hs := New(vs, bm25, fakeEmbedder{}, chunkLookup(chunks), DefaultWeights, &RerankConfig{Client: llm})

	results, err := hs.Search(context.Background(), "q", 10, Filters{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "x", results[0].ChunkID, "a first-call rerank failure must keep pre-rerank ordering")
}
