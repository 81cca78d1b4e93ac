package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex_SearchRanksByScoreThenID(t *testing.T) {
	idx := NewIndex()
	idx.Add("doc-b", "widget factory builds widgets for the factory floor")
	idx.Add("doc-a", "widget factory builds widgets for the factory floor")
	idx.Add("doc-c", "completely unrelated content about gardening")

	results := idx.Search("widget factory", 10)
	require.Len(t, results, 2)
	assert.Equal(t, "doc-a", results[0].DocID, "equal scores break ties by docID ascending")
	assert.Equal(t, "doc-b", results[1].DocID)
}

func TestIndex_RemoveByIDsReportsOnlyKnownIDs(t *testing.T) {
	idx := NewIndex()
	idx.Add("doc-a", "hello world")

	removed := idx.RemoveByIDs([]string{"doc-a", "doc-missing"})
	assert.Equal(t, []string{"doc-a"}, removed)
	assert.Empty(t, idx.Search("hello", 10))
}

func TestIndex_SaveLoadRoundTrip(t *testing.T) {
	idx := NewIndex()
	idx.Add("doc-a", "alpha beta gamma")
	idx.Add("doc-b", "beta gamma delta")

	path := filepath.Join(t.TempDir(), "bm25-index.json")
	require.NoError(t, idx.Save(path))

	loaded, err := LoadIndex(path)
	require.NoError(t, err)
	assert.Equal(t, idx.DocIDs(), loaded.DocIDs())
	assert.Equal(t, idx.Search("beta", 10), loaded.Search("beta", 10))
}

func TestIndex_SerializeIsDeterministic(t *testing.T) {
	build := func() *Index {
		idx := NewIndex()
		idx.Add("doc-z", "zeta eta theta")
		idx.Add("doc-a", "alpha eta theta")
		return idx
	}

	a, err := build().Serialize()
	require.NoError(t, err)
	b, err := build().Serialize()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRebuildFromVectorStore(t *testing.T) {
	rows := []QueryResult{
		{ID: "doc-a", Metadata: Metadata{"text": "alpha beta"}},
		{ID: "doc-b", Metadata: Metadata{"text": "beta gamma"}},
	}
	idx := RebuildFromVectorStore(rows, func(m Metadata) string {
		s, _ := m["text"].(string)
		return s
	})

	assert.ElementsMatch(t, []string{"doc-a", "doc-b"}, idx.DocIDs())
	results := idx.Search("beta", 10)
	assert.Len(t, results, 2)
}
