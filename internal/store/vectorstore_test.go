package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteVectorStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "vectors.db")
	s := NewSQLiteVectorStore(dbPath, 3)
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteVectorStore_UpsertAndQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.Upsert(ctx,
		[]string{"a", "b"},
		[][]float32{{1, 0, 0}, {0, 1, 0}},
		[]Metadata{{"name": "a"}, {"name": "b"}},
	)
	require.NoError(t, err)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	results, err := s.Query(ctx, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].ID)
}

func TestSQLiteVectorStore_UpsertRejectsWrongDimension(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	err := s.Upsert(ctx, []string{"a"}, [][]float32{{1, 0}}, []Metadata{{}})
	assert.Error(t, err)
}

func TestSQLiteVectorStore_Remove(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx, []string{"a"}, [][]float32{{1, 0, 0}}, []Metadata{{}}))
	require.NoError(t, s.Remove(ctx, []string{"a"}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSQLiteVectorStore_AllReturnsEveryRowSortedByID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Upsert(ctx,
		[]string{"z", "a"},
		[][]float32{{1, 0, 0}, {0, 1, 0}},
		[]Metadata{{}, {}},
	))

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "z", all[1].ID)
	assert.Equal(t, []float32{0, 1, 0}, all[0].Vector)
}
