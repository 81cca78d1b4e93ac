package orchestrate

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/coderag/coderag/internal/search"
	"github.com/coderag/coderag/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVectorStore is an in-memory store.VectorStore keyed by directory,
// so the same path always returns the same backing map across repeated
// Connect calls within one test (mirroring how a real SQLite file would
// persist across Orchestrator runs in the same storage directory).
type fakeVectorStore struct {
	rows map[string]store.QueryResult
}

var fakeStoresByDir = map[string]*fakeVectorStore{}

func fakeVectorStoreFactory(dir string, dimensions int) store.VectorStore {
	s, ok := fakeStoresByDir[dir]
	if !ok {
		s = &fakeVectorStore{rows: make(map[string]store.QueryResult)}
		fakeStoresByDir[dir] = s
	}
	return s
}

func (f *fakeVectorStore) Connect(ctx context.Context) error { return nil }

func (f *fakeVectorStore) Upsert(ctx context.Context, ids []string, vectors [][]float32, metadata []store.Metadata) error {
	for i, id := range ids {
		f.rows[id] = store.QueryResult{ID: id, Vector: vectors[i], Metadata: metadata[i]}
	}
	return nil
}

func (f *fakeVectorStore) Query(ctx context.Context, vector []float32, k int) ([]store.QueryResult, error) {
	var out []store.QueryResult
	for _, r := range f.rows {
		out = append(out, r)
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func (f *fakeVectorStore) Remove(ctx context.Context, ids []string) error {
	for _, id := range ids {
		delete(f.rows, id)
	}
	return nil
}

func (f *fakeVectorStore) Count(ctx context.Context) (int, error) { return len(f.rows), nil }

func (f *fakeVectorStore) All(ctx context.Context) ([]store.QueryResult, error) {
	var out []store.QueryResult
	for _, r := range f.rows {
		out = append(out, r)
	}
	return out, nil
}

func (f *fakeVectorStore) Close() error { return nil }

type fakeEmbedder struct{ dims int }

func (f fakeEmbedder) Dimensions() int { return f.dims }

func (f fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dims)
		v[0] = float32(len(texts[i]))
		out[i] = v
	}
	return out, nil
}

type fakeLLM struct{ available bool }

func (f fakeLLM) IsAvailable(ctx context.Context) bool { return f.available }

func (f fakeLLM) Generate(ctx context.Context, prompt, model string) (string, error) {
	return "a short summary", nil
}

func writeFile(t *testing.T, root, relPath, content string) {
	t.Helper()
	full := filepath.Join(root, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

const sampleGoFile = `package sample

// Greet returns a friendly greeting.
func Greet(name string) string {
	return "hello " + name
}
`

func newTestOrchestrator(t *testing.T, storageDir string) *Orchestrator {
	t.Helper()
	cfg := DefaultConfig()
	cfg.StorageDir = storageDir
	cfg.EmbeddingDimensions = 4

	o, err := New(cfg, fakeLLM{available: true}, fakeEmbedder{dims: 4}, fakeVectorStoreFactory, nil)
	require.NoError(t, err)
	return o
}

func TestOrchestrator_SingleRepoIndexProducesChunksAndIsIdempotent(t *testing.T) {
	fakeStoresByDir = map[string]*fakeVectorStore{}

	root := t.TempDir()
	writeFile(t, root, "sample.go", sampleGoFile)
	writeFile(t, root, "README.md", "# Title\n\nSome docs.\n")

	storageDir := filepath.Join(t.TempDir(), "storage")
	o := newTestOrchestrator(t, storageDir)
	o.cfg.Repos = []RepoConfig{{Name: "root", Root: root}}

	report, err := o.Index(context.Background(), Options{})
	require.NoError(t, err)
	assert.False(t, report.UpToDate)
	assert.Equal(t, 2, report.FilesIndexed)
	assert.Greater(t, report.ChunksIndexed, 0)

	report2, err := o.Index(context.Background(), Options{})
	require.NoError(t, err)
	assert.True(t, report2.UpToDate, "an unchanged tree must report up to date on the next run")
}

func TestOrchestrator_FullReindexRebuildsEvenWithoutChanges(t *testing.T) {
	fakeStoresByDir = map[string]*fakeVectorStore{}

	root := t.TempDir()
	writeFile(t, root, "sample.go", sampleGoFile)

	storageDir := filepath.Join(t.TempDir(), "storage")
	o := newTestOrchestrator(t, storageDir)
	o.cfg.Repos = []RepoConfig{{Name: "root", Root: root}}

	_, err := o.Index(context.Background(), Options{})
	require.NoError(t, err)

	report, err := o.Index(context.Background(), Options{Full: true})
	require.NoError(t, err)
	assert.False(t, report.UpToDate)
	assert.Equal(t, 1, report.FilesIndexed)
}

func TestOrchestrator_FullReindexStartsBM25AndVectorStoreEmpty(t *testing.T) {
	fakeStoresByDir = map[string]*fakeVectorStore{}

	root := t.TempDir()
	writeFile(t, root, "sample.go", sampleGoFile)

	storageDir := filepath.Join(t.TempDir(), "storage")
	o := newTestOrchestrator(t, storageDir)
	o.cfg.Repos = []RepoConfig{{Name: "root", Root: root}}

	_, err := o.Index(context.Background(), Options{})
	require.NoError(t, err)

	vs, ok := fakeStoresByDir[vectorDirPath(storageDir)]
	require.True(t, ok)
	rowsBefore := len(vs.rows)
	require.Greater(t, rowsBefore, 0)

	// Shrink the file so a full reindex produces strictly fewer chunks;
	// a stale leftover row would prove the vector store wasn't cleared.
	writeFile(t, root, "sample.go", "package sample\n")

	_, err = o.Index(context.Background(), Options{Full: true})
	require.NoError(t, err)

	assert.Less(t, len(vs.rows), rowsBefore, "full reindex must not leave stale rows from the prior content")

	bm25, err := loadBM25(storageDir)
	require.NoError(t, err)
	assert.Equal(t, len(vs.rows), len(bm25.DocIDs()), "bm25 must hold exactly the current chunks after a full reindex")
}

func TestOrchestrator_DeletedFileIsPrunedFromAllArtifacts(t *testing.T) {
	fakeStoresByDir = map[string]*fakeVectorStore{}

	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n\nfunc Add(x, y int) int { return x + y }\n")
	writeFile(t, root, "b.go", "package b\n\nfunc Sub(x, y int) int { return x - y }\n")

	storageDir := filepath.Join(t.TempDir(), "storage")
	o := newTestOrchestrator(t, storageDir)
	o.cfg.Repos = []RepoConfig{{Name: "root", Root: root}}

	_, err := o.Index(context.Background(), Options{})
	require.NoError(t, err)

	state, err := loadIndexState(indexStatePath(storageDir))
	require.NoError(t, err)
	_, hadB := state["b.go"]
	require.True(t, hadB)
	bChunkIDs := state["b.go"].ChunkIDs
	require.NotEmpty(t, bChunkIDs)

	require.NoError(t, os.Remove(filepath.Join(root, "b.go")))

	report, err := o.Index(context.Background(), Options{})
	require.NoError(t, err)
	assert.False(t, report.UpToDate)

	state, err = loadIndexState(indexStatePath(storageDir))
	require.NoError(t, err)
	_, stillThere := state["b.go"]
	assert.False(t, stillThere, "a deleted file's IndexState entry must be pruned")

	vs, ok := fakeStoresByDir[vectorDirPath(storageDir)]
	require.True(t, ok)
	for _, id := range bChunkIDs {
		_, stillInStore := vs.rows[id]
		assert.False(t, stillInStore, "a deleted file's chunk ids must be removed from the vector store")
	}

	bm25, err := loadBM25(storageDir)
	require.NoError(t, err)
	remaining := make(map[string]bool, len(bm25.DocIDs()))
	for _, id := range bm25.DocIDs() {
		remaining[id] = true
	}
	for _, id := range bChunkIDs {
		assert.False(t, remaining[id], "a deleted file's chunk ids must be removed from bm25")
	}
}

func TestOrchestrator_IncrementalReindexPrunesVectorStoreOfRemovedChunks(t *testing.T) {
	fakeStoresByDir = map[string]*fakeVectorStore{}

	root := t.TempDir()
	writeFile(t, root, "sample.go", `package sample

func A() int { return 1 }

func B() int { return 2 }
`)

	storageDir := filepath.Join(t.TempDir(), "storage")
	o := newTestOrchestrator(t, storageDir)
	o.cfg.Repos = []RepoConfig{{Name: "root", Root: root}}

	_, err := o.Index(context.Background(), Options{})
	require.NoError(t, err)

	state, err := loadIndexState(indexStatePath(storageDir))
	require.NoError(t, err)
	priorIDs := state["sample.go"].ChunkIDs
	require.Greater(t, len(priorIDs), 1, "the sample file must have produced more than one chunk")

	// Remove function B: the file is still present, but one of its
	// previously produced chunk ids must disappear.
	writeFile(t, root, "sample.go", `package sample

func A() int { return 1 }
`)

	_, err = o.Index(context.Background(), Options{})
	require.NoError(t, err)

	state, err = loadIndexState(indexStatePath(storageDir))
	require.NoError(t, err)
	newIDs := make(map[string]bool, len(state["sample.go"].ChunkIDs))
	for _, id := range state["sample.go"].ChunkIDs {
		newIDs[id] = true
	}

	vs, ok := fakeStoresByDir[vectorDirPath(storageDir)]
	require.True(t, ok)
	for _, id := range priorIDs {
		if newIDs[id] {
			continue
		}
		_, stillInStore := vs.rows[id]
		assert.False(t, stillInStore, "a chunk id no longer produced by a re-indexed file must be removed from the vector store")
	}
}

func TestOrchestrator_SearchFindsIndexedChunk(t *testing.T) {
	fakeStoresByDir = map[string]*fakeVectorStore{}

	root := t.TempDir()
	writeFile(t, root, "sample.go", sampleGoFile)

	storageDir := filepath.Join(t.TempDir(), "storage")
	o := newTestOrchestrator(t, storageDir)
	o.cfg.Repos = []RepoConfig{{Name: "root", Root: root}}

	_, err := o.Index(context.Background(), Options{})
	require.NoError(t, err)

	results, err := o.Search(context.Background(), "Greet", 5, search.Filters{}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestOrchestrator_MultiRepoIndexMergesIntoRootStore(t *testing.T) {
	fakeStoresByDir = map[string]*fakeVectorStore{}

	rootA := t.TempDir()
	writeFile(t, rootA, "a.go", "package a\n\n// Add adds two ints.\nfunc Add(x, y int) int { return x + y }\n")
	rootB := t.TempDir()
	writeFile(t, rootB, "b.go", "package b\n\n// Sub subtracts two ints.\nfunc Sub(x, y int) int { return x - y }\n")

	storageDir := filepath.Join(t.TempDir(), "storage")
	o := newTestOrchestrator(t, storageDir)
	o.cfg.Repos = []RepoConfig{
		{Name: "repo-a", Root: rootA},
		{Name: "repo-b", Root: rootB},
	}

	report, err := o.Index(context.Background(), Options{})
	require.NoError(t, err)
	assert.False(t, report.UpToDate)
	assert.Equal(t, 2, report.FilesIndexed)
	assert.Greater(t, report.ChunksIndexed, 0)

	rootVS, ok := fakeStoresByDir[vectorDirPath(storageDir)]
	require.True(t, ok, "merge step must populate a vector store rooted at the storage directory")
	assert.Greater(t, len(rootVS.rows), 0)

	results, err := o.Search(context.Background(), "Add", 5, search.Filters{}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, results, "root-level search must see chunks merged from every repo")

	report2, err := o.Index(context.Background(), Options{})
	require.NoError(t, err)
	assert.True(t, report2.UpToDate, "an unchanged multi-repo tree must report up to date")
}

func TestOrchestrator_RecoverOrReportUpToDateRebuildsMissingRootIndex(t *testing.T) {
	fakeStoresByDir = map[string]*fakeVectorStore{}

	rootA := t.TempDir()
	writeFile(t, rootA, "a.go", "package a\n\nfunc Add(x, y int) int { return x + y }\n")
	rootB := t.TempDir()
	writeFile(t, rootB, "b.go", "package b\n\nfunc Sub(x, y int) int { return x - y }\n")

	storageDir := filepath.Join(t.TempDir(), "storage")
	o := newTestOrchestrator(t, storageDir)
	o.cfg.Repos = []RepoConfig{
		{Name: "repo-a", Root: rootA},
		{Name: "repo-b", Root: rootB},
	}

	_, err := o.Index(context.Background(), Options{})
	require.NoError(t, err)

	// Simulate a lost/never-written root index: the per-repo stores
	// still hold every chunk, so recoverOrReportUpToDate must rebuild
	// the root artifacts from them rather than treat the repo as empty.
	delete(fakeStoresByDir, vectorDirPath(storageDir))

	report, err := o.recoverOrReportUpToDate(context.Background())
	require.NoError(t, err)
	assert.True(t, report.UpToDate)

	rootVS, ok := fakeStoresByDir[vectorDirPath(storageDir)]
	require.True(t, ok)
	assert.Greater(t, len(rootVS.rows), 0, "recovery must repopulate the root store from per-repo stores")
}
