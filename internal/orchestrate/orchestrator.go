package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/coderag/coderag/internal/backlog"
	"github.com/coderag/coderag/internal/chunk"
	"github.com/coderag/coderag/internal/chunkmodel"
	"github.com/coderag/coderag/internal/coderagerr"
	"github.com/coderag/coderag/internal/depgraph"
	"github.com/coderag/coderag/internal/enrich"
	"github.com/coderag/coderag/internal/parse"
	"github.com/coderag/coderag/internal/store"
)

// EmbeddingProvider is the external collaborator from spec.md §6.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// VectorStoreFactory opens (or creates) the VectorStore rooted at dir,
// letting the Orchestrator manage one store per repo plus one at the
// storage root for the merged index.
type VectorStoreFactory func(dir string, dimensions int) store.VectorStore

// Report summarizes one Index() run for the CLI/observability layer;
// it carries no correctness-relevant state (spec.md §6: index.log and
// index-progress.json are "human observability, not part of
// correctness contracts").
type Report struct {
	UpToDate      bool
	FilesScanned  int
	FilesIndexed  int
	ChunksIndexed int
	ParseErrors   []ParseErrorDetail
	SkippedFiles  []string
	FailedSummaries int
}

// ParseErrorDetail is surfaced per spec.md §4.B.
type ParseErrorDetail struct {
	File   string
	Reason string
}

// Orchestrator drives the indexing pipeline described in spec.md §4.E.
type Orchestrator struct {
	cfg Config

	parser       parse.Parser
	chunker      *chunk.Chunker
	llm          enrich.LLMClient
	embedder     EmbeddingProvider
	vectorStoreF VectorStoreFactory
	backlogProv  backlog.Provider

	logger *log.Logger
}

// New wires an Orchestrator. A nil backlogProv disables the optional
// backlog-item extension (spec.md §4.E.3).
func New(cfg Config, llm enrich.LLMClient, embedder EmbeddingProvider, vsFactory VectorStoreFactory, backlogProv backlog.Provider) (*Orchestrator, error) {
	if embedder.Dimensions() != cfg.EmbeddingDimensions {
		return nil, fmt.Errorf("%w: embedder produces %d-dim vectors, config expects %d", coderagerr.ErrConfig, embedder.Dimensions(), cfg.EmbeddingDimensions)
	}
	return &Orchestrator{
		cfg:          cfg,
		parser:       parse.New(),
		chunker:      chunk.New(cfg.MaxTokensPerChunk),
		llm:          llm,
		embedder:     embedder,
		vectorStoreF: vsFactory,
		backlogProv:  backlogProv,
		logger:       log.New(os.Stderr, "coderag: ", log.LstdFlags),
	}, nil
}

// Index is the invocation surface from spec.md §6. It dispatches to
// the single-repo or multi-repo path depending on cfg.Repos.
func (o *Orchestrator) Index(ctx context.Context, opts Options) (Report, error) {
	if len(o.cfg.Repos) == 0 {
		return Report{}, fmt.Errorf("%w: no repos configured", coderagerr.ErrConfig)
	}
	if len(o.cfg.Repos) == 1 {
		return o.runSingleRepo(ctx, o.cfg.Repos[0], o.cfg.StorageDir, opts)
	}
	return o.runMultiRepo(ctx, opts)
}

// --- storage-directory helpers shared by both paths ---

func indexStatePath(storageDir string) string { return filepath.Join(storageDir, "index-state.json") }
func checkpointPath(storageDir string) string {
	return filepath.Join(storageDir, "enrichment-checkpoint.json")
}
func graphPath(storageDir string) string   { return filepath.Join(storageDir, "graph.json") }
func bm25Path(storageDir string) string    { return filepath.Join(storageDir, "bm25-index.json") }
func vectorDirPath(storageDir string) string { return filepath.Join(storageDir, "vector-store") }
func backlogStatePath(storageDir string) string {
	return filepath.Join(storageDir, "backlog-state.json")
}

func loadIndexState(path string) (chunkmodel.IndexState, error) {
	state := make(chunkmodel.IndexState)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrate: read index state: %w", err)
	}
	if err := json.Unmarshal(b, &state); err != nil {
		return nil, fmt.Errorf("orchestrate: decode index state: %w", err)
	}
	return state, nil
}

func saveIndexState(path string, state chunkmodel.IndexState) error {
	return atomicWriteJSON(path, state)
}

func loadCheckpoint(path string) (*chunkmodel.EnrichmentCheckpoint, error) {
	ckpt := chunkmodel.NewEnrichmentCheckpoint()
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return ckpt, nil
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrate: read checkpoint: %w", err)
	}
	if err := json.Unmarshal(b, ckpt); err != nil {
		return nil, fmt.Errorf("orchestrate: decode checkpoint: %w", err)
	}
	return ckpt, nil
}

func saveCheckpoint(path string, ckpt *chunkmodel.EnrichmentCheckpoint) error {
	return atomicWriteJSON(path, ckpt)
}

func deleteCheckpoint(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("orchestrate: remove checkpoint: %w", err)
	}
	return nil
}

func atomicWriteBytes(path string, b []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("orchestrate: create directory for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("orchestrate: create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("orchestrate: write temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("orchestrate: close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("orchestrate: rename temp file for %s: %w", path, err)
	}
	return nil
}

func atomicWriteJSON(path string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("orchestrate: encode %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("orchestrate: create directory for %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("orchestrate: create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("orchestrate: write temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("orchestrate: close temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("orchestrate: rename temp file for %s: %w", path, err)
	}
	return nil
}

// loadGraph/saveGraph and loadBM25/saveBM25 just wrap the store/depgraph
// packages' own Load/Save so callers don't need two imports per site.
func loadGraph(storageDir string) (*depgraph.Graph, error) { return depgraph.Load(graphPath(storageDir)) }
func loadBM25(storageDir string) (*store.Index, error)     { return store.LoadIndex(bm25Path(storageDir)) }
