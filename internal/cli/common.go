package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/coderag/coderag/internal/backlog"
	"github.com/coderag/coderag/internal/llmhttp"
	"github.com/coderag/coderag/internal/orchestrate"
	"github.com/coderag/coderag/internal/store"
)

// sqliteVectorStoreFactory opens one SQLiteVectorStore rooted at dir,
// the default VectorStore implementation (spec.md §4.D).
func sqliteVectorStoreFactory(dir string, dimensions int) store.VectorStore {
	_ = os.MkdirAll(dir, 0o755)
	return store.NewSQLiteVectorStore(filepath.Join(dir, "chunks.db"), dimensions)
}

// buildOrchestrator wires an Orchestrator from the flags every
// subcommand shares: the root directory to index, the storage
// directory, and the embedding/LLM HTTP endpoints.
func buildOrchestrator(rootDir, storageDir, embedURL, llmURL, backlogURL string) (*orchestrate.Orchestrator, error) {
	cfg := orchestrate.DefaultConfig()
	cfg.StorageDir = storageDir
	cfg.Repos = []orchestrate.RepoConfig{{Name: "root", Root: rootDir}}

	embedder := llmhttp.NewEmbeddingProvider(embedURL, cfg.EmbeddingDimensions)
	llmClient := llmhttp.NewLLMClient(llmURL)

	var backlogProv backlog.Provider
	if backlogURL != "" {
		p := backlog.NewHTTPProvider()
		if err := p.Initialize(context.Background(), map[string]string{"baseURL": backlogURL}); err != nil {
			return nil, fmt.Errorf("coderag: initialize backlog provider: %w", err)
		}
		backlogProv = p
	}

	o, err := orchestrate.New(cfg, llmClient, embedder, sqliteVectorStoreFactory, backlogProv)
	if err != nil {
		return nil, err
	}
	return o, nil
}
