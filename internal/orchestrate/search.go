package orchestrate

import (
	"context"
	"fmt"

	"github.com/coderag/coderag/internal/chunkmodel"
	"github.com/coderag/coderag/internal/search"
)

// Search opens the storage directory's persisted BM25 index and vector
// store and runs one HybridSearch query against them (spec.md §4.F).
// It is the read path alongside Index's write path, both operating on
// the same storageDir layout.
func (o *Orchestrator) Search(ctx context.Context, query string, topK int, filters search.Filters, rerank *search.RerankConfig) ([]search.Result, error) {
	storageDir := o.cfg.StorageDir

	vs := o.vectorStoreF(vectorDirPath(storageDir), o.cfg.EmbeddingDimensions)
	if err := vs.Connect(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", storeErrWrap, err)
	}
	defer vs.Close()

	bm25, err := loadBM25(storageDir)
	if err != nil {
		return nil, err
	}

	rows, err := vs.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storeErrWrap, err)
	}
	byID := make(map[string]chunkmodel.Chunk, len(rows))
	for _, r := range rows {
		byID[r.ID] = chunkFromMetadata(r.ID, r.Metadata)
	}
	chunkByID := func(id string) (chunkmodel.Chunk, bool) {
		c, ok := byID[id]
		return c, ok
	}

	hs := search.New(vs, bm25, o.embedder, chunkByID, o.cfg.SearchWeights, rerank)
	return hs.Search(ctx, query, topK, filters)
}
