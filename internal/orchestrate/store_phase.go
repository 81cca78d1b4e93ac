package orchestrate

import (
	"context"
	"fmt"

	"github.com/coderag/coderag/internal/chunkmodel"
	"github.com/coderag/coderag/internal/coderagerr"
	"github.com/coderag/coderag/internal/depgraph"
	"github.com/coderag/coderag/internal/store"
)

// embedChunks calls the EmbeddingProvider with each chunk's embedding
// input, preserving order (spec.md §4.D, §6).
func (o *Orchestrator) embedChunks(ctx context.Context, chunks []chunkmodel.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.EmbeddingInput()
	}
	vectors, err := o.embedder.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", coderagerr.ErrEmbed, err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for %d inputs", coderagerr.ErrEmbed, len(vectors), len(chunks))
	}
	return vectors, nil
}

// storeBatch persists enriched+embedded chunks per spec.md §4.D:
// upsert into the vector store, incrementally update BM25, and
// incrementally update the dependency graph. priorChunkIDsByFile
// supplies the previously recorded chunk ids for files being
// re-indexed (nil/empty for a full reindex).
func (o *Orchestrator) storeBatch(
	ctx context.Context,
	vs store.VectorStore,
	bm25 *store.Index,
	graph *depgraph.Graph,
	results []fileResult,
	chunks []chunkmodel.Chunk,
	vectors [][]float32,
	priorChunkIDsByFile map[string][]string,
	fullReindex bool,
) error {
	if fullReindex {
		// Start every artifact from empty (spec.md §4.D "Full reindex:
		// start from an empty index"); bm25/graph may already hold a
		// loaded-from-disk state, so they're reset here rather than
		// relying on callers to skip the load.
		existing, err := vs.All(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", coderagerr.ErrStore, err)
		}
		if len(existing) > 0 {
			staleIDs := make([]string, len(existing))
			for i, r := range existing {
				staleIDs[i] = r.ID
			}
			if err := vs.Remove(ctx, staleIDs); err != nil {
				return fmt.Errorf("%w: %v", coderagerr.ErrStore, err)
			}
		}
		*bm25 = *store.NewIndex()
	}

	ids := make([]string, len(chunks))
	metas := make([]store.Metadata, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		metas[i] = chunkToMetadata(c)
	}
	if err := vs.Upsert(ctx, ids, vectors, metas); err != nil {
		return fmt.Errorf("%w: %v", coderagerr.ErrStore, err)
	}

	reindexedFiles := make(map[string]bool, len(results))
	for _, r := range results {
		reindexedFiles[r.relPath] = true
	}

	if !fullReindex {
		newIDs := make(map[string]bool, len(chunks))
		for _, c := range chunks {
			newIDs[c.ID] = true
		}

		var priorIDs []string
		for file := range reindexedFiles {
			priorIDs = append(priorIDs, priorChunkIDsByFile[file]...)
		}
		if len(priorIDs) > 0 {
			var staleVectorIDs []string
			for _, id := range priorIDs {
				if !newIDs[id] {
					staleVectorIDs = append(staleVectorIDs, id)
				}
			}
			if len(staleVectorIDs) > 0 {
				if err := vs.Remove(ctx, staleVectorIDs); err != nil {
					return fmt.Errorf("%w: %v", coderagerr.ErrStore, err)
				}
			}

			removed := bm25.RemoveByIDs(priorIDs)
			if len(removed) != len(priorIDs) {
				// Some prior ids were unknown to the BM25 index: a
				// corrupted or divergent state. Rebuild from the vector
				// store, which is the source of truth (spec.md §4.D).
				rebuilt, err := rebuildBM25FromStore(ctx, vs)
				if err != nil {
					return fmt.Errorf("bm25 rebuild after divergent state: %w", err)
				}
				*bm25 = *rebuilt
			}
		}
	}
	for _, c := range chunks {
		bm25.Add(c.ID, c.EmbeddingInput())
	}

	if fullReindex {
		*graph = *depgraph.New()
	} else {
		graph.RemoveNodesForFiles(reindexedFiles)
	}
	for _, r := range results {
		nodes, edges := buildGraphFragment(r.relPath, filterChunksForFile(chunks, r.relPath))
		for _, n := range nodes {
			graph.AddNode(n)
		}
		for _, e := range edges {
			graph.AddEdge(e)
		}
	}

	return nil
}

// pruneDeletedFiles removes every chunk id recorded for a file the
// Scanner no longer returns from the vector store, BM25, and the
// dependency graph (spec.md §8: a deleted file's prior chunk ids are
// removed from all artifacts on the next run). It is a no-op on a
// full reindex, since storeBatch already starts every artifact empty.
func pruneDeletedFiles(ctx context.Context, vs store.VectorStore, bm25 *store.Index, graph *depgraph.Graph, state chunkmodel.IndexState, deletedPaths []string) error {
	if len(deletedPaths) == 0 {
		return nil
	}

	var ids []string
	deletedSet := make(map[string]bool, len(deletedPaths))
	for _, path := range deletedPaths {
		deletedSet[path] = true
		ids = append(ids, state[path].ChunkIDs...)
	}

	if len(ids) > 0 {
		if err := vs.Remove(ctx, ids); err != nil {
			return fmt.Errorf("%w: %v", coderagerr.ErrStore, err)
		}
		bm25.RemoveByIDs(ids)
	}
	graph.RemoveNodesForFiles(deletedSet)
	return nil
}

func filterChunksForFile(chunks []chunkmodel.Chunk, relPath string) []chunkmodel.Chunk {
	var out []chunkmodel.Chunk
	for _, c := range chunks {
		if c.FilePath == relPath {
			out = append(out, c)
		}
	}
	return out
}

func chunkToMetadata(c chunkmodel.Chunk) store.Metadata {
	return store.Metadata{
		"filePath":     c.FilePath,
		"startLine":    c.StartLine,
		"endLine":      c.EndLine,
		"language":     c.Language,
		"chunkType":    string(c.Metadata.ChunkType),
		"name":         c.Metadata.Name,
		"repoName":     c.Metadata.RepoName,
		"docTitle":     c.Metadata.DocTitle,
		"content":      c.Content,
		"nlSummary":    c.NLSummary,
	}
}

// chunkFromMetadata reconstructs enough of a Chunk from a VectorStore
// row's metadata blob for HybridSearch and rebuildMergedIndex to use
// without re-reading source files.
func chunkFromMetadata(id string, m store.Metadata) chunkmodel.Chunk {
	str := func(k string) string { s, _ := m[k].(string); return s }
	num := func(k string) int {
		switch v := m[k].(type) {
		case float64:
			return int(v)
		case int:
			return v
		default:
			return 0
		}
	}
	return chunkmodel.Chunk{
		ID:        id,
		Content:   str("content"),
		NLSummary: str("nlSummary"),
		FilePath:  str("filePath"),
		StartLine: num("startLine"),
		EndLine:   num("endLine"),
		Language:  str("language"),
		Metadata: chunkmodel.Metadata{
			ChunkType: chunkmodel.ChunkType(str("chunkType")),
			Name:      str("name"),
			RepoName:  str("repoName"),
			DocTitle:  str("docTitle"),
		},
	}
}

func rebuildBM25FromStore(ctx context.Context, vs store.VectorStore) (*store.Index, error) {
	rows, err := vs.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("read vector store rows: %w", err)
	}
	return store.RebuildFromVectorStore(rows, func(m store.Metadata) string {
		c := chunkFromMetadata("", m)
		return c.EmbeddingInput()
	}), nil
}
