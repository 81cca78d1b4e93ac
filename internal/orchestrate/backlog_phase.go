package orchestrate

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/coderag/coderag/internal/backlog"
	"github.com/coderag/coderag/internal/chunkmodel"
	"github.com/coderag/coderag/internal/depgraph"
	"github.com/coderag/coderag/internal/store"
)

// runBacklogExtension implements spec.md §4.E.3. It is a no-op when no
// WorkItemProvider is configured.
func (o *Orchestrator) runBacklogExtension(ctx context.Context, storageDir string, vs store.VectorStore, bm25 *store.Index, graph *depgraph.Graph) error {
	if o.backlogProv == nil {
		return nil
	}

	statePath := backlogStatePath(storageDir)
	state, err := loadBacklogState(statePath)
	if err != nil {
		return err
	}

	items, err := o.backlogProv.GetItems(ctx, "")
	if err != nil {
		return fmt.Errorf("backlog: fetch items: %w", err)
	}

	pattern, err := backlog.NewRefPattern(o.cfg.BacklogRefPattern)
	if err != nil {
		return fmt.Errorf("backlog: compile reference pattern: %w", err)
	}

	var dirty []backlog.Item
	for _, item := range items {
		if state.Dirty(item) {
			dirty = append(dirty, item)
		}
	}

	if len(dirty) > 0 {
		chunks := make([]chunkmodel.Chunk, 0, len(dirty))
		for _, item := range dirty {
			chunks = append(chunks, backlog.ToChunk(item))
		}

		vectors, err := o.embedChunks(ctx, chunks)
		if err != nil {
			return err
		}
		ids := make([]string, len(chunks))
		metas := make([]store.Metadata, len(chunks))
		for i, c := range chunks {
			ids[i] = c.ID
			metas[i] = chunkToMetadata(c)
		}
		if err := vs.Upsert(ctx, ids, vectors, metas); err != nil {
			return fmt.Errorf("backlog: upsert: %w", err)
		}
		// Appended without rebuilding the existing BM25 index (spec.md §4.E.3).
		for _, c := range chunks {
			bm25.Add(c.ID, c.EmbeddingInput())
		}

		for _, item := range dirty {
			state[item.ExternalID] = backlog.Hash(item)
		}
		if err := saveBacklogState(statePath, state); err != nil {
			return err
		}
	}

	if err := linkBacklogGraph(ctx, graph, vs, items, pattern); err != nil {
		return fmt.Errorf("backlog: link graph: %w", err)
	}
	return nil
}

// linkBacklogGraph adds both edge directions from spec.md §4.E.3: (1)
// item -> file for each of the item's declared linkedCodePaths, and
// (2) file -> item reverse edges discovered by scanning every stored
// chunk's content for the configured reference pattern, matching the
// full matched text against each item's externalId.
func linkBacklogGraph(ctx context.Context, graph *depgraph.Graph, vs store.VectorStore, items []backlog.Item, pattern *regexp.Regexp) error {
	byExternalID := make(map[string]backlog.Item, len(items))
	for _, item := range items {
		backlogID := backlog.ChunkID(item.ExternalID)
		if !graph.HasNode(backlogID) {
			graph.AddNode(depgraph.Node{ID: backlogID, Type: depgraph.NodeBacklog})
		}
		byExternalID[item.ExternalID] = item

		for _, path := range item.LinkedCodePaths {
			fileID := "file:" + path
			if graph.HasNode(fileID) {
				graph.AddEdge(depgraph.Edge{Source: backlogID, Target: fileID, Type: depgraph.EdgeReferences})
			}
		}
	}

	rows, err := vs.All(ctx)
	if err != nil {
		return err
	}
	for _, row := range rows {
		chunk := chunkFromMetadata(row.ID, row.Metadata)
		if chunk.Metadata.ChunkType == chunkmodel.ChunkTypeBacklog {
			continue
		}
		fileID := "file:" + chunk.FilePath
		if !graph.HasNode(fileID) {
			continue
		}
		for _, ref := range backlog.FindReferences(pattern, chunk.Content) {
			if item, ok := byExternalID[ref]; ok {
				graph.AddEdge(depgraph.Edge{Source: fileID, Target: backlog.ChunkID(item.ExternalID), Type: depgraph.EdgeReferences})
			}
		}
	}
	return nil
}

func loadBacklogState(path string) (backlog.State, error) {
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return backlog.State{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("orchestrate: read backlog state: %w", err)
	}
	return backlog.DecodeState(b)
}

func saveBacklogState(path string, state backlog.State) error {
	b, err := backlog.EncodeState(state)
	if err != nil {
		return err
	}
	return atomicWriteBytes(path, b)
}
