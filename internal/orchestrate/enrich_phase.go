package orchestrate

import (
	"context"
	"fmt"

	"github.com/coderag/coderag/internal/chunkmodel"
	"github.com/coderag/coderag/internal/enrich"
)

// runEnrichment runs the preflight + batch/checkpoint algorithm for one
// repo's chunks, with the checkpoint living at storageDir's own
// enrichment-checkpoint.json (single-repo path) or the shared root
// checkpoint (multi-repo path, passed the same storageDir by the
// caller). The checkpoint is deleted on success (spec.md §3).
func (o *Orchestrator) runEnrichment(ctx context.Context, storageDir string, chunks []chunkmodel.Chunk) (enriched []chunkmodel.Chunk, failedCount int, err error) {
	if len(chunks) == 0 {
		return nil, 0, nil
	}

	enricher := enrich.New(o.llm, enrich.Config{
		Model:       o.cfg.EnrichModel,
		Concurrency: o.cfg.EnrichConcurrency,
	})
	if err := enricher.Preflight(ctx); err != nil {
		return nil, 0, err
	}

	ckptPath := checkpointPath(storageDir)
	ckpt, err := loadCheckpoint(ckptPath)
	if err != nil {
		return nil, 0, err
	}

	result, err := enricher.EnrichAll(ctx, chunks, ckpt, func(c *chunkmodel.EnrichmentCheckpoint) error {
		return saveCheckpoint(ckptPath, c)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("enrichment: %w", err)
	}

	if err := deleteCheckpoint(ckptPath); err != nil {
		return nil, 0, err
	}
	return result.Enriched, result.FailedCount, nil
}
