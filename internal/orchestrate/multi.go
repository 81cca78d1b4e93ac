package orchestrate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/coderag/coderag/internal/chunkmodel"
	"github.com/coderag/coderag/internal/coderagerr"
	"github.com/coderag/coderag/internal/depgraph"
	"github.com/coderag/coderag/internal/scan"
	"github.com/coderag/coderag/internal/store"
)

type repoBuffer struct {
	repo         RepoConfig
	storageDir   string
	state        chunkmodel.IndexState
	results      []fileResult
	allFileCount int
	skippedFiles []string
	parseErrors  []ParseErrorDetail
	deletedPaths []string
}

// runMultiRepo implements spec.md §4.E.2: staged phases across all
// repos, with a single shared enrichment phase, then per-repo embed/
// store, then a root-level merge.
func (o *Orchestrator) runMultiRepo(ctx context.Context, opts Options) (Report, error) {
	obs := newRunObserver(o.cfg.StorageDir, opts.Quiet)
	buffers := make([]*repoBuffer, 0, len(o.cfg.Repos))
	anyChanges := false

	// Phase 1: per-repo scan/parse/chunk.
	obs.phase("scan-all-repos")
	for _, repo := range o.cfg.Repos {
		repoStorageDir := filepath.Join(o.cfg.StorageDir, repo.Name)

		state, err := loadIndexState(indexStatePath(repoStorageDir))
		if err != nil {
			return Report{}, err
		}
		if opts.Full {
			state = make(chunkmodel.IndexState)
		}

		sc, err := scan.New(repo.Root, o.cfg.CodePatterns, o.cfg.DocPatterns, o.cfg.IgnorePatterns)
		if err != nil {
			return Report{}, fmt.Errorf("%w: %v", scanErrWrap, err)
		}
		code, docs, skipped, err := sc.Scan()
		if err != nil {
			return Report{}, fmt.Errorf("%w: %v", scanErrWrap, err)
		}
		allFiles := append(append([]scan.File{}, code...), docs...)
		dirty := dirtyFiles(allFiles, state, opts.Full)
		deletedPaths := deletedFilePaths(state, allFiles)
		if len(dirty) > 0 || len(deletedPaths) > 0 {
			anyChanges = true
		}

		docSet := make(map[string]bool, len(docs))
		for _, d := range docs {
			docSet[relTo(repo.Root, d.Path)] = true
		}
		results := o.processFiles(repo.Root, dirty, func(relPath string) bool { return docSet[relPath] })
		for i := range results {
			results[i].chunks = stampRepo(results[i].chunks, repo.Name)
		}

		buf := &repoBuffer{repo: repo, storageDir: repoStorageDir, state: state, results: results, allFileCount: len(allFiles), deletedPaths: deletedPaths}
		for _, s := range skipped {
			buf.skippedFiles = append(buf.skippedFiles, s.Path)
		}
		for _, r := range results {
			if r.skipped {
				buf.skippedFiles = append(buf.skippedFiles, r.relPath)
			}
			if r.parseError != nil {
				buf.parseErrors = append(buf.parseErrors, *r.parseError)
			}
		}
		if len(results) > 0 || len(deletedPaths) > 0 {
			buffers = append(buffers, buf)
		} else if len(dirty) > 0 {
			buffers = append(buffers, buf) // keep so its parse errors surface
		}
	}

	if !anyChanges && !opts.Full {
		return o.recoverOrReportUpToDate(ctx)
	}

	// Phase 2: single shared enrichment phase over the union of chunks,
	// checkpointed at the root storage directory.
	obs.phase("enrich-shared")
	var allChunks []chunkmodel.Chunk
	for _, buf := range buffers {
		for _, r := range buf.results {
			allChunks = append(allChunks, r.chunks...)
		}
	}
	enriched, failedCount, err := o.runEnrichment(ctx, o.cfg.StorageDir, allChunks)
	if err != nil {
		return Report{}, err
	}
	enrichedByID := make(map[string]chunkmodel.Chunk, len(enriched))
	for _, c := range enriched {
		enrichedByID[c.ID] = c
	}

	// Phase 3: per-repo embed, upsert, BM25/graph update, IndexState update.
	obs.phase("embed-store-per-repo")
	report := Report{FailedSummaries: failedCount}
	for _, buf := range buffers {
		var repoEnriched []chunkmodel.Chunk
		for _, r := range buf.results {
			for _, c := range r.chunks {
				if ec, ok := enrichedByID[c.ID]; ok {
					repoEnriched = append(repoEnriched, ec)
				}
			}
		}

		vs := o.vectorStoreF(vectorDirPath(buf.storageDir), o.cfg.EmbeddingDimensions)
		if err := vs.Connect(ctx); err != nil {
			return Report{}, fmt.Errorf("%w: %v", storeErrWrap, err)
		}

		vectors, err := o.embedChunks(ctx, repoEnriched)
		if err != nil {
			vs.Close()
			return Report{}, err
		}

		bm25, err := loadBM25(buf.storageDir)
		if err != nil {
			vs.Close()
			return Report{}, err
		}
		graph, err := loadGraph(buf.storageDir)
		if err != nil {
			vs.Close()
			return Report{}, err
		}

		if err := pruneDeletedFiles(ctx, vs, bm25, graph, buf.state, buf.deletedPaths); err != nil {
			vs.Close()
			return Report{}, err
		}
		prior := priorChunkIDsByFile(buf.state)
		if err := o.storeBatch(ctx, vs, bm25, graph, buf.results, repoEnriched, vectors, prior, opts.Full); err != nil {
			vs.Close()
			return Report{}, err
		}
		if err := bm25.Save(bm25Path(buf.storageDir)); err != nil {
			vs.Close()
			return Report{}, err
		}
		if err := graph.Save(graphPath(buf.storageDir)); err != nil {
			vs.Close()
			return Report{}, err
		}

		for _, p := range buf.deletedPaths {
			delete(buf.state, p)
		}
		now := time.Now()
		updateIndexStateFor(buf.state, buf.results, now)
		if err := saveIndexState(indexStatePath(buf.storageDir), buf.state); err != nil {
			vs.Close()
			return Report{}, err
		}
		vs.Close()

		report.FilesScanned += buf.allFileCount
		report.FilesIndexed += len(buf.results)
		report.ChunksIndexed += len(repoEnriched)
		report.ParseErrors = append(report.ParseErrors, buf.parseErrors...)
		report.SkippedFiles = append(report.SkippedFiles, buf.skippedFiles...)
	}

	// Phase 4: merge step — union every repo's outputs into the root index.
	obs.phase("merge")
	if err := o.mergeRepoOutputs(ctx); err != nil {
		return Report{}, fmt.Errorf("%w: %v", coderagerr.ErrMerge, err)
	}

	obs.phase("done")
	return report, nil
}

// mergeRepoOutputs rebuilds the root vector store, BM25 index, and
// graph purely from each repo's per-repo artifacts (spec.md §4.E.2
// "Merge step"). It is also the rebuildMergedIndex recovery path
// (§4.E.2 "Recovery of missing root index"), since both need the same
// union-from-per-repo-stores algorithm.
func (o *Orchestrator) mergeRepoOutputs(ctx context.Context) error {
	rootVS := o.vectorStoreF(vectorDirPath(o.cfg.StorageDir), o.cfg.EmbeddingDimensions)
	if err := rootVS.Connect(ctx); err != nil {
		return fmt.Errorf("connect root vector store: %w", err)
	}
	defer rootVS.Close()

	rootGraph := depgraph.New()
	kept := make(map[string]bool)

	for _, repo := range o.cfg.Repos {
		repoStorageDir := filepath.Join(o.cfg.StorageDir, repo.Name)

		repoVS := o.vectorStoreF(vectorDirPath(repoStorageDir), o.cfg.EmbeddingDimensions)
		if err := repoVS.Connect(ctx); err != nil {
			return fmt.Errorf("connect %s vector store: %w", repo.Name, err)
		}
		rows, err := repoVS.All(ctx)
		repoVS.Close()
		if err != nil {
			return fmt.Errorf("read %s vector store: %w", repo.Name, err)
		}

		if len(rows) > 0 {
			ids := make([]string, len(rows))
			vectors := make([][]float32, len(rows))
			metas := make([]store.Metadata, len(rows))
			for i, r := range rows {
				ids[i] = r.ID
				vectors[i] = r.Vector
				metas[i] = r.Metadata
				kept[r.ID] = true
			}
			if err := rootVS.Upsert(ctx, ids, vectors, metas); err != nil {
				return fmt.Errorf("upsert %s rows into root: %w", repo.Name, err)
			}
		}

		repoGraph, err := loadGraph(repoStorageDir)
		if err != nil {
			return fmt.Errorf("load %s graph: %w", repo.Name, err)
		}
		rootGraph.Merge(repoGraph)
	}

	// Drop root rows that no per-repo store holds any more.
	existing, err := rootVS.All(ctx)
	if err != nil {
		return fmt.Errorf("read root vector store: %w", err)
	}
	var stale []string
	for _, r := range existing {
		if !kept[r.ID] {
			stale = append(stale, r.ID)
		}
	}
	if err := rootVS.Remove(ctx, stale); err != nil {
		return fmt.Errorf("remove stale root rows: %w", err)
	}

	rootBM25, err := rebuildBM25FromStore(ctx, rootVS)
	if err != nil {
		return err
	}

	if err := rootBM25.Save(bm25Path(o.cfg.StorageDir)); err != nil {
		return err
	}
	if err := rootGraph.Save(graphPath(o.cfg.StorageDir)); err != nil {
		return err
	}
	return nil
}

// recoverOrReportUpToDate implements the "no dirty files" branch of
// §4.E.2: if the root artifacts are missing/empty, rebuild them purely
// from per-repo stores (rebuildMergedIndex); otherwise report up to date.
func (o *Orchestrator) recoverOrReportUpToDate(ctx context.Context) (Report, error) {
	rootVS := o.vectorStoreF(vectorDirPath(o.cfg.StorageDir), o.cfg.EmbeddingDimensions)
	if err := rootVS.Connect(ctx); err != nil {
		return Report{}, fmt.Errorf("%w: %v", storeErrWrap, err)
	}
	count, err := rootVS.Count(ctx)
	rootVS.Close()
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", storeErrWrap, err)
	}

	_, bm25Err := os.Stat(bm25Path(o.cfg.StorageDir))
	_, graphErr := os.Stat(graphPath(o.cfg.StorageDir))
	if count > 0 && bm25Err == nil && graphErr == nil {
		return Report{UpToDate: true}, nil
	}

	if err := o.mergeRepoOutputs(ctx); err != nil {
		return Report{}, fmt.Errorf("%w: %v", coderagerr.ErrMerge, err)
	}
	return Report{UpToDate: true}, nil
}
