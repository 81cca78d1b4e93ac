package orchestrate

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/coderag/coderag/internal/chunkmodel"
	"github.com/coderag/coderag/internal/coderagerr"
	"github.com/coderag/coderag/internal/scan"
)

var (
	scanErrWrap  = coderagerr.ErrScan
	storeErrWrap = coderagerr.ErrStore
)

// runSingleRepo implements spec.md §4.E.1.
func (o *Orchestrator) runSingleRepo(ctx context.Context, repo RepoConfig, storageDir string, opts Options) (Report, error) {
	obs := newRunObserver(storageDir, opts.Quiet)
	obs.phase("load-index-state")

	state, err := loadIndexState(indexStatePath(storageDir))
	if err != nil {
		return Report{}, err
	}
	if opts.Full {
		state = make(chunkmodel.IndexState)
	}

	obs.phase("scan")
	sc, err := scan.New(repo.Root, o.cfg.CodePatterns, o.cfg.DocPatterns, o.cfg.IgnorePatterns)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", scanErrWrap, err)
	}
	code, docs, skipped, err := sc.Scan()
	if err != nil {
		return Report{}, fmt.Errorf("%w: %v", scanErrWrap, err)
	}
	allFiles := append(append([]scan.File{}, code...), docs...)

	deletedPaths := deletedFilePaths(state, allFiles)
	dirty := dirtyFiles(allFiles, state, opts.Full)
	if len(dirty) == 0 && len(deletedPaths) == 0 && !opts.Full {
		obs.phase("up-to-date")
		return Report{UpToDate: true, FilesScanned: len(allFiles)}, nil
	}

	docSet := make(map[string]bool, len(docs))
	for _, d := range docs {
		relPath := relTo(repo.Root, d.Path)
		docSet[relPath] = true
	}
	results := o.processFiles(repo.Root, dirty, func(relPath string) bool { return docSet[relPath] })

	var chunks []chunkmodel.Chunk
	var parseErrors []ParseErrorDetail
	var skippedFiles []string
	for _, r := range results {
		if r.skipped {
			skippedFiles = append(skippedFiles, r.relPath)
			continue
		}
		if r.parseError != nil {
			parseErrors = append(parseErrors, *r.parseError)
			continue
		}
		chunks = append(chunks, r.chunks...)
	}
	for _, s := range skipped {
		skippedFiles = append(skippedFiles, s.Path)
	}

	if len(chunks) == 0 && len(parseErrors) > 0 {
		obs.phase("no-chunks-parse-errors")
		return Report{FilesScanned: len(allFiles), ParseErrors: parseErrors, SkippedFiles: skippedFiles}, nil
	}

	obs.phase("enrich")
	enriched, failedCount, err := o.runEnrichment(ctx, storageDir, chunks)
	if err != nil {
		return Report{}, err
	}

	obs.phase("embed")
	vs := o.vectorStoreF(vectorDirPath(storageDir), o.cfg.EmbeddingDimensions)
	if err := vs.Connect(ctx); err != nil {
		return Report{}, fmt.Errorf("%w: %v", storeErrWrap, err)
	}
	defer vs.Close()

	vectors, err := o.embedChunks(ctx, enriched)
	if err != nil {
		return Report{}, err
	}

	bm25, err := loadBM25(storageDir)
	if err != nil {
		return Report{}, err
	}
	graph, err := loadGraph(storageDir)
	if err != nil {
		return Report{}, err
	}

	obs.phase("store")
	if err := pruneDeletedFiles(ctx, vs, bm25, graph, state, deletedPaths); err != nil {
		return Report{}, err
	}
	priorIDs := priorChunkIDsByFile(state)
	if err := o.storeBatch(ctx, vs, bm25, graph, results, enriched, vectors, priorIDs, opts.Full); err != nil {
		return Report{}, err
	}

	if err := bm25.Save(bm25Path(storageDir)); err != nil {
		return Report{}, err
	}
	if err := graph.Save(graphPath(storageDir)); err != nil {
		return Report{}, err
	}

	for _, p := range deletedPaths {
		delete(state, p)
	}
	now := time.Now()
	updateIndexStateFor(state, results, now)
	if err := saveIndexState(indexStatePath(storageDir), state); err != nil {
		return Report{}, err
	}

	obs.phase("backlog")
	if err := o.runBacklogExtension(ctx, storageDir, vs, bm25, graph); err != nil {
		return Report{}, err
	}
	if err := bm25.Save(bm25Path(storageDir)); err != nil {
		return Report{}, err
	}
	if err := graph.Save(graphPath(storageDir)); err != nil {
		return Report{}, err
	}

	obs.phase("done")
	return Report{
		FilesScanned:    len(allFiles),
		FilesIndexed:    len(results),
		ChunksIndexed:   len(enriched),
		ParseErrors:     parseErrors,
		SkippedFiles:    skippedFiles,
		FailedSummaries: failedCount,
	}, nil
}

func priorChunkIDsByFile(state chunkmodel.IndexState) map[string][]string {
	m := make(map[string][]string, len(state))
	for path, fs := range state {
		m[path] = fs.ChunkIDs
	}
	return m
}

func relTo(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return rel
}
