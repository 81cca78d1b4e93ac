package orchestrate

import (
	"path/filepath"
	"sort"
	"time"

	"github.com/coderag/coderag/internal/chunkmodel"
	"github.com/coderag/coderag/internal/depgraph"
	"github.com/coderag/coderag/internal/parse"
	"github.com/coderag/coderag/internal/scan"
)

// fileResult is the parse+chunk outcome for one scanned file.
type fileResult struct {
	relPath     string
	contentHash string
	chunks      []chunkmodel.Chunk
	parseError  *ParseErrorDetail
	skipped     bool
}

// processFiles parses and chunks every file in files (already filtered
// to dirty-or-full-reindex candidates), honoring the per-file edge
// cases in spec.md §4.B: an unsupported-language file is a skip, not
// an error; a syntactic parse error is recorded per-file and yields
// zero chunks but the file is still marked processed.
func (o *Orchestrator) processFiles(root string, files []scan.File, isDoc func(relPath string) bool) []fileResult {
	results := make([]fileResult, 0, len(files))

	for _, f := range files {
		relPath, err := filepath.Rel(root, f.Path)
		if err != nil {
			relPath = f.Path
		}

		if isDoc(relPath) {
			chunks := o.chunker.ChunkDocFile(relPath, f.Content)
			results = append(results, fileResult{relPath: relPath, contentHash: f.ContentHash, chunks: chunks})
			continue
		}

		pf, err := o.parser.Parse(f.Path, f.Content)
		if err != nil {
			if _, unsupported := err.(*parse.ErrUnsupportedFileType); unsupported {
				results = append(results, fileResult{relPath: relPath, contentHash: f.ContentHash, skipped: true})
				continue
			}
			reason := err.Error()
			results = append(results, fileResult{
				relPath:     relPath,
				contentHash: f.ContentHash,
				parseError:  &ParseErrorDetail{File: relPath, Reason: reason},
			})
			continue
		}

		chunks := o.chunker.ChunkCodeFile(relPath, pf)
		results = append(results, fileResult{relPath: relPath, contentHash: f.ContentHash, chunks: chunks})
	}

	return results
}

// dirtyFiles filters files to those IndexState considers dirty, unless
// full is set (spec.md §4.E.1 step 2).
func dirtyFiles(files []scan.File, state chunkmodel.IndexState, full bool) []scan.File {
	if full {
		return files
	}
	var dirty []scan.File
	for _, f := range files {
		if state.Dirty(f.Path, f.ContentHash) {
			dirty = append(dirty, f)
		}
	}
	return dirty
}

// deletedFilePaths returns every path recorded in state that the
// Scanner no longer returned (spec.md §8: a deleted file is detected
// via Scanner not returning it). files must already use the same
// relative-path convention as the IndexState keys.
func deletedFilePaths(state chunkmodel.IndexState, files []scan.File) []string {
	if len(state) == 0 {
		return nil
	}
	present := make(map[string]bool, len(files))
	for _, f := range files {
		present[f.Path] = true
	}
	var deleted []string
	for path := range state {
		if !present[path] {
			deleted = append(deleted, path)
		}
	}
	sort.Strings(deleted)
	return deleted
}

// stampRepo sets metadata.repoName on every chunk (spec.md §3: "For
// multi-repo indices, metadata.repoName is set").
func stampRepo(chunks []chunkmodel.Chunk, repoName string) []chunkmodel.Chunk {
	for i := range chunks {
		chunks[i].Metadata.RepoName = repoName
	}
	return chunks
}

// updateIndexStateFor records {contentHash, lastIndexedAt, chunkIds}
// for every processed file, including files with zero chunks (spec.md
// §4.E.1 step 7).
func updateIndexStateFor(state chunkmodel.IndexState, results []fileResult, now time.Time) {
	for _, r := range results {
		if r.skipped {
			continue
		}
		ids := make([]string, 0, len(r.chunks))
		for _, c := range r.chunks {
			ids = append(ids, c.ID)
		}
		state[r.relPath] = chunkmodel.FileState{
			FilePath:      r.relPath,
			ContentHash:   r.contentHash,
			LastIndexedAt: now,
			ChunkIDs:      ids,
		}
	}
}

// buildGraphFragment builds the per-file nodes/edges for one file's
// chunks: a file node, a symbol node per code chunk (methods and
// numbered sub-chunks included; doc and backlog chunks get none), and a
// "references" edge from the file to each of those symbol nodes
// (grounded on the teacher's graph.Extractor producing one Node per
// declaration plus file-scoped edges). Cross-file call/import
// resolution is intentionally out of scope — see DESIGN.md.
func buildGraphFragment(relPath string, chunks []chunkmodel.Chunk) (nodes []depgraph.Node, edges []depgraph.Edge) {
	fileID := "file:" + relPath
	symbols := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if c.Metadata.ChunkType == chunkmodel.ChunkTypeDoc || c.Metadata.ChunkType == chunkmodel.ChunkTypeBacklog {
			continue
		}
		symbols = append(symbols, c.Metadata.Name)
	}
	nodes = append(nodes, depgraph.Node{ID: fileID, FilePath: relPath, Symbols: symbols, Type: depgraph.NodeFile})

	for _, c := range chunks {
		if c.Metadata.ChunkType == chunkmodel.ChunkTypeDoc || c.Metadata.ChunkType == chunkmodel.ChunkTypeBacklog {
			continue
		}
		nodes = append(nodes, depgraph.Node{ID: c.ID, FilePath: relPath, Type: depgraph.NodeSymbol})
		edges = append(edges, depgraph.Edge{Source: fileID, Target: c.ID, Type: depgraph.EdgeReferences})
	}
	return nodes, edges
}
