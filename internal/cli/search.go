package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/coderag/coderag/internal/chunkmodel"
	"github.com/coderag/coderag/internal/llmhttp"
	"github.com/coderag/coderag/internal/search"
	"github.com/spf13/cobra"
)

var (
	searchTopK       int
	searchStorageDir string
	searchEmbedURL   string
	searchLLMURL     string
	searchLanguage   string
	searchChunkType  string
	searchFileGlob   string
	searchRerank     bool
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Run a hybrid vector + lexical search against a previously built index",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVar(&searchTopK, "top-k", 10, "number of results to return")
	searchCmd.Flags().StringVar(&searchStorageDir, "storage-dir", ".coderag", "directory holding persisted index artifacts")
	searchCmd.Flags().StringVar(&searchEmbedURL, "embed-url", "http://127.0.0.1:8901", "embedding server base URL")
	searchCmd.Flags().StringVar(&searchLLMURL, "llm-url", "http://127.0.0.1:8902", "rerank LLM server base URL")
	searchCmd.Flags().StringVar(&searchLanguage, "language", "", "filter results to a single language")
	searchCmd.Flags().StringVar(&searchChunkType, "chunk-type", "", "filter results to a chunk type (function, class, doc, ...)")
	searchCmd.Flags().StringVar(&searchFileGlob, "file-glob", "", "filter results to file paths matching a glob")
	searchCmd.Flags().BoolVar(&searchRerank, "rerank", false, "apply an LLM cross-encoder rerank pass to the top results")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]

	o, err := buildOrchestrator(".", searchStorageDir, searchEmbedURL, searchLLMURL, "")
	if err != nil {
		return err
	}

	filters := search.Filters{
		Language:     searchLanguage,
		ChunkType:    chunkmodel.ChunkType(searchChunkType),
		FilePathGlob: searchFileGlob,
	}

	var rerank *search.RerankConfig
	if searchRerank {
		rerank = &search.RerankConfig{Client: llmhttp.NewLLMClient(searchLLMURL)}
	}

	results, err := o.Search(context.Background(), query, searchTopK, filters, rerank)
	if err != nil {
		return err
	}

	for _, r := range results {
		loc := fmt.Sprintf("%s:%d-%d", filepath.ToSlash(r.Chunk.FilePath), r.Chunk.StartLine, r.Chunk.EndLine)
		summary := strings.TrimSpace(r.Chunk.NLSummary)
		if summary == "" {
			summary = firstLine(r.Chunk.Content)
		}
		fmt.Printf("%.4f  %s  %s\n    %s\n", r.Score, r.ChunkID, loc, summary)
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
