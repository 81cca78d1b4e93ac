package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/coderag/coderag/internal/orchestrate"
	"github.com/spf13/cobra"
)

var (
	indexQuiet      bool
	indexFull       bool
	indexWatch      bool
	indexStorageDir string
	indexEmbedURL   string
	indexLLMURL     string
	indexBacklogURL string
)

var indexCmd = &cobra.Command{
	Use:   "index [path]",
	Short: "Index a codebase for hybrid search",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
	indexCmd.Flags().BoolVarP(&indexQuiet, "quiet", "q", false, "suppress progress output")
	indexCmd.Flags().BoolVar(&indexFull, "full", false, "force a full reindex, ignoring recorded file hashes")
	indexCmd.Flags().BoolVarP(&indexWatch, "watch", "w", false, "watch for file changes and reindex incrementally")
	indexCmd.Flags().StringVar(&indexStorageDir, "storage-dir", ".coderag", "directory for persisted index artifacts")
	indexCmd.Flags().StringVar(&indexEmbedURL, "embed-url", "http://127.0.0.1:8901", "embedding server base URL")
	indexCmd.Flags().StringVar(&indexLLMURL, "llm-url", "http://127.0.0.1:8902", "enrichment LLM server base URL")
	indexCmd.Flags().StringVar(&indexBacklogURL, "backlog-url", "", "optional work-item provider base URL")
}

func runIndex(cmd *cobra.Command, args []string) error {
	rootDir := "."
	if len(args) == 1 {
		rootDir = args[0]
	}
	absRoot, err := filepath.Abs(rootDir)
	if err != nil {
		return err
	}

	o, err := buildOrchestrator(absRoot, indexStorageDir, indexEmbedURL, indexLLMURL, indexBacklogURL)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	opts := orchestrate.Options{Full: indexFull, Quiet: indexQuiet}

	if indexWatch {
		return o.Watch(ctx, opts, func(report orchestrate.Report, err error) {
			if err != nil {
				fmt.Fprintf(os.Stderr, "coderag: index failed: %v\n", err)
				return
			}
			printReport(report, indexQuiet)
		})
	}

	report, err := o.Index(ctx, opts)
	if err != nil {
		return err
	}
	printReport(report, indexQuiet)
	return nil
}

func printReport(r orchestrate.Report, quiet bool) {
	if r.UpToDate {
		if !quiet {
			fmt.Println("up to date")
		}
		return
	}
	fmt.Printf("indexed %d/%d files, %d chunks (%d failed summaries, %d parse errors, %d skipped)\n",
		r.FilesIndexed, r.FilesScanned, r.ChunksIndexed, r.FailedSummaries, len(r.ParseErrors), len(r.SkippedFiles))
}
