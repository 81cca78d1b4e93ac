// Package enrich implements the Enricher component (spec.md §4.C): it
// calls an LLM client once per chunk to produce a one-sentence NL
// summary, checkpointed after every batch so the slow, LLM-bound phase
// is safely re-entrant. Grounded on the teacher's internal/embed
// package's batching shape (batched.go's EmbedWithProgress) generalized
// from embeddings to LLM summaries, and on its Provider/isAvailable
// preflight pattern (factory.go).
package enrich

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coderag/coderag/internal/chunkmodel"
	"github.com/coderag/coderag/internal/coderagerr"
)

// LLMClient is the external collaborator from spec.md §6, called by
// the Enricher and the optional HybridSearch reranker.
type LLMClient interface {
	Generate(ctx context.Context, prompt, model string) (string, error)
	IsAvailable(ctx context.Context) bool
}

// BatchSize is the fixed batch size B the spec requires (§4.C).
const BatchSize = 100

// defaultTimeout is the per-request LLM timeout (spec.md §5, default 30s).
const defaultTimeout = 30 * time.Second

// Config configures an Enricher run.
type Config struct {
	Model string
	// Concurrency bounds how many in-flight LLM requests a single batch
	// may issue; 1 means strictly sequential. Spec.md §4.C/§5 permit
	// either.
	Concurrency int
	// RequestTimeout overrides defaultTimeout when non-zero.
	RequestTimeout time.Duration
}

// Result is the outcome of enriching a set of chunks.
type Result struct {
	Enriched    []chunkmodel.Chunk
	FailedCount int
}

// Enricher drives the batch/checkpoint enrichment algorithm.
type Enricher struct {
	client LLMClient
	cfg    Config
}

// New returns an Enricher calling client per-chunk.
func New(client LLMClient, cfg Config) *Enricher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultTimeout
	}
	return &Enricher{client: client, cfg: cfg}
}

// Preflight probes the LLM endpoint before the first batch. A failure
// here is fatal for the whole enrichment phase (spec.md §4.C step 1).
func (e *Enricher) Preflight(ctx context.Context) error {
	if !e.client.IsAvailable(ctx) {
		return fmt.Errorf("%w: llm endpoint unreachable", coderagerr.ErrEnrichmentUnavailable)
	}
	return nil
}

// CheckpointWriter persists {summaries, totalProcessed} atomically
// after every batch (spec.md §4.C step 4). The Orchestrator supplies
// the implementation since it owns the storage directory.
type CheckpointWriter func(ckpt *chunkmodel.EnrichmentCheckpoint) error

// EnrichAll runs the full batch/checkpoint algorithm over chunks,
// skipping any chunk already present in ckpt.Summaries (resume), and
// invoking writeCheckpoint after every batch regardless of its outcome.
// It returns a fatal error if three consecutive batches enrich zero
// chunks successfully (spec.md §4.C step 6).
func (e *Enricher) EnrichAll(ctx context.Context, chunks []chunkmodel.Chunk, ckpt *chunkmodel.EnrichmentCheckpoint, writeCheckpoint CheckpointWriter) (Result, error) {
	if ckpt.Summaries == nil {
		ckpt.Summaries = make(map[string]string)
	}

	pending := make([]chunkmodel.Chunk, 0, len(chunks))
	for _, c := range chunks {
		if _, done := ckpt.Summaries[c.ID]; done {
			continue
		}
		pending = append(pending, c)
	}

	var result Result
	consecutiveAllFail := 0

	for start := 0; start < len(pending); start += BatchSize {
		end := start + BatchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		summaries, failed := e.enrichBatch(ctx, batch)

		successCount := 0
		for i, c := range batch {
			if summaries[i] != "" {
				ckpt.Summaries[c.ID] = summaries[i]
				ckpt.TotalProcessed++
				successCount++
			}
		}
		result.FailedCount += failed

		if err := writeCheckpoint(ckpt); err != nil {
			return result, fmt.Errorf("enrich: write checkpoint: %w", err)
		}

		if successCount == 0 && len(batch) > 0 {
			consecutiveAllFail++
		} else {
			consecutiveAllFail = 0
		}
		if consecutiveAllFail >= 3 {
			return result, fmt.Errorf("%w", coderagerr.ErrEnrichmentStalled)
		}
	}

	for _, c := range chunks {
		if summary, ok := ckpt.Summaries[c.ID]; ok {
			c.NLSummary = summary
			result.Enriched = append(result.Enriched, c)
		}
	}
	return result, nil
}

// enrichBatch issues one LLM request per chunk, optionally bounded-
// parallel, preserving the input order in its returned slice (spec.md
// §4.C step 3). A failed chunk's slot is left as "".
func (e *Enricher) enrichBatch(ctx context.Context, batch []chunkmodel.Chunk) (summaries []string, failedCount int) {
	summaries = make([]string, len(batch))
	if len(batch) == 0 {
		return summaries, 0
	}

	sem := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i, chunk := range batch {
		i, chunk := i, chunk
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			reqCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
			defer cancel()

			summary, err := e.client.Generate(reqCtx, summaryPrompt(chunk), e.cfg.Model)
			if err != nil {
				mu.Lock()
				failedCount++
				mu.Unlock()
				return
			}
			summaries[i] = summary
		}()
	}
	wg.Wait()
	return summaries, failedCount
}

func summaryPrompt(c chunkmodel.Chunk) string {
	return fmt.Sprintf(
		"Describe the purpose of this %s named %q in one sentence:\n\n%s",
		c.Metadata.ChunkType, c.Metadata.Name, c.Content,
	)
}
