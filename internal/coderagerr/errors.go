// Package coderagerr defines the abstract error kinds the indexing
// pipeline reports to its caller. Each kind is a sentinel so callers can
// branch with errors.Is while the wrapped message chain still carries
// the concrete cause.
package coderagerr

import "errors"

var (
	// ErrConfig marks a bad configuration or embedding-dimension mismatch.
	// Fatal at startup.
	ErrConfig = errors.New("configuration error")

	// ErrScan marks a failure to walk the root directory. Fatal.
	ErrScan = errors.New("scan error")

	// ErrEnrichmentUnavailable marks the LLM being unreachable at preflight.
	// Fatal; aborts the enrichment phase before any batch runs.
	ErrEnrichmentUnavailable = errors.New("enrichment llm unavailable")

	// ErrEnrichmentStalled marks three consecutive all-fail batches.
	// Fatal; aborts the enrichment phase, checkpoint is preserved.
	ErrEnrichmentStalled = errors.New("enrichment stalled: too many consecutive failed batches")

	// ErrEmbed marks an embedding-batch failure. Fatal for the repo.
	ErrEmbed = errors.New("embed error")

	// ErrStore marks a vector-store upsert failure. Fatal for the repo.
	ErrStore = errors.New("store error")

	// ErrMerge marks a root-merge failure in multi-repo mode. Reported;
	// per-repo artifacts remain valid.
	ErrMerge = errors.New("merge error")
)

// Is reports whether err wraps target anywhere in its chain. Thin
// wrapper kept so callers don't need a second import for errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}
