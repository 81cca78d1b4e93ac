// Package orchestrate implements the Orchestrator component (spec.md
// §4.E): it drives scan→parse/chunk→enrich→embed→store for a
// single repo or a staged multi-repo run, owns IndexState and the
// enrichment checkpoint, and merges per-repo outputs into a root index.
// Grounded on the teacher's internal/indexer package (indexer.go's
// phase sequencing, processor.go's dirty-file driven reprocessing,
// config.go's Config/Default shape) generalized from Cortex's
// single-repo model to spec.md's single+multi-repo orchestration.
package orchestrate

import (
	"github.com/coderag/coderag/internal/search"
)

// RepoConfig names one working tree to index.
type RepoConfig struct {
	Name string // used to namespace chunk ids and storage subdirectories
	Root string
}

// Config mirrors the shape of the teacher's config.Config (embedding,
// paths, chunking), extended with the storage root and the optional
// external repos that trigger the multi-repo path (spec.md §4.E.2:
// "Runs when the configuration names ≥1 external repo root").
type Config struct {
	StorageDir string

	// Repos lists the working trees to index. Exactly one entry selects
	// the single-repo path; two or more select the multi-repo path. The
	// first entry is conventionally the primary/local repo.
	Repos []RepoConfig

	CodePatterns   []string
	DocPatterns    []string
	IgnorePatterns []string

	MaxTokensPerChunk int

	EmbeddingModel      string
	EmbeddingDimensions int

	EnrichModel       string
	EnrichConcurrency int

	SearchWeights search.Weights

	// BacklogRefPattern is the regular expression used to scan code
	// chunks for textual backlog references (default "AB#<digits>"-style).
	BacklogRefPattern string
}

// DefaultConfig returns a Config with the teacher's own default code
// and doc glob patterns (internal/config/config.go's PathsConfig),
// widened to every language internal/parse supports.
func DefaultConfig() Config {
	return Config{
		StorageDir: ".coderag",
		CodePatterns: []string{
			"**/*.go", "**/*.ts", "**/*.tsx", "**/*.js", "**/*.jsx",
			"**/*.py", "**/*.rs", "**/*.c", "**/*.cpp", "**/*.cc",
			"**/*.h", "**/*.hpp", "**/*.php", "**/*.rb", "**/*.java",
		},
		DocPatterns: []string{"**/*.md", "**/*.mdx"},
		IgnorePatterns: []string{
			"node_modules/**", "vendor/**", ".git/**", "dist/**",
			"build/**", "target/**", "__pycache__/**",
		},
		MaxTokensPerChunk:   2000,
		EmbeddingDimensions: 384,
		EnrichConcurrency:   4,
		SearchWeights:       search.DefaultWeights,
	}
}

// Options is the invocation surface from spec.md §6: `index(options)`.
type Options struct {
	Full  bool
	Quiet bool
}
