// Package scan walks a working tree honoring ignore patterns and emits
// (path, content, content-hash) triples for the Chunker. Grounded on
// the teacher's internal/indexer/discovery.go FileDiscovery, generalized
// to real gitignore semantics (last-match-wins, negation, directory
// trailing slash) via go-git's gitignore matcher, plus the
// .coderagignore overlay and built-in deny list from spec.md §4.A.
package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/gobwas/glob"
)

// defaultDenyList is always ignored regardless of .gitignore contents.
var defaultDenyList = []string{"node_modules", ".git", ".coderag", "dist", "build"}

// File is one scanned file: its relative path, UTF-8 content, and a
// stable content hash.
type File struct {
	Path        string
	Content     string
	ContentHash string
}

// SkippedFile records a file the Scanner declined to read along with
// the reason (e.g. non-UTF-8 content).
type SkippedFile struct {
	Path   string
	Reason string
}

// Error wraps a failure to walk the root directory itself. Per-file
// read errors are never fatal; they become SkippedFile entries.
type Error struct {
	Root string
	Err  error
}

func (e *Error) Error() string { return fmt.Sprintf("scan %s: %v", e.Root, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Scanner walks a root directory honoring ignore rules assembled from
// a built-in deny list, the repo's .gitignore, and a .coderagignore
// overlay, with gitignore last-match-wins/negation semantics.
type Scanner struct {
	root           string
	codeMatchers   []glob.Glob
	docMatchers    []glob.Glob
	ignoreMatcher  gitignore.Matcher
}

// New builds a Scanner for root, matching codePatterns/docsPatterns
// (gitignore-style globs, '/' separated) and applying ignorePatterns on
// top of the built-in deny list and any .gitignore/.coderagignore files
// found under root.
func New(root string, codePatterns, docsPatterns, extraIgnorePatterns []string) (*Scanner, error) {
	s := &Scanner{root: root}

	for _, p := range codePatterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("compile code pattern %q: %w", p, err)
		}
		s.codeMatchers = append(s.codeMatchers, g)
	}
	for _, p := range docsPatterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, fmt.Errorf("compile docs pattern %q: %w", p, err)
		}
		s.docMatchers = append(s.docMatchers, g)
	}

	patterns := make([]gitignore.Pattern, 0, len(defaultDenyList)+len(extraIgnorePatterns))
	for _, d := range defaultDenyList {
		patterns = append(patterns, gitignore.ParsePattern(d+"/", nil))
	}
	patterns = append(patterns, readIgnoreFile(filepath.Join(root, ".gitignore"))...)
	patterns = append(patterns, readIgnoreFile(filepath.Join(root, ".coderagignore"))...)
	for _, p := range extraIgnorePatterns {
		patterns = append(patterns, gitignore.ParsePattern(p, nil))
	}
	s.ignoreMatcher = gitignore.NewMatcher(patterns)

	return s, nil
}

// readIgnoreFile parses a gitignore-format file into patterns; a
// missing file yields no patterns (not an error — most repos lack a
// .coderagignore).
func readIgnoreFile(path string) []gitignore.Pattern {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var patterns []gitignore.Pattern
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	return patterns
}

// Scan walks the root directory and returns the code files and doc
// files that survive the ignore rules, plus any files skipped for
// being non-UTF-8 (never fatal). It fails only if the root itself
// cannot be walked.
func (s *Scanner) Scan() (code, docs []File, skipped []SkippedFile, err error) {
	walkErr := filepath.Walk(s.root, func(path string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		relPath, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return relErr
		}
		if relPath == "." {
			return nil
		}
		relPath = filepath.ToSlash(relPath)
		parts := strings.Split(relPath, "/")

		if info.IsDir() {
			if s.ignoreMatcher.Match(parts, true) {
				return filepath.SkipDir
			}
			return nil
		}

		if s.ignoreMatcher.Match(parts, false) {
			return nil
		}

		isCode := matchesAny(relPath, s.codeMatchers)
		isDoc := !isCode && matchesAny(relPath, s.docMatchers)
		if !isCode && !isDoc {
			return nil
		}

		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			skipped = append(skipped, SkippedFile{Path: relPath, Reason: readErr.Error()})
			return nil
		}
		if !utf8.Valid(raw) {
			skipped = append(skipped, SkippedFile{Path: relPath, Reason: "non-UTF-8 content"})
			return nil
		}

		f := File{Path: relPath, Content: string(raw), ContentHash: hashContent(raw)}
		if isCode {
			code = append(code, f)
		} else {
			docs = append(docs, f)
		}
		return nil
	})
	if walkErr != nil {
		return nil, nil, nil, &Error{Root: s.root, Err: walkErr}
	}
	return code, docs, skipped, nil
}

func matchesAny(path string, matchers []glob.Glob) bool {
	for _, m := range matchers {
		// gobwas/glob's "**/" needs at least one separator to match, so a
		// file at the root ("main.go") is also tried as "/main.go".
		if m.Match(path) || m.Match("/"+path) {
			return true
		}
	}
	return false
}

// hashContent returns the SHA-256 digest of raw bytes, hex-encoded.
// Stable across runs, unaffected by inode metadata (spec.md §4.A).
func hashContent(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
