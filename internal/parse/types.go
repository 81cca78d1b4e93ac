// Package parse implements the Parser collaborator from spec.md §6: it
// turns a file's content into a tree of top-level Declarations that the
// Chunker splits into Chunks. Go files are parsed with go/ast (as the
// teacher's parser.go does); the remaining languages go through a
// tree-sitter-backed parser modeled on the teacher's
// internal/indexer/parsers package.
package parse

import "fmt"

// DeclKind is the syntactic kind of a top-level declaration.
type DeclKind string

const (
	DeclFunction  DeclKind = "function"
	DeclClass     DeclKind = "class"
	DeclInterface DeclKind = "interface"
	DeclMethod    DeclKind = "method"
)

// Declaration is one syntactic unit the Chunker may turn into a Chunk.
// Methods are nested under their owning class/interface as Children so
// the Chunker can stamp method chunk names as "Class.method".
type Declaration struct {
	Kind      DeclKind
	Name      string
	StartLine int
	EndLine   int
	Content   string
	Children  []Declaration
}

// ParsedFile is the result of successfully parsing a source file.
type ParsedFile struct {
	FilePath         string
	Language         string
	RootDeclarations []Declaration
}

// ErrUnsupportedFileType is returned by Parse when no parser recognizes
// the file's language. The Chunker/Orchestrator treats this as a skip,
// never an error.
type ErrUnsupportedFileType struct {
	FilePath string
}

func (e *ErrUnsupportedFileType) Error() string {
	return fmt.Sprintf("unsupported file type: %s", e.FilePath)
}

// ParseError is a syntactic parse failure. The Orchestrator records it
// as a per-file detail and produces zero chunks for the file, but the
// file's FileState is still recorded so it isn't reattempted until its
// content changes (spec.md §4.B).
type ParseError struct {
	FilePath string
	Reason   string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %s", e.FilePath, e.Reason)
}

// Parser extracts a Declaration tree from a source file, per spec.md §6.
type Parser interface {
	Parse(filePath, content string) (*ParsedFile, error)
}
