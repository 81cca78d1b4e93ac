// Package chunk implements the Chunker component (spec.md §4.B): it
// turns a parsed AST (internal/parse.ParsedFile) or a Markdown document
// into bounded-size Chunks with stable ids. Grounded on the teacher's
// internal/indexer/chunker.go (doc mode: header + paragraph + sentence
// splitting, never inside a code fence) and internal/indexer/parser.go's
// declaration walk (code mode).
package chunk

import (
	"fmt"
	"strings"

	"github.com/coderag/coderag/internal/chunkmodel"
	"github.com/coderag/coderag/internal/parse"
)

// Chunker turns parsed files and documentation into Chunks, splitting
// anything over maxTokensPerChunk into ordered sub-chunks.
type Chunker struct {
	maxTokensPerChunk int
}

// New returns a Chunker with the given token budget per chunk
// (estimated as ceil(bytes/4), per spec.md §4.B).
func New(maxTokensPerChunk int) *Chunker {
	if maxTokensPerChunk <= 0 {
		maxTokensPerChunk = 2000
	}
	return &Chunker{maxTokensPerChunk: maxTokensPerChunk}
}

// estimateTokens approximates a token count as ceil(bytes/4).
func estimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// ParseErrorDetail is surfaced to the Orchestrator when a file's
// content could not be chunked.
type ParseErrorDetail struct {
	File   string
	Reason string
}

// ChunkCodeFile turns a successfully parsed file into Chunks. relPath
// is the file's path relative to the scan root, used to build chunk
// ids ("file:<relpath>::<kind>::<name>").
func (c *Chunker) ChunkCodeFile(relPath string, pf *parse.ParsedFile) []chunkmodel.Chunk {
	var chunks []chunkmodel.Chunk
	for _, decl := range pf.RootDeclarations {
		chunks = append(chunks, c.chunkDeclaration(relPath, pf.Language, decl)...)
		for _, child := range decl.Children {
			chunks = append(chunks, c.chunkDeclaration(relPath, pf.Language, child)...)
		}
	}
	return chunks
}

func (c *Chunker) chunkDeclaration(relPath, language string, decl parse.Declaration) []chunkmodel.Chunk {
	chunkType := declKindToChunkType(decl.Kind)
	baseID := fmt.Sprintf("file:%s::%s::%s", relPath, chunkType, decl.Name)

	if estimateTokens(decl.Content) <= c.maxTokensPerChunk {
		return []chunkmodel.Chunk{{
			ID:        baseID,
			Content:   decl.Content,
			FilePath:  relPath,
			StartLine: decl.StartLine,
			EndLine:   decl.EndLine,
			Language:  language,
			Metadata: chunkmodel.Metadata{
				ChunkType: chunkType,
				Name:      decl.Name,
			},
		}}
	}

	return c.splitOversizeContent(relPath, language, chunkType, decl.Name, baseID, decl.Content, decl.StartLine, 1)
}

// splitOversizeContent splits an oversize declaration into ordered,
// contiguous, non-overlapping sub-chunks whose union covers the
// original text (spec.md §4.B boundary property). startSub numbers the
// first sub-chunk; callers that split multiple oversize pieces under
// the same baseID (e.g. several oversize paragraph groups within one
// doc section) must pass a running counter so ids stay unique.
func (c *Chunker) splitOversizeContent(relPath, language string, chunkType chunkmodel.ChunkType, name, baseID, content string, firstLine, startSub int) []chunkmodel.Chunk {
	lines := strings.Split(content, "\n")
	var chunks []chunkmodel.Chunk

	// Greedily pack lines until the token budget per sub-chunk is hit.
	start := 0
	sub := startSub
	for start < len(lines) {
		end := start
		size := 0
		for end < len(lines) {
			lineTokens := estimateTokens(lines[end])
			if end > start && size+lineTokens > c.maxTokensPerChunk {
				break
			}
			size += lineTokens
			end++
		}
		if end == start {
			end = start + 1 // a single oversize line still makes progress
		}

		text := strings.Join(lines[start:end], "\n")
		chunks = append(chunks, chunkmodel.Chunk{
			ID:        fmt.Sprintf("%s#%d", baseID, sub),
			Content:   text,
			FilePath:  relPath,
			StartLine: firstLine + start,
			EndLine:   firstLine + end - 1,
			Language:  language,
			Metadata: chunkmodel.Metadata{
				ChunkType: chunkType,
				Name:      fmt.Sprintf("%s#%d", name, sub),
			},
		})

		start = end
		sub++
	}
	return chunks
}

func declKindToChunkType(k parse.DeclKind) chunkmodel.ChunkType {
	switch k {
	case parse.DeclFunction:
		return chunkmodel.ChunkTypeFunction
	case parse.DeclClass:
		return chunkmodel.ChunkTypeClass
	case parse.DeclInterface:
		return chunkmodel.ChunkTypeInterface
	case parse.DeclMethod:
		return chunkmodel.ChunkTypeMethod
	default:
		return chunkmodel.ChunkTypeFunction
	}
}
