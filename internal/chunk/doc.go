package chunk

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/coderag/coderag/internal/chunkmodel"
)

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)
var fencePattern = regexp.MustCompile("^\\s*(```|~~~)")

// docSection is one heading's worth of content, tracked while scanning
// a markdown file top to bottom.
type docSection struct {
	title     string
	startLine int
	endLine   int
	lines     []string
}

// ChunkDocFile splits a Markdown document into one Chunk per heading
// section, falling back to a single untitled section for any content
// that precedes the first heading. Oversize sections are split with
// the same line-packing rule code declarations use. Grounded on the
// teacher's internal/indexer/chunker.go header-split pass, which also
// never splits inside a fenced code block.
func (c *Chunker) ChunkDocFile(relPath, content string) []chunkmodel.Chunk {
	sections := splitByHeading(content)

	var chunks []chunkmodel.Chunk
	for _, sec := range sections {
		text := strings.Join(sec.lines, "\n")
		if strings.TrimSpace(text) == "" {
			continue
		}

		name := sec.title
		if name == "" {
			name = relPath
		}
		baseID := fmt.Sprintf("file:%s::%s::%s", relPath, chunkmodel.ChunkTypeDoc, name)

		if estimateTokens(text) <= c.maxTokensPerChunk {
			chunks = append(chunks, chunkmodel.Chunk{
				ID:        baseID,
				Content:   text,
				FilePath:  relPath,
				StartLine: sec.startLine,
				EndLine:   sec.endLine,
				Language:  "markdown",
				Metadata: chunkmodel.Metadata{
					ChunkType: chunkmodel.ChunkTypeDoc,
					Name:      name,
					DocTitle:  sec.title,
				},
			})
			continue
		}

		for _, sub := range c.splitDocSection(relPath, name, sec.title, baseID, text, sec.startLine) {
			chunks = append(chunks, sub)
		}
	}
	return chunks
}

// splitByHeading walks the document line by line, starting a new
// section at every top-level-or-nested heading line, while never
// treating a "#" inside a fenced code block as a heading.
func splitByHeading(content string) []docSection {
	lines := strings.Split(content, "\n")
	var sections []docSection
	cur := docSection{startLine: 1}
	inFence := false

	flush := func(endLine int) {
		if len(cur.lines) > 0 {
			cur.endLine = endLine
			sections = append(sections, cur)
		}
	}

	for i, line := range lines {
		lineNo := i + 1
		if fencePattern.MatchString(line) {
			inFence = !inFence
			cur.lines = append(cur.lines, line)
			continue
		}
		if !inFence {
			if m := headingPattern.FindStringSubmatch(line); m != nil {
				flush(lineNo - 1)
				cur = docSection{title: strings.TrimSpace(m[2]), startLine: lineNo}
				cur.lines = append(cur.lines, line)
				continue
			}
		}
		cur.lines = append(cur.lines, line)
	}
	flush(len(lines))
	return sections
}

// splitDocSection splits an oversize section by paragraph (blank-line
// runs), falling back to the line-packing splitter from code chunks
// when a single paragraph alone exceeds the budget.
func (c *Chunker) splitDocSection(relPath, name, title, baseID, text string, firstLine int) []chunkmodel.Chunk {
	paras := strings.Split(text, "\n\n")
	var chunks []chunkmodel.Chunk
	sub := 1
	line := firstLine

	flushParaGroup := func(group []string) {
		if len(group) == 0 {
			return
		}
		groupText := strings.Join(group, "\n\n")
		groupLines := strings.Count(groupText, "\n") + 1
		if estimateTokens(groupText) <= c.maxTokensPerChunk {
			chunks = append(chunks, chunkmodel.Chunk{
				ID:        fmt.Sprintf("%s#%d", baseID, sub),
				Content:   groupText,
				FilePath:  relPath,
				StartLine: line,
				EndLine:   line + groupLines - 1,
				Language:  "markdown",
				Metadata: chunkmodel.Metadata{
					ChunkType: chunkmodel.ChunkTypeDoc,
					Name:      fmt.Sprintf("%s#%d", name, sub),
					DocTitle:  title,
				},
			})
		} else {
			pieces := c.splitOversizeContent(relPath, "markdown", chunkmodel.ChunkTypeDoc, name, baseID, groupText, line, sub)
			for _, piece := range pieces {
				piece.Metadata.DocTitle = title
				chunks = append(chunks, piece)
			}
			sub += len(pieces)
			line += groupLines + 1 // account for the blank-line separator
			return
		}
		line += groupLines + 1 // account for the blank-line separator
		sub++
	}

	var group []string
	size := 0
	for _, p := range paras {
		pTokens := estimateTokens(p)
		if len(group) > 0 && size+pTokens > c.maxTokensPerChunk {
			flushParaGroup(group)
			group = nil
			size = 0
		}
		group = append(group, p)
		size += pTokens
	}
	flushParaGroup(group)

	return chunks
}
