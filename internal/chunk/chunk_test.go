package chunk

import (
	"strings"
	"testing"

	"github.com/coderag/coderag/internal/parse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkCodeFile_OneChunkPerDeclaration(t *testing.T) {
	pf := &parse.ParsedFile{
		FilePath: "pkg/foo.go",
		Language: "go",
		RootDeclarations: []parse.Declaration{
			{
				Kind:      parse.DeclClass,
				Name:      "Widget",
				StartLine: 1,
				EndLine:   10,
				Content:   "type Widget struct{}",
				Children: []parse.Declaration{
					{Kind: parse.DeclMethod, Name: "Widget.Spin", StartLine: 12, EndLine: 14, Content: "func (w *Widget) Spin() {}"},
				},
			},
			{Kind: parse.DeclFunction, Name: "Helper", StartLine: 16, EndLine: 18, Content: "func Helper() {}"},
		},
	}

	c := New(2000)
	chunks := c.ChunkCodeFile("pkg/foo.go", pf)

	require.Len(t, chunks, 3)
	assert.Equal(t, "file:pkg/foo.go::class::Widget", chunks[0].ID)
	assert.Equal(t, "file:pkg/foo.go::method::Widget.Spin", chunks[1].ID)
	assert.Equal(t, "file:pkg/foo.go::function::Helper", chunks[2].ID)
}

func TestChunkCodeFile_SplitsOversizeDeclaration(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 50; i++ {
		b.WriteString("statement that takes up a fair amount of space on its line\n")
	}
	pf := &parse.ParsedFile{
		FilePath: "pkg/big.go",
		Language: "go",
		RootDeclarations: []parse.Declaration{
			{Kind: parse.DeclFunction, Name: "Big", StartLine: 1, EndLine: 50, Content: b.String()},
		},
	}

	c := New(50) // tiny budget forces a split
	chunks := c.ChunkCodeFile("pkg/big.go", pf)

	require.Greater(t, len(chunks), 1)
	assert.Equal(t, "file:pkg/big.go::function::Big#1", chunks[0].ID)
	assert.Equal(t, "file:pkg/big.go::function::Big#2", chunks[1].ID)

	// sub-chunks are contiguous and non-overlapping
	for i := 1; i < len(chunks); i++ {
		assert.Equal(t, chunks[i-1].EndLine+1, chunks[i].StartLine)
	}
}

func TestChunkDocFile_SplitsByHeading(t *testing.T) {
	md := "# Title\n\nIntro text.\n\n## Section A\n\nBody A.\n\n## Section B\n\nBody B.\n"

	c := New(2000)
	chunks := c.ChunkDocFile("docs/guide.md", md)

	require.Len(t, chunks, 3)
	assert.Equal(t, "Title", chunks[0].Metadata.DocTitle)
	assert.Equal(t, "Section A", chunks[1].Metadata.DocTitle)
	assert.Equal(t, "Section B", chunks[2].Metadata.DocTitle)
	assert.Contains(t, chunks[1].Content, "Body A.")
}

func TestChunkDocFile_IgnoresHeadingInsideFence(t *testing.T) {
	md := "# Title\n\n```\n# not a heading\n```\n\nmore text\n"

	c := New(2000)
	chunks := c.ChunkDocFile("docs/guide.md", md)

	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "# not a heading")
}

func TestChunkDocFile_SplitsOversizeSection(t *testing.T) {
	var b strings.Builder
	b.WriteString("# Title\n\n")
	for i := 0; i < 30; i++ {
		b.WriteString("This is a paragraph with enough words to cost several tokens.\n\n")
	}

	c := New(20)
	chunks := c.ChunkDocFile("docs/guide.md", b.String())

	require.Greater(t, len(chunks), 1)
	for _, ch := range chunks {
		assert.Equal(t, "Title", ch.Metadata.DocTitle)
	}
}

func TestChunkDocFile_MultipleOversizeGroupsHaveUniqueIDs(t *testing.T) {
	var b strings.Builder
	b.WriteString("# Title\n\n")
	for i := 0; i < 6; i++ {
		// Each paragraph alone exceeds the tiny budget, forcing
		// splitOversizeContent to run once per paragraph group.
		b.WriteString(strings.Repeat("word ", 40) + "\n\n")
	}

	c := New(10)
	chunks := c.ChunkDocFile("docs/guide.md", b.String())

	require.Greater(t, len(chunks), 2)
	seen := make(map[string]bool, len(chunks))
	for _, ch := range chunks {
		assert.False(t, seen[ch.ID], "duplicate chunk id %q", ch.ID)
		seen[ch.ID] = true
	}
}
