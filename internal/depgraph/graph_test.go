package depgraph

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraph_AddEdgeDropsDanglingEndpoints(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "file:a.go", FilePath: "a.go", Type: NodeFile})
	g.AddEdge(Edge{Source: "file:a.go", Target: "file:missing.go", Type: EdgeImports})

	data := g.Export()
	assert.Len(t, data.Edges, 0, "edge referencing a missing node must be dropped")
}

func TestGraph_CoalescesDuplicateNodesAndEdges(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "file:a.go", FilePath: "a.go", Type: NodeFile})
	g.AddNode(Node{ID: "file:b.go", FilePath: "b.go", Type: NodeFile})
	g.AddEdge(Edge{Source: "file:a.go", Target: "file:b.go", Type: EdgeImports})
	g.AddEdge(Edge{Source: "file:a.go", Target: "file:b.go", Type: EdgeImports})

	// Re-adding the same node id must not duplicate it.
	g.AddNode(Node{ID: "file:a.go", FilePath: "a.go", Type: NodeFile, Symbols: []string{"Foo"}})

	data := g.Export()
	require.Len(t, data.Nodes, 2)
	require.Len(t, data.Edges, 1)
}

func TestGraph_RemoveNodesForFilesDropsIncidentEdges(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "file:a.go", FilePath: "a.go", Type: NodeFile})
	g.AddNode(Node{ID: "file:b.go", FilePath: "b.go", Type: NodeFile})
	g.AddEdge(Edge{Source: "file:a.go", Target: "file:b.go", Type: EdgeImports})

	g.RemoveNodesForFiles(map[string]bool{"a.go": true})

	data := g.Export()
	require.Len(t, data.Nodes, 1)
	assert.Equal(t, "file:b.go", data.Nodes[0].ID)
	assert.Len(t, data.Edges, 0)
}

func TestGraph_SaveLoadRoundTrip(t *testing.T) {
	g := New()
	g.AddNode(Node{ID: "file:a.go", FilePath: "a.go", Type: NodeFile})
	g.AddNode(Node{ID: "sym:a.go::Foo", FilePath: "a.go", Type: NodeSymbol})
	g.AddEdge(Edge{Source: "file:a.go", Target: "sym:a.go::Foo", Type: EdgeCalls})

	dir := t.TempDir()
	path := filepath.Join(dir, "graph.json")
	require.NoError(t, g.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, g.Export(), loaded.Export())

	_, statErr := os.Stat(path)
	require.NoError(t, statErr)
}

func TestGraph_LoadMissingFileIsEmpty(t *testing.T) {
	g, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	assert.Empty(t, g.Export().Nodes)
	assert.Empty(t, g.Export().Edges)
}

func TestGraph_MergeUnionsTwoGraphs(t *testing.T) {
	a := New()
	a.AddNode(Node{ID: "file:a.go", FilePath: "a.go", Type: NodeFile})
	b := New()
	b.AddNode(Node{ID: "file:b.go", FilePath: "b.go", Type: NodeFile})
	b.AddEdge(Edge{Source: "file:b.go", Target: "file:b.go", Type: EdgeImports})

	root := New()
	root.Merge(a)
	root.Merge(b)

	data := root.Export()
	assert.Len(t, data.Nodes, 2)
	assert.Len(t, data.Edges, 1)
}
