// Package depgraph implements the DependencyGraph component (spec.md
// §3, §4.D): a plain directed graph of files/symbols/backlog items,
// stored as a node array + edge array (never a pointer-linked
// structure, since the graph may be cyclic). Grounded on the teacher's
// internal/graph package (types.go's Node/Edge/GraphData shape,
// builder.go's incremental-update algorithm), adapted to use
// dominikbraun/graph for in-memory traversal/cycle-tolerant storage and
// maypok86/otter to cache node lookups during a run, per SPEC_FULL.md §11.
package depgraph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/dominikbraun/graph"
	"github.com/maypok86/otter"
)

// NodeKind classifies a DependencyGraph node.
type NodeKind string

const (
	NodeFile    NodeKind = "file"
	NodeSymbol  NodeKind = "symbol"
	NodeBacklog NodeKind = "backlog"
)

// EdgeKind classifies a DependencyGraph edge.
type EdgeKind string

const (
	EdgeImports    EdgeKind = "imports"
	EdgeExtends    EdgeKind = "extends"
	EdgeImplements EdgeKind = "implements"
	EdgeCalls      EdgeKind = "calls"
	EdgeReferences EdgeKind = "references"
)

// Node is one entity in the graph: a file, a symbol declared in a
// file, or a backlog item.
type Node struct {
	ID       string   `json:"id"`
	FilePath string   `json:"filePath"`
	Symbols  []string `json:"symbols,omitempty"`
	Type     NodeKind `json:"type"`
}

// Edge is a directed relationship between two nodes.
type Edge struct {
	Source string   `json:"source"`
	Target string   `json:"target"`
	Type   EdgeKind `json:"type"`
}

// Data is the JSON-serializable shape of graph.json.
type Data struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Graph is an in-memory, possibly-cyclic directed graph of Nodes and
// Edges. It is built fresh per run (§5: owned by one goroutine-
// equivalent at a time) and serialized to graph.json at the end.
type Graph struct {
	g       graph.Graph[string, Node]
	edges   map[edgeKey]Edge
	lookup  otter.Cache[string, Node]
}

type edgeKey struct {
	source, target string
	kind           EdgeKind
}

func nodeHash(n Node) string { return n.ID }

// New returns an empty Graph.
func New() *Graph {
	cache, err := otter.MustBuilder[string, Node](4096).Build()
	if err != nil {
		// otter's in-process cache construction only fails on invalid
		// capacity; 4096 is always valid, so this cannot happen.
		panic(err)
	}
	return &Graph{
		g:      graph.New(nodeHash, graph.Directed()),
		edges:  make(map[edgeKey]Edge),
		lookup: cache,
	}
}

// node resolves id through the otter read-through cache before
// falling back to the graph's own vertex store, mirroring the
// teacher's fileCache read-through pattern in graph/searcher.go.
func (gr *Graph) node(id string) (Node, bool) {
	if v, ok := gr.lookup.Get(id); ok {
		return v, true
	}
	v, err := gr.g.Vertex(id)
	if err != nil {
		return Node{}, false
	}
	gr.lookup.Set(id, v)
	return v, true
}

// AddNode inserts a node, coalescing with any existing node of the
// same id (spec.md §3: duplicate nodes are coalesced on insert).
func (gr *Graph) AddNode(n Node) {
	if _, err := gr.g.Vertex(n.ID); err == nil {
		_ = gr.g.RemoveVertex(n.ID)
	}
	_ = gr.g.AddVertex(n)
	gr.lookup.Set(n.ID, n)
}

// AddEdge inserts an edge once both endpoints exist as nodes; it is a
// no-op (silently dropped, per §4.D "edges referencing nodes outside
// the kept + new sets are dropped") when either endpoint is missing.
// Duplicate edges are coalesced.
func (gr *Graph) AddEdge(e Edge) {
	if _, ok := gr.node(e.Source); !ok {
		return
	}
	if _, ok := gr.node(e.Target); !ok {
		return
	}
	key := edgeKey{e.Source, e.Target, e.Type}
	if _, ok := gr.edges[key]; ok {
		return
	}
	gr.edges[key] = e
	_ = gr.g.AddEdge(e.Source, e.Target)
}

// HasNode reports whether id names an existing node.
func (gr *Graph) HasNode(id string) bool {
	_, ok := gr.node(id)
	return ok
}

// RemoveNodesForFiles drops every node whose FilePath is in filePaths
// along with every edge incident to a dropped node, per the §4.D
// incremental DependencyGraph update algorithm.
func (gr *Graph) RemoveNodesForFiles(filePaths map[string]bool) {
	adjacency, _ := gr.g.AdjacencyMap()
	drop := make(map[string]bool)
	for id := range adjacency {
		v, ok := gr.node(id)
		if !ok {
			continue
		}
		if filePaths[v.FilePath] {
			drop[id] = true
		}
	}

	for key, e := range gr.edges {
		if drop[e.Source] || drop[e.Target] {
			_ = gr.g.RemoveEdge(e.Source, e.Target)
			delete(gr.edges, key)
		}
	}
	for id := range drop {
		_ = gr.g.RemoveVertex(id)
		gr.lookup.Delete(id)
	}
}

// Merge inserts every node and edge from other into gr (used both for
// the incremental "insert freshly built graph" step and for the
// multi-repo root-merge step, §4.E.2).
func (gr *Graph) Merge(other *Graph) {
	data := other.Export()
	for _, n := range data.Nodes {
		gr.AddNode(n)
	}
	for _, e := range data.Edges {
		gr.AddEdge(e)
	}
}

// Export renders the graph as Data with stable ordering: nodes and
// edges both sorted by id/(source,target,type), satisfying the
// determinism property in spec.md §8.
func (gr *Graph) Export() Data {
	adjacency, _ := gr.g.AdjacencyMap()
	nodes := make([]Node, 0, len(adjacency))
	for id := range adjacency {
		v, ok := gr.node(id)
		if !ok {
			continue
		}
		nodes = append(nodes, v)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	edges := make([]Edge, 0, len(gr.edges))
	for _, e := range gr.edges {
		edges = append(edges, e)
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		if edges[i].Target != edges[j].Target {
			return edges[i].Target < edges[j].Target
		}
		return edges[i].Type < edges[j].Type
	})

	return Data{Nodes: nodes, Edges: edges}
}

// Load reads graph.json from path. A missing file yields an empty Graph.
func Load(path string) (*Graph, error) {
	gr := New()
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return gr, nil
	}
	if err != nil {
		return nil, fmt.Errorf("depgraph: load %s: %w", path, err)
	}
	var data Data
	if err := json.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("depgraph: decode %s: %w", path, err)
	}
	for _, n := range data.Nodes {
		gr.AddNode(n)
	}
	for _, e := range data.Edges {
		gr.AddEdge(e)
	}
	return gr, nil
}

// Save atomically writes graph.json (write-to-temp + rename, per
// spec.md §4.D write atomicity).
func (gr *Graph) Save(path string) error {
	data := gr.Export()
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("depgraph: encode: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".graph-*.json.tmp")
	if err != nil {
		return fmt.Errorf("depgraph: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("depgraph: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("depgraph: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("depgraph: rename temp file: %w", err)
	}
	return nil
}
