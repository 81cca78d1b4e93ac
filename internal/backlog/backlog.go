// Package backlog implements the optional backlog-item extension
// (spec.md §4.E.3): it fetches external work items through a
// WorkItemProvider, turns each into a Markdown "doc" chunk, and links
// it into the dependency graph. Grounded on the teacher's
// internal/embed/local.go HTTP-client pattern (net/http.Client with a
// fixed timeout, JSON request/response) for the default HTTP-backed
// provider, and on the teacher's change_detector.go hash-based dirty
// check for backlog-state.json's incremental skip.
package backlog

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/coderag/coderag/internal/chunkmodel"
)

// Item is one external work item, per spec.md §6.
type Item struct {
	ExternalID       string         `json:"externalId"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	Type             string         `json:"type"`
	State            string         `json:"state"`
	AssignedTo       string         `json:"assignedTo,omitempty"`
	Tags             []string       `json:"tags,omitempty"`
	LinkedCodePaths  []string       `json:"linkedCodePaths,omitempty"`
	URL              string         `json:"url,omitempty"`
	Metadata         map[string]any `json:"metadata,omitempty"`
}

// Provider is the WorkItemProvider external collaborator (spec.md §6).
type Provider interface {
	Initialize(ctx context.Context, config map[string]string) error
	GetItems(ctx context.Context, query string) ([]Item, error)
}

// HTTPProvider is a reference WorkItemProvider implementation backed by
// a JSON HTTP endpoint, grounded on the teacher's local embedding
// provider's http.Client usage.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvider returns a Provider that calls baseURL+"/items?q=...".
func NewHTTPProvider() *HTTPProvider {
	return &HTTPProvider{client: &http.Client{Timeout: 30 * time.Second}}
}

func (p *HTTPProvider) Initialize(ctx context.Context, config map[string]string) error {
	baseURL, ok := config["baseURL"]
	if !ok || baseURL == "" {
		return fmt.Errorf("backlog: HTTPProvider requires a baseURL config value")
	}
	p.baseURL = baseURL
	return nil
}

func (p *HTTPProvider) GetItems(ctx context.Context, query string) ([]Item, error) {
	url := fmt.Sprintf("%s/items?q=%s", p.baseURL, query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("backlog: build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backlog: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("backlog: unexpected status %d", resp.StatusCode)
	}

	var items []Item
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("backlog: decode response: %w", err)
	}
	return items, nil
}

// Hash hashes the fields the incremental-skip check tracks
// (title/description/state/…), so editing the item's content (not just
// its metadata) is what triggers re-indexing.
func Hash(item Item) string { return hashItem(item) }

func hashItem(item Item) string {
	h := sha256.New()
	h.Write([]byte(item.Title))
	h.Write([]byte(item.Description))
	h.Write([]byte(item.State))
	h.Write([]byte(item.AssignedTo))
	for _, tag := range item.Tags {
		h.Write([]byte(tag))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// State is the backlog-state.json shape: externalId -> content hash.
type State map[string]string

// ChunkID returns the id scheme for a backlog item's chunk: "backlog:<externalId>".
func ChunkID(externalID string) string {
	return "backlog:" + externalID
}

// Dirty reports whether item has changed since the last recorded hash.
func (s State) Dirty(item Item) bool {
	h, ok := s[item.ExternalID]
	return !ok || h != hashItem(item)
}

// ToChunk serializes an Item as a Markdown "doc" chunk (spec.md §4.E.3).
func ToChunk(item Item) chunkmodel.Chunk {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", item.Title)
	if item.State != "" {
		fmt.Fprintf(&b, "State: %s\n\n", item.State)
	}
	if item.AssignedTo != "" {
		fmt.Fprintf(&b, "Assigned to: %s\n\n", item.AssignedTo)
	}
	if len(item.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: %s\n\n", strings.Join(item.Tags, ", "))
	}
	b.WriteString(item.Description)

	return chunkmodel.Chunk{
		ID:       ChunkID(item.ExternalID),
		Content:  b.String(),
		Language: "markdown",
		Metadata: chunkmodel.Metadata{
			ChunkType: chunkmodel.ChunkTypeBacklog,
			Name:      item.ExternalID,
			DocTitle:  item.Title,
			Tags:      item.Tags,
		},
	}
}

// backlogRefPattern matches the default textual-reference pattern
// (e.g. "AB#123") the Orchestrator scans code chunks for to add
// reverse references edges (spec.md §4.E.3). Configurable via
// NewRefPattern.
var backlogRefPattern = regexp.MustCompile(`\b[A-Z]{2,6}#\d+\b`)

// NewRefPattern compiles a custom backlog-reference regular
// expression, falling back to the default pattern (2-6 capital
// letters, "#", digits, e.g. "AB#123") when pattern is empty.
func NewRefPattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return backlogRefPattern, nil
	}
	return regexp.Compile(pattern)
}

// FindReferences returns each distinct match of pattern in text, in
// order of first appearance, as the full matched text (e.g. "AB#123",
// not "123"); callers compare it against the provider's own externalId
// format.
func FindReferences(pattern *regexp.Regexp, text string) []string {
	matches := pattern.FindAllString(text, -1)
	seen := make(map[string]bool)
	var refs []string
	for _, m := range matches {
		if !seen[m] {
			seen[m] = true
			refs = append(refs, m)
		}
	}
	return refs
}

// EncodeState renders State as JSON for atomic persistence by the
// Orchestrator (which owns the storage directory and write-temp+rename
// discipline uniformly for every artifact).
func EncodeState(s State) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("backlog: encode state: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeState parses backlog-state.json, returning an empty State for
// absent/empty input.
func DecodeState(b []byte) (State, error) {
	s := make(State)
	if len(b) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("backlog: decode state: %w", err)
	}
	return s, nil
}
