// Package llmhttp provides HTTP JSON-backed implementations of the
// EmbeddingProvider and LLM client external collaborators (spec.md §6),
// for the CLI to wire into an Orchestrator without depending on any
// specific vendor SDK. Grounded on the teacher's internal/embed/local.go
// http.Client usage pattern.
package llmhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// EmbeddingProvider calls a "/embed" JSON endpoint returning one dense
// vector per input text, in order.
type EmbeddingProvider struct {
	baseURL    string
	dimensions int
	client     *http.Client
}

// NewEmbeddingProvider returns a provider backed by baseURL, fixed at
// dimensions-wide vectors (spec.md §4.D: a dimension mismatch against
// config is a fatal configuration error, checked by the caller).
func NewEmbeddingProvider(baseURL string, dimensions int) *EmbeddingProvider {
	return &EmbeddingProvider{baseURL: baseURL, dimensions: dimensions, client: &http.Client{Timeout: 30 * time.Second}}
}

func (p *EmbeddingProvider) Dimensions() int { return p.dimensions }

type embedRequest struct {
	Texts []string `json:"texts"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (p *EmbeddingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(embedRequest{Texts: texts})
	if err != nil {
		return nil, fmt.Errorf("llmhttp: encode embed request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llmhttp: build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llmhttp: embed request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("llmhttp: embed server returned status %d", resp.StatusCode)
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("llmhttp: decode embed response: %w", err)
	}
	return out.Embeddings, nil
}

// LLMClient calls a "/generate" JSON endpoint, implementing the
// enrich.LLMClient / search.LLMClient interface.
type LLMClient struct {
	baseURL string
	client  *http.Client
}

func NewLLMClient(baseURL string) *LLMClient {
	return &LLMClient{baseURL: baseURL, client: &http.Client{Timeout: 30 * time.Second}}
}

type generateRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func (c *LLMClient) Generate(ctx context.Context, prompt, model string) (string, error) {
	body, err := json.Marshal(generateRequest{Prompt: prompt, Model: model})
	if err != nil {
		return "", fmt.Errorf("llmhttp: encode generate request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llmhttp: build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("llmhttp: generate request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llmhttp: generate server returned status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("llmhttp: decode generate response: %w", err)
	}
	return out.Response, nil
}

func (c *LLMClient) IsAvailable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
