package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"
)

// OpenAI is an embeddings client for the OpenAI-compatible /embeddings
// endpoint.
type OpenAI struct {
	baseURL string
	apiKey  string
	model   string
	dim     int
	client  *http.Client
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	// Dimension is the requested output dimensionality. Every vector index
	// built from this client is initialized for exactly this dimension.
	Dimension int
	Timeout   time.Duration
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &OpenAI{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		dim:     cfg.Dimension,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (o *OpenAI) Dimension() int { return o.dim }

func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := o.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

type embedRequest struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (o *OpenAI) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(embedRequest{Input: texts, Model: o.model, Dimensions: o.dim})
	if err != nil {
		return nil, &ProviderError{Op: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Op: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Op: "api call", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ProviderError{Op: "read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{
			Op:  "api call",
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(respBody), 200)),
		}
	}

	var out embedResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &ProviderError{Op: "unmarshal response", Err: err}
	}
	if len(out.Data) != len(texts) {
		return nil, &ProviderError{
			Op:  "unmarshal response",
			Err: fmt.Errorf("got %d embeddings for %d inputs", len(out.Data), len(texts)),
		}
	}

	// The API is free to reorder; restore input order by index.
	sort.Slice(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })

	vecs := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		if o.dim > 0 && len(d.Embedding) != o.dim {
			return nil, &ProviderError{
				Op:  "unmarshal response",
				Err: fmt.Errorf("vector %d has dimension %d, want %d", i, len(d.Embedding), o.dim),
			}
		}
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
