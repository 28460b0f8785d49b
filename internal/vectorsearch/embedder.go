package vectorsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// VoyageEmbedderConfig configures the embedding provider used to
// convert alert text into the vector space the tooltask index was
// built over. Voyage AI is Anthropic's recommended embedding
// provider; no Go client for it ships in the ecosystem the rest of
// this service draws from, so the call is a small hand-rolled REST
// client in the same shape as the task store's own client.
type VoyageEmbedderConfig struct {
	BaseURL string // default: https://api.voyageai.com/v1
	APIKey  string
	Model   string // default: voyage-3
	Timeout time.Duration
}

// VoyageEmbedder implements Embedder against the Voyage AI embeddings
// endpoint.
type VoyageEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewVoyageEmbedder returns an Embedder backed by Voyage AI.
func NewVoyageEmbedder(cfg VoyageEmbedderConfig, logger *slog.Logger) *VoyageEmbedder {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.voyageai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = "voyage-3"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &VoyageEmbedder{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "voyage_embedder"),
	}
}

type voyageEmbedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type voyageEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed converts text into a dense vector via a single-input call to
// the Voyage AI embeddings endpoint.
func (e *VoyageEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody, err := json.Marshal(voyageEmbedRequest{Input: []string{text}, Model: e.model})
	if err != nil {
		return nil, fmt.Errorf("voyage embedder: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("voyage embedder: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("voyage embedder: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("voyage embedder: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("voyage embedder: status %d: %s", resp.StatusCode, string(body))
	}

	var parsed voyageEmbedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("voyage embedder: parse response: %w", err)
	}
	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("voyage embedder: empty embedding response")
	}

	return parsed.Data[0].Embedding, nil
}
