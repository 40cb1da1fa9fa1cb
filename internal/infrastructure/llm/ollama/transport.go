package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/kirillkom/witness-retrieval/internal/core/domain"
	"github.com/kirillkom/witness-retrieval/internal/infrastructure/resilience"
)

// A 768-dim batch of 64 vectors is about 1MiB of JSON.
const maxEmbedResponseBytes = 32 << 20

type embedRequest struct {
	Model    string   `json:"model"`
	Input    []string `json:"input"`
	Truncate bool     `json:"truncate"`
}

type embedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float32 `json:"embeddings"`
}

// embed performs one /api/embed round trip. Inputs longer than the model context are
// truncated server side.
func (c *Client) embed(ctx context.Context, texts []string) (*embedResponse, error) {
	body, err := json.Marshal(embedRequest{Model: c.embedModel, Input: texts, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, resilience.NewHTTPStatusError("ollama", "embed", resp)
	}

	var out embedResponse
	dec := json.NewDecoder(io.LimitReader(resp.Body, maxEmbedResponseBytes))
	if err := dec.Decode(&out); err != nil {
		return nil, domain.WrapError(domain.ErrMalformedResponse, "decode embed response", err)
	}
	return &out, nil
}
