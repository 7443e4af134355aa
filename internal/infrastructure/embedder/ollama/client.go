package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/oryntel/docindex/internal/core/domain"
)

// Client embeds query text through an Ollama-compatible embedding endpoint.
// The model must produce vectors of the deployment's configured dimension.
type Client struct {
	baseURL    string
	model      string
	dimensions int
	httpClient *http.Client
}

func New(baseURL, model string, dimensions int) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		model:      model,
		dimensions: dimensions,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "embed query",
			fmt.Errorf("empty embedding result"))
	}
	if c.dimensions > 0 && len(vectors[0]) != c.dimensions {
		return nil, domain.WrapError(domain.ErrConfiguration, "embed query",
			fmt.Errorf("model returned %d dimensions, index expects %d", len(vectors[0]), c.dimensions))
	}
	return vectors[0], nil
}

func (c *Client) embed(ctx context.Context, texts []string) ([][]float32, error) {
	request := map[string]any{
		"model": c.model,
		"input": texts,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, domain.WrapError(domain.ErrTimeout, "embed request", err)
		}
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "embed request", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "embed request",
			fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(detail))))
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	return response.Embeddings, nil
}
