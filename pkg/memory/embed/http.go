package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/genio-systems/genio-memory/pkg/memory/model"
)

// DefaultEmbedTimeout bounds one call to the embed-head service.
const DefaultEmbedTimeout = 20 * time.Second

// HTTPEmbedder calls an embed-head service speaking the minimal contract
// POST {"text": ...} -> {"vector": [...]}. It is stateless and safe for
// concurrent use; failures carry model.ErrEmbedding with the cause attached.
// The embedder never retries; that choice belongs to the caller.
type HTTPEmbedder struct {
	endpoint string
	client   *http.Client
}

// NewHTTPEmbedder creates a client for the given embed endpoint. A zero
// timeout selects DefaultEmbedTimeout.
func NewHTTPEmbedder(endpoint string, timeout time.Duration) *HTTPEmbedder {
	if timeout <= 0 {
		timeout = DefaultEmbedTimeout
	}
	return &HTTPEmbedder{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
	}
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Vector []float32 `json:"vector"`
}

// Embed forwards the text as-is (empty text included) and returns the vector.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Text: text})
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", model.ErrEmbedding, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: new request: %v", model.ErrEmbedding, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrEmbedding, err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: embed head returned http %d: %s",
			model.ErrEmbedding, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var out embedResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", model.ErrEmbedding, err)
	}
	if len(out.Vector) == 0 {
		return nil, fmt.Errorf("%w: response has no vector field", model.ErrEmbedding)
	}
	return out.Vector, nil
}

// EmbedBatch posts one request per text, preserving input order. The embed
// head has no batch endpoint, so the first failed item aborts the call.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}
	return vectors, nil
}
