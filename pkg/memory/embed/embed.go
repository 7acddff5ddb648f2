package embed

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
)

// Embedder is a pluggable text-embedding provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// BatchEmbedder is implemented by providers with a native batch call.
// The result preserves input order.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ErrNotSupported is returned by providers that do not offer embeddings.
var ErrNotSupported = errors.New("embeddings not supported by this provider")

// EmbedAll embeds texts in input order, using the provider's batch call when
// it has one and falling back to one Embed per text otherwise. The first
// failure aborts the whole call.
func EmbedAll(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	if be, ok := e.(BatchEmbedder); ok {
		return be.EmbedBatch(ctx, texts)
	}
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

// ---------- Dummy (fallback) ----------

// DummyEmbedder produces deterministic vectors without any backend. Used in
// tests and as the last-resort fallback of FromEnv.
type DummyEmbedder struct {
	Size int // vector length, 768 when zero
}

func (d DummyEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return DummyEmbedding(text, d.Size), nil
}

// DummyEmbedding folds the text bytes into a fixed-length vector.
func DummyEmbedding(text string, size int) []float32 {
	if size <= 0 {
		size = 768
	}
	vec := make([]float32, size)
	for i, ch := range []byte(text) {
		vec[i%size] += float32(ch) / 255.0
	}
	return vec
}

// FromEnv chooses a provider from the environment:
// MEMORY_EMBED_PROVIDER=head|openai|ollama|gemini|fastembed
// MEMORY_EMBED_MODEL=<model string>
// "head" points at an embed-head service via MEMORY_EMBED_URL.
// An unset or unusable provider falls back to DummyEmbedder.
func FromEnv() Embedder {
	provider := strings.ToLower(strings.TrimSpace(os.Getenv("MEMORY_EMBED_PROVIDER")))
	model := strings.TrimSpace(os.Getenv("MEMORY_EMBED_MODEL"))

	switch provider {
	case "head", "http":
		if url := os.Getenv("MEMORY_EMBED_URL"); url != "" {
			return NewHTTPEmbedder(url, 0)
		}
	case "openai":
		if e, err := NewOpenAIEmbedder(model); err == nil {
			return e
		}
	case "ollama":
		if e, err := NewOllamaEmbedder(model); err == nil {
			return e
		}
	case "gemini", "google":
		if e, err := NewGeminiEmbedder(model); err == nil {
			return e
		}
	case "fastembed":
		if opts := defaultFastEmbedOptions(); opts != nil {
			if e, err := NewFastEmbedder(context.Background(), opts); err == nil {
				return e
			}
		}
	}

	log.Printf("embed.FromEnv: falling back to DummyEmbedder")
	return DummyEmbedder{}
}
