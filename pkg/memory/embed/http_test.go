package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/genio-systems/genio-memory/pkg/memory/model"
)

func TestHTTPEmbedderEmbed(t *testing.T) {
	var gotText string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		gotText = req.Text
		_ = json.NewEncoder(w).Encode(map[string]any{"vector": []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e := NewHTTPEmbedder(srv.URL, 0)
	vec, err := e.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed returned error: %v", err)
	}
	if gotText != "hello" {
		t.Fatalf("expected text forwarded as-is, got %q", gotText)
	}
	if len(vec) != 3 || vec[0] != 0.1 {
		t.Fatalf("unexpected vector: %#v", vec)
	}
}

func TestHTTPEmbedderForwardsEmptyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"vector": []float32{0.5}})
	}))
	defer srv.Close()

	if _, err := NewHTTPEmbedder(srv.URL, 0).Embed(context.Background(), ""); err != nil {
		t.Fatalf("empty text must not be rejected locally: %v", err)
	}
}

func TestHTTPEmbedderNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewHTTPEmbedder(srv.URL, 0).Embed(context.Background(), "hello")
	if !errors.Is(err, model.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding, got %v", err)
	}
}

func TestHTTPEmbedderMissingVectorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	}))
	defer srv.Close()

	_, err := NewHTTPEmbedder(srv.URL, 0).Embed(context.Background(), "hello")
	if !errors.Is(err, model.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding for missing vector field, got %v", err)
	}
}

func TestHTTPEmbedderUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	_, err := NewHTTPEmbedder(srv.URL, 0).Embed(context.Background(), "hello")
	if !errors.Is(err, model.ErrEmbedding) {
		t.Fatalf("expected ErrEmbedding for unreachable backend, got %v", err)
	}
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Text string `json:"text"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		_ = json.NewEncoder(w).Encode(map[string]any{"vector": []float32{float32(len(req.Text))}})
	}))
	defer srv.Close()

	vectors, err := NewHTTPEmbedder(srv.URL, 0).EmbedBatch(context.Background(), []string{"a", "bb", "ccc"})
	if err != nil {
		t.Fatalf("EmbedBatch returned error: %v", err)
	}
	for i, want := range []float32{1, 2, 3} {
		if vectors[i][0] != want {
			t.Fatalf("batch order broken at %d: got %v, want %v", i, vectors[i][0], want)
		}
	}
}

func TestEmbedAllFallsBackToSingleCalls(t *testing.T) {
	// DummyEmbedder has no batch method, so EmbedAll loops.
	vectors, err := EmbedAll(context.Background(), DummyEmbedder{Size: 4}, []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedAll returned error: %v", err)
	}
	if len(vectors) != 2 || len(vectors[0]) != 4 {
		t.Fatalf("unexpected vectors: %#v", vectors)
	}
}

func TestDummyEmbeddingDeterministic(t *testing.T) {
	a := DummyEmbedding("hello world", 0)
	b := DummyEmbedding("hello world", 0)
	if len(a) != 768 {
		t.Fatalf("expected default length 768, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("dummy embedding not deterministic at %d", i)
		}
	}
}
