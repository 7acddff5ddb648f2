package store

import (
	"context"
	"errors"
	"testing"

	"github.com/genio-systems/genio-memory/pkg/memory/model"
)

func seedInMemory(t *testing.T) *InMemoryStore {
	t.Helper()
	s := NewInMemoryStore()
	spec := CollectionSpec{Size: 3, Distance: DistanceCosine}
	if err := s.EnsureCollection(context.Background(), spec); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	seed := []model.Memory{
		{ID: "a", Text: "close match", Role: "user", ConversationID: "c1", Timestamp: 10, Vector: []float32{1, 0, 0}},
		{ID: "b", Text: "far match", Role: "assistant", ConversationID: "c1", Timestamp: 20, Vector: []float32{0, 1, 0}},
		{ID: "c", Text: "other conversation", Role: "user", ConversationID: "c2", Timestamp: 30, Vector: []float32{1, 0, 0}},
	}
	if err := s.Upsert(context.Background(), seed); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	return s
}

func TestInMemorySearchScopedToConversation(t *testing.T) {
	s := seedInMemory(t)
	hits, err := s.Search(context.Background(), []float32{1, 0, 0}, "c1", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits from c1, got %d", len(hits))
	}
	for _, h := range hits {
		if h.Text == "other conversation" {
			t.Fatalf("hit leaked from another conversation: %#v", h)
		}
	}
}

func TestInMemorySearchRanksByCosine(t *testing.T) {
	s := seedInMemory(t)
	hits, err := s.Search(context.Background(), []float32{1, 0, 0}, "c1", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected limit to cap hits at 1, got %d", len(hits))
	}
	if hits[0].Text != "close match" {
		t.Fatalf("best hit = %q, want exact-direction match first", hits[0].Text)
	}
	if hits[0].Score < 0.999 {
		t.Fatalf("best hit score = %f, want ~1.0", hits[0].Score)
	}
}

func TestInMemorySearchLimitBeyondStored(t *testing.T) {
	s := seedInMemory(t)
	hits, err := s.Search(context.Background(), []float32{0, 0, 1}, "c1", 50)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected all 2 stored hits, got %d", len(hits))
	}
}

func TestInMemoryUpsertRejectsWrongDimensions(t *testing.T) {
	s := seedInMemory(t)
	err := s.Upsert(context.Background(), []model.Memory{
		{ID: "d", Text: "short vector", ConversationID: "c1", Vector: []float32{1, 0}},
	})
	if !errors.Is(err, model.ErrStorage) {
		t.Fatalf("expected ErrStorage for wrong dimensions, got %v", err)
	}
	if s.Count() != 3 {
		t.Fatalf("rejected upsert must not store anything, count = %d", s.Count())
	}
}

func TestInMemoryUpsertOverwritesByID(t *testing.T) {
	s := seedInMemory(t)
	err := s.Upsert(context.Background(), []model.Memory{
		{ID: "a", Text: "rewritten", Role: "user", ConversationID: "c1", Timestamp: 99, Vector: []float32{0, 0, 1}},
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if s.Count() != 3 {
		t.Fatalf("overwrite must not grow the store, count = %d", s.Count())
	}
	hits, err := s.Search(context.Background(), []float32{0, 0, 1}, "c1", 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if hits[0].Text != "rewritten" || hits[0].Timestamp != 99 {
		t.Fatalf("expected rewritten point, got %#v", hits[0])
	}
}

func TestInMemoryRequiresCollection(t *testing.T) {
	s := NewInMemoryStore()
	if err := s.Upsert(context.Background(), nil); !errors.Is(err, model.ErrStorage) {
		t.Fatalf("Upsert before EnsureCollection should fail, got %v", err)
	}
	if _, err := s.Search(context.Background(), []float32{1}, "c1", 1); !errors.Is(err, model.ErrStorage) {
		t.Fatalf("Search before EnsureCollection should fail, got %v", err)
	}
}
