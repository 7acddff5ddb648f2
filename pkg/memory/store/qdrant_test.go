package store

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/genio-systems/genio-memory/pkg/memory/model"
)

// fakeQdrant serves just enough of the Qdrant HTTP API for the store tests.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]bool
	creates     int
	indexes     []string
	upserts     []json.RawMessage
	lastSearch  json.RawMessage
	searchHits  []map[string]any
}

func newFakeQdrant() *fakeQdrant {
	return &fakeQdrant{collections: map[string]bool{}}
}

func (f *fakeQdrant) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		ok := func(result any) {
			_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "result": result})
		}
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/collections":
			names := make([]map[string]string, 0, len(f.collections))
			for name := range f.collections {
				names = append(names, map[string]string{"name": name})
			}
			ok(map[string]any{"collections": names})
		case r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/index"):
			var req struct {
				FieldName string `json:"field_name"`
			}
			_ = json.NewDecoder(r.Body).Decode(&req)
			f.indexes = append(f.indexes, req.FieldName)
			ok(nil)
		case r.Method == http.MethodPut && strings.HasSuffix(r.URL.Path, "/points"):
			body, _ := json.Marshal(decodeBody(r))
			f.upserts = append(f.upserts, body)
			ok(nil)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/points/search"):
			body, _ := json.Marshal(decodeBody(r))
			f.lastSearch = body
			ok(f.searchHits)
		case r.Method == http.MethodPut:
			name := strings.TrimPrefix(r.URL.Path, "/collections/")
			f.collections[name] = true
			f.creates++
			ok(nil)
		default:
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{"status": map[string]string{"error": "not found"}})
		}
	})
}

func decodeBody(r *http.Request) map[string]any {
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	return body
}

func testSpec() CollectionSpec {
	return CollectionSpec{Size: 3, Distance: DistanceCosine, OnDiskPayload: true, Indexes: DefaultIndexes()}
}

func TestQdrantEnsureCollectionIdempotent(t *testing.T) {
	fake := newFakeQdrant()
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	qs := NewQdrantStore(srv.URL, "memories", "")
	if err := qs.EnsureCollection(context.Background(), testSpec()); err != nil {
		t.Fatalf("first ensure failed: %v", err)
	}
	if fake.creates != 1 {
		t.Fatalf("expected exactly one creation, got %d", fake.creates)
	}
	if len(fake.indexes) != 2 || fake.indexes[0] != "conversation_id" || fake.indexes[1] != "ts" {
		t.Fatalf("unexpected payload indexes: %v", fake.indexes)
	}

	if err := qs.EnsureCollection(context.Background(), testSpec()); err != nil {
		t.Fatalf("second ensure failed: %v", err)
	}
	if fake.creates != 1 {
		t.Fatalf("second ensure must not create again, got %d creations", fake.creates)
	}
}

func TestQdrantEnsureCollectionUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	qs := NewQdrantStore(srv.URL, "memories", "")
	if err := qs.EnsureCollection(context.Background(), testSpec()); !errors.Is(err, model.ErrSchema) {
		t.Fatalf("expected ErrSchema, got %v", err)
	}
}

func TestQdrantUpsertSendsPointsWithPayload(t *testing.T) {
	fake := newFakeQdrant()
	fake.collections["memories"] = true
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	qs := NewQdrantStore(srv.URL, "memories", "")
	m := model.Memory{
		ID:             "11111111-2222-3333-4444-555555555555",
		Text:           "hello",
		Role:           "user",
		ConversationID: "c1",
		Timestamp:      1700000000,
		Vector:         []float32{0.1, 0.2, 0.3},
	}
	if err := qs.Upsert(context.Background(), []model.Memory{m}); err != nil {
		t.Fatalf("Upsert returned error: %v", err)
	}
	if len(fake.upserts) != 1 {
		t.Fatalf("expected one upsert call, got %d", len(fake.upserts))
	}
	var req struct {
		Points []struct {
			ID      string         `json:"id"`
			Vector  []float32      `json:"vector"`
			Payload map[string]any `json:"payload"`
		} `json:"points"`
	}
	if err := json.Unmarshal(fake.upserts[0], &req); err != nil {
		t.Fatalf("unmarshal upsert body: %v", err)
	}
	if len(req.Points) != 1 {
		t.Fatalf("expected one point, got %d", len(req.Points))
	}
	point := req.Points[0]
	if point.ID != m.ID {
		t.Fatalf("point id = %q, want %q", point.ID, m.ID)
	}
	if point.Payload["text"] != "hello" || point.Payload["conversation_id"] != "c1" {
		t.Fatalf("unexpected payload: %#v", point.Payload)
	}
	if point.Payload["ts"] != float64(1700000000) {
		t.Fatalf("expected ts in payload, got %v", point.Payload["ts"])
	}
}

func TestQdrantSearchFiltersByConversation(t *testing.T) {
	fake := newFakeQdrant()
	fake.collections["memories"] = true
	fake.searchHits = []map[string]any{
		{"id": "a", "score": 0.99, "payload": map[string]any{"text": "hello", "role": "user", "ts": 1700000000}},
		{"id": "b", "score": 0.42, "payload": map[string]any{"text": "bye"}},
	}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	qs := NewQdrantStore(srv.URL, "memories", "")
	hits, err := qs.Search(context.Background(), []float32{0.1, 0.2, 0.3}, "c1", 5)
	if err != nil {
		t.Fatalf("Search returned error: %v", err)
	}

	var req struct {
		Filter struct {
			Must []struct {
				Key   string `json:"key"`
				Match struct {
					Value string `json:"value"`
				} `json:"match"`
			} `json:"must"`
		} `json:"filter"`
		Limit       int  `json:"limit"`
		WithPayload bool `json:"with_payload"`
	}
	if err := json.Unmarshal(fake.lastSearch, &req); err != nil {
		t.Fatalf("unmarshal search body: %v", err)
	}
	if len(req.Filter.Must) != 1 || req.Filter.Must[0].Key != "conversation_id" || req.Filter.Must[0].Match.Value != "c1" {
		t.Fatalf("search filter missing conversation match: %s", fake.lastSearch)
	}
	if req.Limit != 5 || !req.WithPayload {
		t.Fatalf("unexpected search request: %s", fake.lastSearch)
	}

	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Text != "hello" || hits[0].Role != "user" || hits[0].Timestamp != 1700000000 || hits[0].Score != 0.99 {
		t.Fatalf("unexpected first hit: %#v", hits[0])
	}
	if hits[1].Role != model.RoleUnknown {
		t.Fatalf("missing role should project %q, got %q", model.RoleUnknown, hits[1].Role)
	}
}

func TestQdrantSearchStoreError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"status": map[string]string{"error": "wrong vector size"}})
	}))
	defer srv.Close()

	qs := NewQdrantStore(srv.URL, "memories", "")
	_, err := qs.Search(context.Background(), []float32{0.1}, "c1", 5)
	if !errors.Is(err, model.ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if !strings.Contains(err.Error(), "wrong vector size") {
		t.Fatalf("expected cause in error, got %v", err)
	}
}

func TestQdrantStatusUnmarshal(t *testing.T) {
	var s qdrantStatus
	if err := json.Unmarshal([]byte(`"ok"`), &s); err != nil || s.State != "ok" {
		t.Fatalf("string status: state=%q err=%v", s.State, err)
	}
	s = qdrantStatus{}
	if err := json.Unmarshal([]byte(`{"error":"boom"}`), &s); err != nil {
		t.Fatalf("object status: %v", err)
	}
	if s.State != "error" || s.Error != "boom" {
		t.Fatalf("object status parsed wrong: %#v", s)
	}
}
