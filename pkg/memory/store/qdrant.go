package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/genio-systems/genio-memory/pkg/memory/model"
)

// qdrantStatus supports both `status: "ok"` and `status: {"error":"..."}`.
type qdrantStatus struct {
	State string // "ok" or "error"
	Error string // non-empty if error
}

func (s *qdrantStatus) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

type qdrantEnvelope[T any] struct {
	Status qdrantStatus `json:"status"`
	Time   float64      `json:"time"`
	Result T            `json:"result"`
}

type qdrantCollections struct {
	Collections []struct {
		Name string `json:"name"`
	} `json:"collections"`
}

type qdrantHit struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload map[string]any  `json:"payload"`
}

// QdrantStore is a Qdrant-backed VectorStore speaking the HTTP API directly.
// One store handle is bound to one collection and is safe for concurrent use.
type QdrantStore struct {
	baseURL    string
	apiKey     string
	collection string
	client     *http.Client
}

// NewQdrantStore creates a Qdrant-backed VectorStore for the given collection.
func NewQdrantStore(baseURL, collection, apiKey string) *QdrantStore {
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}
	return &QdrantStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		collection: collection,
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

// EnsureCollection lists existing collections and creates this store's
// collection plus its payload indexes only when absent. An existing
// collection is left untouched.
func (qs *QdrantStore) EnsureCollection(ctx context.Context, spec CollectionSpec) error {
	if qs.collection == "" {
		return fmt.Errorf("%w: qdrant collection is empty", model.ErrSchema)
	}
	if spec.Size <= 0 {
		return fmt.Errorf("%w: vector size must be positive", model.ErrSchema)
	}

	var list qdrantEnvelope[qdrantCollections]
	if err := qs.do(ctx, http.MethodGet, "/collections", nil, &list); err != nil {
		return fmt.Errorf("%w: list collections: %v", model.ErrSchema, err)
	}
	for _, c := range list.Result.Collections {
		if c.Name == qs.collection {
			return nil
		}
	}

	distance := spec.Distance
	if distance == "" {
		distance = DistanceCosine
	}
	createReq := map[string]any{
		"vectors": map[string]any{
			"size":     spec.Size,
			"distance": string(distance),
		},
		"on_disk_payload": spec.OnDiskPayload,
	}
	var resp qdrantEnvelope[json.RawMessage]
	err := qs.do(ctx, http.MethodPut, "/collections/"+url.PathEscape(qs.collection), createReq, &resp)
	if err != nil && !isAlreadyExists(err) {
		return fmt.Errorf("%w: create collection: %v", model.ErrSchema, err)
	}

	for _, idx := range spec.Indexes {
		indexReq := map[string]any{
			"field_name":   idx.Field,
			"field_schema": string(idx.Kind),
		}
		var idxResp qdrantEnvelope[json.RawMessage]
		err := qs.do(ctx, http.MethodPut,
			fmt.Sprintf("/collections/%s/index", url.PathEscape(qs.collection)), indexReq, &idxResp)
		if err != nil && !isAlreadyExists(err) {
			return fmt.Errorf("%w: create index %q: %v", model.ErrSchema, idx.Field, err)
		}
	}
	return nil
}

// Upsert writes all memories as one points call. Each memory must carry its
// assigned ID and vector.
func (qs *QdrantStore) Upsert(ctx context.Context, memories []model.Memory) error {
	if len(memories) == 0 {
		return nil
	}
	points := make([]map[string]any, 0, len(memories))
	for _, m := range memories {
		points = append(points, map[string]any{
			"id":      m.ID,
			"vector":  m.Vector,
			"payload": m.Payload(),
		})
	}
	req := map[string]any{"points": points}
	var resp qdrantEnvelope[json.RawMessage]
	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(qs.collection))
	if err := qs.do(ctx, http.MethodPut, path, req, &resp); err != nil {
		return fmt.Errorf("%w: upsert points: %v", model.ErrStorage, err)
	}
	if !strings.EqualFold(resp.Status.State, "ok") && resp.Status.Error != "" {
		return fmt.Errorf("%w: upsert points: %s", model.ErrStorage, resp.Status.Error)
	}
	return nil
}

// Search runs a nearest-neighbor query with an exact-match filter on the
// conversation and returns hits in Qdrant's best-first order.
func (qs *QdrantStore) Search(ctx context.Context, queryVector []float32, conversationID string, limit int) ([]model.Hit, error) {
	req := map[string]any{
		"vector": queryVector,
		"filter": map[string]any{
			"must": []map[string]any{{
				"key":   model.KeyConversationID,
				"match": map[string]any{"value": conversationID},
			}},
		},
		"limit":        limit,
		"with_payload": true,
	}
	var resp qdrantEnvelope[[]qdrantHit]
	path := fmt.Sprintf("/collections/%s/points/search", url.PathEscape(qs.collection))
	if err := qs.do(ctx, http.MethodPost, path, req, &resp); err != nil {
		return nil, fmt.Errorf("%w: search points: %v", model.ErrStorage, err)
	}
	hits := make([]model.Hit, 0, len(resp.Result))
	for _, h := range resp.Result {
		hits = append(hits, model.HitFromPayload(h.Payload, h.Score))
	}
	return hits, nil
}

func (qs *QdrantStore) do(ctx context.Context, method, path string, body any, out any) error {
	if qs == nil {
		return errors.New("nil qdrant store")
	}
	u := qs.baseURL + path

	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if qs.apiKey != "" {
		req.Header.Set("api-key", qs.apiKey)
	}
	resp, err := qs.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		var env qdrantEnvelope[json.RawMessage]
		if json.Unmarshal(payload, &env) == nil && env.Status.Error != "" {
			return errors.New(env.Status.Error)
		}
		return fmt.Errorf("qdrant %s %s -> http %d: %s",
			method, path, resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return err
		}
	}
	return nil
}

func isAlreadyExists(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "already exists")
}
