package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/genio-systems/genio-memory/pkg/memory/model"
)

// InMemoryStore implements VectorStore for tests and lightweight
// deployments. It enforces the same contract as the remote backends,
// including the store-level dimensionality rejection on writes.
type InMemoryStore struct {
	mu      sync.RWMutex
	spec    CollectionSpec
	created bool
	records map[string]model.Memory
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]model.Memory)}
}

func (s *InMemoryStore) EnsureCollection(_ context.Context, spec CollectionSpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.created {
		return nil
	}
	if spec.Size <= 0 {
		return fmt.Errorf("%w: vector size must be positive", model.ErrSchema)
	}
	s.spec = spec
	s.created = true
	return nil
}

func (s *InMemoryStore) Upsert(_ context.Context, memories []model.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.created {
		return fmt.Errorf("%w: collection does not exist", model.ErrStorage)
	}
	for _, m := range memories {
		if len(m.Vector) != s.spec.Size {
			return fmt.Errorf("%w: point %s has %d dimensions, collection has %d",
				model.ErrStorage, m.ID, len(m.Vector), s.spec.Size)
		}
	}
	for _, m := range memories {
		m.Vector = append([]float32(nil), m.Vector...)
		s.records[m.ID] = m
	}
	return nil
}

func (s *InMemoryStore) Search(_ context.Context, queryVector []float32, conversationID string, limit int) ([]model.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.created {
		return nil, fmt.Errorf("%w: collection does not exist", model.ErrStorage)
	}
	if limit <= 0 {
		return nil, nil
	}
	type scored struct {
		m     model.Memory
		score float64
	}
	matches := make([]scored, 0, len(s.records))
	for _, m := range s.records {
		if m.ConversationID != conversationID {
			continue
		}
		matches = append(matches, scored{m: m, score: model.CosineSimilarity(queryVector, m.Vector)})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	hits := make([]model.Hit, 0, len(matches))
	for _, sc := range matches {
		hits = append(hits, model.HitFromPayload(sc.m.Payload(), sc.score))
	}
	return hits, nil
}

// Count reports the number of stored points, for tests.
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
