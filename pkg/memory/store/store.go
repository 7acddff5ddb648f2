package store

import (
	"context"

	"github.com/genio-systems/genio-memory/pkg/memory/model"
)

// Distance is the similarity metric a collection is created with. It is
// fixed at creation time.
type Distance string

const (
	DistanceCosine Distance = "Cosine"
	DistanceDot    Distance = "Dot"
	DistanceEuclid Distance = "Euclid"
)

// IndexKind selects the payload index type for a field.
type IndexKind string

const (
	IndexKeyword IndexKind = "keyword" // exact-match index for identifiers
	IndexInteger IndexKind = "integer" // range-capable index for numeric fields
)

// PayloadIndex names one payload field to index at collection creation.
type PayloadIndex struct {
	Field string
	Kind  IndexKind
}

// DefaultIndexes covers the fields every retrieval filters or ranges over.
func DefaultIndexes() []PayloadIndex {
	return []PayloadIndex{
		{Field: model.KeyConversationID, Kind: IndexKeyword},
		{Field: model.KeyTimestamp, Kind: IndexInteger},
	}
}

// CollectionSpec describes the collection a backend must ensure before the
// first write. Size and Distance never change once the collection exists.
type CollectionSpec struct {
	Size          int
	Distance      Distance
	OnDiskPayload bool
	Indexes       []PayloadIndex
}

// VectorStore is the contract for conversational memory backends.
//
// EnsureCollection is idempotent: when the collection already exists it is a
// no-op and performs no reconciliation, so a dimensionality drift surfaces
// later as an upsert rejection rather than here. Upsert writes all points in
// one backend call. Search returns up to limit hits for one conversation in
// the backend's native best-first order; fewer hits than requested is not an
// error.
type VectorStore interface {
	EnsureCollection(ctx context.Context, spec CollectionSpec) error
	Upsert(ctx context.Context, memories []model.Memory) error
	Search(ctx context.Context, queryVector []float32, conversationID string, limit int) ([]model.Hit, error)
}
